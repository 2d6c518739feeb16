package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FFTChannelData is one channel's FFT payload within a packet (spec.md
// §6.2 fft_flag=1 case).
type FFTChannelData struct {
	Power []float32
	FreqHz []float32
}

// Packet is a decoded data-socket message (spec.md §6.2).
type Packet struct {
	TimestampNano uint64
	ErrorFlag     bool
	FFTFlag       bool
	Message       string           // set iff ErrorFlag
	FFTChannels   []FFTChannelData // set iff FFTFlag && !ErrorFlag
	Samples       []float32        // channel-major, set iff !ErrorFlag
}

// EncodeError builds an error_flag=1 packet: the header followed by the
// UTF-8 diagnostic message, with no other fields.
func EncodeError(timestampNano uint64, message string) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, timestampNano)
	buf.WriteByte(1) // error_flag
	buf.WriteByte(0) // fft_flag
	buf.WriteString(message)
	return buf.Bytes()
}

// EncodeSamples builds an error_flag=0 packet carrying samples
// (channel-major, C*N float32) and, if fftChannels is non-empty, the FFT
// payload ahead of the samples, per the §6.2 payload table.
func EncodeSamples(timestampNano uint64, fftChannels []FFTChannelData, freqHz []float32, samples []float32) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, timestampNano)
	buf.WriteByte(0) // error_flag
	if len(fftChannels) > 0 {
		buf.WriteByte(1) // fft_flag
	} else {
		buf.WriteByte(0)
	}

	if len(fftChannels) > 0 {
		binary.Write(buf, binary.LittleEndian, uint8(len(fftChannels)))
		for _, ch := range fftChannels {
			binary.Write(buf, binary.LittleEndian, uint32(len(ch.Power)))
			binary.Write(buf, binary.LittleEndian, ch.Power)
			binary.Write(buf, binary.LittleEndian, uint32(len(ch.FreqHz)))
			binary.Write(buf, binary.LittleEndian, ch.FreqHz)
		}
	}

	binary.Write(buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

// Decode parses a packet. channels (C) must come from the subscriber's
// ConfigHandshake — the sample count per channel (N) is derived from the
// remaining byte count, per spec.md §6.2: "N = remaining_bytes / 4 / C".
func Decode(data []byte, channels int) (*Packet, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("wire: packet too short: %d bytes", len(data))
	}
	r := bytes.NewReader(data)
	p := &Packet{}

	var ts uint64
	if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
		return nil, fmt.Errorf("wire: read timestamp: %w", err)
	}
	p.TimestampNano = ts

	errFlag, _ := r.ReadByte()
	fftFlag, _ := r.ReadByte()
	p.ErrorFlag = errFlag != 0
	p.FFTFlag = fftFlag != 0

	if p.ErrorFlag {
		rest := make([]byte, r.Len())
		r.Read(rest)
		p.Message = string(rest)
		return p, nil
	}

	if p.FFTFlag {
		var numChan uint8
		if err := binary.Read(r, binary.LittleEndian, &numChan); err != nil {
			return nil, fmt.Errorf("wire: read num_fft_channels: %w", err)
		}
		p.FFTChannels = make([]FFTChannelData, numChan)
		for i := range p.FFTChannels {
			var powerLen uint32
			if err := binary.Read(r, binary.LittleEndian, &powerLen); err != nil {
				return nil, fmt.Errorf("wire: read power_len: %w", err)
			}
			power := make([]float32, powerLen)
			if err := binary.Read(r, binary.LittleEndian, &power); err != nil {
				return nil, fmt.Errorf("wire: read power bins: %w", err)
			}
			var freqLen uint32
			if err := binary.Read(r, binary.LittleEndian, &freqLen); err != nil {
				return nil, fmt.Errorf("wire: read freq_len: %w", err)
			}
			freq := make([]float32, freqLen)
			if err := binary.Read(r, binary.LittleEndian, &freq); err != nil {
				return nil, fmt.Errorf("wire: read freq bins: %w", err)
			}
			p.FFTChannels[i] = FFTChannelData{Power: power, FreqHz: freq}
		}
	}

	if channels <= 0 {
		return nil, fmt.Errorf("wire: channels must be > 0 to decode sample payload")
	}
	remaining := r.Len()
	if remaining%(4*channels) != 0 {
		return nil, fmt.Errorf("wire: remaining %d bytes not a multiple of 4*channels(%d)", remaining, channels)
	}
	n := remaining / 4 / channels
	samples := make([]float32, n*channels)
	if err := binary.Read(r, binary.LittleEndian, &samples); err != nil {
		return nil, fmt.Errorf("wire: read samples: %w", err)
	}
	p.Samples = samples
	return p, nil
}
