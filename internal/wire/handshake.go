// Package wire implements the bit-exact binary packet format (spec.md §6)
// that multiplexes raw samples, FFT outputs, and error signals to
// subscribers, plus the JSON configuration handshake sent at connect
// time. It follows publish_data.go's technique of building
// fixed-width header fields in declared order with encoding/binary,
// LittleEndian throughout — the field layout itself is new, per §6.
package wire

// SchemaVersion is the handshake's schema_version field. Bump whenever the
// packet layout in Encode/Decode changes incompatibly.
const SchemaVersion = 1

// ConfigHandshake is the first message sent to every new subscriber
// (spec.md §6.1).
type ConfigHandshake struct {
	SampleRate    int   `json:"sample_rate"`
	Channels      []int `json:"channels"`
	BatchSize     int   `json:"batch_size"`
	FFTWindowMs   int   `json:"fft_window_ms"`
	FFTHopMs      int   `json:"fft_hop_ms"`
	SchemaVersion int   `json:"schema_version"`
}
