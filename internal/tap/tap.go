// Package tap implements an optional ZMQ PUB-socket mirror of raw
// SampleBatch/ErrorFrame traffic for offline analysis tooling, distinct
// from the subscriber-facing publisher.Publisher (spec.md §6's hard external
// contract). It adapts publish_data.go's DataPublisher:
// PubRecords/PubSummaries there are czmq.Channelers fed by
// messageRecords/messageSummaries header-building with encoding/binary
// over a bytes.Buffer; Tap keeps that same header-then-payload framing
// but mirrors this module's SampleBatch/ErrorFrame instead of DASTARD's
// pulse records.
package tap

import (
	"bytes"
	"encoding/binary"
	"fmt"

	czmq "github.com/zeromq/goczmq"

	"github.com/Elata-Biosciences/elata-eeg/internal/frame"
)

const headerVersion = uint8(0)

// Tap mirrors raw SampleBatches and ErrorFrames onto a PUB socket. A nil
// *Tap is valid and every method on it is a no-op, so callers can leave
// instrumentation disabled without branching at every call site.
type Tap struct {
	pub *czmq.Channeler
}

// New binds a PUB socket at the given ZMQ endpoint (e.g.
// "tcp://*:5555"), mirroring publish_data.go's SetPubRecordsWithHostname.
func New(endpoint string) (*Tap, error) {
	pub := czmq.NewPubChanneler(endpoint)
	if pub == nil {
		return nil, fmt.Errorf("tap: failed to bind PUB socket at %s", endpoint)
	}
	return &Tap{pub: pub}, nil
}

// Close destroys the underlying PUB socket.
func (t *Tap) Close() {
	if t == nil || t.pub == nil {
		return
	}
	t.pub.Destroy()
}

// MirrorBatch publishes a SampleBatch as a two-frame ZMQ message:
// a fixed header (version, seq, timestamp_ns, channels, per_channel) followed by
// the raw channel-major float32 payload, mirroring messageRecords'
// header-then-payload shape.
func (t *Tap) MirrorBatch(b *frame.SampleBatch) {
	if t == nil || t.pub == nil {
		return
	}
	header := new(bytes.Buffer)
	binary.Write(header, binary.LittleEndian, headerVersion)
	binary.Write(header, binary.LittleEndian, uint64(b.Seq))
	binary.Write(header, binary.LittleEndian, uint64(b.TimestampNano))
	binary.Write(header, binary.LittleEndian, uint32(b.Channels))
	binary.Write(header, binary.LittleEndian, uint32(b.PerChannel))

	payload := new(bytes.Buffer)
	binary.Write(payload, binary.LittleEndian, b.Samples)

	t.pub.SendChan <- [][]byte{header.Bytes(), payload.Bytes()}
}

// MirrorError publishes an ErrorFrame as a header (version, UnixNano)
// followed by the UTF-8 message bytes.
func (t *Tap) MirrorError(ef *frame.ErrorFrame) {
	if t == nil || t.pub == nil {
		return
	}
	header := new(bytes.Buffer)
	binary.Write(header, binary.LittleEndian, headerVersion)
	binary.Write(header, binary.LittleEndian, uint64(ef.At.UnixNano()))
	t.pub.SendChan <- [][]byte{header.Bytes(), []byte(ef.Message)}
}
