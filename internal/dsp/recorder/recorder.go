// Package recorder implements the Recorder plugin (spec.md §4.4): a
// sink subscribed directly to the acquisition source that writes every
// SampleBatch to a CSV file. The Writer lifecycle (CreateFile,
// WriteHeader, WriteRecord, Flush, Close, accessor methods) follows
// off/off_test.go's Writer shape, adapted from its OFF binary
// pulse-record format to this module's CSV layout.
package recorder

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
)

// Writer appends SampleBatches to a CSV file: one header row naming the
// channels, then one row per sample with a nanosecond timestamp and one
// column per channel.
type Writer struct {
	path     string
	channels []int

	f              *os.File
	bw             *bufio.Writer
	headerWritten  bool
	recordsWritten int
}

// NewWriter builds a recorder bound to path, labeling CSV columns with
// the given channel indices.
func NewWriter(path string, channels []int) *Writer {
	return &Writer{path: path, channels: channels}
}

// CreateFile opens (truncating) the backing file. Must be called before
// WriteHeader or WriteRecord.
func (w *Writer) CreateFile() error {
	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("recorder: create %s: %w", w.path, err)
	}
	w.f = f
	w.bw = bufio.NewWriter(f)
	return nil
}

// WriteHeader writes the column header row. Calling it twice is an
// error, matching off/off_test.go's one-shot header semantics.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return fmt.Errorf("recorder: header already written for %s", w.path)
	}
	if _, err := w.bw.WriteString("timestamp_ns"); err != nil {
		return err
	}
	for _, ch := range w.channels {
		if _, err := w.bw.WriteString(",ch" + strconv.Itoa(ch)); err != nil {
			return err
		}
	}
	if _, err := w.bw.WriteString("\n"); err != nil {
		return err
	}
	w.headerWritten = true
	return nil
}

// WriteRecord appends one sample row: a timestamp and exactly
// len(w.channels) values, one per configured channel, in channel order.
func (w *Writer) WriteRecord(timestampNano int64, values []float32) error {
	if len(values) != len(w.channels) {
		return fmt.Errorf("recorder: got %d values, want %d (one per configured channel)", len(values), len(w.channels))
	}
	if _, err := w.bw.WriteString(strconv.FormatInt(timestampNano, 10)); err != nil {
		return err
	}
	for _, v := range values {
		if _, err := w.bw.WriteString(","); err != nil {
			return err
		}
		if _, err := w.bw.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32)); err != nil {
			return err
		}
	}
	if _, err := w.bw.WriteString("\n"); err != nil {
		return err
	}
	w.recordsWritten++
	return nil
}

// Flush pushes buffered writes to the OS.
func (w *Writer) Flush() {
	if w.bw != nil {
		w.bw.Flush()
	}
}

// Close flushes and closes the backing file.
func (w *Writer) Close() error {
	w.Flush()
	if w.f == nil {
		return nil
	}
	return w.f.Close()
}

// RecordsWritten reports the lifetime row count.
func (w *Writer) RecordsWritten() int { return w.recordsWritten }

// HeaderWritten reports whether WriteHeader has succeeded.
func (w *Writer) HeaderWritten() bool { return w.headerWritten }
