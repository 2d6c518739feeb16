// Package pipeline wires the DSP plugin stage graph declared at session
// start (spec.md §4.4): Source → Filter → Bus(filtered) → {FFT →
// Bus(fft), Publisher}, with Recorder subscribing directly to Source.
// Each plugin runs on a dedicated goroutine with exactly one input
// queue, following data_source.go's one-goroutine-per-source shape in
// Start(ds DataSource).
package pipeline

import (
	"context"
	"log"

	"github.com/Elata-Biosciences/elata-eeg/internal/frame"
)

// FilterPlugin transforms one SampleBatch, returning the batch to
// forward downstream (or nil to drop it without error). Implementations
// must not mutate b in place — other subscribers of the same bus may
// still be reading it — and should acquire their own output batch from
// a pool sized for their output geometry.
type FilterPlugin interface {
	Process(b *frame.SampleBatch) (*frame.SampleBatch, error)
}

// SinkPlugin consumes a SampleBatch with no forwarding (e.g. Recorder).
type SinkPlugin interface {
	Consume(b *frame.SampleBatch) error
}

const maxConsecutiveFailures = 10

// PluginHost drives one FilterPlugin from an input queue, publishing
// its result to an output bus and tracking per-plugin frame counters.
// framesIn counts every frame handed to Process; framesOut counts only
// those successfully forwarded, per the samples_processed resolution
// recorded for the pipeline (Process drop does not count as "processed"
// for emission purposes, but the plugin did consume the input frame).
type PluginHost struct {
	name    string
	plugin  FilterPlugin
	in      chan *frame.SampleBatch
	out     bus2[*frame.SampleBatch]
	inPool  releaser
	outPool releaser
	errOut  bus2[*frame.ErrorFrame]

	framesIn  int64
	framesOut int64
	detached  bool
}

// bus2 is the minimal surface PluginHost needs from bus.Bus[T], kept
// narrow so this package doesn't import bus directly and create an
// import cycle with anything that wires both together.
type bus2[T any] interface {
	Publish(v T) []int
	NSubscribers() int
}

type releaser interface {
	Release(b *frame.SampleBatch)
}

// NewPluginHost builds a host with a bounded input queue of the given
// capacity (mirrors the Bus's per-subscriber queue default of 32).
// inPool releases every batch handed to Process once the plugin is done
// reading it; outPool owns whatever Process returns (the two differ
// whenever the plugin produces a distinct output batch rather than
// mutating its input, e.g. filter.Stage).
func NewPluginHost(name string, plugin FilterPlugin, queueCapacity int, out bus2[*frame.SampleBatch], errOut bus2[*frame.ErrorFrame], inPool, outPool releaser) *PluginHost {
	return &PluginHost{
		name:    name,
		plugin:  plugin,
		in:      make(chan *frame.SampleBatch, queueCapacity),
		out:     out,
		errOut:  errOut,
		inPool:  inPool,
		outPool: outPool,
	}
}

// Enqueue offers a batch to the plugin's input queue without blocking
// the caller; a full queue (the plugin is behind) silently drops the
// frame for this plugin only, matching the bus's non-blocking per-
// subscriber semantics it sits downstream of.
func (h *PluginHost) Enqueue(b *frame.SampleBatch) bool {
	select {
	case h.in <- b:
		return true
	default:
		return false
	}
}

// Run drives the plugin loop until ctx is cancelled or the plugin
// detaches after too many consecutive failures.
func (h *PluginHost) Run(ctx context.Context) {
	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-h.in:
			if !ok {
				return
			}
			h.framesIn++
			out, err := h.plugin.Process(b)
			h.inPool.Release(b)
			if err != nil {
				consecutiveFailures++
				log.Printf("pipeline: plugin %q failed on seq=%d: %v", h.name, b.Seq, err)
				if consecutiveFailures >= maxConsecutiveFailures {
					h.detached = true
					h.errOut.Publish(&frame.ErrorFrame{Message: "plugin " + h.name + " detached after repeated failures"})
					return
				}
				continue
			}
			consecutiveFailures = 0
			if out == nil {
				continue
			}
			h.framesOut++
			wouldBlock := h.out.Publish(out)
			delivered := h.out.NSubscribers() - len(wouldBlock)
			if committer, ok := h.outPool.(interface {
				Commit(*frame.SampleBatch, int)
			}); ok {
				committer.Commit(out, delivered)
			} else {
				h.outPool.Release(out)
			}
		}
	}
}

// FramesIn and FramesOut report the plugin's lifetime counters (the
// samples_processed semantics resolved for this pipeline: counts input
// frames consumed vs. frames actually forwarded).
func (h *PluginHost) FramesIn() int64  { return h.framesIn }
func (h *PluginHost) FramesOut() int64 { return h.framesOut }
func (h *PluginHost) Detached() bool   { return h.detached }
