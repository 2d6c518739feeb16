package pipeline

import (
	"context"
	"log"

	"github.com/Elata-Biosciences/elata-eeg/internal/frame"
)

// SinkHost drives one SinkPlugin (the Recorder) from its own input
// queue, subscribed directly to Source output per the stage graph
// (spec.md §4.4: "Recorder subscribes directly to Source").
type SinkHost struct {
	name   string
	plugin SinkPlugin
	in     chan *frame.SampleBatch
	pool   releaser
	errOut bus2[*frame.ErrorFrame]

	framesIn int64
	detached bool
}

// NewSinkHost builds a sink host with a bounded input queue.
func NewSinkHost(name string, plugin SinkPlugin, queueCapacity int, errOut bus2[*frame.ErrorFrame], pool releaser) *SinkHost {
	return &SinkHost{
		name:   name,
		plugin: plugin,
		in:     make(chan *frame.SampleBatch, queueCapacity),
		errOut: errOut,
		pool:   pool,
	}
}

// Enqueue offers a batch to the sink without blocking; a full queue
// drops the frame for this sink only.
func (h *SinkHost) Enqueue(b *frame.SampleBatch) bool {
	select {
	case h.in <- b:
		return true
	default:
		return false
	}
}

// Run drives the sink loop until ctx is cancelled or it detaches after
// too many consecutive failures.
func (h *SinkHost) Run(ctx context.Context) {
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
			err := h.plugin.Consume(b)
			h.pool.Release(b)
			if err != nil {
				consecutiveFailures++
				log.Printf("pipeline: sink %q failed on seq=%d: %v", h.name, b.Seq, err)
				if consecutiveFailures >= maxConsecutiveFailures {
					h.detached = true
					h.errOut.Publish(&frame.ErrorFrame{Message: "sink " + h.name + " detached after repeated failures"})
					return
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

func (h *SinkHost) FramesIn() int64 { return h.framesIn }
func (h *SinkHost) Detached() bool  { return h.detached }
