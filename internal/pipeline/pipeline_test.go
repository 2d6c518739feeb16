package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Elata-Biosciences/elata-eeg/internal/frame"
)

// fakeBus is a minimal bus2 implementation for tests that don't need
// the real bus package's subscriber fan-out.
type fakeBus[T any] struct {
	mu  sync.Mutex
	got []T
}

func (b *fakeBus[T]) Publish(v T) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, v)
	return nil
}
func (b *fakeBus[T]) NSubscribers() int { return 1 }

type fakePool struct {
	mu       sync.Mutex
	released int
}

func (p *fakePool) Release(b *frame.SampleBatch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
}

type passthroughPlugin struct{ fail bool }

func (p *passthroughPlugin) Process(b *frame.SampleBatch) (*frame.SampleBatch, error) {
	if p.fail {
		return nil, errors.New("simulated failure")
	}
	return b, nil
}

func TestPluginHostForwardsSuccessfully(t *testing.T) {
	out := &fakeBus[*frame.SampleBatch]{}
	errOut := &fakeBus[*frame.ErrorFrame]{}
	pool := &fakePool{}
	h := NewPluginHost("passthrough", &passthroughPlugin{}, 4, out, errOut, pool, pool)

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	h.Enqueue(&frame.SampleBatch{Seq: 1})
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)

	if h.FramesIn() != 1 || h.FramesOut() != 1 {
		t.Errorf("FramesIn=%d FramesOut=%d, want 1/1", h.FramesIn(), h.FramesOut())
	}
	if len(out.got) != 1 {
		t.Fatalf("out got %d batches, want 1", len(out.got))
	}
}

func TestPluginHostDetachesAfterRepeatedFailures(t *testing.T) {
	out := &fakeBus[*frame.SampleBatch]{}
	errOut := &fakeBus[*frame.ErrorFrame]{}
	pool := &fakePool{}
	h := NewPluginHost("flaky", &passthroughPlugin{fail: true}, maxConsecutiveFailures+2, out, errOut, pool, pool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { h.Run(ctx); close(done) }()

	for i := 0; i < maxConsecutiveFailures; i++ {
		h.Enqueue(&frame.SampleBatch{Seq: frame.FrameIndex(i)})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("host did not detach within 2s")
	}
	if !h.Detached() {
		t.Error("Detached() = false, want true")
	}
	if len(errOut.got) != 1 {
		t.Errorf("errOut got %d ErrorFrames, want 1", len(errOut.got))
	}
}

type countingSink struct {
	mu sync.Mutex
	n  int
}

func (s *countingSink) Consume(b *frame.SampleBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return nil
}

func TestSinkHostConsumesEveryBatch(t *testing.T) {
	errOut := &fakeBus[*frame.ErrorFrame]{}
	pool := &fakePool{}
	sink := &countingSink{}
	h := NewSinkHost("recorder", sink, 4, errOut, pool)

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	h.Enqueue(&frame.SampleBatch{Seq: 1})
	h.Enqueue(&frame.SampleBatch{Seq: 2})
	time.Sleep(20 * time.Millisecond)
	cancel()

	sink.mu.Lock()
	got := sink.n
	sink.mu.Unlock()
	if got != 2 {
		t.Errorf("sink consumed %d batches, want 2", got)
	}
	if h.FramesIn() != 2 {
		t.Errorf("FramesIn() = %d, want 2", h.FramesIn())
	}
}
