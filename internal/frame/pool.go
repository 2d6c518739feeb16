package frame

import (
	"errors"
	"sync/atomic"
)

// ErrOutOfBuffers is returned by Pool.Acquire when the pool is exhausted.
// The source treats this identically to bus backpressure (spec.md §5).
var ErrOutOfBuffers = errors.New("frame: out of buffers")

// Pool is a bounded, non-blocking pool of *SampleBatch buffers sized for one
// session's channel/batch geometry. A channel of pre-allocated buffers
// backs it, so Acquire/Release never take a lock and never block.
type Pool struct {
	free chan *SampleBatch
}

// NewPool pre-allocates capacity batches of the given geometry.
func NewPool(capacity, channels, perChannel int) *Pool {
	p := &Pool{free: make(chan *SampleBatch, capacity)}
	for i := 0; i < capacity; i++ {
		p.free <- &SampleBatch{
			Channels:   channels,
			PerChannel: perChannel,
			Samples:    make([]float32, channels*perChannel),
		}
	}
	return p
}

// Acquire returns a zeroed-sequence batch ready to be filled, or
// ErrOutOfBuffers if none is free.
func (p *Pool) Acquire() (*SampleBatch, error) {
	select {
	case b := <-p.free:
		b.Seq = 0
		atomic.StoreInt32(&b.refs, 1)
		return b, nil
	default:
		return nil, ErrOutOfBuffers
	}
}

// Release decrements the reader count; the last releaser returns b to pool.
// Safe to call from multiple subscriber goroutines concurrently.
func (p *Pool) Release(b *SampleBatch) {
	if atomic.AddInt32(&b.refs, -1) != 0 {
		return
	}
	p.returnToFree(b)
}

func (p *Pool) returnToFree(b *SampleBatch) {
	select {
	case p.free <- b:
	default:
		// Pool is already full (geometry changed mid-session, or a caller
		// double-released); drop the buffer rather than block or panic.
	}
}

// Commit finalizes ownership after a publish attempt: b starts life with
// refs==1 (the owner's own implicit reference from Acquire). delivered is
// the number of subscribers that actually received b (bus.Publish may have
// reported some as WouldBlock, and those will never call Release). Commit
// atomically adjusts refs from 1 to delivered and, if delivered was 0,
// returns b to the pool itself rather than leaving it stranded.
func (p *Pool) Commit(b *SampleBatch, delivered int) {
	if atomic.AddInt32(&b.refs, int32(delivered-1)) == 0 {
		p.returnToFree(b)
	}
}
