package api

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSuperseded is returned by Poll when a newer poll was issued before
// this one completed. Its result is discarded.
var ErrSuperseded = errors.New("poll superseded")

// Poller serializes repeated fetches of the same resource. Every Poll gets
// a sequence number; issuing a new poll cancels the one in flight, and only
// the result of the latest issued poll is delivered.
type Poller[T any] struct {
	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc

	// polled, when set, runs in Watch after a poll completes and before its
	// result is queued for delivery.
	polled func(seq uint64)
}

// NewPoller creates a Poller.
func NewPoller[T any]() *Poller[T] {
	return &Poller[T]{}
}

// Poll runs fn under a fresh sequence number. It returns ErrSuperseded if
// another Poll was issued before fn returned, even when fn succeeded.
func (p *Poller[T]) Poll(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	v, _, err := p.poll(ctx, fn)
	return v, err
}

// poll is Poll that also reports the sequence number fn ran under.
func (p *Poller[T]) poll(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, uint64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.seq++
	seq := p.seq
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.mu.Unlock()

	v, err := fn(ctx)

	p.mu.Lock()
	latest := p.seq == seq
	if latest {
		p.cancel = nil
	}
	p.mu.Unlock()

	if !latest {
		var zero T
		return zero, seq, ErrSuperseded
	}
	return v, seq, err
}

// Seq returns the sequence number of the most recently issued poll.
func (p *Poller[T]) Seq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

type pollResult[T any] struct {
	v   T
	seq uint64
	err error
}

// Watch polls fn every interval until ctx is done, delivering each latest
// result to deliver. Errors other than ErrSuperseded are delivered too.
// A result is dropped if any newer poll, including a direct Poll call, was
// issued before it reached deliver.
func (p *Poller[T]) Watch(ctx context.Context, interval time.Duration, fn func(ctx context.Context) (T, error), deliver func(T, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	p.watch(ctx, ticker.C, fn, deliver)
}

func (p *Poller[T]) watch(ctx context.Context, ticks <-chan time.Time, fn func(ctx context.Context) (T, error), deliver func(T, error)) {
	results := make(chan pollResult[T], 1)

	issue := func() {
		go func() {
			v, seq, err := p.poll(ctx, fn)
			if errors.Is(err, ErrSuperseded) {
				return
			}
			if p.polled != nil {
				p.polled(seq)
			}
			select {
			case results <- pollResult[T]{v: v, seq: seq, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	issue()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			issue()
		case r := <-results:
			if r.seq != p.Seq() {
				continue
			}
			deliver(r.v, r.err)
		}
	}
}
