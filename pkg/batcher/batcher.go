package batcher

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by Add after Close.
	ErrClosed  = errors.New("batcher: closed")
	errNoFlush = errors.New("batcher: no flush function configured")
)

// Batcher collects items and flushes them based on size or time thresholds.
// Flushes are serialized; a size-triggered flush runs on the caller of Add.
type Batcher[T any] struct {
	mu        sync.Mutex
	flushMu   sync.Mutex
	buffer    []T
	maxSize   int
	interval  time.Duration
	flushFn   func([]T) error
	onError   func(error, []T)
	stop      chan struct{}
	closed    bool
	wg        sync.WaitGroup
	lastError error
}

// Option customizes a Batcher.
type Option[T any] func(*Batcher[T])

// WithErrorHandler is called with the failed batch whenever a background flush fails.
func WithErrorHandler[T any](fn func(error, []T)) Option[T] {
	return func(b *Batcher[T]) { b.onError = fn }
}

// New creates a new batcher instance.
func New[T any](maxSize int, interval time.Duration, flushFn func([]T) error, opts ...Option[T]) *Batcher[T] {
	if maxSize <= 0 {
		maxSize = 1
	}
	b := &Batcher[T]{
		maxSize:  maxSize,
		interval: interval,
		flushFn:  flushFn,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

// Add queues an item for batching. If the size threshold is met it flushes immediately.
func (b *Batcher[T]) Add(item T) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.buffer = append(b.buffer, item)
	shouldFlush := len(b.buffer) >= b.maxSize
	var batch []T
	if shouldFlush {
		batch = b.detach()
	}
	b.mu.Unlock()
	if shouldFlush {
		return b.runFlush(batch)
	}
	return nil
}

// Flush forces a flush of the accumulated items.
func (b *Batcher[T]) Flush() error {
	b.mu.Lock()
	batch := b.detach()
	b.mu.Unlock()
	return b.runFlush(batch)
}

// Len returns the number of buffered items.
func (b *Batcher[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// Close stops the background ticker and flushes remaining items.
func (b *Batcher[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	close(b.stop)
	b.wg.Wait()
	return b.Flush()
}

// LastError returns the last flush error encountered by the background ticker.
func (b *Batcher[T]) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

func (b *Batcher[T]) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			batch := b.detach()
			b.mu.Unlock()
			if err := b.runFlush(batch); err != nil {
				b.mu.Lock()
				b.lastError = err
				b.mu.Unlock()
				if b.onError != nil {
					b.onError(err, batch)
				}
			}
		case <-b.stop:
			return
		}
	}
}

func (b *Batcher[T]) detach() []T {
	if len(b.buffer) == 0 {
		return nil
	}
	batch := make([]T, len(b.buffer))
	copy(batch, b.buffer)
	b.buffer = b.buffer[:0]
	return batch
}

func (b *Batcher[T]) runFlush(batch []T) error {
	if len(batch) == 0 {
		return nil
	}
	if b.flushFn == nil {
		return errNoFlush
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	return b.flushFn(batch)
}
