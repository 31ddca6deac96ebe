package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MaxBatchSize is the largest number of metrics handed to a sink at once.
const MaxBatchSize = 20

// ErrSend is matched by every SendError.
var ErrSend = errors.New("metrics send failed")

// Sink delivers metrics to a backend.
type Sink interface {
	Put(ctx context.Context, namespace string, metrics []Metric) error
}

// SendError reports a partially failed flush. Pending metrics stay in the
// batch.
type SendError struct {
	Sent    int
	Pending int
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%v: %d sent, %d pending: %v", ErrSend, e.Sent, e.Pending, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func (e *SendError) Is(target error) bool { return target == ErrSend }

// Batch accumulates metrics until Send.
type Batch struct {
	mu        sync.Mutex
	namespace string
	sink      Sink
	pending   []Metric
}

// NewBatch creates a batch flushing to sink under namespace.
func NewBatch(namespace string, sink Sink) *Batch {
	return &Batch{namespace: namespace, sink: sink}
}

// Namespace returns the metrics namespace.
func (b *Batch) Namespace() string { return b.namespace }

// Add appends metrics.
func (b *Batch) Add(metrics ...Metric) {
	b.mu.Lock()
	b.pending = append(b.pending, metrics...)
	b.mu.Unlock()
}

// Pending returns the number of unsent metrics.
func (b *Batch) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Send flushes pending metrics in chunks of at most MaxBatchSize. Sent chunks
// are removed; on the first failure the rest stay pending and a *SendError
// is returned.
func (b *Batch) Send(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sent := 0
	for len(b.pending) > 0 {
		n := len(b.pending)
		if n > MaxBatchSize {
			n = MaxBatchSize
		}
		chunk := make([]Metric, n)
		copy(chunk, b.pending[:n])
		if err := b.sink.Put(ctx, b.namespace, chunk); err != nil {
			return &SendError{Sent: sent, Pending: len(b.pending), Err: err}
		}
		b.pending = b.pending[n:]
		sent += n
	}
	b.pending = nil
	return nil
}
