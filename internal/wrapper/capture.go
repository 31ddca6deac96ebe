package wrapper

import (
	"io"
	"sync"
)

// tailBuffer keeps the last limit bytes written to it. Writes never fail so a
// slow or closed tee cannot break the child's pipes.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
	tee       io.Writer
}

func newTailBuffer(limit int, tee io.Writer) *tailBuffer {
	return &tailBuffer{limit: limit, tee: tee}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tee != nil {
		if _, err := b.tee.Write(p); err != nil {
			b.tee = nil
		}
	}

	b.buf = append(b.buf, p...)
	if b.limit > 0 && len(b.buf) > b.limit {
		drop := len(b.buf) - b.limit
		b.buf = append(b.buf[:0], b.buf[drop:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *tailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
