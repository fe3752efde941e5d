package poll

import (
	"sync"

	"github.com/b0gdan00/Aspirantura-research/internal/domain"
)

// Buffer holds a poller's not-yet-flushed frames in FIFO order. The poller is
// its only producer; the mutex makes Len observable from outside the loop.
type Buffer struct {
	mu   sync.Mutex
	data []*domain.Frame
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]*domain.Frame, 0, capacity)}
}

func (b *Buffer) Append(f *domain.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, f)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Snapshot returns a copy of the buffered frames, oldest first.
func (b *Buffer) Snapshot() []*domain.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil
	}
	out := make([]*domain.Frame, len(b.data))
	copy(out, b.data)
	return out
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// TruncateTail keeps only the n newest frames and reports how many were
// dropped. This is the degradation path after a failed flush: bounded memory
// and forward progress beat completeness.
func (b *Buffer) TruncateTail(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if len(b.data) <= n {
		return 0
	}
	dropped := len(b.data) - n
	b.data = append(b.data[:0], b.data[dropped:]...)
	return dropped
}
