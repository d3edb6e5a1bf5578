package uac

import "sync"

// EndpointSize is the isochronous packet size of the default format
// (16-bit stereo at 48kHz) and the minimum packet buffer size. Functions
// whose endpoints negotiate a larger wMaxPacketSize get buffers sized to
// match.
const EndpointSize = 192

// poolPackets is the depth of each function's packet buffer pool.
const poolPackets = 5

// Buffer is one fixed-size audio packet buffer drawn from a BufferPool.
// The pool owns free buffers; whoever holds an allocated buffer must
// release it back exactly once.
type Buffer struct {
	data []byte
	pool *BufferPool
}

// Bytes exposes the buffer's storage.
func (b *Buffer) Bytes() []byte { return b.data }

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Release returns the buffer to its pool. Releasing twice is a no-op.
func (b *Buffer) Release() {
	if b.pool == nil {
		return
	}
	p := b.pool
	b.pool = nil
	p.put(b)
}

// BufferPool is a bounded pool of fixed-size packet buffers. Get never
// blocks: it returns nil on exhaustion, since it may run in a
// time-sensitive completion context.
type BufferPool struct {
	mu   sync.Mutex
	free []*Buffer
}

// NewBufferPool preallocates count buffers of size bytes each.
func NewBufferPool(count, size int) *BufferPool {
	p := &BufferPool{free: make([]*Buffer, count)}
	for i := range p.free {
		p.free[i] = &Buffer{data: make([]byte, size), pool: p}
	}
	return p
}

// Get takes a buffer from the pool, or returns nil when the pool is
// exhausted.
func (p *BufferPool) Get() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil
	}
	b := p.free[n-1]
	p.free = p.free[:n-1]
	return b
}

// Available reports how many buffers the pool currently holds.
func (p *BufferPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

func (p *BufferPool) put(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b.pool = p
	p.free = append(p.free, b)
}
