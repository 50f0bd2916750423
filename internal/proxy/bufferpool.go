package proxy

import "sync"

// BufferPool supplies fixed-size scratch buffers for ProxyBridge's splice
// loop, avoiding a per-direction allocation on every copy.
type BufferPool interface {
	Get() []byte
	Put([]byte)
}

// SyncPoolBufferPool is a BufferPool backed by sync.Pool, handing out
// buffers of a single fixed size.
type SyncPoolBufferPool struct {
	size int
	p    sync.Pool
}

// NewSyncPoolBufferPool returns a SyncPoolBufferPool whose buffers are all
// size bytes long.
func NewSyncPoolBufferPool(size int) *SyncPoolBufferPool {
	bp := &SyncPoolBufferPool{size: size}
	bp.p.New = func() any { return make([]byte, bp.size) }
	return bp
}

// Get returns a buffer of the pool's configured size.
func (p *SyncPoolBufferPool) Get() []byte {
	return p.p.Get().([]byte)
}

// Put returns b to the pool. Buffers smaller than the pool's configured
// size are discarded rather than pooled.
func (p *SyncPoolBufferPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	// Normalize len so callers don't accidentally keep huge slices alive.
	b = b[:p.size]
	p.p.Put(b)
}
