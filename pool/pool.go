// Package pool implements the skbuff pool (component C2): a lock-free
// single-producer/single-consumer recycler of packet buffers that avoids
// allocator traffic on the hot path.
//
// Ported one-for-one from original_source/kernel/pf_q-skbuff-pool.h's
// pfq_skb_pool_pop/pfq_skb_pool_push: c_idx is relaxed-loaded by the
// consumer and acquire-loaded by the producer's Push (and vice versa for
// p_idx); a buffer is only recycled if its reference count is below 2 —
// the same refcount peek the kernel does against sk_buff->users before
// reusing a buffer the driver might still hold. One Pool exists per CPU
// shard (see internal/pcpu); pools are never shared across shards.
package pool

import (
	"sync/atomic"

	"github.com/pfq-io/pfq-go/stats"
)

// Buffer is an opaque packet buffer, analogous to a kernel sk_buff. Its
// Data slice is reused across recycles; callers must not retain slices
// into it past a Push.
type Buffer struct {
	Data []byte
	refs atomic.Int32
}

// NewBuffer allocates a fresh buffer with cap bytes of backing storage and
// a reference count of one.
func NewBuffer(capacity int) *Buffer {
	b := &Buffer{Data: make([]byte, 0, capacity)}
	b.refs.Store(1)
	return b
}

// Get increments the reference count and returns the buffer, mirroring
// skb_get.
func (b *Buffer) Get() *Buffer { b.refs.Add(1); return b }

// Refs reports the current reference count.
func (b *Buffer) Refs() int32 { return b.refs.Load() }

// Release decrements the reference count.
func (b *Buffer) Release() { b.refs.Add(-1) }

// Pool is a fixed-capacity SPSC ring of *Buffer.
type Pool struct {
	slots []atomic.Pointer[Buffer]
	size  uint64
	pIdx  atomic.Uint64 // producer index: written by push, read (acquire) by pop
	cIdx  atomic.Uint64 // consumer index: written by pop, read (acquire) by push

	enabled atomic.Bool
	st      *stats.Pool
	shard   int
}

// New allocates a pool of the given power-of-two size for one CPU shard.
func New(size int, shard int, st *stats.Pool) *Pool {
	p := &Pool{
		slots: make([]atomic.Pointer[Buffer], size),
		size:  uint64(size),
		st:    st,
		shard: shard,
	}
	p.enabled.Store(true)
	return p
}

func (p *Pool) next(i uint64) uint64 {
	n := i + 1
	if n == p.size {
		return 0
	}
	return n
}

// Pop removes and returns the head buffer if the pool is non-empty and the
// head buffer's refcount is below 2 (i.e. it is not still held elsewhere).
// Returns nil otherwise — the caller must then allocate fresh.
func (p *Pool) Pop() *Buffer {
	c := p.cIdx.Load()          // relaxed: only this consumer writes cIdx
	prod := p.pIdx.Load()       // acquire: synchronizes with Push's release store
	if c == prod {
		return nil
	}
	b := p.slots[c].Load()
	if b == nil || b.Refs() >= 2 {
		return nil
	}
	p.slots[c].Store(nil)
	p.cIdx.Store(p.next(c)) // release
	return b
}

// Push returns skb to the pool for recycling. If the pool is full or
// disabled, the buffer is instead handed to the OS allocator (i.e. dropped
// for GC), which is counted in the pool's os_free stat, and Push returns
// false.
func (p *Pool) Push(skb *Buffer) bool {
	if !p.enabled.Load() {
		if p.st != nil {
			p.st.OSFree.Inc(p.shard)
		}
		return false
	}
	prod := p.pIdx.Load()  // relaxed: only this producer writes pIdx
	c := p.cIdx.Load()     // acquire: synchronizes with Pop's release store
	n := p.next(prod)
	if n != c {
		p.slots[prod].Store(skb)
		p.pIdx.Store(n) // release
		return true
	}
	if p.st != nil {
		p.st.OSFree.Inc(p.shard)
	}
	return false
}

// Enabled reports whether the pool currently accepts recycling.
func (p *Pool) Enabled() bool { return p.enabled.Load() }

// SetEnabled toggles the pool at runtime; disabling drains and frees every
// buffer currently held (§4.2 "disabling drains and frees all buffers").
func (p *Pool) SetEnabled(v bool) {
	p.enabled.Store(v)
	if !v {
		p.Flush()
	}
}

// Flush drops every buffer currently queued in the pool, counting each as
// an os_free. Unlike Pop it does not stop at a buffer that is still held
// elsewhere.
func (p *Pool) Flush() int {
	n := 0
	for c := p.cIdx.Load(); c != p.pIdx.Load(); c = p.cIdx.Load() {
		p.slots[c].Store(nil)
		p.cIdx.Store(p.next(c))
		n++
		if p.st != nil {
			p.st.OSFree.Inc(p.shard)
		}
	}
	return n
}
