// Package stats implements the sparse (per-CPU) counters used for both
// endpoint and group statistics: recv, lost, drop, sent, disc, frwd, kern.
//
// Each counter is an array of N (pcpu.N) independent atomic machine words,
// one per shard, so that concurrent shards do not update the same word;
// readers sum across shards. The words sit next to each other in one slice
// and are not padded onto separate cache lines. This mirrors "Stats: per-CPU counters summed on read (sparse
// counters)" from the concurrency model, and is shaped after
// ifacestat.Stats' per-interface/per-counter aggregation, generalized
// from device counters to sparse atomic counters.
package stats

import (
	"sync/atomic"

	"github.com/pfq-io/pfq-go/internal/pcpu"
)

// Sparse is one per-CPU counter.
type Sparse struct {
	shards []atomic.Uint64
}

// NewSparse allocates a Sparse counter sized to the current shard count.
func NewSparse() *Sparse {
	return &Sparse{shards: make([]atomic.Uint64, pcpu.N)}
}

// Add increments the counter on behalf of shard.
func (s *Sparse) Add(shard int, n uint64) {
	s.shards[shard%len(s.shards)].Add(n)
}

// Inc increments the counter on behalf of shard by one.
func (s *Sparse) Inc(shard int) { s.Add(shard, 1) }

// Sum returns the total across all shards.
func (s *Sparse) Sum() uint64 {
	var total uint64
	for i := range s.shards {
		total += s.shards[i].Load()
	}
	return total
}

// Ring holds the seven counters exposed by both endpoint and group stats:
// recv, lost, drop, sent, disc, frwd, kern.
type Ring struct {
	Recv *Sparse
	Lost *Sparse
	Drop *Sparse
	Sent *Sparse
	Disc *Sparse
	Frwd *Sparse
	Kern *Sparse
}

// NewRing allocates a fresh, zeroed Ring.
func NewRing() *Ring {
	return &Ring{
		Recv: NewSparse(),
		Lost: NewSparse(),
		Drop: NewSparse(),
		Sent: NewSparse(),
		Disc: NewSparse(),
		Frwd: NewSparse(),
		Kern: NewSparse(),
	}
}

// Snapshot is the read-side, host-endian value of a Ring at one instant.
type Snapshot struct {
	Recv, Lost, Drop, Sent, Disc, Frwd, Kern uint64
}

// Snapshot sums every shard of every counter.
func (r *Ring) Snapshot() Snapshot {
	return Snapshot{
		Recv: r.Recv.Sum(),
		Lost: r.Lost.Sum(),
		Drop: r.Drop.Sum(),
		Sent: r.Sent.Sum(),
		Disc: r.Disc.Sum(),
		Frwd: r.Frwd.Sum(),
		Kern: r.Kern.Sum(),
	}
}

// Pool holds the allocator-adjacent counters for the skbuff pool: os_free
// counts buffers that could not be recycled and were freed to the OS
// allocator instead.
type Pool struct {
	OSFree *Sparse
}

// NewPool allocates a fresh Pool stats block.
func NewPool() *Pool {
	return &Pool{OSFree: NewSparse()}
}
