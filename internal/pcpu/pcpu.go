// Package pcpu provides per-CPU shard assignment for the data plane.
//
// Go exposes no portable getcpu(2); instead a goroutine that will run a
// hot-path loop (an Rx worker, a Tx kthread-equivalent) calls Pin once,
// which locks it to its OS thread and hands back a fixed shard index in
// [0, N). Everything indexed by that shard (skbuff pool, sparse counters)
// is then safe to touch without synchronization from that goroutine alone,
// matching the "never share mutable pool state across cores" rule.
package pcpu

import (
	"runtime"
	"sync/atomic"
)

// N is the number of shards, fixed at process start to the number of
// logical CPUs visible to the process.
var N = runtime.NumCPU()

var next atomic.Int64

// Pin locks the calling goroutine to its current OS thread and returns a
// shard index unique to this call, cycling through [0, N). The caller must
// keep running on this goroutine for as long as it uses the shard; it must
// call runtime.UnlockOSThread via the returned unpin func when done.
func Pin() (shard int, unpin func()) {
	runtime.LockOSThread()
	shard = int(next.Add(1)-1) % N
	if shard < 0 {
		shard += N
	}
	return shard, runtime.UnlockOSThread
}
