// Package tx implements the Tx engine (C5): time-scheduled batched
// transmission draining a sock's double-buffered Tx ring, ported from
// original_source/kernel/pf_q-transmit.c's full_batch_xmit/
// transmission_required/wait_until/swap_tx_queue_and_wait.
package tx

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/pfq-io/pfq-go/compute"
	"github.com/pfq-io/pfq-go/internal/pfqlog"
	"github.com/pfq-io/pfq-go/ratelimit"
	"github.com/pfq-io/pfq-go/ring"
	"github.com/pfq-io/pfq-go/stats"
)

var logger = pfqlog.New("tx")

// Result is the outcome of draining one batch, replacing the reference
// C source's `~total` negative-count-means-interrupted encoding
// (pf_q-transmit.c: "return >= 0 -> OK (ret = sent); < 0 -> EINTR
// (~ret = sent)") with an explicit struct everywhere in-process.
type Result struct {
	Sent        int
	Interrupted bool
}

// Encode packs Result back into the reference ABI's signed-count
// convention, for callers that need wire compatibility (§3 "only the
// optional wire-compatible control response encodes it back").
func (r Result) Encode() int32 {
	if r.Interrupted {
		return int32(^r.Sent)
	}
	return int32(r.Sent)
}

// Decode unpacks the reference ABI's signed-count convention into a
// Result.
func Decode(v int32) Result {
	if v < 0 {
		return Result{Sent: int(^v), Interrupted: true}
	}
	return Result{Sent: int(v)}
}

// Transmitter sends one raw frame to a device/queue, an abstraction over
// whatever driver hook is wired in (netdrv, loopback, ...).
type Transmitter interface {
	Xmit(dev string, queue int, payload []byte) (bool, error)
}

// BatchLen bounds how many packets accumulate before a forced
// transmission_required trip, mirroring the reference's fixed
// batch_len constant.
const BatchLen = 64

// batchDue ports transmission_required: a batch fires once it is full,
// or once it holds anything and its oldest packet's scheduled send time
// has passed.
func batchDue(batchSize int, now, oldestTs uint64) bool {
	return batchSize == BatchLen || (batchSize > 0 && oldestTs <= now)
}

// waitUntil ports wait_until: spins (with a friendly sleep, not a raw
// busy-spin, since this is userspace) until deadlineNs has passed or
// stop fires.
func waitUntil(deadlineNs uint64, stop <-chan struct{}) (interrupted bool) {
	for {
		now := uint64(time.Now().UnixNano())
		if now >= deadlineNs {
			return false
		}
		select {
		case <-stop:
			return true
		case <-time.After(time.Duration(deadlineNs-now) * time.Nanosecond):
			return false
		}
	}
}

// pendingFrame is one decoded, not-yet-sent Tx ring entry.
type pendingFrame struct {
	hdr     ring.TxHeader
	payload []byte
}

// drainBatch ports full_batch_xmit: attempts to send every frame in
// batch via xmitter, stopping early if stop fires mid-batch. The frames
// not yet sent are not retried: RunOnce returns, and its next call claims
// the other ring half.
func drainBatch(xmitter Transmitter, dev string, queue int, batch []pendingFrame, stop <-chan struct{}) Result {
	sent := 0
	for _, f := range batch {
		select {
		case <-stop:
			return Result{Sent: sent, Interrupted: true}
		default:
		}
		ok, err := xmitter.Xmit(dev, queue, f.payload)
		if err != nil {
			logger.Sugar().Warnw("xmit failed", "dev", dev, "queue", queue, "err", err)
			continue
		}
		if ok {
			sent++
		}
	}
	return Result{Sent: sent}
}

// align8 mirrors ring's own slot alignment (payload region only; the
// header size itself is fixed and not additionally padded, matching
// TxRing.Write's advancement by TxHeaderSize + align8(len(payload))).
func align8(n int) int { return (n + 7) &^ 7 }

// readFrames decodes the pending frames out of the ring half returned by
// SwapAndWait/Begin, mirroring traverse_tx_queue's zero-length sentinel
// scan.
func readFrames(half []byte) []pendingFrame {
	var out []pendingFrame
	off := 0
	for off+ring.TxHeaderSize <= len(half) {
		l := binary.LittleEndian.Uint16(half[off:])
		if l == 0 {
			break
		}
		hdr := ring.UnmarshalTxHeader(half[off:])
		start := off + ring.TxHeaderSize
		end := start + int(l)
		if end > len(half) {
			break
		}
		out = append(out, pendingFrame{hdr: hdr, payload: half[start:end]})
		off = start + align8(int(l))
	}
	return out
}

// Engine drains one Tx ring on a schedule, optionally rate-limited.
type Engine struct {
	Ring          *ring.TxRing
	Dev           string
	Queue         int
	Xmit          Transmitter
	KthreadDriven bool
	Throttle      *ratelimit.Throttle
	Stats         *stats.Ring
}

// RunOnce drains exactly one swapped half of the ring and returns its
// Result, for synchronous/test-driven callers.
func (e *Engine) RunOnce(stop <-chan struct{}) Result {
	swap, interrupted := e.Ring.SwapAndWait(e.KthreadDriven, stop)
	if interrupted {
		return Result{Interrupted: true}
	}
	half := e.Ring.Begin(swap)
	frames := readFrames(half)

	var batch []pendingFrame
	total := Result{}
	now := uint64(time.Now().UnixNano())
	for _, f := range frames {
		batch = append(batch, f)
		if batchDue(len(batch), now, f.hdr.Nsec) {
			r := drainBatch(e.Xmit, e.Dev, e.Queue, batch, stop)
			total.Sent += r.Sent
			if e.Throttle != nil {
				e.Throttle.ThrottleN(uint64(r.Sent))
			}
			if r.Interrupted {
				total.Interrupted = true
				return total
			}
			batch = batch[:0]
		}
		if f.hdr.Nsec > now {
			if waitUntil(f.hdr.Nsec, stop) {
				total.Interrupted = true
				return total
			}
			now = uint64(time.Now().UnixNano())
		}
	}
	if len(batch) > 0 {
		r := drainBatch(e.Xmit, e.Dev, e.Queue, batch, stop)
		total.Sent += r.Sent
		total.Interrupted = r.Interrupted
	}
	if e.Stats != nil {
		e.Stats.Sent.Add(0, uint64(total.Sent))
	}
	return total
}

// Loop runs RunOnce repeatedly until ctx is cancelled, mirroring
// giveup_tx_process's ctx.Done()-style stop condition adapted to Go's
// cancellation idiom instead of signal_pending/kthread_should_stop.
func (e *Engine) Loop(ctx context.Context) {
	stop := ctx.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}
		e.RunOnce(stop)
	}
}

// ExecLazy ports pfq_lazy_xmit_exec: walks a packet's accumulated
// LazyLog forwarding targets and hands each one to xmitter, incrementing
// the group's frwd/disc counters as appropriate.
func ExecLazy(xmitter Transmitter, log *compute.LazyLog, payload []byte, st *stats.Ring) {
	for _, t := range log.Targets {
		ok, err := xmitter.Xmit(t.Dev, t.Queue, payload)
		if err != nil || !ok {
			st.Disc.Inc(0)
			continue
		}
		st.Frwd.Inc(0)
	}
}
