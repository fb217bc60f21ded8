// Package loopback provides a software netdrv.Driver that never touches a
// NIC: Run replays a fixed or generated sequence of frames into a Sink, and
// Send appends to an in-memory log. It plays the role a synthetic
// traffic generator plays in a benchmark harness, letting cmd/pfq-bench
// and package tests exercise the ring/tx/group/control stack without
// root privileges or a real interface.
package loopback

import (
	"context"
	"sync"
	"time"

	"github.com/pfq-io/pfq-go/internal/netdrv"
)

// Generator produces the next frame to inject, or ok=false when exhausted.
type Generator func() (data []byte, ok bool)

// Driver is a netdrv.Driver backed by a Generator for RX and an in-memory
// log for TX.
type Driver struct {
	Gen      Generator
	Interval time.Duration

	mu   sync.Mutex
	sent [][]byte
}

// Fixed returns a Generator that replays frames once each, in order.
func Fixed(frames [][]byte) Generator {
	i := 0
	return func() ([]byte, bool) {
		if i >= len(frames) {
			return nil, false
		}
		f := frames[i]
		i++
		return f, true
	}
}

// Repeat returns a Generator that replays frame forever, for
// throughput-style benchmarks rather than one-shot correctness tests.
func Repeat(frame []byte) Generator {
	return func() ([]byte, bool) { return frame, true }
}

// Run feeds frames from Gen into sink until Gen is exhausted or ctx is
// cancelled, pacing itself by Interval if set.
func (d *Driver) Run(ctx context.Context, sink netdrv.Sink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, ok := d.Gen()
		if !ok {
			return nil
		}
		sink.PublishFrame(netdrv.Frame{Data: data, TstampNs: uint64(time.Now().UnixNano())})

		if d.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.Interval):
			}
		}
	}
}

// Send appends payload to the in-memory transmit log and always succeeds.
func (d *Driver) Send(queue int, payload []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := append([]byte(nil), payload...)
	d.sent = append(d.sent, cp)
	return true, nil
}

// Sent returns a snapshot of every frame handed to Send so far, for test
// assertions.
func (d *Driver) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.sent))
	copy(out, d.sent)
	return out
}

// Close is a no-op: loopback holds no kernel resources.
func (d *Driver) Close() error { return nil }
