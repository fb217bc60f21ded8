// Package netdrv defines the driver hook boundary between the engine core
// (ring, tx, group) and a physical or synthetic packet source. The engine
// never imports netdrv; instead a driver hook is handed a Sink at
// construction and pushes frames into it, and is handed frames to send by
// whatever owns the tx.Engine. This mirrors the way the afxdp package
// kept socket/queue plumbing in one place separate from the
// benchmark/processing loop that drove it (afxdp/processor.go).
package netdrv

import (
	"context"
	"time"
)

// Frame is one captured or to-be-sent link-layer frame plus the receive
// timestamp the driver hook observed for it, if any.
type Frame struct {
	Data     []byte
	TstampNs uint64
	HwQueue  uint16
}

// Sink receives frames pulled off a physical or synthetic driver hook. A
// ring-backed implementation (see internal/netdrv/bridge.go) publishes each
// frame into a ring.RxRing.
type Sink interface {
	PublishFrame(f Frame) (accepted bool)
}

// Driver is a driver hook: Run pushes received frames into a Sink, and
// Send transmits frames handed to it. DriverTransmitter (bridge.go) adapts
// a Driver's Send to tx.Transmitter.
type Driver interface {
	// Run pulls frames from the underlying device or generator and pushes
	// them into sink until ctx is cancelled.
	Run(ctx context.Context, sink Sink) error

	// Send transmits payload on queue and reports whether the frame left
	// the driver hook (as opposed to being dropped for lack of space).
	Send(queue int, payload []byte) (bool, error)

	// Close releases any kernel or hardware resources the driver hook
	// holds (mmap'd rings, sockets, umem).
	Close() error
}

// now returns the wall-clock time in nanoseconds; RingSink uses it for
// frames that arrive without a driver timestamp.
func now() uint64 { return uint64(time.Now().UnixNano()) }
