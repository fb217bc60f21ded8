package netdrv

import (
	"github.com/pfq-io/pfq-go/ring"
)

// RingSink adapts a ring.RxRing into a Sink, timestamping frames if the
// ring's owning endpoint requested it. Grounded on the afxdp/processor.go
// loop, which pulled Frame values off a Socket and copied them straight
// into a downstream consumer without an intervening queue; here the
// "downstream consumer" is a lock-free ring rather than a channel, per
// the pool/ring package's SPSC contract.
type RingSink struct {
	Ring    *ring.RxRing
	Gid     uint16
	IfIndex int32
	Tstamp  bool
}

// PublishFrame copies f into the ring, dropping and counting it as lost if
// the ring is full (ring.RxRing.Publish already tracks the lost counter).
func (s *RingSink) PublishFrame(f Frame) bool {
	hdr := ring.RxHeader{
		Len:      uint16(len(f.Data)),
		IfIndex:  s.IfIndex,
		HwQueue:  f.HwQueue,
		Gid:      s.Gid,
		TstampNs: f.TstampNs,
	}
	ts := f.TstampNs
	if ts == 0 {
		ts = now()
	}
	return s.Ring.Publish(hdr, f.Data, s.Tstamp, ts)
}

// DriverTransmitter adapts a Driver to tx.Transmitter, so a tx.Engine can
// drain a socket's TxRing straight onto a physical or synthetic device
// without the tx package importing netdrv.
type DriverTransmitter struct {
	Driver Driver
}

func (d *DriverTransmitter) Xmit(dev string, queue int, payload []byte) (bool, error) {
	return d.Driver.Send(queue, payload)
}
