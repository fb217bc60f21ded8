//go:build linux

// Package afxdp implements the AF_XDP-backed netdrv.Driver: a zero-copy
// capable socket bound to one NIC RX/TX queue, adapted from a kernel-bypass
// benchmark harness into a driver hook that feeds netdrv.Sink and drains a
// tx.Engine. Terminology mapping (kernel <-> userspace):
//
//   - RX ring: raw packets delivered from NIC to userspace.
//   - FQ ring: UMEM addresses userspace provides to kernel for RX.
//   - TX ring: descriptors userspace sends to NIC.
//   - CQ ring: completed TX buffers returned by kernel.
package afxdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"golang.org/x/sys/unix"

	"github.com/pfq-io/pfq-go/internal/netdrv"
	"github.com/pfq-io/pfq-go/internal/netdrv/afxdp/xdp"
)

var (
	ErrXSKSMapNotFound     = errors.New("xsks_map not found")
	ErrXDPSockProgNotFound = errors.New("xdp_sock_prog not found")
	ErrTXRegionIsEmpty     = errors.New("tx region is empty")
	ErrCQRegionIsEmpty     = errors.New("cq region is empty")
	ErrNumFramesTooSmall   = errors.New("NumFrames must be >= TxSize + RxSize")
)

// Config controls both the XDP program attachment and the per-queue socket
// sizing for one Driver instance.
type Config struct {
	Iface          string
	QueueID        uint32
	PreferZerocopy bool

	NumFrames uint32
	FrameSize uint32
	RxSize    uint32
	TxSize    uint32
	CqSize    uint32
	BatchSize uint32
}

func (c *Config) setDefaults() error {
	if c.NumFrames == 0 {
		c.NumFrames = DefaultNumFrames
	}
	if c.FrameSize == 0 {
		c.FrameSize = DefaultFrameSize
	}
	if c.RxSize == 0 {
		c.RxSize = DefaultQueueSize
	}
	if c.TxSize == 0 {
		c.TxSize = DefaultQueueSize
	}
	if c.CqSize == 0 {
		c.CqSize = DefaultCompletionRingSize
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.NumFrames < c.TxSize+c.RxSize {
		return ErrNumFramesTooSmall
	}
	return nil
}

const (
	DefaultNumFrames          = 4096
	DefaultFrameSize          = 2048
	DefaultQueueSize          = 2048
	DefaultCompletionRingSize = 2048
	DefaultBatchSize          = 64
)

// Driver is a netdrv.Driver bound to a single NIC queue via AF_XDP.
//
// WARNING: like the socket it wraps, Driver is not safe for concurrent Run
// and Send calls from more than one goroutine each.
type Driver struct {
	conf       Config
	isZerocopy bool

	link link.Link
	objs *xdp.XdpProgObjects

	fd int

	umem []byte
	tx   *uqueue
	cq   *umemQueue
	rx   *uqueue
	fq   *umemQueue

	txRegion []byte
	cqRegion []byte
	fqRegion []byte

	freeFrames    []uint64
	freeCount     uint32
	lastFrameAddr uint64
	compBuf       []uint64

	ifIndex int32
}

// Open attaches an XDP program to conf.Iface (once per process per
// interface would normally be arranged by the caller) and binds an AF_XDP
// socket to conf.QueueID.
func Open(conf Config) (*Driver, error) {
	if err := conf.setDefaults(); err != nil {
		return nil, err
	}

	iface, err := net.InterfaceByName(conf.Iface)
	if err != nil {
		return nil, fmt.Errorf("netdrv/afxdp: interface %q: %w", conf.Iface, err)
	}

	l, objs, err := attachXDP(conf.Iface, conf.PreferZerocopy)
	if err != nil {
		return nil, fmt.Errorf("netdrv/afxdp: attach XDP: %w", err)
	}

	d := &Driver{conf: conf, link: l, objs: objs, ifIndex: int32(iface.Index)}
	if err := d.openSocket(iface); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func attachXDP(ifaceName string, zerocopy bool) (link.Link, *xdp.XdpProgObjects, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, nil, fmt.Errorf("interface index by name: %w", err)
	}

	var objs xdp.XdpProgObjects
	if err := xdp.LoadXdpProgObjects(&objs, nil); err != nil {
		return nil, nil, fmt.Errorf("loading XDP BPF: %w", err)
	}

	prog := objs.XdpSockProg
	if prog == nil {
		objs.Close()
		return nil, nil, ErrXDPSockProgNotFound
	}

	opts := link.XDPOptions{Program: prog, Interface: iface.Index}
	if zerocopy {
		opts.Flags = link.XDPDriverMode
	}

	l, err := link.AttachXDP(opts)
	if err != nil {
		objs.Close()
		return nil, nil, fmt.Errorf("attaching XDP: %w", err)
	}
	return l, &objs, nil
}

func registerXSK(objs *xdp.XdpProgObjects, fd int, queue uint32) error {
	if objs.XsksMap == nil {
		return ErrXSKSMapNotFound
	}
	return objs.XsksMap.Update(queue, uint32(fd), ebpf.UpdateAny)
}

func (d *Driver) openSocket(iface *net.Interface) error {
	conf := d.conf

	fd, err := unix.Socket(unix.AF_XDP, unix.SOCK_RAW, 0)
	if err != nil {
		return fmt.Errorf("opening AF_XDP socket: %w", err)
	}

	umemLen := uintptr(conf.NumFrames) * uintptr(conf.FrameSize)
	umem, err := mmapUmem(umemLen)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("mmap UMEM: %w", err)
	}

	reg := xdpUmemReg{
		Addr:      uint64(uintptr(unsafe.Pointer(&umem[0]))),
		Len:       uint64(len(umem)),
		ChunkSize: conf.FrameSize,
	}
	if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_UMEM_REG, unsafe.Pointer(&reg), unsafe.Sizeof(reg)); err != nil {
		unix.Close(fd)
		return fmt.Errorf("setsockopt XDP_UMEM_REG: %w", err)
	}

	fillSize, compSize := conf.RxSize, conf.CqSize
	if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_UMEM_FILL_RING, unsafe.Pointer(&fillSize), unsafe.Sizeof(fillSize)); err != nil {
		unix.Close(fd)
		return fmt.Errorf("setsockopt XDP_UMEM_FILL_RING: %w", err)
	}
	if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_UMEM_COMPLETION_RING, unsafe.Pointer(&compSize), unsafe.Sizeof(compSize)); err != nil {
		unix.Close(fd)
		return fmt.Errorf("setsockopt XDP_UMEM_COMPLETION_RING: %w", err)
	}

	txSize, rxSize := conf.TxSize, conf.RxSize
	if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_TX_RING, unsafe.Pointer(&txSize), unsafe.Sizeof(txSize)); err != nil {
		unix.Close(fd)
		return fmt.Errorf("setsockopt XDP_TX_RING: %w", err)
	}
	if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_RX_RING, unsafe.Pointer(&rxSize), unsafe.Sizeof(rxSize)); err != nil {
		unix.Close(fd)
		return fmt.Errorf("setsockopt XDP_RX_RING: %w", err)
	}

	var offs xdpMmapOffsets
	if err := getsockopt(fd, unix.SOL_XDP, unix.XDP_MMAP_OFFSETS, unsafe.Pointer(&offs), unsafe.Sizeof(offs)); err != nil {
		unix.Close(fd)
		return fmt.Errorf("getsockopt XDP_MMAP_OFFSETS: %w", err)
	}

	txRegion, err := mmapRegion(fd, uintptr(offs.Tx.Desc)+uintptr(conf.TxSize)*unsafe.Sizeof(xdpDesc{}), unix.XDP_PGOFF_TX_RING)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("mmap TX ring: %w", err)
	}
	cqRegion, err := mmapRegion(fd, uintptr(offs.Cr.Desc)+uintptr(conf.CqSize)*unsafe.Sizeof(uint64(0)), unix.XDP_UMEM_PGOFF_COMPLETION_RING)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("mmap CQ ring: %w", err)
	}
	rxRegion, err := mmapRegion(fd, uintptr(offs.Rx.Desc)+uintptr(conf.RxSize)*unsafe.Sizeof(xdpDesc{}), unix.XDP_PGOFF_RX_RING)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("mmap RX ring: %w", err)
	}
	fqRegion, err := mmapRegion(fd, uintptr(offs.Fr.Desc)+uintptr(conf.RxSize)*unsafe.Sizeof(uint64(0)), unix.XDP_UMEM_PGOFF_FILL_RING)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("mmap FQ ring: %w", err)
	}

	txQ, err := makeQueue(txRegion, offs.Tx, conf.TxSize, true)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("making TX queue: %w", err)
	}
	cqQ, err := makeUmemQueue(cqRegion, offs.Cr, conf.CqSize)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("making CQ queue: %w", err)
	}
	rxQ, err := makeQueue(rxRegion, offs.Rx, conf.RxSize, false)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("making RX queue: %w", err)
	}
	fqQ, err := makeUmemQueue(fqRegion, offs.Fr, conf.RxSize)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("making FQ queue: %w", err)
	}

	{
		prod := atomic.LoadUint32(fqQ.prod)
		for i := uint32(0); i < fqQ.size; i++ {
			idx := (prod + i) & fqQ.mask
			fqQ.addrs[idx] = uint64(i) * uint64(conf.FrameSize)
		}
		atomic.StoreUint32(fqQ.prod, prod+fqQ.size)
		fqQ.cachedProd = atomic.LoadUint32(fqQ.prod)
		fqQ.cachedCons = atomic.LoadUint32(fqQ.cons)
	}

	sa := &sockaddrXdp{Family: unix.AF_XDP, Ifindex: uint32(iface.Index), QueueID: conf.QueueID}
	zerocopy := conf.PreferZerocopy
	if zerocopy {
		sa.Flags = unix.XDP_ZEROCOPY | unix.XDP_USE_NEED_WAKEUP
	} else {
		sa.Flags = unix.XDP_COPY | unix.XDP_USE_NEED_WAKEUP
	}
	if err := rawBind(fd, sa); err != nil {
		if errno, ok := err.(unix.Errno); ok && errno == unix.EPROTONOSUPPORT && zerocopy {
			sa.Flags = unix.XDP_COPY | unix.XDP_USE_NEED_WAKEUP
			zerocopy = false
			err = rawBind(fd, sa)
		}
		if err != nil {
			unix.Close(fd)
			return fmt.Errorf("binding socket: %w", err)
		}
	}

	if err := registerXSK(d.objs, fd, conf.QueueID); err != nil {
		unix.Close(fd)
		return fmt.Errorf("registering XSK: %w", err)
	}

	freeFrames := make([]uint64, conf.NumFrames)
	for i := uint32(0); i < conf.NumFrames; i++ {
		freeFrames[i] = uint64(i) * uint64(conf.FrameSize)
	}

	d.isZerocopy = zerocopy
	d.fd = fd
	d.umem = umem
	d.tx, d.cq, d.rx, d.fq = txQ, cqQ, rxQ, fqQ
	d.txRegion, d.cqRegion, d.fqRegion = txRegion, cqRegion, fqRegion
	d.freeFrames, d.freeCount = freeFrames, conf.NumFrames
	d.compBuf = make([]uint64, conf.BatchSize)
	return nil
}

// IsZerocopy reports whether the socket ended up bound in zero-copy mode.
func (d *Driver) IsZerocopy() bool { return d.isZerocopy }

// Close releases the socket, UMEM, ring mmaps and the XDP program link.
func (d *Driver) Close() error {
	var errs []error
	if d.fd != 0 {
		if err := unix.Close(d.fd); err != nil {
			errs = append(errs, err)
		}
		d.fd = 0
	}
	for _, region := range []*[]byte{&d.txRegion, &d.cqRegion, &d.fqRegion, &d.umem} {
		if *region != nil {
			if err := unix.Munmap(*region); err != nil {
				errs = append(errs, err)
			}
			*region = nil
		}
	}
	if d.objs != nil {
		errs = append(errs, d.objs.Close())
		d.objs = nil
	}
	if d.link != nil {
		errs = append(errs, d.link.Close())
		d.link = nil
	}
	return errors.Join(errs...)
}

// Run polls the RX ring until ctx is cancelled, publishing every received
// frame to sink and returning it to the fill queue afterward.
func (d *Driver) Run(ctx context.Context, sink netdrv.Sink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := d.wait(50); err != nil {
			return err
		}

		avail := rxAvailable(d.rx)
		for i := uint32(0); i < avail; i++ {
			idx := d.rx.cachedCons & d.rx.mask
			desc := d.rx.descs[idx]
			start, end := int(desc.Addr), int(desc.Addr)+int(desc.Len)

			sink.PublishFrame(netdrv.Frame{
				Data:    d.umem[start:end],
				HwQueue: uint16(d.conf.QueueID),
			})

			d.rx.cachedCons++
			d.releaseToFillQueue(desc.Addr)
		}
		if avail > 0 {
			atomic.StoreUint32(d.rx.cons, d.rx.cachedCons)
		}
	}
}

func (d *Driver) wait(timeoutMS int) error {
	for {
		_, err := unix.Poll([]unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}, timeoutMS)
		if err == nil || err == unix.EINTR {
			return nil
		}
		return err
	}
}

func (d *Driver) releaseToFillQueue(addr uint64) {
	prod := atomic.LoadUint32(d.fq.prod)
	idx := prod & d.fq.mask
	d.fq.addrs[idx] = addr
	atomic.StoreUint32(d.fq.prod, prod+1)
}

// Send copies payload into a free UMEM frame and submits it on the TX ring,
// reclaiming completions and ringing the NIC doorbell as needed.
func (d *Driver) Send(queue int, payload []byte) (bool, error) {
	frame := d.nextFrame()
	if frame == nil {
		return false, nil
	}
	n := copy(frame, payload)

	var idx uint32
	for reserveTx(d.tx, 1, &idx) == 0 {
		if d.pollCompletions(d.conf.BatchSize) == 0 {
			if err := wakeupTxQueue(d.fd); err != nil {
				return false, err
			}
		}
	}
	desc := &d.tx.descs[idx&d.tx.mask]
	desc.Addr = d.lastFrameAddr
	desc.Len = uint32(n)
	desc.Opts = 0

	commitTxDescriptors(d.tx.prod, d.tx.cachedProd)
	if err := wakeupTxQueue(d.fd); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Driver) nextFrame() []byte {
	if d.freeCount == 0 {
		d.pollCompletions(uint32(len(d.compBuf)))
		if d.freeCount == 0 {
			return nil
		}
	}
	d.freeCount--
	addr := d.freeFrames[d.freeCount]
	d.lastFrameAddr = addr

	frameSize := d.conf.FrameSize
	start := int(addr)
	return d.umem[start : start+int(frameSize)]
}

func (d *Driver) pollCompletions(maxFrames uint32) uint32 {
	if maxFrames == 0 {
		return 0
	}
	if maxFrames > uint32(len(d.compBuf)) {
		maxFrames = uint32(len(d.compBuf))
	}
	n := umemCompleteFromKernel(d.cq, d.compBuf, maxFrames)
	for i := range n {
		d.freeFrames[d.freeCount] = d.compBuf[i]
		d.freeCount++
	}
	return n
}
