// Package ring implements the per-endpoint shared-memory Rx and Tx rings
// (component C1): single-producer/single-consumer queues mapped between
// the engine ("kernel") side and the endpoint ("user") side.
//
// The mmap-backed, cached-index SPSC technique is ported from
// afxdp-bench-go/afxdp.go's xdpUQueue/xdpUMemQueue (makeQueue, rxAvailable,
// reserveTx, commitTxDescriptors): an anonymous mmap region backs the
// slots, producer/consumer counters are plain uint32 words inside that
// region, and cached copies of the peer's counter avoid an atomic load on
// every element. PFQ's own slot layout (RxHeader/TxHeader)
// replaces AF_XDP's xdp_desc.
package ring

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultMaxLen is the read-only derived maxlen (driver MTU + headroom)
// used until a real interface reports otherwise (invariant 4).
const DefaultMaxLen = 1514

// RxHeaderSize is sizeof(pkthdr):
// {cap_len u16, len u16, tstamp_ns u64, if_index i32, hw_queue u16, gid u16, commit u32}.
const RxHeaderSize = 2 + 2 + 8 + 4 + 2 + 2 + 4 // 24 bytes

// RxHeader is the fixed Rx slot header, byte-for-byte. Field
// order is part of the ABI.
type RxHeader struct {
	CapLen   uint16
	Len      uint16
	TstampNs uint64
	IfIndex  int32
	HwQueue  uint16
	Gid      uint16
	Commit   uint32
}

// MarshalBinary encodes h in little-endian, the persisted/wire form.
func (h RxHeader) MarshalBinary() []byte {
	b := make([]byte, RxHeaderSize)
	binary.LittleEndian.PutUint16(b[0:], h.CapLen)
	binary.LittleEndian.PutUint16(b[2:], h.Len)
	binary.LittleEndian.PutUint64(b[4:], h.TstampNs)
	binary.LittleEndian.PutUint32(b[12:], uint32(h.IfIndex))
	binary.LittleEndian.PutUint16(b[16:], h.HwQueue)
	binary.LittleEndian.PutUint16(b[18:], h.Gid)
	binary.LittleEndian.PutUint32(b[20:], h.Commit)
	return b
}

// UnmarshalRxHeader decodes a little-endian RxHeader from b.
func UnmarshalRxHeader(b []byte) RxHeader {
	return RxHeader{
		CapLen:   binary.LittleEndian.Uint16(b[0:]),
		Len:      binary.LittleEndian.Uint16(b[2:]),
		TstampNs: binary.LittleEndian.Uint64(b[4:]),
		IfIndex:  int32(binary.LittleEndian.Uint32(b[12:])),
		HwQueue:  binary.LittleEndian.Uint16(b[16:]),
		Gid:      binary.LittleEndian.Uint16(b[18:]),
		Commit:   binary.LittleEndian.Uint32(b[20:]),
	}
}

// align8 rounds n up to the next multiple of 8, per "slot size =
// ALIGN(cap_len + sizeof(header), 8)".
func align8(n int) int { return (n + 7) &^ 7 }

// SlotSize returns the Rx slot size for a given caplen (invariant 5).
func SlotSize(capLen int) int { return align8(capLen + RxHeaderSize) }

var (
	// ErrTooSmall is returned when a ring is asked for zero or a
	// non-power-of-two slot count.
	ErrTooSmall = errors.New("ring: slots must be a nonzero power of two")
)

func isPow2(n uint32) bool { return n != 0 && n&(n-1) == 0 }

// RxRing is the kernel(engine)-producer / user(endpoint)-consumer ring.
// Not safe for use by more than one producer or more than one consumer
// concurrently — SPSC only, per the concurrency model.
type RxRing struct {
	mem      []byte
	slots    uint32
	mask     uint32
	slotSize int
	capLen   int

	prod *uint32 // written by producer (engine), read by consumer
	cons *uint32 // written by consumer (endpoint), read by producer

	cachedProd uint32 // consumer's cached view of prod
	cachedCons uint32 // producer's cached view of cons

	lost *uint64 // overflow counter, bumped by the producer under full ring
}

// NewRxRing allocates and mmaps an Rx ring of the given slot count and
// per-slot capture length.
func NewRxRing(slots uint32, capLen int) (*RxRing, error) {
	if !isPow2(slots) {
		return nil, ErrTooSmall
	}
	slotSize := SlotSize(capLen)
	// Layout: [prod uint32][cons uint32][pad to 8][slots...]
	headerLen := 16
	total := headerLen + int(slots)*slotSize
	mem, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	r := &RxRing{
		mem:      mem,
		slots:    slots,
		mask:     slots - 1,
		slotSize: slotSize,
		capLen:   capLen,
		prod:     (*uint32)(unsafe.Pointer(&mem[0])),
		cons:     (*uint32)(unsafe.Pointer(&mem[4])),
	}
	var lost uint64
	r.lost = &lost
	return r, nil
}

// Close unmaps the ring's memory.
func (r *RxRing) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}

func (r *RxRing) slotOffset(i uint32) int { return 16 + int(i&r.mask)*r.slotSize }

func (r *RxRing) slot(i uint32) []byte {
	off := r.slotOffset(i)
	return r.mem[off : off+r.slotSize]
}

// CapLen returns the ring's frozen capture length.
func (r *RxRing) CapLen() int { return r.capLen }

// Slots returns the ring's slot count.
func (r *RxRing) Slots() uint32 { return r.slots }

// Lost returns the number of packets dropped because the ring was full.
func (r *RxRing) Lost() uint64 { return atomic.LoadUint64(r.lost) }

// Publish is called by the producer (engine) to hand one frame to the
// consumer. Returns false if the ring is full, in which case Publish
// itself counts the packet as lost (§4.1: "when full, it increments lost").
// The commit word is written last with a release store, matching "the
// commit word is written last with release ordering."
func (r *RxRing) Publish(hdr RxHeader, payload []byte, tstamp bool, now uint64) bool {
	prod := atomic.LoadUint32(r.prod)
	cons := atomic.LoadUint32(r.cons)
	if prod-cons >= r.slots {
		atomic.AddUint64(r.lost, 1)
		return false
	}

	s := r.slot(prod)
	n := copy(s[RxHeaderSize:], payload)
	hdr.CapLen = uint16(n)
	if tstamp {
		hdr.TstampNs = now
	}
	hdr.Commit = prod + 1 // nonzero sentinel, monotonically increasing
	copy(s[:RxHeaderSize], hdr.MarshalBinary())

	atomic.StoreUint32(r.prod, prod+1) // release: publishes the slot
	return true
}

// Poll returns the decoded headers of up to max published slots not yet
// consumed. Payloads are not returned here; Payload(i, capLen) gives the
// i-th one as a slice of ring memory (zero-copy). The caller must call
// Advance(n) after processing to release them.
func (r *RxRing) Poll(max int) []RxHeader {
	avail := r.cachedProd - r.cachedCons
	if avail == 0 {
		r.cachedProd = atomic.LoadUint32(r.prod) // acquire
		avail = r.cachedProd - r.cachedCons
		if avail == 0 {
			return nil
		}
	}
	if int(avail) > max {
		avail = uint32(max)
	}
	out := make([]RxHeader, 0, avail)
	for i := uint32(0); i < avail; i++ {
		s := r.slot(r.cachedCons + i)
		out = append(out, UnmarshalRxHeader(s[:RxHeaderSize]))
	}
	return out
}

// Payload returns the payload bytes for the i-th slot returned by the most
// recent Poll (0-indexed relative to that call).
func (r *RxRing) Payload(i int, capLen uint16) []byte {
	s := r.slot(r.cachedCons + uint32(i))
	return s[RxHeaderSize : RxHeaderSize+int(capLen)]
}

// Advance releases n consumed slots back to the producer.
func (r *RxRing) Advance(n int) {
	r.cachedCons += uint32(n)
	atomic.StoreUint32(r.cons, r.cachedCons)
}

// ---- Tx ring: double-buffered ----

// TxHeaderSize is sizeof(pkthdr_tx): {len u16, _pad u16, nsec u64}.
const TxHeaderSize = 2 + 2 + 8

// TxHeader is the fixed Tx slot header.
type TxHeader struct {
	Len  uint16
	Nsec uint64
}

// MarshalBinary encodes h little-endian.
func (h TxHeader) MarshalBinary() []byte {
	b := make([]byte, TxHeaderSize)
	binary.LittleEndian.PutUint16(b[0:], h.Len)
	binary.LittleEndian.PutUint64(b[4:], h.Nsec)
	return b
}

// UnmarshalTxHeader decodes a little-endian TxHeader from b.
func UnmarshalTxHeader(b []byte) TxHeader {
	return TxHeader{
		Len:  binary.LittleEndian.Uint16(b[0:]),
		Nsec: binary.LittleEndian.Uint64(b[4:]),
	}
}

// TxRing is a double-buffered ring: two contiguous halves of `size` bytes
// each. The producer (endpoint/user) writes into the half selected by
// prod&1; the consumer (Tx engine) drains the opposite half. Ported from
// the swap/prod/cons discipline of pf_q-transmit.c's
// swap_tx_queue_and_wait and afxdp.go's reserveTx/commitTxDescriptors.
type TxRing struct {
	mem  []byte
	size int // size of one half, in bytes

	prod atomic.Uint32
	cons atomic.Uint32

	writeOff int // current write offset within the active half
}

// NewTxRing allocates a double-buffered Tx ring with each half `size`
// bytes.
func NewTxRing(size int) (*TxRing, error) {
	mem, err := unix.Mmap(-1, 0, size*2, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	return &TxRing{mem: mem, size: size}, nil
}

// Close unmaps the ring.
func (t *TxRing) Close() error {
	if t.mem == nil {
		return nil
	}
	err := unix.Munmap(t.mem)
	t.mem = nil
	return err
}

// activeHalf returns the byte slice for the half currently open for
// writes by the user side, selected by prod&1 (mirrors "the active half is
// swap & 1").
func (t *TxRing) activeHalf(idx uint32) []byte {
	off := int(idx&1) * t.size
	return t.mem[off : off+t.size]
}

// ErrFull is returned by Write when the current half has no room left for
// the packet (back-pressure per §4.1).
var ErrFull = errors.New("ring: tx half full")

// Write appends one packet to the currently active half. The endpoint
// (user) calls this repeatedly, then Flush to hand the half to the engine.
func (t *TxRing) Write(hdr TxHeader, payload []byte) error {
	half := t.activeHalf(t.prod.Load())
	need := TxHeaderSize + align8(len(payload))
	if t.writeOff+need+TxHeaderSize > t.size { // leave room for 0-len sentinel
		return ErrFull
	}
	hdr.Len = uint16(len(payload))
	copy(half[t.writeOff:], hdr.MarshalBinary())
	copy(half[t.writeOff+TxHeaderSize:], payload)
	t.writeOff += need
	// zero-length sentinel terminates the half.
	binary.LittleEndian.PutUint16(half[t.writeOff:], 0)
	return nil
}

// Flush publishes the half written so far to the engine and switches the
// user side to the opposite half once the engine has finished draining it.
func (t *TxRing) Flush() {
	t.prod.Add(1)
	t.writeOff = 0
}

// SwapAndWait is called by the draining side to claim the next half. If
// kthreadDriven is false, the user side already advanced prod via Flush
// before calling this synchronously, so it returns immediately without
// touching prod (mirrors "otherwise immediately flip prod to release" —
// the flip already happened). If kthreadDriven is true, it spins until
// the user side has published (prod == cons), honoring stop.
func (t *TxRing) SwapAndWait(kthreadDriven bool, stop <-chan struct{}) (idx uint32, interrupted bool) {
	idx = t.cons.Add(1)
	if !kthreadDriven {
		return idx, false
	}
	for idx != t.prod.Load() {
		select {
		case <-stop:
			return idx, true
		default:
		}
	}
	return idx, false
}

// Begin returns the half selected by swap for draining. swap is the
// post-increment cons index from SwapAndWait, so the half actually
// published is swap-1, not swap.
func (t *TxRing) Begin(swap uint32) []byte { return t.activeHalf(swap - 1) }
