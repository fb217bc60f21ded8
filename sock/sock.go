// Package sock implements PFQ's endpoint handle (the "Sock" of §3):
// open/enable/disable/bind lifecycle, ring-backed parameters that freeze
// once enabled, and group membership bookkeeping.
package sock

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pfq-io/pfq-go/group"
	"github.com/pfq-io/pfq-go/pfqerr"
	"github.com/pfq-io/pfq-go/ratelimit"
	"github.com/pfq-io/pfq-go/ring"
	"github.com/pfq-io/pfq-go/stats"
	"github.com/pfq-io/pfq-go/tx"
)

var nextID atomic.Int64

// Defaults mirror the reference module's fallback configuration for a
// freshly opened endpoint.
const (
	DefaultCapLen   = 128
	DefaultRxSlots  = 4096
	DefaultTxSlots  = 4096
	DefaultRxHeader = 24 // CapLen,Len,TstampNs,IfIndex,HwQueue,Gid,Commit
)

// Sock is one open endpoint (§3 Endpoint). Zero value is not usable;
// construct with Open.
type Sock struct {
	mu sync.Mutex

	id      int64
	fd      int // synthetic; -1 once closed
	policy  group.Policy
	pid     int
	enabled bool

	capLen, maxLen         int
	rxSlots, txSlots       int
	tstamp                 bool
	boundDevices           map[string]struct{}
	groupMask              uint64 // bit i set => member of gid i

	txBindIface string // set by BindTx, required before TxQueueFlush
	txBindCPU   int
	egressIface string // set by EgressBind, used for lazy-forward targets
	egressQueue int
	txRateLimit uint64 // pps cap for TxQueueFlush's drain; 0 = unlimited

	rx *ring.RxRing
	tx *ring.TxRing
	st *stats.Ring
}

// Open creates a new endpoint with policy and txSlotCount, matching §4.6
// `open(policy, tx_slot_count) -> Sock` and invariant 1 (fd != -1,
// id >= 0 after open).
func Open(policy group.Policy, txSlotCount int) *Sock {
	if txSlotCount <= 0 {
		txSlotCount = DefaultTxSlots
	}
	id := nextID.Add(1)
	return &Sock{
		id:           id,
		fd:           int(id),
		policy:       policy,
		pid:          group.CallerPid(),
		capLen:       DefaultCapLen,
		maxLen:       ring.DefaultMaxLen,
		rxSlots:      DefaultRxSlots,
		txSlots:      txSlotCount,
		boundDevices: make(map[string]struct{}),
		st:           stats.NewRing(),
	}
}

// ID returns the endpoint's id.
func (s *Sock) ID() int64 { return s.id }

// FD returns the endpoint's synthetic file descriptor, -1 once closed.
func (s *Sock) FD() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd
}

// Pid returns the pid of the process that opened this endpoint, used by
// restricted-group policy checks.
func (s *Sock) Pid() int { return s.pid }

// Policy returns the endpoint's requested join policy.
func (s *Sock) Policy() group.Policy { return s.policy }

// Enabled reports whether ring memory is currently allocated.
func (s *Sock) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Stats returns the endpoint's own counters.
func (s *Sock) Stats() stats.Snapshot { return s.st.Snapshot() }

// StatsRing exposes the underlying counters for the data plane to bump.
func (s *Sock) StatsRing() *stats.Ring { return s.st }

func (s *Sock) requireDisabled() error {
	if s.enabled {
		return fmt.Errorf("sock: parameter change while enabled: %w", pfqerr.ErrBusy)
	}
	return nil
}

// SetCapLen sets the per-slot capture length. Fails once enabled
// ("most parameters are frozen once enabled", §3).
func (s *Sock) SetCapLen(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireDisabled(); err != nil {
		return err
	}
	s.capLen = n
	return nil
}

// MaxLen returns the maximum accepted frame length: a read-only derived
// property (driver MTU + headroom), not settable by the endpoint.
func (s *Sock) MaxLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxLen
}

// SetRxSlots sets the Rx ring's slot count.
func (s *Sock) SetRxSlots(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireDisabled(); err != nil {
		return err
	}
	s.rxSlots = n
	return nil
}

// SetTxSlots sets the Tx ring's slot count.
func (s *Sock) SetTxSlots(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireDisabled(); err != nil {
		return err
	}
	s.txSlots = n
	return nil
}

// SetTimestamp toggles per-packet hardware/software timestamping.
func (s *Sock) SetTimestamp(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireDisabled(); err != nil {
		return err
	}
	s.tstamp = on
	return nil
}

// SetTxRateLimit caps TxQueueFlush's drain rate to pps packets per
// second (0 removes the cap). Fails once enabled, like the other
// parameter setters.
func (s *Sock) SetTxRateLimit(pps uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireDisabled(); err != nil {
		return err
	}
	s.txRateLimit = pps
	return nil
}

// Enable allocates ring memory and exposes the mmap region
// (§4.6 enable). Idempotent-fails if already enabled.
func (s *Sock) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return fmt.Errorf("sock: already enabled: %w", pfqerr.ErrBusy)
	}
	rx, err := ring.NewRxRing(uint32(s.rxSlots), s.capLen)
	if err != nil {
		kind := pfqerr.ErrNoMemory
		if err == ring.ErrTooSmall {
			kind = pfqerr.ErrInvalid
		}
		return fmt.Errorf("sock: enable rx ring: %w: %w", err, kind)
	}
	txHalfBytes := s.txSlots * (ring.TxHeaderSize + s.maxLen)
	tx, err := ring.NewTxRing(txHalfBytes)
	if err != nil {
		return fmt.Errorf("sock: enable tx ring: %w: %w", err, pfqerr.ErrNoMemory)
	}
	s.rx, s.tx = rx, tx
	s.enabled = true
	return nil
}

// Disable drains and frees ring memory, returning state to configurable.
func (s *Sock) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return nil
	}
	if s.rx != nil {
		_ = s.rx.Close()
	}
	if s.tx != nil {
		_ = s.tx.Close()
	}
	s.rx, s.tx = nil, nil
	s.enabled = false
	return nil
}

// RxRing returns the endpoint's Rx ring, or nil if not enabled.
func (s *Sock) RxRing() *ring.RxRing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rx
}

// TxRing returns the endpoint's Tx ring, or nil if not enabled.
func (s *Sock) TxRing() *ring.TxRing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx
}

// Bind adds ifName to the endpoint's capture set.
func (s *Sock) Bind(ifName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boundDevices[ifName] = struct{}{}
	return nil
}

// Unbind removes ifName from the endpoint's capture set.
func (s *Sock) Unbind(ifName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.boundDevices, ifName)
	return nil
}

// BoundDevices returns the endpoint's currently bound interface names.
func (s *Sock) BoundDevices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.boundDevices))
	for d := range s.boundDevices {
		out = append(out, d)
	}
	return out
}

// BindTx binds the endpoint's Tx side to ifName and records cpu. The cpu
// value is only stored: no draining kthread is started or pinned, and
// TxQueueFlush drains in the caller's context whatever cpu is. Fails with
// ErrNotFound if ifName does not name a known interface (invariant 12).
func (s *Sock) BindTx(ifName string, cpu int) error {
	if _, err := net.InterfaceByName(ifName); err != nil {
		return fmt.Errorf("sock: bind_tx %q: %w", ifName, pfqerr.ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txBindIface = ifName
	s.txBindCPU = cpu
	return nil
}

// EgressBind sets the (ifName, queue) target lazy-forwarded packets are
// sent to. Fails with ErrNotFound if ifName does not name a known
// interface.
func (s *Sock) EgressBind(ifName string, queue int) error {
	if _, err := net.InterfaceByName(ifName); err != nil {
		return fmt.Errorf("sock: egress_bind %q: %w", ifName, pfqerr.ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.egressIface = ifName
	s.egressQueue = queue
	return nil
}

// EgressUnbind clears the endpoint's egress forwarding target.
func (s *Sock) EgressUnbind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.egressIface = ""
	s.egressQueue = 0
	return nil
}

// TxQueueFlush drains the endpoint's Tx ring through xmitter, replaying
// tx.Engine.RunOnce's batched, time-scheduled send loop synchronously.
// Fails with ErrNotEnabled before enable and ErrInvalid before bind_tx
// (invariant 12: "bind_tx(unknown_if, -1) fails; on known interface,
// enable then tx_queue_flush succeeds").
func (s *Sock) TxQueueFlush(index int, xmitter tx.Transmitter) (tx.Result, error) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return tx.Result{}, fmt.Errorf("sock: tx_queue_flush before enable: %w", pfqerr.ErrNotEnabled)
	}
	if s.txBindIface == "" {
		s.mu.Unlock()
		return tx.Result{}, fmt.Errorf("sock: tx_queue_flush before bind_tx: %w", pfqerr.ErrInvalid)
	}
	if index != 0 {
		s.mu.Unlock()
		return tx.Result{}, fmt.Errorf("sock: tx queue %d: %w", index, pfqerr.ErrInvalid)
	}
	eng := &tx.Engine{Ring: s.tx, Dev: s.txBindIface, Queue: index, Xmit: xmitter, Stats: s.st}
	if s.txRateLimit > 0 {
		eng.Throttle = ratelimit.New(s.txRateLimit)
	}
	s.mu.Unlock()
	return eng.RunOnce(nil), nil
}

// JoinGroup records gid membership on the endpoint side (the group.Table
// tracks the authoritative membership; this mirrors it locally for
// GroupID()/Groups() queries without a table lookup).
func (s *Sock) JoinGroup(gid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupMask |= 1 << uint(gid)
}

// LeaveGroup clears gid from the endpoint's local membership mirror.
func (s *Sock) LeaveGroup(gid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupMask &^= 1 << uint(gid)
}

// GroupID returns the endpoint's lowest-numbered remaining group, or 0
// if it belongs to none (invariant 9's "remaining-policy group" query).
func (s *Sock) GroupID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groupMask == 0 {
		return 0
	}
	for i := 0; i < group.MaxGroups; i++ {
		if s.groupMask&(1<<uint(i)) != 0 {
			return i
		}
	}
	return 0
}

// Groups returns the endpoint's sorted membership list.
func (s *Sock) Groups() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for i := 0; i < group.MaxGroups; i++ {
		if s.groupMask&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

// Close disables the endpoint and marks its fd invalid (invariant 1:
// "after close, fd = -1").
func (s *Sock) Close() error {
	if err := s.Disable(); err != nil {
		return err
	}
	s.mu.Lock()
	s.fd = -1
	s.mu.Unlock()
	return nil
}
