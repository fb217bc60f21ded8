// Package group implements PFQ's group table (C3): endpoint↔group
// membership, join/leave policy enforcement, per-class fanout, and the
// atomically-swapped per-group Computation.
package group

import (
	"fmt"
	"math/bits"
	"os"
	"sync"

	"github.com/pfq-io/pfq-go/compute"
	"github.com/pfq-io/pfq-go/internal/pfqlog"
	"github.com/pfq-io/pfq-go/pfqerr"
	"github.com/pfq-io/pfq-go/stats"
)

var logger = pfqlog.New("group")

// MaxGroups bounds gid to [0, MaxGroups), per §3 "an integer gid in
// [0, 64)".
const MaxGroups = 64

// NumClasses bounds the fanout class index space. The reference module
// does not fix this at a specific small constant; 32 gives ample fanout
// lanes for the class/steer_ip/steer_flow primitives while keeping the
// per-group bitmask set small.
const NumClasses = 32

// Policy is a group's join-admission policy.
type Policy int

const (
	PolicyUndefined Policy = iota
	PolicyPriv
	PolicyRestricted
	PolicyShared
)

func (p Policy) String() string {
	switch p {
	case PolicyUndefined:
		return "undefined"
	case PolicyPriv:
		return "priv"
	case PolicyRestricted:
		return "restricted"
	case PolicyShared:
		return "shared"
	default:
		return "unknown"
	}
}

// Group is one entry of the group table.
type Group struct {
	mu sync.RWMutex

	gid       int
	policy    Policy
	ownerPid  int
	members   map[int]struct{} // endpoint ids, any-class membership
	classMask [NumClasses]uint64
	comp      *compute.Computation
	vlanOn    bool
	vlanIDs   map[uint16]struct{}
	devices   map[string]struct{} // bind_group's capture set, group granularity
	st        *stats.Ring
}

func newGroup(gid int) *Group {
	return &Group{
		gid:     gid,
		members: make(map[int]struct{}),
		vlanIDs: make(map[uint16]struct{}),
		devices: make(map[string]struct{}),
		st:      stats.NewRing(),
	}
}

// BoundDevices returns gid's group-granularity capture set.
func (g *Group) BoundDevices() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.devices))
	for d := range g.devices {
		out = append(out, d)
	}
	return out
}

// Stats returns the group's snapshot counters.
func (g *Group) Stats() stats.Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.st.Snapshot()
}

// Computation returns the group's currently active computation (may be
// nil, meaning "pass through unchanged").
func (g *Group) Computation() *compute.Computation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.comp
}

// Table is the process-wide group table, one per engine instance.
type Table struct {
	mu     sync.Mutex
	groups [MaxGroups]*Group
}

// NewTable returns an empty group table.
func NewTable() *Table {
	return &Table{}
}

// AnyGroup requests the smallest free gid (§4.6 join_group(any_group)).
const AnyGroup = -1

// Join admits endpoint eid to gid (or the smallest free gid if
// gid == AnyGroup) under classMask and the endpoint's requested policy,
// creating the group implicitly on first join (invariant 8, S2).
func (t *Table) Join(gid, eid int, classMask uint64, reqPolicy Policy, callerPid int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gid == AnyGroup {
		gid = t.firstFreeLocked()
		if gid < 0 {
			return 0, fmt.Errorf("group: no free gid: %w", pfqerr.ErrNoMemory)
		}
	}
	if gid < 0 || gid >= MaxGroups {
		return 0, fmt.Errorf("group: gid %d out of range: %w", gid, pfqerr.ErrInvalid)
	}

	g := t.groups[gid]
	if g == nil {
		g = newGroup(gid)
		g.policy = reqPolicy
		g.ownerPid = callerPid
		t.groups[gid] = g
		logger.Sugar().Infow("group created", "gid", gid, "policy", reqPolicy.String())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, rejoining := g.members[eid]; !rejoining {
		if err := checkPolicy(g, reqPolicy, callerPid, len(g.members)); err != nil {
			return 0, err
		}
	}
	if g.policy == PolicyUndefined && reqPolicy != PolicyUndefined {
		g.policy = reqPolicy
	}

	g.members[eid] = struct{}{}
	for c := 0; c < NumClasses; c++ {
		if classMask&(1<<uint(c)) != 0 {
			g.classMask[c] |= 1 << uint(eid)
		}
	}
	return gid, nil
}

// checkPolicy enforces invariant 6/7: priv admits exactly one member,
// restricted admits only same-pid joiners, shared admits any, undefined
// matches anything (deferred).
func checkPolicy(g *Group, reqPolicy Policy, callerPid, currentMembers int) error {
	if reqPolicy != PolicyUndefined && g.policy != PolicyUndefined && reqPolicy != g.policy {
		return fmt.Errorf("group: policy %s incompatible with group policy %s: %w", reqPolicy, g.policy, pfqerr.ErrAccessDenied)
	}
	effective := g.policy
	if effective == PolicyUndefined {
		effective = reqPolicy
	}
	switch effective {
	case PolicyPriv:
		if currentMembers >= 1 {
			return fmt.Errorf("group: priv group already has a member: %w", pfqerr.ErrBusy)
		}
	case PolicyRestricted:
		if currentMembers > 0 && g.ownerPid != callerPid {
			return fmt.Errorf("group: restricted group owned by pid %d: %w", g.ownerPid, pfqerr.ErrAccessDenied)
		}
	}
	return nil
}

func (t *Table) firstFreeLocked() int {
	for i := 0; i < MaxGroups; i++ {
		if t.groups[i] == nil {
			return i
		}
	}
	return -1
}

// Leave removes eid from every class of gid (invariant 9). When the last
// member leaves, the group and its computation are disposed.
func (t *Table) Leave(gid, eid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gid < 0 || gid >= MaxGroups || t.groups[gid] == nil {
		return fmt.Errorf("group: gid %d not found: %w", gid, pfqerr.ErrNotFound)
	}
	g := t.groups[gid]
	g.mu.Lock()
	delete(g.members, eid)
	for c := range g.classMask {
		g.classMask[c] &^= 1 << uint(eid)
	}
	empty := len(g.members) == 0
	g.mu.Unlock()

	if empty {
		t.groups[gid] = nil
		logger.Sugar().Infow("group disposed", "gid", gid)
	}
	return nil
}

// Get returns the group at gid, or nil.
func (t *Table) Get(gid int) *Group {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gid < 0 || gid >= MaxGroups {
		return nil
	}
	return t.groups[gid]
}

// Groups returns the sorted list of live gids.
func (t *Table) Groups() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []int
	for i, g := range t.groups {
		if g != nil {
			out = append(out, i)
		}
	}
	return out
}

// SetComputation atomically swaps gid's active computation, per §4.4
// "the computation is replaced atomically via a control call". The old
// computation simply becomes unreachable and is collected normally;
// there is no separate fini pass here since primitives in this port hold
// no external resources beyond what Go's GC already reclaims.
func (t *Table) SetComputation(gid int, comp *compute.Computation) error {
	g := t.Get(gid)
	if g == nil {
		return fmt.Errorf("group: gid %d not found: %w", gid, pfqerr.ErrNotFound)
	}
	g.mu.Lock()
	g.comp = comp
	g.mu.Unlock()
	return nil
}

// VlanFiltersEnable toggles gid's VLAN filtering. Filters are only
// mutable once enabled (invariant 10).
func (t *Table) VlanFiltersEnable(gid int, on bool) error {
	g := t.Get(gid)
	if g == nil {
		return fmt.Errorf("group: gid %d not found: %w", gid, pfqerr.ErrNotFound)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vlanOn = on
	if !on {
		g.vlanIDs = make(map[uint16]struct{})
	}
	return nil
}

// VlanSetFilter adds vid to gid's accept set. Fails with ErrNotEnabled
// unless filtering was previously enabled (invariant 10).
func (t *Table) VlanSetFilter(gid int, vid uint16) error {
	g := t.Get(gid)
	if g == nil {
		return fmt.Errorf("group: gid %d not found: %w", gid, pfqerr.ErrNotFound)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.vlanOn {
		return pfqerr.ErrNotEnabled
	}
	g.vlanIDs[vid] = struct{}{}
	return nil
}

// VlanResetFilter removes vid from gid's accept set.
func (t *Table) VlanResetFilter(gid int, vid uint16) error {
	g := t.Get(gid)
	if g == nil {
		return fmt.Errorf("group: gid %d not found: %w", gid, pfqerr.ErrNotFound)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.vlanOn {
		return pfqerr.ErrNotEnabled
	}
	delete(g.vlanIDs, vid)
	return nil
}

// BindGroup adds ifName to gid's group-granularity capture set (as
// opposed to Sock.Bind's per-endpoint capture set).
func (t *Table) BindGroup(gid int, ifName string) error {
	g := t.Get(gid)
	if g == nil {
		return fmt.Errorf("group: gid %d not found: %w", gid, pfqerr.ErrNotFound)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.devices[ifName] = struct{}{}
	return nil
}

// UnbindGroup removes ifName from gid's group-granularity capture set.
func (t *Table) UnbindGroup(gid int, ifName string) error {
	g := t.Get(gid)
	if g == nil {
		return fmt.Errorf("group: gid %d not found: %w", gid, pfqerr.ErrNotFound)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.devices, ifName)
	return nil
}

// VlanAccepts reports whether gid's filter set (if enabled) admits vid.
func (t *Table) VlanAccepts(gid int, vid uint16) bool {
	g := t.Get(gid)
	if g == nil {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.vlanOn {
		return true
	}
	_, ok := g.vlanIDs[vid]
	return ok
}

// ResolveSteer picks exactly one member of class from gid's mask via
// hash-mod-popcount deterministic bit selection: the hash is folded into
// an index over only the set bits of the mask, so the same hash always
// picks the same relative member regardless of which absolute endpoint
// ids happen to be present.
func (t *Table) ResolveSteer(gid, class int, hash uint32) (eid int, ok bool) {
	g := t.Get(gid)
	if g == nil || class < 0 || class >= NumClasses {
		return 0, false
	}
	g.mu.RLock()
	mask := g.classMask[class]
	g.mu.RUnlock()
	n := bits.OnesCount64(mask)
	if n == 0 {
		return 0, false
	}
	target := int(hash) % n
	seen := 0
	for i := 0; i < 64; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if seen == target {
			return i, true
		}
		seen++
	}
	return 0, false
}

// ResolveCopy returns the set of member endpoint ids in class ∩ mask,
// used by the Copy fanout action. A masked-out member is absent from the
// result. The table does not track whether a member endpoint is enabled,
// so a joined but disabled endpoint is still listed.
func (t *Table) ResolveCopy(gid, class int, mask uint64) []int {
	g := t.Get(gid)
	if g == nil || class < 0 || class >= NumClasses {
		return nil
	}
	g.mu.RLock()
	classMask := g.classMask[class] & mask
	g.mu.RUnlock()
	var out []int
	for i := 0; i < 64; i++ {
		if classMask&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

// CallerPid is a small seam over os.Getpid used by restricted-policy
// checks, kept as a var so tests can simulate multiple "processes"
// within one test binary.
var CallerPid = os.Getpid
