// Package control implements the control surface (C6): one method per
// control-plane operation, each rate-limited, traced, and returning a typed
// pfqerr error. Structurally grounded on a flag/command dispatch shape
// (cmd/route/main.go), generalized into a typed server with a method
// per RPC instead of a flag-parsed CLI switch.
package control

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/pfq-io/pfq-go/compute"
	"github.com/pfq-io/pfq-go/group"
	"github.com/pfq-io/pfq-go/internal/netdrv"
	"github.com/pfq-io/pfq-go/internal/netdrv/loopback"
	"github.com/pfq-io/pfq-go/internal/pfqlog"
	"github.com/pfq-io/pfq-go/pfqerr"
	"github.com/pfq-io/pfq-go/sock"
	"github.com/pfq-io/pfq-go/stats"
	"github.com/pfq-io/pfq-go/tx"
)

var (
	logger = pfqlog.New("control")
	tracer = otel.Tracer("pfq/control")
)

// Server dispatches control-plane operations against a group table and
// the set of currently open endpoints.
type Server struct {
	groups *group.Table

	limiter *rate.Limiter
	xmit    tx.Transmitter

	mu      sync.Mutex
	sockets map[int64]*sock.Sock
}

// NewServer returns a Server backed by tbl, throttling requests to
// ratePerSec with a burst allowance, per §4.6 "[FULL] rate-limited by a
// golang.org/x/time/rate.Limiter". TxQueueFlush defaults to draining
// through an in-memory loopback.Driver until SetTransmitter wires a real
// one, so tx_queue_flush is exercisable without root or a NIC.
func NewServer(tbl *group.Table, ratePerSec float64, burst int) *Server {
	return &Server{
		groups:  tbl,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		xmit:    &netdrv.DriverTransmitter{Driver: &loopback.Driver{}},
		sockets: make(map[int64]*sock.Sock),
	}
}

// SetTransmitter replaces the Transmitter TxQueueFlush drains through,
// letting a daemon wire in a physical driver hook (e.g.
// internal/netdrv/afxdp) in place of the loopback default.
func (s *Server) SetTransmitter(xmit tx.Transmitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.xmit = xmit
}

func (s *Server) throttle(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("control: rate limited: %w", pfqerr.ErrBusy)
	}
	return nil
}

func (s *Server) span(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pfq.control."+op, trace.WithAttributes(attrs...))
}

// Open creates a new endpoint (§4.6 open(policy, tx_slot_count) -> Sock).
func (s *Server) Open(ctx context.Context, policy group.Policy, txSlots int) (*sock.Sock, error) {
	if err := s.throttle(ctx); err != nil {
		return nil, err
	}
	_, span := s.span(ctx, "open", attribute.String("policy", policy.String()))
	defer span.End()

	sk := sock.Open(policy, txSlots)
	s.mu.Lock()
	s.sockets[sk.ID()] = sk
	s.mu.Unlock()
	logger.Sugar().Infow("endpoint opened", "id", sk.ID())
	return sk, nil
}

// Enable allocates ring memory for sk.
func (s *Server) Enable(ctx context.Context, sk *sock.Sock) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "enable", attribute.Int64("sock.id", sk.ID()))
	defer span.End()
	return sk.Enable()
}

// Disable frees ring memory for sk.
func (s *Server) Disable(ctx context.Context, sk *sock.Sock) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "disable", attribute.Int64("sock.id", sk.ID()))
	defer span.End()
	return sk.Disable()
}

// Bind adds ifName to sk's capture set.
func (s *Server) Bind(ctx context.Context, sk *sock.Sock, ifName string) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "bind", attribute.Int64("sock.id", sk.ID()), attribute.String("if", ifName))
	defer span.End()
	return sk.Bind(ifName)
}

// Unbind removes ifName from sk's capture set.
func (s *Server) Unbind(ctx context.Context, sk *sock.Sock, ifName string) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "unbind", attribute.Int64("sock.id", sk.ID()), attribute.String("if", ifName))
	defer span.End()
	return sk.Unbind(ifName)
}

// BindGroup adds ifName to gid's group-granularity capture set, as
// opposed to Bind's per-endpoint capture set.
func (s *Server) BindGroup(ctx context.Context, gid int, ifName string) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "bind_group", attribute.Int("gid", gid), attribute.String("if", ifName))
	defer span.End()
	return s.groups.BindGroup(gid, ifName)
}

// UnbindGroup removes ifName from gid's group-granularity capture set.
func (s *Server) UnbindGroup(ctx context.Context, gid int, ifName string) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "unbind_group", attribute.Int("gid", gid), attribute.String("if", ifName))
	defer span.End()
	return s.groups.UnbindGroup(gid, ifName)
}

// BindTx binds sk's Tx side to ifName and records cpu on sk; no draining
// kthread is started or pinned (see sock.Sock.BindTx).
func (s *Server) BindTx(ctx context.Context, sk *sock.Sock, ifName string, cpu int) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "bind_tx", attribute.Int64("sock.id", sk.ID()), attribute.String("if", ifName), attribute.Int("cpu", cpu))
	defer span.End()
	if err := sk.BindTx(ifName, cpu); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// EgressBind sets the (ifName, queue) lazy-forward target for sk.
func (s *Server) EgressBind(ctx context.Context, sk *sock.Sock, ifName string, queue int) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "egress_bind", attribute.Int64("sock.id", sk.ID()), attribute.String("if", ifName), attribute.Int("queue", queue))
	defer span.End()
	if err := sk.EgressBind(ifName, queue); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// EgressUnbind clears sk's lazy-forward target.
func (s *Server) EgressUnbind(ctx context.Context, sk *sock.Sock) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "egress_unbind", attribute.Int64("sock.id", sk.ID()))
	defer span.End()
	return sk.EgressUnbind()
}

// TxQueueFlush drains sk's Tx queue index synchronously through the
// server's configured Transmitter.
func (s *Server) TxQueueFlush(ctx context.Context, sk *sock.Sock, index int) (tx.Result, error) {
	if err := s.throttle(ctx); err != nil {
		return tx.Result{}, err
	}
	_, span := s.span(ctx, "tx_queue_flush", attribute.Int64("sock.id", sk.ID()), attribute.Int("index", index))
	defer span.End()

	s.mu.Lock()
	xmit := s.xmit
	s.mu.Unlock()

	res, err := sk.TxQueueFlush(index, xmit)
	if err != nil {
		span.RecordError(err)
		return tx.Result{}, err
	}
	return res, nil
}

// JoinGroup admits sk to gid (or the smallest free gid if
// gid == group.AnyGroup) under classMask, per §4.6 join_group.
func (s *Server) JoinGroup(ctx context.Context, sk *sock.Sock, gid int, classMask uint64) (int, error) {
	if err := s.throttle(ctx); err != nil {
		return 0, err
	}
	_, span := s.span(ctx, "join_group", attribute.Int64("sock.id", sk.ID()), attribute.Int("gid", gid))
	defer span.End()

	assigned, err := s.groups.Join(gid, int(sk.ID()), classMask, sk.Policy(), sk.Pid())
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	sk.JoinGroup(assigned)
	return assigned, nil
}

// LeaveGroup removes sk from every class of gid.
func (s *Server) LeaveGroup(ctx context.Context, sk *sock.Sock, gid int) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "leave_group", attribute.Int64("sock.id", sk.ID()), attribute.Int("gid", gid))
	defer span.End()

	if err := s.groups.Leave(gid, int(sk.ID())); err != nil {
		span.RecordError(err)
		return err
	}
	sk.LeaveGroup(gid)
	return nil
}

// SetComputation compiles descs and atomically swaps gid's active
// computation.
func (s *Server) SetComputation(ctx context.Context, gid int, descs []compute.Descriptor, entry int32) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "set_computation", attribute.Int("gid", gid), attribute.Int("nodes", len(descs)))
	defer span.End()

	comp, err := compute.Compile(descs, entry)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("control: compile computation: %w: %w", err, pfqerr.ErrInvalid)
	}
	if err := s.groups.SetComputation(gid, comp); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Stats returns sk's own counters.
func (s *Server) Stats(ctx context.Context, sk *sock.Sock) (stats.Snapshot, error) {
	if err := s.throttle(ctx); err != nil {
		return stats.Snapshot{}, err
	}
	_, span := s.span(ctx, "stats", attribute.Int64("sock.id", sk.ID()))
	defer span.End()
	return sk.Stats(), nil
}

// GroupStats returns gid's counters.
func (s *Server) GroupStats(ctx context.Context, gid int) (stats.Snapshot, error) {
	if err := s.throttle(ctx); err != nil {
		return stats.Snapshot{}, err
	}
	_, span := s.span(ctx, "group_stats", attribute.Int("gid", gid))
	defer span.End()

	g := s.groups.Get(gid)
	if g == nil {
		err := fmt.Errorf("control: gid %d: %w", gid, pfqerr.ErrNotFound)
		span.RecordError(err)
		return stats.Snapshot{}, err
	}
	return g.Stats(), nil
}

// VlanFiltersEnable toggles gid's VLAN filtering.
func (s *Server) VlanFiltersEnable(ctx context.Context, gid int, on bool) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "vlan_filters_enable", attribute.Int("gid", gid), attribute.Bool("on", on))
	defer span.End()
	return s.groups.VlanFiltersEnable(gid, on)
}

// VlanSetFilter adds vid to gid's accept set.
func (s *Server) VlanSetFilter(ctx context.Context, gid int, vid uint16) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "vlan_set_filter", attribute.Int("gid", gid), attribute.Int("vid", int(vid)))
	defer span.End()
	return s.groups.VlanSetFilter(gid, vid)
}

// VlanResetFilter removes vid from gid's accept set.
func (s *Server) VlanResetFilter(ctx context.Context, gid int, vid uint16) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "vlan_reset_filter", attribute.Int("gid", gid), attribute.Int("vid", int(vid)))
	defer span.End()
	return s.groups.VlanResetFilter(gid, vid)
}

// Close disposes sk, disabling it and removing it from the server.
func (s *Server) Close(ctx context.Context, sk *sock.Sock) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	_, span := s.span(ctx, "close", attribute.Int64("sock.id", sk.ID()))
	defer span.End()

	for _, gid := range sk.Groups() {
		_ = s.groups.Leave(gid, int(sk.ID()))
	}
	s.mu.Lock()
	delete(s.sockets, sk.ID())
	s.mu.Unlock()
	return sk.Close()
}
