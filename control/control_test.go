package control_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfq-io/pfq-go/compute"
	_ "github.com/pfq-io/pfq-go/compute/symbols"
	"github.com/pfq-io/pfq-go/control"
	"github.com/pfq-io/pfq-go/group"
	"github.com/pfq-io/pfq-go/pfqerr"
)

func newServer() *control.Server {
	return control.NewServer(group.NewTable(), 1000, 100)
}

func TestOpenEnableDisable(t *testing.T) {
	ctx := context.Background()
	s := newServer()

	sk, err := s.Open(ctx, group.PolicyShared, 0)
	require.NoError(t, err)
	require.NoError(t, sk.SetRxSlots(1024))
	require.NoError(t, s.Enable(ctx, sk))
	assert.True(t, sk.Enabled())
	require.NoError(t, s.Disable(ctx, sk))
	assert.False(t, sk.Enabled())
}

func TestJoinGroupAssignsAndLeaveRemoves(t *testing.T) {
	ctx := context.Background()
	s := newServer()
	sk, err := s.Open(ctx, group.PolicyShared, 0)
	require.NoError(t, err)

	gid, err := s.JoinGroup(ctx, sk, group.AnyGroup, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, gid)
	assert.Equal(t, []int{0}, sk.Groups())

	require.NoError(t, s.LeaveGroup(ctx, sk, gid))
	assert.Empty(t, sk.Groups())
}

func TestSetComputationRejectsInvalidGraph(t *testing.T) {
	ctx := context.Background()
	s := newServer()
	sk, err := s.Open(ctx, group.PolicyShared, 0)
	require.NoError(t, err)
	gid, err := s.JoinGroup(ctx, sk, group.AnyGroup, 1)
	require.NoError(t, err)

	bad := []compute.Descriptor{
		{Kind: compute.KindMonadic, Symbol: "no_such_symbol", LIndex: compute.Absent, RIndex: compute.Absent, Next: compute.Absent},
	}
	err = s.SetComputation(ctx, gid, bad, 0)
	assert.Error(t, err)
}

func TestSetComputationAcceptsValidGraph(t *testing.T) {
	ctx := context.Background()
	s := newServer()
	sk, err := s.Open(ctx, group.PolicyShared, 0)
	require.NoError(t, err)
	gid, err := s.JoinGroup(ctx, sk, group.AnyGroup, 1)
	require.NoError(t, err)

	good := []compute.Descriptor{
		{Kind: compute.KindMonadic, Symbol: "dummy", LIndex: compute.Absent, RIndex: compute.Absent, Next: compute.Absent},
	}
	err = s.SetComputation(ctx, gid, good, 0)
	assert.NoError(t, err)
}

func TestGroupStatsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newServer()
	_, err := s.GroupStats(ctx, 63)
	assert.ErrorIs(t, err, pfqerr.ErrNotFound)
}

func TestVlanFiltersLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newServer()
	sk, err := s.Open(ctx, group.PolicyShared, 0)
	require.NoError(t, err)
	gid, err := s.JoinGroup(ctx, sk, group.AnyGroup, 1)
	require.NoError(t, err)

	err = s.VlanSetFilter(ctx, gid, 100)
	assert.ErrorIs(t, err, pfqerr.ErrNotEnabled)

	require.NoError(t, s.VlanFiltersEnable(ctx, gid, true))
	assert.NoError(t, s.VlanSetFilter(ctx, gid, 100))
}

func TestBindGroupAddsToGroupCaptureSet(t *testing.T) {
	ctx := context.Background()
	s := newServer()
	sk, err := s.Open(ctx, group.PolicyShared, 0)
	require.NoError(t, err)
	gid, err := s.JoinGroup(ctx, sk, group.AnyGroup, 1)
	require.NoError(t, err)

	require.NoError(t, s.BindGroup(ctx, gid, "lo"))
	require.NoError(t, s.UnbindGroup(ctx, gid, "lo"))
}

func TestBindGroupUnknownGidFails(t *testing.T) {
	ctx := context.Background()
	s := newServer()
	err := s.BindGroup(ctx, 63, "lo")
	assert.ErrorIs(t, err, pfqerr.ErrNotFound)
}

// TestBindTxUnknownInterfaceFailsThenFlushSucceeds covers invariant 12:
// bind_tx(unknown_if, -1) fails; on a known interface, enable then
// tx_queue_flush succeeds.
func TestBindTxUnknownInterfaceFailsThenFlushSucceeds(t *testing.T) {
	ctx := context.Background()
	s := newServer()
	sk, err := s.Open(ctx, group.PolicyShared, 0)
	require.NoError(t, err)

	err = s.BindTx(ctx, sk, "no-such-if-0", -1)
	assert.ErrorIs(t, err, pfqerr.ErrNotFound)

	require.NoError(t, s.BindTx(ctx, sk, "lo", -1))
	require.NoError(t, sk.SetTxSlots(64))
	require.NoError(t, s.Enable(ctx, sk))
	defer s.Disable(ctx, sk)

	_, err = s.TxQueueFlush(ctx, sk, 0)
	assert.NoError(t, err)
}

func TestTxQueueFlushBeforeEnableFails(t *testing.T) {
	ctx := context.Background()
	s := newServer()
	sk, err := s.Open(ctx, group.PolicyShared, 0)
	require.NoError(t, err)
	require.NoError(t, s.BindTx(ctx, sk, "lo", -1))

	_, err = s.TxQueueFlush(ctx, sk, 0)
	assert.ErrorIs(t, err, pfqerr.ErrNotEnabled)
}

func TestEgressBindAndUnbind(t *testing.T) {
	ctx := context.Background()
	s := newServer()
	sk, err := s.Open(ctx, group.PolicyShared, 0)
	require.NoError(t, err)

	err = s.EgressBind(ctx, sk, "no-such-if-0", 0)
	assert.ErrorIs(t, err, pfqerr.ErrNotFound)

	require.NoError(t, s.EgressBind(ctx, sk, "lo", 0))
	require.NoError(t, s.EgressUnbind(ctx, sk))
}
