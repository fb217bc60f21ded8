package group_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfq-io/pfq-go/group"
	"github.com/pfq-io/pfq-go/pfqerr"
)

func TestAnyGroupAssignsSmallestFreeGid(t *testing.T) {
	tbl := group.NewTable()
	gid1, err := tbl.Join(group.AnyGroup, 1, 1, group.PolicyUndefined, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, gid1)

	gid2, err := tbl.Join(group.AnyGroup, 2, 1, group.PolicyUndefined, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, gid2)

	assert.Equal(t, []int{0, 1}, tbl.Groups())
}

func TestPrivGroupRejectsSecondMember(t *testing.T) {
	tbl := group.NewTable()
	_, err := tbl.Join(5, 1, 1, group.PolicyPriv, 100)
	require.NoError(t, err)

	_, err = tbl.Join(5, 2, 1, group.PolicyPriv, 100)
	assert.ErrorIs(t, err, pfqerr.ErrBusy)
}

func TestRestrictedGroupRejectsOtherProcess(t *testing.T) {
	tbl := group.NewTable()
	_, err := tbl.Join(7, 1, 1, group.PolicyRestricted, 100)
	require.NoError(t, err)

	_, err = tbl.Join(7, 2, 1, group.PolicyRestricted, 200)
	assert.ErrorIs(t, err, pfqerr.ErrAccessDenied)
}

func TestPrivGroupRejoinBySameMemberIsIdempotent(t *testing.T) {
	tbl := group.NewTable()
	gid1, err := tbl.Join(5, 1, 1, group.PolicyPriv, 100)
	require.NoError(t, err)

	gid2, err := tbl.Join(5, 1, 1, group.PolicyPriv, 100)
	require.NoError(t, err)
	assert.Equal(t, gid1, gid2)
}

func TestRestrictedGroupAdmitsSameProcess(t *testing.T) {
	tbl := group.NewTable()
	_, err := tbl.Join(7, 1, 1, group.PolicyRestricted, 100)
	require.NoError(t, err)

	_, err = tbl.Join(7, 2, 1, group.PolicyRestricted, 100)
	assert.NoError(t, err)
}

func TestLeaveDisposesEmptyGroup(t *testing.T) {
	tbl := group.NewTable()
	gid, err := tbl.Join(group.AnyGroup, 1, 1, group.PolicyShared, 100)
	require.NoError(t, err)

	require.NoError(t, tbl.Leave(gid, 1))
	assert.Nil(t, tbl.Get(gid))
	assert.Empty(t, tbl.Groups())
}

func TestBindGroupAddsDeviceUnbindRemovesIt(t *testing.T) {
	tbl := group.NewTable()
	gid, err := tbl.Join(group.AnyGroup, 1, 1, group.PolicyShared, 100)
	require.NoError(t, err)

	require.NoError(t, tbl.BindGroup(gid, "eth0"))
	assert.Equal(t, []string{"eth0"}, tbl.Get(gid).BoundDevices())

	require.NoError(t, tbl.UnbindGroup(gid, "eth0"))
	assert.Empty(t, tbl.Get(gid).BoundDevices())
}

func TestBindGroupUnknownGidFails(t *testing.T) {
	tbl := group.NewTable()
	err := tbl.BindGroup(7, "eth0")
	assert.ErrorIs(t, err, pfqerr.ErrNotFound)
}

func TestVlanFiltersRequireEnable(t *testing.T) {
	tbl := group.NewTable()
	gid, err := tbl.Join(group.AnyGroup, 1, 1, group.PolicyShared, 100)
	require.NoError(t, err)

	err = tbl.VlanSetFilter(gid, 10)
	assert.ErrorIs(t, err, pfqerr.ErrNotEnabled)

	require.NoError(t, tbl.VlanFiltersEnable(gid, true))
	assert.NoError(t, tbl.VlanSetFilter(gid, 10))
	assert.True(t, tbl.VlanAccepts(gid, 10))
	assert.False(t, tbl.VlanAccepts(gid, 11))

	require.NoError(t, tbl.VlanFiltersEnable(gid, false))
	err = tbl.VlanSetFilter(gid, 10)
	assert.ErrorIs(t, err, pfqerr.ErrNotEnabled)
}

func TestResolveSteerDeterministic(t *testing.T) {
	tbl := group.NewTable()
	gid, err := tbl.Join(group.AnyGroup, 1, 0b11, group.PolicyShared, 100)
	require.NoError(t, err)
	_, err = tbl.Join(gid, 2, 0b11, group.PolicyShared, 100)
	require.NoError(t, err)

	e1, ok1 := tbl.ResolveSteer(gid, 0, 42)
	e2, ok2 := tbl.ResolveSteer(gid, 0, 42)
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, e1, e2, "same hash must resolve to the same member")
}

func TestResolveCopyIntersectsMask(t *testing.T) {
	tbl := group.NewTable()
	gid, err := tbl.Join(group.AnyGroup, 1, 0b1, group.PolicyShared, 100)
	require.NoError(t, err)
	_, err = tbl.Join(gid, 2, 0b1, group.PolicyShared, 100)
	require.NoError(t, err)

	members := tbl.ResolveCopy(gid, 0, 1<<1)
	assert.Equal(t, []int{1}, members)
}
