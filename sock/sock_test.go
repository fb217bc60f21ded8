package sock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfq-io/pfq-go/group"
	"github.com/pfq-io/pfq-go/pfqerr"
	"github.com/pfq-io/pfq-go/ring"
	"github.com/pfq-io/pfq-go/sock"
)

type fakeXmitter struct{ sent int }

func (f *fakeXmitter) Xmit(dev string, queue int, payload []byte) (bool, error) {
	f.sent++
	return true, nil
}

func TestOpenDefaultsMaxLenTo1514(t *testing.T) {
	s := sock.Open(group.PolicyShared, 0)
	assert.Equal(t, ring.DefaultMaxLen, s.MaxLen())
	assert.Equal(t, 1514, s.MaxLen())
}

func TestOpenAssignsFDAndID(t *testing.T) {
	s := sock.Open(group.PolicyShared, 0)
	assert.NotEqual(t, -1, s.FD())
	assert.GreaterOrEqual(t, s.ID(), int64(0))
}

func TestCloseInvalidatesFD(t *testing.T) {
	s := sock.Open(group.PolicyShared, 0)
	require.NoError(t, s.Close())
	assert.Equal(t, -1, s.FD())
}

func TestEnableAllocatesRings(t *testing.T) {
	s := sock.Open(group.PolicyShared, 0)
	require.NoError(t, s.SetRxSlots(1024))
	require.NoError(t, s.Enable())
	defer s.Disable()
	assert.True(t, s.Enabled())
	assert.NotNil(t, s.RxRing())
	assert.NotNil(t, s.TxRing())
}

func TestParameterMutationFailsOnceEnabled(t *testing.T) {
	s := sock.Open(group.PolicyShared, 0)
	require.NoError(t, s.SetRxSlots(1024))
	require.NoError(t, s.Enable())
	defer s.Disable()

	err := s.SetCapLen(256)
	assert.Error(t, err)
}

func TestDisableFreesRingsAndAllowsReconfigure(t *testing.T) {
	s := sock.Open(group.PolicyShared, 0)
	require.NoError(t, s.SetRxSlots(1024))
	require.NoError(t, s.Enable())
	require.NoError(t, s.Disable())
	assert.False(t, s.Enabled())
	assert.NoError(t, s.SetCapLen(256))
}

func TestGroupMembershipMirror(t *testing.T) {
	s := sock.Open(group.PolicyShared, 0)
	s.JoinGroup(0)
	s.JoinGroup(1)
	assert.Equal(t, []int{0, 1}, s.Groups())
	s.LeaveGroup(1)
	assert.Equal(t, []int{0}, s.Groups())
	assert.Equal(t, 0, s.GroupID())
}

func TestBindUnbind(t *testing.T) {
	s := sock.Open(group.PolicyShared, 0)
	require.NoError(t, s.Bind("eth0"))
	assert.Contains(t, s.BoundDevices(), "eth0")
	require.NoError(t, s.Unbind("eth0"))
	assert.NotContains(t, s.BoundDevices(), "eth0")
}

func TestBindTxUnknownInterfaceFails(t *testing.T) {
	s := sock.Open(group.PolicyShared, 0)
	err := s.BindTx("no-such-if-0", -1)
	assert.ErrorIs(t, err, pfqerr.ErrNotFound)
}

func TestEgressBindUnknownInterfaceFails(t *testing.T) {
	s := sock.Open(group.PolicyShared, 0)
	err := s.EgressBind("no-such-if-0", 0)
	assert.ErrorIs(t, err, pfqerr.ErrNotFound)
}

func TestEgressUnbindClearsTarget(t *testing.T) {
	s := sock.Open(group.PolicyShared, 0)
	require.NoError(t, s.EgressBind("lo", 0))
	require.NoError(t, s.EgressUnbind())
}

func TestTxQueueFlushRequiresEnableAndBindTx(t *testing.T) {
	s := sock.Open(group.PolicyShared, 0)
	x := &fakeXmitter{}

	_, err := s.TxQueueFlush(0, x)
	assert.ErrorIs(t, err, pfqerr.ErrNotEnabled)

	require.NoError(t, s.SetTxSlots(64))
	require.NoError(t, s.Enable())
	defer s.Disable()

	_, err = s.TxQueueFlush(0, x)
	assert.ErrorIs(t, err, pfqerr.ErrInvalid) // no BindTx yet
}

func TestTxQueueFlushDrainsWrittenFrames(t *testing.T) {
	s := sock.Open(group.PolicyShared, 0)
	require.NoError(t, s.BindTx("lo", -1))
	require.NoError(t, s.SetTxSlots(64))
	require.NoError(t, s.Enable())
	defer s.Disable()

	tr := s.TxRing()
	require.NoError(t, tr.Write(ring.TxHeader{}, []byte("hello")))
	tr.Flush()

	x := &fakeXmitter{}
	res, err := s.TxQueueFlush(0, x)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, x.sent)
}

func TestTxQueueFlushRejectsUnknownQueueIndex(t *testing.T) {
	s := sock.Open(group.PolicyShared, 0)
	require.NoError(t, s.BindTx("lo", -1))
	require.NoError(t, s.SetTxSlots(64))
	require.NoError(t, s.Enable())
	defer s.Disable()

	_, err := s.TxQueueFlush(1, &fakeXmitter{})
	assert.ErrorIs(t, err, pfqerr.ErrInvalid)
}
