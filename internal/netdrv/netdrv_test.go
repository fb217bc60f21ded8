package netdrv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfq-io/pfq-go/internal/netdrv"
	"github.com/pfq-io/pfq-go/ring"
)

func TestRingSinkPublishesIntoRing(t *testing.T) {
	r, err := ring.NewRxRing(8, 128)
	require.NoError(t, err)
	defer r.Close()

	sink := &netdrv.RingSink{Ring: r, Gid: 3, IfIndex: 2}
	ok := sink.PublishFrame(netdrv.Frame{Data: []byte("hello"), HwQueue: 1})
	assert.True(t, ok)

	hdrs := r.Poll(1)
	require.Len(t, hdrs, 1)
	assert.Equal(t, uint16(5), hdrs[0].Len)
	assert.Equal(t, uint16(3), hdrs[0].Gid)
	assert.Equal(t, int32(2), hdrs[0].IfIndex)
	assert.Equal(t, "hello", string(r.Payload(0, hdrs[0].CapLen)))
}

type fakeDriver struct {
	sent [][]byte
}

func (f *fakeDriver) Send(queue int, payload []byte) (bool, error) {
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return true, nil
}

func TestDriverTransmitterDelegatesToDriverSend(t *testing.T) {
	fd := &fakeDriver{}
	tr := &netdrv.DriverTransmitter{Driver: driverSendOnly{fd}}
	ok, err := tr.Xmit("eth0", 0, []byte("abc"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, [][]byte{[]byte("abc")}, fd.sent)
}

// driverSendOnly satisfies netdrv.Driver for tests that only exercise Send.
type driverSendOnly struct{ *fakeDriver }

func (driverSendOnly) Run(_ context.Context, _ netdrv.Sink) error { return nil }
func (driverSendOnly) Close() error                               { return nil }
