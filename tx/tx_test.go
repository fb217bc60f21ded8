package tx_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfq-io/pfq-go/ring"
	"github.com/pfq-io/pfq-go/stats"
	"github.com/pfq-io/pfq-go/tx"
)

type fakeXmitter struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeXmitter) Xmit(dev string, queue int, payload []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), payload...)
	f.sent = append(f.sent, cp)
	return true, nil
}

func (f *fakeXmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestResultEncodeDecodeRoundTrip(t *testing.T) {
	cases := []tx.Result{
		{Sent: 0},
		{Sent: 5},
		{Sent: 5, Interrupted: true},
		{Sent: 0, Interrupted: true},
	}
	for _, c := range cases {
		got := tx.Decode(c.Encode())
		assert.Equal(t, c, got)
	}
}

func TestEngineRunOnceDrainsWrittenFrames(t *testing.T) {
	r, err := ring.NewTxRing(4096)
	require.NoError(t, err)
	defer r.Close()

	now := uint64(time.Now().UnixNano())
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Write(ring.TxHeader{Nsec: now}, []byte("hello")))
	}
	r.Flush()

	x := &fakeXmitter{}
	st := stats.NewRing()
	eng := &tx.Engine{Ring: r, Dev: "eth0", Queue: 0, Xmit: x, Stats: st}

	stop := make(chan struct{})
	res := eng.RunOnce(stop)
	assert.False(t, res.Interrupted)
	assert.Equal(t, 5, res.Sent)
	assert.Equal(t, 5, x.count())
	assert.Equal(t, uint64(5), st.Sent.Sum())
}

func TestEngineRunOnceDrainsMultipleCyclesOnSameRing(t *testing.T) {
	r, err := ring.NewTxRing(4096)
	require.NoError(t, err)
	defer r.Close()

	x := &fakeXmitter{}
	st := stats.NewRing()
	eng := &tx.Engine{Ring: r, Dev: "eth0", Queue: 0, Xmit: x, Stats: st}
	now := uint64(time.Now().UnixNano())

	for cycle := 0; cycle < 3; cycle++ {
		require.NoError(t, r.Write(ring.TxHeader{Nsec: now}, []byte("hello")))
		r.Flush()
		res := eng.RunOnce(nil)
		assert.False(t, res.Interrupted)
		assert.Equal(t, 1, res.Sent, "cycle %d", cycle)
	}
	assert.Equal(t, 3, x.count())
	assert.Equal(t, uint64(3), st.Sent.Sum())
}

func TestEngineRunOnceInterruptedStopsEarly(t *testing.T) {
	r, err := ring.NewTxRing(4096)
	require.NoError(t, err)
	defer r.Close()

	now := uint64(time.Now().UnixNano())
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Write(ring.TxHeader{Nsec: now}, []byte("x")))
	}
	r.Flush()

	stop := make(chan struct{})
	close(stop) // already stopped

	x := &fakeXmitter{}
	eng := &tx.Engine{Ring: r, Dev: "eth0", Queue: 0, Xmit: x}
	res := eng.RunOnce(stop)
	assert.True(t, res.Interrupted)
}
