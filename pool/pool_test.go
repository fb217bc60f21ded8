package pool

import (
	"testing"

	"github.com/pfq-io/pfq-go/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopAdvancesIndices(t *testing.T) {
	p := New(4, 0, stats.NewPool())
	b := NewBuffer(64)

	ok := p.Push(b)
	require.True(t, ok)

	got := p.Pop()
	require.NotNil(t, got)
	assert.Same(t, b, got)

	// pool empty again
	assert.Nil(t, p.Pop())
}

func TestPushIntoFullPoolReleasesBuffer(t *testing.T) {
	st := stats.NewPool()
	p := New(2, 0, st) // usable capacity is size-1 for a ring with wraparound guard
	require.True(t, p.Push(NewBuffer(8)))
	// second push should fill the ring to capacity (next==c).
	ok := p.Push(NewBuffer(8))
	assert.False(t, ok)
	assert.Equal(t, uint64(1), st.OSFree.Sum())
}

func TestPopRejectsHighRefcount(t *testing.T) {
	p := New(4, 0, stats.NewPool())
	b := NewBuffer(8)
	b.Get() // refcount now 2: still held elsewhere (e.g. by a driver)
	require.True(t, p.Push(b))

	assert.Nil(t, p.Pop())
}

func TestSetEnabledFalseFlushes(t *testing.T) {
	st := stats.NewPool()
	p := New(4, 0, st)
	require.True(t, p.Push(NewBuffer(8)))
	require.True(t, p.Push(NewBuffer(8)))

	p.SetEnabled(false)
	assert.False(t, p.Enabled())
	assert.Nil(t, p.Pop())
	assert.True(t, st.OSFree.Sum() >= 2)
}
