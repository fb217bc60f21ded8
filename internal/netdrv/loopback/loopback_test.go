package loopback_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfq-io/pfq-go/internal/netdrv"
	"github.com/pfq-io/pfq-go/internal/netdrv/loopback"
)

type recordingSink struct{ frames []netdrv.Frame }

func (s *recordingSink) PublishFrame(f netdrv.Frame) bool {
	s.frames = append(s.frames, f)
	return true
}

func TestFixedGeneratorReplaysEachFrameOnce(t *testing.T) {
	frames := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	d := &loopback.Driver{Gen: loopback.Fixed(frames)}
	sink := &recordingSink{}

	err := d.Run(context.Background(), sink)
	require.NoError(t, err)
	require.Len(t, sink.frames, 3)
	assert.Equal(t, "a", string(sink.frames[0].Data))
	assert.Equal(t, "c", string(sink.frames[2].Data))
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	d := &loopback.Driver{Gen: loopback.Repeat([]byte("x"))}
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Run(ctx, sink)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendRecordsFrames(t *testing.T) {
	d := &loopback.Driver{}
	ok, err := d.Send(0, []byte("payload"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, [][]byte{[]byte("payload")}, d.Sent())
}
