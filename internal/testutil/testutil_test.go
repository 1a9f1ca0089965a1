package testutil

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lanedetect/internal/network"
)

var _ network.GTU = (*GTU)(nil)

func TestClock(t *testing.T) {
	c := &Clock{}
	c.Set(time.Second)
	c.Advance(500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, c.Now())
}

func TestGTUPositions(t *testing.T) {
	g := NewGTU("g1", 12).At("L1", 30)

	front, err := g.PositionOn("L1", network.Front)
	require.NoError(t, err)
	assert.Equal(t, 30.0, front)

	rear, err := g.PositionOn("L1", network.Rear)
	require.NoError(t, err)
	assert.Equal(t, 26.0, rear)

	g.Off("L1")
	_, err = g.PositionOn("L1", network.Front)
	assert.ErrorIs(t, err, network.ErrNotOnLane)
}

func TestGTUDestroy(t *testing.T) {
	g := NewGTU("g1", 12)
	require.NoError(t, g.Destroy())
	g.DestroyErr = errors.New("still referenced")
	assert.Error(t, g.Destroy())
	assert.Equal(t, 2, g.Destroyed)
}

func TestAssertHelpers(t *testing.T) {
	AssertNoError(t, nil)
	AssertError(t, errors.New("x"))
	AssertClose(t, 0.0833, 5.0/60, 1e-3)
}
