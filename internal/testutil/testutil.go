// Package testutil provides shared test utilities and fixtures.
//
// The fixtures stand in for the simulation collaborators the detectors
// consume: a manually set clock and GTUs whose lane positions are assigned
// directly instead of being integrated from kinematics.
package testutil

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/banshee-data/lanedetect/internal/network"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertClose fails the test if got and want differ by more than tol.
func AssertClose(t *testing.T, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol || math.IsNaN(got) != math.IsNaN(want) {
		t.Errorf("got %v, want %v (±%v)", got, want, tol)
	}
}

// Clock is a sim.Clock set by hand.
type Clock struct {
	T time.Duration
}

// Now returns the current time.
func (c *Clock) Now() time.Duration { return c.T }

// Set moves the clock to t.
func (c *Clock) Set(t time.Duration) { c.T = t }

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.T += d }

// GTU is a network.GTU with directly assigned lane positions.
type GTU struct {
	IDValue    string
	TypeValue  string
	Speed      float64
	LengthM    float64
	Positions  map[string]map[network.RelativePosition]float64
	Destroyed  int
	DestroyErr error
}

// NewGTU creates a CAR of 4m travelling at speedMPS.
func NewGTU(id string, speedMPS float64) *GTU {
	return &GTU{
		IDValue:   id,
		TypeValue: "CAR",
		Speed:     speedMPS,
		LengthM:   4,
		Positions: make(map[string]map[network.RelativePosition]float64),
	}
}

// At places the GTU front at frontM on laneID. Rear and centre follow from
// the GTU length; the reference point coincides with the centre.
func (g *GTU) At(laneID string, frontM float64) *GTU {
	rear := frontM - g.LengthM
	g.Positions[laneID] = map[network.RelativePosition]float64{
		network.Front:     frontM,
		network.Rear:      rear,
		network.Center:    frontM - g.LengthM/2,
		network.Reference: frontM - g.LengthM/2,
	}
	return g
}

// Off removes the GTU from laneID.
func (g *GTU) Off(laneID string) *GTU {
	delete(g.Positions, laneID)
	return g
}

func (g *GTU) ID() string        { return g.IDValue }
func (g *GTU) Type() string      { return g.TypeValue }
func (g *GTU) SpeedMPS() float64 { return g.Speed }

// PositionOn implements network.GTU.
func (g *GTU) PositionOn(laneID string, ref network.RelativePosition) (float64, error) {
	refs, ok := g.Positions[laneID]
	if !ok {
		return 0, fmt.Errorf("gtu %s, lane %s: %w", g.IDValue, laneID, network.ErrNotOnLane)
	}
	return refs[ref], nil
}

// Destroy counts the call and returns DestroyErr.
func (g *GTU) Destroy() error {
	g.Destroyed++
	return g.DestroyErr
}
