// Package traffic moves constant-speed vehicles along a corridor of
// consecutive lanes and turns their motion into the scheduled lane
// notifications and detector crossings that drive the detectors.
package traffic

import (
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/banshee-data/lanedetect/internal/network"
)

// Corridor is an ordered sequence of lanes where each lane starts where the
// previous one ends.
type Corridor struct {
	lanes   []*network.Lane
	offsets []float64
	index   map[string]int
	lengthM float64
}

// NewCorridor resolves laneIDs in driving order.
func NewCorridor(net *network.Network, laneIDs ...string) (*Corridor, error) {
	if len(laneIDs) == 0 {
		return nil, fmt.Errorf("corridor needs at least one lane")
	}
	if dups := lo.FindDuplicates(laneIDs); len(dups) > 0 {
		return nil, fmt.Errorf("corridor repeats lanes %v", dups)
	}
	c := &Corridor{index: make(map[string]int, len(laneIDs))}
	for i, id := range laneIDs {
		l, err := net.Lane(id)
		if err != nil {
			return nil, fmt.Errorf("corridor: %w", err)
		}
		c.lanes = append(c.lanes, l)
		c.offsets = append(c.offsets, c.lengthM)
		c.index[id] = i
		c.lengthM += l.LengthM()
	}
	return c, nil
}

// LengthM is the total corridor length.
func (c *Corridor) LengthM() float64 { return c.lengthM }

// Lanes returns the lanes in driving order.
func (c *Corridor) Lanes() []*network.Lane { return slices.Clone(c.lanes) }

// Offset returns the distance from the corridor start to the start of
// laneID.
func (c *Corridor) Offset(laneID string) (float64, bool) {
	i, ok := c.index[laneID]
	if !ok {
		return 0, false
	}
	return c.offsets[i], true
}
