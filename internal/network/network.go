// Package network is the lane arena shared by detectors and the motion
// collaborator. Lanes are addressed by id; detectors and GTUs hold ids, not
// pointers into the arena.
package network

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"
)

var (
	// ErrUnknownLane is returned when a lane id is not in the arena.
	ErrUnknownLane = errors.New("unknown lane")
	// ErrUnknownGTU is returned when a GTU id is not registered.
	ErrUnknownGTU = errors.New("unknown gtu")
)

// Network holds lanes, live GTUs and named objects such as detectors.
type Network struct {
	id        string
	lanes     map[string]*Lane
	laneOrder []string
	gtus      map[string]GTU
	objects   map[string]any
}

// New creates an empty network.
func New(id string) *Network {
	return &Network{
		id:      id,
		lanes:   make(map[string]*Lane),
		gtus:    make(map[string]GTU),
		objects: make(map[string]any),
	}
}

func (n *Network) ID() string { return n.id }

// AddLane creates a lane of the given length on link linkID.
func (n *Network) AddLane(id, linkID string, lengthM float64) (*Lane, error) {
	if id == "" {
		return nil, errors.New("lane id is required")
	}
	if _, ok := n.lanes[id]; ok {
		return nil, fmt.Errorf("lane %s already exists", id)
	}
	if !(lengthM > 0) {
		return nil, fmt.Errorf("lane %s: length must be positive, got %v", id, lengthM)
	}
	l := &Lane{id: id, linkID: linkID, lengthM: lengthM}
	n.lanes[id] = l
	n.laneOrder = append(n.laneOrder, id)
	return l, nil
}

// Lane resolves a lane handle.
func (n *Network) Lane(id string) (*Lane, error) {
	l, ok := n.lanes[id]
	if !ok {
		return nil, fmt.Errorf("lane %q: %w", id, ErrUnknownLane)
	}
	return l, nil
}

// Lanes returns all lanes in creation order.
func (n *Network) Lanes() []*Lane {
	return lo.Map(n.laneOrder, func(id string, _ int) *Lane { return n.lanes[id] })
}

// AddGTU makes g visible to id lookups.
func (n *Network) AddGTU(g GTU) error {
	if _, ok := n.gtus[g.ID()]; ok {
		return fmt.Errorf("gtu %s already in network", g.ID())
	}
	n.gtus[g.ID()] = g
	return nil
}

// RemoveGTU drops a GTU from the lookup. It reports whether it was present.
func (n *Network) RemoveGTU(id string) bool {
	_, ok := n.gtus[id]
	delete(n.gtus, id)
	return ok
}

// GTU looks up a live GTU by id.
func (n *Network) GTU(id string) (GTU, error) {
	g, ok := n.gtus[id]
	if !ok {
		return nil, fmt.Errorf("gtu %q: %w", id, ErrUnknownGTU)
	}
	return g, nil
}

// GTUCount returns the number of live GTUs.
func (n *Network) GTUCount() int {
	return len(n.gtus)
}

// RegisterObject stores obj under id. Ids are unique across object kinds.
func (n *Network) RegisterObject(id string, obj any) error {
	if _, ok := n.objects[id]; ok {
		return fmt.Errorf("object %s already registered", id)
	}
	n.objects[id] = obj
	return nil
}

// Object looks up a registered object.
func (n *Network) Object(id string) (any, bool) {
	obj, ok := n.objects[id]
	return obj, ok
}

// ObjectsOf returns the registered objects of type T sorted by id.
func ObjectsOf[T any](n *Network) []T {
	ids := lo.Keys(n.objects)
	slices.Sort(ids)
	var out []T
	for _, id := range ids {
		if obj, ok := n.objects[id].(T); ok {
			out = append(out, obj)
		}
	}
	return out
}
