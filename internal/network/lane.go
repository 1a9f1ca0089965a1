package network

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrDuplicateDetector is returned when a detector id is registered twice on a lane.
var ErrDuplicateDetector = errors.New("duplicate detector")

// EventKind distinguishes lane membership notifications.
type EventKind int

const (
	GTUEntered EventKind = iota
	GTULeft
)

func (k EventKind) String() string {
	if k == GTUEntered {
		return "GTU_ENTERED"
	}
	return "GTU_LEFT"
}

// LaneEvent is published when a GTU is added to or removed from a lane,
// longitudinally or by a lane change.
type LaneEvent struct {
	Kind   EventKind
	GTUID  string
	LaneID string
	LinkID string
	Time   time.Duration
}

// LaneListener receives lane membership notifications.
type LaneListener interface {
	OnLaneEvent(ev LaneEvent) error
}

// Lane is a node of the network arena. It owns the ordered set of detectors
// placed on it and an ordered list of listeners.
type Lane struct {
	id      string
	linkID  string
	lengthM float64

	detectors []Detector
	listeners []LaneListener
}

func (l *Lane) ID() string       { return l.id }
func (l *Lane) LinkID() string   { return l.linkID }
func (l *Lane) LengthM() float64 { return l.lengthM }
func (l *Lane) String() string   { return fmt.Sprintf("Lane[%s/%s %.1fm]", l.linkID, l.id, l.lengthM) }

// Contains reports whether pos lies within the lane bounds.
func (l *Lane) Contains(pos float64) bool { return pos >= 0 && pos <= l.lengthM }

// RegisterDetector inserts d in position order. Detectors are registered
// during network construction only.
func (l *Lane) RegisterDetector(d Detector) error {
	if d.LaneID() != l.id {
		return fmt.Errorf("detector %s belongs to lane %s, not %s", d.ID(), d.LaneID(), l.id)
	}
	if l.HasDetector(d.ID()) {
		return fmt.Errorf("detector %s on lane %s: %w", d.ID(), l.id, ErrDuplicateDetector)
	}
	i, _ := slices.BinarySearchFunc(l.detectors, d, CompareDetectors)
	l.detectors = slices.Insert(l.detectors, i, d)
	return nil
}

// HasDetector reports whether a detector with id is registered on the lane.
func (l *Lane) HasDetector(id string) bool {
	return slices.ContainsFunc(l.detectors, func(d Detector) bool { return d.ID() == id })
}

// Detectors returns the registered detectors in order.
func (l *Lane) Detectors() []Detector {
	return slices.Clone(l.detectors)
}

// AddListener subscribes ln to membership events. Listeners are notified in
// registration order.
func (l *Lane) AddListener(ln LaneListener) {
	l.listeners = append(l.listeners, ln)
}

// RemoveListener unsubscribes ln. It reports whether ln was subscribed.
func (l *Lane) RemoveListener(ln LaneListener) bool {
	i := slices.Index(l.listeners, ln)
	if i < 0 {
		return false
	}
	l.listeners = slices.Delete(l.listeners, i, i+1)
	return true
}

// NotifyEntered publishes a GTUEntered event.
func (l *Lane) NotifyEntered(gtuID string, now time.Duration) error {
	return l.publish(LaneEvent{Kind: GTUEntered, GTUID: gtuID, LaneID: l.id, LinkID: l.linkID, Time: now})
}

// NotifyLeft publishes a GTULeft event.
func (l *Lane) NotifyLeft(gtuID string, now time.Duration) error {
	return l.publish(LaneEvent{Kind: GTULeft, GTUID: gtuID, LaneID: l.id, LinkID: l.linkID, Time: now})
}

// publish delivers ev to every listener even when one fails; the failures
// are joined and returned to the publisher.
func (l *Lane) publish(ev LaneEvent) error {
	var errs []error
	for _, ln := range slices.Clone(l.listeners) {
		if err := ln.OnLaneEvent(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
