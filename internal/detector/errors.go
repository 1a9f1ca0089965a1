package detector

import "errors"

var (
	// ErrConfiguration marks a detector that cannot be built from its parameters.
	ErrConfiguration = errors.New("detector configuration error")
	// ErrGeometry marks a detector placed outside its lane or on an empty path.
	ErrGeometry = errors.New("detector geometry error")
	// ErrEmptyHistory is returned when aggregates are queried before the first tick.
	ErrEmptyHistory = errors.New("no aggregation period completed")
	// ErrInvariant marks an internal defect such as a notification from a
	// lane the detector never subscribed to.
	ErrInvariant = errors.New("detector invariant violated")
)
