package rides

import (
	"errors"
	"fmt"

	"github.com/example/ride-hailing/internal/models"
)

var (
	// ErrDuplicateActiveRide means the actor already has a ride in flight:
	// a rider with a pending/accepted ride, or a driver with an accepted one.
	ErrDuplicateActiveRide = errors.New("an active ride already exists")

	// ErrNotAuthorized means the actor neither owns nor is assigned to the ride.
	ErrNotAuthorized = errors.New("not authorized for this ride")

	// ErrRideUnavailable means the ride was taken or changed between read
	// and write; callers may re-list and try another ride.
	ErrRideUnavailable = errors.New("ride is no longer available")

	ErrRideNotFound = errors.New("ride not found")
)

// ValidationError reports malformed input on a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidStateError reports a transition that is not legal from the
// ride's current status.
type InvalidStateError struct {
	Event  string
	Status models.Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s a ride in status %q", e.Event, e.Status)
}
