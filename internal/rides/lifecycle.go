package rides

import (
	"math"
	"strings"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

// The lifecycle engine. Every transition is a pure function over a ride
// value: it validates the proposed change against the current status and
// the acting party, and returns the mutated copy or a typed rejection.
// Nothing here touches storage; the store's compare-and-set decides races.

// RideRequest is the input for creating a new pending ride.
type RideRequest struct {
	Pickup         models.Place
	Dropoff        models.Place
	PassengerCount int
	Category       models.Category
}

// ValidateRequest checks a ride request before anything is persisted.
// Coordinates must be finite; whether they point anywhere meaningful is
// the geocoder's problem, not ours.
func ValidateRequest(req RideRequest) error {
	if strings.TrimSpace(req.Pickup.Label) == "" {
		return &ValidationError{Field: "pickup_location", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.Dropoff.Label) == "" {
		return &ValidationError{Field: "dropoff_location", Reason: "must not be empty"}
	}
	if !finite(req.Pickup.Coord) {
		return &ValidationError{Field: "pickup_coordinates", Reason: "must be finite numbers"}
	}
	if !finite(req.Dropoff.Coord) {
		return &ValidationError{Field: "dropoff_coordinates", Reason: "must be finite numbers"}
	}
	if req.PassengerCount < 1 {
		return &ValidationError{Field: "passenger_count", Reason: "must be a positive integer"}
	}
	if !models.ValidCategory(req.Category) {
		return &ValidationError{Field: "ride_category", Reason: "unknown category"}
	}
	return nil
}

// NewRide builds the pending ride a validated request produces.
func NewRide(id, riderID string, req RideRequest, now time.Time) *models.Ride {
	return &models.Ride{
		ID:             id,
		RiderID:        riderID,
		Pickup:         req.Pickup,
		Dropoff:        req.Dropoff,
		PassengerCount: req.PassengerCount,
		Category:       req.Category,
		Status:         models.StatusPending,
		CreatedAt:      now,
	}
}

// Accept assigns a driver to a pending ride.
func Accept(r models.Ride, driverID string, now time.Time) (models.Ride, error) {
	if r.Status != models.StatusPending {
		return models.Ride{}, ErrRideUnavailable
	}
	r.Status = models.StatusAccepted
	r.DriverID = driverID
	r.AcceptedAt = &now
	return r, nil
}

// End lets the owning rider finish a ride early. The source app treats
// ending a not-yet-accepted ride and ending an accepted one identically,
// so both land in completed.
func End(r models.Ride, riderID string, now time.Time) (models.Ride, error) {
	if r.RiderID != riderID {
		return models.Ride{}, ErrNotAuthorized
	}
	if !r.Status.Active() {
		return models.Ride{}, &InvalidStateError{Event: "end", Status: r.Status}
	}
	r.Status = models.StatusCompleted
	r.CompletedAt = &now
	return r, nil
}

// Complete lets the assigned driver finish an accepted ride.
func Complete(r models.Ride, driverID string, now time.Time) (models.Ride, error) {
	if r.Status != models.StatusAccepted {
		return models.Ride{}, &InvalidStateError{Event: "complete", Status: r.Status}
	}
	if r.DriverID != driverID {
		return models.Ride{}, ErrNotAuthorized
	}
	r.Status = models.StatusCompleted
	r.CompletedAt = &now
	return r, nil
}

// AddReview records the rider's one-shot rating on a completed ride.
func AddReview(r models.Ride, riderID string, rating int, review string) (models.Ride, error) {
	if rating < 1 || rating > 5 {
		return models.Ride{}, &ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}
	if r.RiderID != riderID {
		return models.Ride{}, ErrNotAuthorized
	}
	if r.Status != models.StatusCompleted {
		return models.Ride{}, &InvalidStateError{Event: "review", Status: r.Status}
	}
	if r.Rating != 0 {
		return models.Ride{}, &InvalidStateError{Event: "review again", Status: r.Status}
	}
	r.Rating = rating
	r.Review = review
	return r, nil
}

func finite(c models.Coord) bool {
	for _, v := range []float64{c.Lon, c.Lat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
