package storage

import (
	"context"
	"errors"

	"github.com/example/ride-hailing/internal/models"
)

// DriverCompletedLimit caps a driver's completed-rides listing.
const DriverCompletedLimit = 10

var (
	ErrNotFound = errors.New("ride not found")

	// ErrStaleState means the ride's status no longer matched the expected
	// value when the transition was applied — somebody else won the race.
	ErrStaleState = errors.New("ride status changed concurrently")

	// ErrActiveRideExists is returned when a write would give a rider a
	// second pending/accepted ride or a driver a second accepted one.
	ErrActiveRideExists = errors.New("active ride already exists")
)

// RideStore is the persistence boundary for rides. Implementations must
// make Transition atomic per ride: of any set of concurrent calls against
// the same ride id with the same expected status, at most one may succeed.
type RideStore interface {
	// CreateRide persists a new pending ride. Fails with
	// ErrActiveRideExists if the rider already has one in flight.
	CreateRide(ctx context.Context, r *models.Ride) error

	GetRide(ctx context.Context, id string) (*models.Ride, error)

	// ActiveRideForRider returns the rider's pending/accepted ride, or
	// (nil, nil) when there is none.
	ActiveRideForRider(ctx context.Context, riderID string) (*models.Ride, error)

	// ActiveRideForDriver returns the driver's accepted ride, or (nil, nil).
	ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error)

	// ListHistory returns the rider's rides newest first, excluding archived.
	ListHistory(ctx context.Context, riderID string) ([]models.Ride, error)

	// ListAvailable returns all pending rides, newest first.
	ListAvailable(ctx context.Context) ([]models.Ride, error)

	// ListDriverCompleted returns the driver's completed rides, most
	// recently completed first, capped at DriverCompletedLimit.
	ListDriverCompleted(ctx context.Context, driverID string) ([]models.Ride, error)

	// Transition locks the ride row, checks its status against expected,
	// applies mutate to the loaded value and writes it back, all in one
	// transaction. Returns ErrStaleState when the status check fails and
	// ErrNotFound when the ride does not exist. Any error from mutate
	// rolls the transaction back and is returned unchanged.
	Transition(ctx context.Context, id string, expected models.Status, mutate func(*models.Ride) error) (*models.Ride, error)

	// ArchiveCompleted soft-deletes the rider's completed rides from
	// history. Idempotent; returns the number of rides archived.
	ArchiveCompleted(ctx context.Context, riderID string) (int, error)
}
