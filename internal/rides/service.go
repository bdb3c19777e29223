package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-hailing/internal/events"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/storage"
)

// Publisher pushes lifecycle events onto the event stream. Publishing is
// best-effort: a broker outage must not fail the ride operation itself.
type Publisher interface {
	Publish(ctx context.Context, evt events.RideEvent) error
}

// Announcer tells connected drivers that a new ride is up for grabs.
type Announcer interface {
	RideRequested(r models.Ride)
}

// Service orchestrates the lifecycle engine against the store and is the
// only layer that translates storage errors into the caller-facing ones.
type Service struct {
	Store    storage.RideStore
	Events   Publisher // optional
	Announce Announcer // optional
	Logger   *slog.Logger

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// RequestRide creates a pending ride for the rider. The pre-check against
// an existing active ride gives a friendly error on the common path; the
// store's uniqueness guarantee closes the race between two simultaneous
// requests from the same rider.
func (s *Service) RequestRide(ctx context.Context, riderID string, req RideRequest) (*models.Ride, error) {
	if req.PassengerCount == 0 {
		req.PassengerCount = 1
	}
	if req.Category == "" {
		req.Category = models.CategoryPersonal
	}
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	active, err := s.Store.ActiveRideForRider(ctx, riderID)
	if err != nil {
		return nil, fmt.Errorf("checking active ride: %w", err)
	}
	if active != nil {
		return nil, ErrDuplicateActiveRide
	}

	r := NewRide(s.newID(), riderID, req, s.now())
	if err := s.Store.CreateRide(ctx, r); err != nil {
		if errors.Is(err, storage.ErrActiveRideExists) {
			return nil, ErrDuplicateActiveRide
		}
		return nil, fmt.Errorf("creating ride: %w", err)
	}

	observability.RidesRequested.Inc()
	s.publish(ctx, events.RideEvent{Type: events.TypeRideRequested, RideID: r.ID, RiderID: r.RiderID, Status: string(r.Status), OccurredAt: r.CreatedAt})
	if s.Announce != nil {
		s.Announce.RideRequested(*r)
	}
	return r, nil
}

// AcceptRide assigns the ride to the driver. The store's row lock plus
// the expected-status check guarantee at most one winner among concurrent
// accepts; everyone else gets ErrRideUnavailable.
func (s *Service) AcceptRide(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	busy, err := s.Store.ActiveRideForDriver(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("checking driver's active ride: %w", err)
	}
	if busy != nil {
		return nil, ErrDuplicateActiveRide
	}

	now := s.now()
	r, err := s.Store.Transition(ctx, rideID, models.StatusPending, func(cur *models.Ride) error {
		next, err := Accept(*cur, driverID, now)
		if err != nil {
			return err
		}
		*cur = next
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrRideNotFound
		case errors.Is(err, storage.ErrStaleState):
			observability.AcceptConflicts.Inc()
			return nil, ErrRideUnavailable
		case errors.Is(err, storage.ErrActiveRideExists):
			return nil, ErrDuplicateActiveRide
		case isDomainError(err):
			return nil, err
		}
		return nil, fmt.Errorf("accepting ride: %w", err)
	}

	observability.RidesAccepted.Inc()
	s.publish(ctx, events.RideEvent{Type: events.TypeRideAccepted, RideID: r.ID, RiderID: r.RiderID, DriverID: r.DriverID, Status: string(r.Status), OccurredAt: now})
	return r, nil
}

// EndRide lets the owning rider finish (or cancel, pre-acceptance) a ride.
func (s *Service) EndRide(ctx context.Context, riderID, rideID string) (*models.Ride, error) {
	cur, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRideNotFound
		}
		return nil, fmt.Errorf("loading ride: %w", err)
	}

	now := s.now()
	r, err := s.Store.Transition(ctx, rideID, cur.Status, func(c *models.Ride) error {
		next, err := End(*c, riderID, now)
		if err != nil {
			return err
		}
		*c = next
		return nil
	})
	if err != nil {
		return nil, s.mapTransitionErr(err, "ending ride")
	}

	observability.RidesCompleted.Inc()
	s.publish(ctx, events.RideEvent{Type: events.TypeRideCompleted, RideID: r.ID, RiderID: r.RiderID, DriverID: r.DriverID, Status: string(r.Status), OccurredAt: now})
	return r, nil
}

// CompleteRide lets the assigned driver finish an accepted ride.
func (s *Service) CompleteRide(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	now := s.now()
	r, err := s.Store.Transition(ctx, rideID, models.StatusAccepted, func(cur *models.Ride) error {
		next, err := Complete(*cur, driverID, now)
		if err != nil {
			return err
		}
		*cur = next
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return nil, &InvalidStateError{Event: "complete", Status: statusOf(ctx, s, rideID)}
		}
		return nil, s.mapTransitionErr(err, "completing ride")
	}

	observability.RidesCompleted.Inc()
	s.publish(ctx, events.RideEvent{Type: events.TypeRideCompleted, RideID: r.ID, RiderID: r.RiderID, DriverID: r.DriverID, Status: string(r.Status), OccurredAt: now})
	return r, nil
}

// SubmitReview records the rider's one-time rating on a completed ride.
func (s *Service) SubmitReview(ctx context.Context, riderID, rideID string, rating int, review string) (*models.Ride, error) {
	r, err := s.Store.Transition(ctx, rideID, models.StatusCompleted, func(cur *models.Ride) error {
		next, err := AddReview(*cur, riderID, rating, review)
		if err != nil {
			return err
		}
		*cur = next
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return nil, &InvalidStateError{Event: "review", Status: statusOf(ctx, s, rideID)}
		}
		return nil, s.mapTransitionErr(err, "reviewing ride")
	}

	s.publish(ctx, events.RideEvent{Type: events.TypeRideReviewed, RideID: r.ID, RiderID: r.RiderID, DriverID: r.DriverID, Status: string(r.Status), OccurredAt: s.now()})
	return r, nil
}

// ClearHistory archives the rider's completed rides. Zero archived rides
// is a normal outcome, not an error.
func (s *Service) ClearHistory(ctx context.Context, riderID string) (int, error) {
	n, err := s.Store.ArchiveCompleted(ctx, riderID)
	if err != nil {
		return 0, fmt.Errorf("archiving rides: %w", err)
	}
	if n > 0 {
		observability.RidesArchived.Add(float64(n))
		s.publish(ctx, events.RideEvent{Type: events.TypeHistoryCleared, RiderID: riderID, OccurredAt: s.now()})
	}
	return n, nil
}

// TriggerPanic builds an emergency alert from the rider's ride and hands
// it to the event stream; the notifier process does the actual delivery.
func (s *Service) TriggerPanic(ctx context.Context, riderID, rideID, contactEmail string) (*events.PanicAlert, error) {
	if !validEmail(contactEmail) {
		return nil, &ValidationError{Field: "emergency_email", Reason: "must be a valid email address"}
	}
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRideNotFound
		}
		return nil, fmt.Errorf("loading ride: %w", err)
	}
	if r.RiderID != riderID {
		return nil, ErrNotAuthorized
	}

	now := s.now()
	alert := &events.PanicAlert{
		ContactEmail: contactEmail,
		PickupLabel:  r.Pickup.Label,
		DropoffLabel: r.Dropoff.Label,
		DriverID:     r.DriverID,
		Elapsed:      now.Sub(r.CreatedAt).Round(time.Minute).String(),
	}
	observability.PanicAlerts.Inc()
	s.publish(ctx, events.RideEvent{Type: events.TypePanicAlert, RideID: r.ID, RiderID: r.RiderID, DriverID: r.DriverID, Status: string(r.Status), OccurredAt: now, Alert: alert})
	return alert, nil
}

// ActiveRide returns the rider's in-flight ride, or ErrRideNotFound.
func (s *Service) ActiveRide(ctx context.Context, riderID string) (*models.Ride, error) {
	r, err := s.Store.ActiveRideForRider(ctx, riderID)
	if err != nil {
		return nil, fmt.Errorf("loading active ride: %w", err)
	}
	if r == nil {
		return nil, ErrRideNotFound
	}
	return r, nil
}

// DriverActiveRide returns the driver's accepted ride, or ErrRideNotFound.
func (s *Service) DriverActiveRide(ctx context.Context, driverID string) (*models.Ride, error) {
	r, err := s.Store.ActiveRideForDriver(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("loading driver's active ride: %w", err)
	}
	if r == nil {
		return nil, ErrRideNotFound
	}
	return r, nil
}

func (s *Service) History(ctx context.Context, riderID string) ([]models.Ride, error) {
	return s.Store.ListHistory(ctx, riderID)
}

func (s *Service) AvailableRides(ctx context.Context) ([]models.Ride, error) {
	return s.Store.ListAvailable(ctx)
}

// DriverCompletedRides returns the driver's recent finished rides,
// newest completion first.
func (s *Service) DriverCompletedRides(ctx context.Context, driverID string) ([]models.Ride, error) {
	return s.Store.ListDriverCompleted(ctx, driverID)
}

// mapTransitionErr converts store-level failures into the caller taxonomy.
// Domain errors raised inside the mutation pass through untouched.
func (s *Service) mapTransitionErr(err error, op string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrRideNotFound
	case errors.Is(err, storage.ErrStaleState):
		return ErrRideUnavailable
	case errors.Is(err, storage.ErrActiveRideExists):
		return ErrDuplicateActiveRide
	case isDomainError(err):
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isDomainError(err error) bool {
	var ve *ValidationError
	var ise *InvalidStateError
	return errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrRideUnavailable) ||
		errors.Is(err, ErrDuplicateActiveRide) ||
		errors.As(err, &ve) ||
		errors.As(err, &ise)
}

// statusOf re-reads a ride's status for error reporting after a stale
// transition; falls back to empty when the ride vanished.
func statusOf(ctx context.Context, s *Service, rideID string) models.Status {
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return ""
	}
	return r.Status
}

func (s *Service) publish(ctx context.Context, evt events.RideEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, evt); err != nil && s.Logger != nil {
		s.Logger.Warn("event publish failed", "type", evt.Type, "ride_id", evt.RideID, "error", err)
	}
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func validEmail(addr string) bool {
	return emailRe.MatchString(addr)
}
