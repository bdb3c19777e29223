package rides

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-hailing/internal/events"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/storage"
)

type capturedEvents struct {
	mu   sync.Mutex
	evts []events.RideEvent
}

func (c *capturedEvents) Publish(ctx context.Context, evt events.RideEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evts = append(c.evts, evt)
	return nil
}

func (c *capturedEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.evts))
	for i, e := range c.evts {
		out[i] = e.Type
	}
	return out
}

func newTestService() (*Service, *capturedEvents) {
	sink := &capturedEvents{}
	var seq int
	svc := &Service{
		Store:  storage.NewMemoryStore(),
		Events: sink,
		Now:    func() time.Time { return testNow },
		NewID: func() string {
			seq++
			return fmt.Sprintf("ride-%d", seq)
		},
	}
	return svc, sink
}

func TestRequestRide(t *testing.T) {
	svc, sink := newTestService()
	ctx := context.Background()

	r, err := svc.RequestRide(ctx, "rider-1", validRequest())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if r.Status != models.StatusPending {
		t.Fatalf("expected pending, got %s", r.Status)
	}
	if r.DriverID != "" {
		t.Fatalf("new ride must have no driver, got %q", r.DriverID)
	}
	if got := sink.types(); len(got) != 1 || got[0] != events.TypeRideRequested {
		t.Fatalf("expected a ride_requested event, got %v", got)
	}
}

func TestRequestRideDefaults(t *testing.T) {
	svc, _ := newTestService()
	req := validRequest()
	req.PassengerCount = 0
	req.Category = ""
	r, err := svc.RequestRide(context.Background(), "rider-1", req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if r.PassengerCount != 1 || r.Category != models.CategoryPersonal {
		t.Fatalf("defaults not applied: %+v", r)
	}
}

func TestRequestRideDuplicate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.RequestRide(ctx, "rider-1", validRequest()); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if _, err := svc.RequestRide(ctx, "rider-1", validRequest()); !errors.Is(err, ErrDuplicateActiveRide) {
		t.Fatalf("expected ErrDuplicateActiveRide, got %v", err)
	}
	// a different rider is unaffected
	if _, err := svc.RequestRide(ctx, "rider-2", validRequest()); err != nil {
		t.Fatalf("second rider blocked: %v", err)
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	r, err := svc.RequestRide(ctx, "rider-1", validRequest())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	const drivers = 8
	var wg sync.WaitGroup
	results := make([]error, drivers)
	winners := make([]string, drivers)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			driverID := fmt.Sprintf("driver-%d", i)
			accepted, err := svc.AcceptRide(ctx, driverID, r.ID)
			results[i] = err
			if err == nil {
				winners[i] = accepted.DriverID
			}
		}(i)
	}
	wg.Wait()

	var wins int
	var winner string
	for i, err := range results {
		switch {
		case err == nil:
			wins++
			winner = winners[i]
		case errors.Is(err, ErrRideUnavailable):
		default:
			t.Fatalf("driver %d got unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	final, err := svc.Store.GetRide(ctx, r.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if final.DriverID != winner || final.Status != models.StatusAccepted {
		t.Fatalf("final ride driver=%q status=%s, winner=%q", final.DriverID, final.Status, winner)
	}
}

func TestAcceptWithBusyDriver(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	r1, _ := svc.RequestRide(ctx, "rider-1", validRequest())
	r2, _ := svc.RequestRide(ctx, "rider-2", validRequest())
	if _, err := svc.AcceptRide(ctx, "driver-1", r1.ID); err != nil {
		t.Fatalf("first accept failed: %v", err)
	}
	if _, err := svc.AcceptRide(ctx, "driver-1", r2.ID); !errors.Is(err, ErrDuplicateActiveRide) {
		t.Fatalf("expected ErrDuplicateActiveRide, got %v", err)
	}
}

func TestAcceptMissingRide(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.AcceptRide(context.Background(), "driver-1", "no-such-ride"); !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
}

func TestEndRideOwnership(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	r, _ := svc.RequestRide(ctx, "rider-2", validRequest())
	if _, err := svc.EndRide(ctx, "rider-1", r.ID); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	got, err := svc.EndRide(ctx, "rider-2", r.ID)
	if err != nil {
		t.Fatalf("owner could not end: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestEndAcceptedRide(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	r, _ := svc.RequestRide(ctx, "rider-1", validRequest())
	if _, err := svc.AcceptRide(ctx, "driver-1", r.ID); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	got, err := svc.EndRide(ctx, "rider-1", r.ID)
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if got.Status != models.StatusCompleted || got.DriverID != "driver-1" {
		t.Fatalf("unexpected final ride: %+v", got)
	}
}

func TestCompleteRideWrongDriver(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	r, _ := svc.RequestRide(ctx, "rider-1", validRequest())
	if _, err := svc.AcceptRide(ctx, "driver-1", r.ID); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if _, err := svc.CompleteRide(ctx, "driver-2", r.ID); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestSubmitReviewFlow(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	r, _ := svc.RequestRide(ctx, "rider-1", validRequest())
	svcMustAcceptComplete(t, svc, r.ID)

	if _, err := svc.SubmitReview(ctx, "rider-1", r.ID, 6, "too good"); err == nil {
		t.Fatal("expected rating validation error")
	}
	got, err := svc.SubmitReview(ctx, "rider-1", r.ID, 4, "fine")
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}
	if got.Rating != 4 {
		t.Fatalf("rating not stored: %+v", got)
	}
	if _, err := svc.SubmitReview(ctx, "rider-1", r.ID, 5, "again"); err == nil {
		t.Fatal("expected second review to fail")
	}
}

func TestClearHistoryIdempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	r, _ := svc.RequestRide(ctx, "rider-1", validRequest())
	svcMustAcceptComplete(t, svc, r.ID)

	n, err := svc.ClearHistory(ctx, "rider-1")
	if err != nil || n != 1 {
		t.Fatalf("first clear: n=%d err=%v", n, err)
	}
	n, err = svc.ClearHistory(ctx, "rider-1")
	if err != nil || n != 0 {
		t.Fatalf("second clear: n=%d err=%v", n, err)
	}

	history, err := svc.History(ctx, "rider-1")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("archived ride still visible: %v", history)
	}
}

func TestCoordinateRoundTrip(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	req := validRequest()
	req.Pickup.Coord = models.Coord{Lon: -6.26, Lat: 53.35}
	req.Dropoff.Coord = models.Coord{Lon: -6.29, Lat: 53.34}
	r, err := svc.RequestRide(ctx, "rider-1", req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	got, err := svc.ActiveRide(ctx, "rider-1")
	if err != nil {
		t.Fatalf("active ride failed: %v", err)
	}
	if got.Pickup.Coord != r.Pickup.Coord || got.Dropoff.Coord != r.Dropoff.Coord {
		t.Fatalf("coordinates changed in flight: %+v vs %+v", got, r)
	}
	if got.Pickup.Coord.Lon != -6.26 || got.Pickup.Coord.Lat != 53.35 {
		t.Fatalf("axis swap or precision loss: %+v", got.Pickup.Coord)
	}
}

func TestDriverStatusInvariant(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// Run a few full lifecycles and assert the invariant at every step:
	// an accepted ride always has a driver, a pending one never does.
	check := func() {
		t.Helper()
		for _, riderID := range []string{"rider-1", "rider-2"} {
			history, err := svc.History(ctx, riderID)
			if err != nil {
				t.Fatalf("history failed: %v", err)
			}
			for _, r := range history {
				if r.Status == models.StatusAccepted && r.DriverID == "" {
					t.Fatalf("accepted ride without driver: %+v", r)
				}
				if r.Status == models.StatusPending && r.DriverID != "" {
					t.Fatalf("pending ride with driver: %+v", r)
				}
			}
		}
	}

	r1, _ := svc.RequestRide(ctx, "rider-1", validRequest())
	check()
	svc.AcceptRide(ctx, "driver-1", r1.ID)
	check()
	svc.CompleteRide(ctx, "driver-1", r1.ID)
	check()

	r2, _ := svc.RequestRide(ctx, "rider-2", validRequest())
	check()
	svc.EndRide(ctx, "rider-2", r2.ID)
	check()
}

func TestTriggerPanic(t *testing.T) {
	svc, sink := newTestService()
	ctx := context.Background()
	r, _ := svc.RequestRide(ctx, "rider-1", validRequest())
	if _, err := svc.AcceptRide(ctx, "driver-1", r.ID); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	if _, err := svc.TriggerPanic(ctx, "rider-1", r.ID, "not-an-email"); err == nil {
		t.Fatal("expected email validation error")
	}
	if _, err := svc.TriggerPanic(ctx, "rider-2", r.ID, "mom@example.com"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	alert, err := svc.TriggerPanic(ctx, "rider-1", r.ID, "mom@example.com")
	if err != nil {
		t.Fatalf("panic failed: %v", err)
	}
	if alert.DriverID != "driver-1" || alert.PickupLabel == "" {
		t.Fatalf("alert incomplete: %+v", alert)
	}
	types := sink.types()
	if types[len(types)-1] != events.TypePanicAlert {
		t.Fatalf("expected panic_alert event last, got %v", types)
	}
}

func svcMustAcceptComplete(t *testing.T, svc *Service, rideID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.AcceptRide(ctx, "driver-1", rideID); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if _, err := svc.CompleteRide(ctx, "driver-1", rideID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
}
