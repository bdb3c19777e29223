package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-hailing/internal/events"
)

// fakeRecorder implements StatusRecorder for tests
type fakeRecorder struct {
	fail  int // number of times to fail before succeeding
	calls int
	last  map[string]interface{}
}

func (f *fakeRecorder) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("hset fail")
	}
	f.last = values
	return nil
}

type fakeSender struct {
	fail  int
	calls int
}

func (f *fakeSender) Send(ctx context.Context, evt events.RideEvent) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("send fail")
	}
	return nil
}

func acceptedEvent() events.RideEvent {
	return events.RideEvent{
		Type:       events.TypeRideAccepted,
		RideID:     "ride-1",
		RiderID:    "rider-1",
		DriverID:   "driver-1",
		Status:     "accepted",
		OccurredAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecordStatusWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeRecorder{fail: 2}
	start := time.Now()
	if err := recordStatusWithRetry(context.Background(), f, acceptedEvent(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if f.last["status"] != "accepted" || f.last["driver_id"] != "driver-1" {
		t.Fatalf("unexpected fields recorded: %v", f.last)
	}
}

func TestRecordStatusWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeRecorder{fail: 5}
	if err := recordStatusWithRetry(context.Background(), f, acceptedEvent(), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", f.calls)
	}
}

func TestRecordStatusSkipsRidelessEvents(t *testing.T) {
	f := &fakeRecorder{}
	evt := events.RideEvent{Type: events.TypeHistoryCleared, RiderID: "rider-1"}
	if err := recordStatusWithRetry(context.Background(), f, evt, 3, time.Millisecond); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if f.calls != 0 {
		t.Fatalf("expected no redis calls, got %d", f.calls)
	}
}

func TestSendAlertWithRetry(t *testing.T) {
	f := &fakeSender{fail: 1}
	if err := sendAlertWithRetry(context.Background(), f, acceptedEvent(), 3, time.Millisecond); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if f.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", f.calls)
	}

	exhausted := &fakeSender{fail: 10}
	if err := sendAlertWithRetry(context.Background(), exhausted, acceptedEvent(), 2, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeRecorder{fail: 10}
	start := time.Now()
	if err := recordStatusWithRetry(ctx, f, acceptedEvent(), 5, time.Minute); err == nil {
		t.Fatalf("expected error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("retry ignored cancellation, took %s", elapsed)
	}
	if f.calls != 1 {
		t.Fatalf("expected 1 attempt before giving up, got %d", f.calls)
	}

	s := &fakeSender{fail: 10}
	start = time.Now()
	if err := sendAlertWithRetry(ctx, s, acceptedEvent(), 5, time.Minute); err == nil {
		t.Fatalf("expected error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("alert retry ignored cancellation, took %s", elapsed)
	}
	if s.calls != 1 {
		t.Fatalf("expected 1 attempt before giving up, got %d", s.calls)
	}
}
