package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ride-hailing/internal/models"
)

// MemoryStore keeps rides in a mutex-guarded map. It mirrors the Postgres
// store's semantics — including the active-ride uniqueness checks and the
// compare-and-set in Transition — so tests and local runs without a
// database exercise the same contract.
type MemoryStore struct {
	mu    sync.Mutex
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.rides {
		if other.RiderID == r.RiderID && other.Status.Active() {
			return ErrActiveRideExists
		}
	}
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ActiveRideForRider(ctx context.Context, riderID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rides {
		if r.RiderID == riderID && r.Status.Active() {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rides {
		if r.DriverID == driverID && r.Status == models.StatusAccepted {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListHistory(ctx context.Context, riderID string) ([]models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Ride
	for _, r := range m.rides {
		if r.RiderID == riderID && r.Status != models.StatusArchived {
			out = append(out, *r.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) ListAvailable(ctx context.Context) ([]models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Ride
	for _, r := range m.rides {
		if r.Status == models.StatusPending {
			out = append(out, *r.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) ListDriverCompleted(ctx context.Context, driverID string) ([]models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Ride
	for _, r := range m.rides {
		if r.DriverID == driverID && r.Status == models.StatusCompleted {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt != nil && out[j].CompletedAt != nil &&
			out[i].CompletedAt.After(*out[j].CompletedAt)
	})
	if len(out) > DriverCompletedLimit {
		out = out[:DriverCompletedLimit]
	}
	return out, nil
}

func (m *MemoryStore) Transition(ctx context.Context, id string, expected models.Status, mutate func(*models.Ride) error) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Status != expected {
		return nil, ErrStaleState
	}
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if next.Status == models.StatusAccepted {
		for _, other := range m.rides {
			if other.ID != id && other.DriverID == next.DriverID && other.Status == models.StatusAccepted {
				return nil, ErrActiveRideExists
			}
		}
	}
	m.rides[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ArchiveCompleted(ctx context.Context, riderID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rides {
		if r.RiderID == riderID && r.Status == models.StatusCompleted {
			r.Status = models.StatusArchived
			n++
		}
	}
	return n, nil
}

func sortNewestFirst(rs []models.Ride) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].CreatedAt.After(rs[j].CreatedAt) })
}
