package dispatch

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-hailing/internal/models"
)

// Announcement is the payload pushed to connected drivers when a new
// ride becomes available.
type Announcement struct {
	RideID         string    `json:"ride_id"`
	PickupLabel    string    `json:"pickup_label"`
	DropoffLabel   string    `json:"dropoff_label"`
	PassengerCount int       `json:"passenger_count"`
	Category       string    `json:"ride_category"`
	RequestedAt    time.Time `json:"requested_at"`
}

// Session is one driver's websocket connection. Writes are serialized
// per connection; gorilla/websocket forbids concurrent writers.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) Send(a Announcement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(a)
}

// Registry tracks connected driver sessions and broadcasts new-ride
// announcements to all of them. Delivery is best-effort; a dead session
// is dropped on the first failed write.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry { return &Registry{sessions: make(map[string]*Session)} }

// Add registers the driver's connection, replacing (and closing) any
// previous one. The returned session is the caller's handle for Remove.
func (r *Registry) Add(driverID string, conn *websocket.Conn) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[driverID]; ok {
		_ = old.conn.Close()
	}
	s := &Session{conn: conn}
	r.sessions[driverID] = s
	return s
}

// Remove drops the driver's session only while sess still owns the
// registration. When a driver reconnects, the superseded connection's
// reader still calls Remove as it winds down; that call must not tear
// down the replacement session.
func (r *Registry) Remove(driverID string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[driverID]; ok && cur == sess {
		_ = cur.conn.Close()
		delete(r.sessions, driverID)
	}
}

// RideRequested implements the service's Announcer interface.
func (r *Registry) RideRequested(ride models.Ride) {
	a := Announcement{
		RideID:         ride.ID,
		PickupLabel:    ride.Pickup.Label,
		DropoffLabel:   ride.Dropoff.Label,
		PassengerCount: ride.PassengerCount,
		Category:       string(ride.Category),
		RequestedAt:    ride.CreatedAt,
	}
	r.mu.RLock()
	stale := make(map[string]*Session)
	for id, s := range r.sessions {
		if err := s.Send(a); err != nil {
			log.Printf("ws send to driver %s failed: %v", id, err)
			stale[id] = s
		}
	}
	r.mu.RUnlock()
	for id, s := range stale {
		r.Remove(id, s)
	}
}
