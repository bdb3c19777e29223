package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a ride. Transitions only move forward:
// pending -> accepted -> completed -> archived. A rider may end a pending
// or accepted ride early; both are recorded as completed rather than as a
// separate cancelled state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Active reports whether a ride in this status still blocks the rider
// from requesting another one.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusAccepted
}

type Category string

const (
	CategoryPersonal Category = "personal"
	CategoryFamily   Category = "family"
	CategoryCompany  Category = "company"
)

func ValidCategory(c Category) bool {
	switch c {
	case CategoryPersonal, CategoryFamily, CategoryCompany:
		return true
	}
	return false
}

// Role names the two actor kinds the identity provider hands us.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
)

// Coord is a (longitude, latitude) pair. It serializes as a two-element
// JSON array [lon, lat], the shape the frontend already speaks.
type Coord struct {
	Lon float64
	Lat float64
}

func (c Coord) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{c.Lon, c.Lat})
}

func (c *Coord) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("coordinates must be a [lon, lat] pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("coordinates must be a [lon, lat] pair, got %d elements", len(pair))
	}
	c.Lon, c.Lat = pair[0], pair[1]
	return nil
}

// Place is a human-readable label plus its coordinates.
type Place struct {
	Label string `json:"label"`
	Coord Coord  `json:"coordinates"`
}

type Ride struct {
	ID             string     `json:"id"`
	RiderID        string     `json:"rider_id"`
	DriverID       string     `json:"driver_id,omitempty"` // empty until accepted
	Pickup         Place      `json:"pickup"`
	Dropoff        Place      `json:"dropoff"`
	PassengerCount int        `json:"passenger_count"`
	Category       Category   `json:"ride_category"`
	Status         Status     `json:"status"`
	Rating         int        `json:"rating,omitempty"` // 0 = not rated
	Review         string     `json:"review,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so stores can hand rides across goroutines
// without sharing timestamp pointers.
func (r *Ride) Clone() *Ride {
	cp := *r
	if r.AcceptedAt != nil {
		t := *r.AcceptedAt
		cp.AcceptedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
