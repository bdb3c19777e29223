package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TypeRideRequested  = "ride_requested"
	TypeRideAccepted   = "ride_accepted"
	TypeRideCompleted  = "ride_completed"
	TypeRideReviewed   = "ride_reviewed"
	TypeHistoryCleared = "history_cleared"
	TypePanicAlert     = "panic_alert"
)

// RideEvent is the single message shape published to the ride-events
// topic, keyed by ride id so per-ride ordering survives partitioning.
type RideEvent struct {
	Type       string      `json:"type"`
	RideID     string      `json:"ride_id"`
	RiderID    string      `json:"rider_id,omitempty"`
	DriverID   string      `json:"driver_id,omitempty"`
	Status     string      `json:"status,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
	Alert      *PanicAlert `json:"alert,omitempty"`
}

// PanicAlert carries everything the notification dispatcher needs to
// reach an emergency contact about an in-progress ride.
type PanicAlert struct {
	ContactEmail string `json:"contact_email"`
	PickupLabel  string `json:"pickup_label"`
	DropoffLabel string `json:"dropoff_label"`
	DriverID     string `json:"driver_id,omitempty"`
	Elapsed      string `json:"elapsed"` // time since the ride was requested
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &Producer{writer: w}
}

func (p *Producer) Publish(ctx context.Context, evt RideEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(evt.RideID), Value: b})
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
