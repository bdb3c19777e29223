package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-hailing/internal/config"
	"github.com/example/ride-hailing/internal/dispatch"
	"github.com/example/ride-hailing/internal/events"
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_consumed_total",
		Help: "Total ride events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_invalid_total",
		Help: "Total undecodable messages received",
	})
	statusUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_status_updates_total",
		Help: "Total successful ride-status read-model updates",
	})
	statusErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_status_errors_total",
		Help: "Total redis errors updating the read-model",
	})
	alertsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_panic_alerts_sent_total",
		Help: "Total panic alerts delivered to the webhook",
	})
	alertErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_panic_alert_errors_total",
		Help: "Total panic alerts that could not be delivered",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, statusUpdates, statusErrors, alertsSent, alertErrors)
}

func main() {
	cfg, err := config.LoadNotifierConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	recorder := &redisRecorder{c: rc}

	var sender AlertSender
	if cfg.PanicWebhookURL != "" {
		sender = dispatch.NewWebhookSender(cfg.PanicWebhookURL)
	}

	// metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("notifier listening topic=%s brokers=%v group=%s", cfg.KafkaTopic, cfg.KafkaBrokers, cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down notifier")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			if !waitBackoff(ctx, backoff) {
				log.Println("shutting down notifier")
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		eventsConsumed.Inc()

		var evt events.RideEvent
		if err := json.Unmarshal(m.Value, &evt); err != nil {
			eventsInvalid.Inc()
			log.Printf("invalid message: %v", err)
			continue
		}

		if err := recordStatusWithRetry(ctx, recorder, evt, cfg.RetryAttempts, cfg.RetryDelay); err != nil {
			statusErrors.Inc()
			log.Printf("status update failed for ride=%s: %v", evt.RideID, err)
		} else if evt.RideID != "" {
			statusUpdates.Inc()
		}

		if evt.Type == events.TypePanicAlert && sender != nil {
			if err := sendAlertWithRetry(ctx, sender, evt, cfg.RetryAttempts, cfg.RetryDelay); err != nil {
				alertErrors.Inc()
				log.Printf("panic alert delivery failed for ride=%s: %v", evt.RideID, err)
				continue
			}
			alertsSent.Inc()
		}
	}
}

// StatusRecorder is the subset of redis operations the read-model needs;
// an interface so tests can run without a live redis.
type StatusRecorder interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

// AlertSender delivers a panic alert to the outside world.
type AlertSender interface {
	Send(ctx context.Context, evt events.RideEvent) error
}

type redisRecorder struct{ c *redis.Client }

func (r *redisRecorder) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

// recordStatusWithRetry mirrors the latest lifecycle status of each ride
// into a redis hash, retrying with exponential backoff. Events without a
// ride id (history clears) have nothing to record.
func recordStatusWithRetry(ctx context.Context, rec StatusRecorder, evt events.RideEvent, attempts int, delay time.Duration) error {
	if evt.RideID == "" {
		return nil
	}
	fields := map[string]interface{}{
		"type":        evt.Type,
		"status":      evt.Status,
		"rider_id":    evt.RiderID,
		"driver_id":   evt.DriverID,
		"occurred_at": evt.OccurredAt.Format(time.RFC3339),
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = rec.HSet(ctx, "ride:status:"+evt.RideID, fields); err == nil {
			return nil
		}
		if i < attempts-1 {
			if !waitBackoff(ctx, delay) {
				return err
			}
			delay *= 2
		}
	}
	return err
}

func sendAlertWithRetry(ctx context.Context, sender AlertSender, evt events.RideEvent, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = sender.Send(ctx, evt); err == nil {
			return nil
		}
		if i < attempts-1 {
			if !waitBackoff(ctx, delay) {
				return err
			}
			delay *= 2
		}
	}
	return err
}

// waitBackoff sleeps for d unless the context ends first; it reports
// whether the caller should keep retrying.
func waitBackoff(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
