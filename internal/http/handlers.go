package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-hailing/internal/auth"
	"github.com/example/ride-hailing/internal/dispatch"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/rides"
)

type Server struct {
	Rides    *rides.Service
	Auth     *auth.Manager
	Registry *dispatch.Registry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(svc *rides.Service, authMgr *auth.Manager, reg *dispatch.Registry, logger *slog.Logger) *Server {
	s := &Server{Rides: svc, Auth: authMgr, Registry: reg, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/rides", s.requireRole(models.RoleCustomer, s.handleRequestRide)).Methods("POST")
	api.HandleFunc("/rides/active", s.requireRole(models.RoleCustomer, s.handleActiveRide)).Methods("GET")
	api.HandleFunc("/rides/history", s.requireRole(models.RoleCustomer, s.handleHistory)).Methods("GET")
	api.HandleFunc("/rides/history", s.requireRole(models.RoleCustomer, s.handleClearHistory)).Methods("DELETE")
	api.HandleFunc("/rides/{ride_id}/end", s.requireRole(models.RoleCustomer, s.handleEndRide)).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/review", s.requireRole(models.RoleCustomer, s.handleReview)).Methods("POST")
	api.HandleFunc("/panic", s.requireRole(models.RoleCustomer, s.handlePanic)).Methods("POST")

	api.HandleFunc("/driver/rides/available", s.requireRole(models.RoleDriver, s.handleAvailableRides)).Methods("GET")
	api.HandleFunc("/driver/rides/active", s.requireRole(models.RoleDriver, s.handleDriverActiveRide)).Methods("GET")
	api.HandleFunc("/driver/rides/completed", s.requireRole(models.RoleDriver, s.handleDriverCompletedRides)).Methods("GET")
	api.HandleFunc("/driver/rides/{ride_id}/accept", s.requireRole(models.RoleDriver, s.handleAcceptRide)).Methods("POST")
	api.HandleFunc("/driver/rides/{ride_id}/complete", s.requireRole(models.RoleDriver, s.handleCompleteRide)).Methods("POST")

	ws := s.mux.PathPrefix("/ws").Subrouter()
	ws.Use(s.authMiddleware)
	ws.HandleFunc("/driver", s.requireRole(models.RoleDriver, s.handleDriverWS))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type rideRequestPayload struct {
	PickupLocation     string       `json:"pickup_location"`
	DropoffLocation    string       `json:"dropoff_location"`
	PickupCoordinates  models.Coord `json:"pickup_coordinates"`
	DropoffCoordinates models.Coord `json:"dropoff_coordinates"`
	PassengerCount     int          `json:"passenger_count"`
	RideCategory       string       `json:"ride_category"`
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	var p rideRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}
	ride, err := s.Rides.RequestRide(r.Context(), actorFrom(r.Context()).ID, rides.RideRequest{
		Pickup:         models.Place{Label: p.PickupLocation, Coord: p.PickupCoordinates},
		Dropoff:        models.Place{Label: p.DropoffLocation, Coord: p.DropoffCoordinates},
		PassengerCount: p.PassengerCount,
		Category:       models.Category(p.RideCategory),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleActiveRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.ActiveRide(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.Rides.History(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if history == nil {
		history = []models.Ride{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.Rides.ClearHistory(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"archived": n})
}

func (s *Server) handleEndRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.EndRide(r.Context(), actorFrom(r.Context()).ID, mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type reviewPayload struct {
	Rating int    `json:"rating"`
	Review string `json:"review"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var p reviewPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}
	ride, err := s.Rides.SubmitReview(r.Context(), actorFrom(r.Context()).ID, mux.Vars(r)["ride_id"], p.Rating, p.Review)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type panicPayload struct {
	RideID         string `json:"ride_id"`
	EmergencyEmail string `json:"emergency_email"`
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request) {
	var p panicPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}
	alert, err := s.Rides.TriggerPanic(r.Context(), actorFrom(r.Context()).ID, p.RideID, p.EmergencyEmail)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "panic alert dispatched", "alert": alert})
}

func (s *Server) handleAvailableRides(w http.ResponseWriter, r *http.Request) {
	available, err := s.Rides.AvailableRides(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if available == nil {
		available = []models.Ride{}
	}
	writeJSON(w, http.StatusOK, available)
}

func (s *Server) handleDriverActiveRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.DriverActiveRide(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleDriverCompletedRides(w http.ResponseWriter, r *http.Request) {
	completed, err := s.Rides.DriverCompletedRides(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if completed == nil {
		completed = []models.Ride{}
	}
	writeJSON(w, http.StatusOK, completed)
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.AcceptRide(r.Context(), actorFrom(r.Context()).ID, mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.CompleteRide(r.Context(), actorFrom(r.Context()).ID, mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	if s.Registry == nil {
		writeMessage(w, http.StatusServiceUnavailable, "live announcements disabled")
		return
	}
	driverID := actorFrom(r.Context()).ID
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied
	}
	sess := s.Registry.Add(driverID, conn)
	go func() {
		// Drain control frames; drop our own session when the peer goes
		// away. A reconnect replaces the session, so removal must name
		// the one this goroutine reads for.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.Registry.Remove(driverID, sess)
				return
			}
		}
	}()
}

// writeError is the single mapping from the service's error taxonomy to
// HTTP status codes. Anything unrecognized is an infrastructure failure.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ve *rides.ValidationError
	var ise *rides.InvalidStateError
	switch {
	case errors.As(err, &ve), errors.As(err, &ise),
		errors.Is(err, rides.ErrDuplicateActiveRide):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rides.ErrNotAuthorized):
		writeMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, rides.ErrRideNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rides.ErrRideUnavailable):
		writeMessage(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("internal error", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
