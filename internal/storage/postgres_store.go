package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/ride-hailing/internal/models"
)

// PostgresStore persists rides in a single rides table. Coordinates are
// stored as plain lon/lat double precision columns; this file is the one
// place that converts between that layout and models.Coord.
//
// Two partial unique indexes back the invariants the code also checks:
// one on rider_id over pending/accepted rows, one on driver_id over
// accepted rows. The indexes close the window between a friendly
// pre-check and the insert/update.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already-open handle; the caller keeps
// ownership of it.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const rideColumns = `id, rider_id, COALESCE(driver_id, ''), pickup_label, pickup_lon, pickup_lat,
	dropoff_label, dropoff_lon, dropoff_lat, passenger_count, category, status,
	COALESCE(rating, 0), COALESCE(review, ''), created_at, accepted_at, completed_at`

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rides (id, rider_id, pickup_label, pickup_lon, pickup_lat,
			dropoff_label, dropoff_lon, dropoff_lat, passenger_count, category, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.RiderID, r.Pickup.Label, r.Pickup.Coord.Lon, r.Pickup.Coord.Lat,
		r.Dropoff.Label, r.Dropoff.Coord.Lon, r.Dropoff.Coord.Lat,
		r.PassengerCount, r.Category, r.Status, r.CreatedAt)
	if isUniqueViolation(err) {
		return ErrActiveRideExists
	}
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	return scanRide(row)
}

func (p *PostgresStore) ActiveRideForRider(ctx context.Context, riderID string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+`
		FROM rides WHERE rider_id = $1 AND status IN ('pending','accepted')`, riderID)
	r, err := scanRide(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return r, err
}

func (p *PostgresStore) ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+`
		FROM rides WHERE driver_id = $1 AND status = 'accepted'`, driverID)
	r, err := scanRide(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return r, err
}

func (p *PostgresStore) ListHistory(ctx context.Context, riderID string) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+`
		FROM rides WHERE rider_id = $1 AND status != 'archived'
		ORDER BY created_at DESC`, riderID)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

func (p *PostgresStore) ListAvailable(ctx context.Context) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+`
		FROM rides WHERE status = 'pending' ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

func (p *PostgresStore) ListDriverCompleted(ctx context.Context, driverID string) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+`
		FROM rides WHERE driver_id = $1 AND status = 'completed'
		ORDER BY completed_at DESC LIMIT $2`, driverID, DriverCompletedLimit)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

func (p *PostgresStore) Transition(ctx context.Context, id string, expected models.Status, mutate func(*models.Ride) error) (*models.Ride, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() // no-op after commit

	row := tx.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1 FOR UPDATE`, id)
	r, err := scanRide(row)
	if err != nil {
		return nil, err
	}
	if r.Status != expected {
		return nil, ErrStaleState
	}
	if err := mutate(r); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE rides SET driver_id = NULLIF($2, ''), status = $3,
			rating = NULLIF($4, 0), review = NULLIF($5, ''),
			accepted_at = $6, completed_at = $7
		WHERE id = $1`,
		r.ID, r.DriverID, r.Status, r.Rating, r.Review, r.AcceptedAt, r.CompletedAt)
	if isUniqueViolation(err) {
		return nil, ErrActiveRideExists
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ride transition: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) ArchiveCompleted(ctx context.Context, riderID string) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET status = 'archived' WHERE rider_id = $1 AND status = 'completed'`, riderID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var acceptedAt, completedAt sql.NullTime
	err := row.Scan(&r.ID, &r.RiderID, &r.DriverID,
		&r.Pickup.Label, &r.Pickup.Coord.Lon, &r.Pickup.Coord.Lat,
		&r.Dropoff.Label, &r.Dropoff.Coord.Lon, &r.Dropoff.Coord.Lat,
		&r.PassengerCount, &r.Category, &r.Status,
		&r.Rating, &r.Review, &r.CreatedAt, &acceptedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if acceptedAt.Valid {
		r.AcceptedAt = &acceptedAt.Time
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return &r, nil
}

func collectRides(rows *sql.Rows) ([]models.Ride, error) {
	defer rows.Close()
	var out []models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
