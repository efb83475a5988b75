package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/example/campus-rides/internal/models"
)

// PostgresGateway talks to the hosted store's Postgres interface directly.
// The schema belongs to the service; we only read/write the rides, profiles,
// and sessions tables it exposes. Change delivery uses LISTEN/NOTIFY on the
// rides_changes channel, where the service's trigger publishes each changed
// row as JSON.
type PostgresGateway struct {
	db  *sql.DB
	dsn string
}

func NewPostgresGateway(dsn string) (*PostgresGateway, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresGateway{db: db, dsn: dsn}, nil
}

func (g *PostgresGateway) Close() error { return g.db.Close() }

func (g *PostgresGateway) Session(ctx context.Context, token string) (models.Identity, error) {
	var id models.Identity
	err := g.db.QueryRowContext(ctx,
		`SELECT user_id, email FROM sessions WHERE token=$1 AND expires_at > now()`, token).
		Scan(&id.ID, &id.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Identity{}, ErrUnauthenticated
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("session lookup: %w", err)
	}
	return id, nil
}

func (g *PostgresGateway) SignOut(ctx context.Context, token string) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM sessions WHERE token=$1`, token)
	return err
}

func (g *PostgresGateway) CreateRide(ctx context.Context, r *models.Ride) (string, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	err := g.db.QueryRowContext(ctx,
		`INSERT INTO rides(rider_id, pickup_name, dropoff_name,
		        pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
		        status, ride_type, estimated_fare, estimated_min, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		 RETURNING id`,
		r.RiderID, r.PickupName, r.DropoffName,
		r.Pickup.Lat, r.Pickup.Lon, r.Dropoff.Lat, r.Dropoff.Lon,
		r.Status, r.RideType, r.EstimatedFare, r.EstimatedMin, r.CreatedAt).
		Scan(&r.ID)
	if err != nil {
		return "", fmt.Errorf("create ride: %w", err)
	}
	return r.ID, nil
}

func (g *PostgresGateway) UpdateRide(ctx context.Context, id string, u RideUpdate) error {
	sets := []string{"updated_at=now()"}
	args := []any{id}
	n := 2
	if u.Status != nil {
		sets = append(sets, fmt.Sprintf("status=$%d", n))
		args = append(args, *u.Status)
		n++
	}
	if u.DriverID != nil {
		sets = append(sets, fmt.Sprintf("driver_id=$%d", n))
		args = append(args, *u.DriverID)
		n++
	}
	if u.DriverLoc != nil {
		sets = append(sets, fmt.Sprintf("driver_lat=$%d, driver_lon=$%d", n, n+1))
		args = append(args, u.DriverLoc.Lat, u.DriverLoc.Lon)
	}
	res, err := g.db.ExecContext(ctx,
		`UPDATE rides SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		return fmt.Errorf("update ride %s: %w", id, err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *PostgresGateway) QueryRides(ctx context.Context, q RideQuery) ([]models.Ride, error) {
	where := []string{"1=1"}
	args := []any{}
	n := 1
	if q.RiderID != "" {
		where = append(where, fmt.Sprintf("rider_id=$%d", n))
		args = append(args, q.RiderID)
		n++
	}
	if q.DriverID != "" {
		where = append(where, fmt.Sprintf("driver_id=$%d", n))
		args = append(args, q.DriverID)
		n++
	}
	if len(q.Statuses) > 0 {
		ss := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			ss[i] = string(s)
		}
		where = append(where, fmt.Sprintf("status = ANY($%d)", n))
		args = append(args, pq.Array(ss))
		n++
	}
	query := `SELECT id, rider_id, COALESCE(driver_id,''), pickup_name, dropoff_name,
	       pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
	       status, ride_type, estimated_fare, estimated_min, created_at, updated_at
	  FROM rides WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rides: %w", err)
	}
	defer rows.Close()
	var out []models.Ride
	for rows.Next() {
		var r models.Ride
		if err := rows.Scan(&r.ID, &r.RiderID, &r.DriverID, &r.PickupName, &r.DropoffName,
			&r.Pickup.Lat, &r.Pickup.Lon, &r.Dropoff.Lat, &r.Dropoff.Lon,
			&r.Status, &r.RideType, &r.EstimatedFare, &r.EstimatedMin,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (g *PostgresGateway) Profile(ctx context.Context, id string) (models.Profile, error) {
	var p models.Profile
	err := g.db.QueryRowContext(ctx,
		`SELECT id, name, rating FROM profiles WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.Rating)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("profile %s: %w", id, err)
	}
	return p, nil
}

func (g *PostgresGateway) Subscribe(ctx context.Context, f ChangeFilter) (Subscription, error) {
	l := pq.NewListener(g.dsn, 10*time.Second, time.Minute, nil)
	if err := l.Listen("rides_changes"); err != nil {
		l.Close()
		return nil, fmt.Errorf("listen rides_changes: %w", err)
	}
	s := &pgSub{listener: l, filter: f, ch: make(chan Change, 32), done: make(chan struct{})}
	go s.readLoop()
	return s, nil
}

type pgSub struct {
	listener *pq.Listener
	filter   ChangeFilter
	ch       chan Change
	done     chan struct{}
	once     sync.Once
}

func (s *pgSub) Changes() <-chan Change { return s.ch }

func (s *pgSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.listener.Close()
	})
	return err
}

func (s *pgSub) readLoop() {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// reconnect marker; the poll leg covers the gap
				continue
			}
			var payload struct {
				Kind string      `json:"kind"`
				Ride models.Ride `json:"record"`
			}
			if err := json.Unmarshal([]byte(n.Extra), &payload); err != nil {
				continue
			}
			if !s.filter.Matches(payload.Ride) {
				continue
			}
			select {
			case s.ch <- Change{Kind: payload.Kind, Ride: payload.Ride}:
			case <-s.done:
				return
			}
		}
	}
}
