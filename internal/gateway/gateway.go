// Package gateway defines the contract this client consumes from the hosted
// data/auth/realtime service, plus the implementations we deploy against:
// the service's row API (REST + websocket feed), a direct Postgres path, and
// an in-memory fake for tests and local runs. Persistence, authentication,
// and change fan-out are the service's responsibility; nothing here owns
// durable state.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/example/campus-rides/internal/models"
)

var (
	ErrUnauthenticated = errors.New("no active session")
	ErrNotFound        = errors.New("ride not found")
)

// RideUpdate is a partial field set applied to one ride record. Nil fields
// are left untouched.
type RideUpdate struct {
	Status    *models.RideStatus
	DriverID  *string
	DriverLoc *models.Coord
}

// RideQuery selects rides by party and status, newest first.
type RideQuery struct {
	RiderID  string
	DriverID string
	Statuses []models.RideStatus
	Limit    int
}

// ChangeFilter registers interest in insert/update events on the rides
// table. Zero-valued fields match everything.
type ChangeFilter struct {
	RideID   string
	RiderID  string
	DriverID string
	Statuses []models.RideStatus
}

// Matches reports whether a ride satisfies the filter.
func (f ChangeFilter) Matches(r models.Ride) bool {
	if f.RideID != "" && r.ID != f.RideID {
		return false
	}
	if f.RiderID != "" && r.RiderID != f.RiderID {
		return false
	}
	if f.DriverID != "" && r.DriverID != f.DriverID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if r.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Change is one row-level event delivered on a subscription.
type Change struct {
	Kind string // "insert" or "update"
	Ride models.Ride
}

// Subscription is a live change feed. It must be explicitly closed when the
// owning view unmounts or the ride reaches a terminal state; the channel is
// closed on teardown.
type Subscription interface {
	Changes() <-chan Change
	Close() error
}

// Gateway is the full surface this client consumes from the hosted service.
type Gateway interface {
	// Session resolves a bearer token to the authenticated identity, or
	// ErrUnauthenticated.
	Session(ctx context.Context, token string) (models.Identity, error)
	SignOut(ctx context.Context, token string) error

	// CreateRide inserts a ride record and returns the assigned id.
	CreateRide(ctx context.Context, r *models.Ride) (string, error)
	UpdateRide(ctx context.Context, id string, u RideUpdate) error
	QueryRides(ctx context.Context, q RideQuery) ([]models.Ride, error)

	Profile(ctx context.Context, id string) (models.Profile, error)

	Subscribe(ctx context.Context, f ChangeFilter) (Subscription, error)
}

// NewID mints an opaque record id. Only the memory gateway uses it; the
// hosted service assigns ids for the other implementations.
func NewID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// StatusPtr is a convenience for building RideUpdate literals.
func StatusPtr(s models.RideStatus) *models.RideStatus { return &s }

// StringPtr is a convenience for building RideUpdate literals.
func StringPtr(s string) *string { return &s }
