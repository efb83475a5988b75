package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/campus-rides/internal/gateway"
	"github.com/example/campus-rides/internal/geocode"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/notify"
)

var (
	ErrMissingLocation = errors.New("pickup and dropoff are required")
	ErrWrongState      = errors.New("action not allowed in current state")
	ErrWrongRole       = errors.New("action not allowed for this role")
)

// riderStateFor maps a store-reported status onto the rider dashboard.
func riderStateFor(s models.RideStatus) State {
	switch s {
	case models.StatusPending:
		return StateSearching
	case models.StatusAccepted:
		return StateDriverAssigned
	case models.StatusInProgress:
		return StateInProgress
	case models.StatusCompleted:
		return StateCompleted
	default:
		return StateIdle
	}
}

// resumeRider re-attaches to the most recent non-terminal ride for the
// identity instead of assuming a fresh start.
func (m *Machine) resumeRider(ctx context.Context) {
	rides, err := m.deps.Gateway.QueryRides(ctx, gateway.RideQuery{
		RiderID:  m.deps.Identity.ID,
		Statuses: models.NonTerminalStatuses,
		Limit:    1,
	})
	if err != nil {
		m.logger.Warn("resume lookup failed", "error", err)
		return
	}
	if len(rides) == 0 {
		return
	}
	r := rides[0]

	m.mu.Lock()
	m.ride = &r
	m.state = riderStateFor(r.Status)
	if r.DriverID != "" {
		m.mu.Unlock()
		p := m.fetchProfile(r.DriverID)
		m.mu.Lock()
		m.counterpart = p
	}
	m.changedLocked()
	m.mu.Unlock()

	m.watchRide(r.ID)
	m.logger.Info("resumed ride", "ride", r.ID, "status", string(r.Status))
}

// RequestRide validates input, computes the fare/time estimate, writes the
// durable record with status pending, and starts listening for changes to
// it. Validation or write failure leaves the machine idle with no durable
// record and a visible notice.
func (m *Machine) RequestRide(ctx context.Context, pickupName string, pickup models.Coord, dropoffName, rideType string) (*models.Ride, error) {
	if m.role != RoleRider {
		return nil, ErrWrongRole
	}
	if m.deps.Identity.ID == "" {
		m.toast("Sign in required", "You must be signed in to request a ride.", notify.SeverityWarning)
		return nil, gateway.ErrUnauthenticated
	}
	if pickupName == "" || dropoffName == "" {
		m.toast("Missing location", "Select both pickup and dropoff to request a ride.", notify.SeverityWarning)
		return nil, ErrMissingLocation
	}

	m.mu.Lock()
	if !CanTransition(RoleRider, m.state, StateSearching) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWrongState, m.state)
	}
	prev := m.state
	m.state = StateSearching // optimistic; rolled back if the write fails
	m.changedLocked()
	m.mu.Unlock()

	dropoff := geocode.Destination(m.deps.Geocoder, pickup, dropoffName)
	if rideType == "" {
		rideType = "standard"
	}
	ride := &models.Ride{
		RiderID:       m.deps.Identity.ID,
		PickupName:    pickupName,
		DropoffName:   dropoffName,
		Pickup:        pickup,
		Dropoff:       dropoff,
		Status:        models.StatusPending,
		RideType:      rideType,
		EstimatedFare: m.deps.Policy.Estimate(pickup, dropoff),
		EstimatedMin:  m.deps.Policy.EstimateMinutes(pickup, dropoff),
	}

	if _, err := m.deps.Gateway.CreateRide(ctx, ride); err != nil {
		m.mu.Lock()
		m.state = prev
		m.ride = nil
		m.changedLocked()
		m.mu.Unlock()
		m.toast("Request failed", "Could not reach the ride service. Try again.", notify.SeverityError)
		return nil, fmt.Errorf("request ride: %w", err)
	}

	m.mu.Lock()
	m.ride = ride
	m.changedLocked()
	m.mu.Unlock()

	m.watchRide(ride.ID)
	m.publish("rider", *ride)
	m.toast("Searching for drivers", "Your ride request is live.", notify.SeverityInfo)
	m.logger.Info("ride requested", "ride", ride.ID, "fare", ride.EstimatedFare)
	return ride, nil
}

// CancelRide cancels the current request. With no durable record yet it is
// a local-only reset; otherwise the cancelled status is written first and
// local state resets only on success.
func (m *Machine) CancelRide(ctx context.Context) error {
	if m.role != RoleRider {
		return ErrWrongRole
	}
	m.mu.Lock()
	if !CanTransition(RoleRider, m.state, StateIdle) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, m.state)
	}
	ride := m.ride
	m.mu.Unlock()

	if ride != nil {
		if err := m.deps.Gateway.UpdateRide(ctx, ride.ID, gateway.RideUpdate{
			Status: gateway.StatusPtr(models.StatusCancelled),
		}); err != nil {
			m.toast("Cancel failed", "Could not cancel the ride. Try again.", notify.SeverityError)
			return fmt.Errorf("cancel ride %s: %w", ride.ID, err)
		}
		cancelled := *ride
		cancelled.Status = models.StatusCancelled
		m.publish("rider", cancelled)
		m.releaseHold()
	}

	m.mu.Lock()
	m.state = StateIdle
	m.ride = nil
	m.counterpart = models.Profile{}
	m.changedLocked()
	m.mu.Unlock()

	m.feed.Stop()
	m.toast("Ride cancelled", "", notify.SeverityInfo)
	return nil
}

// ConfirmPickup writes in_progress; local state moves only after the write
// succeeds.
func (m *Machine) ConfirmPickup(ctx context.Context) error {
	if m.role != RoleRider {
		return ErrWrongRole
	}
	return m.writeStatusTransition(ctx, StateInProgress, models.StatusInProgress, "rider")
}

// ConfirmDropoff completes the ride.
func (m *Machine) ConfirmDropoff(ctx context.Context) error {
	if m.role != RoleRider {
		return ErrWrongRole
	}
	if err := m.writeStatusTransition(ctx, StateCompleted, models.StatusCompleted, "rider"); err != nil {
		return err
	}
	m.capturePayment()
	m.feed.Stop()
	m.toast("Ride completed", "Thanks for riding with us.", notify.SeverityInfo)
	return nil
}

// Dismiss acknowledges a completed ride and returns the dashboard to idle.
func (m *Machine) Dismiss() error {
	if m.role != RoleRider {
		return ErrWrongRole
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCompleted {
		return fmt.Errorf("%w: %s", ErrWrongState, m.state)
	}
	m.state = StateIdle
	m.ride = nil
	m.counterpart = models.Profile{}
	m.changedLocked()
	return nil
}

// statusRank orders the forward lifecycle so that a stale poll snapshot
// cannot drag the machine backwards. Cancellation always applies.
func statusRank(s models.RideStatus) int {
	switch s {
	case models.StatusPending:
		return 0
	case models.StatusAccepted:
		return 1
	case models.StatusInProgress:
		return 2
	case models.StatusCompleted:
		return 3
	default:
		return 4
	}
}

// staleUpdate reports whether a reported status is older news than what we
// already hold.
func staleUpdate(cur, next models.RideStatus) bool {
	return next != models.StatusCancelled && statusRank(next) < statusRank(cur)
}

// foldRider applies externally-reported ride snapshots. The store's status
// is authoritative: it overwrites whatever the local machine guessed.
func (m *Machine) foldRider(batch []models.Ride) {
	m.mu.Lock()
	cur := m.ride
	if cur == nil {
		m.mu.Unlock()
		return
	}
	var next *models.Ride
	for i := range batch {
		if batch[i].ID == cur.ID {
			next = &batch[i]
			break
		}
	}
	if next == nil || staleUpdate(cur.Status, next.Status) {
		m.mu.Unlock()
		return
	}

	prevStatus := cur.Status
	r := *next
	m.ride = &r

	switch next.Status {
	case models.StatusCancelled:
		// driver-side (or stale own) cancellation: back to idle with a notice
		m.state = StateIdle
		m.ride = nil
		m.counterpart = models.Profile{}
		m.changedLocked()
		m.mu.Unlock()
		m.feed.Stop()
		if prevStatus != models.StatusCancelled {
			m.toast("Ride cancelled", "Your ride was cancelled.", notify.SeverityWarning)
			m.publish("store", r)
		}
		return
	case models.StatusAccepted:
		m.state = StateDriverAssigned
		needProfile := m.counterpart.ID != r.DriverID
		m.changedLocked()
		m.mu.Unlock()
		if prevStatus != models.StatusAccepted {
			m.toast("Driver assigned", "A driver accepted your ride.", notify.SeverityInfo)
			m.publish("store", r)
		}
		if needProfile {
			p := m.fetchProfile(r.DriverID)
			m.mu.Lock()
			m.counterpart = p
			m.changedLocked()
			m.mu.Unlock()
		}
		return
	default:
		m.state = riderStateFor(next.Status)
		m.changedLocked()
		m.mu.Unlock()
		if next.Status == models.StatusCompleted && prevStatus != models.StatusCompleted {
			m.publish("store", r)
			m.feed.Stop()
		}
	}
}

// writeStatusTransition is the shared write-then-commit path for local
// transitions that persist a new status.
func (m *Machine) writeStatusTransition(ctx context.Context, to State, status models.RideStatus, actor string) error {
	m.mu.Lock()
	if !CanTransition(m.role, m.state, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, m.state)
	}
	if m.ride == nil {
		m.mu.Unlock()
		return gateway.ErrNotFound
	}
	ride := *m.ride
	m.mu.Unlock()

	if err := m.deps.Gateway.UpdateRide(ctx, ride.ID, gateway.RideUpdate{
		Status: gateway.StatusPtr(status),
	}); err != nil {
		m.toast("Update failed", "Could not update the ride. Try again.", notify.SeverityError)
		return fmt.Errorf("update ride %s to %s: %w", ride.ID, status, err)
	}

	m.mu.Lock()
	m.state = to
	if m.ride != nil {
		m.ride.Status = status
	}
	m.changedLocked()
	m.mu.Unlock()

	ride.Status = status
	m.publish(actor, ride)
	return nil
}
