package lifecycle

import (
	"context"
	"fmt"

	"github.com/example/campus-rides/internal/feed"
	"github.com/example/campus-rides/internal/gateway"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/notify"
)

// driverStateFor maps a store-reported status onto the driver dashboard.
func driverStateFor(s models.RideStatus) State {
	switch s {
	case models.StatusAccepted:
		return StateRideAccepted
	case models.StatusInProgress:
		return StateInProgress
	case models.StatusCompleted:
		return StateCompleted
	default:
		return StateOnline
	}
}

// resumeDriver re-attaches to an active ride already assigned to this
// driver, mirroring the rider resume contract.
func (m *Machine) resumeDriver(ctx context.Context) {
	rides, err := m.deps.Gateway.QueryRides(ctx, gateway.RideQuery{
		DriverID: m.deps.Identity.ID,
		Statuses: []models.RideStatus{models.StatusAccepted, models.StatusInProgress},
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
	m.state = driverStateFor(r.Status)
	m.mu.Unlock()

	p := m.fetchProfile(r.RiderID)

	m.mu.Lock()
	m.counterpart = p
	m.changedLocked()
	m.mu.Unlock()

	m.watchRide(r.ID)
	m.logger.Info("resumed ride", "ride", r.ID, "status", string(r.Status))
}

// GoOnline requires an authenticated identity, fetches the pending-ride
// pool, and subscribes to further pending rides plus a periodic re-poll as
// redundancy against missed notifications.
func (m *Machine) GoOnline(ctx context.Context) error {
	if m.role != RoleDriver {
		return ErrWrongRole
	}
	if m.deps.Identity.ID == "" {
		m.toast("Sign in required", "You must be signed in to go online.", notify.SeverityWarning)
		return gateway.ErrUnauthenticated
	}
	m.mu.Lock()
	if !CanTransition(RoleDriver, m.state, StateOnline) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, m.state)
	}
	m.state = StateOnline
	m.changedLocked()
	m.mu.Unlock()

	m.browsePending()
	m.toast("You are online", "Watching for ride requests.", notify.SeverityInfo)
	return nil
}

// GoOffline is local-only: it clears the candidate pool and stops
// listening for notifications.
func (m *Machine) GoOffline() error {
	if m.role != RoleDriver {
		return ErrWrongRole
	}
	m.mu.Lock()
	if m.state == StateOffline {
		m.mu.Unlock()
		return nil
	}
	if !CanTransition(RoleDriver, m.state, StateOffline) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, m.state)
	}
	m.state = StateOffline
	m.candidates = nil
	m.ride = nil
	m.counterpart = models.Profile{}
	m.changedLocked()
	m.mu.Unlock()

	m.feed.Stop()
	return nil
}

// Accept claims a pending ride: driver identity, accepted status, and a
// location stub are written to the record. Two drivers racing for the same
// ride are arbitrated by the store; this client only reflects what the
// store confirms. On success the candidate pool is cleared and the ride
// becomes current.
func (m *Machine) Accept(ctx context.Context, rideID string) error {
	if m.role != RoleDriver {
		return ErrWrongRole
	}
	m.mu.Lock()
	if !CanTransition(RoleDriver, m.state, StateRideAccepted) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, m.state)
	}
	var target *models.Ride
	for i := range m.candidates {
		if m.candidates[i].ID == rideID {
			r := m.candidates[i]
			target = &r
			break
		}
	}
	m.mu.Unlock()
	if target == nil {
		return gateway.ErrNotFound
	}

	// location stub near the pickup; real driver tracking is out of scope
	stub := models.Coord{Lat: target.Pickup.Lat - 0.002, Lon: target.Pickup.Lon - 0.002}
	if err := m.deps.Gateway.UpdateRide(ctx, rideID, gateway.RideUpdate{
		Status:    gateway.StatusPtr(models.StatusAccepted),
		DriverID:  gateway.StringPtr(m.deps.Identity.ID),
		DriverLoc: &stub,
	}); err != nil {
		m.toast("Accept failed", "Could not claim the ride. It may be taken.", notify.SeverityError)
		return fmt.Errorf("accept ride %s: %w", rideID, err)
	}

	accepted := *target
	accepted.Status = models.StatusAccepted
	accepted.DriverID = m.deps.Identity.ID
	accepted.DriverLoc = &stub

	m.mu.Lock()
	m.state = StateRideAccepted
	m.ride = &accepted
	m.candidates = nil
	m.changedLocked()
	m.mu.Unlock()

	m.watchRide(rideID)
	m.publish("driver", accepted)
	m.holdPayment(accepted)

	p := m.fetchProfile(accepted.RiderID)
	m.mu.Lock()
	m.counterpart = p
	m.changedLocked()
	m.mu.Unlock()

	m.toast("Ride accepted", "Head to the pickup point.", notify.SeverityInfo)
	return nil
}

// Decline removes one candidate locally; nothing durable changes and the
// other candidates stay.
func (m *Machine) Decline(rideID string) error {
	if m.role != RoleDriver {
		return ErrWrongRole
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.candidates {
		if m.candidates[i].ID == rideID {
			m.candidates = append(m.candidates[:i], m.candidates[i+1:]...)
			m.changedLocked()
			return nil
		}
	}
	return gateway.ErrNotFound
}

// ConfirmPickup writes in_progress once the rider is aboard.
func (m *Machine) ConfirmPickupDriver(ctx context.Context) error {
	if m.role != RoleDriver {
		return ErrWrongRole
	}
	return m.writeStatusTransition(ctx, StateInProgress, models.StatusInProgress, "driver")
}

// CompleteRide finishes the trip and captures the fare hold.
func (m *Machine) CompleteRide(ctx context.Context) error {
	if m.role != RoleDriver {
		return ErrWrongRole
	}
	if err := m.writeStatusTransition(ctx, StateCompleted, models.StatusCompleted, "driver"); err != nil {
		return err
	}
	m.capturePayment()
	m.feed.Stop()
	m.toast("Ride completed", "", notify.SeverityInfo)
	return nil
}

// FindNewRides resets a completed trip and returns to browsing.
func (m *Machine) FindNewRides(ctx context.Context) error {
	if m.role != RoleDriver {
		return ErrWrongRole
	}
	m.mu.Lock()
	if !CanTransition(RoleDriver, m.state, StateOnline) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, m.state)
	}
	m.state = StateOnline
	m.ride = nil
	m.counterpart = models.Profile{}
	m.changedLocked()
	m.mu.Unlock()

	m.browsePending()
	return nil
}

// browsePending points the feed at the pending-ride pool.
func (m *Machine) browsePending() {
	m.feed.Start(
		gateway.RideQuery{Statuses: []models.RideStatus{models.StatusPending}},
		gateway.ChangeFilter{Statuses: []models.RideStatus{models.StatusPending}},
		m.deps.PollInterval,
	)
}

// foldDriver applies externally-reported snapshots. While browsing, batches
// refresh the candidate pool; while on a ride, the current record's status
// is folded, with rider-side cancellation bouncing the driver back to
// browsing.
func (m *Machine) foldDriver(b feed.Batch) {
	m.mu.Lock()
	switch m.state {
	case StateOnline:
		m.foldCandidatesLocked(b)
		m.mu.Unlock()
	case StateRideAccepted, StatePickingUp, StateInProgress:
		cur := m.ride
		if cur == nil {
			m.mu.Unlock()
			return
		}
		var next *models.Ride
		for i := range b.Rides {
			if b.Rides[i].ID == cur.ID {
				next = &b.Rides[i]
				break
			}
		}
		if next == nil || staleUpdate(cur.Status, next.Status) {
			m.mu.Unlock()
			return
		}
		prevStatus := cur.Status
		r := *next
		if r.Status == models.StatusCancelled {
			// rider cancelled: reset and go back to browsing
			m.state = StateOnline
			m.ride = nil
			m.counterpart = models.Profile{}
			m.changedLocked()
			m.mu.Unlock()
			if prevStatus != models.StatusCancelled {
				m.toast("Ride cancelled", "The rider cancelled this ride.", notify.SeverityWarning)
				m.publish("store", r)
				m.releaseHold()
			}
			m.browsePending()
			return
		}
		m.ride = &r
		m.state = driverStateFor(r.Status)
		m.changedLocked()
		m.mu.Unlock()
		if r.Status == models.StatusCompleted && prevStatus != models.StatusCompleted {
			// rider confirmed dropoff; settle the hold and stop listening
			m.capturePayment()
			m.publish("store", r)
			m.feed.Stop()
		}
	default:
		m.mu.Unlock()
	}
}

// foldCandidatesLocked merges a batch into the pending pool. A poll batch
// replaces the pool; a pushed row is folded into it.
func (m *Machine) foldCandidatesLocked(b feed.Batch) {
	if !b.Poll && len(b.Rides) == 1 {
		r := b.Rides[0]
		if r.Status != models.StatusPending {
			// a candidate someone else claimed or the rider cancelled
			for i := range m.candidates {
				if m.candidates[i].ID == r.ID {
					m.candidates = append(m.candidates[:i], m.candidates[i+1:]...)
					m.changedLocked()
					return
				}
			}
			return
		}
		for i := range m.candidates {
			if m.candidates[i].ID == r.ID {
				m.candidates[i] = r
				m.changedLocked()
				return
			}
		}
		m.candidates = append(m.candidates, r)
		m.changedLocked()
		return
	}

	pending := make([]models.Ride, 0, len(b.Rides))
	for _, r := range b.Rides {
		if r.Status == models.StatusPending {
			pending = append(pending, r)
		}
	}
	m.candidates = pending
	m.changedLocked()
}
