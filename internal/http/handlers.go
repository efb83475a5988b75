package httpapi

import (
	"errors"
	"net/http"

	"github.com/example/campus-rides/internal/gateway"
	"github.com/example/campus-rides/internal/lifecycle"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/notify"
	"github.com/example/campus-rides/internal/observability"
)

type rideRequest struct {
	PickupName  string       `json:"pickup_name"`
	Pickup      models.Coord `json:"pickup"`
	DropoffName string       `json:"dropoff_name"`
	RideType    string       `json:"ride_type"`
}

type rideIDRequest struct {
	RideID string `json:"ride_id"`
}

type toastDismissRequest struct {
	ID int `json:"id"`
}

// stateResponse is the dashboard view: machine snapshot plus the toast queue.
type stateResponse struct {
	lifecycle.Snapshot
	Toasts []notify.Toast `json:"toasts"`
}

func (s *Server) handleRiderRequest(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req rideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	m := s.machine(r, d, lifecycle.RoleRider)
	ride, err := m.RequestRide(r.Context(), req.PickupName, req.Pickup, req.DropoffName, req.RideType)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	observability.RidesRequested.Inc()
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleRiderCancel(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	m := s.machine(r, d, lifecycle.RoleRider)
	if err := m.CancelRide(r.Context()); err != nil {
		s.writeActionError(w, err)
		return
	}
	observability.RidesCancelled.Inc()
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleRiderPickup(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	m := s.machine(r, d, lifecycle.RoleRider)
	if err := m.ConfirmPickup(r.Context()); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleRiderDropoff(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	m := s.machine(r, d, lifecycle.RoleRider)
	if err := m.ConfirmDropoff(r.Context()); err != nil {
		s.writeActionError(w, err)
		return
	}
	observability.RidesCompleted.Inc()
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleRiderDismiss(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	m := s.machine(r, d, lifecycle.RoleRider)
	if err := m.Dismiss(); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleRiderState(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	m := s.machine(r, d, lifecycle.RoleRider)
	writeJSON(w, http.StatusOK, stateResponse{Snapshot: m.Snapshot(), Toasts: d.toasts.Snapshot()})
}

func (s *Server) handleDriverOnline(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	m := s.machine(r, d, lifecycle.RoleDriver)
	if err := m.GoOnline(r.Context()); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleDriverOffline(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	m := s.machine(r, d, lifecycle.RoleDriver)
	if err := m.GoOffline(); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleDriverAccept(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req rideIDRequest
	if err := decodeJSON(r, &req); err != nil || req.RideID == "" {
		writeError(w, http.StatusBadRequest, "ride_id is required")
		return
	}
	m := s.machine(r, d, lifecycle.RoleDriver)
	if err := m.Accept(r.Context(), req.RideID); err != nil {
		s.writeActionError(w, err)
		return
	}
	observability.RidesAccepted.Inc()
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleDriverDecline(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req rideIDRequest
	if err := decodeJSON(r, &req); err != nil || req.RideID == "" {
		writeError(w, http.StatusBadRequest, "ride_id is required")
		return
	}
	m := s.machine(r, d, lifecycle.RoleDriver)
	if err := m.Decline(req.RideID); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleDriverPickup(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	m := s.machine(r, d, lifecycle.RoleDriver)
	if err := m.ConfirmPickupDriver(r.Context()); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleDriverComplete(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	m := s.machine(r, d, lifecycle.RoleDriver)
	if err := m.CompleteRide(r.Context()); err != nil {
		s.writeActionError(w, err)
		return
	}
	observability.RidesCompleted.Inc()
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleDriverNext(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	m := s.machine(r, d, lifecycle.RoleDriver)
	if err := m.FindNewRides(r.Context()); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleDriverState(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	m := s.machine(r, d, lifecycle.RoleDriver)
	writeJSON(w, http.StatusOK, stateResponse{Snapshot: m.Snapshot(), Toasts: d.toasts.Snapshot()})
}

func (s *Server) handleToastDismiss(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req toastDismissRequest
	if err := decodeJSON(r, &req); err != nil || req.ID <= 0 {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	d.toasts.Dismiss(req.ID)
	writeJSON(w, http.StatusOK, d.toasts.Snapshot())
}

// handleSignOut revokes the session upstream and tears the dashboard down:
// machines close, subscriptions end, the toast queue is dropped.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if err := s.opts.Gateway.SignOut(r.Context(), d.token); err != nil {
		s.logger.Warn("sign out failed", "error", err)
	}

	s.mu.Lock()
	delete(s.dashboards, d.identity.ID)
	s.mu.Unlock()
	d.close()

	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

// writeActionError maps lifecycle and gateway errors onto HTTP statuses.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrUnauthenticated):
		s.writeUnauthenticated(w)
	case errors.Is(err, lifecycle.ErrMissingLocation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lifecycle.ErrWrongState), errors.Is(err, lifecycle.ErrWrongRole):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, gateway.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadGateway, "ride service unavailable")
	}
}
