package lifecycle

import (
	"context"
	"time"

	"github.com/example/campus-rides/internal/models"
)

// Payment hooks follow the lifecycle: hold the estimated fare on accept,
// capture on completion, release on cancellation. All best-effort; a
// payment failure is logged and toasted, never fatal to the machine.

func (m *Machine) holdPayment(r models.Ride) {
	if m.deps.Payments == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := m.deps.Payments.Hold(ctx, r.EstimatedFare, "inr", r.RiderID)
	if err != nil {
		m.logger.Warn("fare hold failed", "ride", r.ID, "error", err)
		return
	}
	m.mu.Lock()
	m.paymentID = id
	m.mu.Unlock()
}

func (m *Machine) capturePayment() {
	m.mu.Lock()
	id := m.paymentID
	m.paymentID = ""
	m.mu.Unlock()
	if id == "" || m.deps.Payments == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.deps.Payments.Capture(ctx, id); err != nil {
		m.logger.Warn("fare capture failed", "payment", id, "error", err)
	}
}

func (m *Machine) releaseHold() {
	m.mu.Lock()
	id := m.paymentID
	m.paymentID = ""
	m.mu.Unlock()
	if id == "" || m.deps.Payments == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.deps.Payments.Cancel(ctx, id); err != nil {
		m.logger.Warn("fare hold release failed", "payment", id, "error", err)
	}
}
