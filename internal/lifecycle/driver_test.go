package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/campus-rides/internal/gateway"
	"github.com/example/campus-rides/internal/models"
)

func seedPending(t *testing.T, gw *gateway.MemoryGateway, riderID string) *models.Ride {
	t.Helper()
	r := &models.Ride{
		RiderID:    riderID,
		PickupName: "Main Gate", DropoffName: "Library",
		Pickup: testPickup, Dropoff: testDropoff,
		Status:        models.StatusPending,
		EstimatedFare: 39,
	}
	if _, err := gw.CreateRide(context.Background(), r); err != nil {
		t.Fatalf("seed pending ride: %v", err)
	}
	return r
}

func TestGoOnlineRequiresIdentity(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	m := NewDriver(context.Background(), testDeps(gw, ""))
	defer m.Close()

	if err := m.GoOnline(context.Background()); !errors.Is(err, gateway.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if snap := m.Snapshot(); snap.State != StateOffline {
		t.Fatalf("state = %s, want offline", snap.State)
	}
}

func TestGoOnlinePopulatesCandidates(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	seedPending(t, gw, "rider1")
	seedPending(t, gw, "rider2")

	m := NewDriver(context.Background(), testDeps(gw, "driver1"))
	defer m.Close()

	if err := m.GoOnline(context.Background()); err != nil {
		t.Fatalf("go online: %v", err)
	}
	waitFor(t, m, "two candidates", func(s Snapshot) bool { return len(s.Candidates) == 2 })
}

func TestNewPendingRideIsPushedToOnlineDriver(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	m := NewDriver(context.Background(), testDeps(gw, "driver1"))
	defer m.Close()

	if err := m.GoOnline(context.Background()); err != nil {
		t.Fatalf("go online: %v", err)
	}
	r := seedPending(t, gw, "rider1")
	waitFor(t, m, "pushed candidate", func(s Snapshot) bool {
		return len(s.Candidates) == 1 && s.Candidates[0].ID == r.ID
	})
}

func TestDeclineRemovesOnlyTarget(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	r1 := seedPending(t, gw, "rider1")
	r2 := seedPending(t, gw, "rider2")

	m := NewDriver(context.Background(), testDeps(gw, "driver1"))
	defer m.Close()
	if err := m.GoOnline(context.Background()); err != nil {
		t.Fatalf("go online: %v", err)
	}
	waitFor(t, m, "two candidates", func(s Snapshot) bool { return len(s.Candidates) == 2 })

	if err := m.Decline(r1.ID); err != nil {
		t.Fatalf("decline: %v", err)
	}
	snap := m.Snapshot()
	if len(snap.Candidates) != 1 || snap.Candidates[0].ID != r2.ID {
		t.Fatalf("candidates = %+v", snap.Candidates)
	}
	if snap.State != StateOnline {
		t.Fatalf("state = %s, want online", snap.State)
	}
	// nothing durable changed
	if stored, _ := gw.Ride(r1.ID); stored.Status != models.StatusPending {
		t.Fatalf("declined ride status = %s, want pending", stored.Status)
	}
}

func TestAcceptClaimsRideAndClearsCandidates(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	gw.SetProfile(models.Profile{ID: "rider1", Name: "Ravi", Rating: 4.5})
	r1 := seedPending(t, gw, "rider1")
	seedPending(t, gw, "rider2")

	pay := &fakePayments{}
	deps := testDeps(gw, "driver1")
	deps.Payments = pay
	m := NewDriver(context.Background(), deps)
	defer m.Close()

	if err := m.GoOnline(context.Background()); err != nil {
		t.Fatalf("go online: %v", err)
	}
	waitFor(t, m, "two candidates", func(s Snapshot) bool { return len(s.Candidates) == 2 })

	if err := m.Accept(context.Background(), r1.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	snap := m.Snapshot()
	if snap.State != StateRideAccepted {
		t.Fatalf("state = %s, want rideAccepted", snap.State)
	}
	if len(snap.Candidates) != 0 {
		t.Fatalf("candidate pool should be cleared, got %d", len(snap.Candidates))
	}
	stored, _ := gw.Ride(r1.ID)
	if stored.Status != models.StatusAccepted || stored.DriverID != "driver1" {
		t.Fatalf("durable record = %+v", stored)
	}
	if stored.DriverLoc == nil {
		t.Fatal("expected driver location stub on the record")
	}
	waitFor(t, m, "rider profile", func(s Snapshot) bool { return s.Counterpart.Name == "Ravi" })
	if pay.held != r1.EstimatedFare {
		t.Fatalf("fare hold = %d, want %d", pay.held, r1.EstimatedFare)
	}
}

func TestDriverTripFlow(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	r := seedPending(t, gw, "rider1")

	pay := &fakePayments{}
	deps := testDeps(gw, "driver1")
	deps.Payments = pay
	m := NewDriver(context.Background(), deps)
	defer m.Close()

	if err := m.GoOnline(context.Background()); err != nil {
		t.Fatalf("go online: %v", err)
	}
	waitFor(t, m, "candidate", func(s Snapshot) bool { return len(s.Candidates) == 1 })
	if err := m.Accept(context.Background(), r.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := m.ConfirmPickupDriver(context.Background()); err != nil {
		t.Fatalf("confirm pickup: %v", err)
	}
	if stored, _ := gw.Ride(r.ID); stored.Status != models.StatusInProgress {
		t.Fatalf("durable status = %s, want in_progress", stored.Status)
	}
	if err := m.CompleteRide(context.Background()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if stored, _ := gw.Ride(r.ID); stored.Status != models.StatusCompleted {
		t.Fatalf("durable status = %s, want completed", stored.Status)
	}
	pay.mu.Lock()
	captured := pay.captured
	pay.mu.Unlock()
	if !captured {
		t.Fatal("expected fare capture on completion")
	}
	if err := m.FindNewRides(context.Background()); err != nil {
		t.Fatalf("find new rides: %v", err)
	}
	if snap := m.Snapshot(); snap.State != StateOnline || snap.Ride != nil {
		t.Fatalf("expected online browsing, got %s", snap.State)
	}
}

func TestRiderCompletionCapturesFareHold(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	r := seedPending(t, gw, "rider1")

	pay := &fakePayments{}
	deps := testDeps(gw, "driver1")
	deps.Payments = pay
	m := NewDriver(context.Background(), deps)
	defer m.Close()

	if err := m.GoOnline(context.Background()); err != nil {
		t.Fatalf("go online: %v", err)
	}
	waitFor(t, m, "candidate", func(s Snapshot) bool { return len(s.Candidates) == 1 })
	if err := m.Accept(context.Background(), r.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// the rider drives the rest of the trip from their own dashboard
	for _, status := range []models.RideStatus{models.StatusInProgress, models.StatusCompleted} {
		if err := gw.UpdateRide(context.Background(), r.ID, gateway.RideUpdate{
			Status: gateway.StatusPtr(status),
		}); err != nil {
			t.Fatalf("update to %s: %v", status, err)
		}
	}
	waitFor(t, m, "completed", func(s Snapshot) bool { return s.State == StateCompleted })

	deadline := time.Now().Add(2 * time.Second)
	for {
		pay.mu.Lock()
		captured, released := pay.captured, pay.released
		pay.mu.Unlock()
		if captured {
			if released {
				t.Fatal("hold released instead of captured")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("hold of %d never captured after external completion", pay.held)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAcceptedRideCannotBeAbandonedLocally(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	r := seedPending(t, gw, "rider1")

	m := NewDriver(context.Background(), testDeps(gw, "driver1"))
	defer m.Close()
	if err := m.GoOnline(context.Background()); err != nil {
		t.Fatalf("go online: %v", err)
	}
	waitFor(t, m, "candidate", func(s Snapshot) bool { return len(s.Candidates) == 1 })
	if err := m.Accept(context.Background(), r.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if err := m.GoOnline(context.Background()); !errors.Is(err, ErrWrongState) {
		t.Fatalf("GoOnline mid-ride = %v, want ErrWrongState", err)
	}
	if err := m.FindNewRides(context.Background()); !errors.Is(err, ErrWrongState) {
		t.Fatalf("FindNewRides mid-ride = %v, want ErrWrongState", err)
	}
	if snap := m.Snapshot(); snap.State != StateRideAccepted {
		t.Fatalf("state = %s, want rideAccepted", snap.State)
	}
	stored, _ := gw.Ride(r.ID)
	if stored.Status != models.StatusAccepted || stored.DriverID != "driver1" {
		t.Fatalf("durable record = %+v", stored)
	}
}

func TestRiderCancellationBouncesDriverBackOnline(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	r := seedPending(t, gw, "rider1")

	m := NewDriver(context.Background(), testDeps(gw, "driver1"))
	defer m.Close()
	if err := m.GoOnline(context.Background()); err != nil {
		t.Fatalf("go online: %v", err)
	}
	waitFor(t, m, "candidate", func(s Snapshot) bool { return len(s.Candidates) == 1 })
	if err := m.Accept(context.Background(), r.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if err := gw.UpdateRide(context.Background(), r.ID, gateway.RideUpdate{
		Status: gateway.StatusPtr(models.StatusCancelled),
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	snap := waitFor(t, m, "back online", func(s Snapshot) bool { return s.State == StateOnline })
	if snap.Ride != nil {
		t.Fatalf("current ride should be cleared, got %+v", snap.Ride)
	}
}

func TestGoOfflineClearsPoolAndStopsListening(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	seedPending(t, gw, "rider1")

	m := NewDriver(context.Background(), testDeps(gw, "driver1"))
	defer m.Close()
	if err := m.GoOnline(context.Background()); err != nil {
		t.Fatalf("go online: %v", err)
	}
	waitFor(t, m, "candidate", func(s Snapshot) bool { return len(s.Candidates) == 1 })

	if err := m.GoOffline(); err != nil {
		t.Fatalf("go offline: %v", err)
	}
	snap := m.Snapshot()
	if snap.State != StateOffline || len(snap.Candidates) != 0 {
		t.Fatalf("expected offline with empty pool, got %s/%d", snap.State, len(snap.Candidates))
	}
}

func TestDriverResumesActiveRide(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	gw.SetProfile(models.Profile{ID: "rider1", Name: "Ravi"})
	seed := &models.Ride{
		RiderID: "rider1", DriverID: "driver1",
		Pickup: testPickup, Dropoff: testDropoff,
		Status: models.StatusInProgress,
	}
	if _, err := gw.CreateRide(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := NewDriver(context.Background(), testDeps(gw, "driver1"))
	defer m.Close()

	snap := m.Snapshot()
	if snap.State != StateInProgress {
		t.Fatalf("resumed state = %s, want inProgress", snap.State)
	}
	if snap.Ride == nil || snap.Ride.ID != seed.ID {
		t.Fatalf("resumed ride = %+v", snap.Ride)
	}
}
