package feed

import (
	"context"
	"testing"
	"time"

	"github.com/example/campus-rides/internal/gateway"
	"github.com/example/campus-rides/internal/models"
)

func waitForBatch(t *testing.T, f *Feed, match func(Batch) bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case batch := <-f.Snapshots():
			if match(batch) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func TestFeedDeliversInitialPoll(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	ctx := context.Background()
	r := &models.Ride{RiderID: "u1", Status: models.StatusPending}
	if _, err := gw.CreateRide(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	f := New(gw, nil)
	f.Start(gateway.RideQuery{RiderID: "u1"}, gateway.ChangeFilter{RiderID: "u1"}, time.Hour)
	defer f.Stop()

	waitForBatch(t, f, func(b Batch) bool {
		return b.Poll && len(b.Rides) == 1 && b.Rides[0].ID == r.ID
	})
}

func TestFeedDeliversPushedChange(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	ctx := context.Background()
	r := &models.Ride{RiderID: "u1", Status: models.StatusPending}
	if _, err := gw.CreateRide(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	f := New(gw, nil)
	f.Start(gateway.RideQuery{RiderID: "u1"}, gateway.ChangeFilter{RideID: r.ID}, time.Hour)
	defer f.Stop()

	// drain the initial poll first
	waitForBatch(t, f, func(b Batch) bool { return len(b.Rides) == 1 })

	if err := gw.UpdateRide(ctx, r.ID, gateway.RideUpdate{Status: gateway.StatusPtr(models.StatusAccepted)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitForBatch(t, f, func(b Batch) bool {
		return !b.Poll && len(b.Rides) == 1 && b.Rides[0].Status == models.StatusAccepted
	})
}

func TestFeedIsRestartable(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	ctx := context.Background()
	r1 := &models.Ride{RiderID: "u1", Status: models.StatusPending}
	r2 := &models.Ride{RiderID: "u2", Status: models.StatusPending}
	for _, r := range []*models.Ride{r1, r2} {
		if _, err := gw.CreateRide(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	f := New(gw, nil)
	f.Start(gateway.RideQuery{RiderID: "u1"}, gateway.ChangeFilter{RiderID: "u1"}, time.Hour)
	waitForBatch(t, f, func(b Batch) bool { return len(b.Rides) == 1 && b.Rides[0].ID == r1.ID })

	f.Start(gateway.RideQuery{RiderID: "u2"}, gateway.ChangeFilter{RiderID: "u2"}, time.Hour)
	defer f.Stop()
	waitForBatch(t, f, func(b Batch) bool { return len(b.Rides) == 1 && b.Rides[0].ID == r2.ID })
}

func TestFeedStopIsIdempotent(t *testing.T) {
	f := New(gateway.NewMemoryGateway(), nil)
	f.Stop()
	f.Start(gateway.RideQuery{}, gateway.ChangeFilter{}, time.Hour)
	f.Stop()
	f.Stop()
}
