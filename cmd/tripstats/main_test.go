package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/campus-rides/internal/models"
)

// fakeStats implements StatsWriter for tests
type fakeStats struct {
	failIncr  int // number of times to fail IncrStatus before succeeding
	failLast  int // number of times to fail SetLastState before succeeding
	incrCalls int
	lastCalls int
}

func (f *fakeStats) IncrStatus(ctx context.Context, status string) error {
	f.incrCalls++
	if f.incrCalls <= f.failIncr {
		return errors.New("incr fail")
	}
	return nil
}

func (f *fakeStats) SetLastState(ctx context.Context, e models.RideEvent) error {
	f.lastCalls++
	if f.lastCalls <= f.failLast {
		return errors.New("hset fail")
	}
	return nil
}

func TestUpdateStatsWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeStats{failIncr: 1, failLast: 1}
	e := models.RideEvent{RideID: "ride1", Status: models.StatusCompleted, Actor: "driver", At: time.Now()}
	ctx := context.Background()
	start := time.Now()
	if err := updateStatsWithRetry(ctx, f, e, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.incrCalls < 2 || f.lastCalls < 2 {
		t.Fatalf("expected retries, got incr=%d last=%d", f.incrCalls, f.lastCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdateStatsWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeStats{failIncr: 5}
	e := models.RideEvent{RideID: "ride1", Status: models.StatusPending, Actor: "rider", At: time.Now()}
	if err := updateStatsWithRetry(context.Background(), f, e, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
