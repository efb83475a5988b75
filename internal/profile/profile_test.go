package profile

import (
	"context"
	"testing"
	"time"

	"github.com/example/campus-rides/internal/gateway"
	"github.com/example/campus-rides/internal/models"
)

func TestLookupCachesResult(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	gw.SetProfile(models.Profile{ID: "u1", Name: "Asha", Rating: 4.8})

	s := NewService(gw, nil)
	ctx := context.Background()

	p, err := s.Lookup(ctx, "u1")
	if err != nil || p.Name != "Asha" {
		t.Fatalf("lookup: %+v err=%v", p, err)
	}

	// remove the backing row; the cached copy should still serve
	gw.SetProfile(models.Profile{ID: "u1", Name: "changed"})
	p, err = s.Lookup(ctx, "u1")
	if err != nil || p.Name != "Asha" {
		t.Fatalf("expected cached profile, got %+v err=%v", p, err)
	}
}

func TestLookupMiss(t *testing.T) {
	s := NewService(gateway.NewMemoryGateway(), nil)
	if _, err := s.Lookup(context.Background(), "nobody"); err != gateway.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(20 * time.Millisecond)
	ctx := context.Background()
	c.Set(ctx, models.Profile{ID: "u1", Name: "Asha"})

	if _, ok := c.Get(ctx, "u1"); !ok {
		t.Fatal("expected cache hit")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get(ctx, "u1"); ok {
		t.Fatal("expected expiry")
	}
}
