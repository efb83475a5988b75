// Package feed merges the gateway's push subscription with a periodic
// re-poll into one stream of ride snapshots, so consumers never care whether
// an update arrived via push or poll. The poll leg exists to mask missed or
// out-of-order change delivery; folding must therefore be idempotent.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/campus-rides/internal/gateway"
	"github.com/example/campus-rides/internal/models"
)

const DefaultPollInterval = 10 * time.Second

// Batch is one delivery: either the full query result from the poll leg or
// a single changed row from the push leg.
type Batch struct {
	Poll  bool
	Rides []models.Ride
}

// Feed is a restartable ride-snapshot stream. Start may be called again
// after Stop with a new query, which is how the driver dashboard switches
// between browsing pending rides and tracking one accepted ride.
type Feed struct {
	gw     gateway.Gateway
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	out    chan Batch
}

func New(gw gateway.Gateway, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{gw: gw, logger: logger, out: make(chan Batch, 16)}
}

// Snapshots delivers ride batches regardless of origin.
func (f *Feed) Snapshots() <-chan Batch { return f.out }

// Start begins streaming for the given query/filter pair. Any previous run
// is stopped first. Subscription setup failure is logged and swallowed; the
// poll keeps the stream alive (it fires once immediately).
func (f *Feed) Start(query gateway.RideQuery, filter gateway.ChangeFilter, interval time.Duration) {
	f.Stop()
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()

	var sub gateway.Subscription
	if s, err := f.gw.Subscribe(ctx, filter); err != nil {
		f.logger.Warn("change subscription failed; relying on poll", "error", err)
	} else {
		sub = s
	}

	f.wg.Add(1)
	go f.run(ctx, sub, query, interval)
}

// Stop tears down the subscription and poll ticker. Safe to call repeatedly
// and on a feed that was never started.
func (f *Feed) Stop() {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
}

func (f *Feed) run(ctx context.Context, sub gateway.Subscription, query gateway.RideQuery, interval time.Duration) {
	defer f.wg.Done()
	if sub != nil {
		defer sub.Close()
	}

	f.poll(ctx, query)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var changes <-chan gateway.Change
	if sub != nil {
		changes = sub.Changes()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll(ctx, query)
		case c, ok := <-changes:
			if !ok {
				// push leg died; keep polling
				changes = nil
				continue
			}
			f.deliver(ctx, Batch{Rides: []models.Ride{c.Ride}})
		}
	}
}

func (f *Feed) poll(ctx context.Context, query gateway.RideQuery) {
	rides, err := f.gw.QueryRides(ctx, query)
	if err != nil {
		if ctx.Err() == nil {
			f.logger.Warn("feed poll failed", "error", err)
		}
		return
	}
	f.deliver(ctx, Batch{Poll: true, Rides: rides})
}

func (f *Feed) deliver(ctx context.Context, b Batch) {
	select {
	case f.out <- b:
	case <-ctx.Done():
	}
}
