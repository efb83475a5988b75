package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/campus-rides/internal/fare"
	"github.com/example/campus-rides/internal/feed"
	"github.com/example/campus-rides/internal/gateway"
	"github.com/example/campus-rides/internal/geocode"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/notify"
)

// EventSink receives confirmed lifecycle transitions for telemetry.
// Publishing is best-effort; failures never affect the machine.
type EventSink interface {
	Publish(ctx context.Context, e models.RideEvent) error
}

// PaymentHooks holds/captures/releases the estimated fare alongside the
// lifecycle. Optional; a nil hook disables payments.
type PaymentHooks interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentID string) error
	Cancel(ctx context.Context, paymentID string) error
}

// ProfileSource resolves counterpart profiles; usually the gateway behind a
// cache.
type ProfileSource interface {
	Lookup(ctx context.Context, id string) (models.Profile, error)
}

// Deps wires a machine to its collaborators. Gateway, Toasts, and Identity
// are required; the rest have sensible zero-value behavior.
type Deps struct {
	Gateway      gateway.Gateway
	Toasts       *notify.Service
	Identity     models.Identity
	Policy       fare.Policy
	Geocoder     *geocode.HTTPGeocoder
	Profiles     ProfileSource
	Events       EventSink
	Payments     PaymentHooks
	Logger       *slog.Logger
	PollInterval time.Duration
}

// Machine is one dashboard's ride state machine. It lives from view mount
// to unmount; Close releases the feed and its subscription.
type Machine struct {
	role   Role
	deps   Deps
	logger *slog.Logger
	feed   *feed.Feed

	mu          sync.Mutex
	state       State
	ride        *models.Ride
	counterpart models.Profile // driver profile on rider side, rider profile on driver side
	candidates  []models.Ride  // driver browsing pool
	paymentID   string
	onChange    func(Snapshot)

	stopc    chan struct{}
	stopOnce sync.Once
}

// Snapshot is the dashboard-facing view of the machine.
type Snapshot struct {
	Role        Role           `json:"role"`
	State       State          `json:"state"`
	Ride        *models.Ride   `json:"ride,omitempty"`
	Counterpart models.Profile `json:"counterpart,omitempty"`
	Candidates  []models.Ride  `json:"candidates,omitempty"`
}

func newMachine(role Role, deps Deps) *Machine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Policy == (fare.Policy{}) {
		deps.Policy = fare.DefaultPolicy()
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = feed.DefaultPollInterval
	}
	m := &Machine{
		role:   role,
		deps:   deps,
		logger: deps.Logger.With("role", string(role), "user", deps.Identity.ID),
		feed:   feed.New(deps.Gateway, deps.Logger),
		stopc:  make(chan struct{}),
	}
	if role == RoleRider {
		m.state = StateIdle
	} else {
		m.state = StateOffline
	}
	go m.consumeFeed()
	return m
}

// NewRider builds a rider machine and runs the resume contract: if the
// identity has a non-terminal ride, the machine re-attaches to it instead
// of starting idle.
func NewRider(ctx context.Context, deps Deps) *Machine {
	m := newMachine(RoleRider, deps)
	m.resumeRider(ctx)
	return m
}

// NewDriver builds a driver machine and resumes any active ride already
// assigned to the identity.
func NewDriver(ctx context.Context, deps Deps) *Machine {
	m := newMachine(RoleDriver, deps)
	m.resumeDriver(ctx)
	return m
}

// OnChange registers a hook invoked with a snapshot after every state
// change. Used by the dashboard surface for websocket push.
func (m *Machine) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *Machine) Role() Role { return m.role }

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Close is the unmount path: it stops the feed (tearing down the change
// subscription) and the folding goroutine. Local state is discarded with
// the machine; the durable record stays wherever it was.
func (m *Machine) Close() {
	m.stopOnce.Do(func() {
		close(m.stopc)
		m.feed.Stop()
	})
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{Role: m.role, State: m.state, Counterpart: m.counterpart}
	if m.ride != nil {
		r := *m.ride
		snap.Ride = &r
	}
	if len(m.candidates) > 0 {
		snap.Candidates = append([]models.Ride(nil), m.candidates...)
	}
	return snap
}

// changedLocked fires the change hook with a fresh snapshot.
func (m *Machine) changedLocked() {
	if m.onChange == nil {
		return
	}
	snap := m.snapshotLocked()
	fn := m.onChange
	go fn(snap)
}

func (m *Machine) consumeFeed() {
	for {
		select {
		case <-m.stopc:
			return
		case b := <-m.feed.Snapshots():
			if m.role == RoleRider {
				m.foldRider(b.Rides)
			} else {
				m.foldDriver(b)
			}
		}
	}
}

// watchRide points the feed at one ride record.
func (m *Machine) watchRide(id string) {
	m.feed.Start(
		gateway.RideQuery{RiderID: m.riderFilterID(), DriverID: m.driverFilterID(), Limit: 1},
		gateway.ChangeFilter{RideID: id},
		m.deps.PollInterval,
	)
}

func (m *Machine) riderFilterID() string {
	if m.role == RoleRider {
		return m.deps.Identity.ID
	}
	return ""
}

func (m *Machine) driverFilterID() string {
	if m.role == RoleDriver {
		return m.deps.Identity.ID
	}
	return ""
}

// publish emits a telemetry event for a confirmed transition.
func (m *Machine) publish(actor string, r models.Ride) {
	if m.deps.Events == nil {
		return
	}
	e := models.RideEvent{
		RideID:   r.ID,
		RiderID:  r.RiderID,
		DriverID: r.DriverID,
		Status:   r.Status,
		Actor:    actor,
		At:       time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.deps.Events.Publish(ctx, e); err != nil {
		m.logger.Warn("ride event publish failed", "ride", r.ID, "error", err)
	}
}

func (m *Machine) toast(title, desc string, sev notify.Severity) {
	if m.deps.Toasts != nil {
		m.deps.Toasts.Push(title, desc, sev)
	}
}

// fetchProfile loads the counterpart's profile; a failed lookup degrades to
// an empty profile rather than blocking the transition.
func (m *Machine) fetchProfile(id string) models.Profile {
	if id == "" {
		return models.Profile{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var (
		p   models.Profile
		err error
	)
	if m.deps.Profiles != nil {
		p, err = m.deps.Profiles.Lookup(ctx, id)
	} else {
		p, err = m.deps.Gateway.Profile(ctx, id)
	}
	if err != nil {
		m.logger.Warn("profile lookup failed", "id", id, "error", err)
		return models.Profile{ID: id}
	}
	return p
}
