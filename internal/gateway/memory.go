package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/campus-rides/internal/models"
)

// MemoryGateway is an in-process stand-in for the hosted service with the
// same fan-out behavior: every insert/update is delivered to matching
// subscribers. Used by tests and local development.
type MemoryGateway struct {
	mu       sync.RWMutex
	rides    map[string]models.Ride
	sessions map[string]models.Identity
	profiles map[string]models.Profile
	subs     map[*memorySub]struct{}
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		rides:    make(map[string]models.Ride),
		sessions: make(map[string]models.Identity),
		profiles: make(map[string]models.Profile),
		subs:     make(map[*memorySub]struct{}),
	}
}

// RegisterSession installs a token → identity mapping, standing in for the
// hosted auth service.
func (m *MemoryGateway) RegisterSession(token string, id models.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[token] = id
}

// SetProfile seeds a profile row.
func (m *MemoryGateway) SetProfile(p models.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

func (m *MemoryGateway) Session(ctx context.Context, token string) (models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessions[token]
	if !ok {
		return models.Identity{}, ErrUnauthenticated
	}
	return id, nil
}

func (m *MemoryGateway) SignOut(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *MemoryGateway) CreateRide(ctx context.Context, r *models.Ride) (string, error) {
	m.mu.Lock()
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = r.CreatedAt
	m.rides[r.ID] = *r
	stored := m.rides[r.ID]
	m.mu.Unlock()

	m.fanOut(Change{Kind: "insert", Ride: stored})
	return r.ID, nil
}

func (m *MemoryGateway) UpdateRide(ctx context.Context, id string, u RideUpdate) error {
	m.mu.Lock()
	r, ok := m.rides[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.DriverID != nil {
		r.DriverID = *u.DriverID
	}
	if u.DriverLoc != nil {
		loc := *u.DriverLoc
		r.DriverLoc = &loc
	}
	r.UpdatedAt = time.Now()
	m.rides[id] = r
	m.mu.Unlock()

	m.fanOut(Change{Kind: "update", Ride: r})
	return nil
}

func (m *MemoryGateway) QueryRides(ctx context.Context, q RideQuery) ([]models.Ride, error) {
	m.mu.RLock()
	out := make([]models.Ride, 0, 8)
	for _, r := range m.rides {
		if q.RiderID != "" && r.RiderID != q.RiderID {
			continue
		}
		if q.DriverID != "" && r.DriverID != q.DriverID {
			continue
		}
		if len(q.Statuses) > 0 {
			ok := false
			for _, s := range q.Statuses {
				if r.Status == s {
					ok = true
					break
				}
			}
			if !ok {
				continue
			}
		}
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryGateway) Profile(ctx context.Context, id string) (models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return models.Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryGateway) Subscribe(ctx context.Context, f ChangeFilter) (Subscription, error) {
	s := &memorySub{gw: m, filter: f, ch: make(chan Change, 32)}
	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()
	return s, nil
}

// Ride returns the stored copy, for test assertions.
func (m *MemoryGateway) Ride(id string) (models.Ride, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	return r, ok
}

// RideCount reports how many records exist, for test assertions.
func (m *MemoryGateway) RideCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rides)
}

func (m *MemoryGateway) fanOut(c Change) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for s := range m.subs {
		if !s.filter.Matches(c.Ride) {
			continue
		}
		select {
		case s.ch <- c:
		default:
			// slow subscriber; the poll path will catch it up
		}
	}
}

type memorySub struct {
	gw     *MemoryGateway
	filter ChangeFilter
	ch     chan Change
	once   sync.Once
}

func (s *memorySub) Changes() <-chan Change { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.gw.mu.Lock()
		delete(s.gw.subs, s)
		s.gw.mu.Unlock()
		close(s.ch)
	})
	return nil
}
