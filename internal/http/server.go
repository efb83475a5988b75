// Package httpapi exposes the rider and driver dashboards over HTTP: JSON
// actions for the lifecycle operations, a websocket for state and toast
// push, and the usual health/metrics endpoints. Each authenticated identity
// gets at most one machine per role, created lazily on first contact.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/campus-rides/internal/fare"
	"github.com/example/campus-rides/internal/gateway"
	"github.com/example/campus-rides/internal/geocode"
	"github.com/example/campus-rides/internal/lifecycle"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/notify"
	"github.com/example/campus-rides/internal/observability"
)

// Options wires the server to its collaborators. Gateway is required; the
// rest default to disabled or zero-value behavior.
type Options struct {
	Gateway       gateway.Gateway
	Logger        *slog.Logger
	Policy        fare.Policy
	Geocoder      *geocode.HTTPGeocoder
	Profiles      lifecycle.ProfileSource
	Events        lifecycle.EventSink
	Payments      lifecycle.PaymentHooks
	PollInterval  time.Duration
	ToastCapacity int
	ToastDelay    time.Duration
}

type Server struct {
	mux    *mux.Router
	logger *slog.Logger
	opts   Options

	mu         sync.Mutex
	dashboards map[string]*dashboard // keyed by identity id
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Policy == (fare.Policy{}) {
		opts.Policy = fare.DefaultPolicy()
	}
	s := &Server{
		mux:        mux.NewRouter(),
		logger:     opts.Logger,
		opts:       opts,
		dashboards: make(map[string]*dashboard),
	}
	s.registerMiddleware()
	s.registerRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.mux.PathPrefix("/api").Subrouter()

	api.HandleFunc("/rider/request", s.handleRiderRequest).Methods(http.MethodPost)
	api.HandleFunc("/rider/cancel", s.handleRiderCancel).Methods(http.MethodPost)
	api.HandleFunc("/rider/pickup", s.handleRiderPickup).Methods(http.MethodPost)
	api.HandleFunc("/rider/dropoff", s.handleRiderDropoff).Methods(http.MethodPost)
	api.HandleFunc("/rider/dismiss", s.handleRiderDismiss).Methods(http.MethodPost)
	api.HandleFunc("/rider/state", s.handleRiderState).Methods(http.MethodGet)

	api.HandleFunc("/driver/online", s.handleDriverOnline).Methods(http.MethodPost)
	api.HandleFunc("/driver/offline", s.handleDriverOffline).Methods(http.MethodPost)
	api.HandleFunc("/driver/accept", s.handleDriverAccept).Methods(http.MethodPost)
	api.HandleFunc("/driver/decline", s.handleDriverDecline).Methods(http.MethodPost)
	api.HandleFunc("/driver/pickup", s.handleDriverPickup).Methods(http.MethodPost)
	api.HandleFunc("/driver/complete", s.handleDriverComplete).Methods(http.MethodPost)
	api.HandleFunc("/driver/next", s.handleDriverNext).Methods(http.MethodPost)
	api.HandleFunc("/driver/state", s.handleDriverState).Methods(http.MethodGet)

	api.HandleFunc("/toasts/dismiss", s.handleToastDismiss).Methods(http.MethodPost)
	api.HandleFunc("/signout", s.handleSignOut).Methods(http.MethodPost)

	s.mux.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Close tears down every mounted dashboard. Used on shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	boards := make([]*dashboard, 0, len(s.dashboards))
	for id, d := range s.dashboards {
		boards = append(boards, d)
		delete(s.dashboards, id)
	}
	s.mu.Unlock()
	for _, d := range boards {
		d.close()
	}
}

// dashboard is the per-identity server-side session: one toast queue and up
// to one machine per role, plus the websocket watchers fed by both.
type dashboard struct {
	identity models.Identity
	token    string
	toasts   *notify.Service

	mu       sync.Mutex
	machines map[lifecycle.Role]*lifecycle.Machine
	watchers map[chan wsEvent]struct{}
	closed   bool
}

type wsEvent struct {
	Type     string              `json:"type"` // "state" or "toasts"
	Snapshot *lifecycle.Snapshot `json:"snapshot,omitempty"`
	Toasts   []notify.Toast      `json:"toasts,omitempty"`
}

func (s *Server) newDashboard(identity models.Identity, token string) *dashboard {
	d := &dashboard{
		identity: identity,
		token:    token,
		toasts:   notify.NewService(s.opts.ToastCapacity, s.opts.ToastDelay),
		machines: make(map[lifecycle.Role]*lifecycle.Machine),
		watchers: make(map[chan wsEvent]struct{}),
	}
	d.toasts.OnPush(observability.ToastsPushed.Inc)
	d.toasts.OnChange(func(ts []notify.Toast) {
		d.broadcast(wsEvent{Type: "toasts", Toasts: ts})
	})
	return d
}

// broadcast delivers one event to every connected watcher without blocking;
// a slow websocket drops events rather than stalling the machines.
func (d *dashboard) broadcast(ev wsEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (d *dashboard) addWatcher() chan wsEvent {
	ch := make(chan wsEvent, 32)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		close(ch)
		return ch
	}
	d.watchers[ch] = struct{}{}
	d.mu.Unlock()
	return ch
}

func (d *dashboard) removeWatcher(ch chan wsEvent) {
	d.mu.Lock()
	_, ok := d.watchers[ch]
	delete(d.watchers, ch)
	d.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (d *dashboard) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	machines := d.machines
	d.machines = make(map[lifecycle.Role]*lifecycle.Machine)
	watchers := make([]chan wsEvent, 0, len(d.watchers))
	for ch := range d.watchers {
		watchers = append(watchers, ch)
		delete(d.watchers, ch)
	}
	d.mu.Unlock()

	for role, m := range machines {
		m.Close()
		observability.MachinesActive.WithLabelValues(string(role)).Dec()
	}
	d.toasts.Close()
	for _, ch := range watchers {
		close(ch)
	}
}

// authenticate resolves the bearer token to an identity and the identity's
// dashboard. A missing or invalid session gets a 401 with a toast-shaped
// notice in the body; no dashboard is created and nothing durable happens.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*dashboard, bool) {
	token := bearerToken(r)
	if token == "" {
		s.writeUnauthenticated(w)
		return nil, false
	}
	identity, err := s.opts.Gateway.Session(r.Context(), token)
	if err != nil {
		if !errors.Is(err, gateway.ErrUnauthenticated) {
			s.logger.Warn("session lookup failed", "error", err)
		}
		s.writeUnauthenticated(w)
		return nil, false
	}

	s.mu.Lock()
	d, ok := s.dashboards[identity.ID]
	if !ok {
		d = s.newDashboard(identity, token)
		s.dashboards[identity.ID] = d
	}
	s.mu.Unlock()
	return d, true
}

// machine returns the identity's machine for the role, mounting it on first
// contact so the resume contract runs against the durable store.
func (s *Server) machine(r *http.Request, d *dashboard, role lifecycle.Role) *lifecycle.Machine {
	d.mu.Lock()
	if m, ok := d.machines[role]; ok {
		d.mu.Unlock()
		return m
	}
	d.mu.Unlock()

	deps := lifecycle.Deps{
		Gateway:      s.opts.Gateway,
		Toasts:       d.toasts,
		Identity:     d.identity,
		Policy:       s.opts.Policy,
		Geocoder:     s.opts.Geocoder,
		Profiles:     s.opts.Profiles,
		Events:       s.opts.Events,
		Payments:     s.opts.Payments,
		Logger:       s.logger,
		PollInterval: s.opts.PollInterval,
	}
	var m *lifecycle.Machine
	if role == lifecycle.RoleRider {
		m = lifecycle.NewRider(r.Context(), deps)
	} else {
		m = lifecycle.NewDriver(r.Context(), deps)
	}

	d.mu.Lock()
	if existing, ok := d.machines[role]; ok {
		d.mu.Unlock()
		m.Close()
		return existing
	}
	d.machines[role] = m
	d.mu.Unlock()

	observability.MachinesActive.WithLabelValues(string(role)).Inc()
	m.OnChange(func(snap lifecycle.Snapshot) {
		d.broadcast(wsEvent{Type: "state", Snapshot: &snap})
	})
	return m
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (s *Server) writeUnauthenticated(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"error": "authentication required",
		"toast": notify.Toast{
			Title:       "Sign in required",
			Description: "You must be signed in to use the dashboard.",
			Severity:    notify.SeverityWarning,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
