// Package notify is the process-wide toast queue: a capacity-bounded list of
// user-visible messages with auto-purge after dismissal. Purely ephemeral
// client state; nothing here touches the external store.
package notify

import (
	"sync"
	"time"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

const (
	DefaultCapacity     = 5
	DefaultDismissDelay = 5 * time.Second
)

type Toast struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Dismissed   bool      `json:"dismissed"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service owns the queue. Construct one at startup and Close it on
// shutdown; Close stops all pending purge timers.
type Service struct {
	mu       sync.Mutex
	toasts   []Toast
	nextID   int
	capacity int
	delay    time.Duration
	timers   map[int]*time.Timer
	onChange func([]Toast)
	onPush   func()
	closed   bool
}

func NewService(capacity int, delay time.Duration) *Service {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if delay <= 0 {
		delay = DefaultDismissDelay
	}
	return &Service{
		capacity: capacity,
		delay:    delay,
		timers:   make(map[int]*time.Timer),
		nextID:   1,
	}
}

// OnChange registers a hook invoked with a snapshot after every mutation.
// The dashboard surface uses it to push toasts to connected clients.
func (s *Service) OnChange(fn func([]Toast)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// OnPush registers a hook invoked once per successful Push, including pushes
// that evict an older toast from a full queue. The hook runs with the queue
// locked and must not call back into the Service; it exists for counting.
func (s *Service) OnPush(fn func()) {
	s.mu.Lock()
	s.onPush = fn
	s.mu.Unlock()
}

// Push appends a toast, dropping the oldest when over capacity, and returns
// its id.
func (s *Service) Push(title, description string, sev Severity) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	t := Toast{
		ID:          s.nextID,
		Title:       title,
		Description: description,
		Severity:    sev,
		CreatedAt:   time.Now(),
	}
	s.nextID++
	s.toasts = append(s.toasts, t)
	for len(s.toasts) > s.capacity {
		dropped := s.toasts[0]
		s.toasts = s.toasts[1:]
		s.stopTimer(dropped.ID)
	}
	if s.onPush != nil {
		s.onPush()
	}
	s.notifyLocked()
	s.mu.Unlock()
	return t.ID
}

// Dismiss marks a toast dismissed and schedules its purge after the
// configured delay. Unknown ids are ignored.
func (s *Service) Dismiss(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := range s.toasts {
		if s.toasts[i].ID != id || s.toasts[i].Dismissed {
			continue
		}
		s.toasts[i].Dismissed = true
		s.timers[id] = time.AfterFunc(s.delay, func() { s.purge(id) })
		s.notifyLocked()
		return
	}
}

// Snapshot returns a copy of the current queue, oldest first.
func (s *Service) Snapshot() []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Toast, len(s.toasts))
	copy(out, s.toasts)
	return out
}

// Close stops all purge timers and drops the queue.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.toasts = nil
}

func (s *Service) purge(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	delete(s.timers, id)
	for i := range s.toasts {
		if s.toasts[i].ID == id {
			s.toasts = append(s.toasts[:i], s.toasts[i+1:]...)
			s.notifyLocked()
			return
		}
	}
}

func (s *Service) stopTimer(id int) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// notifyLocked calls the change hook outside the lock.
func (s *Service) notifyLocked() {
	if s.onChange == nil {
		return
	}
	snap := make([]Toast, len(s.toasts))
	copy(snap, s.toasts)
	fn := s.onChange
	go fn(snap)
}
