package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/duckmesh/sqlchat/internal/observability"
)

// Factory builds a new session owned by subject.
type Factory func(subject string) (*Session, error)

type RegistryConfig struct {
	// TTL evicts sessions idle for longer; 0 keeps them forever.
	TTL         time.Duration
	MaxSessions int
}

// Registry holds the live sessions of a server, each owned by the subject
// that created it.
type Registry struct {
	factory Factory
	ttl     time.Duration
	max     int
	logger  *slog.Logger
	clock   func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	session  *Session
	owner    string
	lastUsed time.Time
	busy     bool
}

func NewRegistry(factory Factory, cfg RegistryConfig, logger *slog.Logger) *Registry {
	return &Registry{
		factory:  factory,
		ttl:      cfg.TTL,
		max:      cfg.MaxSessions,
		logger:   observability.LoggerOrDiscard(logger),
		clock:    time.Now,
		sessions: map[string]*entry{},
	}
}

func (r *Registry) Create(owner string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && len(r.sessions) >= r.max {
		r.sweepLocked()
		if len(r.sessions) >= r.max {
			return nil, ErrTooManySessions
		}
	}
	session, err := r.factory(owner)
	if err != nil {
		return nil, err
	}
	r.sessions[session.ID()] = &entry{session: session, owner: owner, lastUsed: r.clock()}
	observability.SetActiveSessions(len(r.sessions))
	return session, nil
}

// Get returns the session when it exists and belongs to owner.
func (r *Registry) Get(id, owner string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok || e.owner != owner {
		return nil, ErrSessionNotFound
	}
	return e.session, nil
}

// Acquire claims the session for one turn. The returned release must be
// called when the turn ends. A session already in a turn yields
// ErrSessionBusy instead of queueing.
func (r *Registry) Acquire(id, owner string) (*Session, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok || e.owner != owner {
		return nil, nil, ErrSessionNotFound
	}
	if e.busy {
		return nil, nil, ErrSessionBusy
	}
	e.busy = true
	e.lastUsed = r.clock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			e.busy = false
			e.lastUsed = r.clock()
		})
	}
	return e.session, release, nil
}

func (r *Registry) Delete(id, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok || e.owner != owner {
		return ErrSessionNotFound
	}
	if e.busy {
		return ErrSessionBusy
	}
	delete(r.sessions, id)
	observability.SetActiveSessions(len(r.sessions))
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops idle sessions past the TTL and returns how many went.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked()
}

func (r *Registry) sweepLocked() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.clock().Add(-r.ttl)
	removed := 0
	for id, e := range r.sessions {
		if e.busy || e.lastUsed.After(cutoff) {
			continue
		}
		delete(r.sessions, id)
		removed++
	}
	if removed > 0 {
		observability.SetActiveSessions(len(r.sessions))
	}
	return removed
}

// Run sweeps idle sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := r.Sweep(); removed > 0 {
				r.logger.InfoContext(ctx, "expired idle chat sessions", slog.Int("removed", removed))
			}
		}
	}
}
