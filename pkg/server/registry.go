package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sockline-dev/sockline/pkg/protocol"
)

// Registry owns all live sessions, keyed by session id. Sessions remove
// themselves the moment they close, so an id becomes reusable immediately and
// a late request for it starts a fresh session.
//
// WebSocket sessions are registered under generated ids: a socket is its own
// session for its whole lifetime and is never looked up by id, but it still
// counts and drains like any other.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	draining bool

	created atomic.Uint64
	closed  atomic.Uint64

	service Service
	config  *Config
	logger  *slog.Logger
}

// newRegistry creates an empty registry dispatching to svc.
func newRegistry(svc Service, cfg *Config, logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		service:  svc,
		config:   cfg,
		logger:   logger.With("component", "registry"),
	}
}

// getOrCreate returns the session for id, creating it if absent. The second
// result reports whether this call created it. Exactly one of two concurrent
// callers with a fresh id wins the creation; the other sees the winner's
// session. Returns ErrRegistryClosed while draining.
func (r *Registry) getOrCreate(id string) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.draining {
		return nil, false, ErrRegistryClosed
	}

	if s, ok := r.sessions[id]; ok {
		// A closed session can linger for the instant between its state
		// change and its removal hook. Treat it as gone.
		if s.State() != StateClosed {
			return s, false, nil
		}
	}

	s := newSession(id, r.service, r.config, r.logger, r.remove)
	r.sessions[id] = s
	r.created.Add(1)
	r.logger.Debug("session created", "session_id", id, "active", len(r.sessions))
	return s, true, nil
}

// add registers a session created outside the polling id namespace, namely
// a WebSocket session under its generated id. It still participates in stats
// and shutdown draining.
func (r *Registry) add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining {
		return ErrRegistryClosed
	}
	r.sessions[s.id] = s
	r.created.Add(1)
	r.logger.Debug("socket session added", "session_id", s.id, "active", len(r.sessions))
	return nil
}

// get returns the live session for id, or ErrSessionNotFound. Sender
// transports use it: sending never creates a session.
func (r *Registry) get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || s.State() == StateClosed {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// remove drops s from the registry. Wired as the session's close hook; the
// pointer comparison keeps a stale hook from removing a newer session that
// reused the id.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.id]; ok && cur == s {
		delete(r.sessions, s.id)
	}
	active := len(r.sessions)
	r.mu.Unlock()
	r.closed.Add(1)
	r.logger.Debug("session removed", "session_id", s.id, "active", active)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Stats returns registry counters.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	active := len(r.sessions)
	r.mu.RUnlock()
	return RegistryStats{
		Active:  active,
		Created: r.created.Load(),
		Closed:  r.closed.Load(),
	}
}

// RegistryStats contains session registry counters.
type RegistryStats struct {
	// Active is the number of sessions currently alive.
	Active int

	// Created is the total number of sessions ever created.
	Created uint64

	// Closed is the total number of sessions that have closed.
	Closed uint64
}

// ShutdownWithContext closes every session with the go-away code and waits,
// bounded by ctx, until their close callbacks have run. New sessions are
// refused from the first call onward.
func (r *Registry) ShutdownWithContext(ctx context.Context) error {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return nil
	}
	r.draining = true
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	r.logger.Info("draining sessions", "count", len(all))
	for _, s := range all {
		s.closeSession(protocol.CloseGoAway, "Go away!", true)
	}
	for _, s := range all {
		select {
		case <-s.finished:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
