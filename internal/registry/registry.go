package registry

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/calllog"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/calls"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/observability"
)

// Connection is the registry's record of one live telephony socket and the
// bridge resources hanging off it. Sockets are owned exclusively by the
// connection and released through Remove.
type Connection struct {
	ID string

	mu           sync.Mutex
	callID       string
	createdAt    time.Time
	lastActivity time.Time
	closers      []func() error
}

func (c *Connection) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Registry owns every live connection. Map mutations are short critical
// sections; socket teardown and call-log writes happen outside the lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	sessions *calls.Store
	logs     calllog.Store
	metrics  *observability.Metrics
	timeout  time.Duration
}

func New(sessions *calls.Store, logs calllog.Store, metrics *observability.Metrics, inactivityTimeout time.Duration) *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		sessions: sessions,
		logs:     logs,
		metrics:  metrics,
		timeout:  inactivityTimeout,
	}
}

// Register creates the connection record. closers run once, in order, when
// the connection is removed.
func (r *Registry) Register(id string, closers ...func() error) *Connection {
	now := time.Now()
	conn := &Connection{
		ID:           id,
		createdAt:    now,
		lastActivity: now,
		closers:      closers,
	}
	r.mu.Lock()
	r.conns[id] = conn
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.ActiveCalls.Inc()
		r.metrics.CallEvents.WithLabelValues("connection_opened").Inc()
	}
	return conn
}

func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Touch refreshes the inactivity clock. Called on every frame and event.
func (r *Registry) Touch(id string) {
	conn, ok := r.Get(id)
	if !ok {
		return
	}
	conn.mu.Lock()
	conn.lastActivity = time.Now()
	conn.mu.Unlock()
}

// BindCall associates the provider call id once the start frame names it.
func (r *Registry) BindCall(id, callID string) {
	conn, ok := r.Get(id)
	if !ok {
		return
	}
	conn.mu.Lock()
	conn.callID = callID
	conn.mu.Unlock()
}

// Remove tears a connection down: sockets closed, session ended, finalized
// call handed to the log store. Safe to call twice; explicit disconnect and
// the reaper race here by design of the callers.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	for _, closeFn := range conn.closers {
		if err := closeFn(); err != nil {
			log.Printf("registry: close resource for %s: %v", id, err)
		}
	}

	if callID := conn.CallID(); callID != "" {
		r.endCall(callID)
	}

	if r.metrics != nil {
		r.metrics.ActiveCalls.Dec()
		r.metrics.CallEvents.WithLabelValues("connection_closed").Inc()
	}
}

func (r *Registry) endCall(callID string) {
	finalized, err := r.sessions.End(callID)
	if err != nil {
		if !errors.Is(err, calls.ErrNotFound) {
			log.Printf("registry: end session %s: %v", callID, err)
		}
		return
	}
	if r.logs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.logs.Save(ctx, finalized); err != nil {
		log.Printf("registry: save call log %s: %v", callID, err)
	}
}

// RemoveByCall removes the connection bound to a provider call id, used by
// forced termination paths (end_call tool, admin endpoint).
func (r *Registry) RemoveByCall(callID string) bool {
	if callID == "" {
		return false
	}
	r.mu.RLock()
	var match string
	for id, conn := range r.conns {
		if conn.CallID() == callID {
			match = id
			break
		}
	}
	r.mu.RUnlock()
	if match == "" {
		// A call created by the webhook but never joined by a media stream
		// still has a session to finalize.
		r.endCall(callID)
		return false
	}
	r.Remove(match)
	return true
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// StartReaper sweeps for connections idle past the timeout. It is the only
// source of unsolicited teardown; everything else goes through Remove
// explicitly.
func (r *Registry) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.timeout)

	r.mu.RLock()
	var stale []string
	for id, conn := range r.conns {
		if conn.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		log.Printf("registry: reaping idle connection %s", id)
		if r.metrics != nil {
			r.metrics.CallEvents.WithLabelValues("reaped").Inc()
		}
		r.Remove(id)
	}
}
