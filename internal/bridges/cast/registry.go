package cast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type entryState int

const (
	entryPending entryState = iota
	entryActive
	entryUnsupported
)

type registryEntry struct {
	state   entryState
	session *Session
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Sink receives the events of every session.
	Sink EventSink

	// Logger is optional.
	Logger Logger

	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	QueueSize      int
}

// Registry owns the mapping from DeviceID to Session.
//
// The map is guarded by an RWMutex that is never held across device I/O:
// an id is reserved before its handle is resolved and started, so repeated
// announcements are no-ops while the first one is still connecting.
type Registry struct {
	sink   EventSink
	logger Logger

	connectTimeout time.Duration
	commandTimeout time.Duration
	queueSize      int

	mu      sync.RWMutex
	entries map[DeviceID]*registryEntry

	lostMu sync.RWMutex
	onLost func(*Session, error)
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.Sink == nil {
		return nil, errors.New("cast: registry requires an event sink")
	}
	return &Registry{
		sink:           opts.Sink,
		logger:         opts.Logger,
		connectTimeout: opts.ConnectTimeout,
		commandTimeout: opts.CommandTimeout,
		queueSize:      opts.QueueSize,
		entries:        make(map[DeviceID]*registryEntry),
	}, nil
}

// SetOnLost sets the callback for sessions whose connection drops.
// Without one, lost sessions are evicted directly.
func (r *Registry) SetOnLost(fn func(*Session, error)) {
	r.lostMu.Lock()
	r.onLost = fn
	r.lostMu.Unlock()
}

// OnDiscovered creates and starts a session for id unless one is already
// tracked.
//
// The id is reserved before any device I/O so concurrent announcements of
// the same device collapse into one session. A resolve or start failure
// releases the reservation so a later announcement retries. An unsupported
// device stays tracked so repeated announcements of it remain no-ops.
//
// Parameters:
//   - ctx: Bounds resolution and the session's connect
//   - id: Stable device identifier derived from the advertisement
//   - resolve: Produces the device handle; called at most once per reservation
//
// Returns:
//   - error: ErrResolveFailed, ErrConnectFailed or ErrUnsupportedDevice
//     (all wrapped); nil when the session is online or id was already tracked
func (r *Registry) OnDiscovered(ctx context.Context, id DeviceID, resolve HandleFactory) error {
	r.mu.Lock()
	if _, ok := r.entries[id]; ok {
		r.mu.Unlock()
		r.logDebug("device already tracked", "device_id", id)
		return nil
	}
	entry := &registryEntry{state: entryPending}
	r.entries[id] = entry
	r.mu.Unlock()

	handle, err := resolve(ctx)
	if err != nil {
		r.release(id, entry)
		if !errors.Is(err, ErrResolveFailed) {
			err = fmt.Errorf("%w: %s: %w", ErrResolveFailed, id, err)
		}
		return err
	}

	sess, err := NewSession(SessionOptions{
		ID:             id,
		Handle:         handle,
		Sink:           r.sink,
		Logger:         r.logger,
		ConnectTimeout: r.connectTimeout,
		CommandTimeout: r.commandTimeout,
		QueueSize:      r.queueSize,
		OnLost:         r.lost,
	})
	if err != nil {
		r.release(id, entry)
		return err
	}

	// Recorded before Start so a connection lost mid-start can still be evicted.
	r.mu.Lock()
	entry.session = sess
	r.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		if errors.Is(err, ErrUnsupportedDevice) {
			r.mu.Lock()
			if r.entries[id] == entry {
				entry.state = entryUnsupported
			}
			r.mu.Unlock()
			return err
		}
		r.release(id, entry)
		return err
	}

	r.mu.Lock()
	if r.entries[id] != entry {
		// Removed while starting.
		r.mu.Unlock()
		sess.Stop(ctx)
		return nil
	}
	entry.state = entryActive
	r.mu.Unlock()
	return nil
}

func (r *Registry) release(id DeviceID, entry *registryEntry) {
	r.mu.Lock()
	if r.entries[id] == entry {
		delete(r.entries, id)
	}
	r.mu.Unlock()
}

// OnRemoved stops and forgets the session for id. Unknown ids are ignored.
func (r *Registry) OnRemoved(ctx context.Context, id DeviceID) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	var sess *Session
	if ok {
		delete(r.entries, id)
		if entry.state == entryActive {
			sess = entry.session
		}
	}
	r.mu.Unlock()

	if !ok {
		r.logDebug("removal for unknown device", "device_id", id)
		return
	}
	// A pending session is stopped by OnDiscovered once Start returns.
	if sess != nil {
		sess.Stop(ctx)
	}
}

// Evict removes sess if it is still the session tracked for its id.
// Returns false when the id has since been removed or replaced.
//
// A session evicted while still starting is stopped by OnDiscovered once
// its Start returns.
func (r *Registry) Evict(ctx context.Context, sess *Session) bool {
	r.mu.Lock()
	entry, ok := r.entries[sess.ID()]
	if !ok || entry.session != sess {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, sess.ID())
	active := entry.state == entryActive
	r.mu.Unlock()

	if active {
		sess.Stop(ctx)
	}
	return true
}

// Lookup returns the active session for id.
func (r *Registry) Lookup(id DeviceID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok || entry.state != entryActive {
		return nil, false
	}
	return entry.session, true
}

// Sessions returns the active sessions ordered by id.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.state == entryActive {
			out = append(out, entry.session)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entry := range r.entries {
		if entry.state == entryActive {
			n++
		}
	}
	return n
}

// StopAll stops every session concurrently and empties the registry.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.state == entryActive {
			sessions = append(sessions, entry.session)
		}
	}
	r.entries = make(map[DeviceID]*registryEntry)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop(ctx)
		}(sess)
	}
	wg.Wait()
}

func (r *Registry) lost(sess *Session, err error) {
	r.lostMu.RLock()
	fn := r.onLost
	r.lostMu.RUnlock()

	if fn != nil {
		fn(sess, err)
		return
	}
	go r.Evict(context.Background(), sess)
}

func (r *Registry) logDebug(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, keysAndValues...)
	}
}
