package cast

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/gray-logic-cast/internal/mdns"
)

// Browser is the discovery transport. *mdns.Browser satisfies it.
type Browser interface {
	// Run browses until ctx is cancelled, reporting to h.
	Run(ctx context.Context, h mdns.Handler) error
	// Forget drops an instance so its next announcement is reported again.
	Forget(instance string)
}

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	Browser  Browser
	Resolver HandleResolver
	Registry *Registry

	// Logger is optional.
	Logger Logger
}

// lane runs lifecycle work for one device in order.
type lane struct {
	queue   []func(context.Context)
	running bool
}

// Listener turns discovery events into registry calls.
//
// Each device has its own serial lane, so a device that is slow to connect
// holds up neither the browser nor any other device.
type Listener struct {
	browser  Browser
	resolver HandleResolver
	registry *Registry
	logger   Logger

	mu        sync.Mutex
	lanes     map[DeviceID]*lane
	instances map[DeviceID]string
	closed    bool
	lanesWG   sync.WaitGroup

	ctx        context.Context
	ctxCancel  context.CancelFunc
	browseDone chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewListener validates opts and creates a Listener.
func NewListener(opts ListenerOptions) (*Listener, error) {
	if opts.Browser == nil {
		return nil, errors.New("cast: listener requires a browser")
	}
	if opts.Resolver == nil {
		return nil, errors.New("cast: listener requires a handle resolver")
	}
	if opts.Registry == nil {
		return nil, errors.New("cast: listener requires a registry")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		browser:    opts.Browser,
		resolver:   opts.Resolver,
		registry:   opts.Registry,
		logger:     opts.Logger,
		lanes:      make(map[DeviceID]*lane),
		instances:  make(map[DeviceID]string),
		ctx:        ctx,
		ctxCancel:  cancel,
		browseDone: make(chan struct{}),
	}, nil
}

// Start begins browsing in the background.
func (l *Listener) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		l.registry.SetOnLost(l.lost)

		// Lifecycle work outlives ctx only until Stop.
		go func() {
			select {
			case <-ctx.Done():
				l.ctxCancel()
			case <-l.ctx.Done():
			}
		}()

		go func() {
			defer close(l.browseDone)
			err := l.browser.Run(l.ctx, l)
			if err != nil && !errors.Is(err, context.Canceled) {
				l.logError("discovery stopped", err)
			}
		}()
		l.logInfo("discovery started")
	})
}

// Stop halts browsing, waits for in-flight lifecycle work and stops every
// session.
func (l *Listener) Stop(ctx context.Context) {
	l.stopOnce.Do(func() {
		l.ctxCancel()

		started := true
		l.startOnce.Do(func() { started = false })
		if started {
			<-l.browseDone
		}

		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		l.lanesWG.Wait()

		l.registry.StopAll(ctx)
		l.logInfo("discovery stopped")
	})
}

// Added implements mdns.Handler.
func (l *Listener) Added(entry mdns.Entry) {
	id, err := DeviceIDFromEntry(entry)
	if err != nil {
		l.logWarn("cannot identify device", "instance", entry.Instance, "error", err)
		l.browser.Forget(entry.Instance)
		return
	}

	l.mu.Lock()
	l.instances[id] = entry.Instance
	l.mu.Unlock()

	l.submit(id, func(ctx context.Context) {
		err := l.registry.OnDiscovered(ctx, id, func(ctx context.Context) (DeviceHandle, error) {
			return l.resolver.Resolve(ctx, entry)
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrUnsupportedDevice):
			l.logDebug("device not supported", "device_id", id)
		default:
			l.logWarn("device session not started", "device_id", id, "error", err)
			l.browser.Forget(entry.Instance)
		}
	})
}

// Removed implements mdns.Handler.
func (l *Listener) Removed(entry mdns.Entry) {
	id, err := DeviceIDFromEntry(entry)
	if err != nil {
		var ok bool
		if id, ok = l.idForInstance(entry.Instance); !ok {
			l.logDebug("removal for unidentified instance", "instance", entry.Instance)
			return
		}
	}

	l.mu.Lock()
	delete(l.instances, id)
	l.mu.Unlock()

	l.submit(id, func(ctx context.Context) {
		l.registry.OnRemoved(ctx, id)
	})
}

func (l *Listener) lost(sess *Session, _ error) {
	id := sess.ID()
	l.submit(id, func(ctx context.Context) {
		if !l.registry.Evict(ctx, sess) {
			return
		}
		l.mu.Lock()
		instance, ok := l.instances[id]
		delete(l.instances, id)
		l.mu.Unlock()
		if ok {
			l.browser.Forget(instance)
		}
	})
}

func (l *Listener) idForInstance(instance string) (DeviceID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, inst := range l.instances {
		if inst == instance {
			return id, true
		}
	}
	return "", false
}

// submit appends work to the device's lane, starting a drainer if idle.
func (l *Listener) submit(id DeviceID, work func(context.Context)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	ln, ok := l.lanes[id]
	if !ok {
		ln = &lane{}
		l.lanes[id] = ln
	}
	ln.queue = append(ln.queue, work)
	if ln.running {
		return
	}
	ln.running = true
	l.lanesWG.Add(1)
	go l.drain(id, ln)
}

func (l *Listener) drain(id DeviceID, ln *lane) {
	defer l.lanesWG.Done()

	for {
		l.mu.Lock()
		if len(ln.queue) == 0 {
			ln.running = false
			if l.lanes[id] == ln {
				delete(l.lanes, id)
			}
			l.mu.Unlock()
			return
		}
		work := ln.queue[0]
		ln.queue = ln.queue[1:]
		l.mu.Unlock()

		work(l.ctx)
	}
}

func (l *Listener) logInfo(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Info(msg, keysAndValues...)
	}
}

func (l *Listener) logWarn(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Warn(msg, keysAndValues...)
	}
}

func (l *Listener) logDebug(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, keysAndValues...)
	}
}

func (l *Listener) logError(msg string, err error) {
	if l.logger != nil {
		l.logger.Error(msg, "error", err)
	}
}
