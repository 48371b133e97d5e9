package mdns

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// Resolver is the subset of *zeroconf.Resolver used here. Browse must close
// entries once ctx is done.
type Resolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Handler receives lifecycle events. Calls are made from the browse
// goroutine, one at a time, and must not block for long.
type Handler interface {
	Added(Entry)
	Removed(Entry)
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Config configures a Browser.
type Config struct {
	Service     string
	Domain      string
	Interval    time.Duration
	Window      time.Duration
	ExpireAfter time.Duration
	Logger      Logger
}

type tracked struct {
	entry    Entry
	lastSeen time.Time
}

// Browser owns the set of live instances for one service type.
type Browser struct {
	cfg      Config
	resolver Resolver

	mu    sync.Mutex
	known map[string]*tracked

	now func() time.Time
}

// NewBrowser validates cfg. A nil resolver gets a zeroconf resolver on all
// interfaces.
func NewBrowser(cfg Config, resolver Resolver) (*Browser, error) {
	if cfg.Service == "" {
		return nil, errors.New("mdns: service is required")
	}
	if cfg.Domain == "" {
		cfg.Domain = "local."
	}
	if cfg.Window <= 0 {
		return nil, errors.New("mdns: browse window must be positive")
	}
	if cfg.Interval < cfg.Window {
		cfg.Interval = cfg.Window
	}
	if resolver == nil {
		r, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("mdns: creating resolver: %w", err)
		}
		resolver = r
	}
	return &Browser{
		cfg:      cfg,
		resolver: resolver,
		known:    make(map[string]*tracked),
		now:      time.Now,
	}, nil
}

// Run browses until ctx is cancelled, delivering events to h. Instances
// still known at that point are left as they are; the caller tears
// sessions down itself.
func (b *Browser) Run(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("mdns: handler is required")
	}
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := b.Cycle(ctx, h); err != nil && ctx.Err() == nil {
			b.logWarn("mdns browse cycle failed", "service", b.cfg.Service, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle runs one browse window and then expires stale instances.
func (b *Browser) Cycle(ctx context.Context, h Handler) error {
	wctx, cancel := context.WithTimeout(ctx, b.cfg.Window)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := b.resolver.Browse(wctx, b.cfg.Service, b.cfg.Domain, entries); err != nil {
		return fmt.Errorf("mdns: browse %s: %w", b.cfg.Service, err)
	}

	for {
		select {
		case se, ok := <-entries:
			if !ok {
				b.expire(h)
				return nil
			}
			if se != nil {
				b.observe(h, fromServiceEntry(se))
			}
		case <-wctx.Done():
			b.expire(h)
			return nil
		}
	}
}

func (b *Browser) observe(h Handler, e Entry) {
	if e.Instance == "" {
		return
	}

	if e.TTL == 0 {
		b.remove(h, e.Instance)
		return
	}
	if !e.Resolvable() {
		return
	}

	b.mu.Lock()
	t, exists := b.known[e.Instance]
	if exists {
		t.lastSeen = b.now()
		t.entry = e
		b.mu.Unlock()
		return
	}
	b.known[e.Instance] = &tracked{entry: e, lastSeen: b.now()}
	b.mu.Unlock()

	b.logDebug("mdns instance added", "instance", e.Instance, "ip", e.IP().String(), "port", e.Port)
	h.Added(e)
}

func (b *Browser) remove(h Handler, instance string) {
	b.mu.Lock()
	t, ok := b.known[instance]
	delete(b.known, instance)
	b.mu.Unlock()

	if ok {
		b.logDebug("mdns instance removed", "instance", instance)
		h.Removed(t.entry)
	}
}

func (b *Browser) expire(h Handler) {
	if b.cfg.ExpireAfter <= 0 {
		return
	}
	cutoff := b.now().Add(-b.cfg.ExpireAfter)

	b.mu.Lock()
	var stale []Entry
	for name, t := range b.known {
		if t.lastSeen.Before(cutoff) {
			stale = append(stale, t.entry)
			delete(b.known, name)
		}
	}
	b.mu.Unlock()

	for _, e := range stale {
		b.logDebug("mdns instance expired", "instance", e.Instance)
		h.Removed(e)
	}
}

// Forget drops an instance without a Removed event, so the next answer
// for it produces a fresh Added.
func (b *Browser) Forget(instance string) {
	b.mu.Lock()
	delete(b.known, instance)
	b.mu.Unlock()
}

// Known returns the live instances sorted by name.
func (b *Browser) Known() []Entry {
	b.mu.Lock()
	out := make([]Entry, 0, len(b.known))
	for _, t := range b.known {
		out = append(out, t.entry)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

func (b *Browser) logDebug(msg string, args ...any) {
	if b.cfg.Logger != nil {
		b.cfg.Logger.Debug(msg, args...)
	}
}

func (b *Browser) logWarn(msg string, args ...any) {
	if b.cfg.Logger != nil {
		b.cfg.Logger.Warn(msg, args...)
	}
}
