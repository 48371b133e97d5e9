package cast

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/config"
)

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded application configuration.
	Config *config.Config

	// MQTTClient carries states, media events, acks and instructions.
	MQTTClient MQTTClient

	// Browser is the discovery transport.
	Browser Browser

	// Resolver builds device handles. Default: NativeResolver.
	Resolver HandleResolver

	// Version is reported in health messages.
	Version string

	// Sinks receive every event alongside MQTT (websocket hub, telemetry).
	Sinks []EventSink

	// Recorders see every instruction outcome (audit log, telemetry).
	Recorders []Recorder

	// Logger is optional structured logger.
	Logger Logger
}

// Bridge composes the channel, registry, router, listener and health
// reporter into one running unit.
type Bridge struct {
	cfg      *config.Config
	channel  *Channel
	registry *Registry
	router   *Router
	listener *Listener
	health   *HealthReporter
	logger   Logger

	stopOnce sync.Once
}

// NewBridge wires the components. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Browser == nil {
		return nil, fmt.Errorf("browser is required")
	}
	cfg := opts.Config

	resolver := opts.Resolver
	if resolver == nil {
		resolver = NativeResolver{VolumeStep: cfg.Bridge.VolumeStep, Logger: opts.Logger}
	}

	channel, err := NewChannel(ChannelOptions{
		MQTT:       opts.MQTTClient,
		Logger:     opts.Logger,
		AckTimeout: cfg.CommandTimeout() + defaultAckGrace,
	})
	if err != nil {
		return nil, err
	}

	sinks := append([]EventSink{channel}, opts.Sinks...)
	registry, err := NewRegistry(RegistryOptions{
		Sink:           FanOut(sinks...),
		Logger:         opts.Logger,
		ConnectTimeout: cfg.ConnectTimeout(),
		CommandTimeout: cfg.CommandTimeout(),
	})
	if err != nil {
		return nil, err
	}

	router, err := NewRouter(registry, opts.Logger, opts.Recorders...)
	if err != nil {
		return nil, err
	}

	listener, err := NewListener(ListenerOptions{
		Browser:  opts.Browser,
		Resolver: resolver,
		Registry: registry,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	health := NewHealthReporter(HealthReporterConfig{
		BridgeID:  cfg.Bridge.ID,
		Version:   opts.Version,
		Interval:  cfg.HealthInterval(),
		Publisher: opts.MQTTClient,
		Sessions:  registry.Len,
		Stats:     channel.Stats,
	})
	if opts.Logger != nil {
		health.SetLogger(opts.Logger)
	}

	return &Bridge{
		cfg:      cfg,
		channel:  channel,
		registry: registry,
		router:   router,
		listener: listener,
		health:   health,
		logger:   opts.Logger,
	}, nil
}

// Start subscribes to instructions, starts discovery and health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	if err := b.channel.Start(ctx, b.router); err != nil {
		return err
	}

	b.listener.Start(ctx)
	b.health.Start(ctx)

	if b.logger != nil {
		b.logger.Info("bridge started", "bridge_id", b.cfg.Bridge.ID)
	}
	return nil
}

// Stop stops discovery and every session, then flushes the channel.
// Offline states emitted during shutdown are published before it returns.
func (b *Bridge) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		b.listener.Stop(ctx)
		b.health.Stop()
		b.channel.Stop()

		if b.logger != nil {
			b.logger.Info("bridge stopped")
		}
	})
}

// Registry returns the session registry.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Router returns the instruction router.
func (b *Bridge) Router() *Router {
	return b.router
}

// Health returns the health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

func (b *Bridge) logError(msg string, err error) {
	if b.logger != nil {
		b.logger.Error(msg, "error", err)
	}
}
