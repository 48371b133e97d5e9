package cast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/castv2"
)

// Session defaults.
const (
	DefaultConnectTimeout = 2 * time.Second
	DefaultCommandTimeout = 5 * time.Second
	DefaultQueueSize      = 16
)

// SessionOptions configures a Session.
type SessionOptions struct {
	ID     DeviceID
	Handle DeviceHandle
	Sink   EventSink

	// Logger is optional.
	Logger Logger

	// ConnectTimeout bounds Connect and Disconnect. Default: 2s.
	ConnectTimeout time.Duration

	// CommandTimeout bounds each native command. Default: 5s.
	CommandTimeout time.Duration

	// QueueSize is the instruction backlog. Default: 16.
	QueueSize int

	// OnLost is called when the handle reports an unexpected disconnect.
	OnLost func(*Session, error)
}

// Session is the live binding of one DeviceID to one DeviceHandle.
//
// Native callbacks are serialized by mu, which also guards the baseline
// snapshot so change detection is a single read-modify-write. Instructions
// run on the session's own worker goroutine.
type Session struct {
	id             DeviceID
	handle         DeviceHandle
	sink           EventSink
	logger         Logger
	connectTimeout time.Duration
	commandTimeout time.Duration
	onLost         func(*Session, error)

	mu        sync.Mutex
	info      DeviceInfo
	kind      DeviceKind
	baseline  NativeStatus
	started   bool
	connected bool
	online    bool

	qMu     sync.Mutex
	queue   chan Instruction
	stopped bool

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewSession creates a session. Call Start to connect.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.ID == "" {
		return nil, errors.New("cast: session requires a device id")
	}
	if opts.Handle == nil {
		return nil, errors.New("cast: session requires a device handle")
	}
	if opts.Sink == nil {
		return nil, errors.New("cast: session requires an event sink")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:             opts.ID,
		handle:         opts.Handle,
		sink:           opts.Sink,
		logger:         opts.Logger,
		connectTimeout: opts.ConnectTimeout,
		commandTimeout: opts.CommandTimeout,
		onLost:         opts.OnLost,
		kind:           KindUnsupported,
		queue:          make(chan Instruction, opts.QueueSize),
		ctx:            ctx,
		ctxCancel:      cancel,
	}, nil
}

// ID returns the device id.
func (s *Session) ID() DeviceID {
	return s.id
}

// Kind returns the kind classified at Start.
func (s *Session) Kind() DeviceKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// Info returns the device metadata captured at Start.
func (s *Session) Info() DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Snapshot returns the full current state of the session.
func (s *Session) Snapshot() DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := StatusOffline
	if s.online {
		status = StatusOnline
	}
	caps := CapabilitiesFor(s.kind)
	return DeviceState{
		DeviceID:     s.id,
		FriendlyName: ptr(s.info.FriendlyName),
		DeviceStatus: ptr(status),
		DeviceKind:   ptr(s.kind),
		VolumeState:  ptr(volumePercent(s.baseline.VolumeLevel)),
		Capabilities: &caps,
	}
}

// Start connects the handle, classifies the device and announces it online.
//
// On success the session emits one full DeviceState (online, name, kind,
// volume and capabilities), registers itself as the handle's status
// listener and starts its instruction worker. A session can be started once.
//
// Parameters:
//   - ctx: Bounds the connect together with the configured connect timeout
//
// Returns:
//   - error: Wraps ErrConnectFailed when the device cannot be reached in time,
//     or ErrUnsupportedDevice when the device kind is not handled. Neither
//     case emits anything.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("cast: session %s already started", s.id)
	}
	s.started = true
	s.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	err := s.handle.Connect(connectCtx)
	cancel()
	if err != nil {
		s.logError("device connect failed", err, "device_id", s.id)
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, s.id, err)
	}

	info := s.handle.Info()
	kind := ClassifyKind(info)

	if !kind.Supported() {
		s.disconnect(ctx)
		s.mu.Lock()
		s.info = info
		s.mu.Unlock()
		s.logInfo("ignoring unsupported device",
			"device_id", s.id,
			"model", info.Model,
			"capabilities", info.CapabilityMask,
		)
		return fmt.Errorf("%w: %s (%s)", ErrUnsupportedDevice, s.id, info.Model)
	}

	s.mu.Lock()
	s.info = info
	s.kind = kind
	s.connected = true
	s.baseline = s.handle.Status()
	caps := CapabilitiesFor(kind)
	s.sink.SendState(DeviceState{
		DeviceID:     s.id,
		FriendlyName: ptr(info.FriendlyName),
		DeviceStatus: ptr(StatusOnline),
		DeviceKind:   ptr(kind),
		VolumeState:  ptr(volumePercent(s.baseline.VolumeLevel)),
		Capabilities: &caps,
	})
	s.online = true
	s.mu.Unlock()

	s.handle.SetListener(s)

	s.wg.Add(1)
	go s.worker()

	s.logInfo("device online",
		"device_id", s.id,
		"kind", kind,
		"name", info.FriendlyName,
		"host", info.Host,
	)
	return nil
}

// OnStatus implements StatusListener. Only a volume change is reported;
// every other field updates the baseline silently.
func (s *Session) OnStatus(st NativeStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online {
		return
	}
	changed := st.VolumeLevel != s.baseline.VolumeLevel
	s.baseline = st
	if changed {
		s.sink.SendState(DeviceState{
			DeviceID:    s.id,
			VolumeState: ptr(volumePercent(st.VolumeLevel)),
		})
	}
}

// OnMediaStatus implements StatusListener.
func (s *Session) OnMediaStatus(ms NativeMediaStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online {
		return
	}
	s.sink.SendMediaEvent(MediaEvent{
		DeviceID:   s.id,
		PlayerID:   ms.AppID,
		PlayerName: ms.AppName,
		TrackName:  ms.Title,
		Artist:     ms.Artist,
		URL:        ms.ContentID,
		AlbumArt:   ms.ImageURL,
		PlayStatus: mapPlayerState(ms.PlayerState),
	})
}

// OnConnectionLost implements StatusListener.
func (s *Session) OnConnectionLost(err error) {
	s.qMu.Lock()
	stopped := s.stopped
	s.qMu.Unlock()
	if stopped {
		return
	}

	s.logWarn("device connection lost", "device_id", s.id, "error", err)
	if s.onLost != nil {
		s.onLost(s, err)
	}
}

func mapPlayerState(native string) PlayState {
	switch native {
	case castv2.PlayerStatePlaying:
		return PlayStatePlaying
	case castv2.PlayerStatePaused:
		return PlayStatePaused
	}
	return PlayStateStopped
}

// HandleInstruction queues an instruction for the worker.
//
// A stopped session replies failed with ErrSessionStopped; a full backlog
// replies failed with ErrSessionBusy.
func (s *Session) HandleInstruction(in Instruction) {
	s.qMu.Lock()
	defer s.qMu.Unlock()

	if s.stopped {
		in.reply(Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %s", ErrSessionStopped, s.id)})
		return
	}
	select {
	case s.queue <- in:
	default:
		s.logWarn("instruction queue full", "device_id", s.id, "instruction_id", in.ID)
		in.reply(Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %s", ErrSessionBusy, s.id)})
	}
}

func (s *Session) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case in := <-s.queue:
			s.execute(in)
		}
	}
}

func (s *Session) execute(in Instruction) {
	switch p := in.Payload.(type) {
	case PlayStateInstruction:
		switch p.Target {
		case PlayStatePlaying:
			s.run(in, s.handle.Play)
		case PlayStatePaused:
			s.run(in, s.handle.Pause)
		default:
			s.logWarn("dropping instruction", "error", ErrBadTargetPlayState,
				"device_id", s.id, "instruction_id", in.ID, "target", p.Target)
		}

	case VolumeInstruction:
		switch p.Kind {
		case VolumeUp:
			s.run(in, s.handle.VolumeUp)
		case VolumeDown:
			s.run(in, s.handle.VolumeDown)
		case VolumeMute:
			s.run(in, func(ctx context.Context) error { return s.handle.SetMuted(ctx, true) })
		case VolumeSetLevel:
			if p.Level <= 0 {
				s.logDebug("ignoring non-positive volume level", "device_id", s.id, "level", p.Level)
				in.reply(Result{Outcome: OutcomeIgnored})
				return
			}
			level := float64(p.Level) / 100
			s.run(in, func(ctx context.Context) error { return s.handle.SetVolume(ctx, level) })
		default:
			s.logWarn("dropping instruction", "error", ErrNotImplemented,
				"device_id", s.id, "instruction_id", in.ID, "volume_kind", p.Kind)
		}

	case PowerInstruction:
		s.run(in, s.handle.Stop)

	default:
		tag := "<nil>"
		if in.Payload != nil {
			tag = in.Payload.Tag()
		}
		s.logWarn("dropping instruction", "error", ErrNotImplemented,
			"device_id", s.id, "instruction_id", in.ID, "instruction", tag)
	}
}

func (s *Session) run(in Instruction, cmd func(context.Context) error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.commandTimeout)
	defer cancel()

	if err := cmd(ctx); err != nil {
		s.logError("device command failed", err, "device_id", s.id, "instruction_id", in.ID)
		in.reply(Result{Outcome: OutcomeFailed, Err: err})
		return
	}
	in.reply(Result{Outcome: OutcomeAccepted})
}

// Stop tears the session down. It is safe to call more than once.
//
// Queued instructions are failed with ErrSessionStopped. A session that
// went online emits exactly one offline state.
func (s *Session) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.qMu.Lock()
		s.stopped = true
		s.qMu.Unlock()

		s.ctxCancel()
		s.wg.Wait()

	drain:
		for {
			select {
			case in := <-s.queue:
				in.reply(Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %s", ErrSessionStopped, s.id)})
			default:
				break drain
			}
		}

		s.handle.SetListener(nil)

		s.mu.Lock()
		connected := s.connected
		s.connected = false
		s.mu.Unlock()
		if connected {
			s.disconnect(ctx)
		}

		s.mu.Lock()
		if s.online && s.kind.Supported() {
			s.sink.SendState(DeviceState{
				DeviceID:     s.id,
				DeviceStatus: ptr(StatusOffline),
			})
		}
		wasOnline := s.online
		s.online = false
		s.mu.Unlock()

		if wasOnline {
			s.logInfo("device offline", "device_id", s.id)
		}
	})
}

func (s *Session) disconnect(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.connectTimeout)
	defer cancel()
	if err := s.handle.Disconnect(dctx); err != nil {
		s.logDebug("disconnect failed", "device_id", s.id, "error", err)
	}
}

func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, keysAndValues...)
	}
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, keysAndValues...)
	}
}

func (s *Session) logError(msg string, err error, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Error(msg, append(keysAndValues, "error", err)...)
	}
}
