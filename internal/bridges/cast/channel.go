package cast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/mqtt"
)

// MQTTClient is the subset of *mqtt.Client used by the channel.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// InstructionRouter receives decoded instructions. *Router satisfies it.
type InstructionRouter interface {
	Route(in Instruction)
}

// Channel defaults.
const (
	DefaultChannelQueueSize = 256
	defaultAckGrace         = time.Second
)

// ChannelOptions configures a Channel.
type ChannelOptions struct {
	MQTT MQTTClient

	// Logger is optional.
	Logger Logger

	// QueueSize bounds the outbound backlog. Default: 256.
	QueueSize int

	// AckTimeout is how long an instruction may go without a reply before
	// a timeout ack is published. Default: DefaultCommandTimeout + 1s.
	AckTimeout time.Duration
}

type outKind int

const (
	outState outKind = iota
	outMedia
	outAck
)

type outbound struct {
	kind    outKind
	topic   string
	payload []byte
}

// Channel is the MQTT side of the bridge: it publishes states, media
// events and acks, and turns command messages into Instructions.
//
// Outbound messages go through one buffered queue drained by a single
// publisher goroutine, so emission never blocks a session and per-device
// ordering is preserved. When the queue is full the message is dropped.
type Channel struct {
	mqtt       MQTTClient
	logger     Logger
	queue      chan outbound
	ackTimeout time.Duration
	topics     mqtt.Topics

	router   InstructionRouter
	routerMu sync.RWMutex

	statesPublished      atomic.Uint64
	mediaPublished       atomic.Uint64
	instructionsReceived atomic.Uint64
	acksTimedOut         atomic.Uint64
	dropped              atomic.Uint64
	publishErrors        atomic.Uint64

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewChannel validates opts and creates a Channel.
func NewChannel(opts ChannelOptions) (*Channel, error) {
	if opts.MQTT == nil {
		return nil, errors.New("cast: channel requires an MQTT client")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultChannelQueueSize
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultCommandTimeout + defaultAckGrace
	}
	return &Channel{
		mqtt:       opts.MQTT,
		logger:     opts.Logger,
		queue:      make(chan outbound, opts.QueueSize),
		ackTimeout: opts.AckTimeout,
		done:       make(chan struct{}),
	}, nil
}

// Start begins publishing and subscribes to instructions for router.
//
// The publisher goroutine is started once; calling Start again only swaps
// the router and re-subscribes.
//
// Parameters:
//   - router: Receives every decoded instruction; must not be nil
//
// Returns:
//   - error: If router is nil or the instruction subscription fails
func (c *Channel) Start(_ context.Context, router InstructionRouter) error {
	if router == nil {
		return errors.New("cast: channel requires an instruction router")
	}
	c.routerMu.Lock()
	c.router = router
	c.routerMu.Unlock()

	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.publishLoop()
	})

	topic := c.topics.AllBridgeCommands(Protocol)
	if err := c.mqtt.Subscribe(topic, 1, c.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	c.logInfo("subscribed to instructions", "topic", topic)
	return nil
}

// Stop publishes what is queued and stops the publisher.
func (c *Channel) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
}

// SendState implements EventSink.
func (c *Channel) SendState(st DeviceState) {
	payload, err := json.Marshal(st)
	if err != nil {
		c.logError("marshalling state", err)
		return
	}
	c.enqueue(outbound{kind: outState, topic: c.topics.BridgeState(Protocol, string(st.DeviceID)), payload: payload})
}

// SendMediaEvent implements EventSink.
func (c *Channel) SendMediaEvent(ev MediaEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logError("marshalling media event", err)
		return
	}
	c.enqueue(outbound{kind: outMedia, topic: c.topics.BridgeMedia(Protocol, string(ev.DeviceID)), payload: payload})
}

// Stats returns the channel counters.
func (c *Channel) Stats() ChannelStatistic {
	return ChannelStatistic{
		StatesPublished:      c.statesPublished.Load(),
		MediaPublished:       c.mediaPublished.Load(),
		InstructionsReceived: c.instructionsReceived.Load(),
		AcksTimedOut:         c.acksTimedOut.Load(),
		Dropped:              c.dropped.Load(),
		PublishErrors:        c.publishErrors.Load(),
	}
}

func (c *Channel) enqueue(m outbound) {
	select {
	case c.queue <- m:
	default:
		c.dropped.Add(1)
		c.logWarn("outbound queue full, dropping message", "topic", m.topic)
	}
}

func (c *Channel) publishLoop() {
	defer c.wg.Done()

	for {
		select {
		case m := <-c.queue:
			c.publish(m)
		case <-c.done:
			for {
				select {
				case m := <-c.queue:
					c.publish(m)
				default:
					return
				}
			}
		}
	}
}

func (c *Channel) publish(m outbound) {
	if err := c.mqtt.Publish(m.topic, m.payload, 1, false); err != nil {
		c.publishErrors.Add(1)
		c.logError("publish failed", err, "topic", m.topic)
		return
	}
	switch m.kind {
	case outState:
		c.statesPublished.Add(1)
	case outMedia:
		c.mediaPublished.Add(1)
	}
}

// handleMessage decodes one command message and routes it.
func (c *Channel) handleMessage(topic string, payload []byte) error {
	c.instructionsReceived.Add(1)

	var msg InstructionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logError("invalid instruction JSON", err, "topic", topic)
		c.publishAck(NewAckError("", deviceFromTopic(topic), ErrCodeInvalidCommand, "invalid JSON: "+err.Error()))
		return nil
	}

	id := DeviceID(msg.DeviceID)
	if id == "" {
		id = deviceFromTopic(topic)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Instruction == "" {
		c.publishAck(NewAckError(msg.ID, id, ErrCodeInvalidCommand, "missing instruction"))
		return nil
	}

	p, err := DecodePayload(msg.Instruction, msg.Parameters)
	if err != nil {
		c.logWarn("undecodable instruction", "instruction_id", msg.ID, "device_id", id, "error", err)
		c.publishAck(NewAckError(msg.ID, id, ErrCodeInvalidParameters, err.Error()))
		return nil
	}

	c.routerMu.RLock()
	router := c.router
	c.routerMu.RUnlock()
	if router == nil {
		return errors.New("cast: channel not started")
	}

	c.logDebug("received instruction",
		"instruction_id", msg.ID,
		"device_id", id,
		"instruction", msg.Instruction,
	)

	var once sync.Once
	timer := time.AfterFunc(c.ackTimeout, func() {
		once.Do(func() {
			c.acksTimedOut.Add(1)
			c.publishAck(NewTimeoutAck(msg.ID, id))
		})
	})

	router.Route(Instruction{
		ID:       msg.ID,
		DeviceID: id,
		Payload:  p,
		Source:   msg.Source,
		Reply: func(res Result) {
			once.Do(func() {
				timer.Stop()
				c.publishAck(NewAck(msg.ID, id, res))
			})
		},
	})
	return nil
}

func (c *Channel) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		c.logError("marshalling ack", err)
		return
	}
	c.enqueue(outbound{kind: outAck, topic: c.topics.BridgeAck(Protocol, ack.DeviceID), payload: payload})
}

// deviceFromTopic extracts the last topic segment.
func deviceFromTopic(topic string) DeviceID {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return DeviceID(topic[i+1:])
	}
	return ""
}

func (c *Channel) logInfo(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Info(msg, keysAndValues...)
	}
}

func (c *Channel) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}

func (c *Channel) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Channel) logError(msg string, err error, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Error(msg, append(keysAndValues, "error", err)...)
	}
}
