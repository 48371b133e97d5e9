package cast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-cast/internal/mdns"
)

// fakeHandle is a scriptable DeviceHandle.
type fakeHandle struct {
	mu          sync.Mutex
	info        DeviceInfo
	status      NativeStatus
	connectErr  error
	connectGate chan struct{}
	// disconnectErr is returned from every Disconnect.
	disconnectErr error
	// dropOnListen reports a lost connection as soon as a listener attaches.
	dropOnListen bool
	cmdErr       error
	cmdGate      chan struct{}
	cmdEntered   chan struct{}
	connects     int
	disconnects  int
	calls        []string
	listener     StatusListener
}

func newFakeHandle(model string, ca int, volume float64) *fakeHandle {
	return &fakeHandle{
		info: DeviceInfo{
			UUID:           "uuid-" + model,
			Model:          model,
			FriendlyName:   "Living Room",
			CapabilityMask: ca,
			Host:           "192.168.1.50",
			Port:           8009,
		},
		status: NativeStatus{VolumeLevel: volume},
	}
}

func (h *fakeHandle) Connect(ctx context.Context) error {
	h.mu.Lock()
	gate := h.connectGate
	h.connects++
	err := h.connectErr
	h.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (h *fakeHandle) Disconnect(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
	return h.disconnectErr
}

func (h *fakeHandle) Info() DeviceInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info
}

func (h *fakeHandle) Status() NativeStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *fakeHandle) command(ctx context.Context, name string) error {
	h.mu.Lock()
	gate, entered, err := h.cmdGate, h.cmdEntered, h.cmdErr
	h.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h.mu.Lock()
	h.calls = append(h.calls, name)
	h.mu.Unlock()
	return err
}

func (h *fakeHandle) Play(ctx context.Context) error       { return h.command(ctx, "play") }
func (h *fakeHandle) Pause(ctx context.Context) error      { return h.command(ctx, "pause") }
func (h *fakeHandle) VolumeUp(ctx context.Context) error   { return h.command(ctx, "volume_up") }
func (h *fakeHandle) VolumeDown(ctx context.Context) error { return h.command(ctx, "volume_down") }
func (h *fakeHandle) Stop(ctx context.Context) error       { return h.command(ctx, "stop") }

func (h *fakeHandle) SetMuted(ctx context.Context, muted bool) error {
	return h.command(ctx, fmt.Sprintf("muted:%t", muted))
}

func (h *fakeHandle) SetVolume(ctx context.Context, level float64) error {
	return h.command(ctx, fmt.Sprintf("set_volume:%.2f", level))
}

func (h *fakeHandle) SetListener(l StatusListener) {
	h.mu.Lock()
	h.listener = l
	drop := h.dropOnListen && l != nil
	h.mu.Unlock()

	if drop {
		l.OnConnectionLost(errors.New("connection reset during start"))
	}
}

func (h *fakeHandle) currentListener() StatusListener {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listener
}

func (h *fakeHandle) pushStatus(st NativeStatus) {
	if l := h.currentListener(); l != nil {
		l.OnStatus(st)
	}
}

func (h *fakeHandle) pushMedia(ms NativeMediaStatus) {
	if l := h.currentListener(); l != nil {
		l.OnMediaStatus(ms)
	}
}

func (h *fakeHandle) dropConnection() {
	if l := h.currentListener(); l != nil {
		l.OnConnectionLost(errors.New("connection reset"))
	}
}

func (h *fakeHandle) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *fakeHandle) Connects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connects
}

func (h *fakeHandle) Disconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects
}

// logEntry is one call captured by recordingLogger.
type logEntry struct {
	level string
	msg   string
	args  []any
}

// recordingLogger captures log calls by level.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

// byMessage returns the entries logged with msg.
func (l *recordingLogger) byMessage(msg string) []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logEntry
	for _, e := range l.entries {
		if e.msg == msg {
			out = append(out, e)
		}
	}
	return out
}

// attr returns the value logged for key.
func (e logEntry) attr(key string) any {
	for i := 0; i+1 < len(e.args); i += 2 {
		if e.args[i] == key {
			return e.args[i+1]
		}
	}
	return nil
}

// recordingSink captures emitted events.
type recordingSink struct {
	mu     sync.Mutex
	states []DeviceState
	media  []MediaEvent
}

func (s *recordingSink) SendState(st DeviceState) {
	s.mu.Lock()
	s.states = append(s.states, st)
	s.mu.Unlock()
}

func (s *recordingSink) SendMediaEvent(ev MediaEvent) {
	s.mu.Lock()
	s.media = append(s.media, ev)
	s.mu.Unlock()
}

func (s *recordingSink) States() []DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeviceState(nil), s.states...)
}

func (s *recordingSink) Media() []MediaEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MediaEvent(nil), s.media...)
}

// statusesFor returns the device_status values emitted for id, in order.
func (s *recordingSink) statusesFor(id DeviceID) []DeviceStatus {
	var out []DeviceStatus
	for _, st := range s.States() {
		if st.DeviceID == id && st.DeviceStatus != nil {
			out = append(out, *st.DeviceStatus)
		}
	}
	return out
}

// replyRecorder collects Results on a buffered channel.
type replyRecorder chan Result

func newReplyRecorder() replyRecorder {
	return make(replyRecorder, 8)
}

func (r replyRecorder) reply(res Result) {
	r <- res
}

func (r replyRecorder) wait() (Result, bool) {
	select {
	case res := <-r:
		return res, true
	case <-time.After(2 * time.Second):
		return Result{}, false
	}
}

// published is one message seen by mockMQTTClient.
type published struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// mockMQTTClient records publishes and lets tests inject messages.
type mockMQTTClient struct {
	mu         sync.Mutex
	messages   []published
	handlers   map[string]mqtt.MessageHandler
	connected  bool
	publishErr error
	subErr     error
}

func newMockMQTTClient() *mockMQTTClient {
	return &mockMQTTClient{
		handlers:  make(map[string]mqtt.MessageHandler),
		connected: true,
	}
}

func (m *mockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.messages = append(m.messages, published{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *mockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// SimulateMessage delivers payload to the handler subscribed on the
// command wildcard.
func (m *mockMQTTClient) SimulateMessage(topic string, payload []byte) error {
	m.mu.Lock()
	h := m.handlers[mqtt.Topics{}.AllBridgeCommands(Protocol)]
	m.mu.Unlock()
	if h == nil {
		return errors.New("no handler subscribed")
	}
	return h(topic, payload)
}

func (m *mockMQTTClient) Messages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.messages...)
}

func (m *mockMQTTClient) onTopic(topic string) []published {
	var out []published
	for _, msg := range m.Messages() {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// fakeBrowser hands the handler to the test and blocks until cancelled.
type fakeBrowser struct {
	mu        sync.Mutex
	handler   mdns.Handler
	ready     chan struct{}
	forgotten []string
	returned  chan struct{}
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{ready: make(chan struct{}), returned: make(chan struct{})}
}

func (b *fakeBrowser) Run(ctx context.Context, h mdns.Handler) error {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
	close(b.ready)
	<-ctx.Done()
	close(b.returned)
	return ctx.Err()
}

func (b *fakeBrowser) Forget(instance string) {
	b.mu.Lock()
	b.forgotten = append(b.forgotten, instance)
	b.mu.Unlock()
}

func (b *fakeBrowser) Forgotten() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.forgotten...)
}

func (b *fakeBrowser) waitHandler() mdns.Handler {
	<-b.ready
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler
}

// fakeResolver returns pre-registered handles by instance name.
type fakeResolver struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle
	calls   int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{handles: make(map[string]*fakeHandle)}
}

func (r *fakeResolver) add(instance string, h *fakeHandle) {
	r.mu.Lock()
	r.handles[instance] = h
	r.mu.Unlock()
}

func (r *fakeResolver) Resolve(_ context.Context, e mdns.Entry) (DeviceHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	h, ok := r.handles[e.Instance]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResolveFailed, e.Instance)
	}
	return h, nil
}

func (r *fakeResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func castEntry(instance, model, uuid string, ca int) mdns.Entry {
	return mdns.Entry{
		Instance: instance,
		Host:     instance + ".local",
		Port:     8009,
		AddrIPv4: []net.IP{net.ParseIP("192.168.1.50")},
		Text: map[string]string{
			"id": uuid,
			"md": model,
			"fn": "Living Room",
			"ca": fmt.Sprint(ca),
		},
		TTL: 120,
	}
}

func staticFactory(h DeviceHandle) HandleFactory {
	return func(context.Context) (DeviceHandle, error) { return h, nil }
}
