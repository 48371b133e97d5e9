package castv2

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultDialTimeout       = 10 * time.Second
	callbackQueueSize        = 64
	userAgent                = "gray-logic-cast"
)

// Logger is satisfied by logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DialFunc opens the raw connection to a device.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Config configures a Client.
type Config struct {
	// Addr is host:port of the device.
	Addr string

	// SenderID defaults to "sender-0".
	SenderID string

	// HeartbeatInterval defaults to 5s.
	HeartbeatInterval time.Duration

	// Dial defaults to TLS over TCP without certificate verification;
	// cast devices present self-signed certificates.
	Dial DialFunc

	Logger Logger
}

// Stats are cumulative counters for one connection.
type Stats struct {
	MessagesTx uint64
	MessagesRx uint64
	Errors     uint64
}

// Client is one sender connection to a cast device.
type Client struct {
	cfg  Config
	conn net.Conn

	writeMu sync.Mutex
	reqID   atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan reply

	stateMu   sync.RWMutex
	receiver  ReceiverStatus
	media     *MediaStatus
	transport string

	cbMu             sync.RWMutex
	onReceiverStatus func(ReceiverStatus)
	onMediaStatus    func(MediaStatus)
	onClosed         func(error)

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once
	closedBy  atomic.Bool
	wg        sync.WaitGroup

	messagesTx atomic.Uint64
	messagesRx atomic.Uint64
	errorsN    atomic.Uint64
}

// reply carries a raw JSON response or a request failure.
type reply struct {
	payload []byte
	err     error
}

func defaultDial(ctx context.Context, addr string) (net.Conn, error) {
	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: defaultDialTimeout},
		Config: &tls.Config{
			InsecureSkipVerify: true, // #nosec G402 -- devices use self-signed certs
			MinVersion:         tls.VersionTLS12,
		},
	}
	return d.DialContext(ctx, "tcp", addr)
}

// Dial connects to the device, opens the platform receiver channel and
// waits for its first status. The context bounds the whole handshake.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("castv2: empty address")
	}
	if cfg.SenderID == "" {
		cfg.SenderID = DefaultSenderID
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.Dial == nil {
		cfg.Dial = defaultDial
	}

	conn, err := cfg.Dial(ctx, cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("castv2: dial %s: %w", cfg.Addr, err)
	}

	c := &Client{
		cfg:     cfg,
		conn:    conn,
		pending: make(map[int64]chan reply),
		events:  make(chan func(), callbackQueueSize),
		done:    make(chan struct{}),
	}

	c.wg.Add(3)
	go c.readLoop()
	go c.heartbeatLoop()
	go c.callbackWorker()

	if err := c.connectTo(PlatformReceiver); err != nil {
		c.shutdown(nil)
		return nil, fmt.Errorf("castv2: connect: %w", err)
	}
	if _, err := c.GetStatus(ctx); err != nil {
		c.shutdown(nil)
		return nil, fmt.Errorf("castv2: initial status: %w", err)
	}
	return c, nil
}

// SetOnReceiverStatus registers the receiver status callback.
func (c *Client) SetOnReceiverStatus(fn func(ReceiverStatus)) {
	c.cbMu.Lock()
	c.onReceiverStatus = fn
	c.cbMu.Unlock()
}

// SetOnMediaStatus registers the media status callback.
func (c *Client) SetOnMediaStatus(fn func(MediaStatus)) {
	c.cbMu.Lock()
	c.onMediaStatus = fn
	c.cbMu.Unlock()
}

// SetOnClosed registers a callback for unexpected connection loss.
// It is not called when Close initiated the shutdown.
func (c *Client) SetOnClosed(fn func(error)) {
	c.cbMu.Lock()
	c.onClosed = fn
	c.cbMu.Unlock()
}

// Status returns the last RECEIVER_STATUS.
func (c *Client) Status() ReceiverStatus {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.receiver
}

// Media returns the last MEDIA_STATUS, if any.
func (c *Client) Media() (MediaStatus, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.media == nil {
		return MediaStatus{}, false
	}
	return *c.media, true
}

// Stats returns message counters.
func (c *Client) Stats() Stats {
	return Stats{
		MessagesTx: c.messagesTx.Load(),
		MessagesRx: c.messagesRx.Load(),
		Errors:     c.errorsN.Load(),
	}
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// GetStatus asks the platform receiver for its status.
func (c *Client) GetStatus(ctx context.Context) (ReceiverStatus, error) {
	raw, err := c.request(ctx, NamespaceReceiver, PlatformReceiver, &header{Type: typeGetStatus})
	if err != nil {
		return ReceiverStatus{}, err
	}
	var p receiverStatusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ReceiverStatus{}, fmt.Errorf("%w: receiver status: %w", ErrMalformed, err)
	}
	return p.Status, nil
}

// SetVolume sets the receiver volume, clamped to [0, 1].
func (c *Client) SetVolume(ctx context.Context, level float64) error {
	level = clamp(level)
	_, err := c.request(ctx, NamespaceReceiver, PlatformReceiver, &volumeRequest{
		header: header{Type: typeSetVolume},
		Volume: volumeUpdate{Level: &level},
	})
	return err
}

// SetMuted mutes or unmutes the receiver.
func (c *Client) SetMuted(ctx context.Context, muted bool) error {
	_, err := c.request(ctx, NamespaceReceiver, PlatformReceiver, &volumeRequest{
		header: header{Type: typeSetVolume},
		Volume: volumeUpdate{Muted: &muted},
	})
	return err
}

// VolumeUp raises the volume by step from the last reported level.
func (c *Client) VolumeUp(ctx context.Context, step float64) error {
	return c.SetVolume(ctx, c.Status().Volume.Level+step)
}

// VolumeDown lowers the volume by step from the last reported level.
func (c *Client) VolumeDown(ctx context.Context, step float64) error {
	return c.SetVolume(ctx, c.Status().Volume.Level-step)
}

// Play resumes the current media session.
func (c *Client) Play(ctx context.Context) error {
	return c.mediaCommand(ctx, typePlay)
}

// Pause pauses the current media session.
func (c *Client) Pause(ctx context.Context) error {
	return c.mediaCommand(ctx, typePause)
}

// StopApp stops the running receiver application, returning the device to
// its idle screen. It is a no-op when nothing is running.
func (c *Client) StopApp(ctx context.Context) error {
	app, ok := c.Status().ActiveApp()
	if !ok {
		return nil
	}
	_, err := c.request(ctx, NamespaceReceiver, PlatformReceiver, &stopRequest{
		header:    header{Type: typeStop},
		SessionID: app.SessionID,
	})
	return err
}

func (c *Client) mediaCommand(ctx context.Context, typ string) error {
	c.stateMu.RLock()
	transport := c.transport
	var sessionID int64
	if c.media != nil {
		sessionID = c.media.MediaSessionID
	}
	c.stateMu.RUnlock()

	if transport == "" || sessionID == 0 {
		return ErrNoMediaSession
	}
	_, err := c.request(ctx, NamespaceMedia, transport, &mediaRequest{
		header:         header{Type: typ},
		MediaSessionID: sessionID,
	})
	return err
}

// Close sends CLOSE to the platform receiver and tears the connection down.
// OnClosed is not invoked.
func (c *Client) Close(ctx context.Context) error {
	if !c.closedBy.CompareAndSwap(false, true) {
		return nil
	}
	select {
	case <-c.done:
	default:
		if deadline, ok := ctx.Deadline(); ok {
			_ = c.conn.SetWriteDeadline(deadline) //nolint:errcheck // best effort
		}
		_ = c.send(NamespaceConn, PlatformReceiver, &header{Type: typeClose}) //nolint:errcheck // best effort
	}
	c.shutdown(nil)

	waited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("castv2: close: %w", ctx.Err())
	}
}

// shutdown closes the connection once. A non-nil cause on an unexpected
// loss is delivered to OnClosed.
func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close() //nolint:errcheck // already shutting down

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			ch <- reply{err: ErrClosed}
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()

		if cause == nil || c.closedBy.Load() {
			return
		}
		c.cbMu.RLock()
		fn := c.onClosed
		c.cbMu.RUnlock()
		if fn != nil {
			go fn(cause)
		}
	})
}

func (c *Client) connectTo(dest string) error {
	return c.send(NamespaceConn, dest, &struct {
		header
		Origin    struct{} `json:"origin"`
		UserAgent string   `json:"userAgent"`
	}{header: header{Type: typeConnect}, UserAgent: userAgent})
}

// request sends a payload with a fresh requestId and waits for the reply
// carrying the same id.
func (c *Client) request(ctx context.Context, ns, dest string, payload requestPayload) ([]byte, error) {
	id := c.reqID.Add(1)
	payload.setRequestID(id)

	ch := make(chan reply, 1)
	c.pendingMu.Lock()
	select {
	case <-c.done:
		c.pendingMu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.send(ns, dest, payload); err != nil {
		c.dropPending(id)
		return nil, err
	}

	select {
	case r := <-ch:
		return r.payload, r.err
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

func (c *Client) dropPending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) resolve(id int64, r reply) {
	if id == 0 {
		return
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()
	if ok {
		ch <- r
	}
}

// send marshals payload to JSON and writes one frame.
func (c *Client) send(ns, dest string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("castv2: encode payload: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	err = writeFrame(c.conn, Message{
		SourceID:      c.cfg.SenderID,
		DestinationID: dest,
		Namespace:     ns,
		PayloadUTF8:   string(body),
	})
	if err != nil {
		c.errorsN.Add(1)
		return fmt.Errorf("castv2: write: %w", err)
	}
	c.messagesTx.Add(1)
	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		msg, err := readFrame(c.conn)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.errorsN.Add(1)
				c.logDebug("read loop ended", "addr", c.cfg.Addr, "error", err)
			}
			c.shutdown(fmt.Errorf("castv2: connection lost: %w", err))
			return
		}
		c.messagesRx.Add(1)
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg Message) {
	if msg.Binary {
		return
	}
	raw := []byte(msg.PayloadUTF8)
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		c.errorsN.Add(1)
		c.logWarn("undecodable payload", "namespace", msg.Namespace, "error", err)
		return
	}

	if errorTypes[h.Type] {
		c.resolve(h.RequestID, reply{err: fmt.Errorf("%w: %s %s", ErrRequestFailed, h.Type, h.Reason)})
		return
	}

	switch msg.Namespace {
	case NamespaceHeart:
		if h.Type == typePing {
			_ = c.send(NamespaceHeart, msg.SourceID, &header{Type: typePong}) //nolint:errcheck // loss detected by read loop
		}
	case NamespaceConn:
		if h.Type == typeClose {
			c.handleRemoteClose(msg.SourceID)
		}
	case NamespaceReceiver:
		if h.Type == typeReceiverStatus {
			c.handleReceiverStatus(raw, h.RequestID)
		}
	case NamespaceMedia:
		if h.Type == typeMediaStatus {
			c.handleMediaStatus(raw, h.RequestID)
		}
	}
}

func (c *Client) handleRemoteClose(source string) {
	if source == PlatformReceiver {
		c.shutdown(errors.New("castv2: device closed the connection"))
		return
	}
	c.stateMu.Lock()
	if c.transport == source {
		c.transport = ""
		c.media = nil
	}
	c.stateMu.Unlock()
}

func (c *Client) handleReceiverStatus(raw []byte, requestID int64) {
	var p receiverStatusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.errorsN.Add(1)
		c.resolve(requestID, reply{err: fmt.Errorf("%w: receiver status: %w", ErrMalformed, err)})
		return
	}

	app, hasApp := p.Status.ActiveApp()

	c.stateMu.Lock()
	c.receiver = p.Status
	newTransport := ""
	switch {
	case hasApp && app.TransportID != c.transport:
		c.transport = app.TransportID
		c.media = nil
		newTransport = app.TransportID
	case !hasApp && c.transport != "":
		c.transport = ""
		c.media = nil
	}
	c.stateMu.Unlock()

	c.resolve(requestID, reply{payload: raw})

	if newTransport != "" {
		if err := c.connectTo(newTransport); err == nil {
			_ = c.send(NamespaceMedia, newTransport, &header{Type: typeGetStatus, RequestID: c.reqID.Add(1)}) //nolint:errcheck // status is also pushed unsolicited
		}
	}

	c.cbMu.RLock()
	fn := c.onReceiverStatus
	c.cbMu.RUnlock()
	if fn != nil {
		status := p.Status
		c.enqueue(func() { fn(status) })
	}
}

func (c *Client) handleMediaStatus(raw []byte, requestID int64) {
	var p mediaStatusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.errorsN.Add(1)
		c.resolve(requestID, reply{err: fmt.Errorf("%w: media status: %w", ErrMalformed, err)})
		return
	}
	if len(p.Status) == 0 {
		c.resolve(requestID, reply{payload: raw})
		return
	}

	st := p.Status[0]
	c.stateMu.Lock()
	if st.Media == nil && c.media != nil && c.media.MediaSessionID == st.MediaSessionID {
		// Partial updates omit media; keep what was loaded.
		st.Media = c.media.Media
	}
	c.media = &st
	c.stateMu.Unlock()

	c.resolve(requestID, reply{payload: raw})

	c.cbMu.RLock()
	fn := c.onMediaStatus
	c.cbMu.RUnlock()
	if fn != nil {
		c.enqueue(func() { fn(st) })
	}
}

// enqueue hands a callback to the worker, preserving arrival order.
func (c *Client) enqueue(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

func (c *Client) callbackWorker() {
	defer c.wg.Done()
	for {
		select {
		case fn := <-c.events:
			c.runCallback(fn)
		case <-c.done:
			return
		}
	}
}

func (c *Client) runCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.errorsN.Add(1)
			c.logError("status callback panic recovered", "addr", c.cfg.Addr, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (c *Client) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.send(NamespaceHeart, PlatformReceiver, &header{Type: typePing}); err != nil {
				c.logDebug("heartbeat failed", "addr", c.cfg.Addr, "error", err)
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) logDebug(msg string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Error(msg, args...)
	}
}

// requestPayload is implemented by payloads embedding header.
type requestPayload interface {
	setRequestID(id int64)
}

func (h *header) setRequestID(id int64) { h.RequestID = id }

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Addr joins host and port the way Dial expects.
func Addr(host string, port int) string {
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
