package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-cast/internal/audit"
	"github.com/nerrad567/gray-logic-cast/internal/bridges/cast"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/logging"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeRouter replies with a fixed result, or never when silent is set.
type fakeRouter struct {
	mu     sync.Mutex
	routed []cast.Instruction
	result cast.Result
	silent bool
}

func (f *fakeRouter) Route(in cast.Instruction) {
	f.mu.Lock()
	f.routed = append(f.routed, in)
	res, silent := f.result, f.silent
	f.mu.Unlock()
	if !silent && in.Reply != nil {
		in.Reply(res)
	}
}

func (f *fakeRouter) Routed() []cast.Instruction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cast.Instruction(nil), f.routed...)
}

type fakeAudit struct {
	filter audit.Filter
	err    error
}

func (f *fakeAudit) Create(context.Context, *audit.Entry) error { return nil }

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return &audit.ListResult{
		Entries: []audit.Entry{{ID: "ins-1", DeviceID: filter.DeviceID, Outcome: "accepted"}},
		Total:   1,
		Limit:   50,
	}, nil
}

type fakeHealth struct{}

func (fakeHealth) Current() cast.HealthMessage {
	return cast.HealthMessage{BridgeID: "cast-test", Status: cast.HealthHealthy, SessionsActive: 2}
}

type testEnv struct {
	srv    *Server
	http   *httptest.Server
	store  *DeviceStore
	router *fakeRouter
	audit  *fakeAudit
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()

	log := logging.Discard()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)
	store := NewDeviceStore(hub)
	router := &fakeRouter{result: cast.Result{Outcome: cast.OutcomeAccepted}}
	aud := &fakeAudit{}

	srv, err := New(Deps{
		Security:           config.SecurityConfig{JWT: config.JWTConfig{Secret: secret}},
		Logger:             log,
		Store:              store,
		Router:             router,
		Audit:              aud,
		Health:             fakeHealth{},
		Hub:                hub,
		InstructionTimeout: 100 * time.Millisecond,
		Version:            "test",
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, http: ts, store: store, router: router, audit: aud}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestNew_Validation(t *testing.T) {
	log := logging.Discard()
	store := NewDeviceStore(nil)
	router := &fakeRouter{}

	_, err := New(Deps{Store: store, Router: router})
	assert.Error(t, err)
	_, err = New(Deps{Logger: log, Router: router})
	assert.Error(t, err)
	_, err = New(Deps{Logger: log, Store: store})
	assert.Error(t, err)

	srv, err := New(Deps{Logger: log, Store: store, Router: router})
	require.NoError(t, err)
	assert.Equal(t, defaultInstructionTimeout, srv.instructionTimeout)
	assert.NotNil(t, srv.hub)
	assert.NoError(t, srv.Close())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var msg cast.HealthMessage
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, "cast-test", msg.BridgeID)
	assert.Equal(t, 2, msg.SessionsActive)
}

func TestDevices_ListAndGet(t *testing.T) {
	env := newTestEnv(t, "")
	online, offline := cast.StatusOnline, cast.StatusOffline
	name := "Kitchen"
	vol := 40

	env.store.SendState(cast.DeviceState{DeviceID: "b-dev", DeviceStatus: &online, FriendlyName: &name, VolumeState: &vol})
	env.store.SendState(cast.DeviceState{DeviceID: "a-dev", DeviceStatus: &offline})

	resp, body := env.do(t, http.MethodGet, "/api/v1/devices", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Devices []DeviceView `json:"devices"`
		Count   int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, cast.DeviceID("a-dev"), list.Devices[0].DeviceID)

	resp, body = env.do(t, http.MethodGet, "/api/v1/devices?status=online", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, cast.DeviceID("b-dev"), list.Devices[0].DeviceID)

	resp, body = env.do(t, http.MethodGet, "/api/v1/devices/b-dev", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view DeviceView
	require.NoError(t, json.Unmarshal(body, &view))
	require.NotNil(t, view.VolumeState)
	assert.Equal(t, 40, *view.VolumeState)
	assert.Equal(t, "Kitchen", *view.FriendlyName)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/devices/missing", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostInstruction(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     cast.Result
		silent     bool
		wantStatus int
		wantAck    cast.AckStatus
		wantRouted bool
	}{
		{
			name:       "accepted",
			body:       `{"id":"cmd-1","instruction":"volume","parameters":{"kind":"set_level","level":30}}`,
			result:     cast.Result{Outcome: cast.OutcomeAccepted},
			wantStatus: http.StatusOK,
			wantAck:    cast.AckAccepted,
			wantRouted: true,
		},
		{
			name:       "failed outcome is still 200",
			body:       `{"instruction":"play_state","parameters":{"target":"paused"}}`,
			result:     cast.Result{Outcome: cast.OutcomeFailed, Err: cast.ErrSessionBusy},
			wantStatus: http.StatusOK,
			wantAck:    cast.AckFailed,
			wantRouted: true,
		},
		{
			name:       "not found",
			body:       `{"instruction":"power","parameters":{"target":"off"}}`,
			result:     cast.Result{Outcome: cast.OutcomeNotFound, Err: cast.ErrDeviceNotFound},
			wantStatus: http.StatusNotFound,
			wantAck:    cast.AckFailed,
			wantRouted: true,
		},
		{
			name:       "no reply times out",
			body:       `{"instruction":"volume","parameters":{"kind":"louder"}}`,
			silent:     true,
			wantStatus: http.StatusGatewayTimeout,
			wantAck:    cast.AckTimeout,
			wantRouted: true,
		},
		{
			name:       "bad parameters",
			body:       `{"instruction":"volume","parameters":{"kind":"set_level","level":101}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing instruction",
			body:       `{"parameters":{}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{"instruction":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			env.router.result = tt.result
			env.router.silent = tt.silent

			resp, body := env.do(t, http.MethodPost, "/api/v1/devices/chromecast-abc/instructions", tt.body, "")
			require.Equal(t, tt.wantStatus, resp.StatusCode, string(body))

			routed := env.router.Routed()
			if !tt.wantRouted {
				assert.Empty(t, routed)
				return
			}
			require.Len(t, routed, 1)
			assert.Equal(t, cast.DeviceID("chromecast-abc"), routed[0].DeviceID)
			assert.Equal(t, "api", routed[0].Source)
			assert.NotEmpty(t, routed[0].ID)

			var ack cast.AckMessage
			require.NoError(t, json.Unmarshal(body, &ack))
			assert.Equal(t, tt.wantAck, ack.Status)
			assert.Equal(t, routed[0].ID, ack.CommandID)
		})
	}
}

func TestListInstructions(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.do(t, http.MethodGet, "/api/v1/instructions?device_id=dev-a&outcome=failed&limit=10&offset=5", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, audit.Filter{DeviceID: "dev-a", Outcome: "failed", Limit: 10, Offset: 5}, env.audit.filter)

	var res audit.ListResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, 1, res.Total)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/instructions?limit=ten", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.audit.err = errors.New("db closed")
	resp, _ = env.do(t, http.MethodGet, "/api/v1/instructions", "", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestListInstructions_NotConfigured(t *testing.T) {
	srv, err := New(Deps{Logger: logging.Discard(), Store: NewDeviceStore(nil), Router: &fakeRouter{}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/instructions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, testSecret)

	resp, _ := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is public")

	resp, _ = env.do(t, http.MethodGet, "/api/v1/devices", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	resp, _ = env.do(t, http.MethodGet, "/api/v1/devices", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	wrong, err := IssueToken("another-secret-key-at-least-32-characters", "ops", time.Hour)
	require.NoError(t, err)
	resp, _ = env.do(t, http.MethodGet, "/api/v1/devices", "", wrong)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := IssueToken(testSecret, "ops", time.Hour)
	require.NoError(t, err)
	resp, _ = env.do(t, http.MethodGet, "/api/v1/devices", "", token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/devices/d1/instructions", `{"instruction":"power","parameters":{"target":"off"}}`, token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	routed := env.router.Routed()
	require.Len(t, routed, 1)
	assert.Equal(t, "api:ops", routed[0].Source)
}

func TestTokens(t *testing.T) {
	token, err := IssueToken(testSecret, "orchestrator", time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "orchestrator", claims.Subject)
	assert.NotEmpty(t, claims.ID)

	defaulted, err := IssueToken(testSecret, "orchestrator", -1)
	require.NoError(t, err, "non-positive ttl falls back to the default")
	claims, err = ParseToken(defaulted, testSecret)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(defaultTokenTTL), claims.ExpiresAt.Time, time.Minute)

	_, err = ParseToken(token, "different-secret-key-at-least-32-chars")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = IssueToken("", "x", time.Minute)
	assert.Error(t, err)
	_, err = IssueToken(testSecret, "", time.Minute)
	assert.Error(t, err)
}

func TestCORS(t *testing.T) {
	srv, err := New(Deps{
		Config: config.APIConfig{CORS: config.CORSConfig{AllowedOrigins: []string{"http://ui.local"}}},
		Logger: logging.Discard(),
		Store:  NewDeviceStore(nil),
		Router: &fakeRouter{},
	})
	require.NoError(t, err)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://ui.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://ui.local", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDeviceStore_Media(t *testing.T) {
	store := NewDeviceStore(nil)
	store.SendMediaEvent(cast.MediaEvent{DeviceID: "d1", TrackName: "Song", PlayStatus: cast.PlayStatePlaying})

	view, ok := store.Get("d1")
	require.True(t, ok)
	require.NotNil(t, view.Media)
	assert.Equal(t, "Song", view.Media.TrackName)
	assert.Nil(t, view.DeviceStatus)

	online := cast.StatusOnline
	store.SendState(cast.DeviceState{DeviceID: "d1", DeviceStatus: &online})
	view, _ = store.Get("d1")
	require.NotNil(t, view.Media, "state updates keep media")
	assert.Equal(t, cast.StatusOnline, *view.DeviceStatus)
}

func dialWS(t *testing.T, env *testEnv, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/ws" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_SubscribeAndBroadcast(t *testing.T) {
	env := newTestEnv(t, "")

	conn, _, err := dialWS(t, env, "")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    WSTypeSubscribe,
		"id":      "sub-1",
		"payload": map[string]any{"channels": []string{ChannelDeviceState}},
	}))
	resp := readWS(t, conn)
	assert.Equal(t, WSTypeResponse, resp.Type)
	assert.Equal(t, "sub-1", resp.ID)

	// Not subscribed to media; only the state event arrives.
	env.store.SendMediaEvent(cast.MediaEvent{DeviceID: "d1"})
	vol := 55
	env.store.SendState(cast.DeviceState{DeviceID: "d1", VolumeState: &vol})

	ev := readWS(t, conn)
	assert.Equal(t, WSTypeEvent, ev.Type)
	assert.Equal(t, ChannelDeviceState, ev.EventType)
	payload, ok := ev.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "d1", payload["device_id"])
	assert.InDelta(t, 55, payload["volume_state"], 0)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": WSTypePing, "id": "p"}))
	assert.Equal(t, WSTypePong, readWS(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "launch"}))
	assert.Equal(t, WSTypeError, readWS(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": WSTypeSubscribe}))
	assert.Equal(t, WSTypeError, readWS(t, conn).Type)
}

func TestWebSocket_TokenQuery(t *testing.T) {
	env := newTestEnv(t, testSecret)

	_, resp, err := dialWS(t, env, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := IssueToken(testSecret, "panel", time.Hour)
	require.NoError(t, err)
	conn, _, err := dialWS(t, env, "?token="+token)
	require.NoError(t, err)
	conn.Close()
}

func TestHub_RunClosesClients(t *testing.T) {
	env := newTestEnv(t, "")
	conn, _, err := dialWS(t, env, "")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.srv.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.srv.hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	assert.Equal(t, 0, env.srv.hub.ClientCount())
}

func TestServer_StartClose(t *testing.T) {
	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		Logger: logging.Discard(),
		Store:  NewDeviceStore(nil),
		Router: &fakeRouter{},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	require.NotNil(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr().String() + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Close())
}
