package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lora-relay/internal/auth"
	"github.com/nerrad567/lora-relay/internal/bridges/chirpstack"
	"github.com/nerrad567/lora-relay/internal/bundle"
	"github.com/nerrad567/lora-relay/internal/dispatch"
	"github.com/nerrad567/lora-relay/internal/enddevice"
	"github.com/nerrad567/lora-relay/internal/frame"
	"github.com/nerrad567/lora-relay/internal/infrastructure/config"
	"github.com/nerrad567/lora-relay/internal/infrastructure/database"
	"github.com/nerrad567/lora-relay/internal/infrastructure/logging"
	"github.com/nerrad567/lora-relay/internal/journal"
	"github.com/nerrad567/lora-relay/internal/lorawan"
	"github.com/nerrad567/lora-relay/internal/queue"
	"github.com/nerrad567/lora-relay/migrations"
)

const (
	testSecret  = "test-secret-key-at-least-32-characters-long"
	testGateway = "aa555a0000000101"
)

// fakeGateways implements GatewaySource.
type fakeGateways struct {
	set       *chirpstack.GatewaySet
	connected bool
}

func (f *fakeGateways) Gateways() *chirpstack.GatewaySet { return f.set }

func (f *fakeGateways) Stats() chirpstack.Stats {
	return chirpstack.Stats{Connected: f.connected, Gateways: f.set.Len()}
}

type testEnv struct {
	srv       *Server
	registry  *enddevice.Registry
	queues    *queue.Set
	dutyCycle *lorawan.DutyCycle
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

// testServer creates a Server over real relay services. mutate may adjust
// the dependencies before New.
func testServer(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	registry, err := enddevice.NewRegistry([]string{"447700900123"})
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	queues, err := queue.NewSet(queue.Capacities{Relay: 2, Bundle: 2, Announcement: 1})
	if err != nil {
		t.Fatalf("NewSet() error: %v", err)
	}
	defaults, err := lorawan.DefaultParams(868100000, 5)
	if err != nil {
		t.Fatalf("DefaultParams() error: %v", err)
	}
	duty := lorawan.NewDutyCycle(true)

	deps := Deps{
		Config: config.APIConfig{
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:         testWSConfig(),
		ListenAddr: "127.0.0.1:0",
		Logger:     testLogger(),
		NodeID:     "relay-a",
		Version:    "test",
		Registry:   registry,
		Queues:     queues,
		Splitter:   bundle.NewSplitter(100),
		Prefixes:   frame.DefaultPrefixes(),
		Defaults:   defaults,
		Gateways:   &fakeGateways{set: chirpstack.NewGatewaySet([]string{testGateway}), connected: true},
		DutyCycle:  duty,
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if srv.hub == nil {
		srv.hub = NewHub(srv.wsCfg, srv.logger)
		srv.hub.SetBundleHandler(srv.submitBundle)
	}
	go srv.hub.Run(ctx)

	return &testEnv{srv: srv, registry: registry, queues: queues, dutyCycle: duty}
}

func withAuth(d *Deps) {
	d.Security = config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 5}}
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken("tester", role, testSecret, 5)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error: %v", err)
	}
	return tok
}

// do runs one request through the router.
func (e *testEnv) do(t *testing.T, method, path, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	e := decode[Error](t, w)
	if e.Code != code || e.Status != status || e.Message == "" {
		t.Errorf("error body = %+v, want code %q", e, code)
	}
}

// ─── Health and Middleware Tests ───────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t, nil)
	w := env.do(t, http.MethodGet, "/api/health", "", "")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
}

func TestRequestID(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodGet, "/api/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/end_devices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t, nil)
	assertError(t, env.do(t, http.MethodGet, "/api/nonexistent", "", ""), http.StatusNotFound, ErrCodeNotFound)
}

// ─── End Device Tests ──────────────────────────────────────────────

func TestEndDevices(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodGet, "/api/end_devices", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if got := decode[endDevicesBody](t, w).EndDevices; len(got) != 1 || got[0] != "447700900123" {
		t.Errorf("initial end_devices = %v", got)
	}

	w = env.do(t, http.MethodPost, "/api/end_devices", `{"end_devices":["447700900456","447700900123"]}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("add status = %d", w.Code)
	}
	if got := decode[endDevicesBody](t, w).EndDevices; len(got) != 2 {
		t.Errorf("after add = %v, want 2 ids", got)
	}

	// Removing an absent id is a no-op success.
	w = env.do(t, http.MethodDelete, "/api/end_devices", `{"end_devices":["447700900456","999"]}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("remove status = %d", w.Code)
	}
	if got := decode[endDevicesBody](t, w).EndDevices; len(got) != 1 || got[0] != "447700900123" {
		t.Errorf("after remove = %v", got)
	}
	if !env.registry.Contains("447700900123") || env.registry.Contains("447700900456") {
		t.Error("registry out of sync with responses")
	}
}

func TestEndDevices_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		code   string
	}{
		{"invalid json", http.MethodPost, `{"end_devices":`, ErrCodeBadRequest},
		{"missing field", http.MethodPost, `{}`, ErrCodeBadRequest},
		{"wrong type", http.MethodDelete, `{"end_devices":"447700900123"}`, ErrCodeBadRequest},
		{"blank id", http.MethodPost, `{"end_devices":["ok"," "]}`, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, nil)
			assertError(t, env.do(t, tt.method, "/api/end_devices", tt.body, ""), http.StatusBadRequest, tt.code)
			if env.registry.Len() != 1 {
				t.Errorf("registry changed to %v", env.registry.List())
			}
		})
	}
}

// ─── Relay Tests ───────────────────────────────────────────────────

func TestQueues(t *testing.T) {
	env := testServer(t, nil)
	w := env.do(t, http.MethodGet, "/api/queues", "", "")

	resp := decode[struct {
		Queues []queue.ClassStats `json:"queues"`
	}](t, w)
	if len(resp.Queues) != 3 {
		t.Fatalf("queues = %+v", resp.Queues)
	}
	if resp.Queues[0].Class != "announcement" || resp.Queues[2].Capacity != 2 {
		t.Errorf("queues = %+v", resp.Queues)
	}
}

func TestGateways(t *testing.T) {
	env := testServer(t, nil)
	if err := env.dutyCycle.Reserve(testGateway, 868100000, 2*time.Second, time.Now()); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/api/gateways", "", "")
	resp := decode[struct {
		Gateways []gatewayView `json:"gateways"`
		Count    int           `json:"count"`
	}](t, w)
	if resp.Count != 1 || resp.Gateways[0].ID != testGateway {
		t.Fatalf("gateways = %+v", resp)
	}
	usage := resp.Gateways[0].DutyCycle
	if len(usage) != 1 || usage[0].Used != 2*time.Second {
		t.Errorf("duty_cycle = %+v", usage)
	}
}

func TestSubmitBundle(t *testing.T) {
	env := testServer(t, nil)
	payload := bytes.Repeat([]byte{0x5a}, 300)
	body, _ := json.Marshal(BundleRequest{Payload: payload})

	w := env.do(t, http.MethodPost, "/api/bundles", string(body), "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	res := decode[BundleResult](t, w)
	// DR5 carries 254 - 9 = 245 bundle bytes per fragment.
	if res.Fragments != 2 || res.Source != "relay-a" || res.BundleID != 100 {
		t.Errorf("result = %+v", res)
	}

	item, ok := env.queues.Dequeue(frame.KindBundle)
	if !ok {
		t.Fatal("bundle not queued")
	}
	if len(item.Frames) != 2 || item.Frames[0].Source != frame.DeviceID("relay-a") {
		t.Errorf("queued frames = %+v", item.Frames)
	}
	if item.Params.SpreadingFactor != 7 {
		t.Errorf("params = %+v", item.Params)
	}
}

func TestSubmitBundle_DataRate(t *testing.T) {
	env := testServer(t, nil)
	w := env.do(t, http.MethodPost, "/api/bundles",
		`{"source":"447700900123","payload":"`+strings.Repeat("QUFB", 40)+`","data_rate":0}`, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	res := decode[BundleResult](t, w)
	// 120 bytes at DR0: 63 - 9 = 54 per fragment.
	if res.Fragments != 3 || res.Params.SpreadingFactor != 12 || res.WireID != frame.DeviceID("447700900123") {
		t.Errorf("result = %+v", res)
	}
}

func TestSubmitBundle_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", `{"payload":`, ErrCodeBadRequest},
		{"invalid base64", `{"payload":"***"}`, ErrCodeBadRequest},
		{"empty payload", `{"payload":""}`, ErrCodeValidation},
		{"invalid data rate", `{"payload":"QQ==","data_rate":9}`, ErrCodeValidation},
		{"invalid frequency", `{"payload":"QQ==","frequency":915000000}`, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, nil)
			assertError(t, env.do(t, http.MethodPost, "/api/bundles", tt.body, ""), http.StatusBadRequest, tt.code)
			if env.queues.Len(frame.KindBundle) != 0 {
				t.Error("rejected bundle was queued")
			}
		})
	}
}

func TestSubmitBundle_QueueFull(t *testing.T) {
	env := testServer(t, nil)
	for i := 0; i < 2; i++ {
		if w := env.do(t, http.MethodPost, "/api/bundles", `{"payload":"QQ=="}`, ""); w.Code != http.StatusAccepted {
			t.Fatalf("bundle %d status = %d", i, w.Code)
		}
	}
	assertError(t, env.do(t, http.MethodPost, "/api/bundles", `{"payload":"QQ=="}`, ""), http.StatusServiceUnavailable, ErrCodeQueueFull)
}

func TestSubmitDownlink(t *testing.T) {
	env := testServer(t, nil)
	w := env.do(t, http.MethodPost, "/api/downlinks",
		`{"payload":"AAAAAao=","prefix":7,"frequency":868300000,"bandwidth":125000,"spreading_factor":9}`, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	item, ok := env.queues.Dequeue(frame.KindRelay)
	if !ok {
		t.Fatal("downlink not queued on relay queue")
	}
	if got, want := item.Frames[0].Marshal(), []byte{0x07, 0x00, 0x00, 0x00, 0x01, 0xaa}; !bytes.Equal(got, want) {
		t.Errorf("frame = % x, want % x", got, want)
	}
	want := lorawan.Params{Frequency: 868300000, Bandwidth: 125000, SpreadingFactor: 9}
	if item.Params != want {
		t.Errorf("params = %+v, want %+v", item.Params, want)
	}
}

func TestSubmitDownlink_DataRateOverrides(t *testing.T) {
	env := testServer(t, nil)
	w := env.do(t, http.MethodPost, "/api/downlinks",
		`{"payload":"AAAAAQ==","bandwidth":125000,"spreading_factor":9,"data_rate":6}`, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	res := decode[DownlinkResult](t, w)
	want := lorawan.Params{Frequency: 868100000, Bandwidth: 250000, SpreadingFactor: 7}
	if res.Params != want {
		t.Errorf("params = %+v, want %+v", res.Params, want)
	}

	item, _ := env.queues.Dequeue(frame.KindRelay)
	if item.Frames[0].Prefix != 0x01 {
		t.Errorf("default prefix = 0x%02x, want relay prefix", item.Frames[0].Prefix)
	}
}

func TestSubmitDownlink_Rejected(t *testing.T) {
	long := strings.Repeat("A", 100) // 75 bytes
	tests := []struct {
		name string
		body string
		code string
	}{
		{"prefix out of range", `{"payload":"AAAAAQ==","prefix":256}`, ErrCodeBadRequest},
		{"too short", `{"payload":"AAA="}`, ErrCodeValidation},
		{"bad frequency", `{"payload":"AAAAAQ==","frequency":869525000}`, ErrCodeValidation},
		{"bad bandwidth", `{"payload":"AAAAAQ==","bandwidth":500000,"spreading_factor":7}`, ErrCodeValidation},
		{"bad spreading factor", `{"payload":"AAAAAQ==","bandwidth":125000,"spreading_factor":6}`, ErrCodeValidation},
		{"too long for data rate", `{"payload":"` + long + `","data_rate":0}`, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, nil)
			assertError(t, env.do(t, http.MethodPost, "/api/downlinks", tt.body, ""), http.StatusBadRequest, tt.code)
		})
	}
}

// ─── Journal Tests ─────────────────────────────────────────────────

func TestJournal_Disabled(t *testing.T) {
	env := testServer(t, nil)
	assertError(t, env.do(t, http.MethodGet, "/api/journal", "", ""), http.StatusServiceUnavailable, ErrCodeUnavailable)
}

func TestJournal(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	j := journal.New(db.DB)
	for i, dir := range []string{journal.DirectionUp, journal.DirectionDown, journal.DirectionUp} {
		if err := j.Record(context.Background(), journal.Entry{
			Direction:   dir,
			Kind:        "relay",
			Source:      "0000002a",
			Gateway:     testGateway,
			Size:        10 + i,
			Fingerprint: "ff",
		}); err != nil {
			t.Fatal(err)
		}
	}

	env := testServer(t, func(d *Deps) { d.Journal = j })

	res := decode[journal.ListResult](t, env.do(t, http.MethodGet, "/api/journal?limit=2", "", ""))
	if len(res.Entries) != 2 || res.Total != 3 {
		t.Errorf("limit=2: %d entries of %d", len(res.Entries), res.Total)
	}

	res = decode[journal.ListResult](t, env.do(t, http.MethodGet, "/api/journal?direction=down", "", ""))
	if len(res.Entries) != 1 || res.Entries[0].Direction != journal.DirectionDown {
		t.Errorf("direction=down: %+v", res.Entries)
	}

	assertError(t, env.do(t, http.MethodGet, "/api/journal?limit=x", "", ""), http.StatusBadRequest, ErrCodeBadRequest)
	assertError(t, env.do(t, http.MethodGet, "/api/journal?direction=sideways", "", ""), http.StatusBadRequest, ErrCodeBadRequest)
}

// ─── Metrics Tests ─────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	env := testServer(t, nil)
	w := env.do(t, http.MethodGet, "/api/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	m := decode[SystemMetrics](t, w)
	if m.NodeID != "relay-a" || m.EndDevices != 1 || len(m.Queues) != 3 {
		t.Errorf("metrics = %+v", m)
	}
	if !m.MQTT.Connected || m.Gateways == nil || m.Gateways.Gateways != 1 {
		t.Errorf("gateway metrics = %+v, mqtt = %+v", m.Gateways, m.MQTT)
	}
	if m.Journal.Enabled || m.Cache != nil {
		t.Errorf("optional sources reported: journal %+v cache %+v", m.Journal, m.Cache)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime metrics missing")
	}
}

// ─── Auth Tests ────────────────────────────────────────────────────

func TestAuth(t *testing.T) {
	env := testServer(t, withAuth)
	viewer := token(t, auth.RoleViewer)
	operator := token(t, auth.RoleOperator)
	add := `{"end_devices":["447700900456"]}`

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		bearer string
		want   int
	}{
		{"health is open", http.MethodGet, "/api/health", "", "", http.StatusOK},
		{"missing token", http.MethodGet, "/api/end_devices", "", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/end_devices", "", "not-a-jwt", http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/api/queues", "", viewer, http.StatusOK},
		{"viewer cannot mutate", http.MethodPost, "/api/end_devices", add, viewer, http.StatusForbidden},
		{"viewer cannot inject", http.MethodPost, "/api/bundles", `{"payload":"QQ=="}`, viewer, http.StatusForbidden},
		{"operator mutates", http.MethodPost, "/api/end_devices", add, operator, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body, tt.bearer)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAuth_WrongSecret(t *testing.T) {
	env := testServer(t, withAuth)
	tok, err := auth.GenerateAccessToken("tester", auth.RoleOperator, strings.Repeat("x", 40), 5)
	if err != nil {
		t.Fatal(err)
	}
	assertError(t, env.do(t, http.MethodGet, "/api/end_devices", "", tok), http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestAuth_QueryToken(t *testing.T) {
	env := testServer(t, withAuth)
	w := env.do(t, http.MethodGet, "/api/end_devices?access_token="+token(t, auth.RoleViewer), "", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func newTestClient(hub *Hub, channels ...string) *WSClient {
	subs := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}
	return &WSClient{
		id:            "test",
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: subs,
	}
}

func TestHub_ObserveBroadcastsToSubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	subscribed := newTestClient(hub, dispatch.EventBundleReceived)
	other := newTestClient(hub, dispatch.EventAnnouncementReceived)
	hub.Register(subscribed)
	hub.Register(other)

	hub.Observe(dispatch.Event{
		Type:     dispatch.EventBundleReceived,
		Source:   42,
		BundleID: 7,
		Payload:  []byte("hello"),
	})

	select {
	case msg := <-subscribed.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != dispatch.EventBundleReceived {
			t.Errorf("message = %+v", wsMsg)
		}
		var ev dispatch.Event
		if err := json.Unmarshal(wsMsg.Payload, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev.BundleID != 7 || string(ev.Payload) != "hello" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast message")
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}
	client := newTestClient(hub)
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

// ─── WebSocket Connection Tests ────────────────────────────────────

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// dialWS connects to the router through a real listener.
func dialWS(t *testing.T, env *testEnv, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ts := httptest.NewServer(env.srv.buildRouter())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Cleanup(func() { ws.Close() })
	}
	return ws, resp, err
}

func roundTrip(t *testing.T, ws *websocket.Conn, msg WSMessage) WSMessage {
	t.Helper()
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", msg.Type, err)
	}
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read %s response: %v", msg.Type, err)
	}
	return resp
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	env := testServer(t, nil)
	ws, _, err := dialWS(t, env, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	resp := roundTrip(t, ws, WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: rawJSON(t, WSSubscribePayload{Channels: []string{dispatch.EventAnnouncementReceived}}),
	})
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	env.srv.hub.Observe(dispatch.Event{Type: dispatch.EventAnnouncementReceived, Source: 9, Hops: 1})

	var ev WSMessage
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != WSTypeEvent || ev.EventType != dispatch.EventAnnouncementReceived {
		t.Errorf("event = %+v", ev)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	env := testServer(t, nil)
	ws, _, err := dialWS(t, env, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if resp := roundTrip(t, ws, WSMessage{Type: WSTypePing, ID: "ping-1"}); resp.Type != WSTypePong || resp.ID != "ping-1" {
		t.Errorf("ping response = %+v", resp)
	}
	if resp := roundTrip(t, ws, WSMessage{Type: "unknown_type", ID: "x"}); resp.Type != WSTypeError {
		t.Errorf("unknown type response = %+v", resp)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != WSTypeError {
		t.Errorf("invalid JSON response = %+v", resp)
	}
}

func TestWebSocket_BundleSend(t *testing.T) {
	env := testServer(t, nil)
	ws, _, err := dialWS(t, env, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	resp := roundTrip(t, ws, WSMessage{
		Type:    WSTypeBundleSend,
		ID:      "b-1",
		Payload: rawJSON(t, BundleRequest{Source: "447700900123", Payload: []byte("store and forward")}),
	})
	if resp.Type != WSTypeResponse {
		t.Fatalf("bundle.send response = %+v (%s)", resp, resp.Payload)
	}
	var res BundleResult
	if err := json.Unmarshal(resp.Payload, &res); err != nil {
		t.Fatal(err)
	}
	if res.Fragments != 1 || res.Source != "447700900123" {
		t.Errorf("result = %+v", res)
	}
	if env.queues.Len(frame.KindBundle) != 1 {
		t.Error("bundle not queued")
	}

	resp = roundTrip(t, ws, WSMessage{Type: WSTypeBundleSend, ID: "b-2", Payload: rawJSON(t, BundleRequest{})})
	if resp.Type != WSTypeError {
		t.Errorf("empty bundle response = %+v", resp)
	}
}

func TestWebSocket_Auth(t *testing.T) {
	env := testServer(t, withAuth)

	_, resp, err := dialWS(t, env, "")
	if err == nil {
		t.Fatal("expected error connecting without token")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	ws, _, err := dialWS(t, env, "?access_token="+token(t, auth.RoleViewer))
	if err != nil {
		t.Fatalf("viewer dial: %v", err)
	}
	reply := roundTrip(t, ws, WSMessage{
		Type:    WSTypeBundleSend,
		ID:      "b-1",
		Payload: rawJSON(t, BundleRequest{Payload: []byte("x")}),
	})
	if reply.Type != WSTypeError {
		t.Errorf("viewer bundle.send = %+v, want error", reply)
	}
	if env.queues.Len(frame.KindBundle) != 0 {
		t.Error("viewer queued a bundle")
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	env := testServer(t, nil)
	srv := env.srv

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get("http://" + srv.Addr() + "/api/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_StartAddressInUse(t *testing.T) {
	first := testServer(t, nil)
	if err := first.srv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer first.srv.Close()

	second := testServer(t, func(d *Deps) { d.ListenAddr = first.srv.Addr() })
	if err := second.srv.Start(context.Background()); err == nil {
		second.srv.Close()
		t.Error("Start() on a bound address succeeded")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"no logger", func(d *Deps) { d.Logger = nil }},
		{"no registry", func(d *Deps) { d.Registry = nil }},
		{"no queues", func(d *Deps) { d.Queues = nil }},
		{"no splitter", func(d *Deps) { d.Splitter = nil }},
		{"no address", func(d *Deps) { d.ListenAddr = "" }},
		{"duplicate prefixes", func(d *Deps) { d.Prefixes = frame.Prefixes{Relay: 1, Bundle: 1, Announcement: 3} }},
		{"bad defaults", func(d *Deps) { d.Defaults = lorawan.Params{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, _ := enddevice.NewRegistry(nil)
			queues, _ := queue.NewSet(queue.Capacities{Relay: 1, Bundle: 1, Announcement: 1})
			deps := Deps{
				ListenAddr: "127.0.0.1:0",
				Logger:     testLogger(),
				Registry:   registry,
				Queues:     queues,
				Splitter:   bundle.NewSplitter(0),
				Prefixes:   frame.DefaultPrefixes(),
				Defaults:   lorawan.Params{Frequency: 868100000, Bandwidth: 125000, SpreadingFactor: 7},
			}
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Error("New() error = nil")
			}
		})
	}
}

func TestNew_ExternalHub(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	env := testServer(t, func(d *Deps) { d.ExternalHub = hub })
	if env.srv.Hub() != hub {
		t.Fatal("external hub not used")
	}
	if hub.bundleHandler() == nil {
		t.Error("bundle handler not installed on external hub")
	}
}
