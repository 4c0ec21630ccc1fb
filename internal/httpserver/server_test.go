package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/skobkin/freqpilot/internal/config"
	"github.com/skobkin/freqpilot/internal/controller"
	"github.com/skobkin/freqpilot/internal/freqprobe"
	"github.com/skobkin/freqpilot/internal/status"
	"github.com/skobkin/freqpilot/internal/version"
)

func TestHealthzOK(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, defaultTestConfig(), status.NewBoard())

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if strings.TrimSpace(string(body)) != `{"status":"ok"}` {
		t.Fatalf("unexpected body %q", string(body))
	}

	post, err := http.Post(ts.URL+"/healthz", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /healthz failed: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", post.StatusCode)
	}
}

func TestReadyzStates(t *testing.T) {
	t.Parallel()

	board := status.NewBoard()
	_, ts := newTestHTTPServer(t, defaultTestConfig(), board)

	assertReadyz(t, ts.URL+"/readyz", http.StatusServiceUnavailable, "initializing", "waiting_for_first_frame")

	board.Publish(status.Snapshot{State: "running"})
	assertReadyz(t, ts.URL+"/readyz", http.StatusOK, "ok", "")

	board.Publish(status.Snapshot{State: "window_expired"})
	assertReadyz(t, ts.URL+"/readyz", http.StatusServiceUnavailable, "finished", "run_ended")
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	version.Set(version.Info{Version: "v0.0.1", Commit: "abc123", BuildTime: "now"})
	_, ts := newTestHTTPServer(t, defaultTestConfig(), status.NewBoard())

	resp, err := http.Get(ts.URL + "/version")
	if err != nil {
		t.Fatalf("GET /version failed: %v", err)
	}
	defer resp.Body.Close()

	var info version.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version != "v0.0.1" || info.Commit != "abc123" || info.BuildTime != "now" {
		t.Fatalf("unexpected version payload %+v", info)
	}
}

func TestAPIStatus(t *testing.T) {
	t.Parallel()

	board := status.NewBoard()
	_, ts := newTestHTTPServer(t, defaultTestConfig(), board)

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the first frame, got %d", resp.StatusCode)
	}

	board.Publish(testSnapshot())

	resp, err = http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var snap status.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if snap.Signal != "speed_up" || snap.ActuatorPID != 4242 || snap.Frequency.GPUHz != 921_600_000 {
		t.Fatalf("unexpected status payload %+v", snap)
	}
	if snap.Counters.Frames != 12 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.HTTP.EnablePrometheus = true
	board := status.NewBoard()
	board.Publish(testSnapshot())
	_, ts := newTestHTTPServer(t, cfg, board)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)

	for _, want := range []string{
		`freqpilot_probe_gpu_frequency_hertz 9.216e+08`,
		`freqpilot_frame_latency_milliseconds{kind="total"} 12.5`,
		`freqpilot_controller_decisions_total{signal="speed_up"} 9`,
		`freqpilot_actuator_deliveries_total{outcome="permission_denied"} 1`,
		`freqpilot_controller_running{state="running"} 1`,
		`freqpilot_ws_clients 0`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, text)
		}
	}
}

func TestMetricsDisabledByDefault(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, defaultTestConfig(), status.NewBoard())
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without prometheus, got %d", resp.StatusCode)
	}
}

func TestWebSocketHelloStatusAndEnd(t *testing.T) {
	t.Parallel()

	board := status.NewBoard()
	board.Publish(testSnapshot())
	_, ts := newTestHTTPServer(t, defaultTestConfig(), board)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, toWebsocketURL(ts.URL+"/ws"), nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readJSON(ctx, t, conn)
	if hello["type"] != "hello" || hello["actuator"] != "motor_control" || hello["threshold_ms"] != 34.0 {
		t.Fatalf("unexpected hello %v", hello)
	}

	first := readJSON(ctx, t, conn)
	if first["type"] != "status" || first["signal"] != "speed_up" {
		t.Fatalf("unexpected first status %v", first)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if pong := readJSON(ctx, t, conn); pong["type"] != "pong" {
		t.Fatalf("expected pong, got %v", pong)
	}

	next := testSnapshot()
	next.State = "capture_exhausted"
	board.Publish(next)
	if msg := readJSON(ctx, t, conn); msg["state"] != "capture_exhausted" {
		t.Fatalf("expected final status, got %v", msg)
	}

	board.Close()
	end := readJSON(ctx, t, conn)
	if end["type"] != "end" || end["state"] != "capture_exhausted" {
		t.Fatalf("expected end message, got %v", end)
	}
}

func TestWebSocketCapacity(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.HTTP.WSMaxClients = 1
	_, ts := newTestHTTPServer(t, cfg, status.NewBoard())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, toWebsocketURL(ts.URL+"/ws"), nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	_ = readJSON(ctx, t, conn)

	_, resp, err := websocket.Dial(ctx, toWebsocketURL(ts.URL+"/ws"), nil)
	if err == nil {
		t.Fatalf("expected second connection to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for second connection, got %v", resp)
	}
}

func TestOutboundDropsOldest(t *testing.T) {
	t.Parallel()

	srv := &Server{}
	out := newWSOutbound(2, &srv.wsDropped)
	for _, msg := range []string{"a", "b", "c"} {
		if !out.enqueue([]byte(msg)) {
			t.Fatalf("enqueue %q failed", msg)
		}
	}
	if got := string(<-out.channel()); got != "b" {
		t.Fatalf("expected oldest message dropped, got %q first", got)
	}
	if srv.wsDropped.Load() != 1 {
		t.Fatalf("expected 1 drop, got %d", srv.wsDropped.Load())
	}
	out.close()
	if out.enqueue([]byte("d")) {
		t.Fatalf("enqueue after close succeeded")
	}
}

func newTestHTTPServer(t *testing.T, cfg config.Config, board *status.Board) (*Server, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, logger, board)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return srv, ts
}

func assertReadyz(t *testing.T, url string, expectedStatus int, expected string, reason string) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		t.Fatalf("expected status %d for %s, got %d", expectedStatus, url, resp.StatusCode)
	}
	var payload readyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode readyz response: %v", err)
	}
	if payload.Status != expected {
		t.Fatalf("expected status %q, got %q", expected, payload.Status)
	}
	if payload.Reason != reason {
		t.Fatalf("expected reason %q, got %q", reason, payload.Reason)
	}
}

func readJSON(ctx context.Context, t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read: %v", err)
	}
	if msgType != websocket.MessageText {
		t.Fatalf("unexpected message type %v", msgType)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func testSnapshot() status.Snapshot {
	return status.Snapshot{
		State:       "running",
		UpdatedAt:   time.Now(),
		Frequency:   freqprobe.Sample{CPUHz: 1_500_000_000, GPUHz: 921_600_000},
		Latency:     controller.LatencySample{TotalMS: 12.5, CPUMS: 3, Detections: 1, Confidence: 0.8},
		ThresholdMS: 34,
		Signal:      "speed_up",
		Outcome:     "delivered",
		ActuatorPID: 4242,
		Counters: status.Counters{
			Frames:           12,
			SpeedUp:          9,
			SlowDown:         3,
			Delivered:        11,
			PermissionDenied: 1,
		},
	}
}

func defaultTestConfig() config.Config {
	return config.Config{
		Control: config.ControlConfig{
			WindowDuration: time.Minute,
			ThresholdMS:    34,
			CaptureTimeout: time.Second,
		},
		Actuator: config.ActuatorConfig{Name: "motor_control"},
		HTTP: config.HTTPConfig{
			Enable:       true,
			ListenAddr:   ":0",
			WSMaxClients: 16,
		},
	}
}

func toWebsocketURL(httpURL string) string {
	u, err := url.Parse(httpURL)
	if err != nil {
		return httpURL
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String()
}
