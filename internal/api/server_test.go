package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yishaik/wotbot/internal/config"
	"github.com/yishaik/wotbot/internal/engine"
	"github.com/yishaik/wotbot/internal/events"
	"github.com/yishaik/wotbot/internal/llm"
	"github.com/yishaik/wotbot/internal/session"
	"github.com/yishaik/wotbot/internal/tools"
	"github.com/yishaik/wotbot/internal/usage"
)

// cannedLLM answers every request with the same output.
type cannedLLM struct {
	out llm.Output
}

func (c *cannedLLM) Chat(context.Context, []llm.Message, []map[string]any) (*llm.Output, error) {
	out := c.out
	return &out, nil
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	eng := engine.New(engine.Options{
		Config:   cfg,
		Sessions: session.NewStore(),
		Tools:    tools.NewRegistry(tools.Deps{}),
		Client:   &cannedLLM{out: llm.Output{Content: "Hello from the model"}},
	})
	s := NewServer("127.0.0.1", 0, eng, slog.New(slog.DiscardHandler))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
}

func TestConverse(t *testing.T) {
	_, ts := newTestServer(t)

	payload, _ := json.Marshal(ConverseRequest{UserID: "u1", Text: "hi"})
	resp, err := http.Post(ts.URL+"/v1/converse", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /v1/converse: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body ConverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Replies) != 1 || body.Replies[0] != "Hello from the model" {
		t.Errorf("replies = %#v", body.Replies)
	}
}

func TestConverseValidation(t *testing.T) {
	_, ts := newTestServer(t)

	for _, body := range []string{`{}`, `{"user_id":"u1"}`, `not json`} {
		resp, err := http.Post(ts.URL+"/v1/converse", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestUsageEndpoint(t *testing.T) {
	s, ts := newTestServer(t)

	store, err := usage.NewStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	s.SetUsage(store)

	err = store.Record(context.Background(), usage.Record{
		RequestID:    "r1",
		UserID:       "u1",
		Backend:      "chat",
		Model:        "gpt-4o-mini",
		InputTokens:  50,
		OutputTokens: 10,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	resp, err := http.Get(ts.URL + "/v1/usage?hours=1")
	if err != nil {
		t.Fatalf("GET /v1/usage: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Hours   int            `json:"hours"`
		Summary usage.Summary  `json:"summary"`
		ByUser  map[string]any `json:"by_user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Hours != 1 || body.Summary.TotalRecords != 1 || body.Summary.TotalInputTokens != 50 {
		t.Errorf("body = %+v", body)
	}
	if _, ok := body.ByUser["u1"]; !ok {
		t.Errorf("by_user missing u1: %v", body.ByUser)
	}
}

func TestUsageUnconfigured(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/usage")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestMCPToolsWithoutManager(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/mcp/tools")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ok, _ := body["ok"].(bool); !ok {
		t.Errorf("body = %v", body)
	}
}

func TestEventsStream(t *testing.T) {
	s, ts := newTestServer(t)
	bus := events.New()
	s.SetBus(bus)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Subscription happens inside the handler; give it a moment
	// before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish(events.Event{Source: events.SourceEngine, Kind: events.KindRequestStart})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Source != events.SourceEngine || ev.Kind != events.KindRequestStart {
		t.Errorf("event = %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}
}

func TestEventsUnconfigured(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
