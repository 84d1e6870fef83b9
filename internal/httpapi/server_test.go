package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/agentcfg"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/calls"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/config"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/realtime"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/registry"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/relay"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/synth"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/toolcall"
)

type stubBridge struct {
	events chan realtime.Event
}

func (b *stubBridge) AppendAudio(string) error { return nil }

func (b *stubBridge) CreateUserMessage(string) error { return nil }

func (b *stubBridge) CreateResponse() error { return nil }

func (b *stubBridge) TruncateAssistantItem(string, int64) error { return nil }

func (b *stubBridge) SendToolResult(string, string) error { return nil }

func (b *stubBridge) Events() <-chan realtime.Event { return b.events }

func (b *stubBridge) Close() error { return nil }

type stubDialer struct{}

func (stubDialer) Dial(context.Context, agentcfg.PerCallConfig) (relay.Bridge, error) {
	return &stubBridge{events: make(chan realtime.Event)}, nil
}

func newTestServer(t *testing.T) (*Server, *calls.Store, *agentcfg.InMemoryStore) {
	t.Helper()
	sessions := calls.NewStore()
	agents := agentcfg.NewInMemoryStore()
	agents.Put(agentcfg.PerCallConfig{
		AgentID:    "agent-1",
		Model:      "m",
		Voice:      "v",
		OutputMode: agentcfg.OutputNative,
	}, "+15550100")

	reg := registry.New(sessions, nil, nil, time.Minute)
	cfg := config.Config{DefaultAgentID: "agent-1", ElevenLabsTTSModel: "tm"}
	dispatcher := toolcall.NewDispatcher(time.Second, time.Second, nil)
	srv := New(cfg, sessions, agents, reg, stubDialer{}, synth.NewMockProvider(), dispatcher, nil)
	return srv, sessions, agents
}

func postForm(t *testing.T, handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIncomingCallReturnsStreamMarkup(t *testing.T) {
	srv, sessions, _ := newTestServer(t)

	rec := postForm(t, srv.Router(), "/incoming-call", url.Values{
		"To":      {"+15550100"},
		"From":    {"+15550123"},
		"CallSid": {"CA1"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Fatalf("content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<Connect>") || !strings.Contains(body, "/media-stream") {
		t.Fatalf("unexpected markup: %s", body)
	}

	sess, ok := sessions.ByCallID("CA1")
	if !ok {
		t.Fatal("session not created")
	}
	if sess.EndTime != nil {
		t.Fatal("fresh session must have nil end time")
	}
	if sess.AgentID != "agent-1" || sess.CallerNumber != "+15550123" {
		t.Fatalf("session fields: %+v", sess)
	}
}

func TestIncomingCallWithoutConfigSpeaksApology(t *testing.T) {
	srv, sessions, _ := newTestServer(t)
	srv.cfg.DefaultAgentID = "missing"

	rec := postForm(t, srv.Router(), "/incoming-call", url.Values{
		"To":      {"+19990000"},
		"From":    {"+15550123"},
		"CallSid": {"CA2"},
	})

	body := rec.Body.String()
	if !strings.Contains(body, "<Say>") || !strings.Contains(body, "<Hangup/>") {
		t.Fatalf("expected apology markup, got: %s", body)
	}
	if _, ok := sessions.ByCallID("CA2"); ok {
		t.Fatal("no session should exist for a rejected call")
	}
}

func TestEndCallUnknownIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := postForm(t, srv.Router(), "/v1/calls/CA404/end", url.Values{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestMediaStreamLifecycle(t *testing.T) {
	srv, sessions, _ := newTestServer(t)
	sessions.Create("CA1", "agent-1", "+15550123", "+15550100")

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/media-stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frames := []string{
		`{"event":"connected","protocol":"Call","version":"1.0.0"}`,
		`{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA1","customParameters":{"To":"+15550100","From":"+15550123"}}}`,
		`{"event":"media","streamSid":"MZ1","media":{"timestamp":"20","payload":"AAA="}}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		sess, ok := sessions.ByStreamID("MZ1")
		if ok && sess.CallID == "CA1" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("stream never attached to call")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	deadline = time.After(2 * time.Second)
	for {
		if _, ok := sessions.ByCallID("CA1"); !ok {
			return // session finalized and evicted
		}
		select {
		case <-deadline:
			t.Fatal("stop frame never ended the session")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
