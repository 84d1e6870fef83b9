package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/agentcfg"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/calls"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/config"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/observability"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/registry"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/relay"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/synth"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/telephony"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/toolcall"
)

// BridgeDialer opens a configured reasoning-endpoint socket for one call.
// The production implementation dials and sends session.update; tests
// substitute a fake.
type BridgeDialer interface {
	Dial(ctx context.Context, cfg agentcfg.PerCallConfig) (relay.Bridge, error)
}

type Server struct {
	cfg        config.Config
	sessions   *calls.Store
	agents     agentcfg.Store
	registry   *registry.Registry
	dialer     BridgeDialer
	synthesis  synth.Provider
	dispatcher *toolcall.Dispatcher
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
}

func New(
	cfg config.Config,
	sessions *calls.Store,
	agents agentcfg.Store,
	reg *registry.Registry,
	dialer BridgeDialer,
	synthesis synth.Provider,
	dispatcher *toolcall.Dispatcher,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:        cfg,
		sessions:   sessions,
		agents:     agents,
		registry:   reg,
		dialer:     dialer,
		synthesis:  synthesis,
		dispatcher: dispatcher,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The media stream comes from the telephony provider's
			// infrastructure, not a browser.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, req)
	})

	r.Post("/incoming-call", s.handleIncomingCall)
	r.Get("/media-stream", s.handleMediaStream)

	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/calls", s.handleListCalls)
	r.Post("/v1/calls/{callID}/end", s.handleEndCall)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"active_calls": s.sessions.ActiveCount(),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{"window_size": 0, "stages": []any{}})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.PerfSnapshot())
}

// handleIncomingCall is the provider webhook that fires when someone dials
// an agent's number. It resolves configuration, records the session and
// answers with markup pointing the provider at the media-stream socket.
// Resolution failure is the one error a caller ever hears.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondTwiML(w, telephony.ApologyTwiML(""))
		return
	}
	to := strings.TrimSpace(r.FormValue("To"))
	from := strings.TrimSpace(r.FormValue("From"))
	callSID := strings.TrimSpace(r.FormValue("CallSid"))
	agentID := strings.TrimSpace(r.URL.Query().Get("agent_id"))

	// The dialed number picks the agent unless the webhook URL pins one;
	// the default agent is the last resort.
	cfg, err := s.agents.Resolve(r.Context(), agentID, to)
	if err != nil && agentID == "" {
		cfg, err = s.agents.Resolve(r.Context(), s.cfg.DefaultAgentID, to)
	}
	if err != nil {
		log.Printf("httpapi: no agent config for call %s to %s: %v", callSID, to, err)
		if s.metrics != nil {
			s.metrics.CallEvents.WithLabelValues("config_missing").Inc()
		}
		respondTwiML(w, telephony.ApologyTwiML(""))
		return
	}

	s.sessions.Create(callSID, cfg.AgentID, from, to)
	if s.metrics != nil {
		s.metrics.CallEvents.WithLabelValues("incoming_call").Inc()
	}

	host := s.cfg.PublicHost
	if host == "" {
		host = r.Host
	}
	respondTwiML(w, telephony.ConnectStreamTwiML("wss://"+host+"/media-stream", to, from))
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"calls": s.sessions.Active()})
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	if _, ok := s.sessions.ByCallID(callID); !ok {
		respondJSON(w, http.StatusNotFound, map[string]any{"error": "call not found"})
		return
	}
	s.registry.RemoveByCall(callID)
	respondJSON(w, http.StatusOK, map[string]any{"status": "ended", "call_id": callID})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondTwiML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
