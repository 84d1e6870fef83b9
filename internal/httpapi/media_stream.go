package httpapi

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/agentcfg"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/relay"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/synth"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/telephony"
)

// wsSender serializes outbound writes on the media-stream socket. Gorilla
// connections allow one concurrent writer only.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(v)
}

func (s *wsSender) SendMedia(streamID, payloadB64 string) error {
	return s.writeJSON(telephony.OutboundMedia(streamID, payloadB64))
}

func (s *wsSender) SendClear(streamID string) error {
	return s.writeJSON(telephony.OutboundClear(streamID))
}

func (s *wsSender) SendMark(streamID, name string) error {
	return s.writeJSON(telephony.OutboundMark(streamID, name))
}

// handleMediaStream accepts the provider's call-audio socket. The call id
// only becomes known when the start frame arrives, so the bridges are wired
// after an initial read phase and the start frame is then replayed into the
// conductor.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(2 << 20)

	startRaw, start, err := s.awaitStartFrame(conn)
	if err != nil {
		log.Printf("httpapi: media stream closed before start: %v", err)
		return
	}
	callSID := start.Start.CallSID

	cfg, err := s.resolveCallConfig(r.Context(), start)
	if err != nil {
		log.Printf("httpapi: no config for media stream of call %s: %v", callSID, err)
		if s.metrics != nil {
			s.metrics.CallEvents.WithLabelValues("config_missing").Inc()
		}
		return
	}

	bridge, err := s.dialer.Dial(r.Context(), cfg)
	if err != nil {
		log.Printf("httpapi: dial reasoning endpoint for call %s: %v", callSID, err)
		if s.metrics != nil {
			s.metrics.ProviderErrors.WithLabelValues("realtime", "dial_failed").Inc()
		}
		return
	}

	var synthStream synth.Stream
	if cfg.OutputMode == agentcfg.OutputTTS {
		synthStream, err = synth.NewReconnectingStream(r.Context(), s.synthesis, cfg.Voice, s.cfg.ElevenLabsTTSModel, synth.Settings{})
		if err != nil {
			log.Printf("httpapi: open synthesis stream for call %s: %v", callSID, err)
			_ = bridge.Close()
			if s.metrics != nil {
				s.metrics.ProviderErrors.WithLabelValues("synth", "dial_failed").Inc()
			}
			return
		}
	}

	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rly := relay.New(relay.Deps{
		Sessions:   s.sessions,
		Bridge:     bridge,
		Synth:      synthStream,
		Telephony:  &wsSender{conn: conn},
		Dispatcher: s.dispatcher,
		Config:     cfg,
		Metrics:    s.metrics,
		Heartbeat:  s.cfg.SynthHeartbeat,
		OnActivity: func() { s.registry.Touch(connID) },
		OnHangup:   func(string) { s.registry.Remove(connID) },
	})

	closers := []func() error{
		func() error { rly.Close(); return nil },
		bridge.Close,
	}
	if synthStream != nil {
		closers = append(closers, synthStream.Close)
	}
	closers = append(closers, conn.Close)
	s.registry.Register(connID, closers...)
	s.registry.BindCall(connID, callSID)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = rly.Run(ctx)
	}()

	rly.HandleFrame(startRaw)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		rly.HandleFrame(data)
	}

	s.registry.Remove(connID)
	cancel()
	<-runDone
}

// awaitStartFrame reads until the stream's start frame shows up, skipping
// the connected preamble.
func (s *Server) awaitStartFrame(conn *websocket.Conn) ([]byte, *telephony.StartFrame, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, nil, err
		}
		msg, err := telephony.ParseStreamMessage(data)
		if err != nil {
			continue
		}
		if start, ok := msg.(*telephony.StartFrame); ok {
			return data, start, nil
		}
	}
}

// resolveCallConfig prefers the agent already recorded for the call by the
// webhook; a stream for an unknown call falls back to number-based lookup.
func (s *Server) resolveCallConfig(ctx context.Context, start *telephony.StartFrame) (agentcfg.PerCallConfig, error) {
	agentID := ""
	if sess, ok := s.sessions.ByCallID(start.Start.CallSID); ok {
		agentID = sess.AgentID
	}
	if agentID == "" {
		agentID = s.cfg.DefaultAgentID
	}
	to := strings.TrimSpace(start.Start.CustomParameters["To"])
	return s.agents.Resolve(ctx, agentID, to)
}
