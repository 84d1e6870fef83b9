package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	OutputFormat string
}

type ElevenLabsProvider struct {
	cfg ElevenLabsConfig
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		// Telephony carries mulaw 8kHz; asking for it here avoids a
		// transcode hop on every chunk.
		cfg.OutputFormat = "ulaw_8000"
	}
	return &ElevenLabsProvider{cfg: cfg}
}

func (p *ElevenLabsProvider) StartStream(ctx context.Context, voiceID, modelID string, settings Settings) (Stream, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "eleven_turbo_v2_5"
	}

	stability := clamp(settings.Stability, 0.42, 0, 1)
	similarity := clamp(settings.SimilarityBoost, 0.85, 0, 1)
	speed := clamp(settings.Speed, 1.0, 0.7, 1.2)

	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", modelID)
	q.Set("output_format", p.cfg.OutputFormat)
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial synthesis websocket: %w", err)
	}

	s := newElevenStream(conn)
	go s.readLoop()
	// Prime the stream as documented for stream-input flows.
	_ = s.writeJSON(map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        stability,
			"similarity_boost": similarity,
			"speed":            speed,
		},
	})
	return s, nil
}

func clamp(v, def, lo, hi float64) float64 {
	if v <= 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type elevenStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	quit      chan struct{}
	events    chan Event
}

func newElevenStream(conn *websocket.Conn) *elevenStream {
	return &elevenStream{
		conn:   conn,
		quit:   make(chan struct{}),
		events: make(chan Event, 512),
	}
}

func (s *elevenStream) SendText(_ context.Context, text string, tryTrigger bool) error {
	return s.writeJSON(map[string]any{
		"text":                   text,
		"try_trigger_generation": tryTrigger,
	})
}

func (s *elevenStream) Heartbeat(_ context.Context) error {
	return s.writeJSON(map[string]any{"text": " "})
}

func (s *elevenStream) CloseInput(_ context.Context) error {
	return s.writeJSON(map[string]any{"text": ""})
}

func (s *elevenStream) Events() <-chan Event { return s.events }

// Close tears down the websocket and signals readLoop to stop. The
// events channel is closed by readLoop alone, so a consumer that has
// already walked away never turns a pending emit into a panic.
func (s *elevenStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.quit)
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *elevenStream) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *elevenStream) readLoop() {
	defer close(s.events)
	defer s.Close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		if audio, _ := raw["audio"].(string); audio != "" {
			if !s.emit(Event{Type: EventAudio, AudioBase64: audio}) {
				return
			}
		}
		if isFinal(raw) {
			if !s.emit(Event{Type: EventFinal}) {
				return
			}
		}
		if errMsg, _ := raw["error"].(string); errMsg != "" {
			code, _ := raw["message_type"].(string)
			if !s.emit(Event{Type: EventError, Code: code, Detail: errMsg, Retryable: reliability.IsRetryableRealtimeCode(code)}) {
				return
			}
		}
	}
}

// emit reports false once Close has been called, even when the
// consumer has stopped draining a full buffer.
func (s *elevenStream) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

func isFinal(raw map[string]any) bool {
	if b, ok := raw["isFinal"].(bool); ok && b {
		return true
	}
	b, ok := raw["is_final"].(bool)
	return ok && b
}
