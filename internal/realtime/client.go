package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/agentcfg"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/reliability"
)

// ErrClosed is returned by send methods after the socket has shut down.
var ErrClosed = errors.New("realtime: connection closed")

const eventBuffer = 256

// Config holds what the bridge needs to reach the reasoning endpoint.
type Config struct {
	WSBaseURL string
	APIKey    string
	Model     string
}

// Client is the websocket leg to the reasoning endpoint. One Client serves
// one call. Reads happen on a dedicated goroutine and surface on Events();
// all writes go through a single mutex so concurrent senders never
// interleave frames.
type Client struct {
	conn   *websocket.Conn
	events chan Event

	writeMu   sync.Mutex
	closeOnce sync.Once
	open      atomic.Bool
}

// Dial connects and starts the read loop. It does not configure the
// session; call InitializeSession next.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.WSBaseURL)
	if err != nil {
		return nil, fmt.Errorf("realtime: parse base url: %w", err)
	}
	u.Path = "/v1/realtime"
	u.RawQuery = url.Values{"model": {cfg.Model}}.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial %s (status %d): %w", u.Host, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: dial %s: %w", u.Host, err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan Event, eventBuffer),
	}
	c.open.Store(true)
	go c.readLoop()
	return c, nil
}

// sessionTool mirrors the endpoint's flat tool schema.
type sessionTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// InitializeSession pushes the per-call session.update frame built from the
// resolved agent configuration. Audio rides as 8kHz mulaw on both legs so
// telephony frames pass through without transcoding.
func (c *Client) InitializeSession(cfg agentcfg.PerCallConfig) error {
	modalities := []string{"text", "audio"}
	if cfg.OutputMode == agentcfg.OutputTTS {
		modalities = []string{"text"}
	}

	tools := make([]sessionTool, 0, len(cfg.Tools))
	for _, t := range cfg.Tools {
		typ := t.Type
		if typ == "" {
			typ = "function"
		}
		tools = append(tools, sessionTool{
			Type:        typ,
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	session := map[string]any{
		"modalities":          modalities,
		"voice":               cfg.Voice,
		"instructions":        cfg.SystemPrompt,
		"temperature":         cfg.Temperature,
		"input_audio_format":  "g711_ulaw",
		"output_audio_format": "g711_ulaw",
		"turn_detection":      map[string]any{"type": "server_vad"},
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
		"tools":       tools,
		"tool_choice": "auto",
	}
	return c.sendJSON(map[string]any{"type": "session.update", "session": session})
}

// AppendAudio forwards one base64 mulaw frame from the caller. Frames sent
// after close are dropped with an ErrClosed the caller may log and ignore.
func (c *Client) AppendAudio(b64 string) error {
	return c.sendJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": b64,
	})
}

// CreateUserMessage injects a synthetic user turn, used to trigger the
// greeting before the caller has said anything.
func (c *Client) CreateUserMessage(text string) error {
	return c.sendJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
}

// CreateResponse asks the endpoint to generate the next agent turn.
func (c *Client) CreateResponse() error {
	return c.sendJSON(map[string]any{"type": "response.create"})
}

// TruncateAssistantItem cuts the in-flight assistant item at the point the
// caller has actually heard, measured in milliseconds of played audio.
func (c *Client) TruncateAssistantItem(itemID string, elapsedMs int64) error {
	return c.sendJSON(map[string]any{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  elapsedMs,
	})
}

// SendToolResult reports a finished function call back to the endpoint and
// requests the follow-up turn that voices the result.
func (c *Client) SendToolResult(callID, output string) error {
	if err := c.sendJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	}); err != nil {
		return err
	}
	return c.CreateResponse()
}

// Events returns the stream of decoded endpoint events. It is closed after
// an EventClosed is delivered.
func (c *Client) Events() <-chan Event { return c.events }

// Close tears the socket down. Safe to call more than once and from any
// goroutine.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.open.Store(false)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline())
		err = c.conn.Close()
		c.writeMu.Unlock()
	})
	return err
}

func deadline() time.Time { return time.Now().Add(2 * time.Second) }

func (c *Client) sendJSON(v any) error {
	if !c.open.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}

// serverEvent is the superset envelope of every frame we decode.
type serverEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Delta      string `json:"delta"`
	ItemID     string `json:"item_id"`
	Response   struct {
		Output []struct {
			Type      string `json:"type"`
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
			CallID    string `json:"call_id"`
			ID        string `json:"id"`
		} `json:"output"`
	} `json:"response"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) readLoop() {
	defer func() {
		c.open.Store(false)
		c.emit(Event{Type: EventClosed})
		close(c.events)
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("realtime: read: %v", err)
			}
			return
		}
		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("realtime: decode: %v", err)
			continue
		}
		if out, ok := decode(ev); ok {
			c.emit(out)
		}
	}
}

func decode(ev serverEvent) (Event, bool) {
	switch ev.Type {
	case "conversation.item.input_audio_transcription.completed":
		return Event{Type: EventTranscriptCompleted, Text: ev.Transcript, ItemID: ev.ItemID}, true
	case "input_audio_buffer.speech_started":
		return Event{Type: EventSpeechStarted}, true
	case "response.audio.delta":
		return Event{Type: EventAudioDelta, AudioB64: ev.Delta, ItemID: ev.ItemID}, true
	case "response.text.delta", "response.audio_transcript.delta":
		return Event{Type: EventTextDelta, Text: ev.Delta, ItemID: ev.ItemID}, true
	case "response.audio_transcript.done", "response.text.done":
		text := ev.Transcript
		if text == "" {
			text = ev.Delta
		}
		return Event{Type: EventAgentTranscript, Text: text, ItemID: ev.ItemID}, true
	case "response.done":
		out := Event{Type: EventResponseDone}
		for _, item := range ev.Response.Output {
			if item.Type != "function_call" {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				Name:      item.Name,
				Arguments: item.Arguments,
				CallID:    item.CallID,
				ItemID:    item.ID,
			})
		}
		return out, true
	case "error":
		return Event{
			Type:      EventError,
			Code:      ev.Error.Code,
			Detail:    ev.Error.Message,
			Retryable: reliability.IsRetryableRealtimeCode(ev.Error.Code),
		}, true
	}
	return Event{}, false
}

// emit never blocks the read loop: a consumer that has fallen eventBuffer
// events behind loses the oldest-style delivery and gets a logged drop.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		log.Printf("realtime: event buffer full, dropping %s", ev.Type)
	}
}
