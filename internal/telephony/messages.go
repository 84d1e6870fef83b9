package telephony

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event identifies media-stream frame variants.
type Event string

const (
	EventConnected Event = "connected"
	EventStart     Event = "start"
	EventMedia     Event = "media"
	EventMark      Event = "mark"
	EventStop      Event = "stop"
	EventClear     Event = "clear"
	EventDTMF      Event = "dtmf"
)

var ErrUnsupportedEvent = errors.New("unsupported stream event")

type Envelope struct {
	Event Event `json:"event"`
}

// StartFrame announces the media stream and binds it to the provider call.
type StartFrame struct {
	Event Event `json:"event"`
	Start struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		AccountSID       string            `json:"accountSid"`
		Tracks           []string          `json:"tracks"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start"`
	StreamSID string `json:"streamSid"`
}

// MediaFrame carries one chunk of caller audio.
type MediaFrame struct {
	Event Event `json:"event"`
	Media struct {
		Track     string `json:"track"`
		Chunk     string `json:"chunk"`
		Timestamp string `json:"timestamp"`
		Payload   string `json:"payload"`
	} `json:"media"`
	StreamSID string `json:"streamSid"`
}

// MarkFrame acknowledges a previously sent outbound mark.
type MarkFrame struct {
	Event Event `json:"event"`
	Mark  struct {
		Name string `json:"name"`
	} `json:"mark"`
	StreamSID string `json:"streamSid"`
}

type StopFrame struct {
	Event Event `json:"event"`
	Stop  struct {
		CallSID string `json:"callSid"`
	} `json:"stop"`
	StreamSID string `json:"streamSid"`
}

type ConnectedFrame struct {
	Event    Event  `json:"event"`
	Protocol string `json:"protocol"`
	Version  string `json:"version"`
}

type DTMFFrame struct {
	Event Event `json:"event"`
	DTMF  struct {
		Track string `json:"track"`
		Digit string `json:"digit"`
	} `json:"dtmf"`
	StreamSID string `json:"streamSid"`
}

// ParseStreamMessage decodes an inbound media-stream frame into its typed
// variant. Frames the relay does not consume return ErrUnsupportedEvent.
func ParseStreamMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventConnected:
		var msg ConnectedFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	case EventStart:
		var msg StartFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Start.StreamSID == "" || msg.Start.CallSID == "" {
			return nil, errors.New("invalid start frame")
		}
		return &msg, nil
	case EventMedia:
		var msg MediaFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Media.Payload == "" {
			return nil, errors.New("invalid media frame")
		}
		return &msg, nil
	case EventMark:
		var msg MarkFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	case EventStop:
		var msg StopFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	case EventDTMF:
		var msg DTMFFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}

// OutboundMedia builds a media frame carrying base64 audio toward the caller.
func OutboundMedia(streamSID, payloadB64 string) map[string]any {
	return map[string]any{
		"event":     string(EventMedia),
		"streamSid": streamSID,
		"media": map[string]any{
			"payload": payloadB64,
		},
	}
}

// OutboundClear tells the provider to discard queued, unplayed audio.
func OutboundClear(streamSID string) map[string]any {
	return map[string]any{
		"event":     string(EventClear),
		"streamSid": streamSID,
	}
}

// OutboundMark asks for a playback-position acknowledgement.
func OutboundMark(streamSID, name string) map[string]any {
	return map[string]any{
		"event":     string(EventMark),
		"streamSid": streamSID,
		"mark": map[string]any{
			"name": name,
		},
	}
}
