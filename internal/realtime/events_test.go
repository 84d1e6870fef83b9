package realtime

import (
	"encoding/json"
	"testing"
)

func decodeRaw(t *testing.T, raw string) (Event, bool) {
	t.Helper()
	var ev serverEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return decode(ev)
}

func TestDecodeTranscriptCompleted(t *testing.T) {
	ev, ok := decodeRaw(t, `{"type":"conversation.item.input_audio_transcription.completed","transcript":"hi there","item_id":"item_1"}`)
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Type != EventTranscriptCompleted || ev.Text != "hi there" {
		t.Fatalf("got %+v", ev)
	}
}

func TestDecodeAudioDelta(t *testing.T) {
	ev, ok := decodeRaw(t, `{"type":"response.audio.delta","delta":"AAAA","item_id":"item_9"}`)
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Type != EventAudioDelta || ev.AudioB64 != "AAAA" || ev.ItemID != "item_9" {
		t.Fatalf("got %+v", ev)
	}
}

func TestDecodeSpeechStarted(t *testing.T) {
	ev, ok := decodeRaw(t, `{"type":"input_audio_buffer.speech_started"}`)
	if !ok || ev.Type != EventSpeechStarted {
		t.Fatalf("got %+v ok=%v", ev, ok)
	}
}

func TestDecodeResponseDoneToolCalls(t *testing.T) {
	raw := `{"type":"response.done","response":{"output":[
		{"type":"message","id":"m1"},
		{"type":"function_call","name":"get_current_time","arguments":"{}","call_id":"call_7","id":"fc1"}
	]}}`
	ev, ok := decodeRaw(t, raw)
	if !ok || ev.Type != EventResponseDone {
		t.Fatalf("got %+v ok=%v", ev, ok)
	}
	if len(ev.ToolCalls) != 1 {
		t.Fatalf("want 1 tool call, got %d", len(ev.ToolCalls))
	}
	tc := ev.ToolCalls[0]
	if tc.Name != "get_current_time" || tc.CallID != "call_7" {
		t.Fatalf("got %+v", tc)
	}
}

func TestDecodeErrorRetryable(t *testing.T) {
	ev, ok := decodeRaw(t, `{"type":"error","error":{"code":"rate_limited","message":"slow down"}}`)
	if !ok || ev.Type != EventError {
		t.Fatalf("got %+v ok=%v", ev, ok)
	}
	if !ev.Retryable {
		t.Fatal("rate_limited should be retryable")
	}

	ev, _ = decodeRaw(t, `{"type":"error","error":{"code":"invalid_request_error","message":"bad"}}`)
	if ev.Retryable {
		t.Fatal("invalid_request_error should not be retryable")
	}
}

func TestDecodeIgnoresUnknownTypes(t *testing.T) {
	if _, ok := decodeRaw(t, `{"type":"session.created"}`); ok {
		t.Fatal("session.created should be ignored")
	}
}
