package realtime

// EventType tags decoded reasoning-endpoint events.
type EventType string

const (
	// EventTranscriptCompleted carries the finalized transcript of caller speech.
	EventTranscriptCompleted EventType = "transcript_completed"
	// EventSpeechStarted fires when the endpoint's VAD hears the caller talk,
	// including while agent audio is still playing (barge-in).
	EventSpeechStarted EventType = "speech_started"
	// EventAudioDelta carries one base64 chunk of synthesized agent audio.
	EventAudioDelta EventType = "audio_delta"
	// EventTextDelta carries one chunk of agent response text (token stream).
	EventTextDelta EventType = "text_delta"
	// EventAgentTranscript carries the finalized text of one spoken agent item.
	EventAgentTranscript EventType = "agent_transcript"
	// EventResponseDone closes a generation turn; ToolCalls holds any
	// function calls the endpoint requested.
	EventResponseDone EventType = "response_done"
	EventError        EventType = "error"
	EventClosed       EventType = "closed"
)

// ToolCall is a function-call request emitted inside response.done.
type ToolCall struct {
	Name      string
	Arguments string
	CallID    string
	ItemID    string
}

// Event is the tagged union surfaced by the bridge's read loop.
type Event struct {
	Type      EventType
	Text      string
	AudioB64  string
	ItemID    string
	ToolCalls []ToolCall
	Code      string
	Detail    string
	Retryable bool
}
