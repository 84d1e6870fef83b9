package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/agentcfg"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/calls"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/realtime"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/synth"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/toolcall"
)

type fakeBridge struct {
	events chan realtime.Event

	mu          sync.Mutex
	appended    []string
	truncated   []string
	truncatedMs []int64
	toolOutputs map[string]string
	userMsgs    []string
	responses   int
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		events:      make(chan realtime.Event, 64),
		toolOutputs: map[string]string{},
	}
}

func (b *fakeBridge) AppendAudio(b64 string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appended = append(b.appended, b64)
	return nil
}

func (b *fakeBridge) CreateUserMessage(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userMsgs = append(b.userMsgs, text)
	return nil
}

func (b *fakeBridge) CreateResponse() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses++
	return nil
}

func (b *fakeBridge) TruncateAssistantItem(itemID string, elapsedMs int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.truncated = append(b.truncated, itemID)
	b.truncatedMs = append(b.truncatedMs, elapsedMs)
	return nil
}

func (b *fakeBridge) SendToolResult(callID, output string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toolOutputs[callID] = output
	return nil
}

func (b *fakeBridge) Events() <-chan realtime.Event { return b.events }
func (b *fakeBridge) Close() error                  { return nil }

type sentFrame struct {
	kind     string
	streamID string
	payload  string
}

type fakeTelephony struct {
	mu    sync.Mutex
	sent  []sentFrame
	media chan string
	clear chan struct{}
}

func newFakeTelephony() *fakeTelephony {
	return &fakeTelephony{
		media: make(chan string, 64),
		clear: make(chan struct{}, 8),
	}
}

func (f *fakeTelephony) SendMedia(streamID, payloadB64 string) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentFrame{"media", streamID, payloadB64})
	f.mu.Unlock()
	f.media <- payloadB64
	return nil
}

func (f *fakeTelephony) SendClear(streamID string) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentFrame{"clear", streamID, ""})
	f.mu.Unlock()
	f.clear <- struct{}{}
	return nil
}

func (f *fakeTelephony) SendMark(streamID, name string) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentFrame{"mark", streamID, name})
	f.mu.Unlock()
	return nil
}

const startFrameJSON = `{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA1","customParameters":{"To":"+15550100","From":"+15550123"}}}`

func startRelay(t *testing.T, cfg agentcfg.PerCallConfig, synthStream synth.Stream) (*Relay, *fakeBridge, *fakeTelephony, *calls.Store, chan string) {
	t.Helper()
	sessions := calls.NewStore()
	sessions.Create("CA1", cfg.AgentID, "+15550123", "+15550100")

	bridge := newFakeBridge()
	tel := newFakeTelephony()
	hangups := make(chan string, 1)

	r := New(Deps{
		Sessions:   sessions,
		Bridge:     bridge,
		Synth:      synthStream,
		Telephony:  tel,
		Dispatcher: toolcall.NewDispatcher(time.Second, 10*time.Millisecond, nil),
		Config:     cfg,
		OnHangup:   func(callID string) { hangups <- callID },
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		r.Close()
		<-done
	})
	return r, bridge, tel, sessions, hangups
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCallerTurnStreamsAudioBeforeResponseCompletes(t *testing.T) {
	stream, _ := synth.NewMockProvider().StartStream(context.Background(), "v", "m", synth.Settings{})
	cfg := agentcfg.PerCallConfig{AgentID: "agent-1", OutputMode: agentcfg.OutputTTS}
	r, bridge, tel, sessions, _ := startRelay(t, cfg, stream)

	r.HandleFrame([]byte(startFrameJSON))
	waitFor(t, func() bool {
		_, ok := sessions.ByStreamID("MZ1")
		return ok
	}, "stream never attached")

	bridge.events <- realtime.Event{Type: realtime.EventTranscriptCompleted, Text: "What are your hours?"}
	bridge.events <- realtime.Event{Type: realtime.EventTextDelta, Text: "We are open from nine in the morning "}
	bridge.events <- realtime.Event{Type: realtime.EventTextDelta, Text: "until five in the evening, "}

	// A flush rule fires mid-response: audio reaches the telephony leg
	// before the turn is done.
	select {
	case <-tel.media:
	case <-time.After(2 * time.Second):
		t.Fatal("no audio before response completion")
	}

	bridge.events <- realtime.Event{Type: realtime.EventTextDelta, Text: "every day of the week."}
	bridge.events <- realtime.Event{Type: realtime.EventResponseDone}

	waitFor(t, func() bool {
		sess, ok := sessions.ByCallID("CA1")
		return ok && len(sess.Transcript) == 1 && sess.Transcript[0].Speaker == calls.SpeakerCaller
	}, "caller transcript entry never appeared")

	sess, _ := sessions.ByCallID("CA1")
	if sess.StreamID != "MZ1" {
		t.Fatalf("stream not attached: %+v", sess)
	}
	if sess.Transcript[0].Text != "What are your hours?" {
		t.Fatalf("transcript text %q", sess.Transcript[0].Text)
	}
}

func TestBargeInTruncatesAndDropsStaleDeltas(t *testing.T) {
	cfg := agentcfg.PerCallConfig{AgentID: "agent-1", OutputMode: agentcfg.OutputNative}
	r, bridge, tel, sessions, _ := startRelay(t, cfg, nil)

	appendedCount := func() int {
		bridge.mu.Lock()
		defer bridge.mu.Unlock()
		return len(bridge.appended)
	}

	r.HandleFrame([]byte(startFrameJSON))
	waitFor(t, func() bool {
		_, ok := sessions.ByStreamID("MZ1")
		return ok
	}, "stream never attached")

	r.HandleFrame([]byte(`{"event":"media","streamSid":"MZ1","media":{"timestamp":"100","payload":"AAA="}}`))
	waitFor(t, func() bool { return appendedCount() == 1 }, "media frame never forwarded")

	bridge.events <- realtime.Event{Type: realtime.EventAudioDelta, AudioB64: "Zmlyc3Q=", ItemID: "item_1"}
	<-tel.media

	r.HandleFrame([]byte(`{"event":"media","streamSid":"MZ1","media":{"timestamp":"600","payload":"AAA="}}`))
	waitFor(t, func() bool { return appendedCount() == 2 }, "second media frame never forwarded")

	bridge.events <- realtime.Event{Type: realtime.EventSpeechStarted}

	select {
	case <-tel.clear:
	case <-time.After(2 * time.Second):
		t.Fatal("clear never sent on barge-in")
	}
	waitFor(t, func() bool {
		bridge.mu.Lock()
		defer bridge.mu.Unlock()
		return len(bridge.truncated) == 1
	}, "truncate never sent")
	bridge.mu.Lock()
	if bridge.truncated[0] != "item_1" || bridge.truncatedMs[0] != 500 {
		t.Fatalf("truncated %v at %v", bridge.truncated, bridge.truncatedMs)
	}
	bridge.mu.Unlock()

	// A stale delta for the cut item must not reach the caller.
	bridge.events <- realtime.Event{Type: realtime.EventAudioDelta, AudioB64: "c3RhbGU=", ItemID: "item_1"}
	bridge.events <- realtime.Event{Type: realtime.EventAudioDelta, AudioB64: "ZnJlc2g=", ItemID: "item_2"}
	if got := <-tel.media; got != "ZnJlc2g=" {
		t.Fatalf("stale delta forwarded: %q", got)
	}
}

func TestToolCallRoundTripResumesGeneration(t *testing.T) {
	cfg := agentcfg.PerCallConfig{AgentID: "agent-1", OutputMode: agentcfg.OutputNative}
	r, bridge, _, _, _ := startRelay(t, cfg, nil)

	r.HandleFrame([]byte(startFrameJSON))
	bridge.events <- realtime.Event{Type: realtime.EventResponseDone, ToolCalls: []realtime.ToolCall{
		{Name: "get_current_time", Arguments: "{}", CallID: "call_1"},
	}}

	waitFor(t, func() bool {
		bridge.mu.Lock()
		defer bridge.mu.Unlock()
		return bridge.toolOutputs["call_1"] != ""
	}, "tool result never sent back")
}

func TestStopFrameEndsTheCall(t *testing.T) {
	cfg := agentcfg.PerCallConfig{AgentID: "agent-1", OutputMode: agentcfg.OutputNative}
	r, _, _, _, hangups := startRelay(t, cfg, nil)

	r.HandleFrame([]byte(startFrameJSON))
	r.HandleFrame([]byte(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`))

	select {
	case callID := <-hangups:
		if callID != "CA1" {
			t.Fatalf("hangup for %q", callID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stop frame never triggered hangup")
	}
}

func TestGreetingSpeaksFirst(t *testing.T) {
	cfg := agentcfg.PerCallConfig{AgentID: "agent-1", OutputMode: agentcfg.OutputNative, Greeting: "Hi, thanks for calling!"}
	r, bridge, _, _, _ := startRelay(t, cfg, nil)

	r.HandleFrame([]byte(startFrameJSON))

	waitFor(t, func() bool {
		bridge.mu.Lock()
		defer bridge.mu.Unlock()
		return len(bridge.userMsgs) == 1 && bridge.responses == 1
	}, "greeting turn never started")
}
