package relay

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/agentcfg"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/calls"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/observability"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/policy"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/realtime"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/synth"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/telephony"
	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/toolcall"
)

// Bridge is the reasoning-endpoint surface the conductor drives. Satisfied
// by realtime.Client; tests substitute a fake.
type Bridge interface {
	AppendAudio(b64 string) error
	CreateUserMessage(text string) error
	CreateResponse() error
	TruncateAssistantItem(itemID string, elapsedMs int64) error
	SendToolResult(callID, output string) error
	Events() <-chan realtime.Event
	Close() error
}

// TelephonySender writes control and media frames back to the call-audio
// socket. The socket itself lives with the HTTP layer.
type TelephonySender interface {
	SendMedia(streamID, payloadB64 string) error
	SendClear(streamID string) error
	SendMark(streamID, name string) error
}

// HistoryEntry is one turn of the call's working memory.
type HistoryEntry struct {
	Role    string
	Content string
}

// Deps wires one call's collaborators into its conductor.
type Deps struct {
	Sessions   *calls.Store
	Bridge     Bridge
	Synth      synth.Stream // nil when the endpoint speaks natively
	Telephony  TelephonySender
	Dispatcher *toolcall.Dispatcher
	Config     agentcfg.PerCallConfig
	Metrics    *observability.Metrics
	Heartbeat  time.Duration
	OnActivity func()
	OnHangup   func(callID string)
}

type toolOutcome struct {
	callID string
	name   string
	result toolcall.Result
}

// Relay conducts one call: telephony frames in, endpoint events out, with
// barge-in, prosody chunking and tool dispatch in between. All mutable call
// state is owned by the goroutine running Run; the socket reader only feeds
// HandleFrame.
type Relay struct {
	deps Deps

	frames      chan any
	toolResults chan toolOutcome
	closed      chan struct{}
	closeOnce   sync.Once

	playback *playbackState
	bargeIn  *bargeInController
	chunker  Chunker
	history  []HistoryEntry

	callID   string
	streamID string

	turnStarted    time.Time
	firstAudioSeen bool
	dropSynth      bool
}

func New(deps Deps) *Relay {
	r := &Relay{
		deps:        deps,
		frames:      make(chan any, 256),
		toolResults: make(chan toolOutcome, 8),
		closed:      make(chan struct{}),
		playback:    newPlaybackState(),
	}
	r.bargeIn = &bargeInController{
		truncate: deps.Bridge.TruncateAssistantItem,
		clear: func() error {
			return deps.Telephony.SendClear(r.streamID)
		},
	}
	return r
}

// HandleFrame ingests one raw telephony frame. Called from the socket
// reader goroutine; parsing happens here, mutation happens in Run.
func (r *Relay) HandleFrame(raw []byte) {
	msg, err := telephony.ParseStreamMessage(raw)
	if err != nil {
		if !errors.Is(err, telephony.ErrUnsupportedEvent) {
			log.Printf("relay: bad stream frame: %v", err)
		}
		return
	}
	select {
	case r.frames <- msg:
	case <-r.closed:
	}
}

// Close stops the event loop. Idempotent.
func (r *Relay) Close() {
	r.closeOnce.Do(func() { close(r.closed) })
}

// Run drives the call until the stream stops, the relay is closed, or ctx
// is canceled. It owns every field mutation after New.
func (r *Relay) Run(ctx context.Context) error {
	bridgeEvents := r.deps.Bridge.Events()

	var synthEvents <-chan synth.Event
	var heartbeat *time.Ticker
	var heartbeatC <-chan time.Time
	if r.deps.Synth != nil {
		synthEvents = r.deps.Synth.Events()
		if r.deps.Heartbeat > 0 {
			heartbeat = time.NewTicker(r.deps.Heartbeat)
			heartbeatC = heartbeat.C
			defer heartbeat.Stop()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.closed:
			return nil
		case msg := <-r.frames:
			if stop := r.handleTelephony(msg); stop {
				return nil
			}
		case ev, ok := <-bridgeEvents:
			if !ok {
				bridgeEvents = nil
				r.playback.aiSpeaking = false
				continue
			}
			r.handleBridgeEvent(ctx, ev)
		case ev, ok := <-synthEvents:
			if !ok {
				synthEvents = nil
				continue
			}
			r.handleSynthEvent(ev)
		case out := <-r.toolResults:
			r.finishToolCall(out)
		case <-heartbeatC:
			if err := r.deps.Synth.Heartbeat(ctx); err != nil {
				log.Printf("relay: synth heartbeat: %v", err)
			}
		}
	}
}

func (r *Relay) handleTelephony(msg any) (stop bool) {
	r.touch()
	switch f := msg.(type) {
	case *telephony.ConnectedFrame:
		r.countStream("inbound", "connected")

	case *telephony.StartFrame:
		r.streamID = f.Start.StreamSID
		r.callID = f.Start.CallSID
		r.countStream("inbound", "start")
		if err := r.deps.Sessions.AttachStream(r.streamID, r.callID); err != nil {
			// The call goes on without the binding; transcripts for an
			// unknown call are dropped by the store.
			log.Printf("relay: attach stream %s to call %s: %v", r.streamID, r.callID, err)
		}
		r.startGreeting()

	case *telephony.MediaFrame:
		r.countStream("inbound", "media")
		if ts, err := strconv.ParseInt(f.Media.Timestamp, 10, 64); err == nil {
			r.playback.noteMediaTimestamp(ts)
		}
		if err := r.deps.Bridge.AppendAudio(f.Media.Payload); err != nil {
			if !errors.Is(err, realtime.ErrClosed) {
				log.Printf("relay: forward caller audio: %v", err)
			}
		}

	case *telephony.MarkFrame:
		r.countStream("inbound", "mark")
		if r.playback.pendingMarks > 0 {
			r.playback.pendingMarks--
		}

	case *telephony.DTMFFrame:
		r.countStream("inbound", "dtmf")
		log.Printf("relay: call %s dtmf digit %q", r.callID, f.DTMF.Digit)

	case *telephony.StopFrame:
		r.countStream("inbound", "stop")
		r.hangup()
		return true
	}
	return false
}

// startGreeting has the agent speak first on connect, when the
// configuration asks for it.
func (r *Relay) startGreeting() {
	greeting := r.deps.Config.Greeting
	if greeting == "" {
		return
	}
	if err := r.deps.Bridge.CreateUserMessage("Greet the caller with exactly this message: " + greeting); err != nil {
		log.Printf("relay: greeting message: %v", err)
		return
	}
	if err := r.deps.Bridge.CreateResponse(); err != nil {
		log.Printf("relay: greeting response: %v", err)
		return
	}
	r.beginTurn()
}

func (r *Relay) handleBridgeEvent(ctx context.Context, ev realtime.Event) {
	r.touch()
	switch ev.Type {
	case realtime.EventTranscriptCompleted:
		text, _ := policy.RedactPII(ev.Text)
		r.appendTranscript(calls.SpeakerCaller, text, ev.ItemID)
		r.history = append(r.history, HistoryEntry{Role: "user", Content: text})
		r.playback.aiSpeaking = false
		r.beginTurn()
		r.countCall("caller_turn")

	case realtime.EventSpeechStarted:
		if !r.playback.aiSpeaking {
			return
		}
		r.bargeIn.interrupt(r.playback)
		r.chunker.Reset()
		if r.deps.Synth != nil {
			r.dropSynth = true
		}
		if r.deps.Metrics != nil {
			r.deps.Metrics.BargeIns.Inc()
		}
		r.countCall("barge_in")

	case realtime.EventAudioDelta:
		if r.playback.drops(ev.ItemID) {
			return
		}
		r.playback.noteDelta(ev.ItemID)
		r.forwardAudio(ev.AudioB64)

	case realtime.EventTextDelta:
		if r.deps.Synth == nil {
			return
		}
		r.playback.aiSpeaking = true
		if chunk, ok := r.chunker.Push(ev.Text); ok {
			r.sendChunk(ctx, chunk)
		}

	case realtime.EventAgentTranscript:
		text, _ := policy.RedactPII(ev.Text)
		r.appendTranscript(calls.SpeakerAgent, text, ev.ItemID)
		r.history = append(r.history, HistoryEntry{Role: "assistant", Content: text})

	case realtime.EventResponseDone:
		if len(ev.ToolCalls) > 0 {
			r.dispatchToolCalls(ctx, ev.ToolCalls)
			return
		}
		if r.deps.Synth != nil {
			if chunk, ok := r.chunker.Finalize(); ok {
				r.sendChunk(ctx, chunk)
			}
		}
		r.playback.endTurn()
		if !r.turnStarted.IsZero() && r.deps.Metrics != nil {
			r.deps.Metrics.ObserveTurnStage("turn_total", time.Since(r.turnStarted))
		}

	case realtime.EventError:
		log.Printf("relay: call %s endpoint error %s: %s", r.callID, ev.Code, ev.Detail)
		r.countProviderError("realtime", ev.Code)

	case realtime.EventClosed:
		// Degrade to silence; the reaper ends the call on inactivity.
		r.playback.aiSpeaking = false
	}
}

func (r *Relay) handleSynthEvent(ev synth.Event) {
	switch ev.Type {
	case synth.EventAudio:
		if r.dropSynth {
			return
		}
		r.playback.noteDelta("")
		r.forwardAudio(ev.AudioBase64)
	case synth.EventFinal:
		r.dropSynth = false
	case synth.EventError:
		log.Printf("relay: call %s synthesis error %s: %s", r.callID, ev.Code, ev.Detail)
		r.countProviderError("synth", ev.Code)
	}
}

// forwardAudio pushes one audio chunk down the telephony leg with a
// trailing mark so playback progress is observable.
func (r *Relay) forwardAudio(payloadB64 string) {
	if r.streamID == "" {
		return
	}
	if err := r.deps.Telephony.SendMedia(r.streamID, payloadB64); err != nil {
		log.Printf("relay: send media: %v", err)
		return
	}
	r.countStream("outbound", "media")
	if err := r.deps.Telephony.SendMark(r.streamID, "chunk-"+uuid.NewString()); err == nil {
		r.playback.pendingMarks++
	}
	if !r.firstAudioSeen && !r.turnStarted.IsZero() {
		r.firstAudioSeen = true
		if r.deps.Metrics != nil {
			elapsed := time.Since(r.turnStarted)
			r.deps.Metrics.ObserveFirstAudioLatency(elapsed)
			r.deps.Metrics.ObserveTurnStage("turn_to_first_audio", elapsed)
		}
	}
}

func (r *Relay) sendChunk(ctx context.Context, chunk string) {
	if err := r.deps.Synth.SendText(ctx, chunk, true); err != nil {
		log.Printf("relay: send synthesis chunk: %v", err)
		r.countProviderError("synth", "send_failed")
	}
}

// dispatchToolCalls runs each requested tool on its own goroutine so a slow
// HTTP tool never stalls the socket loops; results rejoin via toolResults.
func (r *Relay) dispatchToolCalls(ctx context.Context, reqs []realtime.ToolCall) {
	for _, tc := range reqs {
		req := toolcall.Request{Name: tc.Name, Arguments: tc.Arguments, ID: tc.CallID}
		go func() {
			result := r.deps.Dispatcher.Execute(ctx, req, r.callID, r.deps.Config.AgentID, r.deps.Config.ToolMeta)
			select {
			case r.toolResults <- toolOutcome{callID: req.ID, name: req.Name, result: result}:
			case <-r.closed:
			}
		}()
	}
}

func (r *Relay) finishToolCall(out toolOutcome) {
	outcome := "success"
	output := out.result.ContextText
	if !out.result.OK {
		outcome = "error"
		output = "Tool error: " + out.result.ErrMessage
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.ToolExecutions.WithLabelValues(out.name, outcome).Inc()
	}
	if err := r.deps.Bridge.SendToolResult(out.callID, output); err != nil {
		log.Printf("relay: send tool result for %s: %v", out.name, err)
	}
}

func (r *Relay) appendTranscript(speaker calls.Speaker, text, itemID string) {
	if r.callID == "" || text == "" {
		return
	}
	err := r.deps.Sessions.AppendTranscript(r.callID, calls.TranscriptEntry{
		Speaker: speaker,
		Text:    text,
		ItemID:  itemID,
	})
	if err != nil {
		log.Printf("relay: append transcript: %v", err)
	}
}

func (r *Relay) beginTurn() {
	r.turnStarted = time.Now()
	r.firstAudioSeen = false
}

func (r *Relay) hangup() {
	if r.deps.OnHangup != nil {
		r.deps.OnHangup(r.callID)
	}
}

func (r *Relay) touch() {
	if r.deps.OnActivity != nil {
		r.deps.OnActivity()
	}
}

func (r *Relay) countStream(direction, event string) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.StreamMessages.WithLabelValues(direction, event).Inc()
	}
}

func (r *Relay) countCall(event string) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.CallEvents.WithLabelValues(event).Inc()
	}
}

func (r *Relay) countProviderError(leg, code string) {
	if r.deps.Metrics != nil {
		if code == "" {
			code = "unknown"
		}
		r.deps.Metrics.ProviderErrors.WithLabelValues(leg, code).Inc()
	}
}
