package toolcall

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/agentcfg"
)

// Request is one function call extracted from a finished generation turn.
type Request struct {
	// Name of the tool the endpoint wants to run.
	Name string
	// Arguments is the raw JSON argument object as the endpoint produced it.
	Arguments string
	// ID is the endpoint's call identifier, echoed back with the result.
	ID string
}

// Result is what the agent gets to voice. ContextText is phrased for the
// model, not the caller; the model turns it into speech.
type Result struct {
	OK          bool
	ContextText string
	Metadata    map[string]any
	ErrMessage  string
}

// Terminator ends a call out-of-band. Injected so the dispatcher never
// imports the session layer.
type Terminator func(callID string)

// Dispatcher routes function calls to built-ins or to HTTP tools described
// in the agent's configuration.
type Dispatcher struct {
	httpClient *http.Client
	terminate  Terminator
	endGrace   time.Duration
	now        func() time.Time
}

type Option func(*Dispatcher)

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(httpTimeout, endCallGrace time.Duration, terminate Terminator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		httpClient: &http.Client{Timeout: httpTimeout},
		terminate:  terminate,
		endGrace:   endCallGrace,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs one tool call to completion. It never panics past this
// boundary: a panicking tool becomes a failed Result and the call goes on.
func (d *Dispatcher) Execute(ctx context.Context, req Request, callID, agentID string, tools []agentcfg.ToolDescriptor) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("toolcall: %s panicked: %v", req.Name, r)
			res = Result{ErrMessage: fmt.Sprintf("tool %s failed", req.Name)}
		}
	}()

	switch req.Name {
	case "end_call":
		return d.endCall(callID)
	case "get_current_time":
		return d.currentTime()
	}

	for _, desc := range tools {
		if desc.Name == req.Name {
			return d.executeHTTP(ctx, req, agentID, desc)
		}
	}
	return Result{ErrMessage: fmt.Sprintf("unknown tool %q", req.Name)}
}

func (d *Dispatcher) endCall(callID string) Result {
	if d.terminate != nil {
		grace := d.endGrace
		go func() {
			time.Sleep(grace)
			d.terminate(callID)
		}()
	}
	return Result{
		OK:          true,
		ContextText: "The call is about to end. Say a brief, warm goodbye to the caller now.",
		Metadata:    map[string]any{"ends_in_seconds": d.endGrace.Seconds()},
	}
}

func (d *Dispatcher) currentTime() Result {
	now := d.now()
	return Result{
		OK:          true,
		ContextText: fmt.Sprintf("The current time is %s.", now.Format("3:04 PM on Monday, January 2, 2006")),
		Metadata: map[string]any{
			"iso8601":    now.Format(time.RFC3339),
			"weekday":    now.Weekday().String(),
			"utc_offset": now.Format("-07:00"),
		},
	}
}

// parseArguments tolerates malformed argument JSON; tools run with whatever
// subset decoded.
func parseArguments(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		log.Printf("toolcall: malformed arguments: %v", err)
	}
	return args
}
