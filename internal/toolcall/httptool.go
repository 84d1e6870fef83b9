package toolcall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/agentcfg"
)

const maxToolResponseBytes = 1 << 20

// executeHTTP runs one configured HTTP tool: substitute placeholders,
// perform the request, shape the response into text the model can voice.
func (d *Dispatcher) executeHTTP(ctx context.Context, req Request, agentID string, desc agentcfg.ToolDescriptor) Result {
	vars := buildVariables(req, agentID, desc)

	rawURL := substitute(desc.Data.ReqURL, vars)
	method := strings.ToUpper(strings.TrimSpace(desc.Data.ReqType))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(desc.Data.Body) > 0 {
		substituted := substituteAny(desc.Data.Body, vars)
		encoded, err := json.Marshal(substituted)
		if err != nil {
			return Result{ErrMessage: fmt.Sprintf("tool %s: encode body: %v", desc.Name, err)}
		}
		body = strings.NewReader(string(encoded))
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return Result{ErrMessage: fmt.Sprintf("tool %s: build request: %v", desc.Name, err)}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range desc.Data.Headers {
		httpReq.Header.Set(k, substitute(v, vars))
	}
	if len(desc.Data.Query) > 0 {
		q := httpReq.URL.Query()
		for k, v := range desc.Data.Query {
			q.Set(k, substitute(v, vars))
		}
		httpReq.URL.RawQuery = q.Encode()
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return Result{ErrMessage: fmt.Sprintf("tool %s: %v", desc.Name, err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponseBytes))
	if err != nil {
		return Result{ErrMessage: fmt.Sprintf("tool %s: read response: %v", desc.Name, err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{
			ErrMessage: fmt.Sprintf("tool %s: status %d", desc.Name, resp.StatusCode),
			Metadata:   map[string]any{"status": resp.StatusCode},
		}
	}

	return Result{
		OK:          true,
		ContextText: shapeResponse(payload),
		Metadata: map[string]any{
			"timestamp": d.now().Format(time.RFC3339),
			"action":    desc.Name,
			"status":    resp.StatusCode,
		},
	}
}

// buildVariables merges, in precedence order: variable defaults, the
// endpoint's arguments, and the implicit voice_agent_id.
func buildVariables(req Request, agentID string, desc agentcfg.ToolDescriptor) map[string]string {
	vars := map[string]string{}
	for _, v := range desc.Variables {
		if v.VarDefault != "" {
			vars[v.VarName] = v.VarDefault
		}
	}
	for k, v := range parseArguments(req.Arguments) {
		vars[k] = stringify(v)
	}
	vars["voice_agent_id"] = agentID
	return vars
}

// substitute replaces every {{name}} placeholder it can resolve; unknown
// placeholders stay in place so failures are visible downstream.
func substitute(s string, vars map[string]string) string {
	for name, value := range vars {
		s = strings.ReplaceAll(s, "{{"+name+"}}", value)
	}
	return s
}

// substituteAny walks nested maps and slices applying substitute to every
// string leaf.
func substituteAny(v any, vars map[string]string) any {
	switch t := v.(type) {
	case string:
		return substitute(t, vars)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = substituteAny(inner, vars)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = substituteAny(inner, vars)
		}
		return out
	default:
		return v
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(encoded)
	}
}

// shapeResponse turns a tool's HTTP body into text for the model: strings
// pass through, arrays join one element per line, anything else stays JSON.
func shapeResponse(payload []byte) string {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return "The tool completed with no output."
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return trimmed
	}

	switch t := decoded.(type) {
	case string:
		return t
	case []any:
		lines := make([]string, 0, len(t))
		for _, item := range t {
			lines = append(lines, stringify(item))
		}
		return strings.Join(lines, "\n")
	default:
		return trimmed
	}
}
