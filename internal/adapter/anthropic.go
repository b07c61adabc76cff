package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/nulpointcorp/llm-gateway/internal/credential"
)

// anthropicUA is substituted for any client User-Agent that doesn't already
// identify as a Claude tool, carried from request_builder/anthropic.rs.
const anthropicUA = "claude-cli/1.0.57 (external, cli)"

const anthropicVersion = "2023-06-01"

const (
	anthropicBetaAPIKey = "claude-code-20250219,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14"
	anthropicBetaOAuth  = "claude-code-20250219,oauth-2025-04-20,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14"
)

const claudeCodeSystemPrompt = "You are Claude Code, Anthropic's official CLI for Claude."

// modelMaxTokens is the max_tokens ceiling table from request_builder/
// anthropic.rs get_model_max_tokens. Unknown models fall back to 4096.
var modelMaxTokens = map[string]int{
	"claude-3-5-sonnet-20241022": 8192,
	"claude-3-5-sonnet-20240620": 8192,
	"claude-3-5-haiku-20241022":  8192,
	"claude-3-opus-20240229":     4096,
	"claude-3-sonnet-20240229":   4096,
	"claude-3-haiku-20240307":    4096,
}

func modelMaxTokensFor(model string) int {
	if v, ok := modelMaxTokens[model]; ok {
		return v
	}
	return 4096
}

type anthropicAdapter struct {
	rate Rate
}

func newAnthropicAdapter(rate Rate) Adapter {
	return &anthropicAdapter{rate: rate}
}

// AuthHeaders emits x-api-key for a raw Anthropic API key (the sk-ant-
// prefix is how the gateway tells an Anthropic key apart from an OAuth
// access token at this layer) and Authorization: Bearer for everything else,
// including OAuth access tokens.
func (a *anthropicAdapter) AuthHeaders(token string) http.Header {
	h := make(http.Header)
	if strings.HasPrefix(token, "sk-ant-") {
		h.Set("X-Api-Key", token)
	} else {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func (a *anthropicAdapter) BuildUpstreamURL(acct credential.Account, path, rawQuery string) (string, error) {
	base := acct.Credentials.BaseURL
	if base == "" {
		base = acct.Provider.DefaultBaseURL()
	}
	base = strings.TrimRight(base, "/")
	url := base + path
	if rawQuery != "" {
		url += "?" + rawQuery
	}
	return url, nil
}

func (a *anthropicAdapter) FilterHeaders(h http.Header, isOAuth bool) {
	stripHopByHop(h)
	if isOAuth {
		h.Del("Anthropic-Beta")
	}
	substituteUserAgent(h, anthropicUA)
}

func (a *anthropicAdapter) ProviderHeaders(isOAuth bool) http.Header {
	h := make(http.Header)
	h.Set("Anthropic-Version", anthropicVersion)
	if isOAuth {
		h.Set("Anthropic-Beta", anthropicBetaOAuth)
	} else {
		h.Set("Anthropic-Beta", anthropicBetaAPIKey)
	}
	return h
}

// TransformRequestBody injects the Claude Code system-prompt identity (idempotently)
// and clamps max_tokens to the model's ceiling, mirroring
// request_builder/anthropic.rs transform_request_body.
func (a *anthropicAdapter) TransformRequestBody(body []byte, acct credential.Account, requestID string) ([]byte, error) {
	if len(body) == 0 {
		// Body-less passthrough paths (GET /v1/models and friends) have
		// nothing to transform.
		return body, nil
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, fmt.Errorf("adapter: anthropic: request body is not a JSON object")
	}

	out := body
	hasIdentity := false
	var existingSystem []map[string]any

	sys := gjson.GetBytes(body, "system")
	switch {
	case sys.Type == gjson.String:
		text := sys.String()
		if text != "" {
			if containsClaudeCodeIdentity(text) {
				hasIdentity = true
			}
			existingSystem = append(existingSystem, map[string]any{"type": "text", "text": text})
		}
	case sys.IsArray():
		for _, elem := range sys.Array() {
			text := elem.Get("text").String()
			if containsClaudeCodeIdentity(text) {
				hasIdentity = true
			}
			entry := map[string]any{}
			if err := json.Unmarshal([]byte(elem.Raw), &entry); err == nil {
				existingSystem = append(existingSystem, entry)
			}
		}
	}

	newSystem := make([]map[string]any, 0, len(existingSystem)+1)
	if !hasIdentity {
		newSystem = append(newSystem, map[string]any{
			"type": "text",
			"text": claudeCodeSystemPrompt,
			"cache_control": map[string]any{
				"type": "ephemeral",
			},
		})
	}
	newSystem = append(newSystem, existingSystem...)

	var err error
	out, err = sjson.SetBytes(out, "system", newSystem)
	if err != nil {
		return nil, fmt.Errorf("adapter: anthropic: set system: %w", err)
	}

	model := gjson.GetBytes(out, "model").String()
	ceiling := modelMaxTokensFor(model)
	if maxTokens := gjson.GetBytes(out, "max_tokens"); maxTokens.Exists() && int(maxTokens.Int()) > ceiling {
		out, err = sjson.SetBytes(out, "max_tokens", ceiling)
		if err != nil {
			return nil, fmt.Errorf("adapter: anthropic: clamp max_tokens: %w", err)
		}
	}

	return out, nil
}

func containsClaudeCodeIdentity(text string) bool {
	return strings.Contains(text, "You are Claude Code") || strings.Contains(text, "Claude Code")
}

func (a *anthropicAdapter) NewStreamAccumulator(model string) StreamAccumulator {
	return &anthropicStreamAccumulator{model: model}
}

func (a *anthropicAdapter) ParseUsage(body []byte, model string) Usage {
	if !gjson.ValidBytes(body) {
		return estimateFromContentLength(body, model)
	}
	usage := gjson.GetBytes(body, "usage")
	if !usage.Exists() {
		return estimateFromContentLength(body, model)
	}
	u := Usage{
		InputTokens:         uint32(usage.Get("input_tokens").Uint()),
		OutputTokens:        uint32(usage.Get("output_tokens").Uint()),
		CacheCreationTokens: uint32(usage.Get("cache_creation_input_tokens").Uint()),
		CacheReadTokens:     uint32(usage.Get("cache_read_input_tokens").Uint()),
	}
	u.TotalTokens = u.Total()
	return u
}

func (a *anthropicAdapter) CalculateCost(model string, u Usage) float64 {
	return a.rate.cost(u)
}

// anthropicStreamAccumulator reconstructs usage from an Anthropic SSE stream
// by watching for the message_start event (which carries the full input-side
// usage block) and message_delta events (which carry the cumulative
// output_tokens so far) — see DESIGN.md's Open Question decision on
// streaming usage, since Anthropic never sends a single final usage object
// the way a non-streamed response does.
type anthropicStreamAccumulator struct {
	model string
	buf   []byte
	usage Usage
}

func (s *anthropicStreamAccumulator) Feed(chunk []byte) {
	s.buf = append(s.buf, chunk...)
	for {
		idx := bytes.IndexByte(s.buf, '\n')
		if idx < 0 {
			break
		}
		line := s.buf[:idx]
		s.buf = s.buf[idx+1:]
		s.consumeLine(line)
	}
}

func (s *anthropicStreamAccumulator) consumeLine(line []byte) {
	const prefix = "data: "
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(prefix)) {
		return
	}
	payload := line[len(prefix):]
	if !gjson.ValidBytes(payload) {
		return
	}

	event := gjson.GetBytes(payload, "type").String()
	switch event {
	case "message_start":
		usage := gjson.GetBytes(payload, "message.usage")
		s.usage.InputTokens = uint32(usage.Get("input_tokens").Uint())
		s.usage.CacheCreationTokens = uint32(usage.Get("cache_creation_input_tokens").Uint())
		s.usage.CacheReadTokens = uint32(usage.Get("cache_read_input_tokens").Uint())
	case "message_delta":
		if out := gjson.GetBytes(payload, "usage.output_tokens"); out.Exists() {
			s.usage.OutputTokens = uint32(out.Uint())
		}
	}
}

func (s *anthropicStreamAccumulator) Usage() Usage {
	u := s.usage
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		// No parseable event observed at all (e.g. an error response sent as
		// a single non-SSE body): fall back to the byte-length estimator
		// over whatever was buffered.
		return estimateFromContentLength(s.buf, s.model)
	}
	u.TotalTokens = u.Total()
	return u
}
