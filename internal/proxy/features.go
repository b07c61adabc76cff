package proxy

import (
	"math"
	"strings"

	"github.com/nulpointcorp/llm-gateway/internal/router"
	"github.com/tidwall/gjson"
)

// buildFeatures extracts router.RequestFeatures from the inbound JSON body,
// per spec.md §4.6 BuildFeatures. It never fails: a body that isn't the
// expected shape just yields conservative defaults, since this stage only
// informs routing, not request validity (BadRequest is caught earlier by the
// JSON-parse check).
func buildFeatures(body []byte) router.RequestFeatures {
	parsed := gjson.ParseBytes(body)

	model := parsed.Get("model").String()
	streaming := parsed.Get("stream").Bool()
	maxTokens := int(parsed.Get("max_tokens").Int())

	var contentChars int
	messages := parsed.Get("messages")
	if messages.IsArray() {
		messages.ForEach(func(_, msg gjson.Result) bool {
			contentChars += messageContentLength(msg)
			return true
		})
	}
	estimatedTokens := int(math.Ceil(float64(contentChars) / 4.0))

	var priority router.RequestPriority
	switch {
	case maxTokens > 4000:
		priority = router.PriorityHigh
	case estimatedTokens > 2000:
		priority = router.PriorityNormal
	default:
		priority = router.PriorityLow
	}

	var requestType router.RequestType
	switch {
	case strings.Contains(strings.ToLower(model), "code"):
		requestType = router.RequestCodeGeneration
	case messages.IsArray() && len(messages.Array()) > 5:
		requestType = router.RequestChat
	default:
		requestType = router.RequestAnalysis
	}

	return router.RequestFeatures{
		Model:           model,
		EstimatedTokens: estimatedTokens,
		Priority:        priority,
		RequestType:     requestType,
		Streaming:       streaming,
	}
}

// messageContentLength measures one message's "content" field, which vendors
// shape differently: a bare string (OpenAI-style) or a list of typed content
// blocks (Anthropic-style), each contributing its "text" field's length.
func messageContentLength(msg gjson.Result) int {
	content := msg.Get("content")
	if content.Type == gjson.String {
		return len(content.Str)
	}
	if content.IsArray() {
		total := 0
		content.ForEach(func(_, block gjson.Result) bool {
			total += len(block.Get("text").String())
			return true
		})
		return total
	}
	return 0
}
