package adapter

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nulpointcorp/llm-gateway/internal/credential"
)

const openaiUA = "llm-gateway/1.0 (+openai)"

type openaiAdapter struct {
	rate Rate
}

func newOpenAIAdapter(rate Rate) Adapter {
	return &openaiAdapter{rate: rate}
}

func (a *openaiAdapter) AuthHeaders(token string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	return h
}

func (a *openaiAdapter) BuildUpstreamURL(acct credential.Account, path, rawQuery string) (string, error) {
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

func (a *openaiAdapter) FilterHeaders(h http.Header, isOAuth bool) {
	stripHopByHop(h)
	substituteUserAgent(h, openaiUA)
}

func (a *openaiAdapter) ProviderHeaders(isOAuth bool) http.Header {
	return make(http.Header)
}

// TransformRequestBody is a passthrough: OpenAI's chat-completions schema
// needs no gateway-side rewriting the way Anthropic's Claude Code identity
// injection does.
func (a *openaiAdapter) TransformRequestBody(body []byte, acct credential.Account, requestID string) ([]byte, error) {
	return body, nil
}

func (a *openaiAdapter) NewStreamAccumulator(model string) StreamAccumulator {
	return &genericStreamAccumulator{model: model}
}

func (a *openaiAdapter) ParseUsage(body []byte, model string) Usage {
	if !gjson.ValidBytes(body) {
		return estimateFromContentLength(body, model)
	}
	usage := gjson.GetBytes(body, "usage")
	if !usage.Exists() {
		return estimateFromContentLength(body, model)
	}
	u := Usage{
		InputTokens:  uint32(usage.Get("prompt_tokens").Uint()),
		OutputTokens: uint32(usage.Get("completion_tokens").Uint()),
	}
	if total := usage.Get("total_tokens"); total.Exists() {
		u.TotalTokens = uint32(total.Uint())
	} else {
		u.TotalTokens = u.Total()
	}
	return u
}

func (a *openaiAdapter) CalculateCost(model string, u Usage) float64 {
	return a.rate.cost(u)
}

// genericStreamAccumulator estimates usage from the total streamed byte
// count, used by vendors whose SSE events don't carry an incremental usage
// block (token_parser.rs estimate_tokens_from_content is the only signal
// available in that case).
type genericStreamAccumulator struct {
	model string
	n     int
}

func (g *genericStreamAccumulator) Feed(chunk []byte) {
	g.n += len(chunk)
}

func (g *genericStreamAccumulator) Usage() Usage {
	return estimateFromByteCount(g.n, g.model)
}
