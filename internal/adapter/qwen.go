package adapter

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nulpointcorp/llm-gateway/internal/credential"
)

const qwenUA = "llm-gateway/1.0 (+qwen)"

// qwenAdapter serves Qwen/DashScope's OAuth-only accounts. DashScope speaks
// an OpenAI-compatible usage block, so ParseUsage mirrors the OpenAI adapter
// rather than Anthropic's.
type qwenAdapter struct {
	rate Rate
}

func newQwenAdapter(rate Rate) Adapter {
	return &qwenAdapter{rate: rate}
}

func (a *qwenAdapter) AuthHeaders(token string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	return h
}

func (a *qwenAdapter) BuildUpstreamURL(acct credential.Account, path, rawQuery string) (string, error) {
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

func (a *qwenAdapter) FilterHeaders(h http.Header, isOAuth bool) {
	stripHopByHop(h)
	substituteUserAgent(h, qwenUA)
}

func (a *qwenAdapter) ProviderHeaders(isOAuth bool) http.Header {
	return make(http.Header)
}

func (a *qwenAdapter) TransformRequestBody(body []byte, acct credential.Account, requestID string) ([]byte, error) {
	return body, nil
}

func (a *qwenAdapter) NewStreamAccumulator(model string) StreamAccumulator {
	return &genericStreamAccumulator{model: model}
}

func (a *qwenAdapter) ParseUsage(body []byte, model string) Usage {
	if !gjson.ValidBytes(body) {
		return estimateFromContentLength(body, model)
	}
	usage := gjson.GetBytes(body, "usage")
	if !usage.Exists() {
		return estimateFromContentLength(body, model)
	}
	u := Usage{
		InputTokens:  uint32(usage.Get("input_tokens").Uint()),
		OutputTokens: uint32(usage.Get("output_tokens").Uint()),
	}
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		// Some DashScope endpoints use the OpenAI field names instead.
		u.InputTokens = uint32(usage.Get("prompt_tokens").Uint())
		u.OutputTokens = uint32(usage.Get("completion_tokens").Uint())
	}
	if total := usage.Get("total_tokens"); total.Exists() {
		u.TotalTokens = uint32(total.Uint())
	} else {
		u.TotalTokens = u.Total()
	}
	return u
}

func (a *qwenAdapter) CalculateCost(model string, u Usage) float64 {
	return a.rate.cost(u)
}
