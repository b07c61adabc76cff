package adapter

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nulpointcorp/llm-gateway/internal/credential"
)

const geminiUA = "llm-gateway/1.0 (+gemini)"

type geminiAdapter struct {
	rate Rate
}

func newGeminiAdapter(rate Rate) Adapter {
	return &geminiAdapter{rate: rate}
}

func (a *geminiAdapter) AuthHeaders(token string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	return h
}

// BuildUpstreamURL appends Gemini's ?key= query parameter for API-key
// accounts, since the generativelanguage API expects the key there rather
// than in an Authorization header — OAuth accounts use the bearer header
// instead and leave the query untouched.
func (a *geminiAdapter) BuildUpstreamURL(acct credential.Account, path, rawQuery string) (string, error) {
	base := acct.Credentials.BaseURL
	if base == "" {
		base = acct.Provider.DefaultBaseURL()
	}
	base = strings.TrimRight(base, "/")
	url := base + path

	query := rawQuery
	if acct.Provider.AuthMethod == credential.ApiKey {
		param := "key=" + acct.Credentials.APIKey
		if query == "" {
			query = param
		} else {
			query = query + "&" + param
		}
	}
	if query != "" {
		url += "?" + query
	}
	return url, nil
}

func (a *geminiAdapter) FilterHeaders(h http.Header, isOAuth bool) {
	stripHopByHop(h)
	substituteUserAgent(h, geminiUA)
}

func (a *geminiAdapter) ProviderHeaders(isOAuth bool) http.Header {
	return make(http.Header)
}

func (a *geminiAdapter) TransformRequestBody(body []byte, acct credential.Account, requestID string) ([]byte, error) {
	return body, nil
}

func (a *geminiAdapter) NewStreamAccumulator(model string) StreamAccumulator {
	return &genericStreamAccumulator{model: model}
}

func (a *geminiAdapter) ParseUsage(body []byte, model string) Usage {
	if !gjson.ValidBytes(body) {
		return estimateFromContentLength(body, model)
	}
	meta := gjson.GetBytes(body, "usageMetadata")
	if !meta.Exists() {
		return estimateFromContentLength(body, model)
	}
	input := uint32(meta.Get("promptTokenCount").Uint())
	output := uint32(meta.Get("candidatesTokenCount").Uint())
	cached := uint32(meta.Get("cachedContentTokenCount").Uint())

	total := uint32(meta.Get("totalTokenCount").Uint())
	if total == 0 {
		total = input + output + cached
	}

	// Gemini's cached tokens are near-exclusively cache reads; the API gives
	// the gateway no way to distinguish a cache write on this response.
	return Usage{
		InputTokens:     input,
		OutputTokens:    output,
		CacheReadTokens: cached,
		TotalTokens:     total,
	}
}

func (a *geminiAdapter) CalculateCost(model string, u Usage) float64 {
	return a.rate.cost(u)
}
