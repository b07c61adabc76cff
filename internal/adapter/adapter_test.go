package adapter

import (
	"net/http"
	"strings"
	"testing"

	"github.com/nulpointcorp/llm-gateway/internal/credential"
)

func testRates() CostTable {
	return CostTable{
		Anthropic: Rate{InputPer1K: 3.0, OutputPer1K: 15.0},
		OpenAI:    Rate{InputPer1K: 2.5, OutputPer1K: 10.0},
		Gemini:    Rate{InputPer1K: 1.25, OutputPer1K: 5.0},
		Qwen:      Rate{InputPer1K: 0.5, OutputPer1K: 1.5},
	}
}

func TestRegistry_ForKnownPairs(t *testing.T) {
	r := NewRegistry(testRates())
	pairs := []credential.ProviderConfig{
		{Service: credential.Anthropic, AuthMethod: credential.ApiKey},
		{Service: credential.Anthropic, AuthMethod: credential.OAuth},
		{Service: credential.OpenAI, AuthMethod: credential.ApiKey},
		{Service: credential.Gemini, AuthMethod: credential.ApiKey},
		{Service: credential.Gemini, AuthMethod: credential.OAuth},
		{Service: credential.Qwen, AuthMethod: credential.OAuth},
	}
	for _, p := range pairs {
		if _, err := r.For(p); err != nil {
			t.Errorf("For(%s): %v", p, err)
		}
	}
}

func TestRegistry_ForUnknownPair_ReturnsError(t *testing.T) {
	r := NewRegistry(testRates())
	_, err := r.For(credential.ProviderConfig{Service: credential.OpenAI, AuthMethod: credential.OAuth})
	if err == nil {
		t.Fatal("expected error for openai/oauth, got nil")
	}
}

func TestAnthropicAdapter_FilterHeaders_KeepsBetaForApiKey(t *testing.T) {
	a := newAnthropicAdapter(Rate{})

	h := make(http.Header)
	h.Set("Authorization", "Bearer stale")
	h.Set("Anthropic-Beta", "client-set-value")
	h.Set("X-Api-Key", "leak")
	a.FilterHeaders(h, false)

	if h.Get("Authorization") != "" {
		t.Error("Authorization should be stripped")
	}
	if h.Get("Anthropic-Beta") != "client-set-value" {
		t.Error("Anthropic-Beta should survive for api-key accounts")
	}
	if h.Get("X-Api-Key") != "" {
		t.Error("X-Api-Key should be stripped")
	}
}

func TestAnthropicAdapter_FilterHeaders_DropsBetaForOAuthOnly(t *testing.T) {
	a := newAnthropicAdapter(Rate{})
	h := make(http.Header)
	h.Set("Anthropic-Beta", "client-value")
	a.FilterHeaders(h, true)
	if h.Get("Anthropic-Beta") != "" {
		t.Error("Anthropic-Beta should be stripped for oauth accounts")
	}
}

func TestAnthropicAdapter_UserAgentSubstitution(t *testing.T) {
	a := newAnthropicAdapter(Rate{})

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"missing", "", anthropicUA},
		{"unrelated client", "curl/8.0", anthropicUA},
		{"already claude-cli", "claude-cli/2.0.0", "claude-cli/2.0.0"},
		{"anthropic substring", "my-anthropic-tool/1.0", "my-anthropic-tool/1.0"},
	}
	for _, c := range cases {
		h := make(http.Header)
		if c.in != "" {
			h.Set("User-Agent", c.in)
		}
		a.FilterHeaders(h, false)
		if got := h.Get("User-Agent"); got != c.want {
			t.Errorf("%s: got %q, want %q", c.name, got, c.want)
		}
	}
}

func TestAnthropicAdapter_ProviderHeaders(t *testing.T) {
	a := newAnthropicAdapter(Rate{})

	apiKey := a.ProviderHeaders(false)
	if apiKey.Get("Anthropic-Version") != anthropicVersion {
		t.Error("missing anthropic-version")
	}
	if apiKey.Get("Anthropic-Beta") != anthropicBetaAPIKey {
		t.Error("wrong anthropic-beta for api key")
	}

	oauth := a.ProviderHeaders(true)
	if oauth.Get("Anthropic-Beta") != anthropicBetaOAuth {
		t.Error("wrong anthropic-beta for oauth")
	}
}

func TestAnthropicAdapter_AuthHeaders_PrefixSelectsHeader(t *testing.T) {
	a := newAnthropicAdapter(Rate{})

	apiKey := a.AuthHeaders("sk-ant-abc123")
	if apiKey.Get("X-Api-Key") != "sk-ant-abc123" || apiKey.Get("Authorization") != "" {
		t.Errorf("expected x-api-key for sk-ant- prefixed key, got %+v", apiKey)
	}

	oauth := a.AuthHeaders("oauth-access-token")
	if oauth.Get("Authorization") != "Bearer oauth-access-token" || oauth.Get("X-Api-Key") != "" {
		t.Errorf("expected bearer auth for non sk-ant- token, got %+v", oauth)
	}
}

func TestAnthropicAdapter_TransformRequestBody_InjectsIdentityWhenAbsent(t *testing.T) {
	a := newAnthropicAdapter(Rate{})
	body := []byte(`{"model":"claude-3-5-sonnet-20241022","max_tokens":100,"system":"Be helpful."}`)

	out, err := a.TransformRequestBody(body, credential.Account{}, "req-1")
	if err != nil {
		t.Fatalf("TransformRequestBody: %v", err)
	}

	if !strings.Contains(string(out), `"You are Claude Code, Anthropic's official CLI for Claude."`) {
		t.Errorf("expected identity prompt injected, got %s", out)
	}
	if !strings.Contains(string(out), `"Be helpful."`) {
		t.Errorf("expected original system prompt preserved, got %s", out)
	}
}

func TestAnthropicAdapter_TransformRequestBody_IdempotentWhenIdentityPresent(t *testing.T) {
	a := newAnthropicAdapter(Rate{})
	body := []byte(`{"model":"claude-3-5-sonnet-20241022","max_tokens":100,"system":"You are Claude Code, doing helpful things."}`)

	out, err := a.TransformRequestBody(body, credential.Account{}, "req-1")
	if err != nil {
		t.Fatalf("TransformRequestBody: %v", err)
	}

	count := strings.Count(string(out), "You are Claude Code")
	if count != 1 {
		t.Errorf("expected identity text to appear exactly once, got %d in %s", count, out)
	}
}

func TestAnthropicAdapter_TransformRequestBody_ClampsMaxTokens(t *testing.T) {
	a := newAnthropicAdapter(Rate{})
	body := []byte(`{"model":"claude-3-opus-20240229","max_tokens":999999}`)

	out, err := a.TransformRequestBody(body, credential.Account{}, "req-1")
	if err != nil {
		t.Fatalf("TransformRequestBody: %v", err)
	}
	if !strings.Contains(string(out), `"max_tokens":4096`) {
		t.Errorf("expected max_tokens clamped to 4096, got %s", out)
	}
}

func TestAnthropicAdapter_TransformRequestBody_RejectsNonJSONBody(t *testing.T) {
	a := newAnthropicAdapter(Rate{})
	if _, err := a.TransformRequestBody([]byte("not json"), credential.Account{}, "req-1"); err == nil {
		t.Fatal("expected an error for a non-JSON body")
	}
	if _, err := a.TransformRequestBody([]byte(`[1,2,3]`), credential.Account{}, "req-1"); err == nil {
		t.Fatal("expected an error for a non-object JSON body")
	}
}

func TestAnthropicAdapter_TransformRequestBody_EmptyBodyPassesThrough(t *testing.T) {
	a := newAnthropicAdapter(Rate{})
	out, err := a.TransformRequestBody(nil, credential.Account{}, "req-1")
	if err != nil {
		t.Fatalf("TransformRequestBody: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty body unchanged, got %s", out)
	}
}

func TestAnthropicAdapter_ParseUsage(t *testing.T) {
	a := newAnthropicAdapter(Rate{InputPer1K: 3, OutputPer1K: 15})
	body := []byte(`{"usage":{"input_tokens":150,"output_tokens":300,"cache_creation_input_tokens":50,"cache_read_input_tokens":25}}`)

	u := a.ParseUsage(body, "claude-3-5-sonnet-20241022")
	if u.InputTokens != 150 || u.OutputTokens != 300 || u.CacheCreationTokens != 50 || u.CacheReadTokens != 25 {
		t.Fatalf("unexpected usage: %+v", u)
	}
	if u.TotalTokens != 525 {
		t.Errorf("got total %d, want 525", u.TotalTokens)
	}
}

func TestAnthropicAdapter_ParseUsage_FallsBackToEstimateOnUnparseableBody(t *testing.T) {
	a := newAnthropicAdapter(Rate{})
	u := a.ParseUsage([]byte("not json"), "claude-3-5-sonnet-20241022")
	if u.TotalTokens == 0 {
		t.Error("expected a nonzero estimate fallback")
	}
}

func TestAnthropicStreamAccumulator_AccumulatesAcrossEvents(t *testing.T) {
	a := newAnthropicAdapter(Rate{})
	acc := a.NewStreamAccumulator("claude-3-5-sonnet-20241022")

	acc.Feed([]byte(`data: {"type":"message_start","message":{"usage":{"input_tokens":100,"cache_read_input_tokens":10}}}` + "\n\n"))
	acc.Feed([]byte(`data: {"type":"content_block_delta","delta":{}}` + "\n\n"))
	acc.Feed([]byte(`data: {"type":"message_delta","usage":{"output_tokens":42}}` + "\n\n"))

	u := acc.Usage()
	if u.InputTokens != 100 || u.CacheReadTokens != 10 || u.OutputTokens != 42 {
		t.Fatalf("unexpected accumulated usage: %+v", u)
	}
}

func TestGeminiAdapter_BuildUpstreamURL_AppendsKeyForApiKeyAccounts(t *testing.T) {
	a := newGeminiAdapter(Rate{})
	acct := credential.Account{
		Provider:    credential.ProviderConfig{Service: credential.Gemini, AuthMethod: credential.ApiKey},
		Credentials: credential.Credentials{APIKey: "AIza-test"},
	}
	url, err := a.BuildUpstreamURL(acct, "/v1/models/gemini-pro:generateContent", "")
	if err != nil {
		t.Fatalf("BuildUpstreamURL: %v", err)
	}
	if !strings.Contains(url, "key=AIza-test") {
		t.Errorf("expected key= query param, got %s", url)
	}
}

func TestGeminiAdapter_ParseUsage(t *testing.T) {
	a := newGeminiAdapter(Rate{})
	body := []byte(`{"usageMetadata":{"promptTokenCount":200,"candidatesTokenCount":400,"totalTokenCount":600,"cachedContentTokenCount":100}}`)
	u := a.ParseUsage(body, "gemini-pro")
	if u.InputTokens != 200 || u.OutputTokens != 400 || u.CacheReadTokens != 100 || u.TotalTokens != 600 {
		t.Fatalf("unexpected usage: %+v", u)
	}
}

func TestCalculateTokensPerSecond(t *testing.T) {
	tps, ok := CalculateTokensPerSecond(1000, 2000)
	if !ok || tps != 500.0 {
		t.Fatalf("got (%v, %v), want (500, true)", tps, ok)
	}
	if _, ok := CalculateTokensPerSecond(1000, 0); ok {
		t.Fatal("expected ok=false for zero latency")
	}
}

func TestInferProviderFromModel(t *testing.T) {
	cases := map[string]credential.ServiceProvider{
		"claude-3-5-sonnet": credential.Anthropic,
		"gemini-pro":         credential.Gemini,
		"gpt-4":              credential.OpenAI,
		"qwen-max":           credential.Qwen,
		"unknown-model":      "",
	}
	for model, want := range cases {
		if got := InferProviderFromModel(model); got != want {
			t.Errorf("%s: got %q, want %q", model, got, want)
		}
	}
}

