// Package credential holds upstream-account records and guarantees that the
// access token handed to the provider adapter layer is fresh.
//
// This is C1 in the dispatch pipeline's dependency order: every other
// component reads a snapshot; only this package mutates credentials.
package credential

import (
	"fmt"
	"strings"
	"time"
)

// ServiceProvider is the upstream vendor a credential belongs to.
type ServiceProvider string

const (
	Anthropic ServiceProvider = "anthropic"
	OpenAI    ServiceProvider = "openai"
	Gemini    ServiceProvider = "gemini"
	Qwen      ServiceProvider = "qwen"
)

// AuthMethod is how the credential authenticates against the vendor.
type AuthMethod string

const (
	ApiKey AuthMethod = "api_key"
	OAuth  AuthMethod = "oauth"
)

// ProviderConfig is the tagged pair that selects a C5 adapter. This repo
// adopts only the (ServiceProvider, AuthMethod) pair model — see DESIGN.md
// "Open Question decisions" #1.
type ProviderConfig struct {
	Service    ServiceProvider
	AuthMethod AuthMethod
}

// Supported reports whether this pair has a concrete adapter.
// Per spec.md §3: Anthropic/api+oauth, OpenAI/api, Gemini/api+oauth, Qwen/oauth.
func (p ProviderConfig) Supported() bool {
	switch p.Service {
	case Anthropic:
		return p.AuthMethod == ApiKey || p.AuthMethod == OAuth
	case OpenAI:
		return p.AuthMethod == ApiKey
	case Gemini:
		return p.AuthMethod == ApiKey || p.AuthMethod == OAuth
	case Qwen:
		return p.AuthMethod == OAuth
	default:
		return false
	}
}

// DefaultBaseURL returns the vendor's default API base, per spec.md §6.
// Anthropic differs by auth method (OAuth talks to the bare host, ApiKey to
// /v1) — carried from original_source/business/domain/provider.rs, which
// spec.md's §6 table alone does not spell out for the OAuth case.
func (p ProviderConfig) DefaultBaseURL() string {
	switch {
	case p.Service == Anthropic && p.AuthMethod == OAuth:
		return "https://api.anthropic.com"
	case p.Service == Anthropic:
		return "https://api.anthropic.com/v1"
	case p.Service == OpenAI:
		return "https://api.openai.com/v1"
	case p.Service == Gemini:
		return "https://generativelanguage.googleapis.com/v1"
	case p.Service == Qwen:
		return "https://dashscope.aliyuncs.com/api/v1"
	default:
		return ""
	}
}

func (p ProviderConfig) String() string {
	return fmt.Sprintf("%s/%s", p.Service, p.AuthMethod)
}

// Credentials is discriminated by the account's AuthMethod.
type Credentials struct {
	// APIKey is set for AuthMethod=ApiKey.
	APIKey string

	// AccessToken / RefreshToken / ExpiresAt / Scopes are set for AuthMethod=OAuth.
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string

	// BaseURL optionally overrides ProviderConfig.DefaultBaseURL().
	BaseURL string
}

// IsExpired reports whether the OAuth access token has passed its expiry.
func (c Credentials) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !c.ExpiresAt.After(now)
}

// NearExpiry reports whether the OAuth access token falls within the given
// refresh window (spec.md §4.1: a 10-minute default window).
func (c Credentials) NearExpiry(now time.Time, window time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return c.ExpiresAt.Sub(now) <= window
}

// ProxyBinding is an account's per-account egress proxy selection.
// Grounded on original_source/business/domain/proxy_config.rs.
type ProxyBinding struct {
	Enabled bool
	ProxyID string // empty means "use the system default"
}

// Account is one usable credential against one vendor.
type Account struct {
	ID          string
	UserID      string
	Provider    ProviderConfig
	DisplayName string
	Credentials Credentials
	Active      bool
	Proxy       ProxyBinding

	// Specialty / capability hints consulted by the smart router (C4).
	// Capabilities is a list of model names/globs this account can serve;
	// a single "*" entry matches any model.
	Capabilities    []string
	MaxTokens       int
	SupportsStream  bool
	Specialties     []string // e.g. "code_generation", "chat"
	PreferredRegion string
}

// SupportsModel reports whether m is in Capabilities, honoring a "*" wildcard.
func (a Account) SupportsModel(m string) bool {
	for _, c := range a.Capabilities {
		if c == "*" || strings.EqualFold(c, m) {
			return true
		}
	}
	return false
}

// HasSpecialty reports whether specialty is in the account's Specialties list.
func (a Account) HasSpecialty(specialty string) bool {
	for _, s := range a.Specialties {
		if strings.EqualFold(s, specialty) {
			return true
		}
	}
	return false
}

// ProxyType is the egress proxy transport.
type ProxyType string

const (
	ProxyHTTP   ProxyType = "http"
	ProxySocks5 ProxyType = "socks5"
)

// ProxyAuth is optional basic-auth for an egress proxy.
type ProxyAuth struct {
	Username string
	Password string
}

// ProxyConfig is a named HTTP/SOCKS5 egress proxy.
type ProxyConfig struct {
	ID      string
	Name    string
	Type    ProxyType
	Host    string
	Port    int
	Auth    *ProxyAuth
	Enabled bool
}

// URL renders the proxy as a dial URL (scheme://[user:pass@]host:port).
func (p ProxyConfig) URL() string {
	auth := ""
	if p.Auth != nil {
		auth = fmt.Sprintf("%s:%s@", p.Auth.Username, p.Auth.Password)
	}
	return fmt.Sprintf("%s://%s%s:%d", p.Type, auth, p.Host, p.Port)
}

// SystemProxyConfig is the operator-wide proxy table.
type SystemProxyConfig struct {
	Proxies            map[string]ProxyConfig
	DefaultProxyID     string
	GlobalProxyEnabled bool
}
