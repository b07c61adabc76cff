// Package config loads and validates all runtime configuration for the gateway.
//
// Scalar settings (port, log level, tuning knobs) are read from environment
// variables, preferred for containers. The seed data that used to be "one
// API key per provider" in the teacher's config is now structural — a pool
// of upstream accounts, gateway keys, and named egress proxies — so it's
// loaded from a config.yaml file in the working directory, the same file
// viper already watches for the scalar overrides. Environment variables
// always take precedence over the YAML file for the settings that exist in
// both places.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/nulpointcorp/llm-gateway/internal/adapter"
	"github.com/nulpointcorp/llm-gateway/internal/credential"
	"github.com/nulpointcorp/llm-gateway/internal/health"
	"github.com/nulpointcorp/llm-gateway/internal/router"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	// CORSOrigins is the list of allowed CORS origins. ["*"] allows any origin.
	CORSOrigins []string

	// AppBaseURL is used to construct absolute URLs in logs/diagnostics.
	AppBaseURL string

	// Redis holds the connection URL backing rate limiting. Rate limiting is
	// disabled entirely when empty.
	Redis RedisConfig

	// RateLimit holds the system-default per-minute/per-day limits applied to
	// gateway keys that carry no per-key override (spec.md §4.6, §6).
	RateLimit RateLimitConfig

	// CircuitBreaker controls per-account circuit breaker tuning (spec.md §3/§4.2).
	CircuitBreaker CircuitBreakerConfig

	// Cost holds the per-vendor token pricing table (spec.md §4.5 CalculateCost).
	Cost CostConfig

	// Proxies is the system-wide named egress proxy table (spec.md §3).
	Proxies ProxiesConfig

	// Accounts seeds the credential store's upstream account pool. Stands in
	// for the external database spec.md §1 scopes out of the core.
	Accounts []AccountSeed

	// GatewayKeys and Users seed the inbound-facing authentication store.
	GatewayKeys []GatewayKeySeed
	Users       []UserSeed

	// ProviderCapabilities feeds the smart router's confidence scoring
	// (spec.md §4.4); entries are optional per provider.
	ProviderCapabilities map[string]ProviderCapabilitySeed
}

// RedisConfig holds Redis connection configuration for rate limiting.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	// Rate limiting (C6 CheckRateLimit) is disabled when empty.
	URL string
}

// RateLimitConfig holds the system-default rate-limit windows.
type RateLimitConfig struct {
	// DefaultPerMinute / DefaultPerDay apply to gateway keys with no
	// per-key override. 0 disables that window.
	DefaultPerMinute int
	DefaultPerDay    int
}

// CircuitBreakerConfig controls per-account circuit breaker settings
// (spec.md §3's Circuit Breaker data model).
type CircuitBreakerConfig struct {
	// ErrorThreshold is the number of consecutive failures that trip the
	// breaker. Default: 5.
	ErrorThreshold int

	// HalfOpenTimeout is how long the breaker stays open before allowing a
	// single probe request. Default: 30s.
	HalfOpenTimeout time.Duration

	// HalfOpenSuccessesToClose is how many consecutive half-open successes
	// close the breaker. Default: 3.
	HalfOpenSuccessesToClose int
}

// RateSeed mirrors adapter.Rate for YAML/env decoding.
type RateSeed struct {
	InputPer1K      float64 `mapstructure:"input_per1k"`
	OutputPer1K     float64 `mapstructure:"output_per1k"`
	CacheWritePer1K float64 `mapstructure:"cache_write_per1k"`
	CacheReadPer1K  float64 `mapstructure:"cache_read_per1k"`
}

func (r RateSeed) toRate() adapter.Rate {
	return adapter.Rate{
		InputPer1K:      r.InputPer1K,
		OutputPer1K:     r.OutputPer1K,
		CacheWritePer1K: r.CacheWritePer1K,
		CacheReadPer1K:  r.CacheReadPer1K,
	}
}

// CostConfig holds one RateSeed per supported vendor.
type CostConfig struct {
	Anthropic RateSeed
	OpenAI    RateSeed
	Gemini    RateSeed
	Qwen      RateSeed
}

func (c CostConfig) toCostTable() adapter.CostTable {
	return adapter.CostTable{
		Anthropic: c.Anthropic.toRate(),
		OpenAI:    c.OpenAI.toRate(),
		Gemini:    c.Gemini.toRate(),
		Qwen:      c.Qwen.toRate(),
	}
}

// ProxySeed mirrors credential.ProxyConfig for YAML decoding.
type ProxySeed struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Type     string `mapstructure:"type"` // "http" or "socks5"
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Enabled  bool   `mapstructure:"enabled"`
}

// ProxiesConfig is the system-wide proxy table plus an optional default id
// (spec.md §3's Proxy Configuration resolution rule).
type ProxiesConfig struct {
	Proxies        []ProxySeed `mapstructure:"proxies"`
	DefaultProxyID string      `mapstructure:"default_proxy_id"`
}

func (c ProxiesConfig) toSystemProxyConfig() credential.SystemProxyConfig {
	out := credential.SystemProxyConfig{
		Proxies:        make(map[string]credential.ProxyConfig, len(c.Proxies)),
		DefaultProxyID: c.DefaultProxyID,
	}
	for _, p := range c.Proxies {
		var auth *credential.ProxyAuth
		if p.Username != "" || p.Password != "" {
			auth = &credential.ProxyAuth{Username: p.Username, Password: p.Password}
		}
		out.Proxies[p.ID] = credential.ProxyConfig{
			ID:      p.ID,
			Name:    p.Name,
			Type:    credential.ProxyType(p.Type),
			Host:    p.Host,
			Port:    p.Port,
			Auth:    auth,
			Enabled: p.Enabled,
		}
	}
	return out
}

// AccountSeed seeds one upstream account into the credential.Store.
type AccountSeed struct {
	ID          string `mapstructure:"id"`
	UserID      string `mapstructure:"user_id"`
	Service     string `mapstructure:"service"`     // "anthropic", "openai", "gemini", "qwen"
	AuthMethod  string `mapstructure:"auth_method"` // "api_key" or "oauth"
	DisplayName string `mapstructure:"display_name"`
	Active      bool   `mapstructure:"active"`

	// API-Key credential.
	APIKey string `mapstructure:"api_key"`

	// OAuth credential.
	AccessToken  string    `mapstructure:"access_token"`
	RefreshToken string    `mapstructure:"refresh_token"`
	ExpiresAt    time.Time `mapstructure:"expires_at"`
	Scopes       []string  `mapstructure:"scopes"`

	BaseURL string `mapstructure:"base_url"`

	ProxyEnabled bool   `mapstructure:"proxy_enabled"`
	ProxyID      string `mapstructure:"proxy_id"`

	Capabilities   []string `mapstructure:"capabilities"`
	MaxTokens      int      `mapstructure:"max_tokens"`
	SupportsStream bool     `mapstructure:"supports_stream"`
	Specialties    []string `mapstructure:"specialties"`
	Region         string   `mapstructure:"region"`
}

func (s AccountSeed) toAccount() (credential.Account, error) {
	pc := credential.ProviderConfig{
		Service:    credential.ServiceProvider(s.Service),
		AuthMethod: credential.AuthMethod(s.AuthMethod),
	}
	if !pc.Supported() {
		return credential.Account{}, fmt.Errorf("config: account %s: unsupported provider/auth pair %s", s.ID, pc)
	}

	creds := credential.Credentials{
		APIKey:       s.APIKey,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		Scopes:       s.Scopes,
		BaseURL:      s.BaseURL,
	}
	if err := credential.ValidateCredentials(creds, pc.AuthMethod); err != nil {
		return credential.Account{}, fmt.Errorf("config: account %s: %w", s.ID, err)
	}

	return credential.Account{
		ID:          s.ID,
		UserID:      s.UserID,
		Provider:    pc,
		DisplayName: s.DisplayName,
		Credentials: creds,
		Active:      s.Active,
		Proxy: credential.ProxyBinding{
			Enabled: s.ProxyEnabled,
			ProxyID: s.ProxyID,
		},
		Capabilities:    s.Capabilities,
		MaxTokens:       s.MaxTokens,
		SupportsStream:  s.SupportsStream,
		Specialties:     s.Specialties,
		PreferredRegion: s.Region,
	}, nil
}

// GatewayKeySeed seeds one inbound-facing gateway key. Secret is the
// plaintext credential as the operator issued it (already prefixed
// GatewayKeyPrefix) — only its SHA-256 hash is kept once loaded, per
// spec.md §6: "only the SHA-256 hash is persisted."
type GatewayKeySeed struct {
	ID                 string    `mapstructure:"id"`
	UserID             string    `mapstructure:"user_id"`
	Secret             string    `mapstructure:"secret"`
	Active             bool      `mapstructure:"active"`
	ExpiresAt          time.Time `mapstructure:"expires_at"`
	RateLimitPerMinute int       `mapstructure:"rate_limit_per_minute"`
	RateLimitPerDay    int       `mapstructure:"rate_limit_per_day"`
}

func (s GatewayKeySeed) toGatewayKey() credential.GatewayKey {
	return credential.GatewayKey{
		ID:                 s.ID,
		UserID:             s.UserID,
		HashHex:            credential.HashSecret(s.Secret),
		Active:             s.Active,
		ExpiresAt:          s.ExpiresAt,
		RateLimitPerMinute: s.RateLimitPerMinute,
		RateLimitPerDay:    s.RateLimitPerDay,
	}
}

// UserSeed seeds one gateway-key owner.
type UserSeed struct {
	ID     string `mapstructure:"id"`
	Active bool   `mapstructure:"active"`
}

// ProviderCapabilitySeed mirrors router.ProviderCapabilities for YAML decoding.
type ProviderCapabilitySeed struct {
	SupportedModels   []string `mapstructure:"supported_models"`
	MaxTokens         int      `mapstructure:"max_tokens"`
	CostPer1KTokens   float64  `mapstructure:"cost_per1k_tokens"`
	QualityScore      float64  `mapstructure:"quality_score"`
	Specialties       []string `mapstructure:"specialties"`
	SupportsStreaming bool     `mapstructure:"supports_streaming"`
}

func (s ProviderCapabilitySeed) toCapabilities() router.ProviderCapabilities {
	return router.ProviderCapabilities{
		SupportedModels:   s.SupportedModels,
		MaxTokens:         s.MaxTokens,
		CostPer1KTokens:   s.CostPer1KTokens,
		QualityScore:      s.QualityScore,
		Specialties:       s.Specialties,
		SupportsStreaming: s.SupportsStreaming,
	}
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory. The YAML file is where the
// account/gateway-key/proxy seed tables live — those are structural data,
// not single scalar overrides, so env vars don't attempt to express them.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	v.SetDefault("CB_ERROR_THRESHOLD", 5)
	v.SetDefault("CB_HALF_OPEN_TIMEOUT", "30s")
	v.SetDefault("CB_HALF_OPEN_SUCCESSES_TO_CLOSE", 3)

	v.SetDefault("RATE_LIMIT_PER_MINUTE", 0)
	v.SetDefault("RATE_LIMIT_PER_DAY", 0)

	cfg := &Config{
		Port:        v.GetInt("PORT"),
		LogLevel:    strings.ToLower(v.GetString("LOG_LEVEL")),
		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
		AppBaseURL:  v.GetString("APP_BASE_URL"),

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		RateLimit: RateLimitConfig{
			DefaultPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
			DefaultPerDay:    v.GetInt("RATE_LIMIT_PER_DAY"),
		},

		CircuitBreaker: CircuitBreakerConfig{
			ErrorThreshold:           v.GetInt("CB_ERROR_THRESHOLD"),
			HalfOpenTimeout:          v.GetDuration("CB_HALF_OPEN_TIMEOUT"),
			HalfOpenSuccessesToClose: v.GetInt("CB_HALF_OPEN_SUCCESSES_TO_CLOSE"),
		},
	}

	if err := v.UnmarshalKey("cost", &cfg.Cost); err != nil {
		return nil, fmt.Errorf("config: decode cost table: %w", err)
	}
	if err := v.UnmarshalKey("proxies", &cfg.Proxies); err != nil {
		return nil, fmt.Errorf("config: decode proxies: %w", err)
	}
	if err := v.UnmarshalKey("accounts", &cfg.Accounts); err != nil {
		return nil, fmt.Errorf("config: decode accounts: %w", err)
	}
	if err := v.UnmarshalKey("gateway_keys", &cfg.GatewayKeys); err != nil {
		return nil, fmt.Errorf("config: decode gateway_keys: %w", err)
	}
	if err := v.UnmarshalKey("users", &cfg.Users); err != nil {
		return nil, fmt.Errorf("config: decode users: %w", err)
	}
	if err := v.UnmarshalKey("provider_capabilities", &cfg.ProviderCapabilities); err != nil {
		return nil, fmt.Errorf("config: decode provider_capabilities: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("config: at least one upstream account must be configured under 'accounts' in config.yaml")
	}
	if len(c.GatewayKeys) == 0 {
		return fmt.Errorf("config: at least one gateway key must be configured under 'gateway_keys' in config.yaml")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	if c.CircuitBreaker.ErrorThreshold < 1 {
		return fmt.Errorf("config: CB_ERROR_THRESHOLD must be >= 1, got %d", c.CircuitBreaker.ErrorThreshold)
	}
	if c.CircuitBreaker.HalfOpenTimeout <= 0 {
		return fmt.Errorf("config: CB_HALF_OPEN_TIMEOUT must be a positive duration")
	}
	if c.CircuitBreaker.HalfOpenSuccessesToClose < 1 {
		return fmt.Errorf("config: CB_HALF_OPEN_SUCCESSES_TO_CLOSE must be >= 1, got %d", c.CircuitBreaker.HalfOpenSuccessesToClose)
	}

	return nil
}

// BreakerConfig renders the decoded circuit breaker tuning as health.BreakerConfig.
func (c *Config) BreakerConfig() health.BreakerConfig {
	return health.BreakerConfig{
		ErrorThreshold:           c.CircuitBreaker.ErrorThreshold,
		HalfOpenTimeout:          c.CircuitBreaker.HalfOpenTimeout,
		HalfOpenSuccessesToClose: c.CircuitBreaker.HalfOpenSuccessesToClose,
	}
}

// CostTable renders the decoded cost config as adapter.CostTable.
func (c *Config) CostTable() adapter.CostTable {
	return c.Cost.toCostTable()
}

// SystemProxyConfig renders the decoded proxy table as credential.SystemProxyConfig.
func (c *Config) SystemProxyConfig() credential.SystemProxyConfig {
	return c.Proxies.toSystemProxyConfig()
}

// BuildAccounts converts every AccountSeed into a credential.Account,
// failing fast on the first invalid entry so a misconfigured operator pool
// never starts partially seeded.
func (c *Config) BuildAccounts() ([]credential.Account, error) {
	out := make([]credential.Account, 0, len(c.Accounts))
	for _, s := range c.Accounts {
		a, err := s.toAccount()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// BuildGatewayKeys converts every GatewayKeySeed into a credential.GatewayKey.
func (c *Config) BuildGatewayKeys() []credential.GatewayKey {
	out := make([]credential.GatewayKey, 0, len(c.GatewayKeys))
	for _, s := range c.GatewayKeys {
		out = append(out, s.toGatewayKey())
	}
	return out
}

// BuildUsers converts every UserSeed into a credential.User.
func (c *Config) BuildUsers() []credential.User {
	out := make([]credential.User, 0, len(c.Users))
	for _, s := range c.Users {
		out = append(out, credential.User{ID: s.ID, Active: s.Active})
	}
	return out
}

// BuildProviderCapabilities renders the decoded map as the type router.New expects.
func (c *Config) BuildProviderCapabilities() map[credential.ServiceProvider]router.ProviderCapabilities {
	out := make(map[credential.ServiceProvider]router.ProviderCapabilities, len(c.ProviderCapabilities))
	for svc, s := range c.ProviderCapabilities {
		out[credential.ServiceProvider(svc)] = s.toCapabilities()
	}
	return out
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
