package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// RefreshWindow is how far ahead of expiry a token is proactively refreshed.
// spec.md §4.1 default: 10 minutes.
const RefreshWindow = 10 * time.Minute

// anthropicTokenURL and anthropicClientID are the OAuth refresh endpoint and
// client id, carried verbatim from
// original_source/.../auth/oauth/providers/anthropic.rs.
const (
	anthropicTokenURL = "https://console.anthropic.com/v1/oauth/token"
	anthropicClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

	// oauthExchangeUA is the User-Agent used on the token endpoint itself —
	// distinct from the 1.0.57 UA the adapter layer puts on proxied requests.
	oauthExchangeUA = "claude-cli/1.0.56 (external, cli)"
)

// Refresher issues a fresh access token for an account given its refresh
// token. Implementations are vendor-specific; Store.EnsureFreshToken
// dispatches to one by Account.Provider.Service.
type Refresher interface {
	Refresh(ctx context.Context, c Credentials) (Credentials, error)
}

// UnhealthyMarker is notified when an OAuth refresh permanently fails, so C2
// can open the account's circuit breaker without this package importing the
// health package directly (it would otherwise be the only cross-component
// import in C1). Satisfied by *health.Tracker via its OnFailure method.
type UnhealthyMarker interface {
	OnFailure(accountID string)
}

// TokenStore couples a Store with the singleflight group and vendor
// refreshers needed to keep OAuth accounts fresh.
type TokenStore struct {
	store      *Store
	group      singleflight.Group
	refreshers map[ServiceProvider]Refresher
	unhealthy  UnhealthyMarker
}

// NewTokenStore wraps store with OAuth refresh coordination. httpClient is
// shared across all vendor refreshers; pass nil to use http.DefaultClient.
func NewTokenStore(store *Store, httpClient *http.Client) *TokenStore {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenStore{
		store: store,
		refreshers: map[ServiceProvider]Refresher{
			Anthropic: &anthropicRefresher{client: httpClient},
		},
	}
}

// SetUnhealthyMarker wires C2 so a permanently failed refresh marks the
// account unhealthy in the breaker, per spec.md §4.1/§7 (UpstreamAuthExpired
// originates upstream and must poison routing for that account).
func (t *TokenStore) SetUnhealthyMarker(m UnhealthyMarker) {
	t.unhealthy = m
}

// EnsureFreshToken returns a valid access token for account id, refreshing it
// first if it's expired or within RefreshWindow of expiry. At most one
// refresh is in flight per account id at a time — concurrent callers for the
// same account block on the first caller's result (spec.md §4.1, §5,
// Testable Property 5), via singleflight rather than a hand-rolled
// mutex/condvar as the Rust source does.
//
// For AuthMethod=ApiKey accounts this is a no-op passthrough: the key never
// expires from the gateway's point of view.
func (t *TokenStore) EnsureFreshToken(ctx context.Context, accountID string) (string, error) {
	acct, err := t.store.Get(accountID)
	if err != nil {
		return "", err
	}

	if acct.Provider.AuthMethod == ApiKey {
		return acct.Credentials.APIKey, nil
	}

	now := time.Now()
	if !acct.Credentials.NearExpiry(now, RefreshWindow) {
		return acct.Credentials.AccessToken, nil
	}

	refresher, ok := t.refreshers[acct.Provider.Service]
	if !ok {
		return "", fmt.Errorf("credential: no oauth refresher for provider %s", acct.Provider.Service)
	}

	v, err, _ := t.group.Do(accountID, func() (any, error) {
		// Re-read: another refresh may have completed while we waited to
		// enter Do for a *different* call that lost the race to start it.
		fresh, err := t.store.Get(accountID)
		if err != nil {
			return "", err
		}
		if !fresh.Credentials.NearExpiry(time.Now(), RefreshWindow) {
			return fresh.Credentials.AccessToken, nil
		}

		newCreds, err := refresher.Refresh(ctx, fresh.Credentials)
		if err != nil && isNetworkError(err) {
			// A single retry for a transient dial/read failure; a refresh
			// endpoint that's genuinely down should fail fast after this.
			time.Sleep(250 * time.Millisecond)
			newCreds, err = refresher.Refresh(ctx, fresh.Credentials)
		}
		if err != nil {
			if t.unhealthy != nil {
				t.unhealthy.OnFailure(accountID)
			}
			return "", fmt.Errorf("credential: refresh failed for %s: %w", accountID, err)
		}
		fresh.Credentials = newCreds
		t.store.update(fresh)
		return newCreds.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// isNetworkError reports whether err looks like a transient transport
// failure (dial/read/timeout) rather than a non-2xx response from the
// refresh endpoint, which retrying wouldn't fix.
func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

// anthropicRefresher implements Refresher against console.anthropic.com,
// grounded on original_source/.../auth/oauth/providers/anthropic.rs
// refresh_access_token.
type anthropicRefresher struct {
	client *http.Client
	// tokenURL overrides anthropicTokenURL; empty means the real endpoint.
	tokenURL string
}

type anthropicTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (r *anthropicRefresher) Refresh(ctx context.Context, c Credentials) (Credentials, error) {
	endpoint := r.tokenURL
	if endpoint == "" {
		endpoint = anthropicTokenURL
	}

	payload, err := json.Marshal(struct {
		GrantType    string `json:"grant_type"`
		RefreshToken string `json:"refresh_token"`
		ClientID     string `json:"client_id"`
	}{
		GrantType:    "refresh_token",
		RefreshToken: c.RefreshToken,
		ClientID:     anthropicClientID,
	})
	if err != nil {
		return Credentials{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Credentials{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", oauthExchangeUA)
	req.Header.Set("Referer", "https://claude.ai/")
	req.Header.Set("Origin", "https://claude.ai")

	resp, err := r.client.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("anthropic oauth refresh: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credentials{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("anthropic oauth refresh: status %d: %s", resp.StatusCode, string(body))
	}

	var tr anthropicTokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Credentials{}, fmt.Errorf("anthropic oauth refresh: decode: %w", err)
	}

	refreshToken := tr.RefreshToken
	if refreshToken == "" {
		// Setup-token-derived accounts don't rotate their refresh token.
		refreshToken = c.RefreshToken
	}

	newCreds := c
	newCreds.AccessToken = tr.AccessToken
	newCreds.RefreshToken = refreshToken
	newCreds.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	if tr.Scope != "" {
		newCreds.Scopes = strings.Fields(tr.Scope)
	}
	return newCreds, nil
}
