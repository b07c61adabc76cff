package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEnsureFreshToken_ApiKeyPassthrough(t *testing.T) {
	s := NewStore(SystemProxyConfig{})
	s.Put(Account{
		ID:       "a1",
		Provider: ProviderConfig{Service: Anthropic, AuthMethod: ApiKey},
		Credentials: Credentials{
			APIKey: "sk-live-1",
		},
	})
	ts := NewTokenStore(s, nil)

	tok, err := ts.EnsureFreshToken(context.Background(), "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "sk-live-1" {
		t.Errorf("expected api key passthrough, got %q", tok)
	}
}

func TestEnsureFreshToken_FreshTokenNotRefreshed(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	s := NewStore(SystemProxyConfig{})
	s.Put(Account{
		ID:       "a1",
		Provider: ProviderConfig{Service: Anthropic, AuthMethod: OAuth},
		Credentials: Credentials{
			AccessToken: "tok-valid",
			ExpiresAt:   time.Now().Add(time.Hour),
		},
	})
	ts := NewTokenStore(s, srv.Client())

	tok, err := ts.EnsureFreshToken(context.Background(), "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "tok-valid" {
		t.Errorf("expected untouched token, got %q", tok)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("expected no refresh call, got %d", calls)
	}
}

func TestEnsureFreshToken_RefreshesNearExpiry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if ua := r.Header.Get("User-Agent"); ua != oauthExchangeUA {
			t.Errorf("expected oauth exchange UA, got %q", ua)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON refresh body, got Content-Type %q", ct)
		}
		var req struct {
			GrantType    string `json:"grant_type"`
			RefreshToken string `json:"refresh_token"`
			ClientID     string `json:"client_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode refresh body: %v", err)
		}
		if req.GrantType != "refresh_token" {
			t.Errorf("expected refresh_token grant, got %q", req.GrantType)
		}
		if req.RefreshToken != "refresh-old" {
			t.Errorf("expected old refresh token forwarded, got %q", req.RefreshToken)
		}
		json.NewEncoder(w).Encode(anthropicTokenResponse{
			AccessToken:  "tok-new",
			RefreshToken: "refresh-new",
			ExpiresIn:    3600,
		})
	}))
	defer srv.Close()

	ts := &TokenStore{
		store: NewStore(SystemProxyConfig{}),
		refreshers: map[ServiceProvider]Refresher{
			Anthropic: &anthropicRefresher{client: srv.Client(), tokenURL: srv.URL},
		},
	}

	ts.store.Put(Account{
		ID:       "a1",
		Provider: ProviderConfig{Service: Anthropic, AuthMethod: OAuth},
		Credentials: Credentials{
			AccessToken:  "tok-old",
			RefreshToken: "refresh-old",
			ExpiresAt:    time.Now().Add(1 * time.Minute), // within RefreshWindow
		},
	})

	tok, err := ts.EnsureFreshToken(context.Background(), "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "tok-new" {
		t.Errorf("expected refreshed token, got %q", tok)
	}

	updated, _ := ts.store.Get("a1")
	if updated.Credentials.RefreshToken != "refresh-new" {
		t.Errorf("expected rotated refresh token stored, got %q", updated.Credentials.RefreshToken)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly one refresh call, got %d", calls)
	}
}

func TestEnsureFreshToken_ConcurrentCallsCoalesce(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		json.NewEncoder(w).Encode(anthropicTokenResponse{
			AccessToken: "tok-new",
			ExpiresIn:   3600,
		})
	}))
	defer srv.Close()

	ts := &TokenStore{
		store:      NewStore(SystemProxyConfig{}),
		refreshers: map[ServiceProvider]Refresher{Anthropic: &anthropicRefresher{client: srv.Client(), tokenURL: srv.URL}},
	}
	ts.store.Put(Account{
		ID:       "a1",
		Provider: ProviderConfig{Service: Anthropic, AuthMethod: OAuth},
		Credentials: Credentials{
			AccessToken: "tok-old",
			ExpiresAt:   time.Now().Add(1 * time.Minute),
		},
	})

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			tok, err := ts.EnsureFreshToken(context.Background(), "a1")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = tok
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, r := range results {
		if r != "tok-new" {
			t.Errorf("caller %d got %q, expected coalesced tok-new", i, r)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly one in-flight refresh despite %d concurrent callers, got %d calls", n, calls)
	}
}

func TestEnsureFreshToken_UnknownProvider(t *testing.T) {
	s := NewStore(SystemProxyConfig{})
	s.Put(Account{
		ID:       "a1",
		Provider: ProviderConfig{Service: Qwen, AuthMethod: OAuth},
		Credentials: Credentials{
			AccessToken: "tok",
			ExpiresAt:   time.Now().Add(time.Second),
		},
	})
	ts := NewTokenStore(s, nil)

	if _, err := ts.EnsureFreshToken(context.Background(), "a1"); err == nil {
		t.Error("expected error for provider with no registered refresher")
	}
}
