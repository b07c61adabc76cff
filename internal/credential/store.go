package credential

import (
	"fmt"
	"sync"
)

// ErrNotFound is returned by Store.Get for an unknown account id.
var ErrNotFound = fmt.Errorf("credential: account not found")

// Store is the in-memory credential store standing in for the external
// database spec.md §1 scopes out of the core (users/keys/accounts persist
// elsewhere in the full system; this repo implements the dispatch core and
// seeds its account set from configuration).
//
// Store exclusively owns credential mutation; every other component reads a
// cloned snapshot via Get/ListActiveForUser.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]Account
	proxies  SystemProxyConfig
}

// NewStore creates an empty Store. Use Seed or Put to populate it.
func NewStore(proxies SystemProxyConfig) *Store {
	return &Store{
		accounts: make(map[string]Account),
		proxies:  proxies,
	}
}

// Put inserts or replaces an account record.
func (s *Store) Put(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

// Get returns a snapshot copy of the account with the given id.
func (s *Store) Get(id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

// ListActiveForUser returns snapshot copies of every active account owned by
// userID.
func (s *Store) ListActiveForUser(userID string) []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.UserID == userID && a.Active {
			out = append(out, a)
		}
	}
	return out
}

// ListActive returns snapshot copies of every active account regardless of
// owner — used when the caller has no per-user scoping (e.g. a single
// operator's shared pool).
func (s *Store) ListActive() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}

// update replaces the stored copy of an account. Internal: only oauth.go's
// refresh path and deactivation should call this — all other mutation goes
// through Put at seed time.
func (s *Store) update(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

// Deactivate marks an account inactive (e.g. on permanent OAuth failure).
func (s *Store) Deactivate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.Active = false
		s.accounts[id] = a
	}
}

// ResolveProxy applies the proxy resolution rule from spec.md §3:
//
//	disabled binding            → no proxy
//	enabled with an explicit id → that proxy
//	enabled without an id       → the system default
//	resolved proxy missing/disabled → no proxy
func (s *Store) ResolveProxy(a Account) (ProxyConfig, bool) {
	if !a.Proxy.Enabled {
		return ProxyConfig{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id := a.Proxy.ProxyID
	if id == "" {
		id = s.proxies.DefaultProxyID
	}
	if id == "" {
		return ProxyConfig{}, false
	}

	p, ok := s.proxies.Proxies[id]
	if !ok || !p.Enabled {
		return ProxyConfig{}, false
	}
	return p, true
}

// ValidateCredentials checks the minimal non-emptiness invariant from
// spec.md §4.1: API-Key requires a non-empty key; OAuth requires a
// non-empty access token.
func ValidateCredentials(c Credentials, method AuthMethod) error {
	switch method {
	case ApiKey:
		if c.APIKey == "" {
			return fmt.Errorf("credential: api key must not be empty")
		}
	case OAuth:
		if c.AccessToken == "" {
			return fmt.Errorf("credential: oauth access token must not be empty")
		}
	default:
		return fmt.Errorf("credential: unknown auth method %q", method)
	}
	return nil
}
