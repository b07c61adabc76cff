package credential

import (
	"testing"
	"time"
)

func TestGatewayKeyStore_Lookup_Success(t *testing.T) {
	s := NewGatewayKeyStore()
	s.PutUser(User{ID: "u1", Active: true})
	secret := GatewayKeyPrefix + "abc123"
	s.PutKey(GatewayKey{ID: "k1", UserID: "u1", HashHex: HashSecret(secret), Active: true})

	res, err := s.Lookup(secret, time.Now())
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res.Key.ID != "k1" || res.User.ID != "u1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestGatewayKeyStore_Lookup_StampsLastUsed(t *testing.T) {
	s := NewGatewayKeyStore()
	s.PutUser(User{ID: "u1", Active: true})
	secret := GatewayKeyPrefix + "stamped"
	s.PutKey(GatewayKey{ID: "k1", UserID: "u1", HashHex: HashSecret(secret), Active: true})

	now := time.Now()
	res, err := s.Lookup(secret, now)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !res.Key.LastUsed.Equal(now) {
		t.Fatalf("got LastUsed %v, want %v", res.Key.LastUsed, now)
	}

	// A subsequent lookup sees the stamp persisted in the store, not just on
	// the returned copy.
	again, err := s.Lookup(secret, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !again.Key.LastUsed.Equal(now.Add(time.Minute)) {
		t.Fatalf("got LastUsed %v, want %v", again.Key.LastUsed, now.Add(time.Minute))
	}
}

func TestGatewayKeyStore_Lookup_NotFound(t *testing.T) {
	s := NewGatewayKeyStore()
	if _, err := s.Lookup("lgk_unknown", time.Now()); err != ErrKeyNotFound {
		t.Fatalf("got %v, want ErrKeyNotFound", err)
	}
}

func TestGatewayKeyStore_Lookup_InactiveKey(t *testing.T) {
	s := NewGatewayKeyStore()
	s.PutUser(User{ID: "u1", Active: true})
	secret := GatewayKeyPrefix + "revoked"
	s.PutKey(GatewayKey{ID: "k1", UserID: "u1", HashHex: HashSecret(secret), Active: false})

	if _, err := s.Lookup(secret, time.Now()); err != ErrKeyInactive {
		t.Fatalf("got %v, want ErrKeyInactive", err)
	}
}

func TestGatewayKeyStore_Lookup_Expired(t *testing.T) {
	s := NewGatewayKeyStore()
	s.PutUser(User{ID: "u1", Active: true})
	secret := GatewayKeyPrefix + "expired"
	s.PutKey(GatewayKey{
		ID: "k1", UserID: "u1", HashHex: HashSecret(secret), Active: true,
		ExpiresAt: time.Now().Add(-time.Hour),
	})

	if _, err := s.Lookup(secret, time.Now()); err != ErrKeyExpired {
		t.Fatalf("got %v, want ErrKeyExpired", err)
	}
}

func TestGatewayKeyStore_Lookup_InactiveUser(t *testing.T) {
	s := NewGatewayKeyStore()
	s.PutUser(User{ID: "u1", Active: false})
	secret := GatewayKeyPrefix + "disabled-owner"
	s.PutKey(GatewayKey{ID: "k1", UserID: "u1", HashHex: HashSecret(secret), Active: true})

	if _, err := s.Lookup(secret, time.Now()); err != ErrUserInactive {
		t.Fatalf("got %v, want ErrUserInactive", err)
	}
}

func TestLooksLikeGatewayKey(t *testing.T) {
	if !LooksLikeGatewayKey("lgk_abc") {
		t.Error("expected lgk_ prefix to match")
	}
	if LooksLikeGatewayKey("sk-ant-fake-XYZ") {
		t.Error("expected a raw vendor key not to match")
	}
}
