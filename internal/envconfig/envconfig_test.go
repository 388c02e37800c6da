package envconfig

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/MrEthical07/cardauth"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := cardauth.DefaultConfig()

	if s.App.Addr != ":8080" || s.App.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected app settings: %+v", s.App)
	}
	if !reflect.DeepEqual(s.Auth.Session.RefreshBackoff, def.Session.RefreshBackoff) {
		t.Fatalf("backoff %v, want %v", s.Auth.Session.RefreshBackoff, def.Session.RefreshBackoff)
	}
	if !reflect.DeepEqual(s.Auth.Gate.Protected, def.Gate.Protected) {
		t.Fatalf("protected %v, want %v", s.Auth.Gate.Protected, def.Gate.Protected)
	}
	if s.Auth.Password.Memory != def.Password.Memory || s.Auth.JWT.AccessTTL != def.JWT.AccessTTL {
		t.Fatalf("auth defaults not applied: %+v", s.Auth)
	}
	if s.NeedsRedis() {
		t.Fatal("defaults must not need redis")
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("CARDAUTH_APP_ADDR", ":9090")
	t.Setenv("CARDAUTH_AUTH_STORAGE_BACKEND", "redis")
	t.Setenv("CARDAUTH_AUTH_SESSION_REFRESH_BACKOFF", "500ms,1s")
	t.Setenv("CARDAUTH_SECRETS_JWT_PRIVATE_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("CARDAUTH_AUTH_SESSION_LOCALE", "pl")

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.App.Addr != ":9090" {
		t.Fatalf("addr %q", s.App.Addr)
	}
	if !s.NeedsRedis() {
		t.Fatal("redis storage must need redis")
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if !reflect.DeepEqual(s.Auth.Session.RefreshBackoff, want) {
		t.Fatalf("backoff %v, want %v", s.Auth.Session.RefreshBackoff, want)
	}
	if string(s.Auth.JWT.PrivateKey) != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("private key %q", s.Auth.JWT.PrivateKey)
	}
	if s.Auth.Session.Locale != "pl" {
		t.Fatalf("locale %q", s.Auth.Session.Locale)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cardauth.yaml")
	body := []byte(`
app:
  addr: ":7070"
auth:
  revocation:
    backend: redis
    ttl: 2h
  gate:
    protected_paths: ["/api/*", "/decks"]
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.App.Addr != ":7070" || s.Auth.Revocation.TTL != 2*time.Hour {
		t.Fatalf("file values not applied: %+v %+v", s.App, s.Auth.Revocation)
	}
	if !reflect.DeepEqual(s.Auth.Gate.Protected, []string{"/api/*", "/decks"}) {
		t.Fatalf("protected %v", s.Auth.Gate.Protected)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CARDAUTH_AUTH_STORAGE_BACKEND", "sqlite")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file error")
	}
}
