package wampy_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tortoisedoc/wampy"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := wampy.DefaultConfig()
	if cfg.Host != "localhost" || cfg.Port != 8080 {
		t.Errorf("endpoint = %s:%d, want localhost:8080", cfg.Host, cfg.Port)
	}
	if cfg.Realm != "realm1" {
		t.Errorf("Realm = %q, want realm1", cfg.Realm)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if !cfg.Roles.Caller || !cfg.Roles.Callee || !cfg.Roles.Publisher || !cfg.Roles.Subscriber {
		t.Errorf("Roles = %+v, want all four", cfg.Roles)
	}
	if cfg.AcknowledgePublish {
		t.Error("AcknowledgePublish should default to fire-and-forget")
	}
	if got := cfg.RouterURL(); got != "ws://localhost:8080/" {
		t.Errorf("RouterURL() = %q", got)
	}
}

func TestRouterURLOverride(t *testing.T) {
	t.Parallel()

	cfg := wampy.DefaultConfig()
	cfg.URL = "wss://router.example.com/ws"
	if got := cfg.RouterURL(); got != "wss://router.example.com/ws" {
		t.Errorf("RouterURL() = %q, want the explicit URL", got)
	}
}

func TestRolesMap(t *testing.T) {
	t.Parallel()

	details := wampy.Roles{Caller: true, Subscriber: true}.Map()
	roles, ok := details["roles"].(map[string]any)
	if !ok {
		t.Fatalf("details = %#v, want a roles dict", details)
	}
	if _, ok := roles["caller"]; !ok {
		t.Error("caller role missing")
	}
	if _, ok := roles["subscriber"]; !ok {
		t.Error("subscriber role missing")
	}
	if _, ok := roles["callee"]; ok {
		t.Error("callee role present but not enabled")
	}
}

func TestResolveSecret(t *testing.T) {
	cfg := wampy.DefaultConfig()
	cfg.Secret = "explicit"
	if got := cfg.ResolveSecret(); got != "explicit" {
		t.Errorf("ResolveSecret() = %q, want explicit", got)
	}

	cfg.Secret = ""
	t.Setenv("WAMPYSECRET", "from-env")
	if got := cfg.ResolveSecret(); got != "from-env" {
		t.Errorf("ResolveSecret() = %q, want from-env", got)
	}

	cfg.SecretEnv = "WAMPY_TEST_OTHER_SECRET"
	t.Setenv("WAMPY_TEST_OTHER_SECRET", "other")
	if got := cfg.ResolveSecret(); got != "other" {
		t.Errorf("ResolveSecret() = %q, want other", got)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wampy.toml")
	contents := `
name = "billing"
host = "router.internal"
port = 9090
realm = "realm-billing"
roles = ["caller", "publisher"]
timeout = "2s"
acknowledge_publish = true
publish_rate = 50.0
publish_burst = 10
ping_interval = "30s"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := wampy.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Name != "billing" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Host != "router.internal" || cfg.Port != 9090 {
		t.Errorf("endpoint = %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.Realm != "realm-billing" {
		t.Errorf("Realm = %q", cfg.Realm)
	}
	if !cfg.Roles.Caller || !cfg.Roles.Publisher || cfg.Roles.Callee || cfg.Roles.Subscriber {
		t.Errorf("Roles = %+v, want caller+publisher only", cfg.Roles)
	}
	if cfg.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", cfg.Timeout)
	}
	if !cfg.AcknowledgePublish {
		t.Error("AcknowledgePublish not set")
	}
	if cfg.PublishRate != 50.0 || cfg.PublishBurst != 10 {
		t.Errorf("publish throttle = %v/%d", cfg.PublishRate, cfg.PublishBurst)
	}
	if cfg.PingInterval != 30*time.Second {
		t.Errorf("PingInterval = %v", cfg.PingInterval)
	}
	// Keys absent from the file keep their defaults.
	if cfg.SecretEnv != wampy.DefaultSecretEnv {
		t.Errorf("SecretEnv = %q, want default", cfg.SecretEnv)
	}
}

func TestLoadConfigPartialOverride(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wampy.toml")
	if err := os.WriteFile(path, []byte(`realm = "only-realm"`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := wampy.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Realm != "only-realm" {
		t.Errorf("Realm = %q", cfg.Realm)
	}
	if cfg.Host != "localhost" || cfg.Port != 8080 {
		t.Errorf("endpoint defaults lost: %s:%d", cfg.Host, cfg.Port)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	badRole := filepath.Join(dir, "role.toml")
	if err := os.WriteFile(badRole, []byte(`roles = ["dealer"]`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := wampy.LoadConfig(badRole); err == nil {
		t.Error("unknown role accepted")
	}

	badTimeout := filepath.Join(dir, "timeout.toml")
	if err := os.WriteFile(badTimeout, []byte(`timeout = "soon"`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := wampy.LoadConfig(badTimeout); err == nil {
		t.Error("unparseable timeout accepted")
	}

	if _, err := wampy.LoadConfig(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("missing file accepted")
	}
}
