package wampy

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

const (
	DefaultHost      = "localhost"
	DefaultPort      = 8080
	DefaultRealm     = "realm1"
	DefaultTimeout   = 5 * time.Second
	DefaultSecretEnv = "WAMPYSECRET"
)

// Roles describes which WAMP client roles the peer announces in HELLO.
type Roles struct {
	Caller     bool
	Callee     bool
	Publisher  bool
	Subscriber bool
}

// DefaultRoles announces all four client roles.
func DefaultRoles() Roles {
	return Roles{Caller: true, Callee: true, Publisher: true, Subscriber: true}
}

// Map renders the roles as the HELLO details structure the router expects.
func (r Roles) Map() map[string]any {
	roles := make(map[string]any)
	if r.Caller {
		roles["caller"] = map[string]any{}
	}
	if r.Callee {
		roles["callee"] = map[string]any{}
	}
	if r.Publisher {
		roles["publisher"] = map[string]any{}
	}
	if r.Subscriber {
		roles["subscriber"] = map[string]any{}
	}
	return map[string]any{"roles": roles}
}

// Config carries everything a client needs to reach a router and behave once
// connected. Zero values fall back to the defaults; DefaultConfig returns a
// fully populated one.
type Config struct {
	// Name identifies the client in the Registry and in logs. When empty the
	// peer assigns a generated name.
	Name string

	// Host and Port locate the router endpoint. URL, when set, overrides
	// both (e.g. "wss://router.example.com/ws").
	Host string
	Port int
	URL  string

	// Realm is the routing namespace the session is established within.
	Realm string

	// Roles announced in HELLO.
	Roles Roles

	// Timeout bounds every blocking wait: the handshake, registration and
	// subscription confirmations, call results, and session teardown. A
	// context with an earlier deadline wins.
	Timeout time.Duration

	// AcknowledgePublish makes Publish block for the router's PUBLISHED
	// confirmation instead of firing and forgetting.
	AcknowledgePublish bool

	// Secret is the authentication secret used to answer a CHALLENGE. When
	// empty it is read from the environment variable named by SecretEnv.
	Secret    string
	SecretEnv string

	// Authenticator computes the CHALLENGE signature. Without one, a
	// CHALLENGE from the router fails the handshake.
	Authenticator AuthenticatorFn

	// PublishRate and PublishBurst throttle outbound frames (token bucket,
	// messages per second). Zero disables throttling.
	PublishRate  float64
	PublishBurst int

	// HandshakeTimeout bounds the WebSocket dial; PingInterval paces
	// keepalive pings on the connection.
	HandshakeTimeout time.Duration
	PingInterval     time.Duration

	// Logger receives structured logs from the session, dispatcher and
	// transport.
	Logger zerolog.Logger
}

// DefaultConfig returns the stock configuration: localhost:8080, realm1, all
// four roles, 5 second timeouts, fire-and-forget publishes, and a stderr
// logger.
func DefaultConfig() *Config {
	return &Config{
		Host:             DefaultHost,
		Port:             DefaultPort,
		Realm:            DefaultRealm,
		Roles:            DefaultRoles(),
		Timeout:          DefaultTimeout,
		SecretEnv:        DefaultSecretEnv,
		HandshakeTimeout: 5 * time.Second,
		PingInterval:     54 * time.Second,
		Logger:           zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
}

// RouterURL returns the WebSocket endpoint, honouring URL when set.
func (c *Config) RouterURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("ws://%s:%d/", c.Host, c.Port)
}

// ResolveSecret returns the configured secret, falling back to the SecretEnv
// environment variable.
func (c *Config) ResolveSecret() string {
	if c.Secret != "" {
		return c.Secret
	}
	env := c.SecretEnv
	if env == "" {
		env = DefaultSecretEnv
	}
	return os.Getenv(env)
}

type fileConfig struct {
	Name               string   `toml:"name"`
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	URL                string   `toml:"url"`
	Realm              string   `toml:"realm"`
	Roles              []string `toml:"roles"`
	Timeout            string   `toml:"timeout"`
	AcknowledgePublish bool     `toml:"acknowledge_publish"`
	SecretEnv          string   `toml:"secret_env"`
	PublishRate        float64  `toml:"publish_rate"`
	PublishBurst       int      `toml:"publish_burst"`
	HandshakeTimeout   string   `toml:"handshake_timeout"`
	PingInterval       string   `toml:"ping_interval"`
}

// LoadConfig reads a TOML configuration file on top of DefaultConfig. Only
// keys present in the file override the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load wampy config: %w", err)
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("realm") {
		cfg.Realm = strings.TrimSpace(raw.Realm)
	}
	if meta.IsDefined("roles") {
		roles := Roles{}
		for _, role := range raw.Roles {
			switch strings.ToLower(strings.TrimSpace(role)) {
			case "caller":
				roles.Caller = true
			case "callee":
				roles.Callee = true
			case "publisher":
				roles.Publisher = true
			case "subscriber":
				roles.Subscriber = true
			default:
				return nil, fmt.Errorf("load wampy config: unknown role %q", role)
			}
		}
		cfg.Roles = roles
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return nil, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("acknowledge_publish") {
		cfg.AcknowledgePublish = raw.AcknowledgePublish
	}
	if meta.IsDefined("secret_env") {
		cfg.SecretEnv = strings.TrimSpace(raw.SecretEnv)
	}
	if meta.IsDefined("publish_rate") {
		cfg.PublishRate = raw.PublishRate
	}
	if meta.IsDefined("publish_burst") {
		cfg.PublishBurst = raw.PublishBurst
	}
	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return nil, fmt.Errorf("parse handshake_timeout: %w", err)
		}
		cfg.HandshakeTimeout = d
	}
	if meta.IsDefined("ping_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PingInterval))
		if err != nil {
			return nil, fmt.Errorf("parse ping_interval: %w", err)
		}
		cfg.PingInterval = d
	}

	return cfg, nil
}
