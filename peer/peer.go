// Package peer provides the user-facing WAMP client: a thin façade over the
// session engine that owns the connection lifecycle and the declared roles.
package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tortoisedoc/wampy"
	"github.com/tortoisedoc/wampy/internal/session"
	"github.com/tortoisedoc/wampy/internal/transport"
)

type declaredProcedure struct {
	name   string
	fn     wampy.ProcedureFn
	policy wampy.InvocationPolicy
}

type declaredSubscription struct {
	topic   string
	handler wampy.EventHandler
}

// Peer implements wampy.Client. One Peer owns at most one live session; Start
// after Stop establishes a fresh one.
type Peer struct {
	cfg      *wampy.Config
	name     string
	registry *wampy.Registry
	log      zerolog.Logger

	procedures    []declaredProcedure
	subscriptions []declaredSubscription

	mu   sync.Mutex
	sess *session.Session
}

var _ wampy.Client = (*Peer)(nil)

// New builds a client from cfg. A nil cfg means wampy.DefaultConfig. Roles
// declared through options are registered during Start, replacing any
// reflective discovery: setup code states its procedures and subscriptions
// explicitly.
func New(cfg *wampy.Config, opts ...Option) *Peer {
	if cfg == nil {
		cfg = wampy.DefaultConfig()
	}

	name := cfg.Name
	if name == "" {
		name = "wampy-" + uuid.New().String()
	}

	p := &Peer{
		cfg:      cfg,
		name:     name,
		registry: wampy.NewRegistry(),
		log:      cfg.Logger.With().Str("client", name).Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start connects to the router, establishes the session, registers every
// declared role, and records the client in the Registry. A role registration
// failure is returned with the session still established, so the caller can
// see exactly which role failed and decide whether to Stop.
func (p *Peer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sess != nil && !p.sess.State().Terminal() {
		return fmt.Errorf("start %s: client already started", p.name)
	}

	cfg := p.cfg
	dial := func(ctx context.Context) (session.Conn, error) {
		return transport.Dial(ctx, transport.Config{
			URL:              cfg.RouterURL(),
			HandshakeTimeout: cfg.HandshakeTimeout,
			PingInterval:     cfg.PingInterval,
			Rate:             cfg.PublishRate,
			Burst:            cfg.PublishBurst,
			Logger:           p.log,
		})
	}

	sess := session.New(session.Params{
		Owner:         p.name,
		Realm:         cfg.Realm,
		HelloDetails:  cfg.Roles.Map(),
		Registry:      p.registry,
		Dial:          dial,
		Timeout:       cfg.Timeout,
		Secret:        cfg.ResolveSecret(),
		Authenticator: cfg.Authenticator,
		Logger:        p.log,
	})

	if err := sess.Begin(ctx); err != nil {
		return err
	}
	p.sess = sess

	for _, proc := range p.procedures {
		if err := sess.RegisterProcedure(ctx, proc.name, proc.fn, proc.policy); err != nil {
			return fmt.Errorf("register %s: %w", proc.name, err)
		}
	}
	for _, sub := range p.subscriptions {
		if err := sess.Subscribe(ctx, sub.topic, sub.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.topic, err)
		}
	}

	sess.Ready()
	p.registry.RegisterClient(p.name, p)
	p.log.Info().Int64("session_id", sess.ID()).Msg("client started")
	return nil
}

// Stop ends the session. Safe to call on a client that never started.
func (p *Peer) Stop(ctx context.Context) error {
	p.mu.Lock()
	sess := p.sess
	p.mu.Unlock()

	if sess == nil {
		return nil
	}
	if err := sess.End(ctx); err != nil {
		return err
	}
	p.log.Info().Msg("client stopped")
	return nil
}

// Call invokes a remote procedure and returns the first positional result.
func (p *Peer) Call(ctx context.Context, procedure string, args []any, kwargs map[string]any) (any, error) {
	sess, err := p.session("call")
	if err != nil {
		return nil, err
	}
	return sess.Call(ctx, procedure, args, kwargs)
}

// Publish emits an event, acknowledged when Config.AcknowledgePublish is set.
func (p *Peer) Publish(ctx context.Context, topic string, args []any, kwargs map[string]any) error {
	sess, err := p.session("publish")
	if err != nil {
		return err
	}
	return sess.Publish(ctx, topic, args, kwargs, p.cfg.AcknowledgePublish)
}

// RegisterProcedure registers a procedure on the live session.
func (p *Peer) RegisterProcedure(ctx context.Context, procedure string, fn wampy.ProcedureFn, policy wampy.InvocationPolicy) error {
	sess, err := p.session("register")
	if err != nil {
		return err
	}
	return sess.RegisterProcedure(ctx, procedure, fn, policy)
}

// Subscribe subscribes a handler on the live session.
func (p *Peer) Subscribe(ctx context.Context, topic string, handler wampy.EventHandler) error {
	sess, err := p.session("subscribe")
	if err != nil {
		return err
	}
	return sess.Subscribe(ctx, topic, handler)
}

// SessionID returns the router-assigned session id, zero before Start.
func (p *Peer) SessionID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return 0
	}
	return p.sess.ID()
}

// Name returns the client's registry name.
func (p *Peer) Name() string { return p.name }

// Registry exposes the registry backing this client, for introspection and
// for sharing one registry across clients.
func (p *Peer) Registry() *wampy.Registry { return p.registry }

func (p *Peer) session(op string) (*session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return nil, fmt.Errorf("%s: client not started", op)
	}
	return p.sess, nil
}
