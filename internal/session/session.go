// Package session implements the WAMP session engine: the handshake state
// machine, request/response correlation, and the dispatcher that multiplexes
// the inbound message stream into blocking callers and local handlers.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tortoisedoc/wampy"
	"github.com/tortoisedoc/wampy/internal/message"
)

// Conn is the framed transport a session talks through. Implemented by
// *transport.Conn; tests substitute channel-backed fakes.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

// DialFunc opens the transport for Begin.
type DialFunc func(ctx context.Context) (Conn, error)

// Params wires a session together.
type Params struct {
	// Owner names the client the session belongs to, for the Registry and
	// for logs.
	Owner string

	Realm        string
	HelloDetails map[string]any

	Registry *wampy.Registry
	Dial     DialFunc

	// Timeout bounds every blocking wait. Zero means wampy.DefaultTimeout.
	Timeout time.Duration

	Secret        string
	Authenticator wampy.AuthenticatorFn

	Logger zerolog.Logger
}

// inbound is one reader-to-caller handoff: either a message or a failure.
type inbound struct {
	msg *message.Message
	err error
}

// Session is one live conversation with a router. It owns the connection, the
// reader goroutine, and the correlation state for one in-flight blocking
// exchange at a time.
type Session struct {
	owner        string
	realm        string
	helloDetails map[string]any
	registry     *wampy.Registry
	dial         DialFunc
	timeout      time.Duration
	secret       string
	auth         wampy.AuthenticatorFn
	log          zerolog.Logger

	conn Conn

	state       atomic.Int32
	id          atomic.Int64
	nextRequest atomic.Int64

	// ending is set while End waits for the router's GOODBYE, so the
	// dispatcher can tell that reply apart from a router-initiated goodbye.
	ending atomic.Bool

	// opMu serializes blocking exchanges: one correlated round trip may be
	// in flight per session.
	opMu sync.Mutex

	// handoff carries RESULT, ERROR and GOODBYE to the parked caller;
	// confirm carries REGISTERED and SUBSCRIBED acknowledgements. Both are
	// single-slot.
	handoff chan inbound
	confirm chan inbound

	// welcome resolves Begin's wait for the handshake outcome.
	welcome chan error

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	closeErr  error
}

// New builds a session in the NEW state. Begin drives the handshake.
func New(p Params) *Session {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = wampy.DefaultTimeout
	}
	return &Session{
		owner:        p.Owner,
		realm:        p.Realm,
		helloDetails: p.HelloDetails,
		registry:     p.Registry,
		dial:         p.Dial,
		timeout:      timeout,
		secret:       p.Secret,
		auth:         p.Authenticator,
		log:          p.Logger.With().Str("client", p.Owner).Logger(),
		handoff:      make(chan inbound, 1),
		confirm:      make(chan inbound, 1),
		welcome:      make(chan error, 1),
		done:         make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// ID returns the router-assigned session id, zero before WELCOME.
func (s *Session) ID() int64 {
	return s.id.Load()
}

// Begin opens the transport, says HELLO, starts the reader, and blocks until
// the handshake resolves: WELCOME establishes the session, ABORT fails it with
// a *wampy.WelcomeAbortedError, and a CHALLENGE without credentials fails it
// with a *wampy.ConfigurationError.
func (s *Session) Begin(ctx context.Context) error {
	if !s.transition(StateNew, StateConnecting) {
		return fmt.Errorf("begin: session already started (state %s)", s.State())
	}

	conn, err := s.dial(ctx)
	if err != nil {
		s.fail(err)
		return err
	}
	s.conn = conn

	s.log.Info().Str("realm", s.realm).Msg("connection established, saying hello")

	if err := s.send(ctx, message.Hello(s.realm, s.helloDetails)); err != nil {
		s.fail(err)
		return err
	}
	s.state.Store(int32(StateAwaitingWelcome))

	go s.readLoop()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case err := <-s.welcome:
		return err
	case <-timer.C:
		// A mute router leaves no usable session behind; tear the
		// connection down so the reader and write pump stop.
		err := &wampy.TimeoutError{Awaiting: "WELCOME", Timeout: s.timeout}
		s.fail(err)
		return err
	case <-ctx.Done():
		s.fail(ctx.Err())
		return ctx.Err()
	case <-s.done:
		return s.closeError()
	}
}

// Ready marks role registration complete. Modeled as an explicit caller-driven
// step so partial registration failures stay visible.
func (s *Session) Ready() {
	if s.transition(StateEstablished, StateReady) {
		s.log.Info().Int64("session_id", s.ID()).Msg("session ready")
	}
}

// End says GOODBYE, waits (bounded) for the router's GOODBYE, then tears the
// session down. The session always finishes closed, even when the reply never
// arrives. Idempotent.
func (s *Session) End(ctx context.Context) error {
	if s.State().Terminal() {
		return nil
	}
	if s.conn == nil {
		// Begin never got as far as dialing.
		s.close(nil)
		return nil
	}

	s.ending.Store(true)
	defer s.ending.Store(false)

	if err := s.send(ctx, message.Goodbye(nil, "wamp.close.close_realm")); err != nil {
		s.log.Warn().Err(err).Msg("goodbye send failed, closing anyway")
		s.close(nil)
		return nil
	}

	reply, err := s.awaitHandoff(ctx, "GOODBYE")
	switch {
	case err != nil:
		s.log.Warn().Err(err).Msg("no goodbye reply from router, closing anyway")
	case reply.Kind != message.KindGoodbye:
		s.log.Warn().Str("type", reply.Kind.String()).Msg("unexpected reply to goodbye, closing anyway")
	default:
		s.log.Info().Str("reason", reply.URI).Msg("router said goodbye")
	}

	s.close(nil)
	return nil
}

// Call invokes a remote procedure and returns the first positional result. A
// router-reported failure comes back as a *wampy.ProtocolError.
func (s *Session) Call(ctx context.Context, procedure string, args []any, kwargs map[string]any) (any, error) {
	if err := s.requireLive("call"); err != nil {
		return nil, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.drainStale()

	requestID := s.nextRequestID()
	if err := s.send(ctx, message.Call(requestID, nil, procedure, args, kwargs)); err != nil {
		return nil, err
	}

	reply, err := s.awaitHandoff(ctx, "RESULT for "+procedure)
	if err != nil {
		return nil, err
	}
	if reply.Kind != message.KindResult {
		return nil, &wampy.ProtocolError{
			Message: fmt.Sprintf("unexpected %s while awaiting RESULT", reply.Kind),
		}
	}
	if reply.RequestID != requestID {
		return nil, &wampy.ProtocolError{
			Message: fmt.Sprintf("RESULT for request %d while awaiting %d", reply.RequestID, requestID),
		}
	}

	if len(reply.Args) == 0 {
		return nil, nil
	}
	return reply.Args[0], nil
}

// RegisterProcedure registers fn under procedure and blocks until the router
// confirms. Confirmed registrations are resolved in the Registry before this
// returns, so an INVOCATION arriving immediately after finds its target.
func (s *Session) RegisterProcedure(ctx context.Context, procedure string, fn wampy.ProcedureFn, policy wampy.InvocationPolicy) error {
	if err := s.requireLive("register"); err != nil {
		return err
	}
	if fn == nil {
		return &wampy.ConfigurationError{Reason: "nil procedure for " + procedure}
	}
	if policy == "" {
		policy = wampy.PolicySingle
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.drainStale()

	requestID := s.nextRequestID()
	s.registry.RecordPendingProcedure(requestID, s.owner, procedure, policy, fn)

	var options map[string]any
	if policy != wampy.PolicySingle {
		options = map[string]any{"invoke": string(policy)}
	}

	if err := s.send(ctx, message.Register(requestID, options, procedure)); err != nil {
		return err
	}

	reply, err := s.awaitConfirmation(ctx, "REGISTERED for "+procedure)
	if err != nil {
		return err
	}
	if reply.Kind != message.KindRegistered || reply.RequestID != requestID {
		return &wampy.ProtocolError{
			Message: fmt.Sprintf("unexpected %s (request %d) while awaiting REGISTERED for request %d",
				reply.Kind, reply.RequestID, requestID),
		}
	}

	s.log.Info().Str("procedure", procedure).Int64("registration_id", reply.RegistrationID).Msg("procedure registered")
	return nil
}

// Subscribe subscribes handler to topic and blocks until the router confirms.
func (s *Session) Subscribe(ctx context.Context, topic string, handler wampy.EventHandler) error {
	if err := s.requireLive("subscribe"); err != nil {
		return err
	}
	if handler == nil {
		return &wampy.ConfigurationError{Reason: "nil handler for " + topic}
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.drainStale()

	requestID := s.nextRequestID()
	s.registry.RecordPendingSubscription(requestID, s.owner, topic, handler)

	if err := s.send(ctx, message.Subscribe(requestID, nil, topic)); err != nil {
		return err
	}

	reply, err := s.awaitConfirmation(ctx, "SUBSCRIBED for "+topic)
	if err != nil {
		return err
	}
	if reply.Kind != message.KindSubscribed || reply.RequestID != requestID {
		return &wampy.ProtocolError{
			Message: fmt.Sprintf("unexpected %s (request %d) while awaiting SUBSCRIBED for request %d",
				reply.Kind, reply.RequestID, requestID),
		}
	}

	s.log.Info().Str("topic", topic).Int64("subscription_id", reply.SubscriptionID).Msg("topic subscribed")
	return nil
}

// Publish emits an event on topic. With acknowledge set it blocks for the
// router's PUBLISHED confirmation; otherwise it is fire-and-forget.
func (s *Session) Publish(ctx context.Context, topic string, args []any, kwargs map[string]any, acknowledge bool) error {
	if err := s.requireLive("publish"); err != nil {
		return err
	}

	if !acknowledge {
		requestID := s.nextRequestID()
		return s.send(ctx, message.Publish(requestID, nil, topic, args, kwargs))
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.drainStale()

	requestID := s.nextRequestID()
	options := map[string]any{"acknowledge": true}
	if err := s.send(ctx, message.Publish(requestID, options, topic, args, kwargs)); err != nil {
		return err
	}

	reply, err := s.awaitHandoff(ctx, "PUBLISHED for "+topic)
	if err != nil {
		return err
	}
	if reply.Kind != message.KindPublished || reply.RequestID != requestID {
		return &wampy.ProtocolError{
			Message: fmt.Sprintf("unexpected %s (request %d) while awaiting PUBLISHED for request %d",
				reply.Kind, reply.RequestID, requestID),
		}
	}
	return nil
}

// SendAndAwait sends one request and parks on the handoff slot for the next
// correlated reply. Exchanges are serialized per session.
func (s *Session) SendAndAwait(ctx context.Context, m *message.Message, awaiting string) (*message.Message, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.drainStale()

	if err := s.send(ctx, m); err != nil {
		return nil, err
	}
	return s.awaitHandoff(ctx, awaiting)
}

func (s *Session) nextRequestID() int64 {
	return s.nextRequest.Add(1)
}

func (s *Session) requireLive(op string) error {
	st := s.State()
	if !st.Live() {
		if st.Terminal() {
			return fmt.Errorf("%s: %w", op, s.closeError())
		}
		return fmt.Errorf("%s: session not established (state %s)", op, st)
	}
	return nil
}

func (s *Session) send(ctx context.Context, m *message.Message) error {
	frame, err := message.Encode(m)
	if err != nil {
		return err
	}
	s.log.Debug().Str("type", m.Kind.String()).Msg("sending message")
	return s.conn.Send(ctx, frame)
}

// awaitHandoff blocks for the next reply in the handoff slot, bounded by the
// session timeout (or an earlier context deadline). On timeout the session is
// left as-is so the caller can retry or close explicitly.
func (s *Session) awaitHandoff(ctx context.Context, awaiting string) (*message.Message, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case in := <-s.handoff:
		return in.msg, in.err
	case <-timer.C:
		return nil, &wampy.TimeoutError{Awaiting: awaiting, Timeout: s.timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, s.closeError()
	}
}

// awaitConfirmation is awaitHandoff for REGISTERED/SUBSCRIBED. It also selects
// on the handoff slot because a failed REGISTER/SUBSCRIBE comes back as an
// ERROR message, which the dispatcher routes there.
func (s *Session) awaitConfirmation(ctx context.Context, awaiting string) (*message.Message, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case in := <-s.confirm:
		return in.msg, in.err
	case in := <-s.handoff:
		if in.err != nil {
			return nil, in.err
		}
		return in.msg, nil
	case <-timer.C:
		return nil, &wampy.TimeoutError{Awaiting: awaiting, Timeout: s.timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, s.closeError()
	}
}

// drainStale discards replies left in the slots by a previous exchange that
// timed out before its reply arrived. Must hold opMu. A stale reply landing
// after the drain but before the next wait parks is not discarded; it fails
// that exchange's request-id check and surfaces as a ProtocolError, never as
// a silently wrong result.
func (s *Session) drainStale() {
	for {
		select {
		case in := <-s.handoff:
			s.log.Warn().Err(in.err).Msg("discarding stale handoff reply")
		case in := <-s.confirm:
			s.log.Warn().Err(in.err).Msg("discarding stale confirmation")
		default:
			return
		}
	}
}

// readLoop drains the transport and feeds the dispatcher. It is the only code
// path that mutates handshake state and the registry's confirmed entries, and
// it processes messages strictly in arrival order.
func (s *Session) readLoop() {
	for {
		frame, err := s.conn.Receive()
		if err != nil {
			if s.State() == StateClosed {
				return
			}
			s.log.Warn().Err(err).Msg("reader stopping: receive failed")
			s.fail(err)
			return
		}

		msg, err := message.Decode(frame)
		if err != nil {
			s.log.Warn().Err(err).Msg("reader stopping: undecodable frame")
			s.fail(err)
			return
		}

		s.dispatch(msg)
	}
}

// fail marks the session FAILED and releases every parked waiter with err.
func (s *Session) fail(err error) {
	s.errMu.Lock()
	if s.closeErr == nil {
		s.closeErr = err
	}
	s.errMu.Unlock()

	if !s.State().Terminal() {
		s.state.Store(int32(StateFailed))
	}
	s.shutdown()
}

// close marks the session CLOSED. Teardown never hangs: the connection is
// closed regardless of what the router did or did not say.
func (s *Session) close(err error) {
	s.errMu.Lock()
	if s.closeErr == nil {
		s.closeErr = err
	}
	s.errMu.Unlock()

	if !s.State().Terminal() {
		s.state.Store(int32(StateClosed))
	}
	s.shutdown()
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
		s.log.Info().Str("state", s.State().String()).Msg("session shut down")
	})
}

func (s *Session) closeError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.closeErr != nil {
		return s.closeErr
	}
	return wampy.ErrSessionClosed
}

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}
