package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/tortoisedoc/wampy"
	"github.com/tortoisedoc/wampy/internal/message"
)

// dispatch classifies one inbound message. Exactly one of two things happens:
// the message is handled inline (handshake transitions, registry resolution,
// invocation and event delivery) or it is handed to the parked blocking
// caller. Runs on the reader goroutine, one message at a time.
func (s *Session) dispatch(msg *message.Message) {
	if s.State().Terminal() {
		s.log.Warn().Str("type", msg.Kind.String()).Msg("discarding message on dead session")
		return
	}

	s.log.Debug().Str("type", msg.Kind.String()).Msg("handling message")

	switch msg.Kind {
	case message.KindWelcome:
		s.handleWelcome(msg)

	case message.KindAbort:
		err := &wampy.WelcomeAbortedError{Reason: msg.URI, Message: detailString(msg.Details, "message")}
		s.log.Warn().Str("reason", msg.URI).Msg("router aborted handshake")
		s.signalWelcome(err)
		s.fail(err)

	case message.KindChallenge:
		s.handleChallenge(msg)

	case message.KindRegistered:
		if _, err := s.registry.ResolveRegistration(msg.RequestID, msg.RegistrationID); err != nil {
			s.log.Warn().Err(err).Msg("dropping unresolvable REGISTERED")
			return
		}
		s.deliver(s.confirm, inbound{msg: msg}, "REGISTERED")

	case message.KindSubscribed:
		if _, err := s.registry.ResolveSubscription(msg.RequestID, msg.SubscriptionID); err != nil {
			s.log.Warn().Err(err).Msg("dropping unresolvable SUBSCRIBED")
			return
		}
		s.deliver(s.confirm, inbound{msg: msg}, "SUBSCRIBED")

	case message.KindInvocation:
		s.handleInvocation(msg)

	case message.KindEvent:
		s.handleEvent(msg)

	case message.KindResult, message.KindPublished:
		s.deliver(s.handoff, inbound{msg: msg}, msg.Kind.String())

	case message.KindGoodbye:
		if s.ending.Load() {
			s.deliver(s.handoff, inbound{msg: msg}, "GOODBYE")
			return
		}
		// Router-initiated goodbye: reply in kind and close.
		s.log.Info().Str("reason", msg.URI).Msg("router closed the session")
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.send(ctx, message.Goodbye(nil, "wamp.close.goodbye_and_out")); err != nil {
			s.log.Warn().Err(err).Msg("goodbye reply failed")
		}
		cancel()
		s.close(nil)

	case message.KindError:
		perr := protocolError(msg)
		s.log.Warn().Str("error_uri", msg.URI).Str("request_type", msg.RequestKind.String()).Msg("router reported an error")
		s.deliver(s.handoff, inbound{err: perr}, "ERROR")

	default:
		s.log.Warn().Str("type", msg.Kind.String()).Msg("unhandled message")
	}
}

func (s *Session) handleWelcome(msg *message.Message) {
	if !s.transition(StateAwaitingWelcome, StateEstablished) &&
		!s.transition(StateAuthenticating, StateEstablished) {
		s.log.Warn().Str("state", s.State().String()).Msg("unexpected WELCOME")
		return
	}
	s.id.Store(msg.SessionID)
	s.log.Info().Int64("session_id", msg.SessionID).Str("realm", s.realm).Msg("session established")
	s.signalWelcome(nil)
}

// handleChallenge drives AWAITING_WELCOME -> AUTHENTICATING. The signature
// itself comes from the configured authenticator; without a secret and an
// authenticator the handshake fails.
func (s *Session) handleChallenge(msg *message.Message) {
	if !s.transition(StateAwaitingWelcome, StateAuthenticating) {
		s.log.Warn().Str("state", s.State().String()).Msg("unexpected CHALLENGE")
		return
	}

	if s.secret == "" {
		err := &wampy.ConfigurationError{
			Reason: fmt.Sprintf("router issued a %s challenge but no secret is configured (set %s)",
				msg.URI, wampy.DefaultSecretEnv),
		}
		s.signalWelcome(err)
		s.fail(err)
		return
	}
	if s.auth == nil {
		err := &wampy.ConfigurationError{
			Reason: fmt.Sprintf("router issued a %s challenge but no authenticator is configured", msg.URI),
		}
		s.signalWelcome(err)
		s.fail(err)
		return
	}

	signature, extra, err := s.auth(msg.URI, msg.Details, s.secret)
	if err != nil {
		err = fmt.Errorf("challenge %s: %w", msg.URI, err)
		s.signalWelcome(err)
		s.fail(err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.send(ctx, message.Authenticate(signature, extra)); err != nil {
		s.signalWelcome(err)
		s.fail(err)
		return
	}
	s.log.Info().Str("method", msg.URI).Msg("challenge answered, awaiting welcome")
}

// handleInvocation executes a registered procedure and replies with exactly
// one YIELD carrying its single return value. Procedure failures and unknown
// registration ids are reported back as ERROR replies; the reader survives
// both.
func (s *Session) handleInvocation(msg *message.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	entry, err := s.registry.LookupProcedure(msg.RegistrationID)
	if err != nil {
		s.log.Warn().Err(err).Int64("registration_id", msg.RegistrationID).Msg("invocation for unknown registration")
		reply := message.ErrorReply(message.KindInvocation, msg.RequestID, nil,
			"wamp.error.no_such_registration", []any{err.Error()}, nil)
		if sendErr := s.send(ctx, reply); sendErr != nil {
			s.log.Warn().Err(sendErr).Msg("error reply failed")
		}
		return
	}

	s.log.Debug().Str("procedure", entry.Procedure).Int64("request_id", msg.RequestID).Msg("invoking procedure")

	result, err := invokeProcedure(entry.Fn, msg.Args, msg.Kwargs)
	if err != nil {
		s.log.Warn().Err(err).Str("procedure", entry.Procedure).Msg("procedure failed")
		reply := message.ErrorReply(message.KindInvocation, msg.RequestID, nil,
			"wamp.error.invocation_failed", []any{err.Error()}, nil)
		if sendErr := s.send(ctx, reply); sendErr != nil {
			s.log.Warn().Err(sendErr).Msg("error reply failed")
		}
		return
	}

	if err := s.send(ctx, message.Yield(msg.RequestID, nil, []any{result})); err != nil {
		s.log.Warn().Err(err).Str("procedure", entry.Procedure).Msg("yield failed")
	}
}

// handleEvent delivers an event to its subscription handler. Fire-and-forget:
// there is no reply, and handler panics are contained.
func (s *Session) handleEvent(msg *message.Message) {
	entry, err := s.registry.LookupSubscriptionHandler(msg.SubscriptionID)
	if err != nil {
		s.log.Warn().Err(err).Int64("subscription_id", msg.SubscriptionID).Msg("event for unknown subscription")
		return
	}

	s.log.Debug().Str("topic", entry.Topic).Int64("publication_id", msg.PublicationID).Msg("delivering event")

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Any("panic", r).Str("topic", entry.Topic).Msg("event handler panicked")
		}
	}()
	entry.Handler(msg.Args, msg.Kwargs)
}

// deliver hands a reply to the parked caller without ever blocking the
// reader. A false return means nobody was waiting.
func (s *Session) deliver(ch chan inbound, in inbound, what string) bool {
	select {
	case ch <- in:
		return true
	default:
		s.log.Warn().Str("type", what).Msg("no caller waiting, reply dropped")
		return false
	}
}

func (s *Session) signalWelcome(err error) {
	select {
	case s.welcome <- err:
	default:
	}
}

func invokeProcedure(fn wampy.ProcedureFn, args []any, kwargs map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("procedure panicked: %v", r)
		}
	}()
	return fn(args, kwargs)
}

// protocolError folds a router ERROR message into the client error taxonomy.
func protocolError(msg *message.Message) *wampy.ProtocolError {
	parts := make([]string, 0, len(msg.Args))
	for _, a := range msg.Args {
		if str, ok := a.(string); ok {
			parts = append(parts, str)
		}
	}
	return &wampy.ProtocolError{
		URI:     msg.URI,
		Message: strings.Join(parts, ", "),
		Details: msg.Details,
	}
}

func detailString(details map[string]any, key string) string {
	if details == nil {
		return ""
	}
	if v, ok := details[key].(string); ok {
		return v
	}
	return ""
}
