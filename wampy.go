package wampy

import "context"

// ProcedureFn is a locally served procedure. It receives the positional and
// named arguments carried by an INVOCATION and returns a single result value,
// which is sent back to the router in a YIELD reply. A returned error is
// reported to the router as a WAMP ERROR instead.
//
// Either argument may be nil when the invocation carries no payload of that
// shape.
type ProcedureFn func(args []any, kwargs map[string]any) (any, error)

// EventHandler consumes events published on a subscribed topic. Delivery is
// fire-and-forget: there is no reply channel, and a panic inside the handler is
// recovered and logged rather than tearing down the session.
type EventHandler func(args []any, kwargs map[string]any)

// AuthenticatorFn computes the signature for a router CHALLENGE. It receives
// the challenge method (e.g. "wampcra"), the extra map from the CHALLENGE
// message, and the configured secret, and returns the signature plus an
// optional extra map for the AUTHENTICATE reply.
type AuthenticatorFn func(method string, extra map[string]any, secret string) (signature string, authExtra map[string]any, err error)

// InvocationPolicy selects how the router distributes calls when a procedure
// is registered by more than one callee.
type InvocationPolicy string

const (
	PolicySingle     InvocationPolicy = "single"
	PolicyRoundRobin InvocationPolicy = "roundrobin"
	PolicyRandom     InvocationPolicy = "random"
	PolicyFirst      InvocationPolicy = "first"
	PolicyLast       InvocationPolicy = "last"
)

// Client is a WAMP client peer. It owns one session with one router and
// exposes the four WAMP client roles.
//
// Construct one with the peer package:
//
//	client := peer.New(wampy.DefaultConfig())
//	if err := client.Start(ctx); err != nil { ... }
//	defer client.Stop(ctx)
type Client interface {
	// Start connects to the router, establishes the session within the
	// configured realm, and registers any declared roles. It fails with a
	// *ConnectionError if the transport cannot be established, a
	// *WelcomeAbortedError if the router rejects the handshake, and a
	// *TimeoutError if the router does not answer in time.
	Start(ctx context.Context) error

	// Stop says GOODBYE to the router and tears the session down. The
	// session always ends up closed, even when the router's GOODBYE reply
	// never arrives within the timeout. Stop is idempotent.
	Stop(ctx context.Context) error

	// Call invokes a remote procedure and returns the first positional
	// result value. A router-reported failure is returned as a
	// *ProtocolError carrying the error URI. Only one call may be in
	// flight per session; concurrent calls are serialized.
	Call(ctx context.Context, procedure string, args []any, kwargs map[string]any) (any, error)

	// Publish emits an event on a topic. By default this is fire-and-forget;
	// with Config.AcknowledgePublish set it blocks until the router confirms
	// the publication.
	Publish(ctx context.Context, topic string, args []any, kwargs map[string]any) error

	// RegisterProcedure registers fn under the given procedure name and
	// blocks until the router confirms the registration. An empty policy
	// defaults to PolicySingle.
	RegisterProcedure(ctx context.Context, procedure string, fn ProcedureFn, policy InvocationPolicy) error

	// Subscribe subscribes handler to a topic and blocks until the router
	// confirms the subscription.
	Subscribe(ctx context.Context, topic string, handler EventHandler) error

	// SessionID returns the router-assigned session id, or zero before the
	// session is established.
	SessionID() int64

	// Name returns the client's name as known to the Registry.
	Name() string
}
