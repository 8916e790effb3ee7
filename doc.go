// Package wampy is a WAMP (Web Application Messaging Protocol) client for Go.
//
// A wampy client connects to a WAMP router over WebSocket, establishes a session
// within a realm, and can then act in any of the four WAMP client roles: Caller
// (remote procedure calls), Callee (serving procedures), Publisher and Subscriber
// (topic-based events).
//
// # Architecture
//
// The library is split in three layers. The session engine drives the handshake
// state machine, correlates requests with router replies, and dispatches every
// inbound message either to a blocking caller or to a locally registered
// procedure or event handler. The transport layer frames WAMP messages over a
// WebSocket connection using the wamp.2.json subprotocol. The Registry binds
// router-assigned registration and subscription identifiers to local handlers
// and is shared by every session in the process.
//
// # Quick Start
//
//	import (
//	    "github.com/tortoisedoc/wampy"
//	    "github.com/tortoisedoc/wampy/peer"
//	)
//
//	cfg := wampy.DefaultConfig()
//	cfg.Realm = "realm1"
//
//	client := peer.New(cfg,
//	    peer.WithProcedure("com.example.sum", sum, wampy.PolicySingle),
//	    peer.WithSubscription("com.example.heartbeat", onHeartbeat),
//	)
//
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal().Err(err).Msg("start failed")
//	}
//	defer client.Stop(ctx)
//
//	result, err := client.Call(ctx, "com.example.sum", []any{1, 2}, nil)
//
// # Concurrency Model
//
// Each session runs exactly one reader goroutine which processes inbound
// messages strictly in arrival order. Invocations and events are handled inline
// on that goroutine, so a slow procedure delays later messages on the same
// session; this mirrors the protocol's single-socket ordered-delivery semantics.
// Blocking operations (Call, RegisterProcedure, Subscribe, Start, Stop) hold an
// exclusive per-session lock, so one correlated round trip is in flight at a
// time. Every blocking wait is bounded by the configured timeout and fails with
// a *TimeoutError rather than hanging; the session stays usable afterwards.
//
// # Authentication
//
// When the router answers HELLO with a CHALLENGE, the client requires a secret
// (sourced from the WAMPYSECRET environment variable by default) and a
// configured AuthenticatorFn to compute the signature. The challenge
// cryptography itself is the caller's concern; wampy only drives the state
// transitions and sends the AUTHENTICATE message.
package wampy
