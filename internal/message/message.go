// Package message models WAMP messages and their JSON array wire form.
//
// Each message kind carries a fixed numeric discriminant defined by the WAMP
// basic profile; the codec treats these as an external contract, not a choice.
package message

import "fmt"

// Kind is the numeric discriminant of a WAMP message.
type Kind int

const (
	KindHello        Kind = 1
	KindWelcome      Kind = 2
	KindAbort        Kind = 3
	KindChallenge    Kind = 4
	KindAuthenticate Kind = 5
	KindGoodbye      Kind = 6
	KindError        Kind = 8
	KindPublish      Kind = 16
	KindPublished    Kind = 17
	KindSubscribe    Kind = 32
	KindSubscribed   Kind = 33
	KindEvent        Kind = 36
	KindCall         Kind = 48
	KindResult       Kind = 50
	KindRegister     Kind = 64
	KindRegistered   Kind = 65
	KindInvocation   Kind = 68
	KindYield        Kind = 70
)

var kindNames = map[Kind]string{
	KindHello:        "HELLO",
	KindWelcome:      "WELCOME",
	KindAbort:        "ABORT",
	KindChallenge:    "CHALLENGE",
	KindAuthenticate: "AUTHENTICATE",
	KindGoodbye:      "GOODBYE",
	KindError:        "ERROR",
	KindPublish:      "PUBLISH",
	KindPublished:    "PUBLISHED",
	KindSubscribe:    "SUBSCRIBE",
	KindSubscribed:   "SUBSCRIBED",
	KindEvent:        "EVENT",
	KindCall:         "CALL",
	KindResult:       "RESULT",
	KindRegister:     "REGISTER",
	KindRegistered:   "REGISTERED",
	KindInvocation:   "INVOCATION",
	KindYield:        "YIELD",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(k))
}

// Message is a decoded WAMP message. Only the fields relevant to a given Kind
// are populated; messages are not modified once constructed.
type Message struct {
	Kind Kind

	// RequestID correlates requests with their replies. RequestKind is only
	// set on ERROR messages and names the kind of the failed request.
	RequestID   int64
	RequestKind Kind

	SessionID      int64
	RegistrationID int64
	SubscriptionID int64
	PublicationID  int64

	// URI carries the kind's principal string: the realm for HELLO, the
	// procedure or topic for CALL/REGISTER/PUBLISH/SUBSCRIBE, the reason for
	// ABORT/GOODBYE, the error URI for ERROR, and the authmethod for
	// CHALLENGE.
	URI       string
	Signature string

	// Details holds the details, options or extra dictionary of the kind.
	Details map[string]any

	Args   []any
	Kwargs map[string]any
}

// Hello builds the session-opening message for a realm, with the roles (and
// any authentication hints) in details.
func Hello(realm string, details map[string]any) *Message {
	return &Message{Kind: KindHello, URI: realm, Details: details}
}

// Welcome builds the router's session acceptance. Used by tests doubling as a
// router.
func Welcome(sessionID int64, details map[string]any) *Message {
	return &Message{Kind: KindWelcome, SessionID: sessionID, Details: details}
}

// Abort builds the router's handshake rejection.
func Abort(details map[string]any, reason string) *Message {
	return &Message{Kind: KindAbort, Details: details, URI: reason}
}

// Challenge builds an authentication challenge for authmethod.
func Challenge(authMethod string, extra map[string]any) *Message {
	return &Message{Kind: KindChallenge, URI: authMethod, Details: extra}
}

// Authenticate builds the reply to a CHALLENGE.
func Authenticate(signature string, extra map[string]any) *Message {
	return &Message{Kind: KindAuthenticate, Signature: signature, Details: extra}
}

// Goodbye builds a session-closing message. An empty reason defaults to
// wamp.close.normal.
func Goodbye(details map[string]any, reason string) *Message {
	if reason == "" {
		reason = "wamp.close.normal"
	}
	return &Message{Kind: KindGoodbye, Details: details, URI: reason}
}

// ErrorReply builds an ERROR message reporting the failure of a request of
// the given kind.
func ErrorReply(requestKind Kind, requestID int64, details map[string]any, errURI string, args []any, kwargs map[string]any) *Message {
	return &Message{
		Kind:        KindError,
		RequestKind: requestKind,
		RequestID:   requestID,
		Details:     details,
		URI:         errURI,
		Args:        args,
		Kwargs:      kwargs,
	}
}

// Publish builds an event publication on a topic.
func Publish(requestID int64, options map[string]any, topic string, args []any, kwargs map[string]any) *Message {
	return &Message{Kind: KindPublish, RequestID: requestID, Details: options, URI: topic, Args: args, Kwargs: kwargs}
}

// Published builds the router's acknowledgement of a publication.
func Published(requestID, publicationID int64) *Message {
	return &Message{Kind: KindPublished, RequestID: requestID, PublicationID: publicationID}
}

// Subscribe builds a topic subscription request.
func Subscribe(requestID int64, options map[string]any, topic string) *Message {
	return &Message{Kind: KindSubscribe, RequestID: requestID, Details: options, URI: topic}
}

// Subscribed builds the router's subscription confirmation.
func Subscribed(requestID, subscriptionID int64) *Message {
	return &Message{Kind: KindSubscribed, RequestID: requestID, SubscriptionID: subscriptionID}
}

// Event builds an event delivery for a subscription.
func Event(subscriptionID, publicationID int64, details map[string]any, args []any, kwargs map[string]any) *Message {
	return &Message{
		Kind:           KindEvent,
		SubscriptionID: subscriptionID,
		PublicationID:  publicationID,
		Details:        details,
		Args:           args,
		Kwargs:         kwargs,
	}
}

// Call builds a remote procedure call.
func Call(requestID int64, options map[string]any, procedure string, args []any, kwargs map[string]any) *Message {
	return &Message{Kind: KindCall, RequestID: requestID, Details: options, URI: procedure, Args: args, Kwargs: kwargs}
}

// Result builds the router's call result.
func Result(requestID int64, details map[string]any, args []any, kwargs map[string]any) *Message {
	return &Message{Kind: KindResult, RequestID: requestID, Details: details, Args: args, Kwargs: kwargs}
}

// Register builds a procedure registration request.
func Register(requestID int64, options map[string]any, procedure string) *Message {
	return &Message{Kind: KindRegister, RequestID: requestID, Details: options, URI: procedure}
}

// Registered builds the router's registration confirmation.
func Registered(requestID, registrationID int64) *Message {
	return &Message{Kind: KindRegistered, RequestID: requestID, RegistrationID: registrationID}
}

// Invocation builds a router request to execute a registered procedure.
func Invocation(requestID, registrationID int64, details map[string]any, args []any, kwargs map[string]any) *Message {
	return &Message{
		Kind:           KindInvocation,
		RequestID:      requestID,
		RegistrationID: registrationID,
		Details:        details,
		Args:           args,
		Kwargs:         kwargs,
	}
}

// Yield builds the callee's reply to an INVOCATION.
func Yield(requestID int64, options map[string]any, args []any) *Message {
	return &Message{Kind: KindYield, RequestID: requestID, Details: options, Args: args}
}
