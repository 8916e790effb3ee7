package message

import (
	"encoding/json"
	"fmt"

	"github.com/tortoisedoc/wampy"
)

const maxFrameSize = 10 * 1024 * 1024

// Encode serializes a message into its JSON array wire form.
func Encode(m *Message) ([]byte, error) {
	var elems []any

	switch m.Kind {
	case KindHello:
		elems = []any{int(m.Kind), m.URI, dict(m.Details)}
	case KindWelcome:
		elems = []any{int(m.Kind), m.SessionID, dict(m.Details)}
	case KindAbort:
		elems = []any{int(m.Kind), dict(m.Details), m.URI}
	case KindChallenge:
		elems = []any{int(m.Kind), m.URI, dict(m.Details)}
	case KindAuthenticate:
		elems = []any{int(m.Kind), m.Signature, dict(m.Details)}
	case KindGoodbye:
		elems = []any{int(m.Kind), dict(m.Details), m.URI}
	case KindError:
		elems = []any{int(m.Kind), int(m.RequestKind), m.RequestID, dict(m.Details), m.URI}
		elems = appendPayload(elems, m.Args, m.Kwargs)
	case KindPublish:
		elems = []any{int(m.Kind), m.RequestID, dict(m.Details), m.URI}
		elems = appendPayload(elems, m.Args, m.Kwargs)
	case KindPublished:
		elems = []any{int(m.Kind), m.RequestID, m.PublicationID}
	case KindSubscribe:
		elems = []any{int(m.Kind), m.RequestID, dict(m.Details), m.URI}
	case KindSubscribed:
		elems = []any{int(m.Kind), m.RequestID, m.SubscriptionID}
	case KindEvent:
		elems = []any{int(m.Kind), m.SubscriptionID, m.PublicationID, dict(m.Details)}
		elems = appendPayload(elems, m.Args, m.Kwargs)
	case KindCall:
		elems = []any{int(m.Kind), m.RequestID, dict(m.Details), m.URI}
		elems = appendPayload(elems, m.Args, m.Kwargs)
	case KindResult:
		elems = []any{int(m.Kind), m.RequestID, dict(m.Details)}
		elems = appendPayload(elems, m.Args, m.Kwargs)
	case KindRegister:
		elems = []any{int(m.Kind), m.RequestID, dict(m.Details), m.URI}
	case KindRegistered:
		elems = []any{int(m.Kind), m.RequestID, m.RegistrationID}
	case KindInvocation:
		elems = []any{int(m.Kind), m.RequestID, m.RegistrationID, dict(m.Details)}
		elems = appendPayload(elems, m.Args, m.Kwargs)
	case KindYield:
		elems = []any{int(m.Kind), m.RequestID, dict(m.Details)}
		elems = appendPayload(elems, m.Args, m.Kwargs)
	default:
		return nil, fmt.Errorf("encode: unknown message kind %d", int(m.Kind))
	}

	return json.Marshal(elems)
}

// Decode parses a JSON array frame into a message. Malformed frames and
// unknown discriminants fail with a *wampy.DecodeError.
func Decode(frame []byte) (*Message, error) {
	if len(frame) > maxFrameSize {
		return nil, &wampy.DecodeError{Err: fmt.Errorf("frame size %d exceeds maximum %d bytes", len(frame), maxFrameSize)}
	}

	var elems []any
	if err := json.Unmarshal(frame, &elems); err != nil {
		return nil, &wampy.DecodeError{Err: err}
	}
	if len(elems) == 0 {
		return nil, &wampy.DecodeError{Err: fmt.Errorf("empty message array")}
	}

	code, err := asID(elems[0])
	if err != nil {
		return nil, &wampy.DecodeError{Err: fmt.Errorf("discriminant: %w", err)}
	}

	m, err := decodeKind(Kind(code), elems)
	if err != nil {
		return nil, &wampy.DecodeError{Err: err}
	}
	return m, nil
}

func decodeKind(kind Kind, elems []any) (*Message, error) {
	m := &Message{Kind: kind}
	var err error

	switch kind {
	case KindHello:
		if err = need(kind, elems, 3); err != nil {
			return nil, err
		}
		if m.URI, err = asString(kind, elems, 1); err != nil {
			return nil, err
		}
		if m.Details, err = asDict(kind, elems, 2); err != nil {
			return nil, err
		}

	case KindWelcome:
		if err = need(kind, elems, 3); err != nil {
			return nil, err
		}
		if m.SessionID, err = asIDAt(kind, elems, 1); err != nil {
			return nil, err
		}
		if m.Details, err = asDict(kind, elems, 2); err != nil {
			return nil, err
		}

	case KindAbort, KindGoodbye:
		if err = need(kind, elems, 3); err != nil {
			return nil, err
		}
		if m.Details, err = asDict(kind, elems, 1); err != nil {
			return nil, err
		}
		if m.URI, err = asString(kind, elems, 2); err != nil {
			return nil, err
		}

	case KindChallenge:
		if err = need(kind, elems, 3); err != nil {
			return nil, err
		}
		if m.URI, err = asString(kind, elems, 1); err != nil {
			return nil, err
		}
		if m.Details, err = asDict(kind, elems, 2); err != nil {
			return nil, err
		}

	case KindAuthenticate:
		if err = need(kind, elems, 3); err != nil {
			return nil, err
		}
		if m.Signature, err = asString(kind, elems, 1); err != nil {
			return nil, err
		}
		if m.Details, err = asDict(kind, elems, 2); err != nil {
			return nil, err
		}

	case KindError:
		if err = need(kind, elems, 5); err != nil {
			return nil, err
		}
		reqKind, err := asIDAt(kind, elems, 1)
		if err != nil {
			return nil, err
		}
		m.RequestKind = Kind(reqKind)
		if m.RequestID, err = asIDAt(kind, elems, 2); err != nil {
			return nil, err
		}
		if m.Details, err = asDict(kind, elems, 3); err != nil {
			return nil, err
		}
		if m.URI, err = asString(kind, elems, 4); err != nil {
			return nil, err
		}
		if m.Args, m.Kwargs, err = payload(kind, elems, 5); err != nil {
			return nil, err
		}

	case KindPublish, KindCall:
		if err = need(kind, elems, 4); err != nil {
			return nil, err
		}
		if m.RequestID, err = asIDAt(kind, elems, 1); err != nil {
			return nil, err
		}
		if m.Details, err = asDict(kind, elems, 2); err != nil {
			return nil, err
		}
		if m.URI, err = asString(kind, elems, 3); err != nil {
			return nil, err
		}
		if m.Args, m.Kwargs, err = payload(kind, elems, 4); err != nil {
			return nil, err
		}

	case KindPublished:
		if err = need(kind, elems, 3); err != nil {
			return nil, err
		}
		if m.RequestID, err = asIDAt(kind, elems, 1); err != nil {
			return nil, err
		}
		if m.PublicationID, err = asIDAt(kind, elems, 2); err != nil {
			return nil, err
		}

	case KindSubscribe, KindRegister:
		if err = need(kind, elems, 4); err != nil {
			return nil, err
		}
		if m.RequestID, err = asIDAt(kind, elems, 1); err != nil {
			return nil, err
		}
		if m.Details, err = asDict(kind, elems, 2); err != nil {
			return nil, err
		}
		if m.URI, err = asString(kind, elems, 3); err != nil {
			return nil, err
		}

	case KindSubscribed:
		if err = need(kind, elems, 3); err != nil {
			return nil, err
		}
		if m.RequestID, err = asIDAt(kind, elems, 1); err != nil {
			return nil, err
		}
		if m.SubscriptionID, err = asIDAt(kind, elems, 2); err != nil {
			return nil, err
		}

	case KindEvent:
		if err = need(kind, elems, 4); err != nil {
			return nil, err
		}
		if m.SubscriptionID, err = asIDAt(kind, elems, 1); err != nil {
			return nil, err
		}
		if m.PublicationID, err = asIDAt(kind, elems, 2); err != nil {
			return nil, err
		}
		if m.Details, err = asDict(kind, elems, 3); err != nil {
			return nil, err
		}
		if m.Args, m.Kwargs, err = payload(kind, elems, 4); err != nil {
			return nil, err
		}

	case KindResult, KindYield:
		if err = need(kind, elems, 3); err != nil {
			return nil, err
		}
		if m.RequestID, err = asIDAt(kind, elems, 1); err != nil {
			return nil, err
		}
		if m.Details, err = asDict(kind, elems, 2); err != nil {
			return nil, err
		}
		if m.Args, m.Kwargs, err = payload(kind, elems, 3); err != nil {
			return nil, err
		}

	case KindRegistered:
		if err = need(kind, elems, 3); err != nil {
			return nil, err
		}
		if m.RequestID, err = asIDAt(kind, elems, 1); err != nil {
			return nil, err
		}
		if m.RegistrationID, err = asIDAt(kind, elems, 2); err != nil {
			return nil, err
		}

	case KindInvocation:
		if err = need(kind, elems, 4); err != nil {
			return nil, err
		}
		if m.RequestID, err = asIDAt(kind, elems, 1); err != nil {
			return nil, err
		}
		if m.RegistrationID, err = asIDAt(kind, elems, 2); err != nil {
			return nil, err
		}
		if m.Details, err = asDict(kind, elems, 3); err != nil {
			return nil, err
		}
		if m.Args, m.Kwargs, err = payload(kind, elems, 4); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown message code %d", int(kind))
	}

	return m, nil
}

func dict(d map[string]any) map[string]any {
	if d == nil {
		return map[string]any{}
	}
	return d
}

// appendPayload adds the optional trailing args/kwargs elements. The args
// element must be present whenever kwargs is, even when empty.
func appendPayload(elems []any, args []any, kwargs map[string]any) []any {
	if len(kwargs) > 0 {
		if args == nil {
			args = []any{}
		}
		return append(elems, args, kwargs)
	}
	if len(args) > 0 {
		return append(elems, args)
	}
	return elems
}

// payload extracts the optional args/kwargs starting at index i.
func payload(kind Kind, elems []any, i int) ([]any, map[string]any, error) {
	var args []any
	var kwargs map[string]any

	if len(elems) > i {
		list, ok := elems[i].([]any)
		if !ok {
			return nil, nil, fmt.Errorf("%s: element %d: expected argument list", kind, i)
		}
		args = list
	}
	if len(elems) > i+1 {
		d, ok := elems[i+1].(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("%s: element %d: expected keyword argument dict", kind, i+1)
		}
		kwargs = d
	}
	return args, kwargs, nil
}

func need(kind Kind, elems []any, n int) error {
	if len(elems) < n {
		return fmt.Errorf("%s: expected at least %d elements, got %d", kind, n, len(elems))
	}
	return nil
}

// asID converts a JSON number to a WAMP id. Ids never exceed 2^53 so the
// float64 representation is exact.
func asID(v any) (int64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("expected numeric id, got %T", v)
	}
	return int64(f), nil
}

func asIDAt(kind Kind, elems []any, i int) (int64, error) {
	id, err := asID(elems[i])
	if err != nil {
		return 0, fmt.Errorf("%s: element %d: %w", kind, i, err)
	}
	return id, nil
}

func asString(kind Kind, elems []any, i int) (string, error) {
	s, ok := elems[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: element %d: expected string, got %T", kind, i, elems[i])
	}
	return s, nil
}

func asDict(kind Kind, elems []any, i int) (map[string]any, error) {
	d, ok := elems[i].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: element %d: expected dict, got %T", kind, i, elems[i])
	}
	return d, nil
}
