package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tortoisedoc/wampy"
	"github.com/tortoisedoc/wampy/internal/message"
	"github.com/tortoisedoc/wampy/internal/session"
)

// fakeConn is a channel-backed connection standing in for the router side.
// Frames the session sends come out decoded on sent; frames pushed with push
// are what the session's reader receives.
type fakeConn struct {
	in     chan []byte
	sent   chan *message.Message
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		sent:   make(chan *message.Message, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(ctx context.Context, frame []byte) error {
	msg, err := message.Decode(frame)
	if err != nil {
		return err
	}
	select {
	case c.sent <- msg:
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case frame := <-c.in:
		return frame, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// push queues a router-to-client message for the session's reader.
func (c *fakeConn) push(m *message.Message) {
	frame, err := message.Encode(m)
	if err != nil {
		panic(err)
	}
	c.in <- frame
}

// pushRaw queues a raw frame, for undecodable input.
func (c *fakeConn) pushRaw(frame []byte) {
	c.in <- frame
}

// expectSent asserts the next client-to-router message kind. Main test
// goroutine only.
func expectSent(t *testing.T, conn *fakeConn, kind message.Kind) *message.Message {
	t.Helper()
	select {
	case msg := <-conn.sent:
		if msg.Kind != kind {
			t.Fatalf("client sent %s, want %s", msg.Kind, kind)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the client to send %s", kind)
	}
	return nil
}

type harness struct {
	sess     *session.Session
	conn     *fakeConn
	registry *wampy.Registry
}

func newParams(conn *fakeConn, registry *wampy.Registry, timeout time.Duration) session.Params {
	return session.Params{
		Owner:        "test-client",
		Realm:        "realm1",
		HelloDetails: wampy.DefaultRoles().Map(),
		Registry:     registry,
		Dial: func(ctx context.Context) (session.Conn, error) {
			return conn, nil
		},
		Timeout: timeout,
		Logger:  zerolog.Nop(),
	}
}

// established builds a session and drives it through WELCOME.
func established(t *testing.T, timeout time.Duration) *harness {
	t.Helper()

	conn := newFakeConn()
	conn.push(message.Welcome(7214, nil))

	registry := wampy.NewRegistry()
	sess := session.New(newParams(conn, registry, timeout))
	if err := sess.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	expectSent(t, conn, message.KindHello)

	return &harness{sess: sess, conn: conn, registry: registry}
}

// registered additionally drives one procedure registration and returns the
// router-assigned registration id.
func registered(t *testing.T, h *harness, procedure string, fn wampy.ProcedureFn) int64 {
	t.Helper()

	const registrationID = 424242

	go func() {
		reg := <-h.conn.sent
		h.conn.push(message.Registered(reg.RequestID, registrationID))
	}()

	if err := h.sess.RegisterProcedure(context.Background(), procedure, fn, wampy.PolicySingle); err != nil {
		t.Fatalf("RegisterProcedure(%s) error = %v", procedure, err)
	}
	return registrationID
}
