package peer_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tortoisedoc/wampy"
	"github.com/tortoisedoc/wampy/internal/message"
	"github.com/tortoisedoc/wampy/internal/transport"
	"github.com/tortoisedoc/wampy/peer"
)

var upgrader = websocket.Upgrader{
	Subprotocols: []string{transport.Subprotocol},
	CheckOrigin:  func(*http.Request) bool { return true },
}

// startRouter runs a scripted in-process router that speaks just enough of
// the protocol for a single client: it welcomes every HELLO, grants every
// registration and subscription, answers calls (routing them back through the
// client's own registration when it owns the procedure), acknowledges
// publishes when asked, delivers one event per subscription, and honors
// GOODBYE.
func startRouter(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		send := func(msg *message.Message) {
			frame, err := message.Encode(msg)
			if err != nil {
				return
			}
			ws.WriteMessage(websocket.TextMessage, frame)
		}
		read := func() *message.Message {
			for {
				kind, data, err := ws.ReadMessage()
				if err != nil {
					return nil
				}
				if kind != websocket.TextMessage {
					continue
				}
				msg, err := message.Decode(data)
				if err != nil {
					return nil
				}
				return msg
			}
		}

		registrations := make(map[string]int64)
		var nextID int64 = 9000

		for {
			msg := read()
			if msg == nil {
				return
			}

			switch msg.Kind {
			case message.KindHello:
				send(message.Welcome(31337, map[string]any{"roles": map[string]any{"broker": map[string]any{}, "dealer": map[string]any{}}}))

			case message.KindRegister:
				nextID++
				registrations[msg.URI] = nextID
				send(message.Registered(msg.RequestID, nextID))

			case message.KindSubscribe:
				nextID++
				send(message.Subscribed(msg.RequestID, nextID))
				send(message.Event(nextID, 1, nil, []any{msg.URI}, nil))

			case message.KindCall:
				regID, local := registrations[msg.URI]
				if !local {
					send(message.Result(msg.RequestID, nil, []any{"remote:" + msg.URI}, nil))
					continue
				}
				// Dealer loop-back: invoke the caller's own registration
				// and relay the yield.
				nextID++
				send(message.Invocation(nextID, regID, nil, msg.Args, msg.Kwargs))
				yield := read()
				if yield == nil || yield.Kind != message.KindYield {
					return
				}
				send(message.Result(msg.RequestID, nil, yield.Args, yield.Kwargs))

			case message.KindPublish:
				if ack, _ := msg.Details["acknowledge"].(bool); ack {
					send(message.Published(msg.RequestID, 777))
				}

			case message.KindGoodbye:
				send(message.Goodbye(nil, "wamp.close.goodbye_and_out"))
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func routerConfig(srv *httptest.Server) *wampy.Config {
	cfg := wampy.DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Timeout = 2 * time.Second
	cfg.Logger = zerolog.Nop()
	return cfg
}

func TestStartCallStop(t *testing.T) {
	t.Parallel()

	srv := startRouter(t)
	client := peer.New(routerConfig(srv))

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer client.Stop(ctx)

	if got := client.SessionID(); got != 31337 {
		t.Errorf("SessionID() = %d, want 31337", got)
	}

	result, err := client.Call(ctx, "com.example.upstream", []any{float64(7)}, nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result != "remote:com.example.upstream" {
		t.Errorf("Call() = %v", result)
	}

	if err := client.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestDeclaredRolesRegisteredOnStart(t *testing.T) {
	t.Parallel()

	srv := startRouter(t)

	var calls atomic.Int64
	events := make(chan []any, 1)

	client := peer.New(routerConfig(srv),
		peer.WithProcedure("com.example.double", func(args []any, kwargs map[string]any) (any, error) {
			calls.Add(1)
			n, _ := args[0].(float64)
			return n * 2, nil
		}, wampy.PolicySingle),
		peer.WithSubscription("topic.greeting", func(args []any, kwargs map[string]any) {
			events <- args
		}),
	)

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer client.Stop(ctx)

	// The router delivers one event right after SUBSCRIBED.
	select {
	case args := <-events:
		if len(args) != 1 || args[0] != "topic.greeting" {
			t.Errorf("event args = %v", args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("declared subscription never received its event")
	}

	// Calling our own procedure goes out to the router and loops back in as
	// an INVOCATION.
	result, err := client.Call(ctx, "com.example.double", []any{float64(21)}, nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result != float64(42) {
		t.Errorf("Call() = %v, want 42", result)
	}
	if calls.Load() != 1 {
		t.Errorf("procedure invoked %d times, want 1", calls.Load())
	}
}

func TestRegisterAndSubscribeAfterStart(t *testing.T) {
	t.Parallel()

	srv := startRouter(t)
	client := peer.New(routerConfig(srv))

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer client.Stop(ctx)

	fn := func(args []any, kwargs map[string]any) (any, error) { return "ok", nil }
	if err := client.RegisterProcedure(ctx, "com.example.late", fn, wampy.PolicyRoundRobin); err != nil {
		t.Fatalf("RegisterProcedure() error = %v", err)
	}

	got := make(chan struct{}, 1)
	if err := client.Subscribe(ctx, "topic.late", func([]any, map[string]any) { got <- struct{}{} }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("late subscription never received its event")
	}
}

func TestPublishAcknowledged(t *testing.T) {
	t.Parallel()

	srv := startRouter(t)
	cfg := routerConfig(srv)
	cfg.AcknowledgePublish = true
	client := peer.New(cfg)

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer client.Stop(ctx)

	if err := client.Publish(ctx, "topic.news", []any{"hello"}, nil); err != nil {
		t.Errorf("acknowledged Publish() error = %v", err)
	}
}

// A router that upgrades but never answers HELLO must not leak the
// connection: Start fails with a timeout and the socket is torn down, which
// the server side observes as a read error.
func TestStartTimeoutReleasesConnection(t *testing.T) {
	t.Parallel()

	serverDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer close(serverDone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	cfg := routerConfig(srv)
	cfg.Timeout = 200 * time.Millisecond
	client := peer.New(cfg)

	err := client.Start(context.Background())
	var timeoutErr *wampy.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Start() against a mute router error = %v, want *wampy.TimeoutError", err)
	}

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("server still holds the connection after Start timed out")
	}

	if err := client.Stop(context.Background()); err != nil {
		t.Errorf("Stop() after failed Start() error = %v", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	t.Parallel()

	client := peer.New(nil)
	if err := client.Stop(context.Background()); err != nil {
		t.Errorf("Stop() on never-started client error = %v", err)
	}
}

func TestOperationsBeforeStart(t *testing.T) {
	t.Parallel()

	client := peer.New(nil)
	if _, err := client.Call(context.Background(), "com.example.ping", nil, nil); err == nil {
		t.Error("Call() before Start() succeeded")
	}
	if err := client.Publish(context.Background(), "topic.x", nil, nil); err == nil {
		t.Error("Publish() before Start() succeeded")
	}
}

func TestStartTwiceFails(t *testing.T) {
	t.Parallel()

	srv := startRouter(t)
	client := peer.New(routerConfig(srv))

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer client.Stop(ctx)

	if err := client.Start(ctx); err == nil {
		t.Error("second Start() on a live client succeeded")
	}
}

func TestDefaultNameIsUnique(t *testing.T) {
	t.Parallel()

	a := peer.New(nil)
	b := peer.New(nil)

	if !strings.HasPrefix(a.Name(), "wampy-") {
		t.Errorf("Name() = %q, want a wampy- prefix", a.Name())
	}
	if a.Name() == b.Name() {
		t.Errorf("two unnamed clients share the name %q", a.Name())
	}
}

func TestSharedRegistryRecordsClients(t *testing.T) {
	t.Parallel()

	srv := startRouter(t)
	registry := wampy.NewRegistry()

	cfgA := routerConfig(srv)
	cfgA.Name = "alpha"
	cfgB := routerConfig(srv)
	cfgB.Name = "beta"

	a := peer.New(cfgA, peer.WithRegistry(registry))
	b := peer.New(cfgB, peer.WithRegistry(registry))

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start(alpha) error = %v", err)
	}
	defer a.Stop(ctx)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start(beta) error = %v", err)
	}
	defer b.Stop(ctx)

	for _, name := range []string{"alpha", "beta"} {
		got, ok := registry.LookupClient(name)
		if !ok {
			t.Errorf("LookupClient(%s) found nothing", name)
			continue
		}
		if got.Name() != name {
			t.Errorf("LookupClient(%s).Name() = %q", name, got.Name())
		}
	}
	if names := registry.ClientNames(); len(names) != 2 {
		t.Errorf("ClientNames() = %v, want 2 entries", names)
	}
}
