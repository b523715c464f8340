package service

import (
	"context"
	"errors"
	"testing"

	"github.com/miladsoleymani/tavrida/apperror"
	"github.com/miladsoleymani/tavrida/broker"
	"github.com/miladsoleymani/tavrida/dispatcher"
	"github.com/miladsoleymani/tavrida/discovery"
	"github.com/miladsoleymani/tavrida/entrypoint"
	"github.com/miladsoleymani/tavrida/envelope"
	"github.com/miladsoleymani/tavrida/middleware"
	"github.com/miladsoleymani/tavrida/postprocessor"
	"github.com/miladsoleymani/tavrida/proxy"
	"github.com/miladsoleymani/tavrida/router"
)

type ordersService struct {
	*Base
}

type fakeWriter struct {
	published int
	headers   map[string]string
	body      []byte
}

func (f *fakeWriter) Publish(ctx context.Context, exchange, routingKey string, frame broker.Frame) error {
	f.published++
	f.headers = frame.Headers
	f.body = frame.Body
	return nil
}
func (f *fakeWriter) DeclareExchange(ctx context.Context, exchange string) error { return nil }

func newHarness(t *testing.T) (*ordersService, *fakeWriter, *router.Router) {
	t.Helper()
	disc := discovery.New()
	disc.RegisterRemote("billing", "billing.rpc")
	disc.RegisterLocalPublisher("orders", "orders.events")

	w := &fakeWriter{}
	pp := postprocessor.New(w, disc, postprocessor.RetryPolicy{MaxAttempts: 1})

	r := router.New()
	svc := &ordersService{Base: NewBase(pp)}
	return svc, w, r
}

func TestRequestHandlerProducesResponse(t *testing.T) {
	svc, w, r := newHarness(t)
	reg := NewRegistrar(r, "orders", svc, svc.Base)
	err := reg.Request("create", dispatcher.HandlerID("Create"),
		dispatcher.ArgSpec{Required: []string{"id"}},
		func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) (any, error) {
			return map[string]any{"status": "ok"}, nil
		})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	req := envelope.NewRequest(envelope.RequestOptions{
		Source:      entrypoint.New("billing", "charge"),
		Destination: entrypoint.New("orders", "create"),
		Payload:     map[string]any{"id": 7},
	})

	if err := svc.Process(context.Background(), req, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if w.published != 1 {
		t.Fatalf("published = %d, want 1", w.published)
	}
}

func TestRequestHandlerMissingRequiredFieldProducesError(t *testing.T) {
	svc, w, r := newHarness(t)
	reg := NewRegistrar(r, "orders", svc, svc.Base)
	reg.Request("create", dispatcher.HandlerID("Create"),
		dispatcher.ArgSpec{Required: []string{"id"}},
		func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) (any, error) {
			t.Fatal("handler should not run when required field is missing")
			return nil, nil
		})

	req := envelope.NewRequest(envelope.RequestOptions{
		Source:      entrypoint.New("billing", "charge"),
		Destination: entrypoint.New("orders", "create"),
	})
	if err := svc.Process(context.Background(), req, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if w.published != 1 {
		t.Fatalf("expected an error envelope to be published, published = %d", w.published)
	}
}

func TestCastRequestSuppressesReply(t *testing.T) {
	svc, w, r := newHarness(t)
	reg := NewRegistrar(r, "orders", svc, svc.Base)
	reg.Request("create", dispatcher.HandlerID("Create"), dispatcher.ArgSpec{},
		func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) (any, error) {
			return map[string]any{"status": "ok"}, nil
		})

	req := envelope.NewCast(envelope.RequestOptions{
		Source:      entrypoint.New("billing", "charge"),
		Destination: entrypoint.New("orders", "create"),
	})
	if err := svc.Process(context.Background(), req, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if w.published != 0 {
		t.Fatalf("cast should not publish a reply, published = %d", w.published)
	}
}

func TestHandlerErrorBuildsErrorEnvelopeForCall(t *testing.T) {
	svc, w, r := newHarness(t)
	reg := NewRegistrar(r, "orders", svc, svc.Base)
	reg.Request("create", dispatcher.HandlerID("Create"), dispatcher.ArgSpec{},
		func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) (any, error) {
			return nil, errors.New("boom")
		})

	req := envelope.NewRequest(envelope.RequestOptions{
		Source:      entrypoint.New("billing", "charge"),
		Destination: entrypoint.New("orders", "create"),
	})
	if err := svc.Process(context.Background(), req, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if w.published != 1 {
		t.Fatalf("published = %d, want 1", w.published)
	}
}

func TestNoHandlerReturnsHandlerNotFound(t *testing.T) {
	svc, _, _ := newHarness(t)
	req := envelope.NewCast(envelope.RequestOptions{
		Source:      entrypoint.New("billing", "charge"),
		Destination: entrypoint.New("orders", "missing"),
	})
	err := svc.Process(context.Background(), req, nil)
	if _, ok := err.(*apperror.HandlerNotFound); !ok {
		t.Fatalf("got %T, want HandlerNotFound", err)
	}
}

func TestNotificationDispatchesBySourceMethod(t *testing.T) {
	svc, _, r := newHarness(t)
	reg := NewRegistrar(r, "orders", svc, svc.Base)
	called := false
	if err := reg.Notification("billing", "invoiced", dispatcher.HandlerID("OnInvoiced"),
		func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) error {
			called = true
			return nil
		}); err != nil {
		t.Fatalf("Notification: %v", err)
	}

	n := envelope.NewNotification(envelope.NotificationOptions{
		Source: entrypoint.New("billing", "invoiced"),
	})
	if err := svc.Process(context.Background(), n, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !called {
		t.Fatal("notification handler was not invoked")
	}
	if got, _ := svc.GetPublisher(dispatcher.HandlerID("OnInvoiced")); got != "invoiced" {
		t.Errorf("GetPublisher = %q, want invoiced", got)
	}
	entries := svc.SubscribedEntries()
	if len(entries) != 1 || !entries[0].Equal(entrypoint.New("billing", "invoiced")) {
		t.Errorf("SubscribedEntries = %v", entries)
	}
}

func TestResponseHandlerDispatchesBySourceMethod(t *testing.T) {
	svc, _, r := newHarness(t)
	reg := NewRegistrar(r, "orders", svc, svc.Base)
	called := false
	if err := reg.Response("charge", dispatcher.HandlerID("OnCharged"), dispatcher.ArgSpec{},
		func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) error {
			called = true
			return nil
		}); err != nil {
		t.Fatalf("Response: %v", err)
	}

	// A response's Destination is always service-only (req.ReplyTo), so
	// dispatch must key off Source.Method(), not Destination.Method().
	req := envelope.NewRequest(envelope.RequestOptions{
		Source:      entrypoint.New("orders", "create"),
		Destination: entrypoint.New("billing", "charge"),
	})
	resp := envelope.ResponseFromRequest(req, map[string]any{"ok": true})
	if resp.Destination.Method() != "" {
		t.Fatalf("precondition: response destination should be service-only, got %v", resp.Destination)
	}

	if err := svc.Process(context.Background(), resp, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !called {
		t.Fatal("response handler was not invoked")
	}
}

func TestErrorHandlerDispatchesBySourceMethod(t *testing.T) {
	svc, _, r := newHarness(t)
	reg := NewRegistrar(r, "orders", svc, svc.Base)
	called := false
	if err := reg.Error("charge", dispatcher.HandlerID("OnChargeFailed"),
		func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy) error {
			called = true
			return nil
		}); err != nil {
		t.Fatalf("Error: %v", err)
	}

	req := envelope.NewRequest(envelope.RequestOptions{
		Source:      entrypoint.New("orders", "create"),
		Destination: entrypoint.New("billing", "charge"),
	})
	errEnv := envelope.ErrorFromRequest(req, errors.New("boom"), "Boom", 1000)
	if errEnv.Destination.Method() != "" {
		t.Fatalf("precondition: error destination should be service-only, got %v", errEnv.Destination)
	}

	if err := svc.Process(context.Background(), errEnv, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !called {
		t.Fatal("error handler was not invoked")
	}
}

func TestIncomingMiddlewareShortCircuits(t *testing.T) {
	svc, w, r := newHarness(t)
	reg := NewRegistrar(r, "orders", svc, svc.Base)
	reg.Request("create", dispatcher.HandlerID("Create"), dispatcher.ArgSpec{},
		func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) (any, error) {
			t.Fatal("handler should not run: middleware short-circuits")
			return nil, nil
		})

	req := envelope.NewRequest(envelope.RequestOptions{
		Source:      entrypoint.New("billing", "charge"),
		Destination: entrypoint.New("orders", "create"),
	})

	svc.AddIncomingMiddleware(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, msg *envelope.Envelope) (*envelope.Envelope, error) {
			return envelope.ErrorFromRequest(msg, errors.New("rejected"), "Rejected", 1099), nil
		}
	})

	if err := svc.Process(context.Background(), req, nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if w.published != 1 {
		t.Fatalf("published = %d, want 1", w.published)
	}
}
