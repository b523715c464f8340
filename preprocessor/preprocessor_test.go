package preprocessor

import (
	"context"
	"testing"

	"github.com/miladsoleymani/tavrida/apperror"
	"github.com/miladsoleymani/tavrida/broker"
	"github.com/miladsoleymani/tavrida/dispatcher"
	"github.com/miladsoleymani/tavrida/discovery"
	"github.com/miladsoleymani/tavrida/entrypoint"
	"github.com/miladsoleymani/tavrida/envelope"
	"github.com/miladsoleymani/tavrida/postprocessor"
	"github.com/miladsoleymani/tavrida/proxy"
	"github.com/miladsoleymani/tavrida/router"
	"github.com/miladsoleymani/tavrida/service"
)

type ordersService struct {
	*service.Base
}

type reportingService struct {
	*service.Base
}

type fakeWriter struct{ published int }

func (f *fakeWriter) Publish(ctx context.Context, exchange, routingKey string, frame broker.Frame) error {
	f.published++
	return nil
}
func (f *fakeWriter) DeclareExchange(ctx context.Context, exchange string) error { return nil }

func newHarness(t *testing.T) (*ordersService, *router.Router, *postprocessor.PostProcessor, *fakeWriter) {
	t.Helper()
	disc := discovery.New()
	disc.RegisterRemote("billing", "billing.rpc")
	w := &fakeWriter{}
	pp := postprocessor.New(w, disc, postprocessor.RetryPolicy{MaxAttempts: 1})
	r := router.New()
	svc := &ordersService{Base: service.NewBase(pp)}
	return svc, r, pp, w
}

func TestProcessRoutesRequestToRegisteredHandler(t *testing.T) {
	svc, r, pp, w := newHarness(t)
	reg := service.NewRegistrar(r, "orders", svc, svc.Base)
	var gotSource entrypoint.EntryPoint
	reg.Request("create", dispatcher.HandlerID("Create"), dispatcher.ArgSpec{},
		func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) (any, error) {
			gotSource = msg.Destination
			return map[string]any{"ok": true}, nil
		})

	pre := New(r, pp, svc)

	req := envelope.NewRequest(envelope.RequestOptions{
		Source:      entrypoint.New("billing", "charge"),
		Destination: entrypoint.New("orders", "create"),
	})
	wm, err := envelope.Encode(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if err := pre.Process(context.Background(), wm); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !gotSource.Equal(entrypoint.New("orders", "create")) {
		t.Errorf("handler saw destination %v", gotSource)
	}
	if w.published != 1 {
		t.Errorf("published = %d, want 1", w.published)
	}
}

func TestProcessUnknownDestinationServiceErrors(t *testing.T) {
	svc, r, pp, _ := newHarness(t)
	reg := service.NewRegistrar(r, "orders", svc, svc.Base)
	reg.Request("create", dispatcher.HandlerID("Create"), dispatcher.ArgSpec{},
		func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) (any, error) {
			return nil, nil
		})
	pre := New(r, pp, svc)

	req := envelope.NewCast(envelope.RequestOptions{
		Source:      entrypoint.New("billing", "charge"),
		Destination: entrypoint.New("missing", "create"),
	})
	wm, _ := envelope.Encode(req)

	err := pre.Process(context.Background(), wm)
	if _, ok := err.(*apperror.ServiceNotFound); !ok {
		t.Fatalf("got %T, want ServiceNotFound", err)
	}
}

func TestProcessRoutesNotificationBySourceAndBuildsLocalProxySource(t *testing.T) {
	svc, r, pp, _ := newHarness(t)
	reg := service.NewRegistrar(r, "orders", svc, svc.Base)
	reg.Notification("billing", "invoiced", dispatcher.HandlerID("OnInvoiced"),
		func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) error {
			return nil
		})
	pre := New(r, pp, svc)

	n := envelope.NewNotification(envelope.NotificationOptions{
		Source: entrypoint.New("billing", "invoiced"),
	})
	wm, _ := envelope.Encode(n)

	if err := pre.Process(context.Background(), wm); err != nil {
		t.Fatalf("Process: %v", err)
	}

	src, err := svc.DispatchSource(n)
	if err != nil {
		t.Fatalf("DispatchSource: %v", err)
	}
	if src.Service() != "orders" || src.Method() != "OnInvoiced" {
		t.Errorf("DispatchSource = %v, want orders.OnInvoiced", src)
	}
}

// TestProcessFansOutNotificationToEveryRegisteredSubscriber exercises the
// multi-subscriber fan-out requirement: two distinct service instances both
// subscribed to the same publisher must each fire exactly once for a single
// incoming notification.
func TestProcessFansOutNotificationToEveryRegisteredSubscriber(t *testing.T) {
	disc := discovery.New()
	disc.RegisterRemote("billing", "billing.rpc")
	w := &fakeWriter{}
	pp := postprocessor.New(w, disc, postprocessor.RetryPolicy{MaxAttempts: 1})
	r := router.New()

	orders := &ordersService{Base: service.NewBase(pp)}
	reporting := &reportingService{Base: service.NewBase(pp)}

	ordersCalled, reportingCalled := false, false
	ordersReg := service.NewRegistrar(r, "orders", orders, orders.Base)
	if err := ordersReg.Notification("billing", "invoiced", dispatcher.HandlerID("OnInvoiced"),
		func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) error {
			ordersCalled = true
			return nil
		}); err != nil {
		t.Fatalf("Notification: %v", err)
	}
	reportingReg := service.NewRegistrar(r, "reporting", reporting, reporting.Base)
	if err := reportingReg.Notification("billing", "invoiced", dispatcher.HandlerID("OnInvoiced"),
		func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) error {
			reportingCalled = true
			return nil
		}); err != nil {
		t.Fatalf("Notification: %v", err)
	}

	pre := New(r, pp, orders, reporting)

	n := envelope.NewNotification(envelope.NotificationOptions{
		Source: entrypoint.New("billing", "invoiced"),
	})
	wm, _ := envelope.Encode(n)

	if err := pre.Process(context.Background(), wm); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !ordersCalled {
		t.Error("orders subscriber was not invoked")
	}
	if !reportingCalled {
		t.Error("reporting subscriber was not invoked")
	}
}
