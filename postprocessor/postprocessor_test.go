package postprocessor

import (
	"context"
	"errors"
	"testing"

	"github.com/miladsoleymani/tavrida/broker"
	"github.com/miladsoleymani/tavrida/discovery"
	"github.com/miladsoleymani/tavrida/entrypoint"
	"github.com/miladsoleymani/tavrida/envelope"
)

type fakeWriter struct {
	published   int
	failUntil   int
	lastExch    string
	lastRK      string
}

func (f *fakeWriter) Publish(ctx context.Context, exchange, routingKey string, frame broker.Frame) error {
	f.published++
	f.lastExch = exchange
	f.lastRK = routingKey
	if f.published <= f.failUntil {
		return errors.New("transient failure")
	}
	return nil
}

func (f *fakeWriter) DeclareExchange(ctx context.Context, exchange string) error { return nil }

func newDisc() *discovery.Table {
	tb := discovery.New()
	tb.RegisterRemote("orders", "orders.rpc")
	tb.RegisterLocalPublisher("billing", "billing.events")
	return tb
}

func TestProcessRequestResolvesRemoteExchange(t *testing.T) {
	w := &fakeWriter{}
	pp := New(w, newDisc(), RetryPolicy{MaxAttempts: 1})

	req := envelope.NewRequest(envelope.RequestOptions{
		Source:      entrypoint.New("billing", "charge"),
		Destination: entrypoint.New("orders", "create"),
	})
	if err := pp.Process(context.Background(), req); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if w.lastExch != "orders.rpc" {
		t.Errorf("exchange = %q, want orders.rpc", w.lastExch)
	}
	if w.lastRK != "orders.create" {
		t.Errorf("routing key = %q, want orders.create", w.lastRK)
	}
}

func TestProcessNotificationResolvesLocalPublisherExchange(t *testing.T) {
	w := &fakeWriter{}
	pp := New(w, newDisc(), RetryPolicy{MaxAttempts: 1})

	n := envelope.NewNotification(envelope.NotificationOptions{
		Source: entrypoint.New("billing", "invoiced"),
	})
	if err := pp.Process(context.Background(), n); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if w.lastExch != "billing.events" {
		t.Errorf("exchange = %q, want billing.events", w.lastExch)
	}
}

func TestProcessUnknownServiceFails(t *testing.T) {
	w := &fakeWriter{}
	pp := New(w, newDisc(), RetryPolicy{MaxAttempts: 1})
	req := envelope.NewRequest(envelope.RequestOptions{
		Source:      entrypoint.New("billing", "charge"),
		Destination: entrypoint.New("missing", "create"),
	})
	if err := pp.Process(context.Background(), req); err == nil {
		t.Fatal("expected error for unregistered destination service")
	}
}

func TestProcessRetriesUntilMaxAttempts(t *testing.T) {
	w := &fakeWriter{failUntil: 2}
	pp := New(w, newDisc(), RetryPolicy{MaxAttempts: 5})
	req := envelope.NewRequest(envelope.RequestOptions{
		Source:      entrypoint.New("billing", "charge"),
		Destination: entrypoint.New("orders", "create"),
	})
	if err := pp.Process(context.Background(), req); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if w.published != 3 {
		t.Errorf("published attempts = %d, want 3", w.published)
	}
}

func TestAddMiddlewareRunsMostRecentFirst(t *testing.T) {
	w := &fakeWriter{}
	pp := New(w, newDisc(), RetryPolicy{MaxAttempts: 1})
	var order []string
	pp.AddMiddleware(func(e *envelope.Envelope) (*envelope.Envelope, error) {
		order = append(order, "first-added")
		return e, nil
	})
	pp.AddMiddleware(func(e *envelope.Envelope) (*envelope.Envelope, error) {
		order = append(order, "second-added")
		return e, nil
	})
	req := envelope.NewRequest(envelope.RequestOptions{
		Source:      entrypoint.New("billing", "charge"),
		Destination: entrypoint.New("orders", "create"),
	})
	if err := pp.Process(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "second-added" || order[1] != "first-added" {
		t.Errorf("order = %v, want [second-added first-added]", order)
	}
}
