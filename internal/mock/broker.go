// Package mock provides in-memory test doubles for broker.Adapter, for
// tests that need one in place of a real RabbitMQ connection. The package
// tests in this module currently define their own local fakes and do not
// import it. Adapted from the teacher's internal/mock/{broker,message}.go.
package mock

import (
	"context"
	"sync"

	"github.com/miladsoleymani/tavrida/broker"
)

// PublishedFrame records one call to Adapter.Publish.
type PublishedFrame struct {
	Exchange   string
	RoutingKey string
	Frame      broker.Frame
}

// Binding records one call to Adapter.BindQueue.
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// Adapter is a test double for broker.Adapter: every declare/bind/publish
// call is recorded instead of reaching a real broker, and Deliver injects a
// Frame into the Consume channel as though it had arrived from one.
type Adapter struct {
	mu         sync.Mutex
	published  []PublishedFrame
	exchanges  []string
	queues     []string
	bindings   []Binding
	deliveries chan broker.Delivery
	state      broker.State
	closed     bool

	// ConnectErr/PublishErr, when set, are returned by the matching method
	// instead of succeeding, for exercising a caller's error paths.
	ConnectErr error
	PublishErr error
}

// NewAdapter returns a disconnected Adapter ready for Connect.
func NewAdapter() *Adapter {
	return &Adapter{
		deliveries: make(chan broker.Delivery, 16),
		state:      broker.StateDisconnected,
	}
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ConnectErr != nil {
		return a.ConnectErr
	}
	a.state = broker.StateOpen
	return nil
}

func (a *Adapter) State() broker.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.state = broker.StateClosed
	close(a.deliveries)
	return nil
}

func (a *Adapter) Publish(ctx context.Context, exchange, routingKey string, frame broker.Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.PublishErr != nil {
		return a.PublishErr
	}
	a.published = append(a.published, PublishedFrame{Exchange: exchange, RoutingKey: routingKey, Frame: frame})
	return nil
}

func (a *Adapter) DeclareExchange(ctx context.Context, exchange string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exchanges = append(a.exchanges, exchange)
	return nil
}

func (a *Adapter) DeclareQueue(ctx context.Context, queue string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queues = append(a.queues, queue)
	return nil
}

func (a *Adapter) BindQueue(ctx context.Context, queue, exchange, routingKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bindings = append(a.bindings, Binding{Queue: queue, Exchange: exchange, RoutingKey: routingKey})
	return nil
}

func (a *Adapter) Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	return a.deliveries, nil
}

// Deliver injects frame into the Consume channel as an inbound delivery and
// returns a DeliveryResult the caller can inspect once the consumer has
// acked or rejected it.
func (a *Adapter) Deliver(frame broker.Frame) *DeliveryResult {
	result := &DeliveryResult{}
	d := broker.Delivery{
		Frame: frame,
		Ack: func() error {
			result.mu.Lock()
			defer result.mu.Unlock()
			result.acked = true
			return nil
		},
		Reject: func(requeue bool) error {
			result.mu.Lock()
			defer result.mu.Unlock()
			result.rejected = true
			result.requeued = requeue
			return nil
		},
	}
	a.deliveries <- d
	return result
}

// Published returns a snapshot of every frame sent via Publish.
func (a *Adapter) Published() []PublishedFrame {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PublishedFrame, len(a.published))
	copy(out, a.published)
	return out
}

// Bindings returns a snapshot of every queue binding declared so far.
func (a *Adapter) Bindings() []Binding {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Binding, len(a.bindings))
	copy(out, a.bindings)
	return out
}

// Exchanges returns a snapshot of every exchange name declared so far.
func (a *Adapter) Exchanges() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.exchanges))
	copy(out, a.exchanges)
	return out
}

// IsClosed reports whether Close has been called.
func (a *Adapter) IsClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// DeliveryResult tracks how a consumer resolved one Deliver call.
type DeliveryResult struct {
	mu       sync.Mutex
	acked    bool
	rejected bool
	requeued bool
}

// Snapshot returns whether the delivery was acked, rejected, and (if
// rejected) whether requeue was requested.
func (r *DeliveryResult) Snapshot() (acked, rejected, requeued bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acked, r.rejected, r.requeued
}
