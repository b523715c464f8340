// Package server implements tavrida's Server: declares the process's AMQP
// topology (exchange, queue, bindings) for a set of already-constructed
// services and drives their message consumption loop. Grounded on
// tavrida/server.py's Server.
package server

import (
	"context"
	"log"

	"github.com/miladsoleymani/tavrida/apperror"
	"github.com/miladsoleymani/tavrida/broker"
	"github.com/miladsoleymani/tavrida/discovery"
	"github.com/miladsoleymani/tavrida/entrypoint"
	"github.com/miladsoleymani/tavrida/envelope"
	"github.com/miladsoleymani/tavrida/preprocessor"
)

// Dispatchable is the full surface server.Server needs from a registered
// service, on top of what preprocessor.Dispatchable requires: its bound
// name (for the RPC binding) and its subscriptions/discovery (for
// notification bindings and exchange declaration), all promoted by
// embedding *service.Base.
type Dispatchable interface {
	preprocessor.Dispatchable
	ServiceName() string
	SubscribedEntries() []entrypoint.EntryPoint
	Discovery() discovery.Discovery
}

// Topology names the process's inbound exchange/queue, per spec.md §4.9.
type Topology struct {
	ExchangeName string
	QueueName    string
}

// Server owns one broker.Adapter, declares the AMQP structures its
// registered services need, and drives their consumption loop.
type Server struct {
	adapter broker.Adapter
	topo    Topology
	pre     *preprocessor.PreProcessor
	services []Dispatchable
}

// New returns a Server ready to Run. pre must already have been built over
// the same services (via preprocessor.New), and each service must already
// be registered in the shared router.Router (via service.Registrar) before
// Run is called.
func New(adapter broker.Adapter, topo Topology, pre *preprocessor.PreProcessor, services ...Dispatchable) *Server {
	return &Server{adapter: adapter, topo: topo, pre: pre, services: services}
}

// Run connects the adapter, declares AMQP structures (per spec.md §4.9),
// and consumes until ctx is cancelled or the adapter's delivery channel
// closes.
func (s *Server) Run(ctx context.Context) error {
	if err := s.adapter.Connect(ctx); err != nil {
		return err
	}
	if err := s.declareStructures(ctx); err != nil {
		return err
	}

	deliveries, err := s.adapter.Consume(ctx, s.topo.QueueName)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			s.handleDelivery(ctx, d)
		}
	}
}

func (s *Server) handleDelivery(ctx context.Context, d broker.Delivery) {
	wm := envelope.WireMessage{Headers: d.Frame.Headers, Body: d.Frame.Body}
	err := s.pre.Process(ctx, wm)
	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			log.Printf("[tavrida] ack failed: %v", ackErr)
		}
		return
	}

	log.Printf("[tavrida] dispatch error: %v", err)
	if apperror.IsNackable(err) {
		if rejectErr := d.Reject(true); rejectErr != nil {
			log.Printf("[tavrida] reject failed: %v", rejectErr)
		}
		return
	}
	// Ackable and fatal-programmer errors both ack-and-drop: redelivery
	// would just repeat the same failure, per spec.md §7's propagation
	// policy.
	if ackErr := d.Ack(); ackErr != nil {
		log.Printf("[tavrida] ack failed: %v", ackErr)
	}
}

// declareStructures implements spec.md §4.9 step 2-3: declare the server's
// exchange/queue, bind the queue to it for every registered service's RPC
// traffic (pattern "service.#"), bind to each remote publisher exchange a
// subscribed service depends on (exact "service.method"), and declare
// every exchange named by each service's discovery table.
func (s *Server) declareStructures(ctx context.Context) error {
	if err := s.adapter.DeclareExchange(ctx, s.topo.ExchangeName); err != nil {
		return err
	}
	if err := s.adapter.DeclareQueue(ctx, s.topo.QueueName); err != nil {
		return err
	}

	for _, svc := range s.services {
		if err := s.bindService(ctx, svc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) bindService(ctx context.Context, svc Dispatchable) error {
	if name := svc.ServiceName(); name != "" {
		if err := s.adapter.BindQueue(ctx, s.topo.QueueName, s.topo.ExchangeName, name+".#"); err != nil {
			return err
		}
	}

	for _, remote := range svc.SubscribedEntries() {
		exchange, err := svc.Discovery().RemotePublisher(remote.Service())
		if err != nil {
			return err
		}
		routingKey, err := remote.RoutingKey()
		if err != nil {
			return err
		}
		if err := s.adapter.BindQueue(ctx, s.topo.QueueName, exchange, routingKey); err != nil {
			return err
		}
	}

	for _, exchanges := range svc.Discovery().AllExchanges() {
		for _, exchange := range exchanges {
			if err := s.adapter.DeclareExchange(ctx, exchange); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close releases the server's broker connection.
func (s *Server) Close() error {
	return s.adapter.Close()
}
