// Package postprocessor implements tavrida's outgoing message pipeline:
// BuildFrame -> ValidateFrame -> Log -> Publish, grounded on
// tavrida/postprocessor.py's PostProcessor and tavrida/steps.py's
// CreateAMQPMiddleware/ValidateMessageMiddleware.
package postprocessor

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/miladsoleymani/tavrida/apperror"
	"github.com/miladsoleymani/tavrida/broker"
	"github.com/miladsoleymani/tavrida/discovery"
	"github.com/miladsoleymani/tavrida/entrypoint"
	"github.com/miladsoleymani/tavrida/envelope"
)

// RetryPolicy bounds how fast PostProcessor re-attempts a failed publish,
// grounded on config.ConnectionConfig's RetryDelay/ReconnectAttempts and
// on the rate-limiting shape of BX-D-mini-RPC's RetryMiddleware.
type RetryPolicy struct {
	MaxAttempts int           // 0 means "retry forever" (mirrors ReconnectAttempts < 0)
	Delay       time.Duration // minimum spacing between attempts
}

// PostProcessor is process-wide: one instance backs every
// service.Controller instance's outgoing traffic, matching
// tavrida/postprocessor.py's PostProcessor Singleton.
type PostProcessor struct {
	writer    broker.Writer
	discovery discovery.Discovery
	retry     RetryPolicy
	limiter   *rate.Limiter

	middlewares []func(*envelope.Envelope) (*envelope.Envelope, error)
}

// New returns a PostProcessor publishing through writer, resolving
// exchanges via disc, and retrying failed publishes per retry.
func New(writer broker.Writer, disc discovery.Discovery, retry RetryPolicy) *PostProcessor {
	limit := rate.Inf
	if retry.Delay > 0 {
		limit = rate.Every(retry.Delay)
	}
	return &PostProcessor{
		writer:    writer,
		discovery: disc,
		retry:     retry,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// AddMiddleware prepends a message-transform step run before BuildFrame,
// matching tavrida/postprocessor.py's add_middleware (which inserts at
// index 0, so the most recently added middleware runs first).
func (p *PostProcessor) AddMiddleware(mw func(*envelope.Envelope) (*envelope.Envelope, error)) {
	p.middlewares = append([]func(*envelope.Envelope) (*envelope.Envelope, error){mw}, p.middlewares...)
}

// Discovery exposes the Discovery instance backing exchange resolution,
// mirroring PostProcessor.discovery_service (used by proxy.Proxy to
// fail fast on an unknown remote service before building a request).
func (p *PostProcessor) Discovery() discovery.Discovery { return p.discovery }

// Process runs msg through the full outgoing pipeline: middlewares ->
// BuildFrame -> ValidateFrame -> Log -> Publish (with retry).
func (p *PostProcessor) Process(ctx context.Context, msg *envelope.Envelope) error {
	for _, mw := range p.middlewares {
		transformed, err := mw(msg)
		if err != nil {
			return err
		}
		msg = transformed
	}

	wm, err := envelope.Encode(msg)
	if err != nil {
		return err
	}
	if err := envelope.ValidateHeaders(wm.Headers); err != nil {
		return err
	}

	exchange, routingKey, err := p.resolveDestination(msg)
	if err != nil {
		return err
	}

	log.Printf("[tavrida] publish exchange=%s routing_key=%s message_id=%s kind=%s",
		exchange, routingKey, msg.MessageID, msg.Kind)

	return p.publishWithRetry(ctx, exchange, routingKey, broker.Frame{Headers: wm.Headers, Body: wm.Body})
}

// resolveDestination picks the exchange and routing key a message should
// be published under, per tavrida/postprocessor.py's _send: notifications
// resolve through the local-publisher registry keyed by Source, every
// other kind resolves through the remote registry keyed by Destination.
func (p *PostProcessor) resolveDestination(msg *envelope.Envelope) (exchange, routingKey string, err error) {
	var ep entrypoint.EntryPoint
	if msg.Kind == envelope.KindNotification {
		ep = msg.Source
		exchange, err = p.discovery.LocalPublisher(ep.Service())
	} else {
		ep = msg.Destination
		exchange, err = p.discovery.Remote(ep.Service())
	}
	if err != nil {
		return "", "", err
	}
	routingKey, err = ep.RoutingKey()
	if err != nil {
		return "", "", err
	}
	return exchange, routingKey, nil
}

func (p *PostProcessor) publishWithRetry(ctx context.Context, exchange, routingKey string, frame broker.Frame) error {
	var lastErr error
	attempts := 0
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		lastErr = p.writer.Publish(ctx, exchange, routingKey, frame)
		if lastErr == nil {
			return nil
		}
		attempts++
		if p.retry.MaxAttempts > 0 && attempts >= p.retry.MaxAttempts {
			break
		}
	}
	return apperror.NewIncorrectOutgoingMessage(lastErr.Error())
}
