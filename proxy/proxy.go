// Package proxy implements tavrida's outbound call-site API: a pure
// builder (no I/O beyond PostProcessor.Process) that constructs
// Request/Notification envelopes, grounded on tavrida/proxies.py's
// RPCProxy/RPCServiceProxy/RPCMethodProxy/RCPCallProxy.
//
// The original exposes a dynamic-attribute chained form
// (proxy.<service>.<method>(**kwargs).call()); Go has no such feature, so
// per spec.md §9 Design Notes this is re-architected as the explicit call
// form proxy.Call(service, method, payload, opts).
package proxy

import (
	"context"

	"github.com/miladsoleymani/tavrida/apperror"
	"github.com/miladsoleymani/tavrida/discovery"
	"github.com/miladsoleymani/tavrida/entrypoint"
	"github.com/miladsoleymani/tavrida/envelope"
)

// processor is the subset of postprocessor.PostProcessor the Proxy needs;
// kept as an interface here so proxy does not import postprocessor
// directly (postprocessor imports discovery, not proxy — no cycle either
// way, but this keeps the dependency explicit and the package testable
// against a fake).
type processor interface {
	Process(ctx context.Context, msg *envelope.Envelope) error
	Discovery() discovery.Discovery
}

// Options carries the per-call overrides spec.md §4.6 allows: extra
// headers (merged over the proxy's bound headers, which are merged over
// the inbound envelope's headers) and extra context fields.
type Options struct {
	Headers map[string]string
	Context map[string]any
}

// reserved headers a caller may never redefine per-call.
var reservedHeaders = []string{
	envelope.HeaderCorrelationID,
	envelope.HeaderSource,
	envelope.HeaderDestination,
	envelope.HeaderReplyTo,
}

func validateHeaders(headers map[string]string) error {
	for _, reserved := range reservedHeaders {
		if _, ok := headers[reserved]; ok {
			return apperror.NewForbiddenHeaders([]string{reserved})
		}
	}
	return nil
}

func mergeHeaders(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

func mergeContext(layers ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// Proxy is built fresh for each dispatched message by
// preprocessor.PreProcessor (matching tavrida/dispatcher.py's
// _create_rpc_proxy): source is service.Base.DispatchSource's result — the
// entry point the message was addressed to for RPC kinds, the subscribing
// handler's own entry point for notifications — and context/correlationID/
// headers are inherited from that message.
type Proxy struct {
	pp            processor
	source        entrypoint.EntryPoint
	context       map[string]any
	correlationID string
	headers       map[string]string
}

// New builds a Proxy bound to source, propagating context/correlationID/
// headers from the message being handled.
func New(pp processor, source entrypoint.EntryPoint, context map[string]any, correlationID string, headers map[string]string) *Proxy {
	return &Proxy{pp: pp, source: source, context: context, correlationID: correlationID, headers: headers}
}

// Call constructs a call-request (reply_to = source's service) to
// service.method and publishes it via PostProcessor. Fails fast with
// UnableToDiscover if service is not registered.
func (p *Proxy) Call(ctx context.Context, service, method string, payload map[string]any, opts Options) error {
	if _, err := p.pp.Discovery().Remote(service); err != nil {
		return err
	}
	if err := validateHeaders(opts.Headers); err != nil {
		return err
	}
	req := envelope.NewRequest(envelope.RequestOptions{
		Source:        p.source,
		Destination:   entrypoint.New(service, method),
		CorrelationID: p.correlationID,
		Context:       mergeContext(p.context, opts.Context),
		Payload:       payload,
		Extra:         mergeHeaders(p.headers, opts.Headers),
	})
	return p.pp.Process(ctx, req)
}

// Cast constructs a cast-request (reply_to empty, no reply expected) to
// service.method and publishes it.
func (p *Proxy) Cast(ctx context.Context, service, method string, payload map[string]any, opts Options) error {
	if _, err := p.pp.Discovery().Remote(service); err != nil {
		return err
	}
	if err := validateHeaders(opts.Headers); err != nil {
		return err
	}
	req := envelope.NewCast(envelope.RequestOptions{
		Source:        p.source,
		Destination:   entrypoint.New(service, method),
		CorrelationID: p.correlationID,
		Context:       mergeContext(p.context, opts.Context),
		Payload:       payload,
		Extra:         mergeHeaders(p.headers, opts.Headers),
	})
	return p.pp.Process(ctx, req)
}

// Transfer forwards original's causal identity (request_id, correlation_id)
// into a new request to service.method, merging original's context into
// the new request's context — used to forward work without losing causal
// context, per spec.md §4.6.
func (p *Proxy) Transfer(ctx context.Context, original *envelope.Envelope, service, method string, payload map[string]any, opts Options) error {
	if _, err := p.pp.Discovery().Remote(service); err != nil {
		return err
	}
	if err := validateHeaders(opts.Headers); err != nil {
		return err
	}
	req := envelope.TransferRequest(original, envelope.RequestOptions{
		Source:      p.source,
		Destination: entrypoint.New(service, method),
		Context:     mergeContext(original.Context, p.context, opts.Context),
		Payload:     payload,
		Extra:       mergeHeaders(p.headers, opts.Headers),
	})
	return p.pp.Process(ctx, req)
}

// Publish constructs a Notification addressed from the proxy's bound
// source and publishes it; correlation_id is taken from the current
// inbound message if available, per spec.md §4.6.
func (p *Proxy) Publish(ctx context.Context, payload map[string]any, opts Options) error {
	if err := validateHeaders(opts.Headers); err != nil {
		return err
	}
	n := envelope.NewNotification(envelope.NotificationOptions{
		Source:        p.source,
		CorrelationID: p.correlationID,
		Context:       mergeContext(p.context, opts.Context),
		Payload:       payload,
		Extra:         mergeHeaders(p.headers, opts.Headers),
	})
	return p.pp.Process(ctx, n)
}
