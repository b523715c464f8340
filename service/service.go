// Package service implements tavrida's ServiceController: handler hosting,
// incoming/outgoing middleware chains, and per-kind processing (request ->
// reply, notification, response, error), grounded on
// tavrida/service.py's ServiceController, tavrida/controller.py's
// AbstractController, and tavrida/subscription.py's Subscription.
//
// The original associates handlers with a service via class-level
// decorators inspected at import time (rpc_method, rpc_response_method,
// rpc_error_method, subscription_method, rpc_service); per spec.md §9
// Design Notes this becomes an explicit registration phase: a concrete
// service implements Register(r *Registrar) and calls r.Request/
// r.Response/r.Error/r.Notification for each handler it hosts.
package service

import (
	"context"
	"fmt"

	"github.com/miladsoleymani/tavrida/apperror"
	"github.com/miladsoleymani/tavrida/discovery"
	"github.com/miladsoleymani/tavrida/dispatcher"
	"github.com/miladsoleymani/tavrida/entrypoint"
	"github.com/miladsoleymani/tavrida/envelope"
	"github.com/miladsoleymani/tavrida/middleware"
	"github.com/miladsoleymani/tavrida/postprocessor"
	"github.com/miladsoleymani/tavrida/proxy"
	"github.com/miladsoleymani/tavrida/router"
)

// RequestHandler processes an incoming request. It may return:
//   - nil, nil: no reply (accepted for both call- and cast-requests);
//   - a map[string]any, nil: becomes the Response payload via MakeResponse;
//   - an *envelope.Envelope (already a Response or Error), nil: sent as-is;
//   - a non-nil error: converted to an Error for a call-request, or
//     propagated to the caller of Process for a cast-request.
type RequestHandler func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) (any, error)

// ResponseHandler processes an incoming response.
type ResponseHandler func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) error

// ErrorHandler processes an incoming error (no payload unpacking, per
// spec.md §4.7).
type ErrorHandler func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy) error

// NotificationHandler processes an incoming notification.
type NotificationHandler func(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy, payload map[string]any) error

// Controller marks a concrete service as registrable, substituting for
// tavrida/exceptions.py's NeedToBeController check (issubclass(cls,
// service.ServiceController)). Embed Base to satisfy it.
type Controller interface {
	serviceController()
}

// Base is embedded by every concrete service implementation. It owns this
// service's Dispatcher (request/response/error handlers) and Subscription
// table (notification handlers), plus the incoming/outgoing middleware
// chains tavrida/service.py's ServiceController keeps per-instance.
type Base struct {
	Postprocessor *postprocessor.PostProcessor

	serviceName string
	dispatcher  *dispatcher.Dispatcher
	requestH   map[dispatcher.HandlerID]RequestHandler
	responseH  map[dispatcher.HandlerID]ResponseHandler
	errorH     map[dispatcher.HandlerID]ErrorHandler

	subscriptions map[string]dispatcher.HandlerID // remote method -> handler id
	notificationH map[dispatcher.HandlerID]NotificationHandler
	publisherOf   map[dispatcher.HandlerID]string // handler id -> remote method, reverse of subscriptions
	subscribedTo  []entrypoint.EntryPoint         // remote service.method entries to bind at startup

	incoming []middleware.Middleware
	outgoing []middleware.Middleware
}

func (*Base) serviceController() {}

// NewBase constructs a Base ready to be registered. pp is used to build
// the proxy.Proxy handed to every handler invocation.
func NewBase(pp *postprocessor.PostProcessor) *Base {
	return &Base{
		Postprocessor: pp,
		dispatcher:    dispatcher.New(),
		requestH:      make(map[dispatcher.HandlerID]RequestHandler),
		responseH:     make(map[dispatcher.HandlerID]ResponseHandler),
		errorH:        make(map[dispatcher.HandlerID]ErrorHandler),
		subscriptions: make(map[string]dispatcher.HandlerID),
		notificationH: make(map[dispatcher.HandlerID]NotificationHandler),
		publisherOf:   make(map[dispatcher.HandlerID]string),
	}
}

// AddIncomingMiddleware appends middleware run before dispatch, in
// registration order, matching ServiceController.add_incoming_middleware.
func (b *Base) AddIncomingMiddleware(m middleware.Middleware) {
	b.incoming = append(b.incoming, m)
}

// AddOutgoingMiddleware appends middleware run on a request handler's
// produced Response/Error before it is sent.
func (b *Base) AddOutgoingMiddleware(m middleware.Middleware) {
	b.outgoing = append(b.outgoing, m)
}

// ServiceName returns the name this controller was bound to via
// service.Registrar, used by server.Server to build its queue bindings.
func (b *Base) ServiceName() string { return b.serviceName }

// Discovery exposes the Discovery backing this controller's outbound
// publishes, used by server.Server to resolve and declare the exchanges
// this controller's subscriptions depend on.
func (b *Base) Discovery() discovery.Discovery { return b.Postprocessor.Discovery() }

// Registrar performs the registration tavrida/dispatcher.py's rpc_service
// decorator did implicitly: binding (service name, Go type) in the
// process-wide Router, and binding (method, kind) to a handler in this
// service's own Dispatcher/Subscription tables. One Registrar is built per
// concrete service instance at process startup and discarded once
// Register(r) returns.
type Registrar struct {
	router      *router.Router
	class       router.ServiceClass
	serviceName string
	base        *Base
}

// NewRegistrar returns a Registrar for instance (a Controller embedding
// Base), bound to serviceName in router.
func NewRegistrar(r *router.Router, serviceName string, instance Controller, base *Base) *Registrar {
	base.serviceName = serviceName
	return &Registrar{router: r, class: router.ClassOf(instance), serviceName: serviceName, base: base}
}

// Request registers h as the call/cast-request handler for method, with
// spec filtering the incoming payload, and records (serviceName -> class)
// in the RPC router table.
func (reg *Registrar) Request(method string, id dispatcher.HandlerID, spec dispatcher.ArgSpec, h RequestHandler) error {
	if err := reg.router.Register(reg.serviceName, reg.class); err != nil {
		if _, dup := err.(*apperror.DuplicatedServiceRegistration); !dup {
			return err
		}
	}
	if err := reg.base.dispatcher.Register(method, envelope.KindRequest, id, spec); err != nil {
		return err
	}
	reg.base.requestH[id] = h
	return nil
}

// Response registers h as the response handler for method.
func (reg *Registrar) Response(method string, id dispatcher.HandlerID, spec dispatcher.ArgSpec, h ResponseHandler) error {
	if err := reg.router.Register(reg.serviceName, reg.class); err != nil {
		if _, dup := err.(*apperror.DuplicatedServiceRegistration); !dup {
			return err
		}
	}
	if err := reg.base.dispatcher.Register(method, envelope.KindResponse, id, spec); err != nil {
		return err
	}
	reg.base.responseH[id] = h
	return nil
}

// Error registers h as the error handler for method. No ArgSpec: error
// handlers receive (message, proxy), never payload-unpacked.
func (reg *Registrar) Error(method string, id dispatcher.HandlerID, h ErrorHandler) error {
	if err := reg.router.Register(reg.serviceName, reg.class); err != nil {
		if _, dup := err.(*apperror.DuplicatedServiceRegistration); !dup {
			return err
		}
	}
	if err := reg.base.dispatcher.Register(method, envelope.KindError, id, dispatcher.ArgSpec{}); err != nil {
		return err
	}
	reg.base.errorH[id] = h
	return nil
}

// Notification subscribes h to notifications published by remoteService's
// remoteMethod, registering this class under remoteService in the Router's
// subscription table. id is the stable handler identifier used for reverse
// lookup (GetPublisher), matching Subscription.get_publisher.
func (reg *Registrar) Notification(remoteService, remoteMethod string, id dispatcher.HandlerID, h NotificationHandler) error {
	if err := reg.router.RegisterSubscription(remoteService, reg.class); err != nil {
		if _, dup := err.(*apperror.DuplicatedServiceRegistration); !dup {
			return err
		}
	}
	reg.base.subscriptions[remoteMethod] = id
	reg.base.notificationH[id] = h
	reg.base.publisherOf[id] = remoteMethod
	reg.base.subscribedTo = append(reg.base.subscribedTo, entrypoint.New(remoteService, remoteMethod))
	return nil
}

// SubscribedEntries lists the remote service.method entries this
// controller subscribed to via Notification, used by server.Server to
// bind the process's queue to each one at startup.
func (b *Base) SubscribedEntries() []entrypoint.EntryPoint {
	return append([]entrypoint.EntryPoint(nil), b.subscribedTo...)
}

// GetPublisher reverse-resolves the remote method name a handler
// subscribed to, per Subscription.get_publisher. Returns
// PublisherEndpointNotFound if id never subscribed to anything.
func (b *Base) GetPublisher(id dispatcher.HandlerID) (string, error) {
	method, ok := b.publisherOf[id]
	if !ok {
		return "", apperror.NewPublisherEndpointNotFound(string(id))
	}
	return method, nil
}

// DispatchSource resolves the entry point a proxy built for msg's handler
// should report as its source, per tavrida/dispatcher.py's
// _create_rpc_proxy (source=message.destination for RPC kinds) and
// tavrida/subscription.py's _create_rpc_proxy (source=the subscribing
// handler's own local entry point, not the remote publisher's). Called by
// preprocessor.PreProcessor before building the proxy.Proxy handed to
// Process.
func (b *Base) DispatchSource(msg *envelope.Envelope) (entrypoint.EntryPoint, error) {
	if msg.Kind != envelope.KindNotification {
		return msg.Destination, nil
	}
	id, ok := b.subscriptions[msg.Source.Method()]
	if !ok {
		return entrypoint.Null(), apperror.NewSubscriptionHandlerNotFound(msg.Source.String())
	}
	return entrypoint.New(b.serviceName, string(id)), nil
}

// handlerFor resolves the handler bound to a dispatched (method, kind) for
// both RPC kinds and subscriptions (subscriptions key off method directly,
// since the dispatching entry point for a notification is its Source).
func (b *Base) handlerFor(method string, kind envelope.Kind) (dispatcher.HandlerID, dispatcher.ArgSpec, error) {
	if kind == envelope.KindNotification {
		id, ok := b.subscriptions[method]
		if !ok {
			return "", dispatcher.ArgSpec{}, apperror.NewSubscriptionHandlerNotFound(method)
		}
		return id, dispatcher.ArgSpec{}, nil
	}
	return b.dispatcher.HandlerFor(method, kind)
}

// Process implements spec.md §4.7's full per-message flow: incoming
// middlewares -> context merge -> kind routing -> outgoing middlewares ->
// send (for request flows that produce a reply).
//
// p is the proxy.Proxy handed to handlers, bound to msg's
// addressing/context/correlation/headers — callers (preprocessor.PreProcessor)
// construct it once per dispatched message.
func (b *Base) Process(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy) error {
	terminal := middleware.HandlerFunc(func(ctx context.Context, msg *envelope.Envelope) (*envelope.Envelope, error) {
		return b.routeByKind(ctx, msg, p)
	})
	handler := middleware.Chain(terminal, b.incoming...)

	result, err := handler(ctx, msg)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return b.sendWithOutgoingMiddlewares(ctx, result)
}

// routeByKind mirrors _route_message_by_type: merge payload into context
// first (see SPEC_FULL.md §9 resolution #1), then dispatch by kind, using
// dispatcher.DispatchEntryPoint's per-kind method per spec.md §4.3 (only
// Request keys off Destination; Response, Error, and Notification key off
// Source, since a Response/Error's Destination is reply_to, service-only).
func (b *Base) routeByKind(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy) (*envelope.Envelope, error) {
	msg.UpdateContext(msg.Payload)

	method := dispatcher.DispatchEntryPoint(msg)

	id, spec, err := b.handlerFor(method, msg.Kind)
	if err != nil {
		return nil, err
	}

	switch msg.Kind {
	case envelope.KindRequest:
		return b.processRequest(ctx, id, spec, msg, p)
	case envelope.KindResponse:
		return nil, b.processResponse(ctx, id, spec, msg, p)
	case envelope.KindError:
		return nil, b.processError(ctx, id, msg, p)
	case envelope.KindNotification:
		return nil, b.processNotification(ctx, id, msg, p)
	default:
		return nil, fmt.Errorf("service: unknown message kind %q", msg.Kind)
	}
}

func (b *Base) processRequest(ctx context.Context, id dispatcher.HandlerID, spec dispatcher.ArgSpec, msg *envelope.Envelope, p *proxy.Proxy) (*envelope.Envelope, error) {
	h, ok := b.requestH[id]
	if !ok {
		return nil, apperror.NewHandlerNotFound(msg.Destination.String(), string(msg.Kind))
	}
	payload, err := spec.Filter(msg.Payload)
	if err != nil {
		if msg.IsCall() {
			return envelope.ErrorFromRequest(msg, err, apperror.Class(err), errCode(err)), nil
		}
		return nil, err
	}

	result, err := h(ctx, msg, p, payload)
	if err != nil {
		if msg.IsCall() {
			return envelope.ErrorFromRequest(msg, err, apperror.Class(err), errCode(err)), nil
		}
		return nil, err
	}

	if !msg.IsCall() {
		// Cast-request: no response is sent regardless of return value.
		return nil, nil
	}
	switch r := result.(type) {
	case nil:
		return nil, nil
	case *envelope.Envelope:
		return r, nil
	case map[string]any:
		return msg.MakeResponse(r), nil
	default:
		return nil, apperror.NewWrongResponse(fmt.Sprintf("%v", result))
	}
}

func (b *Base) processResponse(ctx context.Context, id dispatcher.HandlerID, spec dispatcher.ArgSpec, msg *envelope.Envelope, p *proxy.Proxy) error {
	h, ok := b.responseH[id]
	if !ok {
		return apperror.NewHandlerNotFound(msg.Source.String(), string(msg.Kind))
	}
	payload, err := spec.Filter(msg.Payload)
	if err != nil {
		return err
	}
	return h(ctx, msg, p, payload)
}

func (b *Base) processError(ctx context.Context, id dispatcher.HandlerID, msg *envelope.Envelope, p *proxy.Proxy) error {
	h, ok := b.errorH[id]
	if !ok {
		return apperror.NewHandlerNotFound(msg.Source.String(), string(msg.Kind))
	}
	return h(ctx, msg, p)
}

func (b *Base) processNotification(ctx context.Context, id dispatcher.HandlerID, msg *envelope.Envelope, p *proxy.Proxy) error {
	h, ok := b.notificationH[id]
	if !ok {
		return apperror.NewSubscriptionHandlerNotFound(msg.Source.String())
	}
	return h(ctx, msg, p, msg.Payload)
}

func (b *Base) sendWithOutgoingMiddlewares(ctx context.Context, msg *envelope.Envelope) error {
	terminal := middleware.HandlerFunc(func(ctx context.Context, msg *envelope.Envelope) (*envelope.Envelope, error) {
		return nil, b.Postprocessor.Process(ctx, msg)
	})
	_, err := middleware.Chain(terminal, b.outgoing...)(ctx, msg)
	return err
}

// errCode extracts a numeric code from err if it implements
// apperror.Coder, defaulting to apperror.UnknownErrorCode otherwise —
// the Go substitute for "if the exception exposes a numeric code".
func errCode(err error) int {
	if coder, ok := err.(apperror.Coder); ok {
		return coder.Code()
	}
	return apperror.UnknownErrorCode
}
