// Package dispatcher implements tavrida's per-service-class Dispatcher:
// given an incoming message's (entry point, kind), find the handler
// registered to process it. Grounded on tavrida/dispatcher.py's Dispatcher.
//
// The original additionally introspects each handler's Python signature to
// build its argument spec; the Go substitute is ArgSpec, supplied
// explicitly at registration time (see SPEC_FULL.md §4.3 / Design Notes).
package dispatcher

import (
	"github.com/miladsoleymani/tavrida/apperror"
	"github.com/miladsoleymani/tavrida/envelope"
)

// HandlerID identifies a registered handler closure within a Dispatcher,
// substituting for the original's bare Python method name.
type HandlerID string

// ArgSpec names the payload fields a handler expects: Required fields must
// be present, Optional fields pass through if present, and unlisted
// payload fields are dropped before the handler is invoked. This is the Go
// stand-in for introspecting a Python handler's parameter list.
type ArgSpec struct {
	Required []string
	Optional []string
}

// Filter returns the subset of payload named by s, erroring if a Required
// field is absent.
func (s ArgSpec) Filter(payload map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s.Required)+len(s.Optional))
	for _, field := range s.Required {
		v, ok := payload[field]
		if !ok {
			return nil, apperror.NewFieldMustExist(field)
		}
		out[field] = v
	}
	for _, field := range s.Optional {
		if v, ok := payload[field]; ok {
			out[field] = v
		}
	}
	return out, nil
}

// registration pairs a HandlerID with the ArgSpec it was registered with.
type registration struct {
	id   HandlerID
	spec ArgSpec
}

// Dispatcher maps (method, kind) to a registered handler for a single
// service. Each service.Base owns its own Dispatcher, built by
// service.NewBase, so two instances of the same service type do not share
// handler tables.
type Dispatcher struct {
	handlers map[envelope.Kind]map[string]registration
}

// New returns an empty Dispatcher with the three dispatchable kinds
// (request, response, error) pre-initialized, matching
// tavrida/dispatcher.py's Dispatcher.__init__.
func New() *Dispatcher {
	return &Dispatcher{
		handlers: map[envelope.Kind]map[string]registration{
			envelope.KindRequest:  {},
			envelope.KindResponse: {},
			envelope.KindError:    {},
		},
	}
}

// Register binds a handler to (method, kind). Returns
// DuplicatedEntryPointRegistration if the method already has a handler for
// this kind, or DuplicatedMethodRegistration if the same HandlerID is
// already registered for any method of this kind.
func (d *Dispatcher) Register(method string, kind envelope.Kind, id HandlerID, spec ArgSpec) error {
	bucket, ok := d.handlers[kind]
	if !ok {
		bucket = make(map[string]registration)
		d.handlers[kind] = bucket
	}
	if _, exists := bucket[method]; exists {
		return apperror.NewDuplicatedEntryPointRegistration(method)
	}
	for _, reg := range bucket {
		if reg.id == id {
			return apperror.NewDuplicatedMethodRegistration(string(id))
		}
	}
	bucket[method] = registration{id: id, spec: spec}
	return nil
}

// HandlerFor resolves the HandlerID and ArgSpec registered for (method, kind).
func (d *Dispatcher) HandlerFor(method string, kind envelope.Kind) (HandlerID, ArgSpec, error) {
	bucket, ok := d.handlers[kind]
	if !ok {
		return "", ArgSpec{}, apperror.NewHandlerNotFound(method, string(kind))
	}
	reg, ok := bucket[method]
	if !ok {
		return "", ArgSpec{}, apperror.NewHandlerNotFound(method, string(kind))
	}
	return reg.id, reg.spec, nil
}

// DispatchEntryPoint returns the method a message should be dispatched by,
// per the dispatch table of spec.md §4.3: a Request dispatches by its
// Destination, while Response, Error, and Notification all dispatch by
// Source — a Response/Error's Destination is only ever a service-level
// reply_to (tavrida/messages.py's Request.create sets reply_to to the
// caller's service, no method), so Destination.Method() is always empty for
// those kinds and cannot be what they key off of.
func DispatchEntryPoint(msg *envelope.Envelope) string {
	if msg.Kind == envelope.KindRequest {
		return msg.Destination.Method()
	}
	return msg.Source.Method()
}
