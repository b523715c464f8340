// Package preprocessor implements tavrida's inbound message pipeline:
// decode off the wire, resolve which registered service instance should
// handle it, build the proxy that instance's handler will see, and hand
// off to service.Base.Process. Grounded on tavrida/preprocessor.py's
// PreProcessor and tavrida/router.py's Router.process (which this splits
// into router.Router's class lookup plus this package's instance lookup
// and dispatch).
package preprocessor

import (
	"context"

	"github.com/miladsoleymani/tavrida/apperror"
	"github.com/miladsoleymani/tavrida/entrypoint"
	"github.com/miladsoleymani/tavrida/envelope"
	"github.com/miladsoleymani/tavrida/postprocessor"
	"github.com/miladsoleymani/tavrida/proxy"
	"github.com/miladsoleymani/tavrida/router"
	"github.com/miladsoleymani/tavrida/service"
)

// Dispatchable is the subset of service.Base's promoted API the
// PreProcessor needs. Every concrete service registered with a
// PreProcessor must embed *service.Base, which satisfies this
// automatically.
type Dispatchable interface {
	service.Controller
	Process(ctx context.Context, msg *envelope.Envelope, p *proxy.Proxy) error
	DispatchSource(msg *envelope.Envelope) (entrypoint.EntryPoint, error)
}

type serviceEntry struct {
	class    router.ServiceClass
	instance Dispatchable
}

// PreProcessor decodes incoming wire messages, resolves the target
// service instance via router, and dispatches to it.
type PreProcessor struct {
	router        *router.Router
	postprocessor *postprocessor.PostProcessor
	services      []serviceEntry
}

// New returns a PreProcessor that dispatches to the given services, all of
// which must already be registered in r via a service.Registrar. pp builds
// the proxy handed to each invoked handler.
func New(r *router.Router, pp *postprocessor.PostProcessor, services ...Dispatchable) *PreProcessor {
	entries := make([]serviceEntry, 0, len(services))
	for _, s := range services {
		entries = append(entries, serviceEntry{class: router.ClassOf(s), instance: s})
	}
	return &PreProcessor{router: r, postprocessor: pp, services: entries}
}

// Process decodes wm, resolves every owning service instance, and
// dispatches to each in turn, building a fresh proxy.Proxy per instance.
// For RPC kinds (request/response/error) this is always exactly one
// instance; for notifications it fans out to every class registered for
// the publishing service, per spec §4.4 ("notifications may fan out to
// many subscribers in the same process"). If more than one dispatch fails,
// only the first error is returned — the rest have already run by then, so
// returning early would not stop them — and the caller (server.Server)
// classifies that first error for ack/reject purposes.
func (p *PreProcessor) Process(ctx context.Context, wm envelope.WireMessage) error {
	msg, err := envelope.Decode(wm)
	if err != nil {
		return err
	}

	classes, err := p.classesFor(msg)
	if err != nil {
		return err
	}

	var firstErr error
	for _, class := range classes {
		if err := p.dispatchToClass(ctx, class, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *PreProcessor) dispatchToClass(ctx context.Context, class router.ServiceClass, msg *envelope.Envelope) error {
	instance, err := p.instanceFor(class)
	if err != nil {
		return err
	}

	source, err := instance.DispatchSource(msg)
	if err != nil {
		return err
	}

	px := proxy.New(p.postprocessor, source, msg.Context, msg.CorrelationID, msg.Extra)
	return instance.Process(ctx, msg, px)
}

// classesFor resolves every registered service class for msg, per
// tavrida/router.py's Router.process: the subscription table for
// notifications (keyed by publisher Source, fanning out to every
// subscriber) or a single-element RPC table lookup otherwise (keyed by
// Destination).
func (p *PreProcessor) classesFor(msg *envelope.Envelope) ([]router.ServiceClass, error) {
	if msg.Kind == envelope.KindNotification {
		return p.router.SubscriptionClassesFor(msg.Source.Service())
	}
	class, err := p.router.ServiceClassForRPC(msg.Destination.Service())
	if err != nil {
		return nil, err
	}
	return []router.ServiceClass{class}, nil
}

// instanceFor performs the linear scan tavrida/router.py's _get_service
// does to pick the element of service_list whose type matches class.
func (p *PreProcessor) instanceFor(class router.ServiceClass) (Dispatchable, error) {
	for _, entry := range p.services {
		if entry.class == class {
			return entry.instance, nil
		}
	}
	return nil, apperror.NewUnknownService(class.String())
}
