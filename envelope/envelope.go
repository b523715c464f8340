// Package envelope implements tavrida's message envelope: a typed record
// of headers plus a {payload, context} body, grounded on tavrida/messages.py.
// Unlike the original, which models each combination of direction and kind
// as a distinct Python class (IncomingRequestCall, Request, BaseResponse,
// ...), a single Envelope value covers all of them; Kind plus a few derived
// predicates (IsCall, Incoming) recover the same distinctions.
package envelope

import (
	"strings"

	"github.com/google/uuid"
	"github.com/miladsoleymani/tavrida/entrypoint"
)

// Kind is the message_type header.
type Kind string

const (
	KindRequest      Kind = "request"
	KindResponse     Kind = "response"
	KindNotification Kind = "notification"
	KindError        Kind = "error"
)

// Valid reports whether k is one of the four recognized kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindResponse, KindNotification, KindError:
		return true
	default:
		return false
	}
}

// Envelope is a fully-typed message: headers plus {payload, context}.
// It is immutable after construction except Context, which is merge-only
// via UpdateContext, matching spec.md §3.
type Envelope struct {
	MessageID     string
	RequestID     string
	CorrelationID string
	Kind          Kind
	Source        entrypoint.EntryPoint
	Destination   entrypoint.EntryPoint
	ReplyTo       entrypoint.EntryPoint
	Context       map[string]any
	Payload       map[string]any

	// Extra holds arbitrary additional headers, preserved verbatim and
	// propagated across a request/response pair.
	Extra map[string]string

	// incoming marks an Envelope decoded off the wire, as opposed to one
	// built in-process for publication. It is reported by Incoming; no
	// method in this package, MakeResponse included, checks it.
	incoming bool
}

// IsCall reports whether this is a call-request (reply_to set) as opposed
// to a cast-request (reply_to Null). Only meaningful for KindRequest.
func (e *Envelope) IsCall() bool {
	return e.Kind == KindRequest && !e.ReplyTo.IsNull()
}

// Incoming reports whether e was produced by Decode rather than by one of
// the New*/*FromRequest constructors.
func (e *Envelope) Incoming() bool { return e.incoming }

// UpdateContext merges extra into Context; existing keys are overwritten,
// matching Python's dict.update semantics.
func (e *Envelope) UpdateContext(extra map[string]any) {
	if e.Context == nil {
		e.Context = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		e.Context[k] = v
	}
}

// MakeResponse builds a Response to this (incoming call) request, per
// spec.md §4.2's Response.create_by_request and the IncomingRequestCall
// convenience in tavrida/messages.py.
func (e *Envelope) MakeResponse(payload map[string]any) *Envelope {
	return ResponseFromRequest(e, payload)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneHeaders(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// newID mints a bare hex UUID (no hyphens), matching Python's
// uuid.uuid4().hex used throughout tavrida for message_id/request_id/
// correlation_id.
func newID() string { return strings.ReplaceAll(uuid.New().String(), "-", "") }

// RequestOptions parametrizes NewRequest / NewCast.
type RequestOptions struct {
	Source        entrypoint.EntryPoint
	Destination   entrypoint.EntryPoint
	CorrelationID string // empty means "mint a fresh one"
	Context       map[string]any
	Payload       map[string]any
	Extra         map[string]string
}

// NewRequest builds an outgoing call-request: reply_to is set to Source's
// service, per spec.md §4.6 (the caller expects a reply addressed back to
// its own service entry point).
func NewRequest(opts RequestOptions) *Envelope {
	e := newRequest(opts)
	e.ReplyTo = entrypoint.Service(opts.Source.Service())
	return e
}

// NewCast builds an outgoing cast-request: reply_to is Null, no reply is
// expected.
func NewCast(opts RequestOptions) *Envelope {
	e := newRequest(opts)
	e.ReplyTo = entrypoint.Null()
	return e
}

func newRequest(opts RequestOptions) *Envelope {
	corr := opts.CorrelationID
	if corr == "" {
		corr = newID()
	}
	return &Envelope{
		MessageID:     newID(),
		RequestID:     newID(),
		CorrelationID: corr,
		Kind:          KindRequest,
		Source:        opts.Source,
		Destination:   opts.Destination,
		Context:       cloneMap(opts.Context),
		Payload:       cloneMap(opts.Payload),
		Extra:         cloneHeaders(opts.Extra),
	}
}

// TransferRequest builds an outgoing request that preserves original's
// request_id and correlation_id instead of minting fresh ones, per
// spec.md §4.6's proxy.transfer and tavrida/messages.py's
// Request.create_transfer.
func TransferRequest(original *Envelope, opts RequestOptions) *Envelope {
	opts.CorrelationID = original.CorrelationID
	e := NewRequest(opts)
	e.RequestID = original.RequestID
	return e
}

// ResponseFromRequest builds the Response to an incoming request, per
// spec.md §4.2. Addressing: source = req.Destination, destination =
// req.ReplyTo (or req.Source if ReplyTo is Null, a defensive fallback for
// error conversion paths per spec.md §3's invariants). request_id and
// correlation_id are preserved; context is copied from the request's
// *current* context, which by the time a handler runs already has its own
// payload merged in (see SPEC_FULL.md §9 resolution #1).
func ResponseFromRequest(req *Envelope, payload map[string]any) *Envelope {
	dest := req.ReplyTo
	if dest.IsNull() {
		dest = req.Source
	}
	return &Envelope{
		MessageID:     newID(),
		RequestID:     req.RequestID,
		CorrelationID: req.CorrelationID,
		Kind:          KindResponse,
		Source:        req.Destination,
		Destination:   dest,
		ReplyTo:       entrypoint.Null(),
		Context:       cloneMap(req.Context),
		Payload:       cloneMap(payload),
		Extra:         cloneHeaders(req.Extra),
	}
}

// ErrorFromRequest builds the Error envelope sent back to the caller of a
// call-request whose handler raised err, per spec.md §4.2. Addressing is
// identical to ResponseFromRequest. The payload carries {class, message,
// code}; class and code are used exactly as the caller passes them (the
// service package derives code via apperror.Coder, falling back to
// apperror.UnknownErrorCode).
func ErrorFromRequest(req *Envelope, err error, class string, code int) *Envelope {
	dest := req.ReplyTo
	if dest.IsNull() {
		dest = req.Source
	}
	payload := map[string]any{
		"class":   class,
		"message": err.Error(),
		"code":    code,
	}
	return &Envelope{
		MessageID:     newID(),
		RequestID:     req.RequestID,
		CorrelationID: req.CorrelationID,
		Kind:          KindError,
		Source:        req.Destination,
		Destination:   dest,
		ReplyTo:       entrypoint.Null(),
		Context:       cloneMap(req.Context),
		Payload:       payload,
		Extra:         cloneHeaders(req.Extra),
	}
}

// NotificationOptions parametrizes NewNotification.
type NotificationOptions struct {
	Source        entrypoint.EntryPoint
	CorrelationID string
	Context       map[string]any
	Payload       map[string]any
	Extra         map[string]string
}

// NewNotification builds an outgoing Notification: destination and
// reply_to are both Null, per spec.md §3 (canonical resolution of the
// "notification destination" open question).
func NewNotification(opts NotificationOptions) *Envelope {
	corr := opts.CorrelationID
	if corr == "" {
		corr = newID()
	}
	return &Envelope{
		MessageID:     newID(),
		RequestID:     newID(),
		CorrelationID: corr,
		Kind:          KindNotification,
		Source:        opts.Source,
		Destination:   entrypoint.Null(),
		ReplyTo:       entrypoint.Null(),
		Context:       cloneMap(opts.Context),
		Payload:       cloneMap(opts.Payload),
		Extra:         cloneHeaders(opts.Extra),
	}
}
