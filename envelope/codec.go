package envelope

import (
	"encoding/json"

	"github.com/miladsoleymani/tavrida/apperror"
	"github.com/miladsoleymani/tavrida/entrypoint"
)

// Header keys carried on the wire, per spec.md §3 and §6.
const (
	HeaderMessageID     = "message_id"
	HeaderRequestID     = "request_id"
	HeaderCorrelationID = "correlation_id"
	HeaderMessageType   = "message_type"
	HeaderSource        = "source"
	HeaderDestination   = "destination"
	HeaderReplyTo       = "reply_to"
)

// WireMessage is the broker-agnostic carrier for an envelope: headers plus
// a raw JSON body, grounded on tavrida/messages.py's AMQPMessage.
type WireMessage struct {
	Headers map[string]string
	Body    []byte
}

// body is the wire shape of an envelope's JSON payload, per spec.md §4.1:
// "{payload, context}".
type body struct {
	Payload map[string]any `json:"payload"`
	Context map[string]any `json:"context"`
}

// Headers renders e's required headers plus Extra, as carried on the wire.
func (e *Envelope) Headers() map[string]string {
	h := cloneHeaders(e.Extra)
	h[HeaderMessageID] = e.MessageID
	h[HeaderRequestID] = e.RequestID
	h[HeaderCorrelationID] = e.CorrelationID
	h[HeaderMessageType] = string(e.Kind)
	h[HeaderSource] = e.Source.String()
	h[HeaderDestination] = e.Destination.String()
	h[HeaderReplyTo] = e.ReplyTo.String()
	return h
}

// Encode serializes e into a WireMessage: BuildFrame + the body-serialize
// step of spec.md §4.1/§4.5.
func Encode(e *Envelope) (WireMessage, error) {
	b, err := json.Marshal(body{Payload: orEmpty(e.Payload), Context: orEmpty(e.Context)})
	if err != nil {
		return WireMessage{}, apperror.NewIncorrectOutgoingMessage(err.Error())
	}
	return WireMessage{Headers: e.Headers(), Body: b}, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// requiredFields lists the header keys that must be present (though not
// necessarily non-empty) on every wire message, per spec.md §4.1.
var requiredFields = []string{
	HeaderMessageID,
	HeaderRequestID,
	HeaderCorrelationID,
	HeaderMessageType,
	HeaderSource,
	HeaderDestination,
	HeaderReplyTo,
}

// ValidateHeaders implements the Codec & Validation rules of spec.md §4.1:
// all required headers present, message_type one of the four kinds, source
// non-Null, and destination required (non-Null) for request/response/error
// kinds — a Destination/ReplyTo, wherever it is required, must be a real
// entry point, not the empty string that parses to Null.
func ValidateHeaders(headers map[string]string) error {
	for _, field := range requiredFields {
		if _, ok := headers[field]; !ok {
			return apperror.NewFieldMustExist(field)
		}
	}
	mt := Kind(headers[HeaderMessageType])
	if !mt.Valid() {
		return apperror.NewUnsuitableFieldValue(HeaderMessageType, headers[HeaderMessageType])
	}
	if headers[HeaderSource] == "" {
		return apperror.NewFieldMustFullyDefined(HeaderSource)
	}
	if mt != KindNotification && headers[HeaderDestination] == "" {
		return apperror.NewFieldMustFullyDefined(HeaderDestination)
	}
	return nil
}

// Decode parses a WireMessage into an Envelope: validate -> deserialize
// body -> construct, per spec.md §4.1 and tavrida/messages.py's
// IncomingMessageFactory.create.
func Decode(wm WireMessage) (*Envelope, error) {
	if err := ValidateHeaders(wm.Headers); err != nil {
		return nil, err
	}

	kind := Kind(wm.Headers[HeaderMessageType])
	source, err := entrypoint.ParseSource(wm.Headers[HeaderSource])
	if err != nil {
		return nil, err
	}
	destination, err := entrypoint.ParseDestination(wm.Headers[HeaderDestination])
	if err != nil {
		return nil, err
	}
	replyTo, err := entrypoint.Parse(wm.Headers[HeaderReplyTo])
	if err != nil {
		return nil, err
	}

	var b body
	if len(wm.Body) > 0 {
		if err := json.Unmarshal(wm.Body, &b); err != nil {
			return nil, apperror.NewIncorrectMessage(err.Error())
		}
	}
	if b.Payload == nil {
		b.Payload = map[string]any{}
	}
	if b.Context == nil {
		b.Context = map[string]any{}
	}

	extra := make(map[string]string)
	for k, v := range wm.Headers {
		switch k {
		case HeaderMessageID, HeaderRequestID, HeaderCorrelationID, HeaderMessageType,
			HeaderSource, HeaderDestination, HeaderReplyTo:
			// core header, not "extra"
		default:
			extra[k] = v
		}
	}

	if kind == KindNotification {
		// Canonical resolution of the "notification destination" open
		// question (spec.md §9 / SPEC_FULL.md §9): always empty.
		destination = entrypoint.Null()
	}

	return &Envelope{
		MessageID:     wm.Headers[HeaderMessageID],
		RequestID:     wm.Headers[HeaderRequestID],
		CorrelationID: wm.Headers[HeaderCorrelationID],
		Kind:          kind,
		Source:        source,
		Destination:   destination,
		ReplyTo:       replyTo,
		Context:       b.Context,
		Payload:       b.Payload,
		Extra:         extra,
		incoming:      true,
	}, nil
}
