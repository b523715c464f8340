// Package apperror defines tavrida's error taxonomy: every framework-raised
// error carries a stable numeric code in the 1000-1099 range and is
// classified as Ackable, Nackable, or neither (a fatal programmer error).
// The classification drives server.Server's ack/reject policy for each
// delivery, and the code fills the payload of outgoing Error envelopes.
package apperror

import "fmt"

// UnknownErrorCode is used for Error envelopes built from an exception that
// does not expose a numeric code.
const UnknownErrorCode = 1000

// Ackable marks errors that should be acked rather than requeued: the
// broker message is poison and redelivering it would just repeat the
// failure.
type Ackable interface {
	Ackable()
}

// Nackable marks errors that represent a transient condition the broker
// should retry by requeuing (or routing to a dead-letter exchange, per its
// own configuration).
type Nackable interface {
	Nackable()
}

// base implements the common error shape: a code and a formatted message.
type base struct {
	code int
	msg  string
}

func (e *base) Error() string { return e.msg }
func (e *base) Code() int     { return e.code }

// Class returns the Go type name to be used verbatim as the Error payload's
// "class" field, substituting for Python's exception.__class__.__name__.
func Class(err error) string {
	switch err.(type) {
	case *FieldMustExist:
		return "FieldMustExist"
	case *FieldMustFullyDefined:
		return "FieldMustFullyDefined"
	case *UnsuitableFieldValue:
		return "UnsuitableFieldValue"
	case *HandlerNotFound:
		return "HandlerNotFound"
	case *WrongEntryPointFormat:
		return "WrongEntryPointFormat"
	case *UnableToDiscover:
		return "UnableToDiscover"
	case *ServiceNotFound:
		return "ServiceNotFound"
	case *UnknownService:
		return "UnknownService"
	case *DuplicatedServiceRegistration:
		return "DuplicatedServiceRegistration"
	case *DuplicatedEntryPointRegistration:
		return "DuplicatedEntryPointRegistration"
	case *ServiceIsNotRegister:
		return "ServiceIsNotRegister"
	case *PublisherEndpointNotFound:
		return "PublisherEndpointNotFound"
	case *SubscriptionHandlerNotFound:
		return "SubscriptionHandlerNotFound"
	case *NeedToBeController:
		return "NeedToBeController"
	case *IncorrectAMQPConfig:
		return "IncorrectAMQPConfig"
	case *IncorrectAMQPLibrary:
		return "IncorrectAMQPLibrary"
	case *DuplicatedMethodRegistration:
		return "DuplicatedMethodRegistration"
	case *ForbiddenHeaders:
		return "ForbiddenHeaders"
	case *WrongResponse:
		return "WrongResponse"
	case *IncorrectOutgoingMessage:
		return "IncorrectOutgoingMessage"
	case *IncorrectMessage:
		return "IncorrectMessage"
	case *CantRegisterRemotePublisher:
		return "CantRegisterRemotePublisher"
	case *ConfigFileIsNotDefined:
		return "ConfigFileIsNotDefined"
	default:
		return "Unknown"
	}
}

// --- Ackable: handler-visible validation/dispatch errors ---

type FieldMustExist struct{ base }

func NewFieldMustExist(field string) *FieldMustExist {
	return &FieldMustExist{base{1001, fmt.Sprintf("field %s must exist in message", field)}}
}
func (*FieldMustExist) Ackable() {}

type FieldMustFullyDefined struct{ base }

func NewFieldMustFullyDefined(field string) *FieldMustFullyDefined {
	return &FieldMustFullyDefined{base{1003, fmt.Sprintf("field %s must not contain null values", field)}}
}
func (*FieldMustFullyDefined) Ackable() {}

type UnsuitableFieldValue struct{ base }

func NewUnsuitableFieldValue(field, value string) *UnsuitableFieldValue {
	return &UnsuitableFieldValue{base{1002, fmt.Sprintf("unsuitable field %s value %s", field, value)}}
}
func (*UnsuitableFieldValue) Ackable() {}

type HandlerNotFound struct{ base }

func NewHandlerNotFound(entryPoint, messageType string) *HandlerNotFound {
	return &HandlerNotFound{base{1004, fmt.Sprintf("handler for %s (%s) not found", entryPoint, messageType)}}
}
func (*HandlerNotFound) Ackable() {}

type WrongEntryPointFormat struct{ base }

func NewWrongEntryPointFormat() *WrongEntryPointFormat {
	return &WrongEntryPointFormat{base{1006, "entry point should be of pattern 'service.method'"}}
}
func (*WrongEntryPointFormat) Ackable() {}

type UnableToDiscover struct{ base }

func NewUnableToDiscover(service string) *UnableToDiscover {
	return &UnableToDiscover{base{1007, fmt.Sprintf("service %s could not be discovered", service)}}
}
func (*UnableToDiscover) Ackable() {}

type ServiceNotFound struct{ base }

func NewServiceNotFound(entryPoint string) *ServiceNotFound {
	return &ServiceNotFound{base{1022, fmt.Sprintf("service for %s is not found", entryPoint)}}
}
func (*ServiceNotFound) Ackable() {}

type UnknownService struct{ base }

func NewUnknownService(service string) *UnknownService {
	return &UnknownService{base{1022, fmt.Sprintf("service %s unknown for server", service)}}
}
func (*UnknownService) Ackable() {}

type DuplicatedServiceRegistration struct{ base }

func NewDuplicatedServiceRegistration(service string) *DuplicatedServiceRegistration {
	return &DuplicatedServiceRegistration{base{1023, fmt.Sprintf("service %s is already registered", service)}}
}
func (*DuplicatedServiceRegistration) Ackable() {}

type DuplicatedEntryPointRegistration struct{ base }

func NewDuplicatedEntryPointRegistration(method string) *DuplicatedEntryPointRegistration {
	return &DuplicatedEntryPointRegistration{base{1024, fmt.Sprintf("method %s is already registered", method)}}
}
func (*DuplicatedEntryPointRegistration) Ackable() {}

type ServiceIsNotRegister struct{ base }

func NewServiceIsNotRegister(service string) *ServiceIsNotRegister {
	return &ServiceIsNotRegister{base{1026, fmt.Sprintf("service %s is not registered", service)}}
}
func (*ServiceIsNotRegister) Ackable() {}

type PublisherEndpointNotFound struct{ base }

func NewPublisherEndpointNotFound(methodName string) *PublisherEndpointNotFound {
	return &PublisherEndpointNotFound{base{1027, fmt.Sprintf("remote method (event) name for handler %s is not found", methodName)}}
}
func (*PublisherEndpointNotFound) Ackable() {}

type SubscriptionHandlerNotFound struct{ base }

func NewSubscriptionHandlerNotFound(entryPoint string) *SubscriptionHandlerNotFound {
	return &SubscriptionHandlerNotFound{base{1030, fmt.Sprintf("subscription handler for %s is not found", entryPoint)}}
}
func (*SubscriptionHandlerNotFound) Ackable() {}

// --- Fatal programmer errors: neither Ackable nor Nackable ---

type NeedToBeController struct{ base }

func NewNeedToBeController(service string) *NeedToBeController {
	return &NeedToBeController{base{1005, fmt.Sprintf("service %s should embed service.Controller", service)}}
}

type IncorrectAMQPConfig struct{ base }

func NewIncorrectAMQPConfig(detail string) *IncorrectAMQPConfig {
	return &IncorrectAMQPConfig{base{1008, fmt.Sprintf("incorrect amqp config: %s", detail)}}
}

type WrongResponse struct{ base }

func NewWrongResponse(response string) *WrongResponse {
	return &WrongResponse{base{1009, fmt.Sprintf("got incorrect response %s, expected Response, Error or map", response)}}
}

type IncorrectAMQPLibrary struct{ base }

func NewIncorrectAMQPLibrary() *IncorrectAMQPLibrary {
	return &IncorrectAMQPLibrary{base{1010, "incorrect value for amqp library"}}
}

type DuplicatedMethodRegistration struct{ base }

func NewDuplicatedMethodRegistration(methodName string) *DuplicatedMethodRegistration {
	return &DuplicatedMethodRegistration{base{1028, fmt.Sprintf("duplicated registration of method '%s'", methodName)}}
}

type ForbiddenHeaders struct{ base }

func NewForbiddenHeaders(headers []string) *ForbiddenHeaders {
	return &ForbiddenHeaders{base{1029, fmt.Sprintf("headers are forbidden to redefine: %v", headers)}}
}

type IncorrectOutgoingMessage struct{ base }

func NewIncorrectOutgoingMessage(detail string) *IncorrectOutgoingMessage {
	return &IncorrectOutgoingMessage{base{1031, fmt.Sprintf("incorrect outgoing message: %s", detail)}}
}

type IncorrectMessage struct{ base }

func NewIncorrectMessage(detail string) *IncorrectMessage {
	return &IncorrectMessage{base{1032, fmt.Sprintf("incorrect message: %s", detail)}}
}

type CantRegisterRemotePublisher struct{ base }

func NewCantRegisterRemotePublisher(service string) *CantRegisterRemotePublisher {
	return &CantRegisterRemotePublisher{base{1033, fmt.Sprintf("cannot register remote publisher %s", service)}}
}

type ConfigFileIsNotDefined struct{ base }

func NewConfigFileIsNotDefined() *ConfigFileIsNotDefined {
	return &ConfigFileIsNotDefined{base{1034, "config file is not defined"}}
}

// IsAckable reports whether err should be acked rather than requeued.
func IsAckable(err error) bool {
	_, ok := err.(Ackable)
	return ok
}

// IsNackable reports whether err should trigger a broker-level requeue.
func IsNackable(err error) bool {
	_, ok := err.(Nackable)
	return ok
}

// Coder is implemented by every error in this package and by any
// application-defined error that wants its numeric code to flow into an
// outgoing Error envelope (see envelope.ErrorFromRequest).
type Coder interface {
	Code() int
}
