// Package entrypoint implements addresses of the form "service.method" or
// "service", used to route envelopes between services. It is grounded on
// tavrida/entry_point.py: EntryPoint / ServiceEntryPoint / NullEntryPoint /
// Source / Destination all reduce, in Go, to one value type tagged with a
// role so validation can distinguish where a parsed address is allowed to
// appear.
package entrypoint

import (
	"strings"

	"github.com/miladsoleymani/tavrida/apperror"
)

// Role distinguishes the three parse contexts the original entry_point.py
// modeled as subclasses (Source, Destination, plain EntryPoint).
type Role int

const (
	RolePlain Role = iota
	RoleSource
	RoleDestination
)

// EntryPoint is an address: a service name and an optional method name.
// The zero value is the Null entry point (service == "" && method == "").
type EntryPoint struct {
	service string
	method  string
	role    Role
}

// New builds a full "service.method" entry point.
func New(service, method string) EntryPoint {
	return EntryPoint{service: service, method: method}
}

// Service builds a service-only entry point (no method part), the
// ServiceEntryPoint of the original.
func Service(service string) EntryPoint {
	return EntryPoint{service: service}
}

// Null returns the empty entry point. NullEntryPoint in the original raises
// on to_routing_key and compares unequal to everything, including itself;
// RoutingKey and Equal below preserve both behaviors.
func Null() EntryPoint {
	return EntryPoint{}
}

// AsSource returns a copy of e tagged as a Source, for validation purposes.
func (e EntryPoint) AsSource() EntryPoint { e.role = RoleSource; return e }

// AsDestination returns a copy of e tagged as a Destination.
func (e EntryPoint) AsDestination() EntryPoint { e.role = RoleDestination; return e }

// IsSource reports whether e was produced via AsSource or ParseSource.
func (e EntryPoint) IsSource() bool { return e.role == RoleSource }

// IsDestination reports whether e was produced via AsDestination or ParseDestination.
func (e EntryPoint) IsDestination() bool { return e.role == RoleDestination }

// IsNull reports whether e is the Null entry point.
func (e EntryPoint) IsNull() bool { return e.service == "" && e.method == "" }

// Service returns the service-name part.
func (e EntryPoint) Service() string { return e.service }

// Method returns the method-name part (empty for a service-only entry point).
func (e EntryPoint) Method() string { return e.method }

// String renders "service.method", "service", or "" for Null.
func (e EntryPoint) String() string {
	if e.IsNull() {
		return ""
	}
	if e.method == "" {
		return e.service
	}
	return e.service + "." + e.method
}

// Equal compares service and method only, per spec.md §3. Two Null entry
// points are never equal to each other (matching NullEntryPoint.__eq__
// always returning False in the original).
func (e EntryPoint) Equal(other EntryPoint) bool {
	if e.IsNull() || other.IsNull() {
		return false
	}
	return e.service == other.service && e.method == other.method
}

// RoutingKey returns the string form for use as an AMQP routing key. It is
// forbidden on the Null entry point, mirroring to_routing_key raising on
// NullEntryPoint in the original.
func (e EntryPoint) RoutingKey() (string, error) {
	if e.IsNull() {
		return "", apperror.NewUnsuitableFieldValue("entry_point", "null")
	}
	return e.String(), nil
}

// Parse builds a plain EntryPoint from its string form: "service.method",
// "service", or "" (-> Null). Only the first "." splits service from
// method; EntryPoints do not nest further levels (the original's
// str.split(".") behaves the same way since method names never contain
// dots).
func Parse(value string) (EntryPoint, error) {
	return parseWithRole(value, RolePlain)
}

// ParseSource is Parse tagged as a Source entry point.
func ParseSource(value string) (EntryPoint, error) {
	return parseWithRole(value, RoleSource)
}

// ParseDestination is Parse tagged as a Destination entry point.
func ParseDestination(value string) (EntryPoint, error) {
	return parseWithRole(value, RoleDestination)
}

func parseWithRole(value string, role Role) (EntryPoint, error) {
	if value == "" {
		return EntryPoint{role: role}, nil
	}
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		return EntryPoint{service: value[:idx], method: value[idx+1:], role: role}, nil
	}
	return EntryPoint{service: value, role: role}, nil
}
