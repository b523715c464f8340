// Package router implements tavrida's process-wide Router: the registry
// mapping a service name to the Go type that implements it, split into an
// RPC table (requests/responses/errors) and a subscription table
// (notifications), grounded on tavrida/router.py's Router.
//
// The original identifies a "service class" with a Python class object and
// does an `isinstance`/`type() ==` scan to pick the right instance out of a
// list of registered controllers; Go has no runtime class objects, so a
// service class is modeled as reflect.Type (see SPEC_FULL.md §4.4).
package router

import (
	"reflect"
	"sync"

	"github.com/miladsoleymani/tavrida/apperror"
)

// ServiceClass identifies a registered service implementation. It is
// always reflect.TypeOf(instance) for some concrete service.Controller
// embedder, obtained once at registration time via ClassOf.
type ServiceClass = reflect.Type

// ClassOf returns the ServiceClass for a service controller instance. A
// controller is conventionally referred to by pointer receiver, so callers
// should pass the same pointer shape consistently (e.g. *OrdersService,
// not OrdersService).
func ClassOf(instance any) ServiceClass {
	return reflect.TypeOf(instance)
}

// Router is process-wide: exactly one Router backs an entire process, the
// same way tavrida/router.py's Router is a Singleton.
type Router struct {
	mu       sync.RWMutex
	services map[string]ServiceClass // service name -> RPC service class

	// subscriptions maps a publisher service name to every subscriber class
	// registered for it. Unlike services, this is a multimap per spec §4.4:
	// notifications fan out to every subscriber in the process, so more than
	// one class may register under the same publisher name.
	subscriptions map[string][]ServiceClass
}

// New returns an empty Router.
func New() *Router {
	return &Router{
		services:      make(map[string]ServiceClass),
		subscriptions: make(map[string][]ServiceClass),
	}
}

// Register binds serviceName to class for RPC dispatch (requests,
// responses, errors destined to serviceName).
func (r *Router) Register(serviceName string, class ServiceClass) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[serviceName]; exists {
		return apperror.NewDuplicatedServiceRegistration(class.String())
	}
	r.services[serviceName] = class
	return nil
}

// RegisterSubscription binds serviceName to class for notification
// dispatch: class will receive notifications whose Source.Service() is
// serviceName. Multiple distinct classes may subscribe to the same
// serviceName — each fires once per notification, per spec §4.4's fan-out
// requirement — but the same class cannot register twice under the same
// name.
func (r *Router) RegisterSubscription(serviceName string, class ServiceClass) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.subscriptions[serviceName] {
		if existing == class {
			return apperror.NewDuplicatedServiceRegistration(class.String())
		}
	}
	r.subscriptions[serviceName] = append(r.subscriptions[serviceName], class)
	return nil
}

// ServiceClassForRPC resolves the service class registered to handle
// RPC traffic (requests/responses/errors) for serviceName.
func (r *Router) ServiceClassForRPC(serviceName string) (ServiceClass, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	class, ok := r.services[serviceName]
	if !ok {
		return nil, apperror.NewServiceNotFound(serviceName)
	}
	return class, nil
}

// SubscriptionClassesFor resolves every service class registered to receive
// notifications published by serviceName, per tavrida/router.py's
// subscription_classes_for (spec §4.4: notifications fan out to every
// registered subscriber, not just one).
func (r *Router) SubscriptionClassesFor(serviceName string) ([]ServiceClass, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	classes, ok := r.subscriptions[serviceName]
	if !ok || len(classes) == 0 {
		return nil, apperror.NewServiceNotFound(serviceName)
	}
	return append([]ServiceClass(nil), classes...), nil
}

// ReverseLookup finds the service name that class is registered under in
// the RPC table.
func (r *Router) ReverseLookup(class ServiceClass) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, c := range r.services {
		if c == class {
			return name, nil
		}
	}
	return "", apperror.NewServiceIsNotRegister(class.String())
}

// SubscriptionReverseLookup finds the service name that class is
// registered under in the subscription table.
func (r *Router) SubscriptionReverseLookup(class ServiceClass) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, classes := range r.subscriptions {
		for _, c := range classes {
			if c == class {
				return name, nil
			}
		}
	}
	return "", apperror.NewServiceIsNotRegister(class.String())
}

// ServiceInstance picks the element of instances whose concrete type is
// class, per tavrida/router.py's _get_service linear scan.
func ServiceInstance(class ServiceClass, instances []any) (any, error) {
	for _, instance := range instances {
		if reflect.TypeOf(instance) == class {
			return instance, nil
		}
	}
	return nil, apperror.NewUnknownService(class.String())
}
