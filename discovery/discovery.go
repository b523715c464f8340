// Package discovery implements tavrida's Discovery Service: mapping a
// service name to the exchange(s) that carry its traffic, grounded on
// tavrida/discovery.py's AbstractDiscovery/LocalDiscovery.
//
// Three independent registries are kept per spec.md §3: remote services
// (RPC exchange), remote publishers (notification exchange of another
// service this process subscribes to), and local publishers (the
// notification exchange this process publishes under).
package discovery

import (
	"sync"

	"github.com/miladsoleymani/tavrida/apperror"
)

// Discovery is the read surface both Table and EtcdTable implement; it is
// what postprocessor.PostProcessor and proxy.Proxy depend on, so either
// backing store plugs in without changes to the dispatch pipeline.
type Discovery interface {
	Remote(service string) (string, error)
	RemotePublisher(service string) (string, error)
	LocalPublisher(service string) (string, error)
	AllExchanges() map[string][]string
}

// Table is the static, in-memory Discovery implementation: the direct
// analogue of tavrida/discovery.py's LocalDiscovery.
type Table struct {
	mu              sync.RWMutex
	remote          map[string]string
	remotePublisher map[string]string
	localPublisher  map[string]string
}

// New returns an empty Table.
func New() *Table {
	return &Table{
		remote:          make(map[string]string),
		remotePublisher: make(map[string]string),
		localPublisher:  make(map[string]string),
	}
}

// RegisterRemote maps a remote service name to its RPC exchange.
func (t *Table) RegisterRemote(service, exchange string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote[service] = exchange
}

// RegisterRemotePublisher maps a remote publisher's service name to the
// exchange this process should subscribe to for its notifications.
func (t *Table) RegisterRemotePublisher(service, exchange string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remotePublisher[service] = exchange
}

// RegisterLocalPublisher maps a local publisher's service name to the
// exchange this process publishes notifications under.
func (t *Table) RegisterLocalPublisher(service, exchange string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.localPublisher[service] = exchange
}

// UnregisterRemote removes a remote service registration, if present.
func (t *Table) UnregisterRemote(service string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.remote, service)
}

// UnregisterRemotePublisher removes a remote publisher registration, if present.
func (t *Table) UnregisterRemotePublisher(service string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.remotePublisher, service)
}

// UnregisterLocalPublisher removes a local publisher registration, if present.
func (t *Table) UnregisterLocalPublisher(service string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.localPublisher, service)
}

// Remote resolves a remote service name to its RPC exchange.
func (t *Table) Remote(service string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	exchange, ok := t.remote[service]
	if !ok {
		return "", apperror.NewUnableToDiscover(service)
	}
	return exchange, nil
}

// RemotePublisher resolves a remote publisher's service name to the
// exchange carrying its notifications.
func (t *Table) RemotePublisher(service string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	exchange, ok := t.remotePublisher[service]
	if !ok {
		return "", apperror.NewUnableToDiscover(service)
	}
	return exchange, nil
}

// LocalPublisher resolves a local publisher's service name to the
// exchange this process publishes under.
func (t *Table) LocalPublisher(service string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	exchange, ok := t.localPublisher[service]
	if !ok {
		return "", apperror.NewUnableToDiscover(service)
	}
	return exchange, nil
}

// AllExchanges mirrors tavrida/discovery.py's get_all_exchanges: the three
// registries' exchange name lists keyed by registry name, used by
// server.Server to declare every exchange a process will ever touch.
func (t *Table) AllExchanges() map[string][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return map[string][]string{
		"remote":           values(t.remote),
		"remote_publisher": values(t.remotePublisher),
		"local_publisher":  values(t.localPublisher),
	}
}

func values(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
