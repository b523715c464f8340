package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/miladsoleymani/tavrida/apperror"
)

// EtcdTable is a Discovery implementation backed by etcd, for processes
// whose exchange names come from a running service registry rather than a
// static discovery file. Not present in the original tavrida (which only
// ever reads dsfile.py's static INI), modeled on
// BX-D-mini-RPC/registry/etcd_registry.go's key layout and Watch-driven
// cache invalidation.
//
// Keys are laid out as /tavrida/<scope>/<service>, where scope is one of
// "remote", "remote_publisher", "local_publisher" — the same three
// registries Table keeps in memory.
type EtcdTable struct {
	client *clientv3.Client
	prefix string

	mu    sync.RWMutex
	cache Table // local read-through cache, same shape as the static Table
}

// NewEtcdTable connects to etcd at the given endpoints and returns a Table
// rooted at "/tavrida". Call Start to begin watching for changes.
func NewEtcdTable(endpoints []string, dialTimeout time.Duration) (*EtcdTable, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, apperror.NewIncorrectAMQPConfig(err.Error())
	}
	et := &EtcdTable{
		client: c,
		prefix: "/tavrida",
		cache: Table{
			remote:          make(map[string]string),
			remotePublisher: make(map[string]string),
			localPublisher:  make(map[string]string),
		},
	}
	return et, nil
}

func (t *EtcdTable) key(scope, service string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix, scope, service)
}

// RegisterRemote writes a remote-service mapping to etcd.
func (t *EtcdTable) RegisterRemote(ctx context.Context, service, exchange string) error {
	_, err := t.client.Put(ctx, t.key("remote", service), exchange)
	return err
}

// RegisterRemotePublisher writes a remote-publisher mapping to etcd.
func (t *EtcdTable) RegisterRemotePublisher(ctx context.Context, service, exchange string) error {
	_, err := t.client.Put(ctx, t.key("remote_publisher", service), exchange)
	return err
}

// RegisterLocalPublisher writes a local-publisher mapping to etcd.
func (t *EtcdTable) RegisterLocalPublisher(ctx context.Context, service, exchange string) error {
	_, err := t.client.Put(ctx, t.key("local_publisher", service), exchange)
	return err
}

// Start loads the current state of all three scopes into the local cache
// and launches a goroutine that keeps it in sync via etcd's Watch API.
func (t *EtcdTable) Start(ctx context.Context) error {
	for _, scope := range []string{"remote", "remote_publisher", "local_publisher"} {
		if err := t.refresh(ctx, scope); err != nil {
			return err
		}
	}
	go t.watch(ctx)
	return nil
}

func (t *EtcdTable) refresh(ctx context.Context, scope string) error {
	resp, err := t.client.Get(ctx, t.key(scope, ""), clientv3.WithPrefix())
	if err != nil {
		return apperror.NewUnableToDiscover(scope)
	}
	prefix := t.key(scope, "")
	m := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		service := string(kv.Key)[len(prefix):]
		m[service] = string(kv.Value)
	}

	t.mu.Lock()
	switch scope {
	case "remote":
		t.cache.remote = m
	case "remote_publisher":
		t.cache.remotePublisher = m
	case "local_publisher":
		t.cache.localPublisher = m
	}
	t.mu.Unlock()
	return nil
}

func (t *EtcdTable) watch(ctx context.Context) {
	ch := t.client.Watch(ctx, t.prefix, clientv3.WithPrefix())
	for resp := range ch {
		if resp.Err() != nil {
			continue
		}
		// A full key is /tavrida/<scope>/<service>; re-fetch that scope
		// wholesale rather than patching individual keys, matching the
		// "re-fetch on any change" strategy of the retrieval pack's
		// etcd registry.
		for _, ev := range resp.Events {
			scope := scopeOf(string(ev.Kv.Key), t.prefix)
			if scope == "" {
				continue
			}
			_ = t.refresh(ctx, scope)
		}
	}
}

func scopeOf(key, prefix string) string {
	rest := key[len(prefix)+1:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i]
		}
	}
	return ""
}

// Remote resolves a remote service name from the local cache.
func (t *EtcdTable) Remote(service string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	exchange, ok := t.cache.remote[service]
	if !ok {
		return "", apperror.NewUnableToDiscover(service)
	}
	return exchange, nil
}

// RemotePublisher resolves a remote publisher's service name from the
// local cache.
func (t *EtcdTable) RemotePublisher(service string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	exchange, ok := t.cache.remotePublisher[service]
	if !ok {
		return "", apperror.NewUnableToDiscover(service)
	}
	return exchange, nil
}

// LocalPublisher resolves a local publisher's service name from the local
// cache.
func (t *EtcdTable) LocalPublisher(service string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	exchange, ok := t.cache.localPublisher[service]
	if !ok {
		return "", apperror.NewUnableToDiscover(service)
	}
	return exchange, nil
}

// AllExchanges returns the cached state of all three scopes.
func (t *EtcdTable) AllExchanges() map[string][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return map[string][]string{
		"remote":           values(t.cache.remote),
		"remote_publisher": values(t.cache.remotePublisher),
		"local_publisher":  values(t.cache.localPublisher),
	}
}

// Close releases the underlying etcd client.
func (t *EtcdTable) Close() error {
	return t.client.Close()
}
