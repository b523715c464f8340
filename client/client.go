// Package client implements tavrida's RPCClient: a standalone call site for
// code that is not itself a registered service — a CLI tool, a one-off
// script, or another process's bootstrap path that only ever calls into the
// system and never receives deliveries. Grounded on tavrida/client.py's
// RPCClient.
package client

import (
	"context"

	"github.com/miladsoleymani/tavrida/broker"
	"github.com/miladsoleymani/tavrida/discovery"
	"github.com/miladsoleymani/tavrida/entrypoint"
	"github.com/miladsoleymani/tavrida/postprocessor"
	"github.com/miladsoleymani/tavrida/proxy"
)

// Client owns one broker connection and a Proxy bound to a fixed source
// entry point and a fixed remote service, mirroring RPCClient's constructor
// taking a single `service` to call. Where the original exposes dynamic
// attribute access (client.method(**kwargs)) to build a call lazily, Client
// exposes the same explicit Call/Cast/Publish form as proxy.Proxy.
type Client struct {
	adapter broker.Adapter
	pp      *postprocessor.PostProcessor
	proxy   *proxy.Proxy
	service string
}

// New builds a Client that calls service, publishing through adapter and
// resolving exchanges via disc (which must already know how to reach
// service — see discovery.Table.RegisterRemote). source identifies this
// client's own entry point for reply-to/causal-identity purposes; headers
// are merged into every outgoing call. Mirrors RPCClient's
// discovery-provided constructor path.
func New(adapter broker.Adapter, disc discovery.Discovery, service string, source entrypoint.EntryPoint, headers map[string]string, retry postprocessor.RetryPolicy) *Client {
	pp := postprocessor.New(adapter, disc, retry)
	return &Client{
		adapter: adapter,
		pp:      pp,
		proxy:   proxy.New(pp, source, nil, "", headers),
		service: service,
	}
}

// NewWithExchange is the convenience constructor mirroring RPCClient's
// exchange-provided path: it builds a private discovery.Table registering
// service under exchange instead of requiring the caller to build one.
// Mutually exclusive with New's disc argument by construction, rather than
// the original's runtime "either discovery or exchange, not both" check.
func NewWithExchange(adapter broker.Adapter, service, exchange string, source entrypoint.EntryPoint, headers map[string]string, retry postprocessor.RetryPolicy) *Client {
	disc := discovery.New()
	disc.RegisterRemote(service, exchange)
	return New(adapter, disc, service, source, headers, retry)
}

// Connect opens the underlying broker connection.
func (c *Client) Connect(ctx context.Context) error { return c.adapter.Connect(ctx) }

// Close releases the underlying broker connection.
func (c *Client) Close() error { return c.adapter.Close() }

// Call issues a call-request to this client's bound service.method and
// waits only for the publish to succeed; the matching Response/Error, if
// any, arrives asynchronously at whatever entry point this client's source
// resolves to — a standalone Client has no server loop of its own to
// receive it, so callers that need the reply must run one (see
// server.Server) or use Cast/Publish instead.
func (c *Client) Call(ctx context.Context, method string, payload map[string]any, opts proxy.Options) error {
	return c.proxy.Call(ctx, c.service, method, payload, opts)
}

// Cast issues a cast-request (no reply expected) to this client's bound
// service.method.
func (c *Client) Cast(ctx context.Context, method string, payload map[string]any, opts proxy.Options) error {
	return c.proxy.Cast(ctx, c.service, method, payload, opts)
}

// Publish issues a Notification from this client's bound source, ignoring
// the client's bound service (notifications are addressed by source, not
// destination).
func (c *Client) Publish(ctx context.Context, payload map[string]any, opts proxy.Options) error {
	return c.proxy.Publish(ctx, payload, opts)
}
