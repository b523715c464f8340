// Package middleware adapts the chain-of-responsibility shape of the
// teacher's core/middleware package (Logging/Recovery/Metrics wrapping a
// next(ctx, msg) handler) to tavrida's envelope-based message model,
// grounded on tavrida/middleware.py's Middleware.process contract: a
// middleware either passes a message through (possibly transformed) or
// short-circuits by returning a Response/Error envelope directly instead
// of calling the wrapped handler.
package middleware

import (
	"context"

	"github.com/miladsoleymani/tavrida/envelope"
)

// HandlerFunc processes a single incoming envelope, returning the reply to
// send (nil if none) or an error.
type HandlerFunc func(ctx context.Context, msg *envelope.Envelope) (*envelope.Envelope, error)

// Middleware wraps a HandlerFunc with cross-cutting behavior. Chain
// composes a slice of Middleware around a terminal HandlerFunc, outermost
// first, matching how ServiceController._incoming_middlewares /
// _outgoing_middlewares are applied in registration order in the original.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain builds the composed HandlerFunc for terminal wrapped by mws, in
// the order mws are given (mws[0] runs first).
func Chain(terminal HandlerFunc, mws ...Middleware) HandlerFunc {
	h := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
