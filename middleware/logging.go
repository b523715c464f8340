package middleware

import (
	"context"
	"log"
	"time"

	"github.com/miladsoleymani/tavrida/envelope"
)

// sensitiveHeaders are redacted by Logging before a message's headers are
// written out, per spec.md §6.
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
}

const redacted = "***redacted***"

func redactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if _, sensitive := sensitiveHeaders[normalizeHeaderKey(k)]; sensitive {
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}

func normalizeHeaderKey(k string) string {
	out := make([]byte, len(k))
	for i := 0; i < len(k); i++ {
		c := k[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Logging returns middleware that logs message processing duration and
// errors, redacting sensitive headers first. Adapted from the teacher's
// core/middleware.Logging, which logs the same key/elapsed/err shape
// against the eventmux core.Message type; here the "key" is the
// envelope's destination entry point and headers stand in for msg.Key().
func Logging() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *envelope.Envelope) (*envelope.Envelope, error) {
			start := time.Now()
			reply, err := next(ctx, msg)
			elapsed := time.Since(start)
			headers := redactHeaders(msg.Headers())

			if err != nil {
				log.Printf("[tavrida] ERROR dest=%s kind=%s elapsed=%s headers=%v err=%v",
					msg.Destination.String(), msg.Kind, elapsed, headers, err)
			} else {
				log.Printf("[tavrida] OK    dest=%s kind=%s elapsed=%s headers=%v",
					msg.Destination.String(), msg.Kind, elapsed, headers)
			}
			return reply, err
		}
	}
}
