package middleware

import (
	"context"
	"time"

	"github.com/miladsoleymani/tavrida/envelope"
)

// Collector is the interface metrics backends must implement, decoupling
// this middleware from any specific metrics library — unchanged in shape
// from the teacher's core/middleware.MetricsCollector.
type Collector interface {
	// MessageProcessed records that a message was processed. entryPoint
	// is the message's destination entry point, for metric labeling (empty
	// for notifications, whose destination is Null), duration is
	// processing time, and err is nil on success.
	MessageProcessed(entryPoint string, duration time.Duration, err error)
}

// Metrics returns middleware that reports processing metrics to collector.
func Metrics(collector Collector) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *envelope.Envelope) (*envelope.Envelope, error) {
			start := time.Now()
			reply, err := next(ctx, msg)
			collector.MessageProcessed(msg.Destination.String(), time.Since(start), err)
			return reply, err
		}
	}
}
