package middleware

import (
	"context"
	"fmt"
	"log"
	"runtime"

	"github.com/miladsoleymani/tavrida/envelope"
)

// Recovery returns middleware that recovers from panics in a handler,
// logs the stack trace, and surfaces the panic as an error instead of
// crashing the process. Adapted from the teacher's
// core/middleware.Recovery, unchanged in shape.
func Recovery() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *envelope.Envelope) (reply *envelope.Envelope, err error) {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					log.Printf("[tavrida] PANIC recovered: %v\n%s", r, buf[:n])
					err = fmt.Errorf("tavrida: panic recovered: %v", r)
				}
			}()
			return next(ctx, msg)
		}
	}
}
