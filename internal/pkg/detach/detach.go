package detach

import (
	"context"
	"time"
)

// WriteTimeout bounds a state write that outlives its caller.
const WriteTimeout = 5 * time.Second

// Write returns a context for persisting a terminal state. It keeps the
// values of ctx but not its cancellation.
func Write(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), WriteTimeout)
}
