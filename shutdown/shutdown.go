// Package shutdown ties the process lifetime to termination signals.
package shutdown

import (
	"context"
	"os/signal"
)

// Context is cancelled by the first termination signal. A second signal
// kills the process through the default handler once stop has been called.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}
