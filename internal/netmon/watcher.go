package netmon

import "context"

// Watcher monitors the host for network configuration changes using
// platform-specific event mechanisms (netlink on Linux, route sockets on macOS,
// interface polling elsewhere).
type Watcher interface {
	// Start subscribes to change notifications and returns once the
	// subscription is in place, or with the error that prevented it.
	// callback is invoked from a single watcher goroutine until ctx is
	// cancelled.
	Start(ctx context.Context, callback EventHandler) error
	// Done is closed when the watcher goroutine has exited, after which
	// callback is not invoked again.
	Done() <-chan struct{}
}
