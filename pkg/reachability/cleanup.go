package reachability

import "runtime"

// attachCleanup tears the subscription down if m is garbage collected while
// still open. Only the inner state is referenced by the cleanup and by the
// serial goroutine, so the outer Manager can become unreachable.
func attachCleanup(m *Manager) {
	c := runtime.AddCleanup(m, func(inner *manager) {
		inner.logger().Debug("Reachability manager collected without Close")
		_ = inner.close()
	}, m.manager)
	m.stopCleanup = c.Stop
}
