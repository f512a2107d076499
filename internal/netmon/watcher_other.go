//go:build !linux && !darwin

package netmon

// NewWatcher falls back to polling the interface table on platforms without a
// supported kernel notification source.
func NewWatcher() Watcher {
	return NewPollWatcher(DefaultPollInterval)
}
