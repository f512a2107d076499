// Package reachability reports whether a network destination is currently
// reachable and notifies a listener when that changes.
//
// Platform flags are reduced to one of three statuses by Classify. A Manager
// binds one platform subscription to a host (or to any interface), caches the
// latest status, and serialises every notification on its own goroutine:
//
//	m, err := reachability.NewHost("example.com")
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	_ = m.StartListening(func(s reachability.Status) {
//		log.Infof("example.com is %s", s)
//	})
package reachability
