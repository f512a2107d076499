package reachmgr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/reachd/internal/runtime"
	"github.com/dmdmdm-nz/reachd/pkg/reachability"
)

type watched struct {
	manager *reachability.Manager
	status  TargetStatus
}

// Service owns one reachability Manager per watched target and fans their
// status changes out to subscribers.
type Service struct {
	opts []reachability.Option
	now  func() time.Time

	mu      sync.RWMutex
	targets map[string]*watched

	// Fan-out to status subscribers
	subsMu sync.Mutex
	subs   map[int]*runtime.SubQueue[StatusEvent]
	nextID int

	closed bool
}

// NewService creates a Service whose Managers are built with opts.
func NewService(opts ...reachability.Option) *Service {
	return &Service{
		opts:    opts,
		now:     time.Now,
		targets: make(map[string]*watched),
		subs:    make(map[int]*runtime.SubQueue[StatusEvent]),
	}
}

// Subscribe returns a stream that starts with one TargetAdded event per
// watched target, followed by live events. The returned func unsubscribes and
// closes the stream.
func (s *Service) Subscribe() (<-chan StatusEvent, func()) {
	// Holding the read lock keeps updates out until the subscriber is registered.
	s.mu.RLock()
	snapshot := s.snapshotLocked()

	sub := runtime.NewSubQueue[StatusEvent](len(snapshot) + 8)

	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	closed := s.closed
	if !closed {
		s.subs[id] = sub
	}
	s.subsMu.Unlock()
	s.mu.RUnlock()

	if closed {
		sub.Close()
		return sub.Chan(), func() {}
	}

	for _, st := range snapshot {
		sub.SendDirect(StatusEvent{Type: TargetAdded, Target: st})
	}
	sub.SetPaused(false)

	unsub := func() {
		s.subsMu.Lock()
		if q, ok := s.subs[id]; ok {
			delete(s.subs, id)
			q.Close()
		}
		s.subsMu.Unlock()
	}
	return sub.Chan(), unsub
}

// Start blocks until ctx is done. Targets are watched from the moment they are
// added, so Start only marks the service's lifetime for the supervisor.
func (s *Service) Start(ctx context.Context) error {
	log.Info("Starting reachability service")
	defer log.Info("Stopping reachability service")
	<-ctx.Done()
	return nil
}

// Close stops every Manager and closes all subscriber streams.
func (s *Service) Close() error {
	s.mu.Lock()
	s.subsMu.Lock()
	if s.closed {
		s.subsMu.Unlock()
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, q := range s.subs {
		q.Close()
		delete(s.subs, id)
	}
	s.subsMu.Unlock()

	targets := s.targets
	s.targets = make(map[string]*watched)
	s.mu.Unlock()

	for key, w := range targets {
		log.WithField("target", key).Debug("Closing reachability manager")
		_ = w.manager.Close()
	}
	return nil
}

// AddTarget starts watching t. The target's first status arrives as a
// StatusChanged event once the platform has been sampled.
func (s *Service) AddTarget(t reachability.Target) (TargetStatus, error) {
	normalized, err := reachability.NormalizeTarget(t)
	if err != nil {
		return TargetStatus{}, err
	}
	key := Key(normalized)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TargetStatus{}, ErrClosed
	}
	if _, exists := s.targets[key]; exists {
		return TargetStatus{}, fmt.Errorf("%w: %s", ErrTargetExists, key)
	}

	m, err := reachability.New(normalized, s.opts...)
	if err != nil {
		return TargetStatus{}, err
	}

	w := &watched{
		manager: m,
		status: TargetStatus{
			ID:     m.ID(),
			Target: key,
			Status: reachability.NotReachable,
			Flags:  reachability.Flags(0).String(),
			Since:  s.now(),
		},
	}
	s.targets[key] = w

	id := m.ID()
	if err := m.StartListening(func(status reachability.Status) {
		s.update(key, id, status, m.Flags())
	}); err != nil {
		delete(s.targets, key)
		_ = m.Close()
		return TargetStatus{}, err
	}

	log.WithFields(log.Fields{
		"target":  key,
		"manager": id,
	}).Info("Watching target")
	s.broadcast(StatusEvent{Type: TargetAdded, Target: w.status})
	return w.status, nil
}

// RemoveTarget stops watching t.
func (s *Service) RemoveTarget(t reachability.Target) error {
	normalized, err := reachability.NormalizeTarget(t)
	if err != nil {
		return err
	}
	key := Key(normalized)

	s.mu.Lock()
	w, ok := s.targets[key]
	if ok {
		delete(s.targets, key)
		s.broadcast(StatusEvent{Type: TargetRemoved, Target: w.status})
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, key)
	}

	log.WithField("target", key).Info("Stopped watching target")
	return w.manager.Close()
}

// Get returns the latest status of t.
func (s *Service) Get(t reachability.Target) (TargetStatus, bool) {
	normalized, err := reachability.NormalizeTarget(t)
	if err != nil {
		return TargetStatus{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.targets[Key(normalized)]
	if !ok {
		return TargetStatus{}, false
	}
	return w.status, true
}

// Snapshot returns the latest status of every target, ordered by target.
func (s *Service) Snapshot() []TargetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() []TargetStatus {
	out := make([]TargetStatus, 0, len(s.targets))
	for _, w := range s.targets {
		out = append(out, w.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// update runs on the target Manager's serial context. Repeated deliveries of
// the same status refresh the flags but are not broadcast.
func (s *Service) update(key, id string, status reachability.Status, flags reachability.Flags) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.targets[key]
	if !ok || w.status.ID != id {
		return
	}

	prev := w.status
	w.status.Flags = flags.String()
	if prev.Observed && prev.Status == status {
		return
	}
	w.status.Status = status
	w.status.Observed = true
	w.status.Since = s.now()

	ev := StatusEvent{Type: StatusChanged, Target: w.status}
	if prev.Observed {
		ev.Previous = &prev.Status
	}

	log.WithFields(log.Fields{
		"target": key,
		"status": status.String(),
		"flags":  w.status.Flags,
	}).Info("Reachability changed")
	s.broadcast(ev)
}

func (s *Service) broadcast(ev StatusEvent) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		sub.Enqueue(ev)
	}
}
