package reachability

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/reachd/internal/runtime"
)

// Listener receives the classified status of a target.
type Listener func(Status)

// listenerSlot holds zero or one listener. The empty slot is a real state:
// deliveries made while it is empty update the cached status and notify nobody.
type listenerSlot struct {
	fn  Listener
	set bool
}

var noListener = listenerSlot{}

func someListener(fn Listener) listenerSlot {
	if fn == nil {
		return noListener
	}
	return listenerSlot{fn: fn, set: true}
}

func (l listenerSlot) notify(s Status) {
	if l.set {
		l.fn(s)
	}
}

type Option func(*options)

type options struct {
	platform Platform
}

// WithPlatform overrides the platform used to create the subscription.
func WithPlatform(p Platform) Option {
	return func(o *options) { o.platform = p }
}

// Manager observes the reachability of one target and notifies a single
// listener when it changes.
//
// A Manager is dormant after creation. StartListening attaches the platform
// callback and delivers the current status once; StopListening detaches it
// again. Close releases the platform subscription. A Manager that becomes
// unreachable without Close is torn down by the garbage collector.
type Manager struct {
	*manager
	stopCleanup func()
}

type manager struct {
	id     string
	target Target
	sub    Subscription
	serial *runtime.Serial

	// opMu orders start, stop and close. mu guards the fields below and is
	// never held across a platform call.
	opMu      sync.Mutex
	mu        sync.Mutex
	listening bool
	closed    bool
	gen       uint64 // identifies the current listening session
	listener  listenerSlot
	flags     Flags
	observed  bool
}

// New creates a Manager for target. A nil Manager and an error wrapping
// ErrInvalidTarget are returned when the platform refuses the target.
func New(target Target, opts ...Option) (*Manager, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.platform == nil {
		o.platform = SystemPlatform()
	}

	sub, err := o.platform.Create(target)
	if err == nil && sub == nil {
		err = errors.New("platform returned no subscription")
	}
	if err != nil {
		log.WithField("target", target.String()).WithError(err).Debug("Reachability subscription refused")
		if errors.Is(err, ErrInvalidTarget) {
			return nil, err
		}
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidTarget, target, err)
	}

	m := &Manager{
		manager: &manager{
			id:     uuid.NewString(),
			target: target,
			sub:    sub,
			serial: runtime.NewSerial(),
		},
	}
	attachCleanup(m)

	m.logger().Debug("Reachability manager created")
	return m, nil
}

// NewHost creates a Manager for a host name or IP literal.
func NewHost(host string, opts ...Option) (*Manager, error) {
	return New(HostTarget(host), opts...)
}

// NewAny creates a Manager for the general "any interface" target.
func NewAny(opts ...Option) (*Manager, error) {
	return New(AnyTarget, opts...)
}

func (m *Manager) ID() string     { return m.id }
func (m *Manager) Target() Target { return m.target }

// IsListening reports whether the platform callback is currently attached.
func (m *Manager) IsListening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}

// StartListening stores fn as the listener and starts delivering status
// changes to it.
//
// When the Manager is dormant, the platform callback is attached and fn is
// called once with the current status before any change is delivered. When the
// Manager is already listening, only the listener is replaced.
//
// A *RegistrationError is returned if the platform refuses the callback; the
// Manager then stays dormant and the call may be retried.
func (m *Manager) StartListening(fn Listener) error {
	return m.startListening(fn)
}

// StopListening detaches the platform callback and drops the listener.
// Deliveries still queued when it returns are discarded. StopListening does not
// wait for the serial goroutine, so a delivery that had already picked up the
// old listener may still call it once after StopListening returns. Calling it
// on a dormant Manager does nothing, and it is safe to call from inside the
// listener.
func (m *Manager) StopListening() {
	m.stopListening()
}

// Close stops listening and releases the platform subscription. It is safe to
// call more than once.
func (m *Manager) Close() error {
	if m.stopCleanup != nil {
		m.stopCleanup()
	}
	return m.close()
}

// Status returns the current classification. While listening this is the
// status of the most recently delivered flags; while dormant the platform is
// sampled directly.
func (m *Manager) Status() Status {
	return Classify(m.currentFlags())
}

// Flags returns the flags Status is derived from.
func (m *Manager) Flags() Flags {
	return m.currentFlags()
}

func (m *Manager) IsReachable() bool {
	return m.Status().IsReachable()
}

func (m *Manager) IsReachableOnCellular() bool {
	return m.Status().IsReachableOnCellular()
}

func (m *Manager) IsReachableOnEthernetOrWiFi() bool {
	return m.Status().IsReachableOnEthernetOrWiFi()
}

func (m *manager) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"manager": m.id,
		"target":  m.target.String(),
	})
}

func (m *manager) startListening(fn Listener) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.listening {
		m.listener = someListener(fn)
		m.mu.Unlock()
		m.logger().Trace("Listener replaced")
		return nil
	}
	m.gen++
	gen := m.gen
	m.listener = someListener(fn)
	m.observed = false
	m.mu.Unlock()

	flags, err := m.sub.Flags()
	sampled := err == nil
	if !sampled {
		m.logger().WithError(err).Warn("Failed to sample reachability flags")
		flags = 0
	}

	// The initial delivery is queued before the callback exists so it runs ahead
	// of every change event, but it waits until registration has succeeded.
	registered := make(chan struct{})
	defer close(registered)
	m.serial.Dispatch(func() {
		<-registered
		m.deliver(gen, flags)
	})

	cb := func(f Flags) {
		m.serial.Dispatch(func() { m.deliver(gen, f) })
	}
	if bs, ok := m.sub.(baselineSetter); ok {
		err = bs.setCallbackFrom(flags, sampled, cb)
	} else {
		err = m.sub.SetCallback(cb)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.gen++
		m.listener = noListener
		m.logger().WithError(err).Warn("Failed to register reachability callback")
		return &RegistrationError{Target: m.target, Err: err}
	}

	m.listening = true
	m.logger().WithField("flags", flags.String()).Debug("Started listening")
	return nil
}

func (m *manager) stopListening() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.detach() {
		m.logger().Debug("Stopped listening")
	}
}

// detach invalidates the current session and unregisters the platform
// callback. It reports false if the Manager was not listening. opMu must be
// held.
func (m *manager) detach() bool {
	m.mu.Lock()
	if !m.listening {
		m.mu.Unlock()
		return false
	}
	m.listening = false
	m.listener = noListener
	m.gen++
	m.mu.Unlock()

	if err := m.sub.UnsetCallback(); err != nil {
		m.logger().WithError(err).Warn("Failed to unregister reachability callback")
	}
	return true
}

func (m *manager) close() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.detach()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.listener = noListener
	m.gen++
	m.mu.Unlock()

	m.sub.Release()
	m.serial.Close()
	m.logger().Debug("Reachability manager closed")
	return nil
}

// deliver runs on the serial context.
func (m *manager) deliver(gen uint64, flags Flags) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.flags = flags
	m.observed = true
	l := m.listener
	m.mu.Unlock()

	status := Classify(flags)
	m.logger().WithFields(log.Fields{
		"flags":  flags.String(),
		"status": status.String(),
	}).Trace("Delivering reachability status")
	l.notify(status)
}

func (m *manager) currentFlags() Flags {
	m.mu.Lock()
	cached := m.flags
	useCache := m.closed || (m.listening && m.observed)
	m.mu.Unlock()
	if useCache {
		return cached
	}

	flags, err := m.sub.Flags()
	if err != nil {
		m.logger().WithError(err).Debug("Failed to sample reachability flags")
		return cached
	}
	return flags
}
