package reachability

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/idna"

	"github.com/dmdmdm-nz/reachd/internal/netmon"
)

const (
	defaultPollInterval  = 30 * time.Second
	defaultLookupTimeout = 2 * time.Second
)

// hostProfile validates and normalises host names the way a resolver would
// look them up.
var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.VerifyDNSLength(true),
)

type SystemOption func(*systemPlatform)

// WithPollInterval sets how often a listening subscription resamples its flags
// without a kernel notification. This catches DNS answers that change while the
// interfaces stay the same. Zero or negative disables periodic resampling.
func WithPollInterval(d time.Duration) SystemOption {
	return func(p *systemPlatform) { p.pollInterval = d }
}

// WithLookupTimeout bounds each host name resolution.
func WithLookupTimeout(d time.Duration) SystemOption {
	return func(p *systemPlatform) {
		if d > 0 {
			p.lookupTimeout = d
		}
	}
}

// WithResolver replaces the resolver used for host targets.
func WithResolver(r *net.Resolver) SystemOption {
	return func(p *systemPlatform) { p.resolver = r }
}

// WithWatcher replaces the source of network change notifications.
func WithWatcher(newWatcher func() netmon.Watcher) SystemOption {
	return func(p *systemPlatform) { p.newWatcher = newWatcher }
}

type systemPlatform struct {
	pollInterval  time.Duration
	lookupTimeout time.Duration
	resolver      *net.Resolver
	newWatcher    func() netmon.Watcher
	sample        func(ctx context.Context, r *net.Resolver, t Target) (Flags, error)
}

// SystemPlatform returns the Platform backed by the host's network stack.
func SystemPlatform(opts ...SystemOption) Platform {
	p := &systemPlatform{
		pollInterval:  defaultPollInterval,
		lookupTimeout: defaultLookupTimeout,
		resolver:      net.DefaultResolver,
		newWatcher:    netmon.NewWatcher,
		sample:        sampleFlags,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *systemPlatform) Create(target Target) (Subscription, error) {
	normalized, err := NormalizeTarget(target)
	if err != nil {
		return nil, err
	}
	return &systemSubscription{
		platform: p,
		target:   normalized,
	}, nil
}

// NormalizeTarget validates a target and returns it in the form the system
// platform resolves: IP literals unchanged (zone preserved), host names in
// their lower-case ASCII form.
func NormalizeTarget(t Target) (Target, error) {
	if t.IsAny() {
		return t, nil
	}
	if addr, err := netip.ParseAddr(t.Host); err == nil {
		return Target{Host: addr.String()}, nil
	}
	ascii, err := hostProfile.ToASCII(t.Host)
	if err != nil {
		return Target{}, fmt.Errorf("%w %q: %w", ErrInvalidTarget, t.Host, err)
	}
	for _, r := range ascii {
		if !isHostChar(r) {
			return Target{}, fmt.Errorf("%w %q: invalid character %q", ErrInvalidTarget, t.Host, r)
		}
	}
	return Target{Host: ascii}, nil
}

func isHostChar(r rune) bool {
	return r == '-' || r == '.' || r == '_' ||
		('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
}

type systemSubscription struct {
	platform *systemPlatform
	target   Target

	mu       sync.Mutex
	cancel   context.CancelFunc
	watcher  netmon.Watcher
	loopDone chan struct{}
	released bool
}

func (s *systemSubscription) logger() *log.Entry {
	return log.WithField("target", s.target.String())
}

// Flags samples the target. It does not touch the state of a running callback
// loop.
func (s *systemSubscription) Flags() (Flags, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.platform.lookupTimeout)
	defer cancel()
	return s.platform.sample(ctx, s.platform.resolver, s.target)
}

// SetCallback starts the change loop. The loop's baseline is sampled here, so
// cb only fires for changes after SetCallback returns.
func (s *systemSubscription) SetCallback(cb func(Flags)) error {
	baseline, err := s.Flags()
	if err != nil {
		s.logger().WithError(err).Debug("Failed to sample baseline flags")
		return s.setCallbackFrom(0, false, cb)
	}
	return s.setCallbackFrom(baseline, true, cb)
}

// setCallbackFrom starts the change loop against flags the caller has already
// reported, so a change between that sample and the loop start is not lost.
func (s *systemSubscription) setCallbackFrom(baseline Flags, known bool, cb func(Flags)) error {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return fmt.Errorf("subscription for %s already released", s.target)
	}

	if err := s.UnsetCallback(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan netmon.Event, 1)
	notify := func(ev netmon.Event) {
		// The first pending event stands for the whole burst.
		select {
		case events <- ev:
		default:
		}
	}

	w := s.platform.newWatcher()
	if err := w.Start(ctx, notify); err != nil {
		s.logger().WithError(err).Warn("Network change notifications unavailable, falling back to polling")
		w = netmon.NewPollWatcher(netmon.DefaultPollInterval)
		if err := w.Start(ctx, notify); err != nil {
			cancel()
			return err
		}
	}

	loopDone := make(chan struct{})
	go s.run(ctx, changeLoop{events: events, cb: cb, last: baseline, known: known}, loopDone)

	s.mu.Lock()
	s.cancel = cancel
	s.watcher = w
	s.loopDone = loopDone
	s.mu.Unlock()
	return nil
}

// changeLoop is owned by the run goroutine.
type changeLoop struct {
	events <-chan netmon.Event
	cb     func(Flags)
	last   Flags
	known  bool
}

// run resamples on every change notification (coalescing bursts) and on the
// poll timer, and invokes cb only when the flags differ from the last value.
func (s *systemSubscription) run(ctx context.Context, loop changeLoop, done chan<- struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if s.platform.pollInterval > 0 {
		t := time.NewTicker(s.platform.pollInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-loop.events:
			s.logger().WithFields(ev.Fields()).Debug("Resampling after network change")
		case <-tick:
			s.logger().Trace("Periodic resample")
		}

		sampleCtx, cancel := context.WithTimeout(ctx, s.platform.lookupTimeout)
		flags, err := s.platform.sample(sampleCtx, s.platform.resolver, s.target)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger().WithError(err).Debug("Failed to resample reachability flags")
			continue
		}

		if loop.known && flags == loop.last {
			continue
		}
		loop.last, loop.known = flags, true
		s.logger().WithField("flags", flags.String()).Debug("Reachability flags changed")
		loop.cb(flags)
	}
}

func (s *systemSubscription) UnsetCallback() error {
	s.mu.Lock()
	cancel, w, loopDone := s.cancel, s.watcher, s.loopDone
	s.cancel, s.watcher, s.loopDone = nil, nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-w.Done()
	<-loopDone
	return nil
}

func (s *systemSubscription) Release() {
	_ = s.UnsetCallback()
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
}
