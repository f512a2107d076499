package reachability

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmdmdm-nz/reachd/internal/netmon"
)

type fakeWatcher struct {
	mu       sync.Mutex
	callback netmon.EventHandler
	startErr error
	done     chan struct{}
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{done: make(chan struct{})}
}

func (w *fakeWatcher) Start(ctx context.Context, callback netmon.EventHandler) error {
	if w.startErr != nil {
		close(w.done)
		return w.startErr
	}
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
	go func() {
		<-ctx.Done()
		close(w.done)
	}()
	return nil
}

func (w *fakeWatcher) Done() <-chan struct{} { return w.done }

func (w *fakeWatcher) fire() {
	w.fireEvent(netmon.Event{Type: netmon.RouteChanged})
}

func (w *fakeWatcher) fireEvent(ev netmon.Event) {
	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()
	cb(ev)
}

func newTestSubscription(t *testing.T, w *fakeWatcher, flags *atomic.Uint32) *systemSubscription {
	t.Helper()
	p := SystemPlatform(
		WithPollInterval(0),
		WithWatcher(func() netmon.Watcher { return w }),
	).(*systemPlatform)
	p.sample = func(context.Context, *net.Resolver, Target) (Flags, error) {
		return Flags(flags.Load()), nil
	}

	sub, err := p.Create(HostTarget("Example.COM"))
	require.NoError(t, err)
	return sub.(*systemSubscription)
}

func TestSystemSubscription_CallsBackOnlyOnChange(t *testing.T) {
	var flags atomic.Uint32
	flags.Store(uint32(FlagReachable))
	w := newFakeWatcher()
	sub := newTestSubscription(t, w, &flags)
	assert.Equal(t, "example.com", sub.target.Host)

	got := make(chan Flags, 4)
	require.NoError(t, sub.SetCallback(func(f Flags) { got <- f }))

	w.fire()
	select {
	case f := <-got:
		t.Fatalf("unexpected callback with %s", f)
	case <-time.After(100 * time.Millisecond):
	}

	flags.Store(uint32(FlagReachable | FlagIsWWAN))
	w.fire()
	select {
	case f := <-got:
		assert.Equal(t, FlagReachable|FlagIsWWAN, f)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}

	require.NoError(t, sub.UnsetCallback())
	select {
	case <-w.Done():
	default:
		t.Fatal("watcher still running after UnsetCallback")
	}
	require.NoError(t, sub.UnsetCallback())
}

func TestSystemSubscription_FallsBackToPolling(t *testing.T) {
	var flags atomic.Uint32
	w := newFakeWatcher()
	w.startErr = assert.AnError
	sub := newTestSubscription(t, w, &flags)

	require.NoError(t, sub.SetCallback(func(Flags) {}))
	sub.mu.Lock()
	fallback := sub.watcher
	sub.mu.Unlock()
	assert.NotSame(t, w, fallback)

	sub.Release()
	select {
	case <-fallback.Done():
	default:
		t.Fatal("poll watcher still running after Release")
	}
}

func TestSystemSubscription_ReleasedRefusesCallback(t *testing.T) {
	var flags atomic.Uint32
	sub := newTestSubscription(t, newFakeWatcher(), &flags)

	sub.Release()
	assert.Error(t, sub.SetCallback(func(Flags) {}))
}

func TestSystemSubscription_PollTimerResamples(t *testing.T) {
	var flags atomic.Uint32
	w := newFakeWatcher()
	p := SystemPlatform(
		WithPollInterval(10*time.Millisecond),
		WithWatcher(func() netmon.Watcher { return w }),
	).(*systemPlatform)
	p.sample = func(context.Context, *net.Resolver, Target) (Flags, error) {
		return Flags(flags.Load()), nil
	}
	sub, err := p.Create(AnyTarget)
	require.NoError(t, err)
	defer sub.Release()

	got := make(chan Flags, 1)
	require.NoError(t, sub.SetCallback(func(f Flags) {
		select {
		case got <- f:
		default:
		}
	}))

	flags.Store(uint32(FlagReachable))
	select {
	case f := <-got:
		assert.Equal(t, FlagReachable, f)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for periodic resample")
	}
}

func waitFlags(t *testing.T, got <-chan Flags) Flags {
	t.Helper()
	select {
	case f := <-got:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		return 0
	}
}

func TestSystemSubscription_FlagsDoesNotHideChange(t *testing.T) {
	var flags atomic.Uint32
	flags.Store(uint32(FlagReachable))
	w := newFakeWatcher()
	sub := newTestSubscription(t, w, &flags)
	defer sub.Release()

	got := make(chan Flags, 4)
	require.NoError(t, sub.SetCallback(func(f Flags) { got <- f }))

	// A direct sample in between must not become the loop's reference.
	flags.Store(uint32(FlagReachable | FlagIsWWAN))
	sampled, err := sub.Flags()
	require.NoError(t, err)
	assert.Equal(t, FlagReachable|FlagIsWWAN, sampled)

	w.fire()
	assert.Equal(t, FlagReachable|FlagIsWWAN, waitFlags(t, got))
}

func TestSystemSubscription_StartsFromGivenBaseline(t *testing.T) {
	var flags atomic.Uint32
	flags.Store(uint32(FlagReachable))
	w := newFakeWatcher()
	sub := newTestSubscription(t, w, &flags)
	defer sub.Release()

	// The caller last reported no flags; the network changed before the loop
	// started.
	got := make(chan Flags, 4)
	require.NoError(t, sub.setCallbackFrom(0, true, func(f Flags) { got <- f }))

	w.fire()
	assert.Equal(t, FlagReachable, waitFlags(t, got))
}

func TestSystemSubscription_UnknownBaselineReportsFirstSample(t *testing.T) {
	var flags atomic.Uint32
	w := newFakeWatcher()
	sub := newTestSubscription(t, w, &flags)
	defer sub.Release()

	got := make(chan Flags, 4)
	require.NoError(t, sub.setCallbackFrom(0, false, func(f Flags) { got <- f }))

	w.fire()
	assert.Equal(t, Flags(0), waitFlags(t, got))
}

func TestSystemSubscription_LogsTriggeringEvent(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()
	level := log.GetLevel()
	log.SetLevel(log.DebugLevel)
	defer log.SetLevel(level)

	var flags atomic.Uint32
	w := newFakeWatcher()
	sub := newTestSubscription(t, w, &flags)
	defer sub.Release()
	require.NoError(t, sub.SetCallback(func(Flags) {}))

	w.fireEvent(netmon.Event{Type: netmon.LinkChanged, InterfaceName: "wlan0", InterfaceIndex: 3})

	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "Resampling after network change" {
				return e.Data["interface"] == "wlan0" &&
					e.Data["type"] == netmon.LinkChanged &&
					e.Data["target"] == "example.com"
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNormalizeTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"localhost", "localhost", false},
		{"Example.COM", "example.com", false},
		{"bücher.example", "xn--bcher-kva.example", false},
		{"192.168.0.1", "192.168.0.1", false},
		{"fe80::1%eth0", "fe80::1%eth0", false},
		{"::ffff:1.2.3.4", "::ffff:1.2.3.4", false},
		{"bad host", "", true},
		{"a..b", "", true},
		{"host/path", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeTarget(HostTarget(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Host)
		})
	}
}
