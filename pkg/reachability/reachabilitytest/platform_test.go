package reachabilitytest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmdmdm-nz/reachd/pkg/reachability"
)

func TestPlatform_CreateRecordsSubscriptions(t *testing.T) {
	p := NewPlatform()
	p.SetInitialFlags(reachability.FlagReachable)

	sub, err := p.Create(reachability.HostTarget("example.com"))
	require.NoError(t, err)

	assert.Equal(t, 1, p.Created())
	assert.Same(t, sub, p.Last())
	assert.Equal(t, "example.com", p.Last().Target().Host)

	flags, err := sub.Flags()
	require.NoError(t, err)
	assert.Equal(t, reachability.FlagReachable, flags)
}

func TestPlatform_FailCreate(t *testing.T) {
	p := NewPlatform()
	boom := errors.New("boom")
	p.FailCreate(boom)

	sub, err := p.Create(reachability.AnyTarget)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, sub)
	assert.Nil(t, p.Last())
}

func TestSubscription_EmitOnlyWhileAttached(t *testing.T) {
	s := &Subscription{}

	var got []reachability.Flags
	assert.False(t, s.Emit(reachability.FlagReachable))

	require.NoError(t, s.SetCallback(func(f reachability.Flags) { got = append(got, f) }))
	assert.True(t, s.Emit(reachability.FlagReachable|reachability.FlagIsWWAN))

	require.NoError(t, s.UnsetCallback())
	require.NoError(t, s.UnsetCallback())
	assert.False(t, s.Emit(0))

	assert.Equal(t, []reachability.Flags{reachability.FlagReachable | reachability.FlagIsWWAN}, got)
	assert.Equal(t, 1, s.SetCalls())
	assert.Equal(t, 1, s.UnsetCalls())

	flags, _ := s.Flags()
	assert.Equal(t, reachability.Flags(0), flags)
}

func TestSubscription_Failures(t *testing.T) {
	s := &Subscription{}
	boom := errors.New("boom")

	s.FailSetCallback(boom)
	assert.ErrorIs(t, s.SetCallback(func(reachability.Flags) {}), boom)
	assert.False(t, s.HasCallback())

	s.FailFlags(boom)
	_, err := s.Flags()
	assert.ErrorIs(t, err, boom)

	s.Release()
	s.FailSetCallback(nil)
	assert.Error(t, s.SetCallback(func(reachability.Flags) {}))
	assert.Equal(t, 1, s.Releases())
}

func TestSubscription_EmitDoesNotSerialiseCallbacks(t *testing.T) {
	s := &Subscription{}
	inside := make(chan struct{}, 2)
	release := make(chan struct{})
	require.NoError(t, s.SetCallback(func(reachability.Flags) {
		inside <- struct{}{}
		<-release
	}))

	for i := 0; i < 2; i++ {
		go s.Emit(reachability.FlagReachable)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-inside:
		case <-time.After(time.Second):
			close(release)
			t.Fatal("second Emit waited for the first callback")
		}
	}
	close(release)
}

func TestSubscription_HoldFlags(t *testing.T) {
	s := &Subscription{}
	s.SetFlags(reachability.FlagReachable)
	entered, release := s.HoldFlags()

	got := make(chan reachability.Flags, 1)
	go func() {
		f, _ := s.Flags()
		got <- f
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("Flags did not start")
	}
	select {
	case <-got:
		t.Fatal("Flags returned while held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	release()
	select {
	case f := <-got:
		assert.Equal(t, reachability.FlagReachable, f)
	case <-time.After(time.Second):
		t.Fatal("Flags still held after release")
	}
}
