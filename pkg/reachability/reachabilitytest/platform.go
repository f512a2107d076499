// Package reachabilitytest provides an in-memory reachability platform whose
// flags and failures are driven by the test.
package reachabilitytest

import (
	"fmt"
	"sync"

	"github.com/dmdmdm-nz/reachd/pkg/reachability"
)

// Platform is a reachability.Platform that records every subscription it
// creates.
type Platform struct {
	mu        sync.Mutex
	createErr error
	initial   reachability.Flags
	subs      []*Subscription
}

func NewPlatform() *Platform {
	return &Platform{}
}

// FailCreate makes subsequent Create calls fail with err. A nil err restores
// normal behaviour.
func (p *Platform) FailCreate(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createErr = err
}

// SetInitialFlags sets the flags new subscriptions start with.
func (p *Platform) SetInitialFlags(f reachability.Flags) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initial = f
}

func (p *Platform) Create(target reachability.Target) (reachability.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	s := &Subscription{target: target, flags: p.initial}
	p.subs = append(p.subs, s)
	return s, nil
}

// Created is the number of subscriptions handed out.
func (p *Platform) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Last returns the most recent subscription, or nil.
func (p *Platform) Last() *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.subs) == 0 {
		return nil
	}
	return p.subs[len(p.subs)-1]
}

// Subscription is the fake platform handle. Emit plays the role of the
// operating system reporting a change.
type Subscription struct {
	target reachability.Target

	mu       sync.Mutex
	flags    reachability.Flags
	flagsErr error
	held     chan struct{}
	entered  chan struct{}
	setErr   error
	cb       func(reachability.Flags)
	sets     int
	unsets   int
	releases int
}

func (s *Subscription) Target() reachability.Target { return s.target }

func (s *Subscription) SetCallback(cb func(reachability.Flags)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.releases > 0 {
		return fmt.Errorf("subscription for %s released", s.target)
	}
	if s.setErr != nil {
		return s.setErr
	}
	s.sets++
	s.cb = cb
	return nil
}

func (s *Subscription) UnsetCallback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cb != nil {
		s.unsets++
		s.cb = nil
	}
	return nil
}

func (s *Subscription) Flags() (reachability.Flags, error) {
	s.mu.Lock()
	held, entered := s.held, s.entered
	s.mu.Unlock()
	if held != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-held
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flagsErr != nil {
		return 0, s.flagsErr
	}
	return s.flags, nil
}

func (s *Subscription) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	s.cb = nil
}

// Emit stores f as the current flags and invokes the attached callback, if
// any, on the calling goroutine. It reports whether a callback ran. Concurrent
// Emits invoke the callback concurrently, as a real platform may.
func (s *Subscription) Emit(f reachability.Flags) bool {
	s.mu.Lock()
	s.flags = f
	cb := s.cb
	s.mu.Unlock()

	if cb == nil {
		return false
	}
	cb(f)
	return true
}

// SetFlags changes the sampled flags without notifying anyone.
func (s *Subscription) SetFlags(f reachability.Flags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = f
}

// HoldFlags makes Flags block until release is called. entered receives a
// value each time a Flags call starts waiting.
func (s *Subscription) HoldFlags() (entered <-chan struct{}, release func()) {
	held := make(chan struct{})
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.held, s.entered = held, ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			s.held, s.entered = nil, nil
			s.mu.Unlock()
			close(held)
		})
	}
}

// FailFlags makes Flags return err until called again with nil.
func (s *Subscription) FailFlags(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flagsErr = err
}

// FailSetCallback makes SetCallback return err until called again with nil.
func (s *Subscription) FailSetCallback(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErr = err
}

// HasCallback reports whether a callback is attached.
func (s *Subscription) HasCallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb != nil
}

// SetCalls counts successful SetCallback calls.
func (s *Subscription) SetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

// UnsetCalls counts UnsetCallback calls that detached a callback.
func (s *Subscription) UnsetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsets
}

func (s *Subscription) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}
