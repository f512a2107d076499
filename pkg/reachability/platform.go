package reachability

// Target is the destination a Manager observes: a host name or IP literal, or,
// when Host is empty, any reachable interface.
type Target struct {
	Host string
}

// AnyTarget observes general connectivity rather than a specific host.
var AnyTarget = Target{}

func HostTarget(host string) Target {
	return Target{Host: host}
}

func (t Target) IsAny() bool { return t.Host == "" }

func (t Target) String() string {
	if t.IsAny() {
		return "0.0.0.0"
	}
	return t.Host
}

// Platform creates reachability subscriptions. Implementations decide which
// targets are acceptable.
type Platform interface {
	Create(target Target) (Subscription, error)
}

// Subscription is a platform handle bound to one target. A Manager owns its
// Subscription exclusively and never shares it.
type Subscription interface {
	// SetCallback attaches cb, which the platform invokes whenever the flags for
	// the target change. cb may be called from any goroutine.
	SetCallback(cb func(Flags)) error
	// UnsetCallback detaches the callback. It is idempotent, and once it returns
	// the previously attached callback is not invoked again.
	UnsetCallback() error
	// Flags samples the current flags synchronously.
	Flags() (Flags, error)
	// Release frees the handle. It is called at most once, after UnsetCallback.
	Release()
}

// baselineSetter is implemented by subscriptions that only call back on change.
// The Manager hands over the flags of its initial delivery so the comparison
// starts from what the listener has already seen.
type baselineSetter interface {
	setCallbackFrom(baseline Flags, known bool, cb func(Flags)) error
}
