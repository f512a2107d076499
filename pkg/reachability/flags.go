package reachability

import "strings"

// Flags is the set of connectivity conditions a platform reports for a target.
// Bits are named; code must test them with Has rather than raw values, since the
// layout is ours and not any particular OS's.
type Flags uint32

const (
	// FlagReachable: the target can be reached using the current network configuration.
	FlagReachable Flags = 1 << iota
	// FlagConnectionRequired: reachable, but a connection must first be established.
	FlagConnectionRequired
	// FlagInterventionRequired: establishing the connection needs user action.
	FlagInterventionRequired
	// FlagConnectionOnTraffic: traffic to the target will bring the connection up.
	FlagConnectionOnTraffic
	// FlagConnectionOnDemand: the connection is established on demand by the network stack.
	FlagConnectionOnDemand
	// FlagIsTransient: reachable via a transient (e.g. PPP) link.
	FlagIsTransient
	// FlagIsWWAN: reachable via a cellular interface.
	FlagIsWWAN
	// FlagIsLocalAddress: the target is an address of a local interface.
	FlagIsLocalAddress
	// FlagIsDirect: traffic does not go through a gateway.
	FlagIsDirect

	flagSentinel
)

// AllFlags has every defined bit set.
const AllFlags = flagSentinel - 1

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagReachable, "reachable"},
	{FlagConnectionRequired, "connection-required"},
	{FlagInterventionRequired, "intervention-required"},
	{FlagConnectionOnTraffic, "connection-on-traffic"},
	{FlagConnectionOnDemand, "connection-on-demand"},
	{FlagIsTransient, "transient"},
	{FlagIsWWAN, "wwan"},
	{FlagIsLocalAddress, "local-address"},
	{FlagIsDirect, "direct"},
}

// Has reports whether every bit in mask is set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	if extra := f &^ AllFlags; extra != 0 {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "|")
}
