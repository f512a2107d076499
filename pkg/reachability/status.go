package reachability

import "fmt"

// ConnectionType is the kind of interface a reachable target is reached through.
type ConnectionType int

const (
	EthernetOrWiFi ConnectionType = iota + 1
	Cellular
)

func (c ConnectionType) String() string {
	switch c {
	case EthernetOrWiFi:
		return "ethernet-or-wifi"
	case Cellular:
		return "cellular"
	default:
		return "unknown"
	}
}

// Status is the classified reachability of a target. It is one of
// NotReachable, Reachable(Cellular) or Reachable(EthernetOrWiFi); two values are
// equal iff they are the same variant. The zero value is NotReachable.
type Status struct {
	reachable bool
	conn      ConnectionType
}

// NotReachable is the conservative status used before anything is known.
var NotReachable = Status{}

// Reachable returns the reachable status for the given connection type. Any
// value other than Cellular yields Reachable(EthernetOrWiFi), so a Status is
// always one of the three variants.
func Reachable(conn ConnectionType) Status {
	if conn != Cellular {
		conn = EthernetOrWiFi
	}
	return Status{reachable: true, conn: conn}
}

func (s Status) IsReachable() bool { return s.reachable }

// ConnectionType returns the interface kind, and false for NotReachable.
func (s Status) ConnectionType() (ConnectionType, bool) {
	return s.conn, s.reachable
}

func (s Status) IsReachableOnCellular() bool {
	return s.reachable && s.conn == Cellular
}

func (s Status) IsReachableOnEthernetOrWiFi() bool {
	return s.reachable && s.conn == EthernetOrWiFi
}

func (s Status) String() string {
	if !s.reachable {
		return "not-reachable"
	}
	return "reachable-" + s.conn.String()
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "not-reachable":
		*s = NotReachable
	case "reachable-ethernet-or-wifi":
		*s = Reachable(EthernetOrWiFi)
	case "reachable-cellular":
		*s = Reachable(Cellular)
	default:
		return fmt.Errorf("unknown reachability status %q", string(b))
	}
	return nil
}

// Classify maps platform flags to a Status. It is pure and total.
//
// A target is reachable when the reachable flag is present and either no
// connection is required, or the connection comes up by itself (on demand or on
// traffic) without user intervention. Reachable targets are then split by
// interface: WWAN means cellular, anything else is ethernet or wifi.
func Classify(flags Flags) Status {
	if !isReachable(flags) {
		return NotReachable
	}
	if flags.Has(FlagIsWWAN) {
		return Reachable(Cellular)
	}
	return Reachable(EthernetOrWiFi)
}

func isReachable(flags Flags) bool {
	if !flags.Has(FlagReachable) {
		return false
	}
	if !flags.Has(FlagConnectionRequired) {
		return true
	}
	automatic := flags.Has(FlagConnectionOnDemand) || flags.Has(FlagConnectionOnTraffic)
	return automatic && !flags.Has(FlagInterventionRequired)
}
