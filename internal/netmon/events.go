package netmon

import log "github.com/sirupsen/logrus"

// EventType is the kind of kernel network change that was observed.
type EventType string

const (
	LinkChanged    EventType = "LINK_CHANGED"
	AddressChanged EventType = "ADDRESS_CHANGED"
	RouteChanged   EventType = "ROUTE_CHANGED"
)

// Event describes one change notification. InterfaceName is empty when the
// interface could not be resolved (for example because it was just removed).
type Event struct {
	Type           EventType
	InterfaceName  string
	InterfaceIndex int
}

type EventHandler func(event Event)

// Fields returns the event as log fields, leaving out what is unknown.
func (e Event) Fields() log.Fields {
	f := log.Fields{"type": e.Type}
	if e.InterfaceName != "" {
		f["interface"] = e.InterfaceName
	}
	if e.InterfaceIndex > 0 {
		f["index"] = e.InterfaceIndex
	}
	return f
}
