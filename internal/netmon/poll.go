package netmon

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultPollInterval is used by the polling watcher when no interval is given.
const DefaultPollInterval = 5 * time.Second

type pollWatcher struct {
	interval time.Duration
	list     func() ([]net.Interface, error)
	done     chan struct{}
}

// NewPollWatcher creates a watcher that diffs the interface table on a timer.
// It works wherever the standard library can list interfaces and is the
// fallback when no kernel notification source is available.
func NewPollWatcher(interval time.Duration) Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &pollWatcher{
		interval: interval,
		list:     net.Interfaces,
		done:     make(chan struct{}),
	}
}

func (w *pollWatcher) Done() <-chan struct{} { return w.done }

func (w *pollWatcher) Start(ctx context.Context, callback EventHandler) error {
	prev, err := w.snapshot()
	if err != nil {
		close(w.done)
		return err
	}

	go func() {
		defer close(w.done)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cur, err := w.snapshot()
				if err != nil {
					log.Errorf("Error getting network interfaces: %v", err)
					continue
				}
				for _, ev := range diffSnapshots(prev, cur) {
					callback(ev)
				}
				prev = cur
			}
		}
	}()
	return nil
}

type ifaceState struct {
	index int
	flags net.Flags
	addrs string
}

func (w *pollWatcher) snapshot() (map[string]ifaceState, error) {
	interfaces, err := w.list()
	if err != nil {
		return nil, err
	}

	out := make(map[string]ifaceState, len(interfaces))
	for _, iface := range interfaces {
		st := ifaceState{index: iface.Index, flags: iface.Flags}
		if addrs, err := iface.Addrs(); err == nil {
			list := make([]string, 0, len(addrs))
			for _, a := range addrs {
				list = append(list, a.String())
			}
			sort.Strings(list)
			st.addrs = strings.Join(list, ",")
		}
		out[iface.Name] = st
	}
	return out, nil
}

// diffSnapshots reports one event per interface whose state differs. Events
// are ordered by interface name.
func diffSnapshots(prev, cur map[string]ifaceState) []Event {
	names := make(map[string]struct{}, len(prev)+len(cur))
	for name := range prev {
		names[name] = struct{}{}
	}
	for name := range cur {
		names[name] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	var events []Event
	for _, name := range sorted {
		p, hadPrev := prev[name]
		c, hasCur := cur[name]
		switch {
		case !hadPrev || !hasCur || p.flags != c.flags:
			idx := c.index
			if !hasCur {
				idx = p.index
			}
			events = append(events, Event{Type: LinkChanged, InterfaceName: name, InterfaceIndex: idx})
		case p.addrs != c.addrs:
			events = append(events, Event{Type: AddressChanged, InterfaceName: name, InterfaceIndex: c.index})
		}
	}
	return events
}
