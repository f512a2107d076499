//go:build darwin

package netmon

import (
	"context"
	"net"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/route"
	"golang.org/x/sys/unix"
)

type darwinWatcher struct {
	done chan struct{}
}

// NewWatcher creates a macOS-specific watcher using AF_ROUTE sockets.
func NewWatcher() Watcher {
	return &darwinWatcher{
		done: make(chan struct{}),
	}
}

func (w *darwinWatcher) Done() <-chan struct{} { return w.done }

func (w *darwinWatcher) Start(ctx context.Context, callback EventHandler) error {
	fd, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_UNSPEC)
	if err != nil {
		close(w.done)
		return err
	}

	// Closing the socket is what unblocks the pending read.
	context.AfterFunc(ctx, func() { _ = unix.Close(fd) })

	go w.readRoutes(ctx, fd, callback)
	log.Debug("Route socket watcher started")
	return nil
}

func (w *darwinWatcher) readRoutes(ctx context.Context, fd int, callback EventHandler) {
	defer close(w.done)
	buf := make([]byte, os.Getpagesize())
	for {
		n, err := unix.Read(fd, buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.WithError(err).Error("Route socket read failed, watcher stopped")
			return
		}
		for _, ev := range parseRouteMessages(buf[:n]) {
			callback(ev)
		}
	}
}

func parseRouteMessages(b []byte) []Event {
	msgs, err := route.ParseRIB(route.RIBTypeRoute, b)
	if err != nil {
		// Unknown layout; still worth a resample.
		log.WithError(err).Trace("Unparseable routing message")
		return []Event{{Type: RouteChanged}}
	}

	events := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		var ev Event
		switch m := msg.(type) {
		case *route.InterfaceMessage:
			ev = Event{Type: LinkChanged, InterfaceName: m.Name, InterfaceIndex: m.Index}
		case *route.InterfaceAddrMessage:
			ev = Event{Type: AddressChanged, InterfaceIndex: m.Index}
		case *route.RouteMessage:
			ev = Event{Type: RouteChanged, InterfaceIndex: m.Index}
		default:
			continue
		}
		if ev.InterfaceName == "" && ev.InterfaceIndex > 0 {
			if iface, err := net.InterfaceByIndex(ev.InterfaceIndex); err == nil {
				ev.InterfaceName = iface.Name
			}
		}
		log.WithFields(ev.Fields()).Trace("Received interface event")
		events = append(events, ev)
	}
	return events
}
