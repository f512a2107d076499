//go:build linux

package netmon

import (
	"context"
	"net"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

type linuxWatcher struct {
	done chan struct{}
}

// NewWatcher creates a Linux-specific watcher using netlink.
func NewWatcher() Watcher {
	return &linuxWatcher{
		done: make(chan struct{}),
	}
}

func (w *linuxWatcher) Done() <-chan struct{} { return w.done }

func (w *linuxWatcher) Start(ctx context.Context, callback EventHandler) error {
	linkCh := make(chan netlink.LinkUpdate, 16)
	addrCh := make(chan netlink.AddrUpdate, 16)
	routeCh := make(chan netlink.RouteUpdate, 16)
	stop := make(chan struct{})

	fail := func(err error) error {
		close(stop)
		close(w.done)
		return err
	}

	if err := netlink.LinkSubscribe(linkCh, stop); err != nil {
		return fail(err)
	}
	if err := netlink.AddrSubscribe(addrCh, stop); err != nil {
		go drain(linkCh)
		return fail(err)
	}
	if err := netlink.RouteSubscribe(routeCh, stop); err != nil {
		go drain(linkCh)
		go drain(addrCh)
		return fail(err)
	}

	go func() {
		defer close(w.done)
		defer func() {
			close(stop)
			// The netlink readers close their channels once the sockets are
			// shut down; keep reading so none of them blocks on a send.
			go drain(linkCh)
			go drain(addrCh)
			go drain(routeCh)
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case update, ok := <-linkCh:
				if !ok {
					log.Warn("Netlink link subscription closed")
					return
				}
				callback(linkEvent(update))

			case update, ok := <-addrCh:
				if !ok {
					log.Warn("Netlink address subscription closed")
					return
				}
				callback(indexEvent(AddressChanged, update.LinkIndex))

			case update, ok := <-routeCh:
				if !ok {
					log.Warn("Netlink route subscription closed")
					return
				}
				callback(indexEvent(RouteChanged, update.Route.LinkIndex))
			}
		}
	}()

	log.Trace("Netlink watcher started")
	return nil
}

func linkEvent(update netlink.LinkUpdate) Event {
	attrs := update.Link.Attrs()
	log.WithFields(log.Fields{
		"interface": attrs.Name,
		"up":        attrs.Flags&net.FlagUp != 0,
	}).Trace("Received link update")
	return Event{
		Type:           LinkChanged,
		InterfaceName:  attrs.Name,
		InterfaceIndex: attrs.Index,
	}
}

func indexEvent(typ EventType, index int) Event {
	ev := Event{Type: typ, InterfaceIndex: index}
	if index > 0 {
		if iface, err := net.InterfaceByIndex(index); err == nil {
			ev.InterfaceName = iface.Name
		}
	}
	log.WithFields(ev.Fields()).Trace("Received netlink update")
	return ev
}

func drain[T any](ch chan T) {
	for range ch {
	}
}
