//go:build linux

package reachability

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// sampleFlags asks the kernel which route it would pick for the target. When
// netlink is unavailable it falls back to the interface table.
func sampleFlags(ctx context.Context, r *net.Resolver, t Target) (Flags, error) {
	if t.IsAny() {
		flags, err := defaultRouteFlags()
		if err != nil {
			log.WithError(err).Debug("Netlink route list failed, using interface table")
			return sampleTable(ctx, r, t)
		}
		return flags, nil
	}

	addrs, err := resolveTarget(ctx, r, t)
	if err != nil {
		return unresolved(ctx, t, err)
	}

	for _, addr := range addrs {
		flags, err := routeGetFlags(addr.AsSlice())
		if err != nil {
			log.WithError(err).WithField("addr", addr).Debug("Netlink route lookup failed, using interface table")
			return sampleTable(ctx, r, t)
		}
		if flags.Has(FlagReachable) {
			return flags, nil
		}
	}
	return 0, nil
}

func routeGetFlags(ip net.IP) (Flags, error) {
	routes, err := netlink.RouteGet(ip)
	if err != nil {
		if isUnreachable(err) {
			return 0, nil
		}
		return 0, err
	}
	for _, rt := range routes {
		if f := linkRouteFlags(rt); f.Has(FlagReachable) {
			return f, nil
		}
	}
	return 0, nil
}

// defaultRouteFlags reports the flags of the preferred default route of either
// family. Traffic to "any address" is never local or direct.
func defaultRouteFlags() (Flags, error) {
	var defaults []netlink.Route
	for _, family := range []int{netlink.FAMILY_V4, netlink.FAMILY_V6} {
		routes, err := netlink.RouteList(nil, family)
		if err != nil {
			return 0, err
		}
		for _, rt := range routes {
			if isDefaultRoute(rt) {
				defaults = append(defaults, rt)
			}
		}
	}
	sort.SliceStable(defaults, func(i, j int) bool {
		return defaults[i].Priority < defaults[j].Priority
	})

	for _, rt := range defaults {
		if f := linkRouteFlags(rt); f.Has(FlagReachable) {
			return f &^ (FlagIsLocalAddress | FlagIsDirect), nil
		}
	}
	return 0, nil
}

func isDefaultRoute(rt netlink.Route) bool {
	if rt.Table != 0 && rt.Table != unix.RT_TABLE_MAIN {
		return false
	}
	if rt.Dst == nil {
		return true
	}
	ones, _ := rt.Dst.Mask.Size()
	return ones == 0
}

func isUnreachable(err error) bool {
	return errors.Is(err, unix.ENETUNREACH) ||
		errors.Is(err, unix.EHOSTUNREACH) ||
		errors.Is(err, unix.ENETDOWN)
}

// linkRouteFlags looks up the outgoing link of rt and classifies the pair.
func linkRouteFlags(rt netlink.Route) Flags {
	index := rt.LinkIndex
	if index == 0 && len(rt.MultiPath) > 0 {
		index = rt.MultiPath[0].LinkIndex
	}
	if index == 0 {
		return routeFlags(rt, nil, "")
	}
	link, err := netlink.LinkByIndex(index)
	if err != nil {
		log.WithError(err).WithField("index", index).Debug("Failed to look up route link")
		return 0
	}
	return routeFlags(rt, link, readDevType(link.Attrs().Name))
}

// routeFlags maps a kernel route and its outgoing link to reachability flags.
func routeFlags(rt netlink.Route, link netlink.Link, devType string) Flags {
	switch rt.Type {
	case unix.RTN_UNREACHABLE, unix.RTN_BLACKHOLE, unix.RTN_PROHIBIT:
		return 0
	}
	if rt.Flags&unix.RTNH_F_LINKDOWN != 0 {
		return 0
	}

	if rt.Type == unix.RTN_LOCAL {
		return FlagReachable | FlagIsLocalAddress | FlagIsDirect
	}
	if link == nil {
		return 0
	}

	attrs := link.Attrs()
	if attrs.Flags&net.FlagUp == 0 || attrs.OperState == netlink.OperDown {
		return 0
	}
	if attrs.Flags&net.FlagLoopback != 0 {
		return FlagReachable | FlagIsLocalAddress | FlagIsDirect
	}

	flags := FlagReachable | interfaceKindFlags(attrs.Name, link.Type(), devType)
	if !hasGateway(rt) {
		flags |= FlagIsDirect
	}
	return flags
}

func hasGateway(rt netlink.Route) bool {
	if rt.Gw != nil {
		return true
	}
	for _, nh := range rt.MultiPath {
		if nh != nil && nh.Gw != nil {
			return true
		}
	}
	return rt.Via != nil
}

// readDevType returns the DEVTYPE the kernel reports for an interface, such as
// "wwan" or "wlan", or an empty string.
func readDevType(name string) string {
	if name == "" || strings.ContainsRune(name, '/') {
		return ""
	}
	f, err := os.Open(filepath.Join("/sys/class/net", name, "uevent"))
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if v, ok := strings.CutPrefix(scanner.Text(), "DEVTYPE="); ok {
			return v
		}
	}
	return ""
}
