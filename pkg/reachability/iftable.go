package reachability

import (
	"context"
	"net"
	"net/netip"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Interface name prefixes used by cellular modems across Linux drivers, Android
// and Darwin.
var wwanPrefixes = []string{"wwan", "rmnet", "ccmni", "qmimux", "pdp_ip"}

func interfaceKindFlags(name, linkType, devType string) Flags {
	var f Flags
	if linkType == "ppp" || strings.HasPrefix(name, "ppp") {
		f |= FlagIsTransient
	}
	if devType == "wwan" {
		return f | FlagIsWWAN
	}
	for _, p := range wwanPrefixes {
		if strings.HasPrefix(name, p) {
			return f | FlagIsWWAN
		}
	}
	return f
}

func resolveTarget(ctx context.Context, r *net.Resolver, t Target) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(t.Host); err == nil {
		return []netip.Addr{addr.Unmap()}, nil
	}
	addrs, err := r.LookupNetIP(ctx, "ip", t.Host)
	if err != nil {
		return nil, err
	}
	for i := range addrs {
		addrs[i] = addrs[i].Unmap()
	}
	return addrs, nil
}

type ifaceInfo struct {
	name     string
	up       bool
	loopback bool
	prefixes []netip.Prefix
}

func interfaceTable() ([]ifaceInfo, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	table := make([]ifaceInfo, 0, len(interfaces))
	for _, iface := range interfaces {
		info := ifaceInfo{
			name:     iface.Name,
			up:       iface.Flags&net.FlagUp != 0,
			loopback: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			addr, ok := netip.AddrFromSlice(ipNet.IP)
			if !ok {
				continue
			}
			ones, _ := ipNet.Mask.Size()
			info.prefixes = append(info.prefixes, netip.PrefixFrom(addr.Unmap(), ones))
		}
		table = append(table, info)
	}
	return table, nil
}

// tableFlags estimates the flags for addr from the interface table alone: a
// local address, then an on-link subnet, then any up interface of the same
// family that could carry traffic through a gateway.
func tableFlags(table []ifaceInfo, addr netip.Addr) Flags {
	const local = FlagReachable | FlagIsLocalAddress | FlagIsDirect

	for _, iface := range table {
		if !iface.up {
			continue
		}
		for _, p := range iface.prefixes {
			if p.Addr() == addr {
				return local | interfaceKindFlags(iface.name, "", "")
			}
		}
	}
	if addr.IsLoopback() {
		for _, iface := range table {
			if iface.up && iface.loopback {
				return local
			}
		}
		return 0
	}

	for _, iface := range table {
		if !iface.up || iface.loopback {
			continue
		}
		for _, p := range iface.prefixes {
			if p.Contains(addr) {
				return FlagReachable | FlagIsDirect | interfaceKindFlags(iface.name, "", "")
			}
		}
	}

	return gatewayFlags(table, func(a netip.Addr) bool { return a.Is4() == addr.Is4() })
}

// tableAnyFlags reports whether any interface could carry traffic off the host.
func tableAnyFlags(table []ifaceInfo) Flags {
	return gatewayFlags(table, func(netip.Addr) bool { return true })
}

// gatewayFlags prefers a non-cellular interface when several qualify.
func gatewayFlags(table []ifaceInfo, family func(netip.Addr) bool) Flags {
	var fallback Flags
	for _, iface := range table {
		if !iface.up || iface.loopback {
			continue
		}
		for _, p := range iface.prefixes {
			a := p.Addr()
			if !family(a) || !a.IsGlobalUnicast() {
				continue
			}
			f := FlagReachable | interfaceKindFlags(iface.name, "", "")
			if !f.Has(FlagIsWWAN) {
				return f
			}
			if fallback == 0 {
				fallback = f
			}
		}
	}
	return fallback
}

// sampleTable is the portable sampler built on the interface table.
func sampleTable(ctx context.Context, r *net.Resolver, t Target) (Flags, error) {
	table, err := interfaceTable()
	if err != nil {
		return 0, err
	}
	if t.IsAny() {
		return tableAnyFlags(table), nil
	}

	addrs, err := resolveTarget(ctx, r, t)
	if err != nil {
		return unresolved(ctx, t, err)
	}
	for _, addr := range addrs {
		if f := tableFlags(table, addr); f.Has(FlagReachable) {
			return f, nil
		}
	}
	return 0, nil
}

// unresolved turns a failed lookup into "no flags" unless the caller gave up.
func unresolved(ctx context.Context, t Target, err error) (Flags, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	log.WithField("target", t.String()).WithError(err).Debug("Target did not resolve")
	return 0, nil
}
