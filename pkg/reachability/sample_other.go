//go:build !linux

package reachability

import (
	"context"
	"net"
)

func sampleFlags(ctx context.Context, r *net.Resolver, t Target) (Flags, error) {
	return sampleTable(ctx, r, t)
}
