package gemini

import (
	"context"
	"net/netip"
)

// Resolver looks up the addresses of a host. *net.Resolver implements it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

type candidate struct {
	addr netip.AddrPort
	// network is "tcp4" or "tcp6"
	network string
}

func (c candidate) String() string {
	return c.addr.String()
}

// resolveAddresses returns the de-duplicated addresses to try for host.
// Literal IP hosts are not looked up.
func resolveAddresses(ctx context.Context, r Resolver, host string, port int, opts Options) ([]candidate, error) {
	var addrs []netip.Addr
	if ip, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{ip}
	} else {
		addrs, err = r.LookupNetIP(ctx, opts.network(), host)
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[netip.AddrPort]bool, len(addrs))
	cands := make([]candidate, 0, len(addrs))
	for _, a := range addrs {
		a = a.Unmap()
		network := "tcp6"
		if a.Is4() {
			network = "tcp4"
		}
		if (opts.ForceIPv4 && network != "tcp4") || (opts.ForceIPv6 && network != "tcp6") {
			continue
		}
		ap := netip.AddrPortFrom(a, uint16(port))
		if seen[ap] {
			continue
		}
		seen[ap] = true
		cands = append(cands, candidate{addr: ap, network: network})
	}
	return cands, nil
}
