package dns

import (
	"context"
	"math"
	"net"
	"time"

	mdns "github.com/miekg/dns"
)

// SystemResolver adapts a *net.Resolver. It reports no TTL, so the cache
// falls back to its default.
type SystemResolver struct {
	Resolver *net.Resolver
}

// LookupIP implements Resolver.
func (r SystemResolver) LookupIP(ctx context.Context, host string) ([]net.IP, time.Duration, error) {
	addrs, err := r.Resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, 0, err
	}
	ips := make([]net.IP, len(addrs))
	for i, addr := range addrs {
		ips[i] = addr.IP
	}
	return ips, 0, nil
}

// NameserverResolver queries one nameserver directly and honours the answer
// TTLs.
type NameserverResolver struct {
	addr   string
	client *mdns.Client
}

// NewNameserverResolver returns a resolver for addr ("host" or "host:port",
// port 53 when omitted).
func NewNameserverResolver(addr string, timeout time.Duration) *NameserverResolver {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "53")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NameserverResolver{
		addr:   addr,
		client: &mdns.Client{Net: "udp", Timeout: timeout},
	}
}

// LookupIP asks for AAAA and A records and returns their union. The TTL is
// the smallest TTL among the returned records.
func (r *NameserverResolver) LookupIP(ctx context.Context, host string) ([]net.IP, time.Duration, error) {
	fqdn := mdns.Fqdn(host)
	var (
		ips     []net.IP
		minTTL  uint32 = math.MaxUint32
		lastErr error
	)
	for _, qtype := range []uint16{mdns.TypeAAAA, mdns.TypeA} {
		m := new(mdns.Msg)
		m.SetQuestion(fqdn, qtype)
		m.RecursionDesired = true

		in, _, err := r.client.ExchangeContext(ctx, m, r.addr)
		if err != nil {
			lastErr = err
			continue
		}
		if in.Rcode != mdns.RcodeSuccess {
			lastErr = &net.DNSError{
				Err:        mdns.RcodeToString[in.Rcode],
				Name:       host,
				Server:     r.addr,
				IsNotFound: in.Rcode == mdns.RcodeNameError,
			}
			continue
		}
		for _, rr := range in.Answer {
			switch v := rr.(type) {
			case *mdns.A:
				ips = append(ips, v.A)
			case *mdns.AAAA:
				ips = append(ips, v.AAAA)
			default:
				continue
			}
			if ttl := rr.Header().Ttl; ttl < minTTL {
				minTTL = ttl
			}
		}
	}
	if len(ips) == 0 {
		if lastErr != nil {
			return nil, 0, lastErr
		}
		return nil, 0, &net.DNSError{Err: "no addresses found", Name: host, Server: r.addr, IsNotFound: true}
	}
	return ips, time.Duration(minTTL) * time.Second, nil
}
