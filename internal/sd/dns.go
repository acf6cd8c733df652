package sd

import (
	"context"
	"errors"
	"net"
	"strings"

	"go.uber.org/zap"
)

// HostResolver looks up the addresses of a host name announced in an SRV record.
type HostResolver struct {
	Resolver    *net.Resolver
	Logger      *zap.Logger
	DisableIPv6 bool
}

func (hr *HostResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if hr.Logger == nil {
		hr.Logger = zap.NewNop()
	}

	resolver := hr.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	network := "ip"
	if hr.DisableIPv6 {
		network = "ip4"
	}

	host = strings.TrimSuffix(host, ".")

	hr.Logger.Debug("Looking up host", zap.String("host", host), zap.String("network", network))

	ips, err := resolver.LookupIP(ctx, network, host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			hr.Logger.Debug("No entries found", zap.String("host", host))
			return nil, nil
		}

		return nil, err
	}

	ipsStr := make([]string, 0, len(ips))
	for _, ip := range ips {
		ipsStr = append(ipsStr, ip.String())
	}

	hr.Logger.Debug("Host lookup finished succesfully", zap.String("host", host), zap.Strings("ips", ipsStr))

	return ipsStr, nil
}
