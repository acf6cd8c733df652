package sd

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var _ ServiceDiscoverer = (*MDNSServiceDiscovery)(nil)

// MDNSServiceDiscovery browses the pairing and connect services of wireless debugging over
// multicast DNS.
type MDNSServiceDiscovery struct {
	// Interface restricts browsing to a single network interface. Empty means all.
	Interface string
	IPv4Only  bool
	Logger    *zap.Logger

	// Hosts resolves SRV targets for entries announced without addresses.
	Hosts *HostResolver

	registry *Registry
	events   chan Event
	o        sync.Once

	// browseFunc defaults to zeroconf.Browse.
	browseFunc func(ctx context.Context, service string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error
}

func zeroconfBrowse(ctx context.Context, service string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error {
	return zeroconf.Browse(ctx, service, Domain, entries, removed, opts...)
}

func (md *MDNSServiceDiscovery) Events() <-chan Event {
	md.init()
	return md.events
}

// Discover browses both service types until ctx is done. The events channel is closed and
// the multicast sockets are released before it returns.
func (md *MDNSServiceDiscovery) Discover(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	md.init()
	defer close(md.events)

	if md.Logger == nil {
		md.Logger = zap.NewNop()
	}

	md.Logger = md.Logger.With(zap.String("sd_method", "mdns"), zap.String("interface", md.Interface), zap.Bool("ipv4_only", md.IPv4Only))

	opts, err := md.options()
	if err != nil {
		return err
	}

	md.Logger.Debug("Starting service discovery")
	defer md.Logger.Debug("Finishing service discovery")

	eg, egctx := errgroup.WithContext(ctx)

	for _, category := range []Category{CategoryConnect, CategoryPairing} {
		eg.Go(func() error { return md.browse(egctx, category, opts) })
	}

	return eg.Wait()
}

func (md *MDNSServiceDiscovery) Resolve(ctx context.Context, category Category, instance string) (Endpoint, error) {
	md.init()

	ep, found := md.registry.Lookup(category, instance)
	if !found {
		return Endpoint{}, fmt.Errorf("%s service %q: %w", category, instance, ErrNotFound)
	}

	if len(ep.Addresses) == 0 && ep.Host != "" {
		addrs, err := md.hosts().LookupHost(ctx, ep.Host)
		if err != nil {
			return Endpoint{}, fmt.Errorf("failed to look up host %q: %w", ep.Host, err)
		}

		ep.Addresses = addrs
	}

	if len(ep.Addresses) == 0 || ep.Port <= 0 {
		return Endpoint{}, fmt.Errorf("%s service %q: %w", category, instance, ErrUnresolved)
	}

	return ep, nil
}

func (md *MDNSServiceDiscovery) browse(ctx context.Context, category Category, opts []zeroconf.ClientOption) error {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	logger := md.Logger.With(zap.String("service", category.ServiceType()))

	browse := md.browseFunc
	if browse == nil {
		browse = zeroconfBrowse
	}

	browseErr := make(chan error, 1)
	go func() {
		browseErr <- browse(ctx, category.ServiceType(), entries, removed, opts...)
	}()

	for {
		select {
		case err := <-browseErr:
			if err != nil {
				return fmt.Errorf("failed to browse %s: %w", category.ServiceType(), err)
			}

			browseErr = nil

		case entry, isOpen := <-entries:
			if !isOpen {
				logger.Debug("Channel of service entries is closed")
				return nil
			}

			ep := md.entryToEndpoint(entry)

			kind, changed := md.registry.Observe(category, ep)
			if !changed {
				continue
			}

			logger.Debug("Service announced", zap.String("instance", ep.Instance), zap.Stringer("kind", kind), zap.Strings("addresses", ep.Addresses), zap.Int("port", ep.Port))

			md.notify(ctx, Event{Category: category, Kind: kind, Instance: ep.Instance})

		case entry, isOpen := <-removed:
			if !isOpen {
				removed = nil
				continue
			}

			kind, changed := md.registry.Forget(category, entry.Instance, md.entryToEndpoint(entry).Addresses)
			if !changed {
				continue
			}

			logger.Debug("Service withdrawn", zap.String("instance", entry.Instance), zap.Stringer("kind", kind))

			md.notify(ctx, Event{Category: category, Kind: kind, Instance: entry.Instance})

		case <-ctx.Done():
			return nil
		}
	}
}

func (md *MDNSServiceDiscovery) notify(ctx context.Context, evt Event) {
	select {
	case md.events <- evt:
	case <-ctx.Done():
	}
}

func (md *MDNSServiceDiscovery) options() ([]zeroconf.ClientOption, error) {
	var opts []zeroconf.ClientOption

	if md.Interface != "" {
		iface, err := net.InterfaceByName(md.Interface)
		if err != nil {
			return nil, fmt.Errorf("failed to select network interface %q: %w", md.Interface, err)
		}

		opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
	}

	if md.IPv4Only {
		opts = append(opts, zeroconf.SelectIPTraffic(zeroconf.IPv4))
	}

	return opts, nil
}

func (md *MDNSServiceDiscovery) entryToEndpoint(entry *zeroconf.ServiceEntry) Endpoint {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}

	if !md.IPv4Only {
		for _, ip := range entry.AddrIPv6 {
			addrs = append(addrs, ip.String())
		}
	}

	return Endpoint{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Addresses: addrs,
		Port:      entry.Port,
	}
}

func (md *MDNSServiceDiscovery) hosts() *HostResolver {
	if md.Hosts != nil {
		return md.Hosts
	}
	return &HostResolver{Logger: md.Logger, DisableIPv6: md.IPv4Only}
}

func (md *MDNSServiceDiscovery) init() {
	md.o.Do(func() {
		md.registry = NewRegistry()
		md.events = make(chan Event)
	})
}
