package sd

import (
	"context"
	"errors"
	"net"
	"strconv"
)

const (
	ServiceTypePairing = "_adb-tls-pairing._tcp"
	ServiceTypeConnect = "_adb-tls-connect._tcp"
	Domain             = "local."
)

var (
	ErrNotFound   = errors.New("service instance not found")
	ErrUnresolved = errors.New("service instance has no usable address")
)

type Category int

const (
	CategoryPairing Category = iota
	CategoryConnect
)

func (c Category) ServiceType() string {
	if c == CategoryPairing {
		return ServiceTypePairing
	}
	return ServiceTypeConnect
}

func (c Category) String() string {
	switch c {
	case CategoryPairing:
		return "pairing"
	case CategoryConnect:
		return "connect"
	default:
		return "unknown"
	}
}

type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
	Updated
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

type Event struct {
	Category Category
	Kind     ChangeKind
	Instance string
}

// Endpoint is a resolved service instance.
type Endpoint struct {
	Instance  string
	Host      string
	Addresses []string
	Port      int
}

// Address returns the first known address joined with the port, e.g. "192.168.1.10:40000".
func (e Endpoint) Address() string {
	if len(e.Addresses) == 0 {
		return ""
	}
	return net.JoinHostPort(e.Addresses[0], strconv.Itoa(e.Port))
}

type Resolver interface {
	Resolve(ctx context.Context, category Category, instance string) (Endpoint, error)
}

type ServiceDiscoverer interface {
	Resolver

	Events() <-chan Event
	Discover(ctx context.Context) error
}
