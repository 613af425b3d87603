package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// DNS-SD constants.
const (
	ServiceType = "_mqtt._tcp"
	Domain      = "local."

	// Scheme marks broker URLs that need discovery.
	Scheme = "mdns"

	// DefaultTimeout bounds a browse when the caller gives no timeout.
	DefaultTimeout = 3 * time.Second
)

// Discovery errors.
var (
	ErrNoBroker   = errors.New("no MQTT broker found")
	ErrInvalidURL = errors.New("invalid mdns URL")
)

// Broker is a broker advertised on the local network.
type Broker struct {
	Instance  string
	Host      string
	Port      uint16
	Addresses []string
}

// URL returns the broker's tcp:// URL. IPv4 addresses are preferred over
// IPv6; without any address the host name is used.
func (b Broker) URL() string {
	host := b.Host
	for _, a := range b.Addresses {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			host = a
			break
		}
		if host == b.Host {
			host = a
		}
	}
	host = strings.TrimSuffix(host, ".")
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(int(b.Port)))
}

// BrowseFunc browses service in domain until ctx ends, sending found
// entries to entries and expired ones to removed.
type BrowseFunc func(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Timeout bounds a single browse. Zero means DefaultTimeout.
	Timeout time.Duration

	// Interface restricts browsing to one network interface.
	Interface string

	// Logger is the optional logger. If nil, logging is disabled.
	Logger *slog.Logger
}

// Resolver turns mdns:// URLs into broker URLs.
type Resolver struct {
	config ResolverConfig
	browse BrowseFunc
}

// NewResolver creates a resolver that browses with zeroconf.
func NewResolver(config ResolverConfig) *Resolver {
	return NewResolverWithBrowser(config, browseZeroconf)
}

func browseZeroconf(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error {
	return zeroconf.Browse(ctx, service, domain, entries, removed, opts...)
}

// NewResolverWithBrowser creates a resolver that uses browse.
func NewResolverWithBrowser(config ResolverConfig, browse BrowseFunc) *Resolver {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Resolver{config: config, browse: browse}
}

// ResolveURL resolves raw with a default resolver.
func ResolveURL(ctx context.Context, raw string, timeout time.Duration) (string, error) {
	return NewResolver(ResolverConfig{Timeout: timeout}).Resolve(ctx, raw)
}

// ParseURL reports whether raw is an mdns:// URL and returns the requested
// instance name, which may be empty.
func ParseURL(raw string) (instance string, ok bool, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != Scheme {
		return "", false, nil
	}
	if u.Path != "" && u.Path != "/" {
		return "", true, fmt.Errorf("%w: %s: unexpected path", ErrInvalidURL, raw)
	}
	if u.Port() != "" {
		return "", true, fmt.Errorf("%w: %s: port is discovered", ErrInvalidURL, raw)
	}
	return u.Hostname(), true, nil
}

// Resolve returns raw unchanged unless it is an mdns:// URL, in which case it
// returns the URL of the discovered broker.
func (r *Resolver) Resolve(ctx context.Context, raw string) (string, error) {
	instance, ok, err := ParseURL(raw)
	if err != nil || !ok {
		return raw, err
	}

	b, err := r.Find(ctx, instance)
	if err != nil {
		return "", err
	}
	u := b.URL()
	r.debugLog("broker discovered", "instance", b.Instance, "url", u)
	return u, nil
}

// Find browses for a broker named instance, or any broker if instance is
// empty. Instance names are compared case-insensitively.
func (r *Resolver) Find(ctx context.Context, instance string) (Broker, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		err := r.browse(ctx, ServiceType, Domain, entries, removed, r.browserOptions()...)
		if err != nil && ctx.Err() == nil {
			r.debugLog("browse failed", "error", err)
		}
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return Broker{}, ErrNoBroker
			}
			b, ok := entryToBroker(entry)
			if !ok {
				continue
			}
			if instance != "" && !strings.EqualFold(b.Instance, instance) {
				r.debugLog("skipping broker", "instance", b.Instance)
				continue
			}
			return b, nil

		case <-removed:

		case <-ctx.Done():
			if instance != "" {
				return Broker{}, fmt.Errorf("%w: instance %q", ErrNoBroker, instance)
			}
			return Broker{}, ErrNoBroker
		}
	}
}

// browserOptions returns zeroconf client options based on config.
func (r *Resolver) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if r.config.Interface != "" {
		iface, err := net.InterfaceByName(r.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// entryToBroker converts a zeroconf entry. Entries without a port are
// incomplete and skipped.
func entryToBroker(entry *zeroconf.ServiceEntry) (Broker, bool) {
	if entry == nil || entry.Port <= 0 || entry.Port > 65535 {
		return Broker{}, false
	}

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	if len(addrs) == 0 && entry.HostName == "" {
		return Broker{}, false
	}

	return Broker{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Port:      uint16(entry.Port),
		Addresses: addrs,
	}, true
}

// debugLog logs a debug message if logging is enabled.
func (r *Resolver) debugLog(msg string, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Debug(msg, args...)
	}
}
