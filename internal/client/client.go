package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gwatts/rootcerts"
	"github.com/sirupsen/logrus"
)

// Options configures NewHTTPClient.
type Options struct {
	IPv4Only  bool
	IPv6Only  bool
	Interface string // interface name or source IP
	Insecure  bool
	UserAgent string
	Timeout   time.Duration // zero means no client-wide timeout
	Logger    logrus.FieldLogger
}

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// LookupFunc resolves a host name to its addresses.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

// HeaderTransport sets the headers every probe request carries.
type HeaderTransport struct {
	Transport *http.Transport
	UserAgent string

	lookup LookupFunc
}

func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if clone.Header.Get("User-Agent") == "" && t.UserAgent != "" {
		clone.Header.Set("User-Agent", t.UserAgent)
	}
	clone.Header.Set("Accept", "*/*")
	// speed servers must not answer from an intermediate cache
	clone.Header.Set("Cache-Control", "no-cache")

	return t.Transport.RoundTrip(clone)
}

// NewHTTPClient builds the client shared by the directory lookup and all probes.
func NewHTTPClient(opts Options) (*http.Client, error) {
	if opts.IPv4Only && opts.IPv6Only {
		return nil, errors.New("IPv4-only and IPv6-only cannot both be set")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	laddr, err := localAddr(opts.Interface, opts.IPv4Only, opts.IPv6Only)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: opts.Insecure}
	if !opts.Insecure {
		tlsConfig.RootCAs = rootcerts.ServerCertPool()
		if tlsConfig.RootCAs == nil {
			return nil, errors.New("unable to obtain a root CA pool")
		}
	}

	d := &dialer{
		net: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			LocalAddr: laddr,
		},
		ipv4Only: opts.IPv4Only,
		ipv6Only: opts.IPv6Only,
		resolver: &resolver{
			ipv4Only:  opts.IPv4Only,
			ipv6Only:  opts.IPv6Only,
			tlsConfig: tlsConfig,
			log:       log.WithField("component", "resolver"),
			systemDNS: net.DefaultResolver,
		},
	}
	if tcpAddr, ok := laddr.(*net.TCPAddr); ok && tcpAddr != nil {
		// a bound source address pins the family
		if tcpAddr.IP.To4() != nil {
			d.ipv4Only, d.ipv6Only = true, false
		} else {
			d.ipv4Only, d.ipv6Only = false, true
		}
		d.resolver.ipv4Only, d.resolver.ipv6Only = d.ipv4Only, d.ipv6Only
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
		TLSClientConfig:       tlsConfig,
	}

	return &http.Client{
		Transport: &HeaderTransport{Transport: transport, UserAgent: opts.UserAgent, lookup: d.lookup},
		Timeout:   opts.Timeout,
	}, nil
}

// Dialer returns the dial function behind c, so TCP probes resolve and bind
// the same way HTTP probes do. Unknown transports fall back to a plain dialer.
func Dialer(c *http.Client) DialFunc {
	var transport *http.Transport
	switch t := c.Transport.(type) {
	case *http.Transport:
		transport = t
	case *HeaderTransport:
		transport = t.Transport
	}
	if transport != nil && transport.DialContext != nil {
		return transport.DialContext
	}
	return (&net.Dialer{Timeout: 30 * time.Second}).DialContext
}

// Lookup returns the resolver behind c. IP literals are returned as is.
// Clients not built by NewHTTPClient use the system resolver.
func Lookup(c *http.Client) LookupFunc {
	if t, ok := c.Transport.(*HeaderTransport); ok && t.lookup != nil {
		return t.lookup
	}
	return func(ctx context.Context, host string) ([]net.IP, error) {
		if ip := net.ParseIP(host); ip != nil {
			return []net.IP{ip}, nil
		}
		return net.DefaultResolver.LookupIP(ctx, "ip", host)
	}
}

type dialer struct {
	net      *net.Dialer
	ipv4Only bool
	ipv6Only bool
	resolver *resolver
}

func (d *dialer) network() string {
	switch {
	case d.ipv4Only:
		return "tcp4"
	case d.ipv6Only:
		return "tcp6"
	default:
		return "tcp"
	}
}

func (d *dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address format: %w", err)
	}

	if ip := net.ParseIP(host); ip != nil {
		if !familyAllowed(ip, d.ipv4Only, d.ipv6Only) {
			return nil, fmt.Errorf("target IP address %s does not match required network type %s", host, d.network())
		}
		return d.net.DialContext(ctx, ipNetwork(ip), addr)
	}

	ips, err := d.lookup(ctx, host)
	if err != nil {
		return nil, err
	}

	var firstErr error
	for _, ip := range ips {
		// one blackholed address must not stall the rest
		dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		conn, err := d.net.DialContext(dialCtx, ipNetwork(ip), net.JoinHostPort(ip.String(), port))
		cancel()
		if err == nil {
			return conn, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	return nil, fmt.Errorf("connection failed to all resolved IPs for %s (first error: %w)", addr, firstErr)
}

func (d *dialer) lookup(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	ips, err := d.resolver.lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("DNS resolution failed for %s: %w", host, err)
	}
	return ips, nil
}

func ipNetwork(ip net.IP) string {
	if ip.To4() != nil {
		return "tcp4"
	}
	return "tcp6"
}

func familyAllowed(ip net.IP, ipv4Only, ipv6Only bool) bool {
	isIPv4 := ip.To4() != nil
	return !(ipv4Only && !isIPv4) && !(ipv6Only && isIPv4)
}

// localAddr resolves an interface name or literal source IP to a bind address.
func localAddr(interfaceOrIP string, ipv4Only, ipv6Only bool) (net.Addr, error) {
	if interfaceOrIP == "" {
		return nil, nil
	}

	if ip := net.ParseIP(interfaceOrIP); ip != nil {
		if !familyAllowed(ip, ipv4Only, ipv6Only) {
			return nil, fmt.Errorf("provided IP %s does not match the requested address family", interfaceOrIP)
		}
		return &net.TCPAddr{IP: ip}, nil
	}

	iface, err := net.InterfaceByName(interfaceOrIP)
	if err != nil {
		return nil, fmt.Errorf("failed to find interface %q: %w", interfaceOrIP, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to get addresses for interface %q: %w", interfaceOrIP, err)
	}

	ip := pickInterfaceIP(addrs, ipv4Only, ipv6Only)
	if ip == nil {
		family := "any"
		if ipv4Only {
			family = "IPv4"
		} else if ipv6Only {
			family = "IPv6"
		}
		return nil, fmt.Errorf("no suitable %s IP address found for interface %q", family, interfaceOrIP)
	}
	return &net.TCPAddr{IP: ip}, nil
}

// pickInterfaceIP prefers global IPv6, then IPv4, then link-local IPv6.
func pickInterfaceIP(addrs []net.Addr, ipv4Only, ipv6Only bool) net.IP {
	var v4, v6Global, v6Link net.IP
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP
		if ip.IsLoopback() || ip.IsUnspecified() {
			continue
		}
		switch {
		case ip.To4() != nil:
			if v4 == nil {
				v4 = ip
			}
		case ip.IsLinkLocalUnicast():
			if v6Link == nil {
				v6Link = ip
			}
		default:
			if v6Global == nil {
				v6Global = ip
			}
		}
	}

	switch {
	case ipv4Only:
		return v4
	case ipv6Only:
		if v6Global != nil {
			return v6Global
		}
		return v6Link
	}
	if v6Global != nil {
		return v6Global
	}
	if v4 != nil {
		return v4
	}
	return v6Link
}
