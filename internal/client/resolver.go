package client

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

type upstream struct {
	addr string
	sni  string // empty for plain DNS
	isV4 bool
}

var dohUpstreams = []upstream{
	{"1.1.1.1:443", "cloudflare-dns.com", true},
	{"1.0.0.1:443", "cloudflare-dns.com", true},
	{"8.8.8.8:443", "dns.google", true},
	{"9.9.9.9:443", "dns.quad9.net", true},
	{"[2606:4700:4700::1111]:443", "cloudflare-dns.com", false},
	{"[2001:4860:4860::8888]:443", "dns.google", false},
}

var dnsUpstreams = []upstream{
	{addr: "1.1.1.1:53", isV4: true},
	{addr: "8.8.8.8:53", isV4: true},
	{addr: "9.9.9.9:53", isV4: true},
	{addr: "[2606:4700:4700::1111]:53", isV4: false},
}

// resolver tries DNS-over-HTTPS, then the system resolver, then plain DNS.
type resolver struct {
	ipv4Only  bool
	ipv6Only  bool
	tlsConfig *tls.Config
	log       logrus.FieldLogger
	systemDNS *net.Resolver
}

func (r *resolver) lookup(ctx context.Context, host string) ([]net.IP, error) {
	var errs []error

	for _, step := range []struct {
		name string
		fn   func(context.Context, string) ([]net.IP, error)
	}{
		{"doh", r.viaDoH},
		{"system", r.viaSystem},
		{"direct", r.viaDNS},
	} {
		ips, err := step.fn(ctx, host)
		if err == nil && len(ips) > 0 {
			r.log.WithFields(logrus.Fields{"host": host, "method": step.name, "ips": len(ips)}).Debug("resolved")
			return ips, nil
		}
		if err == nil {
			err = errors.New("no usable addresses")
		}
		errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
	}

	return nil, fmt.Errorf("all resolution methods failed for %s: %w", host, errors.Join(errs...))
}

func (r *resolver) queryTypes() []uint16 {
	switch {
	case r.ipv4Only:
		return []uint16{dns.TypeA}
	case r.ipv6Only:
		return []uint16{dns.TypeAAAA}
	default:
		return []uint16{dns.TypeA, dns.TypeAAAA}
	}
}

func (r *resolver) usable(ip net.IP) bool {
	if ip == nil || ip.IsUnspecified() || ip.IsLoopback() {
		return false
	}
	return familyAllowed(ip, r.ipv4Only, r.ipv6Only)
}

func (r *resolver) upstreams(all []upstream) []upstream {
	out := make([]upstream, 0, len(all))
	for _, u := range all {
		if (r.ipv4Only && !u.isV4) || (r.ipv6Only && u.isV4) {
			continue
		}
		out = append(out, u)
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// answerIPs extracts the addresses of type qtype that pass r.usable.
func (r *resolver) answerIPs(msg *dns.Msg, qtype uint16) []net.IP {
	var ips []net.IP
	for _, rr := range msg.Answer {
		switch a := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA && r.usable(a.A) {
				ips = append(ips, a.A)
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA && r.usable(a.AAAA) {
				ips = append(ips, a.AAAA)
			}
		}
	}
	return ips
}

func (r *resolver) viaSystem(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := r.systemDNS.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, a := range addrs {
		if r.usable(a.IP) {
			ips = append(ips, a.IP)
		}
	}
	return ips, nil
}

func (r *resolver) viaDoH(ctx context.Context, host string) ([]net.IP, error) {
	servers := r.upstreams(dohUpstreams)
	return r.perType(ctx, host, servers, func(ctx context.Context, u upstream, m *dns.Msg) (*dns.Msg, error) {
		packed, err := m.Pack()
		if err != nil {
			return nil, err
		}

		tlsConfig := r.tlsConfig.Clone()
		tlsConfig.ServerName = u.sni
		network := "tcp4"
		if !u.isV4 {
			network = "tcp6"
		}
		netDialer := &net.Dialer{Timeout: 5 * time.Second}
		c := &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return netDialer.DialContext(ctx, network, u.addr)
				},
				DisableKeepAlives:   true,
				ForceAttemptHTTP2:   true,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		}

		url := fmt.Sprintf("https://%s/dns-query?dns=%s", u.sni, base64.RawURLEncoding.EncodeToString(packed))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/dns-message")

		resp, err := c.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err != nil {
			return nil, err
		}
		out := new(dns.Msg)
		if err := out.Unpack(body); err != nil {
			return nil, err
		}
		return out, nil
	})
}

func (r *resolver) viaDNS(ctx context.Context, host string) ([]net.IP, error) {
	c := &dns.Client{Net: "udp", Timeout: 3 * time.Second}
	servers := r.upstreams(dnsUpstreams)
	return r.perType(ctx, host, servers, func(ctx context.Context, u upstream, m *dns.Msg) (*dns.Msg, error) {
		resp, _, err := c.ExchangeContext(ctx, m, u.addr)
		if err != nil {
			return nil, err
		}
		if resp.Rcode != dns.RcodeSuccess {
			return nil, fmt.Errorf("rcode %s", dns.RcodeToString[resp.Rcode])
		}
		return resp, nil
	})
}

type exchangeFunc func(ctx context.Context, u upstream, m *dns.Msg) (*dns.Msg, error)

// perType asks every upstream for each query type in turn and stops at the
// first type that yields addresses.
func (r *resolver) perType(ctx context.Context, host string, servers []upstream, exchange exchangeFunc) ([]net.IP, error) {
	if len(servers) == 0 {
		return nil, errors.New("no upstream for the requested address family")
	}

	var lastErr error
	for _, qtype := range r.queryTypes() {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true

		ips, err := race(ctx, len(servers), func(ctx context.Context, i int) ([]net.IP, error) {
			resp, err := exchange(ctx, servers[i], m.Copy())
			if err != nil {
				return nil, err
			}
			return r.answerIPs(resp, qtype), nil
		})
		if len(ips) > 0 {
			return ips, nil
		}
		if err != nil {
			lastErr = err
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no usable addresses in answers")
	}
	return nil, lastErr
}

// race runs fn for 0..n-1 concurrently and returns the first non-empty result,
// cancelling the others. When none succeeds the first error is returned.
func race(ctx context.Context, n int, fn func(ctx context.Context, i int) ([]net.IP, error)) ([]net.IP, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		ips []net.IP
		err error
	}
	// buffered so losers never block after we return
	results := make(chan outcome, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			ips, err := fn(ctx, i)
			results <- outcome{ips, err}
		}(i)
	}

	var firstErr error
	for i := 0; i < n; i++ {
		o := <-results
		if len(o.ips) > 0 {
			return o.ips, nil
		}
		if o.err != nil && firstErr == nil {
			firstErr = o.err
		}
	}
	return nil, firstErr
}
