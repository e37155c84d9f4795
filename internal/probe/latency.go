package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/idanyas/speedtui/internal/client"
	"github.com/idanyas/speedtui/internal/data"
)

// HTTPLatency times sequential HEAD requests to the target.
type HTTPLatency struct {
	clock
	Client   *http.Client
	Path     string
	Attempts int
	Delay    time.Duration // waited before every request
	Timeout  time.Duration // per request
}

func (p *HTTPLatency) Kind() data.Kind { return data.Ping }

func (p *HTTPLatency) Run(ctx context.Context, target data.Target) (data.Measurement, error) {
	url := target.URL + p.Path
	return sampleLatency(ctx, p.clock, p.Attempts, p.Delay, func(ctx context.Context) (time.Duration, error) {
		ctx, cancel := withTimeout(ctx, p.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return 0, err
		}
		start := p.Now()
		resp, err := p.Client.Do(req)
		if err != nil {
			return 0, err
		}
		elapsed := p.Now().Sub(start)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return elapsed, nil
	})
}

// TCPLatency times sequential connection setups to the target host. The
// host is resolved once up front so samples time the connect alone.
type TCPLatency struct {
	clock
	Dial     client.DialFunc
	Lookup   client.LookupFunc // nil dials the host as given
	Attempts int
	Delay    time.Duration
	Timeout  time.Duration
}

func (p *TCPLatency) Kind() data.Kind { return data.Ping }

func (p *TCPLatency) Run(ctx context.Context, target data.Target) (data.Measurement, error) {
	addr, err := p.resolve(ctx, hostPort(target.Host, "80"))
	if err != nil {
		return data.Latency{}, err
	}
	return sampleLatency(ctx, p.clock, p.Attempts, p.Delay, func(ctx context.Context) (time.Duration, error) {
		ctx, cancel := withTimeout(ctx, p.Timeout)
		defer cancel()

		start := p.Now()
		conn, err := p.Dial(ctx, "tcp", addr)
		if err != nil {
			return 0, err
		}
		elapsed := p.Now().Sub(start)
		conn.Close()
		return elapsed, nil
	})
}

func (p *TCPLatency) resolve(ctx context.Context, addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	if p.Lookup == nil || net.ParseIP(host) != nil {
		return addr, nil
	}

	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()
	ips, err := p.Lookup(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	return net.JoinHostPort(ips[0].String(), port), nil
}

// sampleLatency takes attempts samples one after another, waiting delay
// before each, and aggregates the successful ones.
func sampleLatency(ctx context.Context, c clock, attempts int, delay time.Duration, sample func(context.Context) (time.Duration, error)) (data.Measurement, error) {
	samples := make([]float64, 0, attempts)
	var lastErr error

	for i := 0; i < attempts; i++ {
		if err := c.Sleep(ctx, delay); err != nil {
			return data.Latency{}, err
		}
		d, err := sample(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		samples = append(samples, float64(d)/float64(time.Millisecond))
	}

	if len(samples) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no attempts configured")
		}
		return data.Latency{}, fmt.Errorf("no successful samples out of %d: %w", attempts, lastErr)
	}
	return data.AggregateLatency(samples), nil
}

func hostPort(host, defaultPort string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, defaultPort)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
