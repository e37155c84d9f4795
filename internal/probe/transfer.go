package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/idanyas/speedtui/internal/data"
)

// Download fetches one fixed-size resource and times the full body.
type Download struct {
	clock
	Client  *http.Client
	Path    string
	Timeout time.Duration
}

func (p *Download) Kind() data.Kind { return data.Download }

func (p *Download) Run(ctx context.Context, target data.Target) (data.Measurement, error) {
	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL+p.Path, nil)
	if err != nil {
		return nil, err
	}

	start := p.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body after %d bytes: %w", n, err)
	}
	return data.NewThroughput(n*8, p.Now().Sub(start)), nil
}

// Upload posts Bytes zero bytes and times the round trip.
type Upload struct {
	clock
	Client  *http.Client
	Path    string
	Bytes   int64
	Timeout time.Duration
}

func (p *Upload) Kind() data.Kind { return data.Upload }

func (p *Upload) Run(ctx context.Context, target data.Target) (data.Measurement, error) {
	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()

	body := io.LimitReader(zeroReader{}, p.Bytes)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL+p.Path, body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = p.Bytes
	req.Header.Set("Content-Type", "application/octet-stream")

	start := p.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	elapsed := p.Now().Sub(start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return data.NewThroughput(p.Bytes*8, elapsed), nil
}

type zeroReader struct{}

func (zeroReader) Read(b []byte) (int, error) {
	clear(b)
	return len(b), nil
}
