package probe

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/idanyas/speedtui/internal/client"
	"github.com/idanyas/speedtui/internal/config"
	"github.com/idanyas/speedtui/internal/data"
)

// Probe measures one quantity against a target. Run may fail; callers go
// through Spawn, which never lets an error out.
type Probe interface {
	Kind() data.Kind
	Run(ctx context.Context, target data.Target) (data.Measurement, error)
}

// Settle turns a probe outcome into the value handed to the orchestrator:
// any error, missing value, wrong shape or non-finite field becomes the zero
// measurement of kind.
func Settle(kind data.Kind, m data.Measurement, err error) data.Measurement {
	if err != nil || m == nil {
		return data.Zero(kind)
	}

	switch v := m.(type) {
	case data.Latency:
		if kind != data.Ping || !finite(v.Min, v.Max, v.Avg) {
			return data.Zero(kind)
		}
	case data.Throughput:
		if kind == data.Ping || !finite(v.BitsPerSecond) {
			return data.Zero(kind)
		}
	default:
		return data.Zero(kind)
	}
	return m
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Spawn runs p on its own goroutine and returns a channel that receives
// exactly one settled measurement.
func Spawn(ctx context.Context, p Probe, target data.Target, log logrus.FieldLogger) <-chan data.Measurement {
	ch := make(chan data.Measurement, 1)
	go func() {
		start := time.Now()
		m, err := run(ctx, p, target)
		entry := log.WithFields(logrus.Fields{
			"kind":    p.Kind().String(),
			"target":  target.URL,
			"elapsed": time.Since(start).Round(time.Millisecond),
		})
		if err != nil {
			entry.WithError(err).Debug("probe failed, reporting zero")
		} else {
			entry.Debug("probe finished")
		}
		ch <- Settle(p.Kind(), m, err)
	}()
	return ch
}

func run(ctx context.Context, p Probe, target data.Target) (m data.Measurement, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return p.Run(ctx, target)
}

// Set holds the probe used for each phase.
type Set struct {
	Ping     Probe
	Download Probe
	Upload   Probe
}

func (s Set) For(kind data.Kind) Probe {
	switch kind {
	case data.Ping:
		return s.Ping
	case data.Download:
		return s.Download
	case data.Upload:
		return s.Upload
	}
	return nil
}

// NewSet builds the probes described by cfg on top of c.
func NewSet(cfg config.ProbeConfig, c *http.Client) Set {
	var ping Probe
	if cfg.LatencyMode == config.LatencyTCP {
		ping = &TCPLatency{
			Dial:     client.Dialer(c),
			Lookup:   client.Lookup(c),
			Attempts: cfg.LatencyAttempts,
			Delay:    cfg.LatencyDelay,
			Timeout:  cfg.LatencyTimeout,
		}
	} else {
		ping = &HTTPLatency{
			Client:   c,
			Path:     cfg.LatencyPath,
			Attempts: cfg.LatencyAttempts,
			Delay:    cfg.LatencyDelay,
			Timeout:  cfg.LatencyTimeout,
		}
	}

	return Set{
		Ping: ping,
		Download: &Download{
			Client:  c,
			Path:    cfg.DownloadPath,
			Timeout: cfg.DownloadTimeout,
		},
		Upload: &Upload{
			Client:  c,
			Path:    cfg.UploadPath,
			Bytes:   cfg.UploadBytes,
			Timeout: cfg.UploadTimeout,
		},
	}
}

// clock is embedded by every probe so tests can pin time.
type clock struct {
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func (c clock) Now() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c clock) Sleep(ctx context.Context, d time.Duration) error {
	if c.sleep != nil {
		return c.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
