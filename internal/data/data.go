package data

import (
	"math"
	"time"
)

// Kind tags the quantity a probe measures.
type Kind int

const (
	Ping Kind = iota
	Download
	Upload
)

func (k Kind) String() string {
	switch k {
	case Ping:
		return "ping"
	case Download:
		return "download"
	case Upload:
		return "upload"
	default:
		return "unknown"
	}
}

// Measurement is either a Latency or a Throughput.
type Measurement interface {
	measurement()
}

// Latency holds round-trip statistics in milliseconds.
type Latency struct {
	Min     float64 `json:"min_ms"`
	Max     float64 `json:"max_ms"`
	Avg     float64 `json:"avg_ms"`
	Samples int     `json:"samples"`
}

// Throughput describes one transfer. BitsPerSecond is zero when Duration is not positive.
type Throughput struct {
	Bits          int64         `json:"bits"`
	Duration      time.Duration `json:"duration_ns"`
	BitsPerSecond float64       `json:"bits_per_second"`
}

func (Latency) measurement()    {}
func (Throughput) measurement() {}

// Mbps reports the rate in megabits (1e6) per second.
func (t Throughput) Mbps() float64 {
	return t.BitsPerSecond / 1e6
}

// MB reports the transferred volume in megabytes (1e6).
func (t Throughput) MB() float64 {
	return float64(t.Bits) / 8 / 1e6
}

func NewThroughput(bits int64, d time.Duration) Throughput {
	t := Throughput{Bits: bits, Duration: d}
	if d > 0 {
		t.BitsPerSecond = float64(bits) / d.Seconds()
	}
	return t
}

// AggregateLatency reduces successful samples (ms) to min/max/avg.
// An empty slice yields the zero Latency.
func AggregateLatency(samples []float64) Latency {
	if len(samples) == 0 {
		return Latency{}
	}

	sum := 0.0
	min := math.MaxFloat64
	max := -math.MaxFloat64
	for _, s := range samples {
		sum += s
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}

	avg := sum / float64(len(samples))
	// keep min <= avg <= max under float rounding
	avg = math.Min(math.Max(avg, min), max)

	return Latency{
		Min:     min,
		Max:     max,
		Avg:     avg,
		Samples: len(samples),
	}
}

// Zero returns the zero-valued measurement for kind.
func Zero(kind Kind) Measurement {
	if kind == Ping {
		return Latency{}
	}
	return Throughput{}
}

// Target is the server a run measures against. URL has no trailing slash.
type Target struct {
	Host string `json:"host"`
	URL  string `json:"url"`
}

// Server is one entry of the server directory.
type Server struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Country  string  `json:"country"`
	Sponsor  string  `json:"sponsor"`
	Host     string  `json:"host"`
	URL      string  `json:"url"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Distance float64 `json:"distance,omitempty"` // Distance from user in km
}

// LatestResults is the most recent value stored for each phase.
type LatestResults struct {
	Ping     Latency    `json:"ping"`
	Download Throughput `json:"download"`
	Upload   Throughput `json:"upload"`
}

// Store records m under kind. A shape mismatch stores the zero value.
func (r *LatestResults) Store(kind Kind, m Measurement) {
	switch kind {
	case Ping:
		l, _ := m.(Latency)
		r.Ping = l
	case Download:
		t, _ := m.(Throughput)
		r.Download = t
	case Upload:
		t, _ := m.(Throughput)
		r.Upload = t
	}
}

type TestResult struct {
	Server  Server        `json:"server"`
	Target  Target        `json:"target"`
	RunID   string        `json:"run_id"`
	Results LatestResults `json:"results"`
}
