package data

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAggregateLatency(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    Latency
	}{
		{
			name:    "no samples",
			samples: nil,
			want:    Latency{},
		},
		{
			name:    "single sample",
			samples: []float64{42},
			want:    Latency{Min: 42, Max: 42, Avg: 42, Samples: 1},
		},
		{
			name:    "several samples",
			samples: []float64{10, 30, 20, 40},
			want:    Latency{Min: 10, Max: 40, Avg: 25, Samples: 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateLatency(tt.samples))
		})
	}
}

func TestAggregateLatencyOrdering(t *testing.T) {
	sets := [][]float64{
		{0.1, 0.2, 0.3},
		{12.5, 12.5, 12.5, 12.5},
		{1e-9, 1e9},
		{7.25, 3.5, 99.75, 0.5, 18},
	}

	for _, samples := range sets {
		l := AggregateLatency(samples)

		sum := 0.0
		for _, s := range samples {
			sum += s
		}

		assert.LessOrEqual(t, l.Min, l.Avg)
		assert.LessOrEqual(t, l.Avg, l.Max)
		assert.InDelta(t, sum/float64(len(samples)), l.Avg, 1e-9)
		assert.Equal(t, len(samples), l.Samples)
	}
}

func TestAggregateLatencyNoNaN(t *testing.T) {
	l := AggregateLatency([]float64{})
	assert.False(t, math.IsNaN(l.Avg))
	assert.False(t, math.IsInf(l.Min, 0))
	assert.False(t, math.IsInf(l.Max, 0))
}

func TestNewThroughput(t *testing.T) {
	tp := NewThroughput(8_000_000, 2*time.Second)
	assert.Equal(t, 4_000_000.0, tp.BitsPerSecond)
	assert.Equal(t, 4.0, tp.Mbps())
	assert.Equal(t, 1.0, tp.MB())

	tp = NewThroughput(83_886_080, time.Second)
	assert.Equal(t, 83_886_080.0, tp.BitsPerSecond)

	tp = NewThroughput(1000, 0)
	assert.Zero(t, tp.BitsPerSecond)
	assert.Equal(t, int64(1000), tp.Bits)
}

func TestZero(t *testing.T) {
	assert.Equal(t, Latency{}, Zero(Ping))
	assert.Equal(t, Throughput{}, Zero(Download))
	assert.Equal(t, Throughput{}, Zero(Upload))
}

func TestLatestResultsStore(t *testing.T) {
	var r LatestResults

	r.Store(Ping, Latency{Min: 1, Max: 3, Avg: 2, Samples: 2})
	r.Store(Download, NewThroughput(800, time.Second))
	r.Store(Upload, NewThroughput(1600, time.Second))

	assert.Equal(t, 2.0, r.Ping.Avg)
	assert.Equal(t, 800.0, r.Download.BitsPerSecond)
	assert.Equal(t, 1600.0, r.Upload.BitsPerSecond)

	// mismatched shape falls back to zero
	r.Store(Ping, Throughput{Bits: 1})
	assert.Equal(t, Latency{}, r.Ping)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ping", Ping.String())
	assert.Equal(t, "download", Download.String())
	assert.Equal(t, "upload", Upload.String())
	assert.Equal(t, "unknown", Kind(9).String())
}
