package output

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/idanyas/speedtui/internal/orchestrator"
)

var phaseLabels = map[orchestrator.Phase]string{
	orchestrator.MeasuringLatency:  "Latency:",
	orchestrator.MeasuringDownload: "Download:",
	orchestrator.MeasuringUpload:   "Upload:",
}

// ProgressSink shows a spinner per phase and prints each result as its
// phase completes. Quiet sinks draw nothing.
type ProgressSink struct {
	w     io.Writer
	quiet bool
	last  orchestrator.Phase
	bar   *progressbar.ProgressBar
}

func NewProgressSink(w io.Writer, quiet bool) *ProgressSink {
	return &ProgressSink{w: w, quiet: quiet, last: orchestrator.Idle}
}

func (p *ProgressSink) Draw(snap orchestrator.Snapshot, tick int) error {
	if p.quiet {
		return nil
	}
	if snap.Phase != p.last {
		p.finishBar()
		for _, done := range completed(p.last, snap.Phase) {
			p.printCompleted(done, snap)
		}
		if label, ok := phaseLabels[snap.Phase]; ok {
			p.bar = newSpinner(p.w, label)
		}
		p.last = snap.Phase
	}
	if p.bar != nil {
		return p.bar.Add(1)
	}
	return nil
}

func (p *ProgressSink) Close() error {
	p.finishBar()
	return nil
}

func (p *ProgressSink) finishBar() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}

// completed lists the measuring phases finished between two frames. A
// frame may skip phases when probes report faster than the tick.
func completed(from, to orchestrator.Phase) []orchestrator.Phase {
	end := to
	if to < from {
		end = orchestrator.Finished
	}
	var out []orchestrator.Phase
	for ph := from; ph < end; ph++ {
		if _, measuring := ph.Kind(); measuring {
			out = append(out, ph)
		}
	}
	return out
}

func (p *ProgressSink) printCompleted(phase orchestrator.Phase, snap orchestrator.Snapshot) {
	switch phase {
	case orchestrator.MeasuringLatency:
		PrintLatencyInfo(p.w, snap.Results.Ping)
	case orchestrator.MeasuringDownload:
		PrintThroughputInfo(p.w, "Download:", snap.Results.Download)
	case orchestrator.MeasuringUpload:
		PrintThroughputInfo(p.w, "Upload:", snap.Results.Upload)
	}
}

func newSpinner(w io.Writer, label string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(label),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
