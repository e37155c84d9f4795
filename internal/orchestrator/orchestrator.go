// Package orchestrator sequences the ping, download and upload probes of a
// run. All methods must be called from one goroutine (the display loop);
// probes run on their own goroutines and hand back exactly one value each.
package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/idanyas/speedtui/internal/data"
	"github.com/idanyas/speedtui/internal/probe"
)

// Phase is the state of the current run.
type Phase int

const (
	Idle Phase = iota
	MeasuringLatency
	MeasuringDownload
	MeasuringUpload
	Finished
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case MeasuringLatency:
		return "measuring latency"
	case MeasuringDownload:
		return "measuring download"
	case MeasuringUpload:
		return "measuring upload"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Kind reports the probe kind a measuring phase runs.
func (p Phase) Kind() (data.Kind, bool) {
	switch p {
	case MeasuringLatency:
		return data.Ping, true
	case MeasuringDownload:
		return data.Download, true
	case MeasuringUpload:
		return data.Upload, true
	}
	return 0, false
}

func (p Phase) next() Phase {
	switch p {
	case MeasuringLatency:
		return MeasuringDownload
	case MeasuringDownload:
		return MeasuringUpload
	case MeasuringUpload:
		return Finished
	default:
		return Idle
	}
}

// Recorder is told about every stored measurement and every finished run.
// Calls happen on the goroutine driving Poll.
type Recorder interface {
	Observe(runID string, kind data.Kind, m data.Measurement)
	RunFinished(runID string, results data.LatestResults)
}

// Snapshot is what the render path reads each tick.
type Snapshot struct {
	Phase   Phase
	Results data.LatestResults
	Target  data.Target
	RunID   string
	Runs    int // completed runs
}

// handoff is the receiver of the one outstanding probe. A nil *handoff
// means no probe is active.
type handoff struct {
	phase Phase
	ch    <-chan data.Measurement
}

type Orchestrator struct {
	ctx      context.Context
	probes   probe.Set
	target   data.Target
	phase    Phase
	results  data.LatestResults
	pending  *handoff
	runID    string
	runs     int
	recorder Recorder
	log      logrus.FieldLogger
	newID    func() string
}

type Option func(*Orchestrator)

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New returns an idle orchestrator. ctx bounds every probe it spawns.
func New(ctx context.Context, probes probe.Set, target data.Target, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ctx:    ctx,
		probes: probes,
		target: target,
		phase:  Idle,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		o.log = l
	}
	o.log = o.log.WithField("component", "orchestrator")
	return o
}

// SetTarget changes the target of the next run. Callers must only do this
// while idle; a probe already in flight keeps its own copy.
func (o *Orchestrator) SetTarget(t data.Target) {
	o.target = t
}

// StartRun begins a run when idle and is ignored otherwise.
func (o *Orchestrator) StartRun() {
	if o.phase != Idle {
		o.log.WithField("phase", o.phase.String()).Debug("run already active, start ignored")
		return
	}
	o.runID = o.newID()
	o.log.WithFields(logrus.Fields{"run_id": o.runID, "target": o.target.URL}).Info("run started")
	o.enter(MeasuringLatency)
}

// Poll checks the outstanding probe without blocking. Only a delivered
// value moves the run forward; a Finished run returns to Idle.
func (o *Orchestrator) Poll() {
	if o.phase == Finished {
		o.phase = Idle
		o.log.WithField("run_id", o.runID).Debug("back to idle")
		return
	}
	if o.pending == nil {
		return
	}

	var m data.Measurement
	select {
	case m = <-o.pending.ch:
	default:
		return
	}

	kind, _ := o.pending.phase.Kind()
	o.pending = nil
	o.results.Store(kind, m)
	if o.recorder != nil {
		o.recorder.Observe(o.runID, kind, m)
	}
	o.enter(o.phase.next())
}

func (o *Orchestrator) enter(p Phase) {
	o.phase = p
	o.log.WithFields(logrus.Fields{"run_id": o.runID, "phase": p.String()}).Debug("phase entered")

	kind, measuring := p.Kind()
	if !measuring {
		if p == Finished {
			o.runs++
			o.log.WithFields(logrus.Fields{
				"run_id":        o.runID,
				"ping_ms":       o.results.Ping.Avg,
				"download_mbps": o.results.Download.Mbps(),
				"upload_mbps":   o.results.Upload.Mbps(),
			}).Info("run finished")
			if o.recorder != nil {
				o.recorder.RunFinished(o.runID, o.results)
			}
		}
		return
	}

	var ch <-chan data.Measurement
	if pr := o.probes.For(kind); pr != nil {
		ch = probe.Spawn(o.ctx, pr, o.target, o.log.WithField("run_id", o.runID))
	} else {
		// nothing to run for this phase: report zero right away
		zero := make(chan data.Measurement, 1)
		zero <- data.Zero(kind)
		ch = zero
	}
	o.pending = &handoff{phase: p, ch: ch}
}

// Snapshot returns a copy of the current state. It has no side effects.
func (o *Orchestrator) Snapshot() Snapshot {
	return Snapshot{
		Phase:   o.phase,
		Results: o.results,
		Target:  o.target,
		RunID:   o.runID,
		Runs:    o.runs,
	}
}

func (o *Orchestrator) IsRunning() bool {
	return o.phase != Idle
}
