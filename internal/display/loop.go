// Package display drives the orchestrator from a single goroutine: every
// tick it applies queued user intents, polls the engine and draws a frame.
package display

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/idanyas/speedtui/internal/orchestrator"
)

const DefaultTick = 16 * time.Millisecond

type Engine interface {
	StartRun()
	Poll()
	Snapshot() orchestrator.Snapshot
	IsRunning() bool
}

// Sink draws one frame. tick increases by one per frame.
type Sink interface {
	Draw(snap orchestrator.Snapshot, tick int) error
}

type Options struct {
	Tick    time.Duration
	Intents <-chan Intent // may be nil
	// AutoStart begins a run before the first tick.
	AutoStart bool
	// StopAfterRun ends the loop once a run has finished and the engine is idle.
	StopAfterRun bool
	Logger       logrus.FieldLogger
}

type Loop struct {
	engine Engine
	sink   Sink
	opts   Options
	log    logrus.FieldLogger
}

func NewLoop(engine Engine, sink Sink, opts Options) *Loop {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Loop{engine: engine, sink: sink, opts: opts, log: log.WithField("component", "display")}
}

// Run blocks until the user quits, ctx ends, drawing fails, or (with
// StopAfterRun) the first run completes. Quitting and ctx cancellation
// return nil.
func (l *Loop) Run(ctx context.Context) error {
	intents := l.opts.Intents
	if l.opts.AutoStart {
		l.engine.StartRun()
	}

	ticker := time.NewTicker(l.opts.Tick)
	defer ticker.Stop()

	for tick := 0; ; tick++ {
		var quit bool
		if intents, quit = l.drain(intents); quit {
			l.log.Debug("quit requested")
			return nil
		}

		l.engine.Poll()
		snap := l.engine.Snapshot()
		if err := l.sink.Draw(snap, tick); err != nil {
			return err
		}
		if l.opts.StopAfterRun && snap.Runs > 0 && !l.engine.IsRunning() {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// drain applies every queued intent without blocking. A closed channel is
// returned as nil so later ticks skip it.
func (l *Loop) drain(intents <-chan Intent) (<-chan Intent, bool) {
	for intents != nil {
		select {
		case in, ok := <-intents:
			if !ok {
				return nil, false
			}
			switch in {
			case Quit:
				return intents, true
			case Start:
				l.engine.StartRun()
			}
		default:
			return intents, false
		}
	}
	return nil, false
}
