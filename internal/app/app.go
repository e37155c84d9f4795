// Package app wires the server directory, the orchestrator and a display
// sink into one measurement session.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/idanyas/speedtui/internal/config"
	"github.com/idanyas/speedtui/internal/data"
	"github.com/idanyas/speedtui/internal/directory"
	"github.com/idanyas/speedtui/internal/display"
	"github.com/idanyas/speedtui/internal/metrics"
	"github.com/idanyas/speedtui/internal/orchestrator"
	"github.com/idanyas/speedtui/internal/output"
	"github.com/idanyas/speedtui/internal/probe"
)

type Options struct {
	Config  *config.Config
	Client  *http.Client
	Logger  logrus.FieldLogger
	Version string

	Once   bool // one run without the interactive view
	JSON   bool // suppress progress output; the caller prints the result
	Select bool // pick the server from a prompt

	// GeoIPURL overrides directory.GeoIPURL.
	GeoIPURL string

	Stdin  *os.File
	Stdout *os.File
	// Out receives once-mode output. Defaults to Stdout.
	Out io.Writer
}

func (o *Options) out() io.Writer {
	if o.Out != nil {
		return o.Out
	}
	if o.Stdout != nil {
		return o.Stdout
	}
	return io.Discard
}

// Servers fetches the server directory, sorted by distance when the
// config asks for the nearest server.
func Servers(ctx context.Context, opts Options) ([]data.Server, error) {
	cfg := opts.Config.Directory

	fetchCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	servers, err := directory.New(opts.Client, cfg.URLs, opts.Logger).Fetch(fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get server list: %w", err)
	}

	if cfg.Nearest {
		endpoint := opts.GeoIPURL
		if endpoint == "" {
			endpoint = directory.GeoIPURL
		}
		lat, lon, err := directory.Locate(ctx, opts.Client, endpoint)
		if err != nil {
			opts.Logger.WithError(err).Warn("geoip lookup failed")
			if !opts.JSON {
				output.Warn("GeoIP lookup failed (%v). Keeping directory order.", err)
			}
		} else {
			directory.SortByDistance(servers, lat, lon)
		}
	}
	return servers, nil
}

func chooseServer(ctx context.Context, opts Options) (data.Server, error) {
	servers, err := Servers(ctx, opts)
	if err != nil {
		return data.Server{}, err
	}

	if opts.Select && !opts.JSON {
		idx, err := output.SelectServer(servers)
		if err != nil {
			return data.Server{}, fmt.Errorf("server selection aborted: %w", err)
		}
		return servers[idx], nil
	}
	return directory.Select(servers, opts.Config.Directory.ServerIndex)
}

// Run resolves the target and measures it until the user quits, or for a
// single run in once mode. It returns the latest results.
func Run(ctx context.Context, opts Options) (*data.TestResult, error) {
	log := opts.Logger
	cfg := opts.Config

	server, err := chooseServer(ctx, opts)
	if err != nil {
		return nil, err
	}
	target, err := directory.TargetFor(server)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"server_id": server.ID, "sponsor": server.Sponsor, "url": target.URL}).Info("target selected")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	recorder := metrics.New(log)
	orch := orchestrator.New(runCtx, probe.NewSet(cfg.Probe, opts.Client), target,
		orchestrator.WithRecorder(recorder),
		orchestrator.WithLogger(log),
	)

	once := opts.Once
	if !once && (opts.Stdin == nil || !display.IsTerminal(opts.Stdin)) {
		output.Warn("stdin is not a terminal, running a single test.")
		once = true
	}

	loopOpts := display.Options{Tick: cfg.Display.Tick, Logger: log}
	var sink display.Sink
	if once {
		output.PrintServer(opts.out(), server, opts.JSON)
		progress := output.NewProgressSink(opts.out(), opts.JSON)
		defer progress.Close()
		sink = progress
		loopOpts.AutoStart = true
		loopOpts.StopAfterRun = true
	} else {
		term, err := display.OpenTerminal(opts.Stdin, opts.Stdout)
		if err != nil {
			return nil, fmt.Errorf("failed to open terminal: %w", err)
		}
		defer term.Restore()

		screen := output.NewScreen(opts.Stdout, server, opts.Version, term.Width)
		defer screen.Close()
		sink = screen
		loopOpts.Intents = display.ReadKeys(runCtx, opts.Stdin)
	}

	g, gctx := errgroup.WithContext(runCtx)
	serveCtx, stopServe := context.WithCancel(gctx)
	g.Go(func() error {
		defer stopServe()
		return display.NewLoop(orch, sink, loopOpts).Run(gctx)
	})
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return recorder.Serve(serveCtx, cfg.Metrics.Addr)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := orch.Snapshot()
	return &data.TestResult{
		Server:  server,
		Target:  snap.Target,
		RunID:   snap.RunID,
		Results: snap.Results,
	}, nil
}
