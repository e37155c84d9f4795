package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/idanyas/speedtui/internal/app"
	"github.com/idanyas/speedtui/internal/client"
	"github.com/idanyas/speedtui/internal/config"
	"github.com/idanyas/speedtui/internal/directory"
	"github.com/idanyas/speedtui/internal/output"
)

var (
	version         = "DEV"
	configPath      = pflag.String("config", "", "Path to a YAML config file.")
	serverIndex     = pflag.Int("server-index", 0, "Index of the server in the directory to measure against.")
	nearest         = pflag.Bool("nearest", false, "Sort servers by distance using GeoIP before picking one.")
	selectServer    = pflag.Bool("select", false, "Choose the server interactively.")
	latencyAttempts = pflag.IntP("latency-attempts", "l", 20, "Number of latency samples per run.")
	latencyDelay    = pflag.Duration("latency-delay", 300*time.Millisecond, "Pause before each latency sample.")
	latencyMode     = pflag.String("latency-mode", config.LatencyHTTP, "Latency probe: http (HEAD round trip) or tcp (connect time).")
	uploadSize      = pflag.Int64("upload-size", 10<<20, "Upload payload size in bytes.")
	once            = pflag.Bool("once", false, "Run a single test without the interactive view.")
	jsonOutput      = pflag.BoolP("json", "j", false, "Output results in JSON format (implies --once).")
	ipv4            = pflag.BoolP("ipv4", "4", false, "Use IPv4 only connection.")
	ipv6            = pflag.BoolP("ipv6", "6", false, "Use IPv6 only connection.")
	interfaceName   = pflag.StringP("interface", "I", "", "Network interface or source IP address to use.")
	insecure        = pflag.Bool("insecure", false, "Skip TLS certificate verification (UNSAFE).")
	metricsAddr     = pflag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090.")
	logFile         = pflag.String("log-file", "", "Write logs to this file.")
	logLevel        = pflag.String("log-level", "info", "Log level (debug, info, warn, error).")
	list            = pflag.Bool("list", false, "List servers from the directory and exit.")
	writeConfigPath = pflag.String("write-config", "", "Write the effective configuration to this file and exit.")
)

func main() {
	pflag.Usage = func() {
		out := os.Stderr
		fmt.Fprintf(out, "Usage: %s [options...]\n\n", os.Args[0])
		fmt.Fprintln(out, "Measure latency, download and upload speed against a speedtest server.")
		fmt.Fprintln(out, "\nKeys: enter or s starts a run, q or esc quits.")
		fmt.Fprintln(out, "\nOptions:")
		pflag.PrintDefaults()
		fmt.Fprintf(out, "\nVersion: %s\n", version)
	}
	pflag.CommandLine.Init(os.Args[0], pflag.ContinueOnError)
	err := pflag.CommandLine.Parse(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "\nError parsing flags: %v\n", err)
		os.Exit(2)
	}

	if *ipv4 && *ipv6 {
		fmt.Fprintln(os.Stderr, "Error: --ipv4 (-4) and --ipv6 (-6) flags cannot be used together.")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if *writeConfigPath != "" {
		if err := writeConfig(os.Stdout, *writeConfigPath, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	runOnce := *once || *jsonOutput || *list
	logger, closeLog, err := newLogger(cfg.Log, runOnce && !*jsonOutput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(2)
	}
	defer closeLog()

	output.PrintHeader(os.Stdout, *jsonOutput || !runOnce, version)

	if *insecure && !*jsonOutput {
		output.Warn("Skipping TLS certificate verification (--insecure). This is potentially unsafe!")
	}

	httpClient, err := client.NewHTTPClient(client.Options{
		IPv4Only:  *ipv4,
		IPv6Only:  *ipv6,
		Interface: *interfaceName,
		Insecure:  *insecure,
		UserAgent: "speedtui/" + version,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating HTTP client: %v\n", err)
		handleClientError(err, *interfaceName)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := app.Options{
		Config:  cfg,
		Client:  httpClient,
		Logger:  logger,
		Version: version,
		Once:    runOnce,
		JSON:    *jsonOutput,
		Select:  *selectServer,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
	}

	if *list {
		servers, err := app.Servers(ctx, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			handleClientError(err, *interfaceName)
			os.Exit(1)
		}
		if err := output.ShowServers(os.Stdout, servers, *jsonOutput); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	result, err := app.Run(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during speed test: %v\n", err)
		handleClientError(err, *interfaceName)
		if !*insecure && (strings.Contains(err.Error(), "certificate") || strings.Contains(err.Error(), "tls")) {
			fmt.Fprintln(os.Stderr, "Hint: If you trust the network, try the --insecure flag (use with caution).")
		}
		os.Exit(1)
	}

	if *jsonOutput {
		if err := output.OutputJSON(os.Stdout, result); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding result: %v\n", err)
			os.Exit(1)
		}
	}
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cfg *config.Config) {
	changed := pflag.CommandLine.Changed
	if changed("server-index") {
		cfg.Directory.ServerIndex = *serverIndex
	}
	if changed("nearest") {
		cfg.Directory.Nearest = *nearest
	}
	if changed("latency-attempts") {
		cfg.Probe.LatencyAttempts = *latencyAttempts
	}
	if changed("latency-delay") {
		cfg.Probe.LatencyDelay = *latencyDelay
	}
	if changed("latency-mode") {
		cfg.Probe.LatencyMode = *latencyMode
	}
	if changed("upload-size") {
		cfg.Probe.UploadBytes = *uploadSize
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = *metricsAddr
	}
	if changed("log-file") {
		cfg.Log.File = *logFile
	}
	if changed("log-level") {
		cfg.Log.Level = *logLevel
	}
}

// writeConfig saves cfg, flags applied, so it can be passed back with --config.
func writeConfig(w io.Writer, path string, cfg *config.Config) error {
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(w, "Configuration written to %s\n", path)
	return nil
}

// newLogger sends logs to the configured file, to stderr when toStderr is
// set, and nowhere otherwise. stderr only gets warnings and errors.
func newLogger(cfg config.LogConfig, toStderr bool) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel(level)

	switch {
	case cfg.File != "":
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		logger.SetOutput(f)
		return logger, func() { f.Close() }, nil
	case toStderr:
		logger.SetOutput(os.Stderr)
		logger.SetLevel(min(level, logrus.WarnLevel))
	default:
		logger.SetOutput(io.Discard)
	}
	return logger, func() {}, nil
}

func handleClientError(err error, iface string) {
	var dnsErr *net.DNSError
	switch {
	case strings.Contains(err.Error(), "failed to find interface"):
		fmt.Fprintln(os.Stderr, "Hint: Ensure the specified interface name exists and is correct.")
	case strings.Contains(err.Error(), "IP address found for interface"):
		fmt.Fprintf(os.Stderr, "Hint: Check if interface %q has an IP address matching the requested family (IPv4/IPv6).\n", iface)
	case errors.As(err, &dnsErr) || strings.Contains(err.Error(), "DNS resolution failed"):
		fmt.Fprintln(os.Stderr, "Hint: Check network connectivity and DNS settings. Try forcing IPv4 (-4) or IPv6 (-6).")
	case errors.Is(err, directory.ErrNoServers):
		fmt.Fprintln(os.Stderr, "Hint: The server directory could not be reached. Set directory.urls in the config to use a mirror.")
	case strings.Contains(err.Error(), "connection failed") || strings.Contains(err.Error(), "dial tcp"):
		fmt.Fprintln(os.Stderr, "Hint: Check network connectivity, firewall rules, or try specifying a source IP/interface with -I.")
	}
}
