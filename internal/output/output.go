package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"

	"github.com/idanyas/speedtui/internal/data"
)

func PrintHeader(w io.Writer, jsonOutput bool, version string) {
	if jsonOutput {
		return
	}
	cyan := color.New(color.FgCyan)
	cyan.Fprintf(w, "\n    speedtui v%s\n\n", version)
}

// Warn prints a yellow warning line to stderr.
func Warn(format string, args ...any) {
	yellow := color.New(color.FgYellow).FprintfFunc()
	yellow(os.Stderr, "Warning: "+format+"\n", args...)
}

// ShowServers prints the directory as a table, or as JSON.
func ShowServers(w io.Writer, servers []data.Server, jsonOutput bool) error {
	if jsonOutput {
		raw, err := json.MarshalIndent(servers, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling servers to JSON: %w", err)
		}
		fmt.Fprintln(w, string(raw))
		return nil
	}

	maxIdx := len("#")
	maxSponsor := len("Sponsor")
	maxName := len("Location")
	maxHost := len("Host")
	for i, s := range servers {
		maxIdx = max(maxIdx, len(fmt.Sprint(i)))
		maxSponsor = max(maxSponsor, len(s.Sponsor))
		maxName = max(maxName, len(s.Name)+len(s.Country)+2)
		maxHost = max(maxHost, len(s.Host))
	}

	lineFmt := fmt.Sprintf("%%%ds  %%-%ds  %%-%ds  %%-%ds  %%s\n", maxIdx, maxSponsor, maxName, maxHost)
	fmt.Fprintf(w, lineFmt, "#", "Sponsor", "Location", "Host", "Distance")
	fmt.Fprintf(w, "%s  %s  %s  %s  %s\n",
		strings.Repeat("-", maxIdx),
		strings.Repeat("-", maxSponsor),
		strings.Repeat("-", maxName),
		strings.Repeat("-", maxHost),
		strings.Repeat("-", len("Distance")),
	)
	for i, s := range servers {
		dist := "-"
		if s.Distance > 0 {
			dist = fmt.Sprintf("%.0f km", s.Distance)
		}
		fmt.Fprintf(w, lineFmt, fmt.Sprint(i), s.Sponsor, location(s), s.Host, dist)
	}
	return nil
}

func location(s data.Server) string {
	if s.Country == "" {
		return s.Name
	}
	return s.Name + ", " + s.Country
}

// SelectServer lets the user pick a server and returns its index.
func SelectServer(servers []data.Server) (int, error) {
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Printf("%s Choose a server:\n", cyan("✓"))

	maxSponsor := 0
	for _, s := range servers {
		maxSponsor = max(maxSponsor, len(s.Sponsor))
	}

	activeTpl := fmt.Sprintf(`{{ "▸" | cyan }} {{ .Sponsor | printf "%%-%ds" | cyan }} {{ .Name }}, {{ .Country }} [{{ .Host }}]{{ if .Distance }} {{ .Distance | printf "%%.0f" }} km{{ end }}`, maxSponsor)
	inactiveTpl := fmt.Sprintf(`  {{ .Sponsor | printf "%%-%ds" }} {{ .Name }}, {{ .Country }} [{{ .Host }}]{{ if .Distance }} {{ .Distance | printf "%%.0f" }} km{{ end }}`, maxSponsor)

	prompt := promptui.Select{
		Label: "",
		Items: servers,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   activeTpl,
			Inactive: inactiveTpl,
		},
		Size:         10,
		HideHelp:     true,
		HideSelected: true,
		Stdout:       os.Stdout,
	}

	i, _, err := prompt.Run()
	if err != nil {
		return 0, err
	}

	// Move cursor up one line and clear
	fmt.Print("\033[1A\033[2K\r")
	return i, nil
}

func PrintServer(w io.Writer, s data.Server, jsonOutput bool) {
	if jsonOutput {
		return
	}
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintf(w, "%s Server: %s (%s) [%s]\n\n", cyan("✓"), s.Sponsor, location(s), s.Host)
}

func OutputJSON(w io.Writer, result *data.TestResult) error {
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(raw))
	return nil
}

func PrintLatencyInfo(w io.Writer, l data.Latency) {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(w, "%s Latency: %.2f ms (Min: %.2f ms, Max: %.2f ms, Samples: %d)\n",
		green("✓"),
		l.Avg,
		l.Min,
		l.Max,
		l.Samples,
	)
}

func PrintThroughputInfo(w io.Writer, name string, t data.Throughput) {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(w, "%s %s %.2f Mbps (Used: %.2f MB in %.2fs)\n",
		green("✓"),
		name,
		t.Mbps(),
		t.MB(),
		t.Duration.Seconds(),
	)
}
