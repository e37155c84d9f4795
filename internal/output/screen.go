package output

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/idanyas/speedtui/internal/data"
	"github.com/idanyas/speedtui/internal/orchestrator"
)

const (
	clearScreen = "\033[H\033[2J"
	hideCursor  = "\033[?25l"
	showCursor  = "\033[?25h"

	minWidth = 36
	maxWidth = 72
)

var spinner = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type row struct {
	label string
	value string
	color *color.Color
}

// Screen redraws the whole view on every Draw. Lines end in \r\n because the
// terminal is in raw mode.
type Screen struct {
	w       io.Writer
	server  data.Server
	version string
	width   func() int
}

// NewScreen returns a screen writing to w. width reports the terminal width
// and may be nil.
func NewScreen(w io.Writer, server data.Server, version string, width func() int) *Screen {
	fmt.Fprint(w, hideCursor)
	return &Screen{w: w, server: server, version: version, width: width}
}

func (s *Screen) Draw(snap orchestrator.Snapshot, tick int) error {
	width := maxWidth
	if s.width != nil {
		width = s.width()
	}
	_, err := io.WriteString(s.w, clearScreen+Render(snap, s.server, s.version, width, tick))
	return err
}

// Close restores the cursor.
func (s *Screen) Close() error {
	_, err := io.WriteString(s.w, "\r\n"+showCursor)
	return err
}

// Render lays out the title, the three result panels and a status line.
func Render(snap orchestrator.Snapshot, server data.Server, version string, width, tick int) string {
	width = min(max(width, minWidth), maxWidth)

	var lines []string
	title := color.New(color.FgCyan, color.Bold).Sprintf("speedtui v%s", version)
	lines = append(lines, " "+title+"  "+color.New(color.FgWhite).Sprint(targetLabel(snap, server)), "")

	ping := snap.Results.Ping
	lines = append(lines, panel("Ping", snap.Phase == orchestrator.MeasuringLatency, width, []row{
		{"Average", fmt.Sprintf("%.2f ms", ping.Avg), color.New(color.FgBlue, color.Bold)},
		{"Min", fmt.Sprintf("%.2f ms", ping.Min), color.New(color.FgGreen, color.Bold)},
		{"Max", fmt.Sprintf("%.2f ms", ping.Max), color.New(color.FgRed, color.Bold)},
		{"Samples", fmt.Sprint(ping.Samples), color.New(color.FgWhite)},
	})...)
	lines = append(lines, panel("Download", snap.Phase == orchestrator.MeasuringDownload, width, throughputRows(snap.Results.Download, "Downloaded"))...)
	lines = append(lines, panel("Upload", snap.Phase == orchestrator.MeasuringUpload, width, throughputRows(snap.Results.Upload, "Uploaded"))...)

	lines = append(lines, "", " "+status(snap, tick), " "+color.New(color.Faint).Sprint("enter: start run   q: quit"))
	return strings.Join(lines, "\r\n")
}

func targetLabel(snap orchestrator.Snapshot, server data.Server) string {
	if server.Sponsor != "" {
		return fmt.Sprintf("%s (%s) %s", server.Sponsor, location(server), snap.Target.Host)
	}
	return snap.Target.Host
}

func throughputRows(t data.Throughput, verb string) []row {
	return []row{
		{verb, fmt.Sprintf("%.2f MB", t.MB()), color.New(color.FgGreen)},
		{"Duration", fmt.Sprintf("%.2f s", t.Duration.Seconds()), color.New(color.FgRed)},
		{"Speed", fmt.Sprintf("%.2f Mbps", t.Mbps()), color.New(color.FgBlue, color.Bold)},
	}
}

func status(snap orchestrator.Snapshot, tick int) string {
	if _, measuring := snap.Phase.Kind(); !measuring {
		if snap.Runs == 0 {
			return "Press enter to start a test."
		}
		return color.New(color.FgGreen).Sprintf("✓ Run %d finished.", snap.Runs)
	}
	cyan := color.New(color.FgCyan).SprintFunc()
	return fmt.Sprintf("%s %s", cyan(spinner[tick%len(spinner)]), capitalize(snap.Phase.String()))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// panel draws a bordered box; the active panel gets a green border.
func panel(title string, active bool, width int, rows []row) []string {
	border := color.New(color.FgRed)
	if active {
		border = color.New(color.FgGreen, color.Bold)
	}
	inner := width - 2

	head := "─ " + title + " "
	top := border.Sprint("╭"+head+strings.Repeat("─", max(inner-utf8.RuneCountInString(head), 0))) + border.Sprint("╮")
	bottom := border.Sprint("╰" + strings.Repeat("─", inner) + "╯")

	out := []string{top}
	for _, r := range rows {
		label := fmt.Sprintf(" %-11s", r.label)
		pad := max(inner-len(label)-len(r.value)-1, 0)
		out = append(out, border.Sprint("│")+label+r.color.Sprint(r.value)+strings.Repeat(" ", pad+1)+border.Sprint("│"))
	}
	return append(out, bottom)
}
