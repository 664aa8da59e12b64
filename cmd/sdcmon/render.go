package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/pipeline"
)

const clearScreenSequence = "\033[2J\033[H"

// isTerminal reports whether out is an interactive terminal
func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of out, or fallback when it is not a terminal
func terminalWidth(out io.Writer, fallback int) int {
	f, ok := out.(*os.File)
	if !ok {
		return fallback
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}

type palette struct {
	header *color.Color
	value  *color.Color
	rising *color.Color
	fall   *color.Color
	muted  *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		header: color.New(color.FgCyan, color.Bold),
		value:  color.New(color.Bold),
		rising: color.New(color.FgRed),
		fall:   color.New(color.FgGreen),
		muted:  color.New(color.FgHiBlack),
	}
	for _, c := range []*color.Color{p.header, p.value, p.rising, p.fall, p.muted} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// vitalsView renders the live metric table of one device
type vitalsView struct {
	out     io.Writer
	colors  palette
	refresh bool
	width   int
	trend   int
}

func newVitalsView(out io.Writer) *vitalsView {
	tty := isTerminal(out)
	return &vitalsView{
		out:     out,
		colors:  newPalette(tty),
		refresh: tty,
		width:   terminalWidth(out, 80),
		trend:   10,
	}
}

// render prints the newest sample per handle of p with a short trend
func (v *vitalsView) render(record device.DeviceRecord, p *pipeline.Pipeline, dropped int64) {
	if v.refresh {
		fmt.Fprint(v.out, clearScreenSequence)
	}

	title := fmt.Sprintf("%s  [%s]", record.DisplayName(), record.Status)
	if !record.Location.IsEmpty() {
		title += "  " + record.Location.String()
	}
	if len(title) > v.width {
		title = title[:v.width]
	}
	v.colors.header.Fprintln(v.out, title)

	latest := p.AllLatest()
	if len(latest) == 0 {
		v.colors.muted.Fprintln(v.out, "Waiting for metrics...")
		return
	}

	handles := make([]string, 0, len(latest))
	for h := range latest {
		handles = append(handles, h)
	}
	sort.Strings(handles)

	w := tabwriter.NewWriter(v.out, 0, 0, 2, ' ', 0)
	// colored trend marks go last so they do not skew the alignment
	fmt.Fprintln(w, "METRIC\tVALUE\tUNIT\tRANGE\tUPDATED\tTREND")
	for _, h := range handles {
		s := latest[h]
		history := p.History(h, v.trend)
		lo, hi := valueRange(history)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Name,
			v.colors.value.Sprintf("%.1f", s.Value),
			s.Unit,
			fmt.Sprintf("%.1f-%.1f", lo, hi),
			s.Timestamp.Format(time.TimeOnly),
			v.trendMark(history),
		)
	}
	_ = w.Flush()

	if dropped > 0 {
		v.colors.muted.Fprintf(v.out, "%d frames skipped by the display\n", dropped)
	}
}

func (v *vitalsView) trendMark(history []pipeline.Sample) string {
	if len(history) < 2 {
		return "-"
	}
	prev, last := history[len(history)-2].Value, history[len(history)-1].Value
	switch {
	case last > prev:
		return v.colors.rising.Sprint("↑")
	case last < prev:
		return v.colors.fall.Sprint("↓")
	default:
		return "→"
	}
}

func valueRange(history []pipeline.Sample) (lo, hi float64) {
	for i, s := range history {
		if i == 0 || s.Value < lo {
			lo = s.Value
		}
		if i == 0 || s.Value > hi {
			hi = s.Value
		}
	}
	return lo, hi
}

// summaryLines describes the collected histories, one metric per line
func summaryLines(p *pipeline.Pipeline) []string {
	handles := p.Handles()
	lines := make([]string, 0, len(handles))
	for _, h := range handles {
		history := p.History(h, 0)
		if len(history) == 0 {
			continue
		}
		lo, hi := valueRange(history)
		last := history[len(history)-1]
		lines = append(lines, fmt.Sprintf("%s: %d samples, last %.1f %s, range %.1f-%.1f",
			last.Name, len(history), last.Value, last.Unit, lo, hi))
	}
	return lines
}

func printSummary(out io.Writer, record device.DeviceRecord, lines []string) {
	fmt.Fprintln(out, record.Summary())
	if len(lines) > 0 {
		fmt.Fprintln(out, strings.Join(lines, "\n"))
	}
}
