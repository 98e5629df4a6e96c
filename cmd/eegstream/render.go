package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/srg/eegstream/internal/bandpower"
	"github.com/srg/eegstream/internal/state"
	"github.com/srg/eegstream/pkg/monitor"
)

const barWidth = 30

var bandAttributes = [bandpower.NumBands]color.Attribute{
	bandpower.Delta: color.FgBlue,
	bandpower.Theta: color.FgMagenta,
	bandpower.Alpha: color.FgGreen,
	bandpower.Beta:  color.FgYellow,
	bandpower.Gamma: color.FgRed,
}

// renderer writes human-readable band and status output.
type renderer struct {
	w      io.Writer
	bands  [bandpower.NumBands]*color.Color
	faint  *color.Color
	header *color.Color
}

func newRenderer(w io.Writer, colors bool) *renderer {
	r := &renderer{
		w:      w,
		faint:  color.New(color.Faint),
		header: color.New(color.Bold),
	}
	for _, b := range bandpower.Bands {
		r.bands[b] = color.New(bandAttributes[b])
	}
	for _, c := range append(r.bands[:], r.faint, r.header) {
		if colors {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// colorsFor reports whether w is a terminal that should get ANSI colors.
func colorsFor(w io.Writer, noColor bool) bool {
	if noColor {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Bands prints one row per band: name, absolute power, share and a bar.
func (r *renderer) Bands(snap bandpower.Snapshot) {
	rel := snap.Relative()
	for _, b := range bandpower.Bands {
		filled := int(rel.Get(b)/100*barWidth + 0.5)
		bar := strings.Repeat("█", filled) + strings.Repeat("·", barWidth-filled)
		fmt.Fprintf(r.w, "%s %14.6g %6.1f%% %s\n",
			r.bands[b].Sprintf("%-6s", b.String()),
			snap.Get(b),
			rel.Get(b),
			r.bands[b].Sprint(bar))
	}
}

// Derived prints derived metrics in script order.
func (r *renderer) Derived(metrics []state.Metric) {
	for _, m := range metrics {
		fmt.Fprintf(r.w, "  %s %.4g\n", r.faint.Sprintf("%-12s", m.Name), m.Value)
	}
}

// Window prints a replayed window with its time span.
func (r *renderer) Window(w monitor.Window) {
	fmt.Fprintln(r.w, r.header.Sprintf("Window %d  %s - %s",
		w.Index,
		w.Start.Format("15:04:05.000"),
		w.End.Format("15:04:05.000")))
	r.Bands(w.Bands)
	r.Derived(w.Derived)
	fmt.Fprintln(r.w)
}

// View prints a live window from the state surface.
func (r *renderer) View(v *state.View) {
	fmt.Fprintln(r.w, r.header.Sprintf("Window %d  [%s]  last sample %s", v.Windows, v.Connection, v.Sample))
	r.Bands(v.Bands)
	r.Derived(v.Derived)
	fmt.Fprintln(r.w)
}

// Connection prints a connection state change.
func (r *renderer) Connection(v *state.View) {
	fmt.Fprintf(r.w, "%s %s\n", r.faint.Sprint("connection:"), v.Connection)
}
