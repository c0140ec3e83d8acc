// Package cli renders pandoractl's terminal output: ANSI color helpers,
// formatting for sparse telemetry fields, and a column-aligned table.
package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/pandora-cas/goclient/pkg/codec"
)

// ANSI color helpers

func Green(s string) string  { return "\033[32m" + s + "\033[0m" }
func Yellow(s string) string { return "\033[33m" + s + "\033[0m" }
func Red(s string) string    { return "\033[31m" + s + "\033[0m" }
func Bold(s string) string   { return "\033[1m" + s + "\033[0m" }
func Dim(s string) string    { return "\033[2m" + s + "\033[0m" }

// OnOff renders a bitfield flag value, highlighting the asserted state.
func OnOff(v bool) string {
	if v {
		return Green("on")
	}
	return "off"
}

// YesNo renders a boolean table cell, highlighting yes.
func YesNo(v bool) string {
	if v {
		return Green("yes")
	}
	return "no"
}

// FormatInt renders a sparse integer field, "-" when absent or cleared.
// suffix is appended to present values ("%", "°", ...).
func FormatInt(f codec.Field[int], suffix string) string {
	if !f.Set() {
		return "-"
	}
	return strconv.Itoa(f.Value) + suffix
}

// FormatFloat renders a sparse float field, "-" when absent or cleared.
func FormatFloat(f codec.Field[float64]) string {
	if !f.Set() {
		return "-"
	}
	return strconv.FormatFloat(f.Value, 'f', -1, 64)
}

// FormatTime renders a sparse timestamp field in local time, "-" when
// absent or cleared.
func FormatTime(f codec.Field[time.Time]) string {
	if !f.Set() {
		return "-"
	}
	return f.Value.Local().Format("2006-01-02 15:04:05")
}

// DotPad pads name with dots to the given width, for flag listings:
// DotPad("engine_running", 20) → "engine_running ....."
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	return name + " " + strings.Repeat(".", width-len(name)-1)
}
