package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/pandora-cas/goclient/pkg/codec"
)

func TestColorHelpersWrapAndReset(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) string
		code string
	}{
		{"Green", Green, "\033[32m"},
		{"Yellow", Yellow, "\033[33m"},
		{"Red", Red, "\033[31m"},
		{"Bold", Bold, "\033[1m"},
		{"Dim", Dim, "\033[2m"},
	}
	for _, tt := range tests {
		got := tt.fn("armed")
		if !strings.HasPrefix(got, tt.code) || !strings.HasSuffix(got, "\033[0m") {
			t.Errorf("%s(armed) = %q", tt.name, got)
		}
		if !strings.Contains(got, "armed") {
			t.Errorf("%s dropped its text: %q", tt.name, got)
		}
	}
}

func TestOnOffHighlightsAsserted(t *testing.T) {
	if got := OnOff(true); got != Green("on") {
		t.Errorf("OnOff(true) = %q", got)
	}
	if got := OnOff(false); got != "off" {
		t.Errorf("OnOff(false) = %q", got)
	}
}

func TestFormatIntSparseStates(t *testing.T) {
	if got := FormatInt(codec.Field[int]{}, "%"); got != "-" {
		t.Errorf("absent field = %q, want -", got)
	}
	if got := FormatInt(codec.Field[int]{Present: true, Null: true}, "%"); got != "-" {
		t.Errorf("cleared field = %q, want -", got)
	}
	if got := FormatInt(codec.Field[int]{Present: true, Value: 50}, "%"); got != "50%" {
		t.Errorf("present field = %q, want 50%%", got)
	}
	if got := FormatInt(codec.Field[int]{Present: true, Value: 0}, ""); got != "0" {
		t.Errorf("present zero = %q, want 0", got)
	}
}

func TestFormatFloatSparseStates(t *testing.T) {
	if got := FormatFloat(codec.Field[float64]{}); got != "-" {
		t.Errorf("absent field = %q, want -", got)
	}
	if got := FormatFloat(codec.Field[float64]{Present: true, Value: 42.5}); got != "42.5" {
		t.Errorf("present field = %q, want 42.5", got)
	}
}

func TestFormatTimeSparseStates(t *testing.T) {
	if got := FormatTime(codec.Field[time.Time]{}); got != "-" {
		t.Errorf("absent field = %q, want -", got)
	}
	stamp := time.Unix(1700000000, 0)
	got := FormatTime(codec.Field[time.Time]{Present: true, Value: stamp})
	if !strings.Contains(got, "202") || len(got) != len("2006-01-02 15:04:05") {
		t.Errorf("present field = %q, want a local timestamp", got)
	}
}

func TestDotPad(t *testing.T) {
	got := DotPad("engine_running", 20)
	if len(got) != 20 {
		t.Errorf("len = %d, want 20 (%q)", len(got), got)
	}
	if !strings.HasPrefix(got, "engine_running ") || !strings.HasSuffix(got, ".") {
		t.Errorf("DotPad = %q", got)
	}
	if DotPad("a_very_long_flag_name", 5) != "a_very_long_flag_name" {
		t.Error("names wider than the target width must pass through unchanged")
	}
}
