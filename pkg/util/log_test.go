package util

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// captureJSON redirects the logger into a buffer with the JSON formatter
// and restores the previous state when the test ends.
func captureJSON(t *testing.T) *bytes.Buffer {
	t.Helper()
	out, level, formatter := Logger.Out, Logger.Level, Logger.Formatter
	t.Cleanup(func() {
		Logger.SetOutput(out)
		Logger.SetLevel(level)
		Logger.SetFormatter(formatter)
	})

	var buf bytes.Buffer
	SetLogOutput(&buf)
	SetLogLevel("debug")
	SetJSONFormat()
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not one JSON object: %v\n%s", err, buf.String())
	}
	return entry
}

func TestSetLogLevel(t *testing.T) {
	captureJSON(t)

	for _, level := range []string{"debug", "info", "warn", "error"} {
		if err := SetLogLevel(level); err != nil {
			t.Errorf("SetLogLevel(%q) = %v", level, err)
		}
	}
	if err := SetLogLevel("shouting"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestWithAccountCarriesUsernameField(t *testing.T) {
	buf := captureJSON(t)

	WithAccount("user@example.com").Info("streaming")

	entry := lastEntry(t, buf)
	if entry["account"] != "user@example.com" {
		t.Errorf("account field = %v, want user@example.com", entry["account"])
	}
}

func TestWithDeviceCarriesDeviceIDField(t *testing.T) {
	buf := captureJSON(t)

	WithDevice(1234).Warn("stale telemetry")

	entry := lastEntry(t, buf)
	if entry["device_id"] != float64(1234) {
		t.Errorf("device_id field = %v, want 1234", entry["device_id"])
	}
}

func TestWithCommandCarriesCorrelationFields(t *testing.T) {
	buf := captureJSON(t)

	WithCommand(1234, 4).Info("submitted")

	entry := lastEntry(t, buf)
	if entry["device_id"] != float64(1234) {
		t.Errorf("device_id field = %v, want 1234", entry["device_id"])
	}
	if entry["command_id"] != float64(4) {
		t.Errorf("command_id field = %v, want 4", entry["command_id"])
	}
}

func TestWithFieldsMergesAll(t *testing.T) {
	entry := WithFields(map[string]interface{}{"account": "u", "device_id": int64(1)})
	if entry == nil {
		t.Fatal("WithFields returned nil")
	}
	if entry.Data["account"] != "u" || entry.Data["device_id"] != int64(1) {
		t.Errorf("fields not carried: %v", entry.Data)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureJSON(t)
	SetLogLevel("warn")

	Debugf("dropped %d", 1)
	Infof("dropped %s", "too")
	if buf.Len() != 0 {
		t.Fatalf("expected debug/info suppressed at warn level, got %s", buf.String())
	}

	Warnf("kept %d", 2)
	if buf.Len() == 0 {
		t.Error("expected warn output at warn level")
	}
}

func TestSetLogOutputRedirects(t *testing.T) {
	out, level, formatter := Logger.Out, Logger.Level, Logger.Formatter
	t.Cleanup(func() {
		Logger.SetOutput(out)
		Logger.SetLevel(level)
		Logger.SetFormatter(formatter)
	})

	var buf bytes.Buffer
	SetLogOutput(&buf)
	Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	Error("boom")
	if buf.Len() == 0 {
		t.Error("expected output in the redirected buffer")
	}
	SetLogOutput(io.Discard)
}
