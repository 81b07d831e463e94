package log

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"bogus": zerolog.InfoLevel,
		"":      zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSONLogger_WritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "info")
	logger.Info().Str("key", "value").Msg("hello")

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v, body: %s", err, buf.String())
	}
	if decoded["key"] != "value" {
		t.Errorf("key = %v, want value", decoded["key"])
	}
	if decoded["message"] != "hello" {
		t.Errorf("message = %v, want hello", decoded["message"])
	}
}

func TestNewJSONLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "warn")
	logger.Info().Msg("should be dropped")
	logger.Warn().Msg("should appear")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Error("info-level message was emitted despite a warn-level threshold")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn-level message was not emitted")
	}
}

func TestInit_ConfiguresComponentLoggers(t *testing.T) {
	if err := Init("debug", true, ""); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	if State.GetLevel() != zerolog.DebugLevel {
		t.Errorf("State logger level = %v, want debug", State.GetLevel())
	}
	if Consensus.GetLevel() != zerolog.DebugLevel {
		t.Errorf("Consensus logger level = %v, want debug", Consensus.GetLevel())
	}

	// restore the package default so other tests in this process are
	// unaffected by this test's level override.
	Logger = NewConsoleLogger(os.Stdout, "info")
	initComponentLoggers()
}

func TestWithComponent_TagsField(t *testing.T) {
	var buf bytes.Buffer
	Logger = NewJSONLogger(&buf, "info")
	l := WithComponent("mempool")
	l.Info().Msg("tick")

	var decoded map[string]interface{}
	json.Unmarshal(buf.Bytes(), &decoded)
	if decoded["component"] != "mempool" {
		t.Errorf("component = %v, want mempool", decoded["component"])
	}
}
