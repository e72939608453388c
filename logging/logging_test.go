package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := parseLevel(raw)
		if !ok || got != want {
			t.Errorf("parseLevel(%q) = %v, %v", raw, got, ok)
		}
	}
	if _, ok := parseLevel("loud"); ok {
		t.Error("unknown level accepted")
	}
	if _, ok := parseLevel(""); ok {
		t.Error("empty level should not override")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "nope")

	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel {
		t.Errorf("level = %v", cfg.Level)
	}
	if cfg.Timestamp {
		t.Error("timestamp override ignored")
	}
	if cfg.NoColor {
		t.Error("unparseable bool should leave the default")
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	Apply(Config{Level: zerolog.DebugLevel, NoColor: true, Out: &buf})
	defer Apply(defaultConfig(ProfileTest))

	l := Component("session")
	l.Info().Str("application", "ExampleApp").Msg("connected")
	out := buf.String()
	if !strings.Contains(out, "component=session") || !strings.Contains(out, "application=ExampleApp") {
		t.Fatalf("log line missing fields: %q", out)
	}
}

func TestComponentBuiltBeforeApply(t *testing.T) {
	l := Component("proxy")

	var buf bytes.Buffer
	Apply(Config{Level: zerolog.DebugLevel, NoColor: true, Out: &buf})
	defer Apply(defaultConfig(ProfileTest))

	l.Warn().Msg("late")
	if out := buf.String(); !strings.Contains(out, "component=proxy") || !strings.Contains(out, "late") {
		t.Fatalf("early logger ignored Apply: %q", out)
	}
}
