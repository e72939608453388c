// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "PROXYGEN_LOG_LEVEL"
	EnvLogTimestamp = "PROXYGEN_LOG_TIMESTAMP"
	EnvLogNoColor   = "PROXYGEN_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Out       io.Writer
}

var configureOnce sync.Once

// Loggers write through output and stamp through stampHook, so loggers built before
// Apply follow the configuration installed later.
var (
	output    = newSwitchWriter(os.Stderr)
	timestamp atomic.Bool
	stampHook = zerolog.HookFunc(func(e *zerolog.Event, _ zerolog.Level, _ string) {
		if timestamp.Load() {
			e.Timestamp()
		}
	})
)

func init() {
	timestamp.Store(true)
	log.Logger = zerolog.New(output).Hook(stampHook)
}

type switchWriter struct {
	w atomic.Pointer[io.Writer]
}

func newSwitchWriter(w io.Writer) *switchWriter {
	sw := &switchWriter{}
	sw.set(w)
	return sw
}

func (sw *switchWriter) set(w io.Writer) { sw.w.Store(&w) }

func (sw *switchWriter) Write(p []byte) (int, error) { return (*sw.w.Load()).Write(p) }

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

// Configure installs the logger for profile. Only the first call has an effect.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		Apply(cfg)
	})
}

// Apply installs cfg unconditionally.
func Apply(cfg Config) {
	zerolog.SetGlobalLevel(cfg.Level)
	output.set(zerolog.ConsoleWriter{Out: cfg.Out, NoColor: cfg.NoColor, TimeFormat: time.RFC3339})
	timestamp.Store(cfg.Timestamp)
	log.Logger = zerolog.New(output).Hook(stampHook)
}

// Component returns a logger tagged with the component name. It writes wherever the last
// Apply sent output, including when it was built before Configure ran.
func Component(name string) zerolog.Logger {
	return zerolog.New(output).Hook(stampHook).With().Str("component", name).Logger()
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Out: os.Stderr, NoColor: true}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true, Out: os.Stdout}
	}
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
