// Package config loads client and server settings from a TOML file and the environment.
//
// Precedence, lowest first: Default(), the file, PROXYGEN_* environment variables.
//
//	application = "ExampleApp"
//	host        = ""                  # empty: discover through etcd
//	user        = "alice"
//	codec       = "json"
//	balancer    = "consistenthash"
//	etcd_endpoints = ["localhost:2379"]
//	connect_retry_limit = 3
//	connect_retry_delay = "500ms"
//	call_timeout        = "30s"
//
//	[server]
//	listen     = ":7300"
//	advertise  = "127.0.0.1:7300"
//	rate_limit = 1000.0
//	burst      = 100
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	EnvApplication       = "PROXYGEN_APPLICATION"
	EnvHost              = "PROXYGEN_HOST"
	EnvUser              = "PROXYGEN_USER"
	EnvEtcdEndpoints     = "PROXYGEN_ETCD_ENDPOINTS"
	EnvConnectRetryLimit = "PROXYGEN_CONNECT_RETRY_LIMIT"
	EnvConnectRetryDelay = "PROXYGEN_CONNECT_RETRY_DELAY"
	EnvCallTimeout       = "PROXYGEN_CALL_TIMEOUT"
)

type Config struct {
	Application       string
	Host              string
	User              string
	Location          string
	Codec             string
	Balancer          string
	EtcdEndpoints     []string
	ConnectRetryLimit int
	ConnectRetryDelay time.Duration
	CallTimeout       time.Duration
	CallRetries       int
	HeartbeatInterval time.Duration
	Server            ServerConfig
}

type ServerConfig struct {
	Listen          string
	Advertise       string
	RateLimit       float64
	Burst           int
	RequestTimeout  time.Duration
	RegistryTTL     int64
	ShutdownTimeout time.Duration
}

func Default() Config {
	host, _ := os.Hostname()
	return Config{
		Location:          host,
		Codec:             "json",
		Balancer:          "roundrobin",
		ConnectRetryLimit: 3,
		ConnectRetryDelay: 500 * time.Millisecond,
		CallTimeout:       30 * time.Second,
		CallRetries:       2,
		HeartbeatInterval: 30 * time.Second,
		Server: ServerConfig{
			Listen:          ":7300",
			RateLimit:       1000,
			Burst:           100,
			RequestTimeout:  30 * time.Second,
			RegistryTTL:     10,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

type fileConfig struct {
	Application       string     `toml:"application"`
	Host              string     `toml:"host"`
	User              string     `toml:"user"`
	Location          string     `toml:"location"`
	Codec             string     `toml:"codec"`
	Balancer          string     `toml:"balancer"`
	EtcdEndpoints     []string   `toml:"etcd_endpoints"`
	ConnectRetryLimit int        `toml:"connect_retry_limit"`
	ConnectRetryDelay string     `toml:"connect_retry_delay"`
	CallTimeout       string     `toml:"call_timeout"`
	CallRetries       int        `toml:"call_retries"`
	HeartbeatInterval string     `toml:"heartbeat_interval"`
	Server            fileServer `toml:"server"`
}

type fileServer struct {
	Listen          string  `toml:"listen"`
	Advertise       string  `toml:"advertise"`
	RateLimit       float64 `toml:"rate_limit"`
	Burst           int     `toml:"burst"`
	RequestTimeout  string  `toml:"request_timeout"`
	RegistryTTL     int64   `toml:"registry_ttl"`
	ShutdownTimeout string  `toml:"shutdown_timeout"`
}

// Load reads path over the defaults, applies environment overrides and validates the result.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}

	setString := func(key string, dst *string, v string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	setDuration := func(dst *time.Duration, v string, key ...string) error {
		if !meta.IsDefined(key...) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", strings.Join(key, "."), err)
		}
		*dst = d
		return nil
	}

	setString("application", &cfg.Application, raw.Application)
	setString("host", &cfg.Host, raw.Host)
	setString("user", &cfg.User, raw.User)
	setString("location", &cfg.Location, raw.Location)
	setString("codec", &cfg.Codec, raw.Codec)
	setString("balancer", &cfg.Balancer, raw.Balancer)
	if meta.IsDefined("etcd_endpoints") {
		cfg.EtcdEndpoints = raw.EtcdEndpoints
	}
	if meta.IsDefined("connect_retry_limit") {
		cfg.ConnectRetryLimit = raw.ConnectRetryLimit
	}
	if meta.IsDefined("call_retries") {
		cfg.CallRetries = raw.CallRetries
	}
	if err := setDuration(&cfg.ConnectRetryDelay, raw.ConnectRetryDelay, "connect_retry_delay"); err != nil {
		return err
	}
	if err := setDuration(&cfg.CallTimeout, raw.CallTimeout, "call_timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.HeartbeatInterval, raw.HeartbeatInterval, "heartbeat_interval"); err != nil {
		return err
	}

	if meta.IsDefined("server", "listen") {
		cfg.Server.Listen = strings.TrimSpace(raw.Server.Listen)
	}
	if meta.IsDefined("server", "advertise") {
		cfg.Server.Advertise = strings.TrimSpace(raw.Server.Advertise)
	}
	if meta.IsDefined("server", "rate_limit") {
		cfg.Server.RateLimit = raw.Server.RateLimit
	}
	if meta.IsDefined("server", "burst") {
		cfg.Server.Burst = raw.Server.Burst
	}
	if meta.IsDefined("server", "registry_ttl") {
		cfg.Server.RegistryTTL = raw.Server.RegistryTTL
	}
	if err := setDuration(&cfg.Server.RequestTimeout, raw.Server.RequestTimeout, "server", "request_timeout"); err != nil {
		return err
	}
	return setDuration(&cfg.Server.ShutdownTimeout, raw.Server.ShutdownTimeout, "server", "shutdown_timeout")
}

// ApplyEnv overrides cfg with any PROXYGEN_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if v, ok := lookup(EnvApplication); ok {
		cfg.Application = v
	}
	if v, ok := lookup(EnvHost); ok {
		cfg.Host = v
	}
	if v, ok := lookup(EnvUser); ok {
		cfg.User = v
	}
	if v, ok := lookup(EnvEtcdEndpoints); ok {
		cfg.EtcdEndpoints = splitList(v)
	}
	if v, ok := lookup(EnvConnectRetryLimit); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvConnectRetryLimit, err)
		}
		cfg.ConnectRetryLimit = n
	}
	if v, ok := lookup(EnvConnectRetryDelay); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvConnectRetryDelay, err)
		}
		cfg.ConnectRetryDelay = d
	}
	if v, ok := lookup(EnvCallTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCallTimeout, err)
		}
		cfg.CallTimeout = d
	}
	return nil
}

func (c Config) Validate() error {
	if c.ConnectRetryLimit < 0 {
		return fmt.Errorf("connect_retry_limit must not be negative")
	}
	if c.ConnectRetryDelay < 0 {
		return fmt.Errorf("connect_retry_delay must not be negative")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive")
	}
	switch c.Codec {
	case "json", "binary":
	default:
		return fmt.Errorf("unknown codec %q", c.Codec)
	}
	switch c.Balancer {
	case "roundrobin", "weightedrandom", "consistenthash":
	default:
		return fmt.Errorf("unknown balancer %q", c.Balancer)
	}
	if c.Host == "" && c.Application != "" && len(c.EtcdEndpoints) == 0 {
		return fmt.Errorf("host or etcd_endpoints required")
	}
	if c.Server.Burst < 0 || c.Server.RateLimit < 0 {
		return fmt.Errorf("server rate limit must not be negative")
	}
	return nil
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
