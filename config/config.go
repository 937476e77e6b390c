// Package config loads cloakfetch settings from an optional YAML file and
// CLOAKFETCH_* environment variables. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/sardanioss/cloakfetch/fingerprint"
	"github.com/sardanioss/cloakfetch/proxy"
)

// Duration is a time.Duration that reads "1.5s" style strings or a bare
// number of milliseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full set of settings for a default engine and client.
type Config struct {
	Profile            string   `yaml:"profile" envconfig:"CLOAKFETCH_PROFILE"`
	Timeout            Duration `yaml:"timeout" envconfig:"CLOAKFETCH_TIMEOUT"`
	Proxy              string   `yaml:"proxy" envconfig:"CLOAKFETCH_PROXY"`
	InsecureSkipVerify bool     `yaml:"insecureSkipVerify" envconfig:"CLOAKFETCH_INSECURE_SKIP_VERIFY"`

	MaxSessions        int      `yaml:"maxSessions" envconfig:"CLOAKFETCH_MAX_SESSIONS"`
	SessionIdleTimeout Duration `yaml:"sessionIdleTimeout" envconfig:"CLOAKFETCH_SESSION_IDLE_TIMEOUT"`
	RateLimit          float64  `yaml:"rateLimit" envconfig:"CLOAKFETCH_RATE_LIMIT"`
	RateBurst          int      `yaml:"rateBurst" envconfig:"CLOAKFETCH_RATE_BURST"`

	TransportCacheSize int `yaml:"transportCacheSize" envconfig:"CLOAKFETCH_TRANSPORT_CACHE_SIZE"`

	// DNSServer is a host:port nameserver. Empty uses the system resolver.
	DNSServer string   `yaml:"dnsServer" envconfig:"CLOAKFETCH_DNS_SERVER"`
	DNSMinTTL Duration `yaml:"dnsMinTTL" envconfig:"CLOAKFETCH_DNS_MIN_TTL"`

	// KeyLogFile receives TLS secrets. SSLKEYLOGFILE is used when empty.
	KeyLogFile string `yaml:"keyLogFile" envconfig:"CLOAKFETCH_KEYLOG_FILE"`

	LogLevel  string `yaml:"logLevel" envconfig:"CLOAKFETCH_LOG_LEVEL"`
	LogFormat string `yaml:"logFormat" envconfig:"CLOAKFETCH_LOG_FORMAT"`

	// MetricsAddr exposes Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metricsAddr" envconfig:"CLOAKFETCH_METRICS_ADDR"`
}

// Default returns the library defaults.
func Default() Config {
	return Config{
		Profile:            fingerprint.DefaultPreset,
		Timeout:            Duration(30 * time.Second),
		MaxSessions:        100,
		TransportCacheSize: 1024,
		DNSMinTTL:          Duration(30 * time.Second),
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped
// when path is empty) and then env. A nil env reads the process
// environment.
func Load(path string, env map[string]string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	lookup := os.LookupEnv
	if env != nil {
		lookup = func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		}
	}
	if err := envconfig.Process("", &cfg, lookup); err != nil {
		return cfg, fmt.Errorf("config: environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Profile != "" {
		if _, ok := fingerprint.Get(c.Profile); !ok {
			errs = append(errs, fmt.Errorf("profile: unknown %q", c.Profile))
		}
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout: must be positive"))
	}
	if c.Proxy != "" {
		if _, err := proxy.Parse(c.Proxy); err != nil {
			errs = append(errs, fmt.Errorf("proxy: %w", err))
		}
	}
	if c.MaxSessions < 0 {
		errs = append(errs, errors.New("maxSessions: must not be negative"))
	}
	if c.SessionIdleTimeout < 0 {
		errs = append(errs, errors.New("sessionIdleTimeout: must not be negative"))
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rateLimit: must not be negative"))
	}
	if c.TransportCacheSize < 0 {
		errs = append(errs, errors.New("transportCacheSize: must not be negative"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("logLevel: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("logFormat: %q is not text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// NewLogger builds the logger described by the config, writing to w.
func (c Config) NewLogger(w io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	if c.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	}
	return l, nil
}
