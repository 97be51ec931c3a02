package types

import (
	"errors"
	"net/url"
	"time"
)

// Config holds everything the resolution engine and its stores need.
// Durations are parsed by the config layer; zero values take the defaults
// below through WithDefaults.
type Config struct {
	Backend      string        `json:"backend" yaml:"backend"`
	DataDir      string        `json:"data_dir" yaml:"data_dir"`
	ProjectsDir  string        `json:"projects_dir" yaml:"projects_dir"`
	ServerURL    string        `json:"server_url" yaml:"server_url"`
	Author       string        `json:"author" yaml:"author"`
	SessionTTL   time.Duration `json:"session_ttl" yaml:"session_ttl"`
	CacheMaxAge  time.Duration `json:"cache_max_age" yaml:"cache_max_age"`
	ProbeTimeout time.Duration `json:"probe_timeout" yaml:"probe_timeout"`
	Prompt       bool          `json:"prompt" yaml:"prompt"`
	PreferServer bool          `json:"prefer_server" yaml:"prefer_server"`
	ExportDir    string        `json:"export_dir" yaml:"export_dir"`
	LogLevel     string        `json:"log_level" yaml:"log_level"`
	LogFormat    string        `json:"log_format" yaml:"log_format"`
	LogFile      string        `json:"log_file" yaml:"log_file"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
)

// Defaults.
const (
	DefaultSessionTTL   = 30 * time.Minute
	DefaultCacheMaxAge  = 24 * time.Hour
	DefaultProbeTimeout = 3 * time.Second
	DefaultAuthor       = "fira"
)

// Config validation errors.
var (
	ErrBackendEmpty     = errors.New("backend must not be empty")
	ErrBackendUnknown   = errors.New("unknown backend")
	ErrServerURLInvalid = errors.New("server url must be absolute http(s)")
	ErrDurationNegative = errors.New("durations must not be negative")
	ErrLogFormatUnknown = errors.New("unknown log format")
)

var knownBackends = map[string]bool{
	BackendSQLite: true,
}

// WithDefaults fills zero-valued fields.
func (c Config) WithDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.CacheMaxAge == 0 {
		c.CacheMaxAge = DefaultCacheMaxAge
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Author == "" {
		c.Author = DefaultAuthor
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	return c
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrServerURLInvalid
		}
	}
	if c.SessionTTL < 0 || c.CacheMaxAge < 0 || c.ProbeTimeout < 0 {
		return ErrDurationNegative
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return ErrLogFormatUnknown
	}
	return nil
}
