// Package config loads config.yaml from the configuration directory with
// viper. The file is created with defaults on first run and every key can
// be overridden by a FIRA_ environment variable, e.g. FIRA_SERVER_URL.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/fira/internal/logging"
	"github.com/mesh-intelligence/fira/pkg/types"
)

const (
	fileName = "config"
	fileType = "yaml"
	fileExt  = "config.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "FIRA"
)

// Config keys.
const (
	KeyBackend      = "backend"
	KeyDataDir      = "data_dir"
	KeyProjectsDir  = "projects_dir"
	KeyServerURL    = "server_url"
	KeyAuthor       = "author"
	KeySessionTTL   = "session_ttl"
	KeyCacheMaxAge  = "cache_max_age"
	KeyProbeTimeout = "probe_timeout"
	KeyPrompt       = "prompt"
	KeyPreferServer = "prefer_server"
	KeyExportDir    = "export_dir"
	KeyLogLevel     = "log_level"
	KeyLogFormat    = "log_format"
	KeyLogFile      = "log_file"
	KeyServeHost    = "serve_host"
	KeyServePort    = "serve_port"
)

// Serve defaults.
const (
	DefaultServeHost = "localhost"
	DefaultServePort = 8000
)

// File is the structure written to config.yaml. Durations are strings
// such as "30m" so the file stays hand-editable.
type File struct {
	Backend      string `yaml:"backend"`
	DataDir      string `yaml:"data_dir,omitempty"`
	ProjectsDir  string `yaml:"projects_dir,omitempty"`
	ServerURL    string `yaml:"server_url"`
	Author       string `yaml:"author"`
	SessionTTL   string `yaml:"session_ttl"`
	CacheMaxAge  string `yaml:"cache_max_age"`
	ProbeTimeout string `yaml:"probe_timeout"`
	Prompt       bool   `yaml:"prompt"`
	PreferServer bool   `yaml:"prefer_server"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	ServeHost    string `yaml:"serve_host"`
	ServePort    int    `yaml:"serve_port"`
}

// DefaultFile returns the contents written on first run.
func DefaultFile() File {
	return File{
		Backend:      types.BackendSQLite,
		ServerURL:    "http://localhost:8000",
		Author:       types.DefaultAuthor,
		SessionTTL:   types.DefaultSessionTTL.String(),
		CacheMaxAge:  types.DefaultCacheMaxAge.String(),
		ProbeTimeout: types.DefaultProbeTimeout.String(),
		Prompt:       true,
		LogLevel:     "warn",
		LogFormat:    logging.FormatConsole,
		ServeHost:    DefaultServeHost,
		ServePort:    DefaultServePort,
	}
}

// Settings is the loaded configuration.
type Settings struct {
	Engine    types.Config
	ServeHost string
	ServePort int
	// Path is the config file read, empty when none was found.
	Path string

	v *viper.Viper
}

// Load reads config.yaml from dir, creating the directory and a default
// file when missing. A config file that disappears between creation and
// reading is not an error.
func Load(dir string) (*Settings, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := WriteDefault(filepath.Join(dir, fileExt)); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := newViper()
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return fromViper(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName(fileName)
	v.SetConfigType(fileType)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	d := DefaultFile()
	v.SetDefault(KeyBackend, d.Backend)
	v.SetDefault(KeyDataDir, "")
	v.SetDefault(KeyProjectsDir, "")
	v.SetDefault(KeyServerURL, d.ServerURL)
	v.SetDefault(KeyAuthor, d.Author)
	v.SetDefault(KeySessionTTL, d.SessionTTL)
	v.SetDefault(KeyCacheMaxAge, d.CacheMaxAge)
	v.SetDefault(KeyProbeTimeout, d.ProbeTimeout)
	v.SetDefault(KeyPrompt, d.Prompt)
	v.SetDefault(KeyPreferServer, d.PreferServer)
	v.SetDefault(KeyExportDir, "")
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyServeHost, d.ServeHost)
	v.SetDefault(KeyServePort, d.ServePort)
	return v
}

func fromViper(v *viper.Viper) (*Settings, error) {
	durations := map[string]time.Duration{}
	for _, key := range []string{KeySessionTTL, KeyCacheMaxAge, KeyProbeTimeout} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", key, err)
		}
		durations[key] = d
	}

	cfg := types.Config{
		Backend:      v.GetString(KeyBackend),
		DataDir:      v.GetString(KeyDataDir),
		ProjectsDir:  v.GetString(KeyProjectsDir),
		ServerURL:    v.GetString(KeyServerURL),
		Author:       v.GetString(KeyAuthor),
		SessionTTL:   durations[KeySessionTTL],
		CacheMaxAge:  durations[KeyCacheMaxAge],
		ProbeTimeout: durations[KeyProbeTimeout],
		Prompt:       v.GetBool(KeyPrompt),
		PreferServer: v.GetBool(KeyPreferServer),
		ExportDir:    v.GetString(KeyExportDir),
		LogLevel:     v.GetString(KeyLogLevel),
		LogFormat:    v.GetString(KeyLogFormat),
		LogFile:      v.GetString(KeyLogFile),
	}.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Settings{
		Engine:    cfg,
		ServeHost: v.GetString(KeyServeHost),
		ServePort: v.GetInt(KeyServePort),
		Path:      v.ConfigFileUsed(),
		v:         v,
	}, nil
}

// Logging returns the logging configuration. Log output to a file is
// enabled when log_file is set.
func (s *Settings) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = s.Engine.LogLevel
	lc.Format = s.Engine.LogFormat
	lc.File = s.Engine.LogFile
	return lc
}

// Set persists one key to the config file used by Load.
func (s *Settings) Set(key string, value any) error {
	if s.Path == "" {
		return fmt.Errorf("no config file loaded")
	}
	s.v.Set(key, value)
	if err := s.v.WriteConfigAs(s.Path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// WriteDefault creates a default config file at path if none exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}

	data, err := yaml.Marshal(DefaultFile())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := []byte("# fira configuration. Every key can be overridden by FIRA_<KEY>.\n")
	return os.WriteFile(path, append(header, data...), 0o644)
}

// ReadFile decodes a config file without applying defaults or env.
func ReadFile(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}
