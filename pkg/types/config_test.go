package types

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "empty backend returns ErrBackendEmpty",
			config:  Config{Backend: "", DataDir: "/tmp/data"},
			wantErr: ErrBackendEmpty,
		},
		{
			name:    "unknown backend returns ErrBackendUnknown",
			config:  Config{Backend: "postgres", DataDir: "/tmp/data"},
			wantErr: ErrBackendUnknown,
		},
		{
			name:    "valid sqlite config",
			config:  Config{Backend: "sqlite", DataDir: "/tmp/data"},
			wantErr: nil,
		},
		{
			name:    "relative server url is rejected",
			config:  Config{Backend: "sqlite", ServerURL: "localhost:8000"},
			wantErr: ErrServerURLInvalid,
		},
		{
			name:    "http server url is accepted",
			config:  Config{Backend: "sqlite", ServerURL: "http://localhost:8000"},
			wantErr: nil,
		},
		{
			name:    "negative ttl is rejected",
			config:  Config{Backend: "sqlite", SessionTTL: -time.Second},
			wantErr: ErrDurationNegative,
		},
		{
			name:    "unknown log format is rejected",
			config:  Config{Backend: "sqlite", LogFormat: "xml"},
			wantErr: ErrLogFormatUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error %v, got nil", tt.wantErr)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	c := Config{}.WithDefaults()
	if c.Backend != BackendSQLite {
		t.Fatalf("backend = %q", c.Backend)
	}
	if c.SessionTTL != 30*time.Minute || c.CacheMaxAge != 24*time.Hour || c.ProbeTimeout != 3*time.Second {
		t.Fatalf("unexpected durations: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
