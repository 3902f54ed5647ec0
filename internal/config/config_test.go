package config

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Data.Dir = "/tmp/taskd-test"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "port too low",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "port too high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: "shutdown timeout",
		},
		{
			name: "telemetry without service name",
			mutate: func(c *Config) {
				c.Observability.EnableTelemetry = true
				c.Observability.ServiceName = ""
			},
			wantErr: "service name required",
		},
		{
			name:    "missing data dir",
			mutate:  func(c *Config) { c.Data.Dir = "" },
			wantErr: "data directory",
		},
		{
			name:    "max page size above cap",
			mutate:  func(c *Config) { c.Store.MaxPageSize = 501 },
			wantErr: "max page size",
		},
		{
			name: "default page above max",
			mutate: func(c *Config) {
				c.Store.MaxPageSize = 50
				c.Store.DefaultPageSize = 100
			},
			wantErr: "default page size",
		},
		{
			name:    "unknown completion provider",
			mutate:  func(c *Config) { c.Completion.Provider = "mystery" },
			wantErr: "unknown completion provider",
		},
		{
			name: "openai without credentials",
			mutate: func(c *Config) {
				c.Completion.Provider = ProviderOpenAI
			},
			wantErr: "openai provider requires",
		},
		{
			name: "openai with base URL only is fine",
			mutate: func(c *Config) {
				c.Completion.Provider = ProviderOpenAI
				c.Completion.OpenAIBaseURL = "http://localhost:11434/v1"
			},
		},
		{
			name: "gemini without key",
			mutate: func(c *Config) {
				c.Completion.Provider = ProviderGemini
			},
			wantErr: "gemini provider requires",
		},
		{
			name:    "zero max steps",
			mutate:  func(c *Config) { c.Pipeline.MaxSteps = 0 },
			wantErr: "max steps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Duration() != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", d.Duration())
	}

	if err := d.UnmarshalText([]byte("-5s")); err == nil {
		t.Error("UnmarshalText accepted negative duration")
	}
	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Error("UnmarshalText accepted garbage")
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("sk-live-abc123")

	if s.String() != "[REDACTED]" {
		t.Errorf("String() = %q, want [REDACTED]", s.String())
	}
	if s.Value() != "sk-live-abc123" {
		t.Errorf("Value() = %q, want raw secret", s.Value())
	}

	out, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(out), "abc123") {
		t.Errorf("JSON output leaked secret: %s", out)
	}

	var empty Secret
	if empty.String() != "" {
		t.Errorf("empty Secret String() = %q, want empty", empty.String())
	}
	if empty.IsSet() {
		t.Error("empty Secret IsSet() = true")
	}
}
