package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func ptrStr(s string) *string { return &s }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	c := DefaultConfig()
	if c.ServerURL != _defaultServerURL {
		t.Errorf("ServerURL = %q, want %q", c.ServerURL, _defaultServerURL)
	}
	if c.TaxonomyVersion != _defaultTaxonomyVersion {
		t.Errorf("TaxonomyVersion = %q, want %q", c.TaxonomyVersion, _defaultTaxonomyVersion)
	}
	if c.Timeout != _defaultTimeout {
		t.Errorf("Timeout = %v, want %v", c.Timeout, _defaultTimeout)
	}
	if c.RateLimit != 0 || c.TokenBudget != 0 || c.FallbackToSample {
		t.Errorf("limits or fallback enabled by default: %+v", c)
	}
	if c.LogLevel != "warn" || c.LogFormat != "console" {
		t.Errorf("log defaults = %q/%q", c.LogLevel, c.LogFormat)
	}
}

func TestLoad_defaultsOnly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg, err := Load(context.Background(), LoadOptions{
		Root:             dir,
		GlobalConfigPath: filepath.Join(dir, "nonexistent.toml"),
		Env:              []string{},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), *cfg); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_layering(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "global.toml")
	root := filepath.Join(dir, "work")
	writeFile(t, globalPath, `
server_url = "http://global:9000"
project = "global-proj"
taxonomy_version = "2017"
timeout = "30s"
rate_limit = 2.5
`)
	writeFile(t, filepath.Join(root, ".aiowasp", "config.toml"), `
project = "org:app"
token_budget = 6000
fallback_to_sample = true
log_format = "JSON"
`)
	cfg, err := Load(context.Background(), LoadOptions{
		Root:             root,
		GlobalConfigPath: globalPath,
		Env:              []string{"AIOWASP_TAXONOMY_VERSION=2025", "AIOWASP_TIMEOUT=90", "UNRELATED=1"},
		Overrides:        &Overrides{ServerURL: ptrStr("http://flag:1")},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	want.ServerURL = "http://flag:1"
	want.Project = "org:app"
	want.TaxonomyVersion = "2025"
	want.Timeout = 90 * time.Second
	want.RateLimit = 2.5
	want.TokenBudget = 6000
	want.FallbackToSample = true
	want.LogFormat = "json"
	if diff := cmp.Diff(want, *cfg); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_env(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg, err := Load(context.Background(), LoadOptions{
		GlobalConfigPath: filepath.Join(dir, "none.toml"),
		Env: []string{
			"AIOWASP_SERVER_URL=http://env:9000",
			"AIOWASP_PROJECT=p",
			"AIOWASP_STATE_DIR=/tmp/state",
			"AIOWASP_RATE_LIMIT=0.5",
			"AIOWASP_TOKEN_BUDGET=100",
			"AIOWASP_FALLBACK_TO_SAMPLE=yes",
			"AIOWASP_LOG_LEVEL=DEBUG",
			"AIOWASP_LOG_FILE=/tmp/a.log",
			"AIOWASP_TAXONOMY_FILE=extra.yaml",
			"AIOWASP_TIMEOUT=2m",
		},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "http://env:9000" || cfg.Project != "p" || cfg.StateDir != "/tmp/state" {
		t.Errorf("strings = %+v", cfg)
	}
	if cfg.RateLimit != 0.5 || cfg.TokenBudget != 100 || !cfg.FallbackToSample {
		t.Errorf("limits = %v/%d fallback %v", cfg.RateLimit, cfg.TokenBudget, cfg.FallbackToSample)
	}
	if cfg.LogLevel != "debug" || cfg.LogFile != "/tmp/a.log" || cfg.TaxonomyFile != "extra.yaml" {
		t.Errorf("log/taxonomy = %q %q %q", cfg.LogLevel, cfg.LogFile, cfg.TaxonomyFile)
	}
	if cfg.Timeout != 2*time.Minute {
		t.Errorf("Timeout = %v, want 2m", cfg.Timeout)
	}
}

func TestLoad_invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		env  []string
	}{
		{name: "bad_toml", file: `server_url = `},
		{name: "bad_file_timeout", file: `timeout = "soon"`},
		{name: "negative_file_rate", file: `rate_limit = -1.0`},
		{name: "negative_file_budget", file: `token_budget = -5`},
		{name: "bad_file_log_level", file: `log_level = "verbose"`},
		{name: "bad_file_log_format", file: `log_format = "xml"`},
		{name: "bad_env_timeout", env: []string{"AIOWASP_TIMEOUT=abc"}},
		{name: "bad_env_rate", env: []string{"AIOWASP_RATE_LIMIT=fast"}},
		{name: "negative_env_rate", env: []string{"AIOWASP_RATE_LIMIT=-2"}},
		{name: "bad_env_budget", env: []string{"AIOWASP_TOKEN_BUDGET=lots"}},
		{name: "negative_env_budget", env: []string{"AIOWASP_TOKEN_BUDGET=-1"}},
		{name: "bad_env_bool", env: []string{"AIOWASP_FALLBACK_TO_SAMPLE=maybe"}},
		{name: "bad_env_log_level", env: []string{"AIOWASP_LOG_LEVEL=trace"}},
		{name: "bad_env_log_format", env: []string{"AIOWASP_LOG_FORMAT=xml"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			globalPath := filepath.Join(dir, "global.toml")
			if tt.file != "" {
				writeFile(t, globalPath, tt.file)
			}
			env := tt.env
			if env == nil {
				env = []string{}
			}
			if _, err := Load(context.Background(), LoadOptions{GlobalConfigPath: globalPath, Env: env}); err == nil {
				t.Fatal("Load returned nil error")
			}
		})
	}
}

func TestLoad_invalidLogLevelOverride(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_, err := Load(context.Background(), LoadOptions{
		GlobalConfigPath: filepath.Join(dir, "none.toml"),
		Env:              []string{},
		Overrides:        &Overrides{LogLevel: ptrStr("loud")},
	})
	if err == nil {
		t.Fatal("Load with invalid log level override returned nil error")
	}
}

func TestLoad_emptyOverridesKeepValues(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg, err := Load(context.Background(), LoadOptions{
		GlobalConfigPath: filepath.Join(dir, "none.toml"),
		Env:              []string{"AIOWASP_PROJECT=env-proj"},
		Overrides:        &Overrides{Project: ptrStr(""), ServerURL: ptrStr("")},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Project != "env-proj" || cfg.ServerURL != _defaultServerURL {
		t.Errorf("empty overrides replaced values: project %q server %q", cfg.Project, cfg.ServerURL)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"2m", 2 * time.Minute, false},
		{"45", 45 * time.Second, false},
		{" 10 ", 10 * time.Second, false},
		{"", 0, true},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseDuration(%q) = %v, %v; want %v, err %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestEffectiveStateDir(t *testing.T) {
	t.Parallel()
	c := DefaultConfig()
	if got := c.EffectiveStateDir("/work"); got != filepath.Join("/work", ".aiowasp") {
		t.Errorf("EffectiveStateDir = %q", got)
	}
	c.StateDir = "/custom"
	if got := c.EffectiveStateDir("/work"); got != "/custom" {
		t.Errorf("EffectiveStateDir with StateDir = %q", got)
	}
}

func TestParseBool(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"1", "true", "YES", "on"} {
		if b, err := parseBool(s); err != nil || !b {
			t.Errorf("parseBool(%q) = %v, %v", s, b, err)
		}
	}
	for _, s := range []string{"0", "false", "No", "off"} {
		if b, err := parseBool(s); err != nil || b {
			t.Errorf("parseBool(%q) = %v, %v", s, b, err)
		}
	}
	if _, err := parseBool("maybe"); err == nil {
		t.Error("parseBool(maybe) returned nil error")
	}
}
