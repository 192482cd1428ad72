package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/field"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir == "" {
		t.Error("expected default data_dir")
	}

	if cfg.Layout.Blocks != 1 {
		t.Errorf("expected 1 block, got %d", cfg.Layout.Blocks)
	}

	if cfg.Refactor.Codec != "negabinary" {
		t.Errorf("expected negabinary codec, got %q", cfg.Refactor.Codec)
	}

	if cfg.Retrieval.Budget != -1 {
		t.Errorf("expected unlimited budget, got %d", cfg.Retrieval.Budget)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data_dir", func(c *Config) { c.DataDir = "" }},
		{"zero blocks", func(c *Config) { c.Layout.Blocks = 0 }},
		{"negative target level", func(c *Config) { c.Refactor.TargetLevel = -1 }},
		{"unknown interleaver", func(c *Config) { c.Refactor.Interleaver = "hilbert" }},
		{"block edge", func(c *Config) {
			c.Refactor.Interleaver = "block"
			c.Refactor.InterleaveBlock = 0
		}},
		{"unknown codec", func(c *Config) { c.Refactor.Codec = "gray" }},
		{"zstd level", func(c *Config) { c.Compression.Level = 19 }},
		{"min savings", func(c *Config) { c.Compression.MinSavings = 1.5 }},
		{"unknown norm", func(c *Config) { c.Estimator.Norm = "l1" }},
		{"percentile accuracy", func(c *Config) { c.Estimator.Percentile.Accuracy = 0 }},
		{"unknown planner", func(c *Config) { c.Retrieval.Planner = "random" }},
		{"budget", func(c *Config) { c.Retrieval.Budget = -5 }},
		{"telemetry compression", func(c *Config) { c.Telemetry.Compression = "brotli" }},
		{"query timeout", func(c *Config) { c.Query.Timeout = 0 }},
		{"memory limit", func(c *Config) { c.Query.MemoryLimit = "lots" }},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !mdrerrors.IsConfiguration(err) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestConfigValidate_CollectsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	cfg.Layout.Workers = 0
	cfg.Refactor.Workers = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"data_dir", "layout", "refactor"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mdr.yaml")
	content := `
data_dir: /tmp/mdr
layout:
  blocks: 16
  container: true
refactor:
  target_level: 4
  bitplanes: 24
  interleaver: morton
compression:
  algorithm: lz4
estimator:
  norm: snorm
  s: 0.5
retrieval:
  planner: roundrobin
query:
  timeout: 10s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DataDir != "/tmp/mdr" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.Layout.Blocks != 16 || !cfg.Layout.Container {
		t.Errorf("layout = %+v", cfg.Layout)
	}
	if cfg.Refactor.TargetLevel != 4 || cfg.Refactor.Bitplanes != 24 || cfg.Refactor.Interleaver != "morton" {
		t.Errorf("refactor = %+v", cfg.Refactor)
	}
	// Unset fields keep their defaults.
	if cfg.Refactor.Codec != "negabinary" {
		t.Errorf("codec = %q", cfg.Refactor.Codec)
	}
	if cfg.Compression.Algorithm != "lz4" {
		t.Errorf("compression = %q", cfg.Compression.Algorithm)
	}
	if cfg.Estimator.Norm != "snorm" || cfg.Estimator.S != 0.5 {
		t.Errorf("estimator = %+v", cfg.Estimator)
	}
	if cfg.Retrieval.Planner != "roundrobin" {
		t.Errorf("planner = %q", cfg.Retrieval.Planner)
	}
	if cfg.Query.Timeout != 10*time.Second {
		t.Errorf("timeout = %v", cfg.Query.Timeout)
	}
	if got := cfg.TelemetryDir(); got != filepath.Join("/tmp/mdr", "telemetry") {
		t.Errorf("telemetry dir = %q", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("refactor:\n  codec: gray\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if !mdrerrors.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestAdjustBitplanes(t *testing.T) {
	tests := []struct {
		requested int
		element   field.Kind
		want      int
	}{
		{8, field.KindFloat32, 8},
		{7, field.KindFloat32, 8},
		{0, field.KindFloat32, 2},
		{-3, field.KindFloat64, 2},
		{40, field.KindFloat32, 32},
		{33, field.KindFloat32, 32},
		{64, field.KindFloat64, 60},
		{59, field.KindFloat64, 60},
	}

	for _, tt := range tests {
		if got := AdjustBitplanes(tt.requested, tt.element); got != tt.want {
			t.Errorf("AdjustBitplanes(%d, %s) = %d, want %d", tt.requested, tt.element, got, tt.want)
		}
	}
}

func TestCalculateRequirements(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Refactor.TargetLevel = 1
	cfg.Refactor.Bitplanes = 8

	r, err := cfg.CalculateRequirements([]int{4, 4}, field.KindFloat32)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	if r.Elements != 16 || r.Levels != 2 || r.Bitplanes != 8 {
		t.Errorf("shape = %d elements, %d levels, %d bitplanes", r.Elements, r.Levels, r.Bitplanes)
	}
	if r.FieldBytes != 64 {
		t.Errorf("field bytes = %d", r.FieldBytes)
	}
	// level sizes 4 and 12: 8 planes of 1 and 2 bytes
	if r.MaxStreamBytes != 16 {
		t.Errorf("max stream bytes = %d", r.MaxStreamBytes)
	}
	if r.TotalStorageBytes != 24+r.MetadataBytes {
		t.Errorf("total storage = %d", r.TotalStorageBytes)
	}
	if !strings.Contains(r.FormatRequirements(), "Peak Refactor") {
		t.Error("summary missing peak refactor line")
	}

	if _, err := cfg.CalculateRequirements([]int{4, 0}, field.KindFloat32); !mdrerrors.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := map[string]int64{
		"":     0,
		"512":  512,
		"2KB":  2048,
		"1GB":  1 << 30,
		"3m":   3 << 20,
		"lots": 0,
		"5XB":  0,
	}
	for in, want := range tests {
		if got := ParseMemoryLimit(in); got != want {
			t.Errorf("ParseMemoryLimit(%q) = %d, want %d", in, got, want)
		}
	}
}
