package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/example/go-inwhale/internal/quant"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagBinder creates a FlagSet with all config flags registered and
// parses args into it.
func newFlagBinder(t *testing.T, defaults Config, args ...string) *fakeBinder {
	t.Helper()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	return &fakeBinder{fs: fs}
}

// chdirTemp runs the test from an empty directory so no stray inwhale.yaml
// is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)

	return dir
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Quant.Scheme != "symmetric" {
		t.Errorf("Quant.Scheme = %q; want symmetric", cfg.Quant.Scheme)
	}

	if cfg.Quant.Bits != 8 || !cfg.Quant.Signed {
		t.Errorf("Quant bits/signed = %d/%v; want 8/true", cfg.Quant.Bits, cfg.Quant.Signed)
	}

	if cfg.Quant.LowerQuantile != 0.001 || cfg.Quant.UpperQuantile != 0.999 {
		t.Errorf("quantiles = %v/%v; want 0.001/0.999", cfg.Quant.LowerQuantile, cfg.Quant.UpperQuantile)
	}

	if cfg.Quant.Seed != -1 {
		t.Errorf("Quant.Seed = %d; want -1", cfg.Quant.Seed)
	}

	if cfg.Runtime.Workers != 1 {
		t.Errorf("Runtime.Workers = %d; want 1", cfg.Runtime.Workers)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())

	checks := []struct {
		flag string
		want string
	}{
		{"scheme", "symmetric"},
		{"bits", "8"},
		{"signed", "true"},
		{"observer", "minmax"},
		{"upper-quantile", "0.999"},
		{"ties", "even"},
		{"seed", "-1"},
		{"workers", "1"},
		{"log-level", "info"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}

	for name := range flagKeys {
		if fs.Lookup(name) == nil {
			t.Errorf("flagKeys entry %q has no registered flag", name)
		}
	}
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      newFlagBinder(t, defaults),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg != defaults {
		t.Errorf("Load() = %+v; want defaults %+v", cfg, defaults)
	}
}

func TestLoad_NilCmd(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Quant.Bits != 8 {
		t.Errorf("Quant.Bits = %d; want 8", cfg.Quant.Bits)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	chdirTemp(t)

	defaults := DefaultConfig()
	binder := newFlagBinder(t, defaults,
		"--scheme=per-channel",
		"--bits=4",
		"--axis=1",
		"--seed=42",
		"--workers=8",
		"--log-level=debug",
	)

	cfg, err := Load(LoadOptions{Cmd: binder, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Quant.Scheme != "per-channel" || cfg.Quant.Bits != 4 || cfg.Quant.Axis != 1 {
		t.Errorf("Quant = %+v; want per-channel/4/axis 1", cfg.Quant)
	}

	if cfg.Quant.Seed != 42 {
		t.Errorf("Quant.Seed = %d; want 42", cfg.Quant.Seed)
	}

	if cfg.Runtime.Workers != 8 {
		t.Errorf("Runtime.Workers = %d; want 8", cfg.Runtime.Workers)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("INWHALE_LOG_LEVEL", "warn")
	t.Setenv("INWHALE_QUANT_BITS", "6")
	t.Setenv("INWHALE_QUANT_OBSERVER", "percentile")

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{Cmd: newFlagBinder(t, defaults), Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}

	if cfg.Quant.Bits != 6 {
		t.Errorf("Quant.Bits = %d; want 6", cfg.Quant.Bits)
	}

	if cfg.Quant.Observer != "percentile" {
		t.Errorf("Quant.Observer = %q; want percentile", cfg.Quant.Observer)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	cfgFile := filepath.Join(dir, "custom.yaml")

	content := `
log_level: error
quant:
  scheme: logarithmic
  bits: 5
  rounding: stochastic
  seed: 7
runtime:
  workers: 3
`

	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:        newFlagBinder(t, defaults, "--bits=3"),
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "error")
	}

	if cfg.Quant.Scheme != "logarithmic" || cfg.Quant.Rounding != "stochastic" || cfg.Quant.Seed != 7 {
		t.Errorf("Quant = %+v; want logarithmic/stochastic/seed 7", cfg.Quant)
	}

	// An explicit flag wins over the file.
	if cfg.Quant.Bits != 3 {
		t.Errorf("Quant.Bits = %d; want 3", cfg.Quant.Bits)
	}

	if cfg.Quant.Ties != "even" {
		t.Errorf("Quant.Ties = %q; want default even", cfg.Quant.Ties)
	}

	if cfg.Runtime.Workers != 3 {
		t.Errorf("Runtime.Workers = %d; want 3", cfg.Runtime.Workers)
	}
}

func TestLoad_DiscoversConfigInWorkingDir(t *testing.T) {
	dir := chdirTemp(t)

	if err := os.WriteFile(filepath.Join(dir, "inwhale.yaml"), []byte("quant:\n  scheme: asymmetric\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Quant.Scheme != "asymmetric" {
		t.Errorf("Quant.Scheme = %q; want asymmetric", cfg.Quant.Scheme)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	cfgFile := filepath.Join(dir, "bad.yaml")

	if err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/path/inwhale.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}

// --- QuantSpec ---

func TestQuantSpec(t *testing.T) {
	cfg := DefaultConfig()

	spec := cfg.QuantSpec()
	if spec.Scheme != quant.SchemeSymmetric || spec.Bits != 8 || !spec.Signed {
		t.Errorf("QuantSpec() = %+v; want symmetric 8-bit signed", spec)
	}

	if spec.Rounding.Seed != nil {
		t.Errorf("Rounding.Seed = %v; want nil for negative seed", *spec.Rounding.Seed)
	}

	if _, err := quant.Build(spec); err != nil {
		t.Errorf("Build(default spec) error = %v", err)
	}

	cfg.Quant.Scheme = "Per-Channel"
	cfg.Quant.Axis = 1
	cfg.Quant.Rounding = "stochastic"
	cfg.Quant.Seed = 99

	spec = cfg.QuantSpec()
	if spec.Scheme != quant.SchemePerChannel || spec.Axis != 1 {
		t.Errorf("QuantSpec() = %+v; want per-channel axis 1", spec)
	}

	if spec.Rounding.Seed == nil || *spec.Rounding.Seed != 99 {
		t.Errorf("Rounding.Seed = %v; want 99", spec.Rounding.Seed)
	}

	if _, err := quant.Build(spec); err != nil {
		t.Errorf("Build(per-channel spec) error = %v", err)
	}
}

// --- ParseLogLevel ---

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "debug", want: slog.LevelDebug},
		{in: " WARN ", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "trace", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v; wantErr %v", tt.in, err, tt.wantErr)
		}

		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}
