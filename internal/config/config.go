// Package config loads inwhale settings from flags, INWHALE_* environment
// variables and an optional inwhale.{yaml,toml,json} file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/go-inwhale/internal/quant"
)

type Config struct {
	Quant    QuantConfig   `mapstructure:"quant"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	LogLevel string        `mapstructure:"log_level"`
}

// QuantConfig mirrors quant.Spec in flat, file-friendly form.
type QuantConfig struct {
	Scheme        string  `mapstructure:"scheme"`
	Bits          int     `mapstructure:"bits"`
	Signed        bool    `mapstructure:"signed"`
	Axis          int     `mapstructure:"axis"`
	Observer      string  `mapstructure:"observer"`
	LowerQuantile float64 `mapstructure:"lower_quantile"`
	UpperQuantile float64 `mapstructure:"upper_quantile"`
	Interpolation string  `mapstructure:"interpolation"`
	Policy        string  `mapstructure:"policy"`
	Rounding      string  `mapstructure:"rounding"`
	Ties          string  `mapstructure:"ties"`
	// Seed seeds stochastic rounding; negative means unseeded.
	Seed int64 `mapstructure:"seed"`
}

type RuntimeConfig struct {
	Workers int `mapstructure:"workers"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Quant: QuantConfig{
			Scheme:        string(quant.SchemeSymmetric),
			Bits:          8,
			Signed:        true,
			Axis:          0,
			Observer:      string(quant.ObserverMinMax),
			LowerQuantile: quant.DefaultLowerQuantile,
			UpperQuantile: quant.DefaultUpperQuantile,
			Interpolation: string(quant.InterpolateLinear),
			Policy:        string(quant.ReplacePolicy),
			Rounding:      string(quant.RoundingNearest),
			Ties:          string(quant.TiesToEven),
			Seed:          -1,
		},
		Runtime: RuntimeConfig{
			Workers: 1,
		},
		LogLevel: "info",
	}
}

// flagKeys maps each registered flag to its config key.
var flagKeys = map[string]string{
	"scheme":         "quant.scheme",
	"bits":           "quant.bits",
	"signed":         "quant.signed",
	"axis":           "quant.axis",
	"observer":       "quant.observer",
	"lower-quantile": "quant.lower_quantile",
	"upper-quantile": "quant.upper_quantile",
	"interpolation":  "quant.interpolation",
	"policy":         "quant.policy",
	"rounding":       "quant.rounding",
	"ties":           "quant.ties",
	"seed":           "quant.seed",
	"workers":        "runtime.workers",
	"log-level":      "log_level",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	q := defaults.Quant
	fs.String("scheme", q.Scheme, "Quantization scheme: symmetric|asymmetric|per-channel|logarithmic")
	fs.Int("bits", q.Bits, "Bit width (1-16)")
	fs.Bool("signed", q.Signed, "Use a signed integer range (required for symmetric)")
	fs.Int("axis", q.Axis, "Channel axis for per-channel quantization")
	fs.String("observer", q.Observer, "Range observer: minmax|percentile")
	fs.Float64("lower-quantile", q.LowerQuantile, "Lower quantile for the percentile observer")
	fs.Float64("upper-quantile", q.UpperQuantile, "Upper quantile for the percentile observer")
	fs.String("interpolation", q.Interpolation, "Percentile interpolation: linear|empirical|lininterp")
	fs.String("policy", q.Policy, "Percentile update policy: replace|running")
	fs.String("rounding", q.Rounding, "Rounding strategy: nearest|stochastic")
	fs.String("ties", q.Ties, "Tie-breaking for nearest rounding: even|away")
	fs.Int64("seed", q.Seed, "Seed for stochastic rounding (negative = random)")
	fs.Int("workers", defaults.Runtime.Workers, "Goroutines used by tensor kernels")
	fs.String("log-level", defaults.LogLevel, "Log level: debug|info|warn|error")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("INWHALE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("inwhale")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("quant.scheme", c.Quant.Scheme)
	v.SetDefault("quant.bits", c.Quant.Bits)
	v.SetDefault("quant.signed", c.Quant.Signed)
	v.SetDefault("quant.axis", c.Quant.Axis)
	v.SetDefault("quant.observer", c.Quant.Observer)
	v.SetDefault("quant.lower_quantile", c.Quant.LowerQuantile)
	v.SetDefault("quant.upper_quantile", c.Quant.UpperQuantile)
	v.SetDefault("quant.interpolation", c.Quant.Interpolation)
	v.SetDefault("quant.policy", c.Quant.Policy)
	v.SetDefault("quant.rounding", c.Quant.Rounding)
	v.SetDefault("quant.ties", c.Quant.Ties)
	v.SetDefault("quant.seed", c.Quant.Seed)
	v.SetDefault("runtime.workers", c.Runtime.Workers)
	v.SetDefault("log_level", c.LogLevel)
}

// bindFlags binds each known flag under its nested config key so that file,
// env and flag sources all resolve to the same setting.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}

		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	return nil
}

// QuantSpec converts the quant section into a quant.Spec. Names are validated
// by quant.Build.
func (c Config) QuantSpec() quant.Spec {
	q := c.Quant

	spec := quant.Spec{
		Scheme: quant.Scheme(strings.ToLower(q.Scheme)),
		Bits:   q.Bits,
		Signed: q.Signed,
		Axis:   q.Axis,
		Observer: quant.ObserverSpec{
			Kind:          quant.ObserverKind(strings.ToLower(q.Observer)),
			Lower:         q.LowerQuantile,
			Upper:         q.UpperQuantile,
			Interpolation: quant.Interpolation(strings.ToLower(q.Interpolation)),
			Policy:        quant.UpdatePolicy(strings.ToLower(q.Policy)),
		},
		Rounding: quant.RoundingSpec{
			Kind: quant.RoundingKind(strings.ToLower(q.Rounding)),
			Ties: quant.TieMode(strings.ToLower(q.Ties)),
		},
	}

	if q.Seed >= 0 {
		seed := uint64(q.Seed)
		spec.Rounding.Seed = &seed
	}

	return spec
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}
