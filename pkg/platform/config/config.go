// Package config loads runtime settings from defaults, an optional settings
// file (.yaml/.yml or .hjson), a .env file and environment variables, in
// increasing order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hjson/hjson-go/v4"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v2"
)

// Duration is a time.Duration that decodes from strings like "15s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler (used by hjson).
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return eris.Wrapf(err, "config: invalid duration %q", string(b))
	}
	d.Duration = parsed
	return nil
}

// UnmarshalYAML implements yaml.v2's Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Config holds every setting used by cmd/pipeline and cmd/api.
type Config struct {
	// Upstream
	BaseURL         string   `yaml:"base_url" json:"base_url"`
	RegistryURL     string   `yaml:"registry_url" json:"registry_url"`
	UserAgent       string   `yaml:"user_agent" json:"user_agent"`
	ListingTimeout  Duration `yaml:"listing_timeout" json:"listing_timeout"`
	ArchiveTimeout  Duration `yaml:"archive_timeout" json:"archive_timeout"`
	RegistryTimeout Duration `yaml:"registry_timeout" json:"registry_timeout"`
	RetryAttempts   int      `yaml:"retry_attempts" json:"retry_attempts"`
	RetryInitial    Duration `yaml:"retry_initial" json:"retry_initial"`
	RateLimit       float64  `yaml:"rate_limit" json:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst       int      `yaml:"rate_burst" json:"rate_burst"`

	// Pipeline
	PeriodCount     int    `yaml:"period_count" json:"period_count"`
	FetchWorkers    int    `yaml:"fetch_workers" json:"fetch_workers"`
	DataDir         string `yaml:"data_dir" json:"data_dir"`
	KeepRaw         bool   `yaml:"keep_raw" json:"keep_raw"`
	BundleName      string `yaml:"bundle_name" json:"bundle_name"`
	ConflictPolicy  string `yaml:"conflict_policy" json:"conflict_policy"`
	MetricsTextfile string `yaml:"metrics_textfile" json:"metrics_textfile"`

	// API
	APIAddr        string   `yaml:"api_addr" json:"api_addr"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	// Logging
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		BaseURL:         "https://dadosabertos.ans.gov.br/FTP/PDA/demonstracoes_contabeis/",
		RegistryURL:     "https://dadosabertos.ans.gov.br/FTP/PDA/operadoras_de_plano_de_saude_ativas/Relatorio_cadop.csv",
		UserAgent:       "disclosure-pipeline/1.0",
		ListingTimeout:  Duration{15 * time.Second},
		ArchiveTimeout:  Duration{120 * time.Second},
		RegistryTimeout: Duration{30 * time.Second},
		RetryAttempts:   3,
		RetryInitial:    Duration{500 * time.Millisecond},
		RateLimit:       2,
		RateBurst:       4,
		PeriodCount:     3,
		FetchWorkers:    1,
		DataDir:         "data",
		BundleName:      "despesas_consolidadas.zip",
		ConflictPolicy:  "keep-first",
		APIAddr:         ":8080",
		AllowedOrigins:  []string{"http://127.0.0.1:5500", "http://localhost:5500"},
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// Load builds a Config. path may be empty. A missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, eris.Wrap(err, "config: load .env")
	}

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "config: read %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".hjson", ".json":
		err = hjson.Unmarshal(data, cfg)
	default:
		return eris.Errorf("config: unsupported settings file %s", path)
	}
	if err != nil {
		return eris.Wrapf(err, "config: decode %s", path)
	}
	return nil
}

// applyEnv overrides cfg from DISCLOSURE_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return eris.Wrapf(err, "config: %s", key)
			}
			*dst = n
		}
		return nil
	}
	dur := func(key string, dst *Duration) error {
		if v, ok := lookup(key); ok && v != "" {
			return eris.Wrapf(dst.UnmarshalText([]byte(v)), "config: %s", key)
		}
		return nil
	}

	str("DISCLOSURE_BASE_URL", &cfg.BaseURL)
	str("DISCLOSURE_REGISTRY_URL", &cfg.RegistryURL)
	str("DISCLOSURE_USER_AGENT", &cfg.UserAgent)
	str("DISCLOSURE_DATA_DIR", &cfg.DataDir)
	str("DISCLOSURE_BUNDLE_NAME", &cfg.BundleName)
	str("DISCLOSURE_CONFLICT_POLICY", &cfg.ConflictPolicy)
	str("DISCLOSURE_METRICS_TEXTFILE", &cfg.MetricsTextfile)
	str("DISCLOSURE_API_ADDR", &cfg.APIAddr)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)

	for key, dst := range map[string]*int{
		"DISCLOSURE_PERIOD_COUNT":   &cfg.PeriodCount,
		"DISCLOSURE_FETCH_WORKERS":  &cfg.FetchWorkers,
		"DISCLOSURE_RETRY_ATTEMPTS": &cfg.RetryAttempts,
		"DISCLOSURE_RATE_BURST":     &cfg.RateBurst,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	for key, dst := range map[string]*Duration{
		"DISCLOSURE_LISTING_TIMEOUT":  &cfg.ListingTimeout,
		"DISCLOSURE_ARCHIVE_TIMEOUT":  &cfg.ArchiveTimeout,
		"DISCLOSURE_REGISTRY_TIMEOUT": &cfg.RegistryTimeout,
		"DISCLOSURE_RETRY_INITIAL":    &cfg.RetryInitial,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("DISCLOSURE_RATE_LIMIT"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return eris.Wrap(err, "config: DISCLOSURE_RATE_LIMIT")
		}
		cfg.RateLimit = f
	}
	if v, ok := lookup("DISCLOSURE_KEEP_RAW"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return eris.Wrap(err, "config: DISCLOSURE_KEEP_RAW")
		}
		cfg.KeepRaw = b
	}
	if v, ok := lookup("DISCLOSURE_ALLOWED_ORIGINS"); ok && v != "" {
		cfg.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return eris.New("config: base_url is required")
	case c.RegistryURL == "":
		return eris.New("config: registry_url is required")
	case c.DataDir == "":
		return eris.New("config: data_dir is required")
	case c.PeriodCount < 1:
		return eris.Errorf("config: period_count must be >= 1, got %d", c.PeriodCount)
	case c.FetchWorkers < 1:
		return eris.Errorf("config: fetch_workers must be >= 1, got %d", c.FetchWorkers)
	case c.RetryAttempts < 1:
		return eris.Errorf("config: retry_attempts must be >= 1, got %d", c.RetryAttempts)
	case c.RateLimit < 0:
		return eris.Errorf("config: rate_limit must be >= 0, got %g", c.RateLimit)
	}
	return nil
}
