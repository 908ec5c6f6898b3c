package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Identity names the application for config discovery.
const (
	AppName   = "cadence"
	EnvPrefix = "CADENCE"
)

// defaults are the built-in values. Every key the loader decodes has one,
// which is also what lets CADENCE_* variables reach it.
var defaults = map[string]any{
	"logging.level":  "info",
	"logging.format": "console",

	"storage.backend":          "file",
	"storage.prefix":           "reports",
	"storage.base_dir":         "./data",
	"storage.bucket":           "",
	"storage.region":           "",
	"storage.endpoint":         "",
	"storage.profile":          "",
	"storage.force_path_style": false,
	"storage.max_retries":      4,

	"jobs_file": "jobs.yaml",

	"github.token":       "",
	"github.api_url":     "https://api.github.com",
	"github.rate_limit":  5.0,
	"github.concurrency": 4,
	"github.max_retries": 3,

	"llm.base_url":    "https://api.openai.com/v1",
	"llm.api_key":     "",
	"llm.model":       "gpt-4o-mini",
	"llm.max_tokens":  1500,
	"llm.timeout":     "60s",
	"llm.max_retries": 3,

	"notify.timeout":     "10s",
	"notify.max_retries": 3,

	"ledger.enabled":    true,
	"ledger.path":       "",
	"ledger.url":        "",
	"ledger.auth_token": "",

	"scheduler.tick":        "@every 5m",
	"scheduler.concurrency": 1,

	"server.host":             "localhost",
	"server.port":             8080,
	"server.read_timeout":     "30s",
	"server.write_timeout":    "30s",
	"server.idle_timeout":     "120s",
	"server.shutdown_timeout": "10s",
}

// fallbackEnv lists conventional variables honored after the CADENCE_ ones.
var fallbackEnv = map[string]string{
	"github.token": "GITHUB_TOKEN",
	"llm.api_key":  "OPENAI_API_KEY",
	"llm.base_url": "OPENAI_BASE_URL",
}

// Load reads configuration from the default locations: ./cadence.yaml, then
// the user config directory.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile reads configuration with path as the config file. An empty
// path searches the default locations and tolerates finding nothing; an
// explicit path must exist.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range sortedKeys(defaults) {
		names := []string{EnvName(k)}
		if fb, ok := fallbackEnv[k]; ok {
			names = append(names, fb)
		}
		if err := v.BindEnv(append([]string{k}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", k, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		for _, dir := range SearchPaths() {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	for _, o := range overrides {
		for k, val := range flatten("", o) {
			v.Set(k, val)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if cfg.Ledger.Enabled && cfg.Ledger.Path == "" && cfg.Ledger.URL == "" {
		cfg.Ledger.Path = DefaultLedgerPath()
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EnvName returns the environment variable for a config key:
// server.read_timeout becomes CADENCE_SERVER_READ_TIMEOUT.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Keys returns every configuration key, sorted.
func Keys() []string { return sortedKeys(defaults) }

// SearchPaths returns the directories searched for cadence.yaml.
func SearchPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, AppName))
	}
	return paths
}

// DefaultLedgerPath is the ledger database under the application data
// directory.
func DefaultLedgerPath() string {
	return filepath.Join(gfconfig.GetAppDataDir(AppName), "ledger.db")
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError lists every invalid field.
type ValidationError struct {
	Fields []FieldError
}

// FieldError is one invalid field, named by its config key.
type FieldError struct {
	Key  string
	Rule string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s (%s)", f.Key, f.Rule))
	}
	return "invalid config: " + strings.Join(parts, ", ")
}

// Validate checks cfg against its validate tags.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Key: keyOf(fe.StructNamespace()), Rule: fe.Tag()})
	}
	return out
}

// keyOf maps a struct namespace such as Config.Server.ReadTimeout to its
// config key server.read_timeout.
func keyOf(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	switch s {
	case "GitHub":
		return "github"
	case "LLM":
		return "llm"
	case "APIURL":
		return "api_url"
	case "APIKey":
		return "api_key"
	case "BaseURL":
		return "base_url"
	case "URL":
		return "url"
	}
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
