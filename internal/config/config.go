package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models helpbot.yml.
type Config struct {
	Backend   Backend   `yaml:"backend" json:"backend"`
	Dialogue  Dialogue  `yaml:"dialogue" json:"dialogue"`
	Search    Search    `yaml:"search" json:"search"`
	View      View      `yaml:"view" json:"view"`
	Assistant Assistant `yaml:"assistant" json:"assistant"`
	Server    Server    `yaml:"server" json:"server"`
	Logging   Logging   `yaml:"logging" json:"logging"`
}

type Backend struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	DefaultPort    int           `yaml:"default_port" json:"default_port"`
	Fallbacks      []string      `yaml:"fallbacks" json:"fallbacks"`
	HealthPath     string        `yaml:"health_path" json:"health_path"`
	HealthTTL      time.Duration `yaml:"health_ttl" json:"health_ttl"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	ProbeRetries   int           `yaml:"probe_retries" json:"probe_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit" json:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst" json:"rate_burst"`
	DateUnit       string        `yaml:"date_unit" json:"date_unit"`
}

type Dialogue struct {
	CompanyRequired bool     `yaml:"company_required" json:"company_required"`
	CategoryEnabled bool     `yaml:"category_enabled" json:"category_enabled"`
	MaxCandidates   int      `yaml:"max_candidates" json:"max_candidates"`
	SkipTokens      []string `yaml:"skip_tokens" json:"skip_tokens"`
	ResetTokens     []string `yaml:"reset_tokens" json:"reset_tokens"`
	CasualPatterns  []string `yaml:"casual_patterns" json:"casual_patterns"`
}

type Search struct {
	Limit                  int  `yaml:"limit" json:"limit"`
	SummaryMaxCtx          int  `yaml:"summary_max_ctx" json:"summary_max_ctx"`
	SummaryFallbackEnabled bool `yaml:"summary_fallback_enabled" json:"summary_fallback_enabled"`
	FallbackRows           int  `yaml:"fallback_rows" json:"fallback_rows"`
}

type View struct {
	PageSize int           `yaml:"page_size" json:"page_size"`
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// Assistant configures the optional OpenAI-compatible fallback summarizer.
type Assistant struct {
	Endpoint    string        `yaml:"endpoint" json:"endpoint"`
	Model       string        `yaml:"model" json:"model"`
	APIKeyEnv   string        `yaml:"api_key_env" json:"api_key_env"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

type Server struct {
	Addr        string        `yaml:"addr" json:"addr"`
	BasePath    string        `yaml:"base_path" json:"base_path"`
	JWTSecret   string        `yaml:"jwt_secret" json:"-"`
	RequireAuth bool          `yaml:"require_auth" json:"require_auth"`
	SessionTTL  time.Duration `yaml:"session_ttl" json:"session_ttl"`
}

type Logging struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json" json:"json"`
}

// Enabled reports whether a fallback summarizer is configured.
func (a Assistant) Enabled() bool {
	return strings.TrimSpace(a.Endpoint) != "" && strings.TrimSpace(a.Model) != ""
}

// APIKey reads the assistant key from the configured environment variable.
func (a Assistant) APIKey() string {
	if a.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(a.APIKeyEnv)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with helpbot config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Backend.BaseURL != "" {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.backend.base_url %q is not an absolute URL", c.Backend.BaseURL)
		}
	}
	for _, fb := range c.Backend.Fallbacks {
		u, err := url.Parse(fb)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.backend.fallbacks entry %q is not an absolute URL", fb)
		}
	}
	if c.Backend.DefaultPort < 0 || c.Backend.DefaultPort > 65535 {
		return fmt.Errorf("config.backend.default_port out of range")
	}
	if c.Backend.HealthTTL <= 0 {
		return fmt.Errorf("config.backend.health_ttl must be positive")
	}
	if c.Backend.ProbeTimeout <= 0 {
		return fmt.Errorf("config.backend.probe_timeout must be positive")
	}
	if c.Backend.ProbeRetries < 1 {
		return fmt.Errorf("config.backend.probe_retries must be at least 1")
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("config.backend.request_timeout must be positive")
	}
	if c.Backend.RateLimit < 0 || c.Backend.RateBurst < 0 {
		return fmt.Errorf("config.backend.rate_limit and rate_burst must not be negative")
	}
	switch strings.ToLower(c.Backend.DateUnit) {
	case "", "seconds", "days":
	default:
		return fmt.Errorf("config.backend.date_unit must be seconds or days")
	}
	if c.Dialogue.MaxCandidates < 1 || c.Dialogue.MaxCandidates > 6 {
		return fmt.Errorf("config.dialogue.max_candidates must be between 1 and 6")
	}
	if len(c.Dialogue.ResetTokens) == 0 {
		return fmt.Errorf("config.dialogue.reset_tokens is required")
	}
	for _, tok := range append(append([]string{}, c.Dialogue.SkipTokens...), c.Dialogue.ResetTokens...) {
		if strings.TrimSpace(tok) == "" {
			return fmt.Errorf("config.dialogue contains an empty token")
		}
	}
	if c.Search.Limit < 1 {
		return fmt.Errorf("config.search.limit must be positive")
	}
	if c.Search.SummaryMaxCtx < 1 {
		return fmt.Errorf("config.search.summary_max_ctx must be positive")
	}
	if c.Search.FallbackRows < 1 || c.Search.FallbackRows > 20 {
		return fmt.Errorf("config.search.fallback_rows must be between 1 and 20")
	}
	if c.View.PageSize < 1 {
		return fmt.Errorf("config.view.page_size must be positive")
	}
	if c.View.Debounce < 0 {
		return fmt.Errorf("config.view.debounce must not be negative")
	}
	if c.Assistant.Endpoint != "" && c.Assistant.Model == "" {
		return fmt.Errorf("config.assistant.model is required when an endpoint is set")
	}
	if c.Server.RequireAuth && c.Server.JWTSecret == "" {
		return fmt.Errorf("config.server.jwt_secret is required when require_auth is set")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.logging.level %q is invalid", c.Logging.Level)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "helpbot.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the workspace config, or the defaults when no file exists.
func LoadOrDefault(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys that are
// absent keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `backend:
  base_url: http://127.0.0.1:8000
  default_port: 8000
  fallbacks:
    - http://localhost:8000
    - http://127.0.0.1:8001
  health_path: /health
  health_ttl: 10s
  probe_timeout: 3s
  probe_retries: 3
  request_timeout: 20s
  rate_limit: 10
  rate_burst: 5
  date_unit: seconds

dialogue:
  company_required: false
  category_enabled: false
  max_candidates: 6
  skip_tokens: [skip, geç, atla, yok]
  reset_tokens: [reset, restart, sıfırla, yeniden, baştan]
  casual_patterns: []

search:
  limit: 40
  summary_max_ctx: 20
  summary_fallback_enabled: true
  fallback_rows: 20

view:
  page_size: 100
  debounce: 250ms

assistant:
  endpoint: ""
  model: ""
  api_key_env: HELPBOT_ASSISTANT_KEY
  temperature: 0.2
  max_tokens: 400
  timeout: 30s

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""
  require_auth: false
  session_ttl: 30m

logging:
  level: info
  json: false
`
