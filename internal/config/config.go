package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Thresholds holds the tuning constants that drive trigger predicates and
// autonomous actions. They are domain tuning values, not invariants, so they
// live in config.yaml and can be changed without a rebuild.
type Thresholds struct {
	// EscalationValueUSD is the aggregate value-at-risk above which an
	// ESCALATION action fires. Strictly greater-than: exactly the threshold
	// does not trigger.
	EscalationValueUSD float64 `yaml:"escalation_value_usd"`

	// NotificationOrderCount is the count of high-risk items above which a
	// NOTIFICATION action fires.
	NotificationOrderCount int `yaml:"notification_order_count"`

	// DelayMinutes is the flight delay above which the supplier-risk
	// follow-on predicate fires.
	DelayMinutes int `yaml:"delay_minutes"`

	// SupplierRiskScore is the score above which a supplier finding is raised.
	SupplierRiskScore int `yaml:"supplier_risk_score"`

	// SupplierCriticalScore is the score above which a supplier finding is
	// marked CRITICAL.
	SupplierCriticalScore int `yaml:"supplier_critical_score"`

	// CrisisImpactUSD is the simulated financial impact above which
	// supplier diversification is recommended.
	CrisisImpactUSD float64 `yaml:"crisis_impact_usd"`
}

// LoopConfig bounds the reasoning loop.
type LoopConfig struct {
	// MaxSteps is K_max: the hard ceiling on reasoning steps per trace.
	MaxSteps int `yaml:"max_steps"`

	// RequestBudgetSeconds is the wall-clock budget for one top-level request.
	// When exceeded the loop terminates early and the trace completes with
	// partial results.
	RequestBudgetSeconds int `yaml:"request_budget_seconds"`
}

// ProviderConfig holds per-capability provider settings.
type ProviderConfig struct {
	// TimeoutSeconds is the per-provider call budget. Timeouts are treated
	// as transient and advance the fallback chain.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// SupplierEntry names a critical supplier the background monitor sweeps.
type SupplierEntry struct {
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
	Category string `yaml:"category"`
}

// MonitorConfig drives the autonomous background sweeper.
type MonitorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // 5-field cron expression

	Flights   []string        `yaml:"flights"`
	Regions   []string        `yaml:"regions"`
	Suppliers []SupplierEntry `yaml:"suppliers"`
}

// OTelConfig configures the OpenTelemetry exporters.
type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp-http, stdout, none
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	// APIKeys holds credentials for live data providers.
	// Keys: "aviationstack", "aisstream", "newsapi", "serpapi". Env vars
	// override: AVIATIONSTACK_API_KEY → api_keys["aviationstack"].
	APIKeys map[string]string `yaml:"api_keys"`

	Thresholds Thresholds     `yaml:"thresholds"`
	Loop       LoopConfig     `yaml:"loop"`
	Provider   ProviderConfig `yaml:"provider"`
	Monitor    MonitorConfig  `yaml:"monitor"`
	OTel       OTelConfig     `yaml:"otel"`

	// HighRiskRegions feeds the geopolitical follow-on predicate: a flight
	// originating in or routed through one of these triggers a scan.
	HighRiskRegions []string `yaml:"high_risk_regions"`
}

var apiKeyEnv = map[string]string{
	"aviationstack": "AVIATIONSTACK_API_KEY",
	"aisstream":     "AISSTREAM_API_KEY",
	"newsapi":       "NEWSAPI_API_KEY",
	"serpapi":       "SERPAPI_API_KEY",
}

// APIKey returns the value for the named API key, checking env overrides first.
func (c Config) APIKey(name string) string {
	if envVar, ok := apiKeyEnv[name]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if c.APIKeys != nil {
		return c.APIKeys[name]
	}
	return ""
}

// ProviderTimeout returns the per-provider call budget as a duration.
func (c Config) ProviderTimeout() time.Duration {
	secs := c.Provider.TimeoutSeconds
	if secs <= 0 {
		secs = 10
	}
	return time.Duration(secs) * time.Second
}

// RequestBudget returns the wall-clock budget for one request.
func (c Config) RequestBudget() time.Duration {
	secs := c.Loop.RequestBudgetSeconds
	if secs <= 0 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// DefaultHomeDir resolves the data directory: $CHAINWATCH_HOME or ~/.chainwatch.
func DefaultHomeDir() string {
	if override := os.Getenv("CHAINWATCH_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".chainwatch")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the home directory, applies defaults and env
// overrides. A missing file yields the default config.
func Load() (Config, error) {
	return LoadFrom(DefaultHomeDir())
}

// LoadFrom loads configuration rooted at the given home directory.
func LoadFrom(homeDir string) (Config, error) {
	cfg := Defaults()
	cfg.HomeDir = homeDir

	data, err := os.ReadFile(ConfigPath(homeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	cfg.HomeDir = homeDir

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// Defaults returns the built-in configuration. Threshold values mirror the
// shipped tuning: $50k escalation, 60-minute delay, risk scores 70/80.
func Defaults() Config {
	return Config{
		BindAddr: "127.0.0.1:8420",
		LogLevel: "info",
		Thresholds: Thresholds{
			EscalationValueUSD:     50000,
			NotificationOrderCount: 10,
			DelayMinutes:           60,
			SupplierRiskScore:      70,
			SupplierCriticalScore:  80,
			CrisisImpactUSD:        100000,
		},
		Loop: LoopConfig{
			MaxSteps:             5,
			RequestBudgetSeconds: 60,
		},
		Provider: ProviderConfig{
			TimeoutSeconds: 10,
		},
		Monitor: MonitorConfig{
			Enabled:  false,
			Schedule: "*/5 * * * *",
			Flights:  []string{"FDX134", "FDX789", "UPS2901", "DHL456"},
			Regions:  []string{"Taiwan Strait", "Suez Canal", "Red Sea", "South China Sea"},
			Suppliers: []SupplierEntry{
				{Name: "TSMC", Location: "Taiwan", Category: "semiconductors"},
				{Name: "Samsung", Location: "South Korea", Category: "electronics"},
				{Name: "Intel", Location: "USA", Category: "semiconductors"},
			},
		},
		OTel: OTelConfig{
			Enabled:  false,
			Exporter: "none",
		},
		HighRiskRegions: []string{
			"Taiwan", "Ukraine", "Russia", "Middle East",
			"Israel", "Yemen", "Red Sea", "Iran",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("CHAINWATCH_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("CHAINWATCH_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("CHAINWATCH_MAX_STEPS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.Loop.MaxSteps = n
		}
	}
	if raw := os.Getenv("CHAINWATCH_REQUEST_BUDGET_SECONDS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.Loop.RequestBudgetSeconds = n
		}
	}
	for name, envVar := range apiKeyEnv {
		if v := os.Getenv(envVar); v != "" {
			if cfg.APIKeys == nil {
				cfg.APIKeys = map[string]string{}
			}
			cfg.APIKeys[name] = v
		}
	}
}

func normalize(cfg *Config) {
	def := Defaults()
	if cfg.BindAddr == "" {
		cfg.BindAddr = def.BindAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Thresholds.EscalationValueUSD <= 0 {
		cfg.Thresholds.EscalationValueUSD = def.Thresholds.EscalationValueUSD
	}
	if cfg.Thresholds.NotificationOrderCount <= 0 {
		cfg.Thresholds.NotificationOrderCount = def.Thresholds.NotificationOrderCount
	}
	if cfg.Thresholds.DelayMinutes <= 0 {
		cfg.Thresholds.DelayMinutes = def.Thresholds.DelayMinutes
	}
	if cfg.Thresholds.SupplierRiskScore <= 0 {
		cfg.Thresholds.SupplierRiskScore = def.Thresholds.SupplierRiskScore
	}
	if cfg.Thresholds.SupplierCriticalScore <= 0 {
		cfg.Thresholds.SupplierCriticalScore = def.Thresholds.SupplierCriticalScore
	}
	if cfg.Thresholds.CrisisImpactUSD <= 0 {
		cfg.Thresholds.CrisisImpactUSD = def.Thresholds.CrisisImpactUSD
	}
	if cfg.Loop.MaxSteps <= 0 {
		cfg.Loop.MaxSteps = def.Loop.MaxSteps
	}
	if cfg.Loop.RequestBudgetSeconds <= 0 {
		cfg.Loop.RequestBudgetSeconds = def.Loop.RequestBudgetSeconds
	}
	if cfg.Monitor.Schedule == "" {
		cfg.Monitor.Schedule = def.Monitor.Schedule
	}
	if len(cfg.HighRiskRegions) == 0 {
		cfg.HighRiskRegions = def.HighRiskRegions
	}
}
