package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// StateDir is the per-repository directory holding the database, config and locks.
const StateDir = ".squint"

// currentVersion is the only config schema version this build understands.
const currentVersion = 1

// Config represents the complete squint configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Sync         SyncConfig         `json:"sync" mapstructure:"sync"`
	Storage      StorageConfig      `json:"storage" mapstructure:"storage"`
	Modules      ModulesConfig      `json:"modules" mapstructure:"modules"`
	Interactions InteractionsConfig `json:"interactions" mapstructure:"interactions"`
	Flows        FlowsConfig        `json:"flows" mapstructure:"flows"`
	LLM          LLMConfig          `json:"llm" mapstructure:"llm"`
	Logging      LoggingConfig      `json:"logging" mapstructure:"logging"`
}

// SyncConfig controls change detection and strategy selection
type SyncConfig struct {
	DefsChangedRatio float64  `json:"defsChangedRatio" mapstructure:"defsChangedRatio"`
	ModuleRatio      float64  `json:"moduleRatio" mapstructure:"moduleRatio"`
	InteractionRatio float64  `json:"interactionRatio" mapstructure:"interactionRatio"`
	Excludes         []string `json:"excludes" mapstructure:"excludes"`
	RespectGitignore bool     `json:"respectGitignore" mapstructure:"respectGitignore"`
}

// StorageConfig contains database settings
type StorageConfig struct {
	// BusyTimeoutMs bounds how long a write waits on another writer before failing.
	BusyTimeoutMs int `json:"busyTimeoutMs" mapstructure:"busyTimeoutMs"`
}

// ModulesConfig contains module assignment configuration
type ModulesConfig struct {
	DeclarationFile string `json:"declarationFile" mapstructure:"declarationFile"`
	RootSlug        string `json:"rootSlug" mapstructure:"rootSlug"`
}

// InteractionsConfig tunes call-graph aggregation
type InteractionsConfig struct {
	UtilityCallThreshold int `json:"utilityCallThreshold" mapstructure:"utilityCallThreshold"`
	UtilityMinCallers    int `json:"utilityMinCallers" mapstructure:"utilityMinCallers"`
}

// FlowsConfig tunes flow tracing and deduplication
type FlowsConfig struct {
	MaxSteps         int     `json:"maxSteps" mapstructure:"maxSteps"`
	OverlapThreshold float64 `json:"overlapThreshold" mapstructure:"overlapThreshold"`
	JourneyMinFlows  int     `json:"journeyMinFlows" mapstructure:"journeyMinFlows"`
}

// LLMConfig configures the external LLM service
type LLMConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	Model          string `json:"model" mapstructure:"model"`
	BaseURL        string `json:"baseURL" mapstructure:"baseURL"`
	APIKeyEnv      string `json:"apiKeyEnv" mapstructure:"apiKeyEnv"`
	TimeoutSeconds int    `json:"timeoutSeconds" mapstructure:"timeoutSeconds"`
	BatchSize      int    `json:"batchSize" mapstructure:"batchSize"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: currentVersion,
		Sync: SyncConfig{
			DefsChangedRatio: 0.40,
			ModuleRatio:      0.60,
			InteractionRatio: 0.70,
			Excludes:         []string{},
			RespectGitignore: true,
		},
		Storage: StorageConfig{
			BusyTimeoutMs: 250,
		},
		Modules: ModulesConfig{
			DeclarationFile: "MODULES.toml",
			RootSlug:        "project",
		},
		Interactions: InteractionsConfig{
			UtilityCallThreshold: 10,
			UtilityMinCallers:    3,
		},
		Flows: FlowsConfig{
			MaxSteps:         40,
			OverlapThreshold: 0.6,
			JourneyMinFlows:  2,
		},
		LLM: LLMConfig{
			Enabled:        false,
			Model:          "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			TimeoutSeconds: 60,
			BatchSize:      20,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// setDefaults registers every default with viper so env overrides resolve.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("sync.defsChangedRatio", d.Sync.DefsChangedRatio)
	v.SetDefault("sync.moduleRatio", d.Sync.ModuleRatio)
	v.SetDefault("sync.interactionRatio", d.Sync.InteractionRatio)
	v.SetDefault("sync.excludes", d.Sync.Excludes)
	v.SetDefault("sync.respectGitignore", d.Sync.RespectGitignore)
	v.SetDefault("storage.busyTimeoutMs", d.Storage.BusyTimeoutMs)
	v.SetDefault("modules.declarationFile", d.Modules.DeclarationFile)
	v.SetDefault("modules.rootSlug", d.Modules.RootSlug)
	v.SetDefault("interactions.utilityCallThreshold", d.Interactions.UtilityCallThreshold)
	v.SetDefault("interactions.utilityMinCallers", d.Interactions.UtilityMinCallers)
	v.SetDefault("flows.maxSteps", d.Flows.MaxSteps)
	v.SetDefault("flows.overlapThreshold", d.Flows.OverlapThreshold)
	v.SetDefault("flows.journeyMinFlows", d.Flows.JourneyMinFlows)
	v.SetDefault("llm.enabled", d.LLM.Enabled)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.baseURL", d.LLM.BaseURL)
	v.SetDefault("llm.apiKeyEnv", d.LLM.APIKeyEnv)
	v.SetDefault("llm.timeoutSeconds", d.LLM.TimeoutSeconds)
	v.SetDefault("llm.batchSize", d.LLM.BatchSize)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
}

// LoadConfig loads configuration from .squint/config.json.
// Missing files yield the defaults; SQUINT_* environment variables override
// either (e.g. SQUINT_FLOWS_MAXSTEPS=60).
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(repoRoot, StateDir))

	v.SetEnvPrefix("SQUINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to .squint/config.json
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, StateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != currentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}

	ratios := map[string]float64{
		"sync.defsChangedRatio":  c.Sync.DefsChangedRatio,
		"sync.moduleRatio":       c.Sync.ModuleRatio,
		"sync.interactionRatio":  c.Sync.InteractionRatio,
		"flows.overlapThreshold": c.Flows.OverlapThreshold,
	}
	for field, r := range ratios {
		if r < 0 || r > 1 {
			return &ConfigError{Field: field, Message: "must be between 0 and 1"}
		}
	}

	if c.Flows.MaxSteps <= 0 {
		return &ConfigError{Field: "flows.maxSteps", Message: "must be positive"}
	}
	if c.Storage.BusyTimeoutMs < 0 {
		return &ConfigError{Field: "storage.busyTimeoutMs", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
