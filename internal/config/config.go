package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultModel                = "gpt-4o-mini"
	DefaultTemperature          = 0.3
	DefaultMaxTokens            = 1200
	DefaultMaxToolRounds        = 6
	DefaultCloudChatEndpoint    = "https://api.openai.com/v1/chat/completions"
	DefaultCloudModelsEndpoint  = "https://api.openai.com/v1/models"
	DefaultLegacyChatEndpoint   = "https://text.pollinations.ai/openai"
	DefaultLegacyModelsEndpoint = "https://text.pollinations.ai/models"
	DefaultLocalChatEndpoint    = "http://127.0.0.1:11434/v1/chat/completions"
	DefaultLocalModelsEndpoint  = "http://127.0.0.1:11434/v1/models"
	DefaultProbeTTLSeconds      = 60
	DefaultVerifyConcurrency    = 4
	DefaultVerifyTimeoutSeconds = 12
	DefaultRequestsPerSecond    = 4.0
	DefaultAPIAddr              = "127.0.0.1:8787"
	DefaultTimezone             = "UTC"
)

// Config holds the application configuration
type Config struct {
	// Chat
	Model         string
	FallbackModel string
	Temperature   float64
	MaxTokens     int
	MaxToolRounds int

	// Routing
	LocalMode          bool
	LegacyMode         bool
	PreferLocalPrivate bool
	AllowCloudPrivate  bool
	WebSearch          bool

	// Transports
	CloudChatEndpoint    string
	CloudModelsEndpoint  string
	CloudAPIKey          string
	LegacyChatEndpoint   string
	LegacyModelsEndpoint string
	LocalChatEndpoint    string
	LocalModelsEndpoint  string
	ProbeTTLSeconds      int
	RequestsPerSecond    float64

	// Verify
	VerifyConcurrency    int
	VerifyTimeoutSeconds int

	// Tools
	LocalTools       bool
	Mobile           bool
	ToolsAutoApprove bool
	Timezone         string

	// Memory
	UseVaultContext bool
	SummarizeFiles  bool

	LogLevel       string
	LogFile        string
	APIAddr        string
	MetricsEnabled bool

	DBPath      string
	VaultDir    string
	ConfigPath  string
	AifredDir   string
	ProjectRoot string
}

type fileConfig struct {
	Chat struct {
		Model         string  `toml:"model"`
		FallbackModel string  `toml:"fallback_model"`
		Temperature   float64 `toml:"temperature"`
		MaxTokens     int     `toml:"max_tokens"`
		MaxToolRounds int     `toml:"max_tool_rounds"`
	} `toml:"chat"`
	Routing struct {
		LocalMode          *bool   `toml:"local_mode"`
		LegacyMode         *bool   `toml:"legacy_mode"`
		PreferLocalPrivate *bool   `toml:"prefer_local_private"`
		AllowCloudPrivate  *bool   `toml:"allow_cloud_private"`
		WebSearch          *bool   `toml:"web_search"`
		CloudChatEndpoint  string  `toml:"cloud_chat_endpoint"`
		CloudModels        string  `toml:"cloud_models_endpoint"`
		CloudAPIKey        string  `toml:"cloud_api_key"`
		LegacyChatEndpoint string  `toml:"legacy_chat_endpoint"`
		LegacyModels       string  `toml:"legacy_models_endpoint"`
		RequestsPerSecond  float64 `toml:"requests_per_second"`
	} `toml:"routing"`
	Local struct {
		ChatEndpoint    string `toml:"chat_endpoint"`
		ModelsEndpoint  string `toml:"models_endpoint"`
		ProbeTTLSeconds int    `toml:"probe_ttl_seconds"`
	} `toml:"local"`
	Verify struct {
		Concurrency    int `toml:"concurrency"`
		TimeoutSeconds int `toml:"timeout_seconds"`
	} `toml:"verify"`
	Tools struct {
		LocalTools  *bool  `toml:"local_tools"`
		Mobile      *bool  `toml:"mobile"`
		AutoApprove *bool  `toml:"auto_approve"`
		Timezone    string `toml:"timezone"`
	} `toml:"tools"`
	Memory struct {
		UseVaultContext *bool  `toml:"use_vault_context"`
		SummarizeFiles  *bool  `toml:"summarize_files"`
		VaultDir        string `toml:"vault_dir"`
	} `toml:"memory"`
	Logging struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"logging"`
	API struct {
		Addr string `toml:"addr"`
	} `toml:"api"`
	Metrics struct {
		Enabled *bool `toml:"enabled"`
	} `toml:"metrics"`
}

// Default returns the built-in configuration rooted at projectRoot.
func Default(projectRoot string) *Config {
	aifredDir := GetAifredDir(projectRoot)
	return &Config{
		Model:                DefaultModel,
		FallbackModel:        DefaultModel,
		Temperature:          DefaultTemperature,
		MaxTokens:            DefaultMaxTokens,
		MaxToolRounds:        DefaultMaxToolRounds,
		PreferLocalPrivate:   true,
		CloudChatEndpoint:    DefaultCloudChatEndpoint,
		CloudModelsEndpoint:  DefaultCloudModelsEndpoint,
		LegacyChatEndpoint:   DefaultLegacyChatEndpoint,
		LegacyModelsEndpoint: DefaultLegacyModelsEndpoint,
		LocalChatEndpoint:    DefaultLocalChatEndpoint,
		LocalModelsEndpoint:  DefaultLocalModelsEndpoint,
		ProbeTTLSeconds:      DefaultProbeTTLSeconds,
		RequestsPerSecond:    DefaultRequestsPerSecond,
		VerifyConcurrency:    DefaultVerifyConcurrency,
		VerifyTimeoutSeconds: DefaultVerifyTimeoutSeconds,
		LocalTools:           true,
		Timezone:             DefaultTimezone,
		UseVaultContext:      true,
		SummarizeFiles:       true,
		LogLevel:             "info",
		LogFile:              filepath.Join(aifredDir, "logs", "aifred.log"),
		APIAddr:              DefaultAPIAddr,
		DBPath:               filepath.Join(aifredDir, "store", "aifred.db"),
		VaultDir:             filepath.Join(aifredDir, "store", "vault"),
		ConfigPath:           filepath.Join(aifredDir, "config.toml"),
		AifredDir:            aifredDir,
		ProjectRoot:          projectRoot,
	}
}

// LoadConfig loads configuration from file, environment variables, and defaults
func LoadConfig() (*Config, error) {
	projectRoot, err := FindProjectRoot()
	if err != nil {
		return nil, err
	}
	return Load(projectRoot)
}

// Load builds the configuration for projectRoot: defaults, then
// .aifred/config.toml when present, then AIFRED_* environment overrides.
func Load(projectRoot string) (*Config, error) {
	cfg := Default(projectRoot)

	if err := EnsureAifredDirs(cfg.AifredDir); err != nil {
		return nil, err
	}

	if _, err := os.Stat(cfg.ConfigPath); err == nil {
		data, err := os.ReadFile(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.applyFile(data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", cfg.ConfigPath, err)
		}
	}

	cfg.applyEnv(os.Getenv)

	cfg.CloudChatEndpoint = normalizeEndpoint(cfg.CloudChatEndpoint)
	cfg.CloudModelsEndpoint = normalizeEndpoint(cfg.CloudModelsEndpoint)
	cfg.LegacyChatEndpoint = normalizeEndpoint(cfg.LegacyChatEndpoint)
	cfg.LegacyModelsEndpoint = normalizeEndpoint(cfg.LegacyModelsEndpoint)
	cfg.LocalChatEndpoint = normalizeEndpoint(cfg.LocalChatEndpoint)
	cfg.LocalModelsEndpoint = normalizeEndpoint(cfg.LocalModelsEndpoint)
	if cfg.LogFile != "" && !filepath.IsAbs(cfg.LogFile) {
		cfg.LogFile = filepath.Join(cfg.AifredDir, cfg.LogFile)
	}
	if !filepath.IsAbs(cfg.VaultDir) {
		cfg.VaultDir = filepath.Join(cfg.AifredDir, cfg.VaultDir)
	}

	return cfg, nil
}

func (cfg *Config) applyFile(data []byte) error {
	var parsed fileConfig
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return err
	}

	if parsed.Chat.Model != "" {
		cfg.Model = parsed.Chat.Model
	}
	if parsed.Chat.FallbackModel != "" {
		cfg.FallbackModel = parsed.Chat.FallbackModel
	}
	if parsed.Chat.Temperature != 0 {
		cfg.Temperature = parsed.Chat.Temperature
	}
	if parsed.Chat.MaxTokens != 0 {
		cfg.MaxTokens = parsed.Chat.MaxTokens
	}
	if parsed.Chat.MaxToolRounds != 0 {
		cfg.MaxToolRounds = parsed.Chat.MaxToolRounds
	}

	setBool(&cfg.LocalMode, parsed.Routing.LocalMode)
	setBool(&cfg.LegacyMode, parsed.Routing.LegacyMode)
	setBool(&cfg.PreferLocalPrivate, parsed.Routing.PreferLocalPrivate)
	setBool(&cfg.AllowCloudPrivate, parsed.Routing.AllowCloudPrivate)
	setBool(&cfg.WebSearch, parsed.Routing.WebSearch)
	setString(&cfg.CloudChatEndpoint, parsed.Routing.CloudChatEndpoint)
	setString(&cfg.CloudModelsEndpoint, parsed.Routing.CloudModels)
	setString(&cfg.CloudAPIKey, parsed.Routing.CloudAPIKey)
	setString(&cfg.LegacyChatEndpoint, parsed.Routing.LegacyChatEndpoint)
	setString(&cfg.LegacyModelsEndpoint, parsed.Routing.LegacyModels)
	if parsed.Routing.RequestsPerSecond > 0 {
		cfg.RequestsPerSecond = parsed.Routing.RequestsPerSecond
	}

	setString(&cfg.LocalChatEndpoint, parsed.Local.ChatEndpoint)
	setString(&cfg.LocalModelsEndpoint, parsed.Local.ModelsEndpoint)
	if parsed.Local.ProbeTTLSeconds > 0 {
		cfg.ProbeTTLSeconds = parsed.Local.ProbeTTLSeconds
	}

	if parsed.Verify.Concurrency > 0 {
		cfg.VerifyConcurrency = parsed.Verify.Concurrency
	}
	if parsed.Verify.TimeoutSeconds > 0 {
		cfg.VerifyTimeoutSeconds = parsed.Verify.TimeoutSeconds
	}

	setBool(&cfg.LocalTools, parsed.Tools.LocalTools)
	setBool(&cfg.Mobile, parsed.Tools.Mobile)
	setBool(&cfg.ToolsAutoApprove, parsed.Tools.AutoApprove)
	setString(&cfg.Timezone, parsed.Tools.Timezone)

	setBool(&cfg.UseVaultContext, parsed.Memory.UseVaultContext)
	setBool(&cfg.SummarizeFiles, parsed.Memory.SummarizeFiles)
	setString(&cfg.VaultDir, parsed.Memory.VaultDir)

	setString(&cfg.LogLevel, parsed.Logging.Level)
	setString(&cfg.LogFile, parsed.Logging.File)
	setString(&cfg.APIAddr, parsed.API.Addr)
	setBool(&cfg.MetricsEnabled, parsed.Metrics.Enabled)
	return nil
}

func (cfg *Config) applyEnv(getenv func(string) string) {
	envString(getenv, "AIFRED_MODEL", &cfg.Model)
	envString(getenv, "AIFRED_FALLBACK_MODEL", &cfg.FallbackModel)
	if v := getenv("AIFRED_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Temperature = f
		}
	}
	envInt(getenv, "AIFRED_MAX_TOKENS", &cfg.MaxTokens)
	envInt(getenv, "AIFRED_MAX_TOOL_ROUNDS", &cfg.MaxToolRounds)

	envBool(getenv, "AIFRED_LOCAL_MODE", &cfg.LocalMode)
	envBool(getenv, "AIFRED_LEGACY_MODE", &cfg.LegacyMode)
	envBool(getenv, "AIFRED_PREFER_LOCAL_PRIVATE", &cfg.PreferLocalPrivate)
	envBool(getenv, "AIFRED_ALLOW_CLOUD_PRIVATE", &cfg.AllowCloudPrivate)
	envBool(getenv, "AIFRED_WEB_SEARCH", &cfg.WebSearch)

	envString(getenv, "AIFRED_CLOUD_CHAT_ENDPOINT", &cfg.CloudChatEndpoint)
	envString(getenv, "AIFRED_CLOUD_MODELS_ENDPOINT", &cfg.CloudModelsEndpoint)
	envString(getenv, "AIFRED_CLOUD_API_KEY", &cfg.CloudAPIKey)
	envString(getenv, "AIFRED_LEGACY_CHAT_ENDPOINT", &cfg.LegacyChatEndpoint)
	envString(getenv, "AIFRED_LEGACY_MODELS_ENDPOINT", &cfg.LegacyModelsEndpoint)
	envString(getenv, "AIFRED_LOCAL_CHAT_ENDPOINT", &cfg.LocalChatEndpoint)
	envString(getenv, "AIFRED_LOCAL_MODELS_ENDPOINT", &cfg.LocalModelsEndpoint)
	envInt(getenv, "AIFRED_PROBE_TTL_SECONDS", &cfg.ProbeTTLSeconds)
	if v := getenv("AIFRED_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RequestsPerSecond = f
		}
	}

	envInt(getenv, "AIFRED_VERIFY_CONCURRENCY", &cfg.VerifyConcurrency)
	envInt(getenv, "AIFRED_VERIFY_TIMEOUT_SECONDS", &cfg.VerifyTimeoutSeconds)

	envBool(getenv, "AIFRED_LOCAL_TOOLS", &cfg.LocalTools)
	envBool(getenv, "AIFRED_MOBILE", &cfg.Mobile)
	envBool(getenv, "AIFRED_TOOLS_AUTO_APPROVE", &cfg.ToolsAutoApprove)
	envString(getenv, "AIFRED_TIMEZONE", &cfg.Timezone)

	envBool(getenv, "AIFRED_USE_VAULT_CONTEXT", &cfg.UseVaultContext)
	envBool(getenv, "AIFRED_SUMMARIZE_FILES", &cfg.SummarizeFiles)
	envString(getenv, "AIFRED_VAULT_DIR", &cfg.VaultDir)

	envString(getenv, "AIFRED_LOG_LEVEL", &cfg.LogLevel)
	envString(getenv, "AIFRED_LOG_FILE", &cfg.LogFile)
	envString(getenv, "AIFRED_API_ADDR", &cfg.APIAddr)
	envBool(getenv, "AIFRED_METRICS_ENABLED", &cfg.MetricsEnabled)
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envString(getenv func(string) string, key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func envBool(getenv func(string) string, key string, dst *bool) {
	if v := getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envInt(getenv func(string) string, key string, dst *int) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func normalizeEndpoint(endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/")
}

// HasCloudKey reports whether an authenticated cloud transport is configured.
func (c *Config) HasCloudKey() bool {
	return strings.TrimSpace(c.CloudAPIKey) != ""
}

// ProbeTTL is how long a local reachability result stays valid.
func (c *Config) ProbeTTL() time.Duration {
	return time.Duration(c.ProbeTTLSeconds) * time.Second
}

// VerifyTimeout bounds a single canary probe.
func (c *Config) VerifyTimeout() time.Duration {
	return time.Duration(c.VerifyTimeoutSeconds) * time.Second
}

// Context key for storing config in context
type configContextKey struct{}

// WithConfig adds the config to the context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey{}, cfg)
}

// FromContext retrieves the config from the context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configContextKey{}).(*Config); ok {
		return cfg
	}
	return nil
}

// Validate verifies the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("chat model is empty")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if c.MaxToolRounds <= 0 {
		return fmt.Errorf("max tool rounds must be positive")
	}
	if c.CloudChatEndpoint == "" && c.LegacyChatEndpoint == "" && c.LocalChatEndpoint == "" {
		return fmt.Errorf("no chat endpoint configured")
	}
	if c.LocalMode && c.LocalChatEndpoint == "" {
		return fmt.Errorf("local mode enabled but no local endpoint configured")
	}
	if c.ProbeTTLSeconds <= 0 {
		return fmt.Errorf("probe TTL must be positive")
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if c.VerifyConcurrency <= 0 {
		return fmt.Errorf("verify concurrency must be positive")
	}
	if c.VerifyTimeoutSeconds <= 0 {
		return fmt.Errorf("verify timeout must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error", "off":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}
