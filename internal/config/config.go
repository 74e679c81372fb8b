// Package config loads typed component configuration from viper.
//
// Each loader follows the same precedence: viper (config file or PAYPROOF_*
// environment variables), then well-known provider environment variables,
// then defaults registered by SetDefaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/engine"
	"github.com/Veraticus/payproof/internal/llm"
	"github.com/Veraticus/payproof/internal/match"
	"github.com/Veraticus/payproof/internal/normalize"
	"github.com/Veraticus/payproof/internal/notify"
	"github.com/Veraticus/payproof/internal/reconcile"
	"github.com/Veraticus/payproof/internal/service"
	"github.com/spf13/viper"
)

// SetDefaults registers default values for every key the loaders read.
func SetDefaults(v *viper.Viper) {
	v = orGlobal(v)

	v.SetDefault("database.path", "~/.local/share/payproof/payproof.db")
	v.SetDefault("database.cache_ttl", 15*time.Minute)

	v.SetDefault("engine.run_timeout", 90*time.Second)
	v.SetDefault("engine.save_timeout", 10*time.Second)
	v.SetDefault("engine.max_concurrent_runs", 8)
	v.SetDefault("engine.auto_approve_threshold", 0.92)
	v.SetDefault("engine.auto_approve_confidence", 0.92)
	v.SetDefault("engine.suggest_threshold", 0.65)
	v.SetDefault("engine.amount_tolerance", 0.05)
	v.SetDefault("engine.convergence_bonus", reconcile.DefaultConvergenceBonus)
	v.SetDefault("engine.max_distinct_candidates", reconcile.DefaultMaxDistinctCandidates)
	v.SetDefault("engine.top_matches", 5)
	v.SetDefault("engine.lookup_attempts", 2)
	v.SetDefault("engine.lookup_retry_delay", 50*time.Millisecond)

	v.SetDefault("image.max_bytes", 10<<20)
	v.SetDefault("image.max_pixels", 40_000_000)
	v.SetDefault("image.primary_max_edge", 2000)
	v.SetDefault("image.thumbnail", true)
	v.SetDefault("image.high_contrast", true)

	v.SetDefault("text.enabled", true)
	v.SetDefault("text.timeout", 10*time.Second)
	v.SetDefault("text.languages", []string{"eng"})

	v.SetDefault("vision.enabled", true)
	v.SetDefault("vision.provider", llm.ProviderOpenAI)
	v.SetDefault("vision.timeout", 45*time.Second)
	v.SetDefault("vision.max_retries", 3)
	v.SetDefault("vision.retry_delay", 500*time.Millisecond)
	v.SetDefault("vision.rate_limit", 60)
	v.SetDefault("vision.max_tokens", 800)

	v.SetDefault("notify.queue_size", 100)
	v.SetDefault("notify.workers", 2)
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.max_retries", 3)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_upload_bytes", 12<<20)
}

// EngineConfig holds the pipeline tuning.
type EngineConfig struct {
	DatabasePath          string
	CacheTTL              time.Duration
	RunTimeout            time.Duration
	SaveTimeout           time.Duration
	LookupRetryDelay      time.Duration
	MaxConcurrentRuns     int
	AutoApproveThreshold  float64
	AutoApproveConfidence float64
	SuggestThreshold      float64
	AmountTolerance       float64
	ConvergenceBonus      float64
	MaxDistinctCandidates int
	TopMatches            int
	LookupAttempts        int
}

// LoadEngineConfig reads the engine.* and database.* keys.
func LoadEngineConfig(v *viper.Viper) (*EngineConfig, error) {
	v = orGlobal(v)
	cfg := &EngineConfig{
		DatabasePath:          ExpandPath(v.GetString("database.path")),
		CacheTTL:              v.GetDuration("database.cache_ttl"),
		RunTimeout:            v.GetDuration("engine.run_timeout"),
		SaveTimeout:           v.GetDuration("engine.save_timeout"),
		LookupRetryDelay:      v.GetDuration("engine.lookup_retry_delay"),
		MaxConcurrentRuns:     v.GetInt("engine.max_concurrent_runs"),
		AutoApproveThreshold:  v.GetFloat64("engine.auto_approve_threshold"),
		AutoApproveConfidence: v.GetFloat64("engine.auto_approve_confidence"),
		SuggestThreshold:      v.GetFloat64("engine.suggest_threshold"),
		AmountTolerance:       v.GetFloat64("engine.amount_tolerance"),
		ConvergenceBonus:      v.GetFloat64("engine.convergence_bonus"),
		MaxDistinctCandidates: v.GetInt("engine.max_distinct_candidates"),
		TopMatches:            v.GetInt("engine.top_matches"),
		LookupAttempts:        v.GetInt("engine.lookup_attempts"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the engine configuration.
func (c *EngineConfig) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	for name, f := range map[string]float64{
		"engine.auto_approve_threshold":  c.AutoApproveThreshold,
		"engine.auto_approve_confidence": c.AutoApproveConfidence,
		"engine.suggest_threshold":       c.SuggestThreshold,
		"engine.amount_tolerance":        c.AmountTolerance,
		"engine.convergence_bonus":       c.ConvergenceBonus,
	} {
		if f < 0 || f > 1 {
			return fmt.Errorf("%w: %s must be within [0,1], got %v", common.ErrInvalidConfig, name, f)
		}
	}
	if c.SuggestThreshold > c.AutoApproveThreshold {
		return fmt.Errorf("%w: engine.suggest_threshold (%v) exceeds engine.auto_approve_threshold (%v)",
			common.ErrInvalidConfig, c.SuggestThreshold, c.AutoApproveThreshold)
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("%w: engine.run_timeout must be positive", common.ErrInvalidConfig)
	}
	if c.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("%w: engine.max_concurrent_runs must be positive", common.ErrInvalidConfig)
	}
	return nil
}

// Matcher converts the configuration into matcher tuning.
func (c *EngineConfig) Matcher() match.Config {
	cfg := match.DefaultConfig()
	cfg.Thresholds = match.Thresholds{
		AutoApprove:           c.AutoApproveThreshold,
		AutoApproveConfidence: c.AutoApproveConfidence,
		Suggest:               c.SuggestThreshold,
	}
	cfg.AmountTolerance = c.AmountTolerance
	if c.TopMatches > 0 {
		cfg.TopN = c.TopMatches
	}
	if c.LookupAttempts > 0 {
		cfg.LookupRetry = service.RetryOptions{
			MaxAttempts:  c.LookupAttempts,
			InitialDelay: c.LookupRetryDelay,
			MaxDelay:     4 * c.LookupRetryDelay,
			Multiplier:   2,
		}
	}
	return cfg
}

// Reconciler converts the configuration into reconciler tuning.
func (c *EngineConfig) Reconciler() reconcile.Config {
	return reconcile.Config{
		ConvergenceBonus:      c.ConvergenceBonus,
		MaxDistinctCandidates: c.MaxDistinctCandidates,
		SuggestThreshold:      c.SuggestThreshold,
	}
}

// Engine converts the configuration into engine run limits.
func (c *EngineConfig) Engine() engine.Config {
	return engine.Config{
		RunTimeout:        c.RunTimeout,
		SaveTimeout:       c.SaveTimeout,
		MaxConcurrentRuns: c.MaxConcurrentRuns,
	}
}

// LoadImageConfig reads the image.* keys.
func LoadImageConfig(v *viper.Viper) (normalize.Options, error) {
	v = orGlobal(v)
	opts := normalize.DefaultOptions()
	opts.MaxBytes = v.GetInt64("image.max_bytes")
	opts.MaxPixels = v.GetInt("image.max_pixels")
	opts.PrimaryMaxEdge = v.GetInt("image.primary_max_edge")
	opts.SkipThumbnail = !v.GetBool("image.thumbnail")
	opts.SkipHighContrast = !v.GetBool("image.high_contrast")

	if opts.MaxBytes <= 0 {
		return opts, fmt.Errorf("%w: image.max_bytes must be positive", common.ErrInvalidConfig)
	}
	if opts.MaxPixels <= 0 {
		return opts, fmt.Errorf("%w: image.max_pixels must be positive", common.ErrInvalidConfig)
	}
	return opts, nil
}

// TextConfig configures the OCR recognizer.
type TextConfig struct {
	Variables map[string]string
	Languages []string
	Timeout   time.Duration
	Enabled   bool
}

// LoadTextConfig reads the text.* keys.
func LoadTextConfig(v *viper.Viper) (*TextConfig, error) {
	v = orGlobal(v)
	cfg := &TextConfig{
		Enabled:   v.GetBool("text.enabled"),
		Timeout:   v.GetDuration("text.timeout"),
		Languages: v.GetStringSlice("text.languages"),
		Variables: v.GetStringMapString("text.variables"),
	}
	if cfg.Enabled && cfg.Timeout <= 0 {
		return nil, fmt.Errorf("%w: text.timeout must be positive", common.ErrInvalidConfig)
	}
	return cfg, nil
}

// VisionConfig configures the vision-model recognizer.
type VisionConfig struct {
	LLM     llm.Config
	Timeout time.Duration
	Enabled bool
}

// LoadVisionConfig reads the vision.* keys. The API key falls back to the
// provider's conventional environment variable.
func LoadVisionConfig(v *viper.Viper) (*VisionConfig, error) {
	v = orGlobal(v)
	cfg := &VisionConfig{
		Enabled: v.GetBool("vision.enabled"),
		Timeout: v.GetDuration("vision.timeout"),
		LLM: llm.Config{
			Provider:    strings.ToLower(v.GetString("vision.provider")),
			APIKey:      v.GetString("vision.api_key"),
			Model:       v.GetString("vision.model"),
			BaseURL:     v.GetString("vision.base_url"),
			MaxRetries:  v.GetInt("vision.max_retries"),
			RetryDelay:  v.GetDuration("vision.retry_delay"),
			RateLimit:   v.GetInt("vision.rate_limit"),
			Temperature: v.GetFloat64("vision.temperature"),
			MaxTokens:   v.GetInt("vision.max_tokens"),
		},
	}

	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case llm.ProviderOpenAI:
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case llm.ProviderAnthropic:
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the vision configuration. A disabled recognizer is always valid.
func (c *VisionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.LLM.Provider {
	case llm.ProviderOpenAI, llm.ProviderAnthropic:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("%w: vision.api_key for provider %s", common.ErrMissingConfig, c.LLM.Provider)
		}
	case llm.ProviderOllama:
	default:
		return fmt.Errorf("%w: unknown vision.provider %q", common.ErrInvalidConfig, c.LLM.Provider)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: vision.timeout must be positive", common.ErrInvalidConfig)
	}
	return nil
}

// NotifyConfig configures decision notifications.
type NotifyConfig struct {
	Headers    map[string]string
	WebhookURL string
	QueueSize  int
	Workers    int
	Timeout    time.Duration
	MaxRetries int
}

// LoadNotifyConfig reads the notify.* keys. An empty webhook URL selects the
// log notifier.
func LoadNotifyConfig(v *viper.Viper) (*NotifyConfig, error) {
	v = orGlobal(v)
	cfg := &NotifyConfig{
		WebhookURL: v.GetString("notify.webhook_url"),
		Headers:    v.GetStringMapString("notify.headers"),
		QueueSize:  v.GetInt("notify.queue_size"),
		Workers:    v.GetInt("notify.workers"),
		Timeout:    v.GetDuration("notify.timeout"),
		MaxRetries: v.GetInt("notify.max_retries"),
	}
	if cfg.WebhookURL != "" && !strings.HasPrefix(cfg.WebhookURL, "http://") && !strings.HasPrefix(cfg.WebhookURL, "https://") {
		return nil, fmt.Errorf("%w: notify.webhook_url must be an http(s) URL", common.ErrInvalidConfig)
	}
	return cfg, nil
}

// Webhook converts the configuration into webhook notifier settings.
func (c *NotifyConfig) Webhook() notify.WebhookConfig {
	return notify.WebhookConfig{
		URL:        c.WebhookURL,
		Headers:    c.Headers,
		QueueSize:  c.QueueSize,
		Workers:    c.Workers,
		Timeout:    c.Timeout,
		MaxRetries: c.MaxRetries,
	}
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr           string
	MaxUploadBytes int64
}

// LoadServerConfig reads the server.* keys.
func LoadServerConfig(v *viper.Viper) *ServerConfig {
	v = orGlobal(v)
	return &ServerConfig{
		Addr:           v.GetString("server.addr"),
		MaxUploadBytes: v.GetInt64("server.max_upload_bytes"),
	}
}

// ExpandPath expands a leading ~ and $VAR references in a file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return os.ExpandEnv(path)
}

func orGlobal(v *viper.Viper) *viper.Viper {
	if v == nil {
		return viper.GetViper()
	}
	return v
}
