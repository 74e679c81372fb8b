package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/llm"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, values map[string]any) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestLoadEngineConfig_Defaults(t *testing.T) {
	cfg, err := LoadEngineConfig(newViper(t, nil))
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.RunTimeout)
	assert.Equal(t, 8, cfg.MaxConcurrentRuns)
	assert.InDelta(t, 0.92, cfg.AutoApproveThreshold, 1e-9)
	assert.InDelta(t, 0.92, cfg.AutoApproveConfidence, 1e-9)
	assert.InDelta(t, 0.65, cfg.SuggestThreshold, 1e-9)
	assert.NotContains(t, cfg.DatabasePath, "~")

	m := cfg.Matcher()
	assert.InDelta(t, 0.05, m.AmountTolerance, 1e-9)
	assert.Equal(t, 5, m.TopN)
	assert.Equal(t, 2, m.LookupRetry.MaxAttempts)

	r := cfg.Reconciler()
	assert.InDelta(t, 0.10, r.ConvergenceBonus, 1e-9)
	assert.Equal(t, 3, r.MaxDistinctCandidates)

	e := cfg.Engine()
	assert.Equal(t, 10*time.Second, e.SaveTimeout)
}

func TestLoadEngineConfig_Validation(t *testing.T) {
	tests := []struct {
		values  map[string]any
		wantErr error
		name    string
	}{
		{
			name:    "threshold above one",
			values:  map[string]any{"engine.auto_approve_threshold": 1.5},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "negative tolerance",
			values:  map[string]any{"engine.amount_tolerance": -0.1},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name: "suggest above approve",
			values: map[string]any{
				"engine.auto_approve_threshold": 0.5,
				"engine.suggest_threshold":      0.6,
			},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "zero concurrency",
			values:  map[string]any{"engine.max_concurrent_runs": 0},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "empty database path",
			values:  map[string]any{"database.path": ""},
			wantErr: common.ErrMissingConfig,
		},
		{
			name: "independent confidence threshold",
			values: map[string]any{
				"engine.auto_approve_threshold":  0.9,
				"engine.auto_approve_confidence": 0.8,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadEngineConfig(newViper(t, tt.values))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoadImageConfig(t *testing.T) {
	opts, err := LoadImageConfig(newViper(t, map[string]any{
		"image.thumbnail":     false,
		"image.max_pixels":    1000,
		"image.max_bytes":     2048,
		"image.high_contrast": true,
	}))
	require.NoError(t, err)
	assert.True(t, opts.SkipThumbnail)
	assert.False(t, opts.SkipHighContrast)
	assert.Equal(t, 1000, opts.MaxPixels)
	assert.Equal(t, int64(2048), opts.MaxBytes)

	_, err = LoadImageConfig(newViper(t, map[string]any{"image.max_bytes": 0}))
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestLoadVisionConfig(t *testing.T) {
	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-env")
		cfg, err := LoadVisionConfig(newViper(t, nil))
		require.NoError(t, err)
		assert.Equal(t, llm.ProviderOpenAI, cfg.LLM.Provider)
		assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	})

	t.Run("explicit key wins", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "env-key")
		cfg, err := LoadVisionConfig(newViper(t, map[string]any{
			"vision.provider": "Anthropic",
			"vision.api_key":  "config-key",
		}))
		require.NoError(t, err)
		assert.Equal(t, llm.ProviderAnthropic, cfg.LLM.Provider)
		assert.Equal(t, "config-key", cfg.LLM.APIKey)
	})

	t.Run("missing key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		_, err := LoadVisionConfig(newViper(t, nil))
		assert.ErrorIs(t, err, common.ErrMissingConfig)
	})

	t.Run("ollama needs no key", func(t *testing.T) {
		_, err := LoadVisionConfig(newViper(t, map[string]any{"vision.provider": "ollama"}))
		assert.NoError(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := LoadVisionConfig(newViper(t, map[string]any{"vision.provider": "bard", "vision.api_key": "x"}))
		assert.ErrorIs(t, err, common.ErrInvalidConfig)
	})

	t.Run("disabled skips validation", func(t *testing.T) {
		cfg, err := LoadVisionConfig(newViper(t, map[string]any{"vision.enabled": false, "vision.provider": "bard"}))
		require.NoError(t, err)
		assert.False(t, cfg.Enabled)
	})
}

func TestLoadTextConfig(t *testing.T) {
	cfg, err := LoadTextConfig(newViper(t, map[string]any{"text.languages": []string{"eng", "spa"}}))
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, []string{"eng", "spa"}, cfg.Languages)

	_, err = LoadTextConfig(newViper(t, map[string]any{"text.timeout": 0}))
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestLoadNotifyConfig(t *testing.T) {
	cfg, err := LoadNotifyConfig(newViper(t, map[string]any{"notify.webhook_url": "https://hooks.example.com/pay"}))
	require.NoError(t, err)
	w := cfg.Webhook()
	assert.Equal(t, "https://hooks.example.com/pay", w.URL)
	assert.Equal(t, 100, w.QueueSize)
	assert.Equal(t, 2, w.Workers)

	_, err = LoadNotifyConfig(newViper(t, map[string]any{"notify.webhook_url": "ftp://nope"}))
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestLoadServerConfig(t *testing.T) {
	cfg := LoadServerConfig(newViper(t, map[string]any{"server.addr": "127.0.0.1:9000"}))
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, int64(12<<20), cfg.MaxUploadBytes)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("PAYPROOF_TEST_DIR", "/var/data")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "tilde", in: "~", want: home},
		{name: "tilde subpath", in: "~/db/pay.db", want: filepath.Join(home, "db/pay.db")},
		{name: "env var", in: "$PAYPROOF_TEST_DIR/pay.db", want: "/var/data/pay.db"},
		{name: "absolute", in: "/tmp/pay.db", want: "/tmp/pay.db"},
		{name: "tilde in middle untouched", in: "/tmp/~user", want: "/tmp/~user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}
