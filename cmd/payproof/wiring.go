package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/payproof/internal/config"
	"github.com/Veraticus/payproof/internal/engine"
	"github.com/Veraticus/payproof/internal/llm"
	"github.com/Veraticus/payproof/internal/match"
	"github.com/Veraticus/payproof/internal/metrics"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/Veraticus/payproof/internal/normalize"
	"github.com/Veraticus/payproof/internal/notify"
	"github.com/Veraticus/payproof/internal/recognition"
	"github.com/Veraticus/payproof/internal/recognition/tesseract"
	"github.com/Veraticus/payproof/internal/reconcile"
	"github.com/Veraticus/payproof/internal/storage"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// openStorage opens and migrates the configured database.
func openStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	cfg, err := config.LoadEngineConfig(nil)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// runtime is a fully wired engine and the resources it holds.
type runtime struct {
	Engine  *engine.Engine
	Store   *storage.SQLiteStorage
	Cache   *storage.DecisionCache
	Metrics *metrics.Collector
	stops   []func(context.Context) error
}

// Close releases the runtime's resources in reverse order of acquisition.
func (r *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.stops) - 1; i >= 0; i-- {
		if err := r.stops[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildRuntime(ctx context.Context) (*runtime, error) {
	logger := slog.Default()

	engineCfg, err := config.LoadEngineConfig(nil)
	if err != nil {
		return nil, err
	}
	imageOpts, err := config.LoadImageConfig(nil)
	if err != nil {
		return nil, err
	}
	textCfg, err := config.LoadTextConfig(nil)
	if err != nil {
		return nil, err
	}
	visionCfg, err := config.LoadVisionConfig(nil)
	if err != nil {
		return nil, err
	}
	notifyCfg, err := config.LoadNotifyConfig(nil)
	if err != nil {
		return nil, err
	}

	store, err := openStorage(ctx)
	if err != nil {
		return nil, err
	}
	store.SetLogger(logger)

	rt := &runtime{
		Store:   store,
		Metrics: metrics.NewCollector(),
	}
	rt.stops = append(rt.stops, func(context.Context) error { return store.Close() })

	rt.Cache = storage.NewDecisionCache(store, engineCfg.CacheTTL)
	rt.Cache.Start()
	rt.stops = append(rt.stops, func(context.Context) error { rt.Cache.Stop(); return nil })

	var recognizers []recognition.Recognizer
	runnerOpts := []recognition.RunnerOption{
		recognition.WithMetrics(rt.Metrics),
		recognition.WithLogger(logger),
	}
	if textCfg.Enabled {
		recognizers = append(recognizers, tesseract.New(tesseract.Config{
			Languages: textCfg.Languages,
			Variables: textCfg.Variables,
		}, logger))
		runnerOpts = append(runnerOpts, recognition.WithTimeout(model.RecognizerText, textCfg.Timeout))
	}
	if visionCfg.Enabled {
		vision, visionErr := llm.NewVisionRecognizer(visionCfg.LLM, logger)
		if visionErr != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("failed to create vision recognizer: %w", visionErr)
		}
		recognizers = append(recognizers, vision)
		runnerOpts = append(runnerOpts, recognition.WithTimeout(model.RecognizerVision, visionCfg.Timeout))
	}
	if len(recognizers) == 0 {
		_ = rt.Close(ctx)
		return nil, errors.New("at least one of text.enabled or vision.enabled must be set")
	}

	notifier, webhook, err := buildNotifier(notifyCfg, logger)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	if webhook != nil {
		webhook.Start()
		rt.stops = append(rt.stops, webhook.Stop)
	}

	eng, err := engine.New(engine.Deps{
		Normalizer: normalize.New(imageOpts),
		Runner:     recognition.NewRunner(recognizers, runnerOpts...),
		Reconciler: reconcile.New(engineCfg.Reconciler()),
		Matcher: match.New(store, engineCfg.Matcher(),
			match.WithLogger(logger), match.WithMetrics(rt.Metrics)),
		Submissions: store,
		Decisions:   rt.Cache,
		Review:      store,
		Notifier:    notifier,
		Metrics:     rt.Metrics,
		Logger:      logger,
	}, engineCfg.Engine())
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	rt.Engine = eng

	logger.Info("engine ready",
		"database", store.Path(),
		"text", textCfg.Enabled,
		"vision", visionCfg.Enabled,
		"vision_provider", visionCfg.LLM.Provider,
		"auto_approve", engineCfg.AutoApproveThreshold)
	return rt, nil
}

// buildNotifier always logs events and also posts them when a webhook URL is
// configured. The webhook, if any, is returned unstarted.
func buildNotifier(cfg *config.NotifyConfig, logger *slog.Logger) (notify.Multi, *notify.WebhookNotifier, error) {
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.WebhookURL == "" {
		return notifiers, nil, nil
	}
	webhook, err := notify.NewWebhookNotifier(cfg.Webhook(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create webhook notifier: %w", err)
	}
	return append(notifiers, webhook), webhook, nil
}

// shutdownContext bounds cleanup after the command context is cancelled.
func shutdownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
}
