package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"free-alt-finder/internal/adapter/feishu"
	"free-alt-finder/internal/adapter/gemini"
	"free-alt-finder/internal/adapter/github"
	"free-alt-finder/internal/adapter/openai"
	"free-alt-finder/internal/adapter/repository"
	"free-alt-finder/internal/config"
	"free-alt-finder/internal/logger"
	"free-alt-finder/internal/port"
	"free-alt-finder/internal/service"
)

// app 持有一次命令执行所需的全部依赖
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *repository.AlternativeRepo
	gen     port.Generator
	service *service.SearchService
	closers []func() error
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	log.Info("配置已加载", zap.Any("credentials", cfg.Summary()))
	if err := cfg.Validate(); err != nil {
		return nil, log, err
	}
	return cfg, log, nil
}

// newApp 组装依赖。withStore 为 false 时不连接数据库 (probe 用)
func newApp(ctx context.Context, withStore bool) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		if log != nil {
			log.Error("启动失败", zap.Error(err))
			_ = log.Sync()
		}
		return nil, err
	}

	a := &app{cfg: cfg, logger: log}

	gen, closeGen, err := newGenerator(ctx, cfg.Generator)
	if err != nil {
		return nil, err
	}
	a.gen = gen
	if closeGen != nil {
		a.closers = append(a.closers, closeGen)
	}

	if withStore {
		store, err := repository.Open(ctx, cfg.Store)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
		log.Info("数据库已连接", zap.String("driver", cfg.Store.Driver))
	}

	var store port.AlternativeStore
	if a.store != nil {
		store = a.store
	}
	a.service = service.NewSearchService(store, gen, log, serviceOptions(cfg, log)...)
	return a, nil
}

func newGenerator(ctx context.Context, cfg config.GeneratorConfig) (port.Generator, func() error, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		g, err := gemini.NewGenerator(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	default:
		return openai.NewGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model), nil, nil
	}
}

func serviceOptions(cfg *config.Config, log *zap.Logger) []service.Option {
	opts := []service.Option{
		service.WithCacheLimit(cfg.Search.CacheLimit),
		service.WithGenerationParams(cfg.Generator.MaxTokens, cfg.Generator.Temperature),
	}
	if cfg.GitHub.Enabled {
		opts = append(opts, service.WithMaintenanceChecker(
			github.NewMaintenanceChecker(cfg.GitHub.Token, cfg.GitHub.MaxInactiveDays, cfg.GitHub.Concurrency, log)))
	}
	if cfg.Notify.Webhook != "" {
		opts = append(opts, service.WithNotifier(feishu.NewNotifier(cfg.Notify.Webhook, log)))
	}
	return opts
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
