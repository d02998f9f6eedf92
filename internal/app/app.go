// Package app wires configuration, logging, storage, registries, the
// pipeline runner and the scheduler into one service lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"digestbot/internal/channel"
	"digestbot/internal/config"
	"digestbot/internal/pipeline"
	"digestbot/internal/processor"
	"digestbot/internal/provider"
	"digestbot/internal/schedule"
	"digestbot/internal/storage"
	"digestbot/pkg/logx"
)

type App struct {
	cfgm   *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store  storage.Store
	runner *pipeline.Runner
	sched  *schedule.Service

	mu        sync.Mutex
	watchDone chan struct{}
	cancel    context.CancelFunc
}

// New loads the config and builds every component. The returned App is
// ready for one-shot runs; Start is only needed for daemon mode.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(cfg.Logging.Logx())
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	sources, err := buildProviders(cfg, log)
	if err != nil {
		closeQuiet(store, logSvc)
		return nil, err
	}
	procs, err := buildProcessors(cfg)
	if err != nil {
		closeQuiet(store, logSvc)
		return nil, err
	}
	chans, err := buildChannels(cfg, log)
	if err != nil {
		closeQuiet(store, logSvc)
		return nil, err
	}

	pipeCfg, err := cfg.PipelineConfig()
	if err != nil {
		closeQuiet(store, logSvc)
		return nil, err
	}
	runner := pipeline.New(pipeCfg, pipeline.Deps{
		Sources:    sources,
		Processors: procs,
		Channels:   chans,
		Store:      store,
		Log:        log.With(logx.String("comp", "pipeline")),
	})

	return &App{
		cfgm:   cfgm,
		logSvc: logSvc,
		log:    log,
		store:  store,
		runner: runner,
		sched:  schedule.New(log.With(logx.String("comp", "schedule"))),
	}, nil
}

func closeQuiet(store storage.Store, logSvc *logx.Service) {
	if store != nil {
		_ = store.Close()
	}
	_ = logSvc.Close()
}

func buildProviders(cfg *config.Config, log logx.Logger) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	for _, p := range cfg.Providers {
		if !config.On(p.Enabled) {
			continue
		}
		timeout, err := config.ParseDurationField("providers."+p.Name+".timeout", p.Timeout)
		if err != nil {
			return nil, err
		}
		switch p.Kind {
		case "rss":
			src, err := provider.NewRSSSource(provider.RSSConfig{
				Name:     p.Name,
				URL:      p.URL,
				Topic:    p.Topic,
				TopicMap: p.TopicMap,
				Timeout:  timeout,
			}, log.With(logx.String("comp", "provider"), logx.String("source", p.Name)))
			if err != nil {
				return nil, err
			}
			if err := reg.Register(src); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("providers.%s: unknown kind %q", p.Name, p.Kind)
		}
	}
	return reg, nil
}

func buildProcessors(cfg *config.Config) (*processor.Registry, error) {
	reg := processor.NewRegistry()
	for _, p := range cfg.Processors {
		if !config.On(p.Enabled) {
			continue
		}
		timeout, err := config.ParseDurationField("processors."+p.Name+".timeout", p.Timeout)
		if err != nil {
			return nil, err
		}
		var s processor.Summarizer
		switch p.Kind {
		case "ollama":
			s, err = processor.NewOllama(processor.OllamaConfig{
				Name:      p.Name,
				Endpoint:  p.Endpoint,
				Model:     p.Model,
				Timeout:   timeout,
				MaxTokens: p.MaxTokens,
			})
		case "openai":
			s, err = processor.NewOpenAI(processor.OpenAIConfig{
				Name:      p.Name,
				Endpoint:  p.Endpoint,
				Model:     p.Model,
				APIKey:    p.APIKey,
				Timeout:   timeout,
				MaxTokens: p.MaxTokens,
			})
		default:
			err = fmt.Errorf("processors.%s: unknown kind %q", p.Name, p.Kind)
		}
		if err != nil {
			return nil, err
		}
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildChannels(cfg *config.Config, log logx.Logger) (*channel.Registry, error) {
	reg := channel.NewRegistry()
	for _, c := range cfg.Channels {
		if !config.On(c.Enabled) {
			continue
		}
		var (
			ch  channel.Channel
			err error
		)
		switch c.Kind {
		case "telegram":
			ch, err = channel.NewTelegram(channel.TelegramConfig{
				Name:       c.Name,
				Token:      c.Token,
				ChatID:     c.ChatID,
				TopicChats: c.TopicChats,
				RatePerSec: c.RatePerSec,
			}, log.With(logx.String("comp", "channel"), logx.String("channel", c.Name)))
		case "email":
			ch, err = channel.NewEmail(channel.EmailConfig{
				Name:     c.Name,
				Host:     c.Host,
				Port:     c.Port,
				Username: c.Username,
				Password: c.Password,
				From:     c.From,
				To:       c.To,
			}, log.With(logx.String("comp", "channel"), logx.String("channel", c.Name)))
		default:
			err = fmt.Errorf("channels.%s: unknown kind %q", c.Name, c.Kind)
		}
		if err != nil {
			return nil, err
		}
		if err := reg.Register(ch); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// RunOnce executes a single pipeline invocation (CLI one-shot mode).
func (a *App) RunOnce(ctx context.Context, opts pipeline.Options) (pipeline.Result, error) {
	return a.runner.RunOnce(ctx, opts)
}

// RunBatch summarizes and delivers the stored backlog once.
func (a *App) RunBatch(ctx context.Context, opts pipeline.BatchOptions) (pipeline.Result, error) {
	return a.runner.RunBatch(ctx, opts)
}

// Start enters daemon mode: it registers the scheduler jobs from the config
// and begins watching the config file, re-applying the logging section on
// change. Provider/processor/channel changes require a restart.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	if !cfg.Scheduler.Enabled {
		return fmt.Errorf("scheduler is disabled in config; daemon mode needs scheduler.enabled")
	}

	sched := cfg.Scheduler
	if sched.FetchCron != "" {
		err := a.sched.Add(schedule.Job{
			Name: "fetch",
			Spec: sched.FetchCron,
			Run: func(ctx context.Context) error {
				_, err := a.runner.RunOnce(ctx, pipeline.Options{
					Topics:  sched.Topics,
					Sources: sched.Sources,
					Limit:   sched.Limit,
					Mode:    pipeline.ModeSaveOnly,
				})
				return err
			},
		})
		if err != nil {
			return err
		}
	}
	if sched.DigestCron != "" {
		window := cfg.SchedulerWindow()
		err := a.sched.Add(schedule.Job{
			Name: "digest",
			Spec: sched.DigestCron,
			Run: func(ctx context.Context) error {
				_, err := a.runner.RunBatch(ctx, pipeline.BatchOptions{
					Window:    window,
					Processor: sched.Processor,
					Channels:  sched.Channels,
					Limit:     sched.Limit,
				})
				return err
			},
		})
		if err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.cancel = cancel
	a.watchDone = make(chan struct{})
	watchDone := a.watchDone
	a.mu.Unlock()

	sub := a.cfgm.Subscribe(1)
	go func() {
		defer close(watchDone)
		go func() { _ = a.cfgm.Watch(runCtx) }()
		for {
			select {
			case <-runCtx.Done():
				a.cfgm.Unsubscribe(sub)
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.logSvc.Apply(next.Logging.Logx())
				a.log.Info("logging config re-applied",
					logx.String("level", next.Logging.Level))
			}
		}
	}()

	if err := a.sched.Start(runCtx); err != nil {
		cancel()
		return err
	}
	a.log.Info("daemon started",
		logx.String("fetch_cron", sched.FetchCron),
		logx.String("digest_cron", sched.DigestCron))
	return nil
}

// Stop shuts the daemon down: scheduler first so in-flight jobs finish
// against a live store, then the watch loop, storage and logging.
func (a *App) Stop(ctx context.Context) error {
	a.sched.Stop()

	a.mu.Lock()
	cancel := a.cancel
	watchDone := a.watchDone
	a.cancel = nil
	a.watchDone = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watchDone != nil {
		select {
		case <-watchDone:
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
	}

	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.logSvc.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Close releases resources for one-shot runs that never called Start.
func (a *App) Close() error {
	return a.Stop(context.Background())
}
