// Package application is the dependency injection container: it wires
// repositories, domain services and interfaces, and owns the worker pool
// that drains the webhook queue.
package application

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dialogforge/dialogforge/internal/domain/repository"
	"github.com/dialogforge/dialogforge/internal/domain/scenario"
	"github.com/dialogforge/dialogforge/internal/domain/service"
	"github.com/dialogforge/dialogforge/internal/infrastructure/config"
	"github.com/dialogforge/dialogforge/internal/infrastructure/eventbus"
	"github.com/dialogforge/dialogforge/internal/infrastructure/persistence"
	"github.com/dialogforge/dialogforge/internal/infrastructure/sidestore"
	"github.com/dialogforge/dialogforge/internal/interfaces/adapters"
	httpserver "github.com/dialogforge/dialogforge/internal/interfaces/http"
	"github.com/dialogforge/dialogforge/pkg/safego"
)

// App holds every wired component of the engine.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	// repositories
	states    repository.StateRepository
	scenarios repository.ScenarioRepository
	bots      repository.BotRepository
	media     repository.MediaRepository

	// domain services
	processor *scenario.Processor
	validator *service.Validator
	manager   *service.DialogManager
	monitor   *service.WebhookMonitor
	loader    *service.ScenarioLoader

	// infrastructure
	bus       *eventbus.InMemoryBus
	sideStore *sidestore.RedisStore
	provider  *adapters.Provider

	// intake
	server *httpserver.Server
	queue  chan httpserver.WebhookJob

	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// NewApp wires the full engine from configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("init repositories: %w", err)
	}
	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}
	app.initDomainServices()
	app.initInterfaces()

	return app, nil
}

func (app *App) initRepositories() error {
	db, err := persistence.Open(app.config.Database, app.logger)
	if err != nil {
		return err
	}
	app.db = db

	app.states = persistence.NewCachedStateRepository(
		persistence.NewGormStateRepository(db),
		app.config.Cache.StateSize,
		app.config.Cache.StateTTL,
		app.logger,
	)
	app.scenarios = persistence.NewGormScenarioRepository(db)
	app.bots = persistence.NewGormBotRepository(db)
	app.media = persistence.NewGormMediaRepository(db)
	return nil
}

func (app *App) initInfrastructure() error {
	app.bus = eventbus.NewInMemoryBus(app.logger, 256)
	app.bus.Subscribe("*", func(_ context.Context, event eventbus.Event) {
		p, ok := event.Payload().(eventbus.DialogPayload)
		if !ok {
			return
		}
		app.logger.Info("Dialog event",
			zap.String("type", event.Type()),
			zap.String("bot_id", p.BotID),
			zap.String("chat_id", p.ChatID),
			zap.String("step_id", p.StepID),
			zap.String("detail", p.Detail),
		)
	})
	app.provider = adapters.NewProvider(app.bots, app.logger)

	if addr := app.config.Redis.Addr; addr != "" {
		store, err := sidestore.New(context.Background(), sidestore.Config{
			Addr:     addr,
			Password: app.config.Redis.Password,
			DB:       app.config.Redis.DB,
		}, app.logger)
		if err != nil {
			// Degraded mode: the validator falls back to its local maps.
			app.logger.Warn("Redis unavailable, validator runs on local fallback", zap.Error(err))
		} else {
			app.sideStore = store
		}
	}

	return nil
}

func (app *App) initDomainServices() {
	registry := scenario.NewActionRegistry(app.logger)
	app.processor = scenario.NewProcessor(registry, app.logger)

	var store service.SideStore
	if app.sideStore != nil {
		store = app.sideStore
	}
	app.validator = service.NewValidator(store, service.ValidatorConfig{
		DuplicateWindow:  app.config.Dedupe.Window,
		RateTokens:       app.config.RateLimit.Tokens,
		RateRefillPerSec: app.config.RateLimit.RefillPerSec,
	}, app.logger)

	mediaManager := service.NewMediaManager(app.media, app.config.Dialog.MaxSendRetries, app.logger)
	locks := service.NewConversationLocks(256, app.config.Dialog.LockTimeout)
	seen := service.NewSeenSet(app.config.Dedupe.SeenSize, app.config.Dedupe.SeenTTL)

	app.manager = service.NewDialogManager(
		app.states,
		app.scenarios,
		app.bots,
		app.processor,
		app.validator,
		mediaManager,
		locks,
		seen,
		app.provider,
		app.bus,
		service.DialogManagerConfig{
			EventTimeout:       app.config.Dialog.EventTimeout,
			AutoTransitionMax:  app.config.Dialog.AutoTransitionMax,
			MaxSendRetries:     app.config.Dialog.MaxSendRetries,
			MaxConflictRetries: app.config.Dialog.MaxConflictRetries,
			HistoryBuffer:      app.config.Dialog.HistoryBufferCapacity,
		},
		app.logger,
	)

	app.monitor = service.NewWebhookMonitor(app.bots, app.provider, app.config.Webhook.CheckInterval, app.logger)

	if dir := app.config.Scenarios.Dir; dir != "" {
		app.loader = service.NewScenarioLoader(app.scenarios, app.processor, dir, app.logger)
	}
}

func (app *App) initInterfaces() {
	app.queue = make(chan httpserver.WebhookJob, app.config.Gateway.QueueSize)
	app.server = httpserver.NewServer(app.config.Gateway.Mode, app.bots, app.enqueue, app.logger)
}

// enqueue hands a webhook job to the worker pool without blocking the
// intake handler.
func (app *App) enqueue(job httpserver.WebhookJob) bool {
	select {
	case app.queue <- job:
		return true
	default:
		app.bus.Publish(context.Background(), eventbus.NewEvent(
			eventbus.EventTypeEventDropped,
			eventbus.DialogPayload{BotID: job.BotID, Platform: job.Platform, Detail: "queue full"},
		))
		return false
	}
}

// Start launches workers, background loops and the HTTP listener.
func (app *App) Start(ctx context.Context) error {
	ctx, app.cancel = context.WithCancel(ctx)

	if app.loader != nil {
		if err := app.loader.LoadDir(ctx); err != nil {
			app.logger.Warn("Initial scenario load failed", zap.Error(err))
		}
		if app.config.Scenarios.Watch {
			if err := app.loader.Watch(ctx); err != nil {
				app.logger.Warn("Scenario watcher unavailable", zap.Error(err))
			}
		}
	}

	workers := app.config.Gateway.Workers
	if workers <= 0 {
		workers = 16
	}
	for i := 0; i < workers; i++ {
		app.workers.Add(1)
		safego.Go(app.logger, fmt.Sprintf("event-worker-%d", i), func() {
			defer app.workers.Done()
			app.workerLoop(ctx)
		})
	}

	app.ensureWebhooks(ctx)
	app.monitor.Start(ctx)

	addr := fmt.Sprintf("%s:%d", app.config.Gateway.Host, app.config.Gateway.Port)
	errCh := make(chan error, 1)
	safego.Go(app.logger, "http-server", func() {
		errCh <- app.server.Run(addr)
	})

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (app *App) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-app.queue:
			if !ok {
				return
			}
			if err := app.manager.HandleEvent(ctx, job.BotID, job.Platform, job.Raw); err != nil {
				app.logger.Warn("Event processing failed",
					zap.String("bot_id", job.BotID),
					zap.String("platform", job.Platform),
					zap.Error(err),
				)
			}
		}
	}
}

// Stop drains workers and closes shared resources.
func (app *App) Stop(_ context.Context) error {
	if app.cancel != nil {
		app.cancel()
	}
	app.workers.Wait()
	app.manager.Close()
	app.bus.Close()
	if app.sideStore != nil {
		if err := app.sideStore.Close(); err != nil {
			app.logger.Warn("Redis close failed", zap.Error(err))
		}
	}
	app.logger.Info("Application stopped")
	return nil
}

// Processor exposes the scenario interpreter for the CLI validate
// command.
func (app *App) Processor() *scenario.Processor {
	return app.processor
}
