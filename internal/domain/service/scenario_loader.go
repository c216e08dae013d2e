package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/domain/repository"
	"github.com/dialogforge/dialogforge/internal/domain/scenario"
	"github.com/dialogforge/dialogforge/pkg/safego"
)

// ScenarioLoader imports scenario JSON files from a local directory and
// keeps them in sync while the process runs. The file name (minus .json)
// is the owning bot id; every accepted file becomes a new version and is
// activated atomically.
//
// A file that fails validation is rejected whole; the bot keeps running
// its previous version.
type ScenarioLoader struct {
	scenarios repository.ScenarioRepository
	processor *scenario.Processor
	dir       string
	logger    *zap.Logger
}

// NewScenarioLoader creates a loader for the given directory.
func NewScenarioLoader(scenarios repository.ScenarioRepository, processor *scenario.Processor, dir string, logger *zap.Logger) *ScenarioLoader {
	return &ScenarioLoader{
		scenarios: scenarios,
		processor: processor,
		dir:       dir,
		logger:    logger.With(zap.String("component", "scenario-loader")),
	}
}

// LoadDir imports every .json file in the directory once.
func (l *ScenarioLoader) LoadDir(ctx context.Context) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read scenario dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := l.LoadFile(ctx, filepath.Join(l.dir, e.Name())); err != nil {
			l.logger.Error("Scenario file rejected",
				zap.String("file", e.Name()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// LoadFile imports one scenario file: parse, validate the graph, save as
// the bot's next version and activate it.
func (l *ScenarioLoader) LoadFile(ctx context.Context, path string) error {
	botID := strings.TrimSuffix(filepath.Base(path), ".json")
	if botID == "" {
		return fmt.Errorf("scenario file %q has no bot id", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read scenario file: %w", err)
	}

	graph, err := entity.ParseGraph(data)
	if err != nil {
		return err
	}
	if err := l.processor.ValidateGraph(graph); err != nil {
		return fmt.Errorf("invalid scenario graph: %w", err)
	}

	version := 1
	if prev, err := l.scenarios.GetActive(ctx, botID); err == nil {
		version = prev.Version + 1
	}

	sc := entity.NewScenario(botID, version, graph)
	if err := l.scenarios.Save(ctx, sc); err != nil {
		return fmt.Errorf("save scenario: %w", err)
	}
	if err := l.scenarios.Activate(ctx, botID, sc.ID); err != nil {
		return fmt.Errorf("activate scenario: %w", err)
	}

	l.logger.Info("Scenario activated",
		zap.String("bot_id", botID),
		zap.String("scenario_id", sc.ID),
		zap.Int("version", version),
	)
	return nil
}

// Watch reloads files as they change until ctx is cancelled.
func (l *ScenarioLoader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch scenario dir: %w", err)
	}

	safego.Go(l.logger, "scenario-watcher", func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if !strings.HasSuffix(event.Name, ".json") {
					continue
				}
				// Editors fire several events per save; let the write settle.
				time.Sleep(100 * time.Millisecond)
				if err := l.LoadFile(ctx, event.Name); err != nil {
					l.logger.Error("Scenario reload rejected",
						zap.String("file", event.Name),
						zap.Error(err),
					)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("Scenario watcher error", zap.Error(err))
			}
		}
	})

	return nil
}
