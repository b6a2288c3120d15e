package commands

import (
	"context"
	"database/sql"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/guchang/superinbox-sub005/adapter"
	"github.com/guchang/superinbox-sub005/adapter/mcptool"
	"github.com/guchang/superinbox-sub005/adapter/rest"
	"github.com/guchang/superinbox-sub005/config"
	"github.com/guchang/superinbox-sub005/db"
	"github.com/guchang/superinbox-sub005/dispatch"
	"github.com/guchang/superinbox-sub005/item"
	"github.com/guchang/superinbox-sub005/logger"
	"github.com/guchang/superinbox-sub005/routing"
)

// defaultUserID stands in until multi-user auth lands.
const defaultUserID = "usr_local"

const adapterInitTimeout = 30 * time.Second

// App bundles the wired collaborators a command needs.
type App struct {
	Config       *config.Config
	DB           *sql.DB
	Registry     *adapter.Registry
	Orchestrator *dispatch.Orchestrator
	Items        *item.Store
	Rules        *routing.Store
	Results      *dispatch.ResultStore
	Configs      *adapter.ConfigStore
	Log          *zap.SugaredLogger
}

// LoadConfig honors the --config flag, falling back to the search chain.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// BuildApp opens the database, builds the adapter registry from the
// configured destinations, and wires the orchestrator.
func BuildApp(cmd *cobra.Command) (*App, error) {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := logger.Logger

	database, err := db.OpenWithMigrations(cfg.Database.Path, log)
	if err != nil {
		return nil, err
	}

	// The config file seeds the adapter_configs table; stored rows take
	// precedence afterwards, so destinations edited in the database keep
	// their settings across restarts.
	configs := adapter.NewConfigStore(database)
	fileConfigs := make(map[string]*adapter.Config, len(cfg.Adapters))
	for adapterType, ac := range cfg.Adapters {
		fileConfigs[adapterType] = ac.ToAdapterConfig(defaultUserID, adapterType)
	}
	destinations, err := configs.LoadMerged(defaultUserID, fileConfigs)
	if err != nil {
		database.Close()
		return nil, err
	}

	registry := buildRegistry(destinations, log)

	items := item.NewStore(database)
	rules := routing.NewStore(database)
	results := dispatch.NewResultStore(database)
	orchestrator := dispatch.NewOrchestrator(items, rules, results, registry, log)

	return &App{
		Config:       cfg,
		DB:           database,
		Registry:     registry,
		Orchestrator: orchestrator,
		Items:        items,
		Rules:        rules,
		Results:      results,
		Configs:      configs,
		Log:          log,
	}, nil
}

// Close tears down adapters (killing any subprocess sessions) and the
// database.
func (a *App) Close() {
	if err := a.Registry.Close(); err != nil {
		a.Log.Warnw("Adapter teardown error", "error", err)
	}
	if err := a.DB.Close(); err != nil {
		a.Log.Warnw("Database close error", "error", err)
	}
}

// buildRegistry initializes one adapter per enabled destination. A
// destination that fails to initialize is skipped, not fatal: dispatch
// to it yields adapter-not-found results while the rest keep working.
func buildRegistry(destinations map[string]*adapter.Config, log *zap.SugaredLogger) *adapter.Registry {
	registry := adapter.NewRegistry()

	for adapterType, acfg := range destinations {
		if !acfg.Enabled {
			continue
		}

		var a adapter.Adapter
		if acfg.IsProtocol() {
			a = mcptool.New(adapterType, log)
		} else {
			a = rest.New(adapterType, log)
		}

		ctx, cancel := context.WithTimeout(context.Background(), adapterInitTimeout)
		err := a.Initialize(ctx, acfg)
		cancel()
		if err != nil {
			log.Errorw("Adapter initialization failed, skipping destination",
				"adapter", adapterType,
				"error", err,
			)
			continue
		}

		registry.RegisterWithConditions(a, acfg.Conditions)
		log.Infow("Adapter ready", "adapter", adapterType)
	}

	return registry
}
