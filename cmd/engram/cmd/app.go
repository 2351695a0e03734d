package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/engramhq/engram/internal/causal"
	"github.com/engramhq/engram/internal/checkpoint"
	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/embed"
	"github.com/engramhq/engram/internal/gate"
	"github.com/engramhq/engram/internal/index"
	"github.com/engramhq/engram/internal/learning"
	"github.com/engramhq/engram/internal/logging"
	"github.com/engramhq/engram/internal/mcp"
	"github.com/engramhq/engram/internal/search"
	"github.com/engramhq/engram/internal/store"
	"github.com/engramhq/engram/internal/wm"
)

// app is everything a command needs after bootstrap.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	provider embed.Provider
	engine   *search.Engine
	indexer  *index.Indexer
	server   *mcp.Server
	cleanup  func()
}

// bootstrap loads configuration, opens the store under the embedding
// profile's slug, and wires every component. The caller must Close.
func bootstrap(configPath string, logLevel string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logCfg := logging.DefaultConfig(cfg.DataDir)
	logCfg.Level = cfg.Log.Level
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	provider, err := embed.NewFromConfig(cfg, logger)
	if err != nil {
		logCleanup()
		return nil, err
	}
	profile := provider.Profile()

	st, err := store.Open(store.Options{
		Dir:         cfg.DataDir,
		ProfileSlug: profile.Slug(),
		Dim:         profile.Dim,
		Logger:      logger,
	})
	if err != nil {
		_ = provider.Close()
		logCleanup()
		return nil, err
	}

	indexer := index.New(st, provider, gate.New(st, gate.NewLexicalPredicate(), logger), index.Config{
		Roots:               absRoots(cfg.MemoryRoots),
		ConstitutionalRoots: absRoots(cfg.ConstitutionalRoots),
		Cooldown:            cfg.ScanCooldown(),
		Concurrency:         cfg.Index.BatchConcurrency,
	}, logger)
	engine := search.New(st, provider, search.Config{
		DecayTauDays: cfg.Retrieval.DecayTauDays,
	}, logger)
	checkpoints := checkpoint.New(st, logger)

	server, err := mcp.NewServer(mcp.Deps{
		Store:   st,
		Engine:  engine,
		Indexer: indexer,
		Working: wm.New(st, wm.Config{
			HotThreshold:  cfg.WorkingMemory.HotThreshold,
			WarmThreshold: cfg.WorkingMemory.WarmThreshold,
			CoActivation:  cfg.WorkingMemory.CoActivationBoost,
			SoftCap:       cfg.WorkingMemory.MaxEntries,
		}, logger),
		Learning:    learning.New(st),
		Causal:      causal.New(st),
		Checkpoints: checkpoints,
		Provider:    provider,
		Config:      cfg,
		Logger:      logger,
	})
	if err != nil {
		_ = st.Close()
		_ = provider.Close()
		logCleanup()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		provider: provider,
		engine:   engine,
		indexer:  indexer,
		server:   server,
		cleanup:  logCleanup,
	}, nil
}

// Close releases everything bootstrap opened, in reverse order.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", slog.String("error", err.Error()))
	}
	if err := a.provider.Close(); err != nil {
		a.logger.Warn("provider close failed", slog.String("error", err.Error()))
	}
	a.cleanup()
}

func absRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			r = abs
		}
		out = append(out, r)
	}
	return out
}

// printf writes user-facing output to stdout. Logs go to the log file; the
// terminal gets plain text.
func printf(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}
