package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/steveyegge/messaged/internal/adapter"
	"github.com/steveyegge/messaged/internal/config"
	"github.com/steveyegge/messaged/internal/eventbus"
	"github.com/steveyegge/messaged/internal/healthmonitor"
	"github.com/steveyegge/messaged/internal/normalizer"
	"github.com/steveyegge/messaged/internal/notification"
	"github.com/steveyegge/messaged/internal/observability"
	"github.com/steveyegge/messaged/internal/orchestrator"
	"github.com/steveyegge/messaged/internal/pathresolver"
	"github.com/steveyegge/messaged/internal/platformadapters/discord"
	"github.com/steveyegge/messaged/internal/platformadapters/email"
	"github.com/steveyegge/messaged/internal/platformadapters/signal"
	"github.com/steveyegge/messaged/internal/platformadapters/telegram"
	"github.com/steveyegge/messaged/internal/platformadapters/whatsapp"
	"github.com/steveyegge/messaged/internal/platformmanager"
	"github.com/steveyegge/messaged/internal/statestore"
	"github.com/steveyegge/messaged/internal/syncstate"
	"github.com/steveyegge/messaged/internal/threading"
)

// built bundles everything the daemon entrypoint and the IPC-backed CLI
// subcommands need, so start/stop/status/etc. share one construction path.
type built struct {
	paths  *pathresolver.Paths
	cfg    *config.Config
	store  *statestore.Store
	bus    *eventbus.Bus
	orch   *orchestrator.Orchestrator
	notify *notification.Dispatcher
	obs    *observability.Provider
	watch  *config.Watcher
}

func resolvePaths() (*pathresolver.Paths, error) {
	if rootDir != "" {
		return pathresolver.ResolveFrom(rootDir)
	}
	return pathresolver.Resolve()
}

// buildDaemon constructs every subsystem fully wired but does not start
// anything.
func buildDaemon() (*built, error) {
	paths, err := resolvePaths()
	if err != nil {
		return nil, fmt.Errorf("resolving paths: %w", err)
	}

	cfg, err := config.LoadWithEnv(paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(cfg)
	if cfg.DBPath == "" {
		cfg.DBPath = paths.DBPath
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = paths.SocketPath
	}
	if cfg.PIDFile == "" {
		cfg.PIDFile = paths.PIDFile
	}
	if cfg.LogFile == "" {
		cfg.LogFile = paths.LogFile
	}

	if err := paths.EnsureDirs(config.DefaultPlatformPriority...); err != nil {
		return nil, fmt.Errorf("creating directories: %w", err)
	}

	store, err := statestore.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	logger := log.New(os.Stderr, "messaged: ", log.LstdFlags)

	obs, err := observability.New(observability.Config{
		TracingEnabled: cfg.TracingEnabled,
		MetricsEnabled: cfg.MetricsEnabled,
		ServiceName:    "messaged",
	})
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}

	bus := eventbus.New()
	syncMgr := syncstate.New(store)
	threadEngine := threading.New(store)
	norm := normalizer.New(store, threadEngine)

	notify, err := notification.NewDispatcher(cfg.LogFile,
		notification.WithChannels(cfg.NotifyChannels...),
		notification.WithContacts(cfg.Contacts),
	)
	if err != nil {
		return nil, fmt.Errorf("constructing notification dispatcher: %w", err)
	}

	// Hot-reload notification routing when messages.yaml changes; paths and
	// adapter wiring stay fixed until restart. Watching is skipped (not an
	// error) when no config file exists yet.
	var watch *config.Watcher
	if _, statErr := os.Stat(paths.ConfigPath); statErr == nil {
		watch, err = config.WatchFile(paths.ConfigPath, func(next *config.Config) {
			logger.Printf("config reloaded from %s", paths.ConfigPath)
			notify.UpdateRouting(next.NotifyChannels, next.Contacts)
		}, logger)
		if err != nil {
			logger.Printf("config watch unavailable for %s: %v", paths.ConfigPath, err)
			watch = nil
		}
	}

	// onMessage forwards to the orchestrator once it exists; the platform
	// manager is constructed before the orchestrator that consumes its
	// messages, so the handoff goes through this indirection.
	var orch *orchestrator.Orchestrator
	onMessage := func(platform string, payload adapter.Payload) {
		if orch != nil {
			orch.OnPlatformMessage(platform, payload)
		}
	}

	platforms := platformmanager.New(bus, store, onMessage, platformmanager.Config{
		Priority:          cfg.PlatformPriority,
		BackoffScheduleMs: cfg.BackoffScheduleMs,
		MaxAttempts:       cfg.MaxAttempts,
	})

	health := healthmonitor.New(bus, store, healthmonitor.Config{
		CheckInterval:            time.Duration(cfg.CheckIntervalMs) * time.Millisecond,
		StaleThreshold:           time.Duration(cfg.StaleThresholdMs) * time.Millisecond,
		ErrorWindow:              time.Duration(cfg.ErrorWindowMs) * time.Millisecond,
		MaxErrorsBeforeUnhealthy: cfg.MaxErrorsBeforeUnhealthy,
	})

	registerAdapters(platforms, health, paths, cfg)

	orch = orchestrator.New(orchestrator.Config{
		Store:      store,
		Bus:        bus,
		Platforms:  platforms,
		Health:     health,
		Notify:     notify,
		Normalizer: norm,
		Sync:       syncMgr,
		Logger:     logger,
	})

	return &built{
		paths:  paths,
		cfg:    cfg,
		store:  store,
		bus:    bus,
		orch:   orch,
		notify: notify,
		obs:    obs,
		watch:  watch,
	}, nil
}

// registerAdapters registers one concrete adapter per enabled platform with
// both the platform manager (for lifecycle/events) and the health monitor
// (for connection-state reads).
func registerAdapters(platforms *platformmanager.Manager, health *healthmonitor.Monitor, paths *pathresolver.Paths, cfg *config.Config) {
	if cfg.IsPlatformEnabled("signal") {
		a := signal.New(signal.Config{AuthDir: paths.PlatformAuthDir("signal")})
		platforms.Register("signal", a)
		health.Register("signal", a)
	}
	if cfg.IsPlatformEnabled("whatsapp") {
		a := whatsapp.New(whatsapp.Config{AuthDir: paths.PlatformAuthDir("whatsapp")})
		platforms.Register("whatsapp", a)
		health.Register("whatsapp", a)
	}
	if cfg.IsPlatformEnabled("discord") {
		a := discord.New(discord.Config{AuthDir: paths.PlatformAuthDir("discord")})
		platforms.Register("discord", a)
		health.Register("discord", a)
	}
	if cfg.IsPlatformEnabled("telegram") {
		a := telegram.New(telegram.Config{})
		platforms.Register("telegram", a)
		health.Register("telegram", a)
	}
	if cfg.IsPlatformEnabled("gmail") {
		a := email.New(email.Config{
			Host:     os.Getenv("EMAIL_IMAP_HOST"),
			Username: os.Getenv("EMAIL_IMAP_USER"),
			AuthDir:  paths.PlatformAuthDir("gmail"),
		})
		platforms.Register("gmail", a)
		health.Register("gmail", a)
	}
}
