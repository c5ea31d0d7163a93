package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/magi-sh/magi/internal/api"
	"github.com/magi-sh/magi/internal/config"
	"github.com/magi-sh/magi/internal/core"
	"github.com/magi-sh/magi/internal/deliberation"
	"github.com/magi-sh/magi/internal/events"
	"github.com/magi-sh/magi/internal/promptctx"
	"github.com/magi-sh/magi/internal/providers"
	"github.com/magi-sh/magi/internal/service"
	"github.com/magi-sh/magi/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deliberation HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	if err := st.UpdateAgentModels(cmd.Context(), map[string]string{
		core.SlugCasper:    cfg.Agents.Casper.Model,
		core.SlugBalthasar: cfg.Agents.Balthasar.Model,
		core.SlugMelchior:  cfg.Agents.Melchior.Model,
	}); err != nil {
		return fmt.Errorf("applying agent model overrides: %w", err)
	}

	relay := providers.NewRelay(providers.WithRelayLimits(
		time.Duration(cfg.Relay.TimeoutSeconds)*time.Second,
		cfg.Relay.MaxBodyBytes,
		cfg.Relay.MaxCalls,
	))
	client := providers.NewClient(relay, logger)

	fetcher := promptctx.NewLiveSiteFetcher()
	assembler := promptctx.New(st, fetcher.Fetch, logger,
		promptctx.WithBudget(cfg.Context.Budget),
		promptctx.WithFloors(cfg.Context.ArtifactFloor, cfg.Context.LiveFloor),
		promptctx.WithMaxChunks(cfg.Context.MaxChunks),
	)

	bus := events.New(256)
	defer bus.Close()

	engine := deliberation.NewEngine(st, client, assembler, logger, deliberation.WithBus(bus))
	sessions := service.NewSessions(st, engine, logger)
	server := api.NewServer(sessions, bus,
		api.WithLogger(logger),
		api.WithCORS(cfg.Server.EnableCORS),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Watch the config file so edits are noticed without a restart. Only
	// the log announcement happens live; a restart picks up the values.
	if path := loader.ConfigFileUsed(); path != "" {
		watcher := config.NewWatcher(loader, path,
			func(_ *config.Config) {
				logger.Info("config file changed; restart to apply", "path", path)
			},
			func(err error) {
				logger.Warn("config watcher error", "error", err)
			},
		)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return server.ListenAndServe(ctx, addr)
}
