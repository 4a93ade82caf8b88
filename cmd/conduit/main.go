// Command conduit runs the chat routing and streaming service.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conduit-ai/conduit/internal/catalog"
	"github.com/conduit-ai/conduit/internal/chat"
	"github.com/conduit-ai/conduit/internal/config"
	"github.com/conduit-ai/conduit/internal/data"
	"github.com/conduit-ai/conduit/internal/llm"
	"github.com/conduit-ai/conduit/internal/logging"
	"github.com/conduit-ai/conduit/internal/routing"
	"github.com/conduit-ai/conduit/internal/server"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "conduit",
		Short:        "Model routing and streaming gateway for chat workloads",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(serveCmd(), modelsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Catalog.Path != "" {
		return catalog.LoadFile(cfg.Catalog.Path)
	}
	return catalog.Default(), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			log, err := logging.Setup(logging.Config{
				Level:    cfg.Logging.Level,
				FilePath: cfg.Logging.FilePath,
				Console:  true,
			})
			if err != nil {
				return err
			}

			cat, err := loadCatalog(cfg)
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}

			store, err := data.NewDB(cfg.Persistence.DataDir)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			oracle := routing.NewOracle(cfg, logging.Component(log, "oracle"))
			selector := routing.NewSelector(cat, oracle, logging.Component(log, "selector"))

			registry := llm.NewRegistry()
			registry.Register(llm.NewOllamaProvider(&llm.ProviderConfig{
				Endpoint: cfg.Endpoint("ollama"),
			}))
			registry.Register(llm.NewOpenAIProvider(&llm.ProviderConfig{
				Endpoint: cfg.Endpoint("openai"),
				APIKey:   func() string { return cfg.Credential("openai") },
			}))
			registry.Register(llm.NewAnthropicProvider(&llm.ProviderConfig{
				Endpoint: cfg.Endpoint("anthropic"),
				APIKey:   func() string { return cfg.Credential("anthropic") },
			}))

			manager := chat.NewManager(selector, registry, store,
				cfg.Persistence.Debounce, logging.Component(log, "chat"))

			srv := server.New(cat, oracle, manager, store, logging.Component(log, "http"))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = srv.Run(ctx, cfg.Server.Addr, cfg.Server.ReadHeaderTimeout, cfg.Server.ShutdownTimeout)
			if err != nil {
				return err
			}
			log.Info().Msg("shutdown complete")
			return nil
		},
	}
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the configured model catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cat, err := loadCatalog(cfg)
			if err != nil {
				return err
			}

			for _, m := range cat.ListModels() {
				caps := ""
				for i, c := range m.Capabilities {
					if i > 0 {
						caps += ","
					}
					caps += string(c)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-28s %-10s %-11s %8d  %s\n",
					m.ID, m.Provider, m.Tier, m.MaxTokens, caps)
			}
			return nil
		},
	}
}
