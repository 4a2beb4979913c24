// Command playground is an interactive Lua playground with a REPL, a JSON API,
// MCP tools and shareable links.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	obs "github.com/aixgo-dev/playground/internal/observability"
	"github.com/aixgo-dev/playground/pkg/config"
	"github.com/aixgo-dev/playground/pkg/interp"
	"github.com/aixgo-dev/playground/pkg/interp/luarun"
	"github.com/aixgo-dev/playground/pkg/location"
	"github.com/aixgo-dev/playground/pkg/observability"
	"github.com/aixgo-dev/playground/pkg/playground"
)

// Version information (set via ldflags)
var Version = "dev"

type globalFlags struct {
	configFile string
	open       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "playground",
		Short:         "Interactive Lua playground with shareable links",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flags.configFile, "config", os.Getenv("PLAYGROUND_CONFIG"), "configuration file")
	root.PersistentFlags().StringVar(&flags.open, "open", "", "share token or URL to start from")

	root.AddCommand(
		newREPLCmd(flags),
		newServeCmd(flags),
		newMCPCmd(flags),
		newEncodeCmd(flags),
		newDecodeCmd(),
		newSchemaCmd(),
		newVersionCmd(),
	)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLocation(cfg *config.Config, open string) (location.Location, error) {
	if cfg.Location.Kind == config.LocationFile {
		return location.NewFile(cfg.Location.Path)
	}
	return location.NewMemory(open), nil
}

func newFactory(cfg *config.Config) interp.Factory {
	return luarun.NewFactory(luarun.Options{
		AllowUnsafeLibs: cfg.Interpreter.AllowUnsafeLibs,
		Timeout:         cfg.Interpreter.Timeout,
		MaxTimeout:      cfg.Interpreter.MaxTimeout,
		MaxOutput:       cfg.Interpreter.MaxOutput,
		Dir:             cfg.Interpreter.Dir,
	})
}

// openPlayground builds the playground from cfg and performs the startup
// run. A file location is loaded from disk and open, if set, replaces it.
func openPlayground(ctx context.Context, cfg *config.Config, open string) (*playground.Playground, location.Location, error) {
	loc, err := newLocation(cfg, open)
	if err != nil {
		return nil, nil, fmt.Errorf("shareable location: %w", err)
	}

	pg := playground.New(newFactory(cfg), loc,
		playground.WithQuietInterval(cfg.Persist.QuietInterval),
		playground.WithDir(cfg.Interpreter.Dir),
		playground.WithBaseURL(cfg.Location.BaseURL),
	)
	if _, err := pg.Open(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	if open != "" && cfg.Location.Kind == config.LocationFile {
		if _, err := pg.Load(ctx, open); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("open %q: %w", open, err)
		}
	}
	return pg, loc, nil
}

// setupObservability registers metrics and starts tracing. The returned
// function flushes spans.
func setupObservability(cfg *config.Config) func() {
	if cfg.Observability.Metrics {
		observability.InitMetrics()
	}
	if err := obs.InitFromEnv(cfg.Observability.ServiceName); err != nil {
		log.Printf("WARNING: tracing disabled: %v", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(ctx); err != nil {
			log.Printf("WARNING: tracing shutdown: %v", err)
		}
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "playground %s\n", Version)
		},
	}
}
