package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/playground/internal/httpapi"
	"github.com/aixgo-dev/playground/internal/mcptools"
	"github.com/aixgo-dev/playground/pkg/observability"
	"github.com/aixgo-dev/playground/pkg/security"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string
	var opsPort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and the ops endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags.configFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if opsPort != 0 {
				cfg.Server.OpsPort = opsPort
			}
			shutdown := setupObservability(cfg)
			defer shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Printf("[Playground] starting v%s", Version)
			pg, loc, err := openPlayground(ctx, cfg, flags.open)
			if err != nil {
				return err
			}
			defer pg.Close()

			checker := observability.NewHealthChecker(Version, pg, func(ctx context.Context) error {
				_, err := loc.Fragment(ctx)
				return err
			})

			var limiter *security.RateLimiter
			if cfg.RateLimit.Enabled {
				limiter = security.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
			}
			handler, err := httpapi.NewHandler(pg, httpapi.Options{
				MaxBodyBytes: cfg.Server.MaxBodyBytes,
				Limiter:      limiter,
			})
			if err != nil {
				return err
			}
			api := httpapi.NewServer(cfg.Server.Addr, handler, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
			ops := observability.NewServer(cfg.Server.OpsPort, checker)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := api.Start(); err != nil {
					return fmt.Errorf("API server error: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				log.Printf("[HTTP] ops endpoints listening on :%d", cfg.Server.OpsPort)
				if err := ops.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("ops server error: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Println("[Playground] shutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return errors.Join(api.Shutdown(shutdownCtx), ops.Shutdown(shutdownCtx))
			})

			err = g.Wait()
			log.Println("[Playground] stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "API listen address (overrides config)")
	cmd.Flags().IntVar(&opsPort, "ops-port", 0, "ops server port (overrides config)")
	return cmd
}

func newMCPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve playground tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Standard output carries the protocol.
			log.SetOutput(os.Stderr)

			cfg, err := loadConfig(flags.configFile)
			if err != nil {
				return err
			}
			shutdown := setupObservability(cfg)
			defer shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pg, _, err := openPlayground(ctx, cfg, flags.open)
			if err != nil {
				return err
			}
			defer pg.Close()

			srv := mcptools.NewServer(mcptools.Config{Name: "playground", Version: Version}, pg)
			log.Printf("[MCP] serving tools on stdio")
			return srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), log.New(os.Stderr, "[MCP] ", log.LstdFlags))
		},
	}
}
