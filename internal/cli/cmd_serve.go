package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/amanthanvi/wardkeeper/internal/config"
	"github.com/amanthanvi/wardkeeper/internal/httpapi"
	"github.com/amanthanvi/wardkeeper/internal/jobs"
	"github.com/amanthanvi/wardkeeper/internal/metrics"
	"github.com/spf13/cobra"
)

const serveActor = "system:serve"

func newServeCommand(deps commandDeps) *cobra.Command {
	var (
		listen string
		noJobs bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the no-show sweeper",
		Example: "  wardkeeper serve\n" +
			"  wardkeeper serve --listen 0.0.0.0:8080 --no-jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("serve does not accept positional arguments")
			}
			overrides := config.FlagOverrides{}
			if value := strings.TrimSpace(listen); value != "" {
				overrides.Listen = &value
			}
			return mapCommandError(runServe(cmd.Context(), deps, overrides, !noJobs))
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config)")
	cmd.Flags().BoolVar(&noJobs, "no-jobs", false, "Do not start the no-show sweeper")
	return cmd
}

func runServe(ctx context.Context, deps commandDeps, overrides config.FlagOverrides, jobsAllowed bool) (err error) {
	cfg, err := loadConfig(deps.globals, overrides)
	if err != nil {
		return err
	}
	be, closeFn, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer func() {
		if closeErr := closeFn(); err == nil && closeErr != nil {
			err = fmt.Errorf("serve: %w", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = audit.WithActor(ctx, serveActor)

	logger := be.logger
	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("serve: listen %s: %w", cfg.Server.Listen, err)
	}
	addr := ln.Addr().String()

	if jobsAllowed && cfg.Jobs.Enabled {
		sweeper, err := jobs.NewSweeper(be.services.Appointments, jobs.Options{
			Interval: cfg.Jobs.SweepInterval,
			Grace:    cfg.Jobs.NoShowGrace,
			Logger:   logger,
			Clock:    be.clock,
		})
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("serve: %w", err)
		}
		if err := sweeper.Start(ctx); err != nil {
			_ = ln.Close()
			return fmt.Errorf("serve: %w", err)
		}
		defer sweeper.Stop()
	}

	recordLifecycle(ctx, be, logger, audit.ActionSystemServeStart, addr)
	defer recordLifecycle(context.WithoutCancel(ctx), be, logger, audit.ActionSystemServeStop, addr)

	router := httpapi.NewRouter(httpapi.Options{
		Services:  be.services,
		Audit:     be.audit,
		Ready:     be.store.Ping,
		Logger:    logger,
		Clock:     be.clock,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
	})
	server := httpapi.NewServer(router, httpapi.ServerOptions{
		Listen:            cfg.Server.Listen,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Logger:            logger,
	})

	if !deps.globals.JSON && !deps.globals.Quiet {
		if _, err := fmt.Fprintf(deps.out, "serving on http://%s\n", addr); err != nil {
			_ = ln.Close()
			return err
		}
	}
	if deps.globals.JSON {
		if err := printJSON(deps.out, map[string]any{"listening": addr, "database_path": cfg.Database.Path}); err != nil {
			_ = ln.Close()
			return err
		}
	}
	return server.Serve(ctx, ln)
}

type serveDetails struct {
	Listen string `json:"listen"`
}

func recordLifecycle(ctx context.Context, be *backend, logger *slog.Logger, action, addr string) {
	err := be.audit.Record(ctx, audit.Event{
		Action:     action,
		TargetType: "system",
		TargetID:   "serve",
		Details:    serveDetails{Listen: addr},
	})
	if err != nil {
		metrics.AuditWriteFailures.Inc()
		logger.WarnContext(ctx, "audit write failed", slog.String("action", action), slog.String("error", err.Error()))
	}
}
