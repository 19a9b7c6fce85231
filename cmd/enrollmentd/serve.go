package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sanskrit-enrollment/internal/infra/api"
	pg "sanskrit-enrollment/internal/infra/db/postgres"
	"sanskrit-enrollment/internal/infra/db/migration"
)

func serveCmd(flags *rootFlags) *cobra.Command {
	var (
		migrate  bool
		noJobs   bool
		shutdown time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the subscription sweeper and the payment reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrate {
				if err := migration.Up(a.cfg.Database.URL); err != nil {
					return err
				}
				a.log.Info().Msg("schema up to date")
			}

			srv := api.NewServer(api.Options{
				Port:            a.cfg.HTTP.Port,
				ReadTimeout:     a.cfg.HTTP.ReadTimeout,
				WriteTimeout:    a.cfg.HTTP.WriteTimeout,
				RequestTimeout:  a.cfg.HTTP.RequestTimeout,
				VerifyPerMinute: a.cfg.HTTP.VerifyPerMinute,
			}, a.payments, a.webhooks, a.access, a.subs, a.auth, a.limiter, map[string]api.HealthCheck{
				"postgres": a.pool.Ping,
				"redis":    a.redis.Ping,
			}, a.log)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				a.log.Info().Msg("shutdown requested")
				sctx, cancel := context.WithTimeout(context.Background(), shutdown)
				defer cancel()
				return srv.Shutdown(sctx)
			})
			g.Go(func() error {
				pg.ReportPoolStats(gctx, a.pool, 15*time.Second, a.log)
				return nil
			})
			if !noJobs {
				g.Go(func() error { return ignoreCanceled(a.sweeper.Run(gctx)) })
				g.Go(func() error { return ignoreCanceled(a.reconciler.Run(gctx)) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply schema migrations before serving")
	cmd.Flags().BoolVar(&noJobs, "no-jobs", false, "serve HTTP only; run sweeper and reconciler elsewhere")
	cmd.Flags().DurationVar(&shutdown, "shutdown-timeout", 20*time.Second, "grace period for in-flight requests")
	return cmd
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
