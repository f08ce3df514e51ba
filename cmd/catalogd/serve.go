package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"geekcatalog/handlers"
	"geekcatalog/services/jobs"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog and admin API, running scheduled ingestion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts, nil)
		},
	}
	cmd.Flags().String("server.addr", "", "listen address")
	cmd.Flags().Bool("schedule.enabled", false, "run the daily ingestion schedule")
	return cmd
}

// serve runs until ctx is canceled. When ready is set it receives the bound
// listener address.
func serve(ctx context.Context, opts *rootOptions, ready chan<- string) error {
	s := opts.settings
	a, err := newApp(ctx, s, appOptions{})
	if err != nil {
		return err
	}
	if err := a.operator.Start(ctx); err != nil {
		_ = a.db.Close()
		return err
	}

	var sched *jobs.Scheduler
	if s.Schedule.Enabled {
		sched, err = jobs.NewScheduler(a.operator, a.schedule())
		if err != nil {
			_ = a.db.Close()
			return err
		}
		sched.Start()
	}

	srv := &http.Server{
		Handler: handlers.NewRouter(handlers.RouterOptions{
			Jobs:                   a.operator,
			Catalog:                a.catalog,
			AdminToken:             s.Server.AdminToken,
			AdminRequestsPerMinute: s.Server.AdminRequestsPerMinute,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", s.Server.Addr)
	if err != nil {
		_ = a.db.Close()
		return fmt.Errorf("listen %s: %w", s.Server.Addr, err)
	}
	a.log.Info("serving", "addr", ln.Addr().String(), "schedule", s.Schedule.Enabled)
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.log.Info("shutting down", "timeout", s.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		errs = append(errs, serveErr)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
		}
	}
	if err := a.shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
