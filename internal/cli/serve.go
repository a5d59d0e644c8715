package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sesmailer/internal/app"
	logx "sesmailer/pkg/logx"
	"sesmailer/pkg/systemd"
)

const stopTimeout = 10 * time.Second

func newServeCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the queue worker and the HTTP API",
		Long: `Run the scheduler that delivers queued jobs, the optional HTTP API
and the config file watcher until SIGINT or SIGTERM.

Under systemd (Type=notify) readiness and watchdog pings are reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			return serve(cmd.Context(), ro, sigCh)
		},
	}
}

func serve(ctx context.Context, ro *rootOptions, sigCh <-chan os.Signal) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, ro.configPath, ro.appOpts...)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Start(runCtx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}
	log := a.Logger()
	if _, err := systemd.Ready(); err != nil {
		log.Warn("systemd notify failed", logx.Err(err))
	}
	go func() {
		if err := systemd.Watchdog(runCtx); err != nil {
			log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	}()

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	case <-ctx.Done():
		reason = app.StopAppStop
	}
	fatal := a.Err()

	_, _ = systemd.Stopping()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError && fatal != nil {
		return fatal
	}
	return nil
}
