package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/himanshu-sugha/StreamKAS/internal/app"
	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

const stopTimeout = 15 * time.Second

func runCmd() *cobra.Command {
	var starts []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until SIGINT/SIGTERM",
		Long: `run restores persisted streams and keeps them scheduled until a signal arrives.
Restored streams stay paused unless listed with --start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			a, err := newApp()
			if err != nil {
				return err
			}
			log := a.Logger()
			if err := a.Start(cmd.Context()); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}

			ctl := a.Control("cli")
			for _, id := range starts {
				if err := ctl.Start(cmd.Context(), id); err != nil {
					log.Warn("start failed", logx.String("stream", id), logx.Err(err))
				}
			}

			if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				log.Debug("sd_notify ready failed", logx.Err(err))
			} else if ok {
				log.Debug("sd_notify ready sent")
			}

			var reason app.StopReason
			select {
			case sig := <-sigCh:
				reason = app.StopSIGINT
				if sig == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				reason = app.StopFatalError
			}

			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			stopErr := a.Stop(ctx, reason)
			if err := a.Err(); err != nil {
				return err
			}
			return stopErr
		},
	}
	cmd.Flags().StringArrayVar(&starts, "start", nil, "stream id to start or resume (repeatable)")
	return cmd
}

func newApp(opts ...app.Option) (*app.App, error) {
	opts = append(opts, app.WithDemo(viper.GetBool("demo")))
	return app.NewApp(viper.GetString("config"), opts...)
}
