package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/himanshu-sugha/StreamKAS/internal/app"
	"github.com/himanshu-sugha/StreamKAS/internal/stream"
)

func withApp(ctx context.Context, fn func(context.Context, *app.App) error, opts ...app.Option) error {
	a, err := newApp(opts...)
	if err != nil {
		return err
	}
	err = fn(ctx, a)
	sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return errors.Join(err, a.Stop(sctx, app.StopCommandDone))
}

func createCmd() *cobra.Command {
	var (
		to, kas, minutes, from string
		interval               int64
		start                  bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending stream",
		Long: `create validates and stores a new pending stream. With --start the stream is
started right away and this command stays in the foreground until it completes,
halts or a signal arrives (the stream is then left paused on disk).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := decimal.NewFromString(kas)
			if err != nil {
				return fmt.Errorf("--kas: %w", err)
			}
			dur, err := decimal.NewFromString(minutes)
			if err != nil {
				return fmt.Errorf("--minutes: %w", err)
			}
			req := stream.CreateConfig{
				Recipient:       to,
				TotalAmountKas:  total,
				DurationMinutes: dur,
				IntervalSeconds: interval,
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ctl := a.Control("cli")
				if !start {
					st, err := ctl.Create(ctx, req)
					if err != nil {
						return err
					}
					return printStream(st)
				}
				return createAndFollow(ctx, a, ctl, req)
			}, app.WithSender(from))
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient address")
	cmd.Flags().StringVar(&kas, "kas", "", "total amount in KAS")
	cmd.Flags().StringVar(&minutes, "minutes", "", "duration in minutes (fractions allowed)")
	cmd.Flags().Int64Var(&interval, "interval", 0, "seconds between ticks (default from engine.default_interval)")
	cmd.Flags().StringVar(&from, "from", "", "sender address recorded on the stream (default engine.sender)")
	cmd.Flags().BoolVar(&start, "start", false, "start now and follow until done")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("kas")
	_ = cmd.MarkFlagRequired("minutes")
	return cmd
}

func createAndFollow(ctx context.Context, a *app.App, ctl *app.Control, req stream.CreateConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := a.Start(ctx); err != nil {
		return err
	}

	st, err := ctl.Create(ctx, req)
	if err != nil {
		return err
	}
	if !viper.GetBool("json") {
		fmt.Printf("created %s: %s KAS in %d ticks of %s KAS every %ds\n",
			st.ID, kasString(st.TotalAmount), st.TickCount, kasString(st.FlowRate), st.IntervalSeconds)
	}

	done := make(chan stream.Stream, 1)
	unsub := a.Engine().OnUpdate(st.ID, func(u stream.Update) {
		s := u.Stream
		if slices.Contains(u.Fields, stream.FieldTxHistory) && !viper.GetBool("json") && len(s.TxHistory) > 0 {
			tx := s.TxHistory[len(s.TxHistory)-1]
			fmt.Printf("tick %d/%d  %s KAS  tx %s  (%s / %s KAS)\n",
				len(s.TxHistory), s.TickCount, kasString(tx.Amount), tx.TxID,
				kasString(s.AmountSent), kasString(s.TotalAmount))
		}
		if s.Status.Terminal() || s.Status == stream.StatusError {
			select {
			case done <- s:
			default:
			}
		}
	})
	defer unsub()

	if err := ctl.Start(ctx, st.ID); err != nil {
		return err
	}

	select {
	case final := <-done:
		if err := printStream(final); err != nil {
			return err
		}
		if final.Status == stream.StatusError {
			return fmt.Errorf("stream %s halted: %s", final.ID, final.ErrorMessage)
		}
		return nil
	case <-ctx.Done():
		// Stop leaves the stream active on disk; the next restore pauses it.
		fmt.Fprintln(os.Stderr, "interrupted; stream will be paused")
		return nil
	case <-a.Done():
		return a.Err()
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				streams := a.Engine().List()
				if viper.GetBool("json") {
					return printJSON(streams)
				}
				fmt.Print(streamsTable(streams))
				return nil
			})
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one stream and its transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Engine().Get(args[0])
				if err != nil {
					return err
				}
				return printStream(st)
			})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Totals across all streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st := a.Engine().Stats()
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Print(statsTable(st))
				return nil
			})
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a stream that is not running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Control("cli").Cancel(ctx, args[0]); err != nil {
					return err
				}
				st, err := a.Engine().Get(args[0])
				if err != nil {
					return err
				}
				return printStream(st)
			})
		},
	}
}

func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the newest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.RecentAudit(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				fmt.Print(auditTable(entries))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries")
	return cmd
}
