package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autosend/internal/app"
	"autosend/internal/schedule"
	"autosend/internal/storage"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	config   string
	dryRun   bool
	logLevel string
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	root := &cobra.Command{
		Use:   "autosend",
		Short: "Send chat messages at a precise time by driving the desktop client",
		Long: `autosend focuses the messaging client's window, types a message into the
chosen conversation ahead of time and presses send at the exact moment.

Examples:
  autosend once --to "Alice" --msg "Happy birthday!" --at "2026-10-16 00:00:00"
  autosend recurring --to "Team" --msg "Stand-up\nin 5" --unit weekly --days mon,wed --time 09:55
  autosend run --config autosend.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "", "config file (.json, .yaml)")
	root.PersistentFlags().BoolVar(&f.dryRun, "dry-run", false, "log keystrokes instead of sending them")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newRunCmd(&f),
		newOnceCmd(&f),
		newRecurringCmd(&f),
		newSendNowCmd(&f),
		newSelfTestCmd(&f),
		newHistoryCmd(&f),
		newConfigCmd(&f),
	)
	return root
}

// session is a started app with a console observer attached.
type session struct {
	app    *app.App
	detach func()
}

func startSession(ctx context.Context, f *rootFlags) (*session, error) {
	a, err := app.New(app.Options{ConfigPath: f.config, DryRun: f.dryRun, LogLevel: f.logLevel})
	if err != nil {
		return nil, err
	}
	detach := a.Status().Attach(newConsole(color.Output), 64)
	if err := a.Start(ctx); err != nil {
		detach()
		_ = a.Stop(context.Background())
		return nil, err
	}
	return &session{app: a, detach: detach}, nil
}

func (s *session) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.app.Stop(ctx)
	s.detach()
	return err
}

func newRunCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start and read commands from stdin (type \"help\")",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := startSession(cmd.Context(), f)
			if err != nil {
				return err
			}
			log := s.app.Logger()
			sdNotify(log, daemon.SdNotifyReady)
			defer sdNotify(log, daemon.SdNotifyStopping)

			sh := &shell{app: s.app, out: cmd.OutOrStdout()}
			err = sh.run(cmd.Context(), cmd.InOrStdin())
			if cerr := s.close(); err == nil {
				err = cerr
			}
			return err
		},
	}
}

func newOnceCmd(f *rootFlags) *cobra.Command {
	var to, msg, at string
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Send one message at a given time and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := startSession(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer s.close()

			sched := s.app.Scheduler()
			fireAt, err := parseAt(at, time.Now(), s.app.Location())
			if err != nil {
				return err
			}
			idle, stopWatch := waitIdle(s.app.Status())
			defer stopWatch()
			if err := sched.StartOnce(to, unescapeMessage(msg), fireAt); err != nil {
				return err
			}
			select {
			case <-idle:
				return nil
			case <-cmd.Context().Done():
				sched.Stop()
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "conversation to search for")
	cmd.Flags().StringVar(&msg, "msg", "", `message; \n starts a new line`)
	cmd.Flags().StringVar(&at, "at", "", `send time, "2006-01-02 15:04:05" or "15:04[:05]" today`)
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func newRecurringCmd(f *rootFlags) *cobra.Command {
	var to, msg, unit, days, at string
	cmd := &cobra.Command{
		Use:   "recurring",
		Short: "Send a message every selected weekday or day of month until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := schedule.ParseUnit(unit)
			if err != nil {
				return err
			}
			sel, err := schedule.ParseSelectors(u, days)
			if err != nil {
				return err
			}
			tod, err := schedule.ParseTimeOfDay(at)
			if err != nil {
				return err
			}
			s, err := startSession(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer s.close()
			sdNotify(s.app.Logger(), daemon.SdNotifyReady)
			defer sdNotify(s.app.Logger(), daemon.SdNotifyStopping)

			if err := s.app.Scheduler().StartRecurring(to, unescapeMessage(msg), sel, tod, u); err != nil {
				return err
			}
			select {
			case <-cmd.Context().Done():
			case <-s.app.Done():
			}
			s.app.Scheduler().Stop()
			return s.app.Err()
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "conversation to search for")
	cmd.Flags().StringVar(&msg, "msg", "", `message; \n starts a new line`)
	cmd.Flags().StringVar(&unit, "unit", "weekly", "weekly or monthly")
	cmd.Flags().StringVar(&days, "days", "", "weekdays (mon,wed or 0,2 with Monday=0) or days of month (1,15)")
	cmd.Flags().StringVar(&at, "time", "", "time of day, HH:MM[:SS]")
	_ = cmd.MarkFlagRequired("days")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func newSendNowCmd(f *rootFlags) *cobra.Command {
	var to, msg string
	cmd := &cobra.Command{
		Use:   "send-now",
		Short: "Prepare and send a message immediately",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := startSession(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer s.close()
			done, err := s.app.Scheduler().SendNow(to, unescapeMessage(msg))
			if err != nil {
				return err
			}
			select {
			case ok := <-done:
				if !ok {
					return errors.New("message was not sent")
				}
				return nil
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "conversation to search for")
	cmd.Flags().StringVar(&msg, "msg", "", `message; \n starts a new line`)
	return cmd
}

func newSelfTestCmd(f *rootFlags) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Open the search box and look up a conversation without sending",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := startSession(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer s.close()
			if err := s.app.Scheduler().SelfTest(cmd.Context(), to); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), green("search sequence sent; check that the conversation opened"))
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "conversation to search for")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newHistoryCmd(f *rootFlags) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent send outcomes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(app.Options{ConfigPath: f.config, DryRun: true, LogLevel: f.logLevel})
			if err != nil {
				return err
			}
			defer a.Stop(context.Background())
			recs, err := a.History(cmd.Context(), n)
			if errors.Is(err, storage.ErrDisabled) {
				return errors.New("history is disabled; set storage.driver in the config")
			}
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), recs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of records")
	return cmd
}

func newConfigCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(app.Options{ConfigPath: f.config, DryRun: f.dryRun, LogLevel: f.logLevel})
			if err != nil {
				return err
			}
			defer a.Stop(context.Background())
			cfg := *a.Config()
			if cfg.Notifier != nil && cfg.Notifier.Token != "" {
				n := *cfg.Notifier
				n.Token = "***"
				cfg.Notifier = &n
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

