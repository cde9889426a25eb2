package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pushalert/internal/app"
	"pushalert/internal/clock"
	"pushalert/internal/config"
	"pushalert/internal/push"
	"pushalert/internal/rules"
	logx "pushalert/pkg/logx"
)

func runCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon with the in-process minute trigger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, *cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background())
				return fmt.Errorf("start: %w", err)
			}

			select {
			case <-ctx.Done():
			case <-a.Done():
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			stopErr := a.Stop(stopCtx)
			if err := a.Err(); err != nil {
				return err
			}
			return stopErr
		},
	}
}

func tickCmd(cfgPath *string) *cobra.Command {
	var (
		at     string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one tick now and print its result",
		Long: "Run one tick and exit. Meant for an external minute trigger (cron, systemd timer)\n" +
			"when scheduler.enabled is false. Exits non-zero when the tick aborted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var opts []app.CoreOption
			if at != "" {
				instant, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				r, err := clock.NewResolver(cfg.Scheduler.Timezone)
				if err != nil {
					return err
				}
				opts = append(opts, app.WithClock(clock.At(instant, r.Location())))
			}
			if dryRun {
				opts = append(opts, app.WithChannel(push.NewLogChannel(log.With(logx.String("comp", "push")))))
			}

			core, err := app.NewCore(ctx, cfg, log, opts...)
			if err != nil {
				return err
			}
			defer core.Close()

			res, runErr := core.Runner.Run(ctx)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if err := res.RuleErrors(); err != nil {
				log.Warn("tick finished with rule errors", logx.Err(err))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate as of this RFC3339 instant instead of now")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log messages instead of sending them (claims are still recorded)")
	return cmd
}

func migrateCmd(cfgPath *string) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// NewCore migrates on open.
			return withCore(cmd, *cfgPath, func(ctx context.Context, core *app.Core, log logx.Logger) error {
				if !seed {
					log.Info("schema up to date")
					return nil
				}
				n, err := core.Store.SeedSystemRules(ctx)
				if err != nil {
					return err
				}
				log.Info("system rules seeded", logx.Int("added", n))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "insert the built-in system rules (disabled) if missing")
	return cmd
}

func rulesCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List rules and whether each is due right now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCore(cmd, *cfgPath, func(ctx context.Context, core *app.Core, _ logx.Logger) error {
				all, err := core.Store.ListRules(ctx)
				if err != nil {
					return err
				}
				return printRules(cmd, core, all)
			})
		},
	}
	cmd.AddCommand(rulesSetCmd(cfgPath))
	return cmd
}

func printRules(cmd *cobra.Command, core *app.Core, all []rules.Rule) error {
	out := cmd.OutOrStdout()
	now := core.Now()
	fmt.Fprintf(out, "now: %s %s (day %d)\n", now.LocalDate, now.MinuteOfDay, now.DayOfWeek)

	kinds := core.Registry.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	fmt.Fprintf(out, "kinds: %s\n\n", strings.Join(names, ", "))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tENABLED\tPUSH\tDAYS\tTIME\tLAST SENT\tSTATUS")
	for _, r := range all {
		last := "-"
		if r.LastSentDate != nil {
			last = *r.LastSentDate
		}
		status := "disabled"
		if r.Enabled {
			o, err := rules.Due(r, now)
			status = string(o)
			if err != nil {
				status = err.Error()
			}
		}
		if !core.Registry.Has(r.Kind()) {
			status = "no handler"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%v\t%s\t%s\t%s\n", r.ID, r.Kind(), r.Enabled, r.PushEnabled, r.Days, r.Time, last, status)
	}
	return tw.Flush()
}

func rulesSetCmd(cfgPath *string) *cobra.Command {
	var (
		r    rules.Rule
		days []int
	)
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Create or update a rule definition",
		Long: "Create or update a rule. The stored last sent date is kept, so editing a rule\n" +
			"that already fired today does not make it fire again.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r.ID = strings.TrimSpace(args[0])
			r.Days = days
			if err := r.Validate(); err != nil {
				return err
			}
			return withCore(cmd, *cfgPath, func(ctx context.Context, core *app.Core, log logx.Logger) error {
				if !core.Registry.Has(r.Kind()) {
					return fmt.Errorf("rule %q: no handler for kind %q (use --custom for reminders)", r.ID, r.Kind())
				}
				if err := core.Store.UpsertRule(ctx, r); err != nil {
					return err
				}
				log.Info("rule saved", logx.String("rule", r.ID), logx.String("kind", string(r.Kind())), logx.Bool("enabled", r.Enabled))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&r.Label, "label", "", "title shown after \"Alert: \"")
	f.StringVar(&r.Description, "description", "", "description; the message body of custom reminders")
	f.IntSliceVar(&days, "days", nil, "weekdays the rule fires on, 0=Sunday..6=Saturday")
	f.StringVar(&r.Time, "time", "09:00", "local fire time, HH:MM")
	f.BoolVar(&r.Enabled, "enabled", true, "enable the rule")
	f.BoolVar(&r.IsCustom, "custom", false, "custom reminder that always fires with its description")
	f.BoolVar(&r.PushEnabled, "push", true, "send push notifications when the rule fires")
	return cmd
}

func tokensCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage recipient push tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <token>...",
		Short: "Register recipient tokens (re-adding is a no-op)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, *cfgPath, func(ctx context.Context, core *app.Core, log logx.Logger) error {
				for _, tok := range args {
					if err := core.Store.AddToken(ctx, tok); err != nil {
						return err
					}
				}
				log.Info("tokens registered", logx.Int("count", len(args)))
				return nil
			})
		},
	})
	return cmd
}

// withCore runs fn against a migrated Core whose channel only logs.
func withCore(cmd *cobra.Command, cfgPath string, fn func(ctx context.Context, core *app.Core, log logx.Logger) error) error {
	cfg, log, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	core, err := app.NewCore(cmd.Context(), cfg, log, app.WithChannel(push.NewLogChannel(logx.Nop())))
	if err != nil {
		return err
	}
	defer core.Close()
	return fn(cmd.Context(), core, log)
}

// loadConfig reads and validates the config for the one-shot commands and
// returns a console logger at the configured level.
func loadConfig(path string) (*config.Config, logx.Logger, error) {
	cfg, err := config.NewManager(path).Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, logx.Logger{}, fmt.Errorf("config %s not found (use --config)", path)
		}
		return nil, logx.Logger{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, logx.NewConsole(cfg.Logging.Level), nil
}
