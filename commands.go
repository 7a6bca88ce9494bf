package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/plant-scan/internal/config"
	"github.com/example/plant-scan/internal/history"
	"github.com/example/plant-scan/internal/logging"
	"github.com/example/plant-scan/internal/workflow"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "plantscan",
		Short:         "Plant disease scanning service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(a),
		newScanCommand(a),
		newHistoryCommand(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func newScanCommand(a *app) *cobra.Command {
	var noPacing bool

	cmd := &cobra.Command{
		Use:   "scan <image>",
		Short: "Analyze one image and record the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := a.buildDependencies(ctx, nil)
			if err != nil {
				return err
			}
			defer deps.Close()

			phases := a.cfg.Phases()
			if noPacing {
				for i := range phases {
					phases[i].Duration = 0
				}
			}
			wf := workflow.New(deps.client, deps.history, nil, workflow.Options{
				Phases: phases,
				Logger: a.logger,
			})
			defer wf.Close()

			if !wf.SelectImage(args[0]) || !wf.Analyze() {
				return errors.New("scan could not be started")
			}
			snap, err := wf.Await(ctx)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), snap); err != nil {
				return err
			}
			if snap.State == workflow.StateFailed && snap.Error != nil {
				return fmt.Errorf("scan failed (%s): %s", snap.Error.Kind, snap.Error.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noPacing, "no-pacing", false, "skip the staged feedback delays")
	return cmd
}

func newHistoryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or clear recorded scan results",
	}

	withStore := func(ctx context.Context, fn func(*history.Store) error) error {
		deps, err := a.buildDependencies(ctx, nil)
		if err != nil {
			return err
		}
		defer deps.Close()
		return fn(deps.history)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print all results, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd.Context(), func(s *history.Store) error {
					return writeJSON(cmd.OutOrStdout(), s.List())
				})
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print one result",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), func(s *history.Store) error {
					result, ok := s.GetByID(args[0])
					if !ok {
						return fmt.Errorf("result %s not found", args[0])
					}
					return writeJSON(cmd.OutOrStdout(), result)
				})
			},
		},
		&cobra.Command{
			Use:   "summary",
			Short: "Print aggregate statistics",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd.Context(), func(s *history.Store) error {
					return writeJSON(cmd.OutOrStdout(), s.Summary())
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every recorded result",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd.Context(), func(s *history.Store) error {
					if err := s.Clear(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
					return nil
				})
			},
		},
	)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
