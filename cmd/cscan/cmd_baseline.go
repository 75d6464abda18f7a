package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"cscan/internal/baseline"
	"cscan/internal/config"
	"cscan/internal/scanner"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBaselineCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Manage accepted findings",
		Long: `A baseline is a SQLite database of accepted findings. Findings are
matched by file, message and source text, so they stay suppressed when
unrelated edits move them to another line.`,
	}
	cmd.AddCommand(newBaselineAcceptCmd(g), newBaselineRunsCmd())
	return cmd
}

func newBaselineAcceptCmd(g *globalOptions) *cobra.Command {
	o := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "accept <path>",
		Short: "Scan path and accept every current finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			cfg, err := loadConfig(cmd, g, o, target)
			if err != nil {
				return failure(err)
			}
			dbPath := cfg.Baseline
			if dbPath == "" {
				dbPath = defaultBaselinePath(target)
			}

			s, err := scanner.New(cfg.ScannerOptions())
			if err != nil {
				return failure(err)
			}
			ctx, cancel := signalContext()
			defer cancel()

			started := time.Now()
			warnings, err := s.ScanPath(ctx, target)
			if err != nil {
				return failure(err)
			}

			store, err := baseline.Open(dbPath)
			if err != nil {
				return failure(err)
			}
			defer store.Close()

			runID, err := store.RecordRun(ctx, target, started, warnings)
			if err != nil {
				return failure(err)
			}
			n, err := store.Accept(ctx, runID, baseline.BaseDir(target), warnings)
			if err != nil {
				return failure(err)
			}
			logger.Info("baseline updated", zap.String("db", dbPath), zap.String("run", runID), zap.Int("accepted", n))
			fmt.Fprintf(cmd.OutOrStdout(), "Accepted %d finding(s) into %s (run %s).\n", n, dbPath, runID)
			return nil
		},
	}
	addCheckFlags(cmd, o)
	addBaselineFlag(cmd, o)
	return cmd
}

func newBaselineRunsCmd() *cobra.Command {
	var (
		dbPath     string
		configPath string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded scans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveBaselinePath(dbPath, configPath)
			if err != nil {
				return failure(err)
			}
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintf(cmd.OutOrStdout(), "No baseline at %s.\n", path)
				return nil
			}
			store, err := baseline.Open(path)
			if err != nil {
				return failure(err)
			}
			defer store.Close()

			runs, err := store.Runs(cmd.Context(), limit)
			if err != nil {
				return failure(err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}
			t := table.New().
				Border(lipgloss.HiddenBorder()).
				Headers("RUN", "STARTED", "DURATION", "FINDINGS", "ROOT")
			for _, r := range runs {
				t.Row(
					r.ID,
					r.StartedAt.Format(time.RFC3339),
					r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
					strconv.Itoa(r.Total),
					r.Root)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return err
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Baseline database (default: config baseline, then ./.cscan/baseline.db)")
	cmd.Flags().StringVar(&configPath, "config", "", "Config file (default: ./"+config.FileName+")")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (0 for all)")
	return cmd
}

// resolveBaselinePath picks the database from the flag, then the config's
// baseline key, then the default under the working directory.
func resolveBaselinePath(dbPath, configPath string) (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	if configPath == "" {
		configPath = config.Locate(".")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	if cfg.Baseline != "" {
		return cfg.Baseline, nil
	}
	return defaultBaselinePath("."), nil
}
