package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cscan/internal/baseline"
	"cscan/internal/config"
	"cscan/internal/logging"
	"cscan/internal/report"
	"cscan/internal/scanner"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// scanOptions holds the scan flags. Flags override the config file only
// when set on the command line.
type scanOptions struct {
	configPath     string
	format         string
	checks         []string
	enableAll      bool
	stackThreshold int
	workers        int
	engine         string
	failOn         string
	baseline       string
	noColor        bool
}

// addScanFlags registers every flag of the scan command.
func addScanFlags(cmd *cobra.Command, o *scanOptions) {
	addCheckFlags(cmd, o)
	addReportFlags(cmd, o)
	addBaselineFlag(cmd, o)
}

// addCheckFlags registers the flags that select what is scanned and how.
func addCheckFlags(cmd *cobra.Command, o *scanOptions) {
	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "Config file (default: <root>/"+config.FileName+")")
	f.StringSliceVar(&o.checks, "checks", nil, "Checks to run (see `cscan rules`)")
	f.BoolVar(&o.enableAll, "enable-all", false, "Run every check, including opt-in ones")
	f.IntVar(&o.stackThreshold, "stack-threshold", scanner.DefaultStackThreshold, "Largest char array not reported by large-stack-buffer")
	f.IntVar(&o.workers, "workers", 0, "Concurrent file scans (default: CPU count)")
	f.StringVar(&o.engine, "engine", scanner.EngineRegex, "Symbol engine: regex or ast")
}

// addReportFlags registers the output and exit-status flags.
func addReportFlags(cmd *cobra.Command, o *scanOptions) {
	f := cmd.Flags()
	f.StringVar(&o.format, "format", config.FormatText, "Output format: text or json")
	f.StringVar(&o.failOn, "fail-on", config.FailOnNone, "Exit 1 when a finding is at or above this severity (LOW, MED, HIGH)")
	f.BoolVar(&o.noColor, "no-color", false, "Disable colored output")
}

func addBaselineFlag(cmd *cobra.Command, o *scanOptions) {
	cmd.Flags().StringVar(&o.baseline, "baseline", "", "Baseline database; accepted findings are suppressed")
}

func newScanCmd(g *globalOptions) *cobra.Command {
	o := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan <path>",
		Short: "Scan a C file or directory tree",
		Example: `  cscan scan src/
  cscan scan --enable-all --fail-on HIGH main.c
  cscan scan --format json --baseline .cscan/baseline.db .`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, g, o, args[0])
		},
	}
	addScanFlags(cmd, o)
	return cmd
}

// loadConfig resolves the config for target and applies changed flags over it.
func loadConfig(cmd *cobra.Command, g *globalOptions, o *scanOptions, target string) (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = config.Locate(target)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Format = o.format
	}
	if flags.Changed("checks") {
		cfg.Checks = o.checks
	}
	if o.enableAll {
		cfg.Checks = scanner.AllChecks()
	}
	if flags.Changed("stack-threshold") {
		cfg.StackThreshold = o.stackThreshold
	}
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}
	if flags.Changed("engine") {
		cfg.Engine = o.engine
	}
	if flags.Changed("fail-on") {
		cfg.FailOn = o.failOn
	}
	if flags.Changed("baseline") {
		cfg.Baseline = o.baseline
	}

	level := cfg.Logging.Level
	if g.verbose {
		level = "debug"
	}
	if cfg.Logging.JSON && !g.logJSON {
		if err := initLogging(level, true); err != nil {
			return nil, err
		}
	} else {
		logging.SetLevel(level)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logging.BootDebug("config loaded from %s", path)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runScan(cmd *cobra.Command, g *globalOptions, o *scanOptions, target string) error {
	cfg, err := loadConfig(cmd, g, o, target)
	if err != nil {
		return failure(err)
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
		if errors.Is(err, scanner.ErrPathNotFound) {
			return failure(err)
		}
		return failure(fmt.Errorf("scan failed: %w", err))
	}
	logger.Debug("scan finished",
		zap.String("root", target),
		zap.Int("warnings", len(warnings)),
		zap.Duration("elapsed", time.Since(started)))

	suppressed := 0
	if cfg.Baseline != "" {
		warnings, suppressed, err = applyBaseline(ctx, cfg.Baseline, target, started, warnings)
		if err != nil {
			return failure(err)
		}
	}

	out := cmd.OutOrStdout()
	switch cfg.Format {
	case config.FormatJSON:
		err = report.JSON(out, warnings, suppressed)
	default:
		err = report.Text(out, warnings, report.TextOptions{Color: useColor(o)})
		if err == nil && suppressed > 0 {
			_, err = fmt.Fprintf(out, "%d finding(s) suppressed by baseline.\n", suppressed)
		}
	}
	if err != nil {
		return failure(fmt.Errorf("failed to write report: %w", err))
	}

	gate, _ := cfg.FailOnSeverity()
	if report.ExceedsThreshold(warnings, gate) {
		return &exitError{
			code: exitFindings,
			err:  fmt.Errorf("%d finding(s), at least one at or above %s", len(warnings), gate),
		}
	}
	return nil
}

func applyBaseline(ctx context.Context, dbPath, root string, started time.Time, warnings []scanner.Warning) ([]scanner.Warning, int, error) {
	store, err := baseline.Open(dbPath)
	if err != nil {
		return nil, 0, err
	}
	defer store.Close()

	if _, err := store.RecordRun(ctx, root, started, warnings); err != nil {
		return nil, 0, err
	}
	return store.Filter(ctx, baseline.BaseDir(root), warnings)
}

func useColor(o *scanOptions) bool {
	return !o.noColor && os.Getenv("NO_COLOR") == ""
}

// defaultBaselinePath is used by the baseline commands when neither a flag
// nor the config names a database.
func defaultBaselinePath(root string) string {
	return filepath.Join(baseline.BaseDir(root), ".cscan", "baseline.db")
}
