package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cscan/internal/report"
	"cscan/internal/scanner"
	"cscan/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWatchCmd(g *globalOptions) *cobra.Command {
	o := &scanOptions{}
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Rescan C files as they change",
		Long: `Watch a directory tree and rescan each .c/.h file after it has been
quiet for the debounce interval. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]
			info, err := os.Stat(root)
			if err != nil {
				return failure(fmt.Errorf("%w: %s", scanner.ErrPathNotFound, root))
			}
			if !info.IsDir() {
				return failure(fmt.Errorf("watch needs a directory: %s", root))
			}

			cfg, err := loadConfig(cmd, g, o, root)
			if err != nil {
				return failure(err)
			}
			s, err := scanner.New(cfg.ScannerOptions())
			if err != nil {
				return failure(err)
			}

			out := cmd.OutOrStdout()
			color := useColor(o)
			var outMu sync.Mutex
			handler := func(ctx context.Context, path string) {
				warnings, err := s.ScanFile(ctx, path)
				if err != nil {
					logger.Warn("rescan failed", zap.String("file", path), zap.Error(err))
					return
				}
				outMu.Lock()
				defer outMu.Unlock()
				fmt.Fprintf(out, "== %s %s\n", time.Now().Format(time.TimeOnly), path)
				if err := report.Text(out, warnings, report.TextOptions{Color: color}); err != nil {
					logger.Warn("write report", zap.Error(err))
				}
			}

			w, err := watch.New(root, handler, watch.Options{
				Debounce: debounce,
				Match:    func(p string) bool { return s.Matches(filepath.Base(p)) },
				SkipDir:  func(d string) bool { return s.Ignored(root, d) },
			})
			if err != nil {
				return failure(err)
			}

			ctx, cancel := signalContext()
			defer cancel()
			if err := w.Start(ctx); err != nil {
				return failure(err)
			}
			fmt.Fprintf(out, "Watching %s (Ctrl-C to stop)\n", root)

			<-ctx.Done()
			w.Stop()
			st := w.Stats()
			logger.Info("watch stopped",
				zap.Int("events", st.Events),
				zap.Int("rescans", st.Dispatched),
				zap.Int("dirs", st.DirsWatched))
			return nil
		},
	}
	addCheckFlags(cmd, o)
	cmd.Flags().BoolVar(&o.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "Quiet period before a changed file is rescanned")
	return cmd
}
