// Command cscan is a small static analyzer for C programs that reports
// unsafe or suspicious usage patterns: unbounded libc calls, literal-length
// memcpy overflows, non-literal printf formats, large stack buffers and alloca.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"cscan/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is the cscan release.
const Version = "0.1.0"

const usageLine = "Usage: cscan <path-to-file-or-dir>"

// Exit codes.
const (
	exitOK       = 0
	exitFindings = 1
	exitUsage    = 1
	exitFailure  = 2
)

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func failure(err error) error {
	return &exitError{code: exitFailure, err: err}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	verbose bool
	logJSON bool
}

// logger is the cli-scoped zap logger, valid after PersistentPreRunE.
var logger = zap.NewNop()

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	scanOpts := &scanOptions{}

	root := &cobra.Command{
		Use:   "cscan [path]",
		Short: "Find unsafe buffer and format-string usage in C sources",
		Long: `cscan scans a C file, or every .c/.h file under a directory, for
patterns that commonly lead to memory corruption:

  - unbounded libc calls (gets, strcpy, strcat, sprintf, scanf, ...)
  - memcpy into a declared char buffer with a larger literal length
  - printf with a non-literal format string
  - char arrays above the stack threshold (opt-in)
  - alloca calls (opt-in)

"cscan <path>" is shorthand for "cscan scan <path>".`,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if g.verbose {
				level = "debug"
			}
			if err := initLogging(level, g.logJSON); err != nil {
				return failure(err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				fmt.Fprintln(cmd.OutOrStdout(), usageLine)
				return &exitError{code: exitUsage, silent: true}
			}
			return runScan(cmd, g, scanOpts, args[0])
		},
	}

	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "Write logs as JSON")
	addScanFlags(root, scanOpts)

	root.AddCommand(
		newScanCmd(g),
		newRulesCmd(),
		newExplainCmd(),
		newBaselineCmd(g),
		newWatchCmd(g),
		newVersionCmd(),
	)
	return root
}

// initLogging builds the root logger and the cli logger derived from it.
func initLogging(level string, jsonFormat bool) error {
	if err := logging.Initialize(level, jsonFormat); err != nil {
		return err
	}
	logger = logging.Root().Named(string(logging.CategoryCLI))
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cscan version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cscan %s\n", Version)
		},
	}
}

// execute runs the command tree and maps the result to an exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.silent && ee.err != nil {
			fmt.Fprintf(stderr, "cscan: %v\n", ee.err)
		}
		return ee.code
	}
	// Cobra argument and flag errors.
	fmt.Fprintf(stderr, "cscan: %v\n", err)
	return exitUsage
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
