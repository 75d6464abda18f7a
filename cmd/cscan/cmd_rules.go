package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cscan/internal/cparse"
	"cscan/internal/report"

	"github.com/spf13/cobra"
)

func newRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List checks and unsafe-function rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), report.RulesTable())
			return err
		},
	}
}

func newExplainCmd() *cobra.Command {
	var (
		style string
		calls string
	)
	cmd := &cobra.Command{
		Use:   "explain <check|function>",
		Short: "Describe a check or unsafe function",
		Long: `Describe a check (e.g. memcpy-overflow) or an unsafe libc function
(e.g. gets). With --calls, list the call expressions the C parser finds in a
file instead.`,
		Example: `  cscan explain gets
  cscan explain large-stack-buffer
  cscan explain --calls main.c`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if calls != "" {
				return listCalls(cmd, calls)
			}
			if len(args) != 1 {
				return errors.New("explain needs a check or function name")
			}
			out, err := report.RenderRuleDoc(args[0], style)
			if err != nil {
				return failure(err)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&style, "style", "auto", "Markdown style: auto, dark, light or notty")
	cmd.Flags().StringVar(&calls, "calls", "", "List call expressions in this C file")
	return cmd
}

func listCalls(cmd *cobra.Command, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return failure(err)
	}
	p := cparse.NewParser()
	defer p.Close()

	found, err := p.Calls(context.Background(), src)
	if err != nil {
		return failure(err)
	}
	out := cmd.OutOrStdout()
	for _, c := range found {
		fmt.Fprintf(out, "%s:%d %s(%s)\n", path, c.Line, c.Name, strings.Join(c.Args, ", "))
	}
	return nil
}
