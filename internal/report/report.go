// Package report renders scanner warnings for terminals and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"cscan/internal/scanner"

	"github.com/charmbracelet/lipgloss"
)

// NoIssues is printed by Text when there is nothing to report.
const NoIssues = "No issues found."

var (
	highStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e53935"))
	medStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFC107"))
	lowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#2196F3"))
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// TextOptions controls Text output.
type TextOptions struct {
	// Color styles the severity tag and source line with ANSI sequences.
	Color bool
}

func severityTag(sev scanner.Severity, color bool) string {
	tag := "[" + string(sev) + "]"
	if !color {
		return tag
	}
	switch sev {
	case scanner.SeverityHigh:
		return highStyle.Render(tag)
	case scanner.SeverityMed:
		return medStyle.Render(tag)
	case scanner.SeverityLow:
		return lowStyle.Render(tag)
	}
	return tag
}

// Text writes one block per warning:
//
//	[HIGH] file.c:12 (CWE-242)
//	  gets used. gets() is inherently unsafe; use fgets() instead.
//	  > gets(buf);
func Text(w io.Writer, warnings []scanner.Warning, opts TextOptions) error {
	if len(warnings) == 0 {
		_, err := fmt.Fprintln(w, NoIssues)
		return err
	}

	var b strings.Builder
	for _, warn := range warnings {
		cwe := ""
		if warn.CWE != "" {
			cwe = " (" + warn.CWE + ")"
		}
		line := "  > " + warn.Line
		if opts.Color {
			line = dimStyle.Render(line)
		}
		fmt.Fprintf(&b, "%s %s:%d%s\n", severityTag(warn.Severity, opts.Color), warn.File, warn.LineNo, cwe)
		fmt.Fprintf(&b, "  %s\n", warn.Message)
		fmt.Fprintf(&b, "%s\n\n", line)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Counts summarises warnings by severity.
type Counts struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity"`
}

// Summary counts warnings per severity.
func Summary(warnings []scanner.Warning) Counts {
	c := Counts{Total: len(warnings), BySeverity: make(map[string]int)}
	for _, w := range warnings {
		c.BySeverity[string(w.Severity)]++
	}
	return c
}

type jsonReport struct {
	Warnings   []scanner.Warning `json:"warnings"`
	Summary    Counts            `json:"summary"`
	Suppressed int               `json:"suppressed,omitempty"`
}

// JSON writes warnings and their summary as an indented JSON document.
// suppressed is the number of findings removed by a baseline.
func JSON(w io.Writer, warnings []scanner.Warning, suppressed int) error {
	if warnings == nil {
		warnings = []scanner.Warning{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{
		Warnings:   warnings,
		Summary:    Summary(warnings),
		Suppressed: suppressed,
	})
}

// ExceedsThreshold reports whether any warning ranks at or above gate.
// An empty gate never trips.
func ExceedsThreshold(warnings []scanner.Warning, gate scanner.Severity) bool {
	if gate == "" {
		return false
	}
	for _, w := range warnings {
		if w.Severity.Rank() >= gate.Rank() {
			return true
		}
	}
	return false
}
