package report

import (
	"fmt"
	"strings"

	"cscan/internal/scanner"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// RulesTable renders the check registry and the unsafe-function table.
func RulesTable() string {
	checks := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("CHECK", "SEVERITY", "CWE", "DEFAULT", "DESCRIPTION").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, c := range scanner.Checks() {
		def := "no"
		if c.DefaultEnabled {
			def = "yes"
		}
		checks.Row(c.Name, string(c.Severity), c.CWE, def, c.Summary)
	}

	funcs := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("FUNCTION", "SEVERITY", "CWE", "ADVICE").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range scanner.UnsafeFunctions() {
		funcs.Row(r.Name, string(r.Severity), r.CWE, r.Message)
	}

	return checks.Render() + "\n\n" + funcs.Render() + "\n"
}

// RuleDoc returns the markdown description of a check or unsafe function.
func RuleDoc(name string) (string, error) {
	if c, ok := scanner.LookupCheck(name); ok {
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", c.Name)
		fmt.Fprintf(&b, "**Severity:** %s  \n**CWE:** %s  \n", c.Severity, c.CWE)
		if c.DefaultEnabled {
			b.WriteString("**Enabled by default.**\n\n")
		} else {
			fmt.Fprintf(&b, "**Opt-in:** enable with `--checks %s` or `--enable-all`.\n\n", c.Name)
		}
		b.WriteString(c.Summary + "\n")
		if c.Name == scanner.CheckNameUnsafeFunctions {
			b.WriteString("\n| function | severity | CWE |\n|---|---|---|\n")
			for _, r := range scanner.UnsafeFunctions() {
				fmt.Fprintf(&b, "| `%s` | %s | %s |\n", r.Name, r.Severity, r.CWE)
			}
		}
		return b.String(), nil
	}
	if r, ok := scanner.LookupRule(name); ok {
		var b strings.Builder
		fmt.Fprintf(&b, "# %s()\n\n", r.Name)
		fmt.Fprintf(&b, "**Severity:** %s  \n**CWE:** %s\n\n", r.Severity, r.CWE)
		b.WriteString(r.Message + "\n\n")
		fmt.Fprintf(&b, "Reported by the `%s` check.\n", scanner.CheckNameUnsafeFunctions)
		return b.String(), nil
	}
	return "", fmt.Errorf("no check or function named %q", name)
}

// RenderRuleDoc renders RuleDoc through glamour. style is a glamour style
// name ("dark", "light", "notty") or "auto". If rendering fails the raw
// markdown is returned.
func RenderRuleDoc(name, style string) (string, error) {
	md, err := RuleDoc(name)
	if err != nil {
		return "", err
	}
	opt := glamour.WithAutoStyle()
	if style != "" && style != "auto" {
		opt = glamour.WithStylePath(style)
	}
	renderer, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(80))
	if err != nil {
		return md, nil
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md, nil
	}
	return out, nil
}
