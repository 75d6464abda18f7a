package scanner

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultStackThreshold is the largest stack buffer, in bytes, that is not reported.
const DefaultStackThreshold = 1024

// Check names accepted by Options.Checks and the config file.
const (
	CheckNameUnsafeFunctions = "unsafe-functions"
	CheckNameMemcpyOverflow  = "memcpy-overflow"
	CheckNamePrintfFormat    = "printf-format"
	CheckNameLargeStack      = "large-stack-buffer"
	CheckNameAlloca          = "alloca"
)

// CheckInfo documents one check for listings and `cscan explain`.
type CheckInfo struct {
	Name           string
	Severity       Severity
	CWE            string
	Summary        string
	DefaultEnabled bool
}

type checkFunc func(o Options, file string, lines []string, arrays CharArrays) []Warning

type check struct {
	info CheckInfo
	run  checkFunc
}

// registry is ordered; ScanFile runs checks and emits warnings in this order.
var registry = []check{
	{
		info: CheckInfo{Name: CheckNameUnsafeFunctions, Severity: SeverityHigh, CWE: "CWE-120",
			Summary: "Calls to libc functions that cannot bound their output (gets, strcpy, sprintf, scanf, ...).", DefaultEnabled: true},
		run: func(_ Options, file string, lines []string, _ CharArrays) []Warning {
			return CheckUnsafeFunctions(file, lines)
		},
	},
	{
		info: CheckInfo{Name: CheckNameMemcpyOverflow, Severity: SeverityHigh, CWE: "CWE-120",
			Summary: "memcpy into a declared char buffer with a literal length larger than the buffer.", DefaultEnabled: true},
		run: func(_ Options, file string, lines []string, arrays CharArrays) []Warning {
			return CheckMemcpyOverflows(file, lines, arrays)
		},
	},
	{
		info: CheckInfo{Name: CheckNamePrintfFormat, Severity: SeverityHigh, CWE: "CWE-134",
			Summary: "printf whose format argument is not a string literal.", DefaultEnabled: true},
		run: func(_ Options, file string, lines []string, _ CharArrays) []Warning {
			return CheckPrintfFormat(file, lines)
		},
	},
	{
		info: CheckInfo{Name: CheckNameLargeStack, Severity: SeverityMed, CWE: "CWE-770",
			Summary: "char arrays declared larger than the stack threshold."},
		run: func(o Options, file string, lines []string, _ CharArrays) []Warning {
			return CheckLargeStackBuffers(file, lines, o.StackThreshold)
		},
	},
	{
		info: CheckInfo{Name: CheckNameAlloca, Severity: SeverityMed, CWE: "CWE-770",
			Summary: "alloca() calls, which grow the stack without bounds checking."},
		run: func(_ Options, file string, lines []string, _ CharArrays) []Warning {
			return CheckAllocaUsage(file, lines)
		},
	},
}

// Checks lists every registered check in run order.
func Checks() []CheckInfo {
	out := make([]CheckInfo, len(registry))
	for i, c := range registry {
		out[i] = c.info
	}
	return out
}

// LookupCheck finds a check by name.
func LookupCheck(name string) (CheckInfo, bool) {
	for _, c := range registry {
		if c.info.Name == name {
			return c.info, true
		}
	}
	return CheckInfo{}, false
}

// DefaultChecks returns the names of the checks enabled by default.
func DefaultChecks() []string {
	var names []string
	for _, c := range registry {
		if c.info.DefaultEnabled {
			names = append(names, c.info.Name)
		}
	}
	return names
}

// AllChecks returns every check name.
func AllChecks() []string {
	names := make([]string, len(registry))
	for i, c := range registry {
		names[i] = c.info.Name
	}
	return names
}

// parseSize parses a decimal size literal. Literals too large for int
// saturate at math.MaxInt so they still exceed any declared size; text is the
// value as written in messages, without leading zeros.
func parseSize(lit string) (n int, text string, ok bool) {
	n, err := strconv.Atoi(lit)
	switch {
	case err == nil:
		return n, strconv.Itoa(n), true
	case errors.Is(err, strconv.ErrRange):
		return math.MaxInt, strings.TrimLeft(lit, "0"), true
	}
	return 0, "", false
}

// CollectCharArrays builds a symbol table from `char name[N]` declarations.
// Only the first declaration on a line is seen; later lines win on redeclaration.
func CollectCharArrays(lines []string) CharArrays {
	table := make(CharArrays)
	for _, line := range lines {
		m := charArrayDeclRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		size, _, ok := parseSize(m[2])
		if !ok {
			continue
		}
		table[m[1]] = size
	}
	return table
}

// CheckUnsafeFunctions flags calls to functions in the unsafe rule table.
func CheckUnsafeFunctions(file string, lines []string) []Warning {
	var warnings []Warning
	for i, line := range lines {
		for j, rule := range unsafeFunctions {
			if !unsafeCallRes[j].MatchString(line) {
				continue
			}
			warnings = append(warnings, Warning{
				File:     file,
				LineNo:   i + 1,
				Severity: rule.Severity,
				CWE:      rule.CWE,
				Message:  fmt.Sprintf("%s used. %s", rule.Name, rule.Message),
				Line:     strings.TrimRight(line, " \t\r\n\v\f"),
			})
		}
	}
	return warnings
}

// CheckMemcpyOverflows flags memcpy(buf, ..., N) where N is a literal larger
// than the declared size of buf.
func CheckMemcpyOverflows(file string, lines []string, arrays CharArrays) []Warning {
	var warnings []Warning
	for i, line := range lines {
		m := memcpyRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		dest := m[1]
		n, text, ok := parseSize(m[2])
		if !ok {
			continue
		}
		declared, ok := arrays[dest]
		if !ok || n <= declared {
			continue
		}
		warnings = append(warnings, Warning{
			File:     file,
			LineNo:   i + 1,
			Severity: SeverityHigh,
			CWE:      "CWE-120",
			Message:  fmt.Sprintf("memcpy to '%s' copies %s bytes but buffer is only %d bytes.", dest, text, declared),
			Line:     strings.TrimRight(line, " \t\r\n\v\f"),
		})
	}
	return warnings
}

func isStringLiteral(expr string) bool {
	return strings.HasPrefix(strings.TrimSpace(expr), `"`)
}

// CheckPrintfFormat flags printf(x) where x is not a string literal, a
// possible format string vulnerability if x is attacker controlled.
func CheckPrintfFormat(file string, lines []string) []Warning {
	var warnings []Warning
	for i, line := range lines {
		m := printfCallRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		first, _, _ := strings.Cut(m[1], ",")
		if isStringLiteral(first) {
			continue
		}
		warnings = append(warnings, Warning{
			File:     file,
			LineNo:   i + 1,
			Severity: SeverityHigh,
			CWE:      "CWE-134",
			Message:  "printf called with non-literal format string; possible format string vulnerability.",
			Line:     strings.TrimRight(line, " \t\r\n\v\f"),
		})
	}
	return warnings
}

// CheckLargeStackBuffers flags char arrays strictly larger than threshold bytes.
func CheckLargeStackBuffers(file string, lines []string, threshold int) []Warning {
	var warnings []Warning
	for i, line := range lines {
		m := charArrayDeclRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		size, text, ok := parseSize(m[2])
		if !ok || size <= threshold {
			continue
		}
		warnings = append(warnings, Warning{
			File:     file,
			LineNo:   i + 1,
			Severity: SeverityMed,
			CWE:      "CWE-770",
			Message:  fmt.Sprintf("Large stack buffer (%s bytes) may cause stack overflow.", text),
			Line:     strings.TrimRight(line, " \t\r\n\v\f"),
		})
	}
	return warnings
}

// CheckAllocaUsage flags alloca() calls.
func CheckAllocaUsage(file string, lines []string) []Warning {
	var warnings []Warning
	for i, line := range lines {
		if !allocaRe.MatchString(line) {
			continue
		}
		warnings = append(warnings, Warning{
			File:     file,
			LineNo:   i + 1,
			Severity: SeverityMed,
			CWE:      "CWE-770",
			Message:  "alloca() can cause stack overflow; prefer heap allocation.",
			Line:     strings.TrimRight(line, " \t\r\n\v\f"),
		})
	}
	return warnings
}
