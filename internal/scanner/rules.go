package scanner

import "regexp"

// Rule describes an unsafe libc function and the advice attached to it.
type Rule struct {
	Name     string
	Severity Severity
	CWE      string
	Message  string
}

// unsafeFunctions is ordered; warnings on one line come out in this order.
var unsafeFunctions = []Rule{
	{Name: "gets", Severity: SeverityHigh, CWE: "CWE-242", Message: "gets() is inherently unsafe; use fgets() instead."},
	{Name: "strcpy", Severity: SeverityHigh, CWE: "CWE-120", Message: "Potential buffer overflow; use strncpy()/strlcpy()."},
	{Name: "strcat", Severity: SeverityHigh, CWE: "CWE-120", Message: "Potential buffer overflow; use strncat()/strlcat()."},
	{Name: "sprintf", Severity: SeverityMed, CWE: "CWE-120/CWE-134", Message: "Use snprintf() to limit buffer size."},
	{Name: "vsprintf", Severity: SeverityMed, CWE: "CWE-120/CWE-134", Message: "Use vsnprintf() to limit buffer size."},
	{Name: "scanf", Severity: SeverityHigh, CWE: "CWE-120", Message: `Unbounded scanf can overflow buffers; prefer fgets() or bounded width (e.g., "%31s").`},
	{Name: "fscanf", Severity: SeverityHigh, CWE: "CWE-120", Message: "Unbounded fscanf can overflow buffers; prefer fgets() or bounded width."},
	{Name: "sscanf", Severity: SeverityHigh, CWE: "CWE-120", Message: "Unbounded sscanf can overflow buffers; ensure bounded width in format string."},
}

// unsafeCallRes is index-aligned with unsafeFunctions.
var unsafeCallRes = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(unsafeFunctions))
	for i, r := range unsafeFunctions {
		out[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(r.Name) + `\s*\(`)
	}
	return out
}()

var (
	charArrayDeclRe = regexp.MustCompile(`\bchar\s+(\w+)\s*\[\s*(\d+)\s*\]`)
	memcpyRe        = regexp.MustCompile(`\bmemcpy\s*\(\s*(\w+)\s*,\s*[^,]+,\s*(\d+)\s*\)`)
	printfCallRe    = regexp.MustCompile(`\bprintf\s*\((.+)\);`)
	allocaRe        = regexp.MustCompile(`\balloca\s*\(`)
)

// UnsafeFunctions returns a copy of the unsafe-function rule table.
func UnsafeFunctions() []Rule {
	out := make([]Rule, len(unsafeFunctions))
	copy(out, unsafeFunctions)
	return out
}

// LookupRule finds an unsafe-function rule by function name.
func LookupRule(name string) (Rule, bool) {
	for _, r := range unsafeFunctions {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}
