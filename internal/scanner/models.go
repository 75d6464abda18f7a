package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Severity ranks how serious a finding is.
type Severity string

const (
	SeverityHigh Severity = "HIGH"
	SeverityMed  Severity = "MED"
	SeverityLow  Severity = "LOW"
)

// Rank orders severities so that HIGH > MED > LOW. Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMed:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity accepts HIGH, MED (or MEDIUM) and LOW in any case.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return SeverityHigh, nil
	case "MED", "MEDIUM":
		return SeverityMed, nil
	case "LOW":
		return SeverityLow, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Warning is a single finding reported against one source line.
type Warning struct {
	File     string   `json:"file"`
	LineNo   int      `json:"line_no"`
	Severity Severity `json:"severity"`
	CWE      string   `json:"cwe,omitempty"`
	Message  string   `json:"message"`
	// Line is the comment-stripped source line, right-trimmed.
	Line string `json:"line"`
}

// Fingerprint identifies a finding independent of its line number, so that
// baselined findings survive unrelated edits above them.
func (w Warning) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(w.File))
	h.Write([]byte{0})
	h.Write([]byte(w.Message))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(w.Line)))
	return hex.EncodeToString(h.Sum(nil))
}

// CharArrays maps a char buffer name to its declared size.
type CharArrays map[string]int
