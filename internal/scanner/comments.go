package scanner

import "strings"

// StripComments removes C comments line by line and returns a slice of the
// same length, so line numbers stay valid.
//
// Block comments are removed before line comments and do not nest. String
// literals are not recognised: a "//" inside a string truncates the line.
func StripComments(lines []string) []string {
	stripped := make([]string, 0, len(lines))
	inBlock := false

	for _, line := range lines {
		if inBlock {
			end := strings.Index(line, "*/")
			if end == -1 {
				stripped = append(stripped, "")
				continue
			}
			line = line[end+2:]
			inBlock = false
		}

		for {
			start := strings.Index(line, "/*")
			if start == -1 {
				break
			}
			end := strings.Index(line[start+2:], "*/")
			if end == -1 {
				line = line[:start]
				inBlock = true
				break
			}
			line = line[:start] + line[start+2+end+2:]
		}

		if idx := strings.Index(line, "//"); idx != -1 {
			line = line[:idx]
		}
		stripped = append(stripped, line)
	}

	return stripped
}
