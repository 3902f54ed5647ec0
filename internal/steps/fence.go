package steps

import "strings"

// ExtractFencedBlock unwraps at most one top-level fenced code block
// from a completion response. The opener may carry a language tag; the
// block runs from the first opener line to the last closer line, so
// fences nested inside the block survive intact. Text around the block
// is discarded.
//
// Returns (input, false) when no complete block is found. Callers fall
// back to the raw response in that case.
func ExtractFencedBlock(s string) (string, bool) {
	lines := strings.Split(s, "\n")

	open := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			open = i
			break
		}
	}
	if open == -1 {
		return s, false
	}

	closer := -1
	for i := len(lines) - 1; i > open; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			closer = i
			break
		}
	}
	if closer == -1 {
		return s, false
	}

	return strings.Join(lines[open+1:closer], "\n"), true
}
