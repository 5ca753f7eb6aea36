// Package cleanup removes Project Gutenberg boilerplate from raw text
// bodies.
package cleanup

import "strings"

// StripHeaders removes the license header, the footer and inline
// legalese sections from a text body, returning only the work itself.
//
// The classifier walks the text line by line: any header end marker
// within the first 600 output lines restarts the output, a footer
// marker after 100 output lines ends it, and lines between legalese
// markers are dropped. Derived from the strip_headers.cpp utility by
// Johannes Krugel.
func StripHeaders(text string) string {
	var (
		out     []string
		emitted int
		ignore  bool
	)

	for _, line := range splitLines(text) {
		if emitted <= 600 && hasAnyPrefix(line, textStartMarkers) {
			// Everything so far was still part of the header.
			out = out[:0]
			continue
		}

		if emitted >= 100 && hasAnyPrefix(line, textEndMarkers) {
			break
		}

		if hasAnyPrefix(line, legaleseStartMarkers) {
			ignore = true
			continue
		}
		if hasAnyPrefix(line, legaleseEndMarkers) {
			ignore = false
			continue
		}

		if !ignore {
			out = append(out, strings.TrimRight(line, "\r\n"))
			emitted++
		}
	}

	return strings.Join(out, "\n")
}

// splitLines splits on newlines, tolerating CRLF endings. A trailing
// newline does not produce a final empty line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if n := len(lines); lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func hasAnyPrefix(line string, markers []string) bool {
	for _, m := range markers {
		if strings.HasPrefix(line, m) {
			return true
		}
	}
	return false
}
