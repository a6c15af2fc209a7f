// Package logformat classifies captured generator output as JSON or raw text
// and normalizes it into one record per line.
package logformat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Format is the detected shape of generator output.
type Format string

const (
	FormatJSON Format = "JSON"
	FormatRaw  Format = "RAW"
)

// ParseFormat accepts "json" or "raw" in any case.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToUpper(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatRaw:
		return FormatRaw, nil
	}
	return "", fmt.Errorf("unknown log format %q", s)
}

var (
	// flatObject matches a brace pair with no nested braces.
	flatObject = regexp.MustCompile(`\{[^{}]*\}`)

	// jsonObject matches an object with at most one level of nesting.
	jsonObject = regexp.MustCompile(`\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)

	whitespace = regexp.MustCompile(`\s+`)

	// noisePatterns are banner and separator lines that generators print
	// around their samples.
	noisePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^=+$`),
		regexp.MustCompile(`(?i)^-+$`),
		regexp.MustCompile(`(?i)^.*Sample.*Events.*:?$`),
		regexp.MustCompile(`(?i)^Sample.*logs:?$`),
		regexp.MustCompile(`(?i)^Traffic logs?:?$`),
		regexp.MustCompile(`(?i)^Threat logs?:?$`),
		regexp.MustCompile(`(?i)^Event \d+:?$`),
		regexp.MustCompile(`(?i)^\s*$`),
	}
)

// jsonDensity is the number of flat objects above which output counts as JSON.
const jsonDensity = 2

// Classify reports JSON when the text holds more than two brace-delimited
// objects, RAW otherwise. The heuristic is approximate.
func Classify(text string) Format {
	if len(flatObject.FindAllStringIndex(text, jsonDensity+1)) > jsonDensity {
		return FormatJSON
	}
	return FormatRaw
}

// NormalizeJSON extracts every object from text and renders each on its own
// line. Valid objects are compacted with their key order preserved; invalid
// ones have their whitespace collapsed. Applying it twice changes nothing.
func NormalizeJSON(text string) string {
	matches := jsonObject.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, normalizeObject(m))
	}
	return strings.Join(out, "\n")
}

func normalizeObject(obj string) string {
	if s, ok := compact(obj); ok {
		return s
	}
	collapsed := strings.TrimSpace(whitespace.ReplaceAllString(obj, " "))
	if s, ok := compact(collapsed); ok {
		return s
	}
	return collapsed
}

func compact(s string) (string, bool) {
	if !json.Valid([]byte(s)) {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return "", false
	}
	return buf.String(), true
}

// NormalizeRaw drops banner, separator and blank lines and keeps every other
// line verbatim.
func NormalizeRaw(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if isNoise(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isNoise(trimmed string) bool {
	for _, re := range noisePatterns {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// Normalize dispatches on format.
func Normalize(text string, format Format) string {
	if format == FormatJSON {
		return NormalizeJSON(text)
	}
	return NormalizeRaw(text)
}

// Lines splits normalized text into its records.
func Lines(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Split(normalized, "\n")
}
