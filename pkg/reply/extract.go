// Package reply extracts the structured payload a model may embed in an
// otherwise free-form answer.
//
// The payload contract is a JSON object of the form
//
//	{"text": "<explanation>", "visual": "<self-contained html/svg fragment>"}
//
// emitted either inside a ```json fenced block or as a bare object.
package reply

import (
	"encoding/json"
	"regexp"
	"strings"
)

// DefaultCaption is used as display text when the payload carries a visual
// but no explanation.
const DefaultCaption = "Here is the visualization you requested."

// Result is the outcome of Extract.
type Result struct {
	DisplayText   string
	Visualization string
}

// HasVisualization reports whether a fragment was extracted.
func (r Result) HasVisualization() bool { return r.Visualization != "" }

type payload struct {
	Text   *string `json:"text"`
	Visual *string `json:"visual"`
}

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// Extract never fails: when no well-formed payload with a non-empty visual is
// found, the input is returned verbatim as display text.
func Extract(text string) Result {
	plain := Result{DisplayText: text}

	candidate, ok := findCandidate(text)
	if !ok {
		return plain
	}

	var p payload
	if err := json.Unmarshal([]byte(candidate), &p); err != nil {
		return plain
	}
	if p.Visual == nil || strings.TrimSpace(*p.Visual) == "" {
		return plain
	}

	display := DefaultCaption
	if p.Text != nil && strings.TrimSpace(*p.Text) != "" {
		display = *p.Text
	}
	return Result{DisplayText: display, Visualization: *p.Visual}
}

// findCandidate prefers a fenced json block over a bare object.
func findCandidate(text string) (string, bool) {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return firstObject(text)
}

// firstObject returns the first balanced top-level {...} in text. Braces
// inside JSON string literals are ignored.
func firstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
