// Copyright 2024-2026 Aiku AI

// Package minetext converts raw game chat payloads into canonical plain text.
//
// The upstream gateway delivers chat lines in three shapes: a plain string, a
// rich-text component tree (nested text/extra nodes carrying color and
// formatting), or an opaque value whose string form is the message. Normalize
// accepts any of them and always returns a printable, bounded string.
package minetext

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// DefaultMaxLength bounds the output of Normalize. Game servers cap chat at
// 256 characters; anything longer is a malformed or hostile payload.
const DefaultMaxLength = 512

var (
	// Legacy formatting codes: section sign followed by a color/style code.
	colorCodeRe = regexp.MustCompile(`§[0-9a-fk-orA-FK-OR]`)
	// ANSI escapes show up when a gateway passes through console output.
	ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	// Runs of whitespace (including NBSP) collapse to a single space.
	spaceRe = regexp.MustCompile(`[\s\x{00a0}]+`)
)

// punctuationNormalizer maps typographic punctuation variants to their ASCII
// equivalents so patterns written against ASCII match decorated server text.
var punctuationNormalizer = strings.NewReplacer(
	"‘", "'", // left single quote
	"’", "'", // right single quote
	"“", `"`, // left double quote
	"”", `"`, // right double quote
	"–", "-", // en dash
	"—", "-", // em dash
	"…", "...", // ellipsis
	"→", "->", // arrow, used by some server MOTD formats
)

// Component is a rich-text chat node as decoded from the game protocol.
// Text is this node's own content; Extra holds ordered child nodes whose
// text is appended after it.
type Component struct {
	Text  string      `json:"text"`
	Extra []Component `json:"extra,omitempty"`
	Color string      `json:"color,omitempty"`
	Bold  bool        `json:"bold,omitempty"`
}

// String flattens the component tree into its concatenated text content.
func (c Component) String() string {
	if len(c.Extra) == 0 {
		return c.Text
	}
	var sb strings.Builder
	sb.WriteString(c.Text)
	for _, extra := range c.Extra {
		sb.WriteString(extra.String())
	}
	return sb.String()
}

// Normalizer converts raw chat payloads to canonical strings.
// The zero value is usable and applies DefaultMaxLength.
type Normalizer struct {
	// MaxLength truncates the normalized output. Zero means DefaultMaxLength.
	MaxLength int
}

// Normalize converts any raw chat payload into a canonical plain-text line.
// It is total: it never panics outward and never returns an error. On an
// unrecognized payload shape it falls back to a truncated stringification.
func (n Normalizer) Normalize(raw any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			// A hostile payload shape must never take down the line stream.
			out = n.clean(fmt.Sprintf("%v", raw))
		}
	}()
	return n.clean(extractText(raw))
}

// extractText pulls the text content out of a raw payload, trying the known
// shapes in priority order: plain string, component tree (typed or as a
// decoded JSON map), Stringer, then best-effort JSON stringification.
func extractText(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case Component:
		return v.String()
	case *Component:
		if v == nil {
			return ""
		}
		return v.String()
	case map[string]any:
		return textFromMap(v)
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	case error:
		return v.Error()
	}
	if data, err := json.Marshal(raw); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", raw)
}

// maxComponentDepth bounds recursion into decoded component maps so a cyclic
// or absurdly nested payload cannot blow the stack.
const maxComponentDepth = 32

// textFromMap walks a decoded JSON component object ({"text": ..., "extra":
// [...]}) without requiring it to round-trip through the typed Component.
func textFromMap(m map[string]any) string {
	return textFromMapDepth(m, 0)
}

func textFromMapDepth(m map[string]any, depth int) string {
	if depth > maxComponentDepth {
		return ""
	}
	var sb strings.Builder
	if text, ok := m["text"].(string); ok {
		sb.WriteString(text)
	}
	if extra, ok := m["extra"].([]any); ok {
		for _, child := range extra {
			switch c := child.(type) {
			case string:
				sb.WriteString(c)
			case map[string]any:
				sb.WriteString(textFromMapDepth(c, depth+1))
			}
		}
	}
	return sb.String()
}

// clean applies the canonicalization passes: strip formatting escapes and
// control characters, normalize punctuation and whitespace, truncate.
func (n Normalizer) clean(s string) string {
	s = colorCodeRe.ReplaceAllString(s, "")
	s = ansiRe.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = punctuationNormalizer.Replace(s)
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	limit := n.MaxLength
	if limit <= 0 {
		limit = DefaultMaxLength
	}
	if len(s) > limit {
		runes := []rune(s)
		if len(runes) > limit {
			runes = runes[:limit]
		}
		s = strings.TrimSpace(string(runes))
	}
	return s
}
