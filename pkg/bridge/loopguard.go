// Copyright 2024-2026 Aiku AI

package bridge

import (
	"regexp"
	"strings"

	"github.com/aiku/guildbridge/pkg/classify"
)

// Loop-guard suppression reasons, surfaced on ignored messages for audit.
const (
	ReasonSelfEcho     = "loop:self-echo"
	ReasonRelayChain   = "loop:relay-chain"
	ReasonRepeatedName = "loop:repeated-name"
	ReasonMultiHop     = "loop:multi-hop"
	ReasonSelfMention  = "loop:self-mention"
)

// chainPrefixRe matches a leading "name: " relay token: a bare username
// followed by a colon and a space. Restricting the name to word characters
// keeps timestamps like "3:00pm" from counting as chain hops.
var chainPrefixRe = regexp.MustCompile(`^(\w{1,16}): (.*)$`)

// LoopGuard detects when a classified chat message is the bridge's own
// output fed back in, or a message already relayed by another bridge
// instance. These are heuristics, not proof: an undetected loop is bounded
// by the dedup cache, and a legitimate message shaped like a relay chain may
// be suppressed. The chain depth is configurable for exactly that reason.
type LoopGuard struct {
	botName       string
	maxChainDepth int
}

// NewLoopGuard creates a guard for the given bridge identity. maxChainDepth
// below zero disables chain detection; self-echo stays active regardless.
func NewLoopGuard(botName string, maxChainDepth int) *LoopGuard {
	return &LoopGuard{
		botName:       strings.ToLower(botName),
		maxChainDepth: maxChainDepth,
	}
}

// Check reports whether the message must be suppressed, and why. The checks
// run most-specific-first; the first one that fires wins.
func (g *LoopGuard) Check(msg *classify.Message) (reason string, looped bool) {
	fromSelf := strings.EqualFold(msg.Username, g.botName)

	// Our own identity mentioned as a whole word in a message nominally
	// sent by that same identity: a reflected relay of our own output.
	// Checked before plain self-echo so the more specific reason surfaces.
	if fromSelf && msg.Username != "" && containsWholeWord(msg.Body, g.botName) {
		return ReasonSelfMention, true
	}

	// Echo of the bridge's own previously-sent message.
	if fromSelf && msg.Username != "" {
		return ReasonSelfEcho, true
	}

	if g.maxChainDepth >= 0 {
		if name, _, ok := splitChainToken(msg.Body); ok {
			// The bridge relaying someone else's line verbatim: the body
			// carries our own identity as the chain head.
			if strings.EqualFold(name, g.botName) {
				return ReasonRelayChain, true
			}
		}
		if hasRepeatedNameChain(msg.Body) {
			return ReasonRepeatedName, true
		}
		if depth := chainDepth(msg.Body); depth >= g.maxChainDepth {
			return ReasonMultiHop, true
		}
	}

	return "", false
}

// splitChainToken splits a leading "name: remainder" relay token.
func splitChainToken(body string) (name, remainder string, ok bool) {
	m := chainPrefixRe.FindStringSubmatch(body)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// hasRepeatedNameChain reports a "name: name: remainder" double relay.
func hasRepeatedNameChain(body string) bool {
	first, rest, ok := splitChainToken(body)
	if !ok {
		return false
	}
	second, _, ok := splitChainToken(rest)
	return ok && strings.EqualFold(first, second)
}

// chainDepth counts leading "name: " tokens.
func chainDepth(body string) int {
	depth := 0
	for {
		_, rest, ok := splitChainToken(body)
		if !ok {
			return depth
		}
		depth++
		body = rest
	}
}

// containsWholeWord reports whether word occurs in s bounded by non-word
// characters, case-insensitively.
func containsWholeWord(s, word string) bool {
	if word == "" {
		return false
	}
	lower := strings.ToLower(s)
	word = strings.ToLower(word)
	for idx := 0; ; {
		i := strings.Index(lower[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordChar(lower[i-1])
		afterIdx := i + len(word)
		after := afterIdx >= len(lower) || !isWordChar(lower[afterIdx])
		if before && after {
			return true
		}
		idx = i + 1
	}
}

func isWordChar(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}
