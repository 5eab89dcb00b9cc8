// Copyright 2024-2026 Aiku AI

package classify

import (
	"regexp"

	"github.com/rs/zerolog"

	"github.com/aiku/guildbridge/pkg/catalog"
)

// chatPrecedence fixes the order chat rule sets are tried. Rules within a set
// are authored most-specific-first; the set order matters just as much,
// because dialects emit visually similar lines for different categories.
var chatPrecedence = []struct {
	subcategory string
	kind        MessageKind
}{
	{"guild", KindGuildChat},
	{"officer", KindOfficerChat},
	{"private", KindPrivate},
	{"party", KindParty},
	{"system", KindSystem},
}

// bareUsernameRe matches a plausible bare username token: word characters,
// at most sixteen, the game's account-name limit.
var bareUsernameRe = regexp.MustCompile(`^\w{1,16}$`)

// ChatClassifier classifies normalized lines into chat message kinds.
// It is stateless apart from the shared read-only catalog and therefore safe
// for concurrent use across connections.
type ChatClassifier struct {
	catalog *catalog.Catalog
	log     zerolog.Logger
}

// NewChatClassifier creates a classifier backed by the given catalog.
func NewChatClassifier(cat *catalog.Catalog, log zerolog.Logger) *ChatClassifier {
	return &ChatClassifier{
		catalog: cat,
		log:     log.With().Str("component", "chat_classifier").Logger(),
	}
}

// Classify determines the chat kind of a normalized line and extracts the
// sender fields. First matching rule wins. Lines matching no rule and no
// ignore pattern come back as KindUnrecognized so callers can audit catalog
// coverage gaps; they are never silently dropped.
func (cc *ChatClassifier) Classify(line, dialect, originID string) Message {
	for _, entry := range chatPrecedence {
		rules := cc.catalog.Rules(dialect, catalog.CategoryChat, entry.subcategory)
		for i, rule := range rules {
			submatch := rule.Pattern.FindStringSubmatch(line)
			if submatch == nil {
				continue
			}
			msg := Message{
				Kind:      entry.kind,
				Direction: rule.Direction,
				RawText:   line,
				OriginID:  originID,
				RuleIndex: i,
			}
			applyChatGroups(&msg, rule.Groups, submatch[1:])
			if entry.kind != KindSystem {
				fillChatHeuristics(&msg, submatch[1:])
			}
			return msg
		}
	}

	for i, rule := range cc.catalog.Rules(dialect, catalog.CategoryIgnore, "") {
		if rule.Pattern.MatchString(line) {
			reason := rule.Description
			if reason == "" {
				reason = rule.Source
			}
			return Message{
				Kind:         KindIgnored,
				IgnoreReason: reason,
				RawText:      line,
				OriginID:     originID,
				RuleIndex:    i,
			}
		}
	}

	return Message{
		Kind:      KindUnrecognized,
		RawText:   line,
		OriginID:  originID,
		RuleIndex: -1,
	}
}

// applyChatGroups maps captured values onto message fields by the rule's
// ordered group names.
func applyChatGroups(msg *Message, names []string, captures []string) {
	for i, name := range names {
		if i >= len(captures) || captures[i] == "" {
			continue
		}
		switch name {
		case "username":
			msg.Username = captures[i]
		case "message", "body":
			msg.Body = captures[i]
		case "rank", "guildRank":
			msg.Rank = captures[i]
		case "direction":
			msg.Direction = captures[i]
		}
	}
}

// fillChatHeuristics resolves ambiguous multi-group matches: when the rule's
// group mapping yields no obvious username or body, pick the first captured
// bare-word token of plausible username length as the username and the last
// non-empty capture as the body.
func fillChatHeuristics(msg *Message, captures []string) {
	if msg.Username == "" {
		for _, c := range captures {
			if c != "" && bareUsernameRe.MatchString(c) {
				msg.Username = c
				break
			}
		}
	}
	if msg.Body == "" {
		for i := len(captures) - 1; i >= 0; i-- {
			if captures[i] != "" {
				msg.Body = captures[i]
				break
			}
		}
	}
}
