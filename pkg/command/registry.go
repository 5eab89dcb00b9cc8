// Copyright 2024-2026 Aiku AI

package command

import (
	"strings"

	"github.com/aiku/guildbridge/pkg/classify"
)

// GlobalSubject is the target that marks a command as guild-wide rather than
// aimed at a single member.
const GlobalSubject = "everyone"

// Spec describes how one command type's replies are recognized.
type Spec struct {
	// ScopeMarkers validate a guild-wide command's success line: the
	// matched text must contain one of them. Member-targeted matches are
	// validated by username instead.
	ScopeMarkers []string
	// EventTypes are lifecycle events treated as authoritative success for
	// this command, independent of the text patterns. The structured event
	// is more reliable than free text.
	EventTypes []classify.EventType
}

// registry maps command types to their reply semantics. The text patterns
// themselves live in the pattern catalog under "<type>.success" and
// "<type>.error".
var registry = map[string]Spec{
	"kick": {
		EventTypes: []classify.EventType{classify.EventKick},
	},
	"mute": {
		ScopeMarkers: []string{"guild's chat", "guild chat"},
	},
	"unmute": {
		ScopeMarkers: []string{"guild's chat", "guild chat", "no longer muted"},
	},
	"promote": {
		EventTypes: []classify.EventType{classify.EventPromote},
	},
	"demote": {
		EventTypes: []classify.EventType{classify.EventDemote},
	},
	"invite": {
		EventTypes: []classify.EventType{classify.EventInvite},
	},
}

// LookupSpec returns the reply semantics for a command type.
func LookupSpec(commandType string) (Spec, bool) {
	spec, ok := registry[strings.ToLower(commandType)]
	return spec, ok
}

// CommandTypes returns the known command type names.
func CommandTypes() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// matchesEvent reports whether a classified event is an authoritative
// success signal for a listener of this spec aimed at subject.
func (s Spec) matchesEvent(evt *classify.Event, subject string) bool {
	for _, et := range s.EventTypes {
		if evt.Type == et && strings.EqualFold(evt.Username, subject) {
			return true
		}
	}
	return false
}

// hasScopeMarker reports whether text contains one of the spec's guild-wide
// scope markers, case-insensitively.
func (s Spec) hasScopeMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range s.ScopeMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
