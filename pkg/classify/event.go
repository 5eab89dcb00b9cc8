// Copyright 2024-2026 Aiku AI

package classify

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/guildbridge/pkg/catalog"
)

// UnknownField is the sentinel for actor and rank fields the upstream line
// omitted. Downstream formatting expects a display string, never an empty
// value.
const UnknownField = "Unknown"

// DefaultCooldown is the suppression window for duplicate events. Upstream
// delivery is flaky enough to redeliver the same line back to back, but real
// repeat events (rejoin after kick) are seconds apart at minimum.
const DefaultCooldown = time.Second

// rankTagRe strips rank-tag brackets from roster entries: "[MVP+] Steve".
var rankTagRe = regexp.MustCompile(`\[[^\]]*\]\s*`)

// EventClassifier classifies normalized lines into guild lifecycle events
// and deduplicates flaky upstream redelivery.
type EventClassifier struct {
	catalog  *catalog.Catalog
	cooldown *cooldownCache
	log      zerolog.Logger
	now      func() time.Time
}

// NewEventClassifier creates a classifier with the given cooldown window.
// A non-positive window falls back to DefaultCooldown.
func NewEventClassifier(cat *catalog.Catalog, window time.Duration, log zerolog.Logger) *EventClassifier {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &EventClassifier{
		catalog:  cat,
		cooldown: newCooldownCache(window),
		log:      log.With().Str("component", "event_classifier").Logger(),
		now:      time.Now,
	}
}

// Classify determines whether the line is a guild lifecycle event. It returns
// (nil, false) when no event rule matches, and (nil, true) with a debug
// log when a rule matched but an identical (origin, type, subject) already
// fired within the cooldown window.
func (ec *EventClassifier) Classify(line, dialect, originID string) (evt *Event, suppressed bool) {
	for _, eventType := range eventOrder {
		rules := ec.catalog.Rules(dialect, catalog.CategoryEvent, string(eventType))
		for _, rule := range rules {
			submatch := rule.Pattern.FindStringSubmatch(line)
			if submatch == nil {
				continue
			}
			evt := &Event{
				Type:      eventType,
				RawText:   line,
				OriginID:  originID,
				Timestamp: ec.now(),
			}
			applyEventGroups(evt, rule.Groups, submatch[1:])
			postProcess(evt)

			key := originID + "\x00" + string(eventType) + "\x00" + strings.ToLower(evt.SubjectKey())
			if ec.cooldown.Touch(key) {
				ec.log.Debug().
					Str("origin", originID).
					Str("type", string(eventType)).
					Str("subject", evt.SubjectKey()).
					Msg("Suppressing duplicate event within cooldown window")
				return nil, true
			}
			return evt, false
		}
	}
	return nil, false
}

// RunSweeper periodically evicts expired cooldown entries until ctx is done.
func (ec *EventClassifier) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := ec.cooldown.Sweep(); removed > 0 {
				ec.log.Debug().Int("removed", removed).Msg("Swept cooldown cache")
			}
		}
	}
}

// applyEventGroups maps captured values onto event fields by the rule's
// ordered group names.
func applyEventGroups(evt *Event, names []string, captures []string) {
	for i, name := range names {
		if i >= len(captures) || captures[i] == "" {
			continue
		}
		value := captures[i]
		switch name {
		case "username":
			evt.Username = value
		case "rank":
			evt.Rank = value
		case "actor":
			evt.Actor = value
		case "actorRank":
			// Actor's own tag is not carried on the event.
		case "fromRank":
			evt.FromRank = value
		case "toRank":
			evt.ToRank = value
		case "level":
			if n, err := strconv.Atoi(value); err == nil {
				evt.Level = n
			}
		case "motd":
			evt.MOTD = value
		case "roster":
			evt.Members = parseRoster(value)
		case "detail":
			evt.Detail = value
		}
	}
}

// postProcess applies the per-type field fixups after group mapping.
func postProcess(evt *Event) {
	switch evt.Type {
	case EventPromote, EventDemote:
		if evt.FromRank == "" {
			evt.FromRank = UnknownField
		}
		if evt.ToRank == "" {
			evt.ToRank = UnknownField
		}
		if evt.Actor == "" {
			evt.Actor = UnknownField
		}
	case EventKick, EventInvite:
		if evt.Actor == "" {
			evt.Actor = UnknownField
		}
	case EventLevel:
		if evt.Level > 0 {
			evt.PreviousLevel = evt.Level - 1
		}
	}
}

// parseRoster splits a comma-separated roster string into clean names,
// stripping rank-tag brackets and list decorations.
func parseRoster(raw string) []string {
	parts := strings.Split(raw, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		name := rankTagRe.ReplaceAllString(part, "")
		name = strings.Trim(name, " ●*")
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
