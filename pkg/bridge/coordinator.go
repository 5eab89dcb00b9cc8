// Copyright 2024-2026 Aiku AI

// Package bridge orchestrates the classification pipeline: it normalizes each
// raw line, runs the event and chat classifiers in precedence order, applies
// the relay loop guard and dedup cache, and fans the results out on typed
// publish-subscribe streams.
package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/guildbridge/pkg/classify"
	"github.com/aiku/guildbridge/pkg/minetext"
)

// Category is the coordinator's verdict for one raw line.
type Category string

const (
	CategoryEvent        Category = "event"
	CategoryMessage      Category = "message"
	CategoryIgnored      Category = "ignored"
	CategoryUnrecognized Category = "unrecognized"
)

// Result is the outcome of processing one raw line. Exactly one of Event and
// Message is set for the event and message categories; ignored results carry
// the suppression reason.
type Result struct {
	Category Category
	Event    *classify.Event
	Message  *classify.Message
	Reason   string
}

// Coordinator is the orchestration point of the pipeline. The pipeline
// itself is a pure function of its inputs; the only shared mutable state is
// the dedup cache and the classifiers' cooldown cache, both internally
// synchronized, so Process is safe to call concurrently across connections.
type Coordinator struct {
	cfg        *Config
	normalizer minetext.Normalizer
	events     *classify.EventClassifier
	chat       *classify.ChatClassifier
	guard      *LoopGuard
	dedup      *dedupCache
	streams    *Streams
	log        zerolog.Logger
}

// NewCoordinator wires the pipeline. All dependencies are injected; the
// coordinator owns only the dedup cache.
func NewCoordinator(cfg *Config, events *classify.EventClassifier, chat *classify.ChatClassifier, streams *Streams, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		events:     events,
		chat:       chat,
		guard:      NewLoopGuard(cfg.BotName, cfg.LoopGuard.MaxChainDepth),
		dedup:      newDedupCache(cfg.DedupWindow),
		streams:    streams,
		log:        log.With().Str("component", "coordinator").Logger(),
	}
}

// Streams exposes the coordinator's output streams.
func (co *Coordinator) Streams() *Streams {
	return co.streams
}

// Process classifies one raw line from the given origin. Events are tried
// before chat because event text is a strict subset of possible chat text
// and structurally more specific. One malformed line must never halt the
// stream: any classifier panic is caught here and reported as unrecognized.
func (co *Coordinator) Process(raw any, originID string) (result Result) {
	line := co.normalizer.Normalize(raw)
	dialect := co.cfg.DialectFor(originID)

	defer func() {
		if r := recover(); r != nil {
			co.log.Error().
				Str("origin", originID).
				Str("line", line).
				Any("panic", r).
				Msg("Classifier panicked, treating line as unrecognized")
			result = Result{
				Category: CategoryUnrecognized,
				Message: &classify.Message{
					Kind:      classify.KindUnrecognized,
					RawText:   line,
					OriginID:  originID,
					RuleIndex: -1,
				},
			}
		}
	}()

	co.streams.lines.Publish(Line{OriginID: originID, Text: line})

	if evt, suppressed := co.events.Classify(line, dialect, originID); suppressed {
		return Result{Category: CategoryIgnored, Reason: "duplicate-event"}
	} else if evt != nil {
		co.streams.events.Publish(*evt)
		return Result{Category: CategoryEvent, Event: evt}
	}

	msg := co.chat.Classify(line, dialect, originID)
	switch msg.Kind {
	case classify.KindIgnored:
		return Result{Category: CategoryIgnored, Message: &msg, Reason: msg.IgnoreReason}
	case classify.KindUnrecognized:
		return Result{Category: CategoryUnrecognized, Message: &msg}
	}

	if reason, looped := co.guard.Check(&msg); looped {
		co.log.Debug().
			Str("origin", originID).
			Str("username", msg.Username).
			Str("reason", reason).
			Msg("Suppressing relayed message")
		msg.Kind = classify.KindIgnored
		msg.IgnoreReason = reason
		return Result{Category: CategoryIgnored, Message: &msg, Reason: reason}
	}

	hash := hashMessage(originID, msg.Username, msg.Body)
	if duplicate, count := co.dedup.Seen(hash); duplicate {
		co.log.Debug().
			Str("origin", originID).
			Str("username", msg.Username).
			Int("count", count).
			Msg("Suppressing duplicate message")
		return Result{Category: CategoryIgnored, Message: &msg, Reason: "duplicate-message"}
	}

	co.streams.messages.Publish(msg)
	return Result{Category: CategoryMessage, Message: &msg}
}

// RunSweeper periodically evicts expired dedup entries until ctx is done.
func (co *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
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
			if removed := co.dedup.Sweep(); removed > 0 {
				co.log.Debug().Int("removed", removed).Msg("Swept dedup cache")
			}
		}
	}
}
