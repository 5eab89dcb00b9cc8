// Copyright 2024-2026 Aiku AI

// Package command correlates fire-and-forget administrative commands with
// their asynchronous textual replies. The upstream protocol has no request
// identifiers: a command is sent as chat, and the only evidence of its
// outcome is a later line (or lifecycle event) that happens to describe it.
// A short-lived listener watches both streams until it can resolve the
// outcome exactly once, or its deadline passes.
package command

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aiku/guildbridge/pkg/bridge"
	"github.com/aiku/guildbridge/pkg/catalog"
	"github.com/aiku/guildbridge/pkg/classify"
)

// Outcome is the terminal state of a correlation.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeError       Outcome = "command_error"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeSystemError Outcome = "system_error"
)

// Result is the single terminal outcome of one listener.
type Result struct {
	Outcome Outcome
	// Text is the line or event text that resolved the listener.
	Text string
	// Groups holds the named captures of the resolving pattern match.
	Groups map[string]string
	// Duration is the time from listener creation to resolution.
	Duration time.Duration
}

// StreamSource is the subscription surface the correlator attaches
// listeners to. *bridge.Streams satisfies it; tests inject their own.
type StreamSource interface {
	SubscribeLines() (<-chan bridge.Line, func())
	SubscribeEvents() (<-chan classify.Event, func())
}

// DialectFunc resolves the pattern dialect for an origin.
type DialectFunc func(originID string) string

// Correlator creates and resolves command listeners. Safe for concurrent
// use; each listener runs its own watch goroutine and is resolved at most
// once no matter how many sources race.
type Correlator struct {
	catalog    *catalog.Catalog
	streams    StreamSource
	dialectFor DialectFunc
	log        zerolog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*Listener
}

// Listener is one in-flight command watch. Owned exclusively by the
// correlator; external callers interact through the Handle.
type Listener struct {
	ID            uuid.UUID
	OriginID      string
	CommandType   string
	TargetSubject string
	CreatedAt     time.Time
	Deadline      time.Time

	spec     Spec
	global   bool
	resolved atomic.Bool
	result   chan Result
	stop     chan struct{}
	stopOnce sync.Once
}

// Handle is the caller-facing future for one listener.
type Handle struct {
	ID     uuid.UUID
	result <-chan Result
}

// Done returns a channel that delivers the terminal Result exactly once.
func (h *Handle) Done() <-chan Result {
	return h.result
}

// New creates a correlator reading from the given stream source.
func New(cat *catalog.Catalog, streams StreamSource, dialectFor DialectFunc, log zerolog.Logger) *Correlator {
	return &Correlator{
		catalog:    cat,
		streams:    streams,
		dialectFor: dialectFor,
		log:        log.With().Str("component", "correlator").Logger(),
		active:     make(map[uuid.UUID]*Listener),
	}
}

// Create registers a listener for one issued command and returns its handle.
// The caller sends the command text itself; the correlator only listens.
// The handle always completes within the deadline with a terminal outcome.
func (c *Correlator) Create(originID, commandType, targetSubject string, deadline time.Duration) (*Handle, error) {
	spec, ok := LookupSpec(commandType)
	if !ok {
		return nil, fmt.Errorf("unknown command type %q", commandType)
	}
	if deadline <= 0 {
		return nil, fmt.Errorf("deadline must be positive")
	}

	subject := strings.ToLower(targetSubject)
	now := time.Now()
	l := &Listener{
		ID:            uuid.New(),
		OriginID:      originID,
		CommandType:   strings.ToLower(commandType),
		TargetSubject: subject,
		CreatedAt:     now,
		Deadline:      now.Add(deadline),
		spec:          spec,
		global:        subject == GlobalSubject || subject == "*",
		result:        make(chan Result, 1),
		stop:          make(chan struct{}),
	}

	lines, cancelLines := c.streams.SubscribeLines()
	events, cancelEvents := c.streams.SubscribeEvents()
	if lines == nil || events == nil {
		cancelLines()
		cancelEvents()
		// Attachment failure is fatal to this listener only.
		l.result <- Result{Outcome: OutcomeSystemError}
		return &Handle{ID: l.ID, result: l.result}, nil
	}

	c.mu.Lock()
	c.active[l.ID] = l
	c.mu.Unlock()

	c.log.Debug().
		Str("listener_id", l.ID.String()).
		Str("origin", originID).
		Str("command", l.CommandType).
		Str("subject", subject).
		Dur("deadline", deadline).
		Msg("Created command listener")

	go c.watch(l, lines, events, cancelLines, cancelEvents, deadline)

	return &Handle{ID: l.ID, result: l.result}, nil
}

// watch consumes both streams until the listener resolves. The deadline
// timer is the only suspension point; it is stopped on early resolution.
func (c *Correlator) watch(l *Listener, lines <-chan bridge.Line, events <-chan classify.Event, cancelLines, cancelEvents func(), deadline time.Duration) {
	defer cancelLines()
	defer cancelEvents()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-timer.C:
			c.resolve(l, Result{Outcome: OutcomeTimeout})
			return
		case line, ok := <-lines:
			if !ok {
				c.resolve(l, Result{Outcome: OutcomeSystemError})
				return
			}
			if line.OriginID != l.OriginID {
				continue
			}
			if res, done := c.matchLine(l, line.Text); done {
				c.resolve(l, res)
				return
			}
		case evt, ok := <-events:
			if !ok {
				c.resolve(l, Result{Outcome: OutcomeSystemError})
				return
			}
			if evt.OriginID != l.OriginID {
				continue
			}
			if l.spec.matchesEvent(&evt, l.TargetSubject) {
				c.resolve(l, Result{Outcome: OutcomeSuccess, Text: evt.RawText})
				return
			}
		}
	}
}

// matchLine tests one normalized line against the listener's error and
// success patterns. A success match that fails subject validation does not
// resolve; matching continues with later patterns and later lines.
func (c *Correlator) matchLine(l *Listener, text string) (Result, bool) {
	dialect := c.dialectFor(l.OriginID)

	// Error patterns resolve on any match; the pattern itself encodes all
	// the subject specificity there is.
	for _, rule := range c.catalog.Rules(dialect, catalog.CategoryCommand, l.CommandType+".error") {
		if m := rule.Pattern.FindStringSubmatch(text); m != nil {
			return Result{
				Outcome: OutcomeError,
				Text:    text,
				Groups:  captureGroups(rule, m),
			}, true
		}
	}

	for _, rule := range c.catalog.Rules(dialect, catalog.CategoryCommand, l.CommandType+".success") {
		m := rule.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		groups := captureGroups(rule, m)
		if l.global {
			// Guild-wide commands are validated by a scope marker in the
			// matched text, not by username.
			if !l.spec.hasScopeMarker(text) {
				continue
			}
		} else if l.TargetSubject != "" {
			if !strings.EqualFold(groups["username"], l.TargetSubject) {
				continue
			}
		}
		return Result{Outcome: OutcomeSuccess, Text: text, Groups: groups}, true
	}

	return Result{}, false
}

// captureGroups maps a submatch onto the rule's ordered group names.
func captureGroups(rule *catalog.Rule, submatch []string) map[string]string {
	groups := make(map[string]string, len(rule.Groups))
	for i, name := range rule.Groups {
		if name == "" || i+1 >= len(submatch) {
			continue
		}
		groups[name] = submatch[i+1]
	}
	return groups
}

// resolve delivers the terminal result. Whichever source observes the
// resolved flag still unset and flips it first wins; every other caller is
// a no-op. Resolution detaches the listener from the active set.
func (c *Correlator) resolve(l *Listener, res Result) bool {
	if !l.resolved.CompareAndSwap(false, true) {
		return false
	}
	res.Duration = time.Since(l.CreatedAt)
	l.result <- res
	l.stopOnce.Do(func() { close(l.stop) })

	c.mu.Lock()
	delete(c.active, l.ID)
	c.mu.Unlock()

	c.log.Debug().
		Str("listener_id", l.ID.String()).
		Str("command", l.CommandType).
		Str("outcome", string(res.Outcome)).
		Dur("duration", res.Duration).
		Msg("Resolved command listener")
	return true
}

// Cancel forces an immediate cancelled resolution. It reports whether this
// call was the one that resolved the listener.
func (c *Correlator) Cancel(id uuid.UUID) bool {
	c.mu.Lock()
	l, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	return c.resolve(l, Result{Outcome: OutcomeCancelled})
}

// ActiveCount reports the number of unresolved listeners.
func (c *Correlator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
