// Copyright 2024-2026 Aiku AI

// Package catalog loads and serves the per-dialect pattern rule sets that
// drive chat classification, event classification, noise filtering, and
// command-response matching.
//
// Rules are defined in JSON dialect files (one document per upstream server
// dialect) and compiled once at load. A built-in "standard" dialect ships
// embedded in the binary; on-disk files override or extend it. A malformed
// rule is skipped with a logged warning and never fails the whole load.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Category names a top-level rule group within a dialect.
type Category string

const (
	CategoryChat    Category = "chat"
	CategoryEvent   Category = "event"
	CategoryIgnore  Category = "ignore"
	CategoryCommand Category = "command"
)

// DefaultDialect is the built-in dialect every lookup falls back to when the
// requested dialect is unknown.
const DefaultDialect = "standard"

//go:embed dialects/standard.json
var standardDialect []byte

// Rule is a single compiled classification pattern. Immutable once loaded;
// identified by its (dialect, category, subcategory, index) position.
type Rule struct {
	// Pattern is the compiled expression. Never nil.
	Pattern *regexp.Regexp
	// Source is the pattern string as written in the dialect file.
	Source string
	// Groups maps capture-group positions to field names, in order.
	// len(Groups) never exceeds Pattern.NumSubexp().
	Groups []string
	// Description is the human-readable rule summary from the dialect file.
	Description string
	// Direction tags private-message rules as "incoming" or "outgoing".
	Direction string
	// Custom marks rules added at runtime via AddCustomRule.
	Custom bool
}

// RuleSpec is the JSON shape of one rule entry in a dialect file.
type RuleSpec struct {
	Pattern     string   `json:"pattern"`
	Flags       string   `json:"flags,omitempty"`
	Groups      []string `json:"groups,omitempty"`
	Description string   `json:"description,omitempty"`
	Direction   string   `json:"direction,omitempty"`
}

// dialectFile is the JSON shape of one per-dialect rule document.
type dialectFile struct {
	Dialect string                           `json:"dialect"`
	Chat    map[string][]RuleSpec            `json:"chat,omitempty"`
	Event   map[string][]RuleSpec            `json:"event,omitempty"`
	Ignore  []RuleSpec                       `json:"ignore,omitempty"`
	Command map[string]map[string][]RuleSpec `json:"command,omitempty"`
}

type ruleKey struct {
	dialect     string
	category    Category
	subcategory string
}

// Catalog holds the compiled rule sets for every loaded dialect.
// All methods are safe for concurrent use; rules themselves are shared
// read-only with the classifiers.
type Catalog struct {
	log zerolog.Logger

	mu       sync.RWMutex
	rules    map[ruleKey][]*Rule
	dialects map[string]struct{}
	// rejected counts rules skipped during load, per dialect, for audit.
	rejected map[string]int
}

// New creates a catalog pre-loaded with the embedded standard dialect.
func New(log zerolog.Logger) *Catalog {
	c := &Catalog{
		log:      log.With().Str("component", "catalog").Logger(),
		rules:    make(map[ruleKey][]*Rule),
		dialects: make(map[string]struct{}),
		rejected: make(map[string]int),
	}
	if err := c.loadBytes(standardDialect, "embedded:standard"); err != nil {
		// The embedded document is compiled into the binary; a parse failure
		// here is a build defect, not a runtime condition.
		panic(fmt.Sprintf("embedded standard dialect is invalid: %v", err))
	}
	return c
}

// LoadDir loads every *.json dialect file in dir, in lexical order.
// Individual file failures are logged and skipped.
func (c *Catalog) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read pattern dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := c.LoadFile(path); err != nil {
			c.log.Warn().Err(err).Str("file", path).Msg("Skipping unreadable dialect file")
		}
	}
	return nil
}

// LoadFile loads a single dialect file, replacing that dialect's previously
// loaded rules. Runtime custom rules for the dialect are preserved.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read dialect file: %w", err)
	}
	return c.loadBytes(data, path)
}

func (c *Catalog) loadBytes(data []byte, source string) error {
	var df dialectFile
	if err := json.Unmarshal(data, &df); err != nil {
		return fmt.Errorf("failed to parse dialect document %s: %w", source, err)
	}
	if df.Dialect == "" {
		return fmt.Errorf("dialect document %s has no dialect name", source)
	}

	compiled := make(map[ruleKey][]*Rule)
	rejected := 0
	add := func(category Category, sub string, specs []RuleSpec) {
		k := ruleKey{dialect: df.Dialect, category: category, subcategory: sub}
		for i, spec := range specs {
			rule, err := compileSpec(spec, false)
			if err != nil {
				rejected++
				c.log.Warn().Err(err).
					Str("dialect", df.Dialect).
					Str("category", string(category)).
					Str("subcategory", sub).
					Int("index", i).
					Msg("Skipping malformed pattern rule")
				continue
			}
			compiled[k] = append(compiled[k], rule)
		}
	}

	for sub, specs := range df.Chat {
		add(CategoryChat, sub, specs)
	}
	for sub, specs := range df.Event {
		add(CategoryEvent, sub, specs)
	}
	add(CategoryIgnore, "", df.Ignore)
	for cmd, outcomes := range df.Command {
		for outcome, specs := range outcomes {
			add(CategoryCommand, cmd+"."+outcome, specs)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Drop the dialect's previous non-custom rules, keep runtime additions.
	for k, rules := range c.rules {
		if k.dialect != df.Dialect {
			continue
		}
		var kept []*Rule
		for _, r := range rules {
			if r.Custom {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(c.rules, k)
		} else {
			c.rules[k] = kept
		}
	}
	total := 0
	for k, rules := range compiled {
		// New built-in rules precede surviving custom rules.
		c.rules[k] = append(rules, c.rules[k]...)
		total += len(rules)
	}
	c.dialects[df.Dialect] = struct{}{}
	c.rejected[df.Dialect] = rejected

	c.log.Info().
		Str("dialect", df.Dialect).
		Str("source", source).
		Int("rules", total).
		Int("rejected", rejected).
		Msg("Loaded dialect rules")
	return nil
}

// compileSpec compiles one rule entry and validates its group mapping.
func compileSpec(spec RuleSpec, custom bool) (*Rule, error) {
	if spec.Pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	src := spec.Pattern
	flags := spec.Flags
	if flags == "none" {
		flags = ""
	}
	if flags != "" {
		for _, f := range flags {
			switch f {
			case 'i', 'm', 's':
			default:
				return nil, fmt.Errorf("unsupported pattern flag %q", string(f))
			}
		}
		src = "(?" + flags + ")" + src
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", spec.Pattern, err)
	}
	if len(spec.Groups) > re.NumSubexp() {
		return nil, fmt.Errorf("pattern %q declares %d groups but captures %d",
			spec.Pattern, len(spec.Groups), re.NumSubexp())
	}
	return &Rule{
		Pattern:     re,
		Source:      spec.Pattern,
		Groups:      spec.Groups,
		Description: spec.Description,
		Direction:   spec.Direction,
		Custom:      custom,
	}, nil
}

// Rules returns the ordered rule list for (dialect, category, subcategory).
// An unknown dialect falls back to the default dialect; that is a degraded
// mode worth logging, not an error. The returned slice must not be mutated.
func (c *Catalog) Rules(dialect string, category Category, subcategory string) []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.dialects[dialect]; !ok && dialect != DefaultDialect {
		c.log.Debug().
			Str("dialect", dialect).
			Str("fallback", DefaultDialect).
			Msg("Unknown dialect, serving default rules")
		dialect = DefaultDialect
	}
	return c.rules[ruleKey{dialect: dialect, category: category, subcategory: subcategory}]
}

// AddCustomRule compiles and appends a runtime rule for the given key.
// Only the affected (dialect, category, subcategory) entry changes; all other
// cached rule lists are untouched.
func (c *Catalog) AddCustomRule(dialect string, category Category, subcategory string, spec RuleSpec) error {
	rule, err := compileSpec(spec, true)
	if err != nil {
		return err
	}
	k := ruleKey{dialect: dialect, category: category, subcategory: subcategory}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[k] = append(c.rules[k], rule)
	c.dialects[dialect] = struct{}{}
	c.log.Info().
		Str("dialect", dialect).
		Str("category", string(category)).
		Str("subcategory", subcategory).
		Str("pattern", spec.Pattern).
		Msg("Added custom rule")
	return nil
}

// Dialects returns the loaded dialect names, sorted.
func (c *Catalog) Dialects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.dialects))
	for d := range c.dialects {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Stats reports per-dialect loaded rule counts and rejected rule counts.
func (c *Catalog) Stats() map[string]DialectStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]DialectStats, len(c.dialects))
	for d := range c.dialects {
		out[d] = DialectStats{Rejected: c.rejected[d]}
	}
	for k, rules := range c.rules {
		s := out[k.dialect]
		s.Rules += len(rules)
		out[k.dialect] = s
	}
	return out
}

// DialectStats summarizes one dialect's load outcome.
type DialectStats struct {
	Rules    int `json:"rules"`
	Rejected int `json:"rejected"`
}
