// Copyright 2024-2026 Aiku AI

package classify

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/aiku/guildbridge/pkg/catalog"
)

func newTestChatClassifier(t *testing.T) *ChatClassifier {
	t.Helper()
	return NewChatClassifier(catalog.New(zerolog.Nop()), zerolog.Nop())
}

func TestClassify_GuildChat(t *testing.T) {
	t.Parallel()
	cc := newTestChatClassifier(t)

	msg := cc.Classify("Guild > Steve: gg", "standard", "guild-1")
	if msg.Kind != KindGuildChat {
		t.Fatalf("kind: got %s, want guild_chat", msg.Kind)
	}
	if msg.Username != "Steve" {
		t.Errorf("username: got %q, want Steve", msg.Username)
	}
	if msg.Body != "gg" {
		t.Errorf("body: got %q, want gg", msg.Body)
	}
	if msg.OriginID != "guild-1" {
		t.Errorf("origin: got %q", msg.OriginID)
	}
	if msg.RuleIndex != 0 {
		t.Errorf("rule index: got %d, want 0", msg.RuleIndex)
	}
}

func TestClassify_GuildChatWithRanks(t *testing.T) {
	t.Parallel()
	cc := newTestChatClassifier(t)

	msg := cc.Classify("Guild > [MVP+] Steve [Officer]: hello there", "standard", "g")
	if msg.Kind != KindGuildChat {
		t.Fatalf("kind: got %s", msg.Kind)
	}
	if msg.Username != "Steve" {
		t.Errorf("username: got %q", msg.Username)
	}
	if msg.Rank != "Officer" {
		t.Errorf("rank: got %q, want the guild rank tag", msg.Rank)
	}
	if msg.Body != "hello there" {
		t.Errorf("body: got %q", msg.Body)
	}
}

func TestClassify_Precedence(t *testing.T) {
	t.Parallel()
	cc := newTestChatClassifier(t)

	cases := []struct {
		line string
		kind MessageKind
	}{
		{"Guild > Alice: hi", KindGuildChat},
		{"Officer > Alice: promote Bob?", KindOfficerChat},
		{"From Alice: you there?", KindPrivate},
		{"To Alice: yes", KindPrivate},
		{"Party > Alice: pulling", KindParty},
		{"[WATCHDOG ANNOUNCEMENT] Staff removed a player.", KindSystem},
	}
	for _, tc := range cases {
		if msg := cc.Classify(tc.line, "standard", "g"); msg.Kind != tc.kind {
			t.Errorf("%q: got %s, want %s", tc.line, msg.Kind, tc.kind)
		}
	}
}

func TestClassify_PrivateDirection(t *testing.T) {
	t.Parallel()
	cc := newTestChatClassifier(t)

	in := cc.Classify("From [VIP] Carol: hey", "standard", "g")
	if in.Direction != "incoming" || in.Username != "Carol" || in.Body != "hey" {
		t.Errorf("incoming DM: got %+v", in)
	}
	out := cc.Classify("To Carol: hey back", "standard", "g")
	if out.Direction != "outgoing" {
		t.Errorf("outgoing DM direction: got %q", out.Direction)
	}
}

func TestClassify_Ignored(t *testing.T) {
	t.Parallel()
	cc := newTestChatClassifier(t)

	msg := cc.Classify("Friend > Dave joined.", "standard", "g")
	if msg.Kind != KindIgnored {
		t.Fatalf("kind: got %s, want ignored", msg.Kind)
	}
	if msg.IgnoreReason == "" {
		t.Error("ignored message must carry a reason")
	}
}

func TestClassify_Unrecognized(t *testing.T) {
	t.Parallel()
	cc := newTestChatClassifier(t)

	msg := cc.Classify("some line no rule knows about", "standard", "g")
	if msg.Kind != KindUnrecognized {
		t.Fatalf("kind: got %s, want unrecognized", msg.Kind)
	}
	if msg.RawText != "some line no rule knows about" {
		t.Errorf("raw text not preserved: %q", msg.RawText)
	}
	if msg.RuleIndex != -1 {
		t.Errorf("rule index: got %d, want -1", msg.RuleIndex)
	}
}

func TestClassify_SystemBroadcastWithColonIsNotGuildChat(t *testing.T) {
	t.Parallel()
	cc := newTestChatClassifier(t)

	// A broadcast containing a colon must not be mistaken for member chat.
	msg := cc.Classify("[WATCHDOG ANNOUNCEMENT] Banned: 312 players", "standard", "g")
	if msg.Kind != KindSystem {
		t.Errorf("kind: got %s, want system", msg.Kind)
	}
}

func TestClassify_UsernameHeuristic(t *testing.T) {
	t.Parallel()
	cc := newTestChatClassifier(t)

	// An ambiguous custom rule with unnamed groups: the first bare-word
	// capture of username length becomes the username, the last non-empty
	// capture becomes the body.
	err := cc.catalog.AddCustomRule("heuristic", catalog.CategoryChat, "guild", catalog.RuleSpec{
		Pattern: `^\[G\] ([^ ]+) (\w{1,16}) > (.+)$`,
		Groups:  []string{"", "", ""},
	})
	if err != nil {
		t.Fatal(err)
	}

	msg := cc.Classify("[G] *** Steve > hello world", "heuristic", "g")
	if msg.Kind != KindGuildChat {
		t.Fatalf("kind: got %s", msg.Kind)
	}
	if msg.Username != "Steve" {
		t.Errorf("heuristic username: got %q, want Steve", msg.Username)
	}
	if msg.Body != "hello world" {
		t.Errorf("heuristic body: got %q, want last capture", msg.Body)
	}
}

func TestClassify_UnknownDialectUsesDefaultRules(t *testing.T) {
	t.Parallel()
	cc := newTestChatClassifier(t)

	msg := cc.Classify("Guild > Steve: gg", "not-a-dialect", "g")
	if msg.Kind != KindGuildChat {
		t.Errorf("kind: got %s, want guild_chat via default dialect", msg.Kind)
	}
}
