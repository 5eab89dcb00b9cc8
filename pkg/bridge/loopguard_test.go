// Copyright 2024-2026 Aiku AI

package bridge

import (
	"testing"

	"github.com/aiku/guildbridge/pkg/classify"
)

func guardMsg(username, body string) *classify.Message {
	return &classify.Message{
		Kind:     classify.KindGuildChat,
		Username: username,
		Body:     body,
		OriginID: "g",
	}
}

func TestLoopGuard_SelfEcho(t *testing.T) {
	t.Parallel()
	g := NewLoopGuard("BotName", 3)

	reason, looped := g.Check(guardMsg("BotName", "hello"))
	if !looped || reason != ReasonSelfEcho {
		t.Errorf("got (%q, %v), want self-echo", reason, looped)
	}

	// Case-insensitive identity match.
	if _, looped := g.Check(guardMsg("botname", "hello")); !looped {
		t.Error("lowercased own identity must still be suppressed")
	}
}

func TestLoopGuard_RelayChain(t *testing.T) {
	t.Parallel()
	g := NewLoopGuard("BotName", 3)

	// The bridge's own identity at the head of the body: some other bridge
	// relayed our output.
	reason, looped := g.Check(guardMsg("OtherBridge", "BotName: hello"))
	if !looped || reason != ReasonRelayChain {
		t.Errorf("got (%q, %v), want relay-chain", reason, looped)
	}
}

func TestLoopGuard_OwnEchoOfRelayedLine(t *testing.T) {
	t.Parallel()
	g := NewLoopGuard("BotName", 3)

	// Body "BotName: hello" classified under our own username: suppressed.
	if _, looped := g.Check(guardMsg("BotName", "BotName: hello")); !looped {
		t.Error("own relayed line must be suppressed")
	}
}

func TestLoopGuard_LegitimateColonMessageNotSuppressed(t *testing.T) {
	t.Parallel()
	g := NewLoopGuard("BotName", 3)

	reason, looped := g.Check(guardMsg("Carol", "Carol: remember, 3:00pm raid"))
	if looped {
		t.Errorf("legitimate colon message suppressed as %q", reason)
	}
}

func TestLoopGuard_RepeatedNameChain(t *testing.T) {
	t.Parallel()
	g := NewLoopGuard("BotName", 3)

	reason, looped := g.Check(guardMsg("OtherBridge", "Steve: Steve: hi"))
	if !looped || reason != ReasonRepeatedName {
		t.Errorf("got (%q, %v), want repeated-name", reason, looped)
	}
}

func TestLoopGuard_MultiHopChain(t *testing.T) {
	t.Parallel()
	g := NewLoopGuard("BotName", 3)

	reason, looped := g.Check(guardMsg("OtherBridge", "alice: bob: carol: hi"))
	if !looped || reason != ReasonMultiHop {
		t.Errorf("got (%q, %v), want multi-hop", reason, looped)
	}

	// Two hops is below the default threshold.
	if _, looped := g.Check(guardMsg("OtherBridge", "alice: bob: hi")); looped {
		t.Error("two-hop chain below threshold must pass")
	}
}

func TestLoopGuard_ChainDepthConfigurable(t *testing.T) {
	t.Parallel()
	strict := NewLoopGuard("BotName", 2)
	if _, looped := strict.Check(guardMsg("x", "alice: bob: hi")); !looped {
		t.Error("depth 2 must catch a two-hop chain")
	}

	disabled := NewLoopGuard("BotName", -1)
	if _, looped := disabled.Check(guardMsg("x", "BotName: alice: bob: carol: hi")); looped {
		t.Error("negative depth must disable chain detection")
	}
	// Self-echo is never disabled.
	if _, looped := disabled.Check(guardMsg("BotName", "hi")); !looped {
		t.Error("self-echo must fire even with chain detection disabled")
	}
}

func TestLoopGuard_SelfMention(t *testing.T) {
	t.Parallel()
	g := NewLoopGuard("BotName", -1)

	// A self-sent message mentioning our own identity mid-body reports the
	// mention reason, not the generic echo reason.
	reason, looped := g.Check(guardMsg("BotName", "relayed for BotName earlier"))
	if !looped {
		t.Fatal("self message must be suppressed")
	}
	if reason != ReasonSelfMention {
		t.Errorf("reason: got %s, want %s", reason, ReasonSelfMention)
	}

	// Without the mention, the same sender is a plain self-echo.
	reason, looped = g.Check(guardMsg("BotName", "hello guild"))
	if !looped || reason != ReasonSelfEcho {
		t.Errorf("plain self message: got (%s, %v), want self-echo", reason, looped)
	}

	// A different user mentioning the bot is fine.
	if _, looped := g.Check(guardMsg("Carol", "thanks BotName!")); looped {
		t.Error("third-party mention of the bot must pass")
	}
}

func TestContainsWholeWord(t *testing.T) {
	t.Parallel()
	cases := []struct {
		s, word string
		want    bool
	}{
		{"thanks BotName!", "botname", true},
		{"BotName", "botname", true},
		{"BotNamer", "botname", false},
		{"xBotName", "botname", false},
		{"", "botname", false},
		{"anything", "", false},
	}
	for _, tc := range cases {
		if got := containsWholeWord(tc.s, tc.word); got != tc.want {
			t.Errorf("containsWholeWord(%q, %q) = %v, want %v", tc.s, tc.word, got, tc.want)
		}
	}
}
