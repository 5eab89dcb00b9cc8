// Copyright 2024-2026 Aiku AI

// Package classify turns normalized game chat lines into typed records: chat
// messages with extracted sender fields, or guild lifecycle events. It is the
// semantic core of the bridge; everything downstream consumes its output.
package classify

import "time"

// MessageKind is the chat classification of a single line.
type MessageKind string

const (
	KindGuildChat    MessageKind = "guild_chat"
	KindOfficerChat  MessageKind = "officer_chat"
	KindPrivate      MessageKind = "private"
	KindParty        MessageKind = "party"
	KindSystem       MessageKind = "system"
	KindIgnored      MessageKind = "ignored"
	KindUnrecognized MessageKind = "unrecognized"
)

// Message is one classified chat line. Immutable after classification.
type Message struct {
	Kind MessageKind

	// Username and Body are set for the chat kinds; Rank carries the last
	// non-empty rank tag the rule captured. Direction is "incoming" or
	// "outgoing" for private messages.
	Username  string
	Body      string
	Rank      string
	Direction string

	// IgnoreReason explains a KindIgnored result (rule description or a
	// loop-guard reason).
	IgnoreReason string

	// RawText is the normalized input line, kept for audit and archive.
	RawText  string
	OriginID string
	// RuleIndex is the index of the matched rule within its subcategory,
	// or -1 when no rule matched.
	RuleIndex int
}

// EventType is the lifecycle event classification of a line.
type EventType string

const (
	EventJoin    EventType = "join"
	EventLeave   EventType = "leave"
	EventKick    EventType = "kick"
	EventPromote EventType = "promote"
	EventDemote  EventType = "demote"
	EventInvite  EventType = "invite"
	EventOnline  EventType = "online"
	EventLevel   EventType = "level"
	EventMOTD    EventType = "motd"
	EventMisc    EventType = "misc"
)

// eventOrder is the classification order. Specific member events come before
// the catch-all misc patterns.
var eventOrder = []EventType{
	EventJoin, EventLeave, EventKick, EventPromote, EventDemote,
	EventInvite, EventOnline, EventLevel, EventMOTD, EventMisc,
}

// Event is one classified guild lifecycle event. Fields beyond Type,
// Username, OriginID and Timestamp are populated per type:
//
//   - kick, invite: Actor (defaulted to "Unknown" when the line omits it)
//   - promote, demote: FromRank, ToRank (defaulted to "Unknown")
//   - online: Members (cleaned roster names)
//   - level: Level, PreviousLevel
//   - motd: MOTD
//   - misc: Detail
type Event struct {
	Type EventType

	// Username is the event subject; empty for subjectless events such as
	// online rosters and level-ups.
	Username string
	Rank     string

	Actor         string
	FromRank      string
	ToRank        string
	Members       []string
	Level         int
	PreviousLevel int
	MOTD          string
	Detail        string

	RawText   string
	OriginID  string
	Timestamp time.Time
}

// SubjectKey is the cooldown subject for this event: the username, or
// "system" for subjectless events.
func (e *Event) SubjectKey() string {
	if e.Username == "" {
		return "system"
	}
	return e.Username
}
