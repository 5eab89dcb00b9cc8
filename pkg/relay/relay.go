// Copyright 2024-2026 Aiku AI

// Package relay delivers classified guild traffic into Matrix rooms. Each
// origin maps to one room; chat messages are rendered as plain text with the
// sender prefixed, lifecycle events as notices.
package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/guildbridge/pkg/bridge"
	"github.com/aiku/guildbridge/pkg/classify"
)

const defaultMessagesPerSecond = 5

// Sender delivers one rendered event to a Matrix room. *mautrix.Client is
// wrapped by matrixSender; tests inject their own.
type Sender interface {
	SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) error
}

type matrixSender struct {
	client *mautrix.Client
}

func (s *matrixSender) SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) error {
	_, err := s.client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	return err
}

// Relay consumes the coordinator's output streams and forwards them to
// Matrix, one room per origin, rate limited across all rooms.
type Relay struct {
	sender  Sender
	rooms   map[string]id.RoomID
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New connects to the homeserver and builds a relay from config.
func New(cfg bridge.RelayConfig, log zerolog.Logger) (*Relay, error) {
	client, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	return NewWithSender(cfg, &matrixSender{client: client}, log), nil
}

// NewWithSender builds a relay around an injected sender.
func NewWithSender(cfg bridge.RelayConfig, sender Sender, log zerolog.Logger) *Relay {
	perSecond := cfg.MessagesPerSecond
	if perSecond <= 0 {
		perSecond = defaultMessagesPerSecond
	}
	rooms := make(map[string]id.RoomID, len(cfg.Rooms))
	for origin, room := range cfg.Rooms {
		rooms[origin] = id.RoomID(room)
	}
	return &Relay{
		sender:  sender,
		rooms:   rooms,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		log:     log.With().Str("component", "relay").Logger(),
	}
}

// RenderMessage formats one chat message for Matrix.
func RenderMessage(msg *classify.Message) *event.MessageEventContent {
	var sb strings.Builder
	if msg.Rank != "" {
		sb.WriteString("[")
		sb.WriteString(msg.Rank)
		sb.WriteString("] ")
	}
	sb.WriteString(msg.Username)
	switch msg.Kind {
	case classify.KindOfficerChat:
		sb.WriteString(" (officer)")
	case classify.KindParty:
		sb.WriteString(" (party)")
	case classify.KindPrivate:
		if msg.Direction == "outgoing" {
			sb.WriteString(" (to)")
		} else {
			sb.WriteString(" (whisper)")
		}
	}
	sb.WriteString(": ")
	sb.WriteString(msg.Body)
	return &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    sb.String(),
	}
}

// RenderEvent formats one lifecycle event as a Matrix notice.
func RenderEvent(evt *classify.Event) *event.MessageEventContent {
	var body string
	switch evt.Type {
	case classify.EventJoin:
		body = fmt.Sprintf("%s joined the guild", evt.Username)
	case classify.EventLeave:
		body = fmt.Sprintf("%s left the guild", evt.Username)
	case classify.EventKick:
		body = fmt.Sprintf("%s was kicked by %s", evt.Username, evt.Actor)
	case classify.EventPromote:
		body = fmt.Sprintf("%s was promoted from %s to %s", evt.Username, evt.FromRank, evt.ToRank)
	case classify.EventDemote:
		body = fmt.Sprintf("%s was demoted from %s to %s", evt.Username, evt.FromRank, evt.ToRank)
	case classify.EventInvite:
		body = fmt.Sprintf("%s was invited by %s", evt.Username, evt.Actor)
	case classify.EventOnline:
		body = fmt.Sprintf("Online: %s", strings.Join(evt.Members, ", "))
	case classify.EventLevel:
		body = fmt.Sprintf("The guild reached level %d", evt.Level)
	case classify.EventMOTD:
		body = fmt.Sprintf("MOTD: %s", evt.MOTD)
	default:
		body = evt.Detail
		if body == "" {
			body = evt.RawText
		}
	}
	return &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    body,
	}
}

// Run forwards stream traffic until ctx is cancelled. Send failures are
// logged and dropped; ordering within one room follows stream order.
func (r *Relay) Run(ctx context.Context, streams *bridge.Streams) error {
	messages, cancelMessages := streams.SubscribeMessages()
	defer cancelMessages()
	events, cancelEvents := streams.SubscribeEvents()
	defer cancelEvents()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.deliver(ctx, msg.OriginID, RenderMessage(&msg))
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			r.deliver(ctx, evt.OriginID, RenderEvent(&evt))
		}
	}
}

func (r *Relay) deliver(ctx context.Context, originID string, content *event.MessageEventContent) {
	roomID, ok := r.rooms[originID]
	if !ok {
		r.log.Debug().Str("origin", originID).Msg("No room mapped for origin, dropping")
		return
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return
	}
	if err := r.sender.SendMessage(ctx, roomID, content); err != nil {
		r.log.Error().Err(err).
			Str("origin", originID).
			Str("room_id", roomID.String()).
			Msg("Failed to send to Matrix")
	}
}
