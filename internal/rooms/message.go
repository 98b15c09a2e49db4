// Package rooms implements the command and steering coordination core: prefix
// parsing and channel-policy resolution, the per-session steering queue, the
// proactive interjection debouncer, and the orchestrating command handler.
package rooms

import (
	"context"
	"time"
)

// RoomMessage is one inbound chat message. Immutable per delivery.
type RoomMessage struct {
	ServerTag   string
	ChannelName string
	Nick        string
	MyNick      string
	Content     string

	// Arc groups related channels/threads for cost accounting and
	// autochronicling.
	Arc string

	Secrets map[string]string

	// ThreadID is set on threaded platforms; empty otherwise.
	ThreadID string

	// SentAt is the delivery timestamp, used by the input debounce to find
	// follow-up messages.
	SentAt time.Time
}

// ReplySender delivers a reply line to the message's channel.
type ReplySender func(ctx context.Context, text string) error
