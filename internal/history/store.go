// Package history persists conversation transcripts and LLM call accounting
// for chat rooms. The core consumes it through the Store interface; the
// SQLite implementation lives in sqlite.go.
package history

import (
	"context"
	"time"
)

// ContextEntry is one line of conversation context handed to models.
type ContextEntry struct {
	Role    string // "user" or "assistant"
	Content string
}

// AddMessageParams describes a message to persist.
type AddMessageParams struct {
	ServerTag   string
	ChannelName string
	Nick        string
	ThreadID    string // empty for non-threaded platforms
	Arc         string
	Content     string
	Mode        string // trigger token that produced a bot reply, if any
	LLMCallID   int64  // 0 when the message is not tied to an LLM call

	// ContentTemplate, when set, wraps Content before storage. "{message}"
	// is replaced by the content. Used for internal monologue entries that
	// are persisted but never sent.
	ContentTemplate string
}

// LLMCallParams describes an LLM invocation to log.
type LLMCallParams struct {
	Provider         string
	Model            string
	InputTokens      int64
	OutputTokens     int64
	Cost             float64
	CallType         string
	ArcName          string
	TriggerMessageID int64
}

// Store is the conversation history collaborator of the room command core.
type Store interface {
	// ContextForMessage returns up to size entries of recent context for the
	// channel (and thread) the message arrived on, oldest first. Messages
	// from mynick become assistant entries; everything else is a user entry
	// formatted "<nick> content".
	ContextForMessage(ctx context.Context, serverTag, channelName, threadID, mynick string, size int) ([]ContextEntry, error)

	// AddMessage persists a message and returns its id.
	AddMessage(ctx context.Context, p AddMessageParams) (int64, error)

	// RecentBodiesSince returns bodies of messages from nick on the channel
	// (and thread) newer than since, oldest first.
	RecentBodiesSince(ctx context.Context, serverTag, channelName, nick string, since time.Time, threadID string) ([]string, error)

	// LogLLMCall records an LLM invocation and returns its id.
	LogLLMCall(ctx context.Context, p LLMCallParams) (int64, error)

	// UpdateLLMCallResponse links a logged call to the reply message it produced.
	UpdateLLMCallResponse(ctx context.Context, callID, responseMessageID int64) error

	// ArcCostToday sums today's (local time) LLM cost for an arc.
	ArcCostToday(ctx context.Context, arc string) (float64, error)

	// UnchronicledCount counts messages in an arc newer than its last chapter
	// summary.
	UnchronicledCount(ctx context.Context, arc string) (int, error)

	// AddChapterSummary stores a chapter summary for an arc.
	AddChapterSummary(ctx context.Context, arc, summary string) error

	// LatestChapterSummary returns the most recent chapter summary for an
	// arc, or "" if none exists.
	LatestChapterSummary(ctx context.Context, arc string) (string, error)
}
