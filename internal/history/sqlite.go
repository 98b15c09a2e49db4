package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id TEXT NOT NULL,
	server_tag TEXT NOT NULL,
	channel_name TEXT NOT NULL,
	nick TEXT NOT NULL,
	thread_id TEXT NOT NULL DEFAULT '',
	arc TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL DEFAULT '',
	llm_call_id INTEGER NOT NULL DEFAULT 0,
	content TEXT NOT NULL,
	created_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_channel
	ON messages(server_tag, channel_name, thread_id, created_ms);
CREATE INDEX IF NOT EXISTS idx_messages_arc ON messages(arc, created_ms);

CREATE TABLE IF NOT EXISTS llm_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0,
	call_type TEXT NOT NULL,
	arc_name TEXT NOT NULL DEFAULT '',
	trigger_message_id INTEGER NOT NULL DEFAULT 0,
	response_message_id INTEGER NOT NULL DEFAULT 0,
	created_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_llm_calls_arc ON llm_calls(arc_name, created_ms);

CREATE TABLE IF NOT EXISTS chapter_summaries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	arc TEXT NOT NULL,
	summary TEXT NOT NULL,
	created_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chapters_arc ON chapter_summaries(arc, created_ms);
`

// SQLStore implements Store on SQLite.
type SQLStore struct {
	db *sql.DB

	// now is overridable for tests.
	now func() time.Time
}

// Open opens (creating if needed) a history database at path.
func Open(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	// A single connection keeps :memory: databases coherent and sidesteps
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) ContextForMessage(ctx context.Context, serverTag, channelName, threadID, mynick string, size int) ([]ContextEntry, error) {
	if size <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT nick, content FROM (
			SELECT id, nick, content FROM messages
			WHERE server_tag = ? AND channel_name = ? AND thread_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		serverTag, channelName, threadID, size)
	if err != nil {
		return nil, fmt.Errorf("querying context: %w", err)
	}
	defer rows.Close()

	var entries []ContextEntry
	for rows.Next() {
		var nick, content string
		if err := rows.Scan(&nick, &content); err != nil {
			return nil, err
		}
		if strings.EqualFold(nick, mynick) {
			entries = append(entries, ContextEntry{Role: "assistant", Content: content})
		} else {
			entries = append(entries, ContextEntry{Role: "user", Content: fmt.Sprintf("<%s> %s", nick, content)})
		}
	}
	return entries, rows.Err()
}

func (s *SQLStore) AddMessage(ctx context.Context, p AddMessageParams) (int64, error) {
	content := p.Content
	if p.ContentTemplate != "" {
		content = strings.ReplaceAll(p.ContentTemplate, "{message}", content)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
			(external_id, server_tag, channel_name, nick, thread_id, arc, mode, llm_call_id, content, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), p.ServerTag, p.ChannelName, p.Nick, p.ThreadID,
		p.Arc, p.Mode, p.LLMCallID, content, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLStore) RecentBodiesSince(ctx context.Context, serverTag, channelName, nick string, since time.Time, threadID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content FROM messages
		WHERE server_tag = ? AND channel_name = ? AND thread_id = ?
			AND nick = ? COLLATE NOCASE AND created_ms > ?
		ORDER BY id ASC`,
		serverTag, channelName, threadID, nick, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	var bodies []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		bodies = append(bodies, content)
	}
	return bodies, rows.Err()
}

func (s *SQLStore) LogLLMCall(ctx context.Context, p LLMCallParams) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_calls
			(provider, model, input_tokens, output_tokens, cost, call_type, arc_name, trigger_message_id, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Provider, p.Model, p.InputTokens, p.OutputTokens, p.Cost,
		p.CallType, p.ArcName, p.TriggerMessageID, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("logging llm call: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLStore) UpdateLLMCallResponse(ctx context.Context, callID, responseMessageID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE llm_calls SET response_message_id = ? WHERE id = ?`,
		responseMessageID, callID)
	if err != nil {
		return fmt.Errorf("updating llm call response: %w", err)
	}
	return nil
}

func (s *SQLStore) ArcCostToday(ctx context.Context, arc string) (float64, error) {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var cost sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(cost) FROM llm_calls WHERE arc_name = ? AND created_ms >= ?`,
		arc, dayStart.UnixMilli()).Scan(&cost)
	if err != nil {
		return 0, fmt.Errorf("querying arc cost: %w", err)
	}
	return cost.Float64, nil
}

func (s *SQLStore) UnchronicledCount(ctx context.Context, arc string) (int, error) {
	var lastChapter sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(created_ms) FROM chapter_summaries WHERE arc = ?`, arc).Scan(&lastChapter)
	if err != nil {
		return 0, fmt.Errorf("querying last chapter: %w", err)
	}

	var count int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE arc = ? AND created_ms > ?`,
		arc, lastChapter.Int64).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unchronicled messages: %w", err)
	}
	return count, nil
}

func (s *SQLStore) AddChapterSummary(ctx context.Context, arc, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chapter_summaries (arc, summary, created_ms) VALUES (?, ?, ?)`,
		arc, summary, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting chapter summary: %w", err)
	}
	return nil
}

func (s *SQLStore) LatestChapterSummary(ctx context.Context, arc string) (string, error) {
	var summary string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary FROM chapter_summaries WHERE arc = ? ORDER BY id DESC LIMIT 1`,
		arc).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying chapter summary: %w", err)
	}
	return summary, nil
}
