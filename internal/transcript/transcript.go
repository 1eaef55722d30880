package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ChatLink/internal/session"
)

// ErrNotFound is returned by Load when no snapshot was saved for a
// conversation.
var ErrNotFound = errors.New("no transcript saved for this conversation")

// Transcript is the last rendered list of one conversation.
type Transcript struct {
	Conversation session.Conversation
	SavedAt      time.Time
	Messages     []session.Message
}

// Store keeps one snapshot per conversation in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTranscriptsTable := `
	CREATE TABLE IF NOT EXISTS transcripts (
		conversation TEXT PRIMARY KEY,
		kind TEXT,
		conversation_id TEXT,
		saved_at DATETIME
	);`

	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS transcript_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation TEXT,
		position INTEGER,
		sender_id TEXT,
		chat_id TEXT,
		text TEXT,
		send_time TEXT,
		FOREIGN KEY(conversation) REFERENCES transcripts(conversation)
	);`

	if _, err := db.Exec(createTranscriptsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create transcripts table: %w", err)
	}
	if _, err := db.Exec(createMessagesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create transcript_messages table: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshot of conv with msgs.
func (s *Store) Save(ctx context.Context, conv session.Conversation, msgs []session.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	key := conv.String()
	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO transcripts (conversation, kind, conversation_id, saved_at) VALUES (?, ?, ?, ?)",
		key, conv.Kind.String(), conv.ID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM transcript_messages WHERE conversation = ?", key); err != nil {
		return fmt.Errorf("failed to clear transcript messages: %w", err)
	}

	for i, msg := range msgs {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO transcript_messages (conversation, position, sender_id, chat_id, text, send_time) VALUES (?, ?, ?, ?, ?, ?)",
			key, i, msg.SenderID, msg.ChatID, msg.Text, msg.SendTime,
		)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("transcript saved", "conversation", key, "message_count", len(msgs))
	return nil
}

// Load returns the stored snapshot of conv, or ErrNotFound.
func (s *Store) Load(ctx context.Context, conv session.Conversation) (Transcript, error) {
	key := conv.String()
	out := Transcript{Conversation: conv}

	err := s.db.QueryRowContext(ctx, "SELECT saved_at FROM transcripts WHERE conversation = ?", key).
		Scan(&out.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return out, ErrNotFound
	}
	if err != nil {
		return out, fmt.Errorf("failed to load transcript: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT sender_id, chat_id, text, send_time FROM transcript_messages WHERE conversation = ? ORDER BY position",
		key,
	)
	if err != nil {
		return out, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	out.Messages = []session.Message{}
	for rows.Next() {
		var msg session.Message
		if err := rows.Scan(&msg.SenderID, &msg.ChatID, &msg.Text, &msg.SendTime); err != nil {
			return out, fmt.Errorf("failed to scan message: %w", err)
		}
		out.Messages = append(out.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("failed to read messages: %w", err)
	}

	return out, nil
}
