package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mahiavincent123-commits/skill-in/internal/models"
)

// SQLiteStore persists messages in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at dbPath.
// If dbPath is empty, defaults to "./data/chat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chat.db"
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// Single writer keeps appends in arrival order.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		chat_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		body TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'text',
		read INTEGER NOT NULL DEFAULT 0,
		delivered INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at, seq);
	CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(receiver_id, sender_id, read);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	m := prepare(msg)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, receiver_id, body, kind, read, delivered, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ChatID, m.SenderID, m.ReceiverID, m.Body, string(m.Kind),
		m.Read, m.Delivered, m.CreatedAt.UnixMicro(), m.UpdatedAt.UnixMicro())
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) ListByConversation(ctx context.Context, chatID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, receiver_id, body, kind, read, delivered, created_at, updated_at
		FROM messages WHERE chat_id = ?
		ORDER BY created_at ASC, seq ASC
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		var (
			m                models.Message
			kind             string
			created, updated int64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID, &m.Body, &kind,
			&m.Read, &m.Delivered, &created, &updated); err != nil {
			return nil, err
		}
		m.Kind = models.MessageKind(kind)
		m.CreatedAt = time.UnixMicro(created).UTC()
		m.UpdatedAt = time.UnixMicro(updated).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkRead(ctx context.Context, readerID, otherID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read = 1, updated_at = ?
		WHERE chat_id = ? AND sender_id = ? AND receiver_id = ? AND read = 0
	`, now().UnixMicro(), models.ConversationID(readerID, otherID), otherID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
