package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mahiavincent123-commits/skill-in/internal/models"
)

// PostgresStore persists messages in PostgreSQL through a connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and makes sure the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS messages (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT UNIQUE NOT NULL,
		chat_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		body TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'text',
		read BOOLEAN NOT NULL DEFAULT FALSE,
		delivered BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at, seq);
	CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(receiver_id, sender_id) WHERE NOT read;
	`)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	m := prepare(msg)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, receiver_id, body, kind, read, delivered, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.ID, m.ChatID, m.SenderID, m.ReceiverID, m.Body, string(m.Kind),
		m.Read, m.Delivered, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) ListByConversation(ctx context.Context, chatID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, sender_id, receiver_id, body, kind, read, delivered, created_at, updated_at
		FROM messages WHERE chat_id = $1
		ORDER BY created_at ASC, seq ASC
	`, chatID)
	if err != nil {
		return nil, err
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Message, error) {
		var (
			m    models.Message
			kind string
		)
		err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID, &m.Body, &kind,
			&m.Read, &m.Delivered, &m.CreatedAt, &m.UpdatedAt)
		m.Kind = models.MessageKind(kind)
		return m, err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Message{}
	}
	return out, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, readerID, otherID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET read = TRUE, updated_at = $1
		WHERE chat_id = $2 AND sender_id = $3 AND receiver_id = $4 AND NOT read
	`, now(), models.ConversationID(readerID, otherID), otherID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
