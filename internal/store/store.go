package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/mahiavincent123-commits/skill-in/internal/models"
)

// MessageStore is the durable, ordered message log the relay writes through.
// All backends (memory, sqlite, postgres, redis) implement it.
type MessageStore interface {
	// Append persists msg and returns the stored copy with id and timestamps set.
	Append(ctx context.Context, msg *models.Message) (*models.Message, error)
	// ListByConversation returns the thread oldest first; equal timestamps keep arrival order.
	ListByConversation(ctx context.Context, chatID string) ([]models.Message, error)
	// MarkRead flags every unread message sent by otherID to readerID as read.
	MarkRead(ctx context.Context, readerID, otherID string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
	RedisURL    string
}

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown store driver")

// Open connects the backend named by opts.Driver.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (MessageStore, error) {
	var (
		s   MessageStore
		err error
	)
	switch opts.Driver {
	case "", DriverMemory:
		s = NewMemoryStore()
	case DriverSQLite:
		s, err = NewSQLiteStore(ctx, opts.SQLitePath)
	case DriverPostgres:
		s, err = NewPostgresStore(ctx, opts.DatabaseURL)
	case DriverRedis:
		s, err = NewRedisStore(ctx, opts.RedisURL, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", opts.Driver, err)
	}
	logger.Info().Str("driver", driverName(opts.Driver)).Msg("message store ready")
	return s, nil
}

func driverName(d string) string {
	if d == "" {
		return DriverMemory
	}
	return d
}

// now is the store clock. SQL columns keep microseconds, so every backend
// truncates to that precision and returns the same value it later lists.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// prepare fills the server-assigned fields of a message about to be stored.
func prepare(msg *models.Message) *models.Message {
	out := *msg
	if out.ID == "" {
		out.ID = ulid.Make().String()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now()
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.CreatedAt
	}
	if out.Kind == "" {
		out.Kind = models.KindText
	}
	if out.ChatID == "" {
		out.ChatID = models.ConversationID(out.SenderID, out.ReceiverID)
	}
	return &out
}
