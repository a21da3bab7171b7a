package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mahiavincent123-commits/skill-in/internal/models"
	"github.com/mahiavincent123-commits/skill-in/internal/store"
)

var errStoreDown = errors.New("store down")

// flakyStore wraps a MemoryStore and fails writes while down is set.
type flakyStore struct {
	*store.MemoryStore
	mu   sync.Mutex
	down bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: store.NewMemoryStore()}
}

func (s *flakyStore) setDown(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = v
}

func (s *flakyStore) isDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

func (s *flakyStore) Append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if s.isDown() {
		return nil, errStoreDown
	}
	return s.MemoryStore.Append(ctx, msg)
}

func (s *flakyStore) ListByConversation(ctx context.Context, chatID string) ([]models.Message, error) {
	if s.isDown() {
		return nil, errStoreDown
	}
	return s.MemoryStore.ListByConversation(ctx, chatID)
}

func (s *flakyStore) MarkRead(ctx context.Context, readerID, otherID string) (int64, error) {
	if s.isDown() {
		return 0, errStoreDown
	}
	return s.MemoryStore.MarkRead(ctx, readerID, otherID)
}

func newTestManager(t *testing.T) (*ChatManager, *flakyStore) {
	t.Helper()
	s := newFlakyStore()
	return NewManager(s, NewPresence(0), zerolog.Nop()), s
}

// connect registers an in-memory client with no transport.
func connect(t *testing.T, m *ChatManager, id string) *Client {
	t.Helper()
	c := NewClient(id, nil, 64, zerolog.Nop())
	m.Register(c)
	return c
}

// drain returns every frame queued for c so far.
func drain(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func ofEvent(envs []Envelope, event string) []Envelope {
	var out []Envelope
	for _, e := range envs {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func decode[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	b, err := encodeFrame(event, data)
	require.NoError(t, err)
	return b
}
