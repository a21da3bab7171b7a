package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mahiavincent123-commits/skill-in/internal/models"
)

// MemoryStore keeps messages in process memory, grouped by conversation.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]*models.Message // chatID -> arrival order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]*models.Message)}
}

func (s *MemoryStore) Append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := prepare(msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ChatID] = append(s.messages[m.ChatID], m)
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListByConversation(ctx context.Context, chatID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[chatID]
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, readerID, otherID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	var n int64
	for _, m := range s.messages[models.ConversationID(readerID, otherID)] {
		if m.SenderID == otherID && m.ReceiverID == readerID && !m.Read {
			m.Read = true
			m.UpdatedAt = ts
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }
