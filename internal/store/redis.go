package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mahiavincent123-commits/skill-in/internal/models"
)

// RedisStore keeps each conversation as a sorted set of message ids scored by
// creation time, with the message bodies stored as JSON strings.
type RedisStore struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string, logger zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client, log: logger}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// chatMessagesKey returns the key for a conversation's message sorted set.
func chatMessagesKey(chatID string) string {
	return fmt.Sprintf("chat:%s:messages", chatID)
}

func messageKey(id string) string {
	return fmt.Sprintf("message:%s", id)
}

// Append stores the message body and indexes it in its conversation.
// Members sharing a score sort by ULID, which preserves arrival order.
func (s *RedisStore) Append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	m := prepare(msg)
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, messageKey(m.ID), data, 0)
		pipe.ZAdd(ctx, chatMessagesKey(m.ChatID), redis.Z{
			Score:  float64(m.CreatedAt.UnixMilli()),
			Member: m.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *RedisStore) ListByConversation(ctx context.Context, chatID string) ([]models.Message, error) {
	ids, err := s.client.ZRange(ctx, chatMessagesKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

func (s *RedisStore) load(ctx context.Context, ids []string) ([]models.Message, error) {
	if len(ids) == 0 {
		return []models.Message{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = messageKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out, missing, err := decodeMessages(ids, vals)
	if len(missing) > 0 {
		s.log.Warn().Strs("message_ids", missing).Msg("indexed messages have no stored body")
	}
	return out, err
}

// decodeMessages turns MGET results into messages. Ids whose value is gone
// are reported in missing; a value that is not a message JSON is an error.
func decodeMessages(ids []string, vals []interface{}) ([]models.Message, []string, error) {
	out := make([]models.Message, 0, len(vals))
	var missing []string
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var m models.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, missing, fmt.Errorf("decode message %s: %w", ids[i], err)
		}
		out = append(out, m)
	}
	return out, missing, nil
}

// MarkRead rewrites the matching messages. Concurrent MarkRead calls for the
// same pair may both count a message; the stored result is the same.
func (s *RedisStore) MarkRead(ctx context.Context, readerID, otherID string) (int64, error) {
	msgs, err := s.ListByConversation(ctx, models.ConversationID(readerID, otherID))
	if err != nil {
		return 0, err
	}

	ts := now()
	var n int64
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := range msgs {
			m := &msgs[i]
			if m.SenderID != otherID || m.ReceiverID != readerID || m.Read {
				continue
			}
			m.Read = true
			m.UpdatedAt = ts
			data, err := json.Marshal(m)
			if err != nil {
				return err
			}
			pipe.Set(ctx, messageKey(m.ID), data, 0)
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
