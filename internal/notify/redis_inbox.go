package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"approvaldesk/internal/approval"
)

const (
	defaultInboxSize = 100
	defaultInboxTTL  = 30 * 24 * time.Hour
	// Channel carries every delivered notification for live listeners.
	Channel = "approval:notifications"
)

// Entry is one stored notification.
type Entry struct {
	approval.Notification
	CreatedAt time.Time `json:"createdAt"`
}

// RedisInbox keeps the latest notifications per recipient in a capped Redis
// list and publishes each one on Channel.
type RedisInbox struct {
	client *redis.Client
	log    zerolog.Logger
	prefix string
	size   int64
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisInboxWithClient(client *redis.Client, log zerolog.Logger) *RedisInbox {
	return &RedisInbox{
		client: client,
		log:    log.With().Str("component", "inbox").Logger(),
		prefix: "inbox:",
		size:   defaultInboxSize,
		ttl:    defaultInboxTTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *RedisInbox) key(recipientID string) string {
	return s.prefix + recipientID
}

// Notify stores the notification for its recipient. Delivery failures are
// logged and never surface to the workflow.
func (s *RedisInbox) Notify(ctx context.Context, note approval.Notification) {
	if err := s.deliver(ctx, note); err != nil {
		s.log.Warn().Err(err).Str("recipient_id", note.RecipientID).Msg("deliver notification")
	}
}

func (s *RedisInbox) deliver(ctx context.Context, note approval.Notification) error {
	payload, err := json.Marshal(Entry{Notification: note, CreatedAt: s.now()})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	pipe := s.client.TxPipeline()
	if note.RecipientID != "" {
		key := s.key(note.RecipientID)
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, s.size-1)
		pipe.Expire(ctx, key, s.ttl)
	}
	pipe.Publish(ctx, Channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

// Inbox returns up to limit notifications for recipientID, newest first.
func (s *RedisInbox) Inbox(ctx context.Context, recipientID string, limit int) ([]Entry, error) {
	if limit <= 0 || int64(limit) > s.size {
		limit = int(s.size)
	}
	raw, err := s.client.LRange(ctx, s.key(recipientID), 0, int64(limit-1)).Result()
	if err == redis.Nil {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			s.log.Warn().Err(err).Msg("skip malformed inbox entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Clear empties the inbox of recipientID.
func (s *RedisInbox) Clear(ctx context.Context, recipientID string) error {
	if err := s.client.Del(ctx, s.key(recipientID)).Err(); err != nil {
		return fmt.Errorf("clear inbox: %w", err)
	}
	return nil
}
