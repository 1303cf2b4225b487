package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix    = "presence:"
	redisNotesKey     = redisKeyPrefix + "notes"
	redisPingDeadline = 5 * time.Second
)

var errMissingRedisClient = errors.New("presence: redis client is required")

// cursorPayload is the hash value stored next to the sorted-set member.
type cursorPayload struct {
	Cursor    *int       `json:"cursor,omitempty"`
	Selection *Selection `json:"selection,omitempty"`
}

// RedisStore keeps presence in Redis: a sorted set per note scored by the
// last-seen millis, a hash of cursor payloads per note, and a set indexing the
// notes that currently hold presence.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore parses redisURL, connects and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingDeadline)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, errMissingRedisClient
	}
	return &RedisStore{client: client}, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func membersKey(noteID string) string {
	return redisKeyPrefix + "note:" + noteID
}

func cursorsKey(noteID string) string {
	return redisKeyPrefix + "cursor:" + noteID
}

func (s *RedisStore) Upsert(ctx context.Context, record Record) error {
	payload, err := json.Marshal(cursorPayload{Cursor: record.Cursor, Selection: record.Selection})
	if err != nil {
		return fmt.Errorf("marshal cursor payload: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, membersKey(record.NoteID), redis.Z{Score: float64(record.LastSeenMillis), Member: record.UserID})
		pipe.HSet(ctx, cursorsKey(record.NoteID), record.UserID, payload)
		pipe.SAdd(ctx, redisNotesKey, record.NoteID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

func (s *RedisStore) ListSince(ctx context.Context, noteID string, sinceMillis int64) ([]Record, error) {
	members, err := s.client.ZRevRangeByScoreWithScores(ctx, membersKey(noteID), &redis.ZRangeBy{
		Min: strconv.FormatInt(sinceMillis, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	if len(members) == 0 {
		return []Record{}, nil
	}

	userIDs := make([]string, 0, len(members))
	for _, member := range members {
		userIDs = append(userIDs, fmt.Sprint(member.Member))
	}
	payloads, err := s.client.HMGet(ctx, cursorsKey(noteID), userIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("load cursors: %w", err)
	}

	records := make([]Record, 0, len(members))
	for index, member := range members {
		record := Record{
			NoteID:         noteID,
			UserID:         userIDs[index],
			LastSeenMillis: int64(member.Score),
		}
		if raw, ok := payloads[index].(string); ok && raw != "" {
			var payload cursorPayload
			if err := json.Unmarshal([]byte(raw), &payload); err == nil {
				record.Cursor = payload.Cursor
				record.Selection = payload.Selection
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *RedisStore) DeleteBefore(ctx context.Context, cutoffMillis int64) (int64, error) {
	noteIDs, err := s.client.SMembers(ctx, redisNotesKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list presence notes: %w", err)
	}
	staleRange := &redis.ZRangeBy{Min: "-inf", Max: "(" + strconv.FormatInt(cutoffMillis, 10)}

	var removed int64
	for _, noteID := range noteIDs {
		stale, err := s.client.ZRangeByScore(ctx, membersKey(noteID), staleRange).Result()
		if err != nil {
			return removed, fmt.Errorf("list stale presence: %w", err)
		}
		if len(stale) > 0 {
			members := make([]any, 0, len(stale))
			for _, userID := range stale {
				members = append(members, userID)
			}
			_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRem(ctx, membersKey(noteID), members...)
				pipe.HDel(ctx, cursorsKey(noteID), stale...)
				return nil
			})
			if err != nil {
				return removed, fmt.Errorf("delete stale presence: %w", err)
			}
			removed += int64(len(stale))
		}

		remaining, err := s.client.ZCard(ctx, membersKey(noteID)).Result()
		if err != nil {
			return removed, fmt.Errorf("count presence: %w", err)
		}
		if remaining == 0 {
			if err := s.client.SRem(ctx, redisNotesKey, noteID).Err(); err != nil {
				return removed, fmt.Errorf("unindex presence note: %w", err)
			}
			if err := s.client.Del(ctx, cursorsKey(noteID)).Err(); err != nil {
				return removed, fmt.Errorf("drop cursors: %w", err)
			}
		}
	}
	return removed, nil
}
