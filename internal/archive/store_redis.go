package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyGamePrefix = "relay:game:"
	keyRecent     = "relay:games:recent"
)

// RedisStore keeps a JSON snapshot per game and a capped list of recent ids.
type RedisStore struct {
	rdb       *redis.Client
	ttl       time.Duration
	recentMax int64
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration, recentMax int) *RedisStore {
	if recentMax <= 0 {
		recentMax = 100
	}
	return &RedisStore{rdb: rdb, ttl: ttl, recentMax: int64(recentMax)}
}

func (s *RedisStore) keyGame(id string) string { return keyGamePrefix + id }

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyGame(rec.GameID), raw, s.ttl)
	pipe.LPush(ctx, keyRecent, rec.GameID)
	pipe.LTrim(ctx, keyRecent, 0, s.recentMax-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Load returns nil, nil when the game is unknown or expired.
func (s *RedisStore) Load(ctx context.Context, id string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, s.keyGame(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Recent lists the most recently archived game ids, newest first.
func (s *RedisStore) Recent(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.rdb.LRange(ctx, keyRecent, 0, int64(n-1)).Result()
}

// RecentRecords loads the newest n games. Ids whose snapshot expired are skipped.
func (s *RedisStore) RecentRecords(ctx context.Context, n int) ([]Record, error) {
	ids, err := s.Recent(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}
