package matchlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore 以 Redis 保存對局歷史
//
// Key 設計：
//
//	{prefix}:matches  LIST，LPUSH 最新對局的 JSON，LTRIM 保留 size 場
//	{prefix}:wins     HASH，玩家名稱 -> 勝場數
//
// LPUSH + LTRIM + HINCRBY 放在同一個 MULTI 裡，歷史與勝場不會只寫一半
type RedisStore struct {
	client *redis.Client
	prefix string
	size   int64
}

// RedisOptions Redis 連線設定
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Size     int
}

// NewRedisStore 連線並確認 Redis 可用
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("連接 Redis 失敗: %w", err)
	}
	return NewRedisStoreWithClient(client, opts.Prefix, opts.Size), nil
}

// NewRedisStoreWithClient 使用既有的 client
func NewRedisStoreWithClient(client *redis.Client, prefix string, size int) *RedisStore {
	if prefix == "" {
		prefix = "pong"
	}
	if size <= 0 {
		size = 100
	}
	return &RedisStore{client: client, prefix: prefix, size: int64(size)}
}

func (s *RedisStore) matchesKey() string { return s.prefix + ":matches" }
func (s *RedisStore) winsKey() string    { return s.prefix + ":wins" }

func (s *RedisStore) Save(ctx context.Context, m Match) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.matchesKey(), data)
		pipe.LTrim(ctx, s.matchesKey(), 0, s.size-1)
		if name := m.WinnerName(); name != "" {
			pipe.HIncrBy(ctx, s.winsKey(), name, 1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save match %s: %w", m.RoomID, err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, n int) ([]Match, error) {
	if n <= 0 || int64(n) > s.size {
		n = int(s.size)
	}

	raw, err := s.client.LRange(ctx, s.matchesKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("load matches: %w", err)
	}

	out := make([]Match, 0, len(raw))
	for _, item := range raw {
		var m Match
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode match: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) Wins(ctx context.Context, player string) (int64, error) {
	n, err := s.client.HGet(ctx, s.winsKey(), player).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load wins: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
