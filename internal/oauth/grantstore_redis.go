package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGrantStore はRedisを使用したGrantStore実装。
// 複数プロセス構成で認可コードとリフレッシュトークンを共有する。
type RedisGrantStore struct {
	client *redis.Client
}

// NewRedisGrantStore はRedisGrantStoreを生成する。
func NewRedisGrantStore(client *redis.Client) *RedisGrantStore {
	return &RedisGrantStore{client: client}
}

// OpenRedis はURLからRedisクライアントを生成し、疎通を確認する。
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Put はグラントをJSONで保存し、ttl経過後にRedis側で失効させる。
func (s *RedisGrantStore) Put(ctx context.Context, kind GrantKind, tenant, token string, g Grant, ttl time.Duration) error {
	g.ExpiresAt = time.Now().Add(ttl)
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to encode grant: %w", err)
	}
	if err := s.client.Set(ctx, grantKey(kind, tenant, token), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store grant: %w", err)
	}
	return nil
}

// Take はGETDELでグラントを取り出す。同じトークンを2回取り出すことはできない。
func (s *RedisGrantStore) Take(ctx context.Context, kind GrantKind, tenant, token string) (*Grant, error) {
	data, err := s.client.GetDel(ctx, grantKey(kind, tenant, token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take grant: %w", err)
	}

	var g Grant
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to decode grant: %w", err)
	}
	if !time.Now().Before(g.ExpiresAt) {
		return nil, nil
	}
	return &g, nil
}

var _ GrantStore = (*RedisGrantStore)(nil)
