package ratelimit

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed fixed_window.lua
var fixedWindowScript string

// keyPrefix はRedis上のキー名の接頭辞。他用途のキーと衝突させない。
const keyPrefix = "ratelimit:"

// RedisStore はRedisを使用したカウンタストア。
// 複数インスタンスでレート制限を共有する場合に使用する。
// 窓の算術はLuaスクリプトで原子的に実行し、掃除はTTL（窓の2倍）に委ねる。
type RedisStore struct {
	client    *redis.Client
	scriptSHA string
}

// NewRedisStore はRedisStoreを生成する。
// 接続確認とスクリプトのロードを行い、失敗した場合はエラーを返す。
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	sha, err := client.ScriptLoad(ctx, fixedWindowScript).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load rate limit script: %w", err)
	}

	return &RedisStore{
		client:    client,
		scriptSHA: sha,
	}, nil
}

// Incr はLuaスクリプトで窓の算術とカウント加算を原子的に実行する。
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration, now time.Time) (Entry, error) {
	cmd := s.client.EvalSha(ctx, s.scriptSHA, []string{keyPrefix + key},
		window.Milliseconds(), // ARGV[1]
		now.UnixMilli(),       // ARGV[2]
	)

	result, err := cmd.Result()
	if err != nil {
		return Entry{}, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return Entry{}, errors.New("invalid lua response format")
	}

	count, _ := values[0].(int64)
	startMs, _ := values[1].(int64)

	return Entry{
		Count:       int(count),
		WindowStart: time.UnixMilli(startMs),
	}, nil
}

// Delete は指定キーのエントリを削除する。
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}

// DeleteAll は全レート制限エントリを削除する。
func (s *RedisStore) DeleteAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Stats は現在の全エントリを返す。SCANで走査するため大規模環境では
// コストがかかる。内部診断用に限る。
func (s *RedisStore) Stats(ctx context.Context, now time.Time) ([]EntryStat, error) {
	var stats []EntryStat
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			vals, err := s.client.HMGet(ctx, key, "count", "start").Result()
			if err != nil || len(vals) != 2 || vals[0] == nil || vals[1] == nil {
				continue
			}
			var count int
			var startMs int64
			fmt.Sscanf(fmt.Sprint(vals[0]), "%d", &count)
			fmt.Sscanf(fmt.Sprint(vals[1]), "%d", &startMs)
			stats = append(stats, EntryStat{
				Key:   strings.TrimPrefix(key, keyPrefix),
				Count: count,
				Age:   now.Sub(time.UnixMilli(startMs)),
			})
		}
		if next == 0 {
			return stats, nil
		}
		cursor = next
	}
}
