package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/lambda-authorizer/internal/authorizer"
)

// redisKeyPrefix はRedisに保存する判定のキー接頭辞。
const redisKeyPrefix = "books:verdict:"

// VerdictCache はオーソライザーの判定を一定期間再利用するためのキャッシュ。
type VerdictCache interface {
	// Get はキャッシュ済みの判定を返す。存在しない場合はokがfalseになる。
	Get(ctx context.Context, key string) (v authorizer.Verdict, ok bool, err error)
	// Set は判定をttlの間保存する。
	Set(ctx context.Context, key string, v authorizer.Verdict, ttl time.Duration) error
}

// memoryEntry はメモリキャッシュの1件分。
type memoryEntry struct {
	verdict authorizer.Verdict
	expires time.Time
}

// MemoryVerdictCache はプロセス内で判定を保持するキャッシュ。
type MemoryVerdictCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryVerdictCache は新しいMemoryVerdictCacheを生成する。
func NewMemoryVerdictCache() *MemoryVerdictCache {
	return &MemoryVerdictCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get はキャッシュ済みの判定を返す。期限切れのエントリは削除する。
func (m *MemoryVerdictCache) Get(_ context.Context, key string) (authorizer.Verdict, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return authorizer.Verdict{}, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return authorizer.Verdict{}, false, nil
	}
	return e.verdict, true, nil
}

// Set は判定を保存する。ttlが0以下の場合は何もしない。
func (m *MemoryVerdictCache) Set(_ context.Context, key string, v authorizer.Verdict, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{verdict: v, expires: m.now().Add(ttl)}
	return nil
}

// RedisClient はRedisVerdictCacheが使うRedisの操作。
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

var _ RedisClient = (*redis.Client)(nil)

// RedisVerdictCache は複数のゲートウェイで判定を共有するRedisキャッシュ。
type RedisVerdictCache struct {
	client RedisClient
}

// NewRedisVerdictCache は新しいRedisVerdictCacheを生成する。
func NewRedisVerdictCache(client RedisClient) *RedisVerdictCache {
	return &RedisVerdictCache{client: client}
}

// cachedVerdict はRedisに保存する判定のJSON表現。
type cachedVerdict struct {
	IsAuthorized bool           `json:"isAuthorized"`
	Context      map[string]any `json:"context,omitempty"`
}

// Get はRedisから判定を取得する。
func (r *RedisVerdictCache) Get(ctx context.Context, key string) (authorizer.Verdict, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return authorizer.Verdict{}, false, nil
		}
		return authorizer.Verdict{}, false, fmt.Errorf("Redisからの取得に失敗: %w", err)
	}

	var cv cachedVerdict
	if err := json.Unmarshal([]byte(data), &cv); err != nil {
		return authorizer.Verdict{}, false, fmt.Errorf("キャッシュ済み判定のデコードに失敗: %w", err)
	}
	return authorizer.Verdict{IsAuthorized: cv.IsAuthorized, Context: cv.Context}, true, nil
}

// Set は判定をRedisに保存する。ttlが0以下の場合は何もしない。
func (r *RedisVerdictCache) Set(ctx context.Context, key string, v authorizer.Verdict, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(cachedVerdict{IsAuthorized: v.IsAuthorized, Context: v.Context})
	if err != nil {
		return fmt.Errorf("判定のエンコードに失敗: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, string(data), ttl).Err(); err != nil {
		return fmt.Errorf("Redisへの保存に失敗: %w", err)
	}
	return nil
}
