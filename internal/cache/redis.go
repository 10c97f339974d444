package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sanraksh/sanraksh/internal/config"
)

// VerdictCache handles Redis-based caching of redaction verdicts. Keys bind
// the payload hash to the policy version, so a rule change never serves a
// verdict produced under the old rules.
type VerdictCache struct {
	client *redis.Client
	config *config.CacheConfig
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewVerdictCache creates a new Redis-based verdict cache
func NewVerdictCache(cfg *config.CacheConfig, logger *zap.Logger) (*VerdictCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	vc := &VerdictCache{
		client: client,
		config: cfg,
		logger: logger,
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := vc.ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Verdict cache initialized successfully",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("ttl", cfg.TTL))

	return vc, nil
}

// ping tests the Redis connection
func (vc *VerdictCache) ping(ctx context.Context) error {
	_, err := vc.client.Ping(ctx).Result()
	return err
}

// Ping reports whether Redis is reachable
func (vc *VerdictCache) Ping(ctx context.Context) error {
	return vc.ping(ctx)
}

// Counters returns the in-process hit and miss counts without touching Redis
func (vc *VerdictCache) Counters() (hits, misses int64) {
	return vc.hits.Load(), vc.misses.Load()
}

// Lookup fetches the verdict cached for a payload under the given policy
// version. A nil verdict is a miss. Redis failures degrade to a miss; the
// cache never fails a request.
func (vc *VerdictCache) Lookup(ctx context.Context, policyVersion, payload string) (*Verdict, error) {
	key := vc.verdictKey(policyVersion, payload)

	data, err := vc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		vc.misses.Add(1)
		vc.logger.Debug("Cache miss", zap.String("key", key))
		return nil, nil
	} else if err != nil {
		vc.logger.Error("Cache lookup failed", zap.Error(err))
		return nil, nil
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(data), &verdict); err != nil {
		vc.logger.Error("Failed to unmarshal cached verdict", zap.Error(err))
		// Delete corrupted cache entry
		vc.client.Del(ctx, key)
		return nil, nil
	}

	vc.hits.Add(1)
	vc.logger.Debug("Cache hit",
		zap.String("key", key),
		zap.Bool("is_pii", verdict.IsPII))

	return &verdict, nil
}

// LookupBatch fetches verdicts for many payloads in one round trip. The
// returned slice aligns with payloads; nil entries are misses.
func (vc *VerdictCache) LookupBatch(ctx context.Context, policyVersion string, payloads []string) ([]*Verdict, error) {
	verdicts := make([]*Verdict, len(payloads))
	if len(payloads) == 0 {
		return verdicts, nil
	}

	keys := make([]string, len(payloads))
	for i, payload := range payloads {
		keys[i] = vc.verdictKey(policyVersion, payload)
	}

	values, err := vc.client.MGet(ctx, keys...).Result()
	if err != nil {
		vc.logger.Error("Batch cache lookup failed", zap.Error(err))
		return verdicts, nil
	}

	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			vc.misses.Add(1)
			continue
		}
		var verdict Verdict
		if err := json.Unmarshal([]byte(data), &verdict); err != nil {
			vc.misses.Add(1)
			vc.client.Del(ctx, keys[i])
			continue
		}
		vc.hits.Add(1)
		verdicts[i] = &verdict
	}

	return verdicts, nil
}

// Store caches one verdict under the payload's key
func (vc *VerdictCache) Store(ctx context.Context, policyVersion, payload string, verdict *Verdict) error {
	key := vc.verdictKey(policyVersion, payload)

	verdict.CachedAt = time.Now()
	verdict.TTL = int64(vc.config.TTL.Seconds())

	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict for caching: %w", err)
	}

	if err := vc.client.Set(ctx, key, data, vc.config.TTL).Err(); err != nil {
		vc.logger.Error("Failed to cache verdict", zap.Error(err))
		return fmt.Errorf("failed to cache verdict: %w", err)
	}

	vc.logger.Debug("Verdict cached successfully",
		zap.String("key", key),
		zap.Bool("is_pii", verdict.IsPII))

	return nil
}

// StoreBatch caches multiple verdicts efficiently using a Redis pipeline
func (vc *VerdictCache) StoreBatch(ctx context.Context, policyVersion string, payloads []string, verdicts []*Verdict) error {
	if len(payloads) != len(verdicts) {
		return fmt.Errorf("payloads and verdicts length mismatch")
	}
	if len(verdicts) == 0 {
		return nil
	}

	pipe := vc.client.Pipeline()

	for i, verdict := range verdicts {
		if verdict == nil {
			continue
		}
		key := vc.verdictKey(policyVersion, payloads[i])

		verdict.CachedAt = time.Now()
		verdict.TTL = int64(vc.config.TTL.Seconds())

		data, err := json.Marshal(verdict)
		if err != nil {
			vc.logger.Error("Failed to marshal verdict for batch caching", zap.Error(err))
			continue
		}

		pipe.Set(ctx, key, data, vc.config.TTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		vc.logger.Error("Batch cache operation failed", zap.Error(err))
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	vc.logger.Debug("Batch cache operation completed",
		zap.Int("cached_verdicts", len(verdicts)))

	return nil
}

// GetStats returns cache performance statistics
func (vc *VerdictCache) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := vc.client.Info(ctx, "memory", "stats").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   vc.hits.Load(),
		Misses: vc.misses.Load(),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	// Parse memory usage from Redis info
	lines := strings.Split(info, "\r\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "used_memory:") {
			if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != "" {
				if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
					stats.MemoryUsage = mem
				}
			}
		}
	}

	keys, err := vc.client.DBSize(ctx).Result()
	if err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached verdicts
func (vc *VerdictCache) Clear(ctx context.Context) error {
	pattern := vc.config.KeyPrefix + "*"

	// Use SCAN to find all keys with our prefix
	iter := vc.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := vc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			vc.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	vc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (vc *VerdictCache) Close() error {
	if vc.client != nil {
		return vc.client.Close()
	}
	return nil
}

// verdictKey derives the cache key for a payload under a policy version
func (vc *VerdictCache) verdictKey(policyVersion, payload string) string {
	hasher := sha256.New()
	hasher.Write([]byte(policyVersion))
	hasher.Write([]byte{0})
	hasher.Write([]byte(payload))

	hash := hex.EncodeToString(hasher.Sum(nil))
	return fmt.Sprintf("%s:v:%s", vc.config.KeyPrefix, hash[:16])
}

// maskRedisURL masks credentials in a Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
