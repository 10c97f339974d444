package cache

import (
	"time"

	"github.com/sanraksh/sanraksh/internal/privacy"
)

// Verdict is a cached redaction outcome. The stored payload and findings are
// already masked, so the cache never holds raw identifier values.
type Verdict struct {
	Data       string            `json:"data"`
	IsPII      bool              `json:"is_pii"`
	Categories []string          `json:"categories,omitempty"`
	Findings   []privacy.Finding `json:"findings,omitempty"`
	CachedAt   time.Time         `json:"cached_at"`
	TTL        int64             `json:"ttl"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}
