package cache

import (
	"fmt"
	"time"
)

// Stats contains cache performance statistics.
type Stats struct {
	Size       int     `json:"size"`
	MaxEntries int     `json:"max_entries"`
	Bytes      int64   `json:"bytes"`
	MaxBytes   int64   `json:"max_bytes"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
	HitRate    float64 `json:"hit_rate"`
}

// entry is a cached value with bookkeeping metadata.
type entry struct {
	value       interface{}
	createdAt   time.Time
	expiresAt   time.Time
	accessCount int64
	lastAccess  time.Time
	sizeBytes   int64
	element     *lruElement
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// EstimateSize computes the approximate in-memory size of a value in bytes.
// Strings count their UTF-8 bytes, numbers and booleans count as 8, and
// containers sum their elements recursively. The result is deterministic for
// a given value shape, which keeps byte accounting consistent across
// insert and remove.
func EstimateSize(v interface{}) int64 {
	switch val := v.(type) {
	case nil:
		return 0
	case string:
		return int64(len(val))
	case []byte:
		return int64(len(val))
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return 8
	case []interface{}:
		var total int64
		for _, item := range val {
			total += EstimateSize(item)
		}
		return total
	case []string:
		var total int64
		for _, item := range val {
			total += int64(len(item))
		}
		return total
	case map[string]interface{}:
		var total int64
		for k, item := range val {
			total += int64(len(k)) + EstimateSize(item)
		}
		return total
	case map[string]string:
		var total int64
		for k, item := range val {
			total += int64(len(k) + len(item))
		}
		return total
	default:
		// Rough estimate for other types
		return int64(len(fmt.Sprintf("%v", val)) * 2)
	}
}
