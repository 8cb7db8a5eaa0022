package distcache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Digest maps a normalized URL to its namespaced cache key.
// Keys stay short and free of characters memcached rejects.
func Digest(prefix, url string) string {
	return fmt.Sprintf("%s%016x", prefix, xxhash.Sum64String(url))
}
