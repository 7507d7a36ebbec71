package permutation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps per-study used-permutation hash sets in Redis so repeated
// sequence requests do not re-walk the trial table. It is best-effort: every
// miss or Redis error falls back to the database.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{
		client: client,
		ttl:    time.Hour,
	}
}

func usedKey(studyID uint) string {
	return fmt.Sprintf("fulcrum:used_perms:%d", studyID)
}

// UsedHashes returns the cached hash set for a study. The second return is
// false on miss or error.
func (c *Cache) UsedHashes(ctx context.Context, studyID uint) (map[string]struct{}, bool) {
	members, err := c.client.SMembers(ctx, usedKey(studyID)).Result()
	if err != nil || len(members) == 0 {
		return nil, false
	}

	// The sentinel marks a populated-but-empty set, so studies with no
	// sessions still get cache hits.
	hashes := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m == emptySentinel {
			continue
		}
		hashes[m] = struct{}{}
	}
	return hashes, true
}

const emptySentinel = "__none__"

// StoreUsedHashes replaces the cached set for a study.
func (c *Cache) StoreUsedHashes(ctx context.Context, studyID uint, hashes map[string]struct{}) {
	key := usedKey(studyID)
	members := make([]interface{}, 0, len(hashes)+1)
	members = append(members, emptySentinel)
	for h := range hashes {
		members = append(members, h)
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("perm cache: failed to store used hashes for study %d: %v", studyID, err)
	}
}

// Invalidate drops a study's cached set.
func (c *Cache) Invalidate(ctx context.Context, studyID uint) {
	if err := c.client.Del(ctx, usedKey(studyID)).Err(); err != nil {
		log.Printf("perm cache: failed to invalidate study %d: %v", studyID, err)
	}
}
