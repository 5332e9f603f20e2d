package validate

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// CacheKey identifies one distinct (certificate, SCT-set) observation: a
// digest of the certificate fingerprint and the raw bytes of every channel.
type CacheKey [sha256.Size]byte

// DefaultCacheSize bounds the verdict cache. The original design never
// evicted; bounding it trades the worst case of a long-lived proxy facing
// many distinct backend certificates for an occasional re-validation.
const DefaultCacheSize = 4096

// Cache memoizes validation verdicts process-wide so a handshake presenting
// byte-identical server state to an earlier one performs zero signature
// verifications. Entries are verdicts only, never SCT bytes.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[CacheKey, Verdict]
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, err := lru.New[CacheKey, Verdict](size)
	if err != nil {
		return nil, errors.Wrap(err, "creating validation cache")
	}
	return &Cache{lru: l}, nil
}

func (c *Cache) Get(key CacheKey) (Verdict, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		cacheHits.Inc()
	} else {
		cacheMisses.Inc()
	}
	return v, ok
}

// PutIfAbsent inserts a verdict unless another connection raced its own
// validation in first. The returned verdict is the one all racers must
// report, and first reports whether the caller won the insert.
func (c *Cache) PutIfAbsent(key CacheKey, v Verdict) (winner Verdict, first bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.lru.Get(key); ok {
		return existing, false
	}
	c.lru.Add(key, v)
	return v, true
}

func cacheKey(fingerprint string, channels [][]byte) CacheKey {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	var n [4]byte
	for _, blob := range channels {
		// Length-delimit each blob so concatenations cannot collide.
		binary.BigEndian.PutUint32(n[:], uint32(len(blob)))
		h.Write(n[:])
		h.Write(blob)
	}
	var key CacheKey
	h.Sum(key[:0])
	return key
}
