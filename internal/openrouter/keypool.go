package openrouter

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
)

// KeyPool is the ordered set of credentials shared by all requests of a process. The
// cursor only moves forward through Rotate, which uses compare-and-swap so that two
// requests rate limited on the same key advance it once between them.
type KeyPool struct {
	keys   []string
	cursor atomic.Uint64
}

// NewKeyPool creates a pool over keys, in order.
func NewKeyPool(keys []string) *KeyPool {
	cp := make([]string, len(keys))
	copy(cp, keys)
	return &KeyPool{keys: cp}
}

// Len returns the number of keys in the pool.
func (p *KeyPool) Len() int {
	return len(p.keys)
}

// Current returns the cursor position and its key. It returns (-1, "") for an empty pool.
func (p *KeyPool) Current() (int, string) {
	if len(p.keys) == 0 {
		return -1, ""
	}
	idx := int(p.cursor.Load() % uint64(len(p.keys)))
	return idx, p.keys[idx]
}

// Rotate advances the cursor past index if it still points there, wrapping around.
// It reports whether this call moved the cursor.
func (p *KeyPool) Rotate(index int) bool {
	n := uint64(len(p.keys))
	if n == 0 || index < 0 {
		return false
	}
	for {
		cur := p.cursor.Load()
		if cur%n != uint64(index) {
			return false
		}
		if p.cursor.CompareAndSwap(cur, (cur+1)%n) {
			return true
		}
	}
}

// Fingerprint identifies a key in logs without revealing it.
func Fingerprint(key string) string {
	if key == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:4])
}
