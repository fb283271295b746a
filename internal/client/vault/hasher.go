package vault

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openmined/vaultsync/internal/utils"
)

const defaultHashCacheSize = 4096

type cachedHash struct {
	size    int64
	modTime int64
	hash    string
}

// Hasher fingerprints vault files, reusing the previous fingerprint while a
// file's size and modify time are unchanged.
type Hasher struct {
	store LocalStore
	cache *lru.Cache[string, cachedHash]
}

func NewHasher(store LocalStore) *Hasher {
	cache, _ := lru.New[string, cachedHash](defaultHashCacheSize)
	return &Hasher{store: store, cache: cache}
}

// Fingerprint returns the content fingerprint of p together with its stat.
func (h *Hasher) Fingerprint(p string) (string, Entry, error) {
	entry, err := h.store.Stat(p)
	if err != nil {
		return "", Entry{}, err
	}
	if entry.IsFolder() {
		return "", entry, fmt.Errorf("fingerprint %s: %w", p, ErrIsFolder)
	}

	key := entry.Path
	if c, ok := h.cache.Get(key); ok && c.size == entry.Size && c.modTime == entry.ModTime.UnixNano() {
		return c.hash, entry, nil
	}

	data, err := h.store.Read(p)
	if err != nil {
		return "", entry, err
	}
	sum := utils.Fingerprint(data)
	h.cache.Add(key, cachedHash{size: entry.Size, modTime: entry.ModTime.UnixNano(), hash: sum})
	return sum, entry, nil
}

// Forget drops any cached fingerprint for p.
func (h *Hasher) Forget(p string) {
	h.cache.Remove(utils.NormPath(p))
}
