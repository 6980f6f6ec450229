package compiler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
)

// cacheFileName is the on-disk name of the persisted compilation cache.
const cacheFileName = "kiln-cache.json"

// cacheDocument is the on-disk JSON shape of the compilation cache: a
// list of [path, mtimeMs] pairs plus a lastUpdated timestamp.
type cacheDocument struct {
	Timestamps  [][2]interface{} `json:"timestamps"`
	LastUpdated int64            `json:"lastUpdated"`
}

// Cache is the in-memory compilation cache, mapping sourcePath to
// the content mtime it was last compiled at. It is fronted by an
// in-memory fastcache layer holding millisecond mtimes, which Get
// consults before the map; both are guarded by the same mutex. It is
// persisted to disk so it survives process restarts.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]time.Time
	fast    *fastcache.Cache
}

// LoadCache loads the persisted cache at <outputRoot>/kiln-cache.json.
// A missing or corrupt file is treated as an empty cache (best-effort)
// rather than an error.
func LoadCache(outputRoot string) *Cache {
	c := &Cache{
		path:    filepath.Join(outputRoot, cacheFileName),
		entries: make(map[string]time.Time),
		fast:    fastcache.New(8 << 20),
	}

	b, err := os.ReadFile(c.path)
	if err != nil {
		return c
	}

	var doc cacheDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return c
	}

	for _, pair := range doc.Timestamps {
		if len(pair) != 2 {
			continue
		}
		path, ok := pair[0].(string)
		if !ok {
			continue
		}
		ms, ok := pair[1].(float64)
		if !ok {
			continue
		}
		c.entries[path] = time.UnixMilli(int64(ms))
	}

	return c
}

// Get returns the cached mtime for sourcePath, if any.
func (c *Cache) Get(sourcePath string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b := c.fast.Get(nil, []byte(sourcePath)); b != nil {
		if ms, ok := decodeMillis(b); ok {
			return time.UnixMilli(ms), true
		}
	}

	t, ok := c.entries[sourcePath]
	return t, ok
}

// Put records sourcePath as compiled as of mtime.
func (c *Cache) Put(sourcePath string, mtime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sourcePath] = mtime
	c.fast.Set([]byte(sourcePath), encodeMillis(mtime.UnixMilli()))
}

// Persist writes the cache to disk atomically (temp file + rename), so
// readers never observe a partially written cache file.
func (c *Cache) Persist() error {
	c.mu.Lock()
	doc := cacheDocument{LastUpdated: time.Now().UnixMilli()}
	for path, t := range c.entries {
		doc.Timestamps = append(doc.Timestamps, [2]interface{}{path, t.UnixMilli()})
	}
	c.mu.Unlock()

	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".kiln-cache-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, c.path)
}

func encodeMillis(ms int64) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(ms >> (8 * i))
	}
	return out
}

func decodeMillis(b []byte) (int64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	var ms int64
	for i := 0; i < 8; i++ {
		ms |= int64(b[i]) << (8 * i)
	}
	return ms, true
}
