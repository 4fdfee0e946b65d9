package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/airframesio/data-differ/cmd/comparison"
	"github.com/airframesio/data-differ/cmd/schema"
)

const schemaCacheTTL = 24 * time.Hour

// SchemaCache keeps introspected schema comparisons so repeated runs against the same
// source pair skip catalog queries
type SchemaCache struct {
	Entries map[string]SchemaCacheEntry `json:"entries"`
}

type SchemaCacheEntry struct {
	SourceA   string         `json:"sourceA"`
	SourceB   string         `json:"sourceB"`
	Result    *schema.Result `json:"result"`
	Timestamp time.Time      `json:"timestamp"`
}

func getCacheDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".data-differ", "cache")
}

func getSchemaCachePath() string {
	return filepath.Join(getCacheDir(), "schemas.json")
}

// schemaCacheKey identifies a source pair on one backend
func schemaCacheKey(dsn string, a, b comparison.Source) string {
	sum := sha256.Sum256([]byte(dsn + "\x00" + a.Key() + "\x00" + b.Key()))
	return hex.EncodeToString(sum[:])
}

func loadSchemaCache() (*SchemaCache, error) {
	data, err := os.ReadFile(getSchemaCachePath())
	if err != nil {
		if os.IsNotExist(err) {
			return &SchemaCache{Entries: make(map[string]SchemaCacheEntry)}, nil
		}
		return nil, err
	}

	var cache SchemaCache
	if err := json.Unmarshal(data, &cache); err != nil {
		// A corrupted cache is rebuilt from scratch
		return &SchemaCache{Entries: make(map[string]SchemaCacheEntry)}, nil
	}
	if cache.Entries == nil {
		cache.Entries = make(map[string]SchemaCacheEntry)
	}
	return &cache, nil
}

func (c *SchemaCache) save() error {
	if err := os.MkdirAll(getCacheDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	c.cleanExpired()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(getSchemaCachePath(), data, 0o600)
}

func (c *SchemaCache) get(key string) (*schema.Result, bool) {
	entry, exists := c.Entries[key]
	if !exists || entry.Result == nil {
		return nil, false
	}
	if time.Since(entry.Timestamp) > schemaCacheTTL {
		delete(c.Entries, key)
		return nil, false
	}
	return entry.Result, true
}

func (c *SchemaCache) set(key string, a, b comparison.Source, res *schema.Result) {
	c.Entries[key] = SchemaCacheEntry{
		SourceA:   a.Label(),
		SourceB:   b.Label(),
		Result:    res,
		Timestamp: time.Now(),
	}
}

func (c *SchemaCache) cleanExpired() {
	for key, entry := range c.Entries {
		if time.Since(entry.Timestamp) > schemaCacheTTL {
			delete(c.Entries, key)
		}
	}
}
