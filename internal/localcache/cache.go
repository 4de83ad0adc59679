package localcache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"subtrack/internal/models"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// Cache is the on-device durable store holding the last-known subscription
// collection per user. It is the fallback when the remote backend rejects or
// cannot serve a request.
type Cache struct {
	conn *sql.DB

	// Writes are whole-blob replacements; serialize them so two concurrent
	// operations cannot interleave a read-modify-write.
	mu sync.Mutex
}

// NewCache opens the cache database and runs migrations.
func NewCache(path string) (*Cache, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps in-memory databases coherent and avoids
	// sqlite write contention.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	c := &Cache{conn: conn}
	if err := c.migrate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Cache) migrate() error {
	_, err := c.conn.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

// Close closes the cache database.
func (c *Cache) Close() error {
	return c.conn.Close()
}

// Set stores a serialized blob under key, replacing any previous value.
func (c *Cache) Set(key string, blob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Exec(
		`INSERT INTO blobs (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, blob, time.Now(),
	)
	return err
}

// Get retrieves the blob stored under key. The second return value reports
// whether the key was present.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	var blob []byte
	err := c.conn.QueryRow("SELECT value FROM blobs WHERE key = ?", key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func subscriptionKey(userID string) string {
	return "subscriptions_" + userID
}

// SaveSubscriptions mirrors a user's whole subscription collection into the
// cache.
func (c *Cache) SaveSubscriptions(userID string, subs []models.Subscription) error {
	blob, err := json.Marshal(subs)
	if err != nil {
		return err
	}
	return c.Set(subscriptionKey(userID), blob)
}

// LoadSubscriptions recovers the last mirrored collection for a user. The
// second return value reports whether a mirror existed.
func (c *Cache) LoadSubscriptions(userID string) ([]models.Subscription, bool, error) {
	blob, ok, err := c.Get(subscriptionKey(userID))
	if err != nil || !ok {
		return nil, false, err
	}

	var subs []models.Subscription
	if err := json.Unmarshal(blob, &subs); err != nil {
		return nil, false, err
	}
	return subs, true, nil
}
