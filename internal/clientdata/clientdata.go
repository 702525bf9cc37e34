// Package clientdata persists the last provider response for each
// (broker, symbol, resolution, from, to) request as a stale-data fallback
// for when every upstream is unreachable. Adapted from the teacher's
// internal/clientdata/repository.go, collapsed from that package's
// per-source table set down to the single response_cache table this
// platform needs.
package clientdata

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Schema creates response_cache if it does not already exist, following
// the teacher's cash_flows.InitSchema idiom (a literal CREATE TABLE IF NOT
// EXISTS string run once at startup, no migration framework).
const Schema = `
CREATE TABLE IF NOT EXISTS response_cache (
    broker TEXT NOT NULL,
    symbol TEXT NOT NULL,
    resolution TEXT NOT NULL,
    from_ts INTEGER NOT NULL,
    to_ts INTEGER NOT NULL,
    data TEXT NOT NULL,
    expires_at INTEGER NOT NULL,
    PRIMARY KEY (broker, symbol, resolution, from_ts, to_ts)
);

CREATE INDEX IF NOT EXISTS idx_response_cache_expires ON response_cache(expires_at);
`

// InitSchema ensures response_cache exists in the database passed in.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Key identifies one cached response.
type Key struct {
	Broker     string
	Symbol     string
	Resolution string
	From       int64
	To         int64
}

// Repository is the response_cache store, backing a last-resort stale-data
// fallback per spec.md §4.8/§7.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps a database connection already bearing the
// response_cache table (see InitSchema).
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Store upserts payload under key with expiration = now + ttl.
func (r *Repository) Store(key Key, payload interface{}, ttl time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("clientdata: failed to marshal payload: %w", err)
	}

	expiresAt := time.Now().Add(ttl).Unix()
	_, err = r.db.Exec(
		`INSERT OR REPLACE INTO response_cache (broker, symbol, resolution, from_ts, to_ts, data, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.Broker, key.Symbol, key.Resolution, key.From, key.To, string(data), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("clientdata: failed to store response: %w", err)
	}
	return nil
}

// GetIfFresh returns the cached payload only if it has not expired.
func (r *Repository) GetIfFresh(key Key) (json.RawMessage, error) {
	return r.get(key, true)
}

// Get returns the cached payload regardless of expiration, for use as the
// last-resort stale fallback when every provider fetch has failed.
func (r *Repository) Get(key Key) (json.RawMessage, error) {
	return r.get(key, false)
}

func (r *Repository) get(key Key, freshOnly bool) (json.RawMessage, error) {
	query := `SELECT data FROM response_cache WHERE broker = ? AND symbol = ? AND resolution = ? AND from_ts = ? AND to_ts = ?`
	args := []interface{}{key.Broker, key.Symbol, key.Resolution, key.From, key.To}
	if freshOnly {
		query += ` AND expires_at > ?`
		args = append(args, time.Now().Unix())
	}

	var data string
	err := r.db.QueryRow(query, args...).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("clientdata: failed to read response: %w", err)
	}
	return json.RawMessage(data), nil
}

// DeleteExpired removes every row whose expires_at has passed, returning
// the number of rows removed.
func (r *Repository) DeleteExpired() (int64, error) {
	result, err := r.db.Exec(`DELETE FROM response_cache WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("clientdata: failed to delete expired responses: %w", err)
	}
	return result.RowsAffected()
}
