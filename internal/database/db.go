// Package database provides a small sqlite connection wrapper with
// profile-based PRAGMAs, used by the response-cache and job-history stores.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// Profile selects a PRAGMA bundle tuned for a particular access pattern.
type Profile string

const (
	// ProfileCache favors speed over durability for ephemeral data.
	ProfileCache Profile = "cache"
	// ProfileStandard is a balanced configuration for most databases.
	ProfileStandard Profile = "standard"
)

// DB wraps a *sql.DB with the profile and friendly name it was opened with.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
	name    string
}

// Config describes how to open a database.
type Config struct {
	Path    string
	Profile Profile
	Name    string
}

// New opens (creating if necessary) a sqlite database at cfg.Path and applies
// the PRAGMAs for cfg.Profile.
func New(cfg Config) (*DB, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = absPath
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", buildConnectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}
	configureConnectionPool(conn, cfg.Profile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: cfg.Path, profile: cfg.Profile, name: cfg.Name}, nil
}

// Conn returns the underlying *sql.DB.
func (d *DB) Conn() *sql.DB { return d.conn }

// Name returns the friendly database name used in logs.
func (d *DB) Name() string { return d.name }

// Close closes the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

// Ping cheaply verifies the connection is alive, used by the liveness probe.
func (d *DB) Ping(ctx context.Context) error { return d.conn.PingContext(ctx) }

func buildConnectionString(path string, profile Profile) string {
	pragmas := []string{"_pragma=journal_mode(WAL)", "_pragma=foreign_keys(ON)"}
	switch profile {
	case ProfileCache:
		pragmas = append(pragmas, "_pragma=synchronous(OFF)")
	default:
		pragmas = append(pragmas, "_pragma=synchronous(NORMAL)")
	}
	return path + "?" + strings.Join(pragmas, "&")
}

func configureConnectionPool(conn *sql.DB, profile Profile) {
	switch profile {
	case ProfileCache:
		conn.SetMaxOpenConns(4)
	default:
		conn.SetMaxOpenConns(1) // sqlite: serialize writers
	}
	conn.SetConnMaxLifetime(time.Hour)
}
