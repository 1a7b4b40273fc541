// Package sqlite implements the primary store: trips, users and tickets in
// the "main" database file and trip paths in the "path" file.
package sqlite

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Registry names of the two primary stores.
const (
	MainStore = "main"
	PathStore = "path"
)

//go:embed main.sql
var MainSchema string

//go:embed path.sql
var PathSchema string

// Handles are the two pools onto one database file. Writer has a single
// connection, so at most one write transaction is ever open on it. Reader
// is a separate read-only pool that sees committed data through WAL.
type Handles struct {
	Writer *sql.DB
	Reader *sql.DB
}

// Open opens the database at path, applies schema and returns both pools.
func Open(path, schema string, busyTimeout time.Duration) (*Handles, error) {
	busyMs := busyTimeout.Milliseconds()

	writer, err := sql.Open("sqlite3", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_foreign_keys=1",
		path, busyMs))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	writer.SetMaxOpenConns(1)

	if _, err := writer.Exec(schema); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("apply schema to %s: %w", path, err)
	}

	reader, err := sql.Open("sqlite3", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=%d&_query_only=1",
		path, busyMs))
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader %s: %w", path, err)
	}
	reader.SetMaxOpenConns(4)

	return &Handles{Writer: writer, Reader: reader}, nil
}

func (h *Handles) Close() error {
	return errors.Join(h.Reader.Close(), h.Writer.Close())
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
