package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file, one record per line
//   - "sqlite": SQLite database file (pure Go driver)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Stage names the step a SendRecord describes.
const (
	StagePrepare = "prepare"
	StageSend    = "send"
)

// SendRecord is one prepare or send outcome.
// Keep it compact and schema-stable.
type SendRecord struct {
	At       time.Time `json:"at"`
	Target   string    `json:"target"`
	Kind     string    `json:"kind"` // once, recurring, now
	Stage    string    `json:"stage"`
	OK       bool      `json:"ok"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}

// Store is the persistence API used by the scheduler and the CLI.
type Store interface {
	Record(ctx context.Context, r SendRecord) error
	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]SendRecord, error)
	Close() error
}
