// Package storage keeps loaded program revisions. Every successful pack load
// produces a new immutable revision; older revisions stay queryable so a
// request can be pinned to the exact program it was authored against.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/arbiterhq/arbiter/pkg/engine"
)

// ErrNotFound is returned when a requested revision does not exist.
var ErrNotFound = errors.New("program revision not found")

// Revision is one loaded, analyzed program together with its identity.
type Revision struct {
	ID       string
	Program  *engine.Program
	Source   string
	LoadedAt time.Time
}

// ProgramStore exposes persistence operations for program revisions.
type ProgramStore interface {
	Get(ctx context.Context, id string) (*Revision, error)
	Save(ctx context.Context, rev *Revision) error
	Latest(ctx context.Context) (*Revision, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}
