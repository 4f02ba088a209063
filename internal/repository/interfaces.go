// Package repository defines data access interfaces for persisted records.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/ttshub/internal/models"
)

// ClipFilter narrows a ledger listing.
type ClipFilter struct {
	// Engine keeps only clips rendered by the given engine id.
	Engine string
	// Kind keeps only clips of the given kind.
	Kind models.ClipKind
	// Since keeps only clips minted at or after the given time; the zero
	// value applies no cutoff.
	Since time.Time
	// Limit bounds the result count; zero applies the default.
	Limit int
}

// ClipRepository defines operations for the clip history ledger.
type ClipRepository interface {
	// Record persists one ledger row.
	Record(ctx context.Context, clip *models.Clip) error
	// List returns rows newest first, filtered per f.
	List(ctx context.Context, f ClipFilter) ([]*models.Clip, error)
	// GetByID retrieves a row by ID, or nil when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.Clip, error)
	// Delete removes a row by ID.
	Delete(ctx context.Context, id models.ULID) error
}
