package repository

import (
	"context"
	"fmt"

	"github.com/jmylchreest/ttshub/internal/models"
	"gorm.io/gorm"
)

// Listing bounds for the ledger.
const (
	defaultClipLimit = 50
	maxClipLimit     = 500
)

// clipRepository implements ClipRepository using GORM.
type clipRepository struct {
	db *gorm.DB
}

// NewClipRepository creates a new ClipRepository.
func NewClipRepository(db *gorm.DB) ClipRepository {
	return &clipRepository{db: db}
}

// Record persists one ledger row.
func (r *clipRepository) Record(ctx context.Context, clip *models.Clip) error {
	if err := clip.Validate(); err != nil {
		return fmt.Errorf("validating clip: %w", err)
	}
	return r.db.WithContext(ctx).Create(clip).Error
}

// List returns ledger rows newest first. ULIDs sort by mint time, so
// ordering by primary key is ordering by creation.
func (r *clipRepository) List(ctx context.Context, f ClipFilter) ([]*models.Clip, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultClipLimit
	}
	if limit > maxClipLimit {
		limit = maxClipLimit
	}

	q := r.db.WithContext(ctx).Model(&models.Clip{})
	if f.Engine != "" {
		q = q.Where("engine = ?", f.Engine)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if !f.Since.IsZero() {
		// The time cutoff rides the primary key: every ULID minted at or
		// after the cutoff sorts at or above its floor ULID.
		q = q.Where("id >= ?", models.ULIDAt(f.Since))
	}

	var clips []*models.Clip
	if err := q.Order("id DESC").Limit(limit).Find(&clips).Error; err != nil {
		return nil, err
	}
	return clips, nil
}

// GetByID retrieves a row by ID.
func (r *clipRepository) GetByID(ctx context.Context, id models.ULID) (*models.Clip, error) {
	var clip models.Clip
	if err := r.db.WithContext(ctx).First(&clip, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &clip, nil
}

// Delete hard-deletes a row by ID. Deleting an absent row is not an
// error.
func (r *clipRepository) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Delete(&models.Clip{}, "id = ?", id).Error
}
