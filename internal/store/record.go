package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ireporter/api/internal/model"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrLocked is returned by Update and Delete when the record exists but
	// its status no longer allows owner changes.
	ErrLocked = errors.New("record is locked")
)

type RecordStore struct {
	db *gorm.DB
}

func NewRecordStore(db *gorm.DB) *RecordStore {
	return &RecordStore{db: db}
}

// ListOptions filters and pages a record listing. A nil OwnerID lists
// every record. PerPage <= 0 disables paging.
type ListOptions struct {
	OwnerID *int64
	Page    int
	PerPage int
}

func (s *RecordStore) Get(ctx context.Context, id int64) (*model.Record, error) {
	var rec model.Record
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load record %d: %w", id, err)
	}
	return &rec, nil
}

// List returns the matching records ordered by id together with the total
// number of matches before paging.
func (s *RecordStore) List(ctx context.Context, opts ListOptions) ([]model.Record, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Record{})
	if opts.OwnerID != nil {
		query = query.Where("user_id = ?", *opts.OwnerID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	query = query.Order("id ASC")
	if opts.PerPage > 0 {
		page := opts.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * opts.PerPage).Limit(opts.PerPage)
	}

	records := []model.Record{}
	if err := query.Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	return records, total, nil
}

func (s *RecordStore) Create(ctx context.Context, rec *model.Record) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("failed to create record: %w", err)
		}
		return nil
	})
}

// Update writes the mutable fields of rec. user_id and created_at are
// never written. The write only applies while the stored status is not
// locked.
func (s *RecordStore) Update(ctx context.Context, rec *model.Record) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(rec).
			Where("status NOT IN ?", model.LockedStatuses).
			Select("Type", "Title", "Description", "Latitude", "Longitude", "Images", "UpdatedAt").
			Updates(rec)
		if result.Error != nil {
			return fmt.Errorf("failed to update record %d: %w", rec.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return missingOrLocked(tx, rec.ID)
		}
		return nil
	})
}

// Delete removes the record unless its stored status is locked.
func (s *RecordStore) Delete(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("status NOT IN ?", model.LockedStatuses).Delete(&model.Record{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete record %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return missingOrLocked(tx, id)
		}
		return nil
	})
}

// missingOrLocked explains a conditional write that matched no row.
func missingOrLocked(tx *gorm.DB, id int64) error {
	var count int64
	if err := tx.Model(&model.Record{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check record %d: %w", id, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrLocked
}
