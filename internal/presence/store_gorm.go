package presence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("presence: database handle is required")

// GormStore keeps presence records in the relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a Store over db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Upsert(ctx context.Context, record Record) error {
	row := rowFromRecord(record)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "note_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursor_pos", "selection_start", "selection_end", "last_seen_ms"}),
	}).Create(&row).Error
}

func (s *GormStore) ListSince(ctx context.Context, noteID string, sinceMillis int64) ([]Record, error) {
	var rows []presenceRow
	if err := s.db.WithContext(ctx).
		Where("note_id = ? AND last_seen_ms >= ?", noteID, sinceMillis).
		Order("last_seen_ms DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

func (s *GormStore) DeleteBefore(ctx context.Context, cutoffMillis int64) (int64, error) {
	result := s.db.WithContext(ctx).Where("last_seen_ms < ?", cutoffMillis).Delete(&presenceRow{})
	return result.RowsAffected, result.Error
}

// DeleteForNote removes every presence record of noteID inside the caller's transaction.
func DeleteForNote(tx *gorm.DB, noteID string) error {
	return tx.Where("note_id = ?", noteID).Delete(&presenceRow{}).Error
}
