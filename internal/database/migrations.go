package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/ids"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/notes"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillInitialVersions = "2024-06-01_backfill_initial_versions"
	migrationLowercaseIdentityEmails = "2024-06-01_lowercase_identity_emails"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	idProvider := ids.NewUUIDProvider()
	migrations := []migrationDefinition{
		{name: migrationBackfillInitialVersions, apply: func(tx *gorm.DB) error {
			return backfillInitialVersions(tx, idProvider)
		}},
		{name: migrationLowercaseIdentityEmails, apply: lowercaseIdentityEmails},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillInitialVersions gives every note without history a first version
// holding its current content.
func backfillInitialVersions(db *gorm.DB, idProvider ids.Provider) error {
	var orphans []notes.Note
	err := db.Where("NOT EXISTS (SELECT 1 FROM note_versions WHERE note_versions.note_id = notes.note_id)").
		Find(&orphans).Error
	if err != nil {
		return err
	}
	for _, note := range orphans {
		versionID, err := idProvider.NewID()
		if err != nil {
			return err
		}
		version := notes.NoteVersion{
			VersionID:       versionID,
			NoteID:          note.NoteID,
			AuthorID:        note.OwnerID,
			Title:           note.Title,
			Body:            note.Body,
			Sequence:        1,
			CreatedAtMillis: note.UpdatedAtMillis,
		}
		if err := db.Create(&version).Error; err != nil {
			return err
		}
	}
	return nil
}

func lowercaseIdentityEmails(db *gorm.DB) error {
	return db.Model(&users.Identity{}).
		Where("user_email <> LOWER(user_email)").
		Update("user_email", gorm.Expr("LOWER(user_email)")).Error
}
