package progress

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew = "progress.service.new"
	opLog        = "progress.log"
	opSummary    = "progress.summary"

	reasonMissingDatabase = "missing_database"
	reasonUnauthenticated = "unauthenticated"
	reasonInvalidDate     = "invalid_date"
	reasonInvalidMinutes  = "invalid_minutes"
	reasonInvalidKind     = "invalid_kind"
	reasonInvalidRange    = "invalid_range"
	reasonWriteFailed     = "write_failed"
	reasonQueryFailed     = "query_failed"

	maxMinutesPerLog = 24 * 60
)

var errMissingDatabase = errors.New("progress: database handle is required")

// ServiceConfig describes the dependencies of the progress ledger.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service accumulates study minutes and note activity per user and day.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and constructs the ledger.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(opServiceNew, reasonMissingDatabase, nil, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Today returns the ledger key of the current day.
func (s *Service) Today() string {
	return dayOf(s.clock())
}

// Log adds minutes to the (userID, date) entry, creating it when absent, and
// bumps the counter matching kind. An empty date selects today.
func (s *Service) Log(ctx context.Context, userID, date string, minutes int, kind Kind) error {
	user := strings.TrimSpace(userID)
	if user == "" {
		return apperr.New(opLog, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	day := strings.TrimSpace(date)
	if day == "" {
		day = s.Today()
	} else if _, err := time.Parse(DateLayout, day); err != nil {
		return apperr.New(opLog, reasonInvalidDate, apperr.ErrValidation, err)
	}
	if minutes < 0 || minutes > maxMinutesPerLog {
		return apperr.New(opLog, reasonInvalidMinutes, apperr.ErrValidation, nil)
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return apperr.New(opLog, reasonInvalidKind, apperr.ErrValidation, err)
	}

	created, updated := 0, 0
	switch kind {
	case KindCreate:
		created = 1
	case KindUpdate:
		updated = 1
	}
	entry := LogEntry{
		UserID:          user,
		Date:            day,
		Minutes:         minutes,
		NotesCreated:    created,
		NotesUpdated:    updated,
		UpdatedAtMillis: s.clock().UTC().UnixMilli(),
	}
	table := LogEntry{}.TableName()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "log_date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"minutes":       gorm.Expr(table+".minutes + ?", minutes),
			"notes_created": gorm.Expr(table+".notes_created + ?", created),
			"notes_updated": gorm.Expr(table+".notes_updated + ?", updated),
			"updated_at_ms": entry.UpdatedAtMillis,
		}),
	}).Create(&entry).Error
	if err != nil {
		s.logError(opLog, reasonWriteFailed, err, zap.String("user_id", user), zap.String("date", day))
		return apperr.New(opLog, reasonWriteFailed, nil, err)
	}
	return nil
}

// Summary aggregates the user's entries over window. The streak counts
// consecutive days with an entry walking back from today, independent of window.
func (s *Service) Summary(ctx context.Context, userID string, window Range) (Summary, error) {
	user := strings.TrimSpace(userID)
	if user == "" {
		return Summary{Range: window, Daily: []DailyPoint{}}, nil
	}
	window, err := ParseRange(string(window))
	if err != nil {
		return Summary{}, apperr.New(opSummary, reasonInvalidRange, apperr.ErrValidation, err)
	}

	var entries []LogEntry
	if err = s.db.WithContext(ctx).
		Where("user_id = ?", user).
		Order("log_date ASC").
		Find(&entries).Error; err != nil {
		s.logError(opSummary, reasonQueryFailed, err, zap.String("user_id", user))
		return Summary{}, apperr.New(opSummary, reasonQueryFailed, nil, err)
	}
	return summarize(entries, window, s.clock().UTC()), nil
}

func summarize(entries []LogEntry, window Range, now time.Time) Summary {
	today := truncateToDay(now)
	days := window.days()
	from := ""
	if days > 0 {
		from = dayOf(today.AddDate(0, 0, -days))
	}

	summary := Summary{Range: window, Daily: make([]DailyPoint, 0, len(entries))}
	present := make(map[string]struct{}, len(entries))
	earliest := ""
	for _, entry := range entries {
		present[entry.Date] = struct{}{}
		if entry.Date < from {
			continue
		}
		if earliest == "" || entry.Date < earliest {
			earliest = entry.Date
		}
		summary.TotalMinutes += entry.Minutes
		summary.Entries++
		summary.Daily = append(summary.Daily, DailyPoint{
			Date:         entry.Date,
			Minutes:      entry.Minutes,
			NotesCreated: entry.NotesCreated,
			NotesUpdated: entry.NotesUpdated,
		})
	}

	if days == 0 && earliest != "" {
		if first, err := time.Parse(DateLayout, earliest); err == nil {
			days = int(today.Sub(first).Hours()/24) + 1
		}
	}
	elapsed := math.Max(1, float64(days))
	summary.SessionsPerDay = math.Round(float64(summary.Entries)/elapsed*10) / 10

	for cursor := today; ; cursor = cursor.AddDate(0, 0, -1) {
		if _, ok := present[dayOf(cursor)]; !ok {
			break
		}
		summary.Streak++
	}
	return summary
}

func truncateToDay(value time.Time) time.Time {
	year, month, day := value.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	s.logger.Error("progress service error", append(attrs, fields...)...)
}
