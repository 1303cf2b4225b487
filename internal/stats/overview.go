package stats

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/notes"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/plans"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/study"
	"go.uber.org/zap"
)

const (
	opServiceNew = "stats.service.new"
	opOverview   = "stats.overview"

	reasonMissingDependency = "missing_dependency"
	reasonUnauthenticated   = "unauthenticated"

	weekDays     = 7
	shortListLen = 3
	dateLayout   = "2006-01-02"
)

var errMissingDependency = errors.New("stats: notes, plans and mentor sources are required")

// NoteSource lists the notes a user owns, most recently updated first.
type NoteSource interface {
	Search(ctx context.Context, ownerID string, query notes.SearchQuery) ([]notes.Note, error)
}

// PlanSource lists a user's study plans, newest first.
type PlanSource interface {
	List(ctx context.Context, userID string) ([]plans.View, error)
}

// MentorSource returns a user's latest mentor exchanges.
type MentorSource interface {
	RecentMentorChats(ctx context.Context, userID string, limit int) ([]study.MentorChat, error)
}

// ServiceConfig describes the dependencies of the overview service.
type ServiceConfig struct {
	Notes  NoteSource
	Plans  PlanSource
	Mentor MentorSource
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service assembles the dashboard overview from the other services.
type Service struct {
	notes  NoteSource
	plans  PlanSource
	mentor MentorSource
	clock  func() time.Time
	logger *zap.Logger
}

// DayCount is the number of notes last updated on one UTC day.
type DayCount struct {
	Date  string `json:"date"`
	Notes int    `json:"notes"`
}

// NoteSummary is the dashboard view of a note.
type NoteSummary struct {
	NoteID          string   `json:"note_id"`
	Title           string   `json:"title"`
	Subject         string   `json:"subject,omitempty"`
	Grade           *float64 `json:"grade,omitempty"`
	UpdatedAtMillis int64    `json:"updated_at_ms"`
}

// Overview aggregates a user's notes, plans and mentor activity.
// AverageGrade is nil until at least one note is graded.
type Overview struct {
	WeeklyNotes   []DayCount         `json:"weekly_notes"`
	AverageGrade  *float64           `json:"average_grade"`
	PlanProgress  int                `json:"plan_progress"`
	RecentNotes   []NoteSummary      `json:"recent_notes"`
	ActivePlans   []plans.View       `json:"active_plans"`
	LastFeedbacks []study.MentorChat `json:"last_feedbacks"`
	TotalNotes    int                `json:"total_notes"`
	TotalPlans    int                `json:"total_plans"`
	GradedNotes   int                `json:"graded_notes_count"`
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Notes == nil || cfg.Plans == nil || cfg.Mentor == nil {
		return nil, apperr.New(opServiceNew, reasonMissingDependency, nil, errMissingDependency)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{notes: cfg.Notes, plans: cfg.Plans, mentor: cfg.Mentor, clock: clock, logger: logger}, nil
}

// Overview computes the caller's dashboard.
func (s *Service) Overview(ctx context.Context, userID string) (Overview, error) {
	user := strings.TrimSpace(userID)
	if user == "" {
		return Overview{}, apperr.New(opOverview, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	owned, err := s.notes.Search(ctx, user, notes.SearchQuery{Sort: notes.SortUpdated})
	if err != nil {
		return Overview{}, err
	}
	views, err := s.plans.List(ctx, user)
	if err != nil {
		return Overview{}, err
	}
	chats, err := s.mentor.RecentMentorChats(ctx, user, shortListLen)
	if err != nil {
		return Overview{}, err
	}

	overview := Overview{
		WeeklyNotes:   weeklyCounts(owned, s.clock().UTC()),
		PlanProgress:  averageProgress(views),
		RecentNotes:   make([]NoteSummary, 0, shortListLen),
		ActivePlans:   activePlans(views, shortListLen),
		LastFeedbacks: chats,
		TotalNotes:    len(owned),
		TotalPlans:    len(views),
	}
	var gradeSum float64
	for _, note := range owned {
		if note.Grade != nil {
			overview.GradedNotes++
			gradeSum += *note.Grade
		}
		if len(overview.RecentNotes) < shortListLen {
			overview.RecentNotes = append(overview.RecentNotes, NoteSummary{
				NoteID:          note.NoteID,
				Title:           note.Title,
				Subject:         note.Subject,
				Grade:           note.Grade,
				UpdatedAtMillis: note.UpdatedAtMillis,
			})
		}
	}
	if overview.GradedNotes > 0 {
		average := math.Round(gradeSum/float64(overview.GradedNotes)*10) / 10
		overview.AverageGrade = &average
	}
	s.logger.Debug("overview computed",
		zap.String("operation", opOverview),
		zap.String("user_id", user),
		zap.Int("notes", overview.TotalNotes),
		zap.Int("plans", overview.TotalPlans))
	return overview, nil
}

// weeklyCounts buckets notes by the UTC day of their last update over the
// seven days ending today, oldest first.
func weeklyCounts(owned []notes.Note, now time.Time) []DayCount {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := make([]DayCount, weekDays)
	index := make(map[string]int, weekDays)
	for offset := 0; offset < weekDays; offset++ {
		date := today.AddDate(0, 0, offset-(weekDays-1)).Format(dateLayout)
		days[offset] = DayCount{Date: date}
		index[date] = offset
	}
	for _, note := range owned {
		date := time.UnixMilli(note.UpdatedAtMillis).UTC().Format(dateLayout)
		if position, ok := index[date]; ok {
			days[position].Notes++
		}
	}
	return days
}

func averageProgress(views []plans.View) int {
	if len(views) == 0 {
		return 0
	}
	total := 0
	for _, view := range views {
		total += view.Progress
	}
	return int(math.Round(float64(total) / float64(len(views))))
}

// activePlans keeps the newest plans that are not yet complete.
func activePlans(views []plans.View, limit int) []plans.View {
	active := make([]plans.View, 0, limit)
	for _, view := range views {
		if view.NoteCount > 0 && view.CompletedCount == view.NoteCount {
			continue
		}
		active = append(active, view)
		if len(active) == limit {
			break
		}
	}
	return active
}
