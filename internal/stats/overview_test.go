package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/notes"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/plans"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/study"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 9, 10, 15, 30, 0, 0, time.UTC)

type stubNotes struct {
	owner string
	notes []notes.Note
	err   error
}

func (s *stubNotes) Search(_ context.Context, ownerID string, _ notes.SearchQuery) ([]notes.Note, error) {
	if s.err != nil {
		return nil, s.err
	}
	if ownerID != s.owner {
		return []notes.Note{}, nil
	}
	return s.notes, nil
}

type stubPlans struct{ views []plans.View }

func (s *stubPlans) List(context.Context, string) ([]plans.View, error) {
	return s.views, nil
}

type stubMentor struct{ limits []int }

func (s *stubMentor) RecentMentorChats(_ context.Context, userID string, limit int) ([]study.MentorChat, error) {
	s.limits = append(s.limits, limit)
	return []study.MentorChat{{ChatID: "chat-1", UserID: userID, Question: "q", Answer: "a"}}, nil
}

func note(id string, updated time.Time, grade *float64) notes.Note {
	return notes.Note{NoteID: id, Title: "Note " + id, UpdatedAtMillis: updated.UnixMilli(), Grade: grade}
}

func grade(value float64) *float64 {
	return &value
}

func newService(t *testing.T, source *stubNotes, planSource *stubPlans, mentor *stubMentor) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Notes:  source,
		Plans:  planSource,
		Mentor: mentor,
		Clock:  func() time.Time { return now },
	})
	require.NoError(t, err)
	return service
}

func TestOverviewAggregates(t *testing.T) {
	source := &stubNotes{owner: "alice", notes: []notes.Note{
		note("a", now.Add(-time.Hour), grade(10)),
		note("b", now.AddDate(0, 0, -1), grade(7)),
		note("c", now.AddDate(0, 0, -1).Add(-time.Hour), nil),
		note("d", now.AddDate(0, 0, -6), grade(4)),
		note("e", now.AddDate(0, 0, -7), nil),
	}}
	planSource := &stubPlans{views: []plans.View{
		{Plan: plans.Plan{PlanID: "p1"}, NoteCount: 2, CompletedCount: 2, Progress: 100},
		{Plan: plans.Plan{PlanID: "p2"}, NoteCount: 3, CompletedCount: 1, Progress: 33},
		{Plan: plans.Plan{PlanID: "p3"}},
	}}
	mentor := &stubMentor{}

	overview, err := newService(t, source, planSource, mentor).Overview(context.Background(), "alice")
	require.NoError(t, err)

	require.Len(t, overview.WeeklyNotes, 7)
	assert.Equal(t, DayCount{Date: "2024-09-04", Notes: 1}, overview.WeeklyNotes[0])
	assert.Equal(t, DayCount{Date: "2024-09-09", Notes: 2}, overview.WeeklyNotes[5])
	assert.Equal(t, DayCount{Date: "2024-09-10", Notes: 1}, overview.WeeklyNotes[6])

	require.NotNil(t, overview.AverageGrade)
	assert.Equal(t, 7.0, *overview.AverageGrade)
	assert.Equal(t, 3, overview.GradedNotes)
	assert.Equal(t, 5, overview.TotalNotes)
	assert.Equal(t, 3, overview.TotalPlans)
	assert.Equal(t, 44, overview.PlanProgress)

	require.Len(t, overview.RecentNotes, 3)
	assert.Equal(t, "a", overview.RecentNotes[0].NoteID)
	require.Len(t, overview.ActivePlans, 2)
	assert.Equal(t, "p2", overview.ActivePlans[0].PlanID)
	assert.Equal(t, "p3", overview.ActivePlans[1].PlanID)
	require.Len(t, overview.LastFeedbacks, 1)
	assert.Equal(t, []int{3}, mentor.limits)
}

func TestOverviewWithoutGradesOrPlans(t *testing.T) {
	service := newService(t, &stubNotes{owner: "alice"}, &stubPlans{}, &stubMentor{})

	overview, err := service.Overview(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, overview.AverageGrade)
	assert.Zero(t, overview.PlanProgress)
	assert.Empty(t, overview.RecentNotes)
	assert.NotNil(t, overview.RecentNotes)
	assert.Empty(t, overview.ActivePlans)
	for _, day := range overview.WeeklyNotes {
		assert.Zero(t, day.Notes)
	}
}

func TestOverviewErrors(t *testing.T) {
	failure := errors.New("database gone")
	service := newService(t, &stubNotes{owner: "alice", err: failure}, &stubPlans{}, &stubMentor{})

	_, err := service.Overview(context.Background(), " ")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	_, err = service.Overview(context.Background(), "alice")
	assert.ErrorIs(t, err, failure)

	_, err = NewService(ServiceConfig{Notes: &stubNotes{}})
	assert.Error(t, err)
}
