package study

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExamPrepPersistsNormalizedQuestions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createNote(t, "alice", "Cells", "Biology")
	f.completer.reply = `[{"question":"Define osmosis","answer":"Diffusion of water","difficulty":"HARD"},` +
		`{"question":"Name an organelle","answer":"Nucleus","difficulty":"trivial"},{"question":" ","answer":"skip"}]`

	exam, err := f.study.ExamPrep(ctx, "Biology", "alice", 0)
	require.NoError(t, err)
	assert.True(t, exam.Generated)
	assert.Equal(t, defaultExamMinutes, exam.DurationMinutes)
	assert.Nil(t, exam.FinishedAtMillis)
	require.Len(t, exam.Questions, 2)
	assert.Equal(t, "hard", exam.Questions[0].Difficulty)
	assert.Equal(t, "medium", exam.Questions[1].Difficulty)
	assert.Contains(t, f.completer.prompts[0].System, "Produce 10 relevant")

	exams, err := f.study.ExamSets(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, exams, 1)
	assert.Equal(t, exam.Questions, exams[0].Questions)
}

func TestExamPrepFallbackAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createNote(t, "alice", "Cells", "Biology")

	_, err := f.study.ExamPrep(ctx, "Biology", "alice", 5)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.study.ExamPrep(ctx, "Biology", "alice", 241)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.study.ExamPrep(ctx, "History", "alice", 60)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, f.completer.calls())

	f.completer.reply = "1. What is a cell?"
	exam, err := f.study.ExamPrep(ctx, "Biology", "alice", 60)
	require.NoError(t, err)
	assert.False(t, exam.Generated)
	require.Len(t, exam.Questions, 1)
	assert.Equal(t, fallbackExamAnswer, exam.Questions[0].Answer)
	assert.Equal(t, 60, exam.DurationMinutes)
}

func TestFinishExamCreditsCappedStudyTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createNote(t, "alice", "Cells", "Biology")
	f.completer.reply = `[{"question":"Q","answer":"A","difficulty":"easy"}]`
	exam, err := f.study.ExamPrep(ctx, "Biology", "alice", 30)
	require.NoError(t, err)

	_, err = f.study.FinishExam(ctx, exam.ExamID, "bob", 600)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.study.FinishExam(ctx, exam.ExamID, "alice", -1)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	finished, err := f.study.FinishExam(ctx, exam.ExamID, "alice", 3*3600)
	require.NoError(t, err)
	require.NotNil(t, finished.FinishedAtMillis)
	assert.Equal(t, 30, finished.StudiedMinutes)
	require.Len(t, f.progress.entries, 1)
	assert.Equal(t, progressEntry{userID: "alice", minutes: 30, kind: progress.KindStudy}, f.progress.entries[0])

	_, err = f.study.FinishExam(ctx, exam.ExamID, "alice", 60)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, reasonExamFinished, apperr.ReasonOf(err))
	assert.Len(t, f.progress.entries, 1)

	var stored ExamSet
	require.NoError(t, f.db.Where("exam_id = ?", exam.ExamID).Take(&stored).Error)
	assert.Equal(t, 30, stored.StudiedMinutes)
	assert.Equal(t, *finished.FinishedAtMillis, *stored.FinishedAtMillis)
}

func TestFinishExamSurvivesLedgerFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createNote(t, "alice", "Cells", "Biology")
	f.completer.reply = `[{"question":"Q","answer":"A","difficulty":"easy"}]`
	exam, err := f.study.ExamPrep(ctx, "Biology", "alice", 60)
	require.NoError(t, err)
	f.progress.err = errors.New("ledger offline")

	finished, err := f.study.FinishExam(ctx, exam.ExamID, "alice", 1290)
	require.NoError(t, err)
	assert.Equal(t, 22, finished.StudiedMinutes)
	assert.Empty(t, f.progress.entries)
}
