package study

import (
	"context"
	"testing"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuizzesAndFlashcardSetsListNewestFirstPerOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mitosis := f.createNote(t, "alice", "Mitosis", "Biology")
	meiosis := f.createNote(t, "alice", "Meiosis", "Biology")
	bobs := f.createNote(t, "bob", "Enzymes", "Chemistry")
	f.completer.reply = `[{"question":"Q","answer":"A","front":"F","back":"B"}]`

	first, err := f.study.Quiz(ctx, Source{NoteID: mitosis.NoteID}, "alice", 1)
	require.NoError(t, err)
	second, err := f.study.Quiz(ctx, Source{NoteID: meiosis.NoteID}, "alice", 1)
	require.NoError(t, err)
	_, err = f.study.Quiz(ctx, Source{NoteID: bobs.NoteID}, "bob", 1)
	require.NoError(t, err)

	quizzes, err := f.study.Quizzes(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, quizzes, 2)
	assert.Equal(t, second.QuizID, quizzes[0].QuizID)
	assert.Equal(t, first.QuizID, quizzes[1].QuizID)

	older, err := f.study.Flashcards(ctx, Source{Subject: "Biology"}, "alice", 1)
	require.NoError(t, err)
	newer, err := f.study.Flashcards(ctx, Source{NoteID: mitosis.NoteID}, "alice", 1)
	require.NoError(t, err)
	sets, err := f.study.FlashcardSets(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, newer.SetID, sets[0].SetID)
	assert.Equal(t, older.SetID, sets[1].SetID)

	bobSets, err := f.study.FlashcardSets(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, bobSets)

	anonymous, err := f.study.Quizzes(ctx, " ")
	require.NoError(t, err)
	assert.NotNil(t, anonymous)
	assert.Empty(t, anonymous)
}

func TestRecordFlashcardReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note := f.createNote(t, "alice", "Mitosis", "Biology")
	f.completer.reply = `[{"front":"Phases?","back":"Four"},{"front":"First?","back":"Prophase"}]`
	set, err := f.study.Flashcards(ctx, Source{NoteID: note.NoteID}, "alice", 2)
	require.NoError(t, err)
	require.Len(t, set.Cards, 2)

	review, err := f.study.RecordFlashcardReview(ctx, set.SetID, "alice", 1, " Good ")
	require.NoError(t, err)
	assert.Equal(t, ReviewGood, review.Response)
	assert.Equal(t, 1, review.CardIndex)

	var stored FlashcardReview
	require.NoError(t, f.db.Where("review_id = ?", review.ReviewID).Take(&stored).Error)
	assert.Equal(t, set.SetID, stored.SetID)

	_, err = f.study.RecordFlashcardReview(ctx, set.SetID, "bob", 0, ReviewEasy)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, "study.flashcard_review.flashcard_set_not_found", apperr.CodeOf(err))

	_, err = f.study.RecordFlashcardReview(ctx, set.SetID, "alice", 2, ReviewEasy)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, reasonInvalidCard, apperr.ReasonOf(err))

	_, err = f.study.RecordFlashcardReview(ctx, set.SetID, "alice", 0, "perfect")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, reasonInvalidResponse, apperr.ReasonOf(err))

	_, err = f.study.RecordFlashcardReview(ctx, set.SetID, "", 0, ReviewEasy)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}
