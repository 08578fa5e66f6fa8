package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/recipe"
)

func cake() *Result {
	return &Result{Recipe: &recipe.Recipe{
		Title:       "Simple Cake",
		Ingredients: []string{"flour", "sugar"},
		Steps:       []string{"mix flour and sugar", "bake 20 minutes"},
	}}
}

func TestNew_SetsDefaults(t *testing.T) {
	j := New("owner-1", "https://www.tiktok.com/@a/video/1")

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", j.ID.String())
	assert.Equal(t, StatusQueued, j.Status)
	assert.Equal(t, KindUnresolved, j.Kind)
	assert.False(t, j.CreatedAt.IsZero())
	assert.Nil(t, j.Result)
	assert.Nil(t, j.Failure)
}

func TestAdvance_ForwardOnly(t *testing.T) {
	j := New("o", "u")

	require.NoError(t, j.Advance(StatusDownloading, 20, "downloading"))
	require.NotNil(t, j.StartedAt)
	require.NoError(t, j.Advance(StatusDownloading, 25, ""))
	require.NoError(t, j.Advance(StatusExtracting, 70, "extracting"))

	err := j.Advance(StatusTranscribing, 80, "")
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
	assert.Equal(t, StatusExtracting, j.Status)
}

func TestAdvance_ProgressNeverDecreases(t *testing.T) {
	j := New("o", "u")
	require.NoError(t, j.Advance(StatusDownloading, 40, ""))

	err := j.Advance(StatusTranscribing, 30, "")
	assert.ErrorIs(t, err, common.ErrProgressRegression)
	assert.Equal(t, 40, j.Progress)
	assert.Equal(t, StatusDownloading, j.Status)
}

func TestAdvance_RejectsTerminalTarget(t *testing.T) {
	j := New("o", "u")
	assert.ErrorIs(t, j.Advance(StatusCompleted, 100, ""), common.ErrInvalidTransition)
	assert.ErrorIs(t, j.Advance(Status("bogus"), 10, ""), common.ErrInvalidTransition)
}

func TestComplete_WritesOnce(t *testing.T) {
	j := New("o", "u")
	require.NoError(t, j.Complete(cake()))

	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, 100, j.Progress)
	require.NotNil(t, j.FinishedAt)

	assert.ErrorIs(t, j.Complete(cake()), common.ErrJobTerminal)
	assert.ErrorIs(t, j.Fail(common.KindInternal, "late"), common.ErrJobTerminal)
	assert.Nil(t, j.Failure)
}

func TestFail_WritesOnceAndKeepsProgress(t *testing.T) {
	j := New("o", "u")
	require.NoError(t, j.Advance(StatusTranscribing, 40, ""))
	require.NoError(t, j.Fail(common.KindResourceUnavailable, "gpu busy"))

	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, 40, j.Progress)
	assert.Equal(t, common.KindResourceUnavailable, j.Failure.Kind)

	assert.ErrorIs(t, j.Fail(common.KindInternal, "again"), common.ErrJobTerminal)
	assert.ErrorIs(t, j.Complete(cake()), common.ErrJobTerminal)
	assert.ErrorIs(t, j.Advance(StatusExtracting, 70, ""), common.ErrJobTerminal)
	assert.Nil(t, j.Result)
	assert.Equal(t, "gpu busy", j.Failure.Message)
}

func TestComplete_RequiresRecipe(t *testing.T) {
	j := New("o", "u")
	assert.ErrorIs(t, j.Complete(nil), common.ErrInvalidTransition)
	assert.ErrorIs(t, j.Complete(&Result{}), common.ErrInvalidTransition)
	assert.Equal(t, StatusQueued, j.Status)
}

func TestClassify_Once(t *testing.T) {
	j := New("o", "u")
	require.NoError(t, j.Classify(KindMedia))
	require.NoError(t, j.Classify(KindMedia))
	assert.ErrorIs(t, j.Classify(KindRecipePage), common.ErrInvalidTransition)
}

func TestClone_IsDeep(t *testing.T) {
	j := New("o", "u")
	require.NoError(t, j.Complete(cake()))

	c := j.Clone()
	c.Result.Recipe.Title = "changed"
	*c.FinishedAt = c.FinishedAt.Add(1)

	assert.Equal(t, "Simple Cake", j.Result.Recipe.Title)
	assert.NotEqual(t, *c.FinishedAt, *j.FinishedAt)
}

func TestSummarize(t *testing.T) {
	j := New("o", "u")
	require.NoError(t, j.Classify(KindMedia))
	require.NoError(t, j.Complete(cake()))

	s := j.Summarize()
	assert.Equal(t, j.ID, s.ID)
	assert.Equal(t, "Simple Cake", s.Title)
	assert.Equal(t, KindMedia, s.Kind)
	assert.Empty(t, s.ErrorKind)
}
