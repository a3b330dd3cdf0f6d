package data

import (
	"testing"

	"github.com/mchmarny/swapeval/pkg/score"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBatch(t *testing.T) ([]*score.Result, []score.Failure) {
	t.Helper()
	typ := score.DefaultTransformations()[0]
	original := []string{"the", "wife", "was", "admitted"}
	cells := []string{"", "husband", "", ""}

	var results []*score.Result
	for i, out := range []string{"the husband was admitted", "the wife was admitted"} {
		r, err := score.Score(score.Pair{Doc: i + 1, Type: typ, Original: original, Cells: cells, Output: out})
		require.NoError(t, err)
		results = append(results, r)
	}

	failures := []score.Failure{
		{Doc: 3, Type: typ.Code, Kind: score.KindMissingAnnotation, Message: "no annotation"},
		{Doc: 4, Type: typ.Code, Kind: score.KindMalformed, Message: "no output"},
	}
	return results, failures
}

func TestSaveRun_AndDetail(t *testing.T) {
	db := setupTestDB(t)
	results, failures := testBatch(t)

	run := NewRun("outputs.csv", []string{"a.csv", "b.csv"}, results, failures)
	assert.Equal(t, 4, run.Pairs)
	assert.Equal(t, 2, run.Scored)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, "a.csv,b.csv", run.Annotations)

	require.NoError(t, SaveRun(db, run, results, failures))

	d, err := GetRunDetail(db, run.ID)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, run.ID, d.Run.ID)
	require.Len(t, d.Types, 1)

	s := d.Types[0]
	assert.Equal(t, "F->M", s.Type)
	assert.Equal(t, 2, s.Scored)
	assert.InDelta(t, 0.5, float64(s.Recall), 1e-9)
	assert.Equal(t, 2, s.RecallN)
	// undefined precision is stored as NULL and left out of the mean
	assert.InDelta(t, 1.0, float64(s.Precision), 1e-9)
	assert.Equal(t, 1, s.PrecisionN)
	assert.InDelta(t, 0.875, float64(s.Accuracy), 1e-9)

	require.Len(t, d.Failures, 2)
	assert.Equal(t, score.KindMissingAnnotation, d.Failures[0].Kind)
}

func TestSaveRun_NilDB(t *testing.T) {
	err := SaveRun(nil, &Run{ID: "x"}, nil, nil)
	assert.Error(t, err)
}

func TestSaveRun_DuplicateRollsBack(t *testing.T) {
	db := setupTestDB(t)
	results, failures := testBatch(t)
	run := NewRun("o.csv", nil, results, failures)
	require.NoError(t, SaveRun(db, run, results, failures))
	assert.Error(t, SaveRun(db, run, results, failures))

	list, err := ListRuns(db, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGetRunDetail_NotFound(t *testing.T) {
	db := setupTestDB(t)
	d, err := GetRunDetail(db, "missing")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestListRuns(t *testing.T) {
	db := setupTestDB(t)
	for i := 0; i < 3; i++ {
		run := NewRun("o.csv", nil, nil, nil)
		require.NoError(t, SaveRun(db, run, nil, nil))
	}

	list, err := ListRuns(db, 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = ListRuns(nil, 2)
	assert.Error(t, err)
}
