package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveGeneration(t *testing.T) {
	db := setupTestDB(t)

	g := &Generation{Doc: 10, Type: "F->M", Model: "qwen", Output: "he was seen"}
	require.NoError(t, SaveGeneration(db, g))
	assert.NotEmpty(t, g.CreatedAt)

	ok, err := HasGeneration(db, 10, "F->M", "qwen")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = HasGeneration(db, 10, "F->NB", "qwen")
	require.NoError(t, err)
	assert.False(t, ok)

	g.Output = "he was admitted"
	require.NoError(t, SaveGeneration(db, g))

	list, err := GetGenerations(db, "qwen")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "he was admitted", list[0].Output)
}

func TestSaveGeneration_Validation(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, SaveGeneration(db, nil))
	assert.Error(t, SaveGeneration(db, &Generation{Doc: 1}))
	assert.Error(t, SaveGeneration(nil, &Generation{Doc: 1, Type: "a", Model: "b"}))
}
