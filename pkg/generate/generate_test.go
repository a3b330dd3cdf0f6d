package generate

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mchmarny/swapeval/pkg/data"
	"github.com/mchmarny/swapeval/pkg/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, data.Init(dbPath))
	db, err := data.GetDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeCompleter struct {
	calls atomic.Int64
	fail  string
}

func (f *fakeCompleter) Complete(_ context.Context, p string) (string, error) {
	f.calls.Add(1)
	if f.fail != "" && p == f.fail {
		return "", errors.New("boom")
	}
	return strings.ToUpper(p), nil
}

func TestClientComplete(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen", req.Model)
		assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, roleUser, req.Messages[0].Role)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"he is well"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), Options{BaseURL: srv.URL + "/v1/", Model: "qwen", Token: "k"})
	require.NoError(t, err)
	assert.Equal(t, "qwen", c.Model())

	out, err := c.Complete(context.Background(), "she is well")
	require.NoError(t, err)
	assert.Equal(t, "he is well", out)
	assert.Equal(t, "Bearer k", auth)
}

func TestClientNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), Options{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, errNoChoices)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(context.Background(), Options{Model: "m"})
	assert.Error(t, err)
	_, err = NewClient(context.Background(), Options{BaseURL: "http://localhost"})
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	reqs := []prompt.Request{
		{Doc: 2, Code: "F->M", Prompt: "she"},
		{Doc: 2, Code: "F->NB", Prompt: "her"},
		{Doc: 1, Code: "F->M", Prompt: "woman"},
	}

	fc := &fakeCompleter{}
	s, err := Run(ctx, db, fc, "m1", reqs, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Generated)
	assert.Equal(t, 0, s.Existing)

	s, err = Run(ctx, db, fc, "m1", reqs, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Generated)
	assert.Equal(t, 3, s.Existing)
	assert.Equal(t, int64(3), fc.calls.Load())

	list, err := data.GetGenerations(db, "m1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 1, list[0].Doc)
	assert.Equal(t, "WOMAN", list[0].Output)

	var buf bytes.Buffer
	require.NoError(t, WriteOutputs(&buf, list, []string{"F->M", "F->NB", "F->TM"}))
	assert.Equal(t, "index,F->M,F->NB,F->TM\n1,WOMAN,,\n2,SHE,HER,\n", buf.String())
}

func TestRunStopsOnError(t *testing.T) {
	db := setupTestDB(t)
	reqs := []prompt.Request{{Doc: 1, Code: "F->M", Prompt: "bad"}}

	_, err := Run(context.Background(), db, &fakeCompleter{fail: "bad"}, "m1", reqs, 1)
	assert.Error(t, err)

	ok, err := data.HasGeneration(db, 1, "F->M", "m1")
	require.NoError(t, err)
	assert.False(t, ok)
}
