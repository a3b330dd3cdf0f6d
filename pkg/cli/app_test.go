package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mchmarny/swapeval/pkg/data"
	"github.com/mchmarny/swapeval/pkg/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

const (
	testAnnotations = `,6893,6893,6893,1548,1548
,original,F->M,F->non -binary,original,F->M
0,the,,,she,he
1,wife,husband,spouse,was,
2,was,,,seen,
3,admitted,,,,
`

	testOutputs = "index,F->M,F->NB,F->TM\n" +
		"6893,the husband was admitted,the spouse was admitted,\n" +
		"1548,he was seen,they were seen,he was seen\n"
)

type testEnv struct {
	dir string
	db  string
	out *bytes.Buffer
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	keyring.MockInit()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv(tokenEnvVar, "")

	buf := &bytes.Buffer{}
	orig := stdout
	stdout = buf
	t.Cleanup(func() { stdout = orig })

	return &testEnv{dir: dir, db: filepath.Join(dir, "test.db"), out: buf}
}

func (e *testEnv) file(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(e.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func (e *testEnv) run(t *testing.T, args ...string) error {
	t.Helper()
	e.out.Reset()
	return newApp().Run(context.Background(), append([]string{appName, "--db", e.db}, args...))
}

func TestScoreCommand(t *testing.T) {
	env := setupTestEnv(t)
	outputs := env.file(t, "outputs.csv", testOutputs)
	anns := env.file(t, "ann.csv", testAnnotations)
	long := filepath.Join(env.dir, "out", "long.csv")
	xlsx := filepath.Join(env.dir, "out", "report.xlsx")

	require.NoError(t, env.run(t, "score", "--outputs", outputs, "--annotations", anns,
		"--long", long, "--xlsx", xlsx))

	var res ScoreResult
	require.NoError(t, json.Unmarshal(env.out.Bytes(), &res))
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 6, res.Pairs)
	require.Len(t, res.Summaries, 3)
	assert.Equal(t, "F->M", res.Summaries[0].Type.Code)
	assert.Equal(t, 2, res.Summaries[0].Scored)
	assert.Equal(t, 1, res.Summaries[1].Scored)
	assert.Equal(t, 1, res.Summaries[1].Skipped)
	assert.Equal(t, 2, res.Summaries[2].Skipped)
	assert.InDelta(t, 1.0, float64(res.Summaries[0].Accuracy.Value), 1e-9)
	assert.Len(t, res.Comparisons, 9)
	assert.Len(t, res.Failures, 3)

	b, err := os.ReadFile(long)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "doc,group,metric,value\n"))
	assert.FileExists(t, xlsx)

	require.NoError(t, env.run(t, "runs", "list"))
	var runs []*data.Run
	require.NoError(t, json.Unmarshal(env.out.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, 3, runs[0].Scored)

	require.NoError(t, env.run(t, "runs", "show", "--id", res.RunID))
	var detail data.RunDetail
	require.NoError(t, json.Unmarshal(env.out.Bytes(), &detail))
	assert.Len(t, detail.Types, 2)
	assert.Len(t, detail.Failures, 3)

	assert.Error(t, env.run(t, "runs", "show", "--id", "missing"))
}

func TestScoreCommandFilters(t *testing.T) {
	env := setupTestEnv(t)
	outputs := env.file(t, "outputs.csv", testOutputs)
	anns := env.file(t, "ann.csv", testAnnotations)

	require.NoError(t, env.run(t, "--format", "yaml", "score", "--outputs", outputs, "--annotations", anns,
		"--doc", "1548", "--doc", "1548", "--type", "F->M", "--no-store"))
	assert.Contains(t, env.out.String(), "scored: 1")
	assert.NotContains(t, env.out.String(), "run_id")

	assert.Error(t, env.run(t, "score", "--outputs", outputs, "--annotations", anns, "--type", "F->X"))
	assert.Error(t, env.run(t, "score", "--outputs", filepath.Join(env.dir, "missing.csv"), "--annotations", anns))
}

func TestExtractCommand(t *testing.T) {
	env := setupTestEnv(t)
	note := "Service: OBSTETRICS/GYNECOLOGY\nSex:   F\nChief Complaint:\npain\nHistory of Present Illness:\nshe hurts\nPhysical Exam:\nok\n"
	in := env.file(t, "discharge.csv", "note_id,subject_id,hadm_id,text\n"+
		"n1,1,11,\""+note+"\"\n"+
		"n2,2,22,\"Service: MEDICINE\nSex:   F\n\"\n"+
		"n3,3,33,\"Service: OBSTETRICS/GYNECOLOGY\nno sex line\n\"\n")
	out := filepath.Join(env.dir, "notes.csv")

	require.NoError(t, env.run(t, "extract", "--input", in, "--out", out))

	var rep struct {
		Total     int `json:"total"`
		Service   int `json:"service"`
		Extracted int `json:"extracted"`
		Problems  []struct {
			NoteID string `json:"note_id"`
			Kind   string `json:"kind"`
		} `json:"problems"`
	}
	require.NoError(t, json.Unmarshal(env.out.Bytes(), &rep))
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 2, rep.Service)
	assert.Equal(t, 1, rep.Extracted)
	require.Len(t, rep.Problems, 1)
	assert.Equal(t, "n3", rep.Problems[0].NoteID)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), "n1,1,11,")
	assert.Contains(t, string(b), "she hurts")
}

func TestExtractThenPrompt(t *testing.T) {
	env := setupTestEnv(t)
	dir := writePromptFixtures(t, env)
	t.Setenv("SWAPEVAL_GENERATE_EXAMPLE_IDS", "1")
	note := "Sex:   F\nService: OBSTETRICS/GYNECOLOGY\nChief Complaint:\npelvic pain\nHistory of Present Illness:\nshe hurts\nPhysical Exam:\nok\n"
	in := env.file(t, "discharge.csv", "note_id,subject_id,hadm_id,text\n"+
		"n1,1,11,\""+note+"\"\n"+
		"n2,2,22,\"Service: MEDICINE\nSex:   F\n\"\n")
	notes := filepath.Join(env.dir, "notes.csv")
	out := filepath.Join(env.dir, "prompts.csv")

	require.NoError(t, env.run(t, "extract", "--input", in, "--out", notes))
	require.NoError(t, env.run(t, "prompt", "--notes", notes, "--dir", dir, "--type", "F->M", "--out", out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"0", "F->M"}, rows[1][:2])
	assert.Contains(t, rows[1][2], "Chief Complaint:\npelvic pain")
	assert.Contains(t, rows[1][2], "History of Present Illness:\nshe hurts")
	assert.NotContains(t, rows[1][2], prompt.NotePlaceholder)
}

func writePromptFixtures(t *testing.T, env *testEnv) string {
	t.Helper()
	for _, code := range []string{"F->M", "F->NB", "F->TM"} {
		env.file(t, filepath.Join("prompts", code+"_prompt.txt"), code+"\n**EX**\n**TEST**")
		env.file(t, filepath.Join("prompts", "example_notes", "1_"+code+".txt"), "he "+code)
	}
	env.file(t, filepath.Join("prompts", "example_notes", "1_F.txt"), "she")
	return filepath.Join(env.dir, "prompts")
}

func TestPromptCommand(t *testing.T) {
	env := setupTestEnv(t)
	dir := writePromptFixtures(t, env)
	t.Setenv("SWAPEVAL_GENERATE_EXAMPLE_IDS", "1")
	notes := env.file(t, "notes.csv", ",prompt\n1548,she was seen\n6893,the wife was admitted\n7,her note\n")
	anns := env.file(t, "ann.csv", testAnnotations)
	out := filepath.Join(env.dir, "prompts.csv")

	require.NoError(t, env.run(t, "prompt", "--notes", notes, "--dir", dir, "--annotations", anns,
		"--type", "F->M", "--out", out))

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := string(b)
	assert.True(t, strings.HasPrefix(lines, "doc,code,prompt\n6893,F->M,"))
	assert.Contains(t, lines, "##### Example 1 #####")
	assert.Contains(t, lines, "her note")
}

func TestGenerateCommand(t *testing.T) {
	env := setupTestEnv(t)
	dir := writePromptFixtures(t, env)
	t.Setenv("SWAPEVAL_GENERATE_EXAMPLE_IDS", "1")
	t.Setenv(tokenEnvVar, "secret")

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"he was seen"}}]}`))
	}))
	defer srv.Close()

	notes := env.file(t, "notes.csv", ",prompt\n1548,she was seen\n")
	out := filepath.Join(env.dir, "swapped.csv")
	args := []string{"generate", "--notes", notes, "--dir", dir, "--out", out,
		"--base-url", srv.URL, "--model", "test-model"}

	require.NoError(t, env.run(t, args...))
	assert.Equal(t, 3, calls)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "index,F->M,F->NB,F->TM\n1548,he was seen,he was seen,he was seen\n", string(b))

	require.NoError(t, env.run(t, args...))
	assert.Equal(t, 3, calls)

	var res GenerateResult
	require.NoError(t, json.Unmarshal(env.out.Bytes(), &res))
	assert.Equal(t, 3, res.Stats.Existing)
	assert.Equal(t, 3, res.Exported)
}

func TestAuthCommand(t *testing.T) {
	env := setupTestEnv(t)

	require.NoError(t, env.run(t, "auth", "--token", "abc"))
	token, err := getAPIToken()
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	orig := stdin
	stdin = strings.NewReader("from-stdin\n")
	defer func() { stdin = orig }()

	require.NoError(t, env.run(t, "auth"))
	token, err = getAPIToken()
	require.NoError(t, err)
	assert.Equal(t, "from-stdin", token)

	t.Setenv(tokenEnvVar, "env-token")
	token, err = getAPIToken()
	require.NoError(t, err)
	assert.Equal(t, "env-token", token)
}

func TestResetCommand(t *testing.T) {
	env := setupTestEnv(t)
	outputs := env.file(t, "outputs.csv", testOutputs)
	anns := env.file(t, "ann.csv", testAnnotations)

	require.NoError(t, env.run(t, "score", "--outputs", outputs, "--annotations", anns))
	require.NoError(t, env.run(t, "reset", "--yes"))
	assert.Contains(t, env.out.String(), "Reset complete.")

	require.NoError(t, env.run(t, "runs", "list"))
	assert.Equal(t, "[]\n", env.out.String())
}

func TestConfigFile(t *testing.T) {
	env := setupTestEnv(t)
	cfgPath := env.file(t, "cfg.yaml", "score:\n  types:\n    - code: F->M\n      label: F->M\n")
	outputs := env.file(t, "outputs.csv", testOutputs)
	anns := env.file(t, "ann.csv", testAnnotations)

	require.NoError(t, env.run(t, "--config", cfgPath, "score", "--outputs", outputs, "--annotations", anns, "--no-store"))

	var res ScoreResult
	require.NoError(t, json.Unmarshal(env.out.Bytes(), &res))
	require.Len(t, res.Summaries, 1)
	assert.Empty(t, res.Comparisons)

	assert.Error(t, env.run(t, "--config", filepath.Join(env.dir, "nope.yaml"), "runs", "list"))
}
