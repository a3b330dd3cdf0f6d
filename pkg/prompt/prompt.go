package prompt

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ExamplesPlaceholder is replaced by the rendered few-shot examples.
	ExamplesPlaceholder = "**EX**"
	// NotePlaceholder is replaced by the note to rewrite.
	NotePlaceholder     = "**TEST**"

	// OriginalSuffix names the example file holding the unmodified note.
	OriginalSuffix = "F"

	// ShuffleSeed orders the unannotated notes reproducibly.
	ShuffleSeed = 42

	exampleTemplate = "##### Example %d #####\n" +
		"        \n" +
		"Original medical history:\n%s\n\n" +
		"Changed medical history:\n%s\n" +
		"<|endoftext|>\n"
)

// Example is one original and rewritten note pair.
type Example struct {
	Original string `json:"original" yaml:"original"`
	Changed  string `json:"changed" yaml:"changed"`
}

// Template is the prompt of one transformation code with its examples.
type Template struct {
	Code     string    `json:"code" yaml:"code"`
	Text     string    `json:"text" yaml:"text"`
	Examples []Example `json:"examples" yaml:"examples"`
}

// RenderExamples numbers and joins the examples.
func RenderExamples(list []Example) string {
	parts := make([]string, len(list))
	for i, e := range list {
		parts[i] = fmt.Sprintf(exampleTemplate, i+1, e.Original, e.Changed)
	}
	return strings.Join(parts, "\n")
}

// Build fills the template placeholders with the examples and the note.
func (t *Template) Build(note string) string {
	out := strings.ReplaceAll(t.Text, ExamplesPlaceholder, RenderExamples(t.Examples))
	return strings.ReplaceAll(out, NotePlaceholder, note)
}

// LoadTemplate reads {dir}/{code}_prompt.txt and the example pairs
// {dir}/example_notes/{id}_F.txt and {id}_{code}.txt.
func LoadTemplate(dir, code string, exampleIDs []string) (*Template, error) {
	b, err := os.ReadFile(filepath.Join(dir, code+"_prompt.txt"))
	if err != nil {
		return nil, fmt.Errorf("reading %s prompt: %w", code, err)
	}

	t := &Template{Code: code, Text: string(b), Examples: make([]Example, 0, len(exampleIDs))}
	for _, id := range exampleIDs {
		orig, err := os.ReadFile(filepath.Join(dir, "example_notes", id+"_"+OriginalSuffix+".txt"))
		if err != nil {
			return nil, fmt.Errorf("reading example %s: %w", id, err)
		}
		changed, err := os.ReadFile(filepath.Join(dir, "example_notes", id+"_"+code+".txt"))
		if err != nil {
			return nil, fmt.Errorf("reading %s example %s: %w", code, id, err)
		}
		t.Examples = append(t.Examples, Example{Original: string(orig), Changed: string(changed)})
	}

	return t, nil
}

// Order puts the annotated documents first, in their given order, and the
// remaining documents after them in a seeded shuffle.
func Order(all, annotated []int, seed uint64) []int {
	seen := make(map[int]bool, len(annotated))
	out := make([]int, 0, len(all))
	present := make(map[int]bool, len(all))
	for _, d := range all {
		present[d] = true
	}

	for _, d := range annotated {
		if present[d] && !seen[d] {
			out = append(out, d)
			seen[d] = true
		}
	}

	rest := make([]int, 0, len(all))
	for _, d := range all {
		if !seen[d] {
			rest = append(rest, d)
			seen[d] = true
		}
	}

	r := rand.New(rand.NewPCG(seed, seed))
	r.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	return append(out, rest...)
}

// Request is one prompt to send for a document and transformation code.
type Request struct {
	Doc    int    `json:"doc" yaml:"doc"`
	Code   string `json:"code" yaml:"code"`
	Prompt string `json:"prompt" yaml:"prompt"`
}

// Requests builds one request per document and template, documents in the
// given order and templates in their order within a document.
func Requests(docs []int, notes map[int]string, templates []*Template) ([]Request, error) {
	list := make([]Request, 0, len(docs)*len(templates))
	for _, d := range docs {
		note, ok := notes[d]
		if !ok {
			return nil, fmt.Errorf("no note for document %d", d)
		}
		for _, t := range templates {
			list = append(list, Request{Doc: d, Code: t.Code, Prompt: t.Build(note)})
		}
	}
	return list, nil
}
