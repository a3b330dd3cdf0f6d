package table

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mchmarny/swapeval/pkg/score"
)

const (
	// OriginalLabel is the second header level of the original token column.
	OriginalLabel = "original"

	keySeparator = "|"
	headerRows   = 2
)

var errNoHeader = errors.New("annotation table needs two header rows")

// Annotations holds token level annotation columns keyed by "doc|label".
type Annotations struct {
	columns map[string][]string
	docs    []int
}

// NewAnnotations returns an empty annotation set.
func NewAnnotations() *Annotations {
	return &Annotations{columns: make(map[string][]string)}
}

// ColumnKey builds the normalised column key for a document and label.
func ColumnKey(doc, label string) string {
	k := doc + keySeparator + label
	return strings.Trim(strings.ReplaceAll(k, " ", ""), keySeparator)
}

// parseAnnotations builds annotation columns from raw rows. The first two
// rows are the document and label header levels, the first column is the
// token position. A blank document header inherits the previous one, as
// merged spreadsheet cells do.
func parseAnnotations(rows [][]string) (*Annotations, error) {
	if len(rows) < headerRows {
		return nil, errNoHeader
	}

	docHeader, labelHeader := rows[0], rows[1]
	width := max(len(docHeader), len(labelHeader))
	for _, r := range rows[headerRows:] {
		width = max(width, len(r))
	}

	a := NewAnnotations()
	keys := make([]string, width)
	lastDoc := ""
	for c := 1; c < width; c++ {
		doc := strings.TrimSpace(cell(docHeader, c))
		if doc == "" {
			doc = lastDoc
		}
		lastDoc = doc
		label := strings.TrimSpace(cell(labelHeader, c))
		if doc == "" || label == "" {
			continue
		}
		keys[c] = ColumnKey(doc, label)
	}

	body := rows[headerRows:]
	for c := 1; c < width; c++ {
		if keys[c] == "" {
			continue
		}
		col := make([]string, len(body))
		blank := true
		for i, r := range body {
			col[i] = cell(r, c)
			if strings.TrimSpace(col[i]) != "" {
				blank = false
			}
		}
		if blank {
			slog.Debug("dropping blank annotation column", "column", keys[c])
			continue
		}
		a.add(keys[c], col)
	}

	return a, nil
}

func cell(row []string, c int) string {
	if c < len(row) {
		return row[c]
	}
	return ""
}

func (a *Annotations) add(key string, col []string) {
	if _, ok := a.columns[key]; ok {
		slog.Warn("duplicate annotation column, keeping first", "column", key)
		return
	}
	a.columns[key] = col

	doc, label, ok := strings.Cut(key, keySeparator)
	if !ok || label != OriginalLabel {
		return
	}
	id, err := strconv.Atoi(doc)
	if err != nil {
		slog.Warn("non numeric document index in annotation header", "column", key)
		return
	}
	a.docs = append(a.docs, id)
}

// Merge adds the columns of o that are not already present.
func (a *Annotations) Merge(o *Annotations) {
	if o == nil {
		return
	}
	for _, doc := range o.docs {
		key := ColumnKey(strconv.Itoa(doc), OriginalLabel)
		a.add(key, o.columns[key])
	}
	for k, col := range o.columns {
		if strings.HasSuffix(k, keySeparator+OriginalLabel) {
			continue
		}
		a.add(k, col)
	}
}

// Docs lists the documents that have an original token column, in the
// order they were first read.
func (a *Annotations) Docs() []int {
	return append([]int(nil), a.docs...)
}

// Column returns the column for doc and label.
func (a *Annotations) Column(doc int, label string) ([]string, bool) {
	col, ok := a.columns[ColumnKey(strconv.Itoa(doc), label)]
	return col, ok
}

// Len is the number of columns.
func (a *Annotations) Len() int {
	return len(a.columns)
}

// Pairs assembles the scoring inputs for docs and types. Pairs without an
// annotation column are reported as skips, pairs lacking an original column
// or a model output as malformed. Pairs are ordered by type, then document.
func (a *Annotations) Pairs(types []score.Transformation, docs []int, outputs *Outputs) ([]score.Pair, []score.Failure) {
	pairs := make([]score.Pair, 0, len(types)*len(docs))
	failures := make([]score.Failure, 0)

	for _, t := range types {
		for _, doc := range docs {
			cells, ok := a.Column(doc, t.Label)
			if !ok || !score.HasAnnotation(cells) {
				failures = append(failures, score.NewFailure(doc, t.Code,
					fmt.Errorf("doc %d has no %s annotation: %w", doc, t.Label, score.ErrMissingAnnotation)))
				continue
			}

			original, ok := a.Column(doc, OriginalLabel)
			if !ok {
				failures = append(failures, score.NewFailure(doc, t.Code,
					fmt.Errorf("doc %d has no original column: %w", doc, score.ErrMalformedPair)))
				continue
			}

			out, ok := outputs.Get(doc, t.Code)
			if !ok {
				failures = append(failures, score.NewFailure(doc, t.Code,
					fmt.Errorf("doc %d has no %s model output: %w", doc, t.Code, score.ErrMalformedPair)))
				continue
			}

			pairs = append(pairs, score.Pair{
				Doc:      doc,
				Type:     t,
				Original: original,
				Cells:    cells,
				Output:   out,
			})
		}
	}

	return pairs, failures
}
