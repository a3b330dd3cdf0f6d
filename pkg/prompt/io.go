package prompt

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mchmarny/swapeval/pkg/extract"
)

// DefaultNoteColumn holds the note text in the notes table, the context
// note column of the extracted table.
const DefaultNoteColumn = extract.ContextColumn

// DefaultExampleIDs are the example notes available to the templates.
var DefaultExampleIDs = []string{"7134", "6271", "7368", "144", "1648", "4292", "3726"}

// DefaultExampleCount is how many of the examples a prompt carries.
const DefaultExampleCount = 5

// Notes is the note text per document index, plus the table order.
type Notes struct {
	Text  map[int]string
	Order []int
}

// ReadNotes reads a table whose column named column holds the note text.
// When the first header cell is blank or "index" the first column is the
// document index; otherwise documents are numbered by row from 0, which
// matches the extracted notes table.
func ReadNotes(r io.Reader, column string) (*Notes, error) {
	if column == "" {
		column = DefaultNoteColumn
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading notes header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	indexed := len(header) > 0 && isIndexHeader(header[0])

	col := -1
	for i, h := range header {
		if (i > 0 || !indexed) && strings.TrimSpace(h) == column {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("notes table has no %q column", column)
	}

	n := &Notes{Text: make(map[int]string)}
	for line, ordinal := 2, 0; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading notes line %d: %w", line, err)
		}

		doc := ordinal
		ordinal++
		if indexed {
			if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
				continue
			}
			if doc, err = strconv.Atoi(strings.TrimSpace(row[0])); err != nil {
				return nil, fmt.Errorf("invalid document index %q on line %d: %w", row[0], line, err)
			}
		}
		if _, ok := n.Text[doc]; ok {
			continue
		}

		text := ""
		if col < len(row) {
			text = row[col]
		}
		n.Text[doc] = text
		n.Order = append(n.Order, doc)
	}

	return n, nil
}

func isIndexHeader(h string) bool {
	h = strings.TrimSpace(h)
	return h == "" || strings.EqualFold(h, "index")
}

// LoadNotes reads the notes table at path.
func LoadNotes(path, column string) (*Notes, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening notes %s: %w", path, err)
	}
	defer f.Close()

	n, err := ReadNotes(f, column)
	if err != nil {
		return nil, fmt.Errorf("parsing notes %s: %w", path, err)
	}
	return n, nil
}

// LoadTemplates reads one template per code using the first count example ids.
func LoadTemplates(dir string, codes, exampleIDs []string, count int) ([]*Template, error) {
	if count > 0 && count < len(exampleIDs) {
		exampleIDs = exampleIDs[:count]
	}

	list := make([]*Template, 0, len(codes))
	for _, c := range codes {
		t, err := LoadTemplate(dir, c, exampleIDs)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, nil
}

var requestColumns = []string{"doc", "code", "prompt"}

// WriteRequests writes the prompts as a doc, code, prompt table.
func WriteRequests(w io.Writer, list []Request) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(requestColumns); err != nil {
		return fmt.Errorf("writing prompts header: %w", err)
	}
	for _, r := range list {
		if err := cw.Write([]string{strconv.Itoa(r.Doc), r.Code, r.Prompt}); err != nil {
			return fmt.Errorf("writing prompt %d/%s: %w", r.Doc, r.Code, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
