package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	requiredColumns = []string{"note_id", "subject_id", "hadm_id", "text"}

	noteColumns = []string{"note_id", "subject_id", "hadm_id", "service", "listed_sex"}
)

// ContextColumn holds the combined context note in the extracted table.
const ContextColumn = "prompt"

// ReadDischarge streams a discharge note CSV and returns the records whose
// text contains service, with the total number of records read.
func ReadDischarge(r io.Reader, service string) ([]Record, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("reading header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}
	for _, c := range requiredColumns {
		if _, ok := idx[c]; !ok {
			return nil, 0, fmt.Errorf("missing column %q", c)
		}
	}

	get := func(row []string, name string) string {
		if i := idx[name]; i < len(row) {
			return row[i]
		}
		return ""
	}

	list := make([]Record, 0)
	total := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, total, fmt.Errorf("reading record %d: %w", total+1, err)
		}
		total++

		text := get(row, "text")
		if service != "" && !strings.Contains(text, service) {
			continue
		}
		list = append(list, Record{
			NoteID:    get(row, "note_id"),
			SubjectID: get(row, "subject_id"),
			HadmID:    get(row, "hadm_id"),
			Text:      text,
		})
	}

	return list, total, nil
}

// WriteNotes writes the extracted notes as CSV, one column per section,
// followed by the context note under ContextColumn.
func WriteNotes(w io.Writer, notes []*Note) error {
	header := append([]string{}, noteColumns...)
	for _, s := range Sections {
		header = append(header, s.Name)
	}
	header = append(header, "trans_mention", ContextColumn)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, n := range notes {
		row := []string{n.NoteID, n.SubjectID, n.HadmID, n.Service, n.ListedSex}
		for _, s := range Sections {
			row = append(row, n.Sections[s.Name])
		}
		row = append(row, strconv.FormatBool(n.TransMention), n.Context())
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing note %s: %w", n.NoteID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// NewReport summarises an extraction of total records.
func NewReport(total, service int, notes []*Note, problems []Problem) *Report {
	r := &Report{
		Total:     total,
		Service:   service,
		Extracted: len(notes),
		Problems:  problems,
	}
	for _, n := range notes {
		if n.TransMention {
			r.TransMentions++
		}
	}
	return r
}
