package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const extXLSX = ".xlsx"

// bom is the UTF-8 byte order mark spreadsheet exports often start with.
var bom = []byte{0xEF, 0xBB, 0xBF}

// Outputs holds the model rewritten notes keyed by document and type code.
type Outputs struct {
	notes map[int]map[string]string
	docs  []int
}

// NewOutputs returns an empty output table.
func NewOutputs() *Outputs {
	return &Outputs{notes: make(map[int]map[string]string)}
}

// Set stores the rewritten note for doc and code.
func (o *Outputs) Set(doc int, code, note string) {
	m, ok := o.notes[doc]
	if !ok {
		m = make(map[string]string)
		o.notes[doc] = m
		o.docs = append(o.docs, doc)
	}
	m[code] = note
}

// Get returns the rewritten note for doc and code.
func (o *Outputs) Get(doc int, code string) (string, bool) {
	if o == nil {
		return "", false
	}
	m, ok := o.notes[doc]
	if !ok {
		return "", false
	}
	v, ok := m[code]
	return v, ok
}

// Docs lists documents in read order.
func (o *Outputs) Docs() []int {
	return append([]int(nil), o.docs...)
}

// readRows reads every record of a CSV stream, tolerating a leading BOM
// and ragged rows.
func readRows(r io.Reader) ([][]string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	cr := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(b, bom)))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	return rows, nil
}

func readXLSXRows(path string) (rows [][]string, retErr error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && retErr == nil {
			retErr = fmt.Errorf("closing workbook %s: %w", path, cerr)
		}
	}()

	rows, err = f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("reading first sheet of %s: %w", path, err)
	}
	return rows, nil
}

func readFileRows(path string) ([][]string, error) {
	if strings.EqualFold(filepath.Ext(path), extXLSX) {
		return readXLSXRows(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	return readRows(f)
}

// ReadAnnotations parses an annotation table from a CSV stream.
func ReadAnnotations(r io.Reader) (*Annotations, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, err
	}
	return parseAnnotations(rows)
}

// LoadAnnotations reads and merges the annotation files at paths, CSV or
// XLSX by extension. Earlier files win on duplicate columns.
func LoadAnnotations(paths ...string) (*Annotations, error) {
	all := NewAnnotations()
	for _, p := range paths {
		rows, err := readFileRows(p)
		if err != nil {
			return nil, err
		}
		a, err := parseAnnotations(rows)
		if err != nil {
			return nil, fmt.Errorf("parsing annotations %s: %w", p, err)
		}
		all.Merge(a)
	}
	return all, nil
}

// ReadOutputs parses a model output table from a CSV stream. The first
// column is the document index, the remaining header cells name the
// transformation codes.
func ReadOutputs(r io.Reader) (*Outputs, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, err
	}
	return parseOutputs(rows)
}

// LoadOutputs reads the model output table at path.
func LoadOutputs(path string) (*Outputs, error) {
	rows, err := readFileRows(path)
	if err != nil {
		return nil, err
	}
	o, err := parseOutputs(rows)
	if err != nil {
		return nil, fmt.Errorf("parsing outputs %s: %w", path, err)
	}
	return o, nil
}

func parseOutputs(rows [][]string) (*Outputs, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("output table is empty")
	}

	header := rows[0]
	o := NewOutputs()
	for i, r := range rows[1:] {
		if len(r) == 0 || strings.TrimSpace(r[0]) == "" {
			continue
		}
		doc, err := strconv.Atoi(strings.TrimSpace(r[0]))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid document index %q: %w", i+2, r[0], err)
		}
		for c := 1; c < len(header); c++ {
			code := strings.TrimSpace(header[c])
			// a blank cell is a missing generation, not an empty rewrite
			if code == "" || c >= len(r) || strings.TrimSpace(r[c]) == "" {
				continue
			}
			o.Set(doc, code, r[c])
		}
	}
	return o, nil
}
