package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/mchmarny/swapeval/pkg/score"
	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary = "summary"
	sheetLong    = "long"
	sheetAudit   = "audit"
)

var (
	longColumns    = []string{"doc", "group", "metric", "value"}
	summaryColumns = []string{
		"type", "label", "scored", "skipped", "failed",
		"recall", "recall_n", "precision", "precision_n", "accuracy", "accuracy_n",
	}
)

func matchString(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func auditHeader(results []*score.Result) []string {
	header := make([]string, 0, 1+len(results)*3)
	header = append(header, "")
	for _, r := range results {
		prefix := fmt.Sprintf("%d_%s", r.Doc, r.Type.Code)
		header = append(header, prefix+"_ann", prefix+"_llm", prefix+"_match")
	}
	return header
}

func auditRows(results []*score.Result) [][]string {
	n := 0
	for _, r := range results {
		n = max(n, r.Len())
	}

	rows := make([][]string, n)
	for p := range rows {
		row := make([]string, 1, 1+len(results)*3)
		row[0] = strconv.Itoa(p)
		for _, r := range results {
			if p >= r.Len() {
				row = append(row, "", "", "")
				continue
			}
			row = append(row, r.Annotation[p], r.Model[p], matchString(r.Match[p]))
		}
		rows[p] = row
	}
	return rows
}

func longRows(obs []score.Observation) [][]string {
	rows := make([][]string, len(obs))
	for i, o := range obs {
		rows[i] = []string{strconv.Itoa(o.Doc), o.Group, o.Metric, o.Value.String()}
	}
	return rows
}

func summaryRows(list []score.Summary) [][]string {
	rows := make([][]string, len(list))
	for i, s := range list {
		rows[i] = []string{
			s.Type.Code,
			s.Type.Label,
			strconv.Itoa(s.Scored),
			strconv.Itoa(s.Skipped),
			strconv.Itoa(s.Failed),
			s.Recall.Value.String(),
			strconv.Itoa(s.Recall.Defined),
			s.Precision.Value.String(),
			strconv.Itoa(s.Precision.Defined),
			s.Accuracy.Value.String(),
			strconv.Itoa(s.Accuracy.Defined),
		}
	}
	return rows
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("writing rows: %w", err)
	}
	return nil
}

// WriteAudit writes the wide audit table: for every pair the padded
// annotation sequence, the model sequence and the match mask, one row per
// aligned position.
func WriteAudit(w io.Writer, results []*score.Result) error {
	return writeCSV(w, auditHeader(results), auditRows(results))
}

// WriteLongForm writes the (doc, group, metric, value) table.
func WriteLongForm(w io.Writer, obs []score.Observation) error {
	return writeCSV(w, longColumns, longRows(obs))
}

// WriteSummary writes one row per transformation type.
func WriteSummary(w io.Writer, list []score.Summary) error {
	return writeCSV(w, summaryColumns, summaryRows(list))
}

// Report bundles the outputs of a scoring batch.
type Report struct {
	Summaries    []score.Summary
	Observations []score.Observation
	Results      []*score.Result
}

// SaveWorkbook writes the report as an XLSX workbook with summary, long
// and audit sheets.
func SaveWorkbook(path string, rep *Report) (retErr error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && retErr == nil {
			retErr = fmt.Errorf("closing workbook: %w", cerr)
		}
	}()

	if err := f.SetSheetName(f.GetSheetName(0), sheetSummary); err != nil {
		return fmt.Errorf("naming summary sheet: %w", err)
	}

	sheets := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{sheetSummary, summaryColumns, summaryRows(rep.Summaries)},
		{sheetLong, longColumns, longRows(rep.Observations)},
		{sheetAudit, auditHeader(rep.Results), auditRows(rep.Results)},
	}

	for _, s := range sheets {
		if s.name != sheetSummary {
			if _, err := f.NewSheet(s.name); err != nil {
				return fmt.Errorf("creating sheet %s: %w", s.name, err)
			}
		}
		if err := writeSheet(f, s.name, s.header, s.rows); err != nil {
			return fmt.Errorf("writing sheet %s: %w", s.name, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook %s: %w", path, err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]string) error {
	all := append([][]string{header}, rows...)
	for i, r := range all {
		addr, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		vals := make([]any, len(r))
		for j, v := range r {
			vals[j] = v
		}
		if err := f.SetSheetRow(sheet, addr, &vals); err != nil {
			return err
		}
	}
	return nil
}
