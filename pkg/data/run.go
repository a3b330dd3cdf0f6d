package data

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mchmarny/swapeval/pkg/score"
)

const (
	insertRunSQL = `INSERT INTO run (id, created_at, outputs, annotations, pairs, scored, skipped, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	insertPairResultSQL = `INSERT INTO pair_result (run_id, doc, type, label, length, tp, tn, fp, fn, recall, precision, accuracy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	insertPairFailureSQL = `INSERT INTO pair_failure (run_id, doc, type, kind, message)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, doc, type) DO UPDATE SET kind = ?, message = ?
	`

	selectRunsSQL = `SELECT id, created_at, outputs, annotations, pairs, scored, skipped, failed
		FROM run
		ORDER BY created_at DESC
		LIMIT ?
	`

	selectRunSQL = `SELECT id, created_at, outputs, annotations, pairs, scored, skipped, failed
		FROM run
		WHERE id = ?
	`

	// AVG skips NULL so undefined metrics never count as zero.
	selectRunTypeSummarySQL = `SELECT
			type,
			label,
			COUNT(*) AS scored,
			AVG(recall), COUNT(recall),
			AVG(precision), COUNT(precision),
			AVG(accuracy), COUNT(accuracy)
		FROM pair_result
		WHERE run_id = ?
		GROUP BY type, label
		ORDER BY type
	`

	selectRunFailuresSQL = `SELECT doc, type, kind, message
		FROM pair_failure
		WHERE run_id = ?
		ORDER BY type, doc
	`

	timeFormat = time.RFC3339
)

// Run describes one persisted scoring batch.
type Run struct {
	ID          string `json:"id" yaml:"id"`
	CreatedAt   string `json:"created_at" yaml:"created_at"`
	Outputs     string `json:"outputs" yaml:"outputs"`
	Annotations string `json:"annotations" yaml:"annotations"`
	Pairs       int    `json:"pairs" yaml:"pairs"`
	Scored      int    `json:"scored" yaml:"scored"`
	Skipped     int    `json:"skipped" yaml:"skipped"`
	Failed      int    `json:"failed" yaml:"failed"`
}

// TypeSummary is the per-type aggregate of a stored run.
type TypeSummary struct {
	Type       string       `json:"type" yaml:"type"`
	Label      string       `json:"label" yaml:"label"`
	Scored     int          `json:"scored" yaml:"scored"`
	Recall     score.Metric `json:"recall" yaml:"recall"`
	RecallN    int          `json:"recall_n" yaml:"recall_n"`
	Precision  score.Metric `json:"precision" yaml:"precision"`
	PrecisionN int          `json:"precision_n" yaml:"precision_n"`
	Accuracy   score.Metric `json:"accuracy" yaml:"accuracy"`
	AccuracyN  int          `json:"accuracy_n" yaml:"accuracy_n"`
}

// RunDetail is a stored run with its per-type aggregates and failures.
type RunDetail struct {
	Run      *Run            `json:"run" yaml:"run"`
	Types    []*TypeSummary  `json:"types" yaml:"types"`
	Failures []score.Failure `json:"failures" yaml:"failures"`
}

func nullMetric(m score.Metric) sql.NullFloat64 {
	v, ok := m.Float()
	return sql.NullFloat64{Float64: v, Valid: ok}
}

func metricOf(n sql.NullFloat64) score.Metric {
	if !n.Valid || math.IsNaN(n.Float64) {
		return score.Undefined
	}
	return score.Metric(n.Float64)
}

// NewRun creates a run record for the given inputs and outcome.
func NewRun(outputs string, annotations []string, results []*score.Result, failures []score.Failure) *Run {
	r := &Run{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC().Format(timeFormat),
		Outputs:     outputs,
		Annotations: strings.Join(annotations, ","),
		Scored:      len(results),
	}
	for _, f := range failures {
		if f.Skipped() {
			r.Skipped++
		} else {
			r.Failed++
		}
	}
	r.Pairs = r.Scored + r.Skipped + r.Failed
	return r
}

// SaveRun stores the run, its pair results and its failures in one transaction.
func SaveRun(db *sql.DB, run *Run, results []*score.Result, failures []score.Failure) error {
	if db == nil {
		return errDBNotInitialized
	}
	if run == nil || run.ID == "" {
		return fmt.Errorf("run with id required")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting run tx: %w", err)
	}

	if err := saveRun(tx, run, results, failures); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("rolling back run tx: %w (after %v)", rerr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run tx: %w", err)
	}
	return nil
}

func saveRun(tx *sql.Tx, run *Run, results []*score.Result, failures []score.Failure) error {
	if _, err := tx.Exec(insertRunSQL, run.ID, run.CreatedAt, run.Outputs, run.Annotations,
		run.Pairs, run.Scored, run.Skipped, run.Failed); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	resStmt, err := tx.Prepare(insertPairResultSQL)
	if err != nil {
		return fmt.Errorf("preparing pair result insert: %w", err)
	}
	defer resStmt.Close()

	for _, r := range results {
		c := r.Counts
		if _, err := resStmt.Exec(run.ID, r.Doc, r.Type.Code, r.Type.Label, r.Len(),
			c.TP, c.TN, c.FP, c.FN,
			nullMetric(r.Recall), nullMetric(r.Precision), nullMetric(r.Accuracy)); err != nil {
			return fmt.Errorf("inserting pair result %d/%s: %w", r.Doc, r.Type.Code, err)
		}
	}

	failStmt, err := tx.Prepare(insertPairFailureSQL)
	if err != nil {
		return fmt.Errorf("preparing pair failure insert: %w", err)
	}
	defer failStmt.Close()

	for _, f := range failures {
		if _, err := failStmt.Exec(run.ID, f.Doc, f.Type, f.Kind, f.Message, f.Kind, f.Message); err != nil {
			return fmt.Errorf("inserting pair failure %d/%s: %w", f.Doc, f.Type, err)
		}
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	r := &Run{}
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.Outputs, &r.Annotations,
		&r.Pairs, &r.Scored, &r.Skipped, &r.Failed); err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first.
func ListRuns(db *sql.DB, limit int) ([]*Run, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	list := make([]*Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// GetRunDetail returns the run with per-type aggregates, or nil when the
// run does not exist.
func GetRunDetail(db *sql.DB, id string) (*RunDetail, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	run, err := scanRun(db.QueryRow(selectRunSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying run %s: %w", id, err)
	}

	d := &RunDetail{Run: run, Types: make([]*TypeSummary, 0), Failures: make([]score.Failure, 0)}

	rows, err := db.Query(selectRunTypeSummarySQL, id)
	if err != nil {
		return nil, fmt.Errorf("querying run summary %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		s := &TypeSummary{}
		var recall, precision, accuracy sql.NullFloat64
		if err := rows.Scan(&s.Type, &s.Label, &s.Scored,
			&recall, &s.RecallN, &precision, &s.PrecisionN, &accuracy, &s.AccuracyN); err != nil {
			return nil, fmt.Errorf("scanning run summary: %w", err)
		}
		s.Recall = metricOf(recall)
		s.Precision = metricOf(precision)
		s.Accuracy = metricOf(accuracy)
		d.Types = append(d.Types, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run summary: %w", err)
	}

	frows, err := db.Query(selectRunFailuresSQL, id)
	if err != nil {
		return nil, fmt.Errorf("querying run failures %s: %w", id, err)
	}
	defer frows.Close()

	for frows.Next() {
		var f score.Failure
		if err := frows.Scan(&f.Doc, &f.Type, &f.Kind, &f.Message); err != nil {
			return nil, fmt.Errorf("scanning run failure: %w", err)
		}
		d.Failures = append(d.Failures, f)
	}

	return d, frows.Err()
}
