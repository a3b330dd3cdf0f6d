package data

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	insertGenerationSQL = `INSERT INTO generation (doc, type, model, output, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc, type, model) DO UPDATE SET output = ?, created_at = ?
	`

	selectGenerationExistsSQL = `SELECT COUNT(*) FROM generation WHERE doc = ? AND type = ? AND model = ?`

	selectGenerationsSQL = `SELECT doc, type, model, output, created_at
		FROM generation
		WHERE model = ?
		ORDER BY doc, type
	`
)

// Generation is one model rewrite of a note.
type Generation struct {
	Doc       int    `json:"doc" yaml:"doc"`
	Type      string `json:"type" yaml:"type"`
	Model     string `json:"model" yaml:"model"`
	Output    string `json:"output" yaml:"output"`
	CreatedAt string `json:"created_at" yaml:"created_at"`
}

// SaveGeneration upserts the model output for a document and type.
func SaveGeneration(db *sql.DB, g *Generation) error {
	if db == nil {
		return errDBNotInitialized
	}
	if g == nil {
		return nil
	}
	if g.Type == "" || g.Model == "" {
		return fmt.Errorf("type: %q and model: %q are both required", g.Type, g.Model)
	}

	if g.CreatedAt == "" {
		g.CreatedAt = time.Now().UTC().Format(timeFormat)
	}

	if _, err := db.Exec(insertGenerationSQL, g.Doc, g.Type, g.Model, g.Output, g.CreatedAt,
		g.Output, g.CreatedAt); err != nil {
		return fmt.Errorf("inserting generation %d/%s: %w", g.Doc, g.Type, err)
	}
	return nil
}

// HasGeneration reports whether an output is already stored.
func HasGeneration(db *sql.DB, doc int, typ, model string) (bool, error) {
	if db == nil {
		return false, errDBNotInitialized
	}

	var count int
	if err := db.QueryRow(selectGenerationExistsSQL, doc, typ, model).Scan(&count); err != nil {
		return false, fmt.Errorf("checking generation %d/%s: %w", doc, typ, err)
	}
	return count > 0, nil
}

// GetGenerations returns all stored outputs of a model.
func GetGenerations(db *sql.DB, model string) ([]*Generation, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectGenerationsSQL, model)
	if err != nil {
		return nil, fmt.Errorf("querying generations: %w", err)
	}
	defer rows.Close()

	list := make([]*Generation, 0)
	for rows.Next() {
		g := &Generation{}
		if err := rows.Scan(&g.Doc, &g.Type, &g.Model, &g.Output, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning generation: %w", err)
		}
		list = append(list, g)
	}
	return list, rows.Err()
}
