// Package storage provides SQLite persistence for ledger entries and disk usage helpers.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/iris/internal/models"
)

// SQLiteStore persists extraction entries. It satisfies ledger.Persister.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS extractions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		image_name TEXT NOT NULL,
		image_path TEXT,
		source TEXT NOT NULL,
		features TEXT NOT NULL,
		extracted_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_extractions_extracted_at ON extractions(extracted_at);
	`
	_, err := db.Exec(schema)
	return err
}

// storedFeatures is the JSON column layout for the feature subset of an entry.
type storedFeatures struct {
	Caption         string    `json:"caption"`
	Objects         []string  `json:"objects"`
	OCRText         string    `json:"ocr_text"`
	SceneLabels     []string  `json:"scene_labels"`
	ColorFeatures   []float64 `json:"color_features"`
	TextureFeatures []float64 `json:"texture_features"`
}

// SaveEntry inserts an entry; saving an existing id is a no-op.
func (s *SQLiteStore) SaveEntry(ctx context.Context, e *models.ExtractionEntry) error {
	features, err := json.Marshal(storedFeatures{
		Caption:         e.Caption,
		Objects:         e.Objects,
		OCRText:         e.OCRText,
		SceneLabels:     e.SceneLabels,
		ColorFeatures:   e.ColorFeatures,
		TextureFeatures: e.TextureFeatures,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO extractions (id, image_name, image_path, source, features, extracted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ImageName, e.ImagePath, e.Source, string(features), e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// DeleteEntry removes an entry by id. Deleting an absent id is not an error.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM extractions WHERE id = ?`, id)
	return err
}

// ListEntries returns all entries in insertion order, oldest first.
func (s *SQLiteStore) ListEntries(ctx context.Context) ([]*models.ExtractionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, image_name, image_path, source, features, extracted_at
		 FROM extractions ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ExtractionEntry
	for rows.Next() {
		var (
			e            models.ExtractionEntry
			imagePath    sql.NullString
			featuresJSON string
			extractedAt  string
		)
		if err := rows.Scan(&e.ID, &e.ImageName, &imagePath, &e.Source, &featuresJSON, &extractedAt); err != nil {
			return nil, err
		}
		var f storedFeatures
		if err := json.Unmarshal([]byte(featuresJSON), &f); err != nil {
			return nil, fmt.Errorf("failed to unmarshal features for %s: %w", e.ID, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, extractedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp for %s: %w", e.ID, err)
		}
		e.ImagePath = imagePath.String
		e.Caption = f.Caption
		e.Objects = f.Objects
		e.OCRText = f.OCRText
		e.SceneLabels = f.SceneLabels
		e.ColorFeatures = f.ColorFeatures
		e.TextureFeatures = f.TextureFeatures
		e.Timestamp = ts.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CountEntries returns the number of persisted entries.
func (s *SQLiteStore) CountEntries(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM extractions`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
