package store

import (
	"context"
	"database/sql"

	"github.com/pavelanni/gradewise/internal/model"
)

// SetMetadata upserts a key-value pair in the grader_metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO grader_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM grader_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetGraderInfo stores the grader settings the recorded grades were produced with.
func (s *Store) SetGraderInfo(ctx context.Context, info model.GraderInfo) error {
	pairs := []struct{ k, v string }{
		{"provider", info.Provider},
		{"model", info.Model},
		{"score_variant", info.ScoreVariant},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(ctx, p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetGraderInfo reads the grader settings from metadata.
func (s *Store) GetGraderInfo(ctx context.Context) (model.GraderInfo, error) {
	var info model.GraderInfo
	var err error

	if info.Provider, err = s.GetMetadata(ctx, "provider"); err != nil {
		return info, err
	}
	if info.Model, err = s.GetMetadata(ctx, "model"); err != nil {
		return info, err
	}
	if info.ScoreVariant, err = s.GetMetadata(ctx, "score_variant"); err != nil {
		return info, err
	}
	return info, nil
}
