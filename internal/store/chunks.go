package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/magi-sh/magi/internal/core"
)

// GetArtifact retrieves an artifact with its manifest.
func (s *SQLiteStore) GetArtifact(ctx context.Context, id string) (*core.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, name, status, manifest, created_at FROM artifacts WHERE id = ?
	`, id)

	var artifact core.Artifact
	var status, manifest, createdAt string
	err := row.Scan(&artifact.ID, &artifact.Name, &status, &manifest, &createdAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("artifact", id)
	}
	if err != nil {
		return nil, storageErr("scanning artifact", err)
	}

	artifact.Status = core.ArtifactStatus(status)
	if err := json.Unmarshal([]byte(manifest), &artifact.Manifest); err != nil {
		return nil, storageErr("unmarshaling artifact manifest", err)
	}
	artifact.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &artifact, nil
}

// ListArtifactChunks returns chunks for an artifact, optionally filtered by
// language, ordered by file path then chunk index.
func (s *SQLiteStore) ListArtifactChunks(ctx context.Context, artifactID string, limit int, languageFilter string) ([]*core.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT artifact_id, file_path, chunk_index, language, content, token_estimate
		FROM chunks WHERE artifact_id = ?
	`
	args := []interface{}{artifactID}
	if languageFilter != "" {
		query += " AND language = ?"
		args = append(args, languageFilter)
	}
	query += " ORDER BY file_path ASC, chunk_index ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("querying chunks", err)
	}
	defer rows.Close()

	var chunks []*core.Chunk
	for rows.Next() {
		var chunk core.Chunk
		if err := rows.Scan(&chunk.ArtifactID, &chunk.FilePath, &chunk.ChunkIndex, &chunk.Language, &chunk.Content, &chunk.TokenEstimate); err != nil {
			return nil, storageErr("scanning chunk", err)
		}
		chunks = append(chunks, &chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating chunks", err)
	}
	return chunks, nil
}

// SaveArtifact upserts an artifact record. Used by the upload pipeline,
// which sits outside this module; exposed here so tests and fixtures can
// seed chunk data.
func (s *SQLiteStore) SaveArtifact(ctx context.Context, artifact *core.Artifact) error {
	manifestJSON, err := json.Marshal(artifact.Manifest)
	if err != nil {
		return storageErr("marshaling artifact manifest", err)
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	err = s.retryWrite(ctx, "SaveArtifact", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO artifacts (id, name, status, manifest, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				status = excluded.status,
				manifest = excluded.manifest
		`,
			artifact.ID, artifact.Name, string(artifact.Status),
			string(manifestJSON), artifact.CreatedAt.Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return storageErr("saving artifact", err)
	}
	return nil
}

// SaveChunks bulk-inserts chunks for an artifact.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*core.Chunk) error {
	err := s.retryWrite(ctx, "SaveChunks", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, chunk := range chunks {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO chunks (artifact_id, file_path, chunk_index, language, content, token_estimate)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(artifact_id, file_path, chunk_index) DO UPDATE SET
					language = excluded.language,
					content = excluded.content,
					token_estimate = excluded.token_estimate
			`,
				chunk.ArtifactID, chunk.FilePath, chunk.ChunkIndex,
				chunk.Language, chunk.Content, chunk.TokenEstimate,
			)
			if err != nil {
				_ = tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return storageErr("saving chunks", err)
	}
	return nil
}
