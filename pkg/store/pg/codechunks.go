package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/teamsync/core/pkg/models"
)

// PGCodeChunkStore implements store.CodeChunkStore backed by Postgres.
type PGCodeChunkStore struct {
	db *sql.DB
}

func NewPGCodeChunkStore(db *sql.DB) *PGCodeChunkStore {
	return &PGCodeChunkStore{db: db}
}

// UpsertBatch writes chunk metadata rows in one transaction.
func (s *PGCodeChunkStore) UpsertBatch(ctx context.Context, chunks []*models.CodeChunk) error {
	const op = "store.upsert_code_chunks"

	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO code_chunk (
			user_id, repo_owner, repo_name, file_path,
			chunk_type, chunk_name, start_line, end_line, language, indexed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (user_id, repo_owner, repo_name, file_path, start_line) DO UPDATE SET
			chunk_type = EXCLUDED.chunk_type,
			chunk_name = EXCLUDED.chunk_name,
			end_line = EXCLUDED.end_line,
			language = EXCLUDED.language,
			indexed_at = now()`)
	if err != nil {
		return storeErr(op, err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			c.UserID, c.Repo.Owner, c.Repo.Name, c.FilePath,
			c.ChunkType, c.ChunkName, c.StartLine, c.EndLine, c.Language,
		); err != nil {
			return storeErr(op, err)
		}
	}

	return storeErr(op, tx.Commit())
}

// ListRepositories returns the distinct repositories indexed for a user.
func (s *PGCodeChunkStore) ListRepositories(ctx context.Context, userID string) ([]models.Repository, error) {
	const op = "store.list_code_repositories"

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT repo_owner, repo_name FROM code_chunk
		WHERE user_id = $1 ORDER BY repo_owner, repo_name`,
		userID,
	)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var repos []models.Repository
	for rows.Next() {
		var r models.Repository
		if err := rows.Scan(&r.Owner, &r.Name); err != nil {
			return nil, storeErr(op, err)
		}
		repos = append(repos, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return repos, nil
}

// DeleteRepository removes all chunk metadata for one repository.
func (s *PGCodeChunkStore) DeleteRepository(ctx context.Context, userID string, repo models.Repository) (int64, error) {
	const op = "store.delete_code_repository"

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM code_chunk
		WHERE user_id = $1 AND repo_owner = $2 AND repo_name = $3`,
		userID, repo.Owner, repo.Name,
	)
	if err != nil {
		return 0, storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}

// DeleteOlderThan prunes stale chunk metadata across all users.
func (s *PGCodeChunkStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "store.delete_code_chunks_older_than"

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM code_chunk WHERE indexed_at < $1`, cutoff,
	)
	if err != nil {
		return 0, storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}
