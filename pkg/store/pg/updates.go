package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/teamsync/core/pkg/models"
)

// PGUpdateStore implements store.UpdateStore backed by Postgres.
type PGUpdateStore struct {
	db *sql.DB
}

func NewPGUpdateStore(db *sql.DB) *PGUpdateStore {
	return &PGUpdateStore{db: db}
}

const updateColumns = `id, user_id, update_type, external_id, title, description,
	content_text, author, status, priority, project, linked_meeting_id,
	linked_external_keys_json, url, metadata_json, created_at, updated_at`

// Upsert inserts or updates one activity row. content_text is rebuilt
// from the incoming fields on every call so dashboard substring search
// never reads stale text. An existing meeting link survives when the
// incoming row carries none, and existing linked keys survive when the
// incoming row carries an empty list, so back-references written by
// code ingestion outlive issue re-ingestion.
func (s *PGUpdateStore) Upsert(ctx context.Context, u *models.Update) (bool, error) {
	const op = "store.upsert_update"

	u.ContentText = BuildContentText(u)

	keysJSON, err := marshalJSON(stringsOrEmpty(u.LinkedExternalKeys))
	if err != nil {
		return false, storeErr(op, err)
	}
	metaJSON, err := marshalJSON(mapOrEmpty(u.Metadata))
	if err != nil {
		return false, storeErr(op, err)
	}

	var created bool
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO update_entry (
			user_id, update_type, external_id, title, description, content_text,
			author, status, priority, project, linked_meeting_id,
			linked_external_keys_json, url, metadata_json
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, update_type, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			content_text = EXCLUDED.content_text,
			author = EXCLUDED.author,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			project = EXCLUDED.project,
			linked_meeting_id = COALESCE(EXCLUDED.linked_meeting_id, update_entry.linked_meeting_id),
			linked_external_keys_json = CASE
				WHEN EXCLUDED.linked_external_keys_json = '[]'::jsonb
				THEN update_entry.linked_external_keys_json
				ELSE EXCLUDED.linked_external_keys_json
			END,
			url = EXCLUDED.url,
			metadata_json = EXCLUDED.metadata_json,
			updated_at = now()
		RETURNING id, (created_at = updated_at)`,
		u.UserID, string(u.UpdateType), u.ExternalID, u.Title, u.Description, u.ContentText,
		u.Author, u.Status, u.Priority, u.Project, nullInt64(u.LinkedMeetingID),
		keysJSON, u.URL, metaJSON,
	).Scan(&u.ID, &created)
	if err != nil {
		return false, storeErr(op, err)
	}
	return created, nil
}

// BuildContentText denormalizes the searchable fields of one row into
// a single text column.
func BuildContentText(u *models.Update) string {
	parts := make([]string, 0, 8)
	add := func(s string) {
		if s != "" {
			parts = append(parts, s)
		}
	}
	add(u.ExternalID)
	add(u.Title)
	add(u.Description)
	add(u.Status)
	add(u.Priority)
	add(u.Author)
	add(u.Project)
	add(strings.Join(u.LinkedExternalKeys, " "))
	return strings.Join(parts, "\n")
}

// SetLinkedMeeting back-references an update row to a meeting row.
func (s *PGUpdateStore) SetLinkedMeeting(ctx context.Context, userID string, updateID, meetingID int64) error {
	const op = "store.set_linked_meeting"

	res, err := s.db.ExecContext(ctx, `
		UPDATE update_entry SET linked_meeting_id = $1, updated_at = now()
		WHERE id = $2 AND user_id = $3`,
		meetingID, updateID, userID,
	)
	if err != nil {
		return storeErr(op, err)
	}
	return requireRow(op, res)
}

// AddLinkedKeys appends keys to a row's linked_external_keys without
// duplicates. updated_at stays put so the write never reorders
// dashboards or widens a reconciliation window.
func (s *PGUpdateStore) AddLinkedKeys(ctx context.Context, userID string, updateID int64, keys []string) error {
	const op = "store.add_linked_keys"

	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var keysJSON []byte
	err = tx.QueryRowContext(ctx, `
		SELECT linked_external_keys_json FROM update_entry
		WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		updateID, userID,
	).Scan(&keysJSON)
	if err != nil {
		return storeErr(op, err)
	}

	var existing []string
	if err := unmarshalJSON(keysJSON, &existing); err != nil {
		return storeErr(op, fmt.Errorf("parsing linked_external_keys_json: %w", err))
	}

	seen := make(map[string]bool, len(existing))
	for _, k := range existing {
		seen[k] = true
	}
	merged := existing
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			merged = append(merged, k)
		}
	}
	if len(merged) == len(existing) {
		return tx.Commit()
	}

	mergedJSON, err := marshalJSON(merged)
	if err != nil {
		return storeErr(op, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE update_entry SET linked_external_keys_json = $1
		WHERE id = $2 AND user_id = $3`,
		mergedJSON, updateID, userID,
	); err != nil {
		return storeErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(op, err)
	}
	return nil
}

// DeleteMissing removes rows of the given types inside [from, to] whose
// external_id is absent from keep. Returns rows deleted and rows that
// were in the window, so callers can log disproportionate deletions.
func (s *PGUpdateStore) DeleteMissing(ctx context.Context, userID string, types []models.UpdateType, from, to time.Time, keep []string) (int64, int64, error) {
	const op = "store.delete_missing_updates"

	if len(types) == 0 {
		return 0, 0, nil
	}

	var (
		args = []any{userID, from, to}
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	typePlaceholders := make([]string, len(types))
	for i, t := range types {
		typePlaceholders[i] = arg(string(t))
	}
	window := `user_id = $1 AND updated_at >= $2 AND updated_at <= $3
		AND update_type IN (` + strings.Join(typePlaceholders, ", ") + `)`

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM update_entry WHERE `+window, args...,
	).Scan(&total); err != nil {
		return 0, 0, storeErr(op, err)
	}

	cond := window
	if len(keep) > 0 {
		keepPlaceholders := make([]string, len(keep))
		for i, id := range keep {
			keepPlaceholders[i] = arg(id)
		}
		cond += ` AND external_id NOT IN (` + strings.Join(keepPlaceholders, ", ") + `)`
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM update_entry WHERE `+cond, args...)
	if err != nil {
		return 0, 0, storeErr(op, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, 0, storeErr(op, err)
	}
	return deleted, total, nil
}

// DeleteOlderThan prunes old rows across all users.
func (s *PGUpdateStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "store.delete_updates_older_than"

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM update_entry WHERE updated_at < $1`, cutoff,
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

// List returns update rows for one user, newest first by updated_at.
func (s *PGUpdateStore) List(ctx context.Context, userID string, filter models.UpdateFilter) ([]*models.Update, error) {
	const op = "store.list_updates"

	var (
		conds = []string{"user_id = $1"}
		args  = []any{userID}
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.ExternalIDs) > 0 {
		placeholders := make([]string, len(filter.ExternalIDs))
		for i, id := range filter.ExternalIDs {
			placeholders[i] = arg(id)
		}
		conds = append(conds, "external_id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = arg(string(t))
		}
		conds = append(conds, "update_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.From != nil {
		conds = append(conds, "updated_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "updated_at <= "+arg(*filter.To))
	}
	if filter.Search != "" {
		conds = append(conds, "content_text ILIKE "+arg("%"+filter.Search+"%"))
	}

	query := `SELECT ` + updateColumns + ` FROM update_entry WHERE ` +
		strings.Join(conds, " AND ") + " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var updates []*models.Update
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return updates, nil
}

func scanUpdate(row rowScanner) (*models.Update, error) {
	var (
		u         models.Update
		updType   string
		linked    sql.NullInt64
		keysJSON  []byte
		metaJSON  []byte
	)

	err := row.Scan(
		&u.ID, &u.UserID, &updType, &u.ExternalID, &u.Title, &u.Description,
		&u.ContentText, &u.Author, &u.Status, &u.Priority, &u.Project,
		&linked, &keysJSON, &u.URL, &metaJSON, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.UpdateType = models.UpdateType(updType)
	u.LinkedMeetingID = fromNullInt64(linked)
	if err := unmarshalJSON(keysJSON, &u.LinkedExternalKeys); err != nil {
		return nil, fmt.Errorf("parsing linked_external_keys_json: %w", err)
	}
	if err := unmarshalJSON(metaJSON, &u.Metadata); err != nil {
		return nil, fmt.Errorf("parsing metadata_json: %w", err)
	}
	return &u, nil
}
