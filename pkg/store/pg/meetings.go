package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teamsync/core/pkg/models"
)

// PGMeetingStore implements store.MeetingStore backed by Postgres.
type PGMeetingStore struct {
	db *sql.DB
}

func NewPGMeetingStore(db *sql.DB) *PGMeetingStore {
	return &PGMeetingStore{db: db}
}

const meetingColumns = `id, user_id, external_meeting_id, title,
	to_char(start_time, 'YYYY-MM-DD"T"HH24:MI:SS'), to_char(end_time, 'YYYY-MM-DD"T"HH24:MI:SS'),
	start_timezone, end_timezone, location, url, attendees_json,
	is_important, importance_score, manual_notes, ai_summary, copilot_notes,
	key_decisions_json, action_items_json, metadata_json, created_at, updated_at`

// transcriptMetaKeys are the metadata keys owned by the transcript
// acquisition path. Provider re-ingestion never overwrites them.
var transcriptMetaKeys = []string{
	models.MetaTranscript,
	models.MetaTranscriptID,
	models.MetaTranscriptFetchedAt,
	models.MetaTranscriptSource,
}

// Upsert inserts a new meeting or merge-updates an existing one.
//
// On update only provider-owned fields are replaced. Manual notes, the
// AI summary, decisions, action items, importance and transcript
// metadata keep their stored values, so a later sync cycle can never
// clobber local work.
func (s *PGMeetingStore) Upsert(ctx context.Context, m *models.Meeting) (bool, error) {
	const op = "store.upsert_meeting"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr(op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := s.getTx(ctx, tx, m.UserID, m.ExternalMeetingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, storeErr(op, err)
	}

	if existing == nil {
		if err := s.insertTx(ctx, tx, m); err != nil {
			return false, storeErr(op, err)
		}
		if err := tx.Commit(); err != nil {
			return false, storeErr(op, err)
		}
		return true, nil
	}

	merged := mergeMetadata(existing.Metadata, m.Metadata)
	metaJSON, err := marshalJSON(merged)
	if err != nil {
		return false, storeErr(op, err)
	}
	attendeesJSON, err := marshalJSON(attendeesOrEmpty(m.Attendees))
	if err != nil {
		return false, storeErr(op, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE meeting SET
			title = $1, start_time = $2::timestamp, end_time = $3::timestamp,
			start_timezone = $4, end_timezone = $5, location = $6, url = $7,
			attendees_json = $8, metadata_json = $9, updated_at = now()
		WHERE id = $10 AND user_id = $11`,
		m.Title, formatNaive(m.StartTime), formatNaive(m.EndTime),
		m.StartTimezone, m.EndTimezone, m.Location, m.URL,
		attendeesJSON, metaJSON, existing.ID, m.UserID,
	)
	if err != nil {
		return false, storeErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return false, storeErr(op, err)
	}

	// Reflect the surviving local fields back to the caller.
	m.ID = existing.ID
	m.IsImportant = existing.IsImportant
	m.ImportanceScore = existing.ImportanceScore
	m.ManualNotes = existing.ManualNotes
	m.AISummary = existing.AISummary
	m.CopilotNotes = existing.CopilotNotes
	m.KeyDecisions = existing.KeyDecisions
	m.ActionItems = existing.ActionItems
	m.Metadata = merged
	return false, nil
}

// mergeMetadata overlays incoming provider metadata onto the stored
// map while keeping the transcript keys from the stored side.
func mergeMetadata(stored, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(stored)+len(incoming))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	for _, k := range transcriptMetaKeys {
		if v, ok := stored[k]; ok {
			merged[k] = v
		}
	}
	return merged
}

func attendeesOrEmpty(a []models.Attendee) []models.Attendee {
	if a == nil {
		return []models.Attendee{}
	}
	return a
}

func (s *PGMeetingStore) insertTx(ctx context.Context, tx *sql.Tx, m *models.Meeting) error {
	attendeesJSON, err := marshalJSON(attendeesOrEmpty(m.Attendees))
	if err != nil {
		return err
	}
	decisionsJSON, err := marshalJSON(stringsOrEmpty(m.KeyDecisions))
	if err != nil {
		return err
	}
	itemsJSON, err := marshalJSON(itemsOrEmpty(m.ActionItems))
	if err != nil {
		return err
	}
	metaJSON, err := marshalJSON(mapOrEmpty(m.Metadata))
	if err != nil {
		return err
	}

	return tx.QueryRowContext(ctx, `
		INSERT INTO meeting (
			user_id, external_meeting_id, title, start_time, end_time,
			start_timezone, end_timezone, location, url, attendees_json,
			is_important, importance_score, manual_notes, ai_summary,
			copilot_notes, key_decisions_json, action_items_json, metadata_json
		) VALUES ($1, $2, $3, $4::timestamp, $5::timestamp, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id`,
		m.UserID, m.ExternalMeetingID, m.Title,
		formatNaive(m.StartTime), formatNaive(m.EndTime),
		m.StartTimezone, m.EndTimezone, m.Location, m.URL, attendeesJSON,
		m.IsImportant, m.ImportanceScore,
		nullString(m.ManualNotes), nullString(m.AISummary), nullString(m.CopilotNotes),
		decisionsJSON, itemsJSON, metaJSON,
	).Scan(&m.ID)
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func itemsOrEmpty(a []models.ActionItem) []models.ActionItem {
	if a == nil {
		return []models.ActionItem{}
	}
	return a
}

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// UpdateTranscript merges transcript metadata into one meeting row.
// This is the only write path for acquired transcripts; it touches
// metadata_json and updated_at, nothing else.
func (s *PGMeetingStore) UpdateTranscript(ctx context.Context, userID string, meetingID int64, transcript, transcriptID, source string, fetchedAt time.Time) error {
	const op = "store.update_meeting_transcript"

	patch := map[string]any{
		models.MetaTranscript:          transcript,
		models.MetaTranscriptID:        transcriptID,
		models.MetaTranscriptSource:    source,
		models.MetaTranscriptFetchedAt: fetchedAt.UTC().Format(time.RFC3339),
	}
	patchJSON, err := marshalJSON(patch)
	if err != nil {
		return storeErr(op, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE meeting
		SET metadata_json = metadata_json || $1::jsonb, updated_at = now()
		WHERE id = $2 AND user_id = $3`,
		patchJSON, meetingID, userID,
	)
	if err != nil {
		return storeErr(op, err)
	}
	return requireRow(op, res)
}

// SetOnlineMeetingID merges the resolved online-meeting identity into
// the row's metadata.
func (s *PGMeetingStore) SetOnlineMeetingID(ctx context.Context, userID string, meetingID int64, onlineMeetingID string) error {
	const op = "store.set_online_meeting_id"

	patchJSON, err := marshalJSON(map[string]any{
		models.MetaOnlineMeetingID: onlineMeetingID,
	})
	if err != nil {
		return storeErr(op, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE meeting
		SET metadata_json = metadata_json || $1::jsonb, updated_at = now()
		WHERE id = $2 AND user_id = $3`,
		patchJSON, meetingID, userID,
	)
	if err != nil {
		return storeErr(op, err)
	}
	return requireRow(op, res)
}

// SetCopilotNotes writes provider-generated structured notes.
func (s *PGMeetingStore) SetCopilotNotes(ctx context.Context, userID string, meetingID int64, notes string) error {
	const op = "store.set_copilot_notes"

	res, err := s.db.ExecContext(ctx, `
		UPDATE meeting SET copilot_notes = $1, updated_at = now()
		WHERE id = $2 AND user_id = $3`,
		notes, meetingID, userID,
	)
	if err != nil {
		return storeErr(op, err)
	}
	return requireRow(op, res)
}

// UpdateSummary writes AI-derived fields of one meeting.
func (s *PGMeetingStore) UpdateSummary(ctx context.Context, userID string, meetingID int64, summary string, decisions []string, items []models.ActionItem) error {
	const op = "store.update_meeting_summary"

	decisionsJSON, err := marshalJSON(stringsOrEmpty(decisions))
	if err != nil {
		return storeErr(op, err)
	}
	itemsJSON, err := marshalJSON(itemsOrEmpty(items))
	if err != nil {
		return storeErr(op, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE meeting
		SET ai_summary = $1, key_decisions_json = $2, action_items_json = $3, updated_at = now()
		WHERE id = $4 AND user_id = $5`,
		summary, decisionsJSON, itemsJSON, meetingID, userID,
	)
	if err != nil {
		return storeErr(op, err)
	}
	return requireRow(op, res)
}

// SetManualNotes replaces the user-authored notes of one meeting.
func (s *PGMeetingStore) SetManualNotes(ctx context.Context, userID string, meetingID int64, notes string) error {
	const op = "store.set_manual_notes"

	res, err := s.db.ExecContext(ctx, `
		UPDATE meeting SET manual_notes = $1, updated_at = now()
		WHERE id = $2 AND user_id = $3`,
		notes, meetingID, userID,
	)
	if err != nil {
		return storeErr(op, err)
	}
	return requireRow(op, res)
}

func requireRow(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if n == 0 {
		return storeErr(op, sql.ErrNoRows)
	}
	return nil
}

func (s *PGMeetingStore) GetByID(ctx context.Context, userID string, id int64) (*models.Meeting, error) {
	const op = "store.get_meeting"
	row := s.db.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meeting WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	m, err := scanMeeting(row)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return m, nil
}

func (s *PGMeetingStore) GetByExternalID(ctx context.Context, userID, externalID string) (*models.Meeting, error) {
	const op = "store.get_meeting_by_external_id"
	row := s.db.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meeting WHERE user_id = $1 AND external_meeting_id = $2`,
		userID, externalID,
	)
	m, err := scanMeeting(row)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return m, nil
}

func (s *PGMeetingStore) getTx(ctx context.Context, tx *sql.Tx, userID, externalID string) (*models.Meeting, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meeting
		 WHERE user_id = $1 AND external_meeting_id = $2 FOR UPDATE`,
		userID, externalID,
	)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// List returns meetings for one user, filtered and ordered by start
// time (descending unless OrderAsc).
func (s *PGMeetingStore) List(ctx context.Context, userID string, filter models.MeetingFilter) ([]*models.Meeting, error) {
	const op = "store.list_meetings"

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
		conds = append(conds, "external_meeting_id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.From != nil {
		conds = append(conds, "start_time >= "+arg(formatNaive(*filter.From))+"::timestamp")
	}
	if filter.To != nil {
		conds = append(conds, "start_time <= "+arg(formatNaive(*filter.To))+"::timestamp")
	}
	if filter.Important != nil {
		conds = append(conds, "is_important = "+arg(*filter.Important))
	}

	order := "DESC"
	if filter.OrderAsc {
		order = "ASC"
	}
	query := `SELECT ` + meetingColumns + ` FROM meeting WHERE ` +
		strings.Join(conds, " AND ") + " ORDER BY start_time " + order
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var meetings []*models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		meetings = append(meetings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return meetings, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (*models.Meeting, error) {
	var (
		m                      models.Meeting
		startStr, endStr       string
		manual, summary, notes sql.NullString
		attendeesJSON          []byte
		decisionsJSON          []byte
		itemsJSON              []byte
		metaJSON               []byte
	)

	err := row.Scan(
		&m.ID, &m.UserID, &m.ExternalMeetingID, &m.Title,
		&startStr, &endStr, &m.StartTimezone, &m.EndTimezone,
		&m.Location, &m.URL, &attendeesJSON,
		&m.IsImportant, &m.ImportanceScore,
		&manual, &summary, &notes,
		&decisionsJSON, &itemsJSON, &metaJSON,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if m.StartTime, err = time.Parse(naiveLayout, startStr); err != nil {
		return nil, fmt.Errorf("parsing start_time %q: %w", startStr, err)
	}
	if m.EndTime, err = time.Parse(naiveLayout, endStr); err != nil {
		return nil, fmt.Errorf("parsing end_time %q: %w", endStr, err)
	}

	m.ManualNotes = fromNullString(manual)
	m.AISummary = fromNullString(summary)
	m.CopilotNotes = fromNullString(notes)

	if err := unmarshalJSON(attendeesJSON, &m.Attendees); err != nil {
		return nil, fmt.Errorf("parsing attendees_json: %w", err)
	}
	if err := unmarshalJSON(decisionsJSON, &m.KeyDecisions); err != nil {
		return nil, fmt.Errorf("parsing key_decisions_json: %w", err)
	}
	if err := unmarshalJSON(itemsJSON, &m.ActionItems); err != nil {
		return nil, fmt.Errorf("parsing action_items_json: %w", err)
	}
	if err := unmarshalJSON(metaJSON, &m.Metadata); err != nil {
		return nil, fmt.Errorf("parsing metadata_json: %w", err)
	}

	return &m, nil
}
