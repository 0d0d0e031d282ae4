package pg

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/teamsync/core/pkg/faults"
	"github.com/teamsync/core/pkg/store"
)

// naiveLayout is the store-boundary format for meeting wall-clock times.
// No zone suffix: the timezone columns carry the zone separately.
const naiveLayout = "2006-01-02T15:04:05"

func formatNaive(t time.Time) string {
	return t.Format(naiveLayout)
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}

// storeErr maps low-level database failures into the shared taxonomy.
// sql.ErrNoRows is surfaced as store.ErrNotFound, not a fault.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return faults.New(faults.KindStoreUnavailable, op, err)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
