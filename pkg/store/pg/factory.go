// Package pg implements the store contracts on PostgreSQL.
package pg

import (
	"database/sql"

	"github.com/teamsync/core/pkg/store"
)

// NewPGStores creates all stores backed by Postgres.
func NewPGStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Meetings:    NewPGMeetingStore(db),
		Updates:     NewPGUpdateStore(db),
		Credentials: NewPGCredentialStore(db),
		CodeChunks:  NewPGCodeChunkStore(db),
	}
}
