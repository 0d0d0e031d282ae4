package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/teamsync/core/pkg/models"
)

// PGCredentialStore implements store.CredentialStore backed by Postgres.
type PGCredentialStore struct {
	db *sql.DB
}

func NewPGCredentialStore(db *sql.DB) *PGCredentialStore {
	return &PGCredentialStore{db: db}
}

const credentialColumns = `user_id, service_name, access_token, refresh_token,
	token_expires_at, auth_type, scopes, metadata, connected_at`

// Upsert replaces the credential row for (user, service). Connecting a
// service again is a full replacement, not a merge.
func (s *PGCredentialStore) Upsert(ctx context.Context, c *models.Credential) error {
	const op = "store.upsert_credential"

	scopesJSON, err := marshalJSON(stringsOrEmpty(c.Scopes))
	if err != nil {
		return storeErr(op, err)
	}
	metaJSON, err := marshalJSON(c.Metadata)
	if err != nil {
		return storeErr(op, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integration_credential (
			user_id, service_name, access_token, refresh_token,
			token_expires_at, auth_type, scopes, metadata, connected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (user_id, service_name) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			auth_type = EXCLUDED.auth_type,
			scopes = EXCLUDED.scopes,
			metadata = EXCLUDED.metadata,
			connected_at = now(),
			updated_at = now()`,
		c.UserID, string(c.Service), c.AccessToken, c.RefreshToken,
		nullTime(c.TokenExpiresAt), string(c.AuthType), scopesJSON, metaJSON,
	)
	return storeErr(op, err)
}

func (s *PGCredentialStore) Get(ctx context.Context, userID string, service models.Service) (*models.Credential, error) {
	const op = "store.get_credential"

	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM integration_credential
		 WHERE user_id = $1 AND service_name = $2`,
		userID, string(service),
	)
	c, err := scanCredential(row)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return c, nil
}

func (s *PGCredentialStore) List(ctx context.Context, userID string) ([]*models.Credential, error) {
	const op = "store.list_credentials"

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM integration_credential
		 WHERE user_id = $1 ORDER BY service_name`,
		userID,
	)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return creds, nil
}

// UpdateTokens writes refreshed tokens for (user, service). An empty
// refreshToken keeps the stored one; providers that rotate refresh
// tokens send a new value, others omit it.
func (s *PGCredentialStore) UpdateTokens(ctx context.Context, userID string, service models.Service, accessToken, refreshToken string, expiresAt time.Time) error {
	const op = "store.update_credential_tokens"

	res, err := s.db.ExecContext(ctx, `
		UPDATE integration_credential SET
			access_token = $1,
			refresh_token = CASE WHEN $2 = '' THEN refresh_token ELSE $2 END,
			token_expires_at = $3,
			updated_at = now()
		WHERE user_id = $4 AND service_name = $5`,
		accessToken, refreshToken, nullTime(expiresAt), userID, string(service),
	)
	if err != nil {
		return storeErr(op, err)
	}
	return requireRow(op, res)
}

func (s *PGCredentialStore) Delete(ctx context.Context, userID string, service models.Service) error {
	const op = "store.delete_credential"

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM integration_credential WHERE user_id = $1 AND service_name = $2`,
		userID, string(service),
	)
	return storeErr(op, err)
}

func scanCredential(row rowScanner) (*models.Credential, error) {
	var (
		c          models.Credential
		service    string
		authType   string
		expires    sql.NullTime
		scopesJSON []byte
		metaJSON   []byte
	)

	err := row.Scan(
		&c.UserID, &service, &c.AccessToken, &c.RefreshToken,
		&expires, &authType, &scopesJSON, &metaJSON, &c.ConnectedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Service = models.Service(service)
	c.AuthType = models.AuthType(authType)
	if expires.Valid {
		c.TokenExpiresAt = expires.Time
	}
	if err := unmarshalJSON(scopesJSON, &c.Scopes); err != nil {
		return nil, fmt.Errorf("parsing scopes: %w", err)
	}
	if err := unmarshalJSON(metaJSON, &c.Metadata); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}
	return &c, nil
}
