package registrar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"oidcp/internal/oidc/models"
	"oidcp/pkg/platform/sentinel"
)

// PostgresStore persists registrations in a clients table. The record is
// stored as JSONB; the registration access token hash lives in its own
// column because it is deliberately excluded from the record's JSON form.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema is the DDL the store expects. Applied by the operator or a
// migration step, not by the store itself.
const Schema = `
CREATE TABLE IF NOT EXISTS clients (
    client_id  TEXT PRIMARY KEY,
    record     JSONB NOT NULL,
    rat_hash   TEXT NOT NULL DEFAULT '',
    issued_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Insert(ctx context.Context, reg *models.ClientRegistration) error {
	record, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("could not encode registration: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO clients (client_id, record, rat_hash, issued_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (client_id) DO NOTHING`,
		reg.ClientID, record, reg.RegistrationAccessTokenHash, reg.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("could not insert registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client %s already registered: %w", reg.ClientID, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, clientID string) (*models.ClientRegistration, error) {
	var record []byte
	var ratHash string
	err := s.pool.QueryRow(ctx,
		`SELECT record, rat_hash FROM clients WHERE client_id = $1`,
		clientID,
	).Scan(&record, &ratHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("client %s: %w", clientID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("could not load registration: %w", err)
	}

	var reg models.ClientRegistration
	if err := json.Unmarshal(record, &reg); err != nil {
		return nil, fmt.Errorf("could not decode registration: %w", err)
	}
	reg.RegistrationAccessTokenHash = ratHash
	return &reg, nil
}

func (s *PostgresStore) Update(ctx context.Context, reg *models.ClientRegistration) error {
	record, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("could not encode registration: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE clients SET record = $2, rat_hash = $3 WHERE client_id = $1`,
		reg.ClientID, record, reg.RegistrationAccessTokenHash,
	)
	if err != nil {
		return fmt.Errorf("could not update registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client %s: %w", reg.ClientID, sentinel.ErrNotFound)
	}
	return nil
}
