package store

import (
	"context"
	"database/sql"
	"fmt"

	"passport-gateway/internal/dte/models"
)

// PostgresStore persists the event index in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed event index.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the index table. Safe to call repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS dte_index (
			product_id    TEXT NOT NULL,
			dte_cid       TEXT NOT NULL,
			event_id      TEXT NOT NULL,
			credential_id TEXT NOT NULL DEFAULT '',
			role          TEXT NOT NULL,
			issuer_did    TEXT NOT NULL,
			event_type    TEXT NOT NULL,
			event_time    TIMESTAMPTZ NOT NULL,
			indexed_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (product_id, dte_cid, event_id, role)
		);
		CREATE INDEX IF NOT EXISTS dte_index_by_cid ON dte_index (dte_cid)`)
	if err != nil {
		return fmt.Errorf("migrate dte_index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, record models.DteIndexRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dte_index
			(product_id, dte_cid, event_id, credential_id, role, issuer_did, event_type, event_time, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (product_id, dte_cid, event_id, role)
		DO UPDATE SET credential_id = $4, issuer_did = $6, event_type = $7, event_time = $8, indexed_at = $9`,
		record.ProductID, record.DteCID, record.EventID, record.CredentialID, string(record.Role),
		record.IssuerDID, record.EventType, record.EventTime, record.IndexedAt)
	if err != nil {
		return fmt.Errorf("upsert index record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByProduct(ctx context.Context, productID string) ([]models.DteIndexRecord, error) {
	return s.list(ctx, `
		SELECT product_id, dte_cid, event_id, credential_id, role, issuer_did, event_type, event_time, indexed_at
		FROM dte_index WHERE product_id = $1
		ORDER BY event_time DESC, event_id, role`, productID)
}

func (s *PostgresStore) ListByDte(ctx context.Context, dteCID string) ([]models.DteIndexRecord, error) {
	return s.list(ctx, `
		SELECT product_id, dte_cid, event_id, credential_id, role, issuer_did, event_type, event_time, indexed_at
		FROM dte_index WHERE dte_cid = $1
		ORDER BY event_time DESC, event_id, role`, dteCID)
}

func (s *PostgresStore) list(ctx context.Context, query string, arg string) ([]models.DteIndexRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	var out []models.DteIndexRecord
	for rows.Next() {
		var record models.DteIndexRecord
		var role string
		if err := rows.Scan(&record.ProductID, &record.DteCID, &record.EventID, &record.CredentialID, &role,
			&record.IssuerDID, &record.EventType, &record.EventTime, &record.IndexedAt); err != nil {
			return nil, fmt.Errorf("scan index record: %w", err)
		}
		record.Role = models.Role(role)
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index records: %w", err)
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
