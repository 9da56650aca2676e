package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"passport-gateway/internal/identity/models"
	"passport-gateway/pkg/platform/sentinel"
)

// PostgresStore persists issuer identities in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed identity directory.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the identity table. Safe to call repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS issuer_identities (
			did                   TEXT PRIMARY KEY,
			domain                TEXT NOT NULL,
			org_name              TEXT NOT NULL DEFAULT '',
			status                TEXT NOT NULL,
			signing_key_public    BYTEA NOT NULL,
			encrypted_private_key BYTEA NOT NULL,
			key_nonce             BYTEA NOT NULL,
			authorized_accounts   JSONB NOT NULL DEFAULT '[]',
			trusted_suppliers     JSONB NOT NULL DEFAULT '[]',
			registered_at         TIMESTAMPTZ NOT NULL,
			last_error            TEXT NOT NULL DEFAULT '',
			last_attempt_at       TIMESTAMPTZ NOT NULL DEFAULT 'epoch'
		)`)
	if err != nil {
		return fmt.Errorf("migrate issuer_identities: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, identity models.IssuerIdentity) error {
	accounts, err := json.Marshal(identity.AuthorizedAccounts)
	if err != nil {
		return fmt.Errorf("marshal authorized accounts: %w", err)
	}
	suppliers, err := json.Marshal(identity.TrustedSupplierDIDs)
	if err != nil {
		return fmt.Errorf("marshal trusted suppliers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO issuer_identities
			(did, domain, org_name, status, signing_key_public, encrypted_private_key, key_nonce,
			 authorized_accounts, trusted_suppliers, registered_at, last_error, last_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		identity.DID.String(), identity.Domain, identity.OrgName, string(identity.Status),
		identity.SigningKeyPublic, identity.EncryptedPrivateKey.Ciphertext, identity.EncryptedPrivateKey.Nonce,
		accounts, suppliers, identity.RegisteredAt, identity.LastError, identity.LastAttemptAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, did models.DID) (models.IssuerIdentity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT did, domain, org_name, status, signing_key_public, encrypted_private_key, key_nonce,
		       authorized_accounts, trusted_suppliers, registered_at, last_error, last_attempt_at
		FROM issuer_identities WHERE did = $1`, did.String())

	var (
		identity  models.IssuerIdentity
		didStr    string
		status    string
		accounts  []byte
		suppliers []byte
	)
	err := row.Scan(&didStr, &identity.Domain, &identity.OrgName, &status,
		&identity.SigningKeyPublic, &identity.EncryptedPrivateKey.Ciphertext, &identity.EncryptedPrivateKey.Nonce,
		&accounts, &suppliers, &identity.RegisteredAt, &identity.LastError, &identity.LastAttemptAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.IssuerIdentity{}, sentinel.ErrNotFound
		}
		return models.IssuerIdentity{}, fmt.Errorf("get identity: %w", err)
	}

	identity.DID = models.DID(didStr)
	identity.Status = models.Status(status)
	if err := json.Unmarshal(accounts, &identity.AuthorizedAccounts); err != nil {
		return models.IssuerIdentity{}, fmt.Errorf("unmarshal authorized accounts: %w", err)
	}
	if err := json.Unmarshal(suppliers, &identity.TrustedSupplierDIDs); err != nil {
		return models.IssuerIdentity{}, fmt.Errorf("unmarshal trusted suppliers: %w", err)
	}
	return identity, nil
}

func (s *PostgresStore) RecordVerification(ctx context.Context, did models.DID, status models.Status, lastError string, attemptAt time.Time) error {
	// Last-writer-wins on attempt time: the WHERE clause drops stale writers
	// without touching key material, so concurrent attempts cannot corrupt
	// the record.
	res, err := s.db.ExecContext(ctx, `
		UPDATE issuer_identities
		SET status = $2, last_error = $3, last_attempt_at = $4
		WHERE did = $1 AND last_attempt_at <= $4`,
		did.String(), string(status), lastError, attemptAt)
	if err != nil {
		return fmt.Errorf("record verification: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record verification: %w", err)
	}
	if rows == 0 {
		// Either unknown DID or a newer attempt already landed. Distinguish.
		if _, err := s.Get(ctx, did); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) AddAuthorizedAccount(ctx context.Context, did models.DID, account models.LedgerAccount) error {
	entry, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE issuer_identities
		SET authorized_accounts = authorized_accounts || $2::jsonb
		WHERE did = $1 AND NOT authorized_accounts @> $2::jsonb`,
		did.String(), "["+string(entry)+"]")
	if err != nil {
		return fmt.Errorf("add authorized account: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		if _, err := s.Get(ctx, did); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) AddTrustedSupplier(ctx context.Context, did models.DID, supplier models.DID) error {
	entry, err := json.Marshal(supplier)
	if err != nil {
		return fmt.Errorf("marshal supplier: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE issuer_identities
		SET trusted_suppliers = trusted_suppliers || $2::jsonb
		WHERE did = $1 AND NOT trusted_suppliers @> $2::jsonb`,
		did.String(), "["+string(entry)+"]")
	if err != nil {
		return fmt.Errorf("add trusted supplier: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		if _, err := s.Get(ctx, did); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) RemoveTrustedSupplier(ctx context.Context, did models.DID, supplier models.DID) error {
	entry, err := json.Marshal(supplier)
	if err != nil {
		return fmt.Errorf("marshal supplier: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE issuer_identities
		SET trusted_suppliers = (
			SELECT COALESCE(jsonb_agg(elem), '[]'::jsonb)
			FROM jsonb_array_elements(trusted_suppliers) elem
			WHERE elem <> $2::jsonb
		)
		WHERE did = $1`,
		did.String(), string(entry))
	if err != nil {
		return fmt.Errorf("remove trusted supplier: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*InMemoryStore)(nil)
)
