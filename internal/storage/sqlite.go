package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/lime-node/internal/lime"
)

// SQLiteStore is a SQLite-backed EnvelopeStorage, for deployments that need
// stored envelopes to survive a node restart.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// its schema migration.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS envelopes (
			identity   TEXT    NOT NULL,
			id         TEXT    NOT NULL,
			kind       TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			seq        INTEGER NOT NULL,
			PRIMARY KEY (identity, id)
		);
		CREATE INDEX IF NOT EXISTS idx_envelopes_identity_seq ON envelopes(identity, seq);
	`)
	return err
}

// Store appends envelope under identity, generating an id if the envelope
// did not carry one. A re-store of an existing id overwrites the envelope
// in place without changing its position in GetIDs order.
func (s *SQLiteStore) Store(ctx context.Context, identity lime.Identity, envelope lime.AnyEnvelope) (string, error) {
	id := envelopeID(envelope)
	if id == "" {
		id = newEnvelopeID()
	}

	stored, err := encodeStoredEnvelope(envelope)
	if err != nil {
		return "", err
	}

	var seq int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM envelopes WHERE identity = ?
	`, identity.String()).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("storage: allocate sequence: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO envelopes (identity, id, kind, data, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity, id) DO UPDATE SET kind = excluded.kind, data = excluded.data
	`, identity.String(), id, stored.Kind, string(stored.Data), seq)
	if err != nil {
		return "", fmt.Errorf("storage: insert envelope: %w", err)
	}

	return id, nil
}

// GetIDs returns identity's stored ids ordered by insertion sequence.
func (s *SQLiteStore) GetIDs(ctx context.Context, identity lime.Identity) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM envelopes WHERE identity = ? ORDER BY seq ASC
	`, identity.String())
	if err != nil {
		return nil, fmt.Errorf("storage: query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Get returns the envelope stored under identity/id.
func (s *SQLiteStore) Get(ctx context.Context, identity lime.Identity, id string) (lime.AnyEnvelope, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT kind, data FROM envelopes WHERE identity = ? AND id = ?
	`, identity.String(), id)

	var stored storedEnvelope
	var data string
	if err := row.Scan(&stored.Kind, &data); err != nil {
		if err == sql.ErrNoRows {
			return nil, lime.ErrStorage
		}
		return nil, fmt.Errorf("storage: scan envelope: %w", err)
	}
	stored.Data = []byte(data)

	return decodeStoredEnvelope(stored)
}

// Delete removes the envelope stored under identity/id.
func (s *SQLiteStore) Delete(ctx context.Context, identity lime.Identity, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM envelopes WHERE identity = ? AND id = ?
	`, identity.String(), id)
	if err != nil {
		return false, fmt.Errorf("storage: delete envelope: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: rows affected: %w", err)
	}
	return affected > 0, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
