// Package store persists MetadataEnvelopes and their external helper
// records in SQLite, for decdidctl's external-helper-storage demo. The
// C1-C6 core itself is storage-agnostic; it only produces and consumes
// []byte/JSON values.
package store

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"decdid/internal/devicebind"
	"decdid/internal/didderive"
)

// Schema for the helper-record store. WAL mode trades a small amount of
// write latency for readers that never block behind an in-flight enroll.
const schema = `
CREATE TABLE IF NOT EXISTS identities (
    did         TEXT PRIMARY KEY,
    envelope    TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    revoked     INTEGER NOT NULL DEFAULT 0,
    revoked_at  TEXT,
    encrypted   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS helper_records (
    did         TEXT NOT NULL REFERENCES identities(did),
    finger_id   TEXT NOT NULL,
    record_json TEXT NOT NULL,
    PRIMARY KEY (did, finger_id)
);

CREATE INDEX IF NOT EXISTS idx_helper_records_did ON helper_records(did);
`

// ErrNotFound is returned when a DID has no stored identity.
var ErrNotFound = errors.New("store: identity not found")

// Store is the SQLite-backed envelope/helper-record store. Every envelope
// write goes through an append-only, fsynced WAL record before the SQLite
// upsert commits, and -- when a device-bound Provider is attached -- the
// envelope blob is sealed under that provider's key at rest.
type Store struct {
	db       *sql.DB
	wal      *envelopeWAL
	provider devicebind.Provider
}

// Open opens or creates the SQLite database at path and its companion WAL
// file (path+".wal"), applying the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	wal, err := openEnvelopeWAL(path + ".wal")
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, wal: wal}, nil
}

// SetProvider attaches a device-bound key-wrapping provider. When set,
// PutIdentity seals the envelope blob under it before it reaches disk and
// GetEnvelope unseals it on the way back out. A nil or unavailable provider
// leaves envelopes stored in plaintext, matching the teacher's own
// TPM-present/absent fallback in internal/tpm.
func (s *Store) SetProvider(p devicebind.Provider) {
	s.provider = p
}

// Close closes the underlying database connection and WAL file.
func (s *Store) Close() error {
	var errs []error
	if s.wal != nil {
		if err := s.wal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// PutIdentity stores a newly enrolled envelope along with its external
// helper records, splitting HelperData out of the envelope (so the envelope
// on disk matches what HelperStorageExternal mode serializes on the wire)
// and into its own table, one row per finger.
func (s *Store) PutIdentity(env *didderive.MetadataEnvelope, helperData map[string]didderive.HelperRecordJSON) (err error) {
	stored := *env
	stored.Biometric.HelperData = nil
	envJSON, err := stored.MarshalCanonical()
	if err != nil {
		return fmt.Errorf("store: marshal envelope: %w", err)
	}

	envBlob := string(envJSON)
	encrypted := 0
	if s.provider != nil && s.provider.Available() {
		sealed, werr := s.provider.Wrap(envJSON)
		if werr != nil {
			return fmt.Errorf("store: sealing envelope: %w", werr)
		}
		envBlob = base64.StdEncoding.EncodeToString(sealed)
		encrypted = 1
	}

	// Append-only WAL record first, fsynced, so the write survives a crash
	// between here and the SQLite commit below.
	if err := s.wal.append(env.DID, []byte(envBlob)); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(
		`INSERT INTO identities (did, envelope, created_at, revoked, revoked_at, encrypted) VALUES (?, ?, ?, ?, ?, ?)`,
		env.DID, envBlob, time.Now().Unix(), boolToInt(env.Revoked), env.RevokedAt, encrypted,
	); err != nil {
		return fmt.Errorf("store: insert identity: %w", err)
	}

	for fingerID, rec := range helperData {
		recJSON, merr := json.Marshal(rec)
		if merr != nil {
			err = fmt.Errorf("store: marshal helper record for %s: %w", fingerID, merr)
			return err
		}
		if _, err = tx.Exec(
			`INSERT INTO helper_records (did, finger_id, record_json) VALUES (?, ?, ?)`,
			env.DID, fingerID, string(recJSON),
		); err != nil {
			return fmt.Errorf("store: insert helper record for %s: %w", fingerID, err)
		}
	}

	return tx.Commit()
}

// GetEnvelope loads the stored envelope for did, with HelperData populated
// from the helper_records table (reassembling what HelperStorageExternal
// mode expects the caller to attach before calling Verify).
func (s *Store) GetEnvelope(did string) (*didderive.MetadataEnvelope, error) {
	row := s.db.QueryRow(`SELECT envelope, revoked, revoked_at, encrypted FROM identities WHERE did = ?`, did)
	var envBlob string
	var revoked, encrypted int
	var revokedAt sql.NullString
	if err := row.Scan(&envBlob, &revoked, &revokedAt, &encrypted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: query envelope: %w", err)
	}

	envJSON := []byte(envBlob)
	if encrypted != 0 {
		if s.provider == nil {
			return nil, fmt.Errorf("store: envelope for %s is device-bound sealed but no provider is attached", did)
		}
		sealed, derr := base64.StdEncoding.DecodeString(envBlob)
		if derr != nil {
			return nil, fmt.Errorf("store: decoding sealed envelope: %w", derr)
		}
		opened, uerr := s.provider.Unwrap(sealed)
		if uerr != nil {
			return nil, fmt.Errorf("store: unsealing envelope: %w", uerr)
		}
		envJSON = opened
	}

	env, err := didderive.ParseEnvelope(envJSON)
	if err != nil {
		return nil, fmt.Errorf("store: parsing stored envelope: %w", err)
	}
	// The identities row is the source of truth for revocation state:
	// Revoke updates it in place rather than rewriting the stored envelope
	// blob, so it must be overlaid back onto the parsed envelope here.
	env.Revoked = revoked != 0
	env.RevokedAt = revokedAt.String

	rows, err := s.db.Query(`SELECT finger_id, record_json FROM helper_records WHERE did = ?`, did)
	if err != nil {
		return nil, fmt.Errorf("store: query helper records: %w", err)
	}
	defer rows.Close()

	helperData := make(map[string]didderive.HelperRecordJSON)
	for rows.Next() {
		var fingerID, recJSON string
		if err := rows.Scan(&fingerID, &recJSON); err != nil {
			return nil, fmt.Errorf("store: scan helper record: %w", err)
		}
		var rec didderive.HelperRecordJSON
		if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
			return nil, fmt.Errorf("store: unmarshal helper record for %s: %w", fingerID, err)
		}
		helperData[fingerID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	env.Biometric.HelperData = helperData
	return env, nil
}

// Revoke marks did as revoked as of revokedAt (RFC 3339).
func (s *Store) Revoke(did, revokedAt string) error {
	res, err := s.db.Exec(`UPDATE identities SET revoked = 1, revoked_at = ? WHERE did = ?`, revokedAt, did)
	if err != nil {
		return fmt.Errorf("store: revoke: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
