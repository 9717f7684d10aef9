package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/streamforge/botfleet/crypto"
)

// ErrNotFound is returned when a tenant has no stored settings.
var ErrNotFound = errors.New("tenant settings not found")

// Store persists tenant settings snapshots in Postgres and appends a change
// record for every mutation. Bot credential fields are encrypted inside the
// JSON document when an encryptor is configured; rows written before
// encryption was enabled (encryption_version = 0) are read back as-is.
type Store struct {
	db         *sql.DB
	enc        crypto.Encryptor
	partitions int
}

// NewStore creates a store writing change records spread across the given
// number of feed partitions. enc may be nil, in which case credentials are
// stored in plaintext.
func NewStore(dbx *sql.DB, enc crypto.Encryptor, partitions int) *Store {
	if partitions < 1 {
		partitions = 1
	}
	return &Store{db: dbx, enc: enc, partitions: partitions}
}

// PartitionFor maps a tenant id onto a feed partition. All changes for one
// tenant land in the same partition so they are observed in order.
func PartitionFor(tenantID string, partitions int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tenantID))
	return int(h.Sum32() % uint32(partitions))
}

// Get loads one tenant's settings snapshot.
func (s *Store) Get(ctx context.Context, tenantID string) (*TenantSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT settings, is_active, COALESCE(encryption_version, 0) FROM tenant_settings WHERE tenant_id = $1`, tenantID)
	return s.scanRow(row)
}

// ScanActive loads every tenant marked active, for fleet startup.
func (s *Store) ScanActive(ctx context.Context) ([]*TenantSettings, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT settings, is_active, COALESCE(encryption_version, 0) FROM tenant_settings WHERE is_active ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("scan active tenants: %w", err)
	}
	defer rows.Close()
	var out []*TenantSettings
	for rows.Next() {
		ts, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan active tenants: %w", err)
	}
	return out, nil
}

// Persist writes the snapshot and its change record in one transaction so a
// feed consumer never observes a change without the settings it refers to.
func (s *Store) Persist(ctx context.Context, ts *TenantSettings) error {
	if ts.TenantID == "" {
		return fmt.Errorf("persist settings: tenant id empty")
	}
	stored := *ts
	encVersion := 0
	if s.enc != nil {
		encVersion = 1
		var err error
		if stored.BotOAuthToken, err = s.enc.EncryptString(stored.BotOAuthToken); err != nil {
			return fmt.Errorf("encrypt bot oauth token: %w", err)
		}
		if stored.BotRefreshToken, err = s.enc.EncryptString(stored.BotRefreshToken); err != nil {
			return fmt.Errorf("encrypt bot refresh token: %w", err)
		}
		if stored.LedgerJWT, err = s.enc.EncryptString(stored.LedgerJWT); err != nil {
			return fmt.Errorf("encrypt ledger jwt: %w", err)
		}
	}
	payload, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tenant_settings(tenant_id, settings, is_active, encryption_version, updated_at)
		 VALUES($1,$2,$3,$4,NOW())
		 ON CONFLICT(tenant_id) DO UPDATE SET
		   settings=EXCLUDED.settings,
		   is_active=EXCLUDED.is_active,
		   encryption_version=EXCLUDED.encryption_version,
		   updated_at=NOW()`,
		ts.TenantID, payload, ts.IsActive, encVersion)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	if err := s.appendChange(ctx, tx, ts.TenantID, ChangeUpsert); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persist tx: %w", err)
	}
	return nil
}

// Delete removes a tenant's settings and records a delete change.
func (s *Store) Delete(ctx context.Context, tenantID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tenant_settings WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("delete settings: %w", err)
	}
	if err := s.appendChange(ctx, tx, tenantID, ChangeDelete); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

func (s *Store) appendChange(ctx context.Context, tx *sql.Tx, tenantID string, ct ChangeType) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tenant_settings_changes(partition, tenant_id, change_type) VALUES($1,$2,$3)`,
		PartitionFor(tenantID, s.partitions), tenantID, string(ct))
	if err != nil {
		return fmt.Errorf("append change record: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRow(row rowScanner) (*TenantSettings, error) {
	var payload []byte
	var isActive bool
	var encVersion int
	if err := row.Scan(&payload, &isActive, &encVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan settings row: %w", err)
	}
	var ts TenantSettings
	if err := json.Unmarshal(payload, &ts); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	ts.IsActive = isActive
	if encVersion == 1 {
		if s.enc == nil {
			return nil, fmt.Errorf("settings for %s are encrypted but no encryption key is configured", ts.TenantID)
		}
		var err error
		if ts.BotOAuthToken, err = s.enc.DecryptString(ts.BotOAuthToken); err != nil {
			return nil, fmt.Errorf("decrypt bot oauth token: %w", err)
		}
		if ts.BotRefreshToken, err = s.enc.DecryptString(ts.BotRefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt bot refresh token: %w", err)
		}
		if ts.LedgerJWT, err = s.enc.DecryptString(ts.LedgerJWT); err != nil {
			return nil, fmt.Errorf("decrypt ledger jwt: %w", err)
		}
	}
	return &ts, nil
}
