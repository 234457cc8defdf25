package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Acceso-dev/Acceso-x402/internal/facilitator"
	"github.com/Acceso-dev/Acceso-x402/internal/utils"
)

// SettlementDB persists settlement records for auditing and the admin API.
// The in-process ledger remains the idempotency authority, rows here are a
// write-behind journal of its transitions.
type SettlementDB struct {
	db     *sql.DB
	logger *utils.LogsManager
}

// NewSettlementDB creates the settlements table if needed
func NewSettlementDB(db *sql.DB, logger *utils.LogsManager) (*SettlementDB, error) {
	sdb := &SettlementDB{db: db, logger: logger}
	if err := sdb.initTable(); err != nil {
		return nil, err
	}
	return sdb, nil
}

func (sdb *SettlementDB) initTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS settlements (
		fingerprint TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		tx_signature TEXT,
		error_kind TEXT,
		detail TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		network TEXT NOT NULL,
		payer TEXT,
		amount INTEGER,
		first_seen_at INTEGER NOT NULL,
		deadline_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_settlements_status ON settlements(status);
	CREATE INDEX IF NOT EXISTS idx_settlements_updated ON settlements(updated_at);
	`
	if _, err := sdb.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create settlements table: %v", err)
	}
	return nil
}

// Upsert writes the current state of a settlement record
func (sdb *SettlementDB) Upsert(rec *facilitator.SettlementRecord) error {
	query := `
	INSERT INTO settlements
		(fingerprint, status, tx_signature, error_kind, detail, attempts, network, payer, amount, first_seen_at, deadline_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(fingerprint) DO UPDATE SET
		status = excluded.status,
		tx_signature = excluded.tx_signature,
		error_kind = excluded.error_kind,
		detail = excluded.detail,
		attempts = excluded.attempts,
		updated_at = excluded.updated_at
	`
	_, err := sdb.db.Exec(query,
		rec.Fingerprint, string(rec.Status), rec.TxSignature, string(rec.ErrorKind), rec.Detail,
		rec.Attempts, rec.Network, rec.Payer, rec.Amount,
		rec.FirstSeenAt.Unix(), rec.DeadlineAt.Unix(), rec.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert settlement %s: %v", rec.Fingerprint, err)
	}
	return nil
}

// GetByFingerprint loads one settlement record
func (sdb *SettlementDB) GetByFingerprint(fingerprint string) (*facilitator.SettlementRecord, error) {
	row := sdb.db.QueryRow(`
		SELECT fingerprint, status, tx_signature, error_kind, detail, attempts, network, payer, amount, first_seen_at, deadline_at, updated_at
		FROM settlements WHERE fingerprint = ?`, fingerprint)
	rec, err := scanSettlement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// List returns records ordered newest first, optionally filtered by status
func (sdb *SettlementDB) List(status string, limit, offset int) ([]*facilitator.SettlementRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT fingerprint, status, tx_signature, error_kind, detail, attempts, network, payer, amount, first_seen_at, deadline_at, updated_at
		FROM settlements`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY updated_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := sdb.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %v", err)
	}
	defer rows.Close()

	var out []*facilitator.SettlementRecord
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountByStatus returns how many records hold each status
func (sdb *SettlementDB) CountByStatus() (map[string]int, error) {
	rows, err := sdb.db.Query(`SELECT status, COUNT(*) FROM settlements GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count settlements: %v", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// PruneOlderThan removes terminal records last updated before the cutoff
func (sdb *SettlementDB) PruneOlderThan(cutoff time.Time) (int64, error) {
	res, err := sdb.db.Exec(`
		DELETE FROM settlements
		WHERE status IN ('Confirmed', 'Failed', 'Expired') AND updated_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune settlements: %v", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSettlement(row rowScanner) (*facilitator.SettlementRecord, error) {
	var rec facilitator.SettlementRecord
	var status, errorKind string
	var txSignature, detail, payer sql.NullString
	var amount sql.NullInt64
	var firstSeen, deadline, updated int64

	err := row.Scan(&rec.Fingerprint, &status, &txSignature, &errorKind, &detail,
		&rec.Attempts, &rec.Network, &payer, &amount,
		&firstSeen, &deadline, &updated)
	if err != nil {
		return nil, err
	}
	rec.FirstSeenAt = time.Unix(firstSeen, 0).UTC()
	rec.DeadlineAt = time.Unix(deadline, 0).UTC()
	rec.UpdatedAt = time.Unix(updated, 0).UTC()

	rec.Status = facilitator.SettlementStatus(status)
	rec.ErrorKind = facilitator.ErrorKind(errorKind)
	rec.TxSignature = txSignature.String
	rec.Detail = detail.String
	rec.Payer = payer.String
	if amount.Valid {
		rec.Amount = uint64(amount.Int64)
	}
	return &rec, nil
}
