package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/GoPolymarket/polyguard/internal/model"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
    key     TEXT PRIMARY KEY,
    value   BLOB    NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS nonces (
    address TEXT PRIMARY KEY,
    base    INTEGER NOT NULL,
    next    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nonce_used (
    address TEXT    NOT NULL,
    nonce   INTEGER NOT NULL,
    PRIMARY KEY (address, nonce)
);

CREATE TABLE IF NOT EXISTS tx_journal (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    submission   TEXT    NOT NULL,
    address      TEXT    NOT NULL,
    nonce        INTEGER NOT NULL,
    attempt      INTEGER NOT NULL,
    state        TEXT    NOT NULL,
    tx_hash      TEXT,
    max_fee_wei  TEXT,
    tip_wei      TEXT,
    gas_limit    INTEGER NOT NULL DEFAULT 0,
    block_number INTEGER NOT NULL DEFAULT 0,
    error        TEXT,
    created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_submission ON tx_journal(submission);
`

// SQLiteStore 单机持久化存储 (pure Go, 无 CGo)
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" works for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) getKV(ctx context.Context, key string) ([]byte, int64, error) {
	var data []byte
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT value, version FROM kv WHERE key = ?`, key).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	return data, version, err
}

// casKV applies fn to the stored value and writes it back only if the version
// is unchanged; version 0 means the row does not exist yet.
func (s *SQLiteStore) casKV(ctx context.Context, key string, fn func(data []byte) ([]byte, error)) error {
	for i := 0; i < maxCASRetries; i++ {
		data, version, err := s.getKV(ctx, key)
		if err != nil {
			return err
		}
		out, err := fn(data)
		if err != nil {
			return err
		}

		var res sql.Result
		if version == 0 {
			res, err = s.db.ExecContext(ctx,
				`INSERT INTO kv (key, value, version) VALUES (?, ?, 1) ON CONFLICT(key) DO NOTHING`, key, out)
		} else {
			res, err = s.db.ExecContext(ctx,
				`UPDATE kv SET value = ?, version = version + 1 WHERE key = ? AND version = ?`, out, key, version)
		}
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
	}
	return ErrConflict
}

func (s *SQLiteStore) GetBotState(ctx context.Context, botID int) (model.BotRiskState, error) {
	data, _, err := s.getKV(ctx, botKey(botID))
	if err != nil {
		return model.BotRiskState{}, err
	}
	st := model.NewBotRiskState(botID)
	if data == nil {
		return st, nil
	}
	if err := decode(data, &st); err != nil {
		return model.BotRiskState{}, fmt.Errorf("decode bot state %d: %w", botID, err)
	}
	return st, nil
}

func (s *SQLiteStore) UpdateBotState(ctx context.Context, botID int, fn func(*model.BotRiskState) error) (model.BotRiskState, error) {
	var result model.BotRiskState
	err := s.casKV(ctx, botKey(botID), func(data []byte) ([]byte, error) {
		st := model.NewBotRiskState(botID)
		if data != nil {
			if err := decode(data, &st); err != nil {
				return nil, err
			}
		}
		if err := fn(&st); err != nil {
			return nil, err
		}
		st.UpdatedAt = time.Now().UTC()
		result = st
		return encode(st)
	})
	return result, err
}

func (s *SQLiteStore) ListBotStates(ctx context.Context) ([]model.BotRiskState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT value FROM kv WHERE key LIKE 'circuit_breaker:bot:%'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BotRiskState
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var st model.BotRiskState
		if err := decode(data, &st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotID < out[j].BotID })
	return out, rows.Err()
}

func (s *SQLiteStore) GetPortfolioState(ctx context.Context) (model.PortfolioRiskState, error) {
	var st model.PortfolioRiskState
	data, _, err := s.getKV(ctx, portfolioKey)
	if err != nil || data == nil {
		return st, err
	}
	if err := decode(data, &st); err != nil {
		return st, fmt.Errorf("decode portfolio state: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) UpdatePortfolioState(ctx context.Context, fn func(*model.PortfolioRiskState) error) (model.PortfolioRiskState, error) {
	var result model.PortfolioRiskState
	err := s.casKV(ctx, portfolioKey, func(data []byte) ([]byte, error) {
		var st model.PortfolioRiskState
		if data != nil {
			if err := decode(data, &st); err != nil {
				return nil, err
			}
		}
		if err := fn(&st); err != nil {
			return nil, err
		}
		st.UpdatedAt = time.Now().UTC()
		result = st
		return encode(st)
	})
	return result, err
}

func (s *SQLiteStore) LoadLedger(ctx context.Context) (model.LedgerSnapshot, bool, error) {
	var snap model.LedgerSnapshot
	data, _, err := s.getKV(ctx, ledgerKey)
	if err != nil || data == nil {
		return snap, false, err
	}
	if err := decode(data, &snap); err != nil {
		return snap, false, fmt.Errorf("decode ledger: %w", err)
	}
	return snap, true, nil
}

func (s *SQLiteStore) SaveLedger(ctx context.Context, snap model.LedgerSnapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, version) VALUES (?, ?, 1)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, version = kv.version + 1`,
		ledgerKey, data)
	return err
}

func (s *SQLiteStore) SeedNonce(ctx context.Context, address string, next uint64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO nonces (address, base, next) VALUES (?, ?, ?) ON CONFLICT(address) DO NOTHING`,
		address, int64(next), int64(next))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ClaimNonce advances the counter with a single UPDATE ... RETURNING.
func (s *SQLiteStore) ClaimNonce(ctx context.Context, address string) (uint64, bool, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE nonces SET next = next + 1 WHERE address = ? RETURNING next`, address).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(next - 1), true, nil
}

func (s *SQLiteStore) MarkNonceUsed(ctx context.Context, address string, nonce uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nonce_used (address, nonce) VALUES (?, ?) ON CONFLICT DO NOTHING`, address, int64(nonce))
	return err
}

func (s *SQLiteStore) GetNonceRecord(ctx context.Context, address string) (model.NonceRecord, bool, error) {
	rec := model.NonceRecord{Address: address}
	var base, next int64
	err := s.db.QueryRowContext(ctx, `SELECT base, next FROM nonces WHERE address = ?`, address).Scan(&base, &next)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	rec.Base, rec.Next = uint64(base), uint64(next)

	rows, err := s.db.QueryContext(ctx, `SELECT nonce FROM nonce_used WHERE address = ? ORDER BY nonce`, address)
	if err != nil {
		return rec, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return rec, false, err
		}
		rec.Used = append(rec.Used, uint64(n))
	}
	return rec, true, rows.Err()
}

func (s *SQLiteStore) ResetNonce(ctx context.Context, address string, next uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO nonces (address, base, next) VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET base = excluded.base, next = excluded.next`,
		address, int64(next), int64(next)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM nonce_used WHERE address = ? AND nonce < ?`, address, int64(next)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveTxRecord(ctx context.Context, rec model.TxRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tx_journal (submission, address, nonce, attempt, state, tx_hash, max_fee_wei, tip_wei, gas_limit, block_number, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Address, int64(rec.Nonce), rec.Attempt, string(rec.State), rec.Hash,
		rec.MaxFeeWei, rec.TipWei, int64(rec.GasLimit), int64(rec.BlockNumber), rec.Error, rec.CreatedAt.UTC())
	return err
}

func (s *SQLiteStore) ListTxRecords(ctx context.Context, limit int) ([]model.TxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT submission, address, nonce, attempt, state, COALESCE(tx_hash, ''), COALESCE(max_fee_wei, ''),
		       COALESCE(tip_wei, ''), gas_limit, block_number, COALESCE(error, ''), created_at
		FROM tx_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TxRecord
	for rows.Next() {
		var rec model.TxRecord
		var nonce, gasLimit, block int64
		var state string
		if err := rows.Scan(&rec.ID, &rec.Address, &nonce, &rec.Attempt, &state, &rec.Hash, &rec.MaxFeeWei,
			&rec.TipWei, &gasLimit, &block, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Nonce, rec.GasLimit, rec.BlockNumber = uint64(nonce), uint64(gasLimit), uint64(block)
		rec.State = model.TxState(state)
		out = append(out, rec)
	}
	return out, rows.Err()
}
