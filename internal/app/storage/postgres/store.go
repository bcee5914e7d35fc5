package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NStream-Network/stream_layer/internal/app/domain/account"
	"github.com/NStream-Network/stream_layer/internal/app/domain/fee"
	"github.com/NStream-Network/stream_layer/internal/app/domain/stream"
	"github.com/NStream-Network/stream_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.StreamStore = (*Store)(nil)
var _ storage.TransferStore = (*Store)(nil)
var _ storage.FeeStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stream_accounts (
			owner           TEXT PRIMARY KEY,
			storage_deposit BIGINT NOT NULL DEFAULT 0,
			storage_used    BIGINT NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS streams (
			id               BIGSERIAL PRIMARY KEY,
			sender           TEXT NOT NULL,
			receiver         TEXT NOT NULL,
			asset            TEXT NOT NULL,
			rate             BIGINT NOT NULL,
			deposited        BIGINT NOT NULL,
			balance          BIGINT NOT NULL,
			withdrawn_amount BIGINT NOT NULL DEFAULT 0,
			start_time       BIGINT NOT NULL,
			end_time         BIGINT NOT NULL,
			withdraw_time    BIGINT NOT NULL,
			paused_time      BIGINT NOT NULL DEFAULT 0,
			is_paused        BOOLEAN NOT NULL DEFAULT FALSE,
			is_cancelled     BOOLEAN NOT NULL DEFAULT FALSE,
			locked           BOOLEAN NOT NULL DEFAULT FALSE,
			can_pause        BOOLEAN NOT NULL,
			can_cancel       BOOLEAN NOT NULL,
			can_update       BOOLEAN NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS streams_sender_idx ON streams (sender)`,
		`CREATE INDEX IF NOT EXISTS streams_receiver_idx ON streams (receiver)`,
		`CREATE TABLE IF NOT EXISTS stream_transfers (
			id                   TEXT PRIMARY KEY,
			stream_id            TEXT NOT NULL,
			kind                 TEXT NOT NULL,
			asset                TEXT NOT NULL,
			recipient            TEXT NOT NULL,
			amount               BIGINT NOT NULL,
			fee_amount           BIGINT NOT NULL DEFAULT 0,
			revert_balance       BIGINT NOT NULL DEFAULT 0,
			revert_withdraw_time BIGINT NOT NULL DEFAULT 0,
			revert_withdrawn     BIGINT NOT NULL DEFAULT 0,
			revert_cancelled     BOOLEAN NOT NULL DEFAULT FALSE,
			status               TEXT NOT NULL,
			failure              TEXT NOT NULL DEFAULT '',
			created_at           TIMESTAMPTZ NOT NULL,
			updated_at           TIMESTAMPTZ NOT NULL,
			resolved_at          TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS stream_transfers_stream_idx ON stream_transfers (stream_id)`,
		`CREATE INDEX IF NOT EXISTS stream_transfers_status_idx ON stream_transfers (status)`,
		`CREATE TABLE IF NOT EXISTS fee_balances (
			asset      TEXT PRIMARY KEY,
			amount     BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_accounts (owner, storage_deposit, storage_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, acct.Owner, acct.StorageDeposit, acct.StorageUsed, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	acct.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE stream_accounts
		SET storage_deposit = $2, storage_used = $3, updated_at = $4
		WHERE owner = $1
	`, acct.Owner, acct.StorageDeposit, acct.StorageUsed, acct.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return account.Account{}, sql.ErrNoRows
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, owner string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner, storage_deposit, storage_used, created_at, updated_at
		FROM stream_accounts
		WHERE owner = $1
	`, owner)

	var acct account.Account
	if err := row.Scan(&acct.Owner, &acct.StorageDeposit, &acct.StorageUsed, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]account.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner, storage_deposit, storage_used, created_at, updated_at
		FROM stream_accounts
		ORDER BY owner
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []account.Account
	for rows.Next() {
		var acct account.Account
		if err := rows.Scan(&acct.Owner, &acct.StorageDeposit, &acct.StorageUsed, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

// --- StreamStore ------------------------------------------------------------

const streamColumns = `id::text, sender, receiver, asset, rate, deposited, balance, withdrawn_amount,
	start_time, end_time, withdraw_time, paused_time,
	is_paused, is_cancelled, locked, can_pause, can_cancel, can_update,
	created_at, updated_at`

func scanStream(scanner interface{ Scan(...any) error }) (stream.Stream, error) {
	var st stream.Stream
	err := scanner.Scan(
		&st.ID, &st.Sender, &st.Receiver, &st.Asset, &st.Rate, &st.Deposited, &st.Balance, &st.WithdrawnAmount,
		&st.StartTime, &st.EndTime, &st.WithdrawTime, &st.PausedTime,
		&st.IsPaused, &st.IsCancelled, &st.Locked, &st.CanPause, &st.CanCancel, &st.CanUpdate,
		&st.CreatedAt, &st.UpdatedAt,
	)
	return st, err
}

func (s *Store) CreateStream(ctx context.Context, st stream.Stream) (stream.Stream, error) {
	if st.ID != "" {
		return stream.Stream{}, fmt.Errorf("stream ids are store-assigned")
	}
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO streams (sender, receiver, asset, rate, deposited, balance, withdrawn_amount,
			start_time, end_time, withdraw_time, paused_time,
			is_paused, is_cancelled, locked, can_pause, can_cancel, can_update,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id::text
	`, st.Sender, st.Receiver, string(st.Asset), st.Rate, st.Deposited, st.Balance, st.WithdrawnAmount,
		st.StartTime, st.EndTime, st.WithdrawTime, st.PausedTime,
		st.IsPaused, st.IsCancelled, st.Locked, st.CanPause, st.CanCancel, st.CanUpdate,
		st.CreatedAt, st.UpdatedAt)

	if err := row.Scan(&st.ID); err != nil {
		return stream.Stream{}, err
	}
	return st, nil
}

func (s *Store) UpdateStream(ctx context.Context, st stream.Stream) (stream.Stream, error) {
	st.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE streams
		SET rate = $2, deposited = $3, balance = $4, withdrawn_amount = $5,
			start_time = $6, end_time = $7, withdraw_time = $8, paused_time = $9,
			is_paused = $10, is_cancelled = $11, locked = $12, updated_at = $13
		WHERE id = $1::bigint
	`, st.ID, st.Rate, st.Deposited, st.Balance, st.WithdrawnAmount,
		st.StartTime, st.EndTime, st.WithdrawTime, st.PausedTime,
		st.IsPaused, st.IsCancelled, st.Locked, st.UpdatedAt)
	if err != nil {
		return stream.Stream{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return stream.Stream{}, sql.ErrNoRows
	}
	return st, nil
}

func (s *Store) GetStream(ctx context.Context, id string) (stream.Stream, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+streamColumns+`
		FROM streams
		WHERE id = $1::bigint
	`, id)
	return scanStream(row)
}

func (s *Store) ListStreams(ctx context.Context, party string, offset, limit int) ([]stream.Stream, error) {
	if offset < 0 {
		offset = 0
	}

	// limit <= 0 means unbounded, matching the in-memory store.
	var boundedLimit any
	if limit > 0 {
		boundedLimit = limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+streamColumns+`
		FROM streams
		WHERE $1 = '' OR sender = $1 OR receiver = $1
		ORDER BY id
		OFFSET $2 LIMIT $3
	`, party, offset, boundedLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []stream.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func (s *Store) DeleteStream(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM streams WHERE id = $1::bigint`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- TransferStore ----------------------------------------------------------

func (s *Store) CreateTransfer(ctx context.Context, t stream.Transfer) (stream.Transfer, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	var resolved *time.Time
	if !t.ResolvedAt.IsZero() {
		resolved = &t.ResolvedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_transfers (id, stream_id, kind, asset, recipient, amount, fee_amount,
			revert_balance, revert_withdraw_time, revert_withdrawn, revert_cancelled,
			status, failure, created_at, updated_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, t.ID, t.StreamID, string(t.Kind), string(t.Asset), t.Recipient, t.Amount, t.FeeAmount,
		t.RevertBalance, t.RevertWithdrawTime, t.RevertWithdrawn, t.RevertCancelled,
		string(t.Status), t.Failure, t.CreatedAt, t.UpdatedAt, resolved)
	if err != nil {
		return stream.Transfer{}, err
	}
	return t, nil
}

func (s *Store) UpdateTransfer(ctx context.Context, t stream.Transfer) (stream.Transfer, error) {
	t.UpdatedAt = time.Now().UTC()

	var resolved *time.Time
	if !t.ResolvedAt.IsZero() {
		resolved = &t.ResolvedAt
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE stream_transfers
		SET status = $2, failure = $3, updated_at = $4, resolved_at = $5
		WHERE id = $1
	`, t.ID, string(t.Status), t.Failure, t.UpdatedAt, resolved)
	if err != nil {
		return stream.Transfer{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return stream.Transfer{}, sql.ErrNoRows
	}
	return t, nil
}

const transferColumns = `id, stream_id, kind, asset, recipient, amount, fee_amount,
	revert_balance, revert_withdraw_time, revert_withdrawn, revert_cancelled,
	status, failure, created_at, updated_at, resolved_at`

func scanTransfer(scanner interface{ Scan(...any) error }) (stream.Transfer, error) {
	var (
		t        stream.Transfer
		resolved sql.NullTime
	)
	err := scanner.Scan(
		&t.ID, &t.StreamID, &t.Kind, &t.Asset, &t.Recipient, &t.Amount, &t.FeeAmount,
		&t.RevertBalance, &t.RevertWithdrawTime, &t.RevertWithdrawn, &t.RevertCancelled,
		&t.Status, &t.Failure, &t.CreatedAt, &t.UpdatedAt, &resolved,
	)
	if resolved.Valid {
		t.ResolvedAt = resolved.Time
	}
	return t, err
}

func (s *Store) GetTransfer(ctx context.Context, id string) (stream.Transfer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transferColumns+`
		FROM stream_transfers
		WHERE id = $1
	`, id)
	return scanTransfer(row)
}

func (s *Store) ListTransfers(ctx context.Context, streamID string) ([]stream.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transferColumns+`
		FROM stream_transfers
		WHERE stream_id = $1
		ORDER BY created_at
	`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

func (s *Store) ListPendingTransfers(ctx context.Context) ([]stream.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transferColumns+`
		FROM stream_transfers
		WHERE status = $1
		ORDER BY created_at
	`, string(stream.StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

func collectTransfers(rows *sql.Rows) ([]stream.Transfer, error) {
	var result []stream.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// --- FeeStore ---------------------------------------------------------------

func (s *Store) CreditFee(ctx context.Context, asset string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("fee credit cannot be negative")
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO fee_balances (asset, amount, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (asset) DO UPDATE
		SET amount = fee_balances.amount + EXCLUDED.amount, updated_at = EXCLUDED.updated_at
		RETURNING amount
	`, asset, amount, time.Now().UTC())

	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) DebitFee(ctx context.Context, asset string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("fee debit cannot be negative")
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE fee_balances
		SET amount = amount - $2, updated_at = $3
		WHERE asset = $1 AND amount >= $2
		RETURNING amount
	`, asset, amount, time.Now().UTC())

	var total int64
	if err := row.Scan(&total); err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("insufficient fee balance for %s", asset)
		}
		return 0, err
	}
	return total, nil
}

func (s *Store) GetFeeBalance(ctx context.Context, asset string) (fee.Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT asset, amount, updated_at FROM fee_balances WHERE asset = $1
	`, asset)

	var bal fee.Balance
	if err := row.Scan(&bal.Asset, &bal.Amount, &bal.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return fee.Balance{Asset: asset}, nil
		}
		return fee.Balance{}, err
	}
	return bal, nil
}

func (s *Store) ListFeeBalances(ctx context.Context) ([]fee.Balance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset, amount, updated_at FROM fee_balances ORDER BY asset
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []fee.Balance
	for rows.Next() {
		var bal fee.Balance
		if err := rows.Scan(&bal.Asset, &bal.Amount, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, bal)
	}
	return result, rows.Err()
}
