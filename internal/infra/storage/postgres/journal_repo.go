package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/reactor/internal/core/domain"
	"github.com/vietddude/reactor/internal/infra/storage"
)

// JournalRepo implements storage.JournalRepository using PostgreSQL.
type JournalRepo struct {
	db *DB
}

var _ storage.JournalRepository = (*JournalRepo)(nil)

// NewJournalRepo creates a new PostgreSQL execution journal.
func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

type attemptRow struct {
	ID            string         `db:"id"`
	RuleID        string         `db:"rule_id"`
	Observed      sql.NullString `db:"observed"`
	ObservedBlock int64          `db:"observed_block"`
	TxHash        sql.NullString `db:"tx_hash"`
	Error         sql.NullString `db:"error"`
	Attempts      int            `db:"attempts"`
	StartedAt     time.Time      `db:"started_at"`
	FinishedAt    time.Time      `db:"finished_at"`
}

func toRow(a *domain.ExecutionAttempt) attemptRow {
	row := attemptRow{
		ID:            a.ID,
		RuleID:        a.RuleID.String(),
		ObservedBlock: int64(a.ObservedBlock),
		Attempts:      a.Attempts,
		StartedAt:     a.StartedAt,
		FinishedAt:    a.FinishedAt,
	}
	if a.Observed != nil {
		row.Observed = sql.NullString{String: a.Observed.String(), Valid: true}
	}
	if a.TxHash != (common.Hash{}) {
		row.TxHash = sql.NullString{String: a.TxHash.Hex(), Valid: true}
	}
	if a.Err != "" {
		row.Error = sql.NullString{String: a.Err, Valid: true}
	}
	return row
}

func (r attemptRow) toDomain() (*domain.ExecutionAttempt, error) {
	id, ok := new(big.Int).SetString(r.RuleID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid rule id %q", r.RuleID)
	}
	ruleID, err := domain.RuleIDFromBig(id)
	if err != nil {
		return nil, err
	}

	a := &domain.ExecutionAttempt{
		ID:            r.ID,
		RuleID:        ruleID,
		ObservedBlock: uint64(r.ObservedBlock),
		Err:           r.Error.String,
		Attempts:      r.Attempts,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
	if r.Observed.Valid {
		v, ok := new(big.Int).SetString(r.Observed.String, 10)
		if !ok {
			return nil, fmt.Errorf("invalid observed value %q", r.Observed.String)
		}
		a.Observed = v
	}
	if r.TxHash.Valid {
		a.TxHash = common.HexToHash(r.TxHash.String)
	}
	return a, nil
}

// Append records a finished attempt.
func (r *JournalRepo) Append(ctx context.Context, attempt *domain.ExecutionAttempt) error {
	query := `
		INSERT INTO execution_attempts
			(id, rule_id, observed, observed_block, tx_hash, error, attempts, started_at, finished_at)
		VALUES
			(:id, CAST(:rule_id AS NUMERIC), CAST(:observed AS NUMERIC), :observed_block,
			 :tx_hash, :error, :attempts, :started_at, :finished_at)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.NamedExecContext(ctx, query, toRow(attempt)); err != nil {
		return fmt.Errorf("failed to append execution attempt: %w", err)
	}
	return nil
}

// List returns attempts, newest first.
func (r *JournalRepo) List(ctx context.Context, filter storage.JournalFilter) ([]*domain.ExecutionAttempt, error) {
	query := `
		SELECT id::text, rule_id::text, observed::text, observed_block, tx_hash, error,
		       attempts, started_at, finished_at
		FROM execution_attempts
	`
	args := []any{}
	if filter.RuleID != nil {
		query += ` WHERE rule_id = CAST($1 AS NUMERIC)`
		args = append(args, filter.RuleID.String())
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT %d`, filter.EffectiveLimit())

	var rows []attemptRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list execution attempts: %w", err)
	}

	attempts := make([]*domain.ExecutionAttempt, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("failed to decode execution attempt %s: %w", row.ID, err)
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

// DeleteOlderThan drops attempts started before cutoff.
func (r *JournalRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM execution_attempts WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune execution attempts: %w", err)
	}
	return res.RowsAffected()
}
