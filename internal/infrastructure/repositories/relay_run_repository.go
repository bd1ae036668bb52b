package repositories

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
	"github.com/rail-service/payroll_relay/internal/domain/repositories"
)

const relayRunColumns = `id, plan_name, mode, source_chain_id, dest_chain_id, source_domain, state,
	source_tx_hash, dest_tx_hashes, gas_used, total_amount, failure_code, failure_reason,
	created_at, updated_at`

// RelayRunRepository implements the relay run journal on PostgreSQL
type RelayRunRepository struct {
	db *sqlx.DB
}

// NewRelayRunRepository creates a new relay run repository
func NewRelayRunRepository(db *sqlx.DB) *RelayRunRepository {
	return &RelayRunRepository{db: db}
}

func (r *RelayRunRepository) Create(ctx context.Context, run *entities.RelayRun) error {
	query := `
		INSERT INTO relay_runs (
			id, plan_name, mode, source_chain_id, dest_chain_id, source_domain, state,
			source_tx_hash, dest_tx_hashes, gas_used, total_amount, failure_code,
			failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.PlanName, run.Mode, run.SourceChainID, run.DestChainID, run.SourceDomain,
		run.State, run.SourceTxHash, run.DestTxHashes, run.GasUsed, run.TotalAmount,
		run.FailureCode, run.FailureReason, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert relay run: %w", err)
	}
	return nil
}

func (r *RelayRunRepository) Update(ctx context.Context, run *entities.RelayRun) error {
	query := `
		UPDATE relay_runs SET
			state = $2, source_tx_hash = $3, dest_tx_hashes = $4, gas_used = $5,
			failure_code = $6, failure_reason = $7, updated_at = $8
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		run.ID, run.State, run.SourceTxHash, run.DestTxHashes, run.GasUsed,
		run.FailureCode, run.FailureReason, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update relay run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update relay run: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFoundError("RELAY_RUN")
	}
	return nil
}

func (r *RelayRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.RelayRun, error) {
	var run entities.RelayRun
	query := `SELECT ` + relayRunColumns + ` FROM relay_runs WHERE id = $1`
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundError("RELAY_RUN")
		}
		return nil, readError(err)
	}
	return &run, nil
}

// GetBySourceTxHash returns the most recently updated run for a source transaction
func (r *RelayRunRepository) GetBySourceTxHash(ctx context.Context, txHash string) (*entities.RelayRun, error) {
	var run entities.RelayRun
	query := `SELECT ` + relayRunColumns + ` FROM relay_runs
		WHERE lower(source_tx_hash) = lower($1)
		ORDER BY updated_at DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &run, query, txHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundError("RELAY_RUN")
		}
		return nil, readError(err)
	}
	return &run, nil
}

func (r *RelayRunRepository) ListByState(ctx context.Context, state entities.RelayState, limit int) ([]*entities.RelayRun, error) {
	var runs []*entities.RelayRun
	query := `SELECT ` + relayRunColumns + ` FROM relay_runs
		WHERE state = $1 ORDER BY updated_at DESC LIMIT $2`
	if err := r.db.SelectContext(ctx, &runs, query, state, limit); err != nil {
		return nil, readError(err)
	}
	return runs, nil
}

func (r *RelayRunRepository) ListRecent(ctx context.Context, limit int) ([]*entities.RelayRun, error) {
	var runs []*entities.RelayRun
	query := `SELECT ` + relayRunColumns + ` FROM relay_runs ORDER BY updated_at DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, readError(err)
	}
	return runs, nil
}

// readError reports a lost database connection as unavailable so the API answers 503
func readError(err error) error {
	var netErr net.Error
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return apperrors.ServiceUnavailableError("database", err)
	}
	return err
}

var _ repositories.RelayRunRepository = (*RelayRunRepository)(nil)
