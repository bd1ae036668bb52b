package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
)

// RelayRunRepository defines persistence for the relay run journal
type RelayRunRepository interface {
	Create(ctx context.Context, run *entities.RelayRun) error
	Update(ctx context.Context, run *entities.RelayRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.RelayRun, error)
	GetBySourceTxHash(ctx context.Context, txHash string) (*entities.RelayRun, error)
	ListByState(ctx context.Context, state entities.RelayState, limit int) ([]*entities.RelayRun, error)
	ListRecent(ctx context.Context, limit int) ([]*entities.RelayRun, error)
}

// EnvelopeStore persists attested envelopes so a relay can resume without
// polling again
type EnvelopeStore interface {
	// Save writes the envelopes of one source transaction and returns where
	Save(ctx context.Context, envelopes []*entities.RelayEnvelope) (string, error)
	// Load returns the envelopes saved for a source transaction
	Load(ctx context.Context, sourceTxHash string) ([]*entities.RelayEnvelope, error)
	// LoadFile reads envelopes from an explicit artifact path
	LoadFile(ctx context.Context, path string) ([]*entities.RelayEnvelope, error)
}
