package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
	"github.com/rail-service/payroll_relay/internal/domain/repositories"
)

// MemoryRelayRunRepository keeps the run journal in process memory. It is
// used when no database is configured.
type MemoryRelayRunRepository struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]entities.RelayRun
}

// NewMemoryRelayRunRepository creates an empty in-memory journal
func NewMemoryRelayRunRepository() *MemoryRelayRunRepository {
	return &MemoryRelayRunRepository{runs: make(map[uuid.UUID]entities.RelayRun)}
}

func (r *MemoryRelayRunRepository) Create(ctx context.Context, run *entities.RelayRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[run.ID]; exists {
		return apperrors.ValidationError("id", "relay run already exists")
	}
	r.runs[run.ID] = *run
	return nil
}

func (r *MemoryRelayRunRepository) Update(ctx context.Context, run *entities.RelayRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[run.ID]; !exists {
		return apperrors.NotFoundError("RELAY_RUN")
	}
	r.runs[run.ID] = *run
	return nil
}

func (r *MemoryRelayRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.RelayRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, apperrors.NotFoundError("RELAY_RUN")
	}
	return &run, nil
}

func (r *MemoryRelayRunRepository) GetBySourceTxHash(ctx context.Context, txHash string) (*entities.RelayRun, error) {
	matches := r.filter(func(run *entities.RelayRun) bool {
		return strings.EqualFold(run.SourceTxHash, txHash)
	}, 1)
	if len(matches) == 0 {
		return nil, apperrors.NotFoundError("RELAY_RUN")
	}
	return matches[0], nil
}

func (r *MemoryRelayRunRepository) ListByState(ctx context.Context, state entities.RelayState, limit int) ([]*entities.RelayRun, error) {
	return r.filter(func(run *entities.RelayRun) bool { return run.State == state }, limit), nil
}

func (r *MemoryRelayRunRepository) ListRecent(ctx context.Context, limit int) ([]*entities.RelayRun, error) {
	return r.filter(func(*entities.RelayRun) bool { return true }, limit), nil
}

// filter returns matching runs, most recently updated first
func (r *MemoryRelayRunRepository) filter(match func(*entities.RelayRun) bool, limit int) []*entities.RelayRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entities.RelayRun
	for _, run := range r.runs {
		run := run
		if match(&run) {
			out = append(out, &run)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

var _ repositories.RelayRunRepository = (*MemoryRelayRunRepository)(nil)
