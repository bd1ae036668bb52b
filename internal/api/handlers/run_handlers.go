package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
	"github.com/rail-service/payroll_relay/internal/domain/repositories"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// RunHandlers exposes the relay run journal so operators can find the last
// observed state of a run and the hash to resume from
type RunHandlers struct {
	runs   repositories.RelayRunRepository
	logger *zap.Logger
}

// NewRunHandlers creates run journal handlers
func NewRunHandlers(runs repositories.RelayRunRepository, logger *zap.Logger) *RunHandlers {
	return &RunHandlers{runs: runs, logger: logger}
}

// RunResponse is a journal entry with destination hashes split out
type RunResponse struct {
	*entities.RelayRun
	DestTxHashList []string `json:"dest_tx_hash_list,omitempty"`
	Terminal       bool     `json:"terminal"`
}

func toRunResponse(run *entities.RelayRun) RunResponse {
	return RunResponse{
		RelayRun:       run,
		DestTxHashList: run.DestTxHashList(),
		Terminal:       run.State.IsTerminal(),
	}
}

// GetBySourceTxHash handles GET /runs/:sourceTxHash
func (h *RunHandlers) GetBySourceTxHash(c *gin.Context) {
	hash := c.Param("sourceTxHash")
	if err := entities.ValidateTxHash(hash); err != nil {
		respondDomainError(c, err)
		return
	}

	run, err := h.runs.GetBySourceTxHash(c.Request.Context(), hash)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			h.logger.Error("Failed to load relay run", zap.String("tx_hash", hash), zap.Error(err))
		}
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRunResponse(run))
}

// List handles GET /runs?state=&limit=
func (h *RunHandlers) List(c *gin.Context) {
	limit := queryLimit(c, defaultRunLimit, maxRunLimit)

	var (
		runs []*entities.RelayRun
		err  error
	)
	if state := c.Query("state"); state != "" {
		if !isKnownState(entities.RelayState(state)) {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "unknown relay state", map[string]interface{}{"state": state})
			return
		}
		runs, err = h.runs.ListByState(c.Request.Context(), entities.RelayState(state), limit)
	} else {
		runs, err = h.runs.ListRecent(c.Request.Context(), limit)
	}
	if err != nil {
		h.logger.Error("Failed to list relay runs", zap.Error(err))
		respondDomainError(c, err)
		return
	}

	out := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	c.JSON(http.StatusOK, gin.H{"runs": out, "count": len(out)})
}

func isKnownState(s entities.RelayState) bool {
	switch s {
	case entities.RelayStateConfiguring, entities.RelayStateFunding, entities.RelayStateSubmitted,
		entities.RelayStateAttesting, entities.RelayStateAttested, entities.RelayStateRelaying,
		entities.RelayStateDelivered, entities.RelayStateFailed:
		return true
	}
	return false
}
