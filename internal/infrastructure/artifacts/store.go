package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
	"github.com/rail-service/payroll_relay/internal/domain/repositories"
)

// artifact is the on-disk attestation record. The top-level fields carry
// the first message so single-message files stay readable by tools that
// expect {sourceTransactionHash, message, attestation}.
type artifact struct {
	SourceTransactionHash string                    `json:"sourceTransactionHash"`
	SourceDomain          uint32                    `json:"sourceDomain,omitempty"`
	Message               string                    `json:"message"`
	Attestation           string                    `json:"attestation"`
	Messages              []*entities.RelayEnvelope `json:"messages,omitempty"`
}

// FileStore keeps one JSON artifact per source transaction in a directory
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates a store rooted at dir
func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{dir: dir, logger: logger}
}

// PathFor returns the artifact path for a source transaction
func (s *FileStore) PathFor(sourceTxHash string) string {
	return filepath.Join(s.dir, strings.ToLower(sourceTxHash)+".json")
}

// Save validates and writes envelopes that share one source transaction
func (s *FileStore) Save(ctx context.Context, envelopes []*entities.RelayEnvelope) (string, error) {
	if len(envelopes) == 0 {
		return "", apperrors.ValidationError("envelopes", "nothing to save")
	}
	hash := envelopes[0].SourceTransactionHash
	for _, env := range envelopes {
		if err := env.Validate(); err != nil {
			return "", err
		}
		if !strings.EqualFold(env.SourceTransactionHash, hash) {
			return "", apperrors.ValidationError("sourceTransactionHash", "envelopes belong to different source transactions")
		}
	}

	record := artifact{
		SourceTransactionHash: hash,
		SourceDomain:          envelopes[0].SourceDomain,
		Message:               envelopes[0].Message,
		Attestation:           envelopes[0].Attestation,
	}
	if len(envelopes) > 1 {
		record.Messages = envelopes
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}
	path := s.PathFor(hash)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit artifact: %w", err)
	}

	s.logger.Info("Attestation artifact written",
		zap.String("path", path),
		zap.String("tx_hash", hash),
		zap.Int("messages", len(envelopes)))
	return path, nil
}

// Load reads the artifact saved for sourceTxHash
func (s *FileStore) Load(ctx context.Context, sourceTxHash string) ([]*entities.RelayEnvelope, error) {
	if err := entities.ValidateTxHash(sourceTxHash); err != nil {
		return nil, err
	}
	return s.LoadFile(ctx, s.PathFor(sourceTxHash))
}

// LoadFile reads and validates an artifact at path. A malformed record is
// a validation error, never a partial result.
func (s *FileStore) LoadFile(ctx context.Context, path string) ([]*entities.RelayEnvelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NotFoundError("ATTESTATION_ARTIFACT").WithDetails(map[string]interface{}{"path": path})
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var record artifact
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, apperrors.ValidationError("artifact", fmt.Sprintf("artifact %s is not valid JSON: %v", path, err))
	}

	envelopes := record.Messages
	if len(envelopes) == 0 {
		envelopes = []*entities.RelayEnvelope{{
			SourceTransactionHash: record.SourceTransactionHash,
			SourceDomain:          record.SourceDomain,
			Message:               record.Message,
			Attestation:           record.Attestation,
		}}
	}
	for _, env := range envelopes {
		if env == nil {
			return nil, apperrors.ValidationError("messages", "artifact contains an empty message entry")
		}
		if env.SourceTransactionHash == "" {
			env.SourceTransactionHash = record.SourceTransactionHash
		}
		if err := env.Validate(); err != nil {
			return nil, err
		}
	}
	return envelopes, nil
}

var _ repositories.EnvelopeStore = (*FileStore)(nil)
