package attestation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
	"github.com/rail-service/payroll_relay/internal/infrastructure/adapters/cctp"
	"github.com/rail-service/payroll_relay/pkg/retry"
)

// Attempt outcomes reported to the AttemptRecorder
const (
	AttemptComplete   = "complete"
	AttemptNotFound   = "not_found"
	AttemptPending    = "pending"
	AttemptIncomplete = "incomplete"
	AttemptTransport  = "transport_error"
)

// Config controls the polling schedule
type Config struct {
	PollInterval   time.Duration
	MaxAttempts    int
	RequestTimeout time.Duration
}

// DefaultConfig polls every 5s, 24 times, with a 10s per-request timeout
func DefaultConfig() Config {
	return Config{
		PollInterval:   5 * time.Second,
		MaxAttempts:    24,
		RequestTimeout: 10 * time.Second,
	}
}

// AttemptRecorder observes every poll attempt
type AttemptRecorder interface {
	RecordAttestationAttempt(outcome string)
}

// Service obtains complete attestations for burn transactions. It keeps no
// state between calls.
type Service struct {
	client   cctp.CCTPClient
	config   Config
	retrier  *retry.Retrier
	recorder AttemptRecorder
	logger   *zap.Logger
}

// NewService creates a new attestation service
func NewService(client cctp.CCTPClient, config Config, recorder AttemptRecorder, logger *zap.Logger) *Service {
	defaults := DefaultConfig()
	if config.MaxAttempts < 1 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.PollInterval < 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := retry.Policy{
		MaxAttempts:   config.MaxAttempts,
		Delay:         config.PollInterval,
		RetryableFunc: apperrors.IsRetryable,
	}

	return &Service{
		client:   client,
		config:   config,
		retrier:  retry.NewRetrier(policy, logger),
		recorder: recorder,
		logger:   logger,
	}
}

// Fetch polls until the first message of the transaction is attested
func (s *Service) Fetch(ctx context.Context, sourceTxHash string, sourceDomain uint32) (*entities.RelayEnvelope, error) {
	envelopes, err := s.FetchAll(ctx, sourceTxHash, sourceDomain)
	if err != nil {
		return nil, err
	}
	return envelopes[0], nil
}

// FetchAll polls until every message emitted by the transaction is attested.
// A batch burn emits one message per payment.
func (s *Service) FetchAll(ctx context.Context, sourceTxHash string, sourceDomain uint32) ([]*entities.RelayEnvelope, error) {
	if err := entities.ValidateTxHash(sourceTxHash); err != nil {
		return nil, err
	}

	s.logger.Info("Polling for attestation",
		zap.String("tx_hash", sourceTxHash),
		zap.Uint32("source_domain", sourceDomain),
		zap.String("source_network", cctp.DomainNames[sourceDomain]),
		zap.Int("max_attempts", s.config.MaxAttempts),
		zap.Duration("poll_interval", s.config.PollInterval))

	result, attempts, err := s.retrier.DoWithResult(ctx, func(attempt int) (interface{}, error) {
		return s.attempt(ctx, sourceTxHash, sourceDomain, attempt)
	})
	if err != nil {
		if errors.Is(err, retry.ErrMaxRetriesExceeded) {
			s.logger.Warn("Attestation not available within budget",
				zap.String("tx_hash", sourceTxHash),
				zap.Int("attempts", attempts))
			return nil, apperrors.AttestationTimeoutError(sourceTxHash, attempts)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("attestation polling stopped after %d attempts: %w", attempts, ctx.Err())
		}
		return nil, err
	}

	envelopes := result.([]*entities.RelayEnvelope)
	s.logger.Info("Attestation complete",
		zap.String("tx_hash", sourceTxHash),
		zap.Int("attempts", attempts),
		zap.Int("messages", len(envelopes)))
	return envelopes, nil
}

func (s *Service) attempt(ctx context.Context, txHash string, sourceDomain uint32, attempt int) ([]*entities.RelayEnvelope, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	resp, err := s.client.GetMessages(reqCtx, sourceDomain, txHash)
	if err == nil && (resp == nil || len(resp.Messages) == 0) {
		err = cctp.ErrNoMessages
	}
	if err != nil {
		if errors.Is(err, cctp.ErrNoMessages) {
			s.record(AttemptNotFound)
			s.logger.Debug("Attestation not yet indexed",
				zap.String("tx_hash", txHash),
				zap.Int("attempt", attempt))
			return nil, retry.ErrNotReady
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.record(AttemptTransport)
		transportErr := apperrors.TransportError("fetch attestation", err)
		s.logger.Warn("Attestation request failed",
			zap.String("tx_hash", txHash),
			zap.Int("attempt", attempt),
			zap.Bool("circuit_open", apperrors.IsServiceUnavailable(err)),
			zap.Error(transportErr))
		return nil, transportErr
	}

	envelopes := make([]*entities.RelayEnvelope, 0, len(resp.Messages))
	for i, msg := range resp.Messages {
		if !msg.IsComplete() {
			s.record(AttemptPending)
			s.logger.Debug("Attestation pending",
				zap.String("tx_hash", txHash),
				zap.Int("attempt", attempt),
				zap.Int("message_index", i),
				zap.String("status", msg.Status))
			return nil, retry.ErrNotReady
		}
		if !entities.IsHexBytes(msg.Message) || !entities.IsHexBytes(msg.Attestation) {
			s.record(AttemptIncomplete)
			s.logger.Warn("Attestation marked complete without usable payload",
				zap.String("tx_hash", txHash),
				zap.Int("attempt", attempt),
				zap.Int("message_index", i))
			return nil, retry.ErrNotReady
		}
		envelopes = append(envelopes, toEnvelope(txHash, sourceDomain, msg))
	}

	s.record(AttemptComplete)
	return envelopes, nil
}

func (s *Service) record(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordAttestationAttempt(outcome)
	}
}

func toEnvelope(txHash string, sourceDomain uint32, msg cctp.CCTPMessage) *entities.RelayEnvelope {
	env := &entities.RelayEnvelope{
		SourceTransactionHash: txHash,
		SourceDomain:          sourceDomain,
		Message:               msg.Message,
		Attestation:           msg.Attestation,
		Nonce:                 msg.EventNonce,
	}
	if raw, err := hexutil.Decode(msg.Message); err == nil {
		env.MessageHash = crypto.Keccak256Hash(raw).Hex()
	}
	if msg.DecodedMessage != nil {
		if d, err := strconv.ParseUint(msg.DecodedMessage.DestinationDomain, 10, 32); err == nil {
			env.DestinationDomain = uint32(d)
		}
	}
	return env
}
