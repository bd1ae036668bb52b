package entities

import (
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
)

var (
	txHashPattern   = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	hexBytesPattern = regexp.MustCompile(`^0x([a-fA-F0-9]{2})+$`)
)

// ValidateTxHash checks a source transaction hash before it is sent anywhere
func ValidateTxHash(txHash string) error {
	if !txHashPattern.MatchString(txHash) {
		return apperrors.ValidationError("sourceTransactionHash",
			"transaction hash must be 0x followed by 64 hex characters")
	}
	return nil
}

// IsHexBytes reports whether s is a 0x-prefixed, even-length, non-empty hex string
func IsHexBytes(s string) bool {
	return hexBytesPattern.MatchString(s)
}

// SettlementMode selects the destination entry point
type SettlementMode string

const (
	// SettlementHook relays through the hook wrapper, which forwards funds per route
	SettlementHook SettlementMode = "hook"
	// SettlementDirect calls the message transmitter; no routes are involved
	SettlementDirect SettlementMode = "direct"
)

// Valid reports whether the mode is known
func (m SettlementMode) Valid() bool {
	return m == SettlementHook || m == SettlementDirect
}

// RelayEnvelope carries one attested cross-chain message
type RelayEnvelope struct {
	SourceTransactionHash string `json:"sourceTransactionHash"`
	SourceDomain          uint32 `json:"sourceDomain"`
	DestinationDomain     uint32 `json:"destinationDomain,omitempty"`
	Message               string `json:"message"`
	Attestation           string `json:"attestation"`
	MessageHash           string `json:"messageHash,omitempty"`
	Nonce                 string `json:"nonce,omitempty"`
}

// Validate rejects envelopes that must not be submitted or persisted
func (e *RelayEnvelope) Validate() error {
	if err := ValidateTxHash(e.SourceTransactionHash); err != nil {
		return err
	}
	if !IsHexBytes(e.Message) {
		return apperrors.ValidationError("message", "message must be a 0x-prefixed even-length hex string")
	}
	if !IsHexBytes(e.Attestation) {
		return apperrors.ValidationError("attestation", "attestation must be a 0x-prefixed even-length hex string")
	}
	return nil
}

// RelayState is a stage of the relay pipeline
type RelayState string

const (
	RelayStateConfiguring RelayState = "configuring"
	RelayStateFunding     RelayState = "funding"
	RelayStateSubmitted   RelayState = "submitted"
	RelayStateAttesting   RelayState = "attesting"
	RelayStateAttested    RelayState = "attested"
	RelayStateRelaying    RelayState = "relaying"
	RelayStateDelivered   RelayState = "delivered"
	RelayStateFailed      RelayState = "failed"
)

// IsTerminal reports whether no further transition is possible
func (s RelayState) IsTerminal() bool {
	return s == RelayStateDelivered || s == RelayStateFailed
}

// TxReceipt is the chain-agnostic view of a confirmed transaction
type TxReceipt struct {
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
	GasUsed     uint64      `json:"gasUsed"`
	Success     bool        `json:"success"`
}

// PayrollPlan is one parameterized pipeline invocation
type PayrollPlan struct {
	Name             string
	Mode             SettlementMode
	SourceChain      string
	DestinationChain string
	SourceDomain     uint32
	Routes           []RouteInfo
	Payments         PaymentBatch
	TopUp            *big.Int
	VerifyDelivery   bool
	// Decimals the amounts were parsed with; 0 skips the on-chain check
	Decimals int32
}

// Validate checks everything that can be checked without the network
func (p *PayrollPlan) Validate() error {
	if !p.Mode.Valid() {
		return apperrors.ValidationError("mode", "settlement mode must be hook or direct")
	}
	for _, r := range p.Routes {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if p.TopUp != nil && p.TopUp.Sign() < 0 {
		return apperrors.ValidationError("top_up", "top-up amount must not be negative")
	}
	return p.Payments.Validate()
}

// RelayRun is the journal record of one pipeline run
type RelayRun struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	PlanName      string          `json:"plan_name" db:"plan_name"`
	Mode          SettlementMode  `json:"mode" db:"mode"`
	SourceChainID int64           `json:"source_chain_id" db:"source_chain_id"`
	DestChainID   int64           `json:"dest_chain_id" db:"dest_chain_id"`
	SourceDomain  int64           `json:"source_domain" db:"source_domain"`
	State         RelayState      `json:"state" db:"state"`
	SourceTxHash  string          `json:"source_tx_hash,omitempty" db:"source_tx_hash"`
	DestTxHashes  string          `json:"dest_tx_hashes,omitempty" db:"dest_tx_hashes"`
	GasUsed       int64           `json:"gas_used" db:"gas_used"`
	TotalAmount   decimal.Decimal `json:"total_amount" db:"total_amount"`
	FailureCode   string          `json:"failure_code,omitempty" db:"failure_code"`
	FailureReason string          `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// AddDestTxHash appends a destination transaction hash
func (r *RelayRun) AddDestTxHash(hash string) {
	if r.DestTxHashes == "" {
		r.DestTxHashes = hash
		return
	}
	r.DestTxHashes += "," + hash
}

// DestTxHashList splits the stored destination hashes
func (r *RelayRun) DestTxHashList() []string {
	if r.DestTxHashes == "" {
		return nil
	}
	return strings.Split(r.DestTxHashes, ",")
}

// RelayEvent is one observable state transition
type RelayEvent struct {
	RunID        uuid.UUID     `json:"run_id"`
	PlanName     string        `json:"plan_name,omitempty"`
	From         RelayState    `json:"from"`
	To           RelayState    `json:"to"`
	SourceTxHash string        `json:"source_tx_hash,omitempty"`
	TxHash       string        `json:"tx_hash,omitempty"`
	TxHashes     []string      `json:"tx_hashes,omitempty"`
	GasUsed      uint64        `json:"gas_used,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
	At           time.Time     `json:"at"`
}

// Outcome is what a pipeline run reports to its caller
type Outcome struct {
	Run          *RelayRun        `json:"run"`
	State        RelayState       `json:"state"`
	SourceTxHash string           `json:"source_tx_hash,omitempty"`
	DestTxHashes []string         `json:"dest_tx_hashes,omitempty"`
	Envelopes    []*RelayEnvelope `json:"envelopes,omitempty"`
	ArtifactPath string           `json:"artifact_path,omitempty"`
	FailureCode  string           `json:"failure_code,omitempty"`
	Reason       string           `json:"reason,omitempty"`
}

// Delivered reports whether the run completed
func (o *Outcome) Delivered() bool {
	return o.State == RelayStateDelivered
}
