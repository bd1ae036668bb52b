package errors

import (
	"errors"
	"fmt"
)

// Relay pipeline errors
var (
	// ErrTransport indicates a network or upstream service fault
	ErrTransport = errors.New("transport error")

	// ErrAttestationTimeout indicates the attestation poll budget was exhausted
	ErrAttestationTimeout = errors.New("attestation timeout")

	// ErrUnroutedRecipient indicates a recipient has no committed route
	ErrUnroutedRecipient = errors.New("unrouted recipient")

	// ErrRouteNotFound indicates the payroll contract holds no route for a recipient
	ErrRouteNotFound = errors.New("route not found")

	// ErrInsufficientBalance indicates the spendable balance does not cover a transfer
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTransactionReverted indicates a chain rejected a state-changing call
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrRelayReverted indicates the destination relay call was rejected
	ErrRelayReverted = errors.New("relay reverted")

	// ErrAddressResolution indicates a deployment address could not be resolved
	ErrAddressResolution = errors.New("address resolution failed")
)

// TransportError wraps a retryable network or service fault
func TransportError(operation string, err error) *DomainError {
	de := &DomainError{
		Err:       ErrTransport,
		Code:      "TRANSPORT_ERROR",
		Message:   fmt.Sprintf("%s: transport error", operation),
		Retryable: true,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
	if err != nil {
		de.Message = fmt.Sprintf("%s: %v", operation, err)
		de.Details["cause"] = err.Error()
	}
	return de
}

// AttestationTimeoutError reports an exhausted attempt budget for a transaction
func AttestationTimeoutError(txHash string, attempts int) *DomainError {
	return &DomainError{
		Err:     ErrAttestationTimeout,
		Code:    "ATTESTATION_TIMEOUT",
		Message: fmt.Sprintf("no complete attestation for %s after %d attempts", txHash, attempts),
		Details: map[string]interface{}{
			"tx_hash":  txHash,
			"attempts": attempts,
		},
	}
}

// UnroutedRecipientError names the recipient missing a route
func UnroutedRecipientError(recipient string) *DomainError {
	return &DomainError{
		Err:     ErrUnroutedRecipient,
		Code:    "UNROUTED_RECIPIENT",
		Message: fmt.Sprintf("recipient %s has no committed route", recipient),
		Details: map[string]interface{}{
			"recipient": recipient,
		},
	}
}

// RouteNotFoundError creates a route lookup miss
func RouteNotFoundError(recipient string) *DomainError {
	return &DomainError{
		Err:     ErrRouteNotFound,
		Code:    "ROUTE_NOT_FOUND",
		Message: fmt.Sprintf("no route configured for %s", recipient),
		Details: map[string]interface{}{
			"recipient": recipient,
		},
	}
}

// InsufficientBalanceError states the required versus available amounts
func InsufficientBalanceError(holder, required, available string) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientBalance,
		Code:    "INSUFFICIENT_BALANCE",
		Message: fmt.Sprintf("insufficient balance on %s: required %s, available %s", holder, required, available),
		Details: map[string]interface{}{
			"holder":    holder,
			"required":  required,
			"available": available,
		},
	}
}

// TransactionRevertedError carries the best-effort revert reason of a rejected call
func TransactionRevertedError(method, reason string) *DomainError {
	return &DomainError{
		Err:     ErrTransactionReverted,
		Code:    "TRANSACTION_REVERTED",
		Message: fmt.Sprintf("%s reverted: %s", method, reason),
		Details: map[string]interface{}{
			"method": method,
			"reason": reason,
		},
	}
}

// RelayRevertedError reports a destination-chain rejection of relay(message, attestation)
func RelayRevertedError(reason string) *DomainError {
	return &DomainError{
		Err:     ErrRelayReverted,
		Code:    "RELAY_REVERTED",
		Message: fmt.Sprintf("relay reverted: %s", reason),
		Details: map[string]interface{}{
			"reason": reason,
		},
	}
}

// AddressResolutionError reports a failed deployment lookup
func AddressResolutionError(chainID uint64, deploymentID, reason string) *DomainError {
	return &DomainError{
		Err:     ErrAddressResolution,
		Code:    "ADDRESS_RESOLUTION_FAILED",
		Message: fmt.Sprintf("resolve %q on chain %d: %s", deploymentID, chainID, reason),
		Details: map[string]interface{}{
			"chain_id":      chainID,
			"deployment_id": deploymentID,
			"reason":        reason,
		},
	}
}

// RevertReason returns the reason recorded on a reverted-call error
func RevertReason(err error) (string, bool) {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return "", false
	}
	if !errors.Is(domainErr.Err, ErrTransactionReverted) && !errors.Is(domainErr.Err, ErrRelayReverted) {
		return "", false
	}
	reason, _ := domainErr.Details["reason"].(string)
	return reason, true
}

// StageError records how far a relay run got before failing, and which
// source transaction to resume from.
type StageError struct {
	Stage        string
	SourceTxHash string
	Err          error
}

func (e *StageError) Error() string {
	if e.SourceTxHash != "" {
		return fmt.Sprintf("relay failed at %s (source tx %s): %v", e.Stage, e.SourceTxHash, e.Err)
	}
	return fmt.Sprintf("relay failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsAttestationTimeout checks if an error is an attestation timeout
func IsAttestationTimeout(err error) bool {
	return errors.Is(err, ErrAttestationTimeout)
}

// IsUnroutedRecipient checks if an error is an unrouted recipient error
func IsUnroutedRecipient(err error) bool {
	return errors.Is(err, ErrUnroutedRecipient)
}

// IsRouteNotFound checks if an error is a route lookup miss
func IsRouteNotFound(err error) bool {
	return errors.Is(err, ErrRouteNotFound)
}

// IsInsufficientBalance checks if an error is an insufficient balance error
func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}

// IsReverted checks if an error is any on-chain rejection
func IsReverted(err error) bool {
	return errors.Is(err, ErrTransactionReverted) || errors.Is(err, ErrRelayReverted)
}

// IsRelayReverted checks if an error is a destination relay rejection
func IsRelayReverted(err error) bool {
	return errors.Is(err, ErrRelayReverted)
}

// IsAddressResolution checks if an error is an address resolution error
func IsAddressResolution(err error) bool {
	return errors.Is(err, ErrAddressResolution)
}
