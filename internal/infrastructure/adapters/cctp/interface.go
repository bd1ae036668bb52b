package cctp

import "context"

// CCTPClient defines the interface for CCTP Iris API operations
type CCTPClient interface {
	// GetMessages fetches the messages and attestations emitted by a burn transaction
	GetMessages(ctx context.Context, sourceDomain uint32, txHash string) (*MessagesResponse, error)
}

// Ensure Client implements CCTPClient interface
var _ CCTPClient = (*Client)(nil)
