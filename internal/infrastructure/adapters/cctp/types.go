package cctp

// MessagesResponse represents the response from the v2 messages endpoint
type MessagesResponse struct {
	Messages []CCTPMessage `json:"messages"`
}

// CCTPMessage represents a single CCTP message with attestation. While the
// attestation is pending the service reports the literal "PENDING" in the
// attestation field, so callers must validate before use.
type CCTPMessage struct {
	Attestation    string          `json:"attestation"`
	Message        string          `json:"message"`
	EventNonce     string          `json:"eventNonce"`
	CCTPVersion    int             `json:"cctpVersion"`
	Status         string          `json:"status"`
	DecodedMessage *DecodedMessage `json:"decodedMessage,omitempty"`
}

// DecodedMessage is the service's parsed view of the message header
type DecodedMessage struct {
	SourceDomain      string `json:"sourceDomain"`
	DestinationDomain string `json:"destinationDomain"`
	Nonce             string `json:"nonce"`
	Sender            string `json:"sender"`
	Recipient         string `json:"recipient"`
}

// IsComplete reports whether the service finished attesting this message
func (m CCTPMessage) IsComplete() bool {
	return m.Status == AttestationStatusComplete
}
