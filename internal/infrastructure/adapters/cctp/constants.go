package cctp

const (
	// API Hosts
	IrisMainnetURL = "https://iris-api.circle.com"
	IrisSandboxURL = "https://iris-api-sandbox.circle.com"

	// Domain IDs
	DomainEthereum  uint32 = 0
	DomainAvalanche uint32 = 1
	DomainOptimism  uint32 = 2
	DomainArbitrum  uint32 = 3
	DomainNoble     uint32 = 4
	DomainSolana    uint32 = 5
	DomainBase      uint32 = 6
	DomainPolygon   uint32 = 7
	DomainUnichain  uint32 = 10
	DomainLinea     uint32 = 11
	DomainStarknet  uint32 = 25

	// Rate limiting
	MaxRequestsPerSecond = 35

	// Attestation statuses
	AttestationStatusPending  = "pending"
	AttestationStatusComplete = "complete"
)

// DomainNames maps domain IDs to human-readable names
var DomainNames = map[uint32]string{
	DomainEthereum:  "Ethereum",
	DomainAvalanche: "Avalanche",
	DomainOptimism:  "OP Mainnet",
	DomainArbitrum:  "Arbitrum",
	DomainNoble:     "Noble",
	DomainSolana:    "Solana",
	DomainBase:      "Base",
	DomainPolygon:   "Polygon",
	DomainUnichain:  "Unichain",
	DomainLinea:     "Linea",
	DomainStarknet:  "Starknet",
}
