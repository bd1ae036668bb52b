// Package deployments resolves contract addresses by chain id and
// deployment id. Resolution happens before any chain call, and every
// failure is an AddressResolutionError.
package deployments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
)

// Resolver maps (chainID, deploymentID) to an address
type Resolver interface {
	Resolve(ctx context.Context, chainID uint64, deploymentID string) (common.Address, error)
}

// FileResolver reads <root>/chain-<id>/deployed_addresses.json
type FileResolver struct {
	root string
}

// NewFileResolver creates a resolver over a deployments directory
func NewFileResolver(root string) *FileResolver {
	return &FileResolver{root: root}
}

// Path returns the address file for chainID
func (r *FileResolver) Path(chainID uint64) string {
	return filepath.Join(r.root, fmt.Sprintf("chain-%d", chainID), "deployed_addresses.json")
}

// Resolve looks deploymentID up in the chain's address file
func (r *FileResolver) Resolve(ctx context.Context, chainID uint64, deploymentID string) (common.Address, error) {
	path := r.Path(chainID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return common.Address{}, apperrors.AddressResolutionError(chainID, deploymentID,
				fmt.Sprintf("address file %s does not exist", path))
		}
		return common.Address{}, apperrors.AddressResolutionError(chainID, deploymentID, err.Error())
	}

	var addresses map[string]string
	if err := json.Unmarshal(data, &addresses); err != nil {
		return common.Address{}, apperrors.AddressResolutionError(chainID, deploymentID,
			fmt.Sprintf("address file %s is not a JSON object: %v", path, err))
	}

	raw, ok := addresses[deploymentID]
	if !ok {
		return common.Address{}, apperrors.AddressResolutionError(chainID, deploymentID,
			fmt.Sprintf("deployment id not present in %s", path))
	}
	return parseAddress(chainID, deploymentID, raw)
}

// StaticResolver serves configured overrides, keyed by chain id then deployment id
type StaticResolver struct {
	addresses map[uint64]map[string]string
}

// NewStaticResolver creates a resolver over fixed addresses.
// Deployment ids match case-insensitively.
func NewStaticResolver(addresses map[uint64]map[string]string) *StaticResolver {
	folded := make(map[uint64]map[string]string, len(addresses))
	for chainID, ids := range addresses {
		folded[chainID] = make(map[string]string, len(ids))
		for id, addr := range ids {
			folded[chainID][strings.ToLower(id)] = addr
		}
	}
	return &StaticResolver{addresses: folded}
}

// Resolve returns the configured address
func (r *StaticResolver) Resolve(ctx context.Context, chainID uint64, deploymentID string) (common.Address, error) {
	raw, ok := r.addresses[chainID][strings.ToLower(deploymentID)]
	if !ok {
		return common.Address{}, apperrors.AddressResolutionError(chainID, deploymentID, "no configured address")
	}
	return parseAddress(chainID, deploymentID, raw)
}

// ChainResolver tries each resolver in order and returns the first hit.
// Malformed addresses stop the search.
type ChainResolver []Resolver

// Resolve returns the first successful resolution
func (c ChainResolver) Resolve(ctx context.Context, chainID uint64, deploymentID string) (common.Address, error) {
	var lastErr error
	for _, r := range c {
		addr, err := r.Resolve(ctx, chainID, deploymentID)
		if err == nil {
			return addr, nil
		}
		if isMalformed(err) {
			return common.Address{}, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = apperrors.AddressResolutionError(chainID, deploymentID, "no resolvers configured")
	}
	return common.Address{}, lastErr
}

const malformedReason = "malformed address"

func parseAddress(chainID uint64, deploymentID, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, apperrors.AddressResolutionError(chainID, deploymentID,
			fmt.Sprintf("%s %q", malformedReason, raw))
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, apperrors.AddressResolutionError(chainID, deploymentID,
			fmt.Sprintf("%s %q", malformedReason, raw))
	}
	return addr, nil
}

func isMalformed(err error) bool {
	reason, _ := apperrors.GetErrorDetails(err)["reason"].(string)
	return strings.HasPrefix(reason, malformedReason)
}
