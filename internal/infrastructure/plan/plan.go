// Package plan loads payroll plan files. A plan names the settlement mode,
// the chain pair, the routes to commit and the payment batch to submit.
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
)

const defaultDecimals = 6

// ChainInfo is what the loader needs to know about a configured chain
type ChainInfo struct {
	Domain uint32
	USDC   common.Address
}

// Defaults fill fields a plan file leaves out
type Defaults struct {
	Mode             entities.SettlementMode
	SourceChain      string
	DestinationChain string
	Decimals         int32
}

type file struct {
	Name             string    `toml:"name" json:"name"`
	Mode             string    `toml:"mode" json:"mode"`
	SourceChain      string    `toml:"source_chain" json:"sourceChain"`
	DestinationChain string    `toml:"destination_chain" json:"destinationChain"`
	Decimals         *int32    `toml:"decimals" json:"decimals"`
	TopUp            string    `toml:"top_up" json:"topUp"`
	VerifyDelivery   *bool     `toml:"verify_delivery" json:"verifyDelivery"`
	Routes           []route   `toml:"routes" json:"routes"`
	Payments         []payment `toml:"payments" json:"payments"`
}

type route struct {
	Recipient         string  `toml:"recipient" json:"recipient"`
	DestinationDomain *uint32 `toml:"destination_domain" json:"destinationDomain"`
	DestinationToken  string  `toml:"destination_token" json:"destinationToken"`
	LendingEnabled    bool    `toml:"lending_enabled" json:"lendingEnabled"`
}

// payment carries either a decimal token amount or raw base units
type payment struct {
	Recipient string `toml:"recipient" json:"recipient"`
	Amount    string `toml:"amount" json:"amount"`
	Units     string `toml:"units" json:"units"`
}

// Loader turns plan files into validated PayrollPlans
type Loader struct {
	defaults Defaults
	chains   map[string]ChainInfo
}

// NewLoader creates a loader over the configured chains, keyed by chain name
func NewLoader(defaults Defaults, chains map[string]ChainInfo) *Loader {
	if defaults.Decimals == 0 {
		defaults.Decimals = defaultDecimals
	}
	if defaults.Mode == "" {
		defaults.Mode = entities.SettlementHook
	}
	folded := make(map[string]ChainInfo, len(chains))
	for name, info := range chains {
		folded[strings.ToLower(name)] = info
	}
	return &Loader{defaults: defaults, chains: folded}
}

// Load reads a .toml or .json plan file
func (l *Loader) Load(path string) (*entities.PayrollPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}

	p, err := l.Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// Parse decodes a plan in the given format (".toml" or ".json")
func (l *Loader) Parse(data []byte, format string) (*entities.PayrollPlan, error) {
	var f file
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, apperrors.ValidationError("plan", fmt.Sprintf("invalid toml: %v", err))
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, apperrors.ValidationError("plan", fmt.Sprintf("invalid json: %v", err))
		}
	default:
		return nil, apperrors.ValidationError("plan", fmt.Sprintf("unsupported plan format %q", format))
	}

	return l.build(f)
}

func (l *Loader) build(f file) (*entities.PayrollPlan, error) {
	p := &entities.PayrollPlan{
		Name:             f.Name,
		Mode:             entities.SettlementMode(strings.ToLower(f.Mode)),
		SourceChain:      strings.ToLower(f.SourceChain),
		DestinationChain: strings.ToLower(f.DestinationChain),
		VerifyDelivery:   true,
	}
	if p.Mode == "" {
		p.Mode = l.defaults.Mode
	}
	if p.SourceChain == "" {
		p.SourceChain = strings.ToLower(l.defaults.SourceChain)
	}
	if p.DestinationChain == "" {
		p.DestinationChain = strings.ToLower(l.defaults.DestinationChain)
	}
	if f.VerifyDelivery != nil {
		p.VerifyDelivery = *f.VerifyDelivery
	}

	src, ok := l.chains[p.SourceChain]
	if !ok {
		return nil, apperrors.ValidationError("source_chain", fmt.Sprintf("chain %q is not configured", p.SourceChain))
	}
	dst, ok := l.chains[p.DestinationChain]
	if !ok {
		return nil, apperrors.ValidationError("destination_chain", fmt.Sprintf("chain %q is not configured", p.DestinationChain))
	}
	p.SourceDomain = src.Domain

	decimals := l.defaults.Decimals
	if f.Decimals != nil {
		decimals = *f.Decimals
	}
	p.Decimals = decimals

	for i, r := range f.Routes {
		info, err := buildRoute(i, r, dst)
		if err != nil {
			return nil, err
		}
		p.Routes = append(p.Routes, info)
	}

	for i, pay := range f.Payments {
		req, err := buildPayment(i, pay, decimals)
		if err != nil {
			return nil, err
		}
		p.Payments = append(p.Payments, req)
	}

	if f.TopUp != "" {
		topUp, err := ParseUnits(f.TopUp, decimals)
		if err != nil {
			return nil, apperrors.ValidationError("top_up", err.Error())
		}
		p.TopUp = topUp
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func buildRoute(i int, r route, dst ChainInfo) (entities.RouteInfo, error) {
	recipient, err := parseAddress(r.Recipient)
	if err != nil {
		return entities.RouteInfo{}, apperrors.ValidationError("routes", fmt.Sprintf("route %d recipient: %v", i, err))
	}
	info := entities.RouteInfo{
		Recipient:         recipient,
		DestinationDomain: dst.Domain,
		DestinationToken:  dst.USDC,
		LendingEnabled:    r.LendingEnabled,
	}
	if r.DestinationDomain != nil {
		info.DestinationDomain = *r.DestinationDomain
	}
	if r.DestinationToken != "" {
		token, err := parseAddress(r.DestinationToken)
		if err != nil {
			return entities.RouteInfo{}, apperrors.ValidationError("routes", fmt.Sprintf("route %d destination token: %v", i, err))
		}
		info.DestinationToken = token
	}
	return info, nil
}

func buildPayment(i int, pay payment, decimals int32) (entities.PaymentRequest, error) {
	recipient, err := parseAddress(pay.Recipient)
	if err != nil {
		return entities.PaymentRequest{}, apperrors.ValidationError("payments", fmt.Sprintf("payment %d recipient: %v", i, err))
	}

	var amount *big.Int
	switch {
	case pay.Amount != "" && pay.Units != "":
		return entities.PaymentRequest{}, apperrors.ValidationError("payments", fmt.Sprintf("payment %d sets both amount and units", i))
	case pay.Units != "":
		amount, err = ParseUnits(pay.Units, 0)
	case pay.Amount != "":
		amount, err = ParseUnits(pay.Amount, decimals)
	default:
		return entities.PaymentRequest{}, apperrors.ValidationError("payments", fmt.Sprintf("payment %d has no amount", i))
	}
	if err != nil {
		return entities.PaymentRequest{}, apperrors.ValidationError("payments", fmt.Sprintf("payment %d: %v", i, err))
	}
	return entities.PaymentRequest{Recipient: recipient, Amount: amount}, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", s)
	}
	return common.HexToAddress(s), nil
}

// ParseUnits converts a decimal token amount to base units. The amount must
// be representable exactly at the given decimals.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}
	return shifted.BigInt(), nil
}

