package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const payrollABIJSON = `[
  {"type":"function","name":"setRouteInfo","stateMutability":"nonpayable","inputs":[
    {"name":"employee","type":"address"},
    {"name":"destinationDomain","type":"uint32"},
    {"name":"destinationToken","type":"address"},
    {"name":"lendingEnabled","type":"bool"}],"outputs":[]},
  {"type":"function","name":"getRouteInfo","stateMutability":"view","inputs":[
    {"name":"employee","type":"address"}],"outputs":[
    {"name":"destinationDomain","type":"uint32"},
    {"name":"destinationToken","type":"address"},
    {"name":"lendingEnabled","type":"bool"}]},
  {"type":"function","name":"batchPayEmployees","stateMutability":"nonpayable","inputs":[
    {"name":"payments","type":"tuple[]","components":[
      {"name":"employee","type":"address"},
      {"name":"amount","type":"uint256"}]}],"outputs":[]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
    {"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[
    {"name":"to","type":"address"},
    {"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const hookWrapperABIJSON = `[
  {"type":"function","name":"relay","stateMutability":"nonpayable","inputs":[
    {"name":"message","type":"bytes"},
    {"name":"attestation","type":"bytes"}],"outputs":[
    {"name":"relaySuccess","type":"bool"},
    {"name":"hookSuccess","type":"bool"},
    {"name":"hookReturnData","type":"bytes"}]}
]`

const messageTransmitterABIJSON = `[
  {"type":"function","name":"receiveMessage","stateMutability":"nonpayable","inputs":[
    {"name":"message","type":"bytes"},
    {"name":"attestation","type":"bytes"}],"outputs":[
    {"name":"success","type":"bool"}]}
]`

var (
	PayrollABI            = mustParseABI(payrollABIJSON)
	ERC20ABI              = mustParseABI(erc20ABIJSON)
	HookWrapperABI        = mustParseABI(hookWrapperABIJSON)
	MessageTransmitterABI = mustParseABI(messageTransmitterABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("evm: invalid ABI definition: " + err.Error())
	}
	return parsed
}
