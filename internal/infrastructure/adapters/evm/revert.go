package evm

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// RevertReason extracts the most specific reason available from a failed
// call: the decoded Error(string) message, else the raw revert data, else
// the error text.
func RevertReason(err error) string {
	if err == nil {
		return ""
	}
	if data := revertData(err); len(data) > 0 {
		if reason, uerr := abi.UnpackRevert(data); uerr == nil {
			return reason
		}
		return hexutil.Encode(data)
	}
	return err.Error()
}

// IsRevert reports whether err is a contract execution revert rather than
// a transport or signing fault
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	if len(revertData(err)) > 0 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

func revertData(err error) []byte {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil
	}
	switch data := dataErr.ErrorData().(type) {
	case string:
		raw, derr := hexutil.Decode(data)
		if derr != nil {
			return nil
		}
		return raw
	case []byte:
		return data
	case hexutil.Bytes:
		return data
	}
	return nil
}
