package evm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	payrollAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenAddr   = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	employee    = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

type dataError struct {
	msg  string
	data interface{}
}

func (e *dataError) Error() string          { return e.msg }
func (e *dataError) ErrorData() interface{} { return e.data }

func packRevert(t *testing.T, reason string) []byte {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	require.NoError(t, err)
	return append(common.FromHex("0x08c379a0"), packed...)
}

// callBackend answers eth_call; every other Backend method is unused here
type callBackend struct {
	Backend
	call func(msg ethereum.CallMsg) ([]byte, error)
}

func (b *callBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return b.call(msg)
}

func (b *callBackend) CodeAt(ctx context.Context, account common.Address, block *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func TestRevertReason(t *testing.T) {
	t.Run("decodes Error(string)", func(t *testing.T) {
		err := &dataError{msg: "execution reverted", data: hexutil.Encode(packRevert(t, "Route not set"))}
		assert.Equal(t, "Route not set", RevertReason(err))
		assert.True(t, IsRevert(err))
	})

	t.Run("falls back to raw revert data", func(t *testing.T) {
		err := &dataError{msg: "execution reverted", data: "0x1234abcd"}
		assert.Equal(t, "0x1234abcd", RevertReason(err))
	})

	t.Run("falls back to error text", func(t *testing.T) {
		err := errors.New("connection refused")
		assert.Equal(t, "connection refused", RevertReason(err))
		assert.False(t, IsRevert(err))
	})

	t.Run("finds wrapped data errors", func(t *testing.T) {
		inner := &dataError{msg: "execution reverted", data: packRevert(t, "Invalid attestation")}
		err := errors.Join(errors.New("send relay"), inner)
		assert.Equal(t, "Invalid attestation", RevertReason(err))
	})

	t.Run("plain revert message", func(t *testing.T) {
		assert.True(t, IsRevert(errors.New("execution reverted: Nonce already used")))
		assert.Equal(t, "", RevertReason(nil))
	})
}

func TestLocalSenderLock(t *testing.T) {
	t.Run("serializes holders of the same key", func(t *testing.T) {
		lock := NewLocalSenderLock()
		var active, maxActive int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, err := lock.Acquire(context.Background(), "0xABC")
				require.NoError(t, err)
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				release()
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxActive)
	})

	t.Run("keys are case-insensitive and independent", func(t *testing.T) {
		lock := NewLocalSenderLock()
		release, err := lock.Acquire(context.Background(), "0xabc")
		require.NoError(t, err)
		defer release()

		other, err := lock.Acquire(context.Background(), "0xdef")
		require.NoError(t, err)
		other()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = lock.Acquire(ctx, "0xABC")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("release is idempotent", func(t *testing.T) {
		lock := NewLocalSenderLock()
		release, err := lock.Acquire(context.Background(), "k")
		require.NoError(t, err)
		release()
		release()
		again, err := lock.Acquire(context.Background(), "k")
		require.NoError(t, err)
		again()
	})
}

// keyRecordingLock refuses every acquire and remembers the key asked for
type keyRecordingLock struct {
	keys []string
}

func (l *keyRecordingLock) Acquire(ctx context.Context, key string) (func(), error) {
	l.keys = append(l.keys, key)
	return nil, errors.New("lock unavailable")
}

func TestSenderKey(t *testing.T) {
	signer, err := NewSigner(testKey)
	require.NoError(t, err)

	source := SenderKey(big.NewInt(11155111), signer.Address())
	dest := SenderKey(big.NewInt(84532), signer.Address())

	assert.Equal(t, "11155111:0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", source)
	assert.NotEqual(t, source, dest)

	t.Run("same signer on two chains does not contend", func(t *testing.T) {
		lock := NewLocalSenderLock()
		release, err := lock.Acquire(context.Background(), source)
		require.NoError(t, err)
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		other, err := lock.Acquire(ctx, dest)
		require.NoError(t, err)
		other()
	})

	t.Run("transact locks on chain and signer", func(t *testing.T) {
		lock := &keyRecordingLock{}
		chain := NewChain("base-sepolia", big.NewInt(84532), &callBackend{}, "")
		token := NewToken(tokenAddr, chain, signer, lock, zap.NewNop())

		_, err := token.Transfer(context.Background(), employee, big.NewInt(1))
		assert.ErrorContains(t, err, "acquire sender lock")
		assert.Equal(t, []string{dest}, lock.keys)
	})
}

func TestABIs(t *testing.T) {
	assert.Equal(t, "setRouteInfo(address,uint32,address,bool)", PayrollABI.Methods["setRouteInfo"].Sig)
	assert.Equal(t, "getRouteInfo(address)", PayrollABI.Methods["getRouteInfo"].Sig)
	assert.Equal(t, "batchPayEmployees((address,uint256)[])", PayrollABI.Methods["batchPayEmployees"].Sig)
	assert.Equal(t, "relay(bytes,bytes)", HookWrapperABI.Methods["relay"].Sig)
	assert.Equal(t, "receiveMessage(bytes,bytes)", MessageTransmitterABI.Methods["receiveMessage"].Sig)
	assert.Equal(t, "a9059cbb", common.Bytes2Hex(ERC20ABI.Methods["transfer"].ID))

	_, err := PayrollABI.Pack("batchPayEmployees", []payrollPayment{{Employee: employee, Amount: big.NewInt(100000)}})
	assert.NoError(t, err)
}

func TestNewSigner(t *testing.T) {
	signer, err := NewSigner(testKey)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), signer.Address())

	opts, err := signer.TransactOpts(context.Background(), big.NewInt(84532))
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), opts.From)

	_, err = NewSigner("")
	assert.True(t, apperrors.IsInvalidInput(err))
	_, err = NewSigner("0xnothex")
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestChain_TxURL(t *testing.T) {
	chain := NewChain("base-sepolia", big.NewInt(84532), nil, "https://sepolia.basescan.org/")
	assert.Equal(t, "https://sepolia.basescan.org/tx/0xabc", chain.TxURL("0xabc"))
	assert.Equal(t, "", NewChain("x", big.NewInt(1), nil, "").TxURL("0xabc"))
}

func TestPayrollContract_GetRouteInfo(t *testing.T) {
	backend := &callBackend{call: func(msg ethereum.CallMsg) ([]byte, error) {
		assert.Equal(t, payrollAddr, *msg.To)
		assert.Equal(t, PayrollABI.Methods["getRouteInfo"].ID, msg.Data[:4])
		return PayrollABI.Methods["getRouteInfo"].Outputs.Pack(uint32(6), tokenAddr, true)
	}}
	chain := NewChain("polygon-amoy", big.NewInt(80002), backend, "")
	payroll := NewPayrollContract(payrollAddr, chain, nil, nil, zap.NewNop())

	route, err := payroll.GetRouteInfo(context.Background(), employee)

	require.NoError(t, err)
	assert.Equal(t, employee, route.Recipient)
	assert.Equal(t, uint32(6), route.DestinationDomain)
	assert.Equal(t, tokenAddr, route.DestinationToken)
	assert.True(t, route.LendingEnabled)
}

func TestPayrollContract_CallRevert(t *testing.T) {
	backend := &callBackend{call: func(msg ethereum.CallMsg) ([]byte, error) {
		return nil, &dataError{msg: "execution reverted", data: hexutil.Encode(packRevert(t, "not owner"))}
	}}
	chain := NewChain("polygon-amoy", big.NewInt(80002), backend, "")
	payroll := NewPayrollContract(payrollAddr, chain, nil, nil, zap.NewNop())

	_, err := payroll.GetRouteInfo(context.Background(), employee)

	require.Error(t, err)
	reason, ok := apperrors.RevertReason(err)
	assert.True(t, ok)
	assert.Equal(t, "not owner", reason)
}

func TestPayrollContract_WriteWithoutSigner(t *testing.T) {
	chain := NewChain("polygon-amoy", big.NewInt(80002), &callBackend{}, "")
	payroll := NewPayrollContract(payrollAddr, chain, nil, nil, zap.NewNop())

	_, err := payroll.SetRouteInfo(context.Background(), entities.RouteInfo{
		Recipient: employee, DestinationDomain: 6, DestinationToken: tokenAddr,
	})
	assert.ErrorContains(t, err, "no signer configured")
}

func TestToken_BalanceOf(t *testing.T) {
	backend := &callBackend{call: func(msg ethereum.CallMsg) ([]byte, error) {
		return ERC20ABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(200000))
	}}
	chain := NewChain("polygon-amoy", big.NewInt(80002), backend, "")
	token := NewToken(tokenAddr, chain, nil, nil, zap.NewNop())

	balance, err := token.BalanceOf(context.Background(), payrollAddr)

	require.NoError(t, err)
	assert.Equal(t, int64(200000), balance.Int64())
}

func TestRelayer(t *testing.T) {
	chain := NewChain("base-sepolia", big.NewInt(84532), &callBackend{}, "")

	hook, err := NewRelayer(entities.SettlementHook, payrollAddr, chain, nil, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "relay", hook.method)

	direct, err := NewRelayer(entities.SettlementDirect, payrollAddr, chain, nil, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "receiveMessage", direct.method)

	_, err = NewRelayer("bridge", payrollAddr, chain, nil, nil, zap.NewNop())
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = hook.Relay(context.Background(), &entities.RelayEnvelope{
		SourceTransactionHash: "0x" + common.Bytes2Hex(make([]byte, 32)),
		Message:               "0xabc",
		Attestation:           "0x00",
	})
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestBalanceReader(t *testing.T) {
	backend := &callBackend{call: func(msg ethereum.CallMsg) ([]byte, error) {
		assert.Equal(t, tokenAddr, *msg.To)
		return ERC20ABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(7))
	}}
	reader := NewBalanceReader(NewChain("base-sepolia", big.NewInt(84532), backend, ""), zap.NewNop())

	balance, err := reader.BalanceOf(context.Background(), tokenAddr, employee)
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance.Int64())
}
