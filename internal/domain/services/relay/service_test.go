package relay

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/payroll_relay/internal/domain/entities"
	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
)

const (
	sourceTx = "0x8b7e2f1a0c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7"
	destTx   = "0x1111111111111111111111111111111111111111111111111111111111111111"
)

var (
	employee    = common.HexToAddress("0xE000000000000000000000000000000000000001")
	colleague   = common.HexToAddress("0xE000000000000000000000000000000000000002")
	payrollAddr = common.HexToAddress("0xC000000000000000000000000000000000000001")
	funder      = common.HexToAddress("0xF000000000000000000000000000000000000001")
	destUSDC    = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
)

// Mocks

type MockRoutes struct{ mock.Mock }

func (m *MockRoutes) SetRoute(ctx context.Context, route entities.RouteInfo) (*entities.TxReceipt, error) {
	args := m.Called(ctx, route)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TxReceipt), args.Error(1)
}

func (m *MockRoutes) GetRoute(ctx context.Context, recipient common.Address) (*entities.RouteInfo, error) {
	args := m.Called(ctx, recipient)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.RouteInfo), args.Error(1)
}

func (m *MockRoutes) EnsureRouted(ctx context.Context, recipients []common.Address) error {
	return m.Called(ctx, recipients).Error(0)
}

type MockPayroll struct{ mock.Mock }

func (m *MockPayroll) Address() common.Address { return payrollAddr }

func (m *MockPayroll) BatchPayEmployees(ctx context.Context, batch entities.PaymentBatch) (*entities.TxReceipt, error) {
	args := m.Called(ctx, batch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TxReceipt), args.Error(1)
}

type MockToken struct{ mock.Mock }

func (m *MockToken) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	args := m.Called(ctx, holder)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockToken) Decimals(ctx context.Context) (uint8, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint8), args.Error(1)
}

func (m *MockToken) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*entities.TxReceipt, error) {
	args := m.Called(ctx, to, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TxReceipt), args.Error(1)
}

type MockRelayer struct{ mock.Mock }

func (m *MockRelayer) Relay(ctx context.Context, env *entities.RelayEnvelope) (*entities.TxReceipt, error) {
	args := m.Called(ctx, env)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TxReceipt), args.Error(1)
}

type MockBalances struct{ mock.Mock }

func (m *MockBalances) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	args := m.Called(ctx, token, holder)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

type fakeAttestation struct {
	mu        sync.Mutex
	envelopes []*entities.RelayEnvelope
	err       error
	calls     int
}

func (f *fakeAttestation) FetchAll(ctx context.Context, hash string, domain uint32) ([]*entities.RelayEnvelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.envelopes, f.err
}

type fakeStore struct {
	saved   map[string][]*entities.RelayEnvelope
	saveErr error
}

func (s *fakeStore) Save(ctx context.Context, envelopes []*entities.RelayEnvelope) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	if s.saved == nil {
		s.saved = map[string][]*entities.RelayEnvelope{}
	}
	s.saved[envelopes[0].SourceTransactionHash] = envelopes
	return "/artifacts/" + envelopes[0].SourceTransactionHash + ".json", nil
}

func (s *fakeStore) Load(ctx context.Context, hash string) ([]*entities.RelayEnvelope, error) {
	if envs, ok := s.saved[hash]; ok {
		return envs, nil
	}
	return nil, apperrors.NotFoundError("ATTESTATION_ARTIFACT")
}

func (s *fakeStore) LoadFile(ctx context.Context, path string) ([]*entities.RelayEnvelope, error) {
	return nil, apperrors.NotFoundError("ATTESTATION_ARTIFACT")
}

type recordingObserver struct {
	mu     sync.Mutex
	events []entities.RelayEvent
}

func (r *recordingObserver) OnTransition(ctx context.Context, run *entities.RelayRun, event entities.RelayEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingObserver) states() []entities.RelayState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entities.RelayState, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.To)
	}
	return out
}

func (r *recordingObserver) event(to entities.RelayState) entities.RelayEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.To == to {
			return e
		}
	}
	return entities.RelayEvent{}
}

// Fixtures

type harness struct {
	routes   *MockRoutes
	payroll  *MockPayroll
	token    *MockToken
	relayer  *MockRelayer
	balances *MockBalances
	attest   *fakeAttestation
	store    *fakeStore
	observer *recordingObserver
	orch     *Orchestrator
}

func envelope() *entities.RelayEnvelope {
	return &entities.RelayEnvelope{
		SourceTransactionHash: sourceTx,
		SourceDomain:          7,
		DestinationDomain:     6,
		Message:               "0x000000010000000700000006",
		Attestation:           "0xa1b2c3d4",
	}
}

func newHarness(t *testing.T, mode entities.SettlementMode) *harness {
	t.Helper()
	h := &harness{
		routes:   new(MockRoutes),
		payroll:  new(MockPayroll),
		token:    new(MockToken),
		relayer:  new(MockRelayer),
		balances: new(MockBalances),
		attest:   &fakeAttestation{envelopes: []*entities.RelayEnvelope{envelope()}},
		store:    &fakeStore{},
		observer: &recordingObserver{},
	}
	orch, err := NewOrchestrator(Config{
		Mode:          mode,
		SourceChainID: 80002,
		DestChainID:   84532,
		SourceDomain:  7,
		Funder:        funder,
		TxURL:         func(hash string) string { return "https://sepolia.basescan.org/tx/" + hash },
	}, Dependencies{
		Attestation: h.attest,
		Routes:      h.routes,
		Payroll:     h.payroll,
		Token:       h.token,
		Relayer:     h.relayer,
		Balances:    h.balances,
		Envelopes:   h.store,
		Observers:   []Observer{h.observer, NewLogObserver(zap.NewNop()), MetricsObserver{}, TracingObserver{}},
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

func plan(mode entities.SettlementMode) *entities.PayrollPlan {
	return &entities.PayrollPlan{
		Name:         "weekly",
		Mode:         mode,
		SourceDomain: 7,
		Routes: []entities.RouteInfo{{
			Recipient: employee, DestinationDomain: 6, DestinationToken: destUSDC,
		}},
		Payments: entities.PaymentBatch{{Recipient: employee, Amount: big.NewInt(100000)}},
	}
}

func receipt(hash string, gas uint64) *entities.TxReceipt {
	return &entities.TxReceipt{TxHash: common.HexToHash(hash), GasUsed: gas, Success: true}
}

func TestRun_EndToEndDelivered(t *testing.T) {
	h := newHarness(t, entities.SettlementHook)
	ctx := context.Background()
	p := plan(entities.SettlementHook)

	h.routes.On("SetRoute", mock.Anything, p.Routes[0]).Return(receipt("0x01", 50000), nil)
	h.routes.On("EnsureRouted", mock.Anything, []common.Address{employee}).Return(nil)
	h.token.On("BalanceOf", mock.Anything, payrollAddr).Return(big.NewInt(200000), nil)
	h.payroll.On("BatchPayEmployees", mock.Anything, p.Payments).Return(receipt(sourceTx, 180000), nil)
	h.relayer.On("Relay", mock.Anything, mock.AnythingOfType("*entities.RelayEnvelope")).Return(receipt(destTx, 120000), nil)

	outcome, err := h.orch.Run(ctx, p)

	require.NoError(t, err)
	assert.True(t, outcome.Delivered())
	assert.Equal(t, sourceTx, outcome.SourceTxHash)
	require.Len(t, outcome.DestTxHashes, 1)
	assert.Equal(t, destTx, outcome.DestTxHashes[0])
	assert.Equal(t, "/artifacts/"+sourceTx+".json", outcome.ArtifactPath)
	assert.Equal(t, int64(350000), outcome.Run.GasUsed)
	assert.Equal(t, "100000", outcome.Run.TotalAmount.String())
	assert.Equal(t, []entities.RelayState{
		entities.RelayStateConfiguring,
		entities.RelayStateFunding,
		entities.RelayStateSubmitted,
		entities.RelayStateAttesting,
		entities.RelayStateAttested,
		entities.RelayStateRelaying,
		entities.RelayStateDelivered,
	}, h.observer.states())
	assert.Contains(t, h.store.saved, sourceTx)
	h.routes.AssertExpectations(t)
	h.payroll.AssertExpectations(t)
	h.relayer.AssertExpectations(t)
}

func TestRun_TransitionsReportStageGas(t *testing.T) {
	h := newHarness(t, entities.SettlementHook)
	p := plan(entities.SettlementHook)
	routeTx := common.HexToHash("0x01").Hex()

	h.routes.On("SetRoute", mock.Anything, p.Routes[0]).Return(receipt(routeTx, 50000), nil)
	h.routes.On("EnsureRouted", mock.Anything, []common.Address{employee}).Return(nil)
	h.token.On("BalanceOf", mock.Anything, payrollAddr).Return(big.NewInt(200000), nil)
	h.payroll.On("BatchPayEmployees", mock.Anything, p.Payments).Return(receipt(sourceTx, 180000), nil)
	h.relayer.On("Relay", mock.Anything, mock.Anything).Return(receipt(destTx, 120000), nil)

	_, err := h.orch.Run(context.Background(), p)
	require.NoError(t, err)

	funding := h.observer.event(entities.RelayStateFunding)
	assert.Equal(t, uint64(50000), funding.GasUsed)
	assert.Equal(t, []string{routeTx}, funding.TxHashes)

	submitted := h.observer.event(entities.RelayStateSubmitted)
	assert.Equal(t, uint64(180000), submitted.GasUsed)
	assert.Equal(t, sourceTx, submitted.TxHash)
	assert.Equal(t, []string{sourceTx}, submitted.TxHashes)

	assert.Zero(t, h.observer.event(entities.RelayStateAttested).GasUsed)

	delivered := h.observer.event(entities.RelayStateDelivered)
	assert.Equal(t, uint64(120000), delivered.GasUsed)
	assert.Equal(t, []string{destTx}, delivered.TxHashes)
	assert.Empty(t, delivered.TxHash)
}

func TestRun_RevertedRelayKeepsDestinationHash(t *testing.T) {
	h := newHarness(t, entities.SettlementDirect)
	p := plan(entities.SettlementDirect)
	p.Routes = nil

	reverted := &entities.TxReceipt{TxHash: common.HexToHash(destTx), GasUsed: 50000}
	revertErr := apperrors.TransactionRevertedError("receiveMessage", "Nonce already used")
	revertErr.Details["tx_hash"] = destTx

	h.token.On("BalanceOf", mock.Anything, payrollAddr).Return(big.NewInt(200000), nil)
	h.payroll.On("BatchPayEmployees", mock.Anything, p.Payments).Return(receipt(sourceTx, 1), nil)
	h.relayer.On("Relay", mock.Anything, mock.Anything).Return(reverted, revertErr)

	outcome, err := h.orch.Run(context.Background(), p)

	require.Error(t, err)
	assert.True(t, apperrors.IsRelayReverted(err))
	assert.Equal(t, []string{destTx}, outcome.DestTxHashes)
	assert.Equal(t, destTx, outcome.Run.DestTxHashes)
	assert.Equal(t, int64(50001), outcome.Run.GasUsed)

	details := apperrors.GetErrorDetails(err)
	assert.Equal(t, destTx, details["tx_hash"])
	assert.Equal(t, "Nonce already used", details["reason"])

	failed := h.observer.event(entities.RelayStateFailed)
	assert.Equal(t, []string{destTx}, failed.TxHashes)
	assert.Equal(t, uint64(50000), failed.GasUsed)
}

func TestRun_TokenDecimalsMismatchStopsBeforeRoutes(t *testing.T) {
	h := newHarness(t, entities.SettlementHook)
	p := plan(entities.SettlementHook)
	p.Decimals = 6

	h.token.On("Decimals", mock.Anything).Return(uint8(18), nil)

	outcome, err := h.orch.Run(context.Background(), p)

	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidInput(err))
	assert.Equal(t, entities.RelayStateFailed, outcome.State)
	assert.Equal(t, "decimals", apperrors.GetErrorDetails(err)["field"])
	h.routes.AssertNotCalled(t, "SetRoute", mock.Anything, mock.Anything)
	h.payroll.AssertNotCalled(t, "BatchPayEmployees", mock.Anything, mock.Anything)
}

func TestRun_TokenDecimalsMatch(t *testing.T) {
	h := newHarness(t, entities.SettlementDirect)
	p := plan(entities.SettlementDirect)
	p.Routes = nil
	p.Decimals = 6

	h.token.On("Decimals", mock.Anything).Return(uint8(6), nil)
	h.token.On("BalanceOf", mock.Anything, payrollAddr).Return(big.NewInt(200000), nil)
	h.payroll.On("BatchPayEmployees", mock.Anything, p.Payments).Return(receipt(sourceTx, 1), nil)
	h.relayer.On("Relay", mock.Anything, mock.Anything).Return(receipt(destTx, 1), nil)

	outcome, err := h.orch.Run(context.Background(), p)

	require.NoError(t, err)
	assert.True(t, outcome.Delivered())
	h.token.AssertExpectations(t)
}

func TestRun_UnroutedRecipientNeverReachesFunding(t *testing.T) {
	h := newHarness(t, entities.SettlementHook)
	p := plan(entities.SettlementHook)
	p.Routes = nil
	p.Payments = append(p.Payments, entities.PaymentRequest{Recipient: colleague, Amount: big.NewInt(5)})

	h.routes.On("EnsureRouted", mock.Anything, []common.Address{employee, colleague}).
		Return(apperrors.UnroutedRecipientError(colleague.Hex()))

	outcome, err := h.orch.Run(context.Background(), p)

	require.Error(t, err)
	assert.True(t, apperrors.IsUnroutedRecipient(err))
	var stageErr *apperrors.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, string(entities.RelayStateConfiguring), stageErr.Stage)
	assert.Equal(t, entities.RelayStateFailed, outcome.State)
	assert.Equal(t, "UNROUTED_RECIPIENT", outcome.FailureCode)
	assert.NotContains(t, h.observer.states(), entities.RelayStateFunding)
	h.token.AssertNotCalled(t, "BalanceOf", mock.Anything, mock.Anything)
	h.payroll.AssertNotCalled(t, "BatchPayEmployees", mock.Anything, mock.Anything)
}

func TestRun_InsufficientBalanceNeverSubmits(t *testing.T) {
	h := newHarness(t, entities.SettlementHook)
	p := plan(entities.SettlementHook)

	h.routes.On("SetRoute", mock.Anything, mock.Anything).Return(receipt("0x01", 1), nil)
	h.routes.On("EnsureRouted", mock.Anything, mock.Anything).Return(nil)
	h.token.On("BalanceOf", mock.Anything, payrollAddr).Return(big.NewInt(99999), nil)

	outcome, err := h.orch.Run(context.Background(), p)

	require.Error(t, err)
	assert.True(t, apperrors.IsInsufficientBalance(err))
	details := apperrors.GetErrorDetails(err)
	assert.Equal(t, "100000", details["required"])
	assert.Equal(t, "99999", details["available"])
	assert.Equal(t, entities.RelayStateFailed, outcome.State)
	assert.Empty(t, outcome.SourceTxHash)
	h.payroll.AssertNotCalled(t, "BatchPayEmployees", mock.Anything, mock.Anything)
}

func TestRun_TopUp(t *testing.T) {
	t.Run("transfers before checking payroll balance", func(t *testing.T) {
		h := newHarness(t, entities.SettlementDirect)
		p := plan(entities.SettlementDirect)
		p.Routes = nil
		p.TopUp = big.NewInt(100000)

		h.token.On("BalanceOf", mock.Anything, funder).Return(big.NewInt(1000000), nil).Once()
		h.token.On("Transfer", mock.Anything, payrollAddr, p.TopUp).Return(receipt("0x02", 40000), nil).Once()
		h.token.On("BalanceOf", mock.Anything, payrollAddr).Return(big.NewInt(100000), nil).Once()
		h.payroll.On("BatchPayEmployees", mock.Anything, p.Payments).Return(receipt(sourceTx, 1), nil)
		h.relayer.On("Relay", mock.Anything, mock.Anything).Return(receipt(destTx, 1), nil)

		outcome, err := h.orch.Run(context.Background(), p)

		require.NoError(t, err)
		assert.True(t, outcome.Delivered())
		h.token.AssertExpectations(t)
		h.routes.AssertNotCalled(t, "EnsureRouted", mock.Anything, mock.Anything)
	})

	t.Run("refuses when funder cannot cover", func(t *testing.T) {
		h := newHarness(t, entities.SettlementDirect)
		p := plan(entities.SettlementDirect)
		p.Routes = nil
		p.TopUp = big.NewInt(100000)

		h.token.On("BalanceOf", mock.Anything, funder).Return(big.NewInt(10), nil)

		_, err := h.orch.Run(context.Background(), p)

		assert.True(t, apperrors.IsInsufficientBalance(err))
		h.token.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything)
		h.payroll.AssertNotCalled(t, "BatchPayEmployees", mock.Anything, mock.Anything)
	})
}

func TestRun_SubmissionRevert(t *testing.T) {
	h := newHarness(t, entities.SettlementDirect)
	p := plan(entities.SettlementDirect)
	p.Routes = nil

	h.token.On("BalanceOf", mock.Anything, payrollAddr).Return(big.NewInt(200000), nil)
	failed := &entities.TxReceipt{TxHash: common.HexToHash(sourceTx), GasUsed: 30000}
	h.payroll.On("BatchPayEmployees", mock.Anything, p.Payments).
		Return(failed, apperrors.TransactionRevertedError("batchPayEmployees", "Insufficient USDC"))

	outcome, err := h.orch.Run(context.Background(), p)

	require.Error(t, err)
	assert.True(t, apperrors.IsReverted(err))
	assert.False(t, apperrors.IsRelayReverted(err))
	assert.Equal(t, sourceTx, outcome.SourceTxHash)
	assert.Equal(t, 0, h.attest.calls)
}

func TestRun_AttestationTimeoutIsResumable(t *testing.T) {
	h := newHarness(t, entities.SettlementDirect)
	p := plan(entities.SettlementDirect)
	p.Routes = nil
	h.attest.envelopes = nil
	h.attest.err = apperrors.AttestationTimeoutError(sourceTx, 24)

	h.token.On("BalanceOf", mock.Anything, payrollAddr).Return(big.NewInt(200000), nil)
	h.payroll.On("BatchPayEmployees", mock.Anything, p.Payments).Return(receipt(sourceTx, 1), nil)

	outcome, err := h.orch.Run(context.Background(), p)

	require.Error(t, err)
	assert.True(t, apperrors.IsAttestationTimeout(err))
	var stageErr *apperrors.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, string(entities.RelayStateAttesting), stageErr.Stage)
	assert.Equal(t, sourceTx, stageErr.SourceTxHash)
	assert.Equal(t, "ATTESTATION_TIMEOUT", outcome.FailureCode)
	h.relayer.AssertNotCalled(t, "Relay", mock.Anything, mock.Anything)
}

func TestRun_RelayRevertCarriesReason(t *testing.T) {
	h := newHarness(t, entities.SettlementDirect)
	p := plan(entities.SettlementDirect)
	p.Routes = nil

	h.token.On("BalanceOf", mock.Anything, payrollAddr).Return(big.NewInt(200000), nil)
	h.payroll.On("BatchPayEmployees", mock.Anything, p.Payments).Return(receipt(sourceTx, 1), nil)
	h.relayer.On("Relay", mock.Anything, mock.Anything).
		Return(nil, apperrors.TransactionRevertedError("receiveMessage", "Nonce already used"))

	outcome, err := h.orch.Run(context.Background(), p)

	require.Error(t, err)
	assert.True(t, apperrors.IsRelayReverted(err))
	assert.Equal(t, "RELAY_REVERTED", outcome.FailureCode)
	assert.Contains(t, outcome.Reason, "Nonce already used")
	states := h.observer.states()
	assert.Equal(t, entities.RelayStateFailed, states[len(states)-1])
	assert.Contains(t, states, entities.RelayStateRelaying)
}

func TestRun_RejectsInvalidPlanWithoutCalls(t *testing.T) {
	h := newHarness(t, entities.SettlementHook)

	p := plan(entities.SettlementHook)
	p.Payments = entities.PaymentBatch{{Recipient: employee, Amount: big.NewInt(0)}}
	_, err := h.orch.Run(context.Background(), p)
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = h.orch.Run(context.Background(), plan(entities.SettlementDirect))
	assert.True(t, apperrors.IsInvalidInput(err))

	assert.Empty(t, h.observer.states())
	h.routes.AssertNotCalled(t, "SetRoute", mock.Anything, mock.Anything)
}

func TestRun_VerifyDeliveryWarnsOnly(t *testing.T) {
	h := newHarness(t, entities.SettlementHook)
	p := plan(entities.SettlementHook)
	p.VerifyDelivery = true
	p.Routes = nil
	p.Payments = append(p.Payments, entities.PaymentRequest{Recipient: colleague, Amount: big.NewInt(1)})

	h.routes.On("EnsureRouted", mock.Anything, mock.Anything).Return(nil)
	h.routes.On("GetRoute", mock.Anything, employee).
		Return(&entities.RouteInfo{Recipient: employee, DestinationDomain: 6, DestinationToken: destUSDC}, nil)
	h.routes.On("GetRoute", mock.Anything, colleague).
		Return(&entities.RouteInfo{Recipient: colleague, DestinationDomain: 6, DestinationToken: destUSDC, LendingEnabled: true}, nil)
	h.token.On("BalanceOf", mock.Anything, payrollAddr).Return(big.NewInt(200000), nil)
	h.payroll.On("BatchPayEmployees", mock.Anything, p.Payments).Return(receipt(sourceTx, 1), nil)
	h.relayer.On("Relay", mock.Anything, mock.Anything).Return(receipt(destTx, 1), nil)
	h.balances.On("BalanceOf", mock.Anything, destUSDC, employee).Return(big.NewInt(0), nil)

	outcome, err := h.orch.Run(context.Background(), p)

	require.NoError(t, err)
	assert.True(t, outcome.Delivered())
	h.balances.AssertNumberOfCalls(t, "BalanceOf", 2)
	h.balances.AssertNotCalled(t, "BalanceOf", mock.Anything, destUSDC, colleague)
}

func TestResume_PersistedEnvelopeSkipsAttestation(t *testing.T) {
	h := newHarness(t, entities.SettlementHook)
	h.store.saved = map[string][]*entities.RelayEnvelope{sourceTx: {envelope()}}
	h.relayer.On("Relay", mock.Anything, mock.Anything).Return(receipt(destTx, 1), nil)

	outcome, err := h.orch.Resume(context.Background(), ResumeRequest{SourceTxHash: sourceTx})

	require.NoError(t, err)
	assert.True(t, outcome.Delivered())
	assert.Equal(t, 0, h.attest.calls)
	assert.Equal(t, []entities.RelayState{
		entities.RelayStateAttested,
		entities.RelayStateRelaying,
		entities.RelayStateDelivered,
	}, h.observer.states())
	h.payroll.AssertNotCalled(t, "BatchPayEmployees", mock.Anything, mock.Anything)
}

func TestResume_PollsWhenNothingPersisted(t *testing.T) {
	h := newHarness(t, entities.SettlementHook)
	h.relayer.On("Relay", mock.Anything, mock.Anything).Return(receipt(destTx, 1), nil)

	outcome, err := h.orch.Resume(context.Background(), ResumeRequest{SourceTxHash: sourceTx})

	require.NoError(t, err)
	assert.True(t, outcome.Delivered())
	assert.Equal(t, 1, h.attest.calls)
	assert.Equal(t, entities.RelayStateAttesting, h.observer.states()[0])
	h.payroll.AssertNotCalled(t, "BatchPayEmployees", mock.Anything, mock.Anything)
}

func TestResume_RejectsMalformedInput(t *testing.T) {
	h := newHarness(t, entities.SettlementHook)

	_, err := h.orch.Resume(context.Background(), ResumeRequest{SourceTxHash: "0xabc"})
	assert.True(t, apperrors.IsInvalidInput(err))

	bad := envelope()
	bad.Attestation = "0x123"
	_, err = h.orch.Resume(context.Background(), ResumeRequest{SourceTxHash: sourceTx, Envelopes: []*entities.RelayEnvelope{bad}})
	assert.True(t, apperrors.IsInvalidInput(err))

	assert.Equal(t, 0, h.attest.calls)
	h.relayer.AssertNotCalled(t, "Relay", mock.Anything, mock.Anything)
}

func TestDeliver(t *testing.T) {
	h := newHarness(t, entities.SettlementDirect)
	h.attest = nil
	second := envelope()
	second.Message = "0x0000000200000007"
	h.relayer.On("Relay", mock.Anything, mock.Anything).Return(receipt(destTx, 1), nil).Twice()

	outcome, err := h.orch.Deliver(context.Background(), []*entities.RelayEnvelope{envelope(), second})

	require.NoError(t, err)
	assert.Len(t, outcome.DestTxHashes, 2)
	h.relayer.AssertExpectations(t)

	_, err = h.orch.Deliver(context.Background(), nil)
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestRun_CancelledDuringAttestation(t *testing.T) {
	h := newHarness(t, entities.SettlementDirect)
	p := plan(entities.SettlementDirect)
	p.Routes = nil
	ctx, cancel := context.WithCancel(context.Background())
	h.attest.envelopes = nil
	h.attest.err = context.Canceled

	h.token.On("BalanceOf", mock.Anything, payrollAddr).Return(big.NewInt(200000), nil)
	h.payroll.On("BatchPayEmployees", mock.Anything, p.Payments).Run(func(mock.Arguments) { cancel() }).
		Return(receipt(sourceTx, 1), nil)

	outcome, err := h.orch.Run(ctx, p)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, entities.RelayStateFailed, outcome.State)
	assert.Equal(t, sourceTx, outcome.SourceTxHash)
}

func TestNewOrchestrator_Validation(t *testing.T) {
	_, err := NewOrchestrator(Config{Mode: "bridge"}, Dependencies{Relayer: new(MockRelayer)})
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = NewOrchestrator(Config{Mode: entities.SettlementDirect}, Dependencies{})
	assert.True(t, apperrors.IsInvalidInput(err))

	// delivery-only orchestrators need no source-chain collaborators
	_, err = NewOrchestrator(Config{Mode: entities.SettlementHook}, Dependencies{Relayer: new(MockRelayer)})
	assert.NoError(t, err)
}

func TestRun_HookWithoutRouteRegistry(t *testing.T) {
	orch, err := NewOrchestrator(Config{Mode: entities.SettlementHook}, Dependencies{
		Relayer:     new(MockRelayer),
		Payroll:     new(MockPayroll),
		Token:       new(MockToken),
		Attestation: &fakeAttestation{},
	})
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), plan(entities.SettlementHook))
	assert.True(t, apperrors.IsInvalidInput(err))
}
