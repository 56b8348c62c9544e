package settlement_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quizfi/aptquiz/internal/domain"
	apperrors "github.com/quizfi/aptquiz/internal/errors"
	"github.com/quizfi/aptquiz/internal/event"
	"github.com/quizfi/aptquiz/internal/settlement"
)

func TestSettle_ConfirmedTransfer(t *testing.T) {
	ch := &fakeChain{funded: true, transferHash: "0xabc123"}
	ledger := newFakeLedger()
	accounts := &fakeAccounts{}

	s := makeService(ch, ledger, accounts, nil)

	out, err := s.Settle(context.Background(), settleRequest())
	require.NoError(t, err)

	require.Equal(t, settlement.StatusConfirmed, out.Status)
	require.Equal(t, "0xabc123", out.TransactionHash)
	require.Empty(t, out.Reason)

	require.Equal(t, "0xabc123", ledger.claims[42])
	require.Equal(t, uint64(350_000_000), ch.transferredOctas)
	require.Equal(t, "0xwallet", ch.transferredTo)
	requireCredited(t, accounts, "3.5")
}

func TestSettle_UnfundedPlatformSimulates(t *testing.T) {
	ch := &fakeChain{funded: false}
	ledger := newFakeLedger()
	accounts := &fakeAccounts{}

	s := makeService(ch, ledger, accounts, nil)

	out, err := s.Settle(context.Background(), settleRequest())
	require.NoError(t, err)

	require.Equal(t, settlement.StatusSimulated, out.Status)
	require.True(t, strings.HasPrefix(out.TransactionHash, "dev-tx-"))
	require.NotEmpty(t, out.Reason)

	// No transfer is attempted, but the claim still sticks.
	require.Zero(t, ch.transferCalls)
	require.Equal(t, out.TransactionHash, ledger.claims[42])
	requireCredited(t, accounts, "3.5")
}

func TestSettle_TransferErrorFailsOpen(t *testing.T) {
	ch := &fakeChain{funded: true, transferErr: errors.New("sequence number too old")}
	ledger := newFakeLedger()
	accounts := &fakeAccounts{}

	s := makeService(ch, ledger, accounts, nil)

	out, err := s.Settle(context.Background(), settleRequest())
	require.NoError(t, err, "transfer failures must not surface as errors")

	require.Equal(t, settlement.StatusSimulated, out.Status)
	require.True(t, strings.HasPrefix(out.TransactionHash, "error-tx-"))
	require.Contains(t, out.Reason, "sequence number too old")

	require.Equal(t, out.TransactionHash, ledger.claims[42])
	requireCredited(t, accounts, "3.5")
}

func TestSettle_ConfirmationTimeoutFailsOpen(t *testing.T) {
	ch := &fakeChain{funded: true, transferHash: "0xslow", waitForever: true}
	ledger := newFakeLedger()
	accounts := &fakeAccounts{}

	s := settlement.NewService(settlement.Config{
		EventBus:       event.NewBus(),
		Ledger:         ledger,
		Accounts:       accounts,
		Chain:          ch,
		ConfirmTimeout: 10 * time.Millisecond,
	})

	out, err := s.Settle(context.Background(), settleRequest())
	require.NoError(t, err)

	require.Equal(t, settlement.StatusSimulated, out.Status)
	require.True(t, strings.HasPrefix(out.TransactionHash, "error-tx-"))
	require.Equal(t, out.TransactionHash, ledger.claims[42])
}

func TestSettle_LostRaceNeverReachesChain(t *testing.T) {
	// Another settlement won the claim after this caller's precondition
	// check; the conditional update must reject before any transfer.
	ch := &fakeChain{funded: true, transferHash: "0xsecond"}
	ledger := newFakeLedger()
	ledger.claims[42] = "0xwinner"
	accounts := &fakeAccounts{}

	s := makeService(ch, ledger, accounts, nil)

	out, err := s.Settle(context.Background(), settleRequest())
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeAlreadyExists))

	require.Equal(t, settlement.StatusRejected, out.Status)
	require.Zero(t, ch.transferCalls, "a rejected claim must not execute an on-chain transfer")
	require.Equal(t, "0xwinner", ledger.claims[42], "recorded hash must not change")
	require.Empty(t, accounts.credited, "a rejected claim must not move the balance")
}

func TestSettle_AlreadyClaimedIsRejected(t *testing.T) {
	ch := &fakeChain{funded: false}
	ledger := newFakeLedger()
	ledger.claims[42] = "0xearlier"
	accounts := &fakeAccounts{}

	s := makeService(ch, ledger, accounts, nil)

	out, err := s.Settle(context.Background(), settleRequest())
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeAlreadyExists))

	require.Equal(t, settlement.StatusRejected, out.Status)
	require.Equal(t, "0xearlier", ledger.claims[42], "recorded hash must not change")
	require.Empty(t, accounts.credited, "a rejected claim must not move the balance")
}

func TestSettle_PublishesRewardSettledEvent(t *testing.T) {
	eb := event.NewBus()

	var (
		mu     sync.Mutex
		events []domain.EventRewardSettled
	)
	eb.Subscribe(domain.EventNameRewardSettled, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		events = append(events, e.(domain.EventRewardSettled))
		mu.Unlock()
		return nil
	})

	s := makeService(&fakeChain{funded: false}, newFakeLedger(), &fakeAccounts{}, eb)

	out, err := s.Settle(context.Background(), settleRequest())
	require.NoError(t, err)
	eb.Stop()

	require.Len(t, events, 1)
	require.Equal(t, int64(42), events[0].AttemptID)
	require.Equal(t, "alice", events[0].Username)
	require.Equal(t, out.TransactionHash, events[0].TransactionHash)
	require.True(t, events[0].Simulated)
}

func settleRequest() settlement.SettleRequest {
	return settlement.SettleRequest{
		Attempt: domain.QuizAttempt{
			ID:           42,
			UserID:       7,
			QuizID:       1,
			Score:        7,
			RewardAmount: decimal.RequireFromString("3.5"),
		},
		Username:      "alice",
		WalletAddress: "0xwallet",
	}
}

func makeService(ch *fakeChain, ledger *fakeLedger, accounts *fakeAccounts, eb *event.Bus) *settlement.Service {
	if eb == nil {
		eb = event.NewBus()
	}

	return settlement.NewService(settlement.Config{
		EventBus: eb,
		Ledger:   ledger,
		Accounts: accounts,
		Chain:    ch,
	})
}

func requireCredited(t *testing.T, accounts *fakeAccounts, want string) {
	t.Helper()
	require.Len(t, accounts.credited, 1)
	require.True(t, decimal.RequireFromString(want).Equal(accounts.credited[0]),
		"want %s credited, got %s", want, accounts.credited[0])
}

type fakeChain struct {
	funded      bool
	fundedErr   error
	transferErr error
	waitErr     error
	waitForever bool

	transferHash     string
	transferCalls    int
	transferredTo    string
	transferredOctas uint64
}

func (f *fakeChain) PlatformAddress() string { return "0xplatform" }

func (f *fakeChain) AccountExists(context.Context, string) (bool, error) {
	return f.funded, f.fundedErr
}

func (f *fakeChain) Transfer(_ context.Context, to string, octas uint64) (string, error) {
	f.transferCalls++
	f.transferredTo = to
	f.transferredOctas = octas
	if f.transferErr != nil {
		return "", f.transferErr
	}
	return f.transferHash, nil
}

func (f *fakeChain) WaitForConfirmation(ctx context.Context, _ string) error {
	if f.waitForever {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.waitErr
}

type fakeLedger struct {
	mu     sync.Mutex
	claims map[int64]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{claims: make(map[int64]string)}
}

func (f *fakeLedger) ClaimIfUnclaimed(_ context.Context, attemptID int64, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.claims[attemptID]; ok {
		return apperrors.New(apperrors.CodeAlreadyExists,
			apperrors.WithMessagef("reward already claimed: attempt=%d", attemptID))
	}

	f.claims[attemptID] = txHash
	return nil
}

func (f *fakeLedger) SetTransactionHash(_ context.Context, attemptID int64, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.claims[attemptID]; !ok {
		return apperrors.New(apperrors.CodeNotFound,
			apperrors.WithMessagef("no claimed attempt: id=%d", attemptID))
	}

	f.claims[attemptID] = txHash
	return nil
}

type fakeAccounts struct {
	mu       sync.Mutex
	credited []decimal.Decimal
}

func (f *fakeAccounts) CreditBalance(_ context.Context, _ int64, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.credited = append(f.credited, amount)
	return nil
}
