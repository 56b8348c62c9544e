// Package settlement converts an attempt's computed reward into an
// on-chain transfer and durably records the outcome on the attempt.
//
// Settlement is deliberately fail-open: when the platform account is not
// funded, or a transfer fails or times out, the attempt is still marked
// claimed with a synthetic transaction id and the outcome is reported as
// simulated. A claim therefore happens effectively at most once, at the
// cost of a truly failed transfer being indistinguishable from a
// simulated one in the ledger.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quizfi/aptquiz/internal/chain"
	"github.com/quizfi/aptquiz/internal/domain"
	"github.com/quizfi/aptquiz/internal/errors"
	"github.com/quizfi/aptquiz/internal/event"
	"github.com/quizfi/aptquiz/internal/telemetry"
)

const defaultConfirmTimeout = 2 * time.Minute

// Ledger is the attempt store's claim operation. The conditional update
// must succeed for at most one caller per attempt.
type Ledger interface {
	ClaimIfUnclaimed(ctx context.Context, attemptID int64, txHash string) error
	// SetTransactionHash replaces the placeholder hash on an already
	// claimed attempt with the confirmed one.
	SetTransactionHash(ctx context.Context, attemptID int64, txHash string) error
}

// Accounts credits a user's bookkeeping balance.
type Accounts interface {
	CreditBalance(ctx context.Context, userID int64, amount decimal.Decimal) error
}

type Config struct {
	EventBus *event.Bus
	Ledger   Ledger
	Accounts Accounts
	Chain    chain.Transferer

	// ConfirmTimeout bounds the wait for on-chain confirmation. Expiry
	// takes the same fail-open branch as any other transfer error.
	ConfirmTimeout time.Duration
}

type Service struct {
	eb       *event.Bus
	ledger   Ledger
	accounts Accounts
	chain    chain.Transferer
	timeout  time.Duration

	// transferMu serializes outbound transfers: every claim spends from
	// the same funding account and would otherwise race on its sequence
	// number at the network level.
	transferMu sync.Mutex
}

func NewService(c Config) *Service {
	t := c.ConfirmTimeout
	if t <= 0 {
		t = defaultConfirmTimeout
	}

	return &Service{
		eb:       c.EventBus,
		ledger:   c.Ledger,
		accounts: c.Accounts,
		chain:    c.Chain,
		timeout:  t,
	}
}

type Status int

const (
	// StatusConfirmed means a real transfer was confirmed on chain.
	StatusConfirmed Status = iota
	// StatusSimulated means the attempt was marked claimed with a
	// synthetic transaction id, either because the platform account is
	// unfunded or because the transfer failed.
	StatusSimulated
	// StatusRejected means the attempt was already claimed; nothing was
	// recorded, no transfer was attempted and the balance is unchanged.
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusSimulated:
		return "simulated"
	case StatusRejected:
		return "rejected"
	}
	return "unknown"
}

// Outcome is the result of one settlement. Reason is set on simulated
// outcomes only.
type Outcome struct {
	Status          Status
	TransactionHash string
	Reason          string
}

type SettleRequest struct {
	Attempt       domain.QuizAttempt
	Username      string
	WalletAddress string
}

// Settle transfers the attempt's reward to the wallet address and records
// the outcome. Ownership, double-claim, zero-amount and missing-wallet
// preconditions are the caller's job; the ledger's conditional update is
// the backstop against concurrent claims.
//
// The conditional claim is acquired before anything touches the chain:
// exactly one caller per attempt wins it, so the loser of a claim race is
// rejected without submitting a second transfer.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (Outcome, error) {
	s.transferMu.Lock()
	defer s.transferMu.Unlock()

	funded, err := s.chain.AccountExists(ctx, s.chain.PlatformAddress())
	if err != nil {
		slog.WarnContext(ctx, "settlement: funding account lookup failed, assuming unfunded",
			"error", err)
		funded = false
	}

	if !funded {
		hash := placeholderHash("dev-tx")
		if err := s.claim(ctx, req, hash); err != nil {
			return Outcome{Status: StatusRejected}, err
		}

		return s.complete(ctx, req, hash, "platform wallet not funded on this network")
	}

	// The placeholder becomes the recorded hash if the transfer fails;
	// a confirmed transfer overwrites it below.
	hash := placeholderHash("error-tx")
	if err := s.claim(ctx, req, hash); err != nil {
		return Outcome{Status: StatusRejected}, err
	}

	confirmed, err := s.transfer(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "settlement: transfer failed, claim stays recorded as simulated",
			"attempt", req.Attempt.ID,
			"error", err)
		return s.complete(ctx, req, hash, err.Error())
	}

	// The claim itself is already durable; a stale placeholder hash is
	// recoverable from logs, so this write does not fail the settlement.
	if err := s.ledger.SetTransactionHash(ctx, req.Attempt.ID, confirmed); err != nil {
		slog.ErrorContext(ctx, "settlement: record confirmed transaction hash failed",
			"attempt", req.Attempt.ID,
			"hash", confirmed,
			"error", err)
	}

	return s.complete(ctx, req, confirmed, "")
}

// claim flips the attempt to claimed, or rejects when another settlement
// got there first.
func (s *Service) claim(ctx context.Context, req SettleRequest, hash string) error {
	err := s.ledger.ClaimIfUnclaimed(ctx, req.Attempt.ID, hash)
	if err != nil {
		if errors.IsCode(err, errors.CodeAlreadyExists) {
			telemetry.SettlementsTotal.WithLabelValues(StatusRejected.String()).Inc()
		}
		return err
	}

	return nil
}

func (s *Service) transfer(ctx context.Context, req SettleRequest) (string, error) {
	octas := chain.Octas(req.Attempt.RewardAmount)

	hash, err := s.chain.Transfer(ctx, req.WalletAddress, octas)
	if err != nil {
		return "", fmt.Errorf("transfer %d octas: %w", octas, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.chain.WaitForConfirmation(ctx, hash); err != nil {
		return "", fmt.Errorf("wait for confirmation: %w", err)
	}

	return hash, nil
}

// complete credits the nominal reward amount and reports the outcome. The
// balance is bookkeeping, decoupled from chain state.
func (s *Service) complete(ctx context.Context, req SettleRequest, hash, reason string) (Outcome, error) {
	if err := s.accounts.CreditBalance(ctx, req.Attempt.UserID, req.Attempt.RewardAmount); err != nil {
		return Outcome{Status: StatusRejected}, err
	}

	status := StatusConfirmed
	if reason != "" {
		status = StatusSimulated
	}
	telemetry.SettlementsTotal.WithLabelValues(status.String()).Inc()

	s.eb.Publish(ctx, domain.EventRewardSettled{
		AttemptID:       req.Attempt.ID,
		Username:        req.Username,
		Amount:          req.Attempt.RewardAmount,
		TransactionHash: hash,
		Simulated:       status == StatusSimulated,
	})

	return Outcome{
		Status:          status,
		TransactionHash: hash,
		Reason:          reason,
	}, nil
}

func placeholderHash(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
