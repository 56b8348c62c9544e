// Package attempt is the ledger of completed quiz submissions. An attempt
// is written once when a user submits answers and mutated exactly once,
// when its reward is claimed.
package attempt

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quizfi/aptquiz/internal/domain"
	"github.com/quizfi/aptquiz/internal/errors"
	"github.com/quizfi/aptquiz/internal/event"
)

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
}

type Service struct {
	eb *event.Bus
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{
		eb: c.EventBus,
		db: c.DB,
	}
}

type RecordRequest struct {
	UserID       int64
	Username     string
	QuizID       int64
	Score        int
	RewardAmount decimal.Decimal
}

// Record persists a new attempt with the reward unclaimed.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*domain.QuizAttempt, error) {
	const stmt = `
INSERT INTO quiz_attempts (user_id, quiz_id, score, reward_amount, reward_claimed, completed_at)
VALUES ($1, $2, $3, $4, FALSE, $5)
RETURNING id;`

	a := domain.QuizAttempt{
		UserID:       req.UserID,
		QuizID:       req.QuizID,
		Score:        req.Score,
		RewardAmount: req.RewardAmount,
		CompletedAt:  time.Now().UTC(),
	}

	err := s.db.QueryRow(ctx, stmt, a.UserID, a.QuizID, a.Score, a.RewardAmount, a.CompletedAt).Scan(&a.ID)
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventAttemptRecorded{
		Attempt:  a,
		Username: req.Username,
	})

	return &a, nil
}

// Lookup returns the attempt with the given id.
func (s *Service) Lookup(ctx context.Context, id int64) (*domain.QuizAttempt, error) {
	const stmt = `
SELECT id, user_id, quiz_id, score, reward_amount, reward_claimed, COALESCE(transaction_hash, ''), completed_at
FROM quiz_attempts
WHERE id = $1;`

	var a domain.QuizAttempt
	err := s.db.QueryRow(ctx, stmt, id).Scan(
		&a.ID, &a.UserID, &a.QuizID, &a.Score, &a.RewardAmount,
		&a.RewardClaimed, &a.TransactionHash, &a.CompletedAt,
	)
	if err == pgx.ErrNoRows || err == sql.ErrNoRows {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz attempt not found: id=%d", id))
	}
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// ListByUser returns all attempts of a user, newest first.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]domain.QuizAttempt, error) {
	const stmt = `
SELECT id, user_id, quiz_id, score, reward_amount, reward_claimed, COALESCE(transaction_hash, ''), completed_at
FROM quiz_attempts
WHERE user_id = $1
ORDER BY completed_at DESC;`

	rows, err := s.db.Query(ctx, stmt, userID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.QuizAttempt, error) {
		var a domain.QuizAttempt
		err := r.Scan(&a.ID, &a.UserID, &a.QuizID, &a.Score, &a.RewardAmount,
			&a.RewardClaimed, &a.TransactionHash, &a.CompletedAt)
		return a, err
	})
}

// ClaimIfUnclaimed flips reward_claimed and sets the transaction hash in a
// single conditional update. It succeeds for exactly one caller per
// attempt; concurrent claims lose with an already-exists error, so the
// check-then-act race never reaches the chain twice.
func (s *Service) ClaimIfUnclaimed(ctx context.Context, id int64, txHash string) error {
	const stmt = `
UPDATE quiz_attempts
SET reward_claimed = TRUE, transaction_hash = $2
WHERE id = $1 AND reward_claimed = FALSE;`

	tag, err := s.db.Exec(ctx, stmt, id, txHash)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("reward already claimed: attempt=%d", id))
	}

	return nil
}

// SetTransactionHash replaces the hash recorded on a claimed attempt.
// Settlement claims with a placeholder before touching the chain and
// overwrites it here once the real transfer confirms.
func (s *Service) SetTransactionHash(ctx context.Context, id int64, txHash string) error {
	const stmt = `
UPDATE quiz_attempts
SET transaction_hash = $2
WHERE id = $1 AND reward_claimed = TRUE;`

	tag, err := s.db.Exec(ctx, stmt, id, txHash)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("no claimed attempt: id=%d", id))
	}

	return nil
}

// StatRow is one attempt joined with its quiz's question count.
type StatRow struct {
	Score         int
	QuestionCount int
	RewardAmount  decimal.Decimal
	RewardClaimed bool
}

// Stats recomputes a user's summary metrics from their full attempt
// history on every call.
func (s *Service) Stats(ctx context.Context, userID int64) (*domain.UserStats, error) {
	const stmt = `
SELECT a.score, q.question_count, a.reward_amount, a.reward_claimed
FROM quiz_attempts a
JOIN quizzes q ON q.id = a.quiz_id
WHERE a.user_id = $1;`

	rows, err := s.db.Query(ctx, stmt, userID)
	if err != nil {
		return nil, err
	}

	history, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (StatRow, error) {
		var sr StatRow
		err := r.Scan(&sr.Score, &sr.QuestionCount, &sr.RewardAmount, &sr.RewardClaimed)
		return sr, err
	})
	if err != nil {
		return nil, err
	}

	st := ComputeStats(history)
	return &st, nil
}

// knowledgeScoreMultiplier converts total correct answers into the
// headline "knowledge score" shown on the profile page.
const knowledgeScoreMultiplier = 10

// ComputeStats folds an attempt history into summary metrics. A user with
// no attempts gets all zeros.
func ComputeStats(history []StatRow) domain.UserStats {
	st := domain.UserStats{
		QuizzesTaken: len(history),
		AptEarned:    decimal.Zero,
	}

	totalCorrect, totalQuestions := 0, 0
	for _, row := range history {
		totalCorrect += row.Score
		totalQuestions += row.QuestionCount
		if row.RewardClaimed {
			st.AptEarned = st.AptEarned.Add(row.RewardAmount)
		}
	}

	if totalQuestions > 0 {
		rate := decimal.NewFromInt(int64(totalCorrect) * 100).
			Div(decimal.NewFromInt(int64(totalQuestions))).
			Round(0)
		st.SuccessRate = int(rate.IntPart())
	}

	st.KnowledgeScore = totalCorrect * knowledgeScoreMultiplier
	return st
}
