// Package scoring holds the pure quiz-grading math: counting correct
// answers and deriving the proportional APT reward for an attempt.
package scoring

import (
	"github.com/shopspring/decimal"

	"github.com/quizfi/aptquiz/internal/domain"
	"github.com/quizfi/aptquiz/internal/errors"
)

// RewardPrecision is the number of decimal places carried by reward
// amounts, matching the octa convention (1 APT = 10^8 octas).
const RewardPrecision = 8

// Score counts how many submitted answers match the correct option of the
// question at the same position. One point per correct answer, no partial
// credit, no penalty. The answer vector must cover every question exactly;
// a length mismatch rejects the whole submission.
func Score(questions []domain.Question, answers []int) (int, error) {
	if len(answers) != len(questions) {
		return 0, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("expected %d answers, got %d", len(questions), len(answers)))
	}

	score := 0
	for i, q := range questions {
		if answers[i] == q.CorrectOption {
			score++
		}
	}

	return score, nil
}

// Reward computes quizReward * score / totalQuestions rounded to 8 decimal
// places. A quiz with zero questions is an invalid configuration and never
// reaches here through the submit path.
func Reward(quizReward decimal.Decimal, score, totalQuestions int) (decimal.Decimal, error) {
	if totalQuestions <= 0 {
		return decimal.Zero, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("quiz has no questions"))
	}

	if score < 0 || score > totalQuestions {
		return decimal.Zero, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("score %d out of range [0, %d]", score, totalQuestions))
	}

	r := quizReward.
		Mul(decimal.NewFromInt(int64(score))).
		Div(decimal.NewFromInt(int64(totalQuestions))).
		Round(RewardPrecision)

	return r, nil
}
