package scoring_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quizfi/aptquiz/internal/domain"
	"github.com/quizfi/aptquiz/internal/errors"
	"github.com/quizfi/aptquiz/internal/scoring"
)

func TestScore(t *testing.T) {
	questions := func(correct ...int) []domain.Question {
		qs := make([]domain.Question, 0, len(correct))
		for i, c := range correct {
			qs = append(qs, domain.Question{
				ID:            int64(i + 1),
				Text:          "q",
				Options:       []string{"a", "b", "c", "d"},
				CorrectOption: c,
			})
		}
		return qs
	}

	tests := map[string]struct {
		questions []domain.Question
		answers   []int
		want      int
		wantCode  errors.Code
	}{
		"all correct": {
			questions: questions(0, 1, 2, 3),
			answers:   []int{0, 1, 2, 3},
			want:      4,
		},
		"all wrong": {
			questions: questions(0, 1, 2, 3),
			answers:   []int{1, 2, 3, 0},
			want:      0,
		},
		"partially correct": {
			questions: questions(0, 1, 2, 3),
			answers:   []int{0, 1, 0, 0},
			want:      2,
		},
		"empty quiz and empty answers": {
			questions: nil,
			answers:   nil,
			want:      0,
		},
		"too few answers": {
			questions: questions(0, 1),
			answers:   []int{0},
			wantCode:  errors.CodeInvalidArgument,
		},
		"too many answers": {
			questions: questions(0, 1),
			answers:   []int{0, 1, 2},
			wantCode:  errors.CodeInvalidArgument,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := scoring.Score(tt.questions, tt.answers)
			if tt.wantCode != 0 {
				require.Error(t, err)
				require.True(t, errors.IsCode(err, tt.wantCode))
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.GreaterOrEqual(t, got, 0)
			require.LessOrEqual(t, got, len(tt.questions))
		})
	}
}

func TestReward(t *testing.T) {
	tests := map[string]struct {
		reward   string
		score    int
		total    int
		want     string
		wantCode errors.Code
	}{
		"seven of ten on a 5 APT quiz": {
			reward: "5.00000000",
			score:  7,
			total:  10,
			want:   "3.5",
		},
		"full score pays the full reward": {
			reward: "5.00000000",
			score:  10,
			total:  10,
			want:   "5",
		},
		"zero score pays nothing": {
			reward: "5.00000000",
			score:  0,
			total:  10,
			want:   "0",
		},
		"repeating fraction rounds at 8 places": {
			reward: "1",
			score:  1,
			total:  3,
			want:   "0.33333333",
		},
		"zero questions is an invalid quiz": {
			reward:   "5",
			score:    0,
			total:    0,
			wantCode: errors.CodeInvalidArgument,
		},
		"score above total is rejected": {
			reward:   "5",
			score:    11,
			total:    10,
			wantCode: errors.CodeInvalidArgument,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := scoring.Reward(decimal.RequireFromString(tt.reward), tt.score, tt.total)
			if tt.wantCode != 0 {
				require.Error(t, err)
				require.True(t, errors.IsCode(err, tt.wantCode))
				return
			}

			require.NoError(t, err)
			require.True(t, decimal.RequireFromString(tt.want).Equal(got),
				"want %s, got %s", tt.want, got)

			require.False(t, got.IsNegative())
			require.True(t, got.LessThanOrEqual(decimal.RequireFromString(tt.reward)))
		})
	}
}
