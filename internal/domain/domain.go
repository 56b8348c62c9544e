package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a registered player. Balance is local bookkeeping, credited on
// each settled claim; it is not read back from the chain.
type User struct {
	ID            int64
	Username      string
	Email         string
	PasswordHash  string
	WalletAddress string
	Balance       decimal.Decimal
	CreatedAt     time.Time
}

type Category struct {
	ID          int64
	Name        string
	Description string
	Color       string
	Icon        string
}

// Quiz describes a playable quiz. Reward is the maximum payable amount in
// APT; an attempt earns a proportional share of it.
type Quiz struct {
	ID            int64
	Title         string
	Description   string
	CategoryID    int64
	Difficulty    string
	QuestionCount int
	Reward        decimal.Decimal
	Duration      int // minutes
	CreatedAt     time.Time
}

type Question struct {
	ID            int64
	QuizID        int64
	Text          string
	Options       []string
	CorrectOption int
}

// QuizAttempt is one completed submission. It is written once at submit
// time and mutated exactly once, when the reward is claimed.
type QuizAttempt struct {
	ID              int64
	UserID          int64
	QuizID          int64
	Score           int
	RewardAmount    decimal.Decimal
	RewardClaimed   bool
	TransactionHash string
	CompletedAt     time.Time
}

// UserStats is derived from a user's attempt history on every request.
type UserStats struct {
	QuizzesTaken   int
	SuccessRate    int // percent, rounded
	AptEarned      decimal.Decimal
	KnowledgeScore int
}

// Leaderboard holds the best scores for one quiz, sorted descending.
type Leaderboard struct {
	QuizID  int64
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	Username string
	Score    float64
}
