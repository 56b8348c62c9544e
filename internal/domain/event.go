package domain

import "github.com/shopspring/decimal"

const (
	EventNameAttemptRecorded    = "attempt.recorded"
	EventNameRewardSettled      = "reward.settled"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventAttemptRecorded struct {
	Attempt  QuizAttempt
	Username string
}

func (EventAttemptRecorded) Name() string { return EventNameAttemptRecorded }

type EventRewardSettled struct {
	AttemptID       int64
	Username        string
	Amount          decimal.Decimal
	TransactionHash string
	Simulated       bool
}

func (EventRewardSettled) Name() string { return EventNameRewardSettled }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
