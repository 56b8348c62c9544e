package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/quizfi/aptquiz/internal/domain"
	"github.com/quizfi/aptquiz/internal/scoring"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	RewardSettled struct {
		AttemptID       int64  `json:"attempt_id"`
		Amount          string `json:"amount"`
		TransactionHash string `json:"transaction_hash"`
		Simulated       bool   `json:"simulated"`
	}

	Leaderboard struct {
		QuizID  int64              `json:"quiz_id"`
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Username string `json:"username"`
		Score    string `json:"score"`
	}
)

// PublishRewardSettled notifies the claiming user that their reward was
// settled, real or simulated.
func (a *API) PublishRewardSettled(ctx context.Context, e domain.EventRewardSettled) error {
	data := RewardSettled{
		AttemptID:       e.AttemptID,
		Amount:          e.Amount.StringFixed(scoring.RewardPrecision),
		TransactionHash: e.TransactionHash,
		Simulated:       e.Simulated,
	}

	return a.publishNotification(ctx, e.Username, e.Name(), data)
}

// PublishLeaderboardUpdated fans the refreshed leaderboard out to every
// user on it.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	data := Leaderboard{
		QuizID:  l.QuizID,
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, entry := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			Username: entry.Username,
			Score:    strconv.FormatFloat(entry.Score, 'f', -1, 64),
		})
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.Username, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}
