package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quizfi/aptquiz/internal/domain"
	"github.com/quizfi/aptquiz/internal/errors"
	"github.com/quizfi/aptquiz/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameAttemptRecorded, func(ctx context.Context, e event.Event) error {
		return s.RecordScore(ctx, e.(domain.EventAttemptRecorded))
	})

	return s
}

type GetLeaderboardRequest struct {
	QuizID int64
}

// GetLeaderboard returns every user's best score for a quiz, highest first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.leaderboardKey(req.QuizID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("leaderboard not found: quiz=%d", req.QuizID))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			Username: z.Member.(string),
			Score:    z.Score,
		})
	}

	return &domain.Leaderboard{
		QuizID:  req.QuizID,
		Entries: entries,
	}, nil
}

// RecordScore keeps the user's best score for the quiz. ZAddGT only moves
// the member up, so a worse retake never lowers an earlier entry.
func (s *Service) RecordScore(ctx context.Context, e domain.EventAttemptRecorded) error {
	a := e.Attempt

	if err := s.redis.ZAddGT(ctx, s.leaderboardKey(a.QuizID), redis.Z{
		Score:  float64(a.Score),
		Member: e.Username,
	}).Err(); err != nil {
		return fmt.Errorf("record score: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, a)
}

// schedulePublishLeaderboard publishes the leaderboard change after a
// short interval. Submissions can burst, so collapsing updates inside the
// interval keeps the published event volume bounded.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, a domain.QuizAttempt) error {
	ok, err := s.redis.SetNX(ctx, s.throttleKey(a.QuizID), a.CompletedAt.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, a.QuizID)
}

func (s *Service) publishLeaderboard(ctx context.Context, quizID int64) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		QuizID: quizID,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: quiz=%d: %w", quizID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) leaderboardKey(quizID int64) string {
	return fmt.Sprintf("%s:quiz:%d:leaderboard", s.prefix, quizID)
}

func (s *Service) throttleKey(quizID int64) string {
	return fmt.Sprintf("%s:quiz:%d:published", s.prefix, quizID)
}
