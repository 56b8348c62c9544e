package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/quizfi/aptquiz/internal/domain"
	"github.com/quizfi/aptquiz/internal/event"
	"github.com/quizfi/aptquiz/internal/leaderboard"
)

func TestService_RecordScore(t *testing.T) {
	s := makeService(t)

	err := s.RecordScore(context.Background(), attemptRecorded("alice", 1, 7))
	require.NoError(t, err)

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
		QuizID: 1,
	})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		QuizID: 1,
		Entries: []domain.LeaderboardEntry{
			{Username: "alice", Score: 7},
		},
	}
	require.Equal(t, want, resp)
}

func TestService_KeepsBestScore(t *testing.T) {
	s := makeService(t)

	require.NoError(t, s.RecordScore(context.Background(), attemptRecorded("alice", 1, 7)))
	require.NoError(t, s.RecordScore(context.Background(), attemptRecorded("alice", 1, 4)))
	require.NoError(t, s.RecordScore(context.Background(), attemptRecorded("bob", 1, 5)))

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
		QuizID: 1,
	})
	require.NoError(t, err)

	require.Equal(t, []domain.LeaderboardEntry{
		{Username: "alice", Score: 7},
		{Username: "bob", Score: 5},
	}, resp.Entries)
}

func TestService_GetLeaderboard_EmptyQuiz(t *testing.T) {
	s := makeService(t)

	_, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
		QuizID: 99,
	})
	require.Error(t, err)
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []domain.EventAttemptRecorded
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish leaderboard.updated after an attempt is recorded": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAttemptRecorded{
						attemptRecorded("alice", 1, 7),
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				require.Equal(t, domain.Leaderboard{
					QuizID: 1,
					Entries: []domain.LeaderboardEntry{
						{Username: "alice", Score: 7},
					},
				}, out.publishedEvents[0].Leaderboard)
			},
		},

		"should publish 2 events for attempts on 2 different quizzes": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAttemptRecorded{
						attemptRecorded("alice", 1, 7),
						attemptRecorded("bob", 2, 3),
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated events")
			},
		},

		"should collapse attempts on the same quiz within the publish interval": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAttemptRecorded{
						attemptRecorded("alice", 1, 7),
						attemptRecorded("bob", 1, 3),
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s := makeService(t,
				withEventBus(eb),
			)

			for _, e := range in.receivedEvents {
				err := s.RecordScore(context.Background(), e)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func attemptRecorded(username string, quizID int64, score int) domain.EventAttemptRecorded {
	return domain.EventAttemptRecorded{
		Attempt: domain.QuizAttempt{
			QuizID:      quizID,
			Score:       score,
			CompletedAt: time.Now(),
		},
		Username: username,
	}
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}
