package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/quizfi/aptquiz/internal/api"
	"github.com/quizfi/aptquiz/internal/attempt"
	"github.com/quizfi/aptquiz/internal/auth"
	"github.com/quizfi/aptquiz/internal/chain"
	"github.com/quizfi/aptquiz/internal/event"
	"github.com/quizfi/aptquiz/internal/leaderboard"
	"github.com/quizfi/aptquiz/internal/quiz"
	"github.com/quizfi/aptquiz/internal/settlement"
	"github.com/quizfi/aptquiz/internal/telemetry"
	"github.com/quizfi/aptquiz/internal/user"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Aptos struct {
		Network        string
		PrivateKey     string
		ConfirmTimeout time.Duration
	}

	Auth struct {
		Secret   string
		TokenTTL time.Duration
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres *pgxpool.Pool

		aptos *chain.AptosClient
	}

	service struct {
		auth        *auth.Service
		user        *user.Service
		quiz        *quiz.Service
		attempt     *attempt.Service
		settlement  *settlement.Service
		leaderboard *leaderboard.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if err := s.initAptos(); err != nil {
		return fmt.Errorf("aptos: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initAptos() error {
	client, err := chain.NewAptosClient(chain.AptosConfig{
		Network:    s.c.Aptos.Network,
		PrivateKey: s.c.Aptos.PrivateKey,
	})
	if err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("server: platform account %s on Aptos %s", client.PlatformAddress(), s.c.Aptos.Network))

	s.infra.aptos = client
	return nil
}

func (s *Server) initService() error {
	var err error
	s.service.auth, err = auth.NewService(auth.Config{
		Secret:   s.c.Auth.Secret,
		TokenTTL: s.c.Auth.TokenTTL,
	})
	if err != nil {
		return err
	}

	s.service.user = user.NewService(user.Config{
		DB: s.infra.postgres,
	})

	s.service.quiz = quiz.NewService(quiz.Config{
		DB: s.infra.postgres,
	})

	s.service.attempt = attempt.NewService(attempt.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres,
	})

	s.service.settlement = settlement.NewService(settlement.Config{
		EventBus:       s.eb,
		Ledger:         s.service.attempt,
		Accounts:       s.service.user,
		Chain:          s.infra.aptos,
		ConfirmTimeout: s.c.Aptos.ConfirmTimeout,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Auth:         s.service.auth,
		Users:        s.service.user,
		Quizzes:      s.service.quiz,
		Attempts:     s.service.attempt,
		Settlement:   s.service.settlement,
		Leaderboard:  s.service.leaderboard,
		Chain:        s.infra.aptos,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.infra.postgres.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
