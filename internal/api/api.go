package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/quizfi/aptquiz/internal/attempt"
	"github.com/quizfi/aptquiz/internal/auth"
	"github.com/quizfi/aptquiz/internal/chain"
	"github.com/quizfi/aptquiz/internal/domain"
	"github.com/quizfi/aptquiz/internal/errors"
	"github.com/quizfi/aptquiz/internal/event"
	"github.com/quizfi/aptquiz/internal/leaderboard"
	"github.com/quizfi/aptquiz/internal/quiz"
	"github.com/quizfi/aptquiz/internal/scoring"
	"github.com/quizfi/aptquiz/internal/settlement"
	"github.com/quizfi/aptquiz/internal/telemetry"
	"github.com/quizfi/aptquiz/internal/user"
)

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Auth         *auth.Service
	Users        Users
	Quizzes      Quizzes
	Attempts     Attempts
	Settlement   Settler
	Leaderboard  Leaderboards
	Chain        BalanceReader
	Redis        Redis
	PubsubPrefix string
}

// The service dependencies are interfaces so handlers can be exercised
// against fakes; the concrete services satisfy them.
type (
	Users interface {
		Register(ctx context.Context, req user.RegisterRequest) (*domain.User, error)
		Authenticate(ctx context.Context, username, password string) (*domain.User, error)
		Get(ctx context.Context, id int64) (*domain.User, error)
		UpdateWallet(ctx context.Context, userID int64, walletAddress string) (*domain.User, error)
	}

	Quizzes interface {
		ListCategories(ctx context.Context) ([]domain.Category, error)
		CreateCategory(ctx context.Context, req quiz.CreateCategoryRequest) (*domain.Category, error)
		ListQuizzes(ctx context.Context, categoryID int64) ([]domain.Quiz, error)
		GetQuiz(ctx context.Context, id int64) (*domain.Quiz, error)
		QuestionsByQuiz(ctx context.Context, quizID int64) ([]domain.Question, error)
		CreateQuiz(ctx context.Context, req quiz.CreateQuizRequest) (*domain.Quiz, error)
	}

	Attempts interface {
		Record(ctx context.Context, req attempt.RecordRequest) (*domain.QuizAttempt, error)
		Lookup(ctx context.Context, id int64) (*domain.QuizAttempt, error)
		ListByUser(ctx context.Context, userID int64) ([]domain.QuizAttempt, error)
		Stats(ctx context.Context, userID int64) (*domain.UserStats, error)
	}

	Settler interface {
		Settle(ctx context.Context, req settlement.SettleRequest) (settlement.Outcome, error)
	}

	Leaderboards interface {
		GetLeaderboard(ctx context.Context, req leaderboard.GetLeaderboardRequest) (*domain.Leaderboard, error)
	}

	// BalanceReader serves the informational on-chain balance display.
	BalanceReader interface {
		AccountBalance(ctx context.Context, address string) (decimal.Decimal, error)
	}
)

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	auth        *auth.Service
	users       Users
	quizzes     Quizzes
	attempts    Attempts
	settlement  Settler
	leaderboard Leaderboards
	chain       BalanceReader

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		auth:        c.Auth,
		users:       c.Users,
		quizzes:     c.Quizzes,
		attempts:    c.Attempts,
		settlement:  c.Settlement,
		leaderboard: c.Leaderboard,
		chain:       c.Chain,
		redis:       c.Redis,
		prefix:      c.PubsubPrefix,
	}

	a.registerRoutes(c.Engine)

	c.EventBus.Subscribe(domain.EventNameRewardSettled, func(ctx context.Context, e event.Event) error {
		return a.PublishRewardSettled(ctx, e.(domain.EventRewardSettled))
	})
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

func (a *API) registerRoutes(e *gin.Engine) {
	e.POST("/api/register", a.handleRegister)
	e.POST("/api/login", a.handleLogin)
	e.GET("/api/categories", a.handleListCategories)
	e.GET("/api/quizzes", a.handleListQuizzes)
	e.GET("/api/quizzes/:id", a.handleGetQuiz)
	e.GET("/api/quizzes/:id/leaderboard", a.handleGetLeaderboard)

	authed := e.Group("", a.authRequired())
	authed.GET("/api/user", a.handleCurrentUser)
	authed.GET("/api/quizzes/:id/questions", a.handleQuizQuestions)
	authed.POST("/api/quizzes/:id/submit", a.handleSubmitQuiz)
	authed.POST("/api/quizzes", a.handleCreateQuiz)
	authed.POST("/api/categories", a.handleCreateCategory)
	authed.GET("/api/quiz-attempts", a.handleListAttempts)
	authed.GET("/api/quiz-attempts/:id", a.handleGetAttempt)
	authed.PUT("/api/user/wallet", a.handleUpdateWallet)
	authed.GET("/api/wallet/balance", a.handleWalletBalance)
	authed.POST("/api/rewards/claim/:attemptId", a.handleClaimReward)
	authed.GET("/api/user/stats", a.handleUserStats)
}

const userContextKey = "aptquiz.user"

// authRequired rejects requests without a valid bearer token before any
// handler runs, and loads the authenticated user into the gin context.
func (a *API) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			renderError(c, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("authentication required")))
			c.Abort()
			return
		}

		uid, err := a.auth.Verify(parts[1])
		if err != nil {
			renderError(c, err)
			c.Abort()
			return
		}

		u, err := a.users.Get(c.Request.Context(), uid)
		if err != nil {
			renderError(c, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("authentication required"),
				errors.WithCause(err)))
			c.Abort()
			return
		}

		c.Set(userContextKey, u)
		c.Next()
	}
}

func currentUser(c *gin.Context) *domain.User {
	return c.MustGet(userContextKey).(*domain.User)
}

func renderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), e)
}

type userResponse struct {
	ID            int64  `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	WalletAddress string `json:"walletAddress,omitempty"`
	Balance       string `json:"balance"`
	CreatedAt     string `json:"createdAt"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		WalletAddress: u.WalletAddress,
		Balance:       u.Balance.StringFixed(scoring.RewardPrecision),
		CreatedAt:     u.CreatedAt.Format(time.RFC3339),
	}
}

func (a *API) handleRegister(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	u, err := a.users.Register(c.Request.Context(), user.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	token, err := a.auth.Issue(u.ID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token": token,
		"user":  toUserResponse(u),
	})
}

func (a *API) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	u, err := a.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		renderError(c, err)
		return
	}

	token, err := a.auth.Issue(u.ID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  toUserResponse(u),
	})
}

func (a *API) handleCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, toUserResponse(currentUser(c)))
}

func (a *API) handleListCategories(c *gin.Context) {
	categories, err := a.quizzes.ListCategories(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, categories)
}

func (a *API) handleCreateCategory(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Color       string `json:"color"`
		Icon        string `json:"icon"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	category, err := a.quizzes.CreateCategory(c.Request.Context(), quiz.CreateCategoryRequest{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Icon:        req.Icon,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, category)
}

type quizResponse struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	CategoryID    int64  `json:"categoryId"`
	Difficulty    string `json:"difficulty"`
	QuestionCount int    `json:"questionCount"`
	Reward        string `json:"reward"`
	Duration      int    `json:"duration"`
	CreatedAt     string `json:"createdAt"`
}

func toQuizResponse(q domain.Quiz) quizResponse {
	return quizResponse{
		ID:            q.ID,
		Title:         q.Title,
		Description:   q.Description,
		CategoryID:    q.CategoryID,
		Difficulty:    q.Difficulty,
		QuestionCount: q.QuestionCount,
		Reward:        q.Reward.StringFixed(scoring.RewardPrecision),
		Duration:      q.Duration,
		CreatedAt:     q.CreatedAt.Format(time.RFC3339),
	}
}

func (a *API) handleListQuizzes(c *gin.Context) {
	var categoryID int64
	if raw := c.Query("categoryId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			renderError(c, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("invalid categoryId: %q", raw)))
			return
		}
		categoryID = id
	}

	quizzes, err := a.quizzes.ListQuizzes(c.Request.Context(), categoryID)
	if err != nil {
		renderError(c, err)
		return
	}

	resp := make([]quizResponse, 0, len(quizzes))
	for _, q := range quizzes {
		resp = append(resp, toQuizResponse(q))
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) handleGetQuiz(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		renderError(c, err)
		return
	}

	q, err := a.quizzes.GetQuiz(c.Request.Context(), id)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toQuizResponse(*q))
}

func (a *API) handleCreateQuiz(c *gin.Context) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		CategoryID  int64  `json:"categoryId"`
		Difficulty  string `json:"difficulty"`
		Reward      string `json:"reward"`
		Duration    int    `json:"duration"`
		Questions   []struct {
			Text          string   `json:"text"`
			Options       []string `json:"options"`
			CorrectOption int      `json:"correctOption"`
		} `json:"questions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	reward, err := decimal.NewFromString(req.Reward)
	if err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid reward amount: %q", req.Reward)))
		return
	}

	questions := make([]quiz.QuestionInput, 0, len(req.Questions))
	for _, q := range req.Questions {
		questions = append(questions, quiz.QuestionInput{
			Text:          q.Text,
			Options:       q.Options,
			CorrectOption: q.CorrectOption,
		})
	}

	created, err := a.quizzes.CreateQuiz(c.Request.Context(), quiz.CreateQuizRequest{
		Title:       req.Title,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		Difficulty:  req.Difficulty,
		Reward:      reward,
		Duration:    req.Duration,
		Questions:   questions,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toQuizResponse(*created))
}

// handleQuizQuestions serves a quiz's questions with the correct option
// withheld.
func (a *API) handleQuizQuestions(c *gin.Context) {
	quizID, err := pathID(c, "id")
	if err != nil {
		renderError(c, err)
		return
	}

	if _, err := a.quizzes.GetQuiz(c.Request.Context(), quizID); err != nil {
		renderError(c, err)
		return
	}

	questions, err := a.quizzes.QuestionsByQuiz(c.Request.Context(), quizID)
	if err != nil {
		renderError(c, err)
		return
	}

	type sanitizedQuestion struct {
		ID      int64    `json:"id"`
		QuizID  int64    `json:"quizId"`
		Text    string   `json:"text"`
		Options []string `json:"options"`
	}

	resp := make([]sanitizedQuestion, 0, len(questions))
	for _, q := range questions {
		resp = append(resp, sanitizedQuestion{
			ID:      q.ID,
			QuizID:  q.QuizID,
			Text:    q.Text,
			Options: q.Options,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) handleSubmitQuiz(c *gin.Context) {
	u := currentUser(c)

	quizID, err := pathID(c, "id")
	if err != nil {
		renderError(c, err)
		return
	}

	var req struct {
		Answers []int `json:"answers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	q, err := a.quizzes.GetQuiz(c.Request.Context(), quizID)
	if err != nil {
		renderError(c, err)
		return
	}

	questions, err := a.quizzes.QuestionsByQuiz(c.Request.Context(), quizID)
	if err != nil {
		renderError(c, err)
		return
	}

	// Score and reward are computed before anything is persisted; an
	// invalid answer vector leaves no attempt behind.
	score, err := scoring.Score(questions, req.Answers)
	if err != nil {
		renderError(c, err)
		return
	}

	reward, err := scoring.Reward(q.Reward, score, len(questions))
	if err != nil {
		renderError(c, err)
		return
	}

	recorded, err := a.attempts.Record(c.Request.Context(), attempt.RecordRequest{
		UserID:       u.ID,
		Username:     u.Username,
		QuizID:       quizID,
		Score:        score,
		RewardAmount: reward,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	telemetry.SubmissionsTotal.Inc()

	c.JSON(http.StatusCreated, gin.H{
		"attemptId":      recorded.ID,
		"score":          score,
		"totalQuestions": len(questions),
		"rewardAmount":   reward.StringFixed(scoring.RewardPrecision),
	})
}

type attemptResponse struct {
	ID              int64  `json:"id"`
	UserID          int64  `json:"userId"`
	QuizID          int64  `json:"quizId"`
	Score           int    `json:"score"`
	RewardAmount    string `json:"rewardAmount"`
	RewardClaimed   bool   `json:"rewardClaimed"`
	TransactionHash string `json:"transactionHash,omitempty"`
	CompletedAt     string `json:"completedAt"`
}

func toAttemptResponse(a domain.QuizAttempt) attemptResponse {
	return attemptResponse{
		ID:              a.ID,
		UserID:          a.UserID,
		QuizID:          a.QuizID,
		Score:           a.Score,
		RewardAmount:    a.RewardAmount.StringFixed(scoring.RewardPrecision),
		RewardClaimed:   a.RewardClaimed,
		TransactionHash: a.TransactionHash,
		CompletedAt:     a.CompletedAt.Format(time.RFC3339),
	}
}

func (a *API) handleListAttempts(c *gin.Context) {
	attempts, err := a.attempts.ListByUser(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		renderError(c, err)
		return
	}

	resp := make([]attemptResponse, 0, len(attempts))
	for _, at := range attempts {
		resp = append(resp, toAttemptResponse(at))
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) handleGetAttempt(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		renderError(c, err)
		return
	}

	at, err := a.attempts.Lookup(c.Request.Context(), id)
	if err != nil {
		renderError(c, err)
		return
	}

	// Foreign attempts read as not found, so ids don't leak.
	if at.UserID != currentUser(c).ID {
		renderError(c, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz attempt not found: id=%d", id)))
		return
	}

	c.JSON(http.StatusOK, toAttemptResponse(*at))
}

func (a *API) handleUpdateWallet(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"walletAddress"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if req.WalletAddress == "" {
		renderError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("wallet address is required")))
		return
	}
	if err := chain.ValidateAddress(req.WalletAddress); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid wallet address"),
			errors.WithCause(err)))
		return
	}

	u, err := a.users.UpdateWallet(c.Request.Context(), currentUser(c).ID, req.WalletAddress)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toUserResponse(u))
}

// handleWalletBalance reports the on-chain APT balance of the connected
// wallet. Informational only; claims never consult it.
func (a *API) handleWalletBalance(c *gin.Context) {
	u := currentUser(c)

	if u.WalletAddress == "" {
		renderError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("wallet address not connected")))
		return
	}

	balance, err := a.chain.AccountBalance(c.Request.Context(), u.WalletAddress)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": u.WalletAddress,
		"balance": balance.StringFixed(scoring.RewardPrecision),
	})
}

// handleClaimReward checks every claim precondition before settlement is
// invoked; the ledger's conditional update backstops concurrent claims.
func (a *API) handleClaimReward(c *gin.Context) {
	u := currentUser(c)

	attemptID, err := pathID(c, "attemptId")
	if err != nil {
		renderError(c, err)
		return
	}

	at, err := a.attempts.Lookup(c.Request.Context(), attemptID)
	if err != nil {
		renderError(c, err)
		return
	}

	if at.UserID != u.ID {
		renderError(c, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("attempt does not belong to the requesting user")))
		return
	}
	if at.RewardClaimed {
		renderError(c, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("reward already claimed")))
		return
	}
	if !at.RewardAmount.IsPositive() {
		renderError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("attempt earned no reward")))
		return
	}
	if u.WalletAddress == "" {
		renderError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("wallet address not connected")))
		return
	}

	out, err := a.settlement.Settle(c.Request.Context(), settlement.SettleRequest{
		Attempt:       *at,
		Username:      u.Username,
		WalletAddress: u.WalletAddress,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	message := "Reward claimed successfully"
	if out.Status == settlement.StatusSimulated {
		message = "Reward claimed in simulation mode (" + out.Reason + ")"
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"transactionHash": out.TransactionHash,
		"simulated":       out.Status == settlement.StatusSimulated,
		"message":         message,
	})
}

func (a *API) handleUserStats(c *gin.Context) {
	stats, err := a.attempts.Stats(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"quizzesTaken":   stats.QuizzesTaken,
		"successRate":    stats.SuccessRate,
		"aptsEarned":     stats.AptEarned.StringFixed(scoring.RewardPrecision),
		"knowledgeScore": stats.KnowledgeScore,
	})
}

func (a *API) handleGetLeaderboard(c *gin.Context) {
	quizID, err := pathID(c, "id")
	if err != nil {
		renderError(c, err)
		return
	}

	l, err := a.leaderboard.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		QuizID: quizID,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	resp := Leaderboard{
		QuizID:  l.QuizID,
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}
	for _, entry := range l.Entries {
		resp.Entries = append(resp.Entries, LeaderboardEntry{
			Username: entry.Username,
			Score:    strconv.FormatFloat(entry.Score, 'f', -1, 64),
		})
	}

	c.JSON(http.StatusOK, resp)
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid %s: %q", name, c.Param(name)))
	}

	return id, nil
}
