package user

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/quizfi/aptquiz/internal/domain"
	"github.com/quizfi/aptquiz/internal/errors"
)

const codeUniqueViolation = "23505"

type Config struct {
	DB *pgxpool.Pool
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{db: c.DB}
}

type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

// Register creates a new user with a hashed password and a zero balance.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*domain.User, error) {
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("username, email and password are required"))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := domain.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Balance:      decimal.Zero,
		CreatedAt:    time.Now().UTC(),
	}

	const stmt = `
INSERT INTO users (username, email, password_hash, balance, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id;`

	err = s.db.QueryRow(ctx, stmt, u.Username, u.Email, u.PasswordHash, u.Balance, u.CreatedAt).Scan(&u.ID)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("username or email already taken"),
			errors.WithCause(err))
	}
	if err != nil {
		return nil, err
	}

	return &u, nil
}

// Authenticate verifies a username/password pair.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	u, err := s.GetByUsername(ctx, username)
	if errors.IsCode(err, errors.CodeNotFound) {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid username or password"))
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid username or password"))
	}

	return u, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.User, error) {
	const stmt = `
SELECT id, username, email, password_hash, COALESCE(wallet_address, ''), balance, created_at
FROM users
WHERE id = $1;`

	return s.scanUser(s.db.QueryRow(ctx, stmt, id))
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	const stmt = `
SELECT id, username, email, password_hash, COALESCE(wallet_address, ''), balance, created_at
FROM users
WHERE username = $1;`

	return s.scanUser(s.db.QueryRow(ctx, stmt, username))
}

func (s *Service) scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.WalletAddress, &u.Balance, &u.CreatedAt)
	if err == pgx.ErrNoRows || err == sql.ErrNoRows {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("user not found"))
	}
	if err != nil {
		return nil, err
	}

	return &u, nil
}

// UpdateWallet binds a wallet address to the user. Address format is
// validated by the caller before it gets here.
func (s *Service) UpdateWallet(ctx context.Context, userID int64, walletAddress string) (*domain.User, error) {
	const stmt = `UPDATE users SET wallet_address = $2 WHERE id = $1;`

	tag, err := s.db.Exec(ctx, stmt, userID, walletAddress)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("user not found"))
	}

	return s.Get(ctx, userID)
}

// CreditBalance adds the amount to the user's bookkeeping balance. The
// update is additive in SQL so concurrent credits never lose increments.
func (s *Service) CreditBalance(ctx context.Context, userID int64, amount decimal.Decimal) error {
	const stmt = `UPDATE users SET balance = balance + $2 WHERE id = $1;`

	tag, err := s.db.Exec(ctx, stmt, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("user not found"))
	}

	return nil
}
