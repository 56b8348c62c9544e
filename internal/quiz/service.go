// Package quiz is the catalog: categories, quizzes and their questions.
package quiz

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quizfi/aptquiz/internal/domain"
	"github.com/quizfi/aptquiz/internal/errors"
)

type Config struct {
	DB *pgxpool.Pool
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{db: c.DB}
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	const stmt = `SELECT id, name, description, color, icon FROM categories ORDER BY id;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Category, error) {
		var c domain.Category
		err := r.Scan(&c.ID, &c.Name, &c.Description, &c.Color, &c.Icon)
		return c, err
	})
}

type CreateCategoryRequest struct {
	Name        string
	Description string
	Color       string
	Icon        string
}

func (s *Service) CreateCategory(ctx context.Context, req CreateCategoryRequest) (*domain.Category, error) {
	if req.Name == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("category name is required"))
	}

	const stmt = `
INSERT INTO categories (name, description, color, icon)
VALUES ($1, $2, $3, $4)
RETURNING id;`

	c := domain.Category{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Icon:        req.Icon,
	}

	if err := s.db.QueryRow(ctx, stmt, c.Name, c.Description, c.Color, c.Icon).Scan(&c.ID); err != nil {
		return nil, err
	}

	return &c, nil
}

const quizColumns = `id, title, description, category_id, difficulty, question_count, reward, duration, created_at`

// ListQuizzes returns all quizzes, newest first. A non-zero categoryID
// narrows the list to one category.
func (s *Service) ListQuizzes(ctx context.Context, categoryID int64) ([]domain.Quiz, error) {
	stmt := `SELECT ` + quizColumns + ` FROM quizzes ORDER BY created_at DESC;`
	args := []any{}
	if categoryID != 0 {
		stmt = `SELECT ` + quizColumns + ` FROM quizzes WHERE category_id = $1 ORDER BY created_at DESC;`
		args = append(args, categoryID)
	}

	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, scanQuiz)
}

func (s *Service) GetQuiz(ctx context.Context, id int64) (*domain.Quiz, error) {
	const stmt = `SELECT ` + quizColumns + ` FROM quizzes WHERE id = $1;`

	rows, err := s.db.Query(ctx, stmt, id)
	if err != nil {
		return nil, err
	}

	q, err := pgx.CollectOneRow(rows, scanQuiz)
	if err == pgx.ErrNoRows || err == sql.ErrNoRows {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: id=%d", id))
	}
	if err != nil {
		return nil, err
	}

	return &q, nil
}

func scanQuiz(r pgx.CollectableRow) (domain.Quiz, error) {
	var q domain.Quiz
	err := r.Scan(&q.ID, &q.Title, &q.Description, &q.CategoryID, &q.Difficulty,
		&q.QuestionCount, &q.Reward, &q.Duration, &q.CreatedAt)
	return q, err
}

// QuestionsByQuiz returns the quiz's questions including the correct
// option index. Callers serving clients must withhold CorrectOption.
func (s *Service) QuestionsByQuiz(ctx context.Context, quizID int64) ([]domain.Question, error) {
	const stmt = `
SELECT id, quiz_id, text, options, correct_option
FROM questions
WHERE quiz_id = $1
ORDER BY id;`

	rows, err := s.db.Query(ctx, stmt, quizID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		err := r.Scan(&q.ID, &q.QuizID, &q.Text, &q.Options, &q.CorrectOption)
		return q, err
	})
}

type QuestionInput struct {
	Text          string
	Options       []string
	CorrectOption int
}

type CreateQuizRequest struct {
	Title       string
	Description string
	CategoryID  int64
	Difficulty  string
	Reward      decimal.Decimal
	Duration    int
	Questions   []QuestionInput
}

// CreateQuiz inserts the quiz and its questions in one transaction. The
// quiz's question count always equals the number of inserted questions,
// and every correct option must index into its question's options.
func (s *Service) CreateQuiz(ctx context.Context, req CreateQuizRequest) (*domain.Quiz, error) {
	if req.Title == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("quiz title is required"))
	}
	if len(req.Questions) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("a quiz needs at least one question"))
	}
	if req.Reward.IsNegative() {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("quiz reward must not be negative"))
	}
	for i, q := range req.Questions {
		if q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d: correct option %d out of range", i, q.CorrectOption))
		}
	}

	q := domain.Quiz{
		Title:         req.Title,
		Description:   req.Description,
		CategoryID:    req.CategoryID,
		Difficulty:    req.Difficulty,
		QuestionCount: len(req.Questions),
		Reward:        req.Reward,
		Duration:      req.Duration,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.insertQuiz(ctx, &q, req.Questions); err != nil {
		return nil, err
	}

	return &q, nil
}

func (s *Service) insertQuiz(ctx context.Context, q *domain.Quiz, questions []QuestionInput) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insQuizStmt = `
INSERT INTO quizzes (title, description, category_id, difficulty, question_count, reward, duration, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id;`
		insQuestionStmt = `
INSERT INTO questions (quiz_id, text, options, correct_option)
VALUES ($1, $2, $3, $4);`
	)

	err = tx.QueryRow(ctx, insQuizStmt, q.Title, q.Description, q.CategoryID, q.Difficulty,
		q.QuestionCount, q.Reward, q.Duration, q.CreatedAt).Scan(&q.ID)
	if err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}

	for _, question := range questions {
		_, err = tx.Exec(ctx, insQuestionStmt, q.ID, question.Text, question.Options, question.CorrectOption)
		if err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
	}

	return tx.Commit(ctx)
}
