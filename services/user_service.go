package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stepSyncAPI/internal/types/notification"
	"stepSyncAPI/internal/user"
)

var ErrUserNotFound = errors.New("user not found")

const (
	defaultStepGoal    int64   = 10000
	defaultCalorieGoal float64 = 400
)

type UserService struct {
	db *pgxpool.Pool
}

func NewUserService(db *pgxpool.Pool) *UserService {
	return &UserService{db: db}
}

const userColumns = `
	id, clerk_id, email, username, image_url, photo,
	step_goal, calorie_goal, body_weight_kg,
	lifetime_steps, best_day_steps, best_day_date,
	challenges_won, challenges_lost, created_at, updated_at`

func scanUser(row pgx.Row) (*user.User, error) {
	u := &user.User{}
	err := row.Scan(
		&u.ID, &u.ClerkID, &u.Email, &u.Username, &u.ImageURL, &u.Photo,
		&u.StepGoal, &u.CalorieGoal, &u.BodyWeightKg,
		&u.LifetimeSteps, &u.BestDaySteps, &u.BestDayDate,
		&u.ChallengesWon, &u.ChallengesLost, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *UserService) CreateUser(ctx context.Context, req *user.CreateUserRequest) (*user.User, error) {
	row := s.db.QueryRow(ctx, `
	INSERT INTO users (id, clerk_id, email, username, image_url, step_goal, calorie_goal, best_day_date, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), NOW())
	ON CONFLICT (clerk_id) DO UPDATE SET email = EXCLUDED.email, updated_at = NOW()
	RETURNING `+userColumns,
		uuid.New(), req.ClerkID, req.Email, req.Username, req.ImageURL,
		defaultStepGoal, defaultCalorieGoal,
	)

	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (s *UserService) GetUserByClerkID(ctx context.Context, clerkID string) (*user.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE clerk_id = $1`, clerkID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *UserService) GetUserByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *UserService) UpdateGoals(ctx context.Context, clerkID string, req *user.UpdateGoalsRequest) (*user.User, error) {
	row := s.db.QueryRow(ctx, `
	UPDATE users SET
		step_goal = CASE WHEN $2 > 0 THEN $2 ELSE step_goal END,
		calorie_goal = CASE WHEN $3 > 0 THEN $3 ELSE calorie_goal END,
		body_weight_kg = CASE WHEN $4 > 0 THEN $4 ELSE body_weight_kg END,
		updated_at = NOW()
	WHERE clerk_id = $1
	RETURNING `+userColumns,
		clerkID, req.StepGoal, req.CalorieGoal, req.BodyWeightKg,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update goals: %w", err)
	}
	return u, nil
}

func (s *UserService) DeleteUserByClerkID(ctx context.Context, clerkID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE clerk_id = $1`, clerkID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordDailyTotal folds a day's final step count into the user's aggregates
// (lifetime total delta and best-day personal record).
func (s *UserService) RecordDailyTotal(ctx context.Context, userID uuid.UUID, date time.Time, steps int64, previousSteps int64) error {
	delta := steps - previousSteps
	if delta < 0 {
		delta = 0
	}

	_, err := s.db.Exec(ctx, `
	UPDATE users SET
		lifetime_steps = lifetime_steps + $2,
		best_day_steps = CASE WHEN $3 > best_day_steps THEN $3 ELSE best_day_steps END,
		best_day_date  = CASE WHEN $3 > best_day_steps THEN $4 ELSE best_day_date END,
		updated_at = NOW()
	WHERE id = $1
	`, userID, delta, steps, date)
	if err != nil {
		return fmt.Errorf("failed to record daily total: %w", err)
	}
	return nil
}

// RecordChallengeOutcome bumps the win/loss counters after a completion.
func (s *UserService) RecordChallengeOutcome(ctx context.Context, winnerID, loserID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin outcome transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE users SET challenges_won = challenges_won + 1, updated_at = NOW() WHERE id = $1`, winnerID); err != nil {
		return fmt.Errorf("failed to record win: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE users SET challenges_lost = challenges_lost + 1, updated_at = NOW() WHERE id = $1`, loserID); err != nil {
		return fmt.Errorf("failed to record loss: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *UserService) RegisterDevice(ctx context.Context, userID uuid.UUID, token, platform string) error {
	_, err := s.db.Exec(ctx, `
	INSERT INTO device_tokens (user_id, token, platform, created_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform
	`, userID, token, platform)
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

func (s *UserService) DeviceTokens(ctx context.Context, userID uuid.UUID) ([]notification.DeviceToken, error) {
	rows, err := s.db.Query(ctx,
		`SELECT token, platform FROM device_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load device tokens: %w", err)
	}
	defer rows.Close()

	var out []notification.DeviceToken
	for rows.Next() {
		var t notification.DeviceToken
		if err := rows.Scan(&t.Token, &t.Platform); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read device token rows: %w", err)
	}
	return out, nil
}
