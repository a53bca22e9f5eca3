package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stepSyncAPI/internal/types/activity"
	"stepSyncAPI/internal/user"
	"stepSyncAPI/utils"
)

var ErrNoActivity = errors.New("no activity recorded for that day")

// ActivityService owns the denormalized motion cache: one DailyLog per user
// per calendar day, hour buckets underneath, and the user aggregates derived
// from them.
type ActivityService struct {
	db    *pgxpool.Pool
	users *UserService
}

func NewActivityService(db *pgxpool.Pool, users *UserService) *ActivityService {
	return &ActivityService{db: db, users: users}
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RecordSteps applies one device report: upsert the daily log, refresh the
// hour bucket, recompute goal state and fold the new total into the user's
// aggregates. Returns the updated daily log.
func (s *ActivityService) RecordSteps(ctx context.Context, u *user.User, report *activity.StepReport) (*activity.DailyLog, error) {
	if report.Steps < 0 || report.Hour < 0 || report.Hour > 23 {
		return nil, fmt.Errorf("invalid step report")
	}

	date := dayOf(report.Date)
	calories := utils.EstimateCalories(report.Steps, u.BodyWeightKg)

	var previousSteps int64
	err := s.db.QueryRow(ctx,
		`SELECT total_steps FROM daily_logs WHERE user_id = $1 AND date = $2`,
		u.ID, date).Scan(&previousSteps)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to read previous total: %w", err)
	}

	logRow := &activity.DailyLog{}
	err = s.db.QueryRow(ctx, `
	INSERT INTO daily_logs (
		id, user_id, date, total_steps, flights_ascended, flights_descended,
		calories_burned, step_goal, calorie_goal, goal_achieved, last_updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $4 >= $8, NOW())
	ON CONFLICT (user_id, date) DO UPDATE SET
		total_steps = EXCLUDED.total_steps,
		flights_ascended = EXCLUDED.flights_ascended,
		flights_descended = EXCLUDED.flights_descended,
		calories_burned = EXCLUDED.calories_burned,
		goal_achieved = EXCLUDED.total_steps >= daily_logs.step_goal,
		last_updated_at = NOW()
	RETURNING id, user_id, date, total_steps, flights_ascended, flights_descended,
		calories_burned, step_goal, calorie_goal, goal_achieved, last_updated_at
	`,
		uuid.New(), u.ID, date, report.Steps, report.Flights, report.Descents,
		calories, u.StepGoal, u.CalorieGoal,
	).Scan(
		&logRow.ID, &logRow.UserID, &logRow.Date, &logRow.TotalSteps,
		&logRow.FlightsAsc, &logRow.FlightsDesc, &logRow.CaloriesBurn,
		&logRow.StepGoal, &logRow.CalorieGoal, &logRow.GoalAchieved, &logRow.LastUpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert daily log: %w", err)
	}

	hourSteps := report.Steps - previousSteps
	if hourSteps < 0 {
		hourSteps = 0
	}
	_, err = s.db.Exec(ctx, `
	INSERT INTO hourly_step_data (id, daily_log_id, hour, steps)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (daily_log_id, hour) DO UPDATE SET steps = hourly_step_data.steps + EXCLUDED.steps
	`, uuid.New(), logRow.ID, report.Hour, hourSteps)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert hourly bucket: %w", err)
	}

	if err := s.users.RecordDailyTotal(ctx, u.ID, date, report.Steps, previousSteps); err != nil {
		// aggregates are best effort; the log row is already durable
		log.Printf("RecordSteps: failed to update aggregates for %s: %v", u.ID, err)
	}

	return logRow, nil
}

func (s *ActivityService) GetDailyLog(ctx context.Context, userID uuid.UUID, date time.Time) (*activity.DailyLog, []*activity.HourlyStepData, error) {
	logRow := &activity.DailyLog{}
	err := s.db.QueryRow(ctx, `
	SELECT id, user_id, date, total_steps, flights_ascended, flights_descended,
		calories_burned, step_goal, calorie_goal, goal_achieved, last_updated_at
	FROM daily_logs
	WHERE user_id = $1 AND date = $2
	`, userID, dayOf(date)).Scan(
		&logRow.ID, &logRow.UserID, &logRow.Date, &logRow.TotalSteps,
		&logRow.FlightsAsc, &logRow.FlightsDesc, &logRow.CaloriesBurn,
		&logRow.StepGoal, &logRow.CalorieGoal, &logRow.GoalAchieved, &logRow.LastUpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNoActivity
		}
		return nil, nil, fmt.Errorf("failed to get daily log: %w", err)
	}

	rows, err := s.db.Query(ctx, `
	SELECT id, daily_log_id, hour, steps
	FROM hourly_step_data
	WHERE daily_log_id = $1
	ORDER BY hour
	`, logRow.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get hourly data: %w", err)
	}
	defer rows.Close()

	var hours []*activity.HourlyStepData
	for rows.Next() {
		h := &activity.HourlyStepData{}
		if err := rows.Scan(&h.ID, &h.DailyLogID, &h.Hour, &h.Steps); err != nil {
			return nil, nil, fmt.Errorf("failed to scan hourly bucket: %w", err)
		}
		hours = append(hours, h)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read hourly rows: %w", err)
	}

	return logRow, hours, nil
}

// GetWeeklySummary aggregates the 7 days starting at start (inclusive).
func (s *ActivityService) GetWeeklySummary(ctx context.Context, userID uuid.UUID, start time.Time) (*activity.WeeklySummary, error) {
	startDay := dayOf(start)
	endDay := startDay.AddDate(0, 0, 7)

	rows, err := s.db.Query(ctx, `
	SELECT id, user_id, date, total_steps, flights_ascended, flights_descended,
		calories_burned, step_goal, calorie_goal, goal_achieved, last_updated_at
	FROM daily_logs
	WHERE user_id = $1 AND date >= $2 AND date < $3
	ORDER BY date
	`, userID, startDay, endDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query weekly logs: %w", err)
	}
	defer rows.Close()

	summary := &activity.WeeklySummary{StartDate: startDay}
	for rows.Next() {
		d := &activity.DailyLog{}
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.Date, &d.TotalSteps,
			&d.FlightsAsc, &d.FlightsDesc, &d.CaloriesBurn,
			&d.StepGoal, &d.CalorieGoal, &d.GoalAchieved, &d.LastUpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan weekly log: %w", err)
		}
		summary.Days = append(summary.Days, d)
		summary.TotalSteps += d.TotalSteps
		summary.TotalFlights += d.FlightsAsc
		summary.Calories += d.CaloriesBurn
		if d.GoalAchieved {
			summary.DaysAtGoal++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read weekly rows: %w", err)
	}

	return summary, nil
}
