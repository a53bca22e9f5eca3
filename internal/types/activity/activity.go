package activity

import (
	"time"

	"github.com/google/uuid"
)

// DailyLog is one calendar day of motion data for one user. Unique per
// (user, date).
type DailyLog struct {
	ID            uuid.UUID `json:"id" db:"id"`
	UserID        uuid.UUID `json:"user_id" db:"user_id"`
	Date          time.Time `json:"date" db:"date"`
	TotalSteps    int64     `json:"total_steps" db:"total_steps"`
	FlightsAsc    int64     `json:"flights_ascended" db:"flights_ascended"`
	FlightsDesc   int64     `json:"flights_descended" db:"flights_descended"`
	CaloriesBurn  float64   `json:"calories_burned" db:"calories_burned"`
	StepGoal      int64     `json:"step_goal" db:"step_goal"`
	CalorieGoal   float64   `json:"calorie_goal" db:"calorie_goal"`
	GoalAchieved  bool      `json:"goal_achieved" db:"goal_achieved"`
	LastUpdatedAt time.Time `json:"last_updated_at" db:"last_updated_at"`
}

// HourlyStepData is one hour bucket of a DailyLog. Unique per (log, hour).
type HourlyStepData struct {
	ID         uuid.UUID `json:"id" db:"id"`
	DailyLogID uuid.UUID `json:"daily_log_id" db:"daily_log_id"`
	Hour       int       `json:"hour" db:"hour"`
	Steps      int64     `json:"steps" db:"steps"`
}

type StepReport struct {
	Date     time.Time `json:"date"`
	Hour     int       `json:"hour"`
	Steps    int64     `json:"steps"`
	Flights  int64     `json:"flights"`
	Descents int64     `json:"descents"`
}

type WeeklySummary struct {
	StartDate    time.Time   `json:"start_date"`
	TotalSteps   int64       `json:"total_steps"`
	TotalFlights int64       `json:"total_flights"`
	Calories     float64     `json:"calories"`
	DaysAtGoal   int         `json:"days_at_goal"`
	Days         []*DailyLog `json:"days"`
}
