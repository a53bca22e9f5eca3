package user

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID `json:"id"`
	ClerkID        string    `json:"clerkId"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	Photo          []byte    `json:"photo,omitempty"`
	StepGoal       int64     `json:"stepGoal"`
	CalorieGoal    float64   `json:"calorieGoal"`
	BodyWeightKg   float64   `json:"bodyWeightKg"`
	LifetimeSteps  int64     `json:"lifetimeSteps"`
	BestDaySteps   int64     `json:"bestDaySteps"`
	BestDayDate    time.Time `json:"bestDayDate"`
	ChallengesWon  int       `json:"challengesWon"`
	ChallengesLost int       `json:"challengesLost"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
