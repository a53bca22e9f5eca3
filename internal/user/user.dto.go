package user

type CreateUserRequest struct {
	ClerkID  string `json:"clerkId" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=30"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type UpdateGoalsRequest struct {
	StepGoal     int64   `json:"stepGoal,omitempty"`
	CalorieGoal  float64 `json:"calorieGoal,omitempty"`
	BodyWeightKg float64 `json:"bodyWeightKg,omitempty"`
}
