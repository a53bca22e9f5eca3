package utils

// EstimateCalories approximates energy burned from a step count and body
// weight. Roughly 0.57 kcal per kg per km, at ~1312 steps per km.
func EstimateCalories(steps int64, bodyWeightKg float64) float64 {
	if steps <= 0 {
		return 0
	}
	if bodyWeightKg <= 0 {
		bodyWeightKg = 70
	}
	km := float64(steps) / 1312.0
	return 0.57 * bodyWeightKg * km
}
