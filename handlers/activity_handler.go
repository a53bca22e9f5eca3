package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"stepSyncAPI/internal/types/activity"
	"stepSyncAPI/middleware"
	"stepSyncAPI/services"
)

type ActivityHandler struct {
	activityService  *services.ActivityService
	challengeService *services.ChallengeService
	userService      *services.UserService
}

func NewActivityHandler(activityService *services.ActivityService, challengeService *services.ChallengeService, userService *services.UserService) *ActivityHandler {
	return &ActivityHandler{
		activityService:  activityService,
		challengeService: challengeService,
		userService:      userService,
	}
}

// ReportSteps ingests a device step report, then propagates the new total
// into every active challenge the user is part of.
func (h *ActivityHandler) ReportSteps(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	u, err := h.userService.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}

	var report activity.StepReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if report.Date.IsZero() {
		report.Date = time.Now()
	}

	logRow, err := h.activityService.RecordSteps(ctx, u, &report)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Failed to record steps")
		return
	}

	updated, err := h.challengeService.PropagateSteps(ctx, u.ID, logRow.TotalSteps)
	if err != nil {
		// challenge propagation failing must not lose the step report
		log.Printf("ReportSteps: propagation failed for %s: %v", u.ID, err)
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"daily_log":          logRow,
		"challenges_updated": updated,
	})
}

func (h *ActivityHandler) GetDaily(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	u, err := h.userService.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}

	date := time.Now()
	if q := r.URL.Query().Get("date"); q != "" {
		date, err = time.Parse("2006-01-02", q)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}

	logRow, hours, err := h.activityService.GetDailyLog(ctx, u.ID, date)
	if err != nil {
		if errors.Is(err, services.ErrNoActivity) {
			respondWithError(w, http.StatusNotFound, "No activity for that day")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to load activity")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"daily_log": logRow,
		"hours":     hours,
	})
}

func (h *ActivityHandler) GetWeekly(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	u, err := h.userService.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}

	start := time.Now().AddDate(0, 0, -6)
	if q := r.URL.Query().Get("start"); q != "" {
		start, err = time.Parse("2006-01-02", q)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
			return
		}
	}

	summary, err := h.activityService.GetWeeklySummary(ctx, u.ID, start)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load weekly summary")
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}
