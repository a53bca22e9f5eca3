package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"stepSyncAPI/internal/types/challenge"
	"stepSyncAPI/internal/user"
	"stepSyncAPI/middleware"
	"stepSyncAPI/services"
)

type ChallengeHandler struct {
	challengeService *services.ChallengeService
	syncService      *services.SyncService
	userService      *services.UserService
}

func NewChallengeHandler(challengeService *services.ChallengeService, syncService *services.SyncService, userService *services.UserService) *ChallengeHandler {
	return &ChallengeHandler{
		challengeService: challengeService,
		syncService:      syncService,
		userService:      userService,
	}
}

func (h *ChallengeHandler) currentUser(ctx context.Context, w http.ResponseWriter) *user.User {
	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return nil
	}
	u, err := h.userService.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "User not found")
		return nil
	}
	return u
}

func respondChallengeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, challenge.ErrSharingFailed):
		respondWithError(w, http.StatusGone, "This invite has expired or is no longer valid. Create a new challenge.")
	case errors.Is(err, challenge.ErrInvalidRecord), errors.Is(err, services.ErrChallengeNotCached):
		respondWithError(w, http.StatusNotFound, "Challenge not found")
	case errors.Is(err, challenge.ErrInvalidUser):
		respondWithError(w, http.StatusForbidden, "You are not allowed to do that")
	case errors.Is(err, challenge.ErrChallengeCreationFailed):
		respondWithError(w, http.StatusBadGateway, "Challenge could not be created. Try again.")
	default:
		respondWithError(w, http.StatusInternalServerError, "Something went wrong")
	}
}

func (h *ChallengeHandler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	u := h.currentUser(ctx, w)
	if u == nil {
		return
	}

	var req challenge.CreateChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := req.Validate(time.Now()); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	pending, inviteURL, err := h.challengeService.CreateChallenge(ctx, u, &req)
	if err != nil {
		respondChallengeError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]any{
		"challenge":  pending,
		"invite_url": inviteURL,
	})
}

type acceptInviteRequest struct {
	Token string `json:"token"`
}

func (h *ChallengeHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	u := h.currentUser(ctx, w)
	if u == nil {
		return
	}

	var req acceptInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ch, joined, err := h.challengeService.AcceptInvite(ctx, u, req.Token)
	if err != nil {
		respondChallengeError(w, err)
		return
	}
	if !joined {
		respondWithError(w, http.StatusConflict, "This challenge may already be full")
		return
	}

	respondWithJSON(w, http.StatusOK, ch)
}

func (h *ChallengeHandler) DeclineInvite(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var req acceptInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.challengeService.DeclineInvite(ctx, req.Token); err != nil {
		respondChallengeError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "declined"})
}

func (h *ChallengeHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	u := h.currentUser(ctx, w)
	if u == nil {
		return
	}

	pending, err := h.challengeService.PendingChallenges(ctx, u.ID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load pending challenges")
		return
	}

	respondWithJSON(w, http.StatusOK, pending)
}

// GetActive reconciles the active list against the record store (own zone
// plus every shared zone) rather than trusting the cache alone.
func (h *ChallengeHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	u := h.currentUser(ctx, w)
	if u == nil {
		return
	}

	active, err := h.syncService.ReconcileActive(ctx, u.ID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load active challenges")
		return
	}

	respondWithJSON(w, http.StatusOK, active)
}

func (h *ChallengeHandler) GetPast(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	u := h.currentUser(ctx, w)
	if u == nil {
		return
	}

	past, err := h.challengeService.PastChallenges(ctx, u.ID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load past challenges")
		return
	}

	respondWithJSON(w, http.StatusOK, past)
}

func (h *ChallengeHandler) CancelChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	u := h.currentUser(ctx, w)
	if u == nil {
		return
	}

	challengeID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}

	if err := h.challengeService.CancelChallenge(ctx, u.ID, challengeID); err != nil {
		respondChallengeError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *ChallengeHandler) ResendInvite(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	u := h.currentUser(ctx, w)
	if u == nil {
		return
	}

	challengeID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}

	inviteURL, err := h.challengeService.ResendInvite(ctx, u.ID, challengeID)
	if err != nil {
		respondChallengeError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"invite_url": inviteURL})
}

// SweepExpired triggers the expiry sweep. It also runs on a timer from main;
// the endpoint exists so a client refresh can collect stale invites eagerly.
func (h *ChallengeHandler) SweepExpired(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	removed, err := h.challengeService.SweepExpired(ctx)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Sweep failed")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
