package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"stepSyncAPI/internal/recordstore"
	"stepSyncAPI/internal/types/challenge"
	"stepSyncAPI/internal/types/notification"
	"stepSyncAPI/internal/user"
)

// EventSink receives record-change events for push fan-out. The dispatcher
// implements it; a nil sink disables fan-out (used by tests).
type EventSink interface {
	Enqueue(evt notification.ChallengeEvent)
}

// OutcomeRecorder bumps per-user win/loss bookkeeping when a challenge
// completes. UserService implements it; a nil recorder skips the bookkeeping.
type OutcomeRecorder interface {
	RecordChallengeOutcome(ctx context.Context, winnerID, loserID uuid.UUID) error
}

// casAttempts bounds the retry loop on version conflicts. Two devices racing
// on the same record resolve within one retry in practice.
const casAttempts = 3

type ChallengeService struct {
	store    recordstore.Store
	cache    ChallengeCache
	sink     EventSink
	outcomes OutcomeRecorder

	inviteBaseURL string
}

func NewChallengeService(store recordstore.Store, cache ChallengeCache, sink EventSink, outcomes OutcomeRecorder, inviteBaseURL string) *ChallengeService {
	return &ChallengeService{
		store:         store,
		cache:         cache,
		sink:          sink,
		outcomes:      outcomes,
		inviteBaseURL: inviteBaseURL,
	}
}

func (s *ChallengeService) emit(kind notification.EventKind, recordID, actorID uuid.UUID) {
	if s.sink == nil {
		return
	}
	s.sink.Enqueue(notification.ChallengeEvent{
		RecordID:  recordID,
		Kind:      kind,
		ActorID:   actorID,
		Timestamp: time.Now(),
	})
}

// ChallengeFromRecord converts a remote record into the locally cached entity.
func ChallengeFromRecord(rec *recordstore.Record) *challenge.Challenge {
	ch := &challenge.Challenge{
		ID:        rec.ID,
		StartTime: rec.StartTime,
		EndTime:   rec.EndTime,
		GoalSteps: rec.GoalSteps,
		Status:    rec.Status,
		Winner:    rec.Winner,
		ShareID:   rec.ShareID,
		CreatedAt: rec.CreatedAt,
		Creator: challenge.ParticipantDetails{
			UserID: rec.CreatorID,
			Name:   rec.CreatorName,
			Photo:  rec.CreatorPhoto,
			Steps:  rec.CreatorSteps,
		},
	}
	if rec.ParticipantID != nil {
		ch.Participant = &challenge.ParticipantDetails{
			UserID: *rec.ParticipantID,
			Name:   rec.ParticipantName,
			Photo:  rec.ParticipantPhoto,
			Steps:  rec.ParticipantSteps,
		}
	}
	return ch
}

// RecordFromChallenge converts the cached entity back into record shape.
// Round-tripping preserves id, goal, status and both step counts exactly.
func RecordFromChallenge(ch *challenge.Challenge, zoneID uuid.UUID) *recordstore.Record {
	rec := &recordstore.Record{
		ID:           ch.ID,
		ZoneID:       zoneID,
		StartTime:    ch.StartTime,
		EndTime:      ch.EndTime,
		GoalSteps:    ch.GoalSteps,
		Status:       ch.Status,
		Winner:       ch.Winner,
		CreatorID:    ch.Creator.UserID,
		CreatorName:  ch.Creator.Name,
		CreatorPhoto: ch.Creator.Photo,
		CreatorSteps: ch.Creator.Steps,
		ShareID:      ch.ShareID,
		CreatedAt:    ch.CreatedAt,
	}
	if ch.Participant != nil {
		pid := ch.Participant.UserID
		rec.ParticipantID = &pid
		rec.ParticipantName = ch.Participant.Name
		rec.ParticipantPhoto = ch.Participant.Photo
		rec.ParticipantSteps = ch.Participant.Steps
	}
	return rec
}

// InviteURL builds the capability URL handed to the share sheet.
func (s *ChallengeService) InviteURL(token string) string {
	return fmt.Sprintf("%s/invite/%s", s.inviteBaseURL, token)
}

// CreateChallenge validates the request, writes the record and its share
// atomically into the creator's zone, re-fetches the share for the invite URL
// and caches the pending row. A failure at any point leaves nothing behind in
// the pending list.
func (s *ChallengeService) CreateChallenge(ctx context.Context, creator *user.User, req *challenge.CreateChallengeRequest) (*challenge.PendingChallenge, string, error) {
	if creator == nil {
		return nil, "", challenge.ErrInvalidUser
	}
	if err := req.Validate(time.Now()); err != nil {
		return nil, "", err
	}

	zone, err := s.store.EnsureZone(ctx, creator.ID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", challenge.ErrChallengeCreationFailed, err)
	}

	shareID := uuid.New()
	rec := &recordstore.Record{
		ID:           uuid.New(),
		ZoneID:       zone.ID,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		GoalSteps:    req.GoalSteps,
		Status:       challenge.StatusPending,
		CreatorID:    creator.ID,
		CreatorName:  creator.Username,
		CreatorPhoto: creator.Photo,
		CreatorSteps: 0,
		ShareID:      &shareID,
	}
	share := &recordstore.Share{
		ID:         shareID,
		RecordID:   rec.ID,
		ZoneID:     zone.ID,
		Token:      uuid.NewString(),
		Title:      fmt.Sprintf("%s challenged you to %d steps", creator.Username, req.GoalSteps),
		Permission: recordstore.SharePermissionPublicReadWrite,
	}

	if err := s.store.CreateRecordWithShare(ctx, rec, share); err != nil {
		return nil, "", fmt.Errorf("%w: %v", challenge.ErrChallengeCreationFailed, err)
	}

	saved, err := s.store.FetchShareByRecord(ctx, rec.ID)
	if err != nil {
		log.Printf("CreateChallenge: share unreadable after save, rolling back record %s: %v", rec.ID, err)
		s.rollbackCreate(ctx, rec.ID, shareID)
		return nil, "", fmt.Errorf("%w: %v", challenge.ErrSharingFailed, err)
	}

	ch := ChallengeFromRecord(rec)
	if err := s.cache.Insert(ctx, ch); err != nil {
		log.Printf("CreateChallenge: cache insert failed, rolling back record %s: %v", rec.ID, err)
		s.rollbackCreate(ctx, rec.ID, shareID)
		return nil, "", fmt.Errorf("%w: %v", challenge.ErrChallengeCreationFailed, err)
	}

	s.emit(notification.EventRecordCreated, rec.ID, creator.ID)

	pending := &challenge.PendingChallenge{
		ID:        ch.ID,
		Challenge: *ch,
		ShareID:   shareID,
	}
	return pending, s.InviteURL(saved.Token), nil
}

func (s *ChallengeService) rollbackCreate(ctx context.Context, recordID, shareID uuid.UUID) {
	if err := s.store.DeleteShare(ctx, shareID); err != nil && !errors.Is(err, recordstore.ErrShareNotFound) {
		log.Printf("rollbackCreate: failed to delete share %s: %v", shareID, err)
	}
	if err := s.store.DeleteRecord(ctx, recordID); err != nil && !errors.Is(err, recordstore.ErrRecordNotFound) {
		log.Printf("rollbackCreate: failed to delete record %s: %v", recordID, err)
	}
}

// AcceptInvite resolves a capability token and writes the joiner into the
// record's participant slot. Returns joined=false without touching the record
// when the slot is already taken or the joiner is the creator, enforcing
// at-most-two participants.
func (s *ChallengeService) AcceptInvite(ctx context.Context, joiner *user.User, token string) (*challenge.Challenge, bool, error) {
	if joiner == nil {
		return nil, false, challenge.ErrInvalidUser
	}

	share, err := s.store.FetchShareByToken(ctx, token)
	if err != nil {
		if errors.Is(err, recordstore.ErrShareNotFound) {
			return nil, false, fmt.Errorf("%w: invite is no longer valid", challenge.ErrSharingFailed)
		}
		return nil, false, fmt.Errorf("failed to resolve invite: %w", err)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		rec, err := s.store.FetchRecord(ctx, share.RecordID)
		if err != nil {
			if errors.Is(err, recordstore.ErrRecordNotFound) {
				return nil, false, fmt.Errorf("%w: challenge record is gone", challenge.ErrInvalidRecord)
			}
			return nil, false, fmt.Errorf("failed to fetch challenge record: %w", err)
		}

		if rec.Joined() || rec.CreatorID == joiner.ID {
			return nil, false, nil
		}

		switch rec.Status {
		case challenge.StatusPending:
			// join proceeds below
		case challenge.StatusActive, challenge.StatusCompleted, challenge.StatusExpiredUnresolved:
			return nil, false, nil
		default:
			return nil, false, fmt.Errorf("%w: unknown status %q", challenge.ErrInvalidRecord, rec.Status)
		}

		pid := joiner.ID
		rec.ParticipantID = &pid
		rec.ParticipantName = joiner.Username
		rec.ParticipantPhoto = joiner.Photo
		rec.ParticipantSteps = 0
		rec.Status = challenge.StatusActive

		saved, err := s.store.SaveRecordCAS(ctx, rec, rec.Version)
		if err != nil {
			if errors.Is(err, recordstore.ErrVersionMismatch) {
				// someone else raced the join; re-fetch and re-check
				continue
			}
			return nil, false, fmt.Errorf("failed to save joined record: %w", err)
		}

		ch := ChallengeFromRecord(saved)
		if err := s.cache.Update(ctx, ch); err != nil {
			if errors.Is(err, ErrChallengeNotCached) {
				err = s.cache.Insert(ctx, ch)
			}
			if err != nil {
				// remote join already succeeded; the cache catches up on the
				// next reconcile
				log.Printf("AcceptInvite: cache write failed for %s: %v", ch.ID, err)
			}
		}

		s.emit(notification.EventRecordUpdated, saved.ID, joiner.ID)
		return ch, true, nil
	}

	return nil, false, nil
}

// DeclineInvite drops the invite on the receiving side and flags the owner's
// cached row as declined. The record stays pending in the owner's zone so the
// invite can be resent to someone else, which clears the flag again.
func (s *ChallengeService) DeclineInvite(ctx context.Context, token string) error {
	share, err := s.store.FetchShareByToken(ctx, token)
	if err != nil {
		if errors.Is(err, recordstore.ErrShareNotFound) {
			return nil
		}
		return fmt.Errorf("failed to resolve invite: %w", err)
	}

	if err := s.cache.SetDeclined(ctx, share.RecordID, true); err != nil && !errors.Is(err, ErrChallengeNotCached) {
		return fmt.Errorf("failed to record decline for %s: %w", share.RecordID, err)
	}
	log.Printf("DeclineInvite: invite for record %s declined", share.RecordID)
	return nil
}

// CancelChallenge removes a still-pending challenge the owner created: one
// cache row, one remote share, one remote record. Active challenges are never
// touched.
func (s *ChallengeService) CancelChallenge(ctx context.Context, ownerID, challengeID uuid.UUID) error {
	ch, err := s.cache.Get(ctx, challengeID)
	if err != nil {
		return err
	}
	if ch.Creator.UserID != ownerID {
		return fmt.Errorf("%w: only the creator can cancel", challenge.ErrInvalidUser)
	}

	switch ch.Status {
	case challenge.StatusPending:
		// cancellable
	case challenge.StatusActive, challenge.StatusCompleted, challenge.StatusExpiredUnresolved:
		return fmt.Errorf("%w: challenge is no longer pending", challenge.ErrInvalidRecord)
	default:
		return fmt.Errorf("%w: unknown status %q", challenge.ErrInvalidRecord, ch.Status)
	}

	if err := s.cache.Delete(ctx, challengeID); err != nil {
		return err
	}

	share, err := s.store.FetchShareByRecord(ctx, challengeID)
	if err == nil {
		if err := s.store.DeleteShare(ctx, share.ID); err != nil {
			log.Printf("CancelChallenge: failed to delete share %s: %v", share.ID, err)
		}
	} else if !errors.Is(err, recordstore.ErrShareNotFound) {
		log.Printf("CancelChallenge: failed to look up share for %s: %v", challengeID, err)
	}

	if err := s.store.DeleteRecord(ctx, challengeID); err != nil && !errors.Is(err, recordstore.ErrRecordNotFound) {
		return fmt.Errorf("failed to delete remote record: %w", err)
	}

	s.emit(notification.EventRecordDeleted, challengeID, ownerID)
	return nil
}

// ResendInvite re-fetches the share behind a pending challenge and returns a
// fresh invite URL. If the share no longer resolves the challenge is cancelled
// and ErrSharingFailed is returned so the caller can tell the user to create
// a new one.
func (s *ChallengeService) ResendInvite(ctx context.Context, ownerID, challengeID uuid.UUID) (string, error) {
	ch, err := s.cache.Get(ctx, challengeID)
	if err != nil {
		return "", err
	}
	if ch.Creator.UserID != ownerID {
		return "", fmt.Errorf("%w: only the creator can resend", challenge.ErrInvalidUser)
	}
	if ch.Status != challenge.StatusPending {
		return "", fmt.Errorf("%w: challenge is no longer pending", challenge.ErrInvalidRecord)
	}

	if !ch.EndTime.After(time.Now()) {
		if err := s.CancelChallenge(ctx, ownerID, challengeID); err != nil {
			log.Printf("ResendInvite: failed to cancel expired challenge %s: %v", challengeID, err)
		}
		return "", fmt.Errorf("%w: challenge has expired", challenge.ErrSharingFailed)
	}

	share, err := s.store.FetchShareByRecord(ctx, challengeID)
	if err != nil {
		if errors.Is(err, recordstore.ErrShareNotFound) {
			if cancelErr := s.CancelChallenge(ctx, ownerID, challengeID); cancelErr != nil {
				log.Printf("ResendInvite: failed to cancel challenge %s with missing share: %v", challengeID, cancelErr)
			}
			return "", fmt.Errorf("%w: invite is no longer valid", challenge.ErrSharingFailed)
		}
		return "", fmt.Errorf("failed to fetch share: %w", err)
	}

	if err := s.cache.SetDeclined(ctx, challengeID, false); err != nil && !errors.Is(err, ErrChallengeNotCached) {
		log.Printf("ResendInvite: failed to clear declined flag for %s: %v", challengeID, err)
	}

	return s.InviteURL(share.Token), nil
}

// UpdateSteps writes one side's step count into the remote record and runs the
// completion check: if either side has reached the goal the record flips to
// Completed with the higher count winning, creator winning ties. The save is a
// version-checked compare-and-swap retried a bounded number of times.
func (s *ChallengeService) UpdateSteps(ctx context.Context, challengeID uuid.UUID, newSteps int64, isCreator bool) (*recordstore.Record, error) {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		rec, err := s.store.FetchRecord(ctx, challengeID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch challenge record: %w", err)
		}

		if rec.Status.Terminal() {
			return rec, nil
		}

		actorID := rec.CreatorID
		if isCreator {
			rec.CreatorSteps = newSteps
		} else {
			rec.ParticipantSteps = newSteps
			if rec.ParticipantID != nil {
				actorID = *rec.ParticipantID
			}
		}

		completed := false
		if rec.CreatorSteps >= rec.GoalSteps || rec.ParticipantSteps >= rec.GoalSteps {
			rec.Status = challenge.StatusCompleted
			completed = true
			if rec.CreatorSteps >= rec.ParticipantSteps {
				winner := rec.CreatorID
				rec.Winner = &winner
			} else if rec.ParticipantID != nil {
				winner := *rec.ParticipantID
				rec.Winner = &winner
			}
		}

		saved, err := s.store.SaveRecordCAS(ctx, rec, rec.Version)
		if err != nil {
			if errors.Is(err, recordstore.ErrVersionMismatch) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("failed to save step update: %w", err)
		}

		if err := s.cache.Update(ctx, ChallengeFromRecord(saved)); err != nil && !errors.Is(err, ErrChallengeNotCached) {
			log.Printf("UpdateSteps: cache update failed for %s: %v", saved.ID, err)
		}

		if completed {
			s.recordOutcome(ctx, saved)
		}

		s.emit(notification.EventRecordUpdated, saved.ID, actorID)
		return saved, nil
	}
	return nil, fmt.Errorf("step update kept racing and gave up: %w", lastErr)
}

// recordOutcome runs once per challenge, at the transition into Completed.
// Bookkeeping failures never fail the step update that won the race.
func (s *ChallengeService) recordOutcome(ctx context.Context, rec *recordstore.Record) {
	if s.outcomes == nil || rec.Winner == nil || rec.ParticipantID == nil {
		return
	}
	loserID := rec.CreatorID
	if *rec.Winner == rec.CreatorID {
		loserID = *rec.ParticipantID
	}
	if err := s.outcomes.RecordChallengeOutcome(ctx, *rec.Winner, loserID); err != nil {
		log.Printf("UpdateSteps: failed to record outcome for %s: %v", rec.ID, err)
	}
}

// PropagateSteps pushes the local user's new daily total into every active
// challenge they are part of. Individual failures are logged and skipped, so
// one bad record does not stall the rest.
func (s *ChallengeService) PropagateSteps(ctx context.Context, userID uuid.UUID, todaySteps int64) (int, error) {
	active, err := s.cache.ListActive(ctx, userID)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, ch := range active {
		isCreator := ch.Creator.UserID == userID
		if _, err := s.UpdateSteps(ctx, ch.ID, todaySteps, isCreator); err != nil {
			log.Printf("PropagateSteps: failed to update challenge %s: %v", ch.ID, err)
			continue
		}
		updated++
	}
	return updated, nil
}

// SweepExpired garbage-collects challenges whose end time has passed. Pending
// ones vanish entirely; active ones are kept in the past list as
// expired_unresolved (no winner is guessed) while their remote record and
// share are removed.
func (s *ChallengeService) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.store.QueryRecords(ctx, recordstore.RecordQuery{EndBefore: time.Now()})
	if err != nil {
		return 0, fmt.Errorf("failed to query expired records: %w", err)
	}

	removed := 0
	for _, rec := range expired {
		switch rec.Status {
		case challenge.StatusPending:
			if err := s.cache.Delete(ctx, rec.ID); err != nil {
				log.Printf("SweepExpired: cache delete failed for %s: %v", rec.ID, err)
			}
		case challenge.StatusActive:
			if err := s.cache.MarkExpiredUnresolved(ctx, rec.ID); err != nil && !errors.Is(err, ErrChallengeNotCached) {
				log.Printf("SweepExpired: failed to mark %s expired: %v", rec.ID, err)
			}
		case challenge.StatusCompleted, challenge.StatusExpiredUnresolved:
			// past list keeps the cache row; only the remote side is collected
		default:
			log.Printf("SweepExpired: record %s has unknown status %q, skipping", rec.ID, rec.Status)
			continue
		}

		if share, err := s.store.FetchShareByRecord(ctx, rec.ID); err == nil {
			if err := s.store.DeleteShare(ctx, share.ID); err != nil {
				log.Printf("SweepExpired: failed to delete share %s: %v", share.ID, err)
			}
		}
		if err := s.store.DeleteRecord(ctx, rec.ID); err != nil {
			log.Printf("SweepExpired: failed to delete record %s: %v", rec.ID, err)
			continue
		}

		// system action: uuid.Nil actor means both sides get notified
		s.emit(notification.EventRecordDeleted, rec.ID, uuid.Nil)
		removed++
	}
	return removed, nil
}

// PendingChallenges reads the pending list straight from the local cache.
func (s *ChallengeService) PendingChallenges(ctx context.Context, userID uuid.UUID) ([]*challenge.PendingChallenge, error) {
	return s.cache.ListPending(ctx, userID)
}

// PastChallenges returns completed and expired-unresolved challenges.
func (s *ChallengeService) PastChallenges(ctx context.Context, userID uuid.UUID) ([]*challenge.Challenge, error) {
	return s.cache.ListPast(ctx, userID)
}
