package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"stepSyncAPI/internal/types/challenge"
	"stepSyncAPI/internal/types/notification"
)

type PushNotificationProvider interface {
	SendPush(ctx context.Context, tokens []notification.DeviceToken, title, body string, data map[string]any) error
}

// DeviceTokenSource resolves a user's registered push tokens.
type DeviceTokenSource interface {
	DeviceTokens(ctx context.Context, userID uuid.UUID) ([]notification.DeviceToken, error)
}

var (
	syncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_sync_events_total",
			Help: "Record-change events processed by the dispatcher",
		},
		[]string{"kind", "result"},
	)
	syncQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "challenge_sync_queue_depth",
			Help: "Record-change events waiting in the dispatch queue",
		},
	)
)

// InitSyncMetrics registers the dispatcher metrics. Call once from main.
func InitSyncMetrics() {
	prometheus.MustRegister(syncEventsTotal)
	prometheus.MustRegister(syncQueueDepth)
}

// ChallengeDispatcher consumes record-change events on a small worker pool:
// each event re-fetches the changed record through the sync service and sends
// a push to the participant who didn't cause the change. Errors here are
// logged only; background sync failures are never surfaced to users.
type ChallengeDispatcher struct {
	sync         *SyncService
	tokens       DeviceTokenSource
	pushProvider PushNotificationProvider

	workers  int
	jobQueue chan notification.ChallengeEvent
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewChallengeDispatcher(syncService *SyncService, tokens DeviceTokenSource) *ChallengeDispatcher {
	d := &ChallengeDispatcher{
		sync:     syncService,
		tokens:   tokens,
		workers:  5,
		jobQueue: make(chan notification.ChallengeEvent, 100),
		stopChan: make(chan struct{}),
	}
	d.startWorkers()
	return d
}

// SetPushProvider injects the FCM provider from main. Without one, events
// still refresh the cache and reach in-process subscribers.
func (d *ChallengeDispatcher) SetPushProvider(provider PushNotificationProvider) {
	d.pushProvider = provider
}

func (d *ChallengeDispatcher) startWorkers() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *ChallengeDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case evt := <-d.jobQueue:
			syncQueueDepth.Dec()
			d.processEvent(evt)
		case <-d.stopChan:
			return
		}
	}
}

// Enqueue implements EventSink.
func (d *ChallengeDispatcher) Enqueue(evt notification.ChallengeEvent) {
	select {
	case d.jobQueue <- evt:
		syncQueueDepth.Inc()
	case <-time.After(5 * time.Second):
		log.Printf("ChallengeDispatcher: queue full, dropping event for %s", evt.RecordID)
		syncEventsTotal.WithLabelValues(string(evt.Kind), "dropped").Inc()
	}
}

func (d *ChallengeDispatcher) processEvent(evt notification.ChallengeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := d.sync.HandleRecordChange(ctx, evt)
	if err != nil {
		log.Printf("ChallengeDispatcher: failed to handle change for %s: %v", evt.RecordID, err)
		syncEventsTotal.WithLabelValues(string(evt.Kind), "error").Inc()
		return
	}
	syncEventsTotal.WithLabelValues(string(evt.Kind), "ok").Inc()

	if ch == nil || d.pushProvider == nil || d.tokens == nil {
		return
	}
	d.notifyParticipants(ctx, ch, evt)
}

func (d *ChallengeDispatcher) notifyParticipants(ctx context.Context, ch *challenge.Challenge, evt notification.ChallengeEvent) {
	title, body := pushText(ch)
	data := map[string]any{
		"record_id": ch.ID.String(),
		"kind":      string(evt.Kind),
		"status":    string(ch.Status),
	}

	targets := []uuid.UUID{ch.Creator.UserID}
	if ch.Participant != nil {
		targets = append(targets, ch.Participant.UserID)
	}
	for _, userID := range targets {
		if userID == evt.ActorID {
			// the actor already sees their own change; push only the other side
			continue
		}
		tokens, err := d.tokens.DeviceTokens(ctx, userID)
		if err != nil {
			log.Printf("ChallengeDispatcher: failed to load tokens for %s: %v", userID, err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		if err := d.pushProvider.SendPush(ctx, tokens, title, body, data); err != nil {
			log.Printf("ChallengeDispatcher: push failed for %s: %v", userID, err)
		}
	}
}

func pushText(ch *challenge.Challenge) (string, string) {
	switch ch.Status {
	case challenge.StatusActive:
		return "Challenge update", fmt.Sprintf("%s vs %s: the race to %d steps is on",
			ch.Creator.Name, participantName(ch), ch.GoalSteps)
	case challenge.StatusCompleted:
		return "Challenge finished", fmt.Sprintf("The %d step challenge is over — open the app to see who won", ch.GoalSteps)
	case challenge.StatusExpiredUnresolved:
		return "Challenge expired", "A step challenge ended without a winner"
	default:
		return "Challenge update", "One of your step challenges changed"
	}
}

func participantName(ch *challenge.Challenge) string {
	if ch.Participant == nil {
		return "?"
	}
	return ch.Participant.Name
}

// Stop drains the workers. Safe to call more than once.
func (d *ChallengeDispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
	})
	d.wg.Wait()
}
