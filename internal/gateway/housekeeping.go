package gateway

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lers-io/lers-ce/internal/models"
)

// Housekeeper runs the periodic gateway chores: sweeping stale presence rows
// to OFFLINE and redelivering notifications that missed their recipient.
type Housekeeper struct {
	hub     *Hub
	cron    *cron.Cron
	horizon time.Duration
	logger  *log.Logger
}

// NewHousekeeper creates the housekeeper. horizon is how long a non-offline
// presence row may go without a heartbeat before the sweep flips it.
func NewHousekeeper(hub *Hub, horizon time.Duration, logger *log.Logger) *Housekeeper {
	if logger == nil {
		logger = log.Default()
	}
	return &Housekeeper{
		hub:     hub,
		cron:    cron.New(),
		horizon: horizon,
		logger:  logger,
	}
}

// Start registers the jobs and starts the cron loop.
func (k *Housekeeper) Start() error {
	if _, err := k.cron.AddFunc("*/1 * * * *", k.sweepStalePresence); err != nil {
		return fmt.Errorf("failed to schedule presence sweep: %w", err)
	}
	if _, err := k.cron.AddFunc("*/2 * * * *", k.redeliverNotifications); err != nil {
		return fmt.Errorf("failed to schedule notification redelivery: %w", err)
	}
	k.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (k *Housekeeper) Stop() {
	ctx := k.cron.Stop()
	<-ctx.Done()
}

// sweepStalePresence flips users whose last_seen fell behind the horizon to
// OFFLINE. Catches rows orphaned by crashed instances that never ran their
// disconnect path.
func (k *Housekeeper) sweepStalePresence() {
	ctx := context.Background()
	stale, err := k.hub.presence.ListStale(ctx, k.hub.now().UTC().Add(-k.horizon))
	if err != nil {
		k.logger.Printf("housekeeping: list stale presence: %v", err)
		return
	}

	for _, rec := range stale {
		if k.hub.userConnected(rec.UserID) {
			continue
		}
		if _, err := k.hub.presence.SetStatus(ctx, rec.UserID, rec.UserName, models.PresenceOffline, ""); err != nil {
			k.logger.Printf("housekeeping: sweep %s offline: %v", rec.UserID, err)
			continue
		}
		env, err := models.NewEnvelope(models.EventUserOffline, models.PresenceRecord{
			UserID:   rec.UserID,
			UserName: rec.UserName,
			Status:   models.PresenceOffline,
			LastSeen: rec.LastSeen,
		})
		if err == nil {
			k.hub.broadcastAll(env, nil)
		}
		k.logger.Printf("housekeeping: swept stale presence for %s", rec.UserID)
	}
}

// redeliverNotifications retries undelivered notifications for users who are
// connected to this instance. Covers pushes lost between NotifyUser and a
// reconnect that raced the backfill.
func (k *Housekeeper) redeliverNotifications() {
	ctx := context.Background()

	k.hub.mu.RLock()
	users := make([]string, 0, len(k.hub.byUser))
	for userID := range k.hub.byUser {
		users = append(users, userID)
	}
	k.hub.mu.RUnlock()

	for _, userID := range users {
		pending, err := k.hub.notifications.ListUndelivered(ctx, userID)
		if err != nil {
			k.logger.Printf("housekeeping: list undelivered for %s: %v", userID, err)
			continue
		}
		for _, n := range pending {
			k.hub.NotifyUser(ctx, userID, n)
		}
	}
}
