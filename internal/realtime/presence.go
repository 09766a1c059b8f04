package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/lers-io/lers-ce/internal/models"
)

// PresenceTracker holds the local user's status and a flat last-write-wins
// view of everyone else's. Status transitions are explicit; the server flips
// users OFFLINE itself when their socket dies.
type PresenceTracker struct {
	session *Session
	api     PresenceAPI
	logger  *log.Logger

	mu     sync.Mutex
	own    string
	remote map[string]*models.PresenceRecord

	changed registry[*models.PresenceRecord]
	online  registry[*models.PresenceRecord]
	offline registry[*models.PresenceRecord]

	unsubs []func()
}

// NewPresenceTracker creates the tracker and subscribes to the presence
// event stream. api may be nil when no REST fallback is wanted.
func NewPresenceTracker(session *Session, api PresenceAPI, logger *log.Logger) *PresenceTracker {
	if logger == nil {
		logger = log.Default()
	}
	p := &PresenceTracker{
		session: session,
		api:     api,
		logger:  logger,
		own:     models.PresenceOffline,
		remote:  make(map[string]*models.PresenceRecord),
	}
	p.unsubs = append(p.unsubs,
		session.Subscribe(models.EventPresenceUpdated, p.handleUpdate),
		session.Subscribe(models.EventUserOnline, p.handleOnline),
		session.Subscribe(models.EventUserOffline, p.handleOffline),
	)
	return p
}

// SetStatus transitions the local user's status. Prefers the socket; while
// the session is down the update rides the REST fallback so availability
// stays truthful during reconnect storms.
func (p *PresenceTracker) SetStatus(ctx context.Context, status string) error {
	if !models.ValidPresenceStatus(status) {
		return models.ErrInvalidPresenceStatus
	}

	p.mu.Lock()
	p.own = status
	p.mu.Unlock()

	err := p.session.Emit(models.EventUpdatePresence, models.PresencePayload{Status: status})
	if err == nil {
		return nil
	}
	if p.api == nil {
		return err
	}
	if _, restErr := p.api.UpdatePresence(ctx, status); restErr != nil {
		return restErr
	}
	return nil
}

// Status returns the local user's current status.
func (p *PresenceTracker) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.own
}

// Get returns the last known record for a user, or nil.
func (p *PresenceTracker) Get(userID string) *models.PresenceRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := p.remote[userID]
	if rec == nil {
		return nil
	}
	copied := *rec
	return &copied
}

// Snapshot returns a copy of the last known record for every tracked user.
func (p *PresenceTracker) Snapshot() map[string]*models.PresenceRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*models.PresenceRecord, len(p.remote))
	for id, rec := range p.remote {
		copied := *rec
		out[id] = &copied
	}
	return out
}

func (p *PresenceTracker) apply(raw json.RawMessage) *models.PresenceRecord {
	var rec models.PresenceRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.UserID == "" {
		return nil
	}
	p.mu.Lock()
	p.remote[rec.UserID] = &rec
	p.mu.Unlock()
	return &rec
}

func (p *PresenceTracker) handleUpdate(raw json.RawMessage) {
	if rec := p.apply(raw); rec != nil {
		p.changed.emit(rec)
	}
}

func (p *PresenceTracker) handleOnline(raw json.RawMessage) {
	if rec := p.apply(raw); rec != nil {
		p.online.emit(rec)
		p.changed.emit(rec)
	}
}

func (p *PresenceTracker) handleOffline(raw json.RawMessage) {
	if rec := p.apply(raw); rec != nil {
		p.offline.emit(rec)
		p.changed.emit(rec)
	}
}

// OnPresenceChange subscribes to every remote presence transition.
func (p *PresenceTracker) OnPresenceChange(fn func(*models.PresenceRecord)) func() {
	return p.changed.subscribe(fn)
}

// OnUserOnline subscribes to users coming online.
func (p *PresenceTracker) OnUserOnline(fn func(*models.PresenceRecord)) func() {
	return p.online.subscribe(fn)
}

// OnUserOffline subscribes to users going offline.
func (p *PresenceTracker) OnUserOffline(fn func(*models.PresenceRecord)) func() {
	return p.offline.subscribe(fn)
}

// Close releases the session subscriptions.
func (p *PresenceTracker) Close() {
	for _, unsub := range p.unsubs {
		unsub()
	}
}
