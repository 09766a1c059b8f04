package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/lers-io/lers-ce/internal/models"
)

// DefaultSeenCacheSize bounds the recently-seen notification id set used
// for duplicate absorption.
const DefaultSeenCacheSize = 512

// ToastSink shows transient in-app toasts. Only HIGH and URGENT
// notifications reach it.
type ToastSink interface {
	ShowToast(n *models.Notification)
}

// DesktopNotifier is the OS-level notification surface. Permission is
// requested once at startup; a denial degrades to in-app surfaces only.
type DesktopNotifier interface {
	RequestPermission() bool
	Notify(n *models.Notification)
}

// AudioCue plays the delivery sound. The default is a no-op; a UI shell
// substitutes its own synthesis.
type AudioCue interface {
	Play()
}

type noopAudio struct{}

func (noopAudio) Play() {}

// NotificationDispatcher receives live notifications, keeps the unread
// count, and fires the side-effect surfaces with at-most-once semantics per
// notification id.
type NotificationDispatcher struct {
	session *Session
	api     NotificationAPI
	logger  *log.Logger
	metrics *coreMetrics

	toast      ToastSink
	desktop    DesktopNotifier
	audio      AudioCue
	permission bool

	mu       sync.Mutex
	unread   int
	seen     map[string]bool
	seenRing []string
	seenCap  int

	delivered registry[*models.Notification]
	countReg  registry[int]

	unsubs []func()
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*NotificationDispatcher)

// WithToastSink sets the toast surface.
func WithToastSink(t ToastSink) DispatcherOption {
	return func(d *NotificationDispatcher) { d.toast = t }
}

// WithDesktopNotifier sets the desktop notification surface.
func WithDesktopNotifier(n DesktopNotifier) DispatcherOption {
	return func(d *NotificationDispatcher) { d.desktop = n }
}

// WithAudioCue sets the delivery sound.
func WithAudioCue(a AudioCue) DispatcherOption {
	return func(d *NotificationDispatcher) { d.audio = a }
}

// WithSeenCacheSize bounds the dedup set.
func WithSeenCacheSize(n int) DispatcherOption {
	return func(d *NotificationDispatcher) {
		if n > 0 {
			d.seenCap = n
		}
	}
}

// WithDispatcherLogger sets a custom logger.
func WithDispatcherLogger(l *log.Logger) DispatcherOption {
	return func(d *NotificationDispatcher) { d.logger = l }
}

// NewNotificationDispatcher creates the dispatcher, requests desktop
// permission once, and subscribes to the notification stream.
func NewNotificationDispatcher(session *Session, api NotificationAPI, opts ...DispatcherOption) *NotificationDispatcher {
	d := &NotificationDispatcher{
		session: session,
		api:     api,
		logger:  log.Default(),
		metrics: globalCoreMetrics(),
		audio:   noopAudio{},
		seen:    make(map[string]bool),
		seenCap: DefaultSeenCacheSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.desktop != nil {
		d.permission = d.desktop.RequestPermission()
	}
	d.unsubs = append(d.unsubs,
		session.Subscribe(models.EventNewNotification, d.handleNotification),
		session.Subscribe(models.EventUnreadCount, d.handleUnreadCount),
	)
	return d
}

// handleNotification processes one live delivery. A repeated id, whether
// from a reconnect replay or a backfill overlapping a push, is absorbed
// without touching the count or the side effects.
func (d *NotificationDispatcher) handleNotification(raw json.RawMessage) {
	var n models.Notification
	if err := json.Unmarshal(raw, &n); err != nil || n.ID == "" {
		return
	}

	d.mu.Lock()
	if d.seen[n.ID] {
		d.mu.Unlock()
		return
	}
	d.remember(n.ID)
	d.unread++
	count := d.unread
	d.mu.Unlock()

	d.metrics.recordNotification(n.Priority)
	d.delivered.emit(&n)
	d.countReg.emit(count)

	d.audio.Play()
	if d.desktop != nil && d.permission {
		d.desktop.Notify(&n)
	}
	if d.toast != nil && n.Elevated() {
		d.toast.ShowToast(&n)
	}
}

// remember appends to the bounded seen set, evicting oldest first. Caller
// holds the lock.
func (d *NotificationDispatcher) remember(id string) {
	d.seen[id] = true
	d.seenRing = append(d.seenRing, id)
	if len(d.seenRing) > d.seenCap {
		evicted := d.seenRing[0]
		d.seenRing = d.seenRing[1:]
		delete(d.seen, evicted)
	}
}

func (d *NotificationDispatcher) handleUnreadCount(raw json.RawMessage) {
	var p models.UnreadCountPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	d.mu.Lock()
	d.unread = p.Count
	count := d.unread
	d.mu.Unlock()
	d.countReg.emit(count)
}

// UnreadCount returns the current unread notification count.
func (d *NotificationDispatcher) UnreadCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unread
}

// RefreshUnread reloads the count from REST. Used after connect, when live
// increments may have been missed.
func (d *NotificationDispatcher) RefreshUnread(ctx context.Context) error {
	if d.api == nil {
		return nil
	}
	count, err := d.api.UnreadCount(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.unread = count
	d.mu.Unlock()
	d.countReg.emit(count)
	return nil
}

// MarkRead flips one notification read via REST and decrements the count on
// acknowledgement. Not optimistic: a failed call leaves the count alone.
func (d *NotificationDispatcher) MarkRead(ctx context.Context, id string) error {
	if d.api == nil {
		return nil
	}
	if err := d.api.MarkNotificationRead(ctx, id); err != nil {
		return err
	}
	d.mu.Lock()
	if d.unread > 0 {
		d.unread--
	}
	count := d.unread
	d.mu.Unlock()
	d.countReg.emit(count)
	return nil
}

// MarkAllRead clears the unread state via REST.
func (d *NotificationDispatcher) MarkAllRead(ctx context.Context) error {
	if d.api == nil {
		return nil
	}
	if _, err := d.api.MarkAllNotificationsRead(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	d.unread = 0
	d.mu.Unlock()
	d.countReg.emit(0)
	return nil
}

// OnNotification subscribes to every delivered notification.
func (d *NotificationDispatcher) OnNotification(fn func(*models.Notification)) func() {
	return d.delivered.subscribe(fn)
}

// OnUnreadCount subscribes to unread count changes.
func (d *NotificationDispatcher) OnUnreadCount(fn func(int)) func() {
	return d.countReg.subscribe(fn)
}

// Close releases the session subscriptions.
func (d *NotificationDispatcher) Close() {
	for _, unsub := range d.unsubs {
		unsub()
	}
}
