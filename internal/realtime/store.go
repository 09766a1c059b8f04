package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/lers-io/lers-ce/internal/models"
)

// SyncState is the per-room message sync lifecycle.
type SyncState string

const (
	SyncEmpty   SyncState = "EMPTY"
	SyncLoading SyncState = "LOADING"
	SyncSynced  SyncState = "SYNCED"
)

// MessageStore keeps a per-room ordered message list, merging REST history
// with live socket echoes keyed by message id. Duplicates are absorbed;
// first write wins on immutable fields.
type MessageStore struct {
	session *Session
	api     MessageAPI
	logger  *log.Logger
	metrics *coreMetrics

	// Identity of the local user; read receipts never fire for messages
	// this role authored.
	selfRole string

	mu    sync.Mutex
	rooms map[string]*roomMessages

	arrivals map[string]*registry[*models.Message]
	readReg  registry[models.MessageReadPayload]

	unsubs []func()
}

type roomMessages struct {
	state    SyncState
	ordered  []*models.Message
	byID     map[string]*models.Message
	receipts map[string]bool // message ids already announced via mark_message_read
}

// NewMessageStore creates the store for a user with the given role and
// subscribes to the message event stream.
func NewMessageStore(session *Session, api MessageAPI, selfRole string, logger *log.Logger) *MessageStore {
	if logger == nil {
		logger = log.Default()
	}
	s := &MessageStore{
		session:  session,
		api:      api,
		logger:   logger,
		metrics:  globalCoreMetrics(),
		selfRole: selfRole,
		rooms:    make(map[string]*roomMessages),
		arrivals: make(map[string]*registry[*models.Message]),
	}
	s.unsubs = append(s.unsubs,
		session.Subscribe(models.EventNewMessage, s.handleNewMessage),
		session.Subscribe(models.EventMessageRead, s.handleMessageRead),
	)
	return s
}

func (s *MessageStore) room(requestID string) *roomMessages {
	rm := s.rooms[requestID]
	if rm == nil {
		rm = &roomMessages{
			state:    SyncEmpty,
			byID:     make(map[string]*models.Message),
			receipts: make(map[string]bool),
		}
		s.rooms[requestID] = rm
	}
	return rm
}

// Messages returns an ordered snapshot of the room's list, oldest first.
func (s *MessageStore) Messages(requestID string) []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.rooms[requestID]
	if rm == nil {
		return nil
	}
	out := make([]*models.Message, len(rm.ordered))
	for i, m := range rm.ordered {
		copied := *m
		out[i] = &copied
	}
	return out
}

// State returns the room's sync lifecycle state.
func (s *MessageStore) State(requestID string) SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.rooms[requestID]
	if rm == nil {
		return SyncEmpty
	}
	return rm.state
}

// LoadHistory fetches the room's history over REST and merges it in. Live
// messages that arrived mid-fetch stay merged, not discarded; the room ends
// SYNCED either way.
func (s *MessageStore) LoadHistory(ctx context.Context, requestID string) error {
	s.mu.Lock()
	rm := s.room(requestID)
	if rm.state == SyncEmpty {
		rm.state = SyncLoading
	}
	s.mu.Unlock()

	history, err := s.api.ListMessages(ctx, requestID)
	if err != nil {
		s.mu.Lock()
		if rm := s.rooms[requestID]; rm != nil && rm.state == SyncLoading {
			rm.state = SyncEmpty
		}
		s.mu.Unlock()
		return fmt.Errorf("failed to load history for %s: %w", requestID, err)
	}

	for _, msg := range history {
		s.merge(requestID, msg, false)
	}

	s.mu.Lock()
	s.room(requestID).state = SyncSynced
	s.mu.Unlock()
	return nil
}

// Send runs the two-phase send: persist over REST first, then insert the
// canonical record locally and announce its id over the socket so room
// subscribers get the live echo. A REST failure means nothing was announced
// and the error goes back to the caller.
func (s *MessageStore) Send(ctx context.Context, requestID, text string, attachments []models.Attachment) (*models.Message, error) {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	msg, err := s.api.CreateMessage(ctx, requestID, text, attachments)
	if err != nil {
		return nil, fmt.Errorf("send failed: %w", err)
	}

	s.merge(requestID, msg, false)

	err = s.session.Emit(models.EventSendMessage, models.AnnouncePayload{
		RequestID: requestID,
		MessageID: msg.ID,
	})
	if err != nil {
		// Persisted but not announced. Receivers still see it on their
		// next history fetch; the sender's copy is already in place.
		s.logger.Printf("realtime: announce of %s failed: %v", msg.ID, err)
	}
	return msg, nil
}

// merge inserts a message into its room keyed by id. Already-present ids
// are a no-op apart from a read-flag upgrade; new ones land in
// creation-timestamp order. withReceipt enables the automatic read receipt
// for live arrivals.
func (s *MessageStore) merge(requestID string, msg *models.Message, withReceipt bool) {
	if msg == nil || msg.ID == "" {
		return
	}

	s.mu.Lock()
	rm := s.room(requestID)
	if existing := rm.byID[msg.ID]; existing != nil {
		// Read state may only move forward.
		if msg.Read && !existing.Read {
			existing.Read = true
			existing.ReadAt = msg.ReadAt
		}
		s.mu.Unlock()
		s.metrics.recordDuplicate()
		return
	}

	copied := *msg
	rm.byID[copied.ID] = &copied
	idx := sort.Search(len(rm.ordered), func(i int) bool {
		return rm.ordered[i].CreatedAt.After(copied.CreatedAt)
	})
	rm.ordered = append(rm.ordered, nil)
	copy(rm.ordered[idx+1:], rm.ordered[idx:])
	rm.ordered[idx] = &copied

	emitReceipt := withReceipt && s.receiptEligibleLocked(rm, &copied)
	if emitReceipt {
		rm.receipts[copied.ID] = true
	}
	s.mu.Unlock()

	if reg := s.arrivalReg(requestID, false); reg != nil {
		reg.emit(&copied)
	}

	if emitReceipt {
		s.emitReceipt(requestID, copied.ID)
	}
}

// receiptEligibleLocked: not our own message, not already read, not already
// announced. Connectivity is checked at emit time.
func (s *MessageStore) receiptEligibleLocked(rm *roomMessages, msg *models.Message) bool {
	if msg.AuthoredBy(s.selfRole) {
		return false
	}
	if msg.Read || rm.receipts[msg.ID] {
		return false
	}
	return s.session.Connected()
}

func (s *MessageStore) emitReceipt(requestID, messageID string) {
	err := s.session.Emit(models.EventMarkMessageRead, models.MarkReadPayload{
		MessageID: messageID,
		RequestID: requestID,
	})
	if err != nil {
		s.logger.Printf("realtime: read receipt for %s failed: %v", messageID, err)
		s.mu.Lock()
		if rm := s.rooms[requestID]; rm != nil {
			delete(rm.receipts, messageID)
		}
		s.mu.Unlock()
	}
}

// MarkRead announces a read receipt for one message on the UI's behalf,
// used when a history-loaded message scrolls into view. Same eligibility
// rules as the automatic path; ineligible calls are no-ops.
func (s *MessageStore) MarkRead(requestID, messageID string) {
	s.mu.Lock()
	rm := s.rooms[requestID]
	var msg *models.Message
	if rm != nil {
		msg = rm.byID[messageID]
	}
	eligible := msg != nil && rm != nil && s.receiptEligibleLocked(rm, msg)
	if eligible {
		rm.receipts[messageID] = true
	}
	s.mu.Unlock()

	if eligible {
		s.emitReceipt(requestID, messageID)
	}
}

func (s *MessageStore) handleNewMessage(raw json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.ID == "" || msg.RequestID == "" {
		return
	}
	s.merge(msg.RequestID, &msg, true)
}

// handleMessageRead applies the acknowledged read receipt. The local flag
// flips only here, never optimistically at emission.
func (s *MessageStore) handleMessageRead(raw json.RawMessage) {
	var p models.MessageReadPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.MessageID == "" {
		return
	}

	s.mu.Lock()
	rm := s.rooms[p.RequestID]
	var msg *models.Message
	if rm != nil {
		msg = rm.byID[p.MessageID]
	}
	if msg != nil && !msg.Read {
		msg.Read = true
		readAt := p.ReadAt
		msg.ReadAt = &readAt
	} else {
		msg = nil
	}
	s.mu.Unlock()

	if msg != nil {
		s.readReg.emit(p)
	}
}

func (s *MessageStore) arrivalReg(requestID string, create bool) *registry[*models.Message] {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := s.arrivals[requestID]
	if reg == nil && create {
		reg = &registry[*models.Message]{}
		s.arrivals[requestID] = reg
	}
	return reg
}

// OnNewMessage subscribes to messages newly inserted into one room.
// Duplicate deliveries do not re-fire.
func (s *MessageStore) OnNewMessage(requestID string, fn func(*models.Message)) func() {
	return s.arrivalReg(requestID, true).subscribe(fn)
}

// OnMessageRead subscribes to acknowledged read receipts.
func (s *MessageStore) OnMessageRead(fn func(models.MessageReadPayload)) func() {
	return s.readReg.subscribe(fn)
}

// Close releases the session subscriptions.
func (s *MessageStore) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
}
