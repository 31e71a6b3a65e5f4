// Package sync reconciles the realtime chat stream with the local cache:
// inbound messages and history batches are upserted idempotently, and
// outbound sends get an optimistic local row until the server echo lands.
package sync

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/achadosufc/achados/internal/auth"
	"github.com/achadosufc/achados/internal/bus"
	"github.com/achadosufc/achados/internal/gateway"
	"github.com/achadosufc/achados/internal/store"
	"go.uber.org/zap"
)

// Gateway is the slice of the chat session the engine drives.
type Gateway interface {
	SendMessage(senderID, recipientID int64, text string) error
	RequestHistory(ctx context.Context, counterpartID int64) error
}

// Engine ingests gateway events into the cache and serves conversation
// reads on top of it.
type Engine struct {
	db      *store.DB
	gw      Gateway
	bus     *bus.Bus
	creds   *auth.Store
	logger  *zap.Logger
	stop    func()
	stopped sync.WaitGroup
}

// NewEngine creates a sync engine bound to the session's cache and
// chat gateway.
func NewEngine(db *store.DB, gw Gateway, b *bus.Bus, creds *auth.Store, logger *zap.Logger) *Engine {
	return &Engine{db: db, gw: gw, bus: b, creds: creds, logger: logger}
}

// Start subscribes to gateway events and processes them until Stop.
func (e *Engine) Start() {
	ch, unsub := e.bus.Subscribe("gw.", 256)
	done := make(chan struct{})
	e.stop = func() {
		unsub()
		close(done)
	}
	e.stopped.Add(1)
	go func() {
		defer e.stopped.Done()
		for {
			select {
			case evt := <-ch:
				e.handle(evt)
			case <-done:
				return
			}
		}
	}()
	e.logger.Info("sync engine started")
}

// Stop unsubscribes and waits for the event loop to exit.
func (e *Engine) Stop() {
	if e.stop != nil {
		e.stop()
		e.stop = nil
		e.stopped.Wait()
	}
	e.logger.Info("sync engine stopped")
}

func (e *Engine) handle(evt bus.Event) {
	switch evt.Kind {
	case "gw.message":
		m, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(m); err != nil {
			e.logger.Error("ingest message failed", zap.Int64("id", m.ID), zap.Error(err))
		}
	case "gw.history_batch":
		msgs, ok := evt.Payload.([]*store.Message)
		if !ok {
			return
		}
		if err := e.IngestHistoryBatch(msgs); err != nil {
			e.logger.Error("ingest history failed", zap.Int("count", len(msgs)), zap.Error(err))
		}
	}
}

// IngestMessage stores one authoritative server message. An echo of our
// own send consumes its optimistic placeholder; anything else is a plain
// idempotent upsert. Messages from a counterpart also raise a
// notification event.
func (e *Engine) IngestMessage(m *store.Message) error {
	selfID := e.selfID()

	if m.SenderID == selfID {
		replaced, err := e.db.ResolvePlaceholder(m)
		if err != nil {
			return fmt.Errorf("resolve placeholder: %w", err)
		}
		if replaced {
			e.logger.Debug("placeholder resolved", zap.Int64("server_id", m.ID))
		}
	} else {
		if err := e.db.UpsertMessage(m); err != nil {
			return fmt.Errorf("upsert message: %w", err)
		}
	}

	e.cacheParticipants(m)

	e.bus.Publish(bus.Event{Kind: "message.upserted", Timestamp: time.Now(), Payload: m})
	if m.SenderID != selfID {
		e.bus.Publish(bus.Event{Kind: "notify.message", Timestamp: time.Now(), Payload: m})
	}
	return nil
}

// IngestHistoryBatch stores a full history response in one transaction
// and records the checkpoint so the pair is not re-fetched next time.
func (e *Engine) IngestHistoryBatch(msgs []*store.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := e.db.UpsertMessages(msgs); err != nil {
		return fmt.Errorf("upsert history batch: %w", err)
	}
	for _, m := range msgs {
		e.cacheParticipants(m)
	}

	selfID := e.selfID()
	counterpart := counterpartOf(msgs[0], selfID)
	if err := e.db.SetSyncState(historyKey(selfID, counterpart), strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		e.logger.Warn("history checkpoint not recorded", zap.Error(err))
	}

	e.logger.Info("history batch ingested",
		zap.Int64("counterpart", counterpart),
		zap.Int("count", len(msgs)))
	e.bus.Publish(bus.Event{Kind: "message.upserted", Timestamp: time.Now(), Payload: msgs[len(msgs)-1]})
	return nil
}

// MessagesBetween returns the cached thread with the counterpart,
// oldest first.
func (e *Engine) MessagesBetween(counterpartID int64) ([]store.Message, error) {
	return e.db.ListMessagesBetween(e.selfID(), counterpartID)
}

// Conversations returns the cached conversation list for the logged-in
// user, most recent first.
func (e *Engine) Conversations() ([]store.Conversation, error) {
	return e.db.ListConversations(e.selfID())
}

// MarkRead flags every cached message from the counterpart as read.
func (e *Engine) MarkRead(counterpartID int64) error {
	return e.db.MarkConversationRead(e.selfID(), counterpartID)
}

// EnsureHistoryLoaded requests the server-side history for the pair when
// the cache has never seen it: no local messages and no recorded
// checkpoint. The checkpoint is written as soon as the request is
// dispatched, so a thread that turns out to be empty (the server sends
// no batch) is still only fetched once; a landing batch refreshes it.
func (e *Engine) EnsureHistoryLoaded(ctx context.Context, counterpartID int64) error {
	selfID := e.selfID()

	count, err := e.db.CountMessagesBetween(selfID, counterpartID)
	if err != nil {
		return fmt.Errorf("count cached messages: %w", err)
	}
	if count > 0 {
		return nil
	}
	checkpoint, err := e.db.GetSyncState(historyKey(selfID, counterpartID))
	if err != nil {
		return fmt.Errorf("read history checkpoint: %w", err)
	}
	if checkpoint != "" {
		return nil
	}

	e.logger.Info("requesting chat history", zap.Int64("counterpart", counterpartID))
	if err := e.gw.RequestHistory(ctx, counterpartID); err != nil {
		return err
	}
	if err := e.db.SetSyncState(historyKey(selfID, counterpartID), strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		e.logger.Warn("history checkpoint not recorded", zap.Error(err))
	}
	return nil
}

// Send creates an optimistic local message and fires it at the gateway.
// The placeholder row (negative id) is returned immediately so the
// caller can render it; the authoritative echo replaces it later.
func (e *Engine) Send(recipientID int64, text string) (*store.Message, error) {
	creds := e.creds.Current()
	if creds == nil {
		return nil, fmt.Errorf("not logged in")
	}

	id, err := e.db.NextPlaceholderID()
	if err != nil {
		return nil, fmt.Errorf("allocate placeholder id: %w", err)
	}
	m := &store.Message{
		ID:              id,
		Text:            text,
		CreatedAt:       time.Now().UnixMilli(),
		IsRead:          true,
		SenderID:        creds.UserID,
		SenderUsername:  creds.Username,
		SenderName:      creds.Name,
		SenderAvatarURL: creds.AvatarURL,
		RecipientID:     recipientID,
	}
	if counterpart, err := e.db.GetUser(recipientID); err == nil && counterpart != nil {
		m.RecipientUsername = counterpart.Username
		m.RecipientName = counterpart.Name
		m.RecipientAvatarURL = counterpart.AvatarURL
	}

	if err := e.db.UpsertMessage(m); err != nil {
		return nil, fmt.Errorf("store optimistic message: %w", err)
	}
	e.bus.Publish(bus.Event{Kind: "message.upserted", Timestamp: time.Now(), Payload: m})

	if err := e.gw.SendMessage(creds.UserID, recipientID, text); err != nil {
		// Keep the placeholder; reconnect plus a fresh history fetch
		// reconciles the thread either way.
		e.logger.Warn("send failed, placeholder kept", zap.Int64("placeholder", id), zap.Error(err))
		return m, err
	}
	return m, nil
}

// cacheParticipants upserts both user snapshots carried by a message.
func (e *Engine) cacheParticipants(m *store.Message) {
	for _, u := range []*store.User{gateway.SenderSnapshot(m), gateway.RecipientSnapshot(m)} {
		if err := e.db.UpsertUser(u); err != nil {
			e.logger.Warn("user snapshot not cached", zap.Int64("id", u.ID), zap.Error(err))
		}
	}
}

func (e *Engine) selfID() int64 {
	if creds := e.creds.Current(); creds != nil {
		return creds.UserID
	}
	return 0
}

func counterpartOf(m *store.Message, selfID int64) int64 {
	if m.SenderID == selfID {
		return m.RecipientID
	}
	return m.SenderID
}

// historyKey identifies an unordered user pair: both orderings map to
// the same checkpoint.
func historyKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("history:%d:%d", a, b)
}
