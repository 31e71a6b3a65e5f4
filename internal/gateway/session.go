// Package gateway owns the realtime chat channel to the AchadosUFC
// backend: one websocket per logged-in session, translated into typed
// bus events for the sync engine.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/achadosufc/achados/internal/auth"
	"github.com/achadosufc/achados/internal/bus"
	"github.com/achadosufc/achados/internal/status"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when an operation needs a live channel.
var ErrNotConnected = errors.New("chat channel not connected")

const (
	dialTimeout       = 15 * time.Second
	writeTimeout      = 10 * time.Second
	reconnectMinDelay = time.Second
	reconnectMaxDelay = time.Minute
)

// Session maintains at most one live chat channel. Lifecycle is explicit:
// Connect/Disconnect are idempotent, drops trigger a backoff reconnect
// loop, and Close tears everything down for good.
type Session struct {
	url     string
	creds   *auth.Store
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	// History request polling knobs; defaults match the backend's
	// expected connect latency, tests shorten them.
	HistoryAttempts int
	HistoryInterval time.Duration

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	backoff time.Duration
}

// NewSession creates a chat session for the given socket URL.
func NewSession(socketURL string, creds *auth.Store, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		url:             socketURL,
		creds:           creds,
		bus:             b,
		machine:         machine,
		logger:          logger,
		HistoryAttempts: 10,
		HistoryInterval: 500 * time.Millisecond,
		lifeCtx:         ctx,
		lifeCancel:      cancel,
	}
}

// Connect establishes the chat channel. It is a no-op when a channel is
// already active, and fails silently (log only) when no valid credential
// is stored. Dial failures schedule a backoff retry and are returned to
// the caller for immediate feedback.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}

	creds := s.creds.Current()
	if !creds.Valid() {
		s.logger.Info("no valid credential, chat channel stays down")
		_ = s.machine.Transition(status.AuthRequired)
		return nil
	}

	_ = s.machine.Transition(status.Connecting)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.url+"?token="+url.QueryEscape(creds.Token), nil)
	if err != nil {
		s.logger.Error("chat channel dial failed", zap.Error(err))
		_ = s.machine.Transition(status.Reconnecting)
		s.spawnReconnect(s.nextBackoffLocked())
		return fmt.Errorf("dial chat channel: %w", err)
	}

	connCtx, connCancel := context.WithCancel(s.lifeCtx)
	s.conn = conn
	s.cancel = connCancel
	s.backoff = 0

	_ = s.machine.Transition(status.Connected)
	s.bus.Publish(bus.Event{Kind: "session.connected", Timestamp: time.Now()})
	s.logger.Info("chat channel connected")

	go s.readLoop(connCtx, conn)
	return nil
}

// Disconnect tears down the channel and stops the read loop. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		_ = s.machine.Transition(status.Disconnected)
		s.bus.Publish(bus.Event{Kind: "session.disconnected", Timestamp: time.Now()})
		s.logger.Info("chat channel disconnected")
	}
}

// Close shuts the session down permanently, cancelling any pending
// reconnect timer.
func (s *Session) Close() {
	s.lifeCancel()
	s.Disconnect()
}

// Connected reports whether a channel is currently active.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// SendMessage emits a sendPrivateMessage event. Fire and forget: no
// server acknowledgment is awaited; the sync engine owns the optimistic
// local representation.
func (s *Session) SendMessage(senderID, recipientID int64, text string) error {
	return s.write(EventSendPrivateMessage, sendPayload{
		SenderID:    senderID,
		RecipientID: recipientID,
		Text:        text,
	})
}

// RequestHistory emits a getChatHistory event for the counterpart.
// Results arrive asynchronously on the shared inbound stream. If the
// channel is not yet active the call waits with bounded retries before
// giving up, so a caller racing the connection handshake usually wins.
func (s *Session) RequestHistory(ctx context.Context, counterpartID int64) error {
	for attempt := 0; attempt < s.HistoryAttempts; attempt++ {
		if s.Connected() {
			return s.write(EventGetChatHistory, historyPayload{OtherUserID: counterpartID})
		}
		select {
		case <-time.After(s.HistoryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.bus.Publish(bus.Event{
		Kind:      "session.history_unavailable",
		Timestamp: time.Now(),
		Payload:   counterpartID,
	})
	return ErrNotConnected
}

func (s *Session) write(event string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := EncodeFrame(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	ctx, cancel := context.WithTimeout(s.lifeCtx, writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Explicit disconnect or shutdown.
				return
			}
			s.handleDrop(conn, err)
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) dispatch(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.logger.Warn("undecodable socket frame", zap.Error(err))
		return
	}

	switch f.Event {
	case EventReceivePrivateMessage:
		m, err := ParseMessage(f.Data)
		if err != nil {
			s.logger.Warn("bad private message payload", zap.Error(err))
			return
		}
		s.bus.Publish(bus.Event{Kind: "gw.message", Timestamp: time.Now(), Payload: m})
	case EventChatHistory:
		msgs, dropped, err := ParseHistory(f.Data)
		if err != nil {
			s.logger.Warn("bad history payload", zap.Error(err))
			return
		}
		if dropped > 0 {
			s.logger.Warn("history entries dropped", zap.Int("count", dropped))
		}
		if len(msgs) > 0 {
			s.bus.Publish(bus.Event{Kind: "gw.history_batch", Timestamp: time.Now(), Payload: msgs})
		}
	default:
		s.logger.Debug("unhandled socket event", zap.String("event", f.Event))
	}
}

func (s *Session) handleDrop(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		// Already replaced or explicitly disconnected.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.cancel = nil
	delay := s.nextBackoffLocked()
	s.mu.Unlock()

	s.logger.Warn("chat channel dropped", zap.Error(err))
	_ = s.machine.Transition(status.Reconnecting)
	s.bus.Publish(bus.Event{Kind: "session.disconnected", Timestamp: time.Now()})
	s.spawnReconnect(delay)
}

// nextBackoffLocked doubles the reconnect delay up to the cap. mu must be held.
func (s *Session) nextBackoffLocked() time.Duration {
	if s.backoff < reconnectMinDelay {
		s.backoff = reconnectMinDelay
	} else {
		s.backoff *= 2
		if s.backoff > reconnectMaxDelay {
			s.backoff = reconnectMaxDelay
		}
	}
	return s.backoff
}

func (s *Session) spawnReconnect(delay time.Duration) {
	s.logger.Info("scheduling reconnect", zap.Duration("delay", delay))
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			if err := s.Connect(s.lifeCtx); err != nil {
				// Connect already rescheduled the next attempt.
				return
			}
		case <-s.lifeCtx.Done():
		}
	}()
}
