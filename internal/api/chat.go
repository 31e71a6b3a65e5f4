package api

import (
	"net/http"
	"strconv"

	"github.com/achadosufc/achados/internal/store"
	"go.uber.org/zap"
)

type conversationJSON struct {
	CounterpartID        int64  `json:"counterpartId"`
	CounterpartUsername  string `json:"counterpartUsername"`
	CounterpartName      string `json:"counterpartName"`
	CounterpartAvatarURL string `json:"counterpartImageUrl,omitempty"`
	LastMessageText      string `json:"lastMessageText"`
	LastMessageAt        int64  `json:"lastMessageAt"`
	UnreadCount          int    `json:"unreadCount"`
}

type messageJSON struct {
	ID          int64  `json:"id"`
	Text        string `json:"text"`
	CreatedAt   int64  `json:"createdAt"`
	IsRead      bool   `json:"isRead"`
	SenderID    int64  `json:"senderId"`
	RecipientID int64  `json:"recipientId"`
	Pending     bool   `json:"pending"`
}

// Conversations handles GET /v1/conversations.
func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.Engine.Conversations()
	if err != nil {
		h.Logger.Error("list conversations failed", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	out := make([]conversationJSON, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationJSON{
			CounterpartID:        c.CounterpartID,
			CounterpartUsername:  c.CounterpartUsername,
			CounterpartName:      c.CounterpartName,
			CounterpartAvatarURL: c.CounterpartAvatarURL,
			LastMessageText:      c.LastMessageText,
			LastMessageAt:        c.LastMessageAt,
			UnreadCount:          c.UnreadCount,
		})
	}
	jsonResponse(w, http.StatusOK, out)
}

// Messages handles GET /v1/messages/{userId}. Opening a thread triggers
// a one-time history fetch for cold pairs and marks the thread read.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	counterpartID, err := strconv.ParseInt(r.PathValue("userId"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.Engine.EnsureHistoryLoaded(r.Context(), counterpartID); err != nil {
		// Cached messages are still served; the fetch retries next open.
		h.Logger.Warn("history fetch not issued", zap.Int64("counterpart", counterpartID), zap.Error(err))
	}
	if err := h.Engine.MarkRead(counterpartID); err != nil {
		h.Logger.Warn("thread not marked read", zap.Int64("counterpart", counterpartID), zap.Error(err))
	}

	msgs, err := h.Engine.MessagesBetween(counterpartID)
	if err != nil {
		h.Logger.Error("list messages failed", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	out := make([]messageJSON, 0, len(msgs))
	for i := range msgs {
		out = append(out, messageResponse(&msgs[i]))
	}
	jsonResponse(w, http.StatusOK, out)
}

type sendMessageRequest struct {
	RecipientID int64  `json:"recipientId"`
	Text        string `json:"text"`
}

// SendMessage handles POST /v1/messages. The response carries the
// optimistic placeholder; the authoritative row follows on the event
// stream.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RecipientID == 0 || req.Text == "" {
		jsonError(w, http.StatusBadRequest, "recipientId and text required")
		return
	}

	m, err := h.Engine.Send(req.RecipientID, req.Text)
	if err != nil && m == nil {
		h.Logger.Error("send failed", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	// A stored placeholder with a failed wire send is still accepted:
	// the message is durable locally and reconciles on reconnect.
	jsonResponse(w, http.StatusAccepted, messageResponse(m))
}

func messageResponse(m *store.Message) messageJSON {
	return messageJSON{
		ID:          m.ID,
		Text:        m.Text,
		CreatedAt:   m.CreatedAt,
		IsRead:      m.IsRead,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Pending:     m.Placeholder(),
	}
}
