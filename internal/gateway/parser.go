package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/achadosufc/achados/internal/store"
)

// WireTimeLayout is the backend's createdAt encoding.
const WireTimeLayout = "02/01/2006 15:04:05"

// wireUser is the loosely-typed user snapshot embedded in socket
// payloads. Optional fields (phone, imageUrl) are frequently absent and
// decode to "", never null, so downstream code needs no nil checks.
type wireUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	ImageURL string `json:"imageUrl"`
}

type wireMessage struct {
	ID        int64    `json:"id"`
	Text      string   `json:"text"`
	CreatedAt string   `json:"createdAt"`
	Sender    wireUser `json:"sender"`
	Recipient wireUser `json:"recipient"`
	IsRead    bool     `json:"isRead"`
}

// ParseMessage decodes a single receivePrivateMessage payload.
func ParseMessage(data []byte) (*store.Message, error) {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return nil, fmt.Errorf("decode message payload: %w", err)
	}
	return wm.toStore(), nil
}

// ParseHistory decodes a chatHistory payload. Entries that fail to decode
// are skipped rather than failing the whole batch; the count of dropped
// entries is returned for logging.
func ParseHistory(data []byte) ([]*store.Message, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode history payload: %w", err)
	}

	var msgs []*store.Message
	dropped := 0
	for _, entry := range raw {
		var wm wireMessage
		if err := json.Unmarshal(entry, &wm); err != nil {
			dropped++
			continue
		}
		msgs = append(msgs, wm.toStore())
	}
	return msgs, dropped, nil
}

// ParseUser decodes a standalone user snapshot.
func ParseUser(data []byte) (*store.User, error) {
	var wu wireUser
	if err := json.Unmarshal(data, &wu); err != nil {
		return nil, fmt.Errorf("decode user payload: %w", err)
	}
	return wu.toStore(), nil
}

func (wm *wireMessage) toStore() *store.Message {
	return &store.Message{
		ID:                 wm.ID,
		Text:               wm.Text,
		CreatedAt:          parseWireTime(wm.CreatedAt),
		IsRead:             wm.IsRead,
		SenderID:           wm.Sender.ID,
		SenderUsername:     wm.Sender.Username,
		SenderName:         wm.Sender.Name,
		SenderAvatarURL:    wm.Sender.ImageURL,
		RecipientID:        wm.Recipient.ID,
		RecipientUsername:  wm.Recipient.Username,
		RecipientName:      wm.Recipient.Name,
		RecipientAvatarURL: wm.Recipient.ImageURL,
	}
}

func (wu *wireUser) toStore() *store.User {
	return &store.User{
		ID:        wu.ID,
		Username:  wu.Username,
		Name:      wu.Name,
		Surname:   wu.Surname,
		Email:     wu.Email,
		Phone:     wu.Phone,
		AvatarURL: wu.ImageURL,
	}
}

// parseWireTime converts the backend's createdAt string to unix millis.
// An unparseable or missing timestamp falls back to now: display order
// degrades but ingestion never fails on it.
func parseWireTime(s string) int64 {
	t, err := time.ParseInLocation(WireTimeLayout, s, time.Local)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}

// SenderSnapshot extracts the sender as a cacheable user.
func SenderSnapshot(m *store.Message) *store.User {
	return &store.User{
		ID:        m.SenderID,
		Username:  m.SenderUsername,
		Name:      m.SenderName,
		AvatarURL: m.SenderAvatarURL,
	}
}

// RecipientSnapshot extracts the recipient as a cacheable user.
func RecipientSnapshot(m *store.Message) *store.User {
	return &store.User{
		ID:        m.RecipientID,
		Username:  m.RecipientUsername,
		Name:      m.RecipientName,
		AvatarURL: m.RecipientAvatarURL,
	}
}
