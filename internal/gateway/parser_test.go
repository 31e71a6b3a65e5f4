package gateway

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseMessageFullPayload(t *testing.T) {
	payload := []byte(`{
		"id": 42,
		"text": "achei sua carteira",
		"createdAt": "15/03/2025 14:30:00",
		"isRead": true,
		"sender": {"id": 1, "username": "ana", "name": "Ana", "surname": "Lima",
			"email": "ana@ufc.br", "phone": "85999990000", "imageUrl": "http://img/ana.jpg"},
		"recipient": {"id": 2, "username": "beto", "name": "Beto", "surname": "Souza",
			"email": "beto@ufc.br", "phone": "", "imageUrl": ""}
	}`)

	m, err := ParseMessage(payload)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if m.ID != 42 || m.Text != "achei sua carteira" || !m.IsRead {
		t.Errorf("message = %+v", m)
	}
	if m.SenderID != 1 || m.SenderUsername != "ana" || m.SenderAvatarURL != "http://img/ana.jpg" {
		t.Errorf("sender fields = %+v", m)
	}
	if m.RecipientID != 2 || m.RecipientUsername != "beto" {
		t.Errorf("recipient fields = %+v", m)
	}

	want := time.Date(2025, 3, 15, 14, 30, 0, 0, time.Local).UnixMilli()
	if m.CreatedAt != want {
		t.Errorf("createdAt = %d, want %d", m.CreatedAt, want)
	}
}

// Optional fields (phone, imageUrl) are routinely absent from socket
// payloads; parsing must substitute empty strings, never fail.
func TestParseMessageMissingOptionalFields(t *testing.T) {
	payload := []byte(`{
		"id": 7,
		"text": "oi",
		"createdAt": "01/01/2025 00:00:01",
		"sender": {"id": 1, "username": "ana"},
		"recipient": {"id": 2}
	}`)

	m, err := ParseMessage(payload)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if m.SenderAvatarURL != "" || m.SenderName != "" {
		t.Errorf("missing optionals should be empty strings, got %+v", m)
	}
	if m.IsRead {
		t.Error("missing isRead should default to false")
	}

	u, err := ParseUser([]byte(`{"id": 3, "username": "carla"}`))
	if err != nil {
		t.Fatalf("ParseUser() error = %v", err)
	}
	if u.Phone != "" || u.AvatarURL != "" {
		t.Errorf("user optionals should be empty strings, got %+v", u)
	}
}

func TestParseMessageBadTimestampDefaultsToNow(t *testing.T) {
	before := time.Now().UnixMilli()
	m, err := ParseMessage([]byte(`{"id": 1, "text": "x", "createdAt": "garbage",
		"sender": {"id": 1}, "recipient": {"id": 2}}`))
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	after := time.Now().UnixMilli()
	if m.CreatedAt < before || m.CreatedAt > after {
		t.Errorf("createdAt = %d, want now-ish between %d and %d", m.CreatedAt, before, after)
	}
}

func TestParseHistorySkipsMalformedEntries(t *testing.T) {
	payload := []byte(`[
		{"id": 1, "text": "a", "createdAt": "01/01/2025 10:00:00", "sender": {"id": 1}, "recipient": {"id": 2}},
		"not an object",
		{"id": 2, "text": "b", "createdAt": "01/01/2025 10:00:05", "sender": {"id": 2}, "recipient": {"id": 1}}
	]`)

	msgs, dropped, err := ParseHistory(payload)
	if err != nil {
		t.Fatalf("ParseHistory() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if msgs[0].ID != 1 || msgs[1].ID != 2 {
		t.Errorf("ids = [%d %d], want [1 2]", msgs[0].ID, msgs[1].ID)
	}
}

func TestParseHistoryNotAnArray(t *testing.T) {
	if _, _, err := ParseHistory([]byte(`{"oops": true}`)); err == nil {
		t.Error("expected error for non-array history payload")
	}
}

func TestEncodeFrameRoundTrip(t *testing.T) {
	data, err := EncodeFrame(EventSendPrivateMessage, sendPayload{SenderID: 1, RecipientID: 2, Text: "oi"})
	if err != nil {
		t.Fatal(err)
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f.Event != EventSendPrivateMessage {
		t.Errorf("event = %q, want %q", f.Event, EventSendPrivateMessage)
	}
	var p sendPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.SenderID != 1 || p.RecipientID != 2 || p.Text != "oi" {
		t.Errorf("payload = %+v", p)
	}
}
