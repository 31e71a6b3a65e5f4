package gateway

import "encoding/json"

// Socket event names used by the chat channel.
const (
	EventSendPrivateMessage    = "sendPrivateMessage"
	EventGetChatHistory        = "getChatHistory"
	EventChatHistory           = "chatHistory"
	EventReceivePrivateMessage = "receivePrivateMessage"
)

// Frame is the wire envelope for every socket event, in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame builds the wire bytes for an outbound event.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// sendPayload is the body of a sendPrivateMessage event.
type sendPayload struct {
	SenderID    int64  `json:"senderId"`
	RecipientID int64  `json:"recipientId"`
	Text        string `json:"text"`
}

// historyPayload is the body of a getChatHistory event.
type historyPayload struct {
	OtherUserID int64 `json:"otherUserId"`
}
