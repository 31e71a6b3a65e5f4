package store

// User is a cached user snapshot. The backend is the source of truth;
// rows here are a denormalized read cache.
type User struct {
	ID        int64
	Username  string
	Name      string
	Surname   string
	Email     string
	Phone     string
	AvatarURL string
}

// Item is a cached lost-or-found report with its owner denormalized into
// the row, so detail views work offline without a join to a user fetch.
type Item struct {
	ID          int64
	Title       string
	Description string
	ImageURL    string
	Location    string
	IsFound     bool
	Date        string
	Owner       User
}

// Message is a chat message between two users. Server-assigned ids are
// positive; locally-created optimistic messages carry a negative
// placeholder id until the authoritative echo arrives.
type Message struct {
	ID                 int64
	Text               string
	CreatedAt          int64 // unix millis
	IsRead             bool
	SenderID           int64
	SenderUsername     string
	SenderName         string
	SenderAvatarURL    string
	RecipientID        int64
	RecipientUsername  string
	RecipientName      string
	RecipientAvatarURL string
}

// Placeholder reports whether the message is a local optimistic row.
func (m *Message) Placeholder() bool {
	return m.ID < 0
}

// Conversation is derived from the messages table: one row per distinct
// counterpart, annotated with the latest exchanged message.
type Conversation struct {
	CounterpartID        int64
	CounterpartUsername  string
	CounterpartName      string
	CounterpartAvatarURL string
	LastMessageText      string
	LastMessageAt        int64
	UnreadCount          int
}

// Upload job statuses.
const (
	UploadStatusQueued    = "queued"
	UploadStatusUploading = "uploading"
	UploadStatusFailed    = "failed"
)

// UploadJob is a durable pending report submission.
type UploadJob struct {
	ID            int64
	JobID         string
	Title         string
	Description   string
	Location      string
	IsFound       bool
	ImagePath     string
	Status        string // queued, uploading, failed
	Attempts      int
	ErrorMessage  string
	NextAttemptAt int64
	CreatedAt     int64
}
