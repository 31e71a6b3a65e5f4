package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/achadosufc/achados/internal/auth"
	"github.com/achadosufc/achados/internal/bus"
	"github.com/achadosufc/achados/internal/gateway"
	"github.com/achadosufc/achados/internal/items"
	"github.com/achadosufc/achados/internal/rest"
	"github.com/achadosufc/achados/internal/status"
	"github.com/achadosufc/achados/internal/store"
	syncengine "github.com/achadosufc/achados/internal/sync"
	"github.com/achadosufc/achados/internal/upload"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type fakeChat struct {
	sent    []string
	history []int64
}

func (f *fakeChat) SendMessage(senderID, recipientID int64, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeChat) RequestHistory(ctx context.Context, counterpartID int64) error {
	f.history = append(f.history, counterpartID)
	return nil
}

type fakeItems struct {
	items []*store.Item
}

func (f *fakeItems) ListItems(ctx context.Context) ([]*store.Item, error) {
	return f.items, nil
}

func (f *fakeItems) ListItemsByUser(ctx context.Context, userID int64) ([]*store.Item, error) {
	return f.items, nil
}

type fixture struct {
	router http.Handler
	db     *store.DB
	chat   *fakeChat
	remote *fakeItems
	bus    *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "achados.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	creds, err := auth.NewStore(filepath.Join(dir, "credentials.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := creds.Set(&auth.Credentials{Token: token, UserID: 1, Username: "ana"}); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	machine := status.NewMachine(b)
	logger := zap.NewNop()
	chat := &fakeChat{}
	remote := &fakeItems{}

	engine := syncengine.NewEngine(db, chat, b, creds, logger)
	repo := items.NewRepository(db, remote, b, logger)
	worker := upload.NewWorker(db, nil, b, logger)

	h := &Handler{
		Machine:  machine,
		Creds:    creds,
		Backend:  rest.NewClient("http://backend.invalid", creds, logger),
		Gateway:  gateway.NewSession("ws://backend.invalid/chat", creds, b, machine, logger),
		Engine:   engine,
		Items:    repo,
		Uploads:  worker,
		DB:       db,
		Bus:      b,
		MediaDir: filepath.Join(dir, "media"),
		Logger:   logger,
	}
	return &fixture{router: NewRouter(h), db: db, chat: chat, remote: remote, bus: b}
}

func (f *fixture) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/status", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != status.Booting {
		t.Errorf("state = %s, want BOOTING", resp.State)
	}
	if !resp.LoggedIn || resp.Username != "ana" {
		t.Errorf("response = %+v", resp)
	}
}

func TestMessagesEndpointMarksReadAndFetchesHistory(t *testing.T) {
	f := newFixture(t)

	// Incoming unread message from user 2.
	if err := f.db.UpsertMessage(&store.Message{
		ID: 10, Text: "achei", CreatedAt: 1000, SenderID: 2, RecipientID: 1,
	}); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/v1/messages/2", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var msgs []messageJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != 10 {
		t.Fatalf("messages = %+v", msgs)
	}

	// Cache was warm, so no history request went out.
	if len(f.chat.history) != 0 {
		t.Errorf("history requests = %v", f.chat.history)
	}

	// A cold thread does trigger one.
	f.do(t, http.MethodGet, "/v1/messages/7", nil, "")
	if len(f.chat.history) != 1 || f.chat.history[0] != 7 {
		t.Errorf("history requests = %v, want [7]", f.chat.history)
	}

	all, err := f.db.ListMessagesBetween(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !all[0].IsRead {
		t.Error("opening the thread should mark it read")
	}
}

func TestSendMessageEndpoint(t *testing.T) {
	f := newFixture(t)

	body := bytes.NewBufferString(`{"recipientId": 2, "text": "oi"}`)
	rec := f.do(t, http.MethodPost, "/v1/messages", body, "application/json")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var msg messageJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatal(err)
	}
	if !msg.Pending || msg.ID >= 0 {
		t.Errorf("expected pending placeholder, got %+v", msg)
	}
	if len(f.chat.sent) != 1 {
		t.Errorf("gateway sends = %v", f.chat.sent)
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/messages", bytes.NewBufferString(`{"text": ""}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListItemsRefresh(t *testing.T) {
	f := newFixture(t)
	f.remote.items = []*store.Item{
		{ID: 1, Title: "Carteira", Owner: store.User{ID: 9, Username: "beto"}},
	}

	rec := f.do(t, http.MethodGet, "/v1/items?refresh=1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list []itemJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Title != "Carteira" || list[0].User.Username != "beto" {
		t.Errorf("items = %+v", list)
	}

	// Without refresh the cache answers alone.
	f.remote.items = nil
	rec = f.do(t, http.MethodGet, "/v1/items", nil, "")
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("cached items = %+v", list)
	}
}

func TestGetItemNotCached(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/items/404", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSubmitReportQueues(t *testing.T) {
	f := newFixture(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.WriteField("title", "Chaveiro")
	w.WriteField("location", "Bloco 952")
	w.WriteField("isFound", "true")
	part, err := w.CreateFormFile("file", "photo.jpg")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("raw-photo-bytes"))
	w.Close()

	rec := f.do(t, http.MethodPost, "/v1/reports", &body, w.FormDataContentType())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["jobId"] == "" {
		t.Fatal("missing jobId")
	}

	rec = f.do(t, http.MethodGet, "/v1/reports", nil, "")
	var jobs []reportJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Status != store.UploadStatusQueued || jobs[0].Title != "Chaveiro" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestSubmitReportValidation(t *testing.T) {
	f := newFixture(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.WriteField("title", "")
	w.Close()

	rec := f.do(t, http.MethodPost, "/v1/reports", &body, w.FormDataContentType())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEventsLongPoll(t *testing.T) {
	f := newFixture(t)

	// Timeout path: no events, empty list.
	rec := f.do(t, http.MethodGet, "/v1/events?timeout=50ms", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var events []eventJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("events = %+v, want none", events)
	}

	// Delivery path: publish shortly after the poll starts.
	go func() {
		time.Sleep(20 * time.Millisecond)
		f.bus.Publish(bus.Event{Kind: "items.refreshed", Timestamp: time.Now(), Payload: 3})
	}()
	rec = f.do(t, http.MethodGet, "/v1/events?prefix=items.&timeout=2s", nil, "")
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != "items.refreshed" {
		t.Errorf("events = %+v", events)
	}
}
