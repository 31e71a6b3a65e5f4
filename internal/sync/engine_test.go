package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/achadosufc/achados/internal/auth"
	"github.com/achadosufc/achados/internal/bus"
	"github.com/achadosufc/achados/internal/store"
	"go.uber.org/zap"
)

type fakeGateway struct {
	sent            []string
	historyRequests []int64
	sendErr         error
	historyErr      error
}

func (f *fakeGateway) SendMessage(senderID, recipientID int64, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeGateway) RequestHistory(ctx context.Context, counterpartID int64) error {
	f.historyRequests = append(f.historyRequests, counterpartID)
	return f.historyErr
}

func testEngine(t *testing.T) (*Engine, *store.DB, *fakeGateway, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "achados.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	creds, err := auth.NewStore(filepath.Join(t.TempDir(), "credentials.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := creds.Set(&auth.Credentials{Token: "t", UserID: 1, Username: "ana", Name: "Ana"}); err != nil {
		t.Fatal(err)
	}

	gw := &fakeGateway{}
	b := bus.New()
	return NewEngine(db, gw, b, creds, zap.NewNop()), db, gw, b
}

func serverMsg(id int64, sender, recipient int64, text string) *store.Message {
	return &store.Message{
		ID:             id,
		Text:           text,
		CreatedAt:      1000 + id,
		SenderID:       sender,
		SenderUsername: "u",
		RecipientID:    recipient,
	}
}

func TestIngestMessageFromCounterpartNotifies(t *testing.T) {
	e, db, _, b := testEngine(t)

	ch, unsub := b.Subscribe("notify.", 4)
	defer unsub()

	if err := e.IngestMessage(serverMsg(10, 2, 1, "achei sua mochila")); err != nil {
		t.Fatalf("IngestMessage() error = %v", err)
	}

	msgs, err := db.ListMessagesBetween(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != 10 {
		t.Fatalf("cached messages = %+v", msgs)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "notify.message" {
			t.Errorf("kind = %q", evt.Kind)
		}
	default:
		t.Fatal("expected notify.message event")
	}
}

func TestSendThenEchoResolvesPlaceholder(t *testing.T) {
	e, db, gw, b := testEngine(t)

	ch, unsub := b.Subscribe("notify.", 4)
	defer unsub()

	m, err := e.Send(2, "oi, perdi um guarda-chuva")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !m.Placeholder() {
		t.Fatalf("expected placeholder id, got %d", m.ID)
	}
	if len(gw.sent) != 1 {
		t.Fatalf("gateway sends = %d, want 1", len(gw.sent))
	}

	// Authoritative echo from the server.
	if err := e.IngestMessage(serverMsg(77, 1, 2, "oi, perdi um guarda-chuva")); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessagesBetween(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after echo, want 1", len(msgs))
	}
	if msgs[0].ID != 77 {
		t.Errorf("id = %d, want server id 77", msgs[0].ID)
	}

	// Our own echo must not raise a notification.
	select {
	case evt := <-ch:
		t.Errorf("unexpected notification %q for own message", evt.Kind)
	default:
	}
}

func TestSendFailureKeepsPlaceholder(t *testing.T) {
	e, db, gw, _ := testEngine(t)
	gw.sendErr = errors.New("channel down")

	m, err := e.Send(2, "texto")
	if err == nil {
		t.Fatal("expected error from Send")
	}
	if m == nil || !m.Placeholder() {
		t.Fatalf("placeholder should survive a failed send, got %+v", m)
	}

	msgs, err := db.ListMessagesBetween(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || !msgs[0].Placeholder() {
		t.Errorf("cached messages = %+v", msgs)
	}
}

func TestIngestHistoryBatchRecordsCheckpoint(t *testing.T) {
	e, db, gw, _ := testEngine(t)

	batch := []*store.Message{
		serverMsg(1, 2, 1, "a"),
		serverMsg(2, 1, 2, "b"),
		serverMsg(3, 2, 1, "c"),
	}
	if err := e.IngestHistoryBatch(batch); err != nil {
		t.Fatalf("IngestHistoryBatch() error = %v", err)
	}

	count, err := db.CountMessagesBetween(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	// Cache is warm now, so no further history request goes out.
	if err := e.EnsureHistoryLoaded(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if len(gw.historyRequests) != 0 {
		t.Errorf("history requests = %v, want none", gw.historyRequests)
	}
}

func TestEnsureHistoryLoadedRequestsOnceWhenCold(t *testing.T) {
	e, db, gw, _ := testEngine(t)

	if err := e.EnsureHistoryLoaded(context.Background(), 5); err != nil {
		t.Fatalf("EnsureHistoryLoaded() error = %v", err)
	}
	if len(gw.historyRequests) != 1 || gw.historyRequests[0] != 5 {
		t.Fatalf("history requests = %v, want [5]", gw.historyRequests)
	}

	// Dispatching the request records the checkpoint, so a thread the
	// server has nothing for is not re-fetched on every open.
	checkpoint, err := db.GetSyncState("history:1:5")
	if err != nil {
		t.Fatal(err)
	}
	if checkpoint == "" {
		t.Fatal("checkpoint should be recorded with the request")
	}
	if err := e.EnsureHistoryLoaded(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if len(gw.historyRequests) != 1 {
		t.Errorf("history requests = %v, want exactly one", gw.historyRequests)
	}
}

func TestEnsureHistoryLoadedRetriesAfterFailedRequest(t *testing.T) {
	e, db, gw, _ := testEngine(t)
	gw.historyErr = errors.New("channel down")

	if err := e.EnsureHistoryLoaded(context.Background(), 5); err == nil {
		t.Fatal("expected error from failed history request")
	}
	checkpoint, err := db.GetSyncState("history:1:5")
	if err != nil {
		t.Fatal(err)
	}
	if checkpoint != "" {
		t.Fatal("failed request must not record a checkpoint")
	}

	gw.historyErr = nil
	if err := e.EnsureHistoryLoaded(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if len(gw.historyRequests) != 2 {
		t.Errorf("history requests = %v, want a retry after the failure", gw.historyRequests)
	}
}

func TestIngestCachesParticipantSnapshots(t *testing.T) {
	e, db, _, _ := testEngine(t)

	m := serverMsg(20, 3, 1, "oi")
	m.SenderUsername = "carla"
	m.SenderName = "Carla"
	if err := e.IngestMessage(m); err != nil {
		t.Fatal(err)
	}

	u, err := db.GetUser(3)
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Username != "carla" || u.Name != "Carla" {
		t.Errorf("cached user = %+v", u)
	}
}
