package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/translation-studio/collab/internal/model"
	"github.com/translation-studio/collab/internal/protocol"
)

// captureRecorder collects activity entries in memory.
type captureRecorder struct {
	mu      sync.Mutex
	entries []model.ActivityEntry
}

func (r *captureRecorder) Create(ctx context.Context, entry *model.ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *captureRecorder) byCategory(category string) []model.ActivityEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ActivityEntry
	for _, e := range r.entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

func newTestServer(t *testing.T) (*httptest.Server, *Handler, *captureRecorder) {
	t.Helper()

	handler := NewHandler(NewRoomManager())
	recorder := &captureRecorder{}
	handler.SetActivityRecorder(recorder)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.HandleConnection(w, r, r.URL.Query().Get("user_id"))
	}))
	t.Cleanup(srv.Close)

	return srv, handler, recorder
}

func dialUser(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		t.Fatalf("dial as %s failed: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.ServerEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	ev, err := protocol.DecodeServerEvent(data)
	if err != nil {
		t.Fatalf("decode event %s: %v", data, err)
	}
	return ev
}

func joinProject(t *testing.T, conn *websocket.Conn, projectID string) {
	t.Helper()
	sendEnvelope(t, conn, protocol.Envelope{Type: protocol.EnvelopeJoinProject, ProjectID: projectID})
}

func TestJoinAnnouncesAndSnapshotsRoster(t *testing.T) {
	srv, _, _ := newTestServer(t)

	alice := dialUser(t, srv, "alice")
	joinProject(t, alice, "p1")

	// The joiner gets the roster snapshot, not their own join announcement.
	ev := readEvent(t, alice)
	roster, ok := ev.(protocol.ProjectUsers)
	if !ok {
		t.Fatalf("expected ProjectUsers, got %T", ev)
	}
	if len(roster.Users) != 1 || roster.Users[0] != "alice" {
		t.Errorf("unexpected roster: %v", roster.Users)
	}

	bob := dialUser(t, srv, "bob")
	joinProject(t, bob, "p1")

	// Existing member sees the join.
	ev = readEvent(t, alice)
	joined, ok := ev.(protocol.UserJoined)
	if !ok {
		t.Fatalf("expected UserJoined, got %T", ev)
	}
	if joined.UserID != "bob" {
		t.Errorf("expected bob to join, got %s", joined.UserID)
	}

	// New member gets the two-user snapshot.
	ev = readEvent(t, bob)
	roster, ok = ev.(protocol.ProjectUsers)
	if !ok {
		t.Fatalf("expected ProjectUsers, got %T", ev)
	}
	if len(roster.Users) != 2 {
		t.Errorf("expected 2 users, got %v", roster.Users)
	}
}

func TestSegmentUpdateFansOutExcludingSender(t *testing.T) {
	srv, _, _ := newTestServer(t)

	alice := dialUser(t, srv, "alice")
	joinProject(t, alice, "p1")
	readEvent(t, alice) // roster snapshot

	bob := dialUser(t, srv, "bob")
	joinProject(t, bob, "p1")
	readEvent(t, bob)   // roster snapshot
	readEvent(t, alice) // bob joined

	sendEnvelope(t, alice, protocol.Envelope{
		Type:      protocol.EnvelopeSegmentUpdate,
		ProjectID: "p1",
		SegmentID: "s1",
		Content:   "Hola mundo",
	})

	ev := readEvent(t, bob)
	upd, ok := ev.(protocol.SegmentUpdated)
	if !ok {
		t.Fatalf("expected SegmentUpdated, got %T", ev)
	}
	if upd.Content != "Hola mundo" || upd.UserID != "alice" {
		t.Errorf("unexpected update: %+v", upd)
	}

	// The sender must not receive an echo.
	alice.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := alice.ReadMessage(); err == nil {
		t.Error("sender received its own segment update")
	}
}

func TestLateJoinerReceivesReplay(t *testing.T) {
	srv, _, _ := newTestServer(t)

	alice := dialUser(t, srv, "alice")
	joinProject(t, alice, "p1")
	readEvent(t, alice)

	sendEnvelope(t, alice, protocol.Envelope{
		Type:      protocol.EnvelopeSegmentUpdate,
		ProjectID: "p1",
		SegmentID: "s1",
		Content:   "first",
	})
	sendEnvelope(t, alice, protocol.Envelope{
		Type:      protocol.EnvelopeSegmentUpdate,
		ProjectID: "p1",
		SegmentID: "s2",
		Content:   "second",
	})

	// Give the server a moment to process both updates before joining.
	time.Sleep(100 * time.Millisecond)

	carol := dialUser(t, srv, "carol")
	joinProject(t, carol, "p1")

	ev := readEvent(t, carol)
	if _, ok := ev.(protocol.ProjectUsers); !ok {
		t.Fatalf("expected roster snapshot first, got %T", ev)
	}

	first := readEvent(t, carol)
	second := readEvent(t, carol)

	upd1, ok1 := first.(protocol.SegmentUpdated)
	upd2, ok2 := second.(protocol.SegmentUpdated)
	if !ok1 || !ok2 {
		t.Fatalf("expected replayed segment updates, got %T then %T", first, second)
	}
	if upd1.Content != "first" || upd2.Content != "second" {
		t.Errorf("replay out of order: %q then %q", upd1.Content, upd2.Content)
	}
}

func TestCommentBroadcastIncludesAuthorAndIsRecorded(t *testing.T) {
	srv, _, recorder := newTestServer(t)

	alice := dialUser(t, srv, "alice")
	joinProject(t, alice, "p1")
	readEvent(t, alice)

	sendEnvelope(t, alice, protocol.Envelope{
		Type:      protocol.EnvelopeComment,
		ProjectID: "p1",
		SegmentID: "s1",
		Comment:   "terminology mismatch",
	})

	ev := readEvent(t, alice)
	comment, ok := ev.(protocol.CommentAdded)
	if !ok {
		t.Fatalf("expected CommentAdded echoed to author, got %T", ev)
	}
	if comment.Comment != "terminology mismatch" || comment.UserID != "alice" {
		t.Errorf("unexpected comment event: %+v", comment)
	}

	deadline := time.After(time.Second)
	for len(recorder.byCategory("comment")) == 0 {
		select {
		case <-deadline:
			t.Fatal("comment activity was never recorded")
		case <-time.After(20 * time.Millisecond):
		}
	}
	entry := recorder.byCategory("comment")[0]
	if entry.ProjectID != "p1" || entry.SegmentID != "s1" || entry.UserID != "alice" {
		t.Errorf("unexpected activity entry: %+v", entry)
	}
}

func TestDisconnectAnnouncesLeave(t *testing.T) {
	srv, handler, _ := newTestServer(t)

	alice := dialUser(t, srv, "alice")
	joinProject(t, alice, "p1")
	readEvent(t, alice)

	bob := dialUser(t, srv, "bob")
	joinProject(t, bob, "p1")
	readEvent(t, bob)
	readEvent(t, alice)

	bob.Close()

	ev := readEvent(t, alice)
	left, ok := ev.(protocol.UserLeft)
	if !ok {
		t.Fatalf("expected UserLeft, got %T", ev)
	}
	if left.UserID != "bob" {
		t.Errorf("expected bob to leave, got %s", left.UserID)
	}

	deadline := time.After(time.Second)
	for handler.Rooms().Get("p1").Has("bob") {
		select {
		case <-deadline:
			t.Fatal("bob never removed from the room")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestUnknownEnvelopeGetsErrorEvent(t *testing.T) {
	srv, _, _ := newTestServer(t)

	alice := dialUser(t, srv, "alice")
	sendEnvelope(t, alice, protocol.Envelope{Type: "retrain_model", ProjectID: "p1"})

	ev := readEvent(t, alice)
	errEv, ok := ev.(protocol.ErrorEvent)
	if !ok {
		t.Fatalf("expected ErrorEvent, got %T", ev)
	}
	if !strings.Contains(errEv.Message, "Unknown message type") {
		t.Errorf("unexpected error message: %s", errEv.Message)
	}
}

func TestJoinWithoutProjectGetsError(t *testing.T) {
	srv, _, _ := newTestServer(t)

	alice := dialUser(t, srv, "alice")
	sendEnvelope(t, alice, protocol.Envelope{Type: protocol.EnvelopeJoinProject})

	ev := readEvent(t, alice)
	if _, ok := ev.(protocol.ErrorEvent); !ok {
		t.Fatalf("expected ErrorEvent, got %T", ev)
	}
}
