package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/translation-studio/collab/internal/db"
	"github.com/translation-studio/collab/internal/model"
	"github.com/translation-studio/collab/internal/repository"
	"github.com/translation-studio/collab/internal/ws"
)

func newTestRouter(t *testing.T) (*gin.Engine, *ws.RoomManager, *repository.ActivityRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })

	rooms := ws.NewRoomManager()
	activity := repository.NewActivityRepository(testDB)

	r := gin.New()
	api := r.Group("/api")
	NewPresenceHandler(rooms, activity).RegisterRoutes(api)
	return r, rooms, activity
}

func TestGetPresenceReflectsRooms(t *testing.T) {
	router, rooms, _ := newTestRouter(t)

	rooms.GetOrCreate("p1").Join("alice")
	rooms.GetOrCreate("p1").Join("bob")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/p1/presence", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp PresenceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ProjectID != "p1" || len(resp.Users) != 2 {
		t.Errorf("unexpected presence: %+v", resp)
	}
}

func TestGetPresenceEmptyProject(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/ghost/presence", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp PresenceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Users == nil || len(resp.Users) != 0 {
		t.Errorf("expected empty user list, got %v", resp.Users)
	}
}

func TestGetActivityReturnsFeed(t *testing.T) {
	router, _, activity := newTestRouter(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		entry := &model.ActivityEntry{
			ID:        uuid.New().String(),
			ProjectID: "p1",
			UserID:    "alice",
			SegmentID: "s1",
			Category:  "comment",
			Message:   "User alice commented on segment s1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := activity.Create(context.Background(), entry); err != nil {
			t.Fatalf("seed activity: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/p1/activity?limit=2", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp []ActivityResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp))
	}
	if resp[0].Category != "comment" || resp[0].UserID != "alice" {
		t.Errorf("unexpected entry: %+v", resp[0])
	}
}

func TestGetActivityRejectsBadLimit(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/p1/activity?limit=banana", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
