package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/translation-studio/collab/internal/model"
)

func TestUpdateSegmentSendsBearerToken(t *testing.T) {
	var gotAuth, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var update SegmentUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			t.Errorf("bad update payload: %v", err)
		}

		quality := 91.0
		json.NewEncoder(w).Encode(model.Segment{
			ID:              "s1",
			SourceText:      "Hello",
			CurrentValue:    *update.PostEdit,
			QualityEstimate: &quality,
			RiskLevel:       model.RiskLevelLow,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetToken("tok-123")

	value := "Hallo"
	seg, err := c.UpdateSegment(context.Background(), "p1", "s1", SegmentUpdate{PostEdit: &value})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if gotAuth != "Bearer tok-123" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if gotPath != "/projects/p1/segments/s1" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if seg.CurrentValue != "Hallo" || seg.RiskLevel != model.RiskLevelLow {
		t.Errorf("unexpected segment: %+v", seg)
	}
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.ListProjects(context.Background())
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestLoginInstallsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			json.NewEncoder(w).Encode(LoginResponse{AccessToken: "fresh-token", TokenType: "bearer"})
		case "/auth/me":
			if r.Header.Get("Authorization") != "Bearer fresh-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(model.User{ID: "u1", Email: "a@example.com"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Login(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	user, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("me failed: %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestCallTimeoutIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	_, err := c.ListProjects(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("call was not bounded by the timeout, took %s", elapsed)
	}
}

func TestUpdateSegmentValidatesIDs(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")

	if _, err := c.UpdateSegment(context.Background(), "", "s1", SegmentUpdate{}); !errors.Is(err, model.ErrProjectRequired) {
		t.Errorf("expected ErrProjectRequired, got %v", err)
	}
	if _, err := c.UpdateSegment(context.Background(), "p1", "", SegmentUpdate{}); !errors.Is(err, model.ErrSegmentRequired) {
		t.Errorf("expected ErrSegmentRequired, got %v", err)
	}
}
