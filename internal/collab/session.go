// Package collab ties the realtime channel, the session store, and the REST
// API together into one collaboration session. Edits apply optimistically to
// the store, broadcast over the channel as a hint, and persist through REST
// as the durable record.
package collab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/translation-studio/collab/internal/model"
	"github.com/translation-studio/collab/internal/protocol"
	"github.com/translation-studio/collab/internal/realtime"
	"github.com/translation-studio/collab/internal/rest"
	"github.com/translation-studio/collab/internal/store"
)

// Persister is the durable write surface of the REST API. *rest.Client
// satisfies it; tests substitute their own.
type Persister interface {
	UpdateSegment(ctx context.Context, projectID, segmentID string, update rest.SegmentUpdate) (*model.Segment, error)
}

// Session is one user's collaboration session. It owns the channel lifecycle,
// routes inbound events into the store, and coordinates the optimistic
// apply / persist / broadcast flow for local edits.
type Session struct {
	manager *realtime.Manager
	state   *store.Store
	api     Persister

	mu     sync.Mutex
	userID string
	// joined remembers which projects this session entered, so a reconnect
	// can re-issue join_project for each. The server treats re-joins as
	// no-ops, which makes the replay safe.
	joined map[string]bool

	cbMu     sync.Mutex
	onLogout func()
}

// NewSession wires a session over its three collaborators. The manager's
// callbacks are claimed by the session; nothing else may set them.
func NewSession(manager *realtime.Manager, state *store.Store, api Persister) *Session {
	s := &Session{
		manager: manager,
		state:   state,
		api:     api,
		joined:  make(map[string]bool),
	}
	manager.SetOnEvent(s.handleEvent)
	manager.SetOnStateChange(s.handleState)
	return s
}

// SetOnLogout sets the callback invoked after a forced logout, e.g. so the
// UI can return to the login view.
func (s *Session) SetOnLogout(fn func()) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onLogout = fn
}

// Connect opens the realtime channel for the given user.
func (s *Session) Connect(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()

	s.manager.Connect(userID)
}

// Disconnect closes the channel but keeps session state, so the user can
// resume without logging in again.
func (s *Session) Disconnect() {
	s.manager.Disconnect()
}

// Logout tears the whole session down: channel closed, store wiped, joined
// projects forgotten.
func (s *Session) Logout() {
	s.manager.Disconnect()

	s.mu.Lock()
	s.userID = ""
	s.joined = make(map[string]bool)
	s.mu.Unlock()

	s.state.Reset()

	s.cbMu.Lock()
	fn := s.onLogout
	s.cbMu.Unlock()
	if fn != nil {
		fn()
	}
}

// UserID returns the user this session was connected as.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// JoinProject enters a project room. Idempotent; the membership is tracked so
// a reconnect re-enters the room automatically.
func (s *Session) JoinProject(projectID string) {
	if projectID == "" {
		return
	}

	s.mu.Lock()
	s.joined[projectID] = true
	userID := s.userID
	s.mu.Unlock()

	// Show ourselves immediately; the server's roster snapshot replaces
	// this as soon as the join is acknowledged.
	if userID != "" {
		s.state.JoinUser(projectID, userID)
	}

	s.send(protocol.Envelope{Type: protocol.EnvelopeJoinProject, ProjectID: projectID})
}

// LeaveProject exits a project room and stops tracking it for rejoin.
func (s *Session) LeaveProject(projectID string) {
	if projectID == "" {
		return
	}

	s.mu.Lock()
	delete(s.joined, projectID)
	userID := s.userID
	s.mu.Unlock()

	if userID != "" {
		s.state.LeaveUser(projectID, userID)
	}

	s.send(protocol.Envelope{Type: protocol.EnvelopeLeaveProject, ProjectID: projectID})
}

// ApplyLocalEdit runs the optimistic edit flow for a segment: the store is
// updated first so the UI never waits, the edit is broadcast as a hint, and
// the REST write is the durable record. A rejected write keeps the optimistic
// value visible and surfaces the error; a 401 ends the session.
func (s *Session) ApplyLocalEdit(ctx context.Context, projectID, segmentID, content string) error {
	if projectID == "" {
		return model.ErrProjectRequired
	}
	if segmentID == "" {
		return model.ErrSegmentRequired
	}

	s.state.ApplySegmentUpdate(segmentID, content)

	s.send(protocol.Envelope{
		Type:      protocol.EnvelopeSegmentUpdate,
		ProjectID: projectID,
		SegmentID: segmentID,
		Content:   content,
	})

	seg, err := s.api.UpdateSegment(ctx, projectID, segmentID, rest.SegmentUpdate{PostEdit: &content})
	if err != nil {
		if errors.Is(err, model.ErrUnauthorized) {
			log.Printf("collab: segment write rejected as unauthorized, ending session")
			s.Logout()
			return err
		}
		s.state.SetLastError(fmt.Sprintf("failed to save segment %s: %v", segmentID, err))
		return err
	}

	s.state.MergeSegmentAnnotations(*seg)
	return nil
}

// SetTyping publishes a typing indicator for a segment.
func (s *Session) SetTyping(projectID, segmentID string, isTyping bool) {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()

	if userID != "" {
		s.state.SetTyping(segmentID, userID, isTyping)
	}

	s.send(protocol.Envelope{
		Type:      protocol.EnvelopeTyping,
		ProjectID: projectID,
		SegmentID: segmentID,
		IsTyping:  isTyping,
	})
}

// SetCursor publishes the local caret position within a segment.
func (s *Session) SetCursor(projectID, segmentID string, position int) {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()

	if userID != "" {
		s.state.SetCursor(segmentID, userID, position)
	}

	s.send(protocol.Envelope{
		Type:      protocol.EnvelopeCursorPosition,
		ProjectID: projectID,
		SegmentID: segmentID,
		Position:  position,
	})
}

// AddComment publishes a segment comment. The server echoes comment_added
// back to every occupant, the author included, so the local thread is built
// from the broadcast rather than written twice.
func (s *Session) AddComment(projectID, segmentID, text string) {
	s.send(protocol.Envelope{
		Type:      protocol.EnvelopeComment,
		ProjectID: projectID,
		SegmentID: segmentID,
		Comment:   text,
	})
}

// send writes an envelope to the channel. Sends are hints: while the channel
// is down they are dropped, and reconnection rebuilds presence from the
// server's snapshots.
func (s *Session) send(env protocol.Envelope) {
	if err := s.manager.Send(env); err != nil {
		if !errors.Is(err, realtime.ErrNotConnected) {
			log.Printf("collab: failed to send %s: %v", env.Type, err)
		}
	}
}

// handleEvent routes one inbound server event into the store.
func (s *Session) handleEvent(ev protocol.ServerEvent) {
	switch e := ev.(type) {
	case protocol.UserJoined:
		s.state.JoinUser(e.ProjectID, e.UserID)
	case protocol.UserLeft:
		s.state.LeaveUser(e.ProjectID, e.UserID)
	case protocol.ProjectUsers:
		s.state.ReplaceRoster(e.ProjectID, e.Users)
	case protocol.SegmentUpdated:
		s.state.ApplySegmentUpdate(e.SegmentID, e.Content)
	case protocol.Typing:
		s.state.SetTyping(e.SegmentID, e.UserID, e.IsTyping)
	case protocol.CursorPosition:
		s.state.SetCursor(e.SegmentID, e.UserID, e.Position)
	case protocol.CommentAdded:
		s.state.AddComment(model.Comment{
			ID:        uuid.New().String(),
			SegmentID: e.SegmentID,
			UserID:    e.UserID,
			Text:      e.Comment,
			CreatedAt: time.Now(),
		})
	case protocol.ErrorEvent:
		s.state.SetLastError(e.Message)
	}
}

// handleState reacts to channel lifecycle transitions. Presence is ephemeral:
// the moment the channel is no longer connected, the local roster and typing
// state are discarded, and a fresh connection re-enters every tracked project
// to rebuild them from the server's snapshots.
func (s *Session) handleState(st realtime.State) {
	s.state.SetConnectionState(st)

	switch st {
	case realtime.StateConnected:
		s.rejoinAll()
	case realtime.StateReconnecting, realtime.StateDisconnected:
		s.state.ClearPresence()
	}
}

func (s *Session) rejoinAll() {
	s.mu.Lock()
	projects := make([]string, 0, len(s.joined))
	for projectID := range s.joined {
		projects = append(projects, projectID)
	}
	s.mu.Unlock()

	for _, projectID := range projects {
		s.send(protocol.Envelope{Type: protocol.EnvelopeJoinProject, ProjectID: projectID})
	}
}
