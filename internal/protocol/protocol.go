// Package protocol defines the wire vocabulary of the realtime collaboration
// channel. Both the server hub and the client session manager speak this
// vocabulary, so it lives in its own package.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EnvelopeType identifies a client -> server message.
type EnvelopeType string

const (
	EnvelopeJoinProject    EnvelopeType = "join_project"
	EnvelopeLeaveProject   EnvelopeType = "leave_project"
	EnvelopeSegmentUpdate  EnvelopeType = "segment_update"
	EnvelopeTyping         EnvelopeType = "typing"
	EnvelopeCursorPosition EnvelopeType = "cursor_position"
	EnvelopeComment        EnvelopeType = "comment"
)

// Envelope is the generic client -> server message. Which fields are
// populated depends on Type; the server validates per type and answers
// malformed envelopes with an error event instead of closing the channel.
type Envelope struct {
	Type      EnvelopeType `json:"type"`
	ProjectID string       `json:"project_id"`
	SegmentID string       `json:"segment_id,omitempty"`
	Content   string       `json:"content,omitempty"`
	IsTyping  bool         `json:"is_typing,omitempty"`
	Position  int          `json:"position,omitempty"`
	Comment   string       `json:"comment,omitempty"`
}

// EventType identifies a server -> client event.
type EventType string

const (
	EventUserJoined     EventType = "user_joined"
	EventUserLeft       EventType = "user_left"
	EventProjectUsers   EventType = "project_users"
	EventSegmentUpdated EventType = "segment_updated"
	EventTyping         EventType = "typing"
	EventCursorPosition EventType = "cursor_position"
	EventCommentAdded   EventType = "comment_added"
	EventError          EventType = "error"
)

// ServerEvent is the closed set of events a client can receive. Concrete
// types: UserJoined, UserLeft, ProjectUsers, SegmentUpdated, Typing,
// CursorPosition, CommentAdded, ErrorEvent.
type ServerEvent interface {
	EventType() EventType
}

// UserJoined announces a collaborator entering a project room.
type UserJoined struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id,omitempty"`
}

func (UserJoined) EventType() EventType { return EventUserJoined }

// UserLeft announces a collaborator leaving a project room.
type UserLeft struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id,omitempty"`
}

func (UserLeft) EventType() EventType { return EventUserLeft }

// ProjectUsers is the authoritative roster snapshot sent to a user on join.
type ProjectUsers struct {
	ProjectID string   `json:"project_id,omitempty"`
	Users     []string `json:"users"`
}

func (ProjectUsers) EventType() EventType { return EventProjectUsers }

// SegmentUpdated carries another collaborator's edit to a segment.
type SegmentUpdated struct {
	SegmentID string `json:"segment_id"`
	Content   string `json:"content"`
	UserID    string `json:"user_id,omitempty"`
}

func (SegmentUpdated) EventType() EventType { return EventSegmentUpdated }

// Typing is the advisory "who is typing" indicator for a segment.
type Typing struct {
	SegmentID string `json:"segment_id"`
	UserID    string `json:"user_id"`
	IsTyping  bool   `json:"is_typing"`
}

func (Typing) EventType() EventType { return EventTyping }

// CursorPosition reports a collaborator's caret position within a segment.
type CursorPosition struct {
	SegmentID string `json:"segment_id"`
	UserID    string `json:"user_id"`
	Position  int    `json:"position"`
}

func (CursorPosition) EventType() EventType { return EventCursorPosition }

// CommentAdded carries a new comment on a segment.
type CommentAdded struct {
	SegmentID string `json:"segment_id"`
	Comment   string `json:"comment"`
	UserID    string `json:"user_id,omitempty"`
}

func (CommentAdded) EventType() EventType { return EventCommentAdded }

// ErrorEvent is the server's answer to a malformed or unknown envelope.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) EventType() EventType { return EventError }

// ErrUnknownEvent is returned when a frame carries a tag outside the closed set.
var ErrUnknownEvent = errors.New("unknown event type")

// frame is the raw shape of a server -> client message before dispatch.
type frame struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id"`
	ProjectID string    `json:"project_id"`
	SegmentID string    `json:"segment_id"`
	Content   string    `json:"content"`
	IsTyping  bool      `json:"is_typing"`
	Position  int       `json:"position"`
	Comment   string    `json:"comment"`
	Message   string    `json:"message"`
	Users     []string  `json:"users"`
}

// EncodeEvent marshals a server event into a single wire frame.
func EncodeEvent(ev ServerEvent) ([]byte, error) {
	f := frame{Type: ev.EventType()}
	switch e := ev.(type) {
	case UserJoined:
		f.UserID = e.UserID
		f.ProjectID = e.ProjectID
	case UserLeft:
		f.UserID = e.UserID
		f.ProjectID = e.ProjectID
	case ProjectUsers:
		f.ProjectID = e.ProjectID
		f.Users = e.Users
	case SegmentUpdated:
		f.SegmentID = e.SegmentID
		f.Content = e.Content
		f.UserID = e.UserID
	case Typing:
		f.SegmentID = e.SegmentID
		f.UserID = e.UserID
		f.IsTyping = e.IsTyping
	case CursorPosition:
		f.SegmentID = e.SegmentID
		f.UserID = e.UserID
		f.Position = e.Position
	case CommentAdded:
		f.SegmentID = e.SegmentID
		f.Comment = e.Comment
		f.UserID = e.UserID
	case ErrorEvent:
		f.Message = e.Message
	default:
		return nil, fmt.Errorf("encode: %w: %T", ErrUnknownEvent, ev)
	}
	return json.Marshal(f)
}

// DecodeServerEvent parses a wire frame into a typed event. Malformed frames
// and frames missing required identity fields return an error so the caller
// can drop them without touching any state.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch f.Type {
	case EventUserJoined:
		if f.UserID == "" {
			return nil, errors.New("user_joined event missing user_id")
		}
		return UserJoined{UserID: f.UserID, ProjectID: f.ProjectID}, nil
	case EventUserLeft:
		if f.UserID == "" {
			return nil, errors.New("user_left event missing user_id")
		}
		return UserLeft{UserID: f.UserID, ProjectID: f.ProjectID}, nil
	case EventProjectUsers:
		return ProjectUsers{ProjectID: f.ProjectID, Users: f.Users}, nil
	case EventSegmentUpdated:
		if f.SegmentID == "" {
			return nil, errors.New("segment_updated event missing segment_id")
		}
		return SegmentUpdated{SegmentID: f.SegmentID, Content: f.Content, UserID: f.UserID}, nil
	case EventTyping:
		if f.UserID == "" || f.SegmentID == "" {
			return nil, errors.New("typing event missing user_id or segment_id")
		}
		return Typing{SegmentID: f.SegmentID, UserID: f.UserID, IsTyping: f.IsTyping}, nil
	case EventCursorPosition:
		if f.UserID == "" || f.SegmentID == "" {
			return nil, errors.New("cursor_position event missing user_id or segment_id")
		}
		return CursorPosition{SegmentID: f.SegmentID, UserID: f.UserID, Position: f.Position}, nil
	case EventCommentAdded:
		if f.SegmentID == "" {
			return nil, errors.New("comment_added event missing segment_id")
		}
		return CommentAdded{SegmentID: f.SegmentID, Comment: f.Comment, UserID: f.UserID}, nil
	case EventError:
		return ErrorEvent{Message: f.Message}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Type)
	}
}
