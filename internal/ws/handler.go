package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/translation-studio/collab/internal/model"
	"github.com/translation-studio/collab/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SetCheckOrigin sets a custom origin checker for the WebSocket upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}

// Publisher fans broadcast frames out to rooms hosted on other server
// instances. Optional; a single-instance deployment runs without one.
type Publisher interface {
	Publish(projectID string, frame []byte)
}

// ActivityRecorder persists collaboration activity for the project feed.
type ActivityRecorder interface {
	Create(ctx context.Context, entry *model.ActivityEntry) error
}

// Handler owns all live collaborator connections and routes envelope traffic
// between them and their project rooms.
type Handler struct {
	rooms *RoomManager

	mu      sync.RWMutex
	clients map[string]*Client // keyed by user id

	relay    Publisher
	activity ActivityRecorder
}

// NewHandler creates a handler over the given room manager.
func NewHandler(rooms *RoomManager) *Handler {
	return &Handler{
		rooms:   rooms,
		clients: make(map[string]*Client),
	}
}

// SetRelay installs the cross-instance publisher.
func (h *Handler) SetRelay(p Publisher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = p
}

// SetActivityRecorder installs the activity persistence sink.
func (h *Handler) SetActivityRecorder(r ActivityRecorder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activity = r
}

// Rooms returns the room manager, e.g. for the presence REST surface.
func (h *Handler) Rooms() *RoomManager {
	return h.rooms
}

// ClientCount returns the number of connected collaborators.
func (h *Handler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleConnection upgrades an HTTP request to a collaborator channel. The
// user id is the routing key; a second connection for the same user replaces
// the first.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return model.ErrUserIDRequired
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, userID)

	h.mu.Lock()
	if prev, ok := h.clients[userID]; ok {
		prev.Close()
	}
	h.clients[userID] = client
	h.mu.Unlock()

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// CloseUser force-disconnects a collaborator, e.g. on an administrative kick
// or a server-side session teardown.
func (h *Handler) CloseUser(userID string) {
	h.mu.RLock()
	client := h.clients[userID]
	h.mu.RUnlock()

	if client != nil {
		client.Conn().Close()
	}
}

// readPump pumps envelopes from one collaborator into the room layer.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.dropClient(client)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error for %s: %v", client.UserID(), err)
			}
			break
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("ws: dropping malformed envelope from %s: %v", client.UserID(), err)
			h.sendEvent(client, protocol.ErrorEvent{Message: "malformed message"})
			continue
		}

		h.handleEnvelope(client, env)
	}
}

// writePump pumps queued frames to one collaborator and keeps the
// connection alive with pings.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per message so clients can decode each event
			// independently.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued := <-client.SendChan()
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleEnvelope dispatches one client -> server message.
func (h *Handler) handleEnvelope(client *Client, env protocol.Envelope) {
	switch env.Type {
	case protocol.EnvelopeJoinProject:
		h.handleJoinProject(client, env)
	case protocol.EnvelopeLeaveProject:
		h.handleLeaveProject(client, env)
	case protocol.EnvelopeSegmentUpdate:
		h.handleSegmentUpdate(client, env)
	case protocol.EnvelopeTyping:
		h.handleTyping(client, env)
	case protocol.EnvelopeCursorPosition:
		h.handleCursorPosition(client, env)
	case protocol.EnvelopeComment:
		h.handleComment(client, env)
	default:
		h.sendEvent(client, protocol.ErrorEvent{
			Message: fmt.Sprintf("Unknown message type: %s", env.Type),
		})
	}
}

func (h *Handler) handleJoinProject(client *Client, env protocol.Envelope) {
	if env.ProjectID == "" {
		h.sendEvent(client, protocol.ErrorEvent{Message: "Project ID required"})
		return
	}

	room := h.rooms.GetOrCreate(env.ProjectID)
	room.Join(client.UserID())

	h.recordActivity(env.ProjectID, client.UserID(), "", "presence",
		fmt.Sprintf("User %s joined project %s", client.UserID(), env.ProjectID))

	// Announce to the existing occupants; the joiner instead gets the
	// authoritative roster snapshot plus a replay of recent edits.
	h.broadcast(env.ProjectID, protocol.UserJoined{
		UserID:    client.UserID(),
		ProjectID: env.ProjectID,
	}, client.UserID(), false)

	h.sendEvent(client, protocol.ProjectUsers{
		ProjectID: env.ProjectID,
		Users:     room.Users(),
	})
	for _, frame := range room.replay.Frames() {
		client.Send(frame)
	}
}

func (h *Handler) handleLeaveProject(client *Client, env protocol.Envelope) {
	if env.ProjectID == "" {
		return
	}

	room := h.rooms.Get(env.ProjectID)
	if room == nil || !room.Leave(client.UserID()) {
		return
	}

	h.recordActivity(env.ProjectID, client.UserID(), "", "presence",
		fmt.Sprintf("User %s left project %s", client.UserID(), env.ProjectID))

	h.broadcast(env.ProjectID, protocol.UserLeft{
		UserID:    client.UserID(),
		ProjectID: env.ProjectID,
	}, client.UserID(), false)
}

func (h *Handler) handleSegmentUpdate(client *Client, env protocol.Envelope) {
	if env.ProjectID == "" || env.SegmentID == "" || env.Content == "" {
		h.sendEvent(client, protocol.ErrorEvent{Message: "Missing required fields"})
		return
	}

	h.broadcast(env.ProjectID, protocol.SegmentUpdated{
		SegmentID: env.SegmentID,
		Content:   env.Content,
		UserID:    client.UserID(),
	}, client.UserID(), true)
}

func (h *Handler) handleTyping(client *Client, env protocol.Envelope) {
	if env.ProjectID == "" || env.SegmentID == "" {
		return
	}

	h.broadcast(env.ProjectID, protocol.Typing{
		SegmentID: env.SegmentID,
		UserID:    client.UserID(),
		IsTyping:  env.IsTyping,
	}, client.UserID(), false)
}

func (h *Handler) handleCursorPosition(client *Client, env protocol.Envelope) {
	if env.ProjectID == "" || env.SegmentID == "" {
		return
	}

	h.broadcast(env.ProjectID, protocol.CursorPosition{
		SegmentID: env.SegmentID,
		UserID:    client.UserID(),
		Position:  env.Position,
	}, client.UserID(), false)
}

func (h *Handler) handleComment(client *Client, env protocol.Envelope) {
	if env.ProjectID == "" || env.SegmentID == "" || env.Comment == "" {
		h.sendEvent(client, protocol.ErrorEvent{Message: "Missing required fields for comment"})
		return
	}

	h.recordActivity(env.ProjectID, client.UserID(), env.SegmentID, "comment",
		fmt.Sprintf("User %s commented on segment %s", client.UserID(), env.SegmentID))

	// Comments go to every occupant, the author included, so all threads
	// render identically.
	h.broadcast(env.ProjectID, protocol.CommentAdded{
		SegmentID: env.SegmentID,
		Comment:   env.Comment,
		UserID:    client.UserID(),
	}, "", true)
}

// broadcast encodes an event once and delivers it to all room occupants
// except excludeUser. Content-bearing events are kept for replay and, when a
// relay is configured, published to the other instances.
func (h *Handler) broadcast(projectID string, ev protocol.ServerEvent, excludeUser string, record bool) {
	frame, err := protocol.EncodeEvent(ev)
	if err != nil {
		log.Printf("ws: failed to encode %s event: %v", ev.EventType(), err)
		return
	}

	room := h.rooms.Get(projectID)
	if room == nil {
		return
	}
	if record {
		room.replay.Add(frame)
	}

	h.deliver(room, frame, excludeUser)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		relay.Publish(projectID, frame)
	}
}

// DeliverRemote applies a frame relayed from another server instance to the
// local room, with no re-publish.
func (h *Handler) DeliverRemote(projectID string, frame []byte) {
	room := h.rooms.Get(projectID)
	if room == nil {
		return
	}

	if ev, err := protocol.DecodeServerEvent(frame); err == nil {
		switch ev.EventType() {
		case protocol.EventSegmentUpdated, protocol.EventCommentAdded:
			room.replay.Add(frame)
		}
	}

	h.deliver(room, frame, "")
}

func (h *Handler) deliver(room *Room, frame []byte, excludeUser string) {
	for _, userID := range room.Users() {
		if userID == excludeUser {
			continue
		}
		h.mu.RLock()
		client := h.clients[userID]
		h.mu.RUnlock()
		if client != nil {
			client.Send(frame)
		}
	}
}

func (h *Handler) sendEvent(client *Client, ev protocol.ServerEvent) {
	frame, err := protocol.EncodeEvent(ev)
	if err != nil {
		log.Printf("ws: failed to encode %s event: %v", ev.EventType(), err)
		return
	}
	client.Send(frame)
}

// dropClient removes a disconnected collaborator from the registry and all
// rooms, announcing the departures.
func (h *Handler) dropClient(client *Client) {
	h.mu.Lock()
	active := h.clients[client.UserID()] == client
	if active {
		delete(h.clients, client.UserID())
	}
	h.mu.Unlock()

	client.Close()

	// A connection that was replaced by a newer one for the same user must
	// not tear down the user's room memberships.
	if !active {
		return
	}

	for _, projectID := range h.rooms.RemoveUser(client.UserID()) {
		h.broadcast(projectID, protocol.UserLeft{
			UserID:    client.UserID(),
			ProjectID: projectID,
		}, client.UserID(), false)
	}
}

func (h *Handler) recordActivity(projectID, userID, segmentID, category, message string) {
	h.mu.RLock()
	recorder := h.activity
	h.mu.RUnlock()
	if recorder == nil {
		return
	}

	entry := &model.ActivityEntry{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		UserID:    userID,
		SegmentID: segmentID,
		Category:  category,
		Message:   message,
		CreatedAt: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := recorder.Create(ctx, entry); err != nil {
		log.Printf("ws: failed to record %s activity: %v", category, err)
	}
}
