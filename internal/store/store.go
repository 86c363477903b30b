// Package store holds the single authoritative copy of client-side
// collaboration state: connection status, presence, typing indicators, and
// the collaboratively edited segments. Every component reads and writes
// through one Store instance wired in at composition time; nothing keeps a
// shadow copy that can drift.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/translation-studio/collab/internal/model"
	"github.com/translation-studio/collab/internal/presence"
	"github.com/translation-studio/collab/internal/realtime"
)

// Snapshot is a point-in-time copy of the store for readers. Slices and maps
// are copies; mutating a snapshot never touches live state.
type Snapshot struct {
	Connection    realtime.State
	Collaborators map[string][]string // project id -> roster
	Typing        map[string][]string // segment id -> typists
	Segments      map[string]model.Segment
	Cursors       map[string]map[string]int // segment id -> user id -> position
	Comments      map[string][]model.Comment
	LastError     string
}

// Store is the process-wide session state container. It survives UI view
// changes and is reset in full on logout.
type Store struct {
	mu sync.Mutex

	connection realtime.State
	rosters    map[string]*presence.Roster
	typing     *presence.TypingRegistry
	segments   map[string]model.Segment
	cursors    map[string]map[string]int
	comments   map[string][]model.Comment
	lastError  string

	subMu  sync.Mutex
	nextID int
	subs   map[int]func()
}

// New creates an empty store. typingTTL bounds how long a typing indicator
// survives without renewal; zero selects presence.DefaultTypingTTL.
func New(typingTTL time.Duration) *Store {
	return &Store{
		connection: realtime.StateDisconnected,
		rosters:    make(map[string]*presence.Roster),
		typing:     presence.NewTypingRegistry(typingTTL),
		segments:   make(map[string]model.Segment),
		cursors:    make(map[string]map[string]int),
		comments:   make(map[string][]model.Comment),
		subs:       make(map[int]func()),
	}
}

// Subscribe registers a change callback and returns its unsubscribe func.
// Callbacks fire after the mutation completes, outside the store lock.
func (s *Store) Subscribe(fn func()) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Connection:    s.connection,
		Collaborators: make(map[string][]string, len(s.rosters)),
		Typing:        s.typing.Snapshot(),
		Segments:      make(map[string]model.Segment, len(s.segments)),
		Cursors:       make(map[string]map[string]int, len(s.cursors)),
		Comments:      make(map[string][]model.Comment, len(s.comments)),
		LastError:     s.lastError,
	}
	for project, roster := range s.rosters {
		snap.Collaborators[project] = roster.Users()
	}
	for id, seg := range s.segments {
		snap.Segments[id] = seg
	}
	for seg, byUser := range s.cursors {
		cp := make(map[string]int, len(byUser))
		for u, pos := range byUser {
			cp[u] = pos
		}
		snap.Cursors[seg] = cp
	}
	for seg, list := range s.comments {
		snap.Comments[seg] = append([]model.Comment(nil), list...)
	}
	return snap
}

// SetConnectionState publishes the channel state to subscribers.
func (s *Store) SetConnectionState(st realtime.State) {
	s.mu.Lock()
	changed := s.connection != st
	s.connection = st
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// ConnectionState returns the last published channel state.
func (s *Store) ConnectionState() realtime.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connection
}

// JoinUser adds a collaborator to a project roster.
func (s *Store) JoinUser(projectID, userID string) {
	s.mu.Lock()
	roster := s.rosterLocked(projectID)
	changed := roster.Join(userID)
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// LeaveUser removes a collaborator from a project roster and drops their
// typing marks and cursors.
func (s *Store) LeaveUser(projectID, userID string) {
	s.mu.Lock()
	roster := s.rosterLocked(projectID)
	changed := roster.Leave(userID)
	for seg := range s.cursors {
		delete(s.cursors[seg], userID)
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// ReplaceRoster installs the server's authoritative occupant snapshot for a
// project, discarding whatever was accumulated locally.
func (s *Store) ReplaceRoster(projectID string, users []string) {
	s.mu.Lock()
	s.rosterLocked(projectID).Replace(users)
	s.mu.Unlock()
	s.notify()
}

// Collaborators returns the roster for a project.
func (s *Store) Collaborators(projectID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster, ok := s.rosters[projectID]
	if !ok {
		return nil
	}
	return roster.Users()
}

// SetTyping records or clears a typing indicator.
func (s *Store) SetTyping(segmentID, userID string, isTyping bool) {
	s.mu.Lock()
	s.typing.Set(segmentID, userID, isTyping)
	s.mu.Unlock()
	s.notify()
}

// Typists returns who is currently typing in a segment.
func (s *Store) Typists(segmentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing.Typists(segmentID)
}

// StartTypingJanitor sweeps expired typing marks until ctx is cancelled, so
// a collaborator whose typing(false) was lost does not linger forever.
func (s *Store) StartTypingJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				changed := s.typing.Expire()
				s.mu.Unlock()
				if changed {
					s.notify()
				}
			}
		}
	}()
}

// SetSegments installs a segment collection, e.g. from a studio snapshot.
func (s *Store) SetSegments(segments []model.Segment) {
	s.mu.Lock()
	for _, seg := range segments {
		s.segments[seg.ID] = seg
	}
	s.mu.Unlock()
	s.notify()
}

// Segment returns a segment by id.
func (s *Store) Segment(segmentID string) (model.Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[segmentID]
	return seg, ok
}

// ApplySegmentUpdate sets a segment's current value. Last write wins: the
// incoming value replaces whatever is there, whether it came from a local
// optimistic edit or a remote collaborator.
func (s *Store) ApplySegmentUpdate(segmentID, content string) {
	s.mu.Lock()
	seg := s.segments[segmentID]
	seg.ID = segmentID
	seg.CurrentValue = content
	seg.LastUpdated = time.Now()
	s.segments[segmentID] = seg
	s.mu.Unlock()
	s.notify()
}

// MergeSegmentAnnotations folds server-derived fields from a persisted write
// back into the local segment without clobbering the collaboratively edited
// value, which may already be newer than the response.
func (s *Store) MergeSegmentAnnotations(update model.Segment) {
	s.mu.Lock()
	seg, ok := s.segments[update.ID]
	if !ok {
		seg = update
		seg.CurrentValue = update.CurrentValue
	} else {
		seg.SourceText = update.SourceText
		seg.TargetLocale = update.TargetLocale
		seg.ReviewerNotes = update.ReviewerNotes
		seg.TMSuggestion = update.TMSuggestion
		seg.TMScore = update.TMScore
		seg.NMTSuggestion = update.NMTSuggestion
		seg.RiskLevel = update.RiskLevel
		seg.QualityEstimate = update.QualityEstimate
		seg.QAFlags = update.QAFlags
		seg.TermHits = update.TermHits
		if seg.CurrentValue == "" {
			seg.CurrentValue = update.CurrentValue
		}
	}
	s.segments[update.ID] = seg
	s.mu.Unlock()
	s.notify()
}

// SetCursor records a collaborator's caret position within a segment.
func (s *Store) SetCursor(segmentID, userID string, position int) {
	s.mu.Lock()
	byUser, ok := s.cursors[segmentID]
	if !ok {
		byUser = make(map[string]int)
		s.cursors[segmentID] = byUser
	}
	byUser[userID] = position
	s.mu.Unlock()
	s.notify()
}

// AddComment appends a comment to a segment's thread.
func (s *Store) AddComment(c model.Comment) {
	s.mu.Lock()
	s.comments[c.SegmentID] = append(s.comments[c.SegmentID], c)
	s.mu.Unlock()
	s.notify()
}

// SetLastError surfaces a non-fatal failure (e.g. a rejected durable write)
// to the UI. The optimistic state is left untouched.
func (s *Store) SetLastError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
	s.notify()
}

// ClearPresence discards all presence and typing state. Called when the
// channel drops: presence is rebuilt from the server's snapshot on rejoin.
func (s *Store) ClearPresence() {
	s.mu.Lock()
	for _, roster := range s.rosters {
		roster.Clear()
	}
	s.typing.Clear()
	for seg := range s.cursors {
		delete(s.cursors, seg)
	}
	s.mu.Unlock()
	s.notify()
}

// Reset clears everything. Called on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	s.connection = realtime.StateDisconnected
	s.rosters = make(map[string]*presence.Roster)
	s.typing.Clear()
	s.segments = make(map[string]model.Segment)
	s.cursors = make(map[string]map[string]int)
	s.comments = make(map[string][]model.Comment)
	s.lastError = ""
	s.mu.Unlock()
	s.notify()
}

func (s *Store) rosterLocked(projectID string) *presence.Roster {
	roster, ok := s.rosters[projectID]
	if !ok {
		roster = presence.NewRoster()
		s.rosters[projectID] = roster
	}
	return roster
}
