// Package presence tracks which collaborators are active on a shared project
// and who is typing in which segment. All state here is event-sourced from
// the realtime channel and ephemeral: it is discarded on disconnect and
// rebuilt from the server's roster snapshot on rejoin.
package presence

import (
	"sync"
	"time"
)

// Roster is the deduplicated set of collaborators joined to a project room.
// The server may re-emit join events (for example on an idempotent rejoin
// after a reconnect); Join absorbs those without creating duplicates while
// preserving first-seen order.
type Roster struct {
	mu    sync.Mutex
	users []string
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{}
}

// Join adds a user to the roster. Duplicate joins are no-ops. Empty user ids
// are rejected so one malformed event cannot corrupt the set.
func (r *Roster) Join(userID string) bool {
	if userID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u == userID {
			return false
		}
	}
	r.users = append(r.users, userID)
	return true
}

// Leave removes all occurrences of a user from the roster.
func (r *Roster) Leave(userID string) bool {
	if userID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.users[:0]
	removed := false
	for _, u := range r.users {
		if u == userID {
			removed = true
			continue
		}
		kept = append(kept, u)
	}
	r.users = kept
	return removed
}

// Replace overwrites the roster with the server's authoritative snapshot,
// dropping empty and duplicate entries.
func (r *Roster) Replace(users []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users = r.users[:0]
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		r.users = append(r.users, u)
	}
}

// Contains reports whether a user is in the roster.
func (r *Roster) Contains(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u == userID {
			return true
		}
	}
	return false
}

// Users returns a copy of the roster in first-seen order.
func (r *Roster) Users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.users))
	copy(out, r.users)
	return out
}

// Len returns the number of collaborators in the roster.
func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// Clear empties the roster.
func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = r.users[:0]
}

// DefaultTypingTTL bounds how long a typing mark survives without renewal.
// A collaborator whose tab crashes never sends typing(false); the expiry
// sweep keeps their ghost out of the indicator.
const DefaultTypingTTL = 10 * time.Second

// typist is one (segment, user) typing mark with its renewal time.
type typist struct {
	userID string
	since  time.Time
}

// TypingRegistry maps segment ids to the set of users currently typing in
// them. Entries are removed when the set empties, on explicit typing(false),
// or when the TTL lapses.
type TypingRegistry struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time

	segments map[string][]typist
}

// NewTypingRegistry creates a registry with the given mark TTL. A zero or
// negative ttl falls back to DefaultTypingTTL.
func NewTypingRegistry(ttl time.Duration) *TypingRegistry {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingRegistry{
		ttl:      ttl,
		now:      time.Now,
		segments: make(map[string][]typist),
	}
}

// SetClock replaces the registry's time source. Used by tests to drive expiry.
func (t *TypingRegistry) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Set records or clears a typing mark. Setting an already-typing user renews
// the mark: the prior entry is removed first, so the set never holds
// duplicates. Empty ids are dropped.
func (t *TypingRegistry) Set(segmentID, userID string, isTyping bool) {
	if segmentID == "" || userID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.segments[segmentID]
	kept := set[:0]
	for _, ty := range set {
		if ty.userID != userID {
			kept = append(kept, ty)
		}
	}

	if isTyping {
		kept = append(kept, typist{userID: userID, since: t.now()})
	}

	if len(kept) == 0 {
		delete(t.segments, segmentID)
	} else {
		t.segments[segmentID] = kept
	}
}

// Typists returns the users currently typing in a segment, oldest mark first.
// Expired marks are not reported.
func (t *TypingRegistry) Typists(segmentID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.ttl)
	var out []string
	for _, ty := range t.segments[segmentID] {
		if ty.since.After(cutoff) {
			out = append(out, ty.userID)
		}
	}
	return out
}

// Snapshot returns all segments with live typists.
func (t *TypingRegistry) Snapshot() map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.ttl)
	out := make(map[string][]string)
	for seg, set := range t.segments {
		for _, ty := range set {
			if ty.since.After(cutoff) {
				out[seg] = append(out[seg], ty.userID)
			}
		}
	}
	return out
}

// Expire drops marks older than the TTL and reports whether anything changed.
func (t *TypingRegistry) Expire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.ttl)
	changed := false
	for seg, set := range t.segments {
		kept := set[:0]
		for _, ty := range set {
			if ty.since.After(cutoff) {
				kept = append(kept, ty)
			} else {
				changed = true
			}
		}
		if len(kept) == 0 {
			delete(t.segments, seg)
		} else {
			t.segments[seg] = kept
		}
	}
	return changed
}

// Clear empties the registry.
func (t *TypingRegistry) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = make(map[string][]typist)
}
