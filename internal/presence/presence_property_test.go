package presence

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRosterReplayProperty replays arbitrary join/leave sequences and checks
// that membership matches the net join/leave count per user and that the
// roster never holds duplicates.
func TestRosterReplayProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Events are encoded as ints: user index in the low bits, join/leave in
	// the parity. Keeps the generator simple while still exercising arbitrary
	// interleavings.
	users := []string{"alice", "bob", "carol", "dave"}

	properties.Property("membership follows net joins and never duplicates", prop.ForAll(
		func(events []int) bool {
			roster := NewRoster()
			present := make(map[string]bool)

			for _, code := range events {
				user := users[(code/2)%len(users)]
				join := code%2 == 0

				if join {
					roster.Join(user)
					present[user] = true
				} else {
					roster.Leave(user)
					present[user] = false
				}
			}

			members := roster.Users()

			// No duplicates.
			seen := make(map[string]bool, len(members))
			for _, u := range members {
				if seen[u] {
					return false
				}
				seen[u] = true
			}

			// A user is in the roster iff still present after replay.
			for user, want := range present {
				if roster.Contains(user) != want {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 7)),
	))

	properties.Property("re-emitted joins never grow the roster", prop.ForAll(
		func(user string, repeats int) bool {
			if user == "" {
				return true
			}
			if repeats < 1 || repeats > 20 {
				repeats = 3
			}

			roster := NewRoster()
			for i := 0; i < repeats; i++ {
				roster.Join(user)
			}
			return roster.Len() == 1
		},
		gen.AlphaString(),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

// TestTypingRegistryProperty checks that a typing(true) followed by
// typing(false) always leaves the user absent, and that renewals never
// duplicate a typist.
func TestTypingRegistryProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("typing true then false leaves the user absent", prop.ForAll(
		func(segmentID, userID string) bool {
			if segmentID == "" || userID == "" {
				return true
			}

			reg := NewTypingRegistry(time.Minute)
			reg.Set(segmentID, userID, true)
			reg.Set(segmentID, userID, false)

			for _, u := range reg.Typists(segmentID) {
				if u == userID {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("renewed typing marks never duplicate", prop.ForAll(
		func(segmentID, userID string, renewals int) bool {
			if segmentID == "" || userID == "" {
				return true
			}
			if renewals < 1 || renewals > 50 {
				renewals = 5
			}

			reg := NewTypingRegistry(time.Minute)
			for i := 0; i < renewals; i++ {
				reg.Set(segmentID, userID, true)
			}

			count := 0
			for _, u := range reg.Typists(segmentID) {
				if u == userID {
					count++
				}
			}
			return count == 1
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
