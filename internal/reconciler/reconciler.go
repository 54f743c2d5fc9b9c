// Package reconciler keeps a conversation's message list ordered by id and free
// of duplicates while messages arrive from history loads, REST sends, attachment
// uploads and the live channel in any order.
package reconciler

import (
	"cmp"
	"slices"

	"tutorchat/pkg/types"
)

func byID(a, b types.Message) int {
	return cmp.Compare(a.ID, b.ID)
}

func search(messages []types.Message, id int64) (int, bool) {
	return slices.BinarySearchFunc(messages, id, func(m types.Message, target int64) int {
		return cmp.Compare(m.ID, target)
	})
}

// Merge returns existing unchanged when incoming.ID is already present.
// Otherwise it returns a new slice with incoming at its sorted position;
// existing itself is never written to.
func Merge(existing []types.Message, incoming types.Message) []types.Message {
	i, found := search(existing, incoming.ID)
	if found {
		return existing
	}

	merged := make([]types.Message, 0, len(existing)+1)
	merged = append(merged, existing[:i]...)
	merged = append(merged, incoming)
	merged = append(merged, existing[i:]...)
	return merged
}

// MergeAll folds every incoming message into existing.
// Returns existing itself when nothing new arrived.
func MergeAll(existing []types.Message, incoming []types.Message) []types.Message {
	fresh := make([]types.Message, 0, len(incoming))
	for _, m := range incoming {
		if _, found := search(existing, m.ID); !found {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		return existing
	}

	merged := make([]types.Message, 0, len(existing)+len(fresh))
	merged = append(merged, existing...)
	merged = append(merged, fresh...)
	return Normalize(merged)
}

// Normalize sorts by ascending id and drops later duplicates of an id.
// The input is not modified.
func Normalize(messages []types.Message) []types.Message {
	out := slices.Clone(messages)
	slices.SortStableFunc(out, byID)
	return slices.CompactFunc(out, func(a, b types.Message) bool {
		return a.ID == b.ID
	})
}

// Contains reports whether a normalized list holds id
func Contains(messages []types.Message, id int64) bool {
	_, found := search(messages, id)
	return found
}

// IsNormalized reports whether ids are strictly increasing
func IsNormalized(messages []types.Message) bool {
	for i := 1; i < len(messages); i++ {
		if messages[i-1].ID >= messages[i].ID {
			return false
		}
	}
	return true
}
