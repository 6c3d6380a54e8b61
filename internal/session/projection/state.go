// Package projection materializes per-session game state by folding the
// session's event journal. The state is never mutated except through Apply.
package projection

import (
	"sort"
	"time"

	"github.com/louisbranch/gametable/internal/session/event"
)

// Condition is a timed status effect applied to a combatant.
type Condition struct {
	TargetID string `json:"target_id"`
	Kind     string `json:"kind"`
	// RemainingRounds of 0 means the condition lasts until removed.
	RemainingRounds int       `json:"remaining_rounds"`
	Description     string    `json:"description,omitempty"`
	AppliedAt       time.Time `json:"applied_at"`
}

// GameState is the materialized view of one session's combat state.
//
// Order is kept sorted by descending initiative score; ties keep the
// caller's insertion order. CurrentTurn is the ID of the entry whose turn
// it is, or empty when no turn is active.
type GameState struct {
	Order        []event.InitiativeEntry `json:"initiative_order"`
	CurrentTurn  string                  `json:"current_turn,omitempty"`
	Round        int                     `json:"round"`
	CombatActive bool                    `json:"combat_active"`
	Conditions   []Condition             `json:"conditions"`
	// Seq is the sequence number of the last event folded into this state.
	Seq uint64 `json:"seq"`
}

// Clone returns a deep copy of the state.
func (s GameState) Clone() GameState {
	cloned := s
	if s.Order != nil {
		cloned.Order = append([]event.InitiativeEntry(nil), s.Order...)
	}
	if s.Conditions != nil {
		cloned.Conditions = append([]Condition(nil), s.Conditions...)
	}
	return cloned
}

// entryIndex returns the position of the entry with the given ID, or -1.
func (s GameState) entryIndex(id string) int {
	for i, entry := range s.Order {
		if entry.ID == id {
			return i
		}
	}
	return -1
}

// combatantIndex finds an entry by linked character ID, falling back to the
// entry ID so monsters without character records can still be targeted.
func (s GameState) combatantIndex(characterID string) int {
	for i, entry := range s.Order {
		if entry.CharacterID != "" && entry.CharacterID == characterID {
			return i
		}
	}
	return s.entryIndex(characterID)
}

// conditionIndex returns the position of the (target, kind) condition, or -1.
func (s GameState) conditionIndex(targetID, kind string) int {
	for i, cond := range s.Conditions {
		if cond.TargetID == targetID && cond.Kind == kind {
			return i
		}
	}
	return -1
}

// sortOrder returns the entries sorted by descending initiative score,
// preserving insertion order for ties.
func sortOrder(entries []event.InitiativeEntry) []event.InitiativeEntry {
	sorted := append([]event.InitiativeEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Initiative > sorted[j].Initiative
	})
	return sorted
}
