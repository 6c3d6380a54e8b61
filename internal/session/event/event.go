// Package event defines the immutable session event journal records.
package event

import "time"

// Type identifies the kind of a session event.
type Type string

// Session lifecycle events.
const (
	// TypeSessionStarted records the start of a session.
	TypeSessionStarted Type = "session.started"
	// TypeSessionEnded records the end of a session.
	TypeSessionEnded Type = "session.ended"
	// TypePlayerJoined records a participant attaching to a session.
	TypePlayerJoined Type = "session.player_joined"
	// TypePlayerLeft records a participant detaching from a session.
	TypePlayerLeft Type = "session.player_left"
)

// Combat events.
const (
	// TypeCombatStarted records combat starting with an initiative order.
	TypeCombatStarted Type = "combat.started"
	// TypeCombatEnded records combat ending.
	TypeCombatEnded Type = "combat.ended"
	// TypeInitiativeUpdated records a replacement of the initiative order.
	TypeInitiativeUpdated Type = "combat.initiative_updated"
	// TypeTurnAdvanced records the current turn moving to the next entry.
	TypeTurnAdvanced Type = "combat.turn_advanced"
)

// Character events.
const (
	// TypeHPUpdated records a hit-point change for a combatant.
	TypeHPUpdated Type = "character.hp_updated"
	// TypeConditionApplied records a timed condition applied to a combatant.
	TypeConditionApplied Type = "character.condition_applied"
	// TypeConditionRemoved records a condition removed from a combatant.
	TypeConditionRemoved Type = "character.condition_removed"
	// TypeCharacterUpdated records combatant metadata updates.
	TypeCharacterUpdated Type = "character.updated"
)

// Table events (no game-state effect; journaled for replay and broadcast).
const (
	// TypeDiceRolled records a resolved dice roll.
	TypeDiceRolled Type = "table.dice_rolled"
	// TypeChatMessage records a chat message.
	TypeChatMessage Type = "table.chat_message"
	// TypeCustom records a caller-defined auxiliary event. The payload carries
	// the caller's event_type and free-form event_data.
	TypeCustom Type = "table.custom"
)

// IsValid reports whether the event type belongs to the closed set.
func (t Type) IsValid() bool {
	switch t {
	case TypeSessionStarted, TypeSessionEnded,
		TypePlayerJoined, TypePlayerLeft,
		TypeCombatStarted, TypeCombatEnded,
		TypeInitiativeUpdated, TypeTurnAdvanced,
		TypeHPUpdated, TypeConditionApplied, TypeConditionRemoved,
		TypeCharacterUpdated,
		TypeDiceRolled, TypeChatMessage, TypeCustom:
		return true
	default:
		return false
	}
}

// Domain returns the domain prefix of the event type (e.g., "combat").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}

// Event represents an immutable entry in a session's event journal.
//
// Ordering within a session is total and defined by Seq. Events are never
// mutated after they are accepted.
type Event struct {
	// SessionID is the session this event belongs to.
	SessionID string
	// Seq is the event sequence number within the session (starts at 1).
	// Assigned under the session's serialization point on append.
	Seq uint64
	// Timestamp is when the event was accepted.
	Timestamp time.Time
	// Type identifies the kind of event.
	Type Type
	// AuthorID is the principal that caused the event; empty for
	// system-generated events (e.g. idle eviction).
	AuthorID string
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
}
