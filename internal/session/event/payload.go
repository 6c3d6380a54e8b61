package event

import "encoding/json"

// InitiativeEntry is one combatant in the initiative order.
type InitiativeEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Initiative  int    `json:"initiative"`
	IsPlayer    bool   `json:"is_player"`
	CharacterID string `json:"character_id,omitempty"`
	HPCurrent   int    `json:"hp_current"`
	HPMax       int    `json:"hp_max"`
	ArmorClass  int    `json:"armor_class"`
}

// SessionStartedPayload captures the payload for session.started events.
type SessionStartedPayload struct {
	SessionName string `json:"session_name,omitempty"`
}

// SessionEndedPayload captures the payload for session.ended events.
type SessionEndedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// PlayerJoinedPayload captures the payload for session.player_joined events.
type PlayerJoinedPayload struct {
	PrincipalID string `json:"principal_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// PlayerLeftPayload captures the payload for session.player_left events.
type PlayerLeftPayload struct {
	PrincipalID string `json:"principal_id"`
	Reason      string `json:"reason,omitempty"`
}

// CombatStartedPayload captures the payload for combat.started events.
type CombatStartedPayload struct {
	Order []InitiativeEntry `json:"order"`
}

// CombatEndedPayload captures the payload for combat.ended events.
type CombatEndedPayload struct{}

// InitiativeUpdatedPayload captures the payload for combat.initiative_updated events.
type InitiativeUpdatedPayload struct {
	Order []InitiativeEntry `json:"order"`
}

// TurnAdvancedPayload captures the payload for combat.turn_advanced events.
type TurnAdvancedPayload struct{}

// HPUpdatedPayload captures the payload for character.hp_updated events.
type HPUpdatedPayload struct {
	CharacterID string `json:"character_id"`
	HPCurrent   int    `json:"hp_current"`
	// HPMax is optional; nil keeps the current maximum.
	HPMax *int `json:"hp_max,omitempty"`
}

// ConditionAppliedPayload captures the payload for character.condition_applied events.
type ConditionAppliedPayload struct {
	TargetID string `json:"target_id"`
	Kind     string `json:"kind"`
	// DurationRounds of 0 means the condition lasts until removed.
	DurationRounds int    `json:"duration_rounds"`
	Description    string `json:"description,omitempty"`
}

// ConditionRemovedPayload captures the payload for character.condition_removed events.
type ConditionRemovedPayload struct {
	TargetID string `json:"target_id"`
	Kind     string `json:"kind"`
}

// CharacterUpdatedPayload captures the payload for character.updated events.
type CharacterUpdatedPayload struct {
	CharacterID string         `json:"character_id"`
	Fields      map[string]any `json:"fields"`
}

// DiceRolledPayload captures the payload for table.dice_rolled events.
type DiceRolledPayload struct {
	Expression string `json:"expression"`
	Result     int    `json:"result"`
	Rolls      []int  `json:"rolls"`
	Reason     string `json:"reason,omitempty"`
}

// ChatMessagePayload captures the payload for table.chat_message events.
type ChatMessagePayload struct {
	Text string `json:"text"`
}

// CustomPayload captures the payload for table.custom events.
type CustomPayload struct {
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data,omitempty"`
}

// MarshalPayload encodes a typed payload for storage in Event.PayloadJSON.
func MarshalPayload(payload any) ([]byte, error) {
	return json.Marshal(payload)
}
