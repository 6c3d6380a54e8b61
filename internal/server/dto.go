package server

import (
	"encoding/json"
	"time"

	gterrors "github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/session/domain"
	"github.com/louisbranch/gametable/internal/session/event"
	"github.com/louisbranch/gametable/internal/session/projection"
)

// Client message kinds.
const (
	msgJoinSession      = "JoinSession"
	msgLeaveSession     = "LeaveSession"
	msgStartSession     = "StartSession"
	msgEndSession       = "EndSession"
	msgDiceRoll         = "DiceRoll"
	msgChatMessage      = "ChatMessage"
	msgStartCombat      = "StartCombat"
	msgEndCombat        = "EndCombat"
	msgUpdateInitiative = "UpdateInitiative"
	msgNextTurn         = "NextTurn"
	msgUpdateHP         = "UpdateHP"
	msgUpdateCharacter  = "UpdateCharacter"
	msgApplyCondition   = "ApplyCondition"
	msgRemoveCondition  = "RemoveCondition"
	msgCreateEventLog   = "CreateEventLog"
)

// Server message kinds.
const (
	msgSessionJoined     = "SessionJoined"
	msgSessionStarted    = "SessionStarted"
	msgSessionEnded      = "SessionEnded"
	msgPlayerJoined      = "PlayerJoined"
	msgPlayerLeft        = "PlayerLeft"
	msgDiceRolled        = "DiceRolled"
	msgCombatStarted     = "CombatStarted"
	msgCombatEnded       = "CombatEnded"
	msgInitiativeUpdated = "InitiativeUpdated"
	msgTurnChanged       = "TurnChanged"
	msgHPUpdated         = "HPUpdated"
	msgConditionApplied  = "ConditionApplied"
	msgConditionRemoved  = "ConditionRemoved"
	msgCharacterUpdated  = "CharacterUpdated"
	msgEventLogCreated   = "EventLogCreated"
	msgError             = "Error"
)

// clientMessage is the single flat envelope for every inbound message kind;
// the Type field selects which other fields are meaningful.
type clientMessage struct {
	Type string `json:"type"`

	SessionID string `json:"session_id,omitempty"`

	DiceExpr string `json:"dice_expr,omitempty"`
	Reason   string `json:"reason,omitempty"`

	Text string `json:"text,omitempty"`

	Order []event.InitiativeEntry `json:"order,omitempty"`

	CharacterID string         `json:"character_id,omitempty"`
	HPCurrent   *int           `json:"hp_current,omitempty"`
	HPMax       *int           `json:"hp_max,omitempty"`
	Updates     map[string]any `json:"updates,omitempty"`

	TargetID       string `json:"target_id,omitempty"`
	Kind           string `json:"kind,omitempty"`
	DurationRounds int    `json:"duration_rounds,omitempty"`
	Description    string `json:"description,omitempty"`

	EventType string          `json:"event_type,omitempty"`
	EventData json.RawMessage `json:"event_data,omitempty"`
}

// playerInfo describes one attached participant.
type playerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
}

// serverMessage is the single flat envelope for every outbound message kind.
// Seq carries the event sequence number so clients can detect gaps; it is
// zero for messages that do not correspond to a journaled event.
type serverMessage struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`

	SessionID string                `json:"session_id,omitempty"`
	Players   []playerInfo          `json:"players,omitempty"`
	GameState *projection.GameState `json:"game_state,omitempty"`
	Status    string                `json:"status,omitempty"`

	Player   *playerInfo `json:"player,omitempty"`
	PlayerID string      `json:"player_id,omitempty"`
	Reason   string      `json:"reason,omitempty"`

	DiceExpr        string `json:"dice_expr,omitempty"`
	Result          int    `json:"result,omitempty"`
	IndividualRolls []int  `json:"individual_rolls,omitempty"`

	Text      string `json:"text,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	Order       []event.InitiativeEntry `json:"order,omitempty"`
	CurrentTurn string                  `json:"current_turn,omitempty"`
	Round       int                     `json:"round,omitempty"`

	CharacterID string                 `json:"character_id,omitempty"`
	HPCurrent   *int                   `json:"hp_current,omitempty"`
	HPMax       *int                   `json:"hp_max,omitempty"`
	Character   *event.InitiativeEntry `json:"character,omitempty"`

	Condition *projection.Condition  `json:"condition,omitempty"`
	Expired   []projection.Condition `json:"expired,omitempty"`
	TargetID  string                 `json:"target_id,omitempty"`
	Kind      string                 `json:"kind,omitempty"`

	EventID   uint64          `json:"event_id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	EventData json.RawMessage `json:"event_data,omitempty"`
	CreatedBy string          `json:"created_by,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func errorMessage(err error) serverMessage {
	msg := serverMessage{Type: msgError, Code: string(gterrors.CodeOf(err))}
	if err != nil {
		msg.Message = err.Error()
	}
	return msg
}

func playerFromIdentity(identity domain.Identity) playerInfo {
	return playerInfo{ID: identity.PrincipalID, Name: identity.DisplayName, Role: string(identity.Role)}
}

// deltaMessage renders a journaled event delta as the matching wire message.
// The second return is false for event kinds with no wire representation.
func deltaMessage(delta projection.Delta) (serverMessage, bool) {
	evt := delta.Event
	msg := serverMessage{Seq: evt.Seq}

	switch evt.Type {
	case event.TypeSessionStarted:
		msg.Type = msgSessionStarted
		msg.SessionID = evt.SessionID

	case event.TypeSessionEnded:
		var payload event.SessionEndedPayload
		decodePayload(evt.PayloadJSON, &payload)
		msg.Type = msgSessionEnded
		msg.SessionID = evt.SessionID
		msg.Reason = payload.Reason

	case event.TypePlayerJoined:
		var payload event.PlayerJoinedPayload
		decodePayload(evt.PayloadJSON, &payload)
		msg.Type = msgPlayerJoined
		msg.Player = &playerInfo{ID: payload.PrincipalID, Name: payload.DisplayName, Role: payload.Role}

	case event.TypePlayerLeft:
		var payload event.PlayerLeftPayload
		decodePayload(evt.PayloadJSON, &payload)
		msg.Type = msgPlayerLeft
		msg.PlayerID = payload.PrincipalID
		msg.Reason = payload.Reason

	case event.TypeCombatStarted:
		msg.Type = msgCombatStarted
		msg.Order = delta.Order
		msg.CurrentTurn = delta.CurrentTurn
		msg.Round = delta.Round

	case event.TypeCombatEnded:
		msg.Type = msgCombatEnded
		msg.Order = delta.Order

	case event.TypeInitiativeUpdated:
		msg.Type = msgInitiativeUpdated
		msg.Order = delta.Order
		msg.CurrentTurn = delta.CurrentTurn

	case event.TypeTurnAdvanced:
		msg.Type = msgTurnChanged
		msg.CurrentTurn = delta.CurrentTurn
		msg.Round = delta.Round
		msg.Expired = delta.Expired

	case event.TypeHPUpdated:
		msg.Type = msgHPUpdated
		if delta.Entry != nil {
			msg.CharacterID = delta.Entry.CharacterID
			if msg.CharacterID == "" {
				msg.CharacterID = delta.Entry.ID
			}
			current := delta.Entry.HPCurrent
			maximum := delta.Entry.HPMax
			msg.HPCurrent = &current
			msg.HPMax = &maximum
		}

	case event.TypeConditionApplied:
		var payload event.ConditionAppliedPayload
		decodePayload(evt.PayloadJSON, &payload)
		msg.Type = msgConditionApplied
		msg.Condition = &projection.Condition{
			TargetID:        payload.TargetID,
			Kind:            payload.Kind,
			RemainingRounds: payload.DurationRounds,
			Description:     payload.Description,
			AppliedAt:       evt.Timestamp,
		}

	case event.TypeConditionRemoved:
		var payload event.ConditionRemovedPayload
		decodePayload(evt.PayloadJSON, &payload)
		msg.Type = msgConditionRemoved
		msg.TargetID = payload.TargetID
		msg.Kind = payload.Kind

	case event.TypeCharacterUpdated:
		msg.Type = msgCharacterUpdated
		msg.Character = delta.Entry

	case event.TypeDiceRolled:
		var payload event.DiceRolledPayload
		decodePayload(evt.PayloadJSON, &payload)
		msg.Type = msgDiceRolled
		msg.PlayerID = evt.AuthorID
		msg.DiceExpr = payload.Expression
		msg.Result = payload.Result
		msg.IndividualRolls = payload.Rolls
		msg.Reason = payload.Reason

	case event.TypeChatMessage:
		var payload event.ChatMessagePayload
		decodePayload(evt.PayloadJSON, &payload)
		msg.Type = msgChatMessage
		msg.PlayerID = evt.AuthorID
		msg.Text = payload.Text
		msg.Timestamp = evt.Timestamp.UTC().Format(time.RFC3339)

	case event.TypeCustom:
		var payload event.CustomPayload
		decodePayload(evt.PayloadJSON, &payload)
		msg.Type = msgEventLogCreated
		msg.EventID = evt.Seq
		msg.EventType = payload.EventType
		msg.EventData = payload.EventData
		msg.CreatedBy = evt.AuthorID
		msg.CreatedAt = evt.Timestamp.UTC().Format(time.RFC3339)

	default:
		return serverMessage{}, false
	}
	return msg, true
}

func decodePayload(data []byte, target any) {
	// Payloads were validated when the event was accepted; a decode failure
	// here leaves the zero value, which renders as an empty field.
	_ = json.Unmarshal(data, target)
}
