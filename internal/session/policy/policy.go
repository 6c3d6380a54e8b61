// Package policy provides authorization decisions for session actions.
//
// The gate runs strictly before the event journal append: a denied action
// never mutates state and never broadcasts.
package policy

import (
	"fmt"

	gterrors "github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/session/domain"
)

// Action represents a gated session action.
type Action int

const (
	// ActionStartSession starts or ends the session lifecycle.
	ActionStartSession Action = iota + 1
	// ActionEndSession ends the session.
	ActionEndSession
	// ActionStartCombat begins combat with an initiative order.
	ActionStartCombat
	// ActionEndCombat ends combat.
	ActionEndCombat
	// ActionUpdateInitiative replaces the initiative order.
	ActionUpdateInitiative
	// ActionAdvanceTurn moves the current turn forward.
	ActionAdvanceTurn
	// ActionUpdateHP mutates a combatant's hit points.
	ActionUpdateHP
	// ActionApplyCondition applies a condition to a combatant.
	ActionApplyCondition
	// ActionRemoveCondition removes a condition from a combatant.
	ActionRemoveCondition
	// ActionUpdateCharacter mutates combatant metadata.
	ActionUpdateCharacter
	// ActionRollDice rolls dice at the table.
	ActionRollDice
	// ActionChat sends a chat message.
	ActionChat
	// ActionLogCustomEvent records a caller-defined auxiliary event.
	ActionLogCustomEvent
)

// String returns a short human-readable action name for denial reasons.
func (a Action) String() string {
	switch a {
	case ActionStartSession:
		return "start session"
	case ActionEndSession:
		return "end session"
	case ActionStartCombat:
		return "start combat"
	case ActionEndCombat:
		return "end combat"
	case ActionUpdateInitiative:
		return "update initiative"
	case ActionAdvanceTurn:
		return "advance turn"
	case ActionUpdateHP:
		return "update hit points"
	case ActionApplyCondition:
		return "apply condition"
	case ActionRemoveCondition:
		return "remove condition"
	case ActionUpdateCharacter:
		return "update character"
	case ActionRollDice:
		return "roll dice"
	case ActionChat:
		return "chat"
	case ActionLogCustomEvent:
		return "log event"
	default:
		return "unknown action"
	}
}

// Request describes one action to be authorized.
type Request struct {
	Action Action
	// TargetCharacterID is set for character-scoped mutations.
	TargetCharacterID string
}

func deny(format string, args ...any) error {
	return gterrors.New(gterrors.CodeAccessDenied, fmt.Sprintf(format, args...))
}

// Check decides whether the identity may perform the request against the
// session. Rules are evaluated in order; the first match wins. A nil return
// means the action is allowed.
func Check(actor domain.Identity, session domain.Session, req Request) error {
	// 1. The DM may perform any action against their own campaign's sessions.
	if actor.IsDM() {
		if actor.CampaignID != session.CampaignID {
			return deny("dm of campaign %s cannot act on campaign %s", actor.CampaignID, session.CampaignID)
		}
		return nil
	}

	// 2. Players may always roll dice, chat, and log auxiliary events on
	// sessions they are attached to.
	switch req.Action {
	case ActionRollDice, ActionChat, ActionLogCustomEvent:
		return nil
	}

	// 3. Players may mutate HP, conditions, and metadata only for characters
	// in their permitted set.
	switch req.Action {
	case ActionUpdateHP, ActionApplyCondition, ActionRemoveCondition, ActionUpdateCharacter:
		if req.TargetCharacterID == "" {
			return deny("a target character is required to %s", req.Action)
		}
		if !actor.ControlsCharacter(req.TargetCharacterID) {
			return deny("character %s is not controlled by this player", req.TargetCharacterID)
		}
		return nil
	}

	// 4. Players never mutate initiative, turns, combat, or session lifecycle.
	// 5. Everything else is denied.
	return deny("only the dm may %s", req.Action)
}
