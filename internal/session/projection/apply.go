package projection

import (
	"encoding/json"
	"fmt"

	gterrors "github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/session/event"
)

// Delta describes the broadcast-relevant effect of one applied event.
// Fields are populated only when the event changed the matching state.
type Delta struct {
	Event event.Event
	// Order is set when the initiative order changed.
	Order []event.InitiativeEntry
	// CurrentTurn and Round are set for turn-affecting events.
	CurrentTurn string
	Round       int
	// Entry is the updated combatant for HP and character updates.
	Entry *event.InitiativeEntry
	// Expired lists conditions removed by duration during a turn advance.
	Expired []Condition
}

func invalid(format string, args ...any) error {
	return gterrors.New(gterrors.CodeInvalidTransition, fmt.Sprintf(format, args...))
}

// Apply folds one event into the state, producing the post-state and the
// delta to broadcast.
//
// Apply is pure: given the pre-state and the event it produces exactly one
// post-state; it never observes wall-clock time except through the event's
// own timestamp. On error the returned state is the unchanged pre-state.
func Apply(state GameState, evt event.Event) (GameState, Delta, error) {
	next := state.Clone()
	delta := Delta{Event: evt}

	switch evt.Type {
	case event.TypeCombatStarted:
		var payload event.CombatStartedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, Delta{}, fmt.Errorf("decode %s payload: %w", evt.Type, err)
		}
		if state.CombatActive {
			return state, Delta{}, invalid("combat is already active")
		}
		if len(payload.Order) == 0 {
			return state, Delta{}, invalid("combat requires a non-empty initiative order")
		}
		next.Order = sortOrder(payload.Order)
		next.CombatActive = true
		next.Round = 1
		next.CurrentTurn = next.Order[0].ID
		delta.Order = next.Order
		delta.CurrentTurn = next.CurrentTurn
		delta.Round = next.Round

	case event.TypeCombatEnded:
		if !state.CombatActive {
			return state, Delta{}, invalid("combat is not active")
		}
		next.CombatActive = false
		next.CurrentTurn = ""
		next.Round = 0
		delta.Order = next.Order

	case event.TypeInitiativeUpdated:
		var payload event.InitiativeUpdatedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, Delta{}, fmt.Errorf("decode %s payload: %w", evt.Type, err)
		}
		next.Order = sortOrder(payload.Order)
		// The current turn survives only if its entry is still present;
		// combat stays active either way.
		if next.CurrentTurn != "" && next.entryIndex(next.CurrentTurn) == -1 {
			next.CurrentTurn = ""
		}
		delta.Order = next.Order
		delta.CurrentTurn = next.CurrentTurn
		delta.Round = next.Round

	case event.TypeTurnAdvanced:
		if !state.CombatActive {
			return state, Delta{}, invalid("cannot advance turn while combat is inactive")
		}
		if len(state.Order) == 0 {
			return state, Delta{}, invalid("initiative order is empty")
		}
		if state.CurrentTurn == "" {
			// Current turn was cleared by an initiative update; resume at
			// the top of the order without counting a wraparound.
			next.CurrentTurn = next.Order[0].ID
		} else {
			idx := next.entryIndex(next.CurrentTurn)
			nextIdx := (idx + 1) % len(next.Order)
			next.CurrentTurn = next.Order[nextIdx].ID
			if nextIdx == 0 {
				next.Round++
			}
		}
		next.Conditions, delta.Expired = tickConditions(next.Conditions)
		delta.CurrentTurn = next.CurrentTurn
		delta.Round = next.Round

	case event.TypeHPUpdated:
		var payload event.HPUpdatedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, Delta{}, fmt.Errorf("decode %s payload: %w", evt.Type, err)
		}
		idx := next.combatantIndex(payload.CharacterID)
		if idx == -1 {
			return state, Delta{}, invalid("character %s is not in the initiative order", payload.CharacterID)
		}
		entry := next.Order[idx]
		if payload.HPMax != nil {
			entry.HPMax = max(*payload.HPMax, 0)
		}
		entry.HPCurrent = clamp(payload.HPCurrent, 0, entry.HPMax)
		next.Order[idx] = entry
		delta.Entry = &entry

	case event.TypeConditionApplied:
		var payload event.ConditionAppliedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, Delta{}, fmt.Errorf("decode %s payload: %w", evt.Type, err)
		}
		cond := Condition{
			TargetID:        payload.TargetID,
			Kind:            payload.Kind,
			RemainingRounds: max(payload.DurationRounds, 0),
			Description:     payload.Description,
			AppliedAt:       evt.Timestamp,
		}
		if idx := next.conditionIndex(payload.TargetID, payload.Kind); idx != -1 {
			next.Conditions[idx] = cond
		} else {
			next.Conditions = append(next.Conditions, cond)
		}

	case event.TypeConditionRemoved:
		var payload event.ConditionRemovedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, Delta{}, fmt.Errorf("decode %s payload: %w", evt.Type, err)
		}
		idx := next.conditionIndex(payload.TargetID, payload.Kind)
		if idx == -1 {
			return state, Delta{}, invalid("condition %s is not active on %s", payload.Kind, payload.TargetID)
		}
		next.Conditions = append(next.Conditions[:idx], next.Conditions[idx+1:]...)

	case event.TypeCharacterUpdated:
		var payload event.CharacterUpdatedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, Delta{}, fmt.Errorf("decode %s payload: %w", evt.Type, err)
		}
		idx := next.combatantIndex(payload.CharacterID)
		if idx == -1 {
			return state, Delta{}, invalid("character %s is not in the initiative order", payload.CharacterID)
		}
		entry := applyCharacterFields(next.Order[idx], payload.Fields)
		next.Order[idx] = entry
		delta.Entry = &entry

	case event.TypeSessionStarted, event.TypeSessionEnded,
		event.TypePlayerJoined, event.TypePlayerLeft,
		event.TypeDiceRolled, event.TypeChatMessage, event.TypeCustom:
		// Journaled and broadcast, but no game-state effect.

	default:
		return state, Delta{}, invalid("unknown event type %q", evt.Type)
	}

	next.Seq = evt.Seq
	return next, delta, nil
}

// tickConditions decrements every timed condition by one round and splits off
// the ones that expired. Conditions with no duration are left untouched.
func tickConditions(conditions []Condition) (remaining []Condition, expired []Condition) {
	for _, cond := range conditions {
		if cond.RemainingRounds == 0 {
			remaining = append(remaining, cond)
			continue
		}
		cond.RemainingRounds--
		if cond.RemainingRounds == 0 {
			expired = append(expired, cond)
			continue
		}
		remaining = append(remaining, cond)
	}
	return remaining, expired
}

// applyCharacterFields folds recognized metadata fields into the entry.
// Unknown fields are ignored so clients can round-trip extra data.
func applyCharacterFields(entry event.InitiativeEntry, fields map[string]any) event.InitiativeEntry {
	for key, value := range fields {
		switch key {
		case "name":
			if name, ok := value.(string); ok && name != "" {
				entry.Name = name
			}
		case "armor_class":
			if ac, ok := asInt(value); ok {
				entry.ArmorClass = ac
			}
		case "hp_max":
			if hpMax, ok := asInt(value); ok {
				entry.HPMax = max(hpMax, 0)
				entry.HPCurrent = clamp(entry.HPCurrent, 0, entry.HPMax)
			}
		}
	}
	return entry
}

// asInt accepts the numeric shapes JSON decoding can produce.
func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
