package projection

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/gametable/internal/session/event"
	"github.com/louisbranch/gametable/internal/storage"
)

const replayPageSize = 200

// ReplayOptions configures event replay behavior.
type ReplayOptions struct {
	AfterSeq uint64
	UntilSeq uint64
	Filter   func(event.Event) bool
}

// ReplaySession folds every stored event for a session into a fresh state.
//
// Replaying the full journal from empty state reproduces the exact current
// projection; events that fail to apply (e.g. transitions recorded before a
// rule change) are skipped rather than aborting the replay.
func ReplaySession(ctx context.Context, eventStore storage.EventStore, sessionID string) (GameState, error) {
	return ReplaySessionWith(ctx, eventStore, sessionID, ReplayOptions{})
}

// ReplaySessionWith replays events with additional filtering and bounds.
func ReplaySessionWith(ctx context.Context, eventStore storage.EventStore, sessionID string, options ReplayOptions) (GameState, error) {
	if eventStore == nil {
		return GameState{}, fmt.Errorf("event store is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return GameState{}, fmt.Errorf("session id is required")
	}

	state := GameState{Seq: options.AfterSeq}
	lastSeq := options.AfterSeq
	for {
		events, err := eventStore.ListEvents(ctx, sessionID, lastSeq, replayPageSize)
		if err != nil {
			return state, err
		}
		if len(events) == 0 {
			return state, nil
		}
		for _, evt := range events {
			if options.UntilSeq > 0 && evt.Seq > options.UntilSeq {
				return state, nil
			}
			lastSeq = evt.Seq
			if options.Filter != nil && !options.Filter(evt) {
				continue
			}
			next, _, err := Apply(state, evt)
			if err != nil {
				// A rejected transition was never accepted into a live
				// journal; tolerate it so stale rows cannot wedge startup.
				state.Seq = evt.Seq
				continue
			}
			state = next
		}
	}
}
