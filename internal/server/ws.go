package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	gterrors "github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/server/dice"
	"github.com/louisbranch/gametable/internal/session/coordinator"
	"github.com/louisbranch/gametable/internal/session/domain"
	"github.com/louisbranch/gametable/internal/session/event"
	"github.com/louisbranch/gametable/internal/session/policy"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// connection is one websocket client. The read pump owns dispatch; the write
// pump owns the socket for writes. A connection is attached to at most one
// session at a time.
type connection struct {
	server   *Server
	ws       *websocket.Conn
	identity domain.Identity

	send chan serverMessage
	done chan struct{}

	mu     sync.Mutex
	handle *coordinator.Handle
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := s.verifier.Authenticate(bearerToken(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed principal_id=%s err=%v", identity.PrincipalID, err)
		return
	}

	c := &connection{
		server:   s,
		ws:       ws,
		identity: identity,
		send:     make(chan serverMessage, 32),
		done:     make(chan struct{}),
	}
	go c.writePump()
	c.readPump(r.Context())
}

// bearerToken extracts the token from the Authorization header, falling back
// to a query parameter for browser clients that cannot set headers on
// websocket dials.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	return r.URL.Query().Get("token")
}

func (c *connection) readPump(ctx context.Context) {
	defer func() {
		close(c.done)
		if h := c.takeHandle(); h != nil {
			detachCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.server.registry.Detach(detachCtx, h, "disconnect")
			cancel()
		}
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read failed principal_id=%s err=%v", c.identity.PrincipalID, err)
			}
			return
		}
		c.touch()

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(errorMessage(gterrors.New(gterrors.CodeInvalidMessage, "message is not valid json")))
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// forward translates a handle's delta stream into wire messages until the
// handle is detached. A forced detachment (eviction, replacement) closes the
// socket so the client knows to reconnect.
func (c *connection) forward(h *coordinator.Handle) {
	for delta := range h.Deliveries() {
		msg, ok := deltaMessage(delta)
		if !ok {
			continue
		}
		select {
		case c.send <- msg:
		case <-c.done:
			return
		}
	}
	if c.clearHandle(h) {
		c.ws.Close()
	}
}

func (c *connection) reply(msg serverMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

func (c *connection) currentHandle() *coordinator.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

func (c *connection) setHandle(h *coordinator.Handle) {
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
}

func (c *connection) takeHandle() *coordinator.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.handle
	c.handle = nil
	return h
}

// clearHandle drops the handle if it is still current, reporting whether the
// detachment was forced rather than requested by this connection.
func (c *connection) clearHandle(h *coordinator.Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != h {
		return false
	}
	c.handle = nil
	return true
}

func (c *connection) touch() {
	if h := c.currentHandle(); h != nil {
		h.Touch(c.server.now())
	}
}

func (c *connection) dispatch(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case msgJoinSession:
		c.join(ctx, msg.SessionID)
	case msgLeaveSession:
		c.leave(ctx)
	case msgStartSession:
		c.do(ctx, coordinator.Command{
			Action:  policy.ActionStartSession,
			Type:    event.TypeSessionStarted,
			Payload: event.SessionStartedPayload{},
		})
	case msgEndSession:
		c.do(ctx, coordinator.Command{
			Action:  policy.ActionEndSession,
			Type:    event.TypeSessionEnded,
			Payload: event.SessionEndedPayload{Reason: msg.Reason},
		})
	case msgDiceRoll:
		c.rollDice(ctx, msg)
	case msgChatMessage:
		if msg.Text == "" {
			c.reply(errorMessage(gterrors.New(gterrors.CodeInvalidMessage, "chat text is required")))
			return
		}
		c.do(ctx, coordinator.Command{
			Action:  policy.ActionChat,
			Type:    event.TypeChatMessage,
			Payload: event.ChatMessagePayload{Text: msg.Text},
		})
	case msgStartCombat:
		c.do(ctx, coordinator.Command{
			Action:  policy.ActionStartCombat,
			Type:    event.TypeCombatStarted,
			Payload: event.CombatStartedPayload{Order: msg.Order},
		})
	case msgEndCombat:
		c.do(ctx, coordinator.Command{
			Action:  policy.ActionEndCombat,
			Type:    event.TypeCombatEnded,
			Payload: event.CombatEndedPayload{},
		})
	case msgUpdateInitiative:
		c.do(ctx, coordinator.Command{
			Action:  policy.ActionUpdateInitiative,
			Type:    event.TypeInitiativeUpdated,
			Payload: event.InitiativeUpdatedPayload{Order: msg.Order},
		})
	case msgNextTurn:
		c.do(ctx, coordinator.Command{
			Action:  policy.ActionAdvanceTurn,
			Type:    event.TypeTurnAdvanced,
			Payload: event.TurnAdvancedPayload{},
		})
	case msgUpdateHP:
		if msg.CharacterID == "" || msg.HPCurrent == nil {
			c.reply(errorMessage(gterrors.New(gterrors.CodeInvalidMessage, "character_id and hp_current are required")))
			return
		}
		c.do(ctx, coordinator.Command{
			Action:            policy.ActionUpdateHP,
			Type:              event.TypeHPUpdated,
			TargetCharacterID: msg.CharacterID,
			Payload:           event.HPUpdatedPayload{CharacterID: msg.CharacterID, HPCurrent: *msg.HPCurrent, HPMax: msg.HPMax},
		})
	case msgUpdateCharacter:
		if msg.CharacterID == "" || len(msg.Updates) == 0 {
			c.reply(errorMessage(gterrors.New(gterrors.CodeInvalidMessage, "character_id and updates are required")))
			return
		}
		c.do(ctx, coordinator.Command{
			Action:            policy.ActionUpdateCharacter,
			Type:              event.TypeCharacterUpdated,
			TargetCharacterID: msg.CharacterID,
			Payload:           event.CharacterUpdatedPayload{CharacterID: msg.CharacterID, Fields: msg.Updates},
		})
	case msgApplyCondition:
		if msg.TargetID == "" || msg.Kind == "" {
			c.reply(errorMessage(gterrors.New(gterrors.CodeInvalidMessage, "target_id and kind are required")))
			return
		}
		c.do(ctx, coordinator.Command{
			Action:            policy.ActionApplyCondition,
			Type:              event.TypeConditionApplied,
			TargetCharacterID: msg.TargetID,
			Payload: event.ConditionAppliedPayload{
				TargetID:       msg.TargetID,
				Kind:           msg.Kind,
				DurationRounds: msg.DurationRounds,
				Description:    msg.Description,
			},
		})
	case msgRemoveCondition:
		if msg.TargetID == "" || msg.Kind == "" {
			c.reply(errorMessage(gterrors.New(gterrors.CodeInvalidMessage, "target_id and kind are required")))
			return
		}
		c.do(ctx, coordinator.Command{
			Action:            policy.ActionRemoveCondition,
			Type:              event.TypeConditionRemoved,
			TargetCharacterID: msg.TargetID,
			Payload:           event.ConditionRemovedPayload{TargetID: msg.TargetID, Kind: msg.Kind},
		})
	case msgCreateEventLog:
		if msg.EventType == "" {
			c.reply(errorMessage(gterrors.New(gterrors.CodeInvalidMessage, "event_type is required")))
			return
		}
		c.do(ctx, coordinator.Command{
			Action:  policy.ActionLogCustomEvent,
			Type:    event.TypeCustom,
			Payload: event.CustomPayload{EventType: msg.EventType, EventData: msg.EventData},
		})
	default:
		c.reply(errorMessage(gterrors.New(gterrors.CodeInvalidMessage, "unknown message type "+msg.Type)))
	}
}

func (c *connection) join(ctx context.Context, sessionID string) {
	if sessionID == "" {
		c.reply(errorMessage(gterrors.New(gterrors.CodeInvalidMessage, "session_id is required")))
		return
	}
	if h := c.takeHandle(); h != nil {
		c.server.registry.Detach(ctx, h, "switch_session")
	}

	handle, snapshot, err := c.server.registry.Attach(ctx, sessionID, c.identity)
	if err != nil {
		c.reply(errorMessage(err))
		return
	}
	c.setHandle(handle)

	players := make([]playerInfo, 0, len(snapshot.Players))
	for _, player := range snapshot.Players {
		players = append(players, playerFromIdentity(player))
	}
	state := snapshot.State
	// The snapshot must be enqueued before the forwarder starts so a delta
	// committed right after attach cannot precede it on the wire.
	c.reply(serverMessage{
		Type:      msgSessionJoined,
		SessionID: sessionID,
		Status:    snapshot.Session.Status.String(),
		Players:   players,
		GameState: &state,
		Seq:       state.Seq,
	})
	go c.forward(handle)
}

func (c *connection) leave(ctx context.Context) {
	h := c.takeHandle()
	if h == nil {
		c.reply(errorMessage(gterrors.New(gterrors.CodeNotAttached, "not attached to a session")))
		return
	}
	c.server.registry.Detach(ctx, h, "leave")
}

func (c *connection) do(ctx context.Context, cmd coordinator.Command) {
	h := c.currentHandle()
	if h == nil {
		c.reply(errorMessage(gterrors.New(gterrors.CodeNotAttached, "not attached to a session")))
		return
	}
	if err := c.server.registry.Do(ctx, h, cmd); err != nil {
		c.reply(errorMessage(err))
	}
}

func (c *connection) rollDice(ctx context.Context, msg clientMessage) {
	result, err := dice.RollExpression(msg.DiceExpr, c.server.seed())
	if err != nil {
		c.reply(serverMessage{Type: msgError, Code: string(gterrors.CodeDiceInvalidExpr), Message: err.Error()})
		return
	}
	c.do(ctx, coordinator.Command{
		Action: policy.ActionRollDice,
		Type:   event.TypeDiceRolled,
		Payload: event.DiceRolledPayload{
			Expression: msg.DiceExpr,
			Result:     result.Total,
			Rolls:      result.Rolls,
			Reason:     msg.Reason,
		},
	})
}
