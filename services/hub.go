package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub tracks every live websocket connection and fans messages out to
// the clients attached to a session's topic (one topic per session
// code). All game logic lives in RaceService; the hub only parses,
// dispatches and delivers.
type Hub struct {
	clients     map[*Client]bool
	register    chan *Client
	unregister  chan *Client
	mutex       sync.RWMutex
	raceService *RaceService
}

// Client is one player's connection to one session.
type Client struct {
	hub         *Hub
	socket      *websocket.Conn
	send        chan []byte
	sessionCode string
	userID      uint
	username    string
	leaving     bool
}

func NewHub(raceService *RaceService) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		raceService: raceService,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			log.Debug().Str("code", client.sessionCode).Uint("player", client.userID).
				Int("total_clients", total).Msg("client registered")

		case client := <-h.unregister:
			h.mutex.Lock()
			_, ok := h.clients[client]
			delete(h.clients, client)
			total := len(h.clients)
			h.mutex.Unlock()
			// The read pump unregisters each client exactly once, and
			// nothing else ever closes the send channel, so this close
			// cannot double up or race an in-flight send: senders hold
			// h.mutex and check map membership first, and the map entry
			// is gone before the close happens.
			close(client.send)
			if !ok {
				// Already dropped for a full buffer; its disconnect was
				// its own doing, no abandon.
				continue
			}
			log.Debug().Str("code", client.sessionCode).Uint("player", client.userID).
				Int("total_clients", total).Msg("client unregistered")

			h.BroadcastToSession(client.sessionCode,
				NewNotification(fmt.Sprintf("%s disconnected", client.username)))

			// A dropped connection abandons the race unless the player
			// already left cleanly. Runs outside the hub loop; the
			// service takes the session lock itself.
			if !client.leaving {
				go h.abandonAfterDrop(client)
			}
		}
	}
}

func (h *Hub) abandonAfterDrop(client *Client) {
	outcome, err := h.raceService.MarkAbandoned(client.sessionCode, client.userID, "disconnected")
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) && !errors.Is(err, ErrUnknownPlayer) {
			log.Error().Err(err).Str("code", client.sessionCode).Msg("abandon after drop")
		}
		return
	}
	if outcome.Forfeit != nil {
		h.BroadcastToSession(client.sessionCode, RaceFinishedMessage{
			Type:       MsgRaceFinished,
			WinnerID:   outcome.Forfeit.WinnerID,
			WinnerName: outcome.Forfeit.Winner.Username,
			WinnerTime: FormatRaceTime(outcome.Forfeit.WinnerTime),
			LoserTime:  DidNotFinish,
		})
	}
}

// BroadcastToSession delivers the message to every client attached to
// the session's topic. Delivery is at-most-once: a client with a full
// send buffer is dropped rather than allowed to stall the rest.
func (h *Hub) BroadcastToSession(sessionCode string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Msg("marshal broadcast")
		return
	}

	h.mutex.Lock()
	for client := range h.clients {
		if !strings.EqualFold(client.sessionCode, sessionCode) {
			continue
		}
		h.deliverLocked(client, data)
	}
	h.mutex.Unlock()
}

func (h *Hub) sendTo(client *Client, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Msg("marshal unicast")
		return
	}
	h.mutex.Lock()
	if _, ok := h.clients[client]; ok {
		h.deliverLocked(client, data)
	}
	h.mutex.Unlock()
}

// deliverLocked queues data on the client's send channel; the caller
// holds h.mutex. A full buffer drops the client from the map and closes
// its socket so the read pump unregisters it; the send channel is only
// ever closed by the hub loop, on unregister, so a concurrent send can
// never hit a closed channel.
func (h *Hub) deliverLocked(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		delete(h.clients, client)
		client.socket.Close()
		log.Warn().Str("code", client.sessionCode).Uint("player", client.userID).
			Msg("dropping client with full send buffer")
	}
}

// IsPlayerConnected reports whether the player has a live socket on the
// session's topic.
func (h *Hub) IsPlayerConnected(sessionCode string, userID uint) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for client := range h.clients {
		if strings.EqualFold(client.sessionCode, sessionCode) && client.userID == userID {
			return true
		}
	}
	return false
}

// RegisterClient attaches an authenticated connection to a session topic
// and starts its pumps. The connecting player immediately receives a
// full state snapshot; everyone on the topic hears about the connect.
func (h *Hub) RegisterClient(conn *websocket.Conn, sessionCode string, userID uint, username string) *Client {
	client := &Client{
		hub:         h,
		socket:      conn,
		send:        make(chan []byte, 256),
		sessionCode: strings.ToUpper(sessionCode),
		userID:      userID,
		username:    username,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	h.BroadcastToSession(client.sessionCode,
		NewNotification(fmt.Sprintf("%s connected", username)))
	h.sendGameState(client)

	return client
}

// sendGameState unicasts the full snapshot for reconnect/display sync.
// This is the one read path allowed to go through the redis cache.
func (h *Hub) sendGameState(client *Client) {
	snap, err := h.raceService.Snapshot(client.sessionCode)
	if err != nil {
		h.sendTo(client, NewError("session not found"))
		return
	}

	msg := GameStateMessage{
		Type:      MsgGameState,
		Clues:     snap.Clues,
		Board:     snap.Clues,
		PlayerA:   snap.PlayerAName,
		PlayerB:   snap.PlayerBName,
		Status:    snap.Status,
		StartedAt: snap.StartedAt,
	}
	switch {
	case snap.PlayerAID != nil && *snap.PlayerAID == client.userID:
		msg.Board = snap.BoardA
		if snap.PlayerBID != nil {
			opp := snap.BoardB
			msg.OpponentBoard = &opp
		}
	case snap.PlayerBID != nil && *snap.PlayerBID == client.userID:
		msg.Board = snap.BoardB
		if snap.PlayerAID != nil {
			opp := snap.BoardA
			msg.OpponentBoard = &opp
		}
	}
	h.sendTo(client, msg)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.socket.Close()
	}()

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("code", c.sessionCode).Msg("websocket read error")
			}
			return
		}

		cmd, err := ParseInbound(data)
		if err != nil {
			// Protocol errors go back to the sender only; nothing was
			// mutated and the connection stays open.
			c.hub.sendTo(c, NewError(err.Error()))
			continue
		}
		c.handleCommand(cmd)
	}
}

func (c *Client) writePump() {
	defer c.socket.Close()

	for message := range c.send {
		w, err := c.socket.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)
		if err := w.Close(); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}

// handleCommand routes one validated command to the state manager and
// turns the outcome into unicasts and broadcasts. Every inbound frame
// gets a reply; domain failures become error unicasts, never closed
// connections.
func (c *Client) handleCommand(cmd Inbound) {
	switch cmd := cmd.(type) {
	case JoinCommand:
		c.handleJoin()
	case MoveCommand:
		c.handleMove(cmd)
	case CompleteCommand:
		c.handleComplete()
	case PlayAgainCommand:
		c.handlePlayAgain(cmd)
	case LeaveCommand:
		c.handleLeave(cmd)
	case PingCommand:
		c.hub.sendTo(c, PongMessage{Type: MsgPong})
	}
}

func (c *Client) handleJoin() {
	outcome, err := c.hub.raceService.Join(c.sessionCode, c.userID)
	if err != nil {
		c.hub.sendTo(c, NewError(domainErrorText(err)))
		return
	}

	if outcome.Seated {
		c.hub.BroadcastToSession(c.sessionCode,
			NewNotification(fmt.Sprintf("%s joined the race", c.username)))
	}
	if outcome.Started {
		c.hub.BroadcastToSession(c.sessionCode, RaceStartedMessage{
			Type:      MsgRaceStarted,
			StartedAt: *outcome.Session.StartedAt,
			Clues:     outcome.Session.Clues,
		})
	}
	c.hub.sendGameState(c)
}

func (c *Client) handleMove(cmd MoveCommand) {
	outcome, err := c.hub.raceService.RecordMove(c.sessionCode, c.userID, cmd.Row, cmd.Col, cmd.Value)
	if err != nil {
		c.hub.sendTo(c, NewError(domainErrorText(err)))
		return
	}

	c.hub.BroadcastToSession(c.sessionCode, MoveMadeMessage{
		Type:       MsgMoveMade,
		PlayerID:   c.userID,
		PlayerName: c.username,
		Row:        outcome.Move.Row,
		Col:        outcome.Move.Col,
		Value:      outcome.Move.Value,
		Timestamp:  outcome.Move.CreatedAt,
	})
}

func (c *Client) handleComplete() {
	result, err := c.hub.raceService.TryCompleteRace(c.sessionCode, c.userID)
	if err != nil {
		c.hub.sendTo(c, NewError(domainErrorText(err)))
		return
	}

	loserTime := DidNotFinish
	if result.LoserTime != nil {
		loserTime = FormatRaceTime(*result.LoserTime)
	}
	c.hub.BroadcastToSession(c.sessionCode, RaceFinishedMessage{
		Type:       MsgRaceFinished,
		WinnerID:   result.WinnerID,
		WinnerName: result.Winner.Username,
		WinnerTime: FormatRaceTime(result.WinnerTime),
		LoserTime:  loserTime,
	})
}

func (c *Client) handlePlayAgain(cmd PlayAgainCommand) {
	sess, err := c.hub.raceService.CreateRematch(c.sessionCode, cmd.Difficulty)
	if err != nil {
		c.hub.sendTo(c, NewError(domainErrorText(err)))
		return
	}

	c.hub.BroadcastToSession(c.sessionCode, NewGameCreatedMessage{
		Type:       MsgNewGameCreated,
		Code:       sess.Code,
		Difficulty: sess.Difficulty,
	})
}

func (c *Client) handleLeave(cmd LeaveCommand) {
	reason := cmd.Reason
	if reason == "" {
		reason = "left"
	}
	outcome, err := c.hub.raceService.MarkAbandoned(c.sessionCode, c.userID, reason)
	if err != nil {
		c.hub.sendTo(c, NewError(domainErrorText(err)))
		return
	}
	c.leaving = true

	c.hub.BroadcastToSession(c.sessionCode,
		NewNotification(fmt.Sprintf("%s left the race", c.username)))
	if outcome.Forfeit != nil {
		c.hub.BroadcastToSession(c.sessionCode, RaceFinishedMessage{
			Type:       MsgRaceFinished,
			WinnerID:   outcome.Forfeit.WinnerID,
			WinnerName: outcome.Forfeit.Winner.Username,
			WinnerTime: FormatRaceTime(outcome.Forfeit.WinnerTime),
			LoserTime:  DidNotFinish,
		})
	}

	c.hub.sendTo(c, LeaveConfirmedMessage{Type: MsgLeaveConfirmed})

	// Give the write pump a moment to flush the confirmation, then drop
	// the connection.
	go func() {
		time.Sleep(100 * time.Millisecond)
		c.socket.Close()
	}()
}

// domainErrorText maps domain failures to the human-readable text sent
// on the wire; infrastructure errors collapse to a generic message so
// internals never leak to clients.
func domainErrorText(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionFull),
		errors.Is(err, ErrNotInProgress),
		errors.Is(err, ErrOutOfRange),
		errors.Is(err, ErrClueCell),
		errors.Is(err, ErrIncorrectSolution),
		errors.Is(err, ErrUnknownPlayer),
		errors.Is(err, ErrNeedBothPlayers),
		errors.Is(err, ErrInvalidMove):
		return err.Error()
	}
	log.Error().Err(err).Msg("internal error handling command")
	return "internal server error"
}
