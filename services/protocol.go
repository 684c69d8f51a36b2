package services

import (
	"encoding/json"
	"fmt"
	"time"

	"sudokurace/puzzle"
)

// Wire message types. Every frame on the socket is a JSON object with a
// "type" field plus type-specific fields; there is no other framing.
const (
	// inbound
	MsgJoinGame  = "join_game"
	MsgMove      = "move"
	MsgComplete  = "complete"
	MsgPlayAgain = "play_again"
	MsgLeaveGame = "leave_game"
	MsgPing      = "ping"

	// outbound
	MsgGameState      = "game_state"
	MsgRaceStarted    = "race_started"
	MsgMoveMade       = "move_made"
	MsgRaceFinished   = "race_finished"
	MsgNotification   = "notification"
	MsgNewGameCreated = "new_game_created"
	MsgLeaveConfirmed = "leave_game_confirmed"
	MsgError          = "error"
	MsgPong           = "pong"
)

// DidNotFinish is the loser time shown when the race ended before the
// second player completed the puzzle.
const DidNotFinish = "Did not finish"

// Inbound is the sum type of client-to-server commands. Parsing
// validates the schema up front so handlers only ever see well-formed
// commands; a malformed frame never reaches the state manager.
type Inbound interface{ inbound() }

type JoinCommand struct{}

// MoveCommand places value at (row, col) on the sender's own board.
type MoveCommand struct {
	Row   int
	Col   int
	Value int
}

// CompleteCommand claims the puzzle is solved. ClaimedElapsed is
// client-reported and informational only; the server recomputes the
// authoritative time from the session's start.
type CompleteCommand struct {
	ClaimedElapsed int
}

type PlayAgainCommand struct {
	Difficulty string
}

type LeaveCommand struct {
	Reason string
}

type PingCommand struct{}

func (JoinCommand) inbound()      {}
func (MoveCommand) inbound()      {}
func (CompleteCommand) inbound()  {}
func (PlayAgainCommand) inbound() {}
func (LeaveCommand) inbound()     {}
func (PingCommand) inbound()      {}

// rawInbound covers the union of all inbound fields; pointers distinguish
// absent from zero.
type rawInbound struct {
	Type           string `json:"type"`
	Row            *int   `json:"row"`
	Col            *int   `json:"col"`
	Value          *int   `json:"value"`
	CompletionTime *int   `json:"completion_time"`
	Difficulty     string `json:"difficulty"`
	Reason         string `json:"reason"`
}

// ParseInbound decodes and schema-validates one client frame.
func ParseInbound(data []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("message must have a 'type' field")
	}

	switch raw.Type {
	case MsgJoinGame:
		return JoinCommand{}, nil

	case MsgMove:
		if raw.Row == nil || raw.Col == nil || raw.Value == nil {
			return nil, fmt.Errorf("move requires row, col and value")
		}
		if *raw.Row < 0 || *raw.Row > 8 || *raw.Col < 0 || *raw.Col > 8 {
			return nil, fmt.Errorf("row and col must be between 0 and 8")
		}
		if *raw.Value < 1 || *raw.Value > 9 {
			return nil, fmt.Errorf("value must be between 1 and 9")
		}
		return MoveCommand{Row: *raw.Row, Col: *raw.Col, Value: *raw.Value}, nil

	case MsgComplete:
		claimed := 0
		if raw.CompletionTime != nil {
			if *raw.CompletionTime < 0 {
				return nil, fmt.Errorf("completion_time must not be negative")
			}
			claimed = *raw.CompletionTime
		}
		return CompleteCommand{ClaimedElapsed: claimed}, nil

	case MsgPlayAgain:
		if raw.Difficulty == "" {
			return nil, fmt.Errorf("play_again requires a difficulty")
		}
		return PlayAgainCommand{Difficulty: raw.Difficulty}, nil

	case MsgLeaveGame:
		return LeaveCommand{Reason: raw.Reason}, nil

	case MsgPing:
		return PingCommand{}, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", raw.Type)
	}
}

// --- outbound payloads ------------------------------------------------

// GameStateMessage is the full per-player snapshot sent on join and
// reconnect. Board is the recipient's own board; OpponentBoard is nil
// until the second seat fills.
type GameStateMessage struct {
	Type          string       `json:"type"`
	Clues         puzzle.Grid  `json:"clues"`
	Board         puzzle.Grid  `json:"board"`
	OpponentBoard *puzzle.Grid `json:"opponent_board"`
	PlayerA       string       `json:"player_a,omitempty"`
	PlayerB       string       `json:"player_b,omitempty"`
	Status        string       `json:"status"`
	StartedAt     *time.Time   `json:"started_at"`
}

type RaceStartedMessage struct {
	Type      string      `json:"type"`
	StartedAt time.Time   `json:"started_at"`
	Clues     puzzle.Grid `json:"clues"`
}

type MoveMadeMessage struct {
	Type       string    `json:"type"`
	PlayerID   uint      `json:"player_id"`
	PlayerName string    `json:"player_name"`
	Row        int       `json:"row"`
	Col        int       `json:"col"`
	Value      int       `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

type RaceFinishedMessage struct {
	Type       string `json:"type"`
	WinnerID   uint   `json:"winner_id"`
	WinnerName string `json:"winner_name"`
	WinnerTime string `json:"winner_time"`
	LoserTime  string `json:"loser_time"`
}

type NotificationMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type NewGameCreatedMessage struct {
	Type       string `json:"type"`
	Code       string `json:"code"`
	Difficulty string `json:"difficulty"`
}

type LeaveConfirmedMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"`
}

func NewNotification(text string) NotificationMessage {
	return NotificationMessage{Type: MsgNotification, Message: text}
}

func NewError(text string) ErrorMessage {
	return ErrorMessage{Type: MsgError, Message: text}
}

// FormatRaceTime renders an elapsed duration as mm:ss for the
// race_finished broadcast.
func FormatRaceTime(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
