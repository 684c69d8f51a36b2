package models

import (
	"time"

	"gorm.io/gorm"

	"sudokurace/puzzle"
)

// Race session statuses. Finished and abandoned are terminal.
const (
	StatusWaiting    = "waiting"
	StatusReady      = "ready"
	StatusInProgress = "in_progress"
	StatusFinished   = "finished"
	StatusAbandoned  = "abandoned"
)

// RaceSession is one head-to-head match. Both players solve copies of the
// same puzzle on independent boards; clue cells stay immutable for the
// whole race. Rows are never deleted by the game core.
type RaceSession struct {
	ID        uint        `json:"id" gorm:"primaryKey"`
	Code      string      `json:"code" gorm:"uniqueIndex;not null"`
	PlayerAID *uint       `json:"player_a_id"`
	PlayerBID *uint       `json:"player_b_id"`
	Clues     puzzle.Grid `json:"clues" gorm:"serializer:json"`
	Solution  puzzle.Grid `json:"-" gorm:"serializer:json"`
	BoardA    puzzle.Grid `json:"-" gorm:"serializer:json"`
	BoardB    puzzle.Grid `json:"-" gorm:"serializer:json"`

	Difficulty string         `json:"difficulty" gorm:"not null;default:'medium'"`
	Status     string         `json:"status" gorm:"not null;default:'waiting'"`
	StartedAt  *time.Time     `json:"started_at"`
	EndedAt    *time.Time     `json:"ended_at"`
	WinnerID   *uint          `json:"winner_id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	PlayerA *User       `json:"player_a,omitempty" gorm:"foreignKey:PlayerAID"`
	PlayerB *User       `json:"player_b,omitempty" gorm:"foreignKey:PlayerBID"`
	Moves   []Move      `json:"moves,omitempty" gorm:"foreignKey:SessionID"`
	Result  *RaceResult `json:"result,omitempty" gorm:"foreignKey:SessionID"`
}

// HasPlayer reports whether the given user occupies either seat.
func (s *RaceSession) HasPlayer(userID uint) bool {
	return (s.PlayerAID != nil && *s.PlayerAID == userID) ||
		(s.PlayerBID != nil && *s.PlayerBID == userID)
}

// BoardFor returns a pointer to the player's own board, or nil if the
// user is not seated in this session.
func (s *RaceSession) BoardFor(userID uint) *puzzle.Grid {
	if s.PlayerAID != nil && *s.PlayerAID == userID {
		return &s.BoardA
	}
	if s.PlayerBID != nil && *s.PlayerBID == userID {
		return &s.BoardB
	}
	return nil
}

// OpponentID returns the other seat's user id, if that seat is filled.
func (s *RaceSession) OpponentID(userID uint) *uint {
	if s.PlayerAID != nil && *s.PlayerAID == userID {
		return s.PlayerBID
	}
	if s.PlayerBID != nil && *s.PlayerBID == userID {
		return s.PlayerAID
	}
	return nil
}

// Terminal reports whether the session reached a state no transition
// leaves.
func (s *RaceSession) Terminal() bool {
	return s.Status == StatusFinished || s.Status == StatusAbandoned
}
