package models

import (
	"time"
)

// How a race result came to be.
const (
	OutcomeCompletion = "completion"
	OutcomeForfeit    = "forfeit"
	OutcomeTimeout    = "timeout"
)

// RaceResult records the outcome of a session. The unique index on
// SessionID enforces at most one result per race; once created the row
// is immutable.
type RaceResult struct {
	ID        uint  `json:"id" gorm:"primaryKey"`
	SessionID uint  `json:"session_id" gorm:"uniqueIndex;not null"`
	WinnerID  uint  `json:"winner_id" gorm:"not null"`
	LoserID   *uint `json:"loser_id"`

	// Durations are measured server-side from the session's StartedAt.
	// LoserTime stays nil when the loser did not finish.
	WinnerTime time.Duration  `json:"winner_time"`
	LoserTime  *time.Duration `json:"loser_time"`

	Difficulty string    `json:"difficulty" gorm:"not null"`
	ResultType string    `json:"result_type" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`

	// Relationships
	Session RaceSession `json:"-" gorm:"foreignKey:SessionID"`
	Winner  User        `json:"winner,omitempty"`
}
