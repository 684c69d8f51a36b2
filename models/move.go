package models

import (
	"time"
)

// Move is an append-only audit record of an accepted placement. It is
// never mutated or deleted; the race outcome does not depend on it, but
// it allows a finished race to be replayed.
type Move struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	SessionID uint      `json:"session_id" gorm:"not null;index"`
	PlayerID  uint      `json:"player_id" gorm:"not null"`
	Row       int       `json:"row" gorm:"not null"`
	Col       int       `json:"col" gorm:"not null"`
	Value     int       `json:"value" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`

	// Relationships
	Session RaceSession `json:"-" gorm:"foreignKey:SessionID"`
	Player  User        `json:"player,omitempty"`
}
