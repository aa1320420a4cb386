package models

import (
	"time"
)

// GameStatus is the lifecycle state of a fixture
type GameStatus string

const (
	GameStatusUpcoming       GameStatus = "upcoming"
	GameStatusTeamsAnnounced GameStatus = "teams_announced"
	GameStatusCompleted      GameStatus = "completed"
)

// Game represents one fixture in the league calendar. SequenceNumber is the
// global ordering every streak walk runs over — gaps are fine, reordering is not.
type Game struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	SequenceNumber int        `json:"sequence_number" gorm:"uniqueIndex;not null"`
	Name           string     `json:"name" gorm:"not null"`
	GameDate       time.Time  `json:"game_date" gorm:"not null;index"`
	Status         GameStatus `json:"status" gorm:"type:varchar(24);default:'upcoming'"`
	MaxPlayers     int        `json:"max_players" gorm:"default:10"`
	Venue          string     `json:"venue,omitempty"`

	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	FirstDropoutAt *time.Time `json:"first_dropout_at,omitempty"` // set once; anchors offer waterfall timing
	ArchiveKey     *string    `json:"archive_key,omitempty"`      // R2 object key of the completion snapshot

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Registrations []GameRegistration `json:"registrations,omitempty" gorm:"foreignKey:GameID"`

	// Calculated fields (not stored in DB)
	SelectedCount int64 `json:"selected_count,omitempty" gorm:"-"`
	ReserveCount  int64 `json:"reserve_count,omitempty" gorm:"-"`
	DropoutCount  int64 `json:"dropout_count,omitempty" gorm:"-"`
}

// MiniGame is a brief fixture summary for list views
type MiniGame struct {
	ID             string     `json:"id"`
	SequenceNumber int        `json:"sequence_number"`
	Name           string     `json:"name"`
	GameDate       time.Time  `json:"game_date"`
	Status         GameStatus `json:"status"`
	MaxPlayers     int        `json:"max_players"`
	Venue          string     `json:"venue,omitempty"`
}
