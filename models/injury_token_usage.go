package models

import (
	"time"
)

// InjuryTokenStatus is the lifecycle of one claim
type InjuryTokenStatus string

const (
	InjuryTokenActive   InjuryTokenStatus = "active"   // claimed, waiting for the player's comeback game
	InjuryTokenReturned InjuryTokenStatus = "returned" // bonus written, token consumed
	InjuryTokenDenied   InjuryTokenStatus = "denied"   // admin rejected the claim
	InjuryTokenExpired  InjuryTokenStatus = "expired"  // player never came back within the window
)

// InjuryTokenUsage records one injury claim: the streak preserved at claim
// time and the half-value the player returns on. At most one active row per
// player; at most one claim ever per (player, game).
type InjuryTokenUsage struct {
	ID       string `gorm:"primaryKey" json:"id"`
	PlayerID string `gorm:"index;not null;uniqueIndex:idx_injury_player_game" json:"player_id"`
	GameID   string `gorm:"index;not null;uniqueIndex:idx_injury_player_game" json:"game_id"` // the completed game the injury happened in

	OriginalStreak int               `json:"original_streak" gorm:"not null"` // effective streak at claim (shield-aware)
	ReturnStreak   int               `json:"return_streak" gorm:"not null"`  // ceil(original/2)
	Status         InjuryTokenStatus `json:"status" gorm:"type:varchar(16);default:'active';index"`

	ReturnGameID *string    `json:"return_game_id,omitempty"` // the completed game that triggered the return
	DenialReason *string    `json:"denial_reason,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`

	Timestamps
}
