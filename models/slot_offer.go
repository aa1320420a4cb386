package models

import (
	"time"
)

// SlotOfferStatus — forward-only; a row never leaves a terminal state
type SlotOfferStatus string

const (
	SlotOfferPending  SlotOfferStatus = "pending"
	SlotOfferAccepted SlotOfferStatus = "accepted"
	SlotOfferDeclined SlotOfferStatus = "declined"
	SlotOfferExpired  SlotOfferStatus = "expired"
	SlotOfferVoided   SlotOfferStatus = "voided"
)

// SlotOffer is one invitation to fill a freed slot. At most one pending offer
// per (game, player) at any instant; expired and voided rows do not block a
// later re-offer, a decline does (via GameRegistration.HasDeclined).
type SlotOffer struct {
	ID       string `gorm:"primaryKey" json:"id"`
	GameID   string `gorm:"index;not null" json:"game_id"`
	PlayerID string `gorm:"index;not null" json:"player_id"`

	Status SlotOfferStatus `json:"status" gorm:"type:varchar(16);default:'pending';index"`

	// Snapshot of the ranking inputs the moment the offer went out
	RankAtOffer       int     `json:"rank_at_offer" gorm:"default:0"`
	MeritScoreAtOffer float64 `json:"merit_score_at_offer" gorm:"default:0"`

	OfferedAt   time.Time  `json:"offered_at" gorm:"not null"`
	ExpiresAt   time.Time  `json:"expires_at" gorm:"not null"` // advisory; the sweep enforces it
	RespondedAt *time.Time `json:"responded_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Player *Player `json:"player,omitempty" gorm:"foreignKey:PlayerID"`
	Game   *Game   `json:"game,omitempty" gorm:"foreignKey:GameID"`
}
