package models

import (
	"time"

	"gorm.io/gorm"
)

// ShieldRemovalReason explains why a protection episode ended
type ShieldRemovalReason string

const (
	ShieldRemovalConverged  ShieldRemovalReason = "converged"            // natural streak caught up to ceil(protected/2)
	ShieldRemovalBroken     ShieldRemovalReason = "broken"               // absent without spending a shield for that game
	ShieldRemovalSuperseded ShieldRemovalReason = "superseded_by_injury" // injury claim cleared the shield
	ShieldRemovalCancelled  ShieldRemovalReason = "cancelled"            // player cancelled before kickoff, token refunded
)

// ShieldTokenUsage is one spent shield: the specific absence it bridges and
// the streak value frozen at activation. A protection episode may hold
// several active rows when a player shields consecutive absences.
type ShieldTokenUsage struct {
	ID       string `gorm:"primaryKey" json:"id"`
	PlayerID string `gorm:"index;not null" json:"player_id"`
	GameID   string `gorm:"index;not null" json:"game_id"` // the game this shield excuses

	ProtectedStreakValue int                  `json:"protected_streak_value" gorm:"not null"`
	IsActive             bool                 `json:"is_active" gorm:"default:true;index"`
	RemovedAt            *time.Time           `json:"removed_at,omitempty"`
	RemovalReason        *ShieldRemovalReason `json:"removal_reason,omitempty" gorm:"type:varchar(32)"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
