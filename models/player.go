package models

import (
	"time"

	"gorm.io/gorm"
)

// Player is a local snapshot of profile data plus all league attendance state.
// Profile fields are populated by the player sync worker; streak and
// protection fields are owned exclusively by this service.
type Player struct {
	ID             string  `gorm:"primaryKey" json:"id"`
	ExternalUserID string  `gorm:"uniqueIndex;not null" json:"external_user_id"` // the profile service's UUID
	DisplayName    string  `gorm:"index;not null" json:"display_name"`
	Email          string  `json:"email,omitempty"`
	AvatarURL      *string `json:"avatar_url,omitempty"`

	// Attendance streaks (derived — rewritten by every recalculation pass)
	CurrentStreak     int `json:"current_streak" gorm:"default:0"`      // natural streak + injury bonus
	BenchWarmerStreak int `json:"bench_warmer_streak" gorm:"default:0"` // consecutive reserve appearances

	// Merit score cached from the scoring service (used for offer ranking)
	MeritScore float64 `json:"merit_score" gorm:"default:0"`

	// Shield protection
	ShieldTokensAvailable int  `json:"shield_tokens_available" gorm:"default:0"`
	ShieldActive          bool `json:"shield_active" gorm:"default:false"`
	ProtectedStreakValue  *int `json:"protected_streak_value,omitempty"`
	FrozenStreakValue     *int `json:"frozen_streak_value,omitempty"` // display copy of the streak at activation

	// Injury protection
	InjuryTokenActive    bool    `json:"injury_token_active" gorm:"default:false"`
	InjuryOriginalStreak int     `json:"injury_original_streak" gorm:"default:0"`
	InjuryReturnStreak   int     `json:"injury_return_streak" gorm:"default:0"`
	InjuryGameID         *string `json:"injury_game_id,omitempty"`
	InjuryStreakBonus    int     `json:"injury_streak_bonus" gorm:"default:0"` // persists until natural streak hits 0

	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// NaturalStreak is the shield/injury-free attendance count. CurrentStreak
// always equals natural + InjuryStreakBonus, so this never goes negative.
func (p *Player) NaturalStreak() int {
	n := p.CurrentStreak - p.InjuryStreakBonus
	if n < 0 {
		return 0
	}
	return n
}
