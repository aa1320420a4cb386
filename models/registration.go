package models

// RegistrationStatus tracks a player's standing for one fixture
type RegistrationStatus string

const (
	RegistrationStatusRegistered RegistrationStatus = "registered"
	RegistrationStatusSelected   RegistrationStatus = "selected"
	RegistrationStatusReserve    RegistrationStatus = "reserve"
	RegistrationStatusDroppedOut RegistrationStatus = "dropped_out"
)

// SelectionMethod records how a selected player earned the slot
type SelectionMethod string

const (
	SelectionMethodMerit  SelectionMethod = "merit"
	SelectionMethodRandom SelectionMethod = "random"
	SelectionMethodNone   SelectionMethod = "none"
)

// GameRegistration links a player to a fixture. One row per (game, player);
// status transitions are guarded updates, never deletes, so the history of a
// dropout stays visible to the offer waterfall.
type GameRegistration struct {
	ID       string `json:"id" gorm:"primaryKey"`
	GameID   string `json:"game_id" gorm:"not null;uniqueIndex:idx_game_player;index"`
	PlayerID string `json:"player_id" gorm:"not null;uniqueIndex:idx_game_player;index"`

	Status          RegistrationStatus `json:"status" gorm:"type:varchar(16);default:'registered'"`
	SelectionMethod SelectionMethod    `json:"selection_method" gorm:"type:varchar(16);default:'none'"`

	// HasDeclined is permanent for this game: a player who turns down a slot
	// offer is never ranked into the waterfall for the same fixture again.
	HasDeclined bool `json:"has_declined" gorm:"default:false"`

	// DroppedFromSelected marks dropouts that freed an actual slot. Only these
	// count toward the waterfall's available-slot arithmetic.
	DroppedFromSelected bool `json:"dropped_from_selected" gorm:"default:false"`
	Paid                bool `json:"paid" gorm:"default:false"`

	Timestamps

	// Relationships
	Player *Player `json:"player,omitempty" gorm:"foreignKey:PlayerID"`
}
