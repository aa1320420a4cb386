package services

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"league-roster-system/models"
	"league-roster-system/utils"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// ArchiveService writes an immutable JSON snapshot of every completed game
// to R2: the final roster, the streak standings after recompute, and the
// protection events the completion settled. League records outlive the
// database this way.
type ArchiveService struct {
	DB *gorm.DB
}

func NewArchiveService(db *gorm.DB) *ArchiveService {
	return &ArchiveService{DB: db}
}

type archivedRegistration struct {
	PlayerID        string `json:"player_id"`
	ExternalUserID  string `json:"external_user_id,omitempty"`
	DisplayName     string `json:"display_name,omitempty"`
	Status          string `json:"status"`
	SelectionMethod string `json:"selection_method"`
	HasDeclined     bool   `json:"has_declined"`
	Paid            bool   `json:"paid"`
}

type archivedStreakLine struct {
	PlayerID    string `json:"player_id"`
	Natural     int    `json:"natural_streak"`
	Bonus       int    `json:"injury_streak_bonus"`
	Current     int    `json:"current_streak"`
	BenchWarmer int    `json:"bench_warmer_streak"`
}

type archiveDocument struct {
	GameID         string                 `json:"game_id"`
	SequenceNumber int                    `json:"sequence_number"`
	Name           string                 `json:"name"`
	Venue          string                 `json:"venue,omitempty"`
	GameDate       time.Time              `json:"game_date"`
	CompletedAt    *time.Time             `json:"completed_at"`
	Registrations  []archivedRegistration `json:"registrations"`
	StreakLines    []archivedStreakLine   `json:"streak_lines"`
	InjuryReturns  []string               `json:"injury_returns,omitempty"`
	ShieldsBroken  []string               `json:"shields_broken,omitempty"`
	ShieldsRetired []string               `json:"shields_retired,omitempty"`
	TokensAccrued  []string               `json:"tokens_accrued,omitempty"`
	OffersVoided   int64                  `json:"offers_voided,omitempty"`
}

// archiveKey is the object name a completed game archives under: date first
// so the bucket lists chronologically, sequence number zero-padded.
func archiveKey(game *models.Game) string {
	return fmt.Sprintf("games/%s-%s-%03d.json",
		game.GameDate.Format("2006-01-02"), slug.Make(game.Name), game.SequenceNumber)
}

// buildArchiveDocument assembles the snapshot from the final roster and the
// events the completion settled.
func buildArchiveDocument(game *models.Game, regs []models.GameRegistration, events *completionEvents) archiveDocument {
	doc := archiveDocument{
		GameID:         game.ID,
		SequenceNumber: game.SequenceNumber,
		Name:           game.Name,
		Venue:          game.Venue,
		GameDate:       game.GameDate,
		CompletedAt:    game.CompletedAt,
		OffersVoided:   events.offersVoided,
		TokensAccrued:  events.tokensAccrued,
	}
	for _, r := range regs {
		ar := archivedRegistration{
			PlayerID:        r.PlayerID,
			Status:          string(r.Status),
			SelectionMethod: string(r.SelectionMethod),
			HasDeclined:     r.HasDeclined,
			Paid:            r.Paid,
		}
		if r.Player != nil {
			ar.ExternalUserID = r.Player.ExternalUserID
			ar.DisplayName = r.Player.DisplayName
		}
		doc.Registrations = append(doc.Registrations, ar)
	}
	for _, l := range events.lines {
		doc.StreakLines = append(doc.StreakLines, archivedStreakLine{
			PlayerID:    l.PlayerID,
			Natural:     l.Natural,
			Bonus:       l.Bonus,
			Current:     l.Current,
			BenchWarmer: l.BenchWarmer,
		})
	}
	for _, e := range events.injuryReturns {
		doc.InjuryReturns = append(doc.InjuryReturns, e.PlayerID)
	}
	for _, e := range events.shieldsBroken {
		doc.ShieldsBroken = append(doc.ShieldsBroken, e.PlayerID)
	}
	for _, e := range events.shieldsConverged {
		doc.ShieldsRetired = append(doc.ShieldsRetired, e.PlayerID)
	}
	return doc
}

// SnapshotCompletion uploads the completion record and returns the object
// key it was stored under.
func (s *ArchiveService) SnapshotCompletion(game *models.Game, events *completionEvents) (string, error) {
	var regs []models.GameRegistration
	if err := s.DB.Preload("Player").Where("game_id = ?", game.ID).Find(&regs).Error; err != nil {
		return "", err
	}

	doc := buildArchiveDocument(game, regs, events)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}

	key := archiveKey(game)
	if err := utils.UploadJSONToR2(key, data); err != nil {
		return "", err
	}

	log.Printf("🗄️ [ARCHIVE] Stored completion snapshot %s (%d bytes)", key, len(data))
	return key, nil
}
