package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"league-roster-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// InjuryService implements injury tokens: a player hurt in a game they were
// selected for banks half their effective streak and gets it back as a bonus
// when their comeback game completes.
type InjuryService struct {
	DB          *gorm.DB
	Clock       clockwork.Clock
	ClaimWindow time.Duration // how long after the game a claim stays open
	ClaimMaxAge time.Duration // active tokens older than this expire via sweep

	Notify Notifier
}

func NewInjuryService(db *gorm.DB, clock clockwork.Clock, window, maxAge time.Duration, notify Notifier) *InjuryService {
	return &InjuryService{DB: db, Clock: clock, ClaimWindow: window, ClaimMaxAge: maxAge, Notify: notify}
}

// ClaimInjury activates an injury token for the game the player got hurt in.
// adminOverride bypasses the claim window — and nothing else: the hard
// eligibility rules hold for admins too.
func (s *InjuryService) ClaimInjury(playerID, gameID string, adminOverride bool) (*ActionResult, error) {
	var game models.Game
	if err := s.DB.First(&game, "id = ?", gameID).Error; err != nil {
		return nil, err
	}

	result := resultOK("injury token activated")
	var originalStreak, returnStreak int

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if game.Status != models.GameStatusCompleted {
			result = resultFail("injury claims require a completed game")
			return nil
		}

		var reg models.GameRegistration
		err := tx.Where("game_id = ? AND player_id = ?", gameID, playerID).First(&reg).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && reg.Status != models.RegistrationStatusSelected) {
			result = resultFail("player was not selected for this game")
			return nil
		}
		if err != nil {
			return err
		}

		var prior int64
		if err := tx.Model(&models.InjuryTokenUsage{}).
			Where("player_id = ? AND game_id = ?", playerID, gameID).
			Count(&prior).Error; err != nil {
			return err
		}
		if prior > 0 {
			result = resultFail("an injury claim already exists for this game")
			return nil
		}

		var p models.Player
		if err := tx.First(&p, "id = ?", playerID).Error; err != nil {
			return err
		}
		if p.InjuryTokenActive {
			result = resultFail("an injury token is already active")
			return nil
		}

		if !adminOverride {
			playedAt := game.GameDate
			if game.CompletedAt != nil {
				playedAt = *game.CompletedAt
			}
			if s.Clock.Now().After(playedAt.Add(s.ClaimWindow)) {
				result = resultFail("the claim window for this game has closed")
				return nil
			}
		}

		// The streak preserved is the shield-aware effective value; the
		// shield itself is consumed by the claim.
		originalStreak = EffectiveStreak(&p)
		returnStreak = ceilHalf(originalStreak)

		if p.ShieldActive {
			if err := closeProtectionTx(tx, s.Clock, playerID, models.ShieldRemovalSuperseded); err != nil {
				return err
			}
			log.Printf("🚑 [INJURY] Shield superseded by injury claim for player %s (protected %v)",
				playerID, p.ProtectedStreakValue)
		}

		// Precondition re-checked inside the statement: two concurrent claims
		// cannot both flip the flag.
		upd := tx.Model(&models.Player{}).
			Where("id = ? AND injury_token_active = ?", playerID, false).
			Updates(map[string]interface{}{
				"injury_token_active":    true,
				"injury_original_streak": originalStreak,
				"injury_return_streak":   returnStreak,
				"injury_game_id":         gameID,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			result = resultFail("an injury token is already active")
			return errAbortTx
		}

		usage := models.InjuryTokenUsage{
			ID:             uuid.NewString(),
			PlayerID:       playerID,
			GameID:         gameID,
			OriginalStreak: originalStreak,
			ReturnStreak:   returnStreak,
			Status:         models.InjuryTokenActive,
		}
		return tx.Create(&usage).Error
	})
	if err != nil {
		if errors.Is(err, errAbortTx) {
			return result, nil
		}
		return nil, err
	}
	if !result.Success {
		return result, nil
	}

	log.Printf("🚑 [INJURY] Player %s claimed injury for game %d (streak %d preserved, returns at %d)",
		playerID, game.SequenceNumber, originalStreak, returnStreak)
	s.notifyPlayer(playerID, "injury_claimed",
		fmt.Sprintf("Injury token active: you will return on a streak of %d", returnStreak))
	return result, nil
}

// DenyInjury clears a pending token without touching streaks. Admin only.
func (s *InjuryService) DenyInjury(playerID, reason string) (*ActionResult, error) {
	result := resultOK("injury claim denied")
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		now := s.Clock.Now()
		upd := tx.Model(&models.InjuryTokenUsage{}).
			Where("player_id = ? AND status = ?", playerID, models.InjuryTokenActive).
			Updates(map[string]interface{}{
				"status":        models.InjuryTokenDenied,
				"denial_reason": reason,
				"resolved_at":   now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			result = resultFail("no pending injury token for this player")
			return nil
		}
		return clearPlayerInjuryFieldsTx(tx, playerID)
	})
	if err != nil {
		return nil, err
	}
	if result.Success {
		log.Printf("🚑 [INJURY] Claim denied for player %s: %s", playerID, reason)
		s.notifyPlayer(playerID, "injury_denied", fmt.Sprintf("Your injury claim was denied: %s", reason))
	}
	return result, nil
}

// processInjuryReturns is the first orchestration step on game completion:
// every player with an active token who was selected for this game — and the
// game lies after their claim game — gets the banked bonus written before the
// recompute runs, so the pass carries it on top of the fresh natural count.
func (s *InjuryService) processInjuryReturns(tx *gorm.DB, game *models.Game, book *attendanceBook, events *completionEvents) error {
	var injured []models.Player
	if err := tx.Where("injury_token_active = ?", true).Find(&injured).Error; err != nil {
		return fmt.Errorf("load injured players: %w", err)
	}

	for i := range injured {
		p := &injured[i]
		if book.statusOf(p.ID, game.ID) != models.RegistrationStatusSelected {
			continue
		}
		if p.InjuryGameID != nil {
			var claimSeq int
			err := tx.Model(&models.Game{}).
				Select("sequence_number").
				Where("id = ?", *p.InjuryGameID).
				Scan(&claimSeq).Error
			if err != nil {
				return err
			}
			if game.SequenceNumber <= claimSeq {
				continue
			}
		}

		bonus := p.InjuryReturnStreak
		upd := tx.Model(&models.Player{}).
			Where("id = ? AND injury_token_active = ?", p.ID, true).
			Updates(map[string]interface{}{
				"injury_streak_bonus":    bonus,
				"injury_token_active":    false,
				"injury_original_streak": 0,
				"injury_return_streak":   0,
				"injury_game_id":         nil,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			continue
		}

		now := s.Clock.Now()
		if err := tx.Model(&models.InjuryTokenUsage{}).
			Where("player_id = ? AND status = ?", p.ID, models.InjuryTokenActive).
			Updates(map[string]interface{}{
				"status":         models.InjuryTokenReturned,
				"return_game_id": game.ID,
				"resolved_at":    now,
			}).Error; err != nil {
			return err
		}

		events.injuryReturns = append(events.injuryReturns, injuryReturnEvent{PlayerID: p.ID, Bonus: bonus})
		log.Printf("🚑 [INJURY] Player %s returned in game %d with streak bonus %d",
			p.ID, game.SequenceNumber, bonus)
	}
	return nil
}

// ExpireStaleClaims closes active tokens whose player never came back within
// ClaimMaxAge. Streaks are untouched — the bonus was never written.
func (s *InjuryService) ExpireStaleClaims() (int, error) {
	cutoff := s.Clock.Now().Add(-s.ClaimMaxAge)
	var stale []models.InjuryTokenUsage
	if err := s.DB.Where("status = ? AND created_at < ?", models.InjuryTokenActive, cutoff).
		Find(&stale).Error; err != nil {
		return 0, err
	}

	expired := 0
	for _, usage := range stale {
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			now := s.Clock.Now()
			upd := tx.Model(&models.InjuryTokenUsage{}).
				Where("id = ? AND status = ?", usage.ID, models.InjuryTokenActive).
				Updates(map[string]interface{}{
					"status":      models.InjuryTokenExpired,
					"resolved_at": now,
				})
			if upd.Error != nil {
				return upd.Error
			}
			if upd.RowsAffected == 0 {
				return nil
			}
			expired++
			return clearPlayerInjuryFieldsTx(tx, usage.PlayerID)
		})
		if err != nil {
			log.Printf("⚠️ [INJURY] Failed to expire claim %s: %v", usage.ID, err)
		}
	}
	if expired > 0 {
		log.Printf("🚑 [INJURY] Expired %d stale claim(s) older than %s", expired, s.ClaimMaxAge)
	}
	return expired, nil
}

// clearInjuryTokenTx voids an active token when a shield activation
// supersedes it.
func clearInjuryTokenTx(tx *gorm.DB, clock clockwork.Clock, playerID, reason string) error {
	now := clock.Now()
	if err := tx.Model(&models.InjuryTokenUsage{}).
		Where("player_id = ? AND status = ?", playerID, models.InjuryTokenActive).
		Updates(map[string]interface{}{
			"status":        models.InjuryTokenDenied,
			"denial_reason": reason,
			"resolved_at":   now,
		}).Error; err != nil {
		return err
	}
	return clearPlayerInjuryFieldsTx(tx, playerID)
}

func clearPlayerInjuryFieldsTx(tx *gorm.DB, playerID string) error {
	return tx.Model(&models.Player{}).Where("id = ?", playerID).Updates(map[string]interface{}{
		"injury_token_active":    false,
		"injury_original_streak": 0,
		"injury_return_streak":   0,
		"injury_game_id":         nil,
	}).Error
}

func (s *InjuryService) notifyPlayer(playerID, event, message string) {
	var p models.Player
	if err := s.DB.Select("external_user_id").First(&p, "id = ?", playerID).Error; err != nil {
		log.Printf("⚠️ [INJURY] Cannot notify player %s: %v", playerID, err)
		return
	}
	notifyQuietly(s.Notify, p.ExternalUserID, event, message, nil)
}

// ---- HTTP endpoints ----

// ClaimInjuryEndpoint records an injury claim for the game in the path. An
// admin can claim on another player's behalf by sending player_id; admin
// callers also skip the claim window.
func (s *InjuryService) ClaimInjuryEndpoint(c *fiber.Ctx) error {
	player, err := currentPlayer(c, s.DB)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Player not found"})
	}

	isAdmin := adminCaller(c)
	playerID := player.ID
	var req struct {
		PlayerID string `json:"player_id"`
	}
	if err := c.BodyParser(&req); err == nil && req.PlayerID != "" && isAdmin {
		playerID = req.PlayerID
	}

	res, err := s.ClaimInjury(playerID, c.Params("id"), isAdmin)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Game or player not found"})
		}
		log.Printf("⚠️ [INJURY] Claim failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to claim injury token"})
	}
	return respondResult(c, res)
}

// DenyInjuryEndpoint is the admin review path for bogus claims.
func (s *InjuryService) DenyInjuryEndpoint(c *fiber.Ctx) error {
	var req struct {
		PlayerID string `json:"player_id"`
		Reason   string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil || req.PlayerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "player_id is required"})
	}
	if req.Reason == "" {
		req.Reason = "denied by admin"
	}

	res, err := s.DenyInjury(req.PlayerID, req.Reason)
	if err != nil {
		log.Printf("⚠️ [INJURY] Denial failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to deny injury token"})
	}
	return respondResult(c, res)
}

// GetInjuryStatusEndpoint returns the caller's injury token state and claim
// history.
func (s *InjuryService) GetInjuryStatusEndpoint(c *fiber.Ctx) error {
	player, err := currentPlayer(c, s.DB)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Player not found"})
	}
	var usages []models.InjuryTokenUsage
	if err := s.DB.Where("player_id = ?", player.ID).
		Order("created_at DESC").Limit(20).Find(&usages).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch injury history"})
	}
	return c.JSON(fiber.Map{
		"injury_token_active":    player.InjuryTokenActive,
		"injury_original_streak": player.InjuryOriginalStreak,
		"injury_return_streak":   player.InjuryReturnStreak,
		"injury_streak_bonus":    player.InjuryStreakBonus,
		"injury_game_id":         player.InjuryGameID,
		"usages":                 usages,
	})
}
