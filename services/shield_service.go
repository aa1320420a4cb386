package services

import (
	"errors"
	"fmt"
	"log"

	"league-roster-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// ShieldService implements streak protection: spending a token freezes the
// player's effective streak at activation, and the frozen value decays toward
// the natural count until the two converge. A shield only bridges the
// specific absences it was spent for.
type ShieldService struct {
	DB       *gorm.DB
	Clock    clockwork.Clock
	TokenCap int

	Offers *OfferService
	Notify Notifier
}

func NewShieldService(db *gorm.DB, clock clockwork.Clock, tokenCap int, offers *OfferService, notify Notifier) *ShieldService {
	return &ShieldService{DB: db, Clock: clock, TokenCap: tokenCap, Offers: offers, Notify: notify}
}

// SpendShield burns one token to protect the caller's streak across a
// specific upcoming game. Re-activating on top of an existing shield re-bases
// the protected value to max(natural, protected − natural).
func (s *ShieldService) SpendShield(playerID, gameID string) (*ActionResult, error) {
	var game models.Game
	result := resultOK("shield activated")
	wasSelected := false
	var protectedValue int

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// Fresh read inside the transaction: a completion can land while
		// the spend is in flight.
		if err := tx.First(&game, "id = ?", gameID).Error; err != nil {
			return err
		}
		if game.Status == models.GameStatusCompleted {
			result = resultFail("cannot spend a shield on a completed game")
			return nil
		}

		var p models.Player
		if err := tx.First(&p, "id = ?", playerID).Error; err != nil {
			return err
		}

		// One shield per absence: a second spend for the same game is a no-op.
		var dup int64
		if err := tx.Model(&models.ShieldTokenUsage{}).
			Where("player_id = ? AND game_id = ? AND is_active = ?", playerID, gameID, true).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			result = resultFail("a shield is already active for this game")
			return nil
		}

		natural := p.NaturalStreak()
		if p.ShieldActive && p.ProtectedStreakValue != nil {
			protectedValue = *p.ProtectedStreakValue - natural
			if natural > protectedValue {
				protectedValue = natural
			}
		} else {
			protectedValue = EffectiveStreak(&p)
		}
		if protectedValue <= 0 {
			result = resultFail("no streak to protect")
			return nil
		}

		// Guarded decrement — the token balance is re-checked inside the
		// statement, so concurrent spends cannot drive it below zero.
		dec := tx.Model(&models.Player{}).
			Where("id = ? AND shield_tokens_available > 0", playerID).
			Update("shield_tokens_available", gorm.Expr("shield_tokens_available - 1"))
		if dec.Error != nil {
			return dec.Error
		}
		if dec.RowsAffected == 0 {
			result = resultFail("no shield tokens available")
			return errAbortTx
		}

		// Shield and injury token are never active together: activating one
		// constructively clears the other.
		if p.InjuryTokenActive {
			if err := clearInjuryTokenTx(tx, s.Clock, playerID, "superseded_by_shield"); err != nil {
				return err
			}
			log.Printf("🛡️ [SHIELD] Active injury token cleared for player %s (superseded by shield)", playerID)
		}

		if err := tx.Model(&models.Player{}).Where("id = ?", playerID).Updates(map[string]interface{}{
			"shield_active":          true,
			"protected_streak_value": protectedValue,
			"frozen_streak_value":    protectedValue,
		}).Error; err != nil {
			return err
		}

		usage := models.ShieldTokenUsage{
			ID:                   uuid.NewString(),
			PlayerID:             playerID,
			GameID:               gameID,
			ProtectedStreakValue: protectedValue,
			IsActive:             true,
		}
		if err := tx.Create(&usage).Error; err != nil {
			return err
		}

		// A selected player shielding out of a game frees a slot — same path
		// as a plain dropout.
		var reg models.GameRegistration
		err := tx.Where("game_id = ? AND player_id = ?", gameID, playerID).First(&reg).Error
		if err == nil && reg.Status == models.RegistrationStatusSelected {
			dropped, dropRes, dropErr := dropRegistrationTx(tx, s.Clock, &game, playerID)
			if dropErr != nil {
				return dropErr
			}
			if dropRes != nil && !dropRes.Success {
				result = dropRes
				return errAbortTx
			}
			wasSelected = dropped
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		return nil
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

	log.Printf("🛡️ [SHIELD] Player %s activated shield for game %d (protected streak %d)",
		playerID, game.SequenceNumber, protectedValue)
	s.notifyPlayer(playerID, "shield_activated",
		fmt.Sprintf("Your streak of %d is protected for %s", protectedValue, game.Name))

	if wasSelected {
		if _, err := s.Offers.RunWaterfall(gameID); err != nil {
			log.Printf("⚠️ [SHIELD] Waterfall after shield activation failed for game %s: %v", gameID, err)
		}
	}
	return result, nil
}

// CancelShield lets a player withdraw an unused shield before the game is
// played. The token is refunded (capped); protection stays up while other
// active usages remain.
func (s *ShieldService) CancelShield(playerID, gameID string) (*ActionResult, error) {
	var game models.Game
	result := resultOK("shield cancelled, token refunded")
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// Same fresh read as SpendShield: no refund once the game settled.
		if err := tx.First(&game, "id = ?", gameID).Error; err != nil {
			return err
		}
		if game.Status == models.GameStatusCompleted {
			result = resultFail("game already completed")
			return nil
		}

		now := s.Clock.Now()
		upd := tx.Model(&models.ShieldTokenUsage{}).
			Where("player_id = ? AND game_id = ? AND is_active = ?", playerID, gameID, true).
			Updates(map[string]interface{}{
				"is_active":      false,
				"removed_at":     now,
				"removal_reason": models.ShieldRemovalCancelled,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			result = resultFail("no active shield for this game")
			return nil
		}

		// Refund, never past the cap.
		if err := tx.Model(&models.Player{}).
			Where("id = ? AND shield_tokens_available < ?", playerID, s.TokenCap).
			Update("shield_tokens_available", gorm.Expr("shield_tokens_available + 1")).Error; err != nil {
			return err
		}

		var remaining int64
		if err := tx.Model(&models.ShieldTokenUsage{}).
			Where("player_id = ? AND is_active = ?", playerID, true).
			Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			if err := clearPlayerProtectionTx(tx, playerID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Success {
		log.Printf("🛡️ [SHIELD] Player %s cancelled shield for game %d", playerID, game.SequenceNumber)
	}
	return result, nil
}

// processGameShields runs once per completed game, after injury returns and
// before the base recompute. Breakage first: an absence without a shield
// spent for this exact game revokes the protection. Then convergence: the
// shield comes off as soon as the fresh natural count reaches
// ceil(protected/2).
func (s *ShieldService) processGameShields(tx *gorm.DB, game *models.Game, book *attendanceBook, events *completionEvents) error {
	var shielded []models.Player
	if err := tx.Where("shield_active = ?", true).Find(&shielded).Error; err != nil {
		return fmt.Errorf("load shielded players: %w", err)
	}

	for i := range shielded {
		p := &shielded[i]
		if p.ProtectedStreakValue == nil {
			// Drifted row — active flag without a value. Clear it.
			log.Printf("⚠️ [SHIELD] Player %s has shield_active without protected value, clearing", p.ID)
			if err := clearPlayerProtectionTx(tx, p.ID); err != nil {
				return err
			}
			continue
		}
		protected := *p.ProtectedStreakValue
		natural := book.naturalStreak(p.ID)

		if book.statusOf(p.ID, game.ID) != models.RegistrationStatusSelected {
			var spent int64
			if err := tx.Model(&models.ShieldTokenUsage{}).
				Where("player_id = ? AND game_id = ? AND is_active = ?", p.ID, game.ID, true).
				Count(&spent).Error; err != nil {
				return err
			}
			if spent == 0 {
				if err := closeProtectionTx(tx, s.Clock, p.ID, models.ShieldRemovalBroken); err != nil {
					return err
				}
				events.shieldsBroken = append(events.shieldsBroken, shieldEvent{PlayerID: p.ID, Protected: protected})
				log.Printf("🛡️ [SHIELD] Broken for player %s — absent from game %d without spending a shield",
					p.ID, game.SequenceNumber)
				continue
			}
			// Absence bridged by a spent shield; protection holds.
		}

		if natural >= ceilHalf(protected) {
			if err := closeProtectionTx(tx, s.Clock, p.ID, models.ShieldRemovalConverged); err != nil {
				return err
			}
			events.shieldsConverged = append(events.shieldsConverged, shieldEvent{PlayerID: p.ID, Protected: protected})
			log.Printf("🛡️ [SHIELD] Converged for player %s — natural streak %d caught protected %d",
				p.ID, natural, protected)
		}
	}
	return nil
}

// closeProtectionTx ends a protection episode: every active usage row is
// closed with the reason and the player's shield fields are cleared.
func closeProtectionTx(tx *gorm.DB, clock clockwork.Clock, playerID string, reason models.ShieldRemovalReason) error {
	now := clock.Now()
	if err := tx.Model(&models.ShieldTokenUsage{}).
		Where("player_id = ? AND is_active = ?", playerID, true).
		Updates(map[string]interface{}{
			"is_active":      false,
			"removed_at":     now,
			"removal_reason": reason,
		}).Error; err != nil {
		return err
	}
	return clearPlayerProtectionTx(tx, playerID)
}

func clearPlayerProtectionTx(tx *gorm.DB, playerID string) error {
	return tx.Model(&models.Player{}).Where("id = ?", playerID).Updates(map[string]interface{}{
		"shield_active":          false,
		"protected_streak_value": nil,
		"frozen_streak_value":    nil,
	}).Error
}

func (s *ShieldService) notifyPlayer(playerID, event, message string) {
	var p models.Player
	if err := s.DB.Select("external_user_id").First(&p, "id = ?", playerID).Error; err != nil {
		log.Printf("⚠️ [SHIELD] Cannot notify player %s: %v", playerID, err)
		return
	}
	notifyQuietly(s.Notify, p.ExternalUserID, event, message, nil)
}

// errAbortTx forces a rollback when an expected rule violation is detected
// mid-transaction; the caller returns the structured result instead.
var errAbortTx = errors.New("transaction aborted by rule check")

// ---- HTTP endpoints ----

func (s *ShieldService) SpendShieldEndpoint(c *fiber.Ctx) error {
	player, err := currentPlayer(c, s.DB)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Player not found"})
	}
	res, err := s.SpendShield(player.ID, c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Game not found"})
		}
		log.Printf("⚠️ [SHIELD] Activation failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to activate shield"})
	}
	return respondResult(c, res)
}

func (s *ShieldService) CancelShieldEndpoint(c *fiber.Ctx) error {
	player, err := currentPlayer(c, s.DB)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Player not found"})
	}
	res, err := s.CancelShield(player.ID, c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Game not found"})
		}
		log.Printf("⚠️ [SHIELD] Cancellation failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to cancel shield"})
	}
	return respondResult(c, res)
}

// GetShieldStatusEndpoint returns the caller's token balance and protection
// state, with the usage rows behind it.
func (s *ShieldService) GetShieldStatusEndpoint(c *fiber.Ctx) error {
	player, err := currentPlayer(c, s.DB)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Player not found"})
	}
	var usages []models.ShieldTokenUsage
	if err := s.DB.Where("player_id = ?", player.ID).
		Order("created_at DESC").Limit(20).Find(&usages).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch shield history"})
	}
	return c.JSON(fiber.Map{
		"tokens_available":       player.ShieldTokensAvailable,
		"shield_active":          player.ShieldActive,
		"protected_streak_value": player.ProtectedStreakValue,
		"effective_streak":       EffectiveStreak(player),
		"usages":                 usages,
	})
}
