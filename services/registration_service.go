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

// RegistrationService handles signup, team announcement and dropouts.
type RegistrationService struct {
	DB    *gorm.DB
	Clock clockwork.Clock

	Offers *OfferService
	Notify Notifier
}

func NewRegistrationService(db *gorm.DB, clock clockwork.Clock, offers *OfferService, notify Notifier) *RegistrationService {
	return &RegistrationService{DB: db, Clock: clock, Offers: offers, Notify: notify}
}

// Register signs a player up for a game. Before teams are announced the
// registration sits in the open pool; after the announcement late joiners
// go straight onto the reserve list.
func (s *RegistrationService) Register(playerID, gameID string) (*ActionResult, error) {
	var player models.Player
	if err := s.DB.First(&player, "id = ?", playerID).Error; err != nil {
		return nil, err
	}

	var game models.Game
	status := models.RegistrationStatusRegistered
	result := resultOK("registered")
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// Fresh read inside the transaction: the announcement or the final
		// whistle can land while the request is in flight.
		if err := tx.First(&game, "id = ?", gameID).Error; err != nil {
			return err
		}
		switch game.Status {
		case models.GameStatusCompleted:
			result = resultFail("registration closed — game already completed")
			return errAbortTx
		case models.GameStatusTeamsAnnounced:
			status = models.RegistrationStatusReserve
		}

		var existing int64
		if err := tx.Model(&models.GameRegistration{}).
			Where("game_id = ? AND player_id = ?", gameID, playerID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			result = resultFail("already registered for this game")
			return errAbortTx
		}

		result = resultOK("registered for " + game.Name)
		reg := models.GameRegistration{
			ID:              uuid.NewString(),
			GameID:          gameID,
			PlayerID:        playerID,
			Status:          status,
			SelectionMethod: models.SelectionMethodNone,
		}
		return tx.Create(&reg).Error
	})
	if err != nil {
		if errors.Is(err, errAbortTx) {
			return result, nil
		}
		return nil, err
	}

	log.Printf("📝 [REGISTRATION] Player %s registered for game %d as %s", playerID, game.SequenceNumber, status)
	return result, nil
}

// AnnounceTeams locks the lineup: the top MaxPlayers registrations by merit
// become selected, everyone else moves to the reserve list.
func (s *RegistrationService) AnnounceTeams(gameID string) (*ActionResult, error) {
	var game models.Game
	if err := s.DB.First(&game, "id = ?", gameID).Error; err != nil {
		return nil, err
	}

	result := resultOK("teams announced")
	var selected, reserves []models.GameRegistration
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&models.Game{}).
			Where("id = ? AND status = ?", gameID, models.GameStatusUpcoming).
			Update("status", models.GameStatusTeamsAnnounced)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			result = resultFail("teams already announced for this game")
			return errAbortTx
		}

		var regs []models.GameRegistration
		if err := tx.Preload("Player").
			Where("game_id = ? AND status = ?", gameID, models.RegistrationStatusRegistered).
			Find(&regs).Error; err != nil {
			return err
		}
		rankReserves(regs)

		cut := game.MaxPlayers
		if cut > len(regs) {
			cut = len(regs)
		}
		selected, reserves = regs[:cut], regs[cut:]

		for _, r := range selected {
			if err := tx.Model(&models.GameRegistration{}).Where("id = ?", r.ID).
				Updates(map[string]interface{}{
					"status":           models.RegistrationStatusSelected,
					"selection_method": models.SelectionMethodMerit,
				}).Error; err != nil {
				return err
			}
		}
		for _, r := range reserves {
			if err := tx.Model(&models.GameRegistration{}).Where("id = ?", r.ID).
				Update("status", models.RegistrationStatusReserve).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errAbortTx) {
			return result, nil
		}
		return nil, err
	}

	log.Printf("📝 [REGISTRATION] Teams announced for game %d: %d selected, %d reserve",
		game.SequenceNumber, len(selected), len(reserves))
	for _, r := range selected {
		if r.Player != nil {
			notifyQuietly(s.Notify, r.Player.ExternalUserID, "selected_for_game",
				fmt.Sprintf("You made the team for %s", game.Name), nil)
		}
	}
	for _, r := range reserves {
		if r.Player != nil {
			notifyQuietly(s.Notify, r.Player.ExternalUserID, "on_reserve_list",
				fmt.Sprintf("You are on the reserve list for %s", game.Name), nil)
		}
	}
	return result, nil
}

// DropOut withdraws a player from a game. A selected player leaving frees a
// slot and kicks off the offer waterfall; a reserve leaving just exits the
// line and any live offer they held is voided.
func (s *RegistrationService) DropOut(playerID, gameID string) (*ActionResult, error) {
	var game models.Game
	result := resultOK("dropped out")
	wasSelected := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// Fresh read inside the transaction: a completion can land while
		// the request is in flight.
		if err := tx.First(&game, "id = ?", gameID).Error; err != nil {
			return err
		}
		if game.Status == models.GameStatusCompleted {
			result = resultFail("game already completed")
			return errAbortTx
		}

		dropped, dropRes, err := dropRegistrationTx(tx, s.Clock, &game, playerID)
		if err != nil {
			return err
		}
		if dropRes != nil && !dropRes.Success {
			result = dropRes
			return errAbortTx
		}
		wasSelected = dropped

		return tx.Model(&models.SlotOffer{}).
			Where("game_id = ? AND player_id = ? AND status = ?",
				gameID, playerID, models.SlotOfferPending).
			Updates(map[string]interface{}{
				"status":       models.SlotOfferVoided,
				"responded_at": s.Clock.Now(),
			}).Error
	})
	if err != nil {
		if errors.Is(err, errAbortTx) {
			return result, nil
		}
		return nil, err
	}

	log.Printf("📝 [REGISTRATION] Player %s dropped out of game %d (was selected: %t)",
		playerID, game.SequenceNumber, wasSelected)
	if wasSelected {
		if _, err := s.Offers.RunWaterfall(gameID); err != nil {
			log.Printf("⚠️ [REGISTRATION] Post-dropout waterfall failed for game %s: %v", gameID, err)
		}
	}
	return result, nil
}

// MarkPaid records the match fee for a registration.
func (s *RegistrationService) MarkPaid(playerID, gameID string) (*ActionResult, error) {
	upd := s.DB.Model(&models.GameRegistration{}).
		Where("game_id = ? AND player_id = ?", gameID, playerID).
		Update("paid", true)
	if upd.Error != nil {
		return nil, upd.Error
	}
	if upd.RowsAffected == 0 {
		return resultFail("no registration for this game"), nil
	}
	return resultOK("payment recorded"), nil
}

// dropRegistrationTx flips a registration to dropped_out inside the caller's
// transaction. It records whether the slot came out of the selected lineup
// (only those feed the waterfall) and stamps the game's first_dropout_at
// exactly once — that timestamp anchors the offer ramp.
func dropRegistrationTx(tx *gorm.DB, clock clockwork.Clock, game *models.Game, playerID string) (bool, *ActionResult, error) {
	var reg models.GameRegistration
	if err := tx.Where("game_id = ? AND player_id = ?", game.ID, playerID).First(&reg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, resultFail("no registration for this game"), nil
		}
		return false, nil, err
	}
	if reg.Status == models.RegistrationStatusDroppedOut {
		return false, resultFail("already dropped out of this game"), nil
	}

	fromSelected := reg.Status == models.RegistrationStatusSelected
	upd := tx.Model(&models.GameRegistration{}).
		Where("id = ? AND status = ?", reg.ID, reg.Status).
		Updates(map[string]interface{}{
			"status":                models.RegistrationStatusDroppedOut,
			"dropped_from_selected": fromSelected,
		})
	if upd.Error != nil {
		return false, nil, upd.Error
	}
	if upd.RowsAffected == 0 {
		return false, resultFail("registration changed underneath you, try again"), nil
	}

	if fromSelected {
		now := clock.Now()
		res := tx.Model(&models.Game{}).
			Where("id = ? AND first_dropout_at IS NULL", game.ID).
			Update("first_dropout_at", now)
		if res.Error != nil {
			return false, nil, res.Error
		}
		if res.RowsAffected > 0 {
			game.FirstDropoutAt = &now
		}
	}
	return fromSelected, nil, nil
}

// ---- HTTP endpoints ----

func (s *RegistrationService) RegisterEndpoint(c *fiber.Ctx) error {
	player, err := currentPlayer(c, s.DB)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Player not found"})
	}
	res, err := s.Register(player.ID, c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Game not found"})
		}
		log.Printf("⚠️ [REGISTRATION] Register failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to register"})
	}
	return respondResult(c, res)
}

func (s *RegistrationService) DropOutEndpoint(c *fiber.Ctx) error {
	player, err := currentPlayer(c, s.DB)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Player not found"})
	}
	res, err := s.DropOut(player.ID, c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Game not found"})
		}
		log.Printf("⚠️ [REGISTRATION] Dropout failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to drop out"})
	}
	return respondResult(c, res)
}

func (s *RegistrationService) AnnounceTeamsEndpoint(c *fiber.Ctx) error {
	res, err := s.AnnounceTeams(c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Game not found"})
		}
		log.Printf("⚠️ [REGISTRATION] Announce failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to announce teams"})
	}
	return respondResult(c, res)
}

func (s *RegistrationService) MarkPaidEndpoint(c *fiber.Ctx) error {
	var req struct {
		PlayerID string `json:"player_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.PlayerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "player_id is required"})
	}
	res, err := s.MarkPaid(req.PlayerID, c.Params("id"))
	if err != nil {
		log.Printf("⚠️ [REGISTRATION] Mark paid failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to record payment"})
	}
	return respondResult(c, res)
}
