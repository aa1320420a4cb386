package services

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"league-roster-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// OfferService runs the slot offer waterfall: when a selected player drops
// out, the freed slot is offered down the ranked reserve list, reaching more
// of the list as kickoff approaches. First accept wins the slot.
type OfferService struct {
	DB    *gorm.DB
	Clock clockwork.Clock
	TTL   time.Duration // advisory lifetime of a single offer

	Notify Notifier
}

func NewOfferService(db *gorm.DB, clock clockwork.Clock, ttl time.Duration, notify Notifier) *OfferService {
	return &OfferService{DB: db, Clock: clock, TTL: ttl, Notify: notify}
}

// offersDue computes how many reserves should hold an offer at `now`.
// The count ramps from 1 at the first dropout to the whole pool at the
// cutoff (midnight at the start of game day):
//
//	due = 1 + floor((elapsed / total) × (reservePool − 1))
//
// capped by the unfilled slot count before the cutoff. At or after the
// cutoff the formula is bypassed and everyone still waiting is due.
func offersDue(now, firstDropout, cutoff time.Time, reservePool, unfilled int) int {
	if unfilled <= 0 || reservePool <= 0 {
		return 0
	}
	if !now.Before(cutoff) {
		return reservePool
	}
	total := cutoff.Sub(firstDropout)
	if total <= 0 {
		return reservePool
	}
	elapsed := now.Sub(firstDropout)
	if elapsed < 0 {
		elapsed = 0
	}
	due := 1 + int(math.Floor(elapsed.Hours()/total.Hours()*float64(reservePool-1)))
	if due > unfilled {
		due = unfilled
	}
	if due < 1 {
		due = 1
	}
	if due > reservePool {
		due = reservePool
	}
	return due
}

// midnightOf returns 00:00 on the calendar day of t, in t's location.
func midnightOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// rankReserves orders the waitlist: merit score descending, earliest
// registration first, player id as the final tiebreak so the order is a
// deterministic total one.
func rankReserves(regs []models.GameRegistration) {
	sort.Slice(regs, func(i, j int) bool {
		var si, sj float64
		if regs[i].Player != nil {
			si = regs[i].Player.MeritScore
		}
		if regs[j].Player != nil {
			sj = regs[j].Player.MeritScore
		}
		if si != sj {
			return si > sj
		}
		if !regs[i].CreatedAt.Equal(regs[j].CreatedAt) {
			return regs[i].CreatedAt.Before(regs[j].CreatedAt)
		}
		return regs[i].PlayerID < regs[j].PlayerID
	})
}

// RunWaterfall tops the game up to the offer count due right now. It is
// idempotent: re-invoking with no state change creates nothing, because
// players already holding a pending or accepted offer are skipped and the
// due count subtracts offers already out.
func (s *OfferService) RunWaterfall(gameID string) (int, error) {
	var game models.Game
	if err := s.DB.First(&game, "id = ?", gameID).Error; err != nil {
		return 0, err
	}
	if game.Status != models.GameStatusTeamsAnnounced || game.FirstDropoutAt == nil {
		return 0, nil
	}
	now := s.Clock.Now()
	if now.After(game.GameDate) {
		return 0, nil
	}

	created := 0
	var notifications []models.SlotOffer

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var offers []models.SlotOffer
		if err := tx.Where("game_id = ?", gameID).Find(&offers).Error; err != nil {
			return err
		}
		pendingCount, acceptedCount := 0, 0
		blocked := make(map[string]bool)
		for _, o := range offers {
			switch o.Status {
			case models.SlotOfferPending:
				pendingCount++
				blocked[o.PlayerID] = true
			case models.SlotOfferAccepted:
				acceptedCount++
				blocked[o.PlayerID] = true
			}
		}

		var dropouts int64
		if err := tx.Model(&models.GameRegistration{}).
			Where("game_id = ? AND status = ? AND dropped_from_selected = ?",
				gameID, models.RegistrationStatusDroppedOut, true).
			Count(&dropouts).Error; err != nil {
			return err
		}
		unfilled := int(dropouts) - acceptedCount
		if unfilled <= 0 {
			return nil
		}

		var reserves []models.GameRegistration
		if err := tx.Preload("Player").
			Where("game_id = ? AND status = ? AND has_declined = ?",
				gameID, models.RegistrationStatusReserve, false).
			Find(&reserves).Error; err != nil {
			return err
		}
		eligible := reserves[:0]
		for _, r := range reserves {
			if !blocked[r.PlayerID] {
				eligible = append(eligible, r)
			}
		}
		if len(eligible) == 0 {
			return nil
		}
		rankReserves(eligible)

		reservePool := len(eligible) + pendingCount
		due := offersDue(now, *game.FirstDropoutAt, midnightOf(game.GameDate), reservePool, unfilled)
		toCreate := due - pendingCount
		if toCreate <= 0 {
			return nil
		}
		if toCreate > len(eligible) {
			toCreate = len(eligible)
		}

		expiresAt := now.Add(s.TTL)
		if expiresAt.After(game.GameDate) {
			expiresAt = game.GameDate
		}

		for i := 0; i < toCreate; i++ {
			reg := eligible[i]

			// Re-checked inside the transaction: never a second live offer
			// for the same player and game.
			var dup int64
			if err := tx.Model(&models.SlotOffer{}).
				Where("game_id = ? AND player_id = ? AND status IN ?",
					gameID, reg.PlayerID,
					[]models.SlotOfferStatus{models.SlotOfferPending, models.SlotOfferAccepted}).
				Count(&dup).Error; err != nil {
				return err
			}
			if dup > 0 {
				continue
			}

			offer := models.SlotOffer{
				ID:          uuid.NewString(),
				GameID:      gameID,
				PlayerID:    reg.PlayerID,
				Status:      models.SlotOfferPending,
				RankAtOffer: pendingCount + i + 1,
				OfferedAt:   now,
				ExpiresAt:   expiresAt,
			}
			if reg.Player != nil {
				offer.MeritScoreAtOffer = reg.Player.MeritScore
			}
			if err := tx.Create(&offer).Error; err != nil {
				return err
			}
			created++
			notifications = append(notifications, offer)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if created > 0 {
		log.Printf("📋 [OFFERS] Waterfall created %d offer(s) for game %d", created, game.SequenceNumber)
	}
	for _, o := range notifications {
		s.notifyPlayer(o.PlayerID, "offer_created",
			fmt.Sprintf("A slot opened up for %s — first to accept plays", game.Name),
			map[string]interface{}{"offer_id": o.ID, "expires_at": o.ExpiresAt})
	}
	return created, nil
}

// AcceptOffer promotes the caller into the freed slot. First accept wins:
// the transition statement re-checks pending status, the registration flips
// reserve → selected, and every other pending offer for the game expires in
// the same transaction.
func (s *OfferService) AcceptOffer(offerID, playerID string) (*ActionResult, error) {
	var offer models.SlotOffer
	if err := s.DB.First(&offer, "id = ?", offerID).Error; err != nil {
		return nil, err
	}

	result := resultOK("offer accepted — you are in")
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		now := s.Clock.Now()
		upd := tx.Model(&models.SlotOffer{}).
			Where("id = ? AND player_id = ? AND status = ?", offerID, playerID, models.SlotOfferPending).
			Updates(map[string]interface{}{
				"status":       models.SlotOfferAccepted,
				"responded_at": now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			result = resultFail("this offer is no longer available")
			return errAbortTx
		}

		promote := tx.Model(&models.GameRegistration{}).
			Where("game_id = ? AND player_id = ? AND status = ?",
				offer.GameID, playerID, models.RegistrationStatusReserve).
			Updates(map[string]interface{}{
				"status":           models.RegistrationStatusSelected,
				"selection_method": models.SelectionMethodMerit,
			})
		if promote.Error != nil {
			return promote.Error
		}
		if promote.RowsAffected == 0 {
			result = resultFail("your registration is no longer on the reserve list")
			return errAbortTx
		}

		// First accept wins — nobody else keeps a live offer for this game.
		if err := tx.Model(&models.SlotOffer{}).
			Where("game_id = ? AND id <> ? AND status = ?", offer.GameID, offerID, models.SlotOfferPending).
			Updates(map[string]interface{}{
				"status":       models.SlotOfferExpired,
				"responded_at": now,
			}).Error; err != nil {
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

	log.Printf("📋 [OFFERS] Offer %s accepted by player %s (game %s)", offerID, playerID, offer.GameID)
	s.notifyPlayer(playerID, "offer_accepted", "You took the slot — see you at the game", nil)

	// Remaining freed slots (multi-dropout games) refill immediately.
	if _, err := s.RunWaterfall(offer.GameID); err != nil {
		log.Printf("⚠️ [OFFERS] Post-accept waterfall failed for game %s: %v", offer.GameID, err)
	}
	return result, nil
}

// DeclineOffer turns the slot down for good: the registration keeps a
// permanent has_declined mark and the waterfall immediately moves on.
func (s *OfferService) DeclineOffer(offerID, playerID string) (*ActionResult, error) {
	var offer models.SlotOffer
	if err := s.DB.First(&offer, "id = ?", offerID).Error; err != nil {
		return nil, err
	}

	result := resultOK("offer declined")
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		now := s.Clock.Now()
		upd := tx.Model(&models.SlotOffer{}).
			Where("id = ? AND player_id = ? AND status = ?", offerID, playerID, models.SlotOfferPending).
			Updates(map[string]interface{}{
				"status":       models.SlotOfferDeclined,
				"responded_at": now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			result = resultFail("this offer is no longer available")
			return errAbortTx
		}

		return tx.Model(&models.GameRegistration{}).
			Where("game_id = ? AND player_id = ?", offer.GameID, playerID).
			Update("has_declined", true).Error
	})
	if err != nil {
		if errors.Is(err, errAbortTx) {
			return result, nil
		}
		return nil, err
	}

	log.Printf("📋 [OFFERS] Offer %s declined by player %s (game %s)", offerID, playerID, offer.GameID)
	if _, err := s.RunWaterfall(offer.GameID); err != nil {
		log.Printf("⚠️ [OFFERS] Post-decline waterfall failed for game %s: %v", offer.GameID, err)
	}
	return result, nil
}

// SweepOffers expires stale pending offers and re-invokes the waterfall for
// every announced game still waiting on slots, so an unanswered offer never
// strands the line.
func (s *OfferService) SweepOffers() (int, error) {
	now := s.Clock.Now()

	var stale []models.SlotOffer
	if err := s.DB.Where("status = ? AND expires_at <= ?", models.SlotOfferPending, now).
		Find(&stale).Error; err != nil {
		return 0, err
	}
	expired := 0
	touchedGames := make(map[string]bool)
	for _, o := range stale {
		upd := s.DB.Model(&models.SlotOffer{}).
			Where("id = ? AND status = ?", o.ID, models.SlotOfferPending).
			Updates(map[string]interface{}{
				"status":       models.SlotOfferExpired,
				"responded_at": now,
			})
		if upd.Error != nil {
			log.Printf("⚠️ [OFFERS] Failed to expire offer %s: %v", o.ID, upd.Error)
			continue
		}
		if upd.RowsAffected > 0 {
			expired++
			touchedGames[o.GameID] = true
		}
	}
	if expired > 0 {
		log.Printf("📋 [OFFERS] Sweep expired %d stale offer(s)", expired)
	}

	var games []models.Game
	if err := s.DB.Where("status = ? AND first_dropout_at IS NOT NULL AND game_date > ?",
		models.GameStatusTeamsAnnounced, now).
		Find(&games).Error; err != nil {
		return expired, err
	}
	for _, g := range games {
		if _, err := s.RunWaterfall(g.ID); err != nil {
			log.Printf("⚠️ [OFFERS] Sweep waterfall failed for game %s: %v", g.ID, err)
		}
	}
	return expired, nil
}

// ListPlayerOffers returns a player's offers, newest first.
func (s *OfferService) ListPlayerOffers(playerID string, onlyPending bool) ([]models.SlotOffer, error) {
	q := s.DB.Preload("Game").Where("player_id = ?", playerID).Order("offered_at DESC")
	if onlyPending {
		q = q.Where("status = ?", models.SlotOfferPending)
	}
	var offers []models.SlotOffer
	err := q.Find(&offers).Error
	return offers, err
}

// voidPendingOffersTx kills every live offer for a game — used when the game
// completes and the slots stop existing.
func voidPendingOffersTx(tx *gorm.DB, clock clockwork.Clock, gameID string) (int64, error) {
	now := clock.Now()
	res := tx.Model(&models.SlotOffer{}).
		Where("game_id = ? AND status = ?", gameID, models.SlotOfferPending).
		Updates(map[string]interface{}{
			"status":       models.SlotOfferVoided,
			"responded_at": now,
		})
	return res.RowsAffected, res.Error
}

func (s *OfferService) notifyPlayer(playerID, event, message string, meta map[string]interface{}) {
	var p models.Player
	if err := s.DB.Select("external_user_id").First(&p, "id = ?", playerID).Error; err != nil {
		log.Printf("⚠️ [OFFERS] Cannot notify player %s: %v", playerID, err)
		return
	}
	notifyQuietly(s.Notify, p.ExternalUserID, event, message, meta)
}

// ---- HTTP endpoints ----

func (s *OfferService) AcceptOfferEndpoint(c *fiber.Ctx) error {
	player, err := currentPlayer(c, s.DB)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Player not found"})
	}
	res, err := s.AcceptOffer(c.Params("id"), player.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Offer not found"})
		}
		log.Printf("⚠️ [OFFERS] Accept failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to accept offer"})
	}
	return respondResult(c, res)
}

func (s *OfferService) DeclineOfferEndpoint(c *fiber.Ctx) error {
	player, err := currentPlayer(c, s.DB)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Player not found"})
	}
	res, err := s.DeclineOffer(c.Params("id"), player.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Offer not found"})
		}
		log.Printf("⚠️ [OFFERS] Decline failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to decline offer"})
	}
	return respondResult(c, res)
}

func (s *OfferService) MyOffersEndpoint(c *fiber.Ctx) error {
	player, err := currentPlayer(c, s.DB)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Player not found"})
	}
	offers, err := s.ListPlayerOffers(player.ID, c.Query("pending") == "true")
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch offers"})
	}
	return c.JSON(offers)
}
