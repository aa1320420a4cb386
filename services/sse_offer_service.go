package services

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"league-roster-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// StreamPlayerOffersSSE pushes slot offers to the authenticated player in
// real time. The waterfall is a race — polling loses slots, a stream
// doesn't.
func (s *OfferService) StreamPlayerOffersSSE(c *fiber.Ctx) error {
	externalUserID := c.Locals("user_id").(string)

	var player models.Player
	if err := s.DB.First(&player, "external_user_id = ?", externalUserID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Player not found"})
	}
	playerID := player.ID

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		var lastOfferedAt time.Time

		// Initialize cursor at the newest offer the player already has.
		var latest models.SlotOffer
		if err := s.DB.
			Where("player_id = ?", playerID).
			Order("offered_at DESC").
			First(&latest).Error; err == nil {
			lastOfferedAt = latest.OfferedAt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("SSE init error for player %s: %v", playerID, err)
		}

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		w.Flush()

		for {
			select {
			case <-ticker.C:
				var fresh []models.SlotOffer

				err := s.DB.Preload("Game").
					Where("player_id = ? AND status = ?", playerID, models.SlotOfferPending).
					Where("offered_at > ?", lastOfferedAt).
					Order("offered_at ASC").
					Find(&fresh).Error

				if err != nil {
					log.Printf("SSE query error for player %s: %v", playerID, err)
					continue
				}

				if len(fresh) == 0 {
					continue
				}

				lastOfferedAt = fresh[len(fresh)-1].OfferedAt

				for _, o := range fresh {
					payload, _ := json.Marshal(o)

					fmt.Fprintf(w,
						"event: offer\ndata: %s\n\n",
						payload,
					)
				}

				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-c.Context().Done():
				// Client closed connection
				return
			}
		}
	})

	return nil
}
