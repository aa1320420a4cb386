package services

import (
	"errors"

	"league-roster-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// ActionResult is the structured outcome of an operation that can fail for
// expected, rule-level reasons (no tokens left, offer already taken, game
// already completed). Transport and database failures stay ordinary errors.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func resultOK(msg string) *ActionResult {
	return &ActionResult{Success: true, Message: msg}
}

func resultFail(msg string) *ActionResult {
	return &ActionResult{Success: false, Message: msg}
}

// respondResult renders an ActionResult: 200 on success, 409 when a rule
// rejected the action.
func respondResult(c *fiber.Ctx, res *ActionResult) error {
	if !res.Success {
		return c.Status(fiber.StatusConflict).JSON(res)
	}
	return c.JSON(res)
}

// currentPlayer resolves the authenticated caller (external user id from the
// auth middleware) to their roster row.
func currentPlayer(c *fiber.Ctx, db *gorm.DB) (*models.Player, error) {
	externalID, _ := c.Locals("user_id").(string)
	if externalID == "" {
		return nil, errors.New("missing user context")
	}
	var p models.Player
	if err := db.First(&p, "external_user_id = ?", externalID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// adminCaller reports whether the request carries league admin rights,
// either through the user's roles or because another service called us
// directly.
func adminCaller(c *fiber.Ctx) bool {
	if internal, _ := c.Locals("internal_call").(bool); internal {
		return true
	}
	roles, _ := c.Locals("user_roles").([]string)
	for _, r := range roles {
		if r == "league:admin" {
			return true
		}
	}
	return false
}
