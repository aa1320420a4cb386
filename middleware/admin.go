// middleware/admin.go
package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"
)

// AdminRequiredMiddleware gates league administration routes: the caller
// must carry the league:admin role, or be another service calling us
// directly (marked by InternalAuthMiddleware).
func AdminRequiredMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if internal, _ := c.Locals("internal_call").(bool); internal {
			return c.Next()
		}
		roles, _ := c.Locals("user_roles").([]string)
		for _, r := range roles {
			if r == "league:admin" {
				return c.Next()
			}
		}
		log.Printf("🚫 [ADMIN] User %v lacks league:admin for %s", c.Locals("user_id"), c.Path())
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "league admin role required",
		})
	}
}

// InternalAuthMiddleware authenticates service-to-service calls (scoring
// pulls, admin tooling) via the shared X-Service-Token header.
func InternalAuthMiddleware(serviceToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get("X-Service-Token")
		if token == "" || token != serviceToken {
			log.Printf("🚫 [INTERNAL] Invalid service token for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid service token",
			})
		}
		c.Locals("internal_call", true)
		return c.Next()
	}
}
