// handlers/protection_routes.go
package handlers

import (
	"league-roster-system/middleware"
	"league-roster-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupProtectionRoutes(app *fiber.App, shieldService *services.ShieldService,
	injuryService *services.InjuryService) {
	// 🔐 All protection routes act on the caller's own streak
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/games/:id/shield", shieldService.SpendShieldEndpoint)
	secured.Delete("/games/:id/shield", shieldService.CancelShieldEndpoint)
	secured.Get("/user/shield", shieldService.GetShieldStatusEndpoint)

	secured.Post("/games/:id/injury", injuryService.ClaimInjuryEndpoint)
	secured.Get("/user/injury", injuryService.GetInjuryStatusEndpoint)

	// League administration
	admin := secured.Group("/", middleware.AdminRequiredMiddleware())
	admin.Post("/injury/deny", injuryService.DenyInjuryEndpoint)
}
