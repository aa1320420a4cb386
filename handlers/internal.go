// handlers/internal_routes.go
package handlers

import (
	"league-roster-system/middleware"
	"league-roster-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupInternalRoutes exposes the service-to-service surface: the scoring
// service pulls attendance reports from here after each completion.
func SetupInternalRoutes(app *fiber.App, gameService *services.GameService, serviceToken string) {
	internal := app.Group("/internal", middleware.InternalAuthMiddleware(serviceToken))

	internal.Get("/games/:id/scoring-report", gameService.ScoringReportEndpoint)
	internal.Get("/players/:id/scoring", gameService.PlayerScoringEndpoint)
}
