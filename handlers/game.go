// handlers/game_routes.go
package handlers

import (
	"league-roster-system/middleware"
	"league-roster-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupGameRoutes(app *fiber.App, gameService *services.GameService,
	registrationService *services.RegistrationService, streakService *services.StreakService) {
	// 🔓 Public routes — *no user context*, but **still require Gateway auth**
	app.Get("/games", gameService.GetAllGames)
	app.Get("/games/minimal", gameService.GetMinimalGames)
	app.Get("/games/:id", gameService.GetGameByID)
	app.Get("/players/search", gameService.SearchPlayers)
	app.Get("/players/:id", gameService.GetPlayerProfile)

	// 🔐 Secured routes — require user context (userID, roles)
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/games/:id/register", registrationService.RegisterEndpoint)
	secured.Post("/games/:id/dropout", registrationService.DropOutEndpoint)

	// League administration
	admin := secured.Group("/", middleware.AdminRequiredMiddleware())
	admin.Post("/games", gameService.CreateGameEndpoint)
	admin.Post("/games/:id/announce", registrationService.AnnounceTeamsEndpoint)
	admin.Post("/games/:id/complete", gameService.CompleteGameEndpoint)
	admin.Post("/games/:id/paid", registrationService.MarkPaidEndpoint)
	admin.Post("/players/:id/recalculate", streakService.RecalculatePlayerEndpoint)
}
