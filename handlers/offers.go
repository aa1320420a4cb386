// handlers/offer_routes.go
package handlers

import (
	"league-roster-system/middleware"
	"league-roster-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupOfferRoutes(app *fiber.App, offerService *services.OfferService,
	authClient *services.AuthServiceClient) {
	// 🔐 Offer actions are always on behalf of the caller
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Get("/user/offers", offerService.MyOffersEndpoint)
	secured.Post("/offers/:id/accept", offerService.AcceptOfferEndpoint)
	secured.Post("/offers/:id/decline", offerService.DeclineOfferEndpoint)

	// SSE stream authenticates on query params — EventSource can't set
	// the gateway headers.
	app.Get("/user/offers/stream", middleware.SSEAuthMiddleware(authClient), offerService.StreamPlayerOffersSSE)
}
