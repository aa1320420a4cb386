package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"league-roster-system/config"
	"league-roster-system/handlers"
	"league-roster-system/middleware"
	"league-roster-system/models"
	"league-roster-system/services"
	"league-roster-system/utils"
	"league-roster-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 4 * 1024 * 1024, // 4MB
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware(cfg.LeagueServiceToken))

	// Split the comma-separated origins and trim spaces
	allowedOriginsList := strings.Split(cfg.AllowedOrigins, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Player{},
		&models.Game{},
		&models.GameRegistration{},
		&models.ShieldTokenUsage{},
		&models.InjuryTokenUsage{},
		&models.SlotOffer{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	var archiveService *services.ArchiveService
	if cfg.ArchiveEnabled {
		if err := utils.InitR2(cfg.CloudflareAccountID, cfg.R2AccessKeyID, cfg.R2AccessKeySecret, cfg.R2BucketName); err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		archiveService = services.NewArchiveService(db)
	}

	clock := clockwork.NewRealClock()
	var notifier services.Notifier = services.LogNotifier{}
	if cfg.NotifyServiceURL != "" {
		notifier = services.NewHTTPNotifier(cfg.NotifyServiceURL, cfg.LeagueServiceToken, float64(cfg.NotifyRatePerSecond))
	}

	streakService := services.NewStreakService(db, cfg.ShieldEarnEveryGames, cfg.ShieldTokenCap)
	offerService := services.NewOfferService(db, clock, time.Duration(cfg.OfferTTLHours)*time.Hour, notifier)
	shieldService := services.NewShieldService(db, clock, cfg.ShieldTokenCap, offerService, notifier)
	injuryService := services.NewInjuryService(db, clock,
		time.Duration(cfg.InjuryClaimWindowHours)*time.Hour,
		time.Duration(cfg.InjuryClaimMaxAgeDays)*24*time.Hour,
		notifier)
	registrationService := services.NewRegistrationService(db, clock, offerService, notifier)
	gameService := services.NewGameService(db, clock, streakService, shieldService, injuryService,
		offerService, archiveService, notifier)
	authClient := services.NewAuthServiceClient(cfg.AuthServiceURL, cfg.LeagueServiceToken)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Mirror workers: player profiles and merit scores flow in from the
	// profile and scoring services.
	playerSync := workers.NewPlayerSyncWorker(db, cfg.ProfileServiceURL, cfg.LeagueServiceToken,
		time.Duration(cfg.PlayerSyncSeconds)*time.Second)
	playerSync.Start(ctx)

	meritSyncClient := workers.NewMeritSyncClient(db, cfg.ScoringServiceURL, cfg.LeagueServiceToken)
	go workers.PollMeritScores(ctx, meritSyncClient, time.Duration(cfg.MeritSyncSeconds)*time.Second)

	services.StartSweeps(offerService, injuryService,
		time.Duration(cfg.OfferSweepMinutes)*time.Minute,
		time.Duration(cfg.InjurySweepMinutes)*time.Minute)

	// ✅ Setup routes — enforced Gateway auth everywhere
	handlers.SetupGameRoutes(app, gameService, registrationService, streakService)
	handlers.SetupProtectionRoutes(app, shieldService, injuryService)
	handlers.SetupOfferRoutes(app, offerService, authClient)
	handlers.SetupInternalRoutes(app, gameService, cfg.LeagueServiceToken)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", cfg.Port)
	log.Println("✅ Player Sync Worker running")
	log.Printf("✅ Merit score polling running (every %ds)", cfg.MeritSyncSeconds)
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
