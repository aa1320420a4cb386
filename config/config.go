// config/config.go
package config

import (
	"fmt"
	"log"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable the service reads from the environment.
// Parsed once at boot; services receive the values they need, not the struct.
type Config struct {
	Port           string `env:"PORT" envDefault:"5300"`
	DatabaseURL    string `env:"DATABASE_URL,required"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000"`

	// Gateway / collaborator auth
	LeagueServiceToken string `env:"LEAGUE_SERVICE_TOKEN,required"`
	AuthServiceURL     string `env:"AUTH_SERVICE_URL" envDefault:"http://localhost:8400"`
	ProfileServiceURL  string `env:"PROFILE_SERVICE_URL" envDefault:"http://localhost:8500"`
	ScoringServiceURL  string `env:"SCORING_SERVICE_URL" envDefault:"http://localhost:8600"`
	NotifyServiceURL   string `env:"NOTIFY_SERVICE_URL" envDefault:"http://localhost:8700"`

	// Shield token economy
	ShieldTokenCap       int `env:"SHIELD_TOKEN_CAP" envDefault:"4"`
	ShieldEarnEveryGames int `env:"SHIELD_EARN_EVERY_GAMES" envDefault:"10"`

	// Injury claims
	InjuryClaimWindowHours int `env:"INJURY_CLAIM_WINDOW_HOURS" envDefault:"168"`
	InjuryClaimMaxAgeDays  int `env:"INJURY_CLAIM_MAX_AGE_DAYS" envDefault:"90"`

	// Slot offers
	OfferTTLHours       int `env:"OFFER_TTL_HOURS" envDefault:"24"`
	OfferSweepMinutes   int `env:"OFFER_SWEEP_MINUTES" envDefault:"10"`
	InjurySweepMinutes  int `env:"INJURY_SWEEP_MINUTES" envDefault:"60"`
	NotifyRatePerSecond int `env:"NOTIFY_RATE_PER_SECOND" envDefault:"5"`
	PlayerSyncSeconds   int `env:"PLAYER_SYNC_SECONDS" envDefault:"60"`
	MeritSyncSeconds    int `env:"MERIT_SYNC_SECONDS" envDefault:"30"`

	// R2 archive (optional — disabled when no bucket configured)
	ArchiveEnabled      bool   `env:"ARCHIVE_ENABLED" envDefault:"false"`
	CloudflareAccountID string `env:"CLOUDFLARE_ACCOUNT_ID"`
	R2AccessKeyID       string `env:"R2_ACCESS_KEY_ID"`
	R2AccessKeySecret   string `env:"R2_ACCESS_KEY_SECRET"`
	R2BucketName        string `env:"R2_BUCKET_NAME"`
}

// Load reads .env (when present) and parses the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ArchiveEnabled && cfg.R2BucketName == "" {
		return nil, fmt.Errorf("ARCHIVE_ENABLED is set but R2_BUCKET_NAME is empty")
	}
	return &cfg, nil
}
