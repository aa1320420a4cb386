package services

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"league-roster-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// GameService owns the game lifecycle. Completion is the big one: it flips
// the status exactly once, settles injury returns and shield outcomes, then
// recomputes every player's streaks from the updated attendance history —
// all inside a single transaction.
type GameService struct {
	DB    *gorm.DB
	Clock clockwork.Clock

	Streaks  *StreakService
	Shields  *ShieldService
	Injuries *InjuryService
	Offers   *OfferService
	Archive  *ArchiveService
	Notify   Notifier
}

func NewGameService(db *gorm.DB, clock clockwork.Clock, streaks *StreakService, shields *ShieldService,
	injuries *InjuryService, offers *OfferService, archive *ArchiveService, notify Notifier) *GameService {
	return &GameService{
		DB:       db,
		Clock:    clock,
		Streaks:  streaks,
		Shields:  shields,
		Injuries: injuries,
		Offers:   offers,
		Archive:  archive,
		Notify:   notify,
	}
}

type shieldEvent struct {
	PlayerID  string
	Protected int
}

type injuryReturnEvent struct {
	PlayerID string
	Bonus    int
}

// completionEvents collects everything a completion changed, for the
// post-commit fanout: notifications, the scoring log line and the archive
// snapshot.
type completionEvents struct {
	shieldsBroken    []shieldEvent
	shieldsConverged []shieldEvent
	injuryReturns    []injuryReturnEvent
	lines            []StreakLine
	tokensAccrued    []string
	offersVoided     int64
}

// CreateGame appends a game to the schedule. Sequence numbers are dense and
// strictly increasing — they define the order streak recomputation walks.
func (s *GameService) CreateGame(name string, gameDate time.Time, maxPlayers int, venue string) (*models.Game, error) {
	if maxPlayers <= 0 {
		maxPlayers = 10
	}
	game := models.Game{
		ID:         uuid.NewString(),
		Name:       name,
		GameDate:   gameDate,
		Status:     models.GameStatusUpcoming,
		MaxPlayers: maxPlayers,
		Venue:      venue,
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&models.Game{}).
			Select("COALESCE(MAX(sequence_number), 0)").Scan(&maxSeq).Error; err != nil {
			return err
		}
		game.SequenceNumber = maxSeq + 1
		return tx.Create(&game).Error
	})
	if err != nil {
		return nil, err
	}
	log.Printf("🎮 [GAME] Created game %d: %s (%s)", game.SequenceNumber, game.Name, game.GameDate.Format("2006-01-02"))
	return &game, nil
}

// CompleteGame settles a played game. Order inside the transaction matters:
// injury returns first (the bonus must exist before recompute), then shield
// breakage and convergence, then the full streak recompute, token accrual,
// and finally voiding any slot offers left hanging.
func (s *GameService) CompleteGame(gameID string) (*ActionResult, error) {
	var game models.Game
	if err := s.DB.First(&game, "id = ?", gameID).Error; err != nil {
		return nil, err
	}

	result := resultOK("game completed")
	events := &completionEvents{}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		now := s.Clock.Now()
		upd := tx.Model(&models.Game{}).
			Where("id = ? AND status <> ?", gameID, models.GameStatusCompleted).
			Updates(map[string]interface{}{
				"status":       models.GameStatusCompleted,
				"completed_at": now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			result = resultFail("game already completed")
			return errAbortTx
		}
		game.Status = models.GameStatusCompleted
		game.CompletedAt = &now

		book, err := loadAttendance(tx)
		if err != nil {
			return err
		}

		if err := s.Injuries.processInjuryReturns(tx, &game, book, events); err != nil {
			return err
		}
		if err := s.Shields.processGameShields(tx, &game, book, events); err != nil {
			return err
		}

		lines, err := s.Streaks.recalculateAll(tx, book)
		if err != nil {
			return err
		}
		events.lines = lines

		accrued, err := s.Streaks.accrueShieldTokens(tx, &game, book)
		if err != nil {
			return err
		}
		events.tokensAccrued = accrued

		voided, err := voidPendingOffersTx(tx, s.Clock, gameID)
		if err != nil {
			return err
		}
		events.offersVoided = voided
		return nil
	})
	if err != nil {
		if errors.Is(err, errAbortTx) {
			return result, nil
		}
		return nil, err
	}

	log.Printf("🎮 [GAME] Completed game %d: %d streak lines, %d injury returns, %d shields broken, %d converged, %d offers voided",
		game.SequenceNumber, len(events.lines), len(events.injuryReturns),
		len(events.shieldsBroken), len(events.shieldsConverged), events.offersVoided)

	s.fanOutCompletion(&game, events)
	return result, nil
}

// fanOutCompletion runs the side effects that must not touch the completion
// transaction: player notifications and the archive snapshot.
func (s *GameService) fanOutCompletion(game *models.Game, events *completionEvents) {
	ids := make([]string, 0, len(events.shieldsBroken)+len(events.shieldsConverged)+len(events.injuryReturns))
	for _, e := range events.shieldsBroken {
		ids = append(ids, e.PlayerID)
	}
	for _, e := range events.shieldsConverged {
		ids = append(ids, e.PlayerID)
	}
	for _, e := range events.injuryReturns {
		ids = append(ids, e.PlayerID)
	}
	external := make(map[string]string, len(ids))
	if len(ids) > 0 {
		var players []models.Player
		if err := s.DB.Select("id, external_user_id").Where("id IN ?", ids).Find(&players).Error; err != nil {
			log.Printf("⚠️ [GAME] Completion notify lookup failed: %v", err)
		}
		for _, p := range players {
			external[p.ID] = p.ExternalUserID
		}
	}

	for _, e := range events.shieldsBroken {
		notifyQuietly(s.Notify, external[e.PlayerID], "shield_broken",
			fmt.Sprintf("Your shield broke — you missed %s without playing it", game.Name), nil)
	}
	for _, e := range events.shieldsConverged {
		notifyQuietly(s.Notify, external[e.PlayerID], "shield_converged",
			fmt.Sprintf("Your streak caught up with its shield (%d) — protection retired", e.Protected), nil)
	}
	for _, e := range events.injuryReturns {
		notifyQuietly(s.Notify, external[e.PlayerID], "injury_return",
			fmt.Sprintf("Welcome back — you returned in %s with a streak credit of %d", game.Name, e.Bonus), nil)
	}

	if s.Archive != nil {
		key, err := s.Archive.SnapshotCompletion(game, events)
		if err != nil {
			log.Printf("⚠️ [GAME] Archive snapshot failed for game %d: %v", game.SequenceNumber, err)
		} else if key != "" {
			if err := s.DB.Model(&models.Game{}).Where("id = ?", game.ID).
				Update("archive_key", key).Error; err != nil {
				log.Printf("⚠️ [GAME] Failed to record archive key for game %d: %v", game.SequenceNumber, err)
			}
		}
	}
}

// attachCounts fills the computed roster counts on a slice of games with one
// grouped query.
func (s *GameService) attachCounts(games []models.Game) error {
	if len(games) == 0 {
		return nil
	}
	ids := make([]string, len(games))
	for i := range games {
		ids[i] = games[i].ID
	}
	type row struct {
		GameID string
		Status models.RegistrationStatus
		N      int64
	}
	var rows []row
	if err := s.DB.Model(&models.GameRegistration{}).
		Select("game_id, status, COUNT(*) AS n").
		Where("game_id IN ?", ids).
		Group("game_id, status").
		Scan(&rows).Error; err != nil {
		return err
	}
	byGame := make(map[string]map[models.RegistrationStatus]int64)
	for _, r := range rows {
		if byGame[r.GameID] == nil {
			byGame[r.GameID] = make(map[models.RegistrationStatus]int64)
		}
		byGame[r.GameID][r.Status] = r.N
	}
	for i := range games {
		counts := byGame[games[i].ID]
		games[i].SelectedCount = counts[models.RegistrationStatusSelected]
		games[i].ReserveCount = counts[models.RegistrationStatusReserve]
		games[i].DropoutCount = counts[models.RegistrationStatusDroppedOut]
	}
	return nil
}

// ---- HTTP endpoints ----

func (s *GameService) CreateGameEndpoint(c *fiber.Ctx) error {
	var req struct {
		Name       string `json:"name"`
		GameDate   string `json:"game_date"`
		MaxPlayers int    `json:"max_players"`
		Venue      string `json:"venue"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Name == "" || req.GameDate == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name and game_date are required"})
	}
	gameDate, err := time.Parse(time.RFC3339, req.GameDate)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "game_date must be RFC3339"})
	}

	game, err := s.CreateGame(req.Name, gameDate, req.MaxPlayers, req.Venue)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create game"})
	}
	return c.Status(fiber.StatusCreated).JSON(game)
}

func (s *GameService) CompleteGameEndpoint(c *fiber.Ctx) error {
	gameID := c.Params("id")
	res, err := s.CompleteGame(gameID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Game not found"})
		}
		log.Printf("⚠️ [GAME] Completion failed for %s: %v", gameID, err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to complete game"})
	}
	return c.JSON(res)
}

func (s *GameService) GetAllGames(c *fiber.Ctx) error {
	q := s.DB.Model(&models.Game{}).Order("sequence_number DESC")
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	var games []models.Game
	if err := q.Find(&games).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch games"})
	}
	if err := s.attachCounts(games); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch games"})
	}
	return c.JSON(games)
}

func (s *GameService) GetGameByID(c *fiber.Ctx) error {
	var game models.Game
	if err := s.DB.Preload("Registrations.Player").
		First(&game, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Game not found"})
	}
	for _, r := range game.Registrations {
		switch r.Status {
		case models.RegistrationStatusSelected:
			game.SelectedCount++
		case models.RegistrationStatusReserve:
			game.ReserveCount++
		case models.RegistrationStatusDroppedOut:
			game.DropoutCount++
		}
	}
	return c.JSON(game)
}

// GetMinimalGames returns the lightweight schedule used by list views.
func (s *GameService) GetMinimalGames(c *fiber.Ctx) error {
	var games []models.Game
	if err := s.DB.Order("sequence_number DESC").Find(&games).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch games"})
	}
	minis := make([]models.MiniGame, 0, len(games))
	for _, g := range games {
		minis = append(minis, models.MiniGame{
			ID:             g.ID,
			SequenceNumber: g.SequenceNumber,
			Name:           g.Name,
			GameDate:       g.GameDate,
			Status:         g.Status,
			MaxPlayers:     g.MaxPlayers,
			Venue:          g.Venue,
		})
	}
	return c.JSON(minis)
}

func (s *GameService) SearchPlayers(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing search query"})
	}
	var players []models.Player
	if err := s.DB.
		Where("LOWER(display_name) LIKE ? OR LOWER(email) LIKE ?",
			"%"+strings.ToLower(query)+"%", "%"+strings.ToLower(query)+"%").
		Limit(25).Find(&players).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Search failed"})
	}
	return c.JSON(players)
}

// GetPlayerProfile returns a player with the derived streak numbers the
// frontend shows next to the raw columns.
func (s *GameService) GetPlayerProfile(c *fiber.Ctx) error {
	var player models.Player
	if err := s.DB.First(&player, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Player not found"})
	}
	return c.JSON(fiber.Map{
		"player":           player,
		"natural_streak":   player.NaturalStreak(),
		"effective_streak": EffectiveStreak(&player),
	})
}

// PlayerScoringEndpoint exposes one player's streak state to the scoring
// service, which folds it into the merit calculation.
func (s *GameService) PlayerScoringEndpoint(c *fiber.Ctx) error {
	var player models.Player
	if err := s.DB.First(&player, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Player not found"})
	}
	return c.JSON(fiber.Map{
		"player_id":              player.ID,
		"external_user_id":       player.ExternalUserID,
		"current_streak":         player.CurrentStreak,
		"bench_warmer_streak":    player.BenchWarmerStreak,
		"shield_active":          player.ShieldActive,
		"protected_streak_value": player.ProtectedStreakValue,
		"injury_streak_bonus":    player.InjuryStreakBonus,
		"effective_streak":       EffectiveStreak(&player),
	})
}

// ScoringReportEndpoint feeds the external scoring service: attendance and
// streak standings for one completed game, pulled after completion.
func (s *GameService) ScoringReportEndpoint(c *fiber.Ctx) error {
	var game models.Game
	if err := s.DB.First(&game, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Game not found"})
	}
	if game.Status != models.GameStatusCompleted {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Game is not completed yet"})
	}

	var regs []models.GameRegistration
	if err := s.DB.Preload("Player").Where("game_id = ?", game.ID).Find(&regs).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch registrations"})
	}

	rows := make([]fiber.Map, 0, len(regs))
	for _, r := range regs {
		row := fiber.Map{
			"player_id": r.PlayerID,
			"status":    r.Status,
		}
		if r.Player != nil {
			row["external_user_id"] = r.Player.ExternalUserID
			row["current_streak"] = r.Player.CurrentStreak
			row["bench_warmer_streak"] = r.Player.BenchWarmerStreak
			row["effective_streak"] = EffectiveStreak(r.Player)
		}
		rows = append(rows, row)
	}
	return c.JSON(fiber.Map{
		"game_id":         game.ID,
		"sequence_number": game.SequenceNumber,
		"completed_at":    game.CompletedAt,
		"players":         rows,
	})
}
