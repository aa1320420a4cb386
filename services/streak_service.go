package services

import (
	"errors"
	"fmt"
	"log"

	"league-roster-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// StreakService owns the streak recalculation pass. Every completed game
// triggers a full rewrite of current_streak and bench_warmer_streak for every
// player — including the zeroing of players who fell off their streak, which
// happens inside the same pass, never as a separate step.
type StreakService struct {
	DB *gorm.DB

	// Passive shield token economy
	ShieldEarnEvery int // one token per this many selected appearances
	ShieldTokenCap  int
}

func NewStreakService(db *gorm.DB, earnEvery, tokenCap int) *StreakService {
	return &StreakService{DB: db, ShieldEarnEvery: earnEvery, ShieldTokenCap: tokenCap}
}

// StreakLine is one player's recomputed attendance state, reported by the
// pass for logging and the completion snapshot.
type StreakLine struct {
	PlayerID     string `json:"player_id"`
	Natural      int    `json:"natural"`
	Bonus        int    `json:"injury_streak_bonus"`
	Current      int    `json:"current_streak"`
	BenchWarmer  int    `json:"bench_warmer_streak"`
	BonusCleared bool   `json:"bonus_cleared,omitempty"`
}

// gameRef is the slice element the walks run over: completed games ordered by
// sequence_number, most recent first.
type gameRef struct {
	ID             string
	SequenceNumber int
}

// attendanceBook holds every completed game plus each player's registration
// status per game. Built once per completion inside the transaction so the
// injury, shield and recompute steps all see the same history.
type attendanceBook struct {
	games    []gameRef                                       // newest first
	statuses map[string]map[string]models.RegistrationStatus // playerID → gameID → status
}

func (b *attendanceBook) statusOf(playerID, gameID string) models.RegistrationStatus {
	line, ok := b.statuses[playerID]
	if !ok {
		return ""
	}
	return line[gameID]
}

// naturalStreak counts trailing consecutive selected appearances starting at
// the most recent completed game. Any completed game without a selected
// registration for the player — absence included — ends the walk.
func (b *attendanceBook) naturalStreak(playerID string) int {
	return b.trailingCount(playerID, models.RegistrationStatusSelected)
}

// benchStreak is the identical walk over reserve status.
func (b *attendanceBook) benchStreak(playerID string) int {
	return b.trailingCount(playerID, models.RegistrationStatusReserve)
}

func (b *attendanceBook) trailingCount(playerID string, want models.RegistrationStatus) int {
	line := b.statuses[playerID]
	n := 0
	for _, g := range b.games {
		if line[g.ID] != want {
			break
		}
		n++
	}
	return n
}

// selectedTotal counts all selected appearances across completed games,
// consecutive or not. Drives passive shield token accrual.
func (b *attendanceBook) selectedTotal(playerID string) int {
	line := b.statuses[playerID]
	n := 0
	for _, g := range b.games {
		if line[g.ID] == models.RegistrationStatusSelected {
			n++
		}
	}
	return n
}

// loadAttendance reads the full completed-game history inside tx.
func loadAttendance(tx *gorm.DB) (*attendanceBook, error) {
	var games []gameRef
	if err := tx.Model(&models.Game{}).
		Select("id", "sequence_number").
		Where("status = ?", models.GameStatusCompleted).
		Order("sequence_number DESC").
		Find(&games).Error; err != nil {
		return nil, fmt.Errorf("load completed games: %w", err)
	}

	book := &attendanceBook{
		games:    games,
		statuses: make(map[string]map[string]models.RegistrationStatus),
	}
	if len(games) == 0 {
		return book, nil
	}

	gameIDs := make([]string, len(games))
	for i, g := range games {
		gameIDs[i] = g.ID
	}

	var regs []models.GameRegistration
	if err := tx.Model(&models.GameRegistration{}).
		Select("game_id", "player_id", "status").
		Where("game_id IN ?", gameIDs).
		Find(&regs).Error; err != nil {
		return nil, fmt.Errorf("load registrations: %w", err)
	}
	for _, r := range regs {
		line, ok := book.statuses[r.PlayerID]
		if !ok {
			line = make(map[string]models.RegistrationStatus)
			book.statuses[r.PlayerID] = line
		}
		line[r.GameID] = r.Status
	}
	return book, nil
}

// EffectiveStreak is the value collaborators score and display with. While a
// shield is active the protected value decays linearly toward the natural
// count: max(natural, protected − natural), floored at the stored streak so
// an injury bonus riding on top is never hidden.
func EffectiveStreak(p *models.Player) int {
	if p.ShieldActive && p.ProtectedStreakValue != nil {
		natural := p.NaturalStreak()
		eff := *p.ProtectedStreakValue - natural
		if eff < p.CurrentStreak {
			eff = p.CurrentStreak
		}
		return eff
	}
	return p.CurrentStreak
}

// ceilHalf returns ceil(n/2) for non-negative n.
func ceilHalf(n int) int {
	return (n + 1) / 2
}

// recalculateAll rewrites streak state for every player in one pass. The
// injury bonus survives recomputes while the natural count stays positive and
// is cleared in the same statement the moment it recomputes to zero.
func (s *StreakService) recalculateAll(tx *gorm.DB, book *attendanceBook) ([]StreakLine, error) {
	var players []models.Player
	if err := tx.Select("id", "current_streak", "bench_warmer_streak", "injury_streak_bonus").
		Find(&players).Error; err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}

	lines := make([]StreakLine, 0, len(players))
	for i := range players {
		p := &players[i]
		line, err := s.applyRecompute(tx, p, book)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// recalculatePlayer is the single-row path. It runs the identical walk over
// the identical history, so its result always matches what the full pass
// would write for that player.
func (s *StreakService) recalculatePlayer(tx *gorm.DB, playerID string) (StreakLine, error) {
	var p models.Player
	if err := tx.Select("id", "current_streak", "bench_warmer_streak", "injury_streak_bonus").
		First(&p, "id = ?", playerID).Error; err != nil {
		return StreakLine{}, err
	}
	book, err := loadAttendance(tx)
	if err != nil {
		return StreakLine{}, err
	}
	return s.applyRecompute(tx, &p, book)
}

// RecalculatePlayerStreak recomputes one player outside a completion pass
// (admin repair path).
func (s *StreakService) RecalculatePlayerStreak(playerID string) (StreakLine, error) {
	var line StreakLine
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var txErr error
		line, txErr = s.recalculatePlayer(tx, playerID)
		return txErr
	})
	return line, err
}

func (s *StreakService) applyRecompute(tx *gorm.DB, p *models.Player, book *attendanceBook) (StreakLine, error) {
	natural := book.naturalStreak(p.ID)
	bench := book.benchStreak(p.ID)

	bonus := p.InjuryStreakBonus
	bonusCleared := false
	if natural == 0 && bonus != 0 {
		bonus = 0
		bonusCleared = true
	}
	current := natural + bonus

	line := StreakLine{
		PlayerID:     p.ID,
		Natural:      natural,
		Bonus:        bonus,
		Current:      current,
		BenchWarmer:  bench,
		BonusCleared: bonusCleared,
	}

	if current == p.CurrentStreak && bench == p.BenchWarmerStreak && bonus == p.InjuryStreakBonus {
		return line, nil
	}
	if err := tx.Model(&models.Player{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
		"current_streak":      current,
		"bench_warmer_streak": bench,
		"injury_streak_bonus": bonus,
	}).Error; err != nil {
		return line, fmt.Errorf("write streaks for player %s: %w", p.ID, err)
	}
	if bonusCleared {
		log.Printf("⚽ [STREAK] Injury bonus cleared for player %s (natural streak hit 0)", p.ID)
	}
	return line, nil
}

// accrueShieldTokens grants one token to each player selected in the freshly
// completed game whose lifetime selected count just crossed a multiple of
// ShieldEarnEvery. The cap is enforced inside the update statement.
func (s *StreakService) accrueShieldTokens(tx *gorm.DB, game *models.Game, book *attendanceBook) ([]string, error) {
	if s.ShieldEarnEvery <= 0 {
		return nil, nil
	}
	var accrued []string
	for playerID, line := range book.statuses {
		if line[game.ID] != models.RegistrationStatusSelected {
			continue
		}
		total := book.selectedTotal(playerID)
		if total == 0 || total%s.ShieldEarnEvery != 0 {
			continue
		}
		res := tx.Model(&models.Player{}).
			Where("id = ? AND shield_tokens_available < ?", playerID, s.ShieldTokenCap).
			Update("shield_tokens_available", gorm.Expr("shield_tokens_available + 1"))
		if res.Error != nil {
			return accrued, fmt.Errorf("accrue shield token for player %s: %w", playerID, res.Error)
		}
		if res.RowsAffected > 0 {
			accrued = append(accrued, playerID)
			log.Printf("🛡️ [SHIELD] Token earned by player %s (%d selected appearances)", playerID, total)
		}
	}
	return accrued, nil
}

// ---- HTTP endpoints ----

// RecalculatePlayerEndpoint is the admin repair path when a player's counts
// look wrong: recompute one player from the full game history.
func (s *StreakService) RecalculatePlayerEndpoint(c *fiber.Ctx) error {
	playerID := c.Params("id")
	line, err := s.RecalculatePlayerStreak(playerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Player not found"})
		}
		log.Printf("⚠️ [STREAK] Recalculation failed for %s: %v", playerID, err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to recalculate streak"})
	}
	return c.JSON(line)
}
