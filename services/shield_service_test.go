package services

import (
	"testing"
	"time"

	"league-roster-system/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newShieldService(db *gorm.DB, clock clockwork.Clock) *ShieldService {
	offers := NewOfferService(db, clock, 24*time.Hour, nil)
	return NewShieldService(db, clock, 4, offers, nil)
}

func seedShieldUsage(t *testing.T, db *gorm.DB, playerID, gameID string, value int) *models.ShieldTokenUsage {
	t.Helper()
	u := &models.ShieldTokenUsage{
		ID:                   uuid.NewString(),
		PlayerID:             playerID,
		GameID:               gameID,
		ProtectedStreakValue: value,
		IsActive:             true,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func TestSpendShield_FreezesEffectiveValue(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusUpcoming, testAnchor.AddDate(0, 0, 7))
	p := seedPlayer(t, db, "Mia")
	require.NoError(t, db.Model(p).Updates(map[string]interface{}{
		"current_streak":          6,
		"shield_tokens_available": 2,
	}).Error)

	res, err := svc.SpendShield(p.ID, game.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	got := reloadPlayer(t, db, p.ID)
	assert.True(t, got.ShieldActive)
	require.NotNil(t, got.ProtectedStreakValue)
	assert.Equal(t, 6, *got.ProtectedStreakValue)
	require.NotNil(t, got.FrozenStreakValue)
	assert.Equal(t, 6, *got.FrozenStreakValue)
	assert.Equal(t, 1, got.ShieldTokensAvailable)

	var usage models.ShieldTokenUsage
	require.NoError(t, db.First(&usage, "player_id = ? AND game_id = ?", p.ID, game.ID).Error)
	assert.True(t, usage.IsActive)
	assert.Equal(t, 6, usage.ProtectedStreakValue)
}

func TestSpendShield_ReactivationRebases(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)

	gameA := seedGame(t, db, 1, models.GameStatusUpcoming, testAnchor.AddDate(0, 0, 7))
	gameB := seedGame(t, db, 2, models.GameStatusUpcoming, testAnchor.AddDate(0, 0, 14))
	p := seedPlayer(t, db, "Noa")
	require.NoError(t, db.Model(p).Updates(map[string]interface{}{
		"current_streak":          10,
		"shield_tokens_available": 2,
	}).Error)

	res, err := svc.SpendShield(p.ID, gameA.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	// The natural streak dropped to 2 while the first shield held at 10. A
	// second spend re-bases: max(2, 10 − 2) = 8.
	require.NoError(t, db.Model(p).Update("current_streak", 2).Error)

	res, err = svc.SpendShield(p.ID, gameB.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	got := reloadPlayer(t, db, p.ID)
	require.NotNil(t, got.ProtectedStreakValue)
	assert.Equal(t, 8, *got.ProtectedStreakValue)
	assert.Equal(t, 0, got.ShieldTokensAvailable)

	var active int64
	require.NoError(t, db.Model(&models.ShieldTokenUsage{}).
		Where("player_id = ? AND is_active = ?", p.ID, true).Count(&active).Error)
	assert.EqualValues(t, 2, active, "both spends stay live, one per bridged game")
}

func TestSpendShield_RequiresToken(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusUpcoming, testAnchor.AddDate(0, 0, 7))
	p := seedPlayer(t, db, "Oli")
	require.NoError(t, db.Model(p).Update("current_streak", 4).Error)

	res, err := svc.SpendShield(p.ID, game.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "no shield tokens")

	got := reloadPlayer(t, db, p.ID)
	assert.False(t, got.ShieldActive)
	assert.Nil(t, got.ProtectedStreakValue)
}

func TestSpendShield_OnePerGame(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusUpcoming, testAnchor.AddDate(0, 0, 7))
	p := seedPlayer(t, db, "Pam")
	require.NoError(t, db.Model(p).Updates(map[string]interface{}{
		"current_streak":          5,
		"shield_tokens_available": 3,
	}).Error)

	res, err := svc.SpendShield(p.ID, game.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = svc.SpendShield(p.ID, game.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 2, reloadPlayer(t, db, p.ID).ShieldTokensAvailable, "only the first spend costs a token")
}

func TestSpendShield_RejectsCompletedGame(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusCompleted, testAnchor.AddDate(0, 0, -7))
	p := seedPlayer(t, db, "Quin")
	require.NoError(t, db.Model(p).Updates(map[string]interface{}{
		"current_streak":          5,
		"shield_tokens_available": 1,
	}).Error)

	res, err := svc.SpendShield(p.ID, game.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, reloadPlayer(t, db, p.ID).ShieldTokensAvailable)
}

func TestSpendShield_RejectsZeroStreak(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusUpcoming, testAnchor.AddDate(0, 0, 7))
	p := seedPlayer(t, db, "Rae")
	require.NoError(t, db.Model(p).Update("shield_tokens_available", 1).Error)

	res, err := svc.SpendShield(p.ID, game.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "no streak to protect")
	assert.Equal(t, 1, reloadPlayer(t, db, p.ID).ShieldTokensAvailable)
}

func TestSpendShield_SupersedesInjuryToken(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)

	claimGame := seedGame(t, db, 1, models.GameStatusCompleted, testAnchor.AddDate(0, 0, -7))
	game := seedGame(t, db, 2, models.GameStatusUpcoming, testAnchor.AddDate(0, 0, 7))
	p := seedPlayer(t, db, "Sol")
	require.NoError(t, db.Model(p).Updates(map[string]interface{}{
		"current_streak":          5,
		"shield_tokens_available": 1,
		"injury_token_active":     true,
		"injury_original_streak":  5,
		"injury_return_streak":    3,
		"injury_game_id":          claimGame.ID,
	}).Error)
	require.NoError(t, db.Create(&models.InjuryTokenUsage{
		ID:             uuid.NewString(),
		PlayerID:       p.ID,
		GameID:         claimGame.ID,
		OriginalStreak: 5,
		ReturnStreak:   3,
		Status:         models.InjuryTokenActive,
	}).Error)

	res, err := svc.SpendShield(p.ID, game.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	got := reloadPlayer(t, db, p.ID)
	assert.True(t, got.ShieldActive)
	assert.False(t, got.InjuryTokenActive)
	assert.Equal(t, 0, got.InjuryReturnStreak)
	assert.Nil(t, got.InjuryGameID)

	var usage models.InjuryTokenUsage
	require.NoError(t, db.First(&usage, "player_id = ?", p.ID).Error)
	assert.Equal(t, models.InjuryTokenDenied, usage.Status)
	require.NotNil(t, usage.DenialReason)
	assert.EqualValues(t, "superseded_by_shield", *usage.DenialReason)
}

func TestSpendShield_SelectedPlayerFreesSlot(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	svc := newShieldService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusTeamsAnnounced, now.Add(31*time.Hour))
	spender := seedPlayer(t, db, "Tia")
	require.NoError(t, db.Model(spender).Updates(map[string]interface{}{
		"current_streak":          5,
		"shield_tokens_available": 1,
	}).Error)
	sub := seedPlayer(t, db, "Uma")
	seedRegistration(t, db, game.ID, spender.ID, models.RegistrationStatusSelected)
	seedRegistration(t, db, game.ID, sub.ID, models.RegistrationStatusReserve)

	res, err := svc.SpendShield(spender.ID, game.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	var reg models.GameRegistration
	require.NoError(t, db.First(&reg, "game_id = ? AND player_id = ?", game.ID, spender.ID).Error)
	assert.Equal(t, models.RegistrationStatusDroppedOut, reg.Status)
	assert.True(t, reg.DroppedFromSelected)

	var got models.Game
	require.NoError(t, db.First(&got, "id = ?", game.ID).Error)
	assert.NotNil(t, got.FirstDropoutAt, "a shielded exit anchors the offer ramp like any dropout")

	var offer models.SlotOffer
	require.NoError(t, db.First(&offer, "game_id = ? AND player_id = ?", game.ID, sub.ID).Error)
	assert.Equal(t, models.SlotOfferPending, offer.Status)
	assert.Equal(t, 1, offer.RankAtOffer)
}

func TestCancelShield_RefundsAndClears(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusUpcoming, testAnchor.AddDate(0, 0, 7))
	p := seedPlayer(t, db, "Vic")
	require.NoError(t, db.Model(p).Updates(map[string]interface{}{
		"current_streak":          6,
		"shield_tokens_available": 2,
	}).Error)

	res, err := svc.SpendShield(p.ID, game.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = svc.CancelShield(p.ID, game.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	got := reloadPlayer(t, db, p.ID)
	assert.Equal(t, 2, got.ShieldTokensAvailable)
	assert.False(t, got.ShieldActive)
	assert.Nil(t, got.ProtectedStreakValue)

	var usage models.ShieldTokenUsage
	require.NoError(t, db.First(&usage, "player_id = ?", p.ID).Error)
	assert.False(t, usage.IsActive)
	require.NotNil(t, usage.RemovalReason)
	assert.Equal(t, models.ShieldRemovalCancelled, *usage.RemovalReason)

	res, err = svc.CancelShield(p.ID, game.ID)
	require.NoError(t, err)
	assert.False(t, res.Success, "nothing left to cancel")
}

func TestCancelShield_RefundNeverExceedsCap(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusUpcoming, testAnchor.AddDate(0, 0, 7))
	p := seedPlayer(t, db, "Wes")
	require.NoError(t, db.Model(p).Updates(map[string]interface{}{
		"current_streak":          6,
		"shield_tokens_available": 4,
	}).Error)

	res, err := svc.SpendShield(p.ID, game.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	// Tokens earned back up to the cap before the cancel lands.
	require.NoError(t, db.Model(p).Update("shield_tokens_available", 4).Error)

	res, err = svc.CancelShield(p.ID, game.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 4, reloadPlayer(t, db, p.ID).ShieldTokensAvailable)
}

func TestCancelShield_ProtectionHoldsWhileOtherSpendsLive(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)

	gameA := seedGame(t, db, 1, models.GameStatusUpcoming, testAnchor.AddDate(0, 0, 7))
	gameB := seedGame(t, db, 2, models.GameStatusUpcoming, testAnchor.AddDate(0, 0, 14))
	p := seedPlayer(t, db, "Xan")
	require.NoError(t, db.Model(p).Updates(map[string]interface{}{
		"current_streak":          6,
		"shield_tokens_available": 2,
	}).Error)

	for _, g := range []*models.Game{gameA, gameB} {
		res, err := svc.SpendShield(p.ID, g.ID)
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	res, err := svc.CancelShield(p.ID, gameA.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	got := reloadPlayer(t, db, p.ID)
	assert.True(t, got.ShieldActive, "the spend for game B still needs the shield up")
	require.NotNil(t, got.ProtectedStreakValue)
	assert.Equal(t, 6, *got.ProtectedStreakValue)
	assert.Equal(t, 1, got.ShieldTokensAvailable)
}

// A completion landing between the spend and the cancel blocks the refund:
// the gate checks the game's current status, not the one the request saw.
func TestCancelShield_RejectsCompletedGame(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusTeamsAnnounced, testAnchor.Add(24*time.Hour))
	p := seedPlayer(t, db, "Quin")
	require.NoError(t, db.Model(p).Updates(map[string]interface{}{
		"current_streak":          5,
		"shield_tokens_available": 1,
	}).Error)

	res, err := svc.SpendShield(p.ID, game.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	require.NoError(t, db.Model(game).Update("status", models.GameStatusCompleted).Error)

	res, err = svc.CancelShield(p.ID, game.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "already completed")

	got := reloadPlayer(t, db, p.ID)
	assert.Equal(t, 0, got.ShieldTokensAvailable, "no refund after the whistle")
	assert.True(t, got.ShieldActive)
}

func TestGameShields_BreakOnUnshieldedAbsence(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)
	streaks := NewStreakService(db, 10, 4)

	games := seedCompletedGames(t, db, 3, testAnchor)
	p := seedPlayer(t, db, "Yan")
	protected := 8
	require.NoError(t, db.Model(p).Updates(map[string]interface{}{
		"current_streak":         8,
		"shield_active":          true,
		"protected_streak_value": protected,
		"frozen_streak_value":    protected,
	}).Error)
	// The shield was spent on game 2, not on the game being settled.
	seedShieldUsage(t, db, p.ID, games[1].ID, protected)
	seedRegistration(t, db, games[0].ID, p.ID, models.RegistrationStatusSelected)

	book, err := loadAttendance(db)
	require.NoError(t, err)
	events := &completionEvents{}
	require.NoError(t, svc.processGameShields(db, games[2], book, events))

	require.Len(t, events.shieldsBroken, 1)
	assert.Equal(t, p.ID, events.shieldsBroken[0].PlayerID)
	assert.Equal(t, protected, events.shieldsBroken[0].Protected)

	got := reloadPlayer(t, db, p.ID)
	assert.False(t, got.ShieldActive)
	assert.Nil(t, got.ProtectedStreakValue)

	var usage models.ShieldTokenUsage
	require.NoError(t, db.First(&usage, "player_id = ?", p.ID).Error)
	assert.False(t, usage.IsActive)
	require.NotNil(t, usage.RemovalReason)
	assert.Equal(t, models.ShieldRemovalBroken, *usage.RemovalReason)

	// The recompute that follows in the completion pass lands the streak on 0.
	_, err = streaks.recalculateAll(db, book)
	require.NoError(t, err)
	assert.Equal(t, 0, reloadPlayer(t, db, p.ID).CurrentStreak)
}

func TestGameShields_SpentShieldBridgesAbsence(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)

	games := seedCompletedGames(t, db, 3, testAnchor)
	p := seedPlayer(t, db, "Zed")
	protected := 8
	require.NoError(t, db.Model(p).Updates(map[string]interface{}{
		"shield_active":          true,
		"protected_streak_value": protected,
		"frozen_streak_value":    protected,
	}).Error)
	seedShieldUsage(t, db, p.ID, games[2].ID, protected)

	book, err := loadAttendance(db)
	require.NoError(t, err)
	events := &completionEvents{}
	require.NoError(t, svc.processGameShields(db, games[2], book, events))

	assert.Empty(t, events.shieldsBroken)
	assert.Empty(t, events.shieldsConverged)

	got := reloadPlayer(t, db, p.ID)
	assert.True(t, got.ShieldActive, "the absence was paid for")
	require.NotNil(t, got.ProtectedStreakValue)
	assert.Equal(t, protected, *got.ProtectedStreakValue)
}

func TestGameShields_ConvergenceAtHalfCeil(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)

	games := seedCompletedGames(t, db, 5, testAnchor)
	p := seedPlayer(t, db, "Abe")
	protected := 10
	require.NoError(t, db.Model(p).Updates(map[string]interface{}{
		"current_streak":         5,
		"shield_active":          true,
		"protected_streak_value": protected,
		"frozen_streak_value":    protected,
	}).Error)
	seedShieldUsage(t, db, p.ID, games[0].ID, protected)
	for _, g := range games {
		seedRegistration(t, db, g.ID, p.ID, models.RegistrationStatusSelected)
	}

	book, err := loadAttendance(db)
	require.NoError(t, err)
	events := &completionEvents{}
	require.NoError(t, svc.processGameShields(db, games[4], book, events))

	require.Len(t, events.shieldsConverged, 1)
	assert.Equal(t, protected, events.shieldsConverged[0].Protected)

	got := reloadPlayer(t, db, p.ID)
	assert.False(t, got.ShieldActive, "five straight games catch a protection of ten")

	var usage models.ShieldTokenUsage
	require.NoError(t, db.First(&usage, "player_id = ?", p.ID).Error)
	require.NotNil(t, usage.RemovalReason)
	assert.Equal(t, models.ShieldRemovalConverged, *usage.RemovalReason)
}

func TestGameShields_OddProtectionRoundsUp(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newShieldService(db, clock)

	games := seedCompletedGames(t, db, 5, testAnchor)
	p := seedPlayer(t, db, "Bea")
	protected := 11
	require.NoError(t, db.Model(p).Updates(map[string]interface{}{
		"current_streak":         5,
		"shield_active":          true,
		"protected_streak_value": protected,
		"frozen_streak_value":    protected,
	}).Error)
	for _, g := range games {
		seedRegistration(t, db, g.ID, p.ID, models.RegistrationStatusSelected)
	}

	book, err := loadAttendance(db)
	require.NoError(t, err)
	events := &completionEvents{}
	require.NoError(t, svc.processGameShields(db, games[4], book, events))

	assert.Empty(t, events.shieldsConverged, "eleven needs six, five is not enough")
	assert.True(t, reloadPlayer(t, db, p.ID).ShieldActive)

	// One more appearance tips it over.
	g6 := seedGame(t, db, 6, models.GameStatusCompleted, testAnchor.AddDate(0, 0, 7))
	seedRegistration(t, db, g6.ID, p.ID, models.RegistrationStatusSelected)

	book, err = loadAttendance(db)
	require.NoError(t, err)
	events = &completionEvents{}
	require.NoError(t, svc.processGameShields(db, g6, book, events))

	require.Len(t, events.shieldsConverged, 1)
	assert.False(t, reloadPlayer(t, db, p.ID).ShieldActive)
}
