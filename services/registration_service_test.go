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

func newRegistrationService(db *gorm.DB, clock clockwork.Clock) *RegistrationService {
	offers := NewOfferService(db, clock, 24*time.Hour, nil)
	return NewRegistrationService(db, clock, offers, nil)
}

func TestRegister_StatusFollowsGamePhase(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newRegistrationService(db, clock)

	open := seedGame(t, db, 1, models.GameStatusUpcoming, testAnchor.AddDate(0, 0, 7))
	announced := seedGame(t, db, 2, models.GameStatusTeamsAnnounced, testAnchor.AddDate(0, 0, 14))
	done := seedGame(t, db, 3, models.GameStatusCompleted, testAnchor.AddDate(0, 0, -7))
	p := seedPlayer(t, db, "Ro")

	res, err := svc.Register(p.ID, open.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	var reg models.GameRegistration
	require.NoError(t, db.First(&reg, "game_id = ? AND player_id = ?", open.ID, p.ID).Error)
	assert.Equal(t, models.RegistrationStatusRegistered, reg.Status)

	// Joining after the announcement lands straight on the reserve list.
	res, err = svc.Register(p.ID, announced.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	reg = models.GameRegistration{}
	require.NoError(t, db.First(&reg, "game_id = ? AND player_id = ?", announced.ID, p.ID).Error)
	assert.Equal(t, models.RegistrationStatusReserve, reg.Status)

	res, err = svc.Register(p.ID, done.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = svc.Register(p.ID, open.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "already registered")
}

func TestAnnounceTeams_SelectsTopByMerit(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newRegistrationService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusUpcoming, testAnchor.AddDate(0, 0, 7))
	require.NoError(t, db.Model(game).Update("max_players", 2).Error)

	merits := map[string]float64{"S1": 9, "S2": 8, "R1": 7, "R2": 6}
	players := make(map[string]*models.Player, len(merits))
	for name, merit := range merits {
		p := seedPlayer(t, db, name)
		require.NoError(t, db.Model(p).Update("merit_score", merit).Error)
		seedRegistration(t, db, game.ID, p.ID, models.RegistrationStatusRegistered)
		players[name] = p
	}

	res, err := svc.AnnounceTeams(game.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	statusOf := func(name string) models.GameRegistration {
		var reg models.GameRegistration
		require.NoError(t, db.First(&reg, "game_id = ? AND player_id = ?", game.ID, players[name].ID).Error)
		return reg
	}
	for _, name := range []string{"S1", "S2"} {
		reg := statusOf(name)
		assert.Equal(t, models.RegistrationStatusSelected, reg.Status, "%s should make the cut", name)
		assert.Equal(t, models.SelectionMethodMerit, reg.SelectionMethod)
	}
	for _, name := range []string{"R1", "R2"} {
		assert.Equal(t, models.RegistrationStatusReserve, statusOf(name).Status, "%s waits on the bench", name)
	}

	var got models.Game
	require.NoError(t, db.First(&got, "id = ?", game.ID).Error)
	assert.Equal(t, models.GameStatusTeamsAnnounced, got.Status)

	res, err = svc.AnnounceTeams(game.ID)
	require.NoError(t, err)
	assert.False(t, res.Success, "announcing twice must bounce")
}

func TestDropOut_SelectedExitStartsTheWaterfall(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	svc := newRegistrationService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusTeamsAnnounced, now.Add(30*time.Hour))
	leaver := seedPlayer(t, db, "Sam")
	seedRegistration(t, db, game.ID, leaver.ID, models.RegistrationStatusSelected)
	sub := seedReserve(t, db, game.ID, "Taz", 5)

	res, err := svc.DropOut(leaver.ID, game.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	var reg models.GameRegistration
	require.NoError(t, db.First(&reg, "game_id = ? AND player_id = ?", game.ID, leaver.ID).Error)
	assert.Equal(t, models.RegistrationStatusDroppedOut, reg.Status)
	assert.True(t, reg.DroppedFromSelected)

	var got models.Game
	require.NoError(t, db.First(&got, "id = ?", game.ID).Error)
	require.NotNil(t, got.FirstDropoutAt)
	assert.WithinDuration(t, now, *got.FirstDropoutAt, time.Second)

	offers := pendingOffersFor(t, db, game.ID)
	require.Len(t, offers, 1)
	assert.Equal(t, sub.ID, offers[0].PlayerID)

	res, err = svc.DropOut(leaver.ID, game.ID)
	require.NoError(t, err)
	assert.False(t, res.Success, "a second dropout has nothing left to drop")
}

func TestDropOut_ReserveExitVoidsOwnOffer(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	svc := newRegistrationService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusTeamsAnnounced, now.Add(30*time.Hour))
	p := seedReserve(t, db, game.ID, "Umi", 5)
	require.NoError(t, db.Create(&models.SlotOffer{
		ID:        uuid.NewString(),
		GameID:    game.ID,
		PlayerID:  p.ID,
		Status:    models.SlotOfferPending,
		OfferedAt: now.Add(-10 * time.Minute),
		ExpiresAt: now.Add(24 * time.Hour),
	}).Error)

	res, err := svc.DropOut(p.ID, game.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	var reg models.GameRegistration
	require.NoError(t, db.First(&reg, "game_id = ? AND player_id = ?", game.ID, p.ID).Error)
	assert.Equal(t, models.RegistrationStatusDroppedOut, reg.Status)
	assert.False(t, reg.DroppedFromSelected, "leaving the queue frees no slot")

	var offer models.SlotOffer
	require.NoError(t, db.First(&offer, "game_id = ? AND player_id = ?", game.ID, p.ID).Error)
	assert.Equal(t, models.SlotOfferVoided, offer.Status)

	var got models.Game
	require.NoError(t, db.First(&got, "id = ?", game.ID).Error)
	assert.Nil(t, got.FirstDropoutAt, "only a freed slot anchors the ramp")
}

func TestDropOut_RampAnchorIsSetOnce(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	svc := newRegistrationService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusTeamsAnnounced, now.Add(30*time.Hour))
	first := seedPlayer(t, db, "Von")
	second := seedPlayer(t, db, "Wyn")
	seedRegistration(t, db, game.ID, first.ID, models.RegistrationStatusSelected)
	seedRegistration(t, db, game.ID, second.ID, models.RegistrationStatusSelected)

	res, err := svc.DropOut(first.ID, game.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	clock.Advance(3 * time.Hour)
	res, err = svc.DropOut(second.ID, game.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	var got models.Game
	require.NoError(t, db.First(&got, "id = ?", game.ID).Error)
	require.NotNil(t, got.FirstDropoutAt)
	assert.WithinDuration(t, now, *got.FirstDropoutAt, time.Second, "the anchor keeps the first dropout's time")
}

// A completion landing between signup and the withdrawal request closes the
// door: the gate checks the game's current status, not the one the request
// saw.
func TestDropOut_RejectsCompletedGame(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newRegistrationService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusTeamsAnnounced, testAnchor.Add(2*time.Hour))
	p := seedPlayer(t, db, "Ola")
	seedRegistration(t, db, game.ID, p.ID, models.RegistrationStatusSelected)

	require.NoError(t, db.Model(game).Update("status", models.GameStatusCompleted).Error)

	res, err := svc.DropOut(p.ID, game.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "already completed")

	var reg models.GameRegistration
	require.NoError(t, db.First(&reg, "game_id = ? AND player_id = ?", game.ID, p.ID).Error)
	assert.Equal(t, models.RegistrationStatusSelected, reg.Status, "the played slot stays on the record")
}

func TestMarkPaid(t *testing.T) {
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testAnchor)
	svc := newRegistrationService(db, clock)

	game := seedGame(t, db, 1, models.GameStatusTeamsAnnounced, testAnchor.AddDate(0, 0, 7))
	p := seedPlayer(t, db, "Yva")
	seedRegistration(t, db, game.ID, p.ID, models.RegistrationStatusSelected)

	res, err := svc.MarkPaid(p.ID, game.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	var reg models.GameRegistration
	require.NoError(t, db.First(&reg, "game_id = ? AND player_id = ?", game.ID, p.ID).Error)
	assert.True(t, reg.Paid)

	res, err = svc.MarkPaid(p.ID, uuid.NewString())
	require.NoError(t, err)
	assert.False(t, res.Success)
}
