package timesession

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"team-collab-backend/pkg/apperr"
	"team-collab-backend/pkg/clock"
	"team-collab-backend/pkg/database"
	"team-collab-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T, start time.Time, loc *time.Location) (*Tracker, *clock.Fake, *database.LocalDatabase, string) {
	t.Helper()
	db, err := database.NewLocalDatabase("")
	require.NoError(t, err)
	user := &models.User{Email: "u@example.com", Name: "U"}
	require.NoError(t, db.CreateUser(context.Background(), user))

	clk := clock.NewFake(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTracker(db, clk, loc, logger), clk, db, user.ID
}

func TestStartStop(t *testing.T) {
	tr, clk, _, userID := newTracker(t, time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC), time.UTC)
	ctx := context.Background()

	started, err := tr.Start(ctx, userID)
	require.NoError(t, err)
	assert.True(t, started.Ongoing())
	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), started.Date)

	clk.Advance(90*time.Minute + 500*time.Millisecond)
	stopped, err := tr.Stop(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5400), stopped.TimeSpent)
	require.NotNil(t, stopped.EndTime)
}

func TestStart_TwiceIsConflict(t *testing.T) {
	tr, _, db, userID := newTracker(t, time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC), time.UTC)
	ctx := context.Background()

	_, err := tr.Start(ctx, userID)
	require.NoError(t, err)
	_, err = tr.Start(ctx, userID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, apperr.CodeSessionAlreadyActive, apperr.CodeOf(err))

	u, err := db.GetUserByID(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, u.TimeSessions, 1)
}

func TestStop_WithoutStartMutatesNothing(t *testing.T) {
	tr, _, db, userID := newTracker(t, time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC), time.UTC)
	ctx := context.Background()

	before, err := db.GetUserByID(ctx, userID)
	require.NoError(t, err)

	_, err = tr.Stop(ctx, userID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, apperr.CodeNoActiveSession, apperr.CodeOf(err))

	after, err := db.GetUserByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Empty(t, after.TimeSessions)
}

func TestSessionAcrossMidnightStaysOnStartDay(t *testing.T) {
	tr, clk, _, userID := newTracker(t, time.Date(2024, 5, 6, 23, 30, 0, 0, time.UTC), time.UTC)
	ctx := context.Background()

	_, err := tr.Start(ctx, userID)
	require.NoError(t, err)

	// next day: a new start is still blocked by yesterday's open session
	clk.Advance(time.Hour)
	_, err = tr.Start(ctx, userID)
	assert.Equal(t, apperr.CodeSessionAlreadyActive, apperr.CodeOf(err))

	stopped, err := tr.Stop(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3600), stopped.TimeSpent)
	assert.Equal(t, 6, stopped.Date.Day())
}

func TestDayBoundaryUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	// 20:00 UTC is 01:00 the next day at UTC+5
	tr, _, _, userID := newTracker(t, time.Date(2024, 5, 6, 20, 0, 0, 0, time.UTC), loc)

	started, err := tr.Start(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 7, started.Date.In(loc).Day())
}

func TestList_PerDayTotals(t *testing.T) {
	tr, clk, _, userID := newTracker(t, time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC), time.UTC)
	ctx := context.Background()

	for _, d := range []time.Duration{time.Hour, 30 * time.Minute} {
		_, err := tr.Start(ctx, userID)
		require.NoError(t, err)
		clk.Advance(d)
		_, err = tr.Stop(ctx, userID)
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}
	clk.Set(time.Date(2024, 5, 7, 9, 0, 0, 0, time.UTC))
	_, err := tr.Start(ctx, userID)
	require.NoError(t, err)

	summary, err := tr.List(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, summary.Sessions, 3)
	require.Len(t, summary.Days, 2)
	assert.Equal(t, DayTotal{Date: "2024-05-07", TimeSpent: 0, Sessions: 1}, summary.Days[0])
	assert.Equal(t, DayTotal{Date: "2024-05-06", TimeSpent: 5400, Sessions: 2}, summary.Days[1])
	require.NotNil(t, summary.Active)
}

func TestUnknownUser(t *testing.T) {
	tr, _, _, _ := newTracker(t, time.Now(), time.UTC)
	_, err := tr.Start(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
