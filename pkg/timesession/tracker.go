// Package timesession records per-user daily work sessions.
//
// A user has at most one ongoing session across all days. Sessions are stored on
// the user document and written back with the document's version check.
package timesession

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"team-collab-backend/pkg/apperr"
	"team-collab-backend/pkg/clock"
	"team-collab-backend/pkg/database"
	"team-collab-backend/pkg/models"
)

const maxAttempts = 3

type Tracker struct {
	db       database.DatabaseInterface
	clock    clock.Clock
	location *time.Location
	logger   *slog.Logger
}

// NewTracker creates a tracker whose day boundaries fall at midnight in loc
func NewTracker(db database.DatabaseInterface, clk clock.Clock, loc *time.Location, logger *slog.Logger) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{db: db, clock: clk, location: loc, logger: logger}
}

// DayTotal is the seconds worked on one calendar day
type DayTotal struct {
	Date      string `json:"date"` // YYYY-MM-DD
	TimeSpent int64  `json:"time_spent"`
	Sessions  int    `json:"sessions"`
}

// Summary is a user's session history with per-day totals, newest day first
type Summary struct {
	Sessions []models.TimeSession `json:"sessions"`
	Days     []DayTotal           `json:"days"`
	Active   *models.TimeSession  `json:"active,omitempty"`
}

// Start opens a session for today. Fails if any session is still ongoing.
func (t *Tracker) Start(ctx context.Context, userID string) (*models.TimeSession, error) {
	var started models.TimeSession
	err := t.mutate(ctx, userID, func(u *models.User) error {
		if active(u) >= 0 {
			return apperr.Conflict(apperr.CodeSessionAlreadyActive, "a session is already active")
		}
		now := t.clock.Now()
		started = models.TimeSession{
			Date:      t.day(now),
			StartTime: now,
		}
		u.TimeSessions = append(u.TimeSessions, started)
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.logger.Info("session started", "user_id", userID)
	return &started, nil
}

// Stop closes the ongoing session and returns it with its elapsed whole seconds
func (t *Tracker) Stop(ctx context.Context, userID string) (*models.TimeSession, error) {
	var stopped models.TimeSession
	err := t.mutate(ctx, userID, func(u *models.User) error {
		i := active(u)
		if i < 0 {
			return apperr.Conflict(apperr.CodeNoActiveSession, "no active session")
		}
		now := t.clock.Now()
		s := &u.TimeSessions[i]
		s.EndTime = &now
		if d := now.Sub(s.StartTime); d > 0 {
			s.TimeSpent += int64(d / time.Second)
		}
		stopped = *s
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.logger.Info("session stopped", "user_id", userID, "time_spent", stopped.TimeSpent)
	return &stopped, nil
}

// List returns every session of the user plus per-day totals
func (t *Tracker) List(ctx context.Context, userID string) (*Summary, error) {
	u, err := t.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, database.Classify(err, apperr.CodeUserNotFound, "user")
	}

	summary := &Summary{Sessions: u.TimeSessions, Days: []DayTotal{}}
	if summary.Sessions == nil {
		summary.Sessions = []models.TimeSession{}
	}
	totals := make(map[string]*DayTotal)
	for i, s := range u.TimeSessions {
		key := s.Date.In(t.location).Format("2006-01-02")
		d, ok := totals[key]
		if !ok {
			d = &DayTotal{Date: key}
			totals[key] = d
		}
		d.TimeSpent += s.TimeSpent
		d.Sessions++
		if s.Ongoing() {
			active := u.TimeSessions[i]
			summary.Active = &active
		}
	}
	for _, d := range totals {
		summary.Days = append(summary.Days, *d)
	}
	sort.Slice(summary.Days, func(i, j int) bool {
		return summary.Days[i].Date > summary.Days[j].Date
	})
	return summary, nil
}

func (t *Tracker) day(now time.Time) time.Time {
	local := now.In(t.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, t.location)
}

func (t *Tracker) mutate(ctx context.Context, userID string, fn func(u *models.User) error) error {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		u, err := t.db.GetUserByID(ctx, userID)
		if err != nil {
			return database.Classify(err, apperr.CodeUserNotFound, "user")
		}
		if err := fn(u); err != nil {
			return err
		}
		err = t.db.UpdateUserSessions(ctx, u)
		if err == nil {
			return nil
		}
		if !errors.Is(err, database.ErrVersionConflict) {
			return database.Classify(err, apperr.CodeUserNotFound, "user")
		}
		t.logger.Debug("user version conflict, retrying", "user_id", userID, "attempt", attempt)
	}
	return apperr.Conflict(apperr.CodeVersionConflict, "sessions were modified concurrently, try again")
}

// active returns the index of the ongoing session, -1 if none
func active(u *models.User) int {
	for i := len(u.TimeSessions) - 1; i >= 0; i-- {
		if u.TimeSessions[i].Ongoing() {
			return i
		}
	}
	return -1
}
