// Package ledger implements the session and attendance ledger: the
// attendance state machine, the session lifecycle, bonus-window awards and
// the aggregate queries over history.
package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"clockbot/internal/db/models"
	"clockbot/internal/timeutil"
)

// Ledger serializes session start/end per guild and clock-in/out per
// member. Session locks are always taken before member locks.
type Ledger struct {
	store    Store
	queue    ReplacementQueue
	settings GuildSettings
	loc      *time.Location
	logger   *zap.Logger

	sessionLocks *keyedLocks[int64]
	memberLocks  *keyedLocks[memberKey]
}

// New creates a ledger. queue may be nil when no replacement queue is
// configured. loc is the time zone bonus windows are evaluated in.
func New(store Store, queue ReplacementQueue, settings GuildSettings, loc *time.Location, logger *zap.Logger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:        store,
		queue:        queue,
		settings:     settings,
		loc:          loc,
		logger:       logger,
		sessionLocks: newKeyedLocks[int64](),
		memberLocks:  newKeyedLocks[memberKey](),
	}
}

// Location returns the display time zone.
func (l *Ledger) Location() *time.Location {
	return l.loc
}

func (l *Ledger) lockSession(ctx context.Context, guildID int64) (func(), error) {
	release, err := l.sessionLocks.acquire(ctx, guildID)
	if err != nil {
		return nil, storageError("acquire session lock", err)
	}
	return release, nil
}

func (l *Ledger) lockMember(ctx context.Context, guildID, userID int64) (func(), error) {
	release, err := l.memberLocks.acquire(ctx, memberKey{guildID: guildID, userID: userID})
	if err != nil {
		return nil, storageError("acquire member lock", err)
	}
	return release, nil
}

// currentSession returns the open session or ErrNoActiveSession.
func (l *Ledger) currentSession(ctx context.Context, guildID int64) (*models.Session, error) {
	session, err := l.store.GetSession(ctx, guildID)
	if err != nil {
		return nil, storageError("get session", err)
	}
	if session == nil {
		return nil, ErrNoActiveSession
	}
	return session, nil
}

// activeFor returns every active record of userID.
func (l *Ledger) activeFor(ctx context.Context, guildID, userID int64) ([]models.AttendanceRecord, []models.AttendanceRecord, error) {
	actives, err := l.store.GetAllActive(ctx, guildID)
	if err != nil {
		return nil, nil, storageError("get active records", err)
	}
	var found []models.AttendanceRecord
	for _, a := range actives {
		if a.UserID == userID {
			found = append(found, a)
		}
	}
	return found, actives, nil
}

func (l *Ledger) bonusWindows(guildID int64) []BonusWindow {
	if l.settings == nil {
		return nil
	}
	return WindowsFromConfig(l.settings.Guild(guildID).BonusHours)
}

// setDebug fills the display-only fields of a closed record.
func (l *Ledger) setDebug(rec *models.AttendanceRecord) {
	rec.DebugIn = timeutil.ISO(rec.InTimestamp, l.loc)
	if rec.OutTimestamp != nil {
		rec.DebugOut = timeutil.ISO(*rec.OutTimestamp, l.loc)
		rec.DebugDelta = timeutil.Hours(rec.Seconds())
	}
}

func guildField(guildID int64) zap.Field {
	return zap.Int64("guild", guildID)
}

func userField(userID int64) zap.Field {
	return zap.Int64("user", userID)
}
