package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"clockbot/internal/db/models"
	"clockbot/internal/timeutil"
)

type StartSessionRequest struct {
	GuildID     int64
	Name        string
	CreatedBy   int64
	CreatorName string
	Now         int64
}

// StartSession opens a new session for the guild. It fails with
// ErrSessionAlreadyOpen while another session is open and with
// ErrDuplicateSessionName when the store rejects the name.
func (l *Ledger) StartSession(ctx context.Context, req StartSessionRequest) (*models.Session, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalidInput("Session name must not be empty")
	}

	release, err := l.lockSession(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := l.store.GetSession(ctx, req.GuildID)
	if err != nil {
		return nil, storageError("get session", err)
	}
	if existing != nil {
		return nil, withMessage(ErrSessionAlreadyOpen,
			fmt.Sprintf("Sorry, a session, %s, is already in place, please end the session before starting a new one", existing.Name))
	}

	session := &models.Session{
		GuildID:        req.GuildID,
		Name:           name,
		CreatedBy:      req.CreatedBy,
		StartTimestamp: req.Now,
		DebugStart:     timeutil.ISO(req.Now, l.loc),
		DebugStartedBy: req.CreatorName,
	}
	rowID, err := l.store.SetSession(ctx, req.GuildID, session)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateSessionName):
			return nil, ErrDuplicateSessionName
		case errors.Is(err, ErrSessionAlreadyOpen):
			// opened by another process since the check above
			return nil, ErrSessionAlreadyOpen
		}
		return nil, storageError("set session", err)
	}
	session.RowID = rowID

	l.logger.Info("session started",
		guildField(req.GuildID), zap.String("session", name), zap.Int64("created_by", req.CreatedBy))
	return session, nil
}

type EndSessionRequest struct {
	GuildID   int64
	EndedBy   int64
	EnderName string
	Now       int64
}

// MemberFailure is a member whose forced clock-out failed.
type MemberFailure struct {
	UserID int64
	Err    error
}

type EndSessionResult struct {
	Session models.Session
	// Closed are the historical records of the force-closed members.
	Closed []models.AttendanceRecord
	// Bonuses are the bonus records stored for Closed.
	Bonuses  []models.AttendanceRecord
	Failures []MemberFailure
	// QueueErr is set when the replacement queue could not be cleared.
	QueueErr error
}

// EndSession closes the guild's session: every active member is clocked out
// at now, bonus records are stored, the session is archived and removed and
// the replacement queue is cleared. Individual clock-out failures do not stop
// the operation; they are reported in Failures.
//
// If archiving or removing the session fails after the clock-outs the
// partial result is returned together with the error and the session stays
// open; calling EndSession again completes it.
func (l *Ledger) EndSession(ctx context.Context, req EndSessionRequest) (*EndSessionResult, error) {
	release, err := l.lockSession(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := l.store.GetSession(ctx, req.GuildID)
	if err != nil {
		return nil, storageError("get session", err)
	}
	if session == nil {
		return nil, ErrNoSessionOpen
	}

	session.EndedBy = req.EndedBy
	session.EndTimestamp = req.Now
	session.DebugEnd = timeutil.ISO(req.Now, l.loc)
	session.DebugEndedBy = req.EnderName
	session.DebugDelta = timeutil.Hours(session.Seconds())

	actives, err := l.store.GetAllActive(ctx, req.GuildID)
	if err != nil {
		return nil, storageError("get active records", err)
	}

	result := &EndSessionResult{}
	seen := make(map[int64]bool, len(actives))
	for _, active := range actives {
		if seen[active.UserID] {
			continue
		}
		seen[active.UserID] = true

		closed, err := l.forceClose(ctx, req.GuildID, active.UserID, req.Now)
		if err != nil {
			result.Failures = append(result.Failures, MemberFailure{UserID: active.UserID, Err: err})
			continue
		}
		result.Closed = append(result.Closed, closed.Record)
		result.Bonuses = append(result.Bonuses, closed.Bonuses...)
		for _, bErr := range closed.BonusErrors {
			result.Failures = append(result.Failures, MemberFailure{UserID: active.UserID, Err: bErr})
		}
	}
	result.Session = *session

	if err := l.store.StoreHistoricalSession(ctx, req.GuildID, session); err != nil {
		l.logger.Error("failed to archive session",
			guildField(req.GuildID), zap.String("session", session.Name), zap.Error(err))
		return result, storageError("store historical session", err)
	}
	if err := l.store.DeleteSession(ctx, req.GuildID); err != nil {
		l.logger.Error("failed to delete current session",
			guildField(req.GuildID), zap.String("session", session.Name), zap.Error(err))
		return result, storageError("delete session", err)
	}
	if l.queue != nil {
		if err := l.queue.Clear(ctx, req.GuildID); err != nil {
			l.logger.Warn("failed to clear replacement queue", guildField(req.GuildID), zap.Error(err))
			result.QueueErr = err
		}
	}

	l.logger.Info("session ended",
		guildField(req.GuildID),
		zap.String("session", session.Name),
		zap.Int64("seconds", session.Seconds()),
		zap.Int("closed", len(result.Closed)),
		zap.Int("bonuses", len(result.Bonuses)),
		zap.Int("failures", len(result.Failures)))
	return result, nil
}

func (l *Ledger) forceClose(ctx context.Context, guildID, userID, now int64) (*ClockOutResult, error) {
	release, err := l.lockMember(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.closeOut(ctx, guildID, userID, now)
}

// CurrentSession returns the guild's open session, or nil.
func (l *Ledger) CurrentSession(ctx context.Context, guildID int64) (*models.Session, error) {
	session, err := l.store.GetSession(ctx, guildID)
	if err != nil {
		return nil, storageError("get session", err)
	}
	return session, nil
}
