package ledger

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"clockbot/internal/db/models"
	"clockbot/internal/timeutil"
)

// SkipQueueFunc asks the clocking-in member to confirm skipping the members
// ahead of them in the replacement queue. It must return within a bounded
// time; false (or a cancelled context) abandons the clock-in.
type SkipQueueFunc func(ctx context.Context, ahead []models.ReplacementEntry) (bool, error)

type ClockInRequest struct {
	GuildID     int64
	UserID      int64
	DisplayName string
	Character   string
	Now         int64
	SkipQueue   SkipQueueFunc
}

type ClockInResult struct {
	Record models.AttendanceRecord
	// Skipped are the queue entries the member jumped after confirming.
	Skipped []models.ReplacementEntry
	// RemovedFromQueue is set when the member's own queue entry was dropped.
	RemovedFromQueue bool
	// OverCapacity lists the active set when it exceeds MaxActive.
	OverCapacity []models.AttendanceRecord
	MaxActive    int
}

// ClockIn moves a member from inactive to active in the current session.
//
// The check for an existing active record and the insert run under the
// member's lock, so two concurrent clock-ins for the same member cannot both
// succeed; the store's unique (guild, user) constraint backs this up across
// processes.
func (l *Ledger) ClockIn(ctx context.Context, req ClockInRequest) (*ClockInResult, error) {
	release, err := l.lockMember(ctx, req.GuildID, req.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := l.currentSession(ctx, req.GuildID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			return nil, withMessage(ErrNoActiveSession, "Sorry, there is no current session to clock into")
		}
		return nil, err
	}
	found, actives, err := l.activeFor(ctx, req.GuildID, req.UserID)
	if err != nil {
		return nil, err
	}
	if len(found) > 0 {
		return nil, ErrAlreadyActive
	}

	result := &ClockInResult{}
	if l.queue != nil {
		ahead, err := l.queue.Before(ctx, req.GuildID, req.UserID, req.Now)
		if err != nil {
			return nil, storageError("get replacements", err)
		}
		if len(ahead) > 0 {
			if req.SkipQueue == nil {
				return nil, withMessage(ErrConfirmationRequired, "There are members ahead of you in the replacement queue")
			}
			ok, err := req.SkipQueue(ctx, ahead)
			if err != nil || !ok {
				l.logger.Info("clock-in abandoned at queue confirmation",
					guildField(req.GuildID), userField(req.UserID), zap.Error(err))
				return nil, ErrConfirmationDeclined
			}
			result.Skipped = ahead

			// the session may have ended while the prompt was open
			session, err = l.currentSession(ctx, req.GuildID)
			if err != nil {
				if errors.Is(err, ErrNoActiveSession) {
					return nil, withMessage(ErrNoActiveSession, "Sorry, the session ended before you confirmed")
				}
				return nil, err
			}
		}

		removed, err := l.queue.Remove(ctx, req.GuildID, req.UserID)
		if err != nil {
			l.logger.Warn("failed to remove member from replacement queue",
				guildField(req.GuildID), userField(req.UserID), zap.Error(err))
		}
		result.RemovedFromQueue = removed
	}

	// Known race: the session lock is not held here, so an EndSession that
	// completes between the session check and StoreActive leaves this record
	// active under an archived session and outside that end's sweep.
	rec := models.AttendanceRecord{
		GuildID:       req.GuildID,
		UserID:        req.UserID,
		Character:     req.Character,
		Session:       session.Name,
		InTimestamp:   req.Now,
		DebugUserName: req.DisplayName,
		DebugIn:       timeutil.ISO(req.Now, l.loc),
	}
	rowID, err := l.store.StoreActive(ctx, req.GuildID, &rec)
	if err != nil {
		if errors.Is(err, ErrAlreadyActive) {
			return nil, ErrAlreadyActive
		}
		return nil, storageError("store active record", err)
	}
	rec.RowID = rowID
	result.Record = rec

	l.logger.Info("member clocked in",
		guildField(req.GuildID), userField(req.UserID),
		zap.String("session", session.Name), zap.Int64("in", req.Now))

	if l.settings != nil {
		maxActive := l.settings.Guild(req.GuildID).MaxActive
		if maxActive > 0 && len(actives)+1 > maxActive {
			current, err := l.store.GetAllActive(ctx, req.GuildID)
			if err != nil {
				l.logger.Warn("failed to re-read active set", guildField(req.GuildID), zap.Error(err))
			} else {
				result.OverCapacity = current
				result.MaxActive = maxActive
			}
		}
	}
	return result, nil
}

type ClockOutResult struct {
	// Record is the closed historical record; RowID is its history row.
	Record models.AttendanceRecord
	// Bonuses are the persisted bonus records derived from Record.
	Bonuses []models.AttendanceRecord
	// BonusErrors holds bonus records that could not be stored.
	BonusErrors []error
	// TotalSeconds is the member's accrued total after clocking out.
	TotalSeconds int64
}

// ClockOut closes the member's active record at now, appends it to history
// and stores any bonus records it earns.
func (l *Ledger) ClockOut(ctx context.Context, guildID, userID, now int64) (*ClockOutResult, error) {
	release, err := l.lockMember(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := l.currentSession(ctx, guildID); err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			return nil, withMessage(ErrNoActiveSession, "Sorry, there is no current session to clock out of")
		}
		return nil, err
	}

	result, err := l.closeOut(ctx, guildID, userID, now)
	if err != nil {
		return nil, err
	}

	total, err := l.TotalSeconds(ctx, guildID, userID)
	if err != nil {
		l.logger.Warn("failed to total member time", guildField(guildID), userField(userID), zap.Error(err))
	}
	result.TotalSeconds = total
	return result, nil
}

// closeOut runs the active -> historical transition and the bonus awards.
// The caller holds the member lock.
func (l *Ledger) closeOut(ctx context.Context, guildID, userID, now int64) (*ClockOutResult, error) {
	found, _, err := l.activeFor(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	switch {
	case len(found) == 0:
		return nil, ErrNotActive
	case len(found) > 1:
		l.logger.Error("member has more than one active record",
			guildField(guildID), userField(userID), zap.Any("records", found))
		return nil, &Error{
			Code:    CodeDataCorruption,
			Message: ErrDataCorruption.Message,
			Records: found,
		}
	}

	rec := found[0]
	if err := l.store.RemoveActive(ctx, guildID, &rec); err != nil {
		return nil, storageError("remove active record", err)
	}

	rec.OutTimestamp = models.Timestamp(now)
	l.setDebug(&rec)

	rowID, err := l.store.StoreHistorical(ctx, guildID, &rec)
	if err != nil {
		// the record is already gone from the active set
		l.logger.Error("closed record lost, historical append failed",
			guildField(guildID), userField(userID), zap.Any("record", rec), zap.Error(err))
		return nil, &Error{
			Code:    CodePersistFailure,
			Message: ErrPersistFailure.Message,
			Err:     err,
			Records: []models.AttendanceRecord{rec},
		}
	}
	rec.RowID = rowID

	l.logger.Info("member clocked out",
		guildField(guildID), userField(userID),
		zap.Int64("row", rowID), zap.Int64("seconds", rec.Seconds()))

	result := &ClockOutResult{Record: rec}
	for _, b := range ComputeBonuses(rec, l.bonusWindows(guildID), l.loc) {
		b := b
		bonusRow, err := l.store.StoreHistorical(ctx, guildID, &b)
		if err != nil {
			l.logger.Error("failed to store bonus record",
				guildField(guildID), userField(userID), zap.Any("record", b), zap.Error(err))
			result.BonusErrors = append(result.BonusErrors, &Error{
				Code:    CodePersistFailure,
				Message: "Failed to store bonus record, contact an administrator",
				Err:     err,
				Records: []models.AttendanceRecord{b},
			})
			continue
		}
		b.RowID = bonusRow
		result.Bonuses = append(result.Bonuses, b)
		l.logger.Info("bonus awarded",
			guildField(guildID), userField(userID),
			zap.Int64("row", bonusRow), zap.String("character", b.Character), zap.Int64("seconds", b.Seconds()))
	}
	return result, nil
}
