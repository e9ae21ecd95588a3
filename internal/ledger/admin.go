package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"clockbot/internal/db/models"
	"clockbot/internal/timeutil"
)

// ConfirmFunc asks the member to confirm a destructive action within a
// bounded time.
type ConfirmFunc func(ctx context.Context) (bool, error)

type ZeroOutRequest struct {
	GuildID     int64
	UserID      int64
	DisplayName string
	// At is the instant of the zero-out event.
	At int64
	// SessionName defaults to the current session's name, or empty.
	SessionName string
	// RequireInactive refuses the zero-out while the member is clocked in.
	RequireInactive bool
	Confirm         ConfirmFunc
}

type ZeroOutResult struct {
	Record         models.AttendanceRecord
	ClearedSeconds int64
}

// ZeroOut appends a record cancelling the member's accrued total: it runs
// from At back to At - total, so its duration is the negated total.
func (l *Ledger) ZeroOut(ctx context.Context, req ZeroOutRequest) (*ZeroOutResult, error) {
	release, err := l.lockMember(ctx, req.GuildID, req.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	if req.RequireInactive {
		found, _, err := l.activeFor(ctx, req.GuildID, req.UserID)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return nil, withMessage(ErrAlreadyActive, "Please clock out before attempting to claim your Urn")
		}
	}
	if req.Confirm != nil {
		ok, err := req.Confirm(ctx)
		if err != nil || !ok {
			return nil, ErrConfirmationDeclined
		}
	}

	total, err := l.TotalSeconds(ctx, req.GuildID, req.UserID)
	if err != nil {
		return nil, err
	}

	sessionName := req.SessionName
	if sessionName == "" {
		session, err := l.CurrentSession(ctx, req.GuildID)
		if err != nil {
			return nil, err
		}
		if session != nil {
			sessionName = session.Name
		}
	}

	hours := timeutil.Hours(total)
	rec := models.AttendanceRecord{
		GuildID:       req.GuildID,
		UserID:        req.UserID,
		Character:     fmt.Sprintf("%s -%.2f", ZeroOutTag, hours),
		Session:       sessionName,
		InTimestamp:   req.At,
		OutTimestamp:  models.Timestamp(req.At - total),
		DebugUserName: req.DisplayName,
	}
	l.setDebug(&rec)

	rowID, err := l.store.StoreHistorical(ctx, req.GuildID, &rec)
	if err != nil {
		l.logger.Error("failed to store zero-out record",
			guildField(req.GuildID), userField(req.UserID), zap.Any("record", rec), zap.Error(err))
		return nil, &Error{
			Code:    CodePersistFailure,
			Message: ErrPersistFailure.Message,
			Err:     err,
			Records: []models.AttendanceRecord{rec},
		}
	}
	rec.RowID = rowID

	l.logger.Info("member zeroed out",
		guildField(req.GuildID), userField(req.UserID), zap.Int64("row", rowID), zap.Int64("seconds", total))
	return &ZeroOutResult{Record: rec, ClearedSeconds: total}, nil
}

// Field selects which timestamp an amendment replaces.
type Field int

const (
	FieldClockIn Field = iota
	FieldClockOut
)

func (f Field) String() string {
	if f == FieldClockOut {
		return "Clock out time"
	}
	return "Clock in time"
}

type AmendRequest struct {
	GuildID int64
	RowID   int64
	Field   Field
	At      int64
}

type AmendResult struct {
	Previous models.AttendanceRecord
	Record   models.AttendanceRecord
}

// AmendRecord replaces the clock-in or clock-out of a historical record.
// The old row is deleted and the corrected record inserted under a new row
// id. Only zero-out records may end before they start.
func (l *Ledger) AmendRecord(ctx context.Context, req AmendRequest) (*AmendResult, error) {
	prev, err := l.store.GetHistoricalRecord(ctx, req.GuildID, req.RowID)
	if err != nil {
		return nil, storageError("get historical record", err)
	}

	release, err := l.lockMember(ctx, req.GuildID, prev.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	rec := *prev
	switch req.Field {
	case FieldClockIn:
		rec.InTimestamp = req.At
	case FieldClockOut:
		rec.OutTimestamp = models.Timestamp(req.At)
	default:
		return nil, invalidInput(fmt.Sprintf("Invalid option %d", req.Field))
	}
	if rec.OutTimestamp == nil {
		return nil, invalidInput("Record has no clock out time")
	}
	if rec.Out() < rec.InTimestamp && Classify(rec.Character) != CategoryZeroOut {
		return nil, invalidInput("Clock out must not be before clock in")
	}
	l.setDebug(&rec)

	if err := l.store.DeleteHistorical(ctx, req.GuildID, req.RowID); err != nil {
		return nil, storageError("delete historical record", err)
	}
	rec.RowID = 0
	rowID, err := l.store.StoreHistorical(ctx, req.GuildID, &rec)
	if err != nil {
		l.logger.Error("amended record lost, reinsert failed",
			guildField(req.GuildID), zap.Int64("old_row", req.RowID), zap.Any("record", rec), zap.Error(err))
		return nil, &Error{
			Code:    CodePersistFailure,
			Message: fmt.Sprintf("Deleted record #%d but failed to store the correction, contact an administrator", req.RowID),
			Err:     err,
			Records: []models.AttendanceRecord{*prev, rec},
		}
	}
	rec.RowID = rowID

	l.logger.Info("historical record amended",
		guildField(req.GuildID), userField(rec.UserID),
		zap.Int64("old_row", req.RowID), zap.Int64("row", rowID), zap.Stringer("field", req.Field))
	return &AmendResult{Previous: *prev, Record: rec}, nil
}

type AddRecordRequest struct {
	GuildID     int64
	UserID      int64
	DisplayName string
	SessionName string
	Character   string
	In          int64
	Out         int64
}

type AddRecordResult struct {
	Record       models.AttendanceRecord
	TotalSeconds int64
}

// AddRecord appends a historical record entered by an administrator.
func (l *Ledger) AddRecord(ctx context.Context, req AddRecordRequest) (*AddRecordResult, error) {
	if req.Out < req.In {
		return nil, invalidInput("Clock out must not be before clock in")
	}
	if req.SessionName == "" {
		return nil, invalidInput("Session name must not be empty")
	}

	release, err := l.lockMember(ctx, req.GuildID, req.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	rec := models.AttendanceRecord{
		GuildID:       req.GuildID,
		UserID:        req.UserID,
		Character:     req.Character,
		Session:       req.SessionName,
		InTimestamp:   req.In,
		OutTimestamp:  models.Timestamp(req.Out),
		DebugUserName: req.DisplayName,
	}
	l.setDebug(&rec)

	rowID, err := l.store.StoreHistorical(ctx, req.GuildID, &rec)
	if err != nil {
		return nil, storageError("store historical record", err)
	}
	rec.RowID = rowID

	total, err := l.TotalSeconds(ctx, req.GuildID, req.UserID)
	if err != nil {
		return nil, err
	}
	l.logger.Info("historical record added",
		guildField(req.GuildID), userField(req.UserID), zap.Int64("row", rowID), zap.Int64("seconds", rec.Seconds()))
	return &AddRecordResult{Record: rec, TotalSeconds: total}, nil
}
