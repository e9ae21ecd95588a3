package db

import (
	"context"
	"errors"

	"clockbot/internal/db/models"
	"clockbot/internal/ledger"

	"github.com/jackc/pgx/v5"
)

var _ ledger.Store = (*DB)(nil)

const sessionColumns = `id, guild_id, session, created_by, ended_by, start_timestamp, end_timestamp,
	debug_start, debug_started_by, debug_end, debug_ended_by, debug_delta`

// GetSession returns the guild's current session, or nil if none is open
func (db *DB) GetSession(ctx context.Context, guildID int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM session WHERE guild_id = $1`

	s := &models.Session{}
	err := db.QueryRow(ctx, query, guildID).Scan(
		&s.RowID,
		&s.GuildID,
		&s.Name,
		&s.CreatedBy,
		&s.EndedBy,
		&s.StartTimestamp,
		&s.EndTimestamp,
		&s.DebugStart,
		&s.DebugStartedBy,
		&s.DebugEnd,
		&s.DebugEndedBy,
		&s.DebugDelta,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SetSession stores s as the guild's current session. The insert is skipped
// when the guild already has a current row (ErrSessionAlreadyOpen) or the
// name exists in history (ErrDuplicateSessionName).
func (db *DB) SetSession(ctx context.Context, guildID int64, s *models.Session) (int64, error) {
	query := `
		INSERT INTO session (guild_id, session, created_by, ended_by, start_timestamp, end_timestamp,
			debug_start, debug_started_by, debug_end, debug_ended_by, debug_delta)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		WHERE NOT EXISTS (
			SELECT 1 FROM session_history WHERE guild_id = $1 AND session = $2
		)
		ON CONFLICT (guild_id) DO NOTHING
		RETURNING id`

	var id int64
	err := db.QueryRow(ctx, query,
		guildID,
		s.Name,
		s.CreatedBy,
		s.EndedBy,
		s.StartTimestamp,
		s.EndTimestamp,
		s.DebugStart,
		s.DebugStartedBy,
		s.DebugEnd,
		s.DebugEndedBy,
		s.DebugDelta,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, db.sessionConflict(ctx, guildID)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// sessionConflict tells an open session apart from a reused name after
// SetSession inserted nothing
func (db *DB) sessionConflict(ctx context.Context, guildID int64) error {
	var open bool
	err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM session WHERE guild_id = $1)`, guildID).Scan(&open)
	if err != nil {
		return err
	}
	if open {
		return ledger.ErrSessionAlreadyOpen
	}
	return ledger.ErrDuplicateSessionName
}

// DeleteSession removes the guild's current session row
func (db *DB) DeleteSession(ctx context.Context, guildID int64) error {
	_, err := db.Exec(ctx, `DELETE FROM session WHERE guild_id = $1`, guildID)
	return err
}

// StoreHistoricalSession archives an ended session. Archiving a name that is
// already in history is a no-op, so an interrupted end can be retried.
func (db *DB) StoreHistoricalSession(ctx context.Context, guildID int64, s *models.Session) error {
	query := `
		INSERT INTO session_history (guild_id, session, created_by, ended_by, start_timestamp, end_timestamp,
			debug_start, debug_started_by, debug_end, debug_ended_by, debug_delta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (guild_id, session) DO NOTHING`

	_, err := db.Exec(ctx, query,
		guildID,
		s.Name,
		s.CreatedBy,
		s.EndedBy,
		s.StartTimestamp,
		s.EndTimestamp,
		s.DebugStart,
		s.DebugStartedBy,
		s.DebugEnd,
		s.DebugEndedBy,
		s.DebugDelta,
	)
	return err
}

// GetAllActive returns the guild's active set ordered by clock-in
func (db *DB) GetAllActive(ctx context.Context, guildID int64) ([]models.AttendanceRecord, error) {
	query := `
		SELECT id, guild_id, user_id, character, session, in_timestamp, debug_user_name, debug_in
		FROM active
		WHERE guild_id = $1
		ORDER BY in_timestamp, id`

	rows, err := db.Query(ctx, query, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var r models.AttendanceRecord
		err := rows.Scan(
			&r.RowID,
			&r.GuildID,
			&r.UserID,
			&r.Character,
			&r.Session,
			&r.InTimestamp,
			&r.DebugUserName,
			&r.DebugIn,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// StoreActive inserts an active record. The (guild_id, user_id) unique
// index turns a second insert for the same member into ErrAlreadyActive.
func (db *DB) StoreActive(ctx context.Context, guildID int64, rec *models.AttendanceRecord) (int64, error) {
	query := `
		INSERT INTO active (guild_id, user_id, character, session, in_timestamp, debug_user_name, debug_in)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (guild_id, user_id) DO NOTHING
		RETURNING id`

	var id int64
	err := db.QueryRow(ctx, query,
		guildID,
		rec.UserID,
		rec.Character,
		rec.Session,
		rec.InTimestamp,
		rec.DebugUserName,
		rec.DebugIn,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ledger.ErrAlreadyActive
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RemoveActive deletes one active record by row id
func (db *DB) RemoveActive(ctx context.Context, guildID int64, rec *models.AttendanceRecord) error {
	tag, err := db.Exec(ctx, `DELETE FROM active WHERE guild_id = $1 AND id = $2`, guildID, rec.RowID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotActive
	}
	return nil
}

const historicalColumns = `id, guild_id, user_id, character, session, in_timestamp, out_timestamp,
	debug_user_name, debug_in, debug_out, debug_delta`

// StoreHistorical appends a closed record and returns its row id
func (db *DB) StoreHistorical(ctx context.Context, guildID int64, rec *models.AttendanceRecord) (int64, error) {
	query := `
		INSERT INTO historical (guild_id, user_id, character, session, in_timestamp, out_timestamp,
			debug_user_name, debug_in, debug_out, debug_delta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	var id int64
	err := db.QueryRow(ctx, query,
		guildID,
		rec.UserID,
		rec.Character,
		rec.Session,
		rec.InTimestamp,
		rec.Out(),
		rec.DebugUserName,
		rec.DebugIn,
		rec.DebugOut,
		rec.DebugDelta,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetHistorical returns every historical record of the guild
func (db *DB) GetHistorical(ctx context.Context, guildID int64) ([]models.AttendanceRecord, error) {
	query := `SELECT ` + historicalColumns + ` FROM historical WHERE guild_id = $1 ORDER BY id`
	return db.queryHistorical(ctx, query, guildID)
}

// GetHistoricalForUser returns a member's historical records
func (db *DB) GetHistoricalForUser(ctx context.Context, guildID, userID int64) ([]models.AttendanceRecord, error) {
	query := `SELECT ` + historicalColumns + ` FROM historical WHERE guild_id = $1 AND user_id = $2 ORDER BY in_timestamp, id`
	return db.queryHistorical(ctx, query, guildID, userID)
}

// GetHistoricalRecord returns one historical row
func (db *DB) GetHistoricalRecord(ctx context.Context, guildID, rowID int64) (*models.AttendanceRecord, error) {
	query := `SELECT ` + historicalColumns + ` FROM historical WHERE guild_id = $1 AND id = $2`
	records, err := db.queryHistorical(ctx, query, guildID, rowID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ledger.ErrRecordNotFound
	}
	return &records[0], nil
}

// DeleteHistorical removes one historical row
func (db *DB) DeleteHistorical(ctx context.Context, guildID, rowID int64) error {
	tag, err := db.Exec(ctx, `DELETE FROM historical WHERE guild_id = $1 AND id = $2`, guildID, rowID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrRecordNotFound
	}
	return nil
}

func (db *DB) queryHistorical(ctx context.Context, query string, args ...any) ([]models.AttendanceRecord, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var (
			r   models.AttendanceRecord
			out int64
		)
		err := rows.Scan(
			&r.RowID,
			&r.GuildID,
			&r.UserID,
			&r.Character,
			&r.Session,
			&r.InTimestamp,
			&out,
			&r.DebugUserName,
			&r.DebugIn,
			&r.DebugOut,
			&r.DebugDelta,
		)
		if err != nil {
			return nil, err
		}
		r.OutTimestamp = models.Timestamp(out)
		records = append(records, r)
	}
	return records, rows.Err()
}
