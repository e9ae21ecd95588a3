package ledger

import (
	"context"

	"clockbot/internal/config"
	"clockbot/internal/db/models"
)

// Store is the durable ledger storage. Every call is atomic on its own; no
// transaction spans calls. All state is partitioned by guild id.
//
// Contract:
//   - GetSession returns nil, nil when the guild has no current session.
//   - SetSession fails with ErrSessionAlreadyOpen when a current row already
//     exists and with ErrDuplicateSessionName when the name was used before
//     in the guild; at most one current session row exists per guild.
//   - StoreHistoricalSession is idempotent per (guild, name).
//   - StoreActive fails with ErrAlreadyActive when the member already has an
//     active record; the (guild, user) pair is unique in the active set.
//   - GetHistoricalRecord and DeleteHistorical fail with ErrRecordNotFound
//     for an unknown row.
//   - Returned records carry their storage row id in RowID.
type Store interface {
	GetSession(ctx context.Context, guildID int64) (*models.Session, error)
	SetSession(ctx context.Context, guildID int64, s *models.Session) (int64, error)
	DeleteSession(ctx context.Context, guildID int64) error
	StoreHistoricalSession(ctx context.Context, guildID int64, s *models.Session) error

	GetAllActive(ctx context.Context, guildID int64) ([]models.AttendanceRecord, error)
	StoreActive(ctx context.Context, guildID int64, rec *models.AttendanceRecord) (int64, error)
	RemoveActive(ctx context.Context, guildID int64, rec *models.AttendanceRecord) error

	StoreHistorical(ctx context.Context, guildID int64, rec *models.AttendanceRecord) (int64, error)
	GetHistorical(ctx context.Context, guildID int64) ([]models.AttendanceRecord, error)
	GetHistoricalForUser(ctx context.Context, guildID, userID int64) ([]models.AttendanceRecord, error)
	GetHistoricalRecord(ctx context.Context, guildID, rowID int64) (*models.AttendanceRecord, error)
	DeleteHistorical(ctx context.Context, guildID, rowID int64) error
}

// ReplacementQueue is the read/clear view of the replacement queue.
type ReplacementQueue interface {
	// Before returns the entries of other members queued strictly earlier
	// than userID's own entry, or earlier than now when userID is not
	// queued. Oldest first.
	Before(ctx context.Context, guildID, userID, now int64) ([]models.ReplacementEntry, error)
	// Remove drops userID's entry and reports whether one existed.
	Remove(ctx context.Context, guildID, userID int64) (bool, error)
	Clear(ctx context.Context, guildID int64) error
}

// GuildSettings resolves per-guild configuration. *config.Config
// implements it.
type GuildSettings interface {
	Guild(guildID int64) config.GuildConfig
}
