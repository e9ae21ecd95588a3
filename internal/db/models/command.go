package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CommandRecord is one audited command invocation.
type CommandRecord struct {
	ID          uuid.UUID      `db:"id"`
	GuildID     int64          `db:"guild_id"`
	UserID      int64          `db:"user_id"`
	UserName    string         `db:"user_name"`
	CommandName string         `db:"command_name"`
	Options     pq.StringArray `db:"options"`
	ChannelID   string         `db:"channel_id"`
	CreatedAt   time.Time      `db:"created_at"`
}
