package db

import (
	"context"
	"time"

	"clockbot/internal/db/models"

	"github.com/google/uuid"
)

// StoreCommand records a command invocation for auditing
func (db *DB) StoreCommand(ctx context.Context, cmd *models.CommandRecord) error {
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO commands (id, guild_id, user_id, user_name, command_name, options, channel_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := db.Exec(ctx, query,
		cmd.ID.String(),
		cmd.GuildID,
		cmd.UserID,
		cmd.UserName,
		cmd.CommandName,
		cmd.Options,
		cmd.ChannelID,
		cmd.CreatedAt,
	)
	return err
}

// GetUserCommands returns a member's most recent commands, newest first,
// skipping the first startAt
func (db *DB) GetUserCommands(ctx context.Context, guildID, userID int64, startAt, count int) ([]*models.CommandRecord, error) {
	query := `
		SELECT id, guild_id, user_id, user_name, command_name, options, channel_id, created_at
		FROM commands
		WHERE guild_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		OFFSET $3 LIMIT $4`

	rows, err := db.Query(ctx, query, guildID, userID, startAt, count)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []*models.CommandRecord
	for rows.Next() {
		c := &models.CommandRecord{}
		err := rows.Scan(
			&c.ID,
			&c.GuildID,
			&c.UserID,
			&c.UserName,
			&c.CommandName,
			&c.Options,
			&c.ChannelID,
			&c.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}
