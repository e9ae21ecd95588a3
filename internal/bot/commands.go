package bot

import (
	"context"
	"fmt"
	"strings"

	"clockbot/internal/db/models"
	"clockbot/internal/ledger"
	"clockbot/internal/timeutil"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	clockoutUserCommand = "Clockout User"
	userTimeCommand     = "Get User Time"
	userSessionsCommand = "Get User Sessions"
)

var (
	// Permission for admin commands (Manage Server permission)
	adminPermission = int64(discordgo.PermissionManageServer)
	dmPermission    = false

	// adminCommands skip the member role check; Discord hides them from
	// members without adminPermission
	adminCommands = map[string]bool{
		"session":           true,
		"admin":             true,
		clockoutUserCommand: true,
	}

	commands = []*discordgo.ApplicationCommand{
		{
			Name:         "clockin",
			Description:  "Clock in to the current session",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "character",
					Description: "Character you are playing",
					Required:    false,
				},
			},
		},
		{
			Name:         "clockout",
			Description:  "Clock out of the current session",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to clock out (admin only)",
					Required:    false,
				},
			},
		},
		{
			Name:                     clockoutUserCommand,
			Type:                     discordgo.UserApplicationCommand,
			DefaultMemberPermissions: &adminPermission,
			DMPermission:             &dmPermission,
		},
		{
			Name:         userTimeCommand,
			Type:         discordgo.UserApplicationCommand,
			DMPermission: &dmPermission,
		},
		{
			Name:         userSessionsCommand,
			Type:         discordgo.UserApplicationCommand,
			DMPermission: &dmPermission,
		},
		{
			Name:                     "session",
			Description:              "Start or end the tracking session",
			DefaultMemberPermissions: &adminPermission,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "start",
					Description: "Start a new session",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Unique session name",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "end",
					Description: "End the current session and clock everyone out",
				},
			},
		},
		{
			Name:         "get",
			Description:  "Look up ledger data",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "session",
					Description: "Show the current session",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "active",
					Description: "Show who is clocked in",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "config",
					Description: "Show this server's configuration",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "Rank members by total hours",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "time",
					Description: "Show a member's total hours",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "Member (defaults to you)",
							Required:    false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "usersessions",
					Description: "List a member's records",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "Member (defaults to you)",
							Required:    false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "commands",
					Description: "List a member's recent commands",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "Member",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "start",
							Description: "Skip this many recent commands",
							Required:    false,
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "count",
							Description: "Number of commands to show (max 50)",
							Required:    false,
						},
					},
				},
			},
		},
		{
			Name:         "urn",
			Description:  "Claim your urn and reset your accumulated time",
			DMPermission: &dmPermission,
		},
		{
			Name:         "rep",
			Description:  "Replacement queue",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "join",
					Description: "Join the replacement queue",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "leave",
					Description: "Leave the replacement queue",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "Show the replacement queue",
				},
			},
		},
		{
			Name:                     "admin",
			Description:              "Correct the ledger (admin only)",
			DefaultMemberPermissions: &adminPermission,
			DMPermission:             &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "directurn",
					Description: "Zero out a member at a given date and time",
					Options: []*discordgo.ApplicationCommandOption{
						userOption(true),
						stringOption("date", "Kill date (YYYY-MM-DD)"),
						stringOption("time", "Kill time (HH:MM)"),
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "session",
							Description: "Session name (defaults to the current session)",
							Required:    false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "changehistory",
					Description: "Change the clock-in or clock-out of a historical record",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "row",
							Description: "Record id from /get usersessions",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "field",
							Description: "Which timestamp to change",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "Clock in", Value: "in"},
								{Name: "Clock out", Value: "out"},
							},
						},
						stringOption("date", "New date (YYYY-MM-DD)"),
						stringOption("time", "New time (HH:MM)"),
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "directrecord",
					Description: "Add a historical record for a member",
					Options: []*discordgo.ApplicationCommandOption{
						userOption(true),
						stringOption("date", "Date of the clock-in (YYYY-MM-DD)"),
						stringOption("in", "Clock-in time (HH:MM)"),
						stringOption("out", "Clock-out time (HH:MM)"),
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "dayafter",
							Description: "Clock-out is on the following day",
							Required:    false,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "session",
							Description: "Session name (defaults to the current session)",
							Required:    false,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "character",
							Description: "Character or bonus tag",
							Required:    false,
						},
					},
				},
			},
		},
	}
)

func userOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "user",
		Description: "Member",
		Required:    required,
	}
}

func stringOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    true,
	}
}

func (b *Bot) commandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		"clockin":             b.handleClockIn,
		"clockout":            b.handleClockOut,
		clockoutUserCommand:   b.handleClockOutUser,
		userTimeCommand:       b.handleUserTime,
		userSessionsCommand:   b.handleUserSessions,
		"session start":       b.handleSessionStart,
		"session end":         b.handleSessionEnd,
		"get session":         b.handleGetSession,
		"get active":          b.handleGetActive,
		"get config":          b.handleGetConfig,
		"get list":            b.handleList,
		"get time":            b.handleUserTime,
		"get usersessions":    b.handleUserSessions,
		"get commands":        b.handleGetCommands,
		"urn":                 b.handleUrn,
		"rep join":            b.handleRepJoin,
		"rep leave":           b.handleRepLeave,
		"rep list":            b.handleRepList,
		"admin directurn":     b.handleDirectUrn,
		"admin changehistory": b.handleChangeHistory,
		"admin directrecord":  b.handleDirectRecord,
	}
}

// targetUser resolves the member a command acts on: a user option, the
// target of a user context command, or the invoker.
func targetUser(i *discordgo.InteractionCreate, r *request) (int64, string, error) {
	data := i.ApplicationCommandData()
	if data.TargetID != "" {
		id, err := parseSnowflake(data.TargetID)
		if err != nil {
			return 0, "", err
		}
		return id, resolvedName(data.Resolved, data.TargetID), nil
	}
	if opt, ok := r.options["user"]; ok {
		u := opt.UserValue(nil)
		id, err := parseSnowflake(u.ID)
		if err != nil {
			return 0, "", err
		}
		return id, resolvedName(data.Resolved, u.ID), nil
	}
	return r.userID, r.name, nil
}

func resolvedName(resolved *discordgo.ApplicationCommandInteractionDataResolved, userID string) string {
	if resolved == nil {
		return userID
	}
	var member *discordgo.Member
	if resolved.Members != nil {
		member = resolved.Members[userID]
	}
	var user *discordgo.User
	if resolved.Users != nil {
		user = resolved.Users[userID]
	}
	if member == nil && user == nil {
		return userID
	}
	return memberName(member, user)
}

func (b *Bot) handleClockIn(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	var character string
	if opt, ok := r.options["character"]; ok {
		character = strings.TrimSpace(opt.StringValue())
	}

	res, err := b.ledger.ClockIn(ctx, ledger.ClockInRequest{
		GuildID:     r.guildID,
		UserID:      r.userID,
		DisplayName: r.name,
		Character:   character,
		Now:         timeutil.Now(),
		SkipQueue: func(ctx context.Context, ahead []models.ReplacementEntry) (bool, error) {
			return b.askConfirmation(ctx, s, i, renderSkipQueuePrompt(ahead))
		},
	})
	if err != nil {
		b.respondLedgerError(s, i, r, err)
		return
	}

	editResponse(s, i, renderClockIn(r.name, res))
	if len(res.OverCapacity) > 0 {
		followup(s, i, renderOverCapacity(res.OverCapacity, res.MaxActive, timeutil.Now()))
	}
}

func (b *Bot) handleClockOut(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	userID, name, err := targetUser(i, r)
	if err != nil {
		editResponse(s, i, "Error: Invalid user")
		return
	}
	if userID != r.userID && !isAdmin(i) {
		editResponse(s, i, "Error: Only administrators can clock out other members")
		return
	}
	b.clockOut(ctx, s, i, r, userID, name)
}

func (b *Bot) handleClockOutUser(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	userID, name, err := targetUser(i, r)
	if err != nil {
		editResponse(s, i, "Error: Invalid user")
		return
	}
	b.clockOut(ctx, s, i, r, userID, name)
}

func (b *Bot) clockOut(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request, userID int64, name string) {
	res, err := b.ledger.ClockOut(ctx, r.guildID, userID, timeutil.Now())
	if err != nil {
		b.respondLedgerError(s, i, r, err)
		return
	}
	for _, bonusErr := range res.BonusErrors {
		b.logger.Error("bonus record was not stored",
			zap.String("guild", i.GuildID), zap.Int64("member", userID), zap.Error(bonusErr))
	}
	editResponse(s, i, renderClockOut(name, res))
}

func (b *Bot) handleSessionStart(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	var name string
	if opt, ok := r.options["name"]; ok {
		name = opt.StringValue()
	}

	session, err := b.ledger.StartSession(ctx, ledger.StartSessionRequest{
		GuildID:     r.guildID,
		Name:        name,
		CreatedBy:   r.userID,
		CreatorName: r.name,
		Now:         timeutil.Now(),
	})
	if err != nil {
		b.respondLedgerError(s, i, r, err)
		return
	}
	editResponse(s, i, fmt.Sprintf("Session **%s** started by %s at %s",
		session.Name, r.name, discordTimestamp(session.StartTimestamp)))
}

func (b *Bot) handleSessionEnd(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	res, err := b.ledger.EndSession(ctx, ledger.EndSessionRequest{
		GuildID:   r.guildID,
		EndedBy:   r.userID,
		EnderName: r.name,
		Now:       timeutil.Now(),
	})
	if err != nil && res == nil {
		b.respondLedgerError(s, i, r, err)
		return
	}

	log := b.logger.With(zap.String("guild", i.GuildID))
	for _, f := range res.Failures {
		log.Error("member was not closed cleanly at session end",
			zap.Int64("member", f.UserID), zap.Error(f.Err))
	}
	if res.QueueErr != nil {
		log.Warn("replacement queue was not cleared", zap.Error(res.QueueErr))
	}

	msg := renderSessionEnd(res)
	if err != nil {
		b.logger.Error("session end was not fully stored", zap.String("guild", i.GuildID), zap.Error(err))
		msg += "\n" + ledger.StatusMessage(err)
	}
	editResponse(s, i, msg)
}

func (b *Bot) handleUrn(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	res, err := b.ledger.ZeroOut(ctx, ledger.ZeroOutRequest{
		GuildID:         r.guildID,
		UserID:          r.userID,
		DisplayName:     r.name,
		At:              timeutil.Now(),
		RequireInactive: true,
		Confirm: func(ctx context.Context) (bool, error) {
			return b.askConfirmation(ctx, s, i,
				"Are you sure you want to claim your Urn? All of your accumulated time will be cleared.")
		},
	})
	if err != nil {
		b.respondLedgerError(s, i, r, err)
		return
	}
	editResponse(s, i, fmt.Sprintf("⚱️ %s claimed their Urn, %s hours cleared",
		r.name, timeutil.FormatHours(res.ClearedSeconds)))
}

func (b *Bot) handleRepJoin(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	added, err := b.queue.Add(ctx, r.guildID, r.userID, timeutil.Now())
	if err != nil {
		b.logger.Error("error joining replacement queue", zap.String("guild", i.GuildID), zap.Error(err))
		editResponse(s, i, "Error: Could not join the replacement queue")
		return
	}
	if !added {
		editResponse(s, i, "You are already in the replacement queue")
		return
	}
	editResponse(s, i, fmt.Sprintf("%s joined the replacement queue", r.name))
}

func (b *Bot) handleRepLeave(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	removed, err := b.queue.Remove(ctx, r.guildID, r.userID)
	if err != nil {
		b.logger.Error("error leaving replacement queue", zap.String("guild", i.GuildID), zap.Error(err))
		editResponse(s, i, "Error: Could not leave the replacement queue")
		return
	}
	if !removed {
		editResponse(s, i, "You are not in the replacement queue")
		return
	}
	editResponse(s, i, fmt.Sprintf("%s left the replacement queue", r.name))
}

func (b *Bot) handleRepList(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	entries, err := b.queue.List(ctx, r.guildID)
	if err != nil {
		b.logger.Error("error listing replacement queue", zap.String("guild", i.GuildID), zap.Error(err))
		editResponse(s, i, "Error: Could not read the replacement queue")
		return
	}
	editResponse(s, i, renderQueue(entries))
}
