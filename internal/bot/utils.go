package bot

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"clockbot/internal/config"

	"github.com/bwmarrin/discordgo"
)

const (
	// Discord rejects message content longer than this
	messageLimit    = 2000
	truncatedSuffix = "\n... (truncated)"
)

// respondWithError answers an interaction that has not been acknowledged yet
func respondWithError(s *discordgo.Session, i *discordgo.InteractionCreate, errMsg string) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Error: " + errMsg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// editResponse replaces the deferred response and clears any buttons
func editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) error {
	content = truncateMessage(content)
	components := []discordgo.MessageComponent{}
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content:         &content,
		Components:      &components,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	return err
}

// followup posts an additional message after the deferred response
func followup(s *discordgo.Session, i *discordgo.InteractionCreate, content string) error {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: truncateMessage(content),
	})
	return err
}

// truncateMessage cuts msg to the platform limit, closing an open code block
func truncateMessage(msg string) string {
	if len(msg) <= messageLimit {
		return msg
	}
	cut := msg[:messageLimit-len(truncatedSuffix)-len("\n```")]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	if strings.Count(cut, "```")%2 == 1 {
		cut += "\n```"
	}
	return cut + truncatedSuffix
}

func truncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string([]rune(s)[:maxLen])
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}

// formatTable creates a Discord-friendly table with fixed-width columns
func formatTable(headers []string, rows [][]string) string {
	// Find the maximum width for each column
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = utf8.RuneCountInString(header)
	}

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && utf8.RuneCountInString(cell) > widths[i] {
				widths[i] = utf8.RuneCountInString(cell)
			}
		}
	}

	var result strings.Builder

	// Write headers
	result.WriteString("```\n")
	for i, header := range headers {
		result.WriteString(pad(header, widths[i]+2))
	}
	result.WriteString("\n")

	// Write separator
	for _, width := range widths {
		result.WriteString(strings.Repeat("-", width+2))
	}
	result.WriteString("\n")

	// Write rows
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				result.WriteString(pad(cell, widths[i]+2))
			}
		}
		result.WriteString("\n")
	}
	result.WriteString("```")

	return result.String()
}

func pad(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

// interactionUser returns the invoking user in both guild and DM contexts
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// memberName prefers the guild nickname over the username
func memberName(m *discordgo.Member, u *discordgo.User) string {
	if m != nil && m.Nick != "" {
		return m.Nick
	}
	if u == nil {
		return "unknown"
	}
	return u.Username
}

func parseSnowflake(id string) (int64, error) {
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", id, err)
	}
	return v, nil
}

func snowflake(id int64) string {
	return strconv.FormatInt(id, 10)
}

func mention(userID int64) string {
	return "<@" + snowflake(userID) + ">"
}

// discordTimestamp renders ts in each reader's own locale
func discordTimestamp(ts int64) string {
	return fmt.Sprintf("<t:%d:f>", ts)
}

// optionMap flattens the options below any subcommand group or subcommand
func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption)
	for _, opt := range options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionSubCommand, discordgo.ApplicationCommandOptionSubCommandGroup:
			for k, v := range optionMap(opt.Options) {
				m[k] = v
			}
		default:
			m[opt.Name] = opt
		}
	}
	return m
}

// commandPath returns the command name followed by its subcommand, if any
func commandPath(data discordgo.ApplicationCommandInteractionData) string {
	path := data.Name
	options := data.Options
	for len(options) > 0 {
		opt := options[0]
		if opt.Type != discordgo.ApplicationCommandOptionSubCommand &&
			opt.Type != discordgo.ApplicationCommandOptionSubCommandGroup {
			break
		}
		path += " " + opt.Name
		options = opt.Options
	}
	return path
}

// commandParams renders every option as name:value for the audit log
func commandParams(options []*discordgo.ApplicationCommandInteractionDataOption) []string {
	var params []string
	for _, opt := range options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionSubCommand, discordgo.ApplicationCommandOptionSubCommandGroup:
			params = append(params, commandParams(opt.Options)...)
		default:
			params = append(params, fmt.Sprintf("%s:%v", opt.Name, opt.Value))
		}
	}
	return params
}

// channelAllowed reports whether commands may run in channelID. An empty
// allow-list permits every channel.
func channelAllowed(gc config.GuildConfig, channelID string) bool {
	if len(gc.CommandChannels) == 0 {
		return true
	}
	for _, c := range gc.CommandChannels {
		if c == channelID {
			return true
		}
	}
	return false
}

// hasMemberRole reports whether roles intersects the guild's member roles.
// An empty list lets everyone use member commands.
func hasMemberRole(gc config.GuildConfig, roles []string) bool {
	if len(gc.MemberRoles) == 0 {
		return true
	}
	for _, want := range gc.MemberRoles {
		for _, have := range roles {
			if want == have {
				return true
			}
		}
	}
	return false
}

// isAdmin checks the permissions Discord resolved for the invoking member
func isAdmin(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	perms := i.Member.Permissions
	return perms&discordgo.PermissionAdministrator != 0 || perms&discordgo.PermissionManageServer != 0
}

func getServerName(s *discordgo.Session, guildID string) string {
	if s == nil || s.State == nil {
		return ""
	}
	guild, err := s.State.Guild(guildID)
	if err != nil {
		return ""
	}
	return guild.Name
}
