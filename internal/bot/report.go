package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"clockbot/internal/config"
	"clockbot/internal/db/models"
	"clockbot/internal/ledger"
	"clockbot/internal/timeutil"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	defaultCommandCount = 10
	maxCommandCount     = 50
)

func (b *Bot) handleGetSession(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	session, err := b.ledger.CurrentSession(ctx, r.guildID)
	if err != nil {
		b.respondLedgerError(s, i, r, err)
		return
	}
	editResponse(s, i, renderSession(session, timeutil.Now()))
}

func (b *Bot) handleGetActive(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	now := timeutil.Now()
	actives, err := b.ledger.ActiveUsers(ctx, r.guildID, now)
	if err != nil {
		b.respondLedgerError(s, i, r, err)
		return
	}
	editResponse(s, i, renderActive(actives))
}

func (b *Bot) handleGetConfig(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	editResponse(s, i, renderConfig(b.config.Guild(r.guildID), b.config.DisplayTimezone))
}

func (b *Bot) handleList(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	ranked, err := b.ledger.RankedUsers(ctx, r.guildID)
	if err != nil {
		b.respondLedgerError(s, i, r, err)
		return
	}
	editResponse(s, i, renderRanked(ranked))
}

func (b *Bot) handleUserTime(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	userID, name, err := targetUser(i, r)
	if err != nil {
		editResponse(s, i, "Error: Invalid user")
		return
	}
	secs, err := b.ledger.TotalSeconds(ctx, r.guildID, userID)
	if err != nil {
		b.respondLedgerError(s, i, r, err)
		return
	}
	editResponse(s, i, fmt.Sprintf("%s has %s hours", name, timeutil.FormatHours(secs)))
}

func (b *Bot) handleUserSessions(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	userID, name, err := targetUser(i, r)
	if err != nil {
		editResponse(s, i, "Error: Invalid user")
		return
	}
	entries, err := b.ledger.UserSessions(ctx, r.guildID, userID)
	if err != nil {
		b.respondLedgerError(s, i, r, err)
		return
	}
	editResponse(s, i, renderUserSessions(name, entries, b.ledger.Location()))
}

func (b *Bot) handleGetCommands(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	userID, name, err := targetUser(i, r)
	if err != nil {
		editResponse(s, i, "Error: Invalid user")
		return
	}
	start, count := 0, defaultCommandCount
	if opt, ok := r.options["start"]; ok {
		start = int(opt.IntValue())
	}
	if opt, ok := r.options["count"]; ok {
		count = int(opt.IntValue())
	}
	start, count = clampPage(start, count)

	cmds, err := b.db.GetUserCommands(ctx, r.guildID, userID, start, count)
	if err != nil {
		b.logger.Error("error reading commands", zap.String("guild", i.GuildID), zap.Error(err))
		editResponse(s, i, "Error: Could not read command history")
		return
	}
	editResponse(s, i, renderCommands(name, cmds, b.ledger.Location()))
}

func clampPage(start, count int) (int, int) {
	if start < 0 {
		start = 0
	}
	if count <= 0 {
		count = defaultCommandCount
	}
	if count > maxCommandCount {
		count = maxCommandCount
	}
	return start, count
}

func renderSession(session *models.Session, now int64) string {
	if session == nil {
		return "There is no current session"
	}
	return fmt.Sprintf("Current session: **%s**\nStarted %s by %s (%s ago)",
		session.Name,
		discordTimestamp(session.StartTimestamp),
		mention(session.CreatedBy),
		timeutil.FormatSeconds(now-session.StartTimestamp))
}

func renderActive(actives []ledger.ActiveUser) string {
	if len(actives) == 0 {
		return "Nobody is clocked in"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Active members (%d)**\n", len(actives))
	for _, a := range actives {
		fmt.Fprintf(&sb, "%s", mention(a.Record.UserID))
		if a.Record.Character != "" {
			fmt.Fprintf(&sb, " (%s)", a.Record.Character)
		}
		fmt.Fprintf(&sb, " since %s, %s\n",
			discordTimestamp(a.Record.InTimestamp), timeutil.FormatSeconds(a.ElapsedSeconds))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderRanked(ranked []ledger.UserTotal) string {
	if len(ranked) == 0 {
		return "No recorded time yet"
	}
	var sb strings.Builder
	sb.WriteString("**Total hours**\n")
	for n, u := range ranked {
		fmt.Fprintf(&sb, "%d. %s %.2f\n", n+1, mention(u.UserID), u.Hours())
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderUserSessions(name string, entries []ledger.SessionEntry, loc *time.Location) string {
	if len(entries) == 0 {
		return fmt.Sprintf("%s has no recorded sessions", name)
	}
	rows := make([][]string, 0, len(entries))
	var total int64
	for _, e := range entries {
		total += e.Record.Seconds()
		rows = append(rows, []string{
			e.Category.Symbol(),
			strconv.FormatInt(e.Record.RowID, 10),
			truncateString(e.Record.Session, 16),
			timeutil.FromUnix(e.Record.InTimestamp, loc).Format("2006-01-02 15:04"),
			timeutil.FormatHours(e.Record.Seconds()),
		})
	}
	return fmt.Sprintf("**Sessions for %s** (%s hours)\n%s",
		name, timeutil.FormatHours(total),
		formatTable([]string{"", "ID", "SESSION", "IN", "HOURS"}, rows))
}

func renderRecords(records []models.AttendanceRecord, loc *time.Location) string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		out := "-"
		if rec.OutTimestamp != nil {
			out = timeutil.ISO(*rec.OutTimestamp, loc)
		}
		rows = append(rows, []string{
			strconv.FormatInt(rec.RowID, 10),
			strconv.FormatInt(rec.UserID, 10),
			truncateString(rec.Session, 16),
			timeutil.ISO(rec.InTimestamp, loc),
			out,
		})
	}
	return formatTable([]string{"ID", "USER", "SESSION", "IN", "OUT"}, rows)
}

func renderConfig(gc config.GuildConfig, timezone string) string {
	var sb strings.Builder
	sb.WriteString("**Server configuration**\n")
	fmt.Fprintf(&sb, "Time zone: %s\n", timezone)
	if gc.MaxActive > 0 {
		fmt.Fprintf(&sb, "Max active: %d\n", gc.MaxActive)
	} else {
		sb.WriteString("Max active: unlimited\n")
	}
	if len(gc.BonusHours) == 0 {
		sb.WriteString("Bonus hours: none\n")
	} else {
		sb.WriteString("Bonus hours:\n")
		for _, w := range gc.BonusHours {
			fmt.Fprintf(&sb, "  %s to %s, %s%%\n", w.Start, w.End, strconv.FormatFloat(w.Pct, 'f', -1, 64))
		}
	}
	if len(gc.CommandChannels) > 0 {
		channels := make([]string, len(gc.CommandChannels))
		for n, c := range gc.CommandChannels {
			channels[n] = "<#" + c + ">"
		}
		fmt.Fprintf(&sb, "Command channels: %s\n", strings.Join(channels, ", "))
	}
	if len(gc.MemberRoles) > 0 {
		roles := make([]string, len(gc.MemberRoles))
		for n, r := range gc.MemberRoles {
			roles[n] = "<@&" + r + ">"
		}
		fmt.Fprintf(&sb, "Member roles: %s\n", strings.Join(roles, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderCommands(name string, cmds []*models.CommandRecord, loc *time.Location) string {
	if len(cmds) == 0 {
		return fmt.Sprintf("No commands found for %s", name)
	}
	rows := make([][]string, 0, len(cmds))
	for _, c := range cmds {
		rows = append(rows, []string{
			c.CreatedAt.In(loc).Format("2006-01-02 15:04:05"),
			c.CommandName,
			truncateString(strings.Join(c.Options, " "), 40),
		})
	}
	return fmt.Sprintf("**Recent commands of %s**\n%s", name,
		formatTable([]string{"TIME", "COMMAND", "OPTIONS"}, rows))
}

func renderQueue(entries []models.ReplacementEntry) string {
	if len(entries) == 0 {
		return "The replacement queue is empty"
	}
	var sb strings.Builder
	sb.WriteString("**Replacement queue**\n")
	for n, e := range entries {
		fmt.Fprintf(&sb, "%d. %s since %s\n", n+1, mention(e.UserID), discordTimestamp(e.InTimestamp))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderSkipQueuePrompt(ahead []models.ReplacementEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d member(s) are ahead of you in the replacement queue:\n", len(ahead))
	for _, e := range ahead {
		fmt.Fprintf(&sb, "- %s since %s\n", mention(e.UserID), discordTimestamp(e.InTimestamp))
	}
	sb.WriteString("Clock in anyway?")
	return sb.String()
}

func renderClockIn(name string, res *ledger.ClockInResult) string {
	msg := fmt.Sprintf("%s clocked in to **%s** at %s",
		name, res.Record.Session, discordTimestamp(res.Record.InTimestamp))
	if res.Record.Character != "" {
		msg += fmt.Sprintf(" as %s", res.Record.Character)
	}
	if len(res.Skipped) > 0 {
		msg += fmt.Sprintf("\nSkipped %d member(s) in the replacement queue", len(res.Skipped))
	}
	if res.RemovedFromQueue {
		msg += "\nRemoved from the replacement queue"
	}
	return msg
}

func renderOverCapacity(actives []models.AttendanceRecord, maxActive int, now int64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "There are %d members clocked in, the limit is %d. Please reduce:\n", len(actives), maxActive)
	for _, a := range actives {
		fmt.Fprintf(&sb, "- %s for %s\n", mention(a.UserID), timeutil.FormatSeconds(now-a.InTimestamp))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderClockOut(name string, res *ledger.ClockOutResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s clocked out at %s, %s hours recorded",
		name, discordTimestamp(res.Record.Out()), timeutil.FormatHours(res.Record.Seconds()))
	for _, bonus := range res.Bonuses {
		fmt.Fprintf(&sb, "\n+%s bonus hours (%s)", timeutil.FormatHours(bonus.Seconds()), bonusLabel(bonus.Character))
	}
	if len(res.BonusErrors) > 0 {
		fmt.Fprintf(&sb, "\n%d bonus record(s) could not be stored, contact an administrator", len(res.BonusErrors))
	}
	fmt.Fprintf(&sb, "\nTotal: %s hours", timeutil.FormatHours(res.TotalSeconds))
	return sb.String()
}

// bonusLabel turns "50_PCT_BONUS_18:00_TO_20:00 123" into "50% 18:00-20:00"
func bonusLabel(character string) string {
	label, _, _ := strings.Cut(character, " ")
	pct, window, ok := strings.Cut(label, ledger.BonusTag)
	if !ok {
		return character
	}
	start, end, ok := strings.Cut(window, "_TO_")
	if !ok {
		return character
	}
	return fmt.Sprintf("%s%% %s-%s", pct, start, end)
}

func renderSessionEnd(res *ledger.EndSessionResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session **%s** ended at %s, lasted %s",
		res.Session.Name, discordTimestamp(res.Session.EndTimestamp),
		timeutil.FormatSeconds(res.Session.Seconds()))
	if len(res.Closed) > 0 {
		fmt.Fprintf(&sb, "\nClocked out %d member(s):", len(res.Closed))
		for _, rec := range res.Closed {
			fmt.Fprintf(&sb, "\n- %s %s hours", mention(rec.UserID), timeutil.FormatHours(rec.Seconds()))
		}
	}
	if len(res.Bonuses) > 0 {
		fmt.Fprintf(&sb, "\nAwarded %d bonus record(s)", len(res.Bonuses))
	}
	if len(res.Failures) > 0 {
		sb.WriteString("\nCould not close:")
		for _, f := range res.Failures {
			fmt.Fprintf(&sb, "\n- %s: %s", mention(f.UserID), ledger.StatusMessage(f.Err))
		}
	}
	return sb.String()
}
