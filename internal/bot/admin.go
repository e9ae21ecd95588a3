package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clockbot/internal/ledger"
	"clockbot/internal/timeutil"

	"github.com/bwmarrin/discordgo"
)

func stringValue(r *request, name string) string {
	if opt, ok := r.options[name]; ok {
		return strings.TrimSpace(opt.StringValue())
	}
	return ""
}

// sessionOrCurrent returns the explicit session option or the name of the
// guild's open session
func (b *Bot) sessionOrCurrent(ctx context.Context, r *request) (string, error) {
	if name := stringValue(r, "session"); name != "" {
		return name, nil
	}
	session, err := b.ledger.CurrentSession(ctx, r.guildID)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", nil
	}
	return session.Name, nil
}

func (b *Bot) handleDirectUrn(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	userID, name, err := targetUser(i, r)
	if err != nil {
		editResponse(s, i, "Error: Invalid user")
		return
	}
	at, err := timeutil.CombineString(stringValue(r, "date"), stringValue(r, "time"), b.ledger.Location())
	if err != nil {
		editResponse(s, i, "Error: "+err.Error())
		return
	}

	res, err := b.ledger.ZeroOut(ctx, ledger.ZeroOutRequest{
		GuildID:     r.guildID,
		UserID:      userID,
		DisplayName: name,
		At:          at,
		SessionName: stringValue(r, "session"),
	})
	if err != nil {
		b.respondLedgerError(s, i, r, err)
		return
	}
	editResponse(s, i, fmt.Sprintf("⚱️ Zeroed out %s at %s, %s hours cleared (record #%d)",
		name, discordTimestamp(at), timeutil.FormatHours(res.ClearedSeconds), res.Record.RowID))
}

func (b *Bot) handleChangeHistory(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	var rowID int64
	if opt, ok := r.options["row"]; ok {
		rowID = opt.IntValue()
	}
	field, err := parseField(stringValue(r, "field"))
	if err != nil {
		editResponse(s, i, "Error: "+err.Error())
		return
	}
	at, err := timeutil.CombineString(stringValue(r, "date"), stringValue(r, "time"), b.ledger.Location())
	if err != nil {
		editResponse(s, i, "Error: "+err.Error())
		return
	}

	res, err := b.ledger.AmendRecord(ctx, ledger.AmendRequest{
		GuildID: r.guildID,
		RowID:   rowID,
		Field:   field,
		At:      at,
	})
	if err != nil {
		b.respondLedgerError(s, i, r, err)
		return
	}

	previous := res.Previous.InTimestamp
	if field == ledger.FieldClockOut {
		previous = res.Previous.Out()
	}
	editResponse(s, i, fmt.Sprintf("%s of record #%d changed from %s to %s, new record id #%d (%s hours)",
		field, rowID, discordTimestamp(previous), discordTimestamp(at),
		res.Record.RowID, timeutil.FormatHours(res.Record.Seconds())))
}

func parseField(v string) (ledger.Field, error) {
	switch v {
	case "in":
		return ledger.FieldClockIn, nil
	case "out":
		return ledger.FieldClockOut, nil
	}
	return 0, fmt.Errorf("invalid field %q, expected in or out", v)
}

func (b *Bot) handleDirectRecord(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request) {
	userID, name, err := targetUser(i, r)
	if err != nil {
		editResponse(s, i, "Error: Invalid user")
		return
	}
	dayAfter := false
	if opt, ok := r.options["dayafter"]; ok {
		dayAfter = opt.BoolValue()
	}
	in, out, err := recordSpan(stringValue(r, "date"), stringValue(r, "in"), stringValue(r, "out"), dayAfter, b.ledger.Location())
	if err != nil {
		editResponse(s, i, "Error: "+err.Error())
		return
	}
	sessionName, err := b.sessionOrCurrent(ctx, r)
	if err != nil {
		b.respondLedgerError(s, i, r, err)
		return
	}

	res, err := b.ledger.AddRecord(ctx, ledger.AddRecordRequest{
		GuildID:     r.guildID,
		UserID:      userID,
		DisplayName: name,
		SessionName: sessionName,
		Character:   stringValue(r, "character"),
		In:          in,
		Out:         out,
	})
	if err != nil {
		b.respondLedgerError(s, i, r, err)
		return
	}
	editResponse(s, i, fmt.Sprintf("Added record #%d for %s: %s to %s, %s hours (total %s hours)",
		res.Record.RowID, name, discordTimestamp(in), discordTimestamp(out),
		timeutil.FormatHours(res.Record.Seconds()), timeutil.FormatHours(res.TotalSeconds)))
}

// recordSpan resolves a clock-in and clock-out on date, moving the clock-out
// to the next calendar day when dayAfter is set
func recordSpan(date, inClock, outClock string, dayAfter bool, loc *time.Location) (int64, int64, error) {
	day, err := timeutil.ParseDate(date, loc)
	if err != nil {
		return 0, 0, err
	}
	inOffset, err := timeutil.ParseClock(inClock)
	if err != nil {
		return 0, 0, err
	}
	outOffset, err := timeutil.ParseClock(outClock)
	if err != nil {
		return 0, 0, err
	}
	outDay := day
	if dayAfter {
		outDay = day.AddDate(0, 0, 1)
	}
	in := timeutil.Combine(day, inOffset, loc).Unix()
	out := timeutil.Combine(outDay, outOffset, loc).Unix()
	return in, out, nil
}
