package ledger

import (
	"context"
	"sort"
	"strings"

	"clockbot/internal/db/models"
	"clockbot/internal/timeutil"
)

// Category classifies a historical record by its character field.
type Category int

const (
	CategoryRegular Category = iota
	CategoryBonus
	CategoryZeroOut
	CategorySoloHold
	CategoryQuakeDS
)

const (
	ZeroOutTag  = "URN_ZERO_OUT_EVENT"
	SoloHoldTag = "SOLO_HOLD_BONUS"
	QuakeDSTag  = "QUAKE_DS_BONUS"
)

// Classify derives the category of a record from its character.
func Classify(character string) Category {
	switch {
	case strings.Contains(character, BonusTag):
		return CategoryBonus
	case strings.HasPrefix(character, ZeroOutTag):
		return CategoryZeroOut
	case character == SoloHoldTag:
		return CategorySoloHold
	case character == QuakeDSTag:
		return CategoryQuakeDS
	default:
		return CategoryRegular
	}
}

// Symbol is the two-column marker used in session listings.
func (c Category) Symbol() string {
	switch c {
	case CategoryBonus:
		return " +"
	case CategoryZeroOut:
		return "⚱️"
	case CategorySoloHold:
		return " S"
	case CategoryQuakeDS:
		return " Q"
	default:
		return "  "
	}
}

func (c Category) String() string {
	switch c {
	case CategoryBonus:
		return "bonus"
	case CategoryZeroOut:
		return "zero-out"
	case CategorySoloHold:
		return "solo-hold"
	case CategoryQuakeDS:
		return "quake-ds"
	default:
		return "regular"
	}
}

// TotalSeconds sums out - in over the member's historical records.
func (l *Ledger) TotalSeconds(ctx context.Context, guildID, userID int64) (int64, error) {
	records, err := l.store.GetHistoricalForUser(ctx, guildID, userID)
	if err != nil {
		return 0, storageError("get historical records", err)
	}
	var total int64
	for i := range records {
		total += records[i].Seconds()
	}
	return total, nil
}

// TotalHours is TotalSeconds in hours, rounded to two decimals.
func (l *Ledger) TotalHours(ctx context.Context, guildID, userID int64) (float64, error) {
	secs, err := l.TotalSeconds(ctx, guildID, userID)
	if err != nil {
		return 0, err
	}
	return timeutil.Hours(secs), nil
}

type UserTotal struct {
	UserID  int64
	Seconds int64
}

func (u UserTotal) Hours() float64 {
	return timeutil.Hours(u.Seconds)
}

// RankedUsers returns every member with history, highest total first; ties
// are ordered by user id ascending.
func (l *Ledger) RankedUsers(ctx context.Context, guildID int64) ([]UserTotal, error) {
	records, err := l.store.GetHistorical(ctx, guildID)
	if err != nil {
		return nil, storageError("get historical records", err)
	}
	totals := make(map[int64]int64)
	for i := range records {
		totals[records[i].UserID] += records[i].Seconds()
	}
	ranked := make([]UserTotal, 0, len(totals))
	for userID, secs := range totals {
		ranked = append(ranked, UserTotal{UserID: userID, Seconds: secs})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Seconds != ranked[j].Seconds {
			return ranked[i].Seconds > ranked[j].Seconds
		}
		return ranked[i].UserID < ranked[j].UserID
	})
	return ranked, nil
}

type SessionEntry struct {
	Record   models.AttendanceRecord
	Category Category
}

// UserSessions lists the member's historical records ordered by clock-in,
// then row id.
func (l *Ledger) UserSessions(ctx context.Context, guildID, userID int64) ([]SessionEntry, error) {
	records, err := l.store.GetHistoricalForUser(ctx, guildID, userID)
	if err != nil {
		return nil, storageError("get historical records", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].InTimestamp != records[j].InTimestamp {
			return records[i].InTimestamp < records[j].InTimestamp
		}
		return records[i].RowID < records[j].RowID
	})
	entries := make([]SessionEntry, len(records))
	for i, r := range records {
		entries[i] = SessionEntry{Record: r, Category: Classify(r.Character)}
	}
	return entries, nil
}

type ActiveUser struct {
	Record         models.AttendanceRecord
	ElapsedSeconds int64
}

// ActiveUsers returns the active set with time elapsed since clock-in,
// longest-active first.
func (l *Ledger) ActiveUsers(ctx context.Context, guildID, now int64) ([]ActiveUser, error) {
	actives, err := l.store.GetAllActive(ctx, guildID)
	if err != nil {
		return nil, storageError("get active records", err)
	}
	users := make([]ActiveUser, len(actives))
	for i, a := range actives {
		users[i] = ActiveUser{Record: a, ElapsedSeconds: now - a.InTimestamp}
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].Record.InTimestamp < users[j].Record.InTimestamp
	})
	return users, nil
}
