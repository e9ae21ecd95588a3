package ledger

import (
	"fmt"
	"strconv"
	"time"

	"clockbot/internal/config"
	"clockbot/internal/db/models"
	"clockbot/internal/timeutil"
)

// BonusTag marks synthetic bonus records in the character field.
const BonusTag = "_PCT_BONUS_"

// BonusWindow is a parsed daily bonus range. A window whose End is not
// after Start wraps past midnight.
type BonusWindow struct {
	Start time.Duration
	End   time.Duration
	Pct   float64

	startLabel string
	endLabel   string
}

// WindowsFromConfig parses configured windows. Invalid entries are skipped;
// config.Validate rejects them at load time.
func WindowsFromConfig(cfg []config.BonusWindow) []BonusWindow {
	windows := make([]BonusWindow, 0, len(cfg))
	for _, c := range cfg {
		start, err := timeutil.ParseClock(c.Start)
		if err != nil {
			continue
		}
		end, err := timeutil.ParseClock(c.End)
		if err != nil {
			continue
		}
		windows = append(windows, BonusWindow{
			Start:      start,
			End:        end,
			Pct:        c.Pct,
			startLabel: c.Start,
			endLabel:   c.End,
		})
	}
	return windows
}

func (w BonusWindow) wraps() bool {
	return w.End <= w.Start
}

func (w BonusWindow) label() string {
	start, end := w.startLabel, w.endLabel
	if start == "" {
		start = clockLabel(w.Start)
	}
	if end == "" {
		end = clockLabel(w.End)
	}
	return fmt.Sprintf("%s%s%s_TO_%s", strconv.FormatFloat(w.Pct, 'f', -1, 64), BonusTag, start, end)
}

func clockLabel(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int((d%time.Hour)/time.Minute))
}

// ComputeBonuses derives the synthetic bonus records for a closed record.
//
// For every window and every calendar day the record touches (in loc), the
// overlap between the record and that day's window is awarded at the
// window's percentage, truncated to whole seconds. Each award becomes a
// record starting at the later of the two interval starts. Awards of zero
// seconds are dropped. The function has no side effects.
func ComputeBonuses(rec models.AttendanceRecord, windows []BonusWindow, loc *time.Location) []models.AttendanceRecord {
	if rec.OutTimestamp == nil || len(windows) == 0 {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	in, out := rec.InTimestamp, *rec.OutTimestamp
	if out < in {
		return nil
	}

	firstDay := timeutil.StartOfDay(timeutil.FromUnix(in, loc))
	lastDay := timeutil.StartOfDay(timeutil.FromUnix(out, loc))

	var bonuses []models.AttendanceRecord
	for _, w := range windows {
		from := firstDay
		if w.wraps() {
			// yesterday's window may still be running at clock-in
			from = from.AddDate(0, 0, -1)
		}
		for day := from; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
			bonusIn := timeutil.Combine(day, w.Start, loc).Unix()
			endDay := day
			if w.wraps() {
				endDay = day.AddDate(0, 0, 1)
			}
			bonusOut := timeutil.Combine(endDay, w.End, loc).Unix()

			if in > bonusOut || out < bonusIn {
				continue
			}
			overlap := min(out-in, out-bonusIn, bonusOut-in, bonusOut-bonusIn)
			award := int64(float64(overlap) * w.Pct / 100)
			if award <= 0 {
				continue
			}

			start := max(in, bonusIn)
			b := rec
			b.RowID = 0
			b.Character = fmt.Sprintf("%s %d", w.label(), rec.RowID)
			b.InTimestamp = start
			b.OutTimestamp = models.Timestamp(start + award)
			b.DebugIn = timeutil.ISO(start, loc)
			b.DebugOut = timeutil.ISO(start+award, loc)
			b.DebugDelta = timeutil.Hours(award)
			bonuses = append(bonuses, b)
		}
	}
	return bonuses
}
