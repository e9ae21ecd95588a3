package ledger

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clockbot/internal/config"
	"clockbot/internal/db/models"
)

func TestClockInClockOutRecordsOneHour(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.startSession(t, "raid1", at(0, 9, 0))

	in := f.clockIn(t, 10, at(0, 10, 0))
	assert.Equal(t, "raid1", in.Record.Session)
	assert.True(t, in.Record.Active())

	out, err := f.ledger.ClockOut(ctx, testGuild, 10, at(0, 11, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(3600), out.Record.Seconds())
	assert.Empty(t, out.Bonuses)
	assert.Equal(t, int64(3600), out.TotalSeconds)
	assert.Equal(t, 1.0, out.Record.DebugDelta)

	hours, err := f.ledger.TotalHours(ctx, testGuild, 10)
	require.NoError(t, err)
	assert.Equal(t, 1.00, hours)

	actives, _ := f.store.GetAllActive(ctx, testGuild)
	assert.Empty(t, actives)
	history, _ := f.store.GetHistorical(ctx, testGuild)
	assert.Len(t, history, 1)
}

func TestClockInWithoutSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.ClockIn(context.Background(), ClockInRequest{GuildID: testGuild, UserID: 10, Now: at(0, 10, 0)})
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.Equal(t, "Sorry, there is no current session to clock into", StatusMessage(err))
}

func TestClockInSessionLookupFailureIsStorageError(t *testing.T) {
	f := newFixture(t)
	f.store.getSessionErr = errors.New("connection reset")

	_, err := f.ledger.ClockIn(context.Background(), ClockInRequest{GuildID: testGuild, UserID: 10, Now: at(0, 10, 0)})
	assert.ErrorIs(t, err, ErrStorage)
	assert.NotErrorIs(t, err, ErrNoActiveSession)
}

func TestClockInTwice(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "raid1", at(0, 9, 0))
	f.clockIn(t, 10, at(0, 10, 0))

	_, err := f.ledger.ClockIn(context.Background(), ClockInRequest{GuildID: testGuild, UserID: 10, Now: at(0, 10, 5)})
	assert.ErrorIs(t, err, ErrAlreadyActive)

	actives, _ := f.store.GetAllActive(context.Background(), testGuild)
	assert.Len(t, actives, 1)
}

func TestClockOutNotActive(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "raid1", at(0, 9, 0))

	_, err := f.ledger.ClockOut(context.Background(), testGuild, 10, at(0, 10, 0))
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestClockOutWithoutSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.ClockOut(context.Background(), testGuild, 10, at(0, 10, 0))
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestClockOutAwardsBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.startSession(t, "raid1", at(0, 17, 0))
	f.clockIn(t, 10, at(0, 17, 30))

	out, err := f.ledger.ClockOut(ctx, testGuild, 10, at(0, 19, 30))
	require.NoError(t, err)

	require.Len(t, out.Bonuses, 1)
	bonus := out.Bonuses[0]
	assert.Equal(t, at(0, 18, 0), bonus.InTimestamp)
	assert.Equal(t, int64(2700), bonus.Seconds())
	assert.Equal(t, "50_PCT_BONUS_18:00_TO_20:00 "+strconv.FormatInt(out.Record.RowID, 10), bonus.Character)
	assert.Equal(t, CategoryBonus, Classify(bonus.Character))
	assert.NotZero(t, bonus.RowID)

	// 2h regular + 45m bonus
	assert.Equal(t, int64(7200+2700), out.TotalSeconds)
}

func TestClockOutDataCorruption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.startSession(t, "raid1", at(0, 9, 0))
	f.store.forceActive(testGuild, models.AttendanceRecord{GuildID: testGuild, UserID: 10, Session: "raid1", InTimestamp: at(0, 10, 0)})
	f.store.forceActive(testGuild, models.AttendanceRecord{GuildID: testGuild, UserID: 10, Session: "raid1", InTimestamp: at(0, 10, 1)})

	_, err := f.ledger.ClockOut(ctx, testGuild, 10, at(0, 11, 0))
	require.ErrorIs(t, err, ErrDataCorruption)

	var le *Error
	require.True(t, errors.As(err, &le))
	assert.Len(t, le.Records, 2)
	assert.True(t, le.Fatal())

	// nothing is repaired
	actives, _ := f.store.GetAllActive(ctx, testGuild)
	assert.Len(t, actives, 2)
	history, _ := f.store.GetHistorical(ctx, testGuild)
	assert.Empty(t, history)
}

func TestClockOutPersistFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.startSession(t, "raid1", at(0, 9, 0))
	f.clockIn(t, 10, at(0, 10, 0))
	f.store.storeHistoricalErr = func(*models.AttendanceRecord) error { return errors.New("disk full") }

	_, err := f.ledger.ClockOut(ctx, testGuild, 10, at(0, 11, 0))
	require.ErrorIs(t, err, ErrPersistFailure)

	var le *Error
	require.True(t, errors.As(err, &le))
	require.Len(t, le.Records, 1)
	assert.Equal(t, at(0, 11, 0), le.Records[0].Out())
	assert.Equal(t, int64(10), le.Records[0].UserID)

	actives, _ := f.store.GetAllActive(ctx, testGuild)
	assert.Empty(t, actives)
}

func TestClockOutBonusFailureIsReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.startSession(t, "raid1", at(0, 17, 0))
	f.clockIn(t, 10, at(0, 18, 0))
	f.store.storeHistoricalErr = func(rec *models.AttendanceRecord) error {
		if Classify(rec.Character) == CategoryBonus {
			return errors.New("write failed")
		}
		return nil
	}

	out, err := f.ledger.ClockOut(ctx, testGuild, 10, at(0, 19, 0))
	require.NoError(t, err)
	assert.Empty(t, out.Bonuses)
	require.Len(t, out.BonusErrors, 1)
	assert.ErrorIs(t, out.BonusErrors[0], ErrPersistFailure)
	assert.Equal(t, int64(3600), out.TotalSeconds)
}

func TestConcurrentClockInSameMember(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "raid1", at(0, 9, 0))

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		already   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.ClockIn(context.Background(), ClockInRequest{GuildID: testGuild, UserID: 10, Now: at(0, 10, 0)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyActive):
				already++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, already)
	actives, _ := f.store.GetAllActive(context.Background(), testGuild)
	assert.Len(t, actives, 1)
	assert.Zero(t, f.ledger.memberLocks.size())
}

func TestClockInQueueConfirmation(t *testing.T) {
	ctx := context.Background()

	t.Run("no prompt available", func(t *testing.T) {
		f := newFixture(t)
		f.startSession(t, "raid1", at(0, 9, 0))
		f.queue.add(testGuild, 20, at(0, 9, 30))

		_, err := f.ledger.ClockIn(ctx, ClockInRequest{GuildID: testGuild, UserID: 10, Now: at(0, 10, 0)})
		assert.ErrorIs(t, err, ErrConfirmationRequired)
	})

	t.Run("declined", func(t *testing.T) {
		f := newFixture(t)
		f.startSession(t, "raid1", at(0, 9, 0))
		f.queue.add(testGuild, 20, at(0, 9, 30))

		var asked []models.ReplacementEntry
		_, err := f.ledger.ClockIn(ctx, ClockInRequest{
			GuildID: testGuild, UserID: 10, Now: at(0, 10, 0),
			SkipQueue: func(_ context.Context, ahead []models.ReplacementEntry) (bool, error) {
				asked = ahead
				return false, nil
			},
		})
		assert.ErrorIs(t, err, ErrConfirmationDeclined)
		require.Len(t, asked, 1)
		assert.Equal(t, int64(20), asked[0].UserID)

		actives, _ := f.store.GetAllActive(ctx, testGuild)
		assert.Empty(t, actives)
		assert.Equal(t, 1, f.queue.len(testGuild))
	})

	t.Run("prompt error counts as declined", func(t *testing.T) {
		f := newFixture(t)
		f.startSession(t, "raid1", at(0, 9, 0))
		f.queue.add(testGuild, 20, at(0, 9, 30))

		_, err := f.ledger.ClockIn(ctx, ClockInRequest{
			GuildID: testGuild, UserID: 10, Now: at(0, 10, 0),
			SkipQueue: func(context.Context, []models.ReplacementEntry) (bool, error) {
				return false, context.DeadlineExceeded
			},
		})
		assert.ErrorIs(t, err, ErrConfirmationDeclined)
	})

	t.Run("confirmed skips and leaves queue", func(t *testing.T) {
		f := newFixture(t)
		f.startSession(t, "raid1", at(0, 9, 0))
		f.queue.add(testGuild, 20, at(0, 9, 30))
		f.queue.add(testGuild, 10, at(0, 9, 45))

		res, err := f.ledger.ClockIn(ctx, ClockInRequest{
			GuildID: testGuild, UserID: 10, Now: at(0, 10, 0),
			SkipQueue: func(context.Context, []models.ReplacementEntry) (bool, error) {
				return true, nil
			},
		})
		require.NoError(t, err)
		assert.Len(t, res.Skipped, 1)
		assert.True(t, res.RemovedFromQueue)
		assert.Equal(t, 1, f.queue.len(testGuild))
	})

	t.Run("session ended during prompt", func(t *testing.T) {
		f := newFixture(t)
		f.startSession(t, "raid1", at(0, 9, 0))
		f.queue.add(testGuild, 20, at(0, 9, 30))

		_, err := f.ledger.ClockIn(ctx, ClockInRequest{
			GuildID: testGuild, UserID: 10, Now: at(0, 10, 0),
			SkipQueue: func(ctx context.Context, _ []models.ReplacementEntry) (bool, error) {
				_, err := f.ledger.EndSession(ctx, EndSessionRequest{GuildID: testGuild, EndedBy: 99, Now: at(0, 10, 0)})
				return err == nil, err
			},
		})
		assert.ErrorIs(t, err, ErrNoActiveSession)

		actives, _ := f.store.GetAllActive(ctx, testGuild)
		assert.Empty(t, actives)
	})

	t.Run("first in queue needs no prompt", func(t *testing.T) {
		f := newFixture(t)
		f.startSession(t, "raid1", at(0, 9, 0))
		f.queue.add(testGuild, 10, at(0, 9, 15))
		f.queue.add(testGuild, 20, at(0, 9, 30))

		res, err := f.ledger.ClockIn(ctx, ClockInRequest{GuildID: testGuild, UserID: 10, Now: at(0, 10, 0)})
		require.NoError(t, err)
		assert.Empty(t, res.Skipped)
		assert.True(t, res.RemovedFromQueue)
	})
}

func TestClockInOverCapacity(t *testing.T) {
	f := newFixture(t)
	gc := f.settings[testGuild]
	gc.MaxActive = 1
	f.settings[testGuild] = gc
	f.startSession(t, "raid1", at(0, 9, 0))

	first := f.clockIn(t, 10, at(0, 10, 0))
	assert.Empty(t, first.OverCapacity)

	second := f.clockIn(t, 20, at(0, 10, 5))
	assert.Len(t, second.OverCapacity, 2)
	assert.Equal(t, 1, second.MaxActive)
}

func TestActiveUsersElapsed(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "raid1", at(0, 9, 0))
	f.clockIn(t, 20, at(0, 10, 30))
	f.clockIn(t, 10, at(0, 10, 0))

	users, err := f.ledger.ActiveUsers(context.Background(), testGuild, at(0, 11, 0))
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(10), users[0].Record.UserID)
	assert.Equal(t, int64(3600), users[0].ElapsedSeconds)
	assert.Equal(t, int64(1800), users[1].ElapsedSeconds)
}

func TestTotalAfterSeveralCycles(t *testing.T) {
	f := newFixture(t)
	f.settings[testGuild] = config.GuildConfig{}
	ctx := context.Background()
	f.startSession(t, "raid1", at(0, 9, 0))

	cycles := []struct{ in, out int64 }{
		{at(0, 9, 0), at(0, 9, 45)},
		{at(0, 10, 0), at(0, 12, 30)},
		{at(0, 13, 0), at(0, 13, 0) + 17},
	}
	var want int64
	for _, c := range cycles {
		f.clockIn(t, 10, c.in)
		res, err := f.ledger.ClockOut(ctx, testGuild, 10, c.out)
		require.NoError(t, err)
		assert.Equal(t, c.out-c.in, res.Record.Seconds())
		want += c.out - c.in
	}

	total, err := f.ledger.TotalSeconds(ctx, testGuild, 10)
	require.NoError(t, err)
	assert.Equal(t, want, total)

	hours, err := f.ledger.TotalHours(ctx, testGuild, 10)
	require.NoError(t, err)
	assert.Equal(t, 3.25, hours)

	history, _ := f.store.GetHistoricalForUser(ctx, testGuild, 10)
	assert.Len(t, history, len(cycles))
}
