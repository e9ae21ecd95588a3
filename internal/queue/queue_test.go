package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clockbot/internal/db/models"
)

func TestBeforeUsesOwnScore(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	q := New(rdb, nil)
	ctx := context.Background()

	mock.ExpectZScore("replacements:1", "30").SetVal(500)
	mock.ExpectZRangeByScoreWithScores("replacements:1", &goredis.ZRangeBy{Min: "-inf", Max: "(500"}).
		SetVal([]goredis.Z{
			{Score: 100, Member: "10"},
			{Score: 200, Member: "20"},
		})

	entries, err := q.Before(ctx, 1, 30, 9999)
	require.NoError(t, err)
	assert.Equal(t, []models.ReplacementEntry{
		{GuildID: 1, UserID: 10, InTimestamp: 100},
		{GuildID: 1, UserID: 20, InTimestamp: 200},
	}, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeforeNotQueuedUsesNow(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	q := New(rdb, nil)
	ctx := context.Background()

	mock.ExpectZScore("replacements:1", "30").RedisNil()
	mock.ExpectZRangeByScoreWithScores("replacements:1", &goredis.ZRangeBy{Min: "-inf", Max: "(1000"}).
		SetVal([]goredis.Z{{Score: 100, Member: "10"}})

	entries, err := q.Before(ctx, 1, 30, 1000)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(10), entries[0].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeforeError(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	q := New(rdb, nil)

	mock.ExpectZScore("replacements:1", "30").SetErr(errors.New("connection refused"))

	_, err := q.Before(context.Background(), 1, 30, 1000)
	assert.Error(t, err)
}

func TestAddRemoveClear(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	q := New(rdb, nil)
	ctx := context.Background()

	mock.ExpectZAddNX("replacements:1", goredis.Z{Score: 100, Member: "10"}).SetVal(1)
	mock.ExpectZAddNX("replacements:1", goredis.Z{Score: 300, Member: "10"}).SetVal(0)
	mock.ExpectZRem("replacements:1", "10").SetVal(1)
	mock.ExpectZRem("replacements:1", "10").SetVal(0)
	mock.ExpectDel("replacements:1").SetVal(1)

	added, err := q.Add(ctx, 1, 10, 100)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = q.Add(ctx, 1, 10, 300)
	require.NoError(t, err)
	assert.False(t, added)

	removed, err := q.Remove(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = q.Remove(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, q.Clear(ctx, 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSkipsMalformed(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	q := New(rdb, nil)

	mock.ExpectZRangeWithScores("replacements:7", 0, -1).SetVal([]goredis.Z{
		{Score: 1, Member: "5"},
		{Score: 2, Member: "not-a-user"},
		{Score: 3, Member: "6"},
	})

	entries, err := q.List(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(5), entries[0].UserID)
	assert.Equal(t, int64(6), entries[1].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
