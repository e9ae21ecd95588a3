// Package queue keeps each guild's replacement queue in a Redis sorted set
// scored by the time a member joined.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"clockbot/internal/config"
	"clockbot/internal/db/models"
)

const keyPrefix = "replacements:"

// Redis is a replacement queue backed by one sorted set per guild.
type Redis struct {
	rdb    goredis.Cmdable
	logger *zap.Logger
}

// Connect opens a Redis client and pings it.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Redis, *goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("error connecting to redis: %w", err)
	}
	logger.Info("connected to redis", zap.String("addr", cfg.Addr))

	return New(rdb, logger), rdb, nil
}

// New wraps an existing client.
func New(rdb goredis.Cmdable, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{rdb: rdb, logger: logger}
}

func key(guildID int64) string {
	return keyPrefix + strconv.FormatInt(guildID, 10)
}

func member(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// Add queues userID at ts. An existing entry keeps its original position.
func (q *Redis) Add(ctx context.Context, guildID, userID, ts int64) (bool, error) {
	n, err := q.rdb.ZAddNX(ctx, key(guildID), goredis.Z{Score: float64(ts), Member: member(userID)}).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns the whole queue, oldest first.
func (q *Redis) List(ctx context.Context, guildID int64) ([]models.ReplacementEntry, error) {
	zs, err := q.rdb.ZRangeWithScores(ctx, key(guildID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return q.entries(guildID, zs, -1), nil
}

// Before returns the entries of other members queued strictly before
// userID, or before now when userID is not queued.
func (q *Redis) Before(ctx context.Context, guildID, userID, now int64) ([]models.ReplacementEntry, error) {
	threshold := now
	score, err := q.rdb.ZScore(ctx, key(guildID), member(userID)).Result()
	switch {
	case err == nil:
		threshold = int64(score)
	case errors.Is(err, goredis.Nil):
	default:
		return nil, err
	}

	zs, err := q.rdb.ZRangeByScoreWithScores(ctx, key(guildID), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(threshold, 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	return q.entries(guildID, zs, userID), nil
}

// Remove drops userID from the queue.
func (q *Redis) Remove(ctx context.Context, guildID, userID int64) (bool, error) {
	n, err := q.rdb.ZRem(ctx, key(guildID), member(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear empties the guild's queue.
func (q *Redis) Clear(ctx context.Context, guildID int64) error {
	return q.rdb.Del(ctx, key(guildID)).Err()
}

func (q *Redis) entries(guildID int64, zs []goredis.Z, skipUser int64) []models.ReplacementEntry {
	entries := make([]models.ReplacementEntry, 0, len(zs))
	for _, z := range zs {
		raw, ok := z.Member.(string)
		if !ok {
			continue
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			q.logger.Warn("skipping malformed replacement entry",
				zap.Int64("guild", guildID), zap.String("member", raw))
			continue
		}
		if userID == skipUser {
			continue
		}
		entries = append(entries, models.ReplacementEntry{
			GuildID:     guildID,
			UserID:      userID,
			InTimestamp: int64(z.Score),
		})
	}
	return entries
}
