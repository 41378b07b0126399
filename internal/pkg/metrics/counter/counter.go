package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tradesafe-app/paygate/internal/pkg/cache"
	"github.com/tradesafe-app/paygate/internal/pkg/database"
)

// Daily intake counters held as Redis hashes keyed by provider, drained
// periodically into the webhook_daily_stats table for reporting.
const (
	intakeKey   = "webhook:counters:intake"
	creditedKey = "webhook:counters:credited"
)

// AddIntake increments the pending intake counter for a provider in Redis
func AddIntake(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, intakeKey, provider, 1).Err()
}

// AddCredited increments the pending credited counter for a provider in Redis
func AddCredited(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, creditedKey, provider, 1).Err()
}

// FlushAll flushes both counters to the database
func FlushAll() error {
	if err := flushHashToColumn(intakeKey, "intake_count"); err != nil {
		return err
	}
	return flushHashToColumn(creditedKey, "credited_count")
}

// flushHashToColumn drains a Redis hash atomically and applies batched
// increments to today's per-provider stats rows. Uses RENAME to a
// temporary key so in-flight increments are not lost.
func flushHashToColumn(redisKey, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no such key") || err.Error() == "redis: nil" {
			return nil
		}
		return err
	}
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	db := database.GetDB()
	day := time.Now().Format("2006-01-02")
	for provider, raw := range data {
		inc, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || inc == 0 {
			continue
		}
		sql := fmt.Sprintf(
			"INSERT INTO webhook_daily_stats (stat_date, provider, %s) VALUES (?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE %s = %s + VALUES(%s)",
			column, column, column, column,
		)
		if err := db.Exec(sql, day, provider, inc).Error; err != nil {
			return err
		}
	}
	return nil
}
