package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	domainrepo "marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

// markReadScript sets the read mark only when the new value is greater than
// the stored one, so concurrent mark-read calls can never regress the
// high-water mark.
var markReadScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]))
local proposed = tonumber(ARGV[1])
if current == nil or proposed > current then
	redis.call("SET", KEYS[1], ARGV[1])
	return 1
end
return 0
`)

type redisReadStateRepository struct {
	client *redis.Client
}

func NewRedisReadStateRepository(client *redis.Client) domainrepo.ReadStateRepository {
	return &redisReadStateRepository{
		client: client,
	}
}

func readStateKey(chatID, participantID string) string {
	return "readstate:" + chatID + ":" + participantID
}

func (r *redisReadStateRepository) MarkRead(ctx context.Context, chatID, participantID string, upTo time.Time) error {
	key := readStateKey(chatID, participantID)
	err := markReadScript.Run(ctx, r.client, []string{key}, upTo.UnixMilli()).Err()
	if err != nil {
		return errors.Internal("Failed to update read state", err)
	}
	return nil
}

func (r *redisReadStateRepository) GetLastRead(ctx context.Context, chatID, participantID string) (time.Time, error) {
	val, err := r.client.Get(ctx, readStateKey(chatID, participantID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errors.Internal("Failed to get read state", err)
	}

	millis, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, errors.Internal("Corrupt read state value", err)
	}

	return time.UnixMilli(millis), nil
}
