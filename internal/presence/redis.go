// Package presence mirrors who is online, and which room each user is
// watching, into Redis so other processes can read it.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Config holds Redis connection configuration.
type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	RoomTTL  time.Duration `mapstructure:"room_ttl"`
}

// Redis key patterns:
// {prefix}:online          SET<user_id>        - users with at least one session
// {prefix}:room:{room_id}  HASH<user_id,count> - connections per user watching a room

// exitScript decrements a user's connection count in a room and drops the
// field once it reaches zero.
var exitScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return n
`)

// RedisTracker implements chat.PresenceTracker using Redis.
type RedisTracker struct {
	client  redis.UniversalClient
	prefix  string
	roomTTL time.Duration
}

// NewRedisTracker connects to Redis and verifies the connection.
func NewRedisTracker(ctx context.Context, cfg Config) (*RedisTracker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, cfg.Prefix, cfg.RoomTTL), nil
}

// NewWithClient wraps an existing client. An empty prefix defaults to
// "presence".
func NewWithClient(client redis.UniversalClient, prefix string, roomTTL time.Duration) *RedisTracker {
	if prefix == "" {
		prefix = "presence"
	}
	return &RedisTracker{client: client, prefix: prefix, roomTTL: roomTTL}
}

func (t *RedisTracker) onlineKey() string {
	return t.prefix + ":online"
}

func (t *RedisTracker) roomKey(roomID chat.RoomID) string {
	return fmt.Sprintf("%s:room:%d", t.prefix, roomID)
}

func member(userID chat.UserID) string {
	return strconv.FormatInt(int64(userID), 10)
}

// Online adds the user to the online set.
func (t *RedisTracker) Online(ctx context.Context, userID chat.UserID) error {
	return t.client.SAdd(ctx, t.onlineKey(), member(userID)).Err()
}

// Offline removes the user from the online set.
func (t *RedisTracker) Offline(ctx context.Context, userID chat.UserID) error {
	return t.client.SRem(ctx, t.onlineKey(), member(userID)).Err()
}

// Entered counts one more connection of userID watching roomID.
func (t *RedisTracker) Entered(ctx context.Context, roomID chat.RoomID, userID chat.UserID) error {
	key := t.roomKey(roomID)
	pipe := t.client.TxPipeline()
	pipe.HIncrBy(ctx, key, member(userID), 1)
	if t.roomTTL > 0 {
		pipe.Expire(ctx, key, t.roomTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Exited counts one fewer connection of userID watching roomID.
func (t *RedisTracker) Exited(ctx context.Context, roomID chat.RoomID, userID chat.UserID) error {
	return exitScript.Run(ctx, t.client, []string{t.roomKey(roomID)}, member(userID)).Err()
}

// IsOnline reports whether the user is in the online set.
func (t *RedisTracker) IsOnline(ctx context.Context, userID chat.UserID) (bool, error) {
	return t.client.SIsMember(ctx, t.onlineKey(), member(userID)).Result()
}

// Occupants returns the users currently watching roomID.
func (t *RedisTracker) Occupants(ctx context.Context, roomID chat.RoomID) ([]chat.UserID, error) {
	fields, err := t.client.HKeys(ctx, t.roomKey(roomID)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]chat.UserID, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, chat.UserID(id))
	}
	return out, nil
}

// Close closes the underlying client.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}
