// Package redis provides a Redis-based implementation of storage.UserStorage.
//
// Key layout (all keys carry the configured prefix):
//
//	user:<username>  JSON encoded models.User
//	user_id:<id>     username of the user with this id
//	users            set of all usernames
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/storage"
)

// DefaultKeyPrefix is used when Config.KeyPrefix is empty
const DefaultKeyPrefix = "gophchat:"

// Config contains configuration options for the Redis storage
type Config struct {
	// Client is the Redis client instance
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string
}

// Storage implements storage.UserStorage using Redis
type Storage struct {
	client    *redis.Client
	keyPrefix string
}

// New creates a new Redis-based user storage
func New(config Config) (*Storage, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}

	return &Storage{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// CreateUser atomically claims the username; the first writer wins
func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.userKey(user.Username), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	if !ok {
		return storage.ErrUserAlreadyExists
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.idKey(user.ID), user.Username, 0)
		pipe.SAdd(ctx, s.indexKey(), user.Username)
		return nil
	})
	if err != nil {
		// откатываем захват username, иначе он останется занят без индекса
		s.client.Del(ctx, s.userKey(user.Username))
		return fmt.Errorf("failed to index user: %w", err)
	}

	return nil
}

// GetUserByUsername retrieves user by username
func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	raw, err := s.client.Get(ctx, s.userKey(username)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return decodeUser(raw)
}

// ListUsers returns all users ordered by username
func (s *Storage) ListUsers(ctx context.Context) ([]*models.User, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}
	slices.Sort(names)

	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = s.userKey(name)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	users := make([]*models.User, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// запись удалена между SMEMBERS и MGET
			continue
		}
		user, err := decodeUser([]byte(str))
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, nil
}

// UpdateLastLogin updates the last login timestamp
func (s *Storage) UpdateLastLogin(ctx context.Context, userID string, lastLogin time.Time) error {
	username, err := s.client.Get(ctx, s.idKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.ErrUserNotFound
		}
		return fmt.Errorf("failed to resolve user id: %w", err)
	}

	key := s.userKey(username)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return storage.ErrUserNotFound
			}
			return err
		}

		user, err := decodeUser(raw)
		if err != nil {
			return err
		}
		t := lastLogin.UTC()
		user.LastLogin = &t

		data, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("failed to marshal user: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return nil
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) userKey(username string) string {
	return s.keyPrefix + "user:" + username
}

func (s *Storage) idKey(userID string) string {
	return s.keyPrefix + "user_id:" + userID
}

func (s *Storage) indexKey() string {
	return s.keyPrefix + "users"
}

func decodeUser(raw []byte) (*models.User, error) {
	var user models.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}
