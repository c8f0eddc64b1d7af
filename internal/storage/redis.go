// Package storage implements the host contract on Redis so the API and the
// worker share one view of every chat.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

// ErrFloorNotFound is returned when writing a floor id that does not exist.
var ErrFloorNotFound = errors.New("floor not found")

// ErrWorldbookNotFound is returned when reading an unknown worldbook.
var ErrWorldbookNotFound = errors.New("worldbook not found")

const maxTxRetries = 10

// RedisStorage owns the connection. Use Chat to get a per-chat view.
type RedisStorage struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStorage connects to redisURL, which may be a host:port address or a
// redis:// URL.
func NewRedisStorage(redisURL string, logger *slog.Logger) (*RedisStorage, error) {
	opt, err := Options(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStorage{client: redis.NewClient(opt), logger: logger}, nil
}

// Options parses either form of redis address.
func Options(redisURL string) (*redis.Options, error) {
	if strings.Contains(redisURL, "://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		return opt, nil
	}
	return &redis.Options{Addr: redisURL}, nil
}

// Health and lifecycle methods

func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStorage) WaitForConnection(ctx context.Context) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

// Chat returns the host store of one chat session.
func (r *RedisStorage) Chat(chatID string) *ChatStorage {
	return &ChatStorage{
		client: r.client,
		logger: r.logger.With("chat_id", chatID),
		prefix: "chat:" + chatID + ":",
	}
}

// ChatStorage is the storage.Storage of one chat.
//
// Keys:
//
//	chat:{id}:floors          list of JSON floors, index = floor id
//	chat:{id}:vars:{scope}    hash of top-level variable -> JSON value
//	chat:{id}:vars:message:N  same, for floor N
//	chat:{id}:bindings        JSON worldbook bindings
//	chat:{id}:card            JSON character card
//	worldbook:{name}          JSON entry list, shared by every chat
type ChatStorage struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
}

var _ storage.Storage = (*ChatStorage)(nil)

func (c *ChatStorage) floorsKey() string { return c.prefix + "floors" }

func worldbookKey(name string) string { return "worldbook:" + name }

// Floors

func (c *ChatStorage) LastFloorID(ctx context.Context) (int, error) {
	n, err := c.client.LLen(ctx, c.floorsKey()).Result()
	if err != nil {
		return -1, fmt.Errorf("failed to count floors: %w", err)
	}
	return int(n) - 1, nil
}

func (c *ChatStorage) Floors(ctx context.Context, start, end int) ([]storage.Floor, error) {
	if start < 0 {
		start = 0
	}
	if end < start {
		return nil, nil
	}
	raw, err := c.client.LRange(ctx, c.floorsKey(), int64(start), int64(end)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read floors: %w", err)
	}
	floors := make([]storage.Floor, 0, len(raw))
	for i, s := range raw {
		var f storage.Floor
		if err := json.Unmarshal([]byte(s), &f); err != nil {
			c.logger.Warn("Skipping unreadable floor", "floor_id", start+i, "error", err)
			continue
		}
		f.ID = start + i
		floors = append(floors, f)
	}
	return floors, nil
}

func (c *ChatStorage) SetFloor(ctx context.Context, id int, message string) error {
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrFloorNotFound, id)
	}
	key := c.floorsKey()
	return c.retryTx(ctx, func(tx *redis.Tx) error {
		s, err := tx.LIndex(ctx, key, int64(id)).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %d", ErrFloorNotFound, id)
		}
		if err != nil {
			return err
		}
		var f storage.Floor
		if err := json.Unmarshal([]byte(s), &f); err != nil {
			return fmt.Errorf("failed to unmarshal floor %d: %w", id, err)
		}
		f.ID = id
		f.Message = message
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.LSet(ctx, key, int64(id), data)
			return nil
		})
		return err
	}, key)
}

func (c *ChatStorage) CreateFloor(ctx context.Context, role, name, message string) (int, error) {
	key := c.floorsKey()
	var id int
	err := c.retryTx(ctx, func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		id = int(n)
		data, err := json.Marshal(storage.Floor{ID: id, Role: role, Name: name, Message: message})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.RPush(ctx, key, data)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return -1, fmt.Errorf("failed to create floor: %w", err)
	}
	return id, nil
}

// Variables

func (c *ChatStorage) varsKey(ctx context.Context, opt storage.VariableOption) (string, error) {
	if opt.Type != storage.ScopeMessage {
		return c.prefix + "vars:" + string(opt.Type), nil
	}
	id := opt.MessageID
	if id < 0 {
		last, err := c.LastFloorID(ctx)
		if err != nil {
			return "", err
		}
		id = last
	}
	return c.prefix + "vars:message:" + strconv.Itoa(id), nil
}

func (c *ChatStorage) GetVariables(ctx context.Context, opt storage.VariableOption) (map[string]any, error) {
	key, err := c.varsKey(ctx, opt)
	if err != nil {
		return nil, err
	}
	raw, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read variables: %w", err)
	}
	vars := make(map[string]any, len(raw))
	for k, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			c.logger.Warn("Skipping unreadable variable", "key", k, "error", err)
			continue
		}
		vars[k] = v
	}
	return vars, nil
}

// MergeVariables writes each top-level key as one hash field, so a merge
// never clobbers keys it does not name.
func (c *ChatStorage) MergeVariables(ctx context.Context, opt storage.VariableOption, vars map[string]any) error {
	if len(vars) == 0 {
		return nil
	}
	key, err := c.varsKey(ctx, opt)
	if err != nil {
		return err
	}
	fields := make(map[string]any, len(vars))
	for k, v := range vars {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal variable %q: %w", k, err)
		}
		fields[k] = string(data)
	}
	if err := c.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to write variables: %w", err)
	}
	return nil
}

// Worldbooks

func (c *ChatStorage) WorldbookBindings(ctx context.Context) (storage.WorldbookBindings, error) {
	var b storage.WorldbookBindings
	if _, err := c.getJSON(ctx, c.prefix+"bindings", &b); err != nil {
		return b, fmt.Errorf("failed to read worldbook bindings: %w", err)
	}
	return b, nil
}

// SetBindings binds worldbooks to the chat's character.
func (c *ChatStorage) SetBindings(ctx context.Context, b storage.WorldbookBindings) error {
	return c.setJSON(ctx, c.prefix+"bindings", b)
}

func (c *ChatStorage) Worldbook(ctx context.Context, name string) ([]storage.WorldbookEntry, error) {
	var entries []storage.WorldbookEntry
	found, err := c.getJSON(ctx, worldbookKey(name), &entries)
	if err != nil {
		return nil, fmt.Errorf("failed to read worldbook %q: %w", name, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrWorldbookNotFound, name)
	}
	return entries, nil
}

// PutWorldbook replaces a whole worldbook.
func (c *ChatStorage) PutWorldbook(ctx context.Context, name string, entries []storage.WorldbookEntry) error {
	if entries == nil {
		entries = []storage.WorldbookEntry{}
	}
	return c.setJSON(ctx, worldbookKey(name), entries)
}

// editWorldbook applies fn to the entries of name under optimistic locking.
func (c *ChatStorage) editWorldbook(ctx context.Context, name string, fn func([]storage.WorldbookEntry) ([]storage.WorldbookEntry, error)) error {
	key := worldbookKey(name)
	return c.retryTx(ctx, func(tx *redis.Tx) error {
		var entries []storage.WorldbookEntry
		s, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(s), &entries); err != nil {
				return fmt.Errorf("failed to unmarshal worldbook %q: %w", name, err)
			}
		}
		entries, err = fn(entries)
		if err != nil {
			return err
		}
		data, err := json.Marshal(entries)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
}

func (c *ChatStorage) CreateWorldbookEntries(ctx context.Context, name string, entries []storage.WorldbookEntry) error {
	return c.editWorldbook(ctx, name, func(existing []storage.WorldbookEntry) ([]storage.WorldbookEntry, error) {
		next := 0
		for _, e := range existing {
			next = max(next, e.UID+1)
		}
		for _, e := range entries {
			if e.UID == 0 {
				e.UID = next
			}
			next = max(next, e.UID+1)
			existing = append(existing, e)
		}
		return existing, nil
	})
}

func (c *ChatStorage) UpdateWorldbookEntry(ctx context.Context, name string, entry storage.WorldbookEntry) error {
	return c.editWorldbook(ctx, name, func(existing []storage.WorldbookEntry) ([]storage.WorldbookEntry, error) {
		for i, e := range existing {
			if e.Name == entry.Name {
				if entry.UID == 0 {
					entry.UID = e.UID
				}
				existing[i] = entry
				return existing, nil
			}
		}
		return nil, fmt.Errorf("entry %q not found in worldbook %q", entry.Name, name)
	})
}

func (c *ChatStorage) DeleteWorldbookEntries(ctx context.Context, name string, entryNames []string) error {
	drop := make(map[string]bool, len(entryNames))
	for _, n := range entryNames {
		drop[n] = true
	}
	return c.editWorldbook(ctx, name, func(existing []storage.WorldbookEntry) ([]storage.WorldbookEntry, error) {
		kept := make([]storage.WorldbookEntry, 0, len(existing))
		for _, e := range existing {
			if !drop[e.Name] {
				kept = append(kept, e)
			}
		}
		return kept, nil
	})
}

// Character card

func (c *ChatStorage) CharacterCard(ctx context.Context) (*storage.CharacterCard, error) {
	var card storage.CharacterCard
	found, err := c.getJSON(ctx, c.prefix+"card", &card)
	if err != nil {
		return nil, fmt.Errorf("failed to read character card: %w", err)
	}
	if !found {
		return nil, errors.New("no character card")
	}
	return &card, nil
}

// SetCard stores the chat's acting character card.
func (c *ChatStorage) SetCard(ctx context.Context, card storage.CharacterCard) error {
	return c.setJSON(ctx, c.prefix+"card", card)
}

// Import replaces the chat's transcript and variables. Used to seed a chat
// from a host export.
func (c *ChatStorage) Import(ctx context.Context, floors []storage.Floor, vars map[storage.Scope]map[string]any) error {
	key := c.floorsKey()
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		for i, f := range floors {
			f.ID = i
			data, err := json.Marshal(f)
			if err != nil {
				return err
			}
			p.RPush(ctx, key, data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to import floors: %w", err)
	}
	for scope, bag := range vars {
		if err := c.MergeVariables(ctx, storage.VariableOption{Type: scope, MessageID: -1}, bag); err != nil {
			return err
		}
	}
	return nil
}

func (c *ChatStorage) getJSON(ctx context.Context, key string, out any) (bool, error) {
	s, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return false, err
	}
	return true, nil
}

func (c *ChatStorage) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, data, 0).Err(); err != nil {
		c.logger.Error("Redis SET failed", "key", key, "error", err)
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *ChatStorage) retryTx(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := c.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("transaction on %v kept conflicting", keys)
}
