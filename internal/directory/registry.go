package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultAnnouncementTTL is how long an announcement stays valid without a
// heartbeat.
const DefaultAnnouncementTTL = 30 * time.Second

// Announcement records that an application serves blur requests on a port.
type Announcement struct {
	App        string    `json:"app"`
	Port       int       `json:"port"`
	InstanceID string    `json:"instance_id"`
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ServersKey returns the Redis hash holding the announcements of a namespace.
// Pattern: blur:{namespace}:servers
func ServersKey(namespace string) string {
	return fmt.Sprintf("blur:%s:servers", namespace)
}

// RedisRegistry stores announcements in one Redis hash keyed by application
// name. It is safe for concurrent use.
type RedisRegistry struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
	now       func() time.Time
}

// NewRedisRegistry creates a registry for namespace. A ttl of zero means
// DefaultAnnouncementTTL.
func NewRedisRegistry(opts *redis.Options, namespace string, ttl time.Duration) (*RedisRegistry, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultAnnouncementTTL
	}
	return &RedisRegistry{
		rdb:       redis.NewClient(opts),
		namespace: namespace,
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

// Close closes the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.rdb.Close()
}

// Ping verifies Redis connectivity.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Announce writes a, stamping its update time. An empty InstanceID is
// filled with a new UUID. The stored announcement is returned.
func (r *RedisRegistry) Announce(ctx context.Context, a Announcement) (Announcement, error) {
	if a.App == "" {
		return a, fmt.Errorf("announcement has no app name")
	}
	if a.InstanceID == "" {
		a.InstanceID = uuid.New().String()
	}
	a.UpdatedAt = r.now().UTC()

	data, err := json.Marshal(a)
	if err != nil {
		return a, fmt.Errorf("failed to marshal announcement: %w", err)
	}
	if err := r.rdb.HSet(ctx, ServersKey(r.namespace), a.App, data).Err(); err != nil {
		return a, fmt.Errorf("failed to write announcement to Redis: %w", err)
	}
	return a, nil
}

// Withdraw removes the announcement of app if it still belongs to
// instanceID, so a restarted host is not withdrawn by its predecessor.
func (r *RedisRegistry) Withdraw(ctx context.Context, app, instanceID string) error {
	key := ServersKey(r.namespace)

	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, key, app).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var current Announcement
		if err := json.Unmarshal([]byte(data), &current); err != nil {
			return fmt.Errorf("failed to unmarshal announcement: %w", err)
		}
		if current.InstanceID != instanceID {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, app)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("failed to withdraw announcement of %s: %w", app, err)
	}
	return nil
}

// List returns the fresh announcements sorted by application name.
// Announcements older than the ttl are skipped.
func (r *RedisRegistry) List(ctx context.Context) ([]Announcement, error) {
	entries, err := r.rdb.HGetAll(ctx, ServersKey(r.namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read announcements from Redis: %w", err)
	}

	cutoff := r.now().Add(-r.ttl)
	out := make([]Announcement, 0, len(entries))
	for app, data := range entries {
		var a Announcement
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			log.Printf("[Registry] Skipping malformed announcement for %s: %v", app, err)
			continue
		}
		if a.UpdatedAt.Before(cutoff) {
			continue
		}
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].App < out[j].App })
	return out, nil
}
