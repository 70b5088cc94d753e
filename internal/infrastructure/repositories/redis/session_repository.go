package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
)

const (
	sessionKeyPrefix = "voicelink:session:"
	sessionTTL       = 24 * time.Hour
)

// Options configures the redis-backed session store.
type Options struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// SessionRepository stores sessions in redis so resume works across a
// node restart and between nodes sharing the store.
type SessionRepository struct {
	client *redis.Client
}

var _ ports.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository dials redis and verifies connectivity.
func NewSessionRepository(ctx context.Context, opts Options) (*SessionRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &SessionRepository{client: client}, nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (r *SessionRepository) Save(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}
	return r.client.Set(ctx, sessionKey(session.ID), data, sessionTTL).Err()
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &session, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) List(ctx context.Context) ([]*domain.Session, error) {
	var sessions []*domain.Session
	iter := r.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var session domain.Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		sessions = append(sessions, &session)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Close releases the redis client.
func (r *SessionRepository) Close() error {
	return r.client.Close()
}
