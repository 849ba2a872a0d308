package tournament

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/occ"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultTournamentTTL = 30 * 24 * time.Hour

// errNoop lets a mutation finish successfully without writing anything.
var errNoop = errors.New("tournament unchanged")

// Store persists tournament documents. Mutate loads fresh state for every
// attempt and commits only if nobody wrote in between.
type Store interface {
	Create(ctx context.Context, t *Tournament) error
	Get(ctx context.Context, id string) (*Tournament, error)
	Mutate(ctx context.Context, id, op string, fn func(t *Tournament) error) (*Tournament, error)
}

type RedisStore struct {
	rdb        redis.UniversalClient
	policy     occ.Policy
	ttl        time.Duration
	now        func() time.Time
	commitHook func(ctx context.Context, id string)
}

type StoreOption func(*RedisStore)

func WithStorePolicy(p occ.Policy) StoreOption { return func(s *RedisStore) { s.policy = p } }

func WithStoreTTL(d time.Duration) StoreOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithStoreClock(now func() time.Time) StoreOption { return func(s *RedisStore) { s.now = now } }

// WithStoreCommitHook runs fn between read and commit; tests use it to force conflicts.
func WithStoreCommitHook(fn func(ctx context.Context, id string)) StoreOption {
	return func(s *RedisStore) { s.commitHook = fn }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...StoreOption) *RedisStore {
	s := &RedisStore{rdb: rdb, policy: occ.DefaultPolicy(), ttl: defaultTournamentTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func tournamentKey(id string) string { return "arena:tournament:" + strings.TrimSpace(id) }

func (s *RedisStore) Create(ctx context.Context, t *Tournament) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, tournamentKey(t.ID), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create tournament: %w", err)
	}
	if !ok {
		return chessdto.Errorf(chessdto.CodeStateConflict, "tournament %s already exists", t.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Tournament, error) {
	t, err := s.load(ctx, s.rdb, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, chessdto.Errorf(chessdto.CodeNotFound, "tournament %s not found", id)
	}
	return t, nil
}

func (s *RedisStore) Mutate(ctx context.Context, id, op string, fn func(t *Tournament) error) (*Tournament, error) {
	key := tournamentKey(id)
	var out *Tournament
	err := s.policy.Do(ctx, op, func() error {
		return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if cur == nil {
				return chessdto.Errorf(chessdto.CodeNotFound, "tournament %s not found", id)
			}
			if err := fn(cur); err != nil {
				if errors.Is(err, errNoop) {
					out = cur
					return nil
				}
				return err
			}
			cur.Version++
			cur.UpdatedAt = s.now()
			raw, err := json.Marshal(cur)
			if err != nil {
				return err
			}
			if s.commitHook != nil {
				s.commitHook(ctx, id)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, raw, s.ttl)
				return nil
			})
			if err != nil {
				return err
			}
			out = cur
			return nil
		}, key)
	})
	if err != nil {
		if chessdto.CodeOf(err) == chessdto.CodeInternal {
			obslog.L().Error("tournament_mutate_error", zap.String("op", op), zap.String("tournament_id", id), zap.Error(err))
		}
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, id string) (*Tournament, error) {
	raw, err := c.Get(ctx, tournamentKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tournament %s: %w", id, err)
	}
	var t Tournament
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode tournament %s: %w", id, err)
	}
	return &t, nil
}
