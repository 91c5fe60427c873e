// Package redisstore keeps records in Redis.
//
// Each collection uses three keys under the configured prefix:
//
//	<prefix>:<collection>       hash of id -> JSON document
//	<prefix>:<collection>:order sorted set of ids scored by insertion sequence
//	<prefix>:<collection>:seq   insertion sequence counter
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	red "github.com/redis/go-redis/v9"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/storage"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

const defaultPrefix = "crudql"

// Store is a storage.Store over a go-redis client.
type Store struct {
	client *red.Client
	prefix string
}

// New wires client into a store. An empty prefix selects "crudql".
func New(client *red.Client, keyPrefix string) *Store {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) hashKey(c storage.Collection) string  { return fmt.Sprintf("%s:%s", s.prefix, c.Name) }
func (s *Store) orderKey(c storage.Collection) string { return s.hashKey(c) + ":order" }
func (s *Store) seqKey(c storage.Collection) string   { return s.hashKey(c) + ":seq" }

func notFound(c storage.Collection, id string) error {
	return types.Errorf(types.ErrNotFound, "%s %q not found", c.Shape.Name(), id)
}

// Insert claims the id with HSETNX, then appends it to the order index.
func (s *Store) Insert(ctx context.Context, c storage.Collection, rec any) error {
	id := c.Shape.ID(rec)
	payload, err := c.Shape.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.Shape.Name(), err)
	}

	ok, err := s.client.HSetNX(ctx, s.hashKey(c), id, payload).Result()
	if err != nil {
		return fmt.Errorf("redis hsetnx record: %w", err)
	}
	if !ok {
		return types.Errorf(types.ErrConflict, "%s %q already exists", c.Shape.Name(), id)
	}

	seq, err := s.client.Incr(ctx, s.seqKey(c)).Result()
	if err != nil {
		return fmt.Errorf("redis incr sequence: %w", err)
	}
	if err := s.client.ZAdd(ctx, s.orderKey(c), red.Z{Score: float64(seq), Member: id}).Err(); err != nil {
		return fmt.Errorf("redis zadd order: %w", err)
	}
	return nil
}

// load decodes every record in insertion order.
func (s *Store) load(ctx context.Context, c storage.Collection) ([]any, error) {
	ids, err := s.client.ZRange(ctx, s.orderKey(c), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange order: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	payloads, err := s.client.HMGet(ctx, s.hashKey(c), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hmget records: %w", err)
	}

	out := make([]any, 0, len(payloads))
	for _, p := range payloads {
		// A racing Insert may have indexed an id whose hash entry was since
		// deleted; skip it.
		str, ok := p.(string)
		if !ok {
			continue
		}
		rec, err := c.Shape.Unmarshal([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Find returns the matching records.
func (s *Store) Find(ctx context.Context, c storage.Collection, q storage.Query) ([]any, error) {
	recs, err := s.load(ctx, c)
	if err != nil {
		return nil, err
	}
	return storage.Apply(recs, q), nil
}

// Count counts the matching records.
func (s *Store) Count(ctx context.Context, c storage.Collection, where query.Predicate) (int, error) {
	if where == nil {
		n, err := s.client.HLen(ctx, s.hashKey(c)).Result()
		if err != nil {
			return 0, fmt.Errorf("redis hlen records: %w", err)
		}
		return int(n), nil
	}
	recs, err := s.load(ctx, c)
	if err != nil {
		return 0, err
	}
	return storage.CountMatches(recs, where), nil
}

// Get returns the record with key id.
func (s *Store) Get(ctx context.Context, c storage.Collection, id string) (any, error) {
	payload, err := s.client.HGet(ctx, s.hashKey(c), id).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, notFound(c, id)
		}
		return nil, fmt.Errorf("redis hget record: %w", err)
	}
	return c.Shape.Unmarshal([]byte(payload))
}

// Replace overwrites an existing record under WATCH so a concurrent Delete
// cannot be undone.
func (s *Store) Replace(ctx context.Context, c storage.Collection, id string, rec any) error {
	payload, err := c.Shape.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.Shape.Name(), err)
	}

	key := s.hashKey(c)
	err = s.client.Watch(ctx, func(tx *red.Tx) error {
		exists, err := tx.HExists(ctx, key, id).Result()
		if err != nil {
			return fmt.Errorf("redis hexists record: %w", err)
		}
		if !exists {
			return notFound(c, id)
		}
		_, err = tx.TxPipelined(ctx, func(pipe red.Pipeliner) error {
			pipe.HSet(ctx, key, id, payload)
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("redis replace record: %w", err)
	}
	return err
}

// Delete removes the record and its order entry.
func (s *Store) Delete(ctx context.Context, c storage.Collection, id string) error {
	var removed *red.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe red.Pipeliner) error {
		removed = pipe.HDel(ctx, s.hashKey(c), id)
		pipe.ZRem(ctx, s.orderKey(c), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete record: %w", err)
	}
	if removed.Val() == 0 {
		return notFound(c, id)
	}
	return nil
}
