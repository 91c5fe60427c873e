// Package sqlstore keeps records as JSON documents in the records table of
// a SQLite or PostgreSQL database.
//
// Rows are keyed by (entity, id), where entity is the collection name, and
// seq preserves insertion order. Statements are built with squirrel so the
// same code emits ? placeholders for SQLite and $n for PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/storage"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

const table = "records"

// Store is a storage.Store over a sqlx database whose schema was created
// by the crudql migrations.
type Store struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
}

// New wraps db.
func New(db *sqlx.DB) *Store {
	var format sq.PlaceholderFormat = sq.Question
	if db.DriverName() == "postgres" {
		format = sq.Dollar
	}
	return &Store{db: db, builder: sq.StatementBuilder.PlaceholderFormat(format)}
}

var _ storage.Store = (*Store)(nil)

func notFound(c storage.Collection, id string) error {
	return types.Errorf(types.ErrNotFound, "%s %q not found", c.Shape.Name(), id)
}

// Insert adds rec. A taken key is reported as a conflict.
func (s *Store) Insert(ctx context.Context, c storage.Collection, rec any) error {
	id := c.Shape.ID(rec)
	payload, err := c.Shape.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.Shape.Name(), err)
	}

	stmt, args, err := s.builder.Insert(table).
		Columns("entity", "id", "payload", "created_at").
		Values(c.Name, id, string(payload), time.Now().UTC().Format(time.RFC3339Nano)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert record sql: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		// The unique (entity, id) constraint is the arbiter; confirm the
		// row exists before calling it a conflict.
		if exists, lookupErr := s.exists(ctx, c, id); lookupErr == nil && exists {
			return types.Errorf(types.ErrConflict, "%s %q already exists", c.Shape.Name(), id)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, c storage.Collection, id string) (bool, error) {
	stmt, args, err := s.builder.Select("COUNT(*)").From(table).
		Where(sq.Eq{"entity": c.Name, "id": id}).
		ToSql()
	if err != nil {
		return false, err
	}
	var n int
	if err := s.db.GetContext(ctx, &n, stmt, args...); err != nil {
		return false, err
	}
	return n > 0, nil
}

// load decodes every record of the collection in insertion order.
func (s *Store) load(ctx context.Context, c storage.Collection) ([]any, error) {
	stmt, args, err := s.builder.Select("payload").From(table).
		Where(sq.Eq{"entity": c.Name}).
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list records sql: %w", err)
	}

	var payloads []string
	if err := s.db.SelectContext(ctx, &payloads, stmt, args...); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	out := make([]any, 0, len(payloads))
	for _, p := range payloads {
		rec, err := c.Shape.Unmarshal([]byte(p))
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
		stmt, args, err := s.builder.Select("COUNT(*)").From(table).Where(sq.Eq{"entity": c.Name}).ToSql()
		if err != nil {
			return 0, fmt.Errorf("build count records sql: %w", err)
		}
		var n int
		if err := s.db.GetContext(ctx, &n, stmt, args...); err != nil {
			return 0, fmt.Errorf("count records: %w", err)
		}
		return n, nil
	}
	recs, err := s.load(ctx, c)
	if err != nil {
		return 0, err
	}
	return storage.CountMatches(recs, where), nil
}

// Get returns the record with key id.
func (s *Store) Get(ctx context.Context, c storage.Collection, id string) (any, error) {
	stmt, args, err := s.builder.Select("payload").From(table).
		Where(sq.Eq{"entity": c.Name, "id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get record sql: %w", err)
	}

	var payload string
	if err := s.db.GetContext(ctx, &payload, stmt, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(c, id)
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return c.Shape.Unmarshal([]byte(payload))
}

// Replace overwrites the payload of the record with key id.
func (s *Store) Replace(ctx context.Context, c storage.Collection, id string, rec any) error {
	payload, err := c.Shape.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.Shape.Name(), err)
	}
	stmt, args, err := s.builder.Update(table).
		Set("payload", string(payload)).
		Where(sq.Eq{"entity": c.Name, "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update record sql: %w", err)
	}
	return s.execOne(ctx, c, id, "update record", stmt, args)
}

// Delete removes the record with key id.
func (s *Store) Delete(ctx context.Context, c storage.Collection, id string) error {
	stmt, args, err := s.builder.Delete(table).
		Where(sq.Eq{"entity": c.Name, "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete record sql: %w", err)
	}
	return s.execOne(ctx, c, id, "delete record", stmt, args)
}

func (s *Store) execOne(ctx context.Context, c storage.Collection, id, what, stmt string, args []any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return notFound(c, id)
	}
	return nil
}
