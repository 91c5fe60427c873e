// Package storagetest holds the behavior every storage.Store backend must
// share. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/storage"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// Note is the record type used by the suite.
type Note struct {
	ID        string
	Title     string
	Rank      int64
	Score     float64
	Pinned    bool
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// NoteShape describes Note.
var NoteShape = entity.NewSchema[Note]("Note").
	Text("id", func(n *Note) string { return n.ID }, func(n *Note, v string) { n.ID = v }).
	Text("title", func(n *Note) string { return n.Title }, func(n *Note, v string) { n.Title = v }).
	Int("rank", func(n *Note) int64 { return n.Rank }, func(n *Note, v int64) { n.Rank = v }).
	Float("score", func(n *Note) float64 { return n.Score }, func(n *Note, v float64) { n.Score = v }).
	Bool("pinned", func(n *Note) bool { return n.Pinned }, func(n *Note, v bool) { n.Pinned = v }).
	Time("createdAt", func(n *Note) time.Time { return n.CreatedAt }, func(n *Note, v time.Time) { n.CreatedAt = v }).
	NullableTime("closedAt", func(n *Note) *time.Time { return n.ClosedAt }, func(n *Note, v *time.Time) { n.ClosedAt = v }).
	Key("id").
	MustBuild()

// Notes is the collection used by the suite.
var Notes = storage.Collection{Name: "notes", Shape: NoteShape}

func note(i int) *Note {
	return &Note{
		ID:        fmt.Sprintf("n%02d", i),
		Title:     fmt.Sprintf("note %d", i),
		Rank:      int64(10 - i),
		Score:     float64(i) / 2,
		Pinned:    i%2 == 0,
		CreatedAt: time.Date(2024, 1, i+1, 12, 0, 0, 0, time.UTC),
	}
}

func seed(t *testing.T, s storage.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := s.Insert(context.Background(), Notes, note(i)); err != nil {
			t.Fatalf("Insert(%d) error = %v", i, err)
		}
	}
}

func ids(recs []any) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.(*Note).ID
	}
	return out
}

// Run exercises a fresh store returned by open for every subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	ctx := context.Background()

	t.Run("insert and get round trip", func(t *testing.T) {
		s := open(t)
		closed := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
		n := note(3)
		n.ClosedAt = &closed
		if err := s.Insert(ctx, Notes, n); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}

		got, err := s.Get(ctx, Notes, "n03")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if diff := cmp.Diff(n, got); diff != "" {
			t.Errorf("Get() mismatch (-want +got):\n%s", diff)
		}

		// Mutating the returned record must not reach the store.
		got.(*Note).Title = "changed"
		again, _ := s.Get(ctx, Notes, "n03")
		if again.(*Note).Title != "note 3" {
			t.Errorf("store shares records with callers")
		}
	})

	t.Run("duplicate key conflicts", func(t *testing.T) {
		s := open(t)
		seed(t, s, 1)
		err := s.Insert(ctx, Notes, note(0))
		if !errors.Is(err, types.ErrConflict) {
			t.Errorf("Insert(duplicate) error = %v, want ErrConflict", err)
		}
	})

	t.Run("missing keys", func(t *testing.T) {
		s := open(t)
		if _, err := s.Get(ctx, Notes, "nope"); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
		if err := s.Replace(ctx, Notes, "nope", note(1)); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("Replace() error = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, Notes, "nope"); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("Delete() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("find keeps insertion order", func(t *testing.T) {
		s := open(t)
		seed(t, s, 5)
		got, err := s.Find(ctx, Notes, storage.Query{})
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		if diff := cmp.Diff([]string{"n00", "n01", "n02", "n03", "n04"}, ids(got)); diff != "" {
			t.Errorf("Find() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("find filters orders and pages", func(t *testing.T) {
		s := open(t)
		seed(t, s, 10)

		node, err := query.ParseFilter(`pinned = true and rank > 1`)
		if err != nil {
			t.Fatal(err)
		}
		where, err := query.Compile(node, NoteShape)
		if err != nil {
			t.Fatal(err)
		}
		order, err := query.ResolveOrder("score:desc", NoteShape, nil)
		if err != nil {
			t.Fatal(err)
		}

		got, err := s.Find(ctx, Notes, storage.Query{Where: where, Order: order.Compare(NoteShape), Offset: 1, Limit: 2})
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		// pinned with rank > 1: n00 n02 n04 n06 n08; by score desc: n08 n06 n04 n02 n00.
		if diff := cmp.Diff([]string{"n06", "n04"}, ids(got)); diff != "" {
			t.Errorf("Find() mismatch (-want +got):\n%s", diff)
		}

		n, err := s.Count(ctx, Notes, where)
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if n != 5 {
			t.Errorf("Count() = %d, want 5", n)
		}
	})

	t.Run("offset past end", func(t *testing.T) {
		s := open(t)
		seed(t, s, 3)
		got, err := s.Find(ctx, Notes, storage.Query{Offset: 3, Limit: 10})
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Find() = %v, want empty", ids(got))
		}
	})

	t.Run("replace keeps position", func(t *testing.T) {
		s := open(t)
		seed(t, s, 3)
		n := note(1)
		n.Title = "renamed"
		if err := s.Replace(ctx, Notes, "n01", n); err != nil {
			t.Fatalf("Replace() error = %v", err)
		}
		got, _ := s.Find(ctx, Notes, storage.Query{})
		if diff := cmp.Diff([]string{"n00", "n01", "n02"}, ids(got)); diff != "" {
			t.Errorf("order after Replace mismatch (-want +got):\n%s", diff)
		}
		if got[1].(*Note).Title != "renamed" {
			t.Errorf("Title = %q, want renamed", got[1].(*Note).Title)
		}
	})

	t.Run("delete removes", func(t *testing.T) {
		s := open(t)
		seed(t, s, 3)
		if err := s.Delete(ctx, Notes, "n01"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		got, _ := s.Find(ctx, Notes, storage.Query{})
		if diff := cmp.Diff([]string{"n00", "n02"}, ids(got)); diff != "" {
			t.Errorf("Find() after Delete mismatch (-want +got):\n%s", diff)
		}
		// The key is free again.
		if err := s.Insert(ctx, Notes, note(1)); err != nil {
			t.Errorf("Insert() after Delete error = %v", err)
		}
	})

	t.Run("collections are isolated", func(t *testing.T) {
		s := open(t)
		seed(t, s, 2)
		archive := storage.Collection{Name: "notes_archive", Shape: NoteShape}
		got, err := s.Find(ctx, archive, storage.Query{})
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Find(archive) = %v, want empty", ids(got))
		}
	})

	t.Run("concurrent inserts", func(t *testing.T) {
		s := open(t)
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := s.Insert(ctx, Notes, note(i)); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("Insert() error = %v", err)
		}
		n, err := s.Count(ctx, Notes, nil)
		if err != nil || n != 20 {
			t.Errorf("Count() = %d, %v, want 20", n, err)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		s := open(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := s.Insert(cctx, Notes, note(1))
		if err == nil || !strings.Contains(err.Error(), "context canceled") {
			t.Errorf("Insert(canceled) error = %v, want context canceled", err)
		}
	})
}
