package engine_test

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/engine"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/policy"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/registry"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/storage"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/validation"
)

type project struct {
	ID         string
	Name       string
	Owner      string
	Budget     float64
	Archived   bool
	ArchivedAt *time.Time
}

type task struct {
	ID        string
	ProjectID string
	Title     string
	Points    int64
}

var (
	admin  = types.NewCaller("u-admin", "admin")
	member = types.NewCaller("u-member", "member")
	guest  = types.NewCaller("u-guest", "guest")
	nobody = types.Caller{}

	frozen = time.Date(2026, 3, 14, 9, 26, 53, 0, time.FixedZone("UTC-3", -3*60*60))
)

func projectSchema() *entity.Schema[project] {
	return entity.NewSchema[project]("Project").
		Text("id", func(p *project) string { return p.ID }, func(p *project, v string) { p.ID = v }).
		Text("name", func(p *project) string { return p.Name }, func(p *project, v string) { p.Name = v }).
		Text("owner", func(p *project) string { return p.Owner }, func(p *project, v string) { p.Owner = v }).
		Float("budget", func(p *project) float64 { return p.Budget }, func(p *project, v float64) { p.Budget = v }).
		Bool("archived", func(p *project) bool { return p.Archived }, func(p *project, v bool) { p.Archived = v }).
		NullableTime("archivedAt", func(p *project) *time.Time { return p.ArchivedAt }, func(p *project, v *time.Time) { p.ArchivedAt = v }).
		HasMany("tasks", "Task", "id", "projectId").
		Key("id")
}

func taskSchema() *entity.Schema[task] {
	return entity.NewSchema[task]("Task").
		Text("id", func(t *task) string { return t.ID }, func(t *task, v string) { t.ID = v }).
		Text("projectId", func(t *task) string { return t.ProjectID }, func(t *task, v string) { t.ProjectID = v }).
		Text("title", func(t *task) string { return t.Title }, func(t *task, v string) { t.Title = v }).
		Int("points", func(t *task) int64 { return t.Points }, func(t *task, v int64) { t.Points = v }).
		BelongsTo("project", "Project", "projectId", "id").
		Key("id")
}

// ownProjects limits members to the projects they own.
func ownProjects(c types.Caller) query.Node {
	return query.Eq("owner", c.ID)
}

// newRegistry wires Project and Task:
//   - admins do everything; members read projects restricted to id, name
//     and owner, and only the ones they own
//   - members may create tasks but only set projectId and title
//   - project names are unique; projects are soft deleted in UTC
//   - only admins may include a project's tasks
func newRegistry() *registry.Store {
	reg := registry.New()
	must(registry.Register(reg, projectSchema()))
	must(registry.Register(reg, taskSchema()))

	check(reg.SetPolicy("Project", policy.New().
		Allow(types.ActionCreate, "admin").
		Allow(types.ActionRead, "admin").
		AllowFields(types.ActionRead, []string{"id", "name", "owner"}, "member").
		Allow(types.ActionUpdate, "admin").
		Allow(types.ActionDelete, "admin").
		RowFilter(types.ActionRead, ownProjects, "member")))
	check(reg.SetPolicy("Task", policy.New().
		Allow(types.ActionCreate, "admin").
		AllowFields(types.ActionCreate, []string{"projectId", "title"}, "member").
		Allow(types.ActionRead, "admin", "member").
		Allow(types.ActionUpdate, "admin").
		Allow(types.ActionDelete, "admin")))

	check(reg.AddValidator("Project", types.ActionCreate, validation.Required("name")))
	check(reg.AddValidator("Project", types.ActionUpdate, validation.MaxLength("name", 40)))
	check(reg.AddInclude("Project", "tasks", types.NewRoleSet("admin")))
	check(reg.SetIndexes("Project", &registry.IndexConfig{
		Unique: []registry.UniqueIndex{{Name: "project_name", Fields: []string{"name"}}},
	}))
	check(reg.SetSoftDelete("Project", &registry.SoftDeleteRule{
		FlagField: "archived", TimestampField: "archivedAt", UseUTC: true,
	}))
	check(reg.SetPagination("Task", &query.PaginationConfig{MaxPageSize: 50}))
	check(reg.Check())
	return reg
}

func newEngine() (*engine.Engine, *storage.Memory) {
	store := storage.NewMemory()
	e := engine.New(newRegistry(), store, engine.WithClock(func() time.Time { return frozen }))
	return e, store
}

func newProjectInput(owner string) map[string]any {
	return map[string]any{
		"name":   fmt.Sprintf("%s %s", gofakeit.Company(), gofakeit.UUID()[:8]),
		"owner":  owner,
		"budget": gofakeit.Float64Range(1000, 90000),
	}
}

func newTaskInput(projectID string) map[string]any {
	return map[string]any{
		"projectId": projectID,
		"title":     gofakeit.HackerPhrase(),
		"points":    float64(gofakeit.Number(1, 13)),
	}
}

func must(_ entity.Shape, err error) {
	check(err)
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}
