package engine_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gstruct"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/engine"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/include"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/policy"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/registry"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/storage"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

func ids(records []map[string]any) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r["id"].(string)
	}
	return out
}

func fields(err error) []string {
	return types.Fields(err)
}

var _ = Describe("Engine", func() {
	var (
		ctx   context.Context
		eng   *engine.Engine
		store *storage.Memory
	)

	BeforeEach(func() {
		ctx = context.Background()
		eng, store = newEngine()
	})

	createProject := func(owner string) string {
		res, err := eng.Create(ctx, admin, engine.CreateRequest{Entity: "Project", Input: newProjectInput(owner)})
		Expect(err).NotTo(HaveOccurred())
		return res.Data["id"].(string)
	}

	createTask := func(projectID string) string {
		res, err := eng.Create(ctx, admin, engine.CreateRequest{Entity: "Task", Input: newTaskInput(projectID)})
		Expect(err).NotTo(HaveOccurred())
		return res.Data["id"].(string)
	}

	readAll := func(entity string) []map[string]any {
		res, err := eng.Read(ctx, admin, engine.ReadRequest{Entity: entity})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Pagination).To(BeNil())
		return res.Data
	}

	Context("when records go through a full lifecycle", func() {
		It("reads back exactly what was created, deleted and updated", func() {
			// ARRANGE
			projectID := createProject(admin.ID)
			var created []string
			for i := 0; i < 10; i++ {
				created = append(created, createTask(projectID))
			}

			// ACT + ASSERT: create 10
			Expect(ids(readAll("Task"))).To(ConsistOf(created))

			// ACT + ASSERT: delete 3
			for _, id := range created[:3] {
				Expect(eng.Delete(ctx, admin, engine.DeleteRequest{Entity: "Task", Key: id})).To(Succeed())
			}
			remaining := created[3:]
			before := readAll("Task")
			Expect(ids(before)).To(ConsistOf(remaining))

			// ACT + ASSERT: update 2
			changed := map[string]bool{remaining[0]: true, remaining[4]: true}
			for id := range changed {
				res, err := eng.Update(ctx, admin, engine.UpdateRequest{
					Entity: "Task",
					Key:    id,
					Update: map[string]any{"title": "rewritten " + id},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(res.AffectedRows).To(Equal(1))
			}

			original := map[string]map[string]any{}
			for _, r := range before {
				original[r["id"].(string)] = r
			}
			after := readAll("Task")
			Expect(after).To(HaveLen(7))
			for _, r := range after {
				id := r["id"].(string)
				if changed[id] {
					Expect(r["title"]).To(Equal("rewritten " + id))
					Expect(r["points"]).To(Equal(original[id]["points"]))
				} else {
					Expect(r).To(Equal(original[id]))
				}
			}
		})
	})

	Context("when an entity is soft deleted", func() {
		It("hides the record and reports a second delete as already deleted", func() {
			// ARRANGE
			id := createProject(admin.ID)

			// ACT
			err := eng.Delete(ctx, admin, engine.DeleteRequest{Entity: "Project", Key: id})

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			Expect(readAll("Project")).To(BeEmpty())

			reg, err := eng.Registry().Resolve("Project")
			Expect(err).NotTo(HaveOccurred())
			stored, err := store.Get(ctx, storage.Collection{Name: reg.Collection, Shape: reg.Shape}, id)
			Expect(err).NotTo(HaveOccurred())
			p := stored.(*project)
			Expect(p.Archived).To(BeTrue())
			Expect(p.ArchivedAt).NotTo(BeNil())
			Expect(p.ArchivedAt.Location().String()).To(Equal("UTC"))
			Expect(p.ArchivedAt.Equal(frozen)).To(BeTrue())

			err = eng.Delete(ctx, admin, engine.DeleteRequest{Entity: "Project", Key: id})
			Expect(err).To(MatchError(types.ErrAlreadyDeleted))
			Expect(err).NotTo(MatchError(types.ErrNotFound))
			Expect(err.Error()).To(Equal("record has already been deleted"))
		})

		It("refuses to update the deleted record", func() {
			id := createProject(admin.ID)
			Expect(eng.Delete(ctx, admin, engine.DeleteRequest{Entity: "Project", Key: id})).To(Succeed())

			_, err := eng.Update(ctx, admin, engine.UpdateRequest{Entity: "Project", Key: id, Update: map[string]any{"budget": 1.0}})

			Expect(err).To(MatchError(types.ErrNotFound))
		})

		It("releases the unique name of the deleted record", func() {
			input := newProjectInput(admin.ID)
			res, err := eng.Create(ctx, admin, engine.CreateRequest{Entity: "Project", Input: input})
			Expect(err).NotTo(HaveOccurred())
			Expect(eng.Delete(ctx, admin, engine.DeleteRequest{Entity: "Project", Key: res.Data["id"].(string)})).To(Succeed())

			_, err = eng.Create(ctx, admin, engine.CreateRequest{Entity: "Project", Input: input})

			Expect(err).NotTo(HaveOccurred())
		})
	})

	Context("when a hard deleted key is unknown", func() {
		It("returns not found", func() {
			err := eng.Delete(ctx, admin, engine.DeleteRequest{Entity: "Task", Key: "missing"})

			Expect(err).To(MatchError(types.ErrNotFound))
		})
	})

	Context("when relations are included", func() {
		var projectID string

		BeforeEach(func() {
			projectID = createProject(member.ID)
			createTask(projectID)
			createTask(projectID)
		})

		selectTasks := func() *include.Selection {
			return &include.Selection{
				Fields:    []string{"id", "name"},
				Relations: map[string]*include.Selection{"tasks": {Fields: []string{"id", "title"}}},
			}
		}

		It("joins the related records for a caller holding the include role", func() {
			res, err := eng.Read(ctx, admin, engine.ReadRequest{Entity: "Project", Select: selectTasks()})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data).To(HaveLen(1))
			Expect(res.Data[0]).To(HaveKey("name"))
			Expect(res.Data[0]).NotTo(HaveKey("budget"))
			tasks := res.Data[0]["tasks"].([]map[string]any)
			Expect(tasks).To(HaveLen(2))
			Expect(tasks[0]).To(HaveKey("title"))
			Expect(tasks[0]).NotTo(HaveKey("points"))
		})

		It("rejects the same include naming the path for a caller without the role", func() {
			_, err := eng.Read(ctx, member, engine.ReadRequest{Entity: "Project", Select: selectTasks()})

			Expect(err).To(MatchError(types.ErrIncludeNotPermitted))
			Expect(fields(err)).To(Equal([]string{"tasks"}))
			Expect(err.Error()).To(ContainSubstring("tasks"))
		})

		It("rejects an unregistered relation path", func() {
			sel := &include.Selection{Relations: map[string]*include.Selection{"owners": {}}}

			_, err := eng.Read(ctx, admin, engine.ReadRequest{Entity: "Project", Select: sel})

			Expect(err).To(MatchError(types.ErrIncludeNotPermitted))
			Expect(fields(err)).To(Equal([]string{"owners"}))
		})

		It("names nested unknown fields by their path", func() {
			sel := &include.Selection{Relations: map[string]*include.Selection{"tasks": {Fields: []string{"title", "colour"}}}}

			_, err := eng.Read(ctx, admin, engine.ReadRequest{Entity: "Project", Select: sel})

			Expect(err).To(MatchError(types.ErrValidation))
			Expect(fields(err)).To(Equal([]string{"tasks.colour"}))
		})

		It("returns an empty list for a parent without children", func() {
			createProject(admin.ID)

			res, err := eng.Read(ctx, admin, engine.ReadRequest{Entity: "Project", Select: selectTasks(), OrderBy: "name"})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data).To(HaveLen(2))
			counts := []int{len(res.Data[0]["tasks"].([]map[string]any)), len(res.Data[1]["tasks"].([]map[string]any))}
			Expect(counts).To(ConsistOf(0, 2))
		})
	})

	Context("when a read selects unknown fields", func() {
		It("lists every offending field", func() {
			sel := &include.Selection{Fields: []string{"name", "colour", "size"}}

			_, err := eng.Read(ctx, admin, engine.ReadRequest{Entity: "Project", Select: sel})

			Expect(err).To(MatchError(types.ErrValidation))
			Expect(fields(err)).To(Equal([]string{"colour", "size"}))
		})
	})

	Context("when reading pages", func() {
		BeforeEach(func() {
			projectID := createProject(admin.ID)
			for i := 0; i < 25; i++ {
				createTask(projectID)
			}
		})

		It("reports ceil total pages on the last page", func() {
			page, size := 3, 10

			res, err := eng.Read(ctx, admin, engine.ReadRequest{Entity: "Task", Page: &page, PageSize: &size, IncludeCount: true})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data).To(HaveLen(5))
			Expect(*res.Pagination).To(MatchFields(IgnoreExtras, Fields{
				"Page":            Equal(3),
				"PageSize":        Equal(10),
				"HasNextPage":     BeFalse(),
				"HasPreviousPage": BeTrue(),
				"TotalRecords":    PointTo(Equal(25)),
				"TotalPages":      PointTo(Equal(3)),
			}))
		})

		It("knows a next page exists without counting", func() {
			page, size := 1, 10

			res, err := eng.Read(ctx, admin, engine.ReadRequest{Entity: "Task", Page: &page, PageSize: &size})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Pagination.HasNextPage).To(BeTrue())
			Expect(res.Pagination.HasPreviousPage).To(BeFalse())
			Expect(res.Pagination.TotalRecords).To(BeNil())
		})

		DescribeTable("rejects out of range parameters with a field specific message",
			func(page, size *int, message, field string) {
				_, err := eng.Read(ctx, admin, engine.ReadRequest{Entity: "Task", Page: page, PageSize: size})

				Expect(err).To(MatchError(types.ErrValidation))
				Expect(err.Error()).To(Equal(message))
				Expect(fields(err)).To(Equal([]string{field}))
			},
			Entry("page zero", intPtr(0), nil, "page must be greater than or equal to 1", "page"),
			Entry("negative page", intPtr(-1), nil, "page must be greater than or equal to 1", "page"),
			Entry("page size zero", nil, intPtr(0), "pageSize must be greater than or equal to 1", "pageSize"),
			Entry("negative page size", nil, intPtr(-5), "pageSize must be greater than or equal to 1", "pageSize"),
			Entry("page size above the maximum", nil, intPtr(51), "pageSize must not exceed 50", "pageSize"),
		)

		It("orders by the requested field", func() {
			res, err := eng.Read(ctx, admin, engine.ReadRequest{Entity: "Task", OrderBy: "points:desc"})

			Expect(err).NotTo(HaveOccurred())
			for i := 1; i < len(res.Data); i++ {
				Expect(res.Data[i-1]["points"].(int64)).To(BeNumerically(">=", res.Data[i]["points"].(int64)))
			}
		})
	})

	Context("when a caller's projection is restricted", func() {
		It("masks hidden fields and applies the row filter", func() {
			mine := createProject(member.ID)
			createProject(admin.ID)

			res, err := eng.Read(ctx, member, engine.ReadRequest{Entity: "Project"})

			Expect(err).NotTo(HaveOccurred())
			Expect(ids(res.Data)).To(Equal([]string{mine}))
			Expect(res.Data[0]["budget"]).To(Equal(policy.DefaultSuppression))
			Expect(res.Data[0]["owner"]).To(Equal(member.ID))
		})

		It("refuses to filter or order by hidden fields", func() {
			createProject(member.ID)

			_, err := eng.Read(ctx, member, engine.ReadRequest{
				Entity: "Project",
				Filter: query.Logical{Kind: query.And, Operands: []query.Node{
					query.Comparison{Field: "budget", Op: query.OpGt, Value: 0.0},
					query.Comparison{Field: "archived", Op: query.OpEq, Value: false},
					query.Comparison{Field: "name", Op: query.OpContains, Value: "x"},
				}},
			})
			Expect(err).To(MatchError(types.ErrForbidden))
			Expect(fields(err)).To(Equal([]string{"archived", "budget"}))

			_, err = eng.Read(ctx, member, engine.ReadRequest{Entity: "Project", OrderBy: "name, budget:desc"})
			Expect(err).To(MatchError(types.ErrForbidden))
			Expect(fields(err)).To(Equal([]string{"budget"}))

			res, err := eng.Read(ctx, member, engine.ReadRequest{Entity: "Project", Filter: query.Eq("owner", member.ID), OrderBy: "name"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data).To(HaveLen(1))
		})

		It("rejects create input outside the allowed fields", func() {
			projectID := createProject(admin.ID)

			_, err := eng.Create(ctx, member, engine.CreateRequest{Entity: "Task", Input: newTaskInput(projectID)})

			Expect(err).To(MatchError(types.ErrForbidden))
			Expect(fields(err)).To(Equal([]string{"points"}))
		})

		It("masks the create response the same way", func() {
			projectID := createProject(admin.ID)

			res, err := eng.Create(ctx, member, engine.CreateRequest{
				Entity: "Task",
				Input:  map[string]any{"projectId": projectID, "title": "triage"},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data["title"]).To(Equal("triage"))
			Expect(res.Data["points"]).To(Equal(policy.DefaultSuppression))
		})
	})

	Context("when the caller is not allowed", func() {
		It("asks anonymous callers to authenticate", func() {
			_, err := eng.Read(ctx, nobody, engine.ReadRequest{Entity: "Project"})

			Expect(err).To(MatchError(types.ErrUnauthenticated))
		})

		It("forbids authenticated callers without a role", func() {
			_, err := eng.Read(ctx, guest, engine.ReadRequest{Entity: "Project"})

			Expect(err).To(MatchError(types.ErrForbidden))
		})

		It("matches role names case insensitively", func() {
			_, err := eng.Read(ctx, types.NewCaller("u-2", "ADMIN"), engine.ReadRequest{Entity: "Project"})

			Expect(err).NotTo(HaveOccurred())
		})

		It("does not write anything when authorization fails", func() {
			_, err := eng.Create(ctx, guest, engine.CreateRequest{Entity: "Project", Input: newProjectInput(guest.ID)})

			Expect(err).To(MatchError(types.ErrForbidden))
			Expect(readAll("Project")).To(BeEmpty())
		})
	})

	Context("when the entity is unknown", func() {
		It("reports it as not registered", func() {
			_, err := eng.Read(ctx, admin, engine.ReadRequest{Entity: "Invoice"})

			Expect(err).To(MatchError(types.ErrEntityNotRegistered))
		})
	})

	Context("when creating", func() {
		It("generates a key when none is given", func() {
			res, err := eng.Create(ctx, admin, engine.CreateRequest{Entity: "Project", Input: newProjectInput(admin.ID)})

			Expect(err).NotTo(HaveOccurred())
			_, err = types.ParseRecordID(res.Data["id"].(string))
			Expect(err).NotTo(HaveOccurred())
		})

		It("limits the response to the returning fields", func() {
			res, err := eng.Create(ctx, admin, engine.CreateRequest{
				Entity: "Project", Input: newProjectInput(admin.ID), Returning: []string{"id", "name"},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data).To(HaveLen(2))
			Expect(res.Data).To(HaveKey("id"))
			Expect(res.Data).To(HaveKey("name"))
		})

		It("runs the create validators", func() {
			input := newProjectInput(admin.ID)
			delete(input, "name")

			_, err := eng.Create(ctx, admin, engine.CreateRequest{Entity: "Project", Input: input})

			Expect(err).To(MatchError(types.ErrValidation))
			Expect(fields(err)).To(Equal([]string{"name"}))
		})

		It("reports unknown and badly typed fields", func() {
			_, err := eng.Create(ctx, admin, engine.CreateRequest{Entity: "Task", Input: map[string]any{"title": "x", "colour": "red"}})
			Expect(err).To(MatchError(types.ErrValidation))
			Expect(fields(err)).To(Equal([]string{"colour"}))

			_, err = eng.Create(ctx, admin, engine.CreateRequest{Entity: "Task", Input: map[string]any{"title": "x", "points": "many"}})
			Expect(err).To(MatchError(types.ErrValidation))
			Expect(fields(err)).To(Equal([]string{"points"}))
		})

		It("rejects a duplicate unique value", func() {
			input := newProjectInput(admin.ID)
			_, err := eng.Create(ctx, admin, engine.CreateRequest{Entity: "Project", Input: input})
			Expect(err).NotTo(HaveOccurred())

			_, err = eng.Create(ctx, admin, engine.CreateRequest{Entity: "Project", Input: input})

			Expect(err).To(MatchError(types.ErrConflict))
			Expect(fields(err)).To(Equal([]string{"name"}))
			Expect(readAll("Project")).To(HaveLen(1))
		})

		It("rejects a duplicate key", func() {
			input := newTaskInput("p-1")
			input["id"] = "t-1"
			_, err := eng.Create(ctx, admin, engine.CreateRequest{Entity: "Task", Input: input})
			Expect(err).NotTo(HaveOccurred())

			_, err = eng.Create(ctx, admin, engine.CreateRequest{Entity: "Task", Input: input})

			Expect(err).To(MatchError(types.ErrConflict))
		})
	})

	Context("when updating", func() {
		It("updates every record matching a condition", func() {
			a, b := createProject(admin.ID), createProject(admin.ID)
			createTask(a)
			createTask(a)
			createTask(b)

			res, err := eng.Update(ctx, admin, engine.UpdateRequest{
				Entity:    "Task",
				Condition: query.Eq("projectId", a),
				Update:    map[string]any{"points": 0.0},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.AffectedRows).To(Equal(2))
			zeroes := 0
			for _, r := range readAll("Task") {
				if r["points"] == int64(0) {
					zeroes++
				}
			}
			Expect(zeroes).To(Equal(2))
		})

		DescribeTable("rejects malformed requests before touching storage",
			func(req engine.UpdateRequest, kind error, want []string) {
				id := createProject(admin.ID)
				if req.Key == "<id>" {
					req.Key = id
				}
				req.Entity = "Project"

				_, err := eng.Update(ctx, admin, req)

				Expect(err).To(MatchError(kind))
				Expect(fields(err)).To(Equal(want))
			},
			Entry("neither key nor condition",
				engine.UpdateRequest{Update: map[string]any{"budget": 1.0}},
				types.ErrValidation, []string{"key", "condition"}),
			Entry("both key and condition",
				engine.UpdateRequest{Key: "<id>", Condition: query.Eq("owner", "x"), Update: map[string]any{"budget": 1.0}},
				types.ErrValidation, []string{"key", "condition"}),
			Entry("empty update",
				engine.UpdateRequest{Key: "<id>", Update: map[string]any{}},
				types.ErrValidation, []string{"update"}),
			Entry("key field",
				engine.UpdateRequest{Key: "<id>", Update: map[string]any{"id": "other"}},
				types.ErrValidation, []string{"id"}),
			Entry("unknown field",
				engine.UpdateRequest{Key: "<id>", Update: map[string]any{"colour": "red"}},
				types.ErrValidation, []string{"colour"}),
			Entry("validator failure",
				engine.UpdateRequest{Key: "<id>", Update: map[string]any{"name": "a project name that is far too long to be accepted"}},
				types.ErrValidation, []string{"name"}),
			Entry("unknown key",
				engine.UpdateRequest{Key: "missing", Update: map[string]any{"budget": 1.0}},
				types.ErrNotFound, nil),
		)

		It("rejects a condition that does not compile", func() {
			_, err := eng.Update(ctx, admin, engine.UpdateRequest{
				Entity:    "Task",
				Condition: query.Eq("colour", "red"),
				Update:    map[string]any{"points": 1.0},
			})

			Expect(err).To(MatchError(types.ErrValidation))
		})

		It("checks unique indexes across the whole batch", func() {
			createProject(admin.ID)
			createProject(admin.ID)

			_, err := eng.Update(ctx, admin, engine.UpdateRequest{
				Entity:    "Project",
				Condition: query.Eq("owner", admin.ID),
				Update:    map[string]any{"name": "same"},
			})

			Expect(err).To(MatchError(types.ErrConflict))
			names := map[string]bool{}
			for _, r := range readAll("Project") {
				names[r["name"].(string)] = true
			}
			Expect(names).To(HaveLen(2))
			Expect(names).NotTo(HaveKey("same"))
		})

		It("returns the record when the entity is configured to", func() {
			check(eng.Registry().SetUpdateReturning("Project", registry.ReturnRecord))
			id := createProject(admin.ID)

			res, err := eng.Update(ctx, admin, engine.UpdateRequest{Entity: "Project", Key: id, Update: map[string]any{"budget": 42.0}})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data).To(HaveKeyWithValue("budget", 42.0))
			Expect(res.Data).To(HaveKeyWithValue("id", id))
		})
	})

	Context("when many callers read and write at once", func() {
		It("keeps every record", func() {
			projectID := createProject(admin.ID)
			done := make(chan struct{})
			for i := 0; i < 8; i++ {
				go func(n int) {
					defer GinkgoRecover()
					defer func() { done <- struct{}{} }()
					for j := 0; j < 5; j++ {
						input := newTaskInput(projectID)
						input["title"] = fmt.Sprintf("worker %d task %d", n, j)
						_, err := eng.Create(ctx, admin, engine.CreateRequest{Entity: "Task", Input: input})
						Expect(err).NotTo(HaveOccurred())
						_, err = eng.Read(ctx, member, engine.ReadRequest{Entity: "Task"})
						Expect(err).NotTo(HaveOccurred())
					}
				}(i)
			}
			for i := 0; i < 8; i++ {
				<-done
			}

			Expect(readAll("Task")).To(HaveLen(40))
		})

		It("lets only one of many racing creates claim a unique name", func() {
			const workers = 16
			input := newProjectInput(admin.ID)
			results := make(chan error, workers)
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				go func() {
					<-start
					in := newProjectInput(admin.ID)
					in["name"] = input["name"]
					_, err := eng.Create(ctx, admin, engine.CreateRequest{Entity: "Project", Input: in})
					results <- err
				}()
			}
			close(start)

			created := 0
			for i := 0; i < workers; i++ {
				if err := <-results; err == nil {
					created++
				} else {
					Expect(err).To(MatchError(types.ErrConflict))
				}
			}
			Expect(created).To(Equal(1))
			Expect(readAll("Project")).To(HaveLen(1))
		})
	})
})

func intPtr(n int) *int { return &n }
