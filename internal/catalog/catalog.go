// Package catalog declares the entities served by crudql: customers, their
// orders and the items of each order.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/policy"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/registry"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/validation"
)

// Roles used by the catalog policies.
const (
	RoleAdmin    = "admin"
	RoleSales    = "sales"
	RoleSupport  = "support"
	RoleCustomer = "customer"
)

// Customer is a buyer. Customers holding the customer role are identified
// by their record key.
type Customer struct {
	ID    string
	Name  string
	Email string
	Tier  string
}

// Order belongs to a customer and is soft deleted.
type Order struct {
	ID         string
	CustomerID string
	Status     string
	Total      float64
	Notes      string
	Deleted    bool
	DeletedAt  *time.Time
}

// OrderItem is one line of an order.
type OrderItem struct {
	ID        string
	OrderID   string
	SKU       string
	Quantity  int64
	UnitPrice float64
}

// Options tunes the registered policies.
type Options struct {
	// Suppression replaces masked field values. Nil keeps the policy
	// default.
	Suppression any
}

func createdAt(id string) any {
	if t := types.RecordIDTime(id); !t.IsZero() {
		return t
	}
	return nil
}

func customerSchema() *entity.Schema[Customer] {
	return entity.NewSchema[Customer]("Customer").
		Text("id", func(c *Customer) string { return c.ID }, func(c *Customer, v string) { c.ID = v }).
		Text("name", func(c *Customer) string { return c.Name }, func(c *Customer, v string) { c.Name = v }).
		Text("email", func(c *Customer) string { return c.Email }, func(c *Customer, v string) { c.Email = v }).
		Text("tier", func(c *Customer) string { return c.Tier }, func(c *Customer, v string) { c.Tier = v }).
		Computed("createdAt", entity.KindTime, func(c *Customer) any { return createdAt(c.ID) }).
		HasMany("orders", "Order", "id", "customerId").
		Key("id")
}

func orderSchema() *entity.Schema[Order] {
	return entity.NewSchema[Order]("Order").
		Text("id", func(o *Order) string { return o.ID }, func(o *Order, v string) { o.ID = v }).
		Text("customerId", func(o *Order) string { return o.CustomerID }, func(o *Order, v string) { o.CustomerID = v }).
		Text("status", func(o *Order) string { return o.Status }, func(o *Order, v string) { o.Status = v }).
		Float("total", func(o *Order) float64 { return o.Total }, func(o *Order, v float64) { o.Total = v }).
		Text("notes", func(o *Order) string { return o.Notes }, func(o *Order, v string) { o.Notes = v }).
		Bool("deleted", func(o *Order) bool { return o.Deleted }, func(o *Order, v bool) { o.Deleted = v }).
		NullableTime("deletedAt", func(o *Order) *time.Time { return o.DeletedAt }, func(o *Order, v *time.Time) { o.DeletedAt = v }).
		Computed("createdAt", entity.KindTime, func(o *Order) any { return createdAt(o.ID) }).
		BelongsTo("customer", "Customer", "customerId", "id").
		HasMany("items", "OrderItem", "id", "orderId").
		Key("id")
}

func orderItemSchema() *entity.Schema[OrderItem] {
	return entity.NewSchema[OrderItem]("OrderItem").
		Text("id", func(i *OrderItem) string { return i.ID }, func(i *OrderItem, v string) { i.ID = v }).
		Text("orderId", func(i *OrderItem) string { return i.OrderID }, func(i *OrderItem, v string) { i.OrderID = v }).
		Text("sku", func(i *OrderItem) string { return i.SKU }, func(i *OrderItem, v string) { i.SKU = v }).
		Int("quantity", func(i *OrderItem) int64 { return i.Quantity }, func(i *OrderItem, v int64) { i.Quantity = v }).
		Float("unitPrice", func(i *OrderItem) float64 { return i.UnitPrice }, func(i *OrderItem, v float64) { i.UnitPrice = v }).
		Computed("subtotal", entity.KindFloat, func(i *OrderItem) any { return float64(i.Quantity) * i.UnitPrice }).
		BelongsTo("order", "Order", "orderId", "id").
		Key("id")
}

// OrderStatuses lists the accepted order states.
var OrderStatuses = []string{"pending", "paid", "shipped", "cancelled"}

// Register declares the catalog entities on reg and verifies the result.
func Register(reg *registry.Store, opts Options) error {
	if _, err := registry.Register(reg, customerSchema()); err != nil {
		return err
	}
	if _, err := registry.Register(reg, orderSchema()); err != nil {
		return err
	}
	if _, err := registry.Register(reg, orderItemSchema()); err != nil {
		return err
	}

	for name, p := range map[string]*policy.Policy{
		"Customer":  customerPolicy(),
		"Order":     orderPolicy(),
		"OrderItem": orderItemPolicy(),
	} {
		if opts.Suppression != nil {
			p.Suppression(opts.Suppression)
		}
		if err := reg.SetPolicy(name, p); err != nil {
			return err
		}
	}

	for _, v := range []struct {
		entity string
		action types.Action
		check  validation.Validator
	}{
		{"Customer", types.ActionCreate, validation.Required("name")},
		{"Customer", types.ActionCreate, validation.Required("email")},
		{"Customer", types.ActionCreate, emailShape},
		{"Customer", types.ActionCreate, validation.OneOf("tier", "", "standard", "gold", "platinum")},
		{"Customer", types.ActionUpdate, emailShape},
		{"Customer", types.ActionUpdate, validation.MaxLength("name", 120)},
		{"Order", types.ActionCreate, validation.Required("customerId")},
		{"Order", types.ActionCreate, validation.OneOf("status", OrderStatuses...)},
		{"Order", types.ActionCreate, validation.Range("total", 0, 1e9)},
		{"Order", types.ActionUpdate, validation.OneOf("status", OrderStatuses...)},
		{"OrderItem", types.ActionCreate, validation.Required("orderId")},
		{"OrderItem", types.ActionCreate, validation.Range("quantity", 1, 10000)},
	} {
		if err := reg.AddValidator(v.entity, v.action, v.check); err != nil {
			return err
		}
	}

	staff := types.NewRoleSet(RoleAdmin, RoleSales)
	for _, inc := range []struct {
		entity, path string
		roles        types.RoleSet
	}{
		{"Customer", "orders", staff},
		{"Customer", "orders.items", staff},
		{"Order", "items", nil},
		{"Order", "customer", types.NewRoleSet(RoleAdmin, RoleSales, RoleSupport)},
		{"OrderItem", "order", nil},
	} {
		if err := reg.AddInclude(inc.entity, inc.path, inc.roles); err != nil {
			return err
		}
	}

	if err := reg.SetIndexes("Customer", &registry.IndexConfig{
		Unique: []registry.UniqueIndex{{Name: "customer_email", Fields: []string{"email"}}},
	}); err != nil {
		return err
	}
	if err := reg.SetIndexes("OrderItem", &registry.IndexConfig{
		Unique: []registry.UniqueIndex{{Name: "order_item_sku", Fields: []string{"orderId", "sku"}}},
	}); err != nil {
		return err
	}
	if err := reg.SetSoftDelete("Order", &registry.SoftDeleteRule{
		FlagField: "deleted", TimestampField: "deletedAt", UseUTC: true,
	}); err != nil {
		return err
	}
	if err := reg.SetOrdering("Order", &query.OrderingConfig{
		Allowed: []string{"status", "total"},
		Default: []query.OrderTerm{{Field: "total", Direction: query.Desc}},
	}); err != nil {
		return err
	}
	if err := reg.SetPagination("Order", &query.PaginationConfig{DefaultPageSize: 20, MaxPageSize: 100}); err != nil {
		return err
	}
	if err := reg.SetUpdateReturning("Customer", registry.ReturnRecord); err != nil {
		return err
	}
	return reg.Check()
}

// customerPolicy lets support staff see who a customer is but not how to
// reach them, and customers see only themselves.
func customerPolicy() *policy.Policy {
	return policy.New().
		Allow(types.ActionCreate, RoleAdmin, RoleSales).
		Allow(types.ActionRead, RoleAdmin, RoleSales).
		AllowFields(types.ActionRead, []string{"id", "name", "tier"}, RoleSupport).
		AllowFields(types.ActionRead, []string{"id", "name", "email", "tier"}, RoleCustomer).
		Allow(types.ActionUpdate, RoleAdmin, RoleSales).
		Allow(types.ActionDelete, RoleAdmin).
		RowFilter(types.ActionRead, self, RoleCustomer)
}

// orderPolicy lets customers place and read their own orders. Internal
// notes stay hidden from them.
func orderPolicy() *policy.Policy {
	return policy.New().
		Allow(types.ActionCreate, RoleAdmin, RoleSales).
		AllowFields(types.ActionCreate, []string{"customerId", "status", "total"}, RoleCustomer).
		Allow(types.ActionRead, RoleAdmin, RoleSales, RoleSupport).
		AllowFields(types.ActionRead, []string{"id", "customerId", "status", "total"}, RoleCustomer).
		Allow(types.ActionUpdate, RoleAdmin, RoleSales).
		Allow(types.ActionDelete, RoleAdmin, RoleSales).
		RowFilter(types.ActionRead, ownOrders, RoleCustomer)
}

func orderItemPolicy() *policy.Policy {
	return policy.New().
		Allow(types.ActionCreate, RoleAdmin, RoleSales, RoleCustomer).
		Allow(types.ActionRead, RoleAdmin, RoleSales, RoleSupport, RoleCustomer).
		Allow(types.ActionUpdate, RoleAdmin, RoleSales).
		Allow(types.ActionDelete, RoleAdmin, RoleSales)
}

func self(c types.Caller) query.Node {
	return query.Eq("id", c.ID)
}

func ownOrders(c types.Caller) query.Node {
	return query.Eq("customerId", c.ID)
}

var emailShape = validation.Func("email", func(_ context.Context, shape entity.Shape, rec any, _ types.Action) []validation.Violation {
	v, _ := shape.Get(rec, "email")
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 || strings.ContainsAny(s, " \t") {
		return []validation.Violation{{Field: "email", Message: fmt.Sprintf("%q is not an email address", s)}}
	}
	return nil
})
