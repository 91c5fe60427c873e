package registry

import (
	"time"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"
)

type customer struct {
	ID    string
	Name  string
	Email string
}

type order struct {
	ID         string
	CustomerID string
	Total      float64
	Deleted    bool
	DeletedAt  *time.Time
}

type line struct {
	ID      string
	OrderID string
	SKU     string
}

func customerSchema() *entity.Schema[customer] {
	return entity.NewSchema[customer]("Customer").
		Text("id", func(c *customer) string { return c.ID }, func(c *customer, v string) { c.ID = v }).
		Text("name", func(c *customer) string { return c.Name }, func(c *customer, v string) { c.Name = v }).
		Text("email", func(c *customer) string { return c.Email }, func(c *customer, v string) { c.Email = v }).
		HasMany("orders", "Order", "id", "customerId").
		Key("id")
}

func orderSchema() *entity.Schema[order] {
	return entity.NewSchema[order]("Order").
		Text("id", func(o *order) string { return o.ID }, func(o *order, v string) { o.ID = v }).
		Text("customerId", func(o *order) string { return o.CustomerID }, func(o *order, v string) { o.CustomerID = v }).
		Float("total", func(o *order) float64 { return o.Total }, func(o *order, v float64) { o.Total = v }).
		Bool("deleted", func(o *order) bool { return o.Deleted }, func(o *order, v bool) { o.Deleted = v }).
		NullableTime("deletedAt", func(o *order) *time.Time { return o.DeletedAt }, func(o *order, v *time.Time) { o.DeletedAt = v }).
		BelongsTo("customer", "Customer", "customerId", "id").
		HasMany("lines", "Line", "id", "orderId").
		Key("id")
}

func lineSchema() *entity.Schema[line] {
	return entity.NewSchema[line]("Line").
		Text("id", func(l *line) string { return l.ID }, func(l *line, v string) { l.ID = v }).
		Text("orderId", func(l *line) string { return l.OrderID }, func(l *line, v string) { l.OrderID = v }).
		Text("sku", func(l *line) string { return l.SKU }, func(l *line, v string) { l.SKU = v }).
		BelongsTo("order", "Order", "orderId", "id").
		Key("id")
}

// newStore registers the three fixture entities.
func newStore() *Store {
	s := New()
	if _, err := Register(s, customerSchema()); err != nil {
		panic(err)
	}
	if _, err := Register(s, orderSchema()); err != nil {
		panic(err)
	}
	if _, err := Register(s, lineSchema()); err != nil {
		panic(err)
	}
	return s
}
