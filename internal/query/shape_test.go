package query

import (
	"time"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"
)

type item struct {
	ID       string
	Name     string
	Qty      int64
	Price    float64
	InStock  bool
	Listed   time.Time
	Archived *time.Time
}

var itemShape = entity.NewSchema[item]("Item").
	Text("id", func(i *item) string { return i.ID }, func(i *item, v string) { i.ID = v }).
	Text("name", func(i *item) string { return i.Name }, func(i *item, v string) { i.Name = v }).
	Int("qty", func(i *item) int64 { return i.Qty }, func(i *item, v int64) { i.Qty = v }).
	Float("price", func(i *item) float64 { return i.Price }, func(i *item, v float64) { i.Price = v }).
	Bool("inStock", func(i *item) bool { return i.InStock }, func(i *item, v bool) { i.InStock = v }).
	Time("listed", func(i *item) time.Time { return i.Listed }, func(i *item, v time.Time) { i.Listed = v }).
	NullableTime("archived", func(i *item) *time.Time { return i.Archived }, func(i *item, v *time.Time) { i.Archived = v }).
	Computed("total", entity.KindFloat, func(i *item) any { return i.Price * float64(i.Qty) }).
	Key("id").
	MustBuild()

func sampleItem() *item {
	return &item{
		ID:      "i-1",
		Name:    "Blue Widget",
		Qty:     12,
		Price:   2.5,
		InStock: true,
		Listed:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}
