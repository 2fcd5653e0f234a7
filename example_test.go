package mold_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/aretw0/mold"
	"github.com/aretw0/mold/pkg/entity"
	"github.com/aretw0/mold/pkg/filter"
)

type Customer struct {
	entity.Base `bson:",inline"`
	Name        string `bson:"name"`
	City        string `bson:"city"`
}

// Example_basic demonstrates how to open a store, add an entity and read it back.
func Example_basic() {
	ctx := context.Background()

	db, err := mold.Open(ctx, "mem://shop")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close(ctx)

	customers, err := mold.NewRepository[*Customer, string](db)
	if err != nil {
		log.Fatal(err)
	}

	// 1. Add (the identifier is generated)
	c, err := customers.Add(ctx, &Customer{Name: "Ada", City: "London"})
	if err != nil {
		log.Fatal(err)
	}

	// 2. Read it back
	found, ok, err := customers.GetByID(ctx, c.ID)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Collection: %s\n", customers.CollectionName())
	fmt.Printf("Found: %v %s\n", ok, found.Name)
	// Output:
	// Collection: Customer
	// Found: true Ada
}

// Example_query demonstrates predicates executed by the store.
func Example_query() {
	ctx := context.Background()

	db, err := mold.Open(ctx, "mem://")
	if err != nil {
		log.Fatal(err)
	}
	customers, err := mold.NewRepository[*Customer, string](db)
	if err != nil {
		log.Fatal(err)
	}

	for _, c := range []*Customer{
		{Name: "Ada", City: "London"},
		{Name: "Grace", City: "New York"},
		{Name: "Alan", City: "London"},
	} {
		if _, err := customers.Add(ctx, c); err != nil {
			log.Fatal(err)
		}
	}

	londoners, err := customers.Query().
		Where(filter.Eq("city", "London")).
		OrderBy("Name").
		All(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, c := range londoners {
		fmt.Println(c.Name)
	}

	n, err := customers.DeleteWhere(ctx, filter.Eq("city", "London"))
	if err != nil {
		log.Fatal(err)
	}
	left, _ := customers.Count(ctx)
	fmt.Printf("deleted %d, %d left\n", n, left)
	// Output:
	// Ada
	// Alan
	// deleted 2, 1 left
}

// ExampleOpenRepository demonstrates loading the connection from a mold.yaml file.
func ExampleOpenRepository() {
	tmpDir, err := os.MkdirTemp("", "mold-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	config := "uri: sqlite://data.db\ncollection: clients\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "mold.yaml"), []byte(config), 0644); err != nil {
		log.Fatal(err)
	}

	cfg, err := mold.LoadConfig(filepath.Join(tmpDir, "mold.yaml"))
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	clients, db, err := mold.OpenRepository[*Customer, string](ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close(ctx)

	if _, err := clients.Update(ctx, &Customer{Base: entity.Base{ID: "c1"}, Name: "Ada"}); err != nil {
		log.Fatal(err)
	}
	n, err := clients.Count(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s holds %d\n", clients.CollectionName(), n)
	// Output:
	// clients holds 1
}
