package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/phasec/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:", // Use in-memory database for example
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleLedger demonstrates recording a build that failed.
func ExampleLedger() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	ledger := stores.NewLedger(store)
	id, err := ledger.Begin(ctx, stores.BuildInput{
		DatabasePath: "alni.yaml",
		Output:       "GM",
		Phases:       []string{"FCC_A1"},
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := ledger.Finish(ctx, id, nil, fmt.Errorf("phase not in database")); err != nil {
		log.Fatal(err)
	}

	build, _ := store.GetBuild(ctx, id)
	fmt.Println(build.Status, *build.ErrorCode)
	// Output: failed INTERNAL_ERROR
}
