package stores_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fleetplay/fleetplay/pkg/stores"
)

// ExampleNewRunStore demonstrates creating and initializing a run store.
func ExampleNewRunStore() {
	dir, err := os.MkdirTemp("", "fleetplay-store")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := stores.NewRunStore(stores.Config{
		Path: filepath.Join(dir, "runs.db"),
	})
	if err != nil {
		log.Fatal(err)
	}

	// Init opens the database and applies the embedded migrations.
	if err := store.Init(context.Background()); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}
