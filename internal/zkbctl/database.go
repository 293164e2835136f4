package zkbctl

import (
	"context"
	"fmt"

	"github.com/zkbarchive/zkb/internal/common/database"
	"github.com/zkbarchive/zkb/internal/hashstore"
)

// Migrate brings the schema of the configured database up to date.
func (a *App) Migrate(ctx context.Context) error {
	db, err := database.Open(a.Params.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	version, err := db.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Database is at version %d\n", version)
	return nil
}

// Status prints the number of hashes in each state.
func (a *App) Status(ctx context.Context) error {
	db, err := database.Open(a.Params.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	counts, err := hashstore.New(db).Counts(ctx)
	if err != nil {
		return err
	}
	for _, state := range []hashstore.State{hashstore.Pending, hashstore.Complete} {
		fmt.Fprintf(a.Out, "%s: %d\n", state, counts[state])
	}
	return nil
}
