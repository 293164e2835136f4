package database

import (
	"context"
)

// WithTestDb opens a migrated in-memory sqlite database, passes it to action and closes it afterwards.
func WithTestDb(action func(db *Database) error) error {
	db, err := OpenInMemory()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		return err
	}
	return action(db)
}
