// Package hashstore persists the lifecycle of every killmail digest the pipeline has seen.
//
// A digest is either Pending (known but not yet stored by the data manager) or Complete. The only
// transition is Pending -> Complete; nothing moves a row back.
package hashstore

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
	"github.com/pkg/errors"

	"github.com/zkbarchive/zkb/internal/common/database"
	"github.com/zkbarchive/zkb/internal/common/util"
	"github.com/zkbarchive/zkb/internal/protocol"
)

type State int

const (
	Pending  State = 0
	Complete State = 1
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

const (
	hashesTable = "hashes"

	// Rows per INSERT statement; keeps the number of bound parameters well under sqlite's limit.
	insertBatchSize = 500
)

type Store struct {
	db *database.Database
}

func New(db *database.Database) *Store {
	return &Store{db: db}
}

// UpsertPendingBatch records every (id, digest) pair as Pending unless a row for the id already exists,
// in which case the existing row is left untouched. All pairs are written in one transaction.
// Returns the number of pairs submitted, not the number of rows that were new.
func (s *Store) UpsertPendingBatch(ctx context.Context, hashes []protocol.IdHash) (int, error) {
	if len(hashes) == 0 {
		return 0, nil
	}
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, batch := range util.Batch(hashes, insertBatchSize) {
			rows := make([]interface{}, len(batch))
			for i := range batch {
				rows[i] = goqu.Record{"id": batch[i].Id, "hash": batch[i].Hash[:], "state": Pending}
			}
			insert := s.db.Dialect.Insert(hashesTable).
				Rows(rows...).
				OnConflict(goqu.DoNothing()).
				Prepared(true)
			if _, err := database.Exec(ctx, tx, insert); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(hashes), nil
}

// MarkComplete moves each Pending id to Complete in one transaction. Unknown ids and ids that are already
// Complete are skipped. Returns the number of rows that changed state.
func (s *Store) MarkComplete(ctx context.Context, ids []int64) (int64, error) {
	var updated int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		updated = 0
		for _, batch := range util.Batch(ids, insertBatchSize) {
			update := s.db.Dialect.Update(hashesTable).
				Set(goqu.Record{"state": Complete}).
				Where(goqu.C("id").In(batch), goqu.C("state").Eq(Pending)).
				Prepared(true)
			result, err := database.Exec(ctx, tx, update)
			if err != nil {
				return err
			}
			n, err := result.RowsAffected()
			if err != nil {
				return errors.WithStack(err)
			}
			updated += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// QueryPending returns up to n Pending digests, highest id first.
func (s *Store) QueryPending(ctx context.Context, n uint32) ([]protocol.IdHash, error) {
	if n == 0 {
		return []protocol.IdHash{}, nil
	}
	query, args, err := s.db.Dialect.From(hashesTable).
		Select("id", "hash").
		Where(goqu.C("state").Eq(Pending)).
		Order(goqu.C("id").Desc()).
		Limit(uint(n)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "error querying pending hashes")
	}
	defer rows.Close()

	result := make([]protocol.IdHash, 0, n)
	for rows.Next() {
		var id int64
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, errors.WithStack(err)
		}
		hash, err := protocol.HashFromBytes(raw)
		if err != nil {
			return nil, errors.WithMessagef(err, "corrupt hash stored for killmail %d", id)
		}
		result = append(result, protocol.IdHash{Id: id, Hash: hash})
	}
	return result, errors.WithStack(rows.Err())
}

// InsertComplete records a digest that was stored outside the batch flow. An existing row, Pending or
// Complete, is left untouched.
func (s *Store) InsertComplete(ctx context.Context, idHash protocol.IdHash) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		insert := s.db.Dialect.Insert(hashesTable).
			Rows(goqu.Record{"id": idHash.Id, "hash": idHash.Hash[:], "state": Complete}).
			OnConflict(goqu.DoNothing()).
			Prepared(true)
		_, err := database.Exec(ctx, tx, insert)
		return err
	})
}

// State returns the lifecycle state of id; ok is false if the id is unknown.
func (s *Store) State(ctx context.Context, id int64) (state State, ok bool, err error) {
	query, args, err := s.db.Dialect.From(hashesTable).
		Select("state").
		Where(goqu.C("id").Eq(id)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, false, errors.WithStack(err)
	}
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.WithStack(err)
	}
	return state, true, nil
}

// Counts returns the number of rows in each state.
func (s *Store) Counts(ctx context.Context) (map[State]int64, error) {
	query, args, err := s.db.Dialect.From(hashesTable).
		Select(goqu.C("state"), goqu.COUNT("*")).
		GroupBy(goqu.C("state")).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	counts := map[State]int64{Pending: 0, Complete: 0}
	for rows.Next() {
		var state State
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, errors.WithStack(err)
		}
		counts[state] = count
	}
	return counts, errors.WithStack(rows.Err())
}
