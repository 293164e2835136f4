package killmaildb

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
	"github.com/pkg/errors"

	"github.com/zkbarchive/zkb/internal/common/database"
	"github.com/zkbarchive/zkb/internal/protocol"
)

const (
	killmailsTable    = "killmails"
	participantsTable = "participants"
)

// Store writes killmails and their participants.
type Store struct {
	db *database.Database
}

func New(db *database.Database) *Store {
	return &Store{db: db}
}

// StoreKillmails writes all killmails in one transaction and returns their ids in input order.
// A killmail whose id is already stored is skipped together with its participants, so storing the same
// killmail twice leaves exactly one copy.
func (s *Store) StoreKillmails(ctx context.Context, killmails []*protocol.Killmail) ([]int64, error) {
	ids := make([]int64, 0, len(killmails))
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, killmail := range killmails {
			if err := s.insertKillmail(ctx, tx, killmail); err != nil {
				return err
			}
			ids = append(ids, killmail.KillmailId)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// StoreKillmail writes a single killmail in its own transaction.
func (s *Store) StoreKillmail(ctx context.Context, killmail *protocol.Killmail) error {
	_, err := s.StoreKillmails(ctx, []*protocol.Killmail{killmail})
	return err
}

func (s *Store) insertKillmail(ctx context.Context, tx *sql.Tx, killmail *protocol.Killmail) error {
	insert := s.db.Dialect.Insert(killmailsTable).
		Rows(goqu.Record{
			"killmail_id":     killmail.KillmailId,
			"killmail_time":   killmail.KillmailTime.UTC().Format(protocol.KillmailTimeLayout),
			"solar_system_id": killmail.SolarSystemId,
		}).
		OnConflict(goqu.DoNothing()).
		Prepared(true)
	result, err := database.Exec(ctx, tx, insert)
	if err != nil {
		return errors.WithMessagef(err, "error storing killmail %d", killmail.KillmailId)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if inserted == 0 {
		return nil
	}

	rows := make([]interface{}, 0, len(killmail.Attackers)+1)
	rows = append(rows, victimRecord(killmail.KillmailId, &killmail.Victim))
	for i := range killmail.Attackers {
		rows = append(rows, attackerRecord(killmail.KillmailId, &killmail.Attackers[i]))
	}
	insertParticipants := s.db.Dialect.Insert(participantsTable).
		Rows(rows...).
		OnConflict(goqu.DoNothing()).
		Prepared(true)
	if _, err := database.Exec(ctx, tx, insertParticipants); err != nil {
		return errors.WithMessagef(err, "error storing participants of killmail %d", killmail.KillmailId)
	}
	return nil
}

func victimRecord(killmailId int64, victim *protocol.Victim) goqu.Record {
	return goqu.Record{
		"killmail_id":    killmailId,
		"character_id":   nullable(victim.CharacterId),
		"corporation_id": nullable(victim.CorporationId),
		"alliance_id":    nullable(victim.AllianceId),
		"ship_type_id":   nullable(victim.ShipTypeId),
		"weapon_type_id": nil,
		"damage":         victim.DamageTaken,
		"is_victim":      1,
	}
}

func attackerRecord(killmailId int64, attacker *protocol.Attacker) goqu.Record {
	return goqu.Record{
		"killmail_id":    killmailId,
		"character_id":   nullable(attacker.CharacterId),
		"corporation_id": nullable(attacker.CorporationId),
		"alliance_id":    nullable(attacker.AllianceId),
		"ship_type_id":   nullable(attacker.ShipTypeId),
		"weapon_type_id": nullable(attacker.WeaponTypeId),
		"damage":         attacker.DamageDone,
		"is_victim":      0,
	}
}

func nullable(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
