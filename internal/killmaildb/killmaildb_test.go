package killmaildb

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkbarchive/zkb/internal/common/database"
	"github.com/zkbarchive/zkb/internal/common/pointer"
	"github.com/zkbarchive/zkb/internal/protocol"
)

type participantRow struct {
	CharacterId  sql.NullInt64
	AllianceId   sql.NullInt64
	WeaponTypeId sql.NullInt64
	Damage       int32
	IsVictim     int
}

func testKillmail(id int64) *protocol.Killmail {
	return &protocol.Killmail{
		KillmailId:    id,
		KillmailTime:  time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC),
		SolarSystemId: 30000142,
		Victim: protocol.Victim{
			CharacterId:   pointer.Pointer[int64](95465499),
			CorporationId: pointer.Pointer[int64](98640234),
			DamageTaken:   4933,
			ShipTypeId:    pointer.Pointer[int64](24690),
		},
		Attackers: []protocol.Attacker{
			{
				AllianceId:   pointer.Pointer[int64](99005338),
				CharacterId:  pointer.Pointer[int64](2112625428),
				DamageDone:   4621,
				ShipTypeId:   pointer.Pointer[int64](17738),
				WeaponTypeId: pointer.Pointer[int64](2929),
			},
			{
				CorporationId: pointer.Pointer[int64](1000127),
				DamageDone:    312,
			},
		},
	}
}

func withStore(t *testing.T, action func(ctx context.Context, db *database.Database, store *Store)) {
	err := database.WithTestDb(func(db *database.Database) error {
		action(context.Background(), db, New(db))
		return nil
	})
	require.NoError(t, err)
}

func participants(t *testing.T, ctx context.Context, db *database.Database, killmailId int64) []participantRow {
	rows, err := db.QueryContext(ctx,
		`SELECT character_id, alliance_id, weapon_type_id, damage, is_victim
		 FROM participants WHERE killmail_id = ? ORDER BY is_victim DESC, damage DESC`, killmailId)
	require.NoError(t, err)
	defer rows.Close()

	var result []participantRow
	for rows.Next() {
		var p participantRow
		require.NoError(t, rows.Scan(&p.CharacterId, &p.AllianceId, &p.WeaponTypeId, &p.Damage, &p.IsVictim))
		result = append(result, p)
	}
	require.NoError(t, rows.Err())
	return result
}

func count(t *testing.T, ctx context.Context, db *database.Database, table string) int {
	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestStoreKillmails(t *testing.T) {
	withStore(t, func(ctx context.Context, db *database.Database, store *Store) {
		ids, err := store.StoreKillmails(ctx, []*protocol.Killmail{testKillmail(2), testKillmail(1)})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 1}, ids)

		var killmailTime string
		var solarSystemId int64
		err = db.QueryRowContext(ctx, "SELECT killmail_time, solar_system_id FROM killmails WHERE killmail_id = 1").
			Scan(&killmailTime, &solarSystemId)
		require.NoError(t, err)
		assert.Equal(t, "2022-03-04T05:06:07Z", killmailTime)
		assert.Equal(t, int64(30000142), solarSystemId)

		assert.Equal(t, []participantRow{
			{CharacterId: sql.NullInt64{Int64: 95465499, Valid: true}, Damage: 4933, IsVictim: 1},
			{
				CharacterId:  sql.NullInt64{Int64: 2112625428, Valid: true},
				AllianceId:   sql.NullInt64{Int64: 99005338, Valid: true},
				WeaponTypeId: sql.NullInt64{Int64: 2929, Valid: true},
				Damage:       4621,
			},
			{Damage: 312},
		}, participants(t, ctx, db, 1))
	})
}

func TestStoreKillmails_Idempotent(t *testing.T) {
	withStore(t, func(ctx context.Context, db *database.Database, store *Store) {
		require.NoError(t, store.StoreKillmail(ctx, testKillmail(1)))
		require.NoError(t, store.StoreKillmail(ctx, testKillmail(1)))
		_, err := store.StoreKillmails(ctx, []*protocol.Killmail{testKillmail(1), testKillmail(1)})
		require.NoError(t, err)

		assert.Equal(t, 1, count(t, ctx, db, "killmails"))
		// The attacker without a character id would be duplicated if participants were re-inserted.
		assert.Equal(t, 3, count(t, ctx, db, "participants"))
	})
}

func TestStoreKillmails_NoAttackers(t *testing.T) {
	withStore(t, func(ctx context.Context, db *database.Database, store *Store) {
		killmail := testKillmail(1)
		killmail.Attackers = nil
		require.NoError(t, store.StoreKillmail(ctx, killmail))
		assert.Len(t, participants(t, ctx, db, 1), 1)
	})
}

func TestStoreKillmails_AtomicOnFailure(t *testing.T) {
	withStore(t, func(ctx context.Context, db *database.Database, store *Store) {
		// Make every participant insert fail part way through the batch.
		_, err := db.ExecContext(ctx, "DROP TABLE participants")
		require.NoError(t, err)

		_, err = store.StoreKillmails(ctx, []*protocol.Killmail{testKillmail(1), testKillmail(2)})
		assert.Error(t, err)
		assert.Equal(t, 0, count(t, ctx, db, "killmails"))
	})
}
