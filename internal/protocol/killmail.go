package protocol

import (
	"time"
)

// KillmailTimeLayout is the layout of killmail timestamps on ESI and in the database.
const KillmailTimeLayout = "2006-01-02T15:04:05Z"

// Killmail is the record of a single ship destruction as served by ESI and relayed by the zKillboard feed.
// Optional ids are nil when the feed omits them, e.g. for NPC attackers.
type Killmail struct {
	KillmailId    int64      `json:"killmail_id" cbor:"1,keyasint"`
	KillmailTime  time.Time  `json:"killmail_time" cbor:"2,keyasint"`
	SolarSystemId int64      `json:"solar_system_id" cbor:"3,keyasint"`
	Victim        Victim     `json:"victim" cbor:"4,keyasint"`
	Attackers     []Attacker `json:"attackers" cbor:"5,keyasint"`
	Zkb           *Zkb       `json:"zkb,omitempty" cbor:"6,keyasint,omitempty"`
}

type Victim struct {
	AllianceId    *int64 `json:"alliance_id,omitempty" cbor:"1,keyasint,omitempty"`
	CharacterId   *int64 `json:"character_id,omitempty" cbor:"2,keyasint,omitempty"`
	CorporationId *int64 `json:"corporation_id,omitempty" cbor:"3,keyasint,omitempty"`
	DamageTaken   int32  `json:"damage_taken" cbor:"4,keyasint"`
	ShipTypeId    *int64 `json:"ship_type_id,omitempty" cbor:"5,keyasint,omitempty"`
}

type Attacker struct {
	AllianceId    *int64 `json:"alliance_id,omitempty" cbor:"1,keyasint,omitempty"`
	CharacterId   *int64 `json:"character_id,omitempty" cbor:"2,keyasint,omitempty"`
	CorporationId *int64 `json:"corporation_id,omitempty" cbor:"3,keyasint,omitempty"`
	DamageDone    int32  `json:"damage_done" cbor:"4,keyasint"`
	ShipTypeId    *int64 `json:"ship_type_id,omitempty" cbor:"5,keyasint,omitempty"`
	WeaponTypeId  *int64 `json:"weapon_type_id,omitempty" cbor:"6,keyasint,omitempty"`
}

// Zkb is the metadata zKillboard attaches to killmails it relays.
type Zkb struct {
	Hash string `json:"hash" cbor:"1,keyasint"`
}

// HandledHash returns the id and validated digest of a relayed killmail.
// ok is false if the killmail carries no zKillboard metadata.
func (k *Killmail) HandledHash() (idHash IdHash, ok bool, err error) {
	if k.Zkb == nil {
		return IdHash{}, false, nil
	}
	idHash, err = NewIdHash(k.KillmailId, k.Zkb.Hash)
	return idHash, true, err
}
