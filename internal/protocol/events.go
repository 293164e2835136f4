package protocol

import (
	"github.com/pkg/errors"
)

const (
	// DefaultCommandTopic carries CmdEvents addressed to the hash manager.
	DefaultCommandTopic = "zkb/commands"
	// DefaultDataTopic carries DataEvents addressed to the data manager.
	DefaultDataTopic = "zkb/data"
)

// CmdKind names the variant of a CmdEvent, for logging and metrics.
type CmdKind string

const (
	CmdSaveDailyReport   CmdKind = "SaveDailyReport"
	CmdReturnHash        CmdKind = "ReturnHash"
	CmdRequestLastHashes CmdKind = "RequestLastHashes"
	CmdMarkComplete      CmdKind = "MarkComplete"
	CmdSaveHandledHash   CmdKind = "SaveHandledHash"
	CmdQuit              CmdKind = "Quit"
)

// CmdEvent is a command for the hash manager. Exactly one field is set.
type CmdEvent struct {
	SaveDailyReport   *DailyReport       `cbor:"1,keyasint,omitempty"`
	ReturnHash        *IdHash            `cbor:"2,keyasint,omitempty"`
	RequestLastHashes *RequestLastHashes `cbor:"3,keyasint,omitempty"`
	MarkComplete      *MarkComplete      `cbor:"4,keyasint,omitempty"`
	SaveHandledHash   *IdHash            `cbor:"5,keyasint,omitempty"`
	Quit              *Quit              `cbor:"6,keyasint,omitempty"`
}

// DailyReport lists the killmails zKillboard knows for one day.
type DailyReport struct {
	// Day the report covers, formatted as YYYY-MM-DD.
	Date      string   `cbor:"1,keyasint"`
	Killmails []IdHash `cbor:"2,keyasint"`
}

type RequestLastHashes struct {
	Count uint32 `cbor:"1,keyasint"`
	// RequestId is copied into the HashesToHandle answering this request. Empty for operator requests.
	RequestId string `cbor:"2,keyasint,omitempty"`
}

type MarkComplete struct {
	Ids []int64 `cbor:"1,keyasint"`
}

type Quit struct{}

func NewSaveDailyReport(date string, killmails []IdHash) *CmdEvent {
	return &CmdEvent{SaveDailyReport: &DailyReport{Date: date, Killmails: killmails}}
}

// NewReturnHash builds the reserved ReturnHash command; the hash manager accepts and ignores it.
func NewReturnHash(idHash IdHash) *CmdEvent {
	return &CmdEvent{ReturnHash: &idHash}
}

func NewRequestLastHashes(count uint32) *CmdEvent {
	return &CmdEvent{RequestLastHashes: &RequestLastHashes{Count: count}}
}

// NewTrackedRequestLastHashes builds a RequestLastHashes whose answer carries requestId.
func NewTrackedRequestLastHashes(count uint32, requestId string) *CmdEvent {
	return &CmdEvent{RequestLastHashes: &RequestLastHashes{Count: count, RequestId: requestId}}
}

func NewMarkComplete(ids []int64) *CmdEvent {
	return &CmdEvent{MarkComplete: &MarkComplete{Ids: ids}}
}

func NewSaveHandledHash(idHash IdHash) *CmdEvent {
	return &CmdEvent{SaveHandledHash: &idHash}
}

func NewQuit() *CmdEvent {
	return &CmdEvent{Quit: &Quit{}}
}

// Kind returns the variant that is set, or "" if the event is not valid.
func (e *CmdEvent) Kind() CmdKind {
	if e.validate() != nil {
		return ""
	}
	switch {
	case e.SaveDailyReport != nil:
		return CmdSaveDailyReport
	case e.ReturnHash != nil:
		return CmdReturnHash
	case e.RequestLastHashes != nil:
		return CmdRequestLastHashes
	case e.MarkComplete != nil:
		return CmdMarkComplete
	case e.SaveHandledHash != nil:
		return CmdSaveHandledHash
	default:
		return CmdQuit
	}
}

func (e *CmdEvent) validate() error {
	return exactlyOne("CmdEvent",
		e.SaveDailyReport != nil,
		e.ReturnHash != nil,
		e.RequestLastHashes != nil,
		e.MarkComplete != nil,
		e.SaveHandledHash != nil,
		e.Quit != nil,
	)
}

// DataKind names the variant of a DataEvent.
type DataKind string

const (
	DataHashesToHandle  DataKind = "HashesToHandle"
	DataKillmailToStore DataKind = "KillmailToStore"
)

// DataEvent is work for the data manager. Exactly one field is set.
type DataEvent struct {
	HashesToHandle  *HashesToHandle `cbor:"1,keyasint,omitempty"`
	KillmailToStore *Killmail       `cbor:"2,keyasint,omitempty"`
}

// HashesToHandle is a batch of pending killmails, highest id first.
type HashesToHandle struct {
	Hashes []IdHash `cbor:"1,keyasint"`
	// RequestId of the RequestLastHashes this batch answers.
	RequestId string `cbor:"2,keyasint,omitempty"`
}

func NewHashesToHandle(hashes []IdHash) *DataEvent {
	return &DataEvent{HashesToHandle: &HashesToHandle{Hashes: hashes}}
}

// NewHashesToHandleFor builds the answer to the RequestLastHashes identified by requestId.
func NewHashesToHandleFor(requestId string, hashes []IdHash) *DataEvent {
	return &DataEvent{HashesToHandle: &HashesToHandle{Hashes: hashes, RequestId: requestId}}
}

func NewKillmailToStore(killmail *Killmail) *DataEvent {
	return &DataEvent{KillmailToStore: killmail}
}

func (e *DataEvent) Kind() DataKind {
	if e.validate() != nil {
		return ""
	}
	if e.HashesToHandle != nil {
		return DataHashesToHandle
	}
	return DataKillmailToStore
}

func (e *DataEvent) validate() error {
	return exactlyOne("DataEvent", e.HashesToHandle != nil, e.KillmailToStore != nil)
}

func exactlyOne(name string, set ...bool) error {
	count := 0
	for _, s := range set {
		if s {
			count++
		}
	}
	if count != 1 {
		return errors.Errorf("%s must have exactly one variant set, found %d", name, count)
	}
	return nil
}
