package protocol

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

var (
	// encMode uses Core Deterministic Encoding so that the same event always produces the same bytes.
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

func MarshalCmd(event *CmdEvent) ([]byte, error) {
	if err := event.validate(); err != nil {
		return nil, errors.WithStack(err)
	}
	payload, err := encMode.Marshal(event)
	return payload, errors.WithStack(err)
}

// UnmarshalCmd decodes a payload read from the command topic.
func UnmarshalCmd(payload []byte) (*CmdEvent, error) {
	event := &CmdEvent{}
	if err := decMode.Unmarshal(payload, event); err != nil {
		return nil, errors.Wrap(err, "error decoding command")
	}
	if err := event.validate(); err != nil {
		return nil, errors.WithStack(err)
	}
	return event, nil
}

func MarshalData(event *DataEvent) ([]byte, error) {
	if err := event.validate(); err != nil {
		return nil, errors.WithStack(err)
	}
	payload, err := encMode.Marshal(event)
	return payload, errors.WithStack(err)
}

// UnmarshalData decodes a payload read from the data topic.
func UnmarshalData(payload []byte) (*DataEvent, error) {
	event := &DataEvent{}
	if err := decMode.Unmarshal(payload, event); err != nil {
		return nil, errors.Wrap(err, "error decoding data event")
	}
	if err := event.validate(); err != nil {
		return nil, errors.WithStack(err)
	}
	return event, nil
}
