package zkberrors

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrInvalidArgument_Error(t *testing.T) {
	err := &ErrInvalidArgument{Name: "bus.Type", Value: "kafka"}
	assert.Equal(t, `value "kafka" is invalid for field "bus.Type"`, err.Error())

	err.Message = "must be pulsar or nats"
	assert.Equal(t, `value "kafka" is invalid for field "bus.Type"; must be pulsar or nats`, err.Error())
}

func TestErrInvalidHash_As(t *testing.T) {
	var wrapped error = errors.WithStack(&ErrInvalidHash{Value: "1a3", Reason: HashNotHex})

	var e *ErrInvalidHash
	assert.True(t, errors.As(wrapped, &e))
	assert.Equal(t, HashNotHex, e.Reason)
	assert.Contains(t, wrapped.Error(), "Can't decode hash to binary")
}
