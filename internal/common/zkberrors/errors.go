// Package zkberrors contains generic errors shared by the pipeline components.
//
// Errors are returned wrapped with github.com/pkg/errors so that a stack trace is available
// to logging.WithStacktrace; callers should inspect them with errors.As.
package zkberrors

import (
	"fmt"
)

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "pulsar.JwtTokenPath"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	} else {
		return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
	}
}

// HashErrorReason distinguishes the two ways a textual digest can be malformed.
type HashErrorReason string

const (
	// HashNotHex is reported when the text is not valid hexadecimal.
	HashNotHex HashErrorReason = "Can't decode hash to binary"
	// HashWrongLength is reported when the text decodes to the wrong number of bytes.
	HashWrongLength HashErrorReason = "Unexpected length of the vector"
)

// ErrInvalidHash is returned when a killmail digest can't be converted to its binary form.
type ErrInvalidHash struct {
	Value  string
	Reason HashErrorReason
}

func (err *ErrInvalidHash) Error() string {
	return fmt.Sprintf("invalid killmail hash %q: %s", err.Value, err.Reason)
}

// ErrUnexpectedMessage is returned when a message read from the bus can't be decoded
// into one of the known event variants.
type ErrUnexpectedMessage struct {
	Topic   string
	Message string
}

func (err *ErrUnexpectedMessage) Error() string {
	return fmt.Sprintf("unexpected message on topic %q: %s", err.Topic, err.Message)
}
