package format

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptMessage matches every *CorruptMessageError.
	ErrCorruptMessage = errors.New("corrupt Maxwell JSON message")

	// ErrUnrecognizedChangeType matches every *UnrecognizedChangeTypeError.
	ErrUnrecognizedChangeType = errors.New("unrecognized Maxwell change type")

	// ErrMalformedEnvelope matches every *MalformedEnvelopeError.
	ErrMalformedEnvelope = errors.New("malformed Maxwell envelope")
)

// CorruptMessageError is returned when a message cannot be decoded into the
// envelope shape, or when translating it fails unexpectedly.
type CorruptMessageError struct {
	Message []byte
	Cause   error
}

func (e *CorruptMessageError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("Corrupt Maxwell JSON message '%s'.", e.Message)
	}
	return fmt.Sprintf("Corrupt Maxwell JSON message '%s': %v", e.Message, e.Cause)
}

func (e *CorruptMessageError) Unwrap() error {
	return e.Cause
}

func (e *CorruptMessageError) Is(target error) bool {
	return target == ErrCorruptMessage
}

// UnrecognizedChangeTypeError is returned when "type" is not insert, update or delete.
type UnrecognizedChangeTypeError struct {
	Type    string
	Message []byte
}

func (e *UnrecognizedChangeTypeError) Error() string {
	return fmt.Sprintf("Unknown \"type\" value \"%s\". The Maxwell JSON message is '%s'", e.Type, e.Message)
}

func (e *UnrecognizedChangeTypeError) Is(target error) bool {
	return target == ErrUnrecognizedChangeType
}

// MalformedEnvelopeError reports a row image whose arity does not match the
// row schema or its counterpart image. It is fatal under every tolerance policy.
type MalformedEnvelopeError struct {
	Field    string
	Expected int
	Actual   int
	Message  []byte
}

func (e *MalformedEnvelopeError) Error() string {
	msg := fmt.Sprintf("Malformed Maxwell envelope: %q image has %d fields, expected %d", e.Field, e.Actual, e.Expected)
	if len(e.Message) > 0 {
		msg += fmt.Sprintf(". The Maxwell JSON message is '%s'", e.Message)
	}
	return msg
}

func (e *MalformedEnvelopeError) Is(target error) bool {
	return target == ErrMalformedEnvelope
}
