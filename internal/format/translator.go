package format

import (
	"errors"
	"fmt"
)

// Maxwell "type" values.
const (
	opInsert = "insert"
	opUpdate = "update"
	opDelete = "delete"
)

// DropReason says why a message produced no events without an error
type DropReason int

const (
	// DropFiltered: database or table did not match the configured filter.
	DropFiltered DropReason = iota
	// DropIgnored: the message was corrupt or of unknown type and parse errors are ignored.
	DropIgnored
)

func (r DropReason) String() string {
	switch r {
	case DropFiltered:
		return "filtered"
	case DropIgnored:
		return "ignored"
	default:
		return fmt.Sprintf("DropReason(%d)", int(r))
	}
}

// Drop describes a message that produced no events and no error
type Drop struct {
	Reason  DropReason
	Message []byte
	// Meta is nil when the message could not be decoded
	Meta *Metadata
	// Err is the suppressed error for DropIgnored and nil for DropFiltered
	Err error
}

// DropHandler observes messages that were dropped
type DropHandler func(Drop)

// Translator turns Maxwell messages into row change events. It holds no
// mutable state and may be shared between goroutines as long as its
// RowDecoder can.
type Translator struct {
	decoder RowDecoder
	opts    Options
	onDrop  DropHandler
}

// NewTranslator creates a translator with the given decoder and options
func NewTranslator(decoder RowDecoder, opts Options) *Translator {
	return &Translator{
		decoder: decoder,
		opts:    opts,
	}
}

// WithDropHandler returns a copy of t that reports dropped messages to h
func (t *Translator) WithDropHandler(h DropHandler) *Translator {
	cp := *t
	cp.onDrop = h
	return &cp
}

// Options returns the options the translator was built with
func (t *Translator) Options() Options {
	return t.opts
}

// Translate decodes one message and returns its change events in emission
// order: nothing for empty input or a filtered message, one event for insert
// and delete, UPDATE_BEFORE followed by UPDATE_AFTER for update.
//
// Under the strict policy a corrupt message returns a *CorruptMessageError and
// an unknown type a *UnrecognizedChangeTypeError; with IgnoreParseErrors both
// are dropped. A *MalformedEnvelopeError is returned regardless of policy.
// On error no events are returned.
func (t *Translator) Translate(message []byte) ([]ChangeEvent, error) {
	if len(message) == 0 {
		return nil, nil
	}

	events, meta, err := t.translate(message)
	if err == nil {
		return events, nil
	}

	var malformed *MalformedEnvelopeError
	if errors.As(err, &malformed) {
		if malformed.Message == nil {
			malformed.Message = copyBytes(message)
		}
		return nil, malformed
	}

	if t.opts.IgnoreParseErrors {
		t.drop(DropIgnored, message, meta, err)
		return nil, nil
	}
	return nil, err
}

// translate also returns the envelope metadata once the message has been
// decoded, so drops can report it.
func (t *Translator) translate(message []byte) (events []ChangeEvent, meta *Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			events, meta = nil, nil
			err = &CorruptMessageError{Message: copyBytes(message), Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	env, err := t.decoder.Decode(message)
	if err != nil {
		var malformed *MalformedEnvelopeError
		if errors.As(err, &malformed) {
			return nil, nil, malformed
		}
		return nil, nil, &CorruptMessageError{Message: copyBytes(message), Cause: err}
	}
	if env == nil {
		return nil, nil, &CorruptMessageError{Message: copyBytes(message), Cause: errors.New("decoder returned no envelope")}
	}
	meta = &env.Metadata

	if t.opts.Database != "" && t.opts.Database != env.Database {
		t.drop(DropFiltered, message, meta, nil)
		return nil, nil, nil
	}
	if t.opts.Table != "" && t.opts.Table != env.Table {
		t.drop(DropFiltered, message, meta, nil)
		return nil, nil, nil
	}

	events, err = t.dispatch(env, message)
	return events, meta, err
}

func (t *Translator) dispatch(env *Envelope, message []byte) ([]ChangeEvent, error) {
	switch env.Type {
	case opInsert:
		data, err := t.image(env, fieldData, env.Data, message)
		if err != nil {
			return nil, err
		}
		return []ChangeEvent{t.event(Insert, data, env)}, nil

	case opUpdate:
		after, err := t.image(env, fieldData, env.Data, message)
		if err != nil {
			return nil, err
		}
		old, err := t.image(env, fieldOld, env.Old, message)
		if err != nil {
			return nil, err
		}
		before, err := Reconcile(after, old)
		if err != nil {
			return nil, err
		}
		return []ChangeEvent{
			t.event(UpdateBefore, before, env),
			t.event(UpdateAfter, after, env),
		}, nil

	case opDelete:
		field, row := fieldData, env.Data
		if t.opts.DeleteContainsOldField {
			field, row = fieldOld, env.Old
		}
		deleted, err := t.image(env, field, row, message)
		if err != nil {
			return nil, err
		}
		return []ChangeEvent{t.event(Delete, deleted, env)}, nil

	default:
		return nil, &UnrecognizedChangeTypeError{Type: env.Type, Message: copyBytes(message)}
	}
}

// image checks that a row image the change type requires is present and has
// the schema's arity.
func (t *Translator) image(env *Envelope, field string, row RowImage, message []byte) (RowImage, error) {
	if row == nil {
		return nil, &CorruptMessageError{
			Message: copyBytes(message),
			Cause:   fmt.Errorf("missing %q field for %q change", field, env.Type),
		}
	}
	if arity := t.decoder.Arity(); len(row) != arity {
		return nil, &MalformedEnvelopeError{Field: field, Expected: arity, Actual: len(row)}
	}
	return row, nil
}

func (t *Translator) event(kind ChangeKind, row RowImage, env *Envelope) ChangeEvent {
	return ChangeEvent{
		Kind: kind,
		Row:  row,
		Meta: env.Metadata.clone(),
	}
}

func (t *Translator) drop(reason DropReason, message []byte, meta *Metadata, err error) {
	if t.onDrop == nil {
		return
	}
	d := Drop{Reason: reason, Message: message, Err: err}
	if meta != nil {
		m := meta.clone()
		d.Meta = &m
	}
	t.onDrop(d)
}

func copyBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
