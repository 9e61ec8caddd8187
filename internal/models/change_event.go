package models

import (
	"context"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChangeEvent is one row change as it is handed to a sink
type ChangeEvent struct {
	Kind       string                 `json:"kind"` // INSERT, UPDATE_BEFORE, UPDATE_AFTER, DELETE
	Database   string                 `json:"database"`
	Table      string                 `json:"table"`
	Timestamp  int64                  `json:"timestamp"`
	Position   string                 `json:"position,omitempty"`
	GTID       string                 `json:"gtid,omitempty"`
	PrimaryKey []string               `json:"primary_key,omitempty"`
	Row        map[string]interface{} `json:"row"`

	// RawJSON, when set, is published as-is instead of marshalling the event.
	// Transformers and the maxwell sink format fill it in.
	RawJSON []byte `json:"-"`
}

// Key identifies the source table, used for partitioning by sinks that support it
func (e *ChangeEvent) Key() string {
	return e.Database + "." + e.Table
}

// Payload returns the bytes a sink should publish for the event
func (e *ChangeEvent) Payload() ([]byte, error) {
	if len(e.RawJSON) > 0 {
		return e.RawJSON, nil
	}
	return json.Marshal(e)
}

// Message is one raw message taken from a source
type Message struct {
	Key   []byte
	Value []byte

	// Ack marks the message as processed. Nil for sources without acknowledgement.
	Ack func(ctx context.Context) error
}
