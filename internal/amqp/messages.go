// Package amqp carries expense mutations from the ledger to the export
// worker over RabbitMQ. Messages hold only identifiers; the worker
// fetches current rows from storage, so a stale or duplicate delivery
// never writes stale data.
package amqp

import (
	"encoding/json"
	"time"
)

// ExportMessage asks the worker to mirror one expense row. Version is
// the row version at publish time, recorded in the sheet for auditing.
type ExportMessage struct {
	ID        int64     `json:"id"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func NewExportMessage(id, version int64) *ExportMessage {
	return &ExportMessage{
		ID:        id,
		Version:   version,
		Timestamp: time.Now(),
	}
}

func (m *ExportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ExportMessageFromJSON(data []byte) (*ExportMessage, error) {
	var msg ExportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RemoveMessage asks the worker to drop the mirrored rows for a deleted
// expense. The expense row is gone by the time this is consumed, so the
// export ref travels in the message itself.
type RemoveMessage struct {
	ID        int64     `json:"id"`
	ExportRef string    `json:"export_ref"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRemoveMessage(id int64, exportRef string) *RemoveMessage {
	return &RemoveMessage{
		ID:        id,
		ExportRef: exportRef,
		Timestamp: time.Now(),
	}
}

func (m *RemoveMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RemoveMessageFromJSON(data []byte) (*RemoveMessage, error) {
	var msg RemoveMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
