// Package sink emits the extractor's output: newline-delimited JSON record
// and state documents, written to stdout, a file, object storage, or Kafka.
package sink

import "time"

// MessageType discriminates output documents.
type MessageType string

const (
	// MessageTypeRecord carries one extracted record
	MessageTypeRecord MessageType = "RECORD"
	// MessageTypeState carries a bookmark snapshot
	MessageTypeState MessageType = "STATE"
)

// Message is the envelope for one output line. Record documents carry the
// stream name, payload, and extraction time; state documents carry only the
// snapshot value.
type Message struct {
	Type          MessageType            `json:"type"`
	Stream        string                 `json:"stream,omitempty"`
	Record        map[string]interface{} `json:"record,omitempty"`
	TimeExtracted string                 `json:"time_extracted,omitempty"`
	Value         map[string]interface{} `json:"value,omitempty"`
}

// RecordMessage builds a record document.
func RecordMessage(stream string, record map[string]interface{}, extractedAt time.Time) Message {
	return Message{
		Type:          MessageTypeRecord,
		Stream:        stream,
		Record:        record,
		TimeExtracted: extractedAt.UTC().Format(time.RFC3339Nano),
	}
}

// StateMessage builds a state document.
func StateMessage(value map[string]interface{}) Message {
	return Message{
		Type:  MessageTypeState,
		Value: value,
	}
}
