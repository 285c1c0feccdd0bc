package types

import (
	"fmt"
)

// OutboundMessage is the transport-level unit derived from exactly one Record.
type OutboundMessage struct {
	// Topic is the destination topic configured for the run.
	Topic string
	// Key is the decimal text of the source record's index.
	Key string
	// Value is the serialized record.
	Value []byte
	// Attributes carries optional transport metadata (Kafka headers, Pub/Sub attributes).
	Attributes map[string]string
	// Index is the source position of the record, kept for reporting.
	Index int
}

// DeliveryReport is the one-shot confirmation for an accepted send.
// Err is nil when the transport persisted the message.
type DeliveryReport struct {
	Topic string
	Key   string
	Index int
	// Partition and Offset are -1 when the transport has no such concept.
	Partition int
	Offset    int64
	// MessageID is the broker-assigned identifier, when the transport provides one.
	MessageID string
	Err       error
}

// Succeeded reports whether the message was delivered.
func (d DeliveryReport) Succeeded() bool {
	return d.Err == nil
}

func (d DeliveryReport) String() string {
	if d.Err != nil {
		return fmt.Sprintf("Delivery failed for record %s: %v", d.Key, d.Err)
	}
	return fmt.Sprintf("Record %s successfully sent to %s [%d] at offset %d", d.Key, d.Topic, d.Partition, d.Offset)
}

// DeliveryCallback receives the DeliveryReport of one send. Transports invoke it
// exactly once per accepted send, possibly from a goroutine they own.
type DeliveryCallback func(report DeliveryReport)
