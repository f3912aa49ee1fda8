package types

import "time"

type EventType string

const (
	EventQueueDrop          EventType = "QueueDrop"
	EventCredentialRejected EventType = "CredentialRejected"
	EventTargetUnreachable  EventType = "TargetUnreachable"
	EventSinkFailure        EventType = "SinkFailure"
)

type Event struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"ts"`
	TargetID  string            `json:"target_id,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Details   map[string]any    `json:"details,omitempty"`
}
