package model

import "time"

type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

// MessageRecord mirrors the delivery outcome for the data layer. The engine
// only ever touches it through the MessageRecordRepository outcome hook.
type MessageRecord struct {
	JobID          string
	AccountID      int64
	LeadID         int64
	Status         MessageStatus
	SentAt         time.Time
	ProcessingTime time.Duration
	ErrorMessage   string
}
