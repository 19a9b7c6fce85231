package model

import "time"

// WebhookEvent is one received gateway notification, kept for audit and dedupe.
type WebhookEvent struct {
	ID              int64
	Provider        string
	EventID         string
	EventType       string
	Payload         []byte
	SignatureValid  bool
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
	ProcessingError string
	DeliveryCount   int
}

// Processed is true once a delivery was handled or deliberately ignored. A
// failed attempt only records ProcessingError.
func (w *WebhookEvent) Processed() bool { return w.ProcessedAt != nil }
