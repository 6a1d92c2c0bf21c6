package models

import "time"

// MessageStatus represents the current delivery state of a message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRejected  MessageStatus = "rejected"
)

// Message is the chat message entity handed to the broker.
// The gateway only ever creates it; id, status and delivered_at
// transitions belong to the storage service downstream.
type Message struct {
	ID              *int          `json:"id"`
	ClientMessageID string        `json:"client_message_id"`
	ChatID          string        `json:"chat_id"`
	SenderID        int           `json:"sender_id"`
	RecipientID     int           `json:"recipient_id"`
	Status          MessageStatus `json:"status"`
	SentAt          time.Time     `json:"sent_at"`
	DeliveredAt     *time.Time    `json:"delivered_at"`
	Body            string        `json:"body"`
	IsEdited        bool          `json:"is_edited"`
	IsDeleted       bool          `json:"is_deleted"`
}

// NewMessage builds a freshly sent message from a validated inbound frame.
func NewMessage(senderID int, in IncomingMessage) Message {
	return Message{
		ClientMessageID: in.ClientMessageID,
		ChatID:          in.ChatID,
		SenderID:        senderID,
		RecipientID:     in.RecipientID,
		Status:          StatusSent,
		SentAt:          time.Now().UTC(),
		Body:            in.Body,
	}
}
