package models

import "errors"

// IncomingMessage is the inbound websocket frame used to create messages.
// The sender id is taken from the authenticated session, never from the frame.
type IncomingMessage struct {
	ClientMessageID string `json:"client_message_id"`
	ChatID          string `json:"chat_id"`
	RecipientID     int    `json:"recipient_id"`
	Body            string `json:"body"`
}

// Validate checks that all required frame fields are present.
func (in IncomingMessage) Validate() error {
	if in.ClientMessageID == "" {
		return errors.New("client_message_id is required")
	}
	if in.ChatID == "" {
		return errors.New("chat_id is required")
	}
	if in.RecipientID == 0 {
		return errors.New("recipient_id is required")
	}
	if in.Body == "" {
		return errors.New("body is required")
	}
	return nil
}

// ErrorFrame is sent back over the websocket when an inbound frame is rejected.
type ErrorFrame struct {
	Title   string `json:"title"`
	Details string `json:"details"`
}

// ConnectionPassResponse is the body of a successful pass issuance.
type ConnectionPassResponse struct {
	ConnectionPass string `json:"connection_pass"`
}
