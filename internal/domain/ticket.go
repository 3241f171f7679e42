package domain

import "time"

// Ticket maps a requester to their private verification channel.
// PK: requester_id — at most one open ticket per requester by construction.
// ChannelRef is an opaque handle owned by the messaging platform; it is empty
// while the winning opener is still creating the channel.
type Ticket struct {
	RequesterID string    `json:"requester_id" dynamodbav:"requester_id"`
	TicketID    string    `json:"id" dynamodbav:"ticket_id"`
	ChannelRef  string    `json:"channel_ref,omitempty" dynamodbav:"channel_ref"`
	CreatedAt   time.Time `json:"created" dynamodbav:"created_at"`
}
