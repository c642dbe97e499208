package entity

import "time"

// ConversationSummary is a derived projection for list views. It is recomputed
// from the message set and never mutated in place.
type ConversationSummary struct {
	PartnerID          int64     `json:"partnerId"`
	PartnerName        string    `json:"partnerName"`
	LastMessageContent string    `json:"lastMessageContent"`
	LastMessageTime    time.Time `json:"lastMessageTime"`
	UnreadCount        int       `json:"unreadCount"`
	// Synthetic marks the injected assistant entry.
	Synthetic bool `json:"synthetic,omitempty"`
}
