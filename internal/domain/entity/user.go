package entity

// Peer is the public profile of a chat participant.
type Peer struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Principal is the authenticated user a client session runs as.
type Principal struct {
	UserID int64
	Name   string
	Role   string
}
