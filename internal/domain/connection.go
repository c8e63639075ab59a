package domain

import "time"

// Metadata is what the registry keeps for a live connection.
type Metadata struct {
	GatewayID   string    `json:"gateway_id"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	Country     string    `json:"country,omitempty"`
	Locale      string    `json:"locale,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Connection pairs an id with its registry metadata.
type Connection struct {
	ID       string
	Metadata Metadata
}
