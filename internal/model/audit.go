package model

import "time"

// ActorUnauthenticated is recorded when a request never passed the
// authorization gate. The actor field is never left empty.
const ActorUnauthenticated = "unauthenticated"

// AuditRecord is the immutable log of one HTTP exchange. Bodies hold the
// real wire content: if transport encryption ran, they hold the envelope
// bytes, not the plaintext.
type AuditRecord struct {
	ID           string    `json:"id"`
	OccurredAt   time.Time `json:"occurred_at"`
	ActorID      string    `json:"actor_id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	RequestBody  string    `json:"request_body,omitempty"`
	ResponseBody string    `json:"response_body,omitempty"`
	Status       int       `json:"status"`
	ClientIP     string    `json:"client_ip"`
	UserAgent    string    `json:"user_agent"`
}

type AuditQuery struct {
	ActorID      string
	ResourceType string
	Action       string
	From         string
	To           string
	Page         int
	Limit        int
}
