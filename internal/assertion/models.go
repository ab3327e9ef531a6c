// Package assertion serves a user's earned badges, read through a TTL cache
// in front of the issuer API.
package assertion

import "time"

// Assertion is one badge the issuer holds for a recipient.
type Assertion struct {
	ID        string     `json:"id"`
	BadgeID   string     `json:"badge_id"`
	BadgeName string     `json:"badge_name"`
	Recipient string     `json:"recipient"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
