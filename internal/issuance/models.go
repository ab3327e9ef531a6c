// Package issuance turns a set of users who satisfied a criterion into one
// badge issuance: recipient resolution, the issuer API call, and the ledger
// writes that make the grant at-most-once.
package issuance

import "time"

// Result summarizes one issuance batch.
type Result struct {
	BatchID string

	// Requested is the deduplicated set of user ids the batch started from.
	Requested []string

	// Resolved maps user id to the email the badge was issued to.
	Resolved map[string]string

	// Unresolved lists users excluded because no address could be resolved.
	// Their ledger entries are not written; a later sweep retries them.
	Unresolved []string

	// Issued reports whether the issuer call was made and succeeded. False
	// when every recipient was unresolved.
	Issued bool

	// EventID is the issuer's identifier for the issuance event.
	EventID string

	IssuedAt time.Time
}

// IssueRequest is the payload sent to the badge issuer.
type IssueRequest struct {
	BadgeID    string
	Recipients []string

	Subject  string
	Body     string
	Footer   string
	LinkText string

	IssuedAt time.Time
}
