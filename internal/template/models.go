// Package template manages the notification email sent alongside an issuance.
package template

import "strings"

// EmailTemplate is the per-badge notification message. The issuer delivers it
// to each recipient of the batch.
type EmailTemplate struct {
	BadgeID string
	Subject string
	Body    string
	Footer  string

	// LinkText labels the claim link the issuer embeds in the message.
	LinkText string
}

// RenderBody returns the message body with the optional criteria addendum
// appended. The addendum is separated by a blank line; an empty addendum
// leaves the body untouched.
func (t EmailTemplate) RenderBody(addendum string) string {
	addendum = strings.TrimSpace(addendum)
	if addendum == "" {
		return t.Body
	}
	if t.Body == "" {
		return addendum
	}
	return t.Body + "\n\n" + addendum
}
