package domain

import "strings"

const confirmationIDLength = 8

// ConfirmationID derives the human-shareable confirmation token from a
// submission id. The token is the first 8 hex characters of the id,
// upper-cased, so it can always be recomputed from the id alone and serves as
// a stable idempotency key for consumers.
func ConfirmationID(submissionID string) string {
	hex := strings.ReplaceAll(strings.TrimSpace(submissionID), "-", "")
	if len(hex) > confirmationIDLength {
		hex = hex[:confirmationIDLength]
	}
	return strings.ToUpper(hex)
}
