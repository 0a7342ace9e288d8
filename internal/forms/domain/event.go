package domain

// EventType classifies an externally visible lifecycle transition.
type EventType string

const (
	EventFormPublished     EventType = "form.published"
	EventFormUnpublished   EventType = "form.unpublished"
	EventSubmissionCreated EventType = "submission.created"
	EventSubmissionUpdated EventType = "submission.updated"
)

// Subject prefixes for the two visibility tiers of the event log.
const (
	PublicSubjectPrefix  = "PUBLIC.forms."
	PrivateSubjectPrefix = "PRIVATE.forms."
)

// PublicSubject returns the metadata-only subject for an event type.
func PublicSubject(t EventType) string {
	return PublicSubjectPrefix + string(t)
}

// PrivateSubject returns the full-payload subject for an event type.
func PrivateSubject(t EventType) string {
	return PrivateSubjectPrefix + string(t)
}
