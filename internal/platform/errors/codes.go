package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Form errors
	CodeFormNotFound                Code = "FORM_NOT_FOUND"
	CodeFormNameEmpty               Code = "FORM_NAME_EMPTY"
	CodeFormScheduleInvalid         Code = "FORM_SCHEDULE_INVALID"
	CodeFormIdentityProviderUnknown Code = "FORM_IDENTITY_PROVIDER_UNKNOWN"

	// Version errors
	CodeVersionNotFound        Code = "FORM_VERSION_NOT_FOUND"
	CodeVersionPublishConflict Code = "FORM_VERSION_PUBLISH_CONFLICT"
	CodeDraftNotFound          Code = "FORM_DRAFT_NOT_FOUND"
	CodeDraftAlreadyExists     Code = "FORM_DRAFT_ALREADY_EXISTS"

	// Submission errors
	CodeSubmissionNotFound       Code = "SUBMISSION_NOT_FOUND"
	CodeSubmissionPayloadInvalid Code = "SUBMISSION_PAYLOAD_INVALID"
	CodeSubmissionNotDraft       Code = "SUBMISSION_NOT_DRAFT"
	CodeSubmissionStatusUnknown  Code = "SUBMISSION_STATUS_CODE_UNKNOWN"
	CodeSubmissionBulkDisabled   Code = "SUBMISSION_BULK_DISABLED"
	CodeSubmissionBulkAnonymous  Code = "SUBMISSION_BULK_ANONYMOUS"
	CodeSubmissionFileUnknown    Code = "SUBMISSION_FILE_UNKNOWN"

	// API key errors
	CodeAPIKeyNotFound Code = "API_KEY_NOT_FOUND"
)

// Category groups codes into the outcome classes callers branch on.
type Category string

const (
	CategoryValidation Category = "VALIDATION"
	CategoryReference  Category = "REFERENCE"
	CategoryNotFound   Category = "NOT_FOUND"
	CategoryForbidden  Category = "FORBIDDEN"
	CategoryConflict   Category = "CONFLICT"
	CategoryInternal   Category = "INTERNAL"
)

// Category maps a code to its outcome class.
func (c Code) Category() Category {
	switch c {
	case CodeFormNameEmpty, CodeFormScheduleInvalid, CodeSubmissionPayloadInvalid,
		CodeSubmissionNotDraft, CodeDraftAlreadyExists:
		return CategoryValidation
	case CodeFormIdentityProviderUnknown, CodeSubmissionStatusUnknown, CodeSubmissionFileUnknown:
		return CategoryReference
	case CodeFormNotFound, CodeVersionNotFound, CodeDraftNotFound,
		CodeSubmissionNotFound, CodeAPIKeyNotFound:
		return CategoryNotFound
	case CodeSubmissionBulkDisabled, CodeSubmissionBulkAnonymous:
		return CategoryForbidden
	case CodeVersionPublishConflict:
		return CategoryConflict
	default:
		return CategoryInternal
	}
}

// HTTPStatus maps the code's category to an HTTP status for transport layers.
func (c Code) HTTPStatus() int {
	switch c.Category() {
	case CategoryValidation:
		return http.StatusUnprocessableEntity
	case CategoryReference:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryForbidden:
		return http.StatusForbidden
	case CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
