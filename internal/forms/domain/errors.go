package domain

import apperrors "github.com/formworks/formworks/internal/platform/errors"

var (
	// ErrFormNotFound indicates a missing form row.
	ErrFormNotFound = apperrors.New(apperrors.CodeFormNotFound, "form not found")
	// ErrFormNameEmpty indicates a missing form name.
	ErrFormNameEmpty = apperrors.New(apperrors.CodeFormNameEmpty, "form name is required")
	// ErrIdentityProviderUnknown indicates an inactive or unknown identity provider code.
	ErrIdentityProviderUnknown = apperrors.New(apperrors.CodeFormIdentityProviderUnknown, "identity provider is inactive or unknown")

	// ErrVersionNotFound indicates a missing form version row.
	ErrVersionNotFound = apperrors.New(apperrors.CodeVersionNotFound, "form version not found")
	// ErrPublishConflict indicates a publish that lost a concurrent race to an
	// already-superseded version.
	ErrPublishConflict = apperrors.New(apperrors.CodeVersionPublishConflict, "form version was superseded by a concurrent publish")
	// ErrDraftNotFound indicates a missing (or already consumed) version draft.
	ErrDraftNotFound = apperrors.New(apperrors.CodeDraftNotFound, "form version draft not found")
	// ErrDraftAlreadyExists indicates a second live draft for the same form.
	ErrDraftAlreadyExists = apperrors.New(apperrors.CodeDraftAlreadyExists, "form already has a live draft")

	// ErrSubmissionNotFound indicates a missing submission row.
	ErrSubmissionNotFound = apperrors.New(apperrors.CodeSubmissionNotFound, "submission not found")
	// ErrSubmissionPayloadInvalid indicates a malformed submission payload.
	ErrSubmissionPayloadInvalid = apperrors.New(apperrors.CodeSubmissionPayloadInvalid, "submission payload is invalid")
	// ErrSubmissionNotDraft indicates a finalize against an already submitted row.
	ErrSubmissionNotDraft = apperrors.New(apperrors.CodeSubmissionNotDraft, "submission is not a draft")
	// ErrStatusCodeUnknown indicates a status append with a code outside the form's set.
	ErrStatusCodeUnknown = apperrors.New(apperrors.CodeSubmissionStatusUnknown, "submission status code is not defined for this form")
	// ErrBulkDisabled indicates a bulk create against a form missing the
	// required submitter capabilities.
	ErrBulkDisabled = apperrors.New(apperrors.CodeSubmissionBulkDisabled, "form does not allow bulk submission uploads")
	// ErrBulkAnonymous indicates a bulk create attempted by a public identity.
	ErrBulkAnonymous = apperrors.New(apperrors.CodeSubmissionBulkAnonymous, "bulk submission uploads require an authenticated identity")
	// ErrFileUnknown indicates a dangling file reference inside submission data.
	ErrFileUnknown = apperrors.New(apperrors.CodeSubmissionFileUnknown, "submission references an unknown file")

	// ErrAPIKeyNotFound indicates a missing form API key.
	ErrAPIKeyNotFound = apperrors.New(apperrors.CodeAPIKeyNotFound, "form api key not found")
)
