package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/formworks/formworks/internal/forms/domain"
	"github.com/formworks/formworks/internal/forms/storage"
	apperrors "github.com/formworks/formworks/internal/platform/errors"
)

// Reserved keys stripped from every bulk-uploaded record. Bulk payloads are
// frequently round-tripped exports, so the server-derived operator and display
// columns they carry must never land back in the stored data.
var bulkReservedKeys = []string{
	"submit",
	"lateEntry",
	"confirmationId",
	"formName",
	"version",
	"fullName",
	"status",
	"assignee",
	"assigneeEmail",
	"createdBy",
	"createdAt",
	"updatedBy",
	"updatedAt",
}

// CreateSubmission inserts one submission against a form version.
//
// The confirmation id is derived from the submission id, context-dependent
// permission grants are computed from the actor, and any embedded file
// references are linked to the submission before its row exists, so a
// dangling reference leaves zero rows behind and a failed insert unlinks
// again. Direct (non-draft) submissions get the initial SUBMITTED status. A
// submission.created event is staged after the commit either way, tagged with
// the draft flag.
func (e *Engine) CreateSubmission(ctx context.Context, actor domain.Actor, versionID string, data map[string]any, asDraft bool) (storage.Submission, error) {
	version, err := e.GetVersion(ctx, versionID)
	if err != nil {
		return storage.Submission{}, err
	}

	sub, grants, status, err := e.buildSubmission(actor, version.ID, data, asDraft)
	if err != nil {
		return storage.Submission{}, err
	}
	linked, err := e.linkFiles(ctx, sub.ID, data)
	if err != nil {
		return storage.Submission{}, err
	}

	if err := e.store.CreateSubmission(ctx, sub, grants, status); err != nil {
		e.unlinkFiles(ctx, linked)
		return storage.Submission{}, fmt.Errorf("create submission: %w", err)
	}

	e.logger.Info("submission created",
		zap.String("submission_id", sub.ID),
		zap.String("form_version_id", version.ID),
		zap.Bool("draft", asDraft),
		zap.String("confirmation_id", sub.ConfirmationID),
	)
	e.stageSubmissionEvent(ctx, domain.EventSubmissionCreated, version.FormID, sub)
	return sub, nil
}

// SubmitDraft finalizes a draft submission: the draft flag flips off, the
// draft-only update and delete grants are stripped, and the initial SUBMITTED
// status is appended, all in one transaction. The staged event is the same
// submission.created a direct submission emits.
func (e *Engine) SubmitDraft(ctx context.Context, actor domain.Actor, submissionID string) (storage.Submission, error) {
	sub, err := e.GetSubmission(ctx, submissionID)
	if err != nil {
		return storage.Submission{}, err
	}
	if !sub.Draft {
		return storage.Submission{}, domain.ErrSubmissionNotDraft
	}

	now := e.now()
	status := storage.SubmissionStatus{
		ID:           e.newID(),
		SubmissionID: sub.ID,
		Code:         domain.StatusSubmitted,
		CreatedBy:    actor.ID,
		CreatedAt:    now,
	}
	finalized, err := e.store.FinalizeSubmission(ctx, sub.ID, domain.DraftOnlyGrants(), status, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Submission{}, domain.ErrSubmissionNotFound
		}
		return storage.Submission{}, fmt.Errorf("finalize submission: %w", err)
	}

	e.logger.Info("submission finalized",
		zap.String("submission_id", finalized.ID),
		zap.String("submitted_by", actor.ID),
	)
	version, err := e.GetVersion(ctx, finalized.FormVersionID)
	if err != nil {
		e.logger.Warn("event staging skipped: version lookup failed",
			zap.String("submission_id", finalized.ID),
			zap.String("form_version_id", finalized.FormVersionID),
			zap.Error(err),
		)
	} else {
		e.stageSubmissionEvent(ctx, domain.EventSubmissionCreated, version.FormID, finalized)
	}
	return finalized, nil
}

// CreateMultiSubmission inserts a batch of draft submissions in one
// transaction.
//
// Bulk upload requires an authenticated identity and a form with both the
// submitter-draft and submitter-upload capabilities enabled. Each record's
// operator and display fields are stripped before insert. Any failure leaves
// zero rows behind.
func (e *Engine) CreateMultiSubmission(ctx context.Context, actor domain.Actor, versionID string, records []map[string]any) ([]storage.Submission, error) {
	if actor.Anonymous() {
		return nil, domain.ErrBulkAnonymous
	}
	version, err := e.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	form, err := e.GetForm(ctx, version.FormID)
	if err != nil {
		return nil, err
	}
	if !form.EnableSubmitterDraft || !form.AllowSubmitterToUploadFile {
		return nil, domain.ErrBulkDisabled
	}

	subs := make([]storage.Submission, 0, len(records))
	var grants []storage.SubmissionGrant
	for _, record := range records {
		sanitized := sanitizeBulkRecord(record)
		sub, subGrants, _, err := e.buildSubmission(actor, version.ID, sanitized, true)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
		grants = append(grants, subGrants...)
	}

	// The store re-reads the capability flags inside the insert transaction,
	// so a capability flip racing this batch rejects it instead of landing.
	if err := e.store.CreateSubmissions(ctx, version.FormID, subs, grants, nil); err != nil {
		if errors.Is(err, storage.ErrBulkNotAllowed) {
			return nil, domain.ErrBulkDisabled
		}
		return nil, fmt.Errorf("create submissions: %w", err)
	}

	e.logger.Info("bulk submissions created",
		zap.String("form_version_id", version.ID),
		zap.Int("count", len(subs)),
		zap.String("created_by", actor.ID),
	)
	return subs, nil
}

// buildSubmission constructs the submission row, its grant rows, and the
// initial status for a non-draft insert.
func (e *Engine) buildSubmission(actor domain.Actor, versionID string, data map[string]any, asDraft bool) (storage.Submission, []storage.SubmissionGrant, *storage.SubmissionStatus, error) {
	if data == nil {
		return storage.Submission{}, nil, nil, domain.ErrSubmissionPayloadInvalid
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return storage.Submission{}, nil, nil, apperrors.Wrap(apperrors.CodeSubmissionPayloadInvalid, "submission payload is not serializable", err)
	}

	now := e.now()
	id := e.newID()
	sub := storage.Submission{
		ID:             id,
		FormVersionID:  versionID,
		ConfirmationID: domain.ConfirmationID(id),
		Draft:          asDraft,
		DataJSON:       string(dataJSON),
		CreatedBy:      actor.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var grants []storage.SubmissionGrant
	for _, permission := range domain.SubmissionGrants(actor, asDraft) {
		grants = append(grants, storage.SubmissionGrant{
			SubmissionID: id,
			UserID:       actor.ID,
			Permission:   permission,
			CreatedAt:    now,
		})
	}

	var status *storage.SubmissionStatus
	if !asDraft {
		status = &storage.SubmissionStatus{
			ID:           e.newID(),
			SubmissionID: id,
			Code:         domain.StatusSubmitted,
			CreatedBy:    actor.ID,
			CreatedAt:    now,
		}
	}
	return sub, grants, status, nil
}

// linkFiles patches every file reference embedded in the submission data to
// the owning submission. It runs before the submission row is inserted, so a
// dangling reference rejects the whole operation with zero rows written; any
// references already linked when that happens are released again. The
// returned ids let the caller compensate the same way when the insert itself
// fails.
func (e *Engine) linkFiles(ctx context.Context, submissionID string, data map[string]any) ([]string, error) {
	fileIDs := domain.ExtractFileIDs(data)
	if len(fileIDs) == 0 {
		return nil, nil
	}
	if e.files == nil {
		return nil, apperrors.WithMetadata(apperrors.CodeSubmissionFileUnknown,
			"submission references a file but no file store is configured",
			map[string]string{"file_id": fileIDs[0]},
		)
	}
	linked := make([]string, 0, len(fileIDs))
	for _, fileID := range fileIDs {
		if err := e.files.LinkSubmission(ctx, fileID, submissionID); err != nil {
			e.unlinkFiles(ctx, linked)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, apperrors.WithMetadata(apperrors.CodeSubmissionFileUnknown,
					"submission references an unknown file",
					map[string]string{"file_id": fileID},
				)
			}
			return nil, fmt.Errorf("link submission file: %w", err)
		}
		linked = append(linked, fileID)
	}
	return linked, nil
}

// unlinkFiles releases file links after an aborted submission. Failures are
// logged, not returned; the files are merely back to unowned state late.
func (e *Engine) unlinkFiles(ctx context.Context, fileIDs []string) {
	for _, fileID := range fileIDs {
		if err := e.files.UnlinkSubmission(ctx, fileID); err != nil {
			e.logger.Warn("file unlink failed after aborted submission",
				zap.String("file_id", fileID),
				zap.Error(err),
			)
		}
	}
}

func sanitizeBulkRecord(record map[string]any) map[string]any {
	if record == nil {
		return nil
	}
	sanitized := make(map[string]any, len(record))
	for key, value := range record {
		sanitized[key] = value
	}
	for _, key := range bulkReservedKeys {
		delete(sanitized, key)
	}
	return sanitized
}

// GetSubmission returns one submission by id.
func (e *Engine) GetSubmission(ctx context.Context, submissionID string) (storage.Submission, error) {
	sub, err := e.store.GetSubmission(ctx, submissionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Submission{}, domain.ErrSubmissionNotFound
		}
		return storage.Submission{}, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

// AddSubmissionStatus appends one status row to a submission's history.
//
// The code must belong to the owning form's status-code set; the current
// status is simply the latest row. A submission.updated event is staged for
// forms subscribed to status changes.
func (e *Engine) AddSubmissionStatus(ctx context.Context, actor domain.Actor, submissionID, code string) (storage.SubmissionStatus, error) {
	sub, err := e.GetSubmission(ctx, submissionID)
	if err != nil {
		return storage.SubmissionStatus{}, err
	}
	version, err := e.GetVersion(ctx, sub.FormVersionID)
	if err != nil {
		return storage.SubmissionStatus{}, err
	}

	codes, err := e.store.ListFormStatusCodes(ctx, version.FormID)
	if err != nil {
		return storage.SubmissionStatus{}, fmt.Errorf("list form status codes: %w", err)
	}
	known := false
	for _, candidate := range codes {
		if candidate == code {
			known = true
			break
		}
	}
	if !known {
		return storage.SubmissionStatus{}, apperrors.WithMetadata(apperrors.CodeSubmissionStatusUnknown,
			"submission status code is not defined for this form",
			map[string]string{"code": code, "form_id": version.FormID},
		)
	}

	status := storage.SubmissionStatus{
		ID:           e.newID(),
		SubmissionID: sub.ID,
		Code:         code,
		CreatedBy:    actor.ID,
		CreatedAt:    e.now(),
	}
	if err := e.store.AppendSubmissionStatus(ctx, status); err != nil {
		return storage.SubmissionStatus{}, fmt.Errorf("append submission status: %w", err)
	}

	e.logger.Info("submission status appended",
		zap.String("submission_id", sub.ID),
		zap.String("code", code),
		zap.String("created_by", actor.ID),
	)
	e.stageSubmissionEvent(ctx, domain.EventSubmissionUpdated, version.FormID, sub)
	return status, nil
}

// ListSubmissionStatuses returns a submission's status history, newest first.
func (e *Engine) ListSubmissionStatuses(ctx context.Context, submissionID string) ([]storage.SubmissionStatus, error) {
	if _, err := e.GetSubmission(ctx, submissionID); err != nil {
		return nil, err
	}
	statuses, err := e.store.ListSubmissionStatuses(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list submission statuses: %w", err)
	}
	return statuses, nil
}
