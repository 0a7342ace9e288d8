// Package storage defines the persistence contracts for the form lifecycle:
// record types, per-entity store interfaces, and named query options.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/formworks/formworks/internal/forms/domain"
)

// ErrNotFound indicates a missing record.
var ErrNotFound = errors.New("record not found")

// ErrSuperseded indicates a publish that targeted a version another publish
// already superseded.
var ErrSuperseded = errors.New("form version superseded")

// ErrDraftExists indicates a second live version draft for the same form.
var ErrDraftExists = errors.New("form draft already exists")

// ErrBulkNotAllowed indicates a batch insert against a form that no longer
// carries both bulk-upload capabilities.
var ErrBulkNotAllowed = errors.New("bulk submission not allowed")

// Form is the durable form definition container.
type Form struct {
	ID                         string
	Name                       string
	Description                string
	Active                     bool
	Schedule                   domain.Schedule
	ReminderEnabled            bool
	EnableSubmitterDraft       bool
	AllowSubmitterToUploadFile bool
	IdentityProviders          []string
	CreatedBy                  string
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// IdentityProvider is a registry row for a login provider code.
type IdentityProvider struct {
	Code        string
	DisplayName string
	Active      bool
}

// FormVersion is an immutable schema snapshot. SupersededAt records the moment
// another version's publish displaced this one; it is the marker concurrent
// publishers re-read to detect a lost race.
type FormVersion struct {
	ID           string
	FormID       string
	Version      int
	SchemaJSON   string
	Published    bool
	SupersededAt *time.Time
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FormDraft is the mutable pre-publish working copy. At most one live draft
// exists per form; promotion consumes (deletes) it.
type FormDraft struct {
	ID              string
	FormID          string
	SourceVersionID string
	SchemaJSON      string
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FormRoleGrant is a form-level role row for a team member.
type FormRoleGrant struct {
	FormID    string
	UserID    string
	Role      domain.FormRole
	CreatedAt time.Time
}

// Submission is a single user-submitted data instance.
type Submission struct {
	ID             string
	FormVersionID  string
	ConfirmationID string
	Draft          bool
	DataJSON       string
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SubmissionStatus is one row of the append-only status history.
type SubmissionStatus struct {
	ID           string
	SubmissionID string
	Code         string
	CreatedBy    string
	CreatedAt    time.Time
}

// SubmissionGrant is a per-user access row for a submission.
type SubmissionGrant struct {
	SubmissionID string
	UserID       string
	Permission   domain.Permission
	CreatedAt    time.Time
}

// APIKey is a form's programmatic credential. One row per form; rotation
// replaces the secret in place.
type APIKey struct {
	FormID         string
	Secret         string
	FilesAPIAccess bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Subscription is the per-form external-notification opt-in config. Absence of
// a row means no external notification.
type Subscription struct {
	FormID         string
	OnPublish      bool
	OnSubmit       bool
	OnStatusChange bool
	PublicStream   bool
	PrivateStream  bool
	UpdatedAt      time.Time
}

// Outbox event lifecycle states.
const (
	OutboxStatusPending   = "pending"
	OutboxStatusLeased    = "leased"
	OutboxStatusSucceeded = "succeeded"
	OutboxStatusDead      = "dead"
)

// OutboxEvent is a durably staged lifecycle event pending broker publish.
//
// PayloadJSON carries the fully materialized row for the PRIVATE subject;
// MetaJSON carries the identifier-only body for the PUBLIC subject. The
// stream flags snapshot the form's subscription config at commit time.
type OutboxEvent struct {
	ID             string
	EventType      domain.EventType
	FormID         string
	PayloadJSON    string
	MetaJSON       string
	DedupeKey      string
	PublicStream   bool
	PrivateStream  bool
	Status         string
	AttemptCount   int
	NextAttemptAt  time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ListQuery is the composed result of named list options.
type ListQuery struct {
	ActiveOnly       bool
	CreatedBy        string
	OrderVersionDesc bool
	Limit            int
}

// ListOption is a named, composable list modifier.
type ListOption func(*ListQuery)

// WithActiveOnly filters out soft-deleted rows.
func WithActiveOnly() ListOption {
	return func(q *ListQuery) { q.ActiveOnly = true }
}

// WithCreatedBy filters rows by creator.
func WithCreatedBy(userID string) ListOption {
	return func(q *ListQuery) { q.CreatedBy = userID }
}

// OrderByVersionDesc orders version listings newest first.
func OrderByVersionDesc() ListOption {
	return func(q *ListQuery) { q.OrderVersionDesc = true }
}

// WithLimit caps the number of returned rows.
func WithLimit(n int) ListOption {
	return func(q *ListQuery) { q.Limit = n }
}

// BuildListQuery folds options into a query description for store backends.
func BuildListQuery(opts ...ListOption) ListQuery {
	var q ListQuery
	for _, opt := range opts {
		if opt != nil {
			opt(&q)
		}
	}
	return q
}

// FormStore persists forms and their creation-time satellites.
type FormStore interface {
	// CreateForm inserts the form, its initial draft, the creator's role
	// grants, and the default status-code set in one transaction.
	CreateForm(ctx context.Context, form Form, draft *FormDraft, roles []FormRoleGrant, statusCodes []string) error
	GetForm(ctx context.Context, id string) (Form, error)
	UpdateForm(ctx context.Context, form Form) error
	SetFormActive(ctx context.Context, id string, active bool, at time.Time) error
	ListForms(ctx context.Context, opts ...ListOption) ([]Form, error)
	ListIdentityProviders(ctx context.Context) ([]IdentityProvider, error)
	ListFormRoles(ctx context.Context, formID, userID string) ([]domain.FormRole, error)
	ListFormStatusCodes(ctx context.Context, formID string) ([]string, error)
}

// VersionStore persists version drafts and published snapshots.
type VersionStore interface {
	CreateDraft(ctx context.Context, draft FormDraft) error
	GetDraft(ctx context.Context, id string) (FormDraft, error)
	UpdateDraft(ctx context.Context, draft FormDraft) error
	GetVersion(ctx context.Context, id string) (FormVersion, error)
	ListVersions(ctx context.Context, formID string, opts ...ListOption) ([]FormVersion, error)
	// PromoteDraft consumes the draft and inserts the next version of the form
	// as the single published version, superseding the previous one, in one
	// transaction. A consumed draft id fails with ErrNotFound.
	PromoteDraft(ctx context.Context, draftID, versionID, by string, at time.Time) (FormVersion, error)
	// SetVersionPublished flips the published flag on one version. Publishing
	// supersedes every other version of the form; a target that was already
	// superseded fails with ErrSuperseded after a transaction-scoped re-read.
	SetVersionPublished(ctx context.Context, formID, versionID string, published bool, at time.Time) (FormVersion, error)
}

// SubmissionStore persists submissions, their grant rows, and status history.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub Submission, grants []SubmissionGrant, status *SubmissionStatus) error
	// CreateSubmissions inserts the whole batch in one transaction; any
	// failure leaves zero rows behind. The owning form's bulk capabilities
	// are re-read inside that transaction, so a batch racing a capability
	// flip fails with ErrBulkNotAllowed instead of landing.
	CreateSubmissions(ctx context.Context, formID string, subs []Submission, grants []SubmissionGrant, statuses []SubmissionStatus) error
	GetSubmission(ctx context.Context, id string) (Submission, error)
	// FinalizeSubmission flips draft to false, deletes the listed grant rows,
	// and appends the initial status in one transaction.
	FinalizeSubmission(ctx context.Context, id string, strip []domain.Permission, status SubmissionStatus, at time.Time) (Submission, error)
	AppendSubmissionStatus(ctx context.Context, status SubmissionStatus) error
	ListSubmissionStatuses(ctx context.Context, submissionID string) ([]SubmissionStatus, error)
	ListSubmissionGrants(ctx context.Context, submissionID string) ([]SubmissionGrant, error)
}

// APIKeyStore persists per-form programmatic credentials.
type APIKeyStore interface {
	PutAPIKey(ctx context.Context, key APIKey) error
	GetAPIKey(ctx context.Context, formID string) (APIKey, error)
	DeleteAPIKey(ctx context.Context, formID string) error
	SetAPIKeyFilesAccess(ctx context.Context, formID string, allowed bool, at time.Time) error
}

// SubscriptionStore reads the external-notification opt-in config.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, formID string) (Subscription, error)
	PutSubscription(ctx context.Context, sub Subscription) error
}

// OutboxStore stages lifecycle events for at-least-once broker delivery.
type OutboxStore interface {
	EnqueueOutboxEvent(ctx context.Context, event OutboxEvent) error
	GetOutboxEvent(ctx context.Context, id string) (OutboxEvent, error)
	LeaseOutboxEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]OutboxEvent, error)
	MarkOutboxSucceeded(ctx context.Context, id, consumer string, processedAt time.Time) error
	MarkOutboxRetry(ctx context.Context, id, consumer string, nextAttemptAt time.Time, lastError string) error
	MarkOutboxDead(ctx context.Context, id, consumer string, lastError string, processedAt time.Time) error
}

// Store is the full persistence surface the workflow engine depends on.
type Store interface {
	FormStore
	VersionStore
	SubmissionStore
	APIKeyStore
	SubscriptionStore
	OutboxStore
}
