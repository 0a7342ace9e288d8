package domain

// Permission is a per-submission access grant code.
type Permission string

const (
	PermissionSubmissionCreate Permission = "submission_create"
	PermissionSubmissionRead   Permission = "submission_read"
	PermissionSubmissionUpdate Permission = "submission_update"
	PermissionSubmissionDelete Permission = "submission_delete"
)

// FormRole is a form-level role kind granted to team members.
type FormRole string

const (
	RoleOwner              FormRole = "owner"
	RoleTeamManager        FormRole = "team_manager"
	RoleFormDesigner       FormRole = "form_designer"
	RoleSubmissionReviewer FormRole = "submission_reviewer"
	RoleFormSubmitter      FormRole = "form_submitter"
)

// AllFormRoles returns every defined role kind. A form creator receives the
// full set in the creating transaction.
func AllFormRoles() []FormRole {
	return []FormRole{
		RoleOwner,
		RoleTeamManager,
		RoleFormDesigner,
		RoleSubmissionReviewer,
		RoleFormSubmitter,
	}
}

// SubmissionGrants computes the per-user grant rows for a new submission.
//
// Anonymous public submissions receive no rows; ownership stays implicit.
// Authenticated submissions always receive create+read, and additionally
// update+delete while the submission is still a draft.
func SubmissionGrants(actor Actor, draft bool) []Permission {
	if actor.Anonymous() {
		return nil
	}
	grants := []Permission{PermissionSubmissionCreate, PermissionSubmissionRead}
	if draft {
		grants = append(grants, draftOnlyGrants()...)
	}
	return grants
}

// DraftOnlyGrants returns the permissions that only hold while a submission is
// a draft. The draft-to-submitted transition strips exactly these rows, since
// grant rows do not expire on their own.
func DraftOnlyGrants() []Permission {
	return draftOnlyGrants()
}

func draftOnlyGrants() []Permission {
	return []Permission{PermissionSubmissionUpdate, PermissionSubmissionDelete}
}

// Submission status code set assigned to every new form.
const (
	StatusSubmitted = "SUBMITTED"
	StatusAssigned  = "ASSIGNED"
	StatusCompleted = "COMPLETED"
)

// DefaultStatusCodes returns the status-code set assigned at form creation.
func DefaultStatusCodes() []string {
	return []string{StatusSubmitted, StatusAssigned, StatusCompleted}
}
