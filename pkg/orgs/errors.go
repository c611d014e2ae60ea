package orgs

import "errors"

// AuthorizationError means the caller lacks standing to perform an operation
type AuthorizationError struct {
	msg string
}

func (e *AuthorizationError) Error() string { return e.msg }

// IsAuthorizationError checks if an error is an authorization error
func IsAuthorizationError(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

// InvariantViolationError means the requested mutation would break a
// structural guarantee such as the single-owner invariant
type InvariantViolationError struct {
	msg string
}

func (e *InvariantViolationError) Error() string { return e.msg }

// IsInvariantViolation checks if an error is an invariant violation
func IsInvariantViolation(err error) bool {
	var target *InvariantViolationError
	return errors.As(err, &target)
}

// InvitationStateError means the invitation is not in a state that permits
// the requested transition
type InvitationStateError struct {
	msg string
}

func (e *InvitationStateError) Error() string { return e.msg }

// IsInvitationStateError checks if an error is an invitation state error
func IsInvitationStateError(err error) bool {
	var target *InvitationStateError
	return errors.As(err, &target)
}

var (
	// Authorization errors
	ErrNotAMember    = &AuthorizationError{msg: "user is not a member of the organization"}
	ErrNotAuthorized = &AuthorizationError{msg: "member's role does not grant this permission"}

	// Invariant violations
	ErrCannotHaveMultipleOwners    = &InvariantViolationError{msg: "organization already has an owner; use ownership transfer"}
	ErrCannotDemoteOwner           = &InvariantViolationError{msg: "the owner cannot be demoted; use ownership transfer"}
	ErrCannotRemoveOwner           = &InvariantViolationError{msg: "the owner cannot be removed; transfer ownership first"}
	ErrCannotTransferToNonMember   = &InvariantViolationError{msg: "ownership can only be transferred to an existing member"}
	ErrCannotTransferToNonAdmin    = &InvariantViolationError{msg: "ownership can only be transferred to an admin or higher"}
	ErrNoOwnerPresent              = &InvariantViolationError{msg: "organization has no owner membership"}
	ErrCannotLeaveAsLastOwner      = &InvariantViolationError{msg: "the owner cannot leave; transfer ownership first"}
	ErrCannotLeaveLastOrganization = &InvariantViolationError{msg: "users must belong to at least one organization"}
	ErrOrganizationLimitReached    = &InvariantViolationError{msg: "user has reached the maximum number of organizations"}
	ErrCannotInviteAsOwner         = &InvariantViolationError{msg: "invitations cannot carry the owner role"}
	ErrInvalidRole                 = &InvariantViolationError{msg: "role is not in the configured hierarchy"}

	// Invitation state errors
	ErrInvitationExpired         = &InvitationStateError{msg: "invitation has expired"}
	ErrInvitationAlreadyAccepted = &InvitationStateError{msg: "invitation has already been accepted"}
	ErrEmailMismatch             = &InvitationStateError{msg: "invitation was issued to a different email address"}
	ErrCannotAcceptAsOwner       = &InvitationStateError{msg: "invitation carries the owner role and cannot be accepted"}
	ErrAlreadyAMember            = &InvitationStateError{msg: "email address already belongs to a member"}

	// Lookup and argument errors
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrMembershipNotFound   = errors.New("membership not found")
	ErrInvitationNotFound   = errors.New("invitation not found")
	ErrUserRequired         = errors.New("a user is required")
)
