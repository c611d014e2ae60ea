package orgs

import (
	"context"
	"strings"
	"time"

	"github.com/meridianhq/tenancy/pkg/roles"
)

// Organization is the tenant aggregate root
type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership is the role-bearing relation between a user and an organization
type Membership struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	OrganizationID int64      `json:"organization_id"`
	Role           roles.Role `json:"role"`
	InvitedBy      *int64     `json:"invited_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// InvitationStatus is derived from the invitation's timestamps, never stored
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation is a token-bearing offer for an email address to join an
// organization at a given role
type Invitation struct {
	ID             int64      `json:"id"`
	OrganizationID int64      `json:"organization_id"`
	Email          string     `json:"email"`
	Token          string     `json:"token,omitempty"`
	Role           roles.Role `json:"role"`
	InvitedBy      *int64     `json:"invited_by,omitempty"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// StatusAt derives the invitation state at the given instant. An invitation
// whose expiry equals the instant exactly is already expired, not pending.
func (i *Invitation) StatusAt(now time.Time) InvitationStatus {
	if i.AcceptedAt != nil {
		return InvitationAccepted
	}
	if i.ExpiresAt != nil && !i.ExpiresAt.After(now) {
		return InvitationExpired
	}
	return InvitationPending
}

// Status derives the invitation state now
func (i *Invitation) Status() InvitationStatus {
	return i.StatusAt(time.Now())
}

// User is the opaque identity supplied by the caller's identity provider.
// The core never creates or mutates users.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// NormalizeEmail lowercases and trims an address for case-insensitive
// comparison. All invitation emails are stored normalized.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AcceptOptions tunes invitation acceptance
type AcceptOptions struct {
	// SkipEmailCheck accepts the invitation even when the user's email does
	// not match the invited address, for flows where the host application
	// has already verified the user owns the invitation link.
	SkipEmailCheck bool
}

// Directory resolves an email address to a known user. Implemented by the
// host application's identity provider; optional, but without it SendInvite
// cannot reject addresses that already belong to members.
type Directory interface {
	// ByEmail returns the user for the normalized address, or found=false
	// when no account exists.
	ByEmail(ctx context.Context, email string) (user *User, found bool, err error)
}

// Sender delivers an invitation link to the invited address. Delivery is
// best-effort: implementations are called off the write path and their
// errors never fail the triggering operation.
type Sender interface {
	SendInvitation(ctx context.Context, invitation *Invitation, org *Organization) error
}

// RoleCache is a read-through cache for membership role lookups used on
// authorization checks. Implementations must tolerate concurrent use;
// staleness is bounded by the configured TTL and by explicit invalidation
// after every membership mutation.
type RoleCache interface {
	Get(ctx context.Context, orgID, userID int64) (roles.Role, bool)
	Set(ctx context.Context, orgID, userID int64, role roles.Role)
	Invalidate(ctx context.Context, orgID, userID int64)
}
