package orgs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInvitationStatusAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name       string
		acceptedAt *time.Time
		expiresAt  *time.Time
		expected   InvitationStatus
	}{
		{
			name:      "pending with future expiry",
			expiresAt: &future,
			expected:  InvitationPending,
		},
		{
			name:     "pending without expiry",
			expected: InvitationPending,
		},
		{
			name:      "expired",
			expiresAt: &past,
			expected:  InvitationExpired,
		},
		{
			name:      "expiring exactly now is already expired",
			expiresAt: &now,
			expected:  InvitationExpired,
		},
		{
			name:       "accepted",
			acceptedAt: &past,
			expiresAt:  &future,
			expected:   InvitationAccepted,
		},
		{
			name:       "accepted wins over expiry",
			acceptedAt: &past,
			expiresAt:  &past,
			expected:   InvitationAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &Invitation{AcceptedAt: tt.acceptedAt, ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.expected, inv.StatusAt(now))
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "already normalized",
			input:    "user@example.com",
			expected: "user@example.com",
		},
		{
			name:     "mixed case",
			input:    "User@Example.COM",
			expected: "user@example.com",
		},
		{
			name:     "surrounding whitespace",
			input:    "  user@example.com\n",
			expected: "user@example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeEmail(tt.input))
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsAuthorizationError(ErrNotAMember))
	assert.False(t, IsAuthorizationError(ErrCannotRemoveOwner))

	assert.True(t, IsInvariantViolation(ErrCannotLeaveAsLastOwner))
	assert.False(t, IsInvariantViolation(ErrNotAuthorized))

	assert.True(t, IsInvitationStateError(ErrEmailMismatch))
	assert.False(t, IsInvitationStateError(ErrOrganizationNotFound))
}
