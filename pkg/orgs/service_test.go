package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/tenancy/pkg/config"
	"github.com/meridianhq/tenancy/pkg/events"
	"github.com/meridianhq/tenancy/pkg/roles"
)

func defaultTestConfig() *config.Config {
	return config.Default()
}

func TestCreateOrganization(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("creates the organization with the creator as owner", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		owner := User{ID: 10, Email: "founder@example.com"}

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO organizations`).
			WithArgs("Acme").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}).
				AddRow(1, "Acme", now, now))
		mock.ExpectQuery(`INSERT INTO memberships`).
			WithArgs(int64(1), owner.ID, roles.RoleOwner, nil).
			WillReturnRows(membershipRows().AddRow(1, owner.ID, int64(1), roles.RoleOwner, nil, now, now))
		mock.ExpectCommit()

		org, membership, err := service.CreateOrganization(ctx, owner, "Acme")
		require.NoError(t, err)
		assert.Equal(t, int64(1), org.ID)
		assert.Equal(t, "Acme", org.Name)
		assert.Equal(t, roles.RoleOwner, membership.Role)
		assert.Equal(t, owner.ID, membership.UserID)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("emits organization_created after commit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		var seen []*events.Context
		dispatcher := events.NewDispatcher(nil)
		dispatcher.Register(events.EventOrganizationCreated, func(_ context.Context, ec *events.Context) error {
			seen = append(seen, ec)
			return nil
		})
		service := NewPostgresService(db, nil, nil, dispatcher)

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO organizations`).
			WithArgs("Acme").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}).
				AddRow(1, "Acme", now, now))
		mock.ExpectQuery(`INSERT INTO memberships`).
			WithArgs(int64(1), int64(10), roles.RoleOwner, nil).
			WillReturnRows(membershipRows().AddRow(1, int64(10), int64(1), roles.RoleOwner, nil, now, now))
		mock.ExpectCommit()

		_, _, err = service.CreateOrganization(ctx, User{ID: 10}, "Acme")
		require.NoError(t, err)

		require.Len(t, seen, 1)
		assert.Equal(t, events.EventOrganizationCreated, seen[0].Event)
		assert.Equal(t, string(roles.RoleOwner), seen[0].Role)
		assert.NotEmpty(t, seen[0].ID)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("organization limit blocks creation", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		limit := 2
		cfg := defaultTestConfig()
		cfg.MaxOrganizationsPerUser = &limit
		service := NewPostgresService(db, cfg, nil, nil)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM memberships WHERE user_id = \$1`).
			WithArgs(int64(10)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectRollback()

		_, _, err = service.CreateOrganization(ctx, User{ID: 10}, "One Too Many")
		assert.ErrorIs(t, err, ErrOrganizationLimitReached)
		assert.True(t, IsInvariantViolation(err))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback on membership insert failure", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO organizations`).
			WithArgs("Acme").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}).
				AddRow(1, "Acme", now, now))
		mock.ExpectQuery(`INSERT INTO memberships`).
			WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		_, _, err := service.CreateOrganization(ctx, User{ID: 10}, "Acme")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create owner membership")

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetOrganization(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	ctx := context.Background()
	now := time.Now()

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(`FROM organizations\s+WHERE id = \$1`).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}).
				AddRow(1, "Acme", now, now))

		org, err := service.GetOrganization(ctx, int64(1))
		require.NoError(t, err)
		assert.Equal(t, "Acme", org.Name)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`FROM organizations\s+WHERE id = \$1`).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		org, err := service.GetOrganization(ctx, int64(99))
		assert.ErrorIs(t, err, ErrOrganizationNotFound)
		assert.Nil(t, org)

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMemberRoleUsesCache(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cache := NewLRURoleCache(16, time.Minute, nil)
	service := NewPostgresService(db, nil, nil, nil, WithRoleCache(cache))

	orgID, userID := int64(1), int64(10)

	// First lookup misses and hits the database
	mock.ExpectQuery(getMembershipQuery).
		WithArgs(orgID, userID).
		WillReturnRows(membershipRows().AddRow(1, userID, orgID, roles.RoleAdmin, nil, now, now))

	role, isMember, err := service.memberRole(ctx, orgID, userID)
	require.NoError(t, err)
	assert.True(t, isMember)
	assert.Equal(t, roles.RoleAdmin, role)

	// Second lookup is served from the cache, no query expected
	role, isMember, err = service.memberRole(ctx, orgID, userID)
	require.NoError(t, err)
	assert.True(t, isMember)
	assert.Equal(t, roles.RoleAdmin, role)

	// Invalidation forces the next lookup back to the database
	service.invalidateRole(ctx, orgID, userID)
	mock.ExpectQuery(getMembershipQuery).
		WithArgs(orgID, userID).
		WillReturnRows(membershipRows().AddRow(1, userID, orgID, roles.RoleMember, nil, now, now))

	role, _, err = service.memberRole(ctx, orgID, userID)
	require.NoError(t, err)
	assert.Equal(t, roles.RoleMember, role)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewToken(t *testing.T) {
	token1, err := newToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token1)
	assert.Equal(t, 64, len(token1)) // 32 bytes = 64 hex chars

	token2, err := newToken()
	require.NoError(t, err)
	assert.NotEqual(t, token1, token2) // Should be unique
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "authorization", err: ErrNotAuthorized, expected: "authorization"},
		{name: "invariant", err: ErrCannotHaveMultipleOwners, expected: "invariant"},
		{name: "invitation state", err: ErrInvitationExpired, expected: "invitation_state"},
		{name: "other", err: sql.ErrConnDone, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, errorKind(tt.err))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(sql.ErrConnDone, ""))
	assert.False(t, isUniqueViolation(nil, ""))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}, ""))

	violation := &pq.Error{Code: "23505", Constraint: "idx_memberships_single_owner"}
	assert.True(t, isUniqueViolation(violation, ""))
	assert.True(t, isUniqueViolation(violation, "idx_memberships_single_owner"))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert failed: %w", violation), ""))
	assert.False(t, isUniqueViolation(violation, "invitations_token_key"))
}
