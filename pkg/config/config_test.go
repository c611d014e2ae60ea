package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/tenancy/pkg/roles"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, roles.RoleMember, cfg.DefaultInvitationRole)
		assert.Nil(t, cfg.InvitationExpiry)
		assert.Nil(t, cfg.MaxOrganizationsPerUser)
		assert.False(t, cfg.RequireOrganizationMembership)
		assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("TENANCY_INVITATION_EXPIRY", "168h")
		t.Setenv("TENANCY_DEFAULT_INVITATION_ROLE", "viewer")
		t.Setenv("TENANCY_MAX_ORGANIZATIONS_PER_USER", "5")
		t.Setenv("TENANCY_REQUIRE_ORGANIZATION", "true")
		t.Setenv("TENANCY_LOG_LEVEL", "debug")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		require.NotNil(t, cfg.InvitationExpiry)
		assert.Equal(t, 168*time.Hour, *cfg.InvitationExpiry)
		assert.Equal(t, roles.RoleViewer, cfg.DefaultInvitationRole)
		require.NotNil(t, cfg.MaxOrganizationsPerUser)
		assert.Equal(t, 5, *cfg.MaxOrganizationsPerUser)
		assert.True(t, cfg.RequireOrganizationMembership)
	})

	t.Run("malformed expiry", func(t *testing.T) {
		t.Setenv("TENANCY_INVITATION_EXPIRY", "next tuesday")
		_, err := LoadConfig()
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config { return Default() }

	t.Run("default passes", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("non-positive expiry", func(t *testing.T) {
		cfg := valid()
		zero := time.Duration(0)
		cfg.InvitationExpiry = &zero
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
		assert.Contains(t, err.Error(), "InvitationExpiry")
	})

	t.Run("nil expiry means never expires", func(t *testing.T) {
		cfg := valid()
		cfg.InvitationExpiry = nil
		assert.NoError(t, cfg.Validate())
	})

	t.Run("default role outside hierarchy", func(t *testing.T) {
		cfg := valid()
		cfg.DefaultInvitationRole = roles.Role("superuser")
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DefaultInvitationRole")
	})

	t.Run("owner cannot be the default invitation role", func(t *testing.T) {
		cfg := valid()
		cfg.DefaultInvitationRole = roles.RoleOwner
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive organization limit", func(t *testing.T) {
		cfg := valid()
		limit := 0
		cfg.MaxOrganizationsPerUser = &limit
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadRoleDefinitions(t *testing.T) {
	t.Run("empty path keeps built-in table", func(t *testing.T) {
		defs, err := LoadRoleDefinitions("")
		require.NoError(t, err)
		assert.Nil(t, defs)
	})

	t.Run("parses yaml definitions", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "roles.yaml")
		content := `roles:
  - name: viewer
    permissions: [view_organization, view_members]
  - name: member
    inherits_from: viewer
    permissions: [create_content]
  - name: admin
    inherits_from: member
    permissions: [invite_members, remove_members]
  - name: owner
    inherits_from: admin
    permissions: [transfer_ownership]
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		defs, err := LoadRoleDefinitions(path)
		require.NoError(t, err)
		require.Len(t, defs, 4)
		assert.Equal(t, "member", defs[1].Name)
		assert.Equal(t, "viewer", defs[1].InheritsFrom)
		assert.Equal(t, []string{"create_content"}, defs[1].Permissions)

		// The parsed definitions slot straight into the registry.
		registry := roles.NewRegistry()
		registry.SetDefinitions(defs)
		assert.True(t, registry.HasPermission(roles.RoleAdmin, roles.Permission("create_content")))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRoleDefinitions(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "roles.yaml")
		require.NoError(t, os.WriteFile(path, []byte("roles: {not a list"), 0o600))
		_, err := LoadRoleDefinitions(path)
		assert.Error(t, err)
	})

	t.Run("unnamed role rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "roles.yaml")
		require.NoError(t, os.WriteFile(path, []byte("roles:\n  - permissions: [x]\n"), 0o600))
		_, err := LoadRoleDefinitions(path)
		assert.Error(t, err)
	})
}
